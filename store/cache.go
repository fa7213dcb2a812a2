package store

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	lru "github.com/hashicorp/golang-lru"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
)

// Cache sizes for immutable per-epoch and per-block artifacts. Epoch-scale
// caches (EpochInfo, one entry per epoch) get 50 entries; the block-scale
// BlockInfo cache (one entry per block) gets 1000. The three ordering
// caches use the epoch-scale budget.
const (
	defaultEpochInfoCacheSize = 50
	defaultBlockInfoCacheSize = 1000
	defaultOrderingCacheSize  = 50

	// degradedEpochCacheSize and degradedBlockCacheSize replace the above
	// when the nocache build tag is set: the epoch-scale and ordering caches
	// shrink to one entry, the block-scale cache to five.
	degradedEpochCacheSize = 1
	degradedBlockCacheSize = 5
)

// BlockProducerKey addresses one BlockProducer lookup result.
type BlockProducerKey struct {
	EpochId inter.EpochId
	Height  idx.Block
}

// ChunkProducerKey addresses one ChunkProducer lookup result.
type ChunkProducerKey struct {
	EpochId inter.EpochId
	Height  idx.Block
	Shard   iblockproc.ShardID
}

// MinerKey addresses one VRF miner-choice result: the epoch fixes the
// validator set and power table, the random value fixes the draw.
type MinerKey struct {
	EpochId     inter.EpochId
	RandomValue inter.BlockHash
}

// CachingStore wraps a Store with bounded LRU caches over its two hottest,
// immutable columns (EpochInfo and BlockInfo), plus three ordering caches
// over the epoch manager's precomputed validator selections (block
// producer, chunk producer, VRF miner choice) — each addressed by a
// producer-function lookup, mirroring the two Store-column caches below.
// The epoch-start index and the live aggregator are small and mutate
// often, so they pass straight through.
type CachingStore struct {
	Store

	epochInfo *lru.Cache
	blockInfo *lru.Cache

	blockProducer *lru.Cache
	chunkProducer *lru.Cache
	minerChoice   *lru.Cache
}

// NewCachingStore wraps backing with LRU caches sized for production use.
func NewCachingStore(backing Store) *CachingStore {
	return newCachingStore(backing, defaultEpochInfoCacheSize, defaultBlockInfoCacheSize)
}

// NewCachingStoreSized wraps backing with caches of the given sizes,
// degrading to degradedEpochCacheSize / degradedBlockCacheSize when noCache
// reports true (see cache_nocache.go and cache_default.go for the
// build-tag-selected default). The three ordering caches always use
// defaultOrderingCacheSize (degraded to degradedEpochCacheSize) since
// callers have no reason to size them independently yet.
func NewCachingStoreSized(backing Store, epochInfoSize, blockInfoSize int) *CachingStore {
	orderingSize := defaultOrderingCacheSize
	if noCache {
		epochInfoSize, blockInfoSize, orderingSize = degradedEpochCacheSize, degradedBlockCacheSize, degradedEpochCacheSize
	}
	epochInfoCache, err := lru.New(epochInfoSize)
	if err != nil {
		panic("store: invalid epoch info cache size: " + err.Error())
	}
	blockInfoCache, err := lru.New(blockInfoSize)
	if err != nil {
		panic("store: invalid block info cache size: " + err.Error())
	}
	blockProducerCache, err := lru.New(orderingSize)
	if err != nil {
		panic("store: invalid block producer cache size: " + err.Error())
	}
	chunkProducerCache, err := lru.New(orderingSize)
	if err != nil {
		panic("store: invalid chunk producer cache size: " + err.Error())
	}
	minerChoiceCache, err := lru.New(orderingSize)
	if err != nil {
		panic("store: invalid miner choice cache size: " + err.Error())
	}
	return &CachingStore{
		Store:         backing,
		epochInfo:     epochInfoCache,
		blockInfo:     blockInfoCache,
		blockProducer: blockProducerCache,
		chunkProducer: chunkProducerCache,
		minerChoice:   minerChoiceCache,
	}
}

func newCachingStore(backing Store, epochInfoSize, blockInfoSize int) *CachingStore {
	return NewCachingStoreSized(backing, epochInfoSize, blockInfoSize)
}

// BlockProducerOrdering returns the cached result for key, computing and
// storing it via miss on a cache miss.
func (c *CachingStore) BlockProducerOrdering(key BlockProducerKey, miss func() (idx.Validator, error)) (idx.Validator, error) {
	if v, ok := c.blockProducer.Get(key); ok {
		return v.(idx.Validator), nil
	}
	v, err := miss()
	if err != nil {
		return 0, err
	}
	c.blockProducer.Add(key, v)
	return v, nil
}

// ChunkProducerOrdering returns the cached result for key, computing and
// storing it via miss on a cache miss.
func (c *CachingStore) ChunkProducerOrdering(key ChunkProducerKey, miss func() (idx.Validator, error)) (idx.Validator, error) {
	if v, ok := c.chunkProducer.Get(key); ok {
		return v.(idx.Validator), nil
	}
	v, err := miss()
	if err != nil {
		return 0, err
	}
	c.chunkProducer.Add(key, v)
	return v, nil
}

// MinerChoiceOrdering returns the cached result for key, computing and
// storing it via miss on a cache miss.
func (c *CachingStore) MinerChoiceOrdering(key MinerKey, miss func() (inter.AccountId, error)) (inter.AccountId, error) {
	if v, ok := c.minerChoice.Get(key); ok {
		return v.(inter.AccountId), nil
	}
	v, err := miss()
	if err != nil {
		return inter.AccountId{}, err
	}
	c.minerChoice.Add(key, v)
	return v, nil
}

func (c *CachingStore) GetBlockInfo(h inter.BlockHash) (*iblockproc.BlockInfo, error) {
	if v, ok := c.blockInfo.Get(h); ok {
		return v.(*iblockproc.BlockInfo), nil
	}
	b, err := c.Store.GetBlockInfo(h)
	if err != nil {
		return nil, err
	}
	c.blockInfo.Add(h, b)
	return b, nil
}

func (c *CachingStore) GetEpochInfo(epochId inter.EpochId) (*iblockproc.EpochInfo, error) {
	if v, ok := c.epochInfo.Get(epochId); ok {
		return v.(*iblockproc.EpochInfo), nil
	}
	e, err := c.Store.GetEpochInfo(epochId)
	if err != nil {
		return nil, err
	}
	c.epochInfo.Add(epochId, e)
	return e, nil
}

// Commit applies update to the backing store and invalidates any cache
// entries it touches, so a later Get can't serve a value the backing store
// no longer has.
func (c *CachingStore) Commit(update *StoreUpdate) error {
	if err := c.Store.Commit(update); err != nil {
		return err
	}
	for h := range update.blockInfo {
		c.blockInfo.Remove(h)
	}
	for epochId := range update.epochInfo {
		c.epochInfo.Remove(epochId)
	}
	return nil
}
