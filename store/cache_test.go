package store

import (
	"testing"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
)

func TestCachingStore_GetEpochInfoCachesAcrossCalls(t *testing.T) {
	mem := NewMemStore()
	epochId := inter.EpochId{0x01}
	update := mem.NewUpdate()
	update.SetEpochInfo(epochId, &iblockproc.EpochInfo{EpochHeight: 1, Validators: sampleValidators()})
	require.NoError(t, mem.Commit(update))

	c := NewCachingStore(mem)
	first, err := c.GetEpochInfo(epochId)
	require.NoError(t, err)
	second, err := c.GetEpochInfo(epochId)
	require.NoError(t, err)
	assert.Same(t, first, second, "second call is served from the cache, not a fresh decode")
}

func TestCachingStore_CommitInvalidatesEpochInfo(t *testing.T) {
	mem := NewMemStore()
	epochId := inter.EpochId{0x02}
	seed := mem.NewUpdate()
	seed.SetEpochInfo(epochId, &iblockproc.EpochInfo{EpochHeight: 1, Validators: sampleValidators()})
	require.NoError(t, mem.Commit(seed))

	c := NewCachingStore(mem)
	first, err := c.GetEpochInfo(epochId)
	require.NoError(t, err)

	rewrite := c.NewUpdate()
	rewrite.SetEpochInfo(epochId, &iblockproc.EpochInfo{EpochHeight: 2, Validators: sampleValidators()})
	require.NoError(t, c.Commit(rewrite))

	second, err := c.GetEpochInfo(epochId)
	require.NoError(t, err)
	assert.Equal(t, idx.Epoch(2), second.EpochHeight, "a committed rewrite is never served stale from the cache")
	assert.NotSame(t, first, second)
}

func TestCachingStore_BlockProducerOrderingCachesMissResult(t *testing.T) {
	mem := NewMemStore()
	c := NewCachingStore(mem)

	key := BlockProducerKey{EpochId: inter.EpochId{0x03}, Height: 5}
	calls := 0
	miss := func() (idx.Validator, error) {
		calls++
		return idx.Validator(7), nil
	}

	v1, err := c.BlockProducerOrdering(key, miss)
	require.NoError(t, err)
	v2, err := c.BlockProducerOrdering(key, miss)
	require.NoError(t, err)

	assert.Equal(t, idx.Validator(7), v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls, "second lookup for the same key is served from the cache, miss is not invoked again")
}

func TestCachingStore_ChunkProducerOrderingDistinguishesShard(t *testing.T) {
	mem := NewMemStore()
	c := NewCachingStore(mem)

	epochId := inter.EpochId{0x04}
	missFor := func(v idx.Validator) func() (idx.Validator, error) {
		return func() (idx.Validator, error) { return v, nil }
	}

	got0, err := c.ChunkProducerOrdering(ChunkProducerKey{EpochId: epochId, Height: 1, Shard: 0}, missFor(1))
	require.NoError(t, err)
	got1, err := c.ChunkProducerOrdering(ChunkProducerKey{EpochId: epochId, Height: 1, Shard: 1}, missFor(2))
	require.NoError(t, err)

	assert.Equal(t, idx.Validator(1), got0)
	assert.Equal(t, idx.Validator(2), got1, "different shard is a different cache key, not collapsed with shard 0")
}

func TestCachingStore_MinerChoiceOrderingCachesByRandomValue(t *testing.T) {
	mem := NewMemStore()
	c := NewCachingStore(mem)

	epochId := inter.EpochId{0x05}
	winner := inter.AccountId{0x09}
	calls := 0
	miss := func() (inter.AccountId, error) {
		calls++
		return winner, nil
	}

	key := MinerKey{EpochId: epochId, RandomValue: inter.BlockHash{0x01}}
	v1, err := c.MinerChoiceOrdering(key, miss)
	require.NoError(t, err)
	v2, err := c.MinerChoiceOrdering(key, miss)
	require.NoError(t, err)

	assert.Equal(t, winner, v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}
