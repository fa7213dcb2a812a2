package store

import (
	"sync"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/inter/ier"
)

// MemStore is an in-memory Store, encoding every value through the same
// cser codec a disk-backed implementation would use so round-trip bugs
// surface in tests run against MemStore rather than only in production.
type MemStore struct {
	mu sync.Mutex

	blockInfo      map[inter.BlockHash][]byte
	epochInfo      map[inter.EpochId][]byte
	epochStart     map[inter.EpochId]idx.Block
	epochValidator map[inter.EpochId][]byte
	aggregator     []byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		blockInfo:      make(map[inter.BlockHash][]byte),
		epochInfo:      make(map[inter.EpochId][]byte),
		epochStart:     make(map[inter.EpochId]idx.Block),
		epochValidator: make(map[inter.EpochId][]byte),
	}
}

func (s *MemStore) GetBlockInfo(h inter.BlockHash) (*iblockproc.BlockInfo, error) {
	s.mu.Lock()
	raw, ok := s.blockInfo[h]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	b, err := DecodeBlockInfo(raw)
	if err != nil {
		return nil, &errIOWrap{op: "decode block info", err: err}
	}
	return b, nil
}

func (s *MemStore) GetEpochInfo(epochId inter.EpochId) (*iblockproc.EpochInfo, error) {
	s.mu.Lock()
	raw, ok := s.epochInfo[epochId]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	e, err := DecodeEpochInfo(raw)
	if err != nil {
		return nil, &errIOWrap{op: "decode epoch info", err: err}
	}
	return e, nil
}

func (s *MemStore) GetEpochStart(epochId inter.EpochId) (idx.Block, error) {
	s.mu.Lock()
	height, ok := s.epochStart[epochId]
	s.mu.Unlock()
	if !ok {
		return 0, ErrNotFound
	}
	return height, nil
}

func (s *MemStore) GetEpochValidatorInfo(epochId inter.EpochId) (*ier.EpochSummary, error) {
	s.mu.Lock()
	raw, ok := s.epochValidator[epochId]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	summary, err := DecodeEpochSummary(raw)
	if err != nil {
		return nil, &errIOWrap{op: "decode epoch validator info", err: err}
	}
	return summary, nil
}

func (s *MemStore) GetAggregator() (*iblockproc.EpochInfoAggregator, error) {
	s.mu.Lock()
	raw := s.aggregator
	s.mu.Unlock()
	if raw == nil {
		return nil, ErrNotFound
	}
	a, err := DecodeAggregator(raw)
	if err != nil {
		return nil, &errIOWrap{op: "decode aggregator", err: err}
	}
	return a, nil
}

func (s *MemStore) NewUpdate() *StoreUpdate {
	return NewStoreUpdate()
}

// Commit applies update atomically: every value is encoded first, and the
// whole batch is rejected if any single encode fails, so a partially
// corrupt update never reaches the map.
func (s *MemStore) Commit(update *StoreUpdate) error {
	if update == nil || update.Empty() {
		return nil
	}

	encodedBlocks := make(map[inter.BlockHash][]byte, len(update.blockInfo))
	for h, b := range update.blockInfo {
		raw, err := EncodeBlockInfo(b)
		if err != nil {
			return &errIOWrap{op: "encode block info", err: err}
		}
		encodedBlocks[h] = raw
	}

	encodedEpochs := make(map[inter.EpochId][]byte, len(update.epochInfo))
	for epochId, e := range update.epochInfo {
		raw, err := EncodeEpochInfo(e)
		if err != nil {
			return &errIOWrap{op: "encode epoch info", err: err}
		}
		encodedEpochs[epochId] = raw
	}

	encodedSummaries := make(map[inter.EpochId][]byte, len(update.epochValidator))
	for epochId, s2 := range update.epochValidator {
		raw, err := EncodeEpochSummary(s2)
		if err != nil {
			return &errIOWrap{op: "encode epoch validator info", err: err}
		}
		encodedSummaries[epochId] = raw
	}

	var encodedAggregator []byte
	if update.aggregatorOK {
		raw, err := EncodeAggregator(update.aggregator)
		if err != nil {
			return &errIOWrap{op: "encode aggregator", err: err}
		}
		encodedAggregator = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for h, raw := range encodedBlocks {
		s.blockInfo[h] = raw
	}
	for epochId, raw := range encodedEpochs {
		s.epochInfo[epochId] = raw
	}
	for epochId, height := range update.epochStart {
		s.epochStart[epochId] = height
	}
	for epochId, raw := range encodedSummaries {
		s.epochValidator[epochId] = raw
	}
	if update.aggregatorOK {
		s.aggregator = encodedAggregator
	}
	return nil
}

type errIOWrap struct {
	op  string
	err error
}

func (e *errIOWrap) Error() string {
	return "store: " + e.op + ": " + e.err.Error()
}

func (e *errIOWrap) Unwrap() error {
	return e.err
}
