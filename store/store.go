package store

import (
	"errors"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/inter/ier"
)

// ErrNotFound is returned by a Get when the key is absent, distinct from an
// I/O failure so callers can branch on "not found" without mistaking it for
// corruption.
var ErrNotFound = errors.New("store: not found")

// AggregatorKey is a reserved EpochInfo-column key for the live
// EpochInfoAggregator. MemStore keeps the aggregator in a field of its own
// and does not use this key.
var AggregatorKey = inter.EpochId{0xff, 0xff, 0xff, 0xff}

// Store is the typed persistence contract the epoch manager depends on.
// This package ships one implementation, MemStore, for tests and
// single-process operation; a production deployment supplies another Store
// backed by a real KV engine without any change to the epoch manager.
type Store interface {
	GetBlockInfo(hash inter.BlockHash) (*iblockproc.BlockInfo, error)
	GetEpochInfo(epochId inter.EpochId) (*iblockproc.EpochInfo, error)
	GetEpochStart(epochId inter.EpochId) (idx.Block, error)
	GetAggregator() (*iblockproc.EpochInfoAggregator, error)
	GetEpochValidatorInfo(epochId inter.EpochId) (*ier.EpochSummary, error)

	NewUpdate() *StoreUpdate
	Commit(update *StoreUpdate) error
}

// StoreUpdate buffers writes for atomic commit: all entries publish
// together, or none do.
type StoreUpdate struct {
	blockInfo         map[inter.BlockHash]*iblockproc.BlockInfo
	epochInfo         map[inter.EpochId]*iblockproc.EpochInfo
	epochStart        map[inter.EpochId]idx.Block
	epochValidator    map[inter.EpochId]*ier.EpochSummary
	aggregator        *iblockproc.EpochInfoAggregator
	aggregatorOK      bool
}

// NewStoreUpdate returns an empty update ready to accumulate writes.
func NewStoreUpdate() *StoreUpdate {
	return &StoreUpdate{
		blockInfo:      make(map[inter.BlockHash]*iblockproc.BlockInfo),
		epochInfo:      make(map[inter.EpochId]*iblockproc.EpochInfo),
		epochStart:     make(map[inter.EpochId]idx.Block),
		epochValidator: make(map[inter.EpochId]*ier.EpochSummary),
	}
}

// SetBlockInfo stages a BlockInfo write.
func (u *StoreUpdate) SetBlockInfo(b *iblockproc.BlockInfo) {
	u.blockInfo[b.SelfHash] = b
}

// SetEpochInfo stages an EpochInfo write under epochId.
func (u *StoreUpdate) SetEpochInfo(epochId inter.EpochId, e *iblockproc.EpochInfo) {
	u.epochInfo[epochId] = e
}

// SetEpochStart stages an EpochStart index write.
func (u *StoreUpdate) SetEpochStart(epochId inter.EpochId, height idx.Block) {
	u.epochStart[epochId] = height
}

// SetEpochValidatorInfo stages an EpochSummary write under epochId, the
// EpochValidatorInfo column.
func (u *StoreUpdate) SetEpochValidatorInfo(epochId inter.EpochId, s *ier.EpochSummary) {
	u.epochValidator[epochId] = s
}

// SetAggregator stages the live aggregator write.
func (u *StoreUpdate) SetAggregator(a *iblockproc.EpochInfoAggregator) {
	u.aggregator = a
	u.aggregatorOK = true
}

// Empty reports whether the update has no staged writes at all.
func (u *StoreUpdate) Empty() bool {
	return len(u.blockInfo) == 0 && len(u.epochInfo) == 0 && len(u.epochStart) == 0 &&
		len(u.epochValidator) == 0 && !u.aggregatorOK
}
