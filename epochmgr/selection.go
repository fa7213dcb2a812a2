package epochmgr

import (
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/store"
)

// orderingCache is implemented by store.CachingStore; Manager type-asserts
// m.Store against it so BlockProducer/ChunkProducer/ChooseMiner cache their
// computed orderings when the backing store opts in, and recompute directly
// otherwise (e.g. a bare store.MemStore in tests).
type orderingCache interface {
	BlockProducerOrdering(key store.BlockProducerKey, miss func() (idx.Validator, error)) (idx.Validator, error)
	ChunkProducerOrdering(key store.ChunkProducerKey, miss func() (idx.Validator, error)) (idx.Validator, error)
	MinerChoiceOrdering(key store.MinerKey, miss func() (inter.AccountId, error)) (inter.AccountId, error)
}

// BlockProducer returns the validator scheduled to produce the block at
// height within epochId.
func (m *Manager) BlockProducer(epochId inter.EpochId, height idx.Block) (idx.Validator, error) {
	compute := func() (idx.Validator, error) {
		epochInfo, err := m.Store.GetEpochInfo(epochId)
		if err != nil {
			return 0, &ErrEpochOutOfBounds{EpochId: epochId}
		}
		return epochInfo.SampleBlockProducer(height), nil
	}
	if oc, ok := m.Store.(orderingCache); ok {
		return oc.BlockProducerOrdering(store.BlockProducerKey{EpochId: epochId, Height: height}, compute)
	}
	return compute()
}

// ChunkProducer returns the validator scheduled to produce shard's chunk
// at height within epochId.
func (m *Manager) ChunkProducer(epochId inter.EpochId, height idx.Block, shard iblockproc.ShardID) (idx.Validator, error) {
	compute := func() (idx.Validator, error) {
		epochInfo, err := m.Store.GetEpochInfo(epochId)
		if err != nil {
			return 0, &ErrEpochOutOfBounds{EpochId: epochId}
		}
		v, err := epochInfo.SampleChunkProducer(shard, height)
		if err != nil {
			return 0, &ErrChunkValidatorSelection{Msg: err.Error()}
		}
		return v, nil
	}
	if oc, ok := m.Store.(orderingCache); ok {
		return oc.ChunkProducerOrdering(store.ChunkProducerKey{EpochId: epochId, Height: height, Shard: shard}, compute)
	}
	return compute()
}

// ChunkValidators returns the validator accounts assigned to attest shard's
// chunk at height within epochId.
func (m *Manager) ChunkValidators(epochId inter.EpochId, shard iblockproc.ShardID, height idx.Block) ([]inter.AccountId, error) {
	epochInfo, err := m.Store.GetEpochInfo(epochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: epochId}
	}
	cfg := m.epochConfigFor(epochInfo.ProtocolVersion)
	mandates := epochInfo.EnsureValidatorMandates(cfg.ShardLayout.SeatsPerShard, cfg.ShardLayout.NumShards)
	indices, err := mandates.SampleChunkValidators(shard, height)
	if err != nil {
		return nil, &ErrChunkValidatorSelection{Msg: err.Error()}
	}
	out := make([]inter.AccountId, 0, len(indices))
	for _, vi := range indices {
		out = append(out, epochInfo.Validators.Get(vi).Account)
	}
	return out, nil
}

// ChooseMiner performs VRF-weighted miner choice for block: T = the block's
// random value interpreted as a big integer, W = total power across the
// block's epoch's validators; the validator whose cumulative power prefix
// sum first exceeds T mod W wins. Iteration follows the validator set's
// order (Validators.All()), so ties resolve stably.
func (m *Manager) ChooseMiner(block *iblockproc.BlockInfo) (inter.AccountId, error) {
	compute := func() (inter.AccountId, error) {
		epochInfo, err := m.Store.GetEpochInfo(block.EpochId)
		if err != nil {
			return inter.AccountId{}, &ErrEpochOutOfBounds{EpochId: block.EpochId}
		}
		validators := epochInfo.Validators.All()

		total := new(big.Int)
		for _, v := range validators {
			total.Add(total, nonNilBig(v.Power))
		}
		if total.Sign() <= 0 {
			return inter.AccountId{}, &ErrValidatorTotalPower{Msg: "total power across epoch validators is zero"}
		}

		t := new(big.Int).SetBytes(block.RandomValue.Bytes())
		t.Mod(t, total)

		cumulative := new(big.Int)
		for _, v := range validators {
			cumulative.Add(cumulative, nonNilBig(v.Power))
			if cumulative.Cmp(t) > 0 {
				return v.Account, nil
			}
		}
		return inter.AccountId{}, &ErrNoAvailableValidator{Msg: "VRF selection exhausted validator list without a winner"}
	}
	if oc, ok := m.Store.(orderingCache); ok {
		return oc.MinerChoiceOrdering(store.MinerKey{EpochId: block.EpochId, RandomValue: block.RandomValue}, compute)
	}
	return compute()
}

// ProducerSettlementEntry pairs a validator with whether it is currently
// slashed, the shape AllBlockProducersSettlement returns. PledgeNextEpoch is
// nil except where AllBlockApproversOrdered fills it in for an account whose
// settlement entry spans the epoch boundary.
type ProducerSettlementEntry struct {
	Account         inter.AccountId
	Slashed         bool
	PledgeNextEpoch *big.Int
}

// AllBlockProducersSettlement returns the block-producer settlement for
// block's epoch, in rota order, annotated with slash state.
func (m *Manager) AllBlockProducersSettlement(block *iblockproc.BlockInfo) ([]ProducerSettlementEntry, error) {
	epochInfo, err := m.Store.GetEpochInfo(block.EpochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: block.EpochId}
	}
	out := make([]ProducerSettlementEntry, 0, len(epochInfo.BlockProducersSettlement))
	for _, vi := range epochInfo.BlockProducersSettlement {
		info := epochInfo.Validators.Get(vi)
		_, slashed := block.Slashed[info.Account]
		out = append(out, ProducerSettlementEntry{Account: info.Account, Slashed: slashed})
	}
	return out, nil
}

// AllBlockProducersOrdered deduplicates AllBlockProducersSettlement by
// account, keeping the first (settlement-order) occurrence.
func (m *Manager) AllBlockProducersOrdered(block *iblockproc.BlockInfo) ([]inter.AccountId, error) {
	settlement, err := m.AllBlockProducersSettlement(block)
	if err != nil {
		return nil, err
	}
	seen := make(map[inter.AccountId]bool, len(settlement))
	out := make([]inter.AccountId, 0, len(settlement))
	for _, e := range settlement {
		if seen[e.Account] {
			continue
		}
		seen[e.Account] = true
		out = append(out, e.Account)
	}
	return out, nil
}

// AllBlockApproversOrdered concatenates the current epoch's settlement with
// the next epoch's when block is the last block of its epoch (the handover
// point where both validator sets must simultaneously approve), then
// deduplicates by account. When a duplicate crosses the epoch boundary, the
// earlier (current-epoch) entry is kept and its PledgeNextEpoch is set to the
// duplicate's pledge in the next epoch's validator set, so callers can see
// how that validator's weight is about to change without losing its
// settlement-order position.
func (m *Manager) AllBlockApproversOrdered(block *iblockproc.BlockInfo) ([]ProducerSettlementEntry, error) {
	settlement, err := m.AllBlockProducersSettlement(block)
	if err != nil {
		return nil, err
	}
	// settlement repeats an account once per rota seat it holds; dedupe down
	// to one entry per account before extending with the next epoch, keeping
	// settlement order, the same way AllBlockProducersOrdered does.
	index := make(map[inter.AccountId]int, len(settlement))
	seen := make(map[inter.AccountId]bool, len(settlement))
	out := make([]ProducerSettlementEntry, 0, len(settlement))
	for _, e := range settlement {
		if seen[e.Account] {
			continue
		}
		seen[e.Account] = true
		index[e.Account] = len(out)
		out = append(out, e)
	}

	needsNext, err := m.needsNextEpochApprovals(block)
	if err != nil {
		return nil, err
	}
	if !needsNext {
		return out, nil
	}

	nextEpochInfo, err := m.Store.GetEpochInfo(block.NextEpochId)
	if err != nil {
		return out, nil
	}
	for _, vi := range nextEpochInfo.BlockProducersSettlement {
		info := nextEpochInfo.Validators.Get(vi)
		if oldOrd, dup := index[info.Account]; dup {
			out[oldOrd].PledgeNextEpoch = new(big.Int).Set(info.Pledge)
			continue
		}
		_, slashed := block.Slashed[info.Account]
		index[info.Account] = len(out)
		out = append(out, ProducerSettlementEntry{Account: info.Account, Slashed: slashed})
	}
	return out, nil
}

func (m *Manager) needsNextEpochApprovals(block *iblockproc.BlockInfo) (bool, error) {
	epochStartHeight, err := m.Store.GetEpochStart(block.EpochId)
	if err != nil {
		return false, &ErrIO{Op: "get epoch start", Err: err}
	}
	epochInfo, err := m.Store.GetEpochInfo(block.EpochId)
	if err != nil {
		return false, &ErrEpochOutOfBounds{EpochId: block.EpochId}
	}
	cfg := m.epochConfigFor(epochInfo.ProtocolVersion)
	return nextBlockNeedApprovalsFromNextEpoch(block, epochStartHeight, cfg), nil
}
