package epochmgr

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/store"
)

// GetEpochInfoAggregatorUpToLast returns the aggregator state reflecting
// every block in the current epoch up to and including target, without
// mutating the stored aggregator.
func (m *Manager) GetEpochInfoAggregatorUpToLast(target inter.BlockHash) (*iblockproc.EpochInfoAggregator, error) {
	tail, replace, err := m.aggregateEpochInfoUpTo(target)
	if err != nil {
		return nil, err
	}
	if tail == nil {
		stored, err := m.Store.GetAggregator()
		if err != nil {
			return nil, &ErrIO{Op: "get aggregator", Err: err}
		}
		return stored, nil
	}
	if replace {
		return tail, nil
	}
	stored, err := m.Store.GetAggregator()
	if err != nil {
		return nil, &ErrIO{Op: "get aggregator", Err: err}
	}
	return tail.MergePrefix(stored), nil
}

// UpdateEpochInfoAggregatorUpToFinal advances the stored aggregator up to
// target and stages its persistence on update whenever the advance either
// replaced it outright or crossed a height divisible by
// AggregatorSavePeriod.
func (m *Manager) UpdateEpochInfoAggregatorUpToFinal(target inter.BlockHash, update *store.StoreUpdate) error {
	tail, replace, err := m.aggregateEpochInfoUpTo(target)
	if err != nil {
		return err
	}
	if tail == nil {
		return nil
	}

	var next *iblockproc.EpochInfoAggregator
	var prevHeight idx.Block
	if replace {
		next = tail
	} else {
		stored, err := m.Store.GetAggregator()
		if err != nil {
			return &ErrIO{Op: "get aggregator", Err: err}
		}
		if prevTip, err := m.Store.GetBlockInfo(stored.LastBlockHash); err == nil {
			prevHeight = prevTip.Height
		}
		stored.Merge(tail)
		next = stored
	}

	targetInfo, err := m.Store.GetBlockInfo(target)
	if err != nil {
		return &ErrMissingBlock{Hash: target}
	}
	if replace || targetInfo.Height/AggregatorSavePeriod > prevHeight/AggregatorSavePeriod {
		update.SetAggregator(next)
	}
	return nil
}

// aggregateEpochInfoUpTo walks parent pointers backward from target,
// folding block-producer/chunk-producer expectation and production counts,
// proposals, and version votes into a fresh aggregator. replace
// reports whether the walk reassembled a full epoch from scratch (true) or
// only a tail meant to be merged onto the stored aggregator (false). A nil
// result with no error means target is already the stored aggregator's tip.
func (m *Manager) aggregateEpochInfoUpTo(target inter.BlockHash) (tail *iblockproc.EpochInfoAggregator, replace bool, err error) {
	stored, storedErr := m.Store.GetAggregator()
	if storedErr == nil && target == stored.LastBlockHash {
		return nil, false, nil
	}

	targetInfo, err := m.Store.GetBlockInfo(target)
	if err != nil {
		return nil, false, &ErrMissingBlock{Hash: target}
	}
	epochInfo, err := m.Store.GetEpochInfo(targetInfo.EpochId)
	if err != nil {
		return nil, false, &ErrEpochOutOfBounds{EpochId: targetInfo.EpochId}
	}

	tail = iblockproc.NewAggregator(targetInfo.EpochId)
	tail.LastBlockHash = target

	cur := targetInfo
	for {
		if cur.IsGenesis() {
			return tail, true, nil
		}
		parent, err := m.Store.GetBlockInfo(cur.PrevHash)
		if err != nil {
			return nil, false, &ErrMissingBlock{Hash: cur.PrevHash}
		}
		updateTail(tail, epochInfo, cur, parent.Height)

		switch {
		case parent.IsGenesis(), parent.EpochId != cur.EpochId:
			return tail, true, nil
		case storedErr == nil && parent.SelfHash == stored.LastBlockHash:
			return tail, false, nil
		}
		cur = parent
	}
}

// updateTail folds block's contribution into tail: for every height from
// prevHeight+1 through block.Height, the scheduled block and chunk
// producers are marked Expected; only at block.Height itself (the one
// block that actually exists) are they marked Produced, chunk production
// gated by block.ChunkMask. Heights strictly between prevHeight and
// block.Height correspond to no stored block at all (a missed slot), so
// only Expected is incremented for them.
func updateTail(tail *iblockproc.EpochInfoAggregator, epochInfo *iblockproc.EpochInfo, block *iblockproc.BlockInfo, prevHeight idx.Block) {
	numShards := len(epochInfo.ChunkProducersSettlement)
	for h := prevHeight + 1; h <= block.Height; h++ {
		producer := epochInfo.SampleBlockProducer(h)
		if h == block.Height {
			tail.RecordProducedBlock(producer)
		} else {
			tail.RecordExpectedBlock(producer)
		}
		for shard := 0; shard < numShards; shard++ {
			chunkProducer, err := epochInfo.SampleChunkProducer(iblockproc.ShardID(shard), h)
			if err != nil {
				continue
			}
			if h == block.Height && block.ChunkMask.Produced(iblockproc.ShardID(shard)) {
				tail.RecordProducedChunk(iblockproc.ShardID(shard), chunkProducer)
			} else if h != block.Height || !block.ChunkMask.Produced(iblockproc.ShardID(shard)) {
				tail.RecordExpectedChunk(iblockproc.ShardID(shard), chunkProducer)
			}
		}
	}

	for _, p := range block.PowerProposals {
		tail.AllPowerProposals.Insert(p.Account, p.Amount)
	}
	for _, p := range block.PledgeProposals {
		tail.AllPledgeProposals.Insert(p.Account, p.Amount)
	}

	producer := epochInfo.SampleBlockProducer(block.Height)
	tail.VersionTracker[producer] = block.LatestProtocolVersion
}
