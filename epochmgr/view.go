package epochmgr

import (
	"math/big"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/inter/validatorpk"
)

// ValidatorRecord is one entry of a ValidatorInfoView: a validator's
// identity, weights, shard coverage, and production statistics for the
// epoch the view was built for.
type ValidatorRecord struct {
	Account inter.AccountId
	PubKey  validatorpk.PubKey
	Power   *big.Int
	Pledge  *big.Int

	Shards []iblockproc.ShardID

	NumProducedBlocks uint64
	NumExpectedBlocks uint64

	NumProducedChunks uint64
	NumExpectedChunks uint64

	PerShard map[iblockproc.ShardID]iblockproc.ProductionStats
}

// KickoutEntry pairs an account with its kickout reason, sorted by account
// id for a stable view.
type KickoutEntry struct {
	Account inter.AccountId
	Reason  inter.KickoutReason
}

// ValidatorInfoView is the full answer to a validator-info query: the
// current epoch's validator records, the next epoch's validator list (no
// statistics yet, since it hasn't started), current proposals, the sorted
// kickout set from the epoch about to end, and the fisherman lists of both
// epochs.
type ValidatorInfoView struct {
	EpochHeight      idx.Epoch
	EpochStartHeight idx.Block

	Validators []ValidatorRecord

	NextEpochValidators []inter.AccountId

	PowerProposals  []inter.Proposal
	PledgeProposals []inter.Proposal

	PrevEpochKickout []KickoutEntry

	Fishermen     []inter.AccountId
	NextFishermen []inter.AccountId
}

// ValidatorInfoByEpoch builds the view for a closed epoch, reading
// statistics from the stored EpochValidatorInfo rather than the live
// aggregator.
func (m *Manager) ValidatorInfoByEpoch(epochId inter.EpochId) (*ValidatorInfoView, error) {
	epochInfo, err := m.Store.GetEpochInfo(epochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: epochId}
	}
	epochStartHeight, err := m.Store.GetEpochStart(epochId)
	if err != nil {
		return nil, &ErrIO{Op: "get epoch start", Err: err}
	}

	summary, err := m.Store.GetEpochValidatorInfo(epochId)
	if err != nil {
		return nil, &ErrIO{Op: "get epoch validator info", Err: err}
	}

	var nextEpochInfo *iblockproc.EpochInfo
	if lastBlock, err := m.Store.GetBlockInfo(summary.PrevEpochLastBlockHash); err == nil {
		nextEpochInfo, _ = m.Store.GetEpochInfo(lastBlock.NextEpochId)
	}

	return m.assembleView(epochInfo, nextEpochInfo, epochStartHeight,
		summary.ValidatorBlockChunkStats, nil,
		summary.PowerProposals, summary.PledgeProposals, summary.ValidatorKickout)
}

// ValidatorInfoByTip builds the view for the live epoch containing block,
// reading statistics from the in-flight aggregator rather than a persisted
// summary, since the epoch has not finalized yet.
func (m *Manager) ValidatorInfoByTip(block *iblockproc.BlockInfo) (*ValidatorInfoView, error) {
	epochInfo, err := m.Store.GetEpochInfo(block.EpochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: block.EpochId}
	}
	epochStartHeight, err := m.Store.GetEpochStart(block.EpochId)
	if err != nil {
		return nil, &ErrIO{Op: "get epoch start", Err: err}
	}

	agg, err := m.GetEpochInfoAggregatorUpToLast(block.SelfHash)
	if err != nil {
		return nil, err
	}

	var nextEpochInfo *iblockproc.EpochInfo
	var kickout map[inter.AccountId]inter.KickoutReason
	if next, err := m.Store.GetEpochInfo(block.NextEpochId); err == nil {
		nextEpochInfo = next
		kickout = next.ValidatorKickout
	}

	return m.assembleView(epochInfo, nextEpochInfo, epochStartHeight,
		agg.BlockTracker, agg.ShardTracker,
		agg.AllPowerProposals, agg.AllPledgeProposals, kickout)
}

func (m *Manager) assembleView(
	epochInfo, nextEpochInfo *iblockproc.EpochInfo,
	epochStartHeight idx.Block,
	blockTracker map[idx.Validator]*iblockproc.ProductionStats,
	shardTracker map[iblockproc.ShardID]map[idx.Validator]*iblockproc.ProductionStats,
	powerProposals, pledgeProposals *inter.ProposalSet,
	prevEpochKickout map[inter.AccountId]inter.KickoutReason,
) (*ValidatorInfoView, error) {
	validatorToShards := make(map[idx.Validator][]iblockproc.ShardID)
	for shard, rota := range epochInfo.ChunkProducersSettlement {
		seen := make(map[idx.Validator]bool)
		for _, vi := range rota {
			if seen[vi] {
				continue
			}
			seen[vi] = true
			validatorToShards[vi] = append(validatorToShards[vi], iblockproc.ShardID(shard))
		}
	}

	infos := epochInfo.Validators.All()
	records := make([]ValidatorRecord, 0, len(infos))
	for _, info := range infos {
		vi, _ := epochInfo.Validators.GetIdx(info.Account)
		shards := validatorToShards[vi]
		sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })

		var produced, expected uint64
		if s := blockTracker[vi]; s != nil {
			produced, expected = s.Produced, s.Expected
		}

		var chunksProduced, chunksExpected uint64
		perShard := make(map[iblockproc.ShardID]iblockproc.ProductionStats, len(shards))
		for _, shard := range shards {
			var stats iblockproc.ProductionStats
			if perValidator, ok := shardTracker[shard]; ok {
				if s := perValidator[vi]; s != nil {
					stats = *s
				}
			}
			perShard[shard] = stats
			chunksProduced += stats.Produced
			chunksExpected += stats.Expected
		}

		records = append(records, ValidatorRecord{
			Account:           info.Account,
			PubKey:            info.PubKey,
			Power:             info.Power,
			Pledge:            info.Pledge,
			Shards:            shards,
			NumProducedBlocks: produced,
			NumExpectedBlocks: expected,
			NumProducedChunks: chunksProduced,
			NumExpectedChunks: chunksExpected,
			PerShard:          perShard,
		})
	}

	var nextValidators []inter.AccountId
	var nextFishermen []inter.AccountId
	if nextEpochInfo != nil {
		for _, v := range nextEpochInfo.Validators.All() {
			nextValidators = append(nextValidators, v.Account)
		}
		nextFishermen = append([]inter.AccountId(nil), nextEpochInfo.Fishermen...)
	}

	kickoutEntries := make([]KickoutEntry, 0, len(prevEpochKickout))
	for account, reason := range prevEpochKickout {
		kickoutEntries = append(kickoutEntries, KickoutEntry{Account: account, Reason: reason})
	}
	sort.Slice(kickoutEntries, func(i, j int) bool {
		return kickoutEntries[i].Account.Hex() < kickoutEntries[j].Account.Hex()
	})

	var powerList, pledgeList []inter.Proposal
	if powerProposals != nil {
		powerList = powerProposals.Proposals()
	}
	if pledgeProposals != nil {
		pledgeList = pledgeProposals.Proposals()
	}

	return &ValidatorInfoView{
		EpochHeight:         epochInfo.EpochHeight,
		EpochStartHeight:    epochStartHeight,
		Validators:          records,
		NextEpochValidators: nextValidators,
		PowerProposals:      powerList,
		PledgeProposals:     pledgeList,
		PrevEpochKickout:    kickoutEntries,
		Fishermen:           append([]inter.AccountId(nil), epochInfo.Fishermen...),
		NextFishermen:       nextFishermen,
	}, nil
}
