package epochmgr

import (
	"math/big"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/inter/ier"
	"github.com/rony4d/opera-epochmgr/store"
)

// collectBlocksInfo snapshots the
// aggregator up to lastHash, resolves the accepted next protocol version,
// assembles the kickout set, and invokes the reward calculator.
func (m *Manager) collectBlocksInfo(lastHash inter.BlockHash) (*ier.EpochSummary, error) {
	block, err := m.Store.GetBlockInfo(lastHash)
	if err != nil {
		return nil, &ErrMissingBlock{Hash: lastHash}
	}
	epochInfo, err := m.Store.GetEpochInfo(block.EpochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: block.EpochId}
	}
	nextEpochInfo, err := m.Store.GetEpochInfo(block.NextEpochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: block.NextEpochId}
	}

	agg, err := m.GetEpochInfoAggregatorUpToLast(lastHash)
	if err != nil {
		return nil, err
	}

	cfg := m.epochConfigFor(epochInfo.ProtocolVersion)

	nextVersion := resolveNextVersion(agg.VersionTracker, epochInfo, cfg.ProtocolUpgradePledgeThreshold)

	kickouts, survivorStats := kickoutEngine(kickoutInput{
		Config:          cfg,
		ProtocolVersion: epochInfo.ProtocolVersion,
		Validators:      epochInfo.Validators,
		BlockTracker:    agg.BlockTracker,
		ShardTracker:    agg.ShardTracker,
		Slashed:         block.Slashed,
		PriorKickout:    nextEpochInfo.ValidatorKickout,
	})
	for account := range block.Slashed {
		if _, already := kickouts[account]; already {
			continue
		}
		kickouts[account] = inter.KickoutReason{Kind: inter.KickoutSlashed}
	}
	for account, pledgeChange := range nextEpochInfo.PledgeChange {
		if _, already := kickouts[account]; already {
			continue
		}
		proposed, hasProposal := agg.AllPledgeProposals.Get(account)
		if hasProposal && proposed.Sign() == 0 && pledgeChange.Sign() != 0 {
			kickouts[account] = inter.KickoutReason{Kind: inter.KickoutUnpledge}
		}
	}

	stakes := make(map[inter.AccountId]ValidatorStakes, epochInfo.Validators.Len())
	for _, v := range epochInfo.Validators.All() {
		stakes[v.Account] = ValidatorStakes{Pledge: v.Pledge, Power: v.Power}
	}
	durationNs := int64(0)
	if firstBlock, err := m.Store.GetBlockInfo(block.EpochFirstBlock); err == nil {
		durationNs = int64(block.TimestampNanosec) - int64(firstBlock.TimestampNanosec)
	}

	reward, minted := m.Reward.CalculateReward(
		survivorStats, stakes, block.TotalSupply,
		epochInfo.ProtocolVersion, nextVersion, durationNs,
	)

	return &ier.EpochSummary{
		PrevEpochLastBlockHash:   lastHash,
		PowerProposals:           agg.AllPowerProposals.Copy(),
		PledgeProposals:          agg.AllPledgeProposals.Copy(),
		ValidatorKickout:         kickouts,
		ValidatorBlockChunkStats: agg.BlockTracker,
		ValidatorReward:          reward,
		MintedAmount:             minted,
		NextVersion:              nextVersion,
	}, nil
}

// resolveNextVersion aggregates pledge per voted version from the version
// tracker and accepts the argmax only if its pledge clears threshold/100 of
// total block-producer pledge; otherwise the epoch stays on its current
// version. Ties between versions with equal pledge favor the lower version
// number, for determinism.
func resolveNextVersion(versionTracker map[idx.Validator]uint32, epochInfo *iblockproc.EpochInfo, threshold uint8) uint32 {
	pledgeByVersion := make(map[uint32]*big.Int)
	for vi, version := range versionTracker {
		info := epochInfo.Validators.Get(vi)
		amt, ok := pledgeByVersion[version]
		if !ok {
			amt = new(big.Int)
			pledgeByVersion[version] = amt
		}
		amt.Add(amt, nonNilBig(info.Pledge))
	}
	if len(pledgeByVersion) == 0 {
		return epochInfo.ProtocolVersion
	}

	versions := make([]uint32, 0, len(pledgeByVersion))
	for v := range pledgeByVersion {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	bestVersion := versions[0]
	bestPledge := pledgeByVersion[bestVersion]
	for _, v := range versions[1:] {
		if pledgeByVersion[v].Cmp(bestPledge) > 0 {
			bestVersion, bestPledge = v, pledgeByVersion[v]
		}
	}

	seen := make(map[inter.AccountId]bool)
	totalPledge := new(big.Int)
	for _, vi := range epochInfo.BlockProducersSettlement {
		info := epochInfo.Validators.Get(vi)
		if seen[info.Account] {
			continue
		}
		seen[info.Account] = true
		totalPledge.Add(totalPledge, nonNilBig(info.Pledge))
	}
	if totalPledge.Sign() == 0 {
		return epochInfo.ProtocolVersion
	}

	scaled := new(big.Int).Mul(bestPledge, big.NewInt(100))
	required := new(big.Int).Mul(totalPledge, big.NewInt(int64(threshold)))
	if scaled.Cmp(required) >= 0 {
		return bestVersion
	}
	return epochInfo.ProtocolVersion
}

// finalizeEpoch is the top-level finalizer: it collects the
// epoch summary, calls the proposals-to-epoch-info primitive, recovers
// locally from the two documented selection failures by reusing
// nextEpochInfo with its height bumped, and stages the new EpochInfo under
// EpochId(lastHash) alongside the EpochSummary under the epoch that just
// closed.
func (m *Manager) finalizeEpoch(lastHash inter.BlockHash, rngSeed inter.BlockHash, update *store.StoreUpdate) error {
	block, err := m.Store.GetBlockInfo(lastHash)
	if err != nil {
		return &ErrMissingBlock{Hash: lastHash}
	}
	epochInfo, err := m.Store.GetEpochInfo(block.EpochId)
	if err != nil {
		return &ErrEpochOutOfBounds{EpochId: block.EpochId}
	}
	nextEpochInfo, err := m.Store.GetEpochInfo(block.NextEpochId)
	if err != nil {
		return &ErrEpochOutOfBounds{EpochId: block.NextEpochId}
	}

	summary, err := m.collectBlocksInfo(lastHash)
	if err != nil {
		return err
	}

	nextCfg := m.epochConfigFor(summary.NextVersion)

	newEpochInfo, err := m.Select.ProposalsToEpochInfo(
		nextCfg, rngSeed, nextEpochInfo,
		summary.PowerProposals.Proposals(), summary.PledgeProposals.Proposals(),
		summary.ValidatorKickout, summary.ValidatorReward, summary.MintedAmount,
		summary.NextVersion, epochInfo.ProtocolVersion,
	)
	if err != nil {
		switch err.(type) {
		case *ErrThresholdPledgeSum, *ErrNotEnoughValidators:
			m.Log.WithError(err).Warn("epochmgr: proposals-to-epoch-info failed, reusing prior epoch info")
			reused := nextEpochInfo.Copy()
			reused.EpochHeight = nextEpochInfo.EpochHeight + 1
			newEpochInfo = reused
		default:
			return err
		}
	}

	update.SetEpochInfo(inter.EpochIdOfBlock(lastHash), newEpochInfo)
	update.SetEpochValidatorInfo(block.EpochId, summary)
	return nil
}
