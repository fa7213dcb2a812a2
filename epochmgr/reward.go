package epochmgr

import (
	"math/big"

	"github.com/rony4d/opera-epochmgr/inter"
)

// ValidatorStakes is the prior-epoch pledge/power snapshot a RewardCalculator
// weighs production stats against.
type ValidatorStakes struct {
	Pledge *big.Int
	Power  *big.Int
}

// ProductionRatios summarizes one validator's block- and chunk-production
// record for the epoch being rewarded, collapsed from the aggregator's
// per-shard trackers into the totals a reward formula actually needs.
type ProductionRatios struct {
	BlockProduced, BlockExpected uint64
	ChunkProduced, ChunkExpected uint64
}

// CombinedRatio averages the block and chunk production ratios, falling
// back to 1.0 for a dimension the validator was never scheduled on.
func (p ProductionRatios) CombinedRatio() float64 {
	blockRatio := ratio(p.BlockProduced, p.BlockExpected)
	chunkRatio := ratio(p.ChunkProduced, p.ChunkExpected)
	if p.BlockExpected == 0 && p.ChunkExpected == 0 {
		return 1.0
	}
	if p.BlockExpected == 0 {
		return chunkRatio
	}
	if p.ChunkExpected == 0 {
		return blockRatio
	}
	return (blockRatio + chunkRatio) / 2
}

func ratio(produced, expected uint64) float64 {
	if expected == 0 {
		return 1.0
	}
	return float64(produced) / float64(expected)
}

// RewardCalculator computes per-account rewards and the amount of new
// supply minted to pay them, from this epoch's production stats and the
// prior stakes. It must be pure and deterministic: same inputs,
// same output, no side effects — callers may invoke it speculatively or
// more than once.
type RewardCalculator interface {
	CalculateReward(
		stats map[inter.AccountId]ProductionRatios,
		stakes map[inter.AccountId]ValidatorStakes,
		totalSupply *big.Int,
		epochProtocolVersion, nextProtocolVersion uint32,
		epochDurationNs int64,
	) (perAccountReward map[inter.AccountId]*big.Int, mintedAmount *big.Int)
}

// defaultAnnualIssuanceBps is the annual inflation rate, in basis points of
// total supply, paid out to validators in proportion to production. An
// arbitrary but fixed reference value.
const defaultAnnualIssuanceBps = 450

// DefaultRewardCalculator apportions a fixed annual issuance rate across
// validators in proportion to pledge weighted by production ratio,
// mirroring the shape of this corpus's beacon-chain base-reward-per-epoch
// formula (a fixed budget split by effective balance and participation),
// adapted here to pledge and block/chunk production ratio instead of
// attestation participation.
type DefaultRewardCalculator struct {
	// AnnualIssuanceBps overrides defaultAnnualIssuanceBps when non-zero.
	AnnualIssuanceBps int64
}

func (c DefaultRewardCalculator) CalculateReward(
	stats map[inter.AccountId]ProductionRatios,
	stakes map[inter.AccountId]ValidatorStakes,
	totalSupply *big.Int,
	epochProtocolVersion, genesisProtocolVersion uint32,
	epochDurationNs int64,
) (map[inter.AccountId]*big.Int, *big.Int) {
	bps := c.AnnualIssuanceBps
	if bps == 0 {
		bps = defaultAnnualIssuanceBps
	}

	const nsPerYear = int64(365*24*3600) * 1_000_000_000
	epochBudget := new(big.Int).Mul(nonNilBig(totalSupply), big.NewInt(bps))
	epochBudget.Mul(epochBudget, big.NewInt(epochDurationNs))
	epochBudget.Div(epochBudget, big.NewInt(10_000*nsPerYear))

	type weighted struct {
		account inter.AccountId
		weight  *big.Int
	}
	entries := make([]weighted, 0, len(stakes))
	totalWeight := new(big.Int)
	for account, stake := range stakes {
		ratio := 1.0
		if s, ok := stats[account]; ok {
			ratio = s.CombinedRatio()
		}
		scaled := new(big.Int).Set(nonNilBig(stake.Pledge))
		scaled.Mul(scaled, big.NewInt(int64(ratio*1_000_000)))
		scaled.Div(scaled, big.NewInt(1_000_000))
		entries = append(entries, weighted{account: account, weight: scaled})
		totalWeight.Add(totalWeight, scaled)
	}

	reward := make(map[inter.AccountId]*big.Int, len(entries))
	minted := new(big.Int)
	if totalWeight.Sign() > 0 {
		for _, e := range entries {
			share := new(big.Int).Mul(epochBudget, e.weight)
			share.Div(share, totalWeight)
			reward[e.account] = share
			minted.Add(minted, share)
		}
	}
	return reward, minted
}

func nonNilBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
