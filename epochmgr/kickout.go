package epochmgr

import (
	"math/big"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/inter/validator"
	"github.com/rony4d/opera-epochmgr/opera"
)

// kickoutInput is everything the kickout engine needs for one epoch.
type kickoutInput struct {
	Config          opera.EpochConfig
	ProtocolVersion uint32
	Validators      *validator.Set
	BlockTracker    map[idx.Validator]*iblockproc.ProductionStats
	ShardTracker    map[iblockproc.ShardID]map[idx.Validator]*iblockproc.ProductionStats
	Slashed         map[inter.AccountId]inter.SlashState
	PriorKickout    map[inter.AccountId]inter.KickoutReason
}

// kickoutEngine returns the accounts to kick
// out (with reasons) and the production-ratio stats of the validators that
// survive, which feed the reward calculator.
func kickoutEngine(in kickoutInput) (map[inter.AccountId]inter.KickoutReason, map[inter.AccountId]ProductionRatios) {
	type validatorStat struct {
		account  inter.AccountId
		pledge   *big.Int
		block    iblockproc.ProductionStats
		chunk    iblockproc.ProductionStats
		producer bool
	}

	var stats []validatorStat
	totalPledge := new(big.Int)
	var maxProducer inter.AccountId
	maxProduced := int64(-1)

	for i, v := range in.Validators.All() {
		if _, slashed := in.Slashed[v.Account]; slashed {
			continue
		}
		vi := idx.Validator(i)
		var block iblockproc.ProductionStats
		if s, ok := in.BlockTracker[vi]; ok {
			block = *s
		}
		chunk := iblockproc.ProductionStats{}
		for _, perValidator := range in.ShardTracker {
			if s, ok := perValidator[vi]; ok {
				chunk.Produced += s.Produced
				chunk.Expected += s.Expected
			}
		}
		totalPledge.Add(totalPledge, v.Pledge)
		stats = append(stats, validatorStat{account: v.Account, pledge: v.Pledge, block: block, chunk: chunk})
		if int64(block.Produced) > maxProduced {
			if _, alreadyKicked := in.PriorKickout[v.Account]; !alreadyKicked {
				maxProduced = int64(block.Produced)
				maxProducer = v.Account
			}
		}
	}

	exempt := make(map[inter.AccountId]bool)
	if in.Config.Features.MaxKickoutPledge {
		exemptPercent := 100 - int(in.Config.ValidatorMaxKickoutPledgePerc)
		threshold := new(big.Int).Mul(totalPledge, big.NewInt(int64(exemptPercent)))
		threshold.Div(threshold, big.NewInt(100))

		sorted := append([]validatorStat(nil), stats...)
		sort.Slice(sorted, func(i, j int) bool {
			return productionRatio(sorted[i].block, sorted[i].chunk) < productionRatio(sorted[j].block, sorted[j].chunk)
		})
		accumulated := new(big.Int)
		for i := len(sorted) - 1; i >= 0 && accumulated.Cmp(threshold) < 0; i-- {
			candidate := sorted[i]
			if _, alreadyKicked := in.PriorKickout[candidate.account]; alreadyKicked {
				continue
			}
			exempt[candidate.account] = true
			accumulated.Add(accumulated, candidate.pledge)
		}
	}

	kickout := make(map[inter.AccountId]inter.KickoutReason)
	survivors := make(map[inter.AccountId]ProductionRatios, len(stats))
	// allKickedOut tracks whether every validator considered so far either
	// got kicked this round or was already kicked out of the prior epoch;
	// it only clears once a validator is found that is exempt, or that
	// survives this round's thresholds while not already kicked out.
	allKickedOut := true
	for _, s := range stats {
		if exempt[s.account] {
			survivors[s.account] = ProductionRatios{
				BlockProduced: s.block.Produced, BlockExpected: s.block.Expected,
				ChunkProduced: s.chunk.Produced, ChunkExpected: s.chunk.Expected,
			}
			allKickedOut = false
			continue
		}
		wasKicked := false
		if s.block.Produced*100 < uint64(in.Config.BlockProducerKickoutThreshold)*s.block.Expected {
			kickout[s.account] = inter.KickoutReason{Kind: inter.KickoutNotEnoughBlocks, Produced: s.block.Produced, Expected: s.block.Expected}
			wasKicked = true
		} else if s.chunk.Produced*100 < uint64(in.Config.ChunkProducerKickoutThreshold)*s.chunk.Expected {
			kickout[s.account] = inter.KickoutReason{Kind: inter.KickoutNotEnoughChunks, Produced: s.chunk.Produced, Expected: s.chunk.Expected}
			wasKicked = true
		} else {
			survivors[s.account] = ProductionRatios{
				BlockProduced: s.block.Produced, BlockExpected: s.block.Expected,
				ChunkProduced: s.chunk.Produced, ChunkExpected: s.chunk.Expected,
			}
		}

		if _, alreadyKicked := in.PriorKickout[s.account]; !wasKicked && !alreadyKicked {
			allKickedOut = false
		}
	}

	if allKickedOut && len(stats) > 0 {
		delete(kickout, maxProducer)
		for _, s := range stats {
			if s.account == maxProducer {
				survivors[maxProducer] = ProductionRatios{
					BlockProduced: s.block.Produced, BlockExpected: s.block.Expected,
					ChunkProduced: s.chunk.Produced, ChunkExpected: s.chunk.Expected,
				}
			}
		}
	}

	return kickout, survivors
}

func productionRatio(block, chunk iblockproc.ProductionStats) float64 {
	switch {
	case block.Expected > 0 && chunk.Expected > 0:
		return (block.Ratio(1) + chunk.Ratio(1)) / 2
	case block.Expected > 0:
		return block.Ratio(1)
	case chunk.Expected > 0:
		return chunk.Ratio(1)
	default:
		return 1
	}
}
