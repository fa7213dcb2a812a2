package epochmgr

import (
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/inter/validator"
	"github.com/rony4d/opera-epochmgr/opera"
)

// ProposalsToEpochInfo is the validator-selection primitive: given the epoch
// config in effect, the rng seed, the epoch info the new validator set is
// based on (the epoch immediately following the one that just finalized),
// every power/pledge proposal seen during the finalized epoch, the
// kickout set, and the rewards/minted amount already computed, it builds
// the EpochInfo for the epoch two ahead. It must be pure and deterministic:
// same inputs, same output.
type ProposalsToEpochInfo interface {
	ProposalsToEpochInfo(
		cfg opera.EpochConfig,
		rngSeed inter.BlockHash,
		prevEpochInfo *iblockproc.EpochInfo,
		powerProposals, pledgeProposals []inter.Proposal,
		kickouts map[inter.AccountId]inter.KickoutReason,
		rewards map[inter.AccountId]*big.Int,
		minted *big.Int,
		nextVersion, curVersion uint32,
	) (*iblockproc.EpochInfo, error)
}

// DefaultProposalsToEpochInfo is the reference implementation: candidates
// are prevEpochInfo's validators with pledge/power proposals applied
// (latest proposal per account wins) and kicked-out/zero-pledge accounts
// dropped, then capped to cfg.NumBlockProducerSeats by descending pledge
// (validator.SortByPledgeDesc); the remainder below the seat cutoff but
// still pledged become fishermen. Settlement rotas are weighted-proportional
// rotations over the seated set, shuffled deterministically by rngSeed —
// the same committee-assignment shape as iblockproc.BuildValidatorMandates,
// grounded in this corpus's beacon-chain epoch-processing seat assignment.
type DefaultProposalsToEpochInfo struct{}

func (DefaultProposalsToEpochInfo) ProposalsToEpochInfo(
	cfg opera.EpochConfig,
	rngSeed inter.BlockHash,
	prevEpochInfo *iblockproc.EpochInfo,
	powerProposals, pledgeProposals []inter.Proposal,
	kickouts map[inter.AccountId]inter.KickoutReason,
	rewards map[inter.AccountId]*big.Int,
	minted *big.Int,
	nextVersion, curVersion uint32,
) (*iblockproc.EpochInfo, error) {
	pledgeByAccount := make(map[inter.AccountId]*big.Int)
	powerByAccount := make(map[inter.AccountId]*big.Int)
	pledgeChange := make(map[inter.AccountId]*big.Int)
	powerChange := make(map[inter.AccountId]*big.Int)

	prevPledge := make(map[inter.AccountId]*big.Int)
	prevPower := make(map[inter.AccountId]*big.Int)
	if prevEpochInfo != nil && prevEpochInfo.Validators != nil {
		for _, v := range prevEpochInfo.Validators.All() {
			prevPledge[v.Account] = nonNilBig(v.Pledge)
			prevPower[v.Account] = nonNilBig(v.Power)
			pledgeByAccount[v.Account] = nonNilBig(v.Pledge)
			powerByAccount[v.Account] = nonNilBig(v.Power)
		}
	}
	for _, p := range pledgeProposals {
		pledgeByAccount[p.Account] = nonNilBig(p.Amount)
	}
	for _, p := range powerProposals {
		powerByAccount[p.Account] = nonNilBig(p.Amount)
	}

	candidates := make([]validator.Info, 0, len(pledgeByAccount))
	for account, pledge := range pledgeByAccount {
		if _, kicked := kickouts[account]; kicked {
			continue
		}
		if pledge.Sign() <= 0 {
			continue
		}
		power := powerByAccount[account]
		if power == nil {
			power = new(big.Int)
		}
		candidates = append(candidates, validator.Info{Account: account, Pledge: pledge, Power: power})
	}

	if len(candidates) == 0 {
		return nil, &ErrNotEnoughValidators{NumValidators: 0, NumShards: cfg.ShardLayout.NumShards}
	}

	totalPledge := new(big.Int)
	for _, c := range candidates {
		totalPledge.Add(totalPledge, c.Pledge)
	}
	seatPrice := cfg.SeatPriceFloor(totalPledge)
	if totalPledge.Cmp(seatPrice) < 0 {
		return nil, &ErrThresholdPledgeSum{PledgeSum: totalPledge, SeatPrice: seatPrice, NumSeats: cfg.NumBlockProducerSeats}
	}

	sorted := validator.SortByPledgeDesc(candidates)
	seats := cfg.NumBlockProducerSeats
	if seats <= 0 || seats > len(sorted) {
		seats = len(sorted)
	}
	if seats < cfg.ShardLayout.NumShards {
		return nil, &ErrNotEnoughValidators{NumValidators: seats, NumShards: cfg.ShardLayout.NumShards}
	}

	seated := sorted[:seats]
	fishermen := make([]inter.AccountId, 0, len(sorted)-seats)
	for _, v := range sorted[seats:] {
		fishermen = append(fishermen, v.Account)
	}

	set := validator.NewSet(seated)

	for _, v := range set.All() {
		delta := new(big.Int).Sub(v.Pledge, nonNilBig(prevPledge[v.Account]))
		if delta.Sign() != 0 {
			pledgeChange[v.Account] = delta
		}
		powerDelta := new(big.Int).Sub(v.Power, nonNilBig(prevPower[v.Account]))
		if powerDelta.Sign() != 0 {
			powerChange[v.Account] = powerDelta
		}
	}
	for account, pledge := range prevPledge {
		if _, stillIn := set.GetIdx(account); stillIn {
			continue
		}
		pledgeChange[account] = new(big.Int).Neg(pledge)
		if power, ok := prevPower[account]; ok && power.Sign() != 0 {
			powerChange[account] = new(big.Int).Neg(power)
		}
	}

	blockRota := weightedShuffledRota(set, hash.Of(rngSeed.Bytes(), []byte("block")), 64)
	chunkRota := make([][]idx.Validator, cfg.ShardLayout.NumShards)
	for shard := 0; shard < cfg.ShardLayout.NumShards; shard++ {
		salt := []byte{byte(shard), byte(shard >> 8)}
		chunkRota[shard] = weightedShuffledRota(set, hash.Of(rngSeed.Bytes(), salt), 64)
	}

	prevHeight := idx.Epoch(0)
	if prevEpochInfo != nil {
		prevHeight = prevEpochInfo.EpochHeight
	}

	return &iblockproc.EpochInfo{
		EpochHeight:              prevHeight + 1,
		ProtocolVersion:          nextVersion,
		Validators:               set,
		BlockProducersSettlement: blockRota,
		ChunkProducersSettlement: chunkRota,
		Fishermen:                fishermen,
		ValidatorKickout:         kickouts,
		PledgeChange:             pledgeChange,
		PowerChange:              powerChange,
		ValidatorReward:          rewards,
		MintedAmount:             nonNilBig(minted),
		SeatPrice:                seatPrice,
		RngSeed:                  rngSeed,
	}, nil
}

// weightedShuffledRota builds a settlement rota: one entry per validator,
// repeated proportionally to pledge (capped at maxUnitsPerValidator so a
// single whale can't dominate every slot), then Fisher-Yates shuffled under
// seed. Mirrors iblockproc.BuildValidatorMandates's weighting scheme, kept
// local since that helper builds a ValidatorMandates, not a plain rota.
func weightedShuffledRota(set *validator.Set, seed inter.BlockHash, maxUnitsPerValidator uint64) []idx.Validator {
	infos := set.All()
	rota := make([]idx.Validator, 0, len(infos))
	for i, v := range infos {
		weight := nonNilBig(v.Pledge)
		units := uint64(1)
		if weight.Sign() > 0 {
			units = weight.Uint64()
			if units == 0 {
				units = 1
			}
			if units > maxUnitsPerValidator {
				units = maxUnitsPerValidator
			}
		}
		for u := uint64(0); u < units; u++ {
			rota = append(rota, idx.Validator(i))
		}
	}
	if len(rota) == 0 {
		for i := range infos {
			rota = append(rota, idx.Validator(i))
		}
	}
	state := seed
	for i := len(rota) - 1; i > 0; i-- {
		state = hash.Of(state.Bytes())
		j := int(rotaUint64(state) % uint64(i+1))
		rota[i], rota[j] = rota[j], rota[i]
	}
	return rota
}

func rotaUint64(h hash.Hash) uint64 {
	b := h.Bytes()
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
