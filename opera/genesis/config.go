// Package genesis constructs the pre-genesis epoch state a chain starts
// from: the "epoch -1" EpochInfo bound to the all-zero EpochId, and the
// genesis BlockInfo that closes it, satisfying the bootstrap invariant that
// every lookup of EpochId(zero) must succeed before any real block exists.
package genesis

import (
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/inter/validator"
	"github.com/rony4d/opera-epochmgr/opera"
)

// Config describes the genesis parameters for a network: its identity, the
// founding validator set, and the epoch configuration new blocks start
// under.
type Config struct {
	Name      string
	NetworkID uint64
	Time      inter.Timestamp

	Validators      []validator.Info
	TotalSupply     *big.Int
	ProtocolVersion uint32
	Epoch           opera.EpochConfig
}

// BuildPreGenesisEpochInfo constructs the EpochInfo for the synthetic
// "epoch -1" that every chain starts from: epoch height 0, the configured
// founding validator set, and no kickouts, rewards, or mints yet.
func (c Config) BuildPreGenesisEpochInfo() *iblockproc.EpochInfo {
	set := validator.NewSet(validator.SortByPledgeDesc(c.Validators))

	return &iblockproc.EpochInfo{
		EpochHeight:              0,
		ProtocolVersion:          c.ProtocolVersion,
		Validators:               set,
		BlockProducersSettlement: blockProducerSeats(set, c.Epoch.NumBlockProducerSeats),
		ChunkProducersSettlement: chunkProducerSeats(set, c.Epoch.ShardLayout),
		ValidatorKickout:         make(map[inter.AccountId]inter.KickoutReason),
		PledgeChange:             make(map[inter.AccountId]*big.Int),
		PowerChange:              make(map[inter.AccountId]*big.Int),
		ValidatorReward:          make(map[inter.AccountId]*big.Int),
		MintedAmount:             new(big.Int),
		SeatPrice:                new(big.Int),
	}
}

// BuildGenesisBlockInfo constructs the genesis BlockInfo: height 0, zero
// PrevHash (the genesis marker per BlockInfo.IsGenesis), and EpochId bound
// to the all-zero pre-genesis epoch so EpochIdOfBlock lookups for it
// succeed immediately.
func (c Config) BuildGenesisBlockInfo(preGenesis *iblockproc.EpochInfo) *iblockproc.BlockInfo {
	info := &iblockproc.BlockInfo{
		SelfHash:               inter.ZeroBlockHash,
		Height:                 0,
		PrevHash:               inter.ZeroBlockHash,
		LastFinalizedHeight:    0,
		LastFinalizedBlockHash: inter.ZeroBlockHash,
		EpochId:                inter.ZeroEpochId,
		EpochFirstBlock:        inter.ZeroBlockHash,
		ChunkMask:              iblockproc.NewChunkMask(c.Epoch.ShardLayout.NumShards),
		Slashed:                make(map[inter.AccountId]inter.SlashState),
		TotalSupply:            new(big.Int).Set(c.TotalSupply),
		LatestProtocolVersion:  c.ProtocolVersion,
		TimestampNanosec:       c.Time,
		Version:                iblockproc.BlockInfoV2,
		TipEpochInfo:           preGenesis,
	}
	info.SelfHash = info.Hash()
	return info
}

// blockProducerSeats picks the top-pledge validators, up to seats, as the
// block-producer settlement.
func blockProducerSeats(set *validator.Set, seats int) []idx.Validator {
	n := set.Len()
	if seats < n {
		n = seats
	}
	out := make([]idx.Validator, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, idx.Validator(i))
	}
	return out
}

// chunkProducerSeats deals the whole validator set round-robin across the
// configured shards, keeping at most SeatsPerShard validators per shard.
func chunkProducerSeats(set *validator.Set, layout opera.ShardLayout) [][]idx.Validator {
	if layout.NumShards <= 0 {
		return nil
	}
	producers := blockProducerSeats(set, set.Len())
	shards := make([][]idx.Validator, layout.NumShards)
	for i, v := range producers {
		shard := i % layout.NumShards
		if len(shards[shard]) >= layout.SeatsPerShard {
			continue
		}
		shards[shard] = append(shards[shard], v)
	}
	return shards
}
