// Package opera defines the network and epoch configuration parameters for
// the chain: network identification, the Lachesis DAG rules, and the
// per-protocol-version epoch parameters the epoch manager consults when
// sizing validator sets, kickout thresholds, and shard layout.
package opera

import (
	"encoding/json"
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
)

// Network identification constants.
const (
	MainNetworkID uint64 = 0xfa
	TestNetworkID uint64 = 0xfa2
	FakeNetworkID uint64 = 0xfa3
)

// DagRules defines the rules for the Lachesis DAG. Events can reference
// multiple parent events, enabling parallel processing while preserving
// ordering.
type DagRules struct {
	// MaxParents is the maximum number of parent events an event can reference.
	MaxParents idx.Event
	// MaxFreeParents is how many of those parents don't incur extra cost.
	MaxFreeParents idx.Event
	// MaxExtraData is the maximum size, in bytes, of an event's extra data.
	MaxExtraData uint32
}

// DefaultDagRules returns the DAG configuration shared by every network.
func DefaultDagRules() DagRules {
	return DagRules{
		MaxParents:     10,
		MaxFreeParents: 3,
		MaxExtraData:   128,
	}
}

// FeatureFlags tracks epoch-processing features gated behind a protocol
// version, the way an Upgrades struct tracks EVM feature flags.
type FeatureFlags struct {
	// MaxKickoutPledge enables the production-ratio exemption pass in the
	// kickout engine, bounding how much pledge can be kicked out in one epoch.
	MaxKickoutPledge bool
}

// ShardLayout describes how chunk producers are partitioned into shards for
// a given protocol version.
type ShardLayout struct {
	// NumShards is how many chunk-producer shards the validator set is split
	// across.
	NumShards int
	// SeatsPerShard is how many mandate seats each shard gets.
	SeatsPerShard int
}

// EpochConfig carries the parameters that govern one epoch's processing
// under a given protocol version: sizing, kickout thresholds, and shard
// layout.
type EpochConfig struct {
	// EpochLength is the number of blocks in one epoch.
	EpochLength idx.Block

	// NumBlockProducerSeats is the size of the block-producer settlement.
	NumBlockProducerSeats int

	// BlockProducerKickoutThreshold is the minimum percent of expected
	// blocks a validator must produce to avoid a NotEnoughBlocks kickout.
	BlockProducerKickoutThreshold uint8
	// ChunkProducerKickoutThreshold is the analogous threshold for chunks.
	ChunkProducerKickoutThreshold uint8
	// ValidatorMaxKickoutPledgePerc bounds the fraction of total pledge the
	// kickout engine is allowed to remove in one epoch.
	ValidatorMaxKickoutPledgePerc uint8

	// ProtocolUpgradePledgeThreshold is the fraction (numerator over 100) of
	// total block-producer pledge that must vote for a protocol version
	// before it is accepted for the next epoch.
	ProtocolUpgradePledgeThreshold uint8

	// MinimumPledgeDivisor bounds the minimum seat price: SeatPrice >=
	// TotalPledge / MinimumPledgeDivisor.
	MinimumPledgeDivisor uint64

	ShardLayout ShardLayout
	Features    FeatureFlags
}

// AllEpochConfig is a small versioned table of EpochConfig overlays, the
// epoch-parameter analogue of an UpgradeHeight list: each entry in Versions
// takes effect at its protocol version and all versions after it, up to the
// next entry.
type AllEpochConfig struct {
	Versions map[uint32]EpochConfig
}

// ForProtocolVersion returns the EpochConfig in effect at protocol version v:
// the entry for v itself if present, else the highest entry at or below v.
// Panics if no entry is at or below v, which includes an empty table.
func (a AllEpochConfig) ForProtocolVersion(v uint32) EpochConfig {
	if cfg, ok := a.Versions[v]; ok {
		return cfg
	}
	var (
		best    uint32
		found   bool
		bestCfg EpochConfig
	)
	for version, cfg := range a.Versions {
		if version <= v && (!found || version > best) {
			best, bestCfg, found = version, cfg, true
		}
	}
	if !found {
		panic("opera: no epoch config covers protocol version")
	}
	return bestCfg
}

// DefaultEpochConfig returns the baseline epoch configuration for mainnet.
func DefaultEpochConfig() EpochConfig {
	return EpochConfig{
		EpochLength:                    1000,
		NumBlockProducerSeats:          30,
		BlockProducerKickoutThreshold:  90,
		ChunkProducerKickoutThreshold:  80,
		ValidatorMaxKickoutPledgePerc:  30,
		ProtocolUpgradePledgeThreshold: 80,
		MinimumPledgeDivisor:           1600,
		ShardLayout: ShardLayout{
			NumShards:     4,
			SeatsPerShard: 8,
		},
		Features: FeatureFlags{
			MaxKickoutPledge: true,
		},
	}
}

// FakeEpochConfig returns an accelerated configuration for local/fake
// networks: a much shorter epoch and a smaller validator set, mirroring the
// teacher's FakeNetEpochsRules acceleration.
func FakeEpochConfig() EpochConfig {
	cfg := DefaultEpochConfig()
	cfg.EpochLength = 50
	cfg.NumBlockProducerSeats = 4
	cfg.ShardLayout = ShardLayout{NumShards: 1, SeatsPerShard: 4}
	return cfg
}

// MainNetEpochConfig returns the all-versions table for mainnet: a single
// baseline entry at protocol version 1.
func MainNetEpochConfig() AllEpochConfig {
	return AllEpochConfig{Versions: map[uint32]EpochConfig{1: DefaultEpochConfig()}}
}

// FakeNetEpochConfig returns the all-versions table for fake/local networks.
func FakeNetEpochConfig() AllEpochConfig {
	return AllEpochConfig{Versions: map[uint32]EpochConfig{1: FakeEpochConfig()}}
}

// Copy returns a deep copy of EpochConfig. ShardLayout and Features are
// plain values, so the struct copy alone is sufficient; no pointer fields
// need re-allocation, unlike a Rules.Copy that has to clone a *big.Int.
func (c EpochConfig) Copy() EpochConfig {
	return c
}

// String returns a JSON representation of EpochConfig for logging.
func (c EpochConfig) String() string {
	b, _ := json.Marshal(&c)
	return string(b)
}

// SeatPriceFloor computes TotalPledge / MinimumPledgeDivisor using integer
// (floor) division, as math/big has no native rational type in play here.
func (c EpochConfig) SeatPriceFloor(totalPledge *big.Int) *big.Int {
	if c.MinimumPledgeDivisor == 0 {
		return new(big.Int)
	}
	return new(big.Int).Div(totalPledge, new(big.Int).SetUint64(c.MinimumPledgeDivisor))
}
