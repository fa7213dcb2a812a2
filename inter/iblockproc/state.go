// Package iblockproc defines the structures the epoch manager persists and
// mutates while processing blocks. This file (state.go) contains the two
// central levels of state:
//  1. BlockInfo: one record per observed block, whose EpochId,
//     EpochFirstBlock and NextEpochId are set once by the registry (which
//     also merges the parent's slash state into Slashed) and which is
//     otherwise frozen on commit.
//  2. EpochInfo: one record per epoch id, written once by the finalizer and
//     never modified afterward.
//
// It also defines the EpochInfoAggregator, the incremental running state the
// aggregator folds block-by-block over the live epoch.
package iblockproc

import (
	"crypto/sha256"
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/validator"
	"github.com/rony4d/opera-epochmgr/utils/bits"
)

// ShardID identifies one of the network's shards.
type ShardID uint16

// ChunkMask records, for a single block, which shards actually produced a
// chunk. It is a thin domain wrapper over utils/bits so that the common
// "did shard S produce" test costs a single bit read instead of a map probe.
type ChunkMask struct {
	bits.Array
}

// NewChunkMask allocates a mask wide enough for numShards shards.
func NewChunkMask(numShards int) ChunkMask {
	return ChunkMask{bits.Array{Bytes: make([]byte, (numShards+7)/8)}}
}

// Set marks shard as having produced a chunk in this block. Unlike the
// sequential bits.Writer (meant for append-only streams), a chunk mask
// needs random-access bit writes, so it addresses bytes directly.
func (m *ChunkMask) Set(shard ShardID) {
	byteIdx := int(shard) / 8
	bitIdx := uint(shard) % 8
	for len(m.Bytes) <= byteIdx {
		m.Bytes = append(m.Bytes, 0)
	}
	m.Bytes[byteIdx] |= 1 << bitIdx
}

// Produced reports whether shard produced a chunk in this block.
func (m ChunkMask) Produced(shard ShardID) bool {
	byteIdx := int(shard) / 8
	if byteIdx >= len(m.Bytes) {
		return false
	}
	bitIdx := uint(shard) % 8
	return m.Bytes[byteIdx]&(1<<bitIdx) != 0
}

// Copy returns an independent copy of the mask.
func (m ChunkMask) Copy() ChunkMask {
	cp := make([]byte, len(m.Bytes))
	copy(cp, m.Bytes)
	return ChunkMask{bits.Array{Bytes: cp}}
}

// Mandate is a single weighted seat in the chunk-validator sampling
// structure: one validator index, repeated proportionally to its assigned
// weight when the structure is built.
type Mandate struct {
	ValidatorIndex idx.Validator
	Weight         uint64
}

// ValidatorMandates is the per-epoch sampling structure used to assign
// chunk validators. Assignment is a shuffled (seeded by the epoch's rng
// seed, see EpochInfo.EnsureValidatorMandates) list of mandate units; SampleChunkValidators
// slices a deterministic, height-dependent window of it per shard.
type ValidatorMandates struct {
	Assignment   []Mandate
	SeatsPerSet  int // how many mandates are drawn per (shard, height) sample
	ShardCount   int
}

// SampleChunkValidators deterministically selects SeatsPerSet validator
// indices for shard at height, by rotating a window through Assignment.
// The rotation offset depends on both shard and height so that different
// shards at the same height, and the same shard at different heights, draw
// different (but still deterministic) windows.
func (m *ValidatorMandates) SampleChunkValidators(shard ShardID, height idx.Block) ([]idx.Validator, error) {
	if m == nil || len(m.Assignment) == 0 {
		return nil, errNoMandates
	}
	if int(shard) >= m.ShardCount {
		return nil, errShardOutOfRange
	}
	n := len(m.Assignment)
	seats := m.SeatsPerSet
	if seats <= 0 || seats > n {
		seats = n
	}
	offset := (int(shard)*1000003 + int(height)) % n
	if offset < 0 {
		offset += n
	}
	out := make([]idx.Validator, seats)
	for i := 0; i < seats; i++ {
		out[i] = m.Assignment[(offset+i)%n].ValidatorIndex
	}
	return out, nil
}

// ProductionStats tracks how many times a validator was expected to, and
// did, produce a block or a shard's chunk.
type ProductionStats struct {
	Produced uint64
	Expected uint64
}

// Ratio returns Produced/Expected as a float in [0, 1], or the supplied
// default when Expected is zero (the validator was never scheduled).
func (s ProductionStats) Ratio(whenUnscheduled float64) float64 {
	if s.Expected == 0 {
		return whenUnscheduled
	}
	return float64(s.Produced) / float64(s.Expected)
}

// BlockInfo is the per-block record the registry persists. EpochId,
// EpochFirstBlock, and NextEpochId are assigned by the registry after
// construction, each exactly once, since none of the three can be known
// until the parent chain has been walked; the registry also merges the
// parent's slash state into Slashed.
type BlockInfo struct {
	// SelfHash is this block's identity hash, assigned by the consensus
	// layer (the Atropos/event hash it corresponds to), not derived here.
	SelfHash               inter.BlockHash
	Height                 idx.Block
	PrevHash               inter.BlockHash
	LastFinalizedHeight    idx.Block
	LastFinalizedBlockHash inter.BlockHash
	EpochId                inter.EpochId
	EpochFirstBlock        inter.BlockHash
	// NextEpochId is the id already assigned to the epoch that directly
	// follows this block's epoch (by invariant 2, the epoch two after the
	// one closed by the parent of this epoch's first block). It is set once, at the
	// first block of each epoch, to the parent block's hash (the last block
	// of the epoch just closed), and copied forward unchanged by every later
	// block in the same epoch.
	NextEpochId inter.EpochId

	PowerProposals  []inter.Proposal
	PledgeProposals []inter.Proposal
	ChunkMask       ChunkMask
	Slashed         map[inter.AccountId]inter.SlashState

	TotalSupply           *big.Int
	LatestProtocolVersion uint32
	TimestampNanosec      inter.Timestamp
	RandomValue           hash.Hash

	// Version tags which BlockInfo shape this record was written under; see
	// legacy.go. Defaults to BlockInfoV2 for new blocks.
	Version uint8

	// TipEpochInfo is populated only while this block is the current tip:
	// a cached pointer to the EpochInfo it belongs to, so hot-path lookups
	// (block/chunk producer for the tip) skip the store round-trip.
	TipEpochInfo *EpochInfo
}

// IsGenesis reports whether this is the genesis block (PrevHash is zero).
func (b *BlockInfo) IsGenesis() bool {
	return b.PrevHash == inter.ZeroBlockHash
}

// Copy returns a deep copy of the BlockInfo.
func (b *BlockInfo) Copy() *BlockInfo {
	cp := *b
	cp.PowerProposals = append([]inter.Proposal(nil), b.PowerProposals...)
	cp.PledgeProposals = append([]inter.Proposal(nil), b.PledgeProposals...)
	cp.ChunkMask = b.ChunkMask.Copy()
	cp.Slashed = make(map[inter.AccountId]inter.SlashState, len(b.Slashed))
	for k, v := range b.Slashed {
		cp.Slashed[k] = v
	}
	if b.TotalSupply != nil {
		cp.TotalSupply = new(big.Int).Set(b.TotalSupply)
	}
	// TipEpochInfo is immutable once written, so sharing the pointer is safe.
	return &cp
}

// Hash returns the RLP-based fingerprint of the block info; BlockInfoV1
// records use their legacy projection (see legacy.go).
func (b *BlockInfo) Hash() hash.Hash {
	if b.Version == BlockInfoV1 {
		return b.hashV1()
	}
	hasher := sha256.New()
	if err := rlp.Encode(hasher, rlpBlockInfo(b)); err != nil {
		panic("can't hash block info: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}

// rlpBlockInfo is the RLP-friendly projection of BlockInfo (TipEpochInfo is
// excluded: it is a cache, not part of the block's canonical content).
type blockInfoRLP struct {
	SelfHash               inter.BlockHash
	Height                 idx.Block
	PrevHash               inter.BlockHash
	LastFinalizedHeight    idx.Block
	LastFinalizedBlockHash inter.BlockHash
	EpochId                inter.EpochId
	EpochFirstBlock        inter.BlockHash
	NextEpochId            inter.EpochId
	ChunkMaskBytes         []byte
	TotalSupply            *big.Int
	LatestProtocolVersion  uint32
	TimestampNanosec       uint64
	RandomValue            hash.Hash
}

func rlpBlockInfo(b *BlockInfo) *blockInfoRLP {
	supply := b.TotalSupply
	if supply == nil {
		supply = new(big.Int)
	}
	return &blockInfoRLP{
		SelfHash:               b.SelfHash,
		Height:                 b.Height,
		PrevHash:               b.PrevHash,
		LastFinalizedHeight:    b.LastFinalizedHeight,
		LastFinalizedBlockHash: b.LastFinalizedBlockHash,
		EpochId:                b.EpochId,
		EpochFirstBlock:        b.EpochFirstBlock,
		NextEpochId:            b.NextEpochId,
		ChunkMaskBytes:         b.ChunkMask.Bytes,
		TotalSupply:            supply,
		LatestProtocolVersion:  b.LatestProtocolVersion,
		TimestampNanosec:       uint64(b.TimestampNanosec),
		RandomValue:            b.RandomValue,
	}
}

// EpochInfo is the per-epoch record the finalizer writes once and
// never modifies again.
type EpochInfo struct {
	EpochHeight     idx.Epoch
	ProtocolVersion uint32

	Validators *validator.Set

	// BlockProducersSettlement is the repeating rota of validator indices
	// used by SampleBlockProducer.
	BlockProducersSettlement []idx.Validator
	// ChunkProducersSettlement[shard] is the analogous rota for that shard.
	ChunkProducersSettlement [][]idx.Validator

	Fishermen []inter.AccountId

	ValidatorKickout map[inter.AccountId]inter.KickoutReason
	PledgeChange     map[inter.AccountId]*big.Int
	PowerChange      map[inter.AccountId]*big.Int
	ValidatorReward  map[inter.AccountId]*big.Int
	MintedAmount     *big.Int
	SeatPrice        *big.Int

	// RngSeed is the randomness ValidatorMandates is built from (see
	// EnsureValidatorMandates). It is persisted; ValidatorMandates itself is not,
	// since it is cheaper to rebuild from Validators and RngSeed than to
	// serialize its (potentially large) assignment slice.
	RngSeed inter.BlockHash

	ValidatorMandates *ValidatorMandates
}

// EnsureValidatorMandates rebuilds ValidatorMandates from Validators and
// RngSeed if it has not been built yet (e.g. right after a decode), and
// returns it. Safe to call repeatedly; a non-nil ValidatorMandates is
// returned unchanged.
func (e *EpochInfo) EnsureValidatorMandates(seatsPerSet, shardCount int) *ValidatorMandates {
	if e.ValidatorMandates != nil {
		return e.ValidatorMandates
	}
	e.ValidatorMandates = BuildValidatorMandates(e.Validators, e.RngSeed, seatsPerSet, shardCount)
	return e.ValidatorMandates
}

// BuildValidatorMandates constructs the chunk-validator sampling structure
// for a validator set, seeded by seed: one mandate unit per validator,
// repeated proportionally to its power weight, in an order permuted by the
// seed so no validator's mandates cluster at a fixed offset.
func BuildValidatorMandates(set *validator.Set, seed inter.BlockHash, seatsPerSet, shardCount int) *ValidatorMandates {
	infos := set.All()
	assignment := make([]Mandate, 0, len(infos))
	for _, v := range infos {
		weight := v.Power
		if weight == nil || weight.Sign() <= 0 {
			continue
		}
		units := weight.Uint64()
		if units > 64 {
			units = 64
		}
		vi, _ := set.GetIdx(v.Account)
		for i := uint64(0); i < units; i++ {
			assignment = append(assignment, Mandate{ValidatorIndex: vi, Weight: 1})
		}
	}
	if len(assignment) == 0 {
		for _, v := range infos {
			vidx, _ := set.GetIdx(v.Account)
			assignment = append(assignment, Mandate{ValidatorIndex: vidx, Weight: 1})
		}
	}
	permute(assignment, seed)
	return &ValidatorMandates{Assignment: assignment, SeatsPerSet: seatsPerSet, ShardCount: shardCount}
}

// permute applies a seed-deterministic Fisher-Yates shuffle in place.
func permute(assignment []Mandate, seed inter.BlockHash) {
	n := len(assignment)
	state := seed
	for i := n - 1; i > 0; i-- {
		state = hash.Of(state.Bytes())
		j := int(binaryUint64(state.Bytes()) % uint64(i+1))
		assignment[i], assignment[j] = assignment[j], assignment[i]
	}
}

func binaryUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// SampleBlockProducer returns the validator index scheduled to produce the
// block at height, by indexing the repeating settlement rota.
func (e *EpochInfo) SampleBlockProducer(height idx.Block) idx.Validator {
	n := len(e.BlockProducersSettlement)
	return e.BlockProducersSettlement[uint64(height)%uint64(n)]
}

// SampleChunkProducer returns the validator index scheduled to produce
// shard's chunk at height.
func (e *EpochInfo) SampleChunkProducer(shard ShardID, height idx.Block) (idx.Validator, error) {
	if int(shard) >= len(e.ChunkProducersSettlement) {
		return 0, errShardOutOfRange
	}
	rota := e.ChunkProducersSettlement[shard]
	if len(rota) == 0 {
		return 0, errShardOutOfRange
	}
	return rota[uint64(height)%uint64(len(rota))], nil
}

// Copy returns a deep copy of the EpochInfo.
func (e *EpochInfo) Copy() *EpochInfo {
	cp := *e
	cp.BlockProducersSettlement = append([]idx.Validator(nil), e.BlockProducersSettlement...)
	cp.ChunkProducersSettlement = make([][]idx.Validator, len(e.ChunkProducersSettlement))
	for i, rota := range e.ChunkProducersSettlement {
		cp.ChunkProducersSettlement[i] = append([]idx.Validator(nil), rota...)
	}
	cp.Fishermen = append([]inter.AccountId(nil), e.Fishermen...)
	cp.ValidatorKickout = make(map[inter.AccountId]inter.KickoutReason, len(e.ValidatorKickout))
	for k, v := range e.ValidatorKickout {
		cp.ValidatorKickout[k] = v
	}
	cp.PledgeChange = copyBigMap(e.PledgeChange)
	cp.PowerChange = copyBigMap(e.PowerChange)
	cp.ValidatorReward = copyBigMap(e.ValidatorReward)
	if e.MintedAmount != nil {
		cp.MintedAmount = new(big.Int).Set(e.MintedAmount)
	}
	if e.SeatPrice != nil {
		cp.SeatPrice = new(big.Int).Set(e.SeatPrice)
	}
	return &cp
}

func copyBigMap(m map[inter.AccountId]*big.Int) map[inter.AccountId]*big.Int {
	cp := make(map[inter.AccountId]*big.Int, len(m))
	for k, v := range m {
		cp[k] = new(big.Int).Set(v)
	}
	return cp
}

// Hash fingerprints the EpochInfo over its height, protocol version,
// validator set, block-producer settlement, minted amount, seat price and
// rng seed. Validator mandates are derived from Validators plus the rng
// seed and are not hashed separately; the chunk-producer settlements and
// the per-account maps are not part of the fingerprint.
func (e *EpochInfo) Hash() hash.Hash {
	hasher := sha256.New()
	if err := rlp.Encode(hasher, rlpEpochInfo(e)); err != nil {
		panic("can't hash epoch info: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}

type epochInfoRLP struct {
	EpochHeight              idx.Epoch
	ProtocolVersion          uint32
	Accounts                 []inter.AccountId
	Pledges                  []*big.Int
	Powers                   []*big.Int
	BlockProducersSettlement []idx.Validator
	MintedAmount             *big.Int
	SeatPrice                *big.Int
	RngSeed                  inter.BlockHash
}

func rlpEpochInfo(e *EpochInfo) *epochInfoRLP {
	out := &epochInfoRLP{
		EpochHeight:              e.EpochHeight,
		ProtocolVersion:          e.ProtocolVersion,
		BlockProducersSettlement: e.BlockProducersSettlement,
		MintedAmount:             nonNilBig(e.MintedAmount),
		SeatPrice:                nonNilBig(e.SeatPrice),
		RngSeed:                  e.RngSeed,
	}
	for _, v := range e.Validators.All() {
		out.Accounts = append(out.Accounts, v.Account)
		out.Pledges = append(out.Pledges, nonNilBig(v.Pledge))
		out.Powers = append(out.Powers, nonNilBig(v.Power))
	}
	return out
}

func nonNilBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// EpochInfoAggregator is the mutable running state the aggregator
// folds block-by-block over the live epoch, from the last aggregated block
// up to a target block.
type EpochInfoAggregator struct {
	EpochId       inter.EpochId
	LastBlockHash inter.BlockHash

	BlockTracker map[idx.Validator]*ProductionStats
	ShardTracker map[ShardID]map[idx.Validator]*ProductionStats

	AllPowerProposals  *inter.ProposalSet
	AllPledgeProposals *inter.ProposalSet

	VersionTracker map[idx.Validator]uint32
}

// NewAggregator returns an empty aggregator anchored at epochId with no
// blocks folded in yet.
func NewAggregator(epochId inter.EpochId) *EpochInfoAggregator {
	return &EpochInfoAggregator{
		EpochId:            epochId,
		BlockTracker:       make(map[idx.Validator]*ProductionStats),
		ShardTracker:       make(map[ShardID]map[idx.Validator]*ProductionStats),
		AllPowerProposals:  &inter.ProposalSet{},
		AllPledgeProposals: &inter.ProposalSet{},
		VersionTracker:     make(map[idx.Validator]uint32),
	}
}

func (a *EpochInfoAggregator) blockStats(v idx.Validator) *ProductionStats {
	s, ok := a.BlockTracker[v]
	if !ok {
		s = &ProductionStats{}
		a.BlockTracker[v] = s
	}
	return s
}

func (a *EpochInfoAggregator) shardStats(shard ShardID, v idx.Validator) *ProductionStats {
	perValidator, ok := a.ShardTracker[shard]
	if !ok {
		perValidator = make(map[idx.Validator]*ProductionStats)
		a.ShardTracker[shard] = perValidator
	}
	s, ok := perValidator[v]
	if !ok {
		s = &ProductionStats{}
		perValidator[v] = s
	}
	return s
}

// RecordExpectedBlock increments the expected-block counter for producer.
func (a *EpochInfoAggregator) RecordExpectedBlock(producer idx.Validator) {
	a.blockStats(producer).Expected++
}

// RecordProducedBlock increments both expected and produced for producer.
func (a *EpochInfoAggregator) RecordProducedBlock(producer idx.Validator) {
	s := a.blockStats(producer)
	s.Expected++
	s.Produced++
}

// RecordExpectedChunk increments the expected-chunk counter for producer on shard.
func (a *EpochInfoAggregator) RecordExpectedChunk(shard ShardID, producer idx.Validator) {
	a.shardStats(shard, producer).Expected++
}

// RecordProducedChunk increments both expected and produced for producer on shard.
func (a *EpochInfoAggregator) RecordProducedChunk(shard ShardID, producer idx.Validator) {
	s := a.shardStats(shard, producer)
	s.Expected++
	s.Produced++
}

// Merge folds other into a, with other understood to follow a along the
// chain (a's counters come first). Proposals and version votes from other
// win on conflict, since other is more recent.
func (a *EpochInfoAggregator) Merge(other *EpochInfoAggregator) {
	if other == nil {
		return
	}
	for v, s := range other.BlockTracker {
		cur := a.blockStats(v)
		cur.Produced += s.Produced
		cur.Expected += s.Expected
	}
	for shard, perValidator := range other.ShardTracker {
		for v, s := range perValidator {
			cur := a.shardStats(shard, v)
			cur.Produced += s.Produced
			cur.Expected += s.Expected
		}
	}
	a.AllPowerProposals.Merge(other.AllPowerProposals)
	a.AllPledgeProposals.Merge(other.AllPledgeProposals)
	for v, ver := range other.VersionTracker {
		a.VersionTracker[v] = ver
	}
	a.LastBlockHash = other.LastBlockHash
}

// MergePrefix returns a new aggregator combining old as the earlier part of
// the epoch and a (the receiver) as the more recent tail — used for
// read-only queries that overlay a freshly walked tail onto the stored
// aggregator without mutating either.
func (a *EpochInfoAggregator) MergePrefix(old *EpochInfoAggregator) *EpochInfoAggregator {
	merged := old.Copy()
	merged.Merge(a)
	return merged
}

// Copy returns a deep copy of the aggregator.
func (a *EpochInfoAggregator) Copy() *EpochInfoAggregator {
	cp := NewAggregator(a.EpochId)
	cp.LastBlockHash = a.LastBlockHash
	for v, s := range a.BlockTracker {
		cp.BlockTracker[v] = &ProductionStats{Produced: s.Produced, Expected: s.Expected}
	}
	for shard, perValidator := range a.ShardTracker {
		m := make(map[idx.Validator]*ProductionStats, len(perValidator))
		for v, s := range perValidator {
			m[v] = &ProductionStats{Produced: s.Produced, Expected: s.Expected}
		}
		cp.ShardTracker[shard] = m
	}
	cp.AllPowerProposals = a.AllPowerProposals.Copy()
	cp.AllPledgeProposals = a.AllPledgeProposals.Copy()
	for v, ver := range a.VersionTracker {
		cp.VersionTracker[v] = ver
	}
	return cp
}
