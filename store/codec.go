// Package store provides the typed column store the epoch manager persists
// to: BlockInfo and EpochInfo records, the epoch-start index, and the live
// aggregator, encoded with the project's compact binary serializer (cser)
// rather than a general-purpose format.
package store

import (
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/inter/ier"
	"github.com/rony4d/opera-epochmgr/inter/validator"
	"github.com/rony4d/opera-epochmgr/inter/validatorpk"
	"github.com/rony4d/opera-epochmgr/utils/cser"
)

// EncodeBlockInfo serializes a BlockInfo with cser.
func EncodeBlockInfo(b *iblockproc.BlockInfo) ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		writeHash(w, b.SelfHash)
		w.U64(uint64(b.Height))
		writeHash(w, b.PrevHash)
		w.U64(uint64(b.LastFinalizedHeight))
		writeHash(w, b.LastFinalizedBlockHash)
		writeHash(w, b.EpochId)
		writeHash(w, b.EpochFirstBlock)
		writeHash(w, b.NextEpochId)

		writeProposals(w, b.PowerProposals)
		writeProposals(w, b.PledgeProposals)

		w.SliceBytes(b.ChunkMask.Bytes)

		w.U56(uint64(len(b.Slashed)))
		for acct, state := range b.Slashed {
			writeAccount(w, acct)
			w.U8(uint8(state))
		}

		w.BigInt(nonNilBig(b.TotalSupply))
		w.U32(b.LatestProtocolVersion)
		w.I64(int64(b.TimestampNanosec))
		writeHash(w, b.RandomValue)
		w.U8(b.Version)
		return nil
	})
}

// DecodeBlockInfo deserializes a BlockInfo encoded by EncodeBlockInfo.
func DecodeBlockInfo(raw []byte) (*iblockproc.BlockInfo, error) {
	b := &iblockproc.BlockInfo{}
	err := cser.UnmarshalBinaryAdapter(raw, func(r *cser.Reader) error {
		b.SelfHash = readHash(r)
		b.Height = idx.Block(r.U64())
		b.PrevHash = readHash(r)
		b.LastFinalizedHeight = idx.Block(r.U64())
		b.LastFinalizedBlockHash = readHash(r)
		b.EpochId = readHash(r)
		b.EpochFirstBlock = readHash(r)
		b.NextEpochId = readHash(r)

		b.PowerProposals = readProposals(r)
		b.PledgeProposals = readProposals(r)

		b.ChunkMask = iblockproc.NewChunkMask(0)
		b.ChunkMask.Bytes = r.SliceBytes(cser.MaxAlloc)

		n := r.U56()
		b.Slashed = make(map[inter.AccountId]inter.SlashState, n)
		for i := uint64(0); i < n; i++ {
			acct := readAccount(r)
			b.Slashed[acct] = inter.SlashState(r.U8())
		}

		b.TotalSupply = r.BigInt()
		b.LatestProtocolVersion = r.U32()
		b.TimestampNanosec = inter.Timestamp(r.I64())
		b.RandomValue = readHash(r)
		b.Version = r.U8()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeEpochInfo serializes an EpochInfo with cser. ValidatorMandates is
// not persisted: it is re-derivable from Validators plus the epoch's rng
// seed, and EpochInfo.EnsureValidatorMandates rebuilds it on first use
// after a decode rather than on decode.
func EncodeEpochInfo(e *iblockproc.EpochInfo) ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		w.U32(uint32(e.EpochHeight))
		w.U32(e.ProtocolVersion)

		validators := e.Validators.All()
		w.U56(uint64(len(validators)))
		for _, v := range validators {
			writeAccount(w, v.Account)
			w.U8(v.PubKey.Type)
			w.SliceBytes(v.PubKey.Raw)
			w.BigInt(nonNilBig(v.Pledge))
			w.BigInt(nonNilBig(v.Power))
		}

		w.U56(uint64(len(e.BlockProducersSettlement)))
		for _, v := range e.BlockProducersSettlement {
			w.U32(uint32(v))
		}

		w.U56(uint64(len(e.ChunkProducersSettlement)))
		for _, shard := range e.ChunkProducersSettlement {
			w.U56(uint64(len(shard)))
			for _, v := range shard {
				w.U32(uint32(v))
			}
		}

		w.U56(uint64(len(e.Fishermen)))
		for _, acct := range e.Fishermen {
			writeAccount(w, acct)
		}

		w.U56(uint64(len(e.ValidatorKickout)))
		for acct, reason := range e.ValidatorKickout {
			writeAccount(w, acct)
			w.U8(uint8(reason.Kind))
			w.U64(reason.Produced)
			w.U64(reason.Expected)
		}

		writeBigMap(w, e.PledgeChange)
		writeBigMap(w, e.PowerChange)
		writeBigMap(w, e.ValidatorReward)

		w.BigInt(nonNilBig(e.MintedAmount))
		w.BigInt(nonNilBig(e.SeatPrice))
		writeHash(w, e.RngSeed)
		return nil
	})
}

// DecodeEpochInfo deserializes an EpochInfo encoded by EncodeEpochInfo.
func DecodeEpochInfo(raw []byte) (*iblockproc.EpochInfo, error) {
	e := &iblockproc.EpochInfo{}
	err := cser.UnmarshalBinaryAdapter(raw, func(r *cser.Reader) error {
		e.EpochHeight = idx.Epoch(r.U32())
		e.ProtocolVersion = r.U32()

		n := r.U56()
		infos := make([]validator.Info, 0, n)
		for i := uint64(0); i < n; i++ {
			acct := readAccount(r)
			pkType := r.U8()
			pkRaw := r.SliceBytes(cser.MaxAlloc)
			pledge := r.BigInt()
			power := r.BigInt()
			infos = append(infos, validator.Info{
				Account: acct,
				PubKey:  validatorpk.PubKey{Type: pkType, Raw: pkRaw},
				Pledge:  pledge,
				Power:   power,
			})
		}
		e.Validators = validator.NewSet(infos)

		bn := r.U56()
		e.BlockProducersSettlement = make([]idx.Validator, bn)
		for i := range e.BlockProducersSettlement {
			e.BlockProducersSettlement[i] = idx.Validator(r.U32())
		}

		sn := r.U56()
		e.ChunkProducersSettlement = make([][]idx.Validator, sn)
		for i := range e.ChunkProducersSettlement {
			shardLen := r.U56()
			shard := make([]idx.Validator, shardLen)
			for j := range shard {
				shard[j] = idx.Validator(r.U32())
			}
			e.ChunkProducersSettlement[i] = shard
		}

		fn := r.U56()
		e.Fishermen = make([]inter.AccountId, fn)
		for i := range e.Fishermen {
			e.Fishermen[i] = readAccount(r)
		}

		kn := r.U56()
		e.ValidatorKickout = make(map[inter.AccountId]inter.KickoutReason, kn)
		for i := uint64(0); i < kn; i++ {
			acct := readAccount(r)
			kind := inter.KickoutReasonKind(r.U8())
			produced := r.U64()
			expected := r.U64()
			e.ValidatorKickout[acct] = inter.KickoutReason{Kind: kind, Produced: produced, Expected: expected}
		}

		e.PledgeChange = readBigMap(r)
		e.PowerChange = readBigMap(r)
		e.ValidatorReward = readBigMap(r)

		e.MintedAmount = r.BigInt()
		e.SeatPrice = r.BigInt()
		e.RngSeed = readHash(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// EncodeAggregator serializes the live EpochInfoAggregator under the
// reserved AggregatorKey.
func EncodeAggregator(a *iblockproc.EpochInfoAggregator) ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		writeHash(w, a.EpochId)
		writeHash(w, a.LastBlockHash)

		w.U56(uint64(len(a.BlockTracker)))
		for v, s := range a.BlockTracker {
			w.U32(uint32(v))
			w.U64(s.Produced)
			w.U64(s.Expected)
		}

		w.U56(uint64(len(a.ShardTracker)))
		for shard, perValidator := range a.ShardTracker {
			w.U16(uint16(shard))
			w.U56(uint64(len(perValidator)))
			for v, s := range perValidator {
				w.U32(uint32(v))
				w.U64(s.Produced)
				w.U64(s.Expected)
			}
		}

		writeProposalSet(w, a.AllPowerProposals)
		writeProposalSet(w, a.AllPledgeProposals)

		w.U56(uint64(len(a.VersionTracker)))
		for v, ver := range a.VersionTracker {
			w.U32(uint32(v))
			w.U32(ver)
		}
		return nil
	})
}

// DecodeAggregator deserializes an aggregator encoded by EncodeAggregator.
func DecodeAggregator(raw []byte) (*iblockproc.EpochInfoAggregator, error) {
	var a *iblockproc.EpochInfoAggregator
	err := cser.UnmarshalBinaryAdapter(raw, func(r *cser.Reader) error {
		epochId := readHash(r)
		a = iblockproc.NewAggregator(epochId)
		a.LastBlockHash = readHash(r)

		bn := r.U56()
		for i := uint64(0); i < bn; i++ {
			v := idx.Validator(r.U32())
			produced := r.U64()
			expected := r.U64()
			a.BlockTracker[v] = &iblockproc.ProductionStats{Produced: produced, Expected: expected}
		}

		sn := r.U56()
		for i := uint64(0); i < sn; i++ {
			shard := iblockproc.ShardID(r.U16())
			perValidator := make(map[idx.Validator]*iblockproc.ProductionStats)
			pn := r.U56()
			for j := uint64(0); j < pn; j++ {
				v := idx.Validator(r.U32())
				produced := r.U64()
				expected := r.U64()
				perValidator[v] = &iblockproc.ProductionStats{Produced: produced, Expected: expected}
			}
			a.ShardTracker[shard] = perValidator
		}

		a.AllPowerProposals = readProposalSet(r)
		a.AllPledgeProposals = readProposalSet(r)

		vn := r.U56()
		a.VersionTracker = make(map[idx.Validator]uint32, vn)
		for i := uint64(0); i < vn; i++ {
			v := idx.Validator(r.U32())
			a.VersionTracker[v] = r.U32()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// EncodeEpochSummary serializes an EpochSummary (the EpochValidatorInfo
// column's value) with cser.
func EncodeEpochSummary(s *ier.EpochSummary) ([]byte, error) {
	return cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		writeHash(w, s.PrevEpochLastBlockHash)
		writeProposalSet(w, s.PowerProposals)
		writeProposalSet(w, s.PledgeProposals)

		w.U56(uint64(len(s.ValidatorKickout)))
		for acct, reason := range s.ValidatorKickout {
			writeAccount(w, acct)
			w.U8(uint8(reason.Kind))
			w.U64(reason.Produced)
			w.U64(reason.Expected)
		}

		w.U56(uint64(len(s.ValidatorBlockChunkStats)))
		for v, stats := range s.ValidatorBlockChunkStats {
			w.U32(uint32(v))
			w.U64(stats.Produced)
			w.U64(stats.Expected)
		}

		writeBigMap(w, s.ValidatorReward)
		w.BigInt(nonNilBig(s.MintedAmount))
		w.U32(s.NextVersion)
		return nil
	})
}

// DecodeEpochSummary deserializes an EpochSummary encoded by
// EncodeEpochSummary.
func DecodeEpochSummary(raw []byte) (*ier.EpochSummary, error) {
	s := &ier.EpochSummary{}
	err := cser.UnmarshalBinaryAdapter(raw, func(r *cser.Reader) error {
		s.PrevEpochLastBlockHash = readHash(r)
		s.PowerProposals = readProposalSet(r)
		s.PledgeProposals = readProposalSet(r)

		kn := r.U56()
		s.ValidatorKickout = make(map[inter.AccountId]inter.KickoutReason, kn)
		for i := uint64(0); i < kn; i++ {
			acct := readAccount(r)
			kind := inter.KickoutReasonKind(r.U8())
			produced := r.U64()
			expected := r.U64()
			s.ValidatorKickout[acct] = inter.KickoutReason{Kind: kind, Produced: produced, Expected: expected}
		}

		sn := r.U56()
		s.ValidatorBlockChunkStats = make(map[idx.Validator]*iblockproc.ProductionStats, sn)
		for i := uint64(0); i < sn; i++ {
			v := idx.Validator(r.U32())
			produced := r.U64()
			expected := r.U64()
			s.ValidatorBlockChunkStats[v] = &iblockproc.ProductionStats{Produced: produced, Expected: expected}
		}

		s.ValidatorReward = readBigMap(r)
		s.MintedAmount = r.BigInt()
		s.NextVersion = r.U32()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func writeProposalSet(w *cser.Writer, set *inter.ProposalSet) {
	var proposals []inter.Proposal
	if set != nil {
		proposals = set.Proposals()
	}
	writeProposals(w, proposals)
}

func readProposalSet(r *cser.Reader) *inter.ProposalSet {
	set := &inter.ProposalSet{}
	for _, p := range readProposals(r) {
		set.Insert(p.Account, p.Amount)
	}
	return set
}

func writeHash(w *cser.Writer, h hash.Hash) {
	w.FixedBytes(h[:])
}

func readHash(r *cser.Reader) hash.Hash {
	var h hash.Hash
	r.FixedBytes(h[:])
	return h
}

func writeAccount(w *cser.Writer, a inter.AccountId) {
	w.FixedBytes(a[:])
}

func readAccount(r *cser.Reader) inter.AccountId {
	var a inter.AccountId
	r.FixedBytes(a[:])
	return a
}

func writeProposals(w *cser.Writer, proposals []inter.Proposal) {
	w.U56(uint64(len(proposals)))
	for _, p := range proposals {
		writeAccount(w, p.Account)
		w.BigInt(nonNilBig(p.Amount))
	}
}

func readProposals(r *cser.Reader) []inter.Proposal {
	n := r.U56()
	out := make([]inter.Proposal, n)
	for i := range out {
		out[i] = inter.Proposal{Account: readAccount(r), Amount: r.BigInt()}
	}
	return out
}

func writeBigMap(w *cser.Writer, m map[inter.AccountId]*big.Int) {
	w.U56(uint64(len(m)))
	for acct, v := range m {
		writeAccount(w, acct)
		w.BigInt(nonNilBig(v))
	}
}

func readBigMap(r *cser.Reader) map[inter.AccountId]*big.Int {
	n := r.U56()
	m := make(map[inter.AccountId]*big.Int, n)
	for i := uint64(0); i < n; i++ {
		acct := readAccount(r)
		m[acct] = r.BigInt()
	}
	return m
}

func nonNilBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
