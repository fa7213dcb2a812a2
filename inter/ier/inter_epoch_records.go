// Package ier (Inter-Epoch Records) defines the data bundled at an epoch
// boundary: the transient EpochSummary produced while closing an epoch, and
// the durable FullEpochRecord checkpoint pairing a BlockInfo with the
// EpochInfo it closed into.
package ier

import (
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
)

// EpochSummary is the transient result of CollectBlocksInfo: everything the
// finalizer needs to hand to the proposals-to-epoch-info primitive, before
// any EpochInfo for the new epoch exists.
type EpochSummary struct {
	PrevEpochLastBlockHash inter.BlockHash

	PowerProposals  *inter.ProposalSet
	PledgeProposals *inter.ProposalSet

	ValidatorKickout         map[inter.AccountId]inter.KickoutReason
	ValidatorBlockChunkStats map[idx.Validator]*iblockproc.ProductionStats

	ValidatorReward map[inter.AccountId]*big.Int
	MintedAmount    *big.Int

	// NextVersion is the protocol version accepted, per the
	// argmax-over-voted-pledge rule, for the epoch whose EpochInfo the
	// finalizer builds (two epochs after the one just closed).
	NextVersion uint32
}

// FullEpochRecord bundles the last block of an epoch with the EpochInfo it
// closed into, so a single lookup reconstructs everything needed to verify
// or replay the epoch boundary.
type FullEpochRecord struct {
	// BlockInfo is the last block of the epoch being closed.
	BlockInfo iblockproc.BlockInfo
	// EpochInfo is the finalized state for the epoch BlockInfo closed.
	EpochInfo iblockproc.EpochInfo
}

// IdxFullEpochRecord wraps FullEpochRecord with the epoch index it belongs
// to, for iteration over the EpochValidatorInfo column.
type IdxFullEpochRecord struct {
	FullEpochRecord
	Idx idx.Epoch
}

// Hash combines the BlockInfo and EpochInfo hashes into one fingerprint for
// the epoch boundary.
func (r FullEpochRecord) Hash() hash.Hash {
	return hash.Of(r.BlockInfo.Hash().Bytes(), r.EpochInfo.Hash().Bytes())
}
