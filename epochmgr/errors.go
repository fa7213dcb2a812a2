package epochmgr

import (
	"fmt"
	"math/big"

	"github.com/rony4d/opera-epochmgr/inter"
)

// ErrMissingBlock is returned when a lookup references a block hash the
// store has never seen.
type ErrMissingBlock struct {
	Hash inter.BlockHash
}

func (e *ErrMissingBlock) Error() string {
	return fmt.Sprintf("epochmgr: missing block %s", e.Hash.String())
}

// ErrEpochOutOfBounds is returned when a lookup references an epoch id the
// store has no EpochInfo for.
type ErrEpochOutOfBounds struct {
	EpochId inter.EpochId
}

func (e *ErrEpochOutOfBounds) Error() string {
	return fmt.Sprintf("epochmgr: epoch %s out of bounds", e.EpochId.String())
}

// ErrNotAValidator is returned when an account is looked up against a
// validator set it does not belong to.
type ErrNotAValidator struct {
	Account inter.AccountId
	EpochId inter.EpochId
}

func (e *ErrNotAValidator) Error() string {
	return fmt.Sprintf("epochmgr: %s is not a validator in epoch %s", e.Account.Hex(), e.EpochId.String())
}

// ErrChunkValidatorSelection covers invalid-input failures of chunk
// validator sampling (shard out of range, no mandates).
type ErrChunkValidatorSelection struct {
	Msg string
}

func (e *ErrChunkValidatorSelection) Error() string {
	return "epochmgr: chunk validator selection: " + e.Msg
}

// ErrValidatorTotalPower is returned when VRF miner selection finds a
// zero total power across the candidate validator list.
type ErrValidatorTotalPower struct {
	Msg string
}

func (e *ErrValidatorTotalPower) Error() string {
	return "epochmgr: validator total power: " + e.Msg
}

// ErrNoAvailableValidator is returned when a selection has no candidates
// left to choose from.
type ErrNoAvailableValidator struct {
	Msg string
}

func (e *ErrNoAvailableValidator) Error() string {
	return "epochmgr: no available validator: " + e.Msg
}

// ErrThresholdPledgeSum is returned by the proposals-to-epoch-info
// primitive when proposed pledge falls below the configured seat-price
// floor. The finalizer recovers from this locally.
type ErrThresholdPledgeSum struct {
	PledgeSum *big.Int
	SeatPrice *big.Int
	NumSeats  int
}

func (e *ErrThresholdPledgeSum) Error() string {
	return fmt.Sprintf("epochmgr: pledge sum %s below threshold (seat price %s, seats %d)", e.PledgeSum, e.SeatPrice, e.NumSeats)
}

// ErrNotEnoughValidators is returned by the proposals-to-epoch-info
// primitive when fewer validators are proposed than the shard layout
// requires. The finalizer recovers from this locally.
type ErrNotEnoughValidators struct {
	NumValidators int
	NumShards     int
}

func (e *ErrNotEnoughValidators) Error() string {
	return fmt.Sprintf("epochmgr: not enough validators: have %d, need coverage for %d shards", e.NumValidators, e.NumShards)
}

// ErrIO wraps a storage failure. It is always surfaced, never swallowed.
type ErrIO struct {
	Op  string
	Err error
}

func (e *ErrIO) Error() string {
	return fmt.Sprintf("epochmgr: io error during %s: %v", e.Op, e.Err)
}

func (e *ErrIO) Unwrap() error {
	return e.Err
}

// ErrNotImplemented is returned by operations left unreachable until a
// caller wires epoch sync (InitAfterEpochSync).
type ErrNotImplemented struct {
	Op string
}

func (e *ErrNotImplemented) Error() string {
	return "epochmgr: not implemented: " + e.Op
}

// ErrGenesisProposals is returned when the genesis block carries non-empty
// power or pledge proposals; genesis seeds validators from the pre-genesis
// epoch info, not from proposals.
type ErrGenesisProposals struct{}

func (e *ErrGenesisProposals) Error() string {
	return "epochmgr: genesis block must not carry proposals"
}
