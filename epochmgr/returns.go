package epochmgr

import (
	"math/big"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
)

// PowerReturnInfo is the result of ComputePowerReturnInfo: the maximum
// power/pledge an account held across the three epochs bracketing
// lastHash, the reward it earned in the epoch that just finalized, and
// its double-sign slashing amount.
type PowerReturnInfo struct {
	Power   map[inter.AccountId]*big.Int
	Pledge  map[inter.AccountId]*big.Int
	Reward  map[inter.AccountId]*big.Int
	Slashed map[inter.AccountId]*big.Int
}

// ComputePowerReturnInfo computes, for every account present in any
// of the three power-change maps bracketing lastHash's epoch, it returns
// the maximum across the three (same for pledge), the reward recorded by
// the epoch two ahead, and the double-sign slashing distribution.
func (m *Manager) ComputePowerReturnInfo(lastHash inter.BlockHash) (*PowerReturnInfo, error) {
	block, err := m.Store.GetBlockInfo(lastHash)
	if err != nil {
		return nil, &ErrMissingBlock{Hash: lastHash}
	}
	// The three brackets: cur (P, containing lastHash), next (N, keyed by
	// block.NextEpochId) and twoAhead (NN, keyed by lastHash itself per
	// invariant 2, written by the finalizer when lastHash closes P).
	cur, err := m.Store.GetEpochInfo(block.EpochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: block.EpochId}
	}
	next, err := m.Store.GetEpochInfo(block.NextEpochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: block.NextEpochId}
	}
	twoAheadId := inter.EpochIdOfBlock(lastHash)
	twoAhead, err := m.Store.GetEpochInfo(twoAheadId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: twoAheadId}
	}

	slashInfo, err := m.ComputeDoubleSignSlashingInfo(lastHash)
	if err != nil {
		return nil, err
	}

	out := &PowerReturnInfo{
		Power:   maxOfThreeBig(cur.PowerChange, next.PowerChange, twoAhead.PowerChange),
		Pledge:  filterSlashedPledge(maxOfThreeBig(cur.PledgeChange, next.PledgeChange, twoAhead.PledgeChange), block.Slashed, cur.PledgeChange, maxOfThreeBig(next.PledgeChange, twoAhead.PledgeChange, nil)),
		Reward:  copyBigAccountMap(twoAhead.ValidatorReward),
		Slashed: slashInfo,
	}
	return out, nil
}

func maxOfThreeBig(a, b, c map[inter.AccountId]*big.Int) map[inter.AccountId]*big.Int {
	out := make(map[inter.AccountId]*big.Int)
	merge := func(m map[inter.AccountId]*big.Int) {
		for acct, v := range m {
			cur, ok := out[acct]
			if !ok || v.Cmp(cur) > 0 {
				out[acct] = new(big.Int).Set(v)
			}
		}
	}
	merge(a)
	merge(b)
	merge(c)
	return out
}

// filterSlashedPledge drops a slashed account's pledge return unless the
// account has a change in prevPrev (the epoch containing lastHash) and none
// in next (the changes of the two epochs after it), in which case the
// residual is safe to return (it predates the slash).
func filterSlashedPledge(maxed map[inter.AccountId]*big.Int, slashed map[inter.AccountId]inter.SlashState, prevPrev, next map[inter.AccountId]*big.Int) map[inter.AccountId]*big.Int {
	out := make(map[inter.AccountId]*big.Int, len(maxed))
	for acct, v := range maxed {
		if _, isSlashed := slashed[acct]; !isSlashed {
			out[acct] = v
			continue
		}
		_, inPrevPrev := prevPrev[acct]
		_, inNext := next[acct]
		if inPrevPrev && !inNext {
			out[acct] = v
		}
	}
	return out
}

func copyBigAccountMap(m map[inter.AccountId]*big.Int) map[inter.AccountId]*big.Int {
	out := make(map[inter.AccountId]*big.Int, len(m))
	for acct, v := range m {
		out[acct] = new(big.Int).Set(v)
	}
	return out
}

// ComputeDoubleSignSlashingInfo computes the pledge-slashing split:
// double-signers lose their whole pledge if the total double-signed
// pledge is at least a third of all pledge in the epoch (isTotal), else a
// pro-rated share computed with arbitrary-precision floor division.
func (m *Manager) ComputeDoubleSignSlashingInfo(lastHash inter.BlockHash) (map[inter.AccountId]*big.Int, error) {
	block, err := m.Store.GetBlockInfo(lastHash)
	if err != nil {
		return nil, &ErrMissingBlock{Hash: lastHash}
	}
	epochInfo, err := m.Store.GetEpochInfo(block.EpochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: block.EpochId}
	}
	return computeDoubleSignSlashing(epochInfo, block.Slashed), nil
}

// computeDoubleSignSlashingFromBlock is the per-block variant: it computes
// the same split directly from the tip block's epoch info and slashed map,
// without requiring lastHash to be a finalized epoch boundary. The
// per-block path hard-codes nextVersion = 1; this mirrors that oddity
// exactly as intentional parity, not a considered default.
func (m *Manager) computeDoubleSignSlashingFromBlock(block *iblockproc.BlockInfo) (map[inter.AccountId]*big.Int, uint32, error) {
	epochInfo, err := m.Store.GetEpochInfo(block.EpochId)
	if err != nil {
		return nil, 0, &ErrEpochOutOfBounds{EpochId: block.EpochId}
	}
	const hardCodedNextVersion = 1
	return computeDoubleSignSlashing(epochInfo, block.Slashed), hardCodedNextVersion, nil
}

func computeDoubleSignSlashing(epochInfo *iblockproc.EpochInfo, slashed map[inter.AccountId]inter.SlashState) map[inter.AccountId]*big.Int {
	totalPledge := new(big.Int)
	doubleSignPledge := new(big.Int)
	doubleSigners := make(map[inter.AccountId]*big.Int)
	for _, v := range epochInfo.Validators.All() {
		totalPledge.Add(totalPledge, nonNilBig(v.Pledge))
		if slashed[v.Account] == inter.SlashDoubleSign {
			doubleSignPledge.Add(doubleSignPledge, nonNilBig(v.Pledge))
			doubleSigners[v.Account] = nonNilBig(v.Pledge)
		}
	}
	if len(doubleSigners) == 0 {
		return map[inter.AccountId]*big.Int{}
	}

	isTotal := new(big.Int).Mul(doubleSignPledge, big.NewInt(3)).Cmp(totalPledge) >= 0

	out := make(map[inter.AccountId]*big.Int, len(doubleSigners))
	for acct, pledge := range doubleSigners {
		if isTotal || totalPledge.Sign() == 0 {
			out[acct] = new(big.Int).Set(pledge)
			continue
		}
		amount := new(big.Int).Mul(doubleSignPledge, big.NewInt(3))
		amount.Mul(amount, pledge)
		amount.Div(amount, totalPledge)
		out[acct] = amount
	}
	return out
}
