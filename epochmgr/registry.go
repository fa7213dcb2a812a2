package epochmgr

import (
	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/store"
)

// RecordBlockInfo ingests one block header: it assigns the block's epoch id
// and propagates slash state, advances the aggregator past any newly
// finalized blocks, and — when info is the last block of its epoch — runs
// the finalizer. The caller commits the returned StoreUpdate.
func (m *Manager) RecordBlockInfo(info *iblockproc.BlockInfo, rngSeed inter.BlockHash) (*store.StoreUpdate, error) {
	if _, err := m.Store.GetBlockInfo(info.SelfHash); err == nil {
		return store.NewStoreUpdate(), nil
	}

	update := m.Store.NewUpdate()

	if info.IsGenesis() {
		if len(info.PowerProposals) != 0 || len(info.PledgeProposals) != 0 {
			return nil, &ErrGenesisProposals{}
		}
		preGenesis, err := m.Store.GetEpochInfo(inter.ZeroEpochId)
		if err != nil {
			return nil, &ErrEpochOutOfBounds{EpochId: inter.ZeroEpochId}
		}

		info.EpochId = inter.ZeroEpochId
		info.EpochFirstBlock = info.SelfHash
		info.NextEpochId = info.SelfHash
		update.SetBlockInfo(info)
		update.SetEpochStart(info.EpochId, info.Height)
		// Binds EpochId(info.Hash) to the pre-genesis validator set, so the
		// epoch that invariant 2 assigns this hash to already has settled
		// validators instead of waiting for a finalizer run two epochs out.
		update.SetEpochInfo(inter.EpochIdOfBlock(info.SelfHash), preGenesis.Copy())
		return update, nil
	}

	parent, err := m.Store.GetBlockInfo(info.PrevHash)
	if err != nil {
		return nil, &ErrMissingBlock{Hash: info.PrevHash}
	}

	epochStartHeight, err := m.Store.GetEpochStart(parent.EpochId)
	if err != nil {
		return nil, &ErrIO{Op: "get epoch start", Err: err}
	}
	parentEpochInfo, err := m.Store.GetEpochInfo(parent.EpochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: parent.EpochId}
	}
	cfg := m.epochConfigFor(parentEpochInfo.ProtocolVersion)

	newEpoch := isEpochStart(parent, epochStartHeight, cfg)
	if newEpoch {
		// parent is the last block of the epoch ending here. Its
		// NextEpochId, fixed when parent's own epoch began, is exactly the
		// id this new epoch was already assigned two epochs ago.
		info.EpochId = parent.NextEpochId
		info.EpochFirstBlock = info.SelfHash
		// parent's own hash is exactly the EpochId invariant 2 assigns two
		// epochs from now, so the new epoch starts counting from it.
		info.NextEpochId = parent.SelfHash
	} else {
		info.EpochId = parent.EpochId
		info.EpochFirstBlock = parent.EpochFirstBlock
		info.NextEpochId = parent.NextEpochId
	}

	info.Slashed = propagateSlash(info.Slashed, parent, info.EpochId, newEpoch, m.Store)

	if newEpoch {
		update.SetEpochStart(info.EpochId, info.Height)
	}

	update.SetBlockInfo(info)

	if info.LastFinalizedHeight > m.largestFinalHeight {
		m.largestFinalHeight = info.LastFinalizedHeight
		if err := m.UpdateEpochInfoAggregatorUpToFinal(info.LastFinalizedBlockHash, update); err != nil {
			return nil, err
		}
	}

	childEpochStart := epochStartHeight
	if newEpoch {
		childEpochStart = info.Height
	}
	if isEpochStart(info, childEpochStart, cfg) {
		if err := m.finalizeEpoch(info.SelfHash, rngSeed, update); err != nil {
			return nil, err
		}
	}

	return update, nil
}

// propagateSlash merges parent's slash state onto current, current being
// whatever the caller already staged on info.Slashed (e.g. a DoubleSign
// freshly reported by this very block).
//
// Mid-epoch, parent's entries are inserted for accounts with no fresh
// entry; for an account that has one, the fresh entry is kept unless
// parent's state is Other, which upgrades it to Other. At an epoch
// boundary, a fresh entry is kept as it is and, for the other accounts, a
// DoubleSign/Other slash unconditionally becomes AlreadySlashed; an
// AlreadySlashed entry is carried forward only while the new epoch still
// has a pledge change recorded for the account, and dropped otherwise
// (invariant 5: it remains slashed until its pledge change vanishes).
func propagateSlash(current map[inter.AccountId]inter.SlashState, parent *iblockproc.BlockInfo, newEpochId inter.EpochId, newEpoch bool, backing store.Store) map[inter.AccountId]inter.SlashState {
	out := make(map[inter.AccountId]inter.SlashState, len(current)+len(parent.Slashed))
	for acct, state := range current {
		out[acct] = state
	}

	if !newEpoch {
		for acct, state := range parent.Slashed {
			if _, fresh := out[acct]; fresh {
				if state == inter.SlashOther {
					out[acct] = inter.SlashOther
				}
				continue
			}
			out[acct] = state
		}
		return out
	}

	newEpochInfo, err := backing.GetEpochInfo(newEpochId)
	for acct, state := range parent.Slashed {
		if _, fresh := out[acct]; fresh {
			continue
		}
		switch state {
		case inter.SlashDoubleSign, inter.SlashOther:
			out[acct] = inter.SlashAlreadySlashed
		default:
			if err == nil {
				if _, hasPledgeChange := newEpochInfo.PledgeChange[acct]; hasPledgeChange {
					out[acct] = state
				}
			}
		}
	}
	return out
}
