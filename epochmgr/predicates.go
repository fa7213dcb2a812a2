package epochmgr

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/opera"
)

// isEpochStart reports whether the block right after parent starts a new
// epoch: parent is the last height its epoch's length allows, counting
// from epochStartHeight (the height at which parent's epoch itself began).
func isEpochStart(parent *iblockproc.BlockInfo, epochStartHeight idx.Block, cfg opera.EpochConfig) bool {
	return parent.Height-epochStartHeight+1 >= cfg.EpochLength
}

// nextBlockNeedApprovalsFromNextEpoch reports whether the block right after
// parent must gather approvals from both the current and the next epoch's
// settlement — true only at the handover point where both validator sets
// are simultaneously live.
func nextBlockNeedApprovalsFromNextEpoch(parent *iblockproc.BlockInfo, epochStartHeight idx.Block, cfg opera.EpochConfig) bool {
	return isEpochStart(parent, epochStartHeight, cfg)
}
