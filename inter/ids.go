// Package inter defines the core consensus data structures shared by the
// epoch manager: account, block, and epoch identifiers, validator records,
// and the block/epoch state snapshots in iblockproc.
package inter

import (
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/common"
)

// AccountId identifies a pledge/power holder. It reuses go-ethereum's
// 20-byte address type, consistent with the rest of this codebase's use of
// go-ethereum primitives for account-shaped identifiers.
type AccountId = common.Address

// EpochId is the 32-byte identity of an epoch. By construction the EpochId
// of epoch T+2 equals the hash of the last block of epoch T; the pre-genesis
// "epoch -1" has the all-zero EpochId.
type EpochId = hash.Hash

// BlockHash identifies a single block.
type BlockHash = hash.Hash

// ZeroEpochId is the EpochId bound to the pre-genesis epoch info.
var ZeroEpochId = EpochId{}

// ZeroBlockHash is the PrevHash of the genesis block.
var ZeroBlockHash = BlockHash{}

// EpochIdOfBlock derives the EpochId that starts two epochs after the epoch
// containing lastBlockOfEpoch, per invariant 2: EpochId(epoch_T.last_block)
// == EpochId of epoch T+2.
func EpochIdOfBlock(lastBlockOfEpoch BlockHash) EpochId {
	return EpochId(lastBlockOfEpoch)
}
