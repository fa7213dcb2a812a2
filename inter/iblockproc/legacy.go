// This file (legacy.go) models BlockInfo as a tagged sum of versions, the
// way an EpochStateV0/EpochState pair models a protocol upgrade: V1 predates
// VRF-weighted miner selection; V2 adds RandomValue.
// A BlockInfo's Version field says which shape it was written under, and
// Hash() branches accordingly so V1 records keep hashing the same way
// after RandomValue was added to the struct.
package iblockproc

import (
	"crypto/sha256"
	"math/big"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/rony4d/opera-epochmgr/inter"
)

const (
	// BlockInfoV1 is the pre-VRF block info shape: RandomValue is not part
	// of the hashed content.
	BlockInfoV1 uint8 = 1
	// BlockInfoV2 is the current shape, the default for new blocks.
	BlockInfoV2 uint8 = 2
)

// blockInfoV1RLP is the RLP projection used to hash a V1 BlockInfo, kept
// byte-for-byte compatible with records written before RandomValue existed.
type blockInfoV1RLP struct {
	SelfHash               inter.BlockHash
	Height                 idx.Block
	PrevHash               inter.BlockHash
	LastFinalizedHeight    idx.Block
	LastFinalizedBlockHash inter.BlockHash
	EpochId                inter.EpochId
	EpochFirstBlock        inter.BlockHash
	ChunkMaskBytes         []byte
	TotalSupply            *big.Int
	LatestProtocolVersion  uint32
	TimestampNanosec       uint64
}

// hashV1 computes the legacy (pre-VRF) hash of b, ignoring RandomValue.
func (b *BlockInfo) hashV1() hash.Hash {
	supply := b.TotalSupply
	if supply == nil {
		supply = new(big.Int)
	}
	v1 := &blockInfoV1RLP{
		SelfHash:               b.SelfHash,
		Height:                 b.Height,
		PrevHash:               b.PrevHash,
		LastFinalizedHeight:    b.LastFinalizedHeight,
		LastFinalizedBlockHash: b.LastFinalizedBlockHash,
		EpochId:                b.EpochId,
		EpochFirstBlock:        b.EpochFirstBlock,
		ChunkMaskBytes:         b.ChunkMask.Bytes,
		TotalSupply:            supply,
		LatestProtocolVersion:  b.LatestProtocolVersion,
		TimestampNanosec:       uint64(b.TimestampNanosec),
	}
	hasher := sha256.New()
	if err := rlp.Encode(hasher, v1); err != nil {
		panic("can't hash v1 block info: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}
