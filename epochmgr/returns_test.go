package epochmgr

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/iblockproc"
	"github.com/rony4d/opera-epochmgr/inter/validator"
	"github.com/rony4d/opera-epochmgr/opera"
	"github.com/rony4d/opera-epochmgr/store"
)

func TestComputePowerReturnInfo_MaxAcrossBrackets(t *testing.T) {
	mem := store.NewMemStore()
	curEpoch := inter.EpochId{0x10}
	nextEpoch := inter.EpochId{0x11}

	cur := &iblockproc.EpochInfo{
		EpochHeight:     1,
		ProtocolVersion: 1,
		Validators:      validator.NewSet(nil),
		PowerChange:     map[inter.AccountId]*big.Int{accountOf(1): big.NewInt(10)},
		PledgeChange:    map[inter.AccountId]*big.Int{accountOf(1): big.NewInt(10)},
	}
	next := &iblockproc.EpochInfo{
		EpochHeight:     2,
		ProtocolVersion: 1,
		Validators:      validator.NewSet(nil),
		PowerChange:     map[inter.AccountId]*big.Int{accountOf(1): big.NewInt(30)},
		PledgeChange:    map[inter.AccountId]*big.Int{accountOf(1): big.NewInt(30)},
	}
	// The epoch keyed by the last block's own hash carries the reward.
	twoAhead := &iblockproc.EpochInfo{
		EpochHeight:     3,
		ProtocolVersion: 1,
		Validators:      validator.NewSet(nil),
		PowerChange:     map[inter.AccountId]*big.Int{accountOf(1): big.NewInt(20)},
		PledgeChange:    map[inter.AccountId]*big.Int{accountOf(1): big.NewInt(20)},
		ValidatorReward: map[inter.AccountId]*big.Int{accountOf(1): big.NewInt(7)},
	}

	seed := mem.NewUpdate()
	seed.SetEpochInfo(curEpoch, cur)
	seed.SetEpochInfo(nextEpoch, next)
	seed.SetEpochInfo(inter.EpochIdOfBlock(inter.BlockHash{0x12}), twoAhead)
	require.NoError(t, mem.Commit(seed))

	block := &iblockproc.BlockInfo{
		SelfHash:    inter.BlockHash{0x12},
		EpochId:     curEpoch,
		NextEpochId: nextEpoch,
		Slashed:     map[inter.AccountId]inter.SlashState{},
	}
	seed2 := mem.NewUpdate()
	seed2.SetBlockInfo(block)
	require.NoError(t, mem.Commit(seed2))

	cfg := opera.AllEpochConfig{Versions: map[uint32]opera.EpochConfig{1: opera.FakeEpochConfig()}}
	mgr := NewManager(mem, cfg, nil, nil, nil)

	out, err := mgr.ComputePowerReturnInfo(block.SelfHash)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Power[accountOf(1)].Cmp(big.NewInt(30)))
	assert.Equal(t, 0, out.Pledge[accountOf(1)].Cmp(big.NewInt(30)))
	assert.Equal(t, 0, out.Reward[accountOf(1)].Cmp(big.NewInt(7)))
}

func TestComputeDoubleSignSlashing_BelowThirdIsProRated(t *testing.T) {
	set := validator.NewSet([]validator.Info{
		{Account: accountOf(1), PubKey: fakePubKey(1), Pledge: big.NewInt(100), Power: big.NewInt(100)},
		{Account: accountOf(2), PubKey: fakePubKey(2), Pledge: big.NewInt(900), Power: big.NewInt(900)},
	})
	epochInfo := &iblockproc.EpochInfo{EpochHeight: 1, ProtocolVersion: 1, Validators: set}
	slashed := map[inter.AccountId]inter.SlashState{accountOf(1): inter.SlashDoubleSign}

	out := computeDoubleSignSlashing(epochInfo, slashed)

	// doubleSignPledge = 100, totalPledge = 1000, 3*100 < 1000 so pro-rated:
	// 3*100*100/1000 = 30, well short of the full 100 pledge.
	assert.Equal(t, 0, out[accountOf(1)].Cmp(big.NewInt(30)))
}

func TestComputeDoubleSignSlashing_AboveThirdIsFull(t *testing.T) {
	set := validator.NewSet([]validator.Info{
		{Account: accountOf(1), PubKey: fakePubKey(1), Pledge: big.NewInt(400), Power: big.NewInt(400)},
		{Account: accountOf(2), PubKey: fakePubKey(2), Pledge: big.NewInt(600), Power: big.NewInt(600)},
	})
	epochInfo := &iblockproc.EpochInfo{EpochHeight: 1, ProtocolVersion: 1, Validators: set}
	slashed := map[inter.AccountId]inter.SlashState{accountOf(1): inter.SlashDoubleSign}

	out := computeDoubleSignSlashing(epochInfo, slashed)

	// doubleSignPledge = 400, totalPledge = 1000, 3*400 >= 1000: full slash.
	assert.Equal(t, 0, out[accountOf(1)].Cmp(big.NewInt(400)))
}
