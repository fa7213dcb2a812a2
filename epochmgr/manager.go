// Package epochmgr implements the epoch manager: block ingestion, the
// incremental per-epoch production aggregator, epoch finalization (kickouts,
// rewards, the next validator set), and the read-only lookups consensus and
// RPC code need (block/chunk producer, VRF miner choice, pledge/power
// return, validator-info views).
package epochmgr

import (
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/opera"
	"github.com/rony4d/opera-epochmgr/store"
)

// AggregatorSavePeriod is the number of finalized heights between
// unconditional aggregator persistence.
const AggregatorSavePeriod = 1000

// Manager holds everything the epoch manager's algorithms need: the
// backing store, the versioned epoch configuration table, the two
// collaborator contracts (reward calculation and proposals-to-epoch-info),
// and a logger. It carries no mutex itself — callers serialize access
// through Handle.
type Manager struct {
	Store  store.Store
	Config opera.AllEpochConfig
	Reward RewardCalculator
	Select ProposalsToEpochInfo
	Log    logrus.FieldLogger

	// largestFinalHeight is the highest LastFinalizedHeight seen by
	// RecordBlockInfo so far, gating when the aggregator advances.
	largestFinalHeight idx.Block
}

// NewManager builds a Manager with the given collaborators. Reward and
// selectEpoch may be nil, in which case the default reference
// implementations (DefaultRewardCalculator and
// DefaultProposalsToEpochInfo, see reward.go / proposals_to_epoch.go)
// are used. log may be nil, in which case logrus.StandardLogger() is used.
func NewManager(backing store.Store, cfg opera.AllEpochConfig, reward RewardCalculator, selectEpoch ProposalsToEpochInfo, log logrus.FieldLogger) *Manager {
	if reward == nil {
		reward = DefaultRewardCalculator{}
	}
	if selectEpoch == nil {
		selectEpoch = DefaultProposalsToEpochInfo{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		Store:  backing,
		Config: cfg,
		Reward: reward,
		Select: selectEpoch,
		Log:    log,
	}
}

// epochConfigFor resolves the configuration in effect for protocolVersion,
// a thin wrapper so callers never touch Config directly.
func (m *Manager) epochConfigFor(protocolVersion uint32) opera.EpochConfig {
	return m.Config.ForProtocolVersion(protocolVersion)
}

// InitAfterEpochSync is unreachable until a caller wires epoch sync; it is
// not implemented here.
func (m *Manager) InitAfterEpochSync(inter.EpochId) error {
	return &ErrNotImplemented{Op: "InitAfterEpochSync"}
}

// CopyEpochInfoAsOfBlock copies the epoch state a mock node needs to carry on
// from blockHash, reading from source and staging the writes into an update
// on m's own store. It does not touch the aggregator: blockHash must be the
// last block of its epoch for m to work correctly afterward.
//
// Only used by tests that fork a chain from a known block.
func (m *Manager) CopyEpochInfoAsOfBlock(blockHash inter.BlockHash, source *Manager) (*store.StoreUpdate, error) {
	block, err := source.Store.GetBlockInfo(blockHash)
	if err != nil {
		return nil, &ErrMissingBlock{Hash: blockHash}
	}

	update := m.Store.NewUpdate()

	epochInfo, err := source.Store.GetEpochInfo(block.EpochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: block.EpochId}
	}
	update.SetEpochInfo(block.EpochId, epochInfo)

	nextEpochInfo, err := source.Store.GetEpochInfo(block.NextEpochId)
	if err != nil {
		return nil, &ErrEpochOutOfBounds{EpochId: block.NextEpochId}
	}
	update.SetEpochInfo(block.NextEpochId, nextEpochInfo)

	epochStartHeight, err := source.Store.GetEpochStart(block.EpochId)
	if err != nil {
		return nil, &ErrIO{Op: "get epoch start", Err: err}
	}
	cfg := source.epochConfigFor(epochInfo.ProtocolVersion)
	if isEpochStart(block, epochStartHeight, cfg) {
		nextNextEpochId := inter.EpochIdOfBlock(block.SelfHash)
		nextNextEpochInfo, err := source.Store.GetEpochInfo(nextNextEpochId)
		if err != nil {
			return nil, &ErrEpochOutOfBounds{EpochId: nextNextEpochId}
		}
		update.SetEpochInfo(nextNextEpochId, nextNextEpochInfo)
	}

	firstBlock, err := source.Store.GetBlockInfo(block.EpochFirstBlock)
	if err != nil {
		return nil, &ErrMissingBlock{Hash: block.EpochFirstBlock}
	}
	update.SetBlockInfo(firstBlock)
	update.SetBlockInfo(block)
	update.SetEpochStart(block.EpochId, epochStartHeight)

	return update, nil
}
