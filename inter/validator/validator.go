// Package validator defines the node-side representation of a single
// validator entry within an EpochInfo: its account, its two orthogonal
// weights (pledge and power), and its signing key. It is the bridge between
// the epoch manager's selection algorithms and the consensus driver.
package validator

import (
	"math/big"
	"sort"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/rony4d/opera-epochmgr/inter"
	"github.com/rony4d/opera-epochmgr/inter/validatorpk"
)

// Info is the per-validator record carried by an EpochInfo. Pledge is the
// bonded stake used for BFT thresholds and kickout accounting; Power is the
// orthogonal weight used only for VRF-weighted block-proposer selection.
type Info struct {
	Account inter.AccountId
	PubKey  validatorpk.PubKey
	Pledge  *big.Int
	Power   *big.Int
}

// Copy returns a deep copy, since Pledge/Power are pointers.
func (v Info) Copy() Info {
	cp := v
	cp.PubKey = v.PubKey.Copy()
	if v.Pledge != nil {
		cp.Pledge = new(big.Int).Set(v.Pledge)
	}
	if v.Power != nil {
		cp.Power = new(big.Int).Set(v.Power)
	}
	return cp
}

// AndIndex pairs a validator with its position within an ordered Set. The
// index is what block_tracker/shard_tracker key their counters by, per the
// aggregator's data model.
type AndIndex struct {
	Index idx.Validator
	Info  Info
}

// Set is the ordered, immutable validator list backing an EpochInfo. Order
// matters: settlements reference validators by their position here, and
// that position is also the index the aggregator's trackers use.
type Set struct {
	ordered []Info
	idxOf   map[inter.AccountId]idx.Validator
}

// NewSet builds a Set in the given order. The order is the caller's
// responsibility (ProposalsToEpochInfo implementations sort however their
// selection rule requires, typically by descending pledge).
func NewSet(ordered []Info) *Set {
	idxOf := make(map[inter.AccountId]idx.Validator, len(ordered))
	cp := make([]Info, len(ordered))
	for i, v := range ordered {
		cp[i] = v.Copy()
		idxOf[v.Account] = idx.Validator(i)
	}
	return &Set{ordered: cp, idxOf: idxOf}
}

// Len returns the number of validators in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ordered)
}

// Get returns the validator at position i.
func (s *Set) Get(i idx.Validator) Info {
	return s.ordered[i]
}

// All returns the full ordered slice; callers must not mutate it.
func (s *Set) All() []Info {
	if s == nil {
		return nil
	}
	return s.ordered
}

// GetIdx returns the position of account within the set, and whether it is
// present. This is the function block_tracker/shard_tracker use to turn a
// scheduled producer's account into a tracker key.
func (s *Set) GetIdx(account inter.AccountId) (idx.Validator, bool) {
	i, ok := s.idxOf[account]
	return i, ok
}

// TotalPledge sums the pledge of every validator in the set.
func (s *Set) TotalPledge() *big.Int {
	total := new(big.Int)
	for _, v := range s.ordered {
		total.Add(total, v.Pledge)
	}
	return total
}

// TotalPower sums the power of every validator in the set.
func (s *Set) TotalPower() *big.Int {
	total := new(big.Int)
	for _, v := range s.ordered {
		total.Add(total, v.Power)
	}
	return total
}

// SortByPledgeDesc returns a new slice of Info sorted by descending pledge,
// ties broken by account id for determinism. This is the shape most
// ProposalsToEpochInfo implementations (and MainNet-style seat assignment)
// build their settlements from.
func SortByPledgeDesc(infos []Info) []Info {
	cp := make([]Info, len(infos))
	copy(cp, infos)
	sort.Slice(cp, func(i, j int) bool {
		c := cp[i].Pledge.Cmp(cp[j].Pledge)
		if c != 0 {
			return c > 0
		}
		return lessAccount(cp[i].Account, cp[j].Account)
	})
	return cp
}

func lessAccount(a, b inter.AccountId) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
