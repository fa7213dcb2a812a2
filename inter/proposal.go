package inter

import "math/big"

// Proposal is a validator's requested pledge or power level for the next
// epoch, as voted by including it in block headers. The aggregator keeps a
// map[AccountId]Proposal while ingesting a full epoch; the last writer for
// a given account wins and the final set is handed to
// callers as a slice with unspecified order.
type Proposal struct {
	Account AccountId
	Amount  *big.Int
}

// ProposalSet deduplicates proposals by account, keeping only the latest.
// Zero value is ready to use.
type ProposalSet struct {
	byAccount map[AccountId]*big.Int
}

// Insert records account's latest proposed amount, overwriting any prior
// value for the same account.
func (p *ProposalSet) Insert(account AccountId, amount *big.Int) {
	if p.byAccount == nil {
		p.byAccount = make(map[AccountId]*big.Int)
	}
	p.byAccount[account] = new(big.Int).Set(amount)
}

// Get returns the latest proposed amount for account, or nil if none.
func (p *ProposalSet) Get(account AccountId) (*big.Int, bool) {
	if p.byAccount == nil {
		return nil, false
	}
	v, ok := p.byAccount[account]
	return v, ok
}

// Len reports how many distinct accounts have proposals.
func (p *ProposalSet) Len() int {
	return len(p.byAccount)
}

// Proposals returns every (account, amount) pair. Order is unspecified;
// callers must not depend on it.
func (p *ProposalSet) Proposals() []Proposal {
	out := make([]Proposal, 0, len(p.byAccount))
	for acct, amt := range p.byAccount {
		out = append(out, Proposal{Account: acct, Amount: new(big.Int).Set(amt)})
	}
	return out
}

// Merge folds other's proposals into p, other's values winning on conflict
// (used when merging an aggregator tail onto a stored prefix, where the
// tail is more recent).
func (p *ProposalSet) Merge(other *ProposalSet) {
	if other == nil {
		return
	}
	for acct, amt := range other.byAccount {
		p.Insert(acct, amt)
	}
}

// Copy returns a deep copy of the set.
func (p *ProposalSet) Copy() *ProposalSet {
	cp := &ProposalSet{byAccount: make(map[AccountId]*big.Int, len(p.byAccount))}
	for acct, amt := range p.byAccount {
		cp.byAccount[acct] = new(big.Int).Set(amt)
	}
	return cp
}
