package core

import (
	"charityledger/core/state"
	"charityledger/core/types"
	"charityledger/native/charity"
)

// Queries read the committed database and never mutate it.

func (n *Node) reader() (*charity.Engine, *state.Manager) {
	manager := state.NewManager(n.db)
	return n.newEngine(manager, nil, nil), manager
}

// Owner returns the ledger owner fixed at genesis.
func (n *Node) Owner() ([20]byte, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	engine, _ := n.reader()
	return engine.Owner()
}

// Charity returns the charity registered under id.
func (n *Node) Charity(id uint64) (*charity.Charity, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	engine, _ := n.reader()
	return engine.Charity(id)
}

// DonationCount returns how many donations a charity has received.
func (n *Node) DonationCount(id uint64) (uint64, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	engine, _ := n.reader()
	return engine.DonationCount(id)
}

// ExpenseCount returns how many expenses a charity has recorded.
func (n *Node) ExpenseCount(id uint64) (uint64, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	engine, _ := n.reader()
	return engine.ExpenseCount(id)
}

// Donation returns a single donation.
func (n *Node) Donation(id, index uint64) (*charity.Donation, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	engine, _ := n.reader()
	return engine.Donation(id, index)
}

// Expense returns a single expense.
func (n *Node) Expense(id, index uint64) (*charity.Expense, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	engine, _ := n.reader()
	return engine.Expense(id, index)
}

// DonorHistory returns the charity ids a donor contributed to, oldest first.
func (n *Node) DonorHistory(donor [20]byte) ([]uint64, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	engine, _ := n.reader()
	return engine.DonorHistory(donor)
}

// PlatformStats returns the ledger-wide counters.
func (n *Node) PlatformStats() (*charity.PlatformStats, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	engine, _ := n.reader()
	return engine.PlatformStats()
}

// GetAccount returns the balance and nonce of addr.
func (n *Node) GetAccount(addr [20]byte) (*types.Account, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	_, manager := n.reader()
	return manager.GetAccount(addr)
}
