package state

import (
	"fmt"
	"math/big"

	"charityledger/native/charity"
)

type storedCharity struct {
	ID            uint64
	Name          string
	Description   string
	Payout        [20]byte
	TotalReceived *big.Int
	TotalSpent    *big.Int
	Active        bool
	RegisteredAt  *big.Int
}

func newStoredCharity(c *charity.Charity) *storedCharity {
	return &storedCharity{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		Payout:        c.Payout,
		TotalReceived: nonNil(c.TotalReceived),
		TotalSpent:    nonNil(c.TotalSpent),
		Active:        c.Active,
		RegisteredAt:  big.NewInt(c.RegisteredAt),
	}
}

func (s *storedCharity) toCharity() *charity.Charity {
	return &charity.Charity{
		ID:            s.ID,
		Name:          s.Name,
		Description:   s.Description,
		Payout:        s.Payout,
		TotalReceived: nonNil(s.TotalReceived),
		TotalSpent:    nonNil(s.TotalSpent),
		Active:        s.Active,
		RegisteredAt:  bigToInt64(s.RegisteredAt),
	}
}

type storedDonation struct {
	CharityID uint64
	Donor     [20]byte
	Amount    *big.Int
	Timestamp *big.Int
	Message   string
}

type storedExpense struct {
	CharityID   uint64
	Amount      *big.Int
	Description string
	Category    string
	Timestamp   *big.Int
	Verified    bool
}

func newStoredExpense(e *charity.Expense) *storedExpense {
	return &storedExpense{
		CharityID:   e.CharityID,
		Amount:      nonNil(e.Amount),
		Description: e.Description,
		Category:    e.Category,
		Timestamp:   big.NewInt(e.Timestamp),
		Verified:    e.Verified,
	}
}

type storedStats struct {
	TotalDonations *big.Int
	TotalDisbursed *big.Int
	CharityCount   uint64
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func bigToInt64(v *big.Int) int64 {
	if v == nil {
		return 0
	}
	return v.Int64()
}

// CharityOwner returns the ledger owner recorded at genesis.
func (m *Manager) CharityOwner() ([20]byte, bool, error) {
	var owner [20]byte
	ok, err := m.KVGet(CharityOwnerKey(), &owner)
	if err != nil {
		return [20]byte{}, false, err
	}
	return owner, ok, nil
}

// CharityOwnerPut records the ledger owner.
func (m *Manager) CharityOwnerPut(owner [20]byte) error {
	return m.KVPut(CharityOwnerKey(), owner)
}

// CharityGet loads a charity record.
func (m *Manager) CharityGet(id uint64) (*charity.Charity, bool, error) {
	stored := new(storedCharity)
	ok, err := m.KVGet(CharityKey(id), stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toCharity(), true, nil
}

// CharityPut writes a charity record.
func (m *Manager) CharityPut(c *charity.Charity) error {
	if c == nil {
		return fmt.Errorf("charity: nil record")
	}
	return m.KVPut(CharityKey(c.ID), newStoredCharity(c))
}

// CharityStats loads the platform counters. Missing counters read as zero.
func (m *Manager) CharityStats() (*charity.PlatformStats, error) {
	stored := new(storedStats)
	ok, err := m.KVGet(CharityStatsKey(), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return charity.NewPlatformStats(), nil
	}
	return &charity.PlatformStats{
		TotalDonations: nonNil(stored.TotalDonations),
		TotalDisbursed: nonNil(stored.TotalDisbursed),
		CharityCount:   stored.CharityCount,
	}, nil
}

// CharityStatsPut writes the platform counters.
func (m *Manager) CharityStatsPut(stats *charity.PlatformStats) error {
	if stats == nil {
		stats = charity.NewPlatformStats()
	}
	return m.KVPut(CharityStatsKey(), &storedStats{
		TotalDonations: nonNil(stats.TotalDonations),
		TotalDisbursed: nonNil(stats.TotalDisbursed),
		CharityCount:   stats.CharityCount,
	})
}

// CharityDonationCount returns the length of a charity's donation sequence.
func (m *Manager) CharityDonationCount(id uint64) (uint64, error) {
	return m.getUint64(CharityDonationCountKey(id))
}

// CharityDonationAppend stores d at the next index of its charity's sequence
// and returns that index.
func (m *Manager) CharityDonationAppend(d *charity.Donation) (uint64, error) {
	if d == nil {
		return 0, fmt.Errorf("charity: nil donation")
	}
	index, err := m.CharityDonationCount(d.CharityID)
	if err != nil {
		return 0, err
	}
	record := &storedDonation{
		CharityID: d.CharityID,
		Donor:     d.Donor,
		Amount:    nonNil(d.Amount),
		Timestamp: big.NewInt(d.Timestamp),
		Message:   d.Message,
	}
	if err := m.KVPut(CharityDonationKey(d.CharityID, index), record); err != nil {
		return 0, err
	}
	if err := m.KVPut(CharityDonationCountKey(d.CharityID), index+1); err != nil {
		return 0, err
	}
	return index, nil
}

// CharityDonationGet loads the donation at index.
func (m *Manager) CharityDonationGet(id uint64, index uint64) (*charity.Donation, bool, error) {
	stored := new(storedDonation)
	ok, err := m.KVGet(CharityDonationKey(id, index), stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &charity.Donation{
		CharityID: stored.CharityID,
		Donor:     stored.Donor,
		Amount:    nonNil(stored.Amount),
		Timestamp: bigToInt64(stored.Timestamp),
		Message:   stored.Message,
	}, true, nil
}

// CharityExpenseCount returns the length of a charity's expense sequence.
func (m *Manager) CharityExpenseCount(id uint64) (uint64, error) {
	return m.getUint64(CharityExpenseCountKey(id))
}

// CharityExpenseAppend stores e at the next index of its charity's sequence.
func (m *Manager) CharityExpenseAppend(e *charity.Expense) (uint64, error) {
	if e == nil {
		return 0, fmt.Errorf("charity: nil expense")
	}
	index, err := m.CharityExpenseCount(e.CharityID)
	if err != nil {
		return 0, err
	}
	if err := m.KVPut(CharityExpenseKey(e.CharityID, index), newStoredExpense(e)); err != nil {
		return 0, err
	}
	if err := m.KVPut(CharityExpenseCountKey(e.CharityID), index+1); err != nil {
		return 0, err
	}
	return index, nil
}

// CharityExpenseGet loads the expense at index.
func (m *Manager) CharityExpenseGet(id uint64, index uint64) (*charity.Expense, bool, error) {
	stored := new(storedExpense)
	ok, err := m.KVGet(CharityExpenseKey(id, index), stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &charity.Expense{
		CharityID:   stored.CharityID,
		Amount:      nonNil(stored.Amount),
		Description: stored.Description,
		Category:    stored.Category,
		Timestamp:   bigToInt64(stored.Timestamp),
		Verified:    stored.Verified,
	}, true, nil
}

// CharityExpensePut overwrites an existing expense. Only the verified flag is
// expected to change.
func (m *Manager) CharityExpensePut(id uint64, index uint64, e *charity.Expense) error {
	if e == nil {
		return fmt.Errorf("charity: nil expense")
	}
	count, err := m.CharityExpenseCount(id)
	if err != nil {
		return err
	}
	if index >= count {
		return fmt.Errorf("charity: expense %d of charity %d does not exist", index, id)
	}
	return m.KVPut(CharityExpenseKey(id, index), newStoredExpense(e))
}

// CharityDonorHistory returns the charity ids a donor gave to, oldest first.
func (m *Manager) CharityDonorHistory(donor [20]byte) ([]uint64, error) {
	var history []uint64
	if _, err := m.KVGet(CharityDonorKey(donor), &history); err != nil {
		return nil, err
	}
	if history == nil {
		history = []uint64{}
	}
	return history, nil
}

// CharityDonorHistoryAppend appends id to the donor's history. Repeated ids are
// kept.
func (m *Manager) CharityDonorHistoryAppend(donor [20]byte, id uint64) error {
	history, err := m.CharityDonorHistory(donor)
	if err != nil {
		return err
	}
	history = append(history, id)
	return m.KVPut(CharityDonorKey(donor), history)
}
