package charity

import "math/big"

// Charity is a registered organisation that can receive donations and spend
// them through its payout address.
type Charity struct {
	ID            uint64   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Payout        [20]byte `json:"payout"`
	TotalReceived *big.Int `json:"totalReceived"`
	TotalSpent    *big.Int `json:"totalSpent"`
	Active        bool     `json:"active"`
	RegisteredAt  int64    `json:"registeredAt"`
}

// Clone returns a deep copy of the charity.
func (c *Charity) Clone() *Charity {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TotalReceived = newBigInt(c.TotalReceived)
	clone.TotalSpent = newBigInt(c.TotalSpent)
	return &clone
}

// Available returns the escrowed balance the charity may still disburse.
func (c *Charity) Available() *big.Int {
	if c == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(newBigInt(c.TotalReceived), newBigInt(c.TotalSpent))
}

// Donation records value contributed by a donor. Donations are immutable.
type Donation struct {
	CharityID uint64   `json:"charityId"`
	Donor     [20]byte `json:"donor"`
	Amount    *big.Int `json:"amount"`
	Timestamp int64    `json:"timestamp"`
	Message   string   `json:"message"`
}

// Clone returns a deep copy of the donation.
func (d *Donation) Clone() *Donation {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Amount = newBigInt(d.Amount)
	return &clone
}

// Expense records value disbursed by a charity. Only Verified ever changes.
type Expense struct {
	CharityID   uint64   `json:"charityId"`
	Amount      *big.Int `json:"amount"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Timestamp   int64    `json:"timestamp"`
	Verified    bool     `json:"verified"`
}

// Clone returns a deep copy of the expense.
func (e *Expense) Clone() *Expense {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = newBigInt(e.Amount)
	return &clone
}

// PlatformStats aggregates the ledger-wide counters.
type PlatformStats struct {
	TotalDonations *big.Int `json:"totalDonations"`
	TotalDisbursed *big.Int `json:"totalDisbursed"`
	CharityCount   uint64   `json:"charityCount"`
}

// NewPlatformStats returns zeroed counters.
func NewPlatformStats() *PlatformStats {
	return &PlatformStats{TotalDonations: big.NewInt(0), TotalDisbursed: big.NewInt(0)}
}

// Clone returns a deep copy of the stats.
func (s *PlatformStats) Clone() *PlatformStats {
	if s == nil {
		return NewPlatformStats()
	}
	return &PlatformStats{
		TotalDonations: newBigInt(s.TotalDonations),
		TotalDisbursed: newBigInt(s.TotalDisbursed),
		CharityCount:   s.CharityCount,
	}
}

// Escrowed is the value held by the ledger on behalf of all charities.
func (s *PlatformStats) Escrowed() *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(newBigInt(s.TotalDonations), newBigInt(s.TotalDisbursed))
}

func newBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
