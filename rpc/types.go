package rpc

import (
	"math/big"

	"charityledger/core"
	"charityledger/core/types"
	"charityledger/crypto"
	"charityledger/native/charity"
)

// Amounts are rendered as decimal strings so that clients never lose precision.

type CharityResult struct {
	ID            uint64 `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Payout        string `json:"payout"`
	TotalReceived string `json:"totalReceived"`
	TotalSpent    string `json:"totalSpent"`
	Available     string `json:"available"`
	Active        bool   `json:"active"`
	RegisteredAt  int64  `json:"registeredAt"`
}

type DonationResult struct {
	CharityID uint64 `json:"charityId"`
	Index     uint64 `json:"index"`
	Donor     string `json:"donor"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

type ExpenseResult struct {
	CharityID   uint64 `json:"charityId"`
	Index       uint64 `json:"index"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Timestamp   int64  `json:"timestamp"`
	Verified    bool   `json:"verified"`
}

type StatsResult struct {
	TotalDonations string `json:"totalDonations"`
	TotalDisbursed string `json:"totalDisbursed"`
	Escrowed       string `json:"escrowed"`
	CharityCount   uint64 `json:"charityCount"`
}

type AccountResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type ReceiptResult struct {
	Hash      string         `json:"hash"`
	Type      string         `json:"type"`
	From      string         `json:"from"`
	CharityID uint64         `json:"charityId"`
	Index     *uint64        `json:"index,omitempty"`
	PayoutRef string         `json:"payoutRef,omitempty"`
	Events    []*types.Event `json:"events"`
}

type OwnerResult struct {
	Owner   string `json:"owner"`
	Vault   string `json:"vault"`
	ChainID uint64 `json:"chainId"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(addr [20]byte) string {
	return crypto.AddressFromArray(addr).String()
}

func charityResult(c *charity.Charity) CharityResult {
	return CharityResult{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		Payout:        addressString(c.Payout),
		TotalReceived: amountString(c.TotalReceived),
		TotalSpent:    amountString(c.TotalSpent),
		Available:     amountString(c.Available()),
		Active:        c.Active,
		RegisteredAt:  c.RegisteredAt,
	}
}

func donationResult(index uint64, d *charity.Donation) DonationResult {
	return DonationResult{
		CharityID: d.CharityID,
		Index:     index,
		Donor:     addressString(d.Donor),
		Amount:    amountString(d.Amount),
		Timestamp: d.Timestamp,
		Message:   d.Message,
	}
}

func expenseResult(index uint64, e *charity.Expense) ExpenseResult {
	return ExpenseResult{
		CharityID:   e.CharityID,
		Index:       index,
		Amount:      amountString(e.Amount),
		Description: e.Description,
		Category:    e.Category,
		Timestamp:   e.Timestamp,
		Verified:    e.Verified,
	}
}

func statsResult(s *charity.PlatformStats) StatsResult {
	return StatsResult{
		TotalDonations: amountString(s.TotalDonations),
		TotalDisbursed: amountString(s.TotalDisbursed),
		Escrowed:       amountString(s.Escrowed()),
		CharityCount:   s.CharityCount,
	}
}

func accountResult(addr [20]byte, a *types.Account) AccountResult {
	return AccountResult{Address: addressString(addr), Balance: amountString(a.Balance), Nonce: a.Nonce}
}

func receiptResult(r *core.Receipt) ReceiptResult {
	events := r.Events
	if events == nil {
		events = []*types.Event{}
	}
	return ReceiptResult{
		Hash:      r.HashHex(),
		Type:      r.Type.String(),
		From:      addressString(r.From),
		CharityID: r.CharityID,
		Index:     r.Index,
		PayoutRef: r.PayoutRef,
		Events:    events,
	}
}
