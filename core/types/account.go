package types

import "math/big"

// Account tracks the spendable balance and replay nonce of a ledger address.
// Charity payout addresses, donors, the owner and the custody vault are all
// plain accounts.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// NewAccount returns an empty account with a zero balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance.Set(a.Balance)
	}
	return clone
}
