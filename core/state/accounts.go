package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"charityledger/core/types"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the account balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrBalanceOverflow is returned when a credit would exceed 256 bits.
	ErrBalanceOverflow = errors.New("state: balance overflow")
	errNegativeAmount  = errors.New("state: amount must not be negative")
)

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount returns the account stored under addr. Unknown addresses read as
// an empty account.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.KVGet(AccountKey(addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	return &types.Account{Nonce: stored.Nonce, Balance: nonNil(stored.Balance)}, nil
}

// PutAccount writes the account under addr.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("account: nil record")
	}
	return m.KVPut(AccountKey(addr), &storedAccount{Nonce: account.Nonce, Balance: nonNil(account.Balance)})
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, errNegativeAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return out, nil
}

// Credit adds amount to the balance of addr.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	delta, err := toUint256(amount)
	if err != nil {
		return err
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	balance, err := toUint256(account.Balance)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(balance, delta)
	if overflow {
		return fmt.Errorf("%w: crediting %s", ErrBalanceOverflow, amount)
	}
	account.Balance = sum.ToBig()
	return m.PutAccount(addr, account)
}

// Debit subtracts amount from the balance of addr.
func (m *Manager) Debit(addr [20]byte, amount *big.Int) error {
	delta, err := toUint256(amount)
	if err != nil {
		return err
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	balance, err := toUint256(account.Balance)
	if err != nil {
		return err
	}
	if balance.Lt(delta) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, account.Balance, amount)
	}
	account.Balance = new(uint256.Int).Sub(balance, delta).ToBig()
	return m.PutAccount(addr, account)
}

// Transfer moves amount from one account to another.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if err := m.Debit(from, amount); err != nil {
		return err
	}
	return m.Credit(to, amount)
}

// IncrementNonce bumps the replay counter of addr.
func (m *Manager) IncrementNonce(addr [20]byte) error {
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Nonce++
	return m.PutAccount(addr, account)
}

// GenesisApplied reports whether genesis allocations were written.
func (m *Manager) GenesisApplied() (bool, error) {
	return m.KVGet(GenesisKey(), nil)
}

// MarkGenesisApplied records that genesis allocations were written.
func (m *Manager) MarkGenesisApplied() error {
	return m.KVPut(GenesisKey(), true)
}
