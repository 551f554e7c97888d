package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"charityledger/core/payout"
	"charityledger/core/state"
	"charityledger/crypto"
	"charityledger/native/charity"
	"charityledger/observability"
)

// custodyVault holds donated value in a dedicated ledger account. Deposits and
// releases are plain account transfers inside the transaction's staged state;
// a configured external wallet must also accept every release.
type custodyVault struct {
	ctx      context.Context
	accounts *state.Manager
	address  [20]byte
	wallet   payout.Wallet
	metrics  *observability.CharityMetrics

	// payoutRef is what the wallet reported for the last accepted release.
	payoutRef string
}

func (v *custodyVault) Deposit(from [20]byte, amount *big.Int) error {
	if err := v.accounts.Transfer(from, v.address, amount); err != nil {
		if errors.Is(err, state.ErrInsufficientBalance) {
			return fmt.Errorf("%w: donor balance: %v", charity.ErrInsufficientFunds, err)
		}
		if errors.Is(err, state.ErrBalanceOverflow) {
			return fmt.Errorf("%w: donation exceeds any balance: %v", charity.ErrInsufficientFunds, err)
		}
		return err
	}
	return nil
}

func (v *custodyVault) Release(to [20]byte, amount *big.Int) error {
	if err := v.accounts.Transfer(v.address, to, amount); err != nil {
		return fmt.Errorf("custody transfer: %w", err)
	}
	if v.wallet == nil {
		return nil
	}
	ctx := v.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ref, err := v.wallet.Transfer(ctx, crypto.AddressFromArray(to).String(), amount)
	v.metrics.RecordPayout(err)
	if err != nil {
		return fmt.Errorf("payout wallet: %w", err)
	}
	v.payoutRef = ref
	return nil
}
