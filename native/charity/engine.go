package charity

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"charityledger/core/events"
	"charityledger/core/types"
)

type engineState interface {
	CharityOwner() ([20]byte, bool, error)
	CharityOwnerPut(owner [20]byte) error
	CharityGet(id uint64) (*Charity, bool, error)
	CharityPut(charity *Charity) error
	CharityStats() (*PlatformStats, error)
	CharityStatsPut(stats *PlatformStats) error
	CharityDonationCount(id uint64) (uint64, error)
	CharityDonationAppend(donation *Donation) (uint64, error)
	CharityDonationGet(id uint64, index uint64) (*Donation, bool, error)
	CharityExpenseCount(id uint64) (uint64, error)
	CharityExpenseAppend(expense *Expense) (uint64, error)
	CharityExpenseGet(id uint64, index uint64) (*Expense, bool, error)
	CharityExpensePut(id uint64, index uint64, expense *Expense) error
	CharityDonorHistory(donor [20]byte) ([]uint64, error)
	CharityDonorHistoryAppend(donor [20]byte, id uint64) error
}

// Vault moves value in and out of ledger custody. Deposit takes a donation
// from the donor; Release pays a disbursement out to a payout address and must
// report failure synchronously so the transition can be abandoned.
type Vault interface {
	Deposit(from [20]byte, amount *big.Int) error
	Release(to [20]byte, amount *big.Int) error
}

// Engine implements the charity ledger transitions on top of a state backend.
// It is not safe for concurrent use; callers serialise transitions and provide
// a state backend that can be discarded when a transition fails.
type Engine struct {
	state   engineState
	vault   Vault
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine constructs an engine with a no-op emitter and wall-clock time.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault configures the value-transfer facility.
func (e *Engine) SetVault(vault Vault) { e.vault = vault }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}

// Initialize records the ledger owner. It is idempotent for the same owner and
// refuses to replace an existing owner.
func (e *Engine) Initialize(owner [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if isZeroAddress(owner) {
		return fmt.Errorf("%w: owner address must not be zero", ErrInvalidArgument)
	}
	current, ok, err := e.state.CharityOwner()
	if err != nil {
		return err
	}
	if ok {
		if current != owner {
			return errOwnerChanged
		}
		return nil
	}
	if err := e.state.CharityOwnerPut(owner); err != nil {
		return err
	}
	return e.state.CharityStatsPut(NewPlatformStats())
}

// Owner returns the privileged ledger owner.
func (e *Engine) Owner() ([20]byte, error) {
	if err := e.ready(); err != nil {
		return [20]byte{}, err
	}
	owner, ok, err := e.state.CharityOwner()
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, errOwnerNotSet
	}
	return owner, nil
}

func (e *Engine) requireOwner(caller [20]byte) error {
	owner, err := e.Owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: caller is not the owner", ErrUnauthorized)
	}
	return nil
}

func (e *Engine) loadCharity(id uint64) (*Charity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	charity, ok, err := e.state.CharityGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || charity == nil {
		return nil, fmt.Errorf("%w: charity %d", ErrNotFound, id)
	}
	return charity, nil
}

func (e *Engine) loadActiveCharity(id uint64) (*Charity, error) {
	charity, err := e.loadCharity(id)
	if err != nil {
		return nil, err
	}
	if !charity.Active {
		return nil, fmt.Errorf("%w: charity %d is deactivated", ErrInactive, id)
	}
	return charity, nil
}

// RegisterCharity allocates the next sequential charity id.
func (e *Engine) RegisterCharity(caller [20]byte, name string, description string, payout [20]byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := e.requireOwner(caller); err != nil {
		return 0, err
	}
	if isZeroAddress(payout) {
		return 0, fmt.Errorf("%w: payout address must not be zero", ErrInvalidArgument)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: name must not be empty", ErrInvalidArgument)
	}
	stats, err := e.state.CharityStats()
	if err != nil {
		return 0, err
	}
	stats = stats.Clone()
	charity := &Charity{
		ID:            stats.CharityCount,
		Name:          name,
		Description:   strings.TrimSpace(description),
		Payout:        payout,
		TotalReceived: big.NewInt(0),
		TotalSpent:    big.NewInt(0),
		Active:        true,
		RegisteredAt:  e.now(),
	}
	stats.CharityCount++
	if err := e.state.CharityPut(charity); err != nil {
		return 0, err
	}
	if err := e.state.CharityStatsPut(stats); err != nil {
		return 0, err
	}
	e.emit(CharityRegisteredEvent(charity.ID, charity.Name, charity.Payout))
	return charity.ID, nil
}

// MakeDonation records a donation and takes the value into ledger custody.
func (e *Engine) MakeDonation(donor [20]byte, charityID uint64, value *big.Int, message string) (*Donation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.vault == nil {
		return nil, errNilVault
	}
	charity, err := e.loadActiveCharity(charityID)
	if err != nil {
		return nil, err
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: donation must be positive", ErrInvalidArgument)
	}
	stats, err := e.state.CharityStats()
	if err != nil {
		return nil, err
	}
	amount := newBigInt(value)
	donation := &Donation{
		CharityID: charityID,
		Donor:     donor,
		Amount:    amount,
		Timestamp: e.now(),
		Message:   message,
	}
	updated := charity.Clone()
	updated.TotalReceived = new(big.Int).Add(updated.TotalReceived, amount)
	stats = stats.Clone()
	stats.TotalDonations = new(big.Int).Add(stats.TotalDonations, amount)

	if err := e.vault.Deposit(donor, amount); err != nil {
		return nil, transferError("deposit", err)
	}
	if _, err := e.state.CharityDonationAppend(donation); err != nil {
		return nil, err
	}
	if err := e.state.CharityPut(updated); err != nil {
		return nil, err
	}
	if err := e.state.CharityDonorHistoryAppend(donor, charityID); err != nil {
		return nil, err
	}
	if err := e.state.CharityStatsPut(stats); err != nil {
		return nil, err
	}
	e.emit(DonationMadeEvent(charityID, donor, amount.String(), message))
	return donation.Clone(), nil
}

// DistributeFunds spends escrowed funds on behalf of a charity. Only the
// charity's payout address may call it. Nothing is written unless the vault
// release succeeds.
func (e *Engine) DistributeFunds(caller [20]byte, charityID uint64, amount *big.Int, description string, category string) (*Expense, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.vault == nil {
		return nil, errNilVault
	}
	charity, err := e.loadActiveCharity(charityID)
	if err != nil {
		return nil, err
	}
	if caller != charity.Payout {
		return nil, fmt.Errorf("%w: caller is not the payout address of charity %d", ErrUnauthorized, charityID)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("%w: description must not be empty", ErrInvalidArgument)
	}
	amt := newBigInt(amount)
	spent := new(big.Int).Add(charity.TotalSpent, amt)
	if charity.TotalReceived.Cmp(spent) < 0 {
		return nil, fmt.Errorf("%w: charity %d has %s available, requested %s", ErrInsufficientFunds, charityID, charity.Available(), amt)
	}
	stats, err := e.state.CharityStats()
	if err != nil {
		return nil, err
	}

	expense := &Expense{
		CharityID:   charityID,
		Amount:      amt,
		Description: description,
		Category:    strings.TrimSpace(category),
		Timestamp:   e.now(),
		Verified:    false,
	}
	updated := charity.Clone()
	updated.TotalSpent = spent
	stats = stats.Clone()
	stats.TotalDisbursed = new(big.Int).Add(stats.TotalDisbursed, amt)

	if err := e.vault.Release(charity.Payout, amt); err != nil {
		return nil, transferError("release", err)
	}
	if _, err := e.state.CharityExpenseAppend(expense); err != nil {
		return nil, err
	}
	if err := e.state.CharityPut(updated); err != nil {
		return nil, err
	}
	if err := e.state.CharityStatsPut(stats); err != nil {
		return nil, err
	}
	e.emit(FundsDistributedEvent(charityID, amt.String(), expense.Description, expense.Category))
	return expense.Clone(), nil
}

// VerifyExpense marks an expense verified. Repeating the call is allowed and
// emits again.
func (e *Engine) VerifyExpense(caller [20]byte, charityID uint64, index uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if _, err := e.loadCharity(charityID); err != nil {
		return err
	}
	expense, ok, err := e.state.CharityExpenseGet(charityID, index)
	if err != nil {
		return err
	}
	if !ok || expense == nil {
		return fmt.Errorf("%w: expense %d of charity %d", ErrNotFound, index, charityID)
	}
	expense = expense.Clone()
	expense.Verified = true
	if err := e.state.CharityExpensePut(charityID, index, expense); err != nil {
		return err
	}
	e.emit(ExpenseVerifiedEvent(charityID, index))
	return nil
}

// DeactivateCharity blocks new donations and disbursements for a charity.
func (e *Engine) DeactivateCharity(caller [20]byte, charityID uint64) error {
	return e.setActive(caller, charityID, false)
}

// ReactivateCharity re-enables a deactivated charity.
func (e *Engine) ReactivateCharity(caller [20]byte, charityID uint64) error {
	return e.setActive(caller, charityID, true)
}

func (e *Engine) setActive(caller [20]byte, charityID uint64, active bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	charity, err := e.loadCharity(charityID)
	if err != nil {
		return err
	}
	charity = charity.Clone()
	charity.Active = active
	return e.state.CharityPut(charity)
}

// Charity returns a snapshot of a registered charity.
func (e *Engine) Charity(id uint64) (*Charity, error) {
	charity, err := e.loadCharity(id)
	if err != nil {
		return nil, err
	}
	return charity.Clone(), nil
}

// DonationCount returns the number of donations recorded for a charity.
func (e *Engine) DonationCount(id uint64) (uint64, error) {
	if _, err := e.loadCharity(id); err != nil {
		return 0, err
	}
	return e.state.CharityDonationCount(id)
}

// ExpenseCount returns the number of expenses recorded for a charity.
func (e *Engine) ExpenseCount(id uint64) (uint64, error) {
	if _, err := e.loadCharity(id); err != nil {
		return 0, err
	}
	return e.state.CharityExpenseCount(id)
}

// Donation returns the donation at index for a charity.
func (e *Engine) Donation(id uint64, index uint64) (*Donation, error) {
	if _, err := e.loadCharity(id); err != nil {
		return nil, err
	}
	donation, ok, err := e.state.CharityDonationGet(id, index)
	if err != nil {
		return nil, err
	}
	if !ok || donation == nil {
		return nil, fmt.Errorf("%w: donation %d of charity %d", ErrNotFound, index, id)
	}
	return donation.Clone(), nil
}

// Expense returns the expense at index for a charity.
func (e *Engine) Expense(id uint64, index uint64) (*Expense, error) {
	if _, err := e.loadCharity(id); err != nil {
		return nil, err
	}
	expense, ok, err := e.state.CharityExpenseGet(id, index)
	if err != nil {
		return nil, err
	}
	if !ok || expense == nil {
		return nil, fmt.Errorf("%w: expense %d of charity %d", ErrNotFound, index, id)
	}
	return expense.Clone(), nil
}

// DonorHistory returns every charity id the donor contributed to, oldest first.
func (e *Engine) DonorHistory(donor [20]byte) ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	history, err := e.state.CharityDonorHistory(donor)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(history))
	copy(out, history)
	return out, nil
}

// PlatformStats returns the ledger-wide counters.
func (e *Engine) PlatformStats() (*PlatformStats, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	stats, err := e.state.CharityStats()
	if err != nil {
		return nil, err
	}
	return stats.Clone(), nil
}
