package charity

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"charityledger/core/events"
	"charityledger/core/types"
)

type mockState struct {
	owner     *[20]byte
	charities map[uint64]*Charity
	donations map[uint64][]*Donation
	expenses  map[uint64][]*Expense
	history   map[[20]byte][]uint64
	stats     *PlatformStats
}

func newMockState() *mockState {
	return &mockState{
		charities: make(map[uint64]*Charity),
		donations: make(map[uint64][]*Donation),
		expenses:  make(map[uint64][]*Expense),
		history:   make(map[[20]byte][]uint64),
	}
}

func (m *mockState) CharityOwner() ([20]byte, bool, error) {
	if m.owner == nil {
		return [20]byte{}, false, nil
	}
	return *m.owner, true, nil
}

func (m *mockState) CharityOwnerPut(owner [20]byte) error {
	m.owner = &owner
	return nil
}

func (m *mockState) CharityGet(id uint64) (*Charity, bool, error) {
	c, ok := m.charities[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (m *mockState) CharityPut(c *Charity) error {
	m.charities[c.ID] = c.Clone()
	return nil
}

func (m *mockState) CharityStats() (*PlatformStats, error) {
	return m.stats.Clone(), nil
}

func (m *mockState) CharityStatsPut(stats *PlatformStats) error {
	m.stats = stats.Clone()
	return nil
}

func (m *mockState) CharityDonationCount(id uint64) (uint64, error) {
	return uint64(len(m.donations[id])), nil
}

func (m *mockState) CharityDonationAppend(d *Donation) (uint64, error) {
	m.donations[d.CharityID] = append(m.donations[d.CharityID], d.Clone())
	return uint64(len(m.donations[d.CharityID]) - 1), nil
}

func (m *mockState) CharityDonationGet(id uint64, index uint64) (*Donation, bool, error) {
	list := m.donations[id]
	if index >= uint64(len(list)) {
		return nil, false, nil
	}
	return list[index].Clone(), true, nil
}

func (m *mockState) CharityExpenseCount(id uint64) (uint64, error) {
	return uint64(len(m.expenses[id])), nil
}

func (m *mockState) CharityExpenseAppend(e *Expense) (uint64, error) {
	m.expenses[e.CharityID] = append(m.expenses[e.CharityID], e.Clone())
	return uint64(len(m.expenses[e.CharityID]) - 1), nil
}

func (m *mockState) CharityExpenseGet(id uint64, index uint64) (*Expense, bool, error) {
	list := m.expenses[id]
	if index >= uint64(len(list)) {
		return nil, false, nil
	}
	return list[index].Clone(), true, nil
}

func (m *mockState) CharityExpensePut(id uint64, index uint64, e *Expense) error {
	m.expenses[id][index] = e.Clone()
	return nil
}

func (m *mockState) CharityDonorHistory(donor [20]byte) ([]uint64, error) {
	return append([]uint64(nil), m.history[donor]...), nil
}

func (m *mockState) CharityDonorHistoryAppend(donor [20]byte, id uint64) error {
	m.history[donor] = append(m.history[donor], id)
	return nil
}

type mockVault struct {
	deposits    map[[20]byte]*big.Int
	releases    map[[20]byte]*big.Int
	failDeposit error
	failRelease error
}

func newMockVault() *mockVault {
	return &mockVault{
		deposits: make(map[[20]byte]*big.Int),
		releases: make(map[[20]byte]*big.Int),
	}
}

func (v *mockVault) Deposit(from [20]byte, amount *big.Int) error {
	if v.failDeposit != nil {
		return v.failDeposit
	}
	total := newBigInt(v.deposits[from])
	v.deposits[from] = total.Add(total, amount)
	return nil
}

func (v *mockVault) Release(to [20]byte, amount *big.Int) error {
	if v.failRelease != nil {
		return v.failRelease
	}
	total := newBigInt(v.releases[to])
	v.releases[to] = total.Add(total, amount)
	return nil
}

type capturingEmitter struct {
	events []*types.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	if payload, ok := evt.(events.Payload); ok {
		c.events = append(c.events, payload.Event())
	}
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	owner    = testAddr(0x01)
	redAid   = testAddr(0x02)
	donorD   = testAddr(0x03)
	stranger = testAddr(0x04)
)

type fixture struct {
	engine  *Engine
	state   *mockState
	vault   *mockVault
	emitter *capturingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState()
	vault := newMockVault()
	emitter := &capturingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetVault(vault)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	if err := engine.Initialize(owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return &fixture{engine: engine, state: state, vault: vault, emitter: emitter}
}

func (f *fixture) register(t *testing.T, name string, payout [20]byte) uint64 {
	t.Helper()
	id, err := f.engine.RegisterCharity(owner, name, "", payout)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return id
}

func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	stats, err := f.engine.PlatformStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	received, spent := big.NewInt(0), big.NewInt(0)
	for id := uint64(0); id < stats.CharityCount; id++ {
		c, err := f.engine.Charity(id)
		if err != nil {
			t.Fatalf("charity %d: %v", id, err)
		}
		if c.TotalSpent.Cmp(c.TotalReceived) > 0 {
			t.Fatalf("charity %d spent %s > received %s", id, c.TotalSpent, c.TotalReceived)
		}
		received.Add(received, c.TotalReceived)
		spent.Add(spent, c.TotalSpent)
	}
	if received.Cmp(stats.TotalDonations) != 0 {
		t.Fatalf("sum received %s != total donations %s", received, stats.TotalDonations)
	}
	if spent.Cmp(stats.TotalDisbursed) != 0 {
		t.Fatalf("sum spent %s != total disbursed %s", spent, stats.TotalDisbursed)
	}
}

func TestRegisterCharityAssignsSequentialIDs(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.RegisterCharity(owner, "Red Aid", "emergency relief", redAid)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected id 0, got %d", id)
	}
	c, err := f.engine.Charity(0)
	if err != nil {
		t.Fatalf("charity: %v", err)
	}
	if !c.Active || c.TotalReceived.Sign() != 0 || c.TotalSpent.Sign() != 0 {
		t.Fatalf("unexpected fresh charity: %+v", c)
	}
	if c.RegisteredAt != 1_700_000_000 {
		t.Fatalf("unexpected registration time %d", c.RegisteredAt)
	}
	for want := uint64(1); want < 4; want++ {
		got := f.register(t, "Charity", testAddr(byte(0x10+want)))
		if got != want {
			t.Fatalf("expected id %d, got %d", want, got)
		}
	}
	stats, _ := f.engine.PlatformStats()
	if stats.CharityCount != 4 {
		t.Fatalf("expected 4 charities, got %d", stats.CharityCount)
	}
	if len(f.emitter.events) != 4 || f.emitter.events[0].Type != EventTypeCharityRegistered {
		t.Fatalf("unexpected events: %+v", f.emitter.events)
	}
	if f.emitter.events[0].Attributes["name"] != "Red Aid" || f.emitter.events[0].Attributes["charityId"] != "0" {
		t.Fatalf("unexpected registration event: %+v", f.emitter.events[0])
	}
}

func TestRegisterCharityValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		caller [20]byte
		label  string
		payout [20]byte
		want   error
	}{
		{name: "non owner", caller: stranger, label: "X", payout: redAid, want: ErrUnauthorized},
		{name: "zero payout", caller: owner, label: "X", payout: [20]byte{}, want: ErrInvalidArgument},
		{name: "empty name", caller: owner, label: "  ", payout: redAid, want: ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.RegisterCharity(tc.caller, tc.label, "", tc.payout)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	stats, _ := f.engine.PlatformStats()
	if stats.CharityCount != 0 || len(f.emitter.events) != 0 {
		t.Fatalf("rejected registrations must not mutate state")
	}
}

func TestMakeDonationRecordsEverything(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Red Aid", redAid)

	donation, err := f.engine.MakeDonation(donorD, 0, big.NewInt(100), "good luck")
	if err != nil {
		t.Fatalf("donate: %v", err)
	}
	if donation.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected donation amount %s", donation.Amount)
	}
	c, _ := f.engine.Charity(0)
	if c.TotalReceived.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected totalReceived 100, got %s", c.TotalReceived)
	}
	stored, err := f.engine.Donation(0, 0)
	if err != nil {
		t.Fatalf("donation: %v", err)
	}
	if stored.Donor != donorD || stored.Message != "good luck" || stored.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected stored donation %+v", stored)
	}
	history, _ := f.engine.DonorHistory(donorD)
	if len(history) != 1 || history[0] != 0 {
		t.Fatalf("unexpected donor history %v", history)
	}
	stats, _ := f.engine.PlatformStats()
	if stats.TotalDonations.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected total donations 100, got %s", stats.TotalDonations)
	}
	if f.vault.deposits[donorD].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("vault did not receive the deposit")
	}
	last := f.emitter.events[len(f.emitter.events)-1]
	if last.Type != EventTypeDonationMade || last.Attributes["amount"] != "100" || last.Attributes["message"] != "good luck" {
		t.Fatalf("unexpected donation event %+v", last)
	}
	f.assertInvariants(t)
}

func TestMakeDonationRejections(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Red Aid", redAid)

	if _, err := f.engine.MakeDonation(donorD, 9, big.NewInt(1), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(0), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for zero, got %v", err)
	}
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(-5), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for negative, got %v", err)
	}
	if _, err := f.engine.MakeDonation(donorD, 0, nil, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for nil, got %v", err)
	}
	f.vault.failDeposit = errors.New("donor balance too low")
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(10), ""); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	f.vault.failDeposit = ErrInsufficientFunds
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(10), ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected classified vault error to pass through, got %v", err)
	}
	count, _ := f.engine.DonationCount(0)
	if count != 0 {
		t.Fatalf("expected no donations, got %d", count)
	}
	history, _ := f.engine.DonorHistory(donorD)
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %v", history)
	}
}

func TestDistributeFundsSolvency(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Red Aid", redAid)
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(100), "good luck"); err != nil {
		t.Fatalf("donate: %v", err)
	}

	expense, err := f.engine.DistributeFunds(redAid, 0, big.NewInt(40), "medicine", "Medical")
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if expense.Verified {
		t.Fatalf("new expenses must be unverified")
	}
	c, _ := f.engine.Charity(0)
	if c.TotalSpent.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("expected totalSpent 40, got %s", c.TotalSpent)
	}
	count, _ := f.engine.ExpenseCount(0)
	if count != 1 {
		t.Fatalf("expected one expense, got %d", count)
	}
	if f.vault.releases[redAid].Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("payout address did not receive funds")
	}

	if _, err := f.engine.DistributeFunds(redAid, 0, big.NewInt(70), "shelter", "Housing"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := f.engine.DistributeFunds(redAid, 0, big.NewInt(60), "shelter", "Housing"); err != nil {
		t.Fatalf("spending the exact remainder should succeed: %v", err)
	}
	c, _ = f.engine.Charity(0)
	if c.Available().Sign() != 0 {
		t.Fatalf("expected nothing available, got %s", c.Available())
	}
	stats, _ := f.engine.PlatformStats()
	if stats.Escrowed().Sign() != 0 || stats.TotalDisbursed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	f.assertInvariants(t)
}

func TestDistributeFundsValidation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Red Aid", redAid)
	f.register(t, "Blue Aid", stranger)
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(100), ""); err != nil {
		t.Fatalf("donate: %v", err)
	}
	cases := []struct {
		name   string
		caller [20]byte
		id     uint64
		amount *big.Int
		desc   string
		want   error
	}{
		{name: "other charity address", caller: stranger, id: 0, amount: big.NewInt(1), desc: "x", want: ErrUnauthorized},
		{name: "owner is not payout", caller: owner, id: 0, amount: big.NewInt(1), desc: "x", want: ErrUnauthorized},
		{name: "unknown charity", caller: redAid, id: 7, amount: big.NewInt(1), desc: "x", want: ErrNotFound},
		{name: "zero amount", caller: redAid, id: 0, amount: big.NewInt(0), desc: "x", want: ErrInvalidArgument},
		{name: "empty description", caller: redAid, id: 0, amount: big.NewInt(1), desc: " ", want: ErrInvalidArgument},
		{name: "nothing received", caller: stranger, id: 1, amount: big.NewInt(1), desc: "x", want: ErrInsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.DistributeFunds(tc.caller, tc.id, tc.amount, tc.desc, "General"); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	f.assertInvariants(t)
}

func TestDistributeFundsRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Red Aid", redAid)
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(100), ""); err != nil {
		t.Fatalf("donate: %v", err)
	}
	eventsBefore := len(f.emitter.events)
	f.vault.failRelease = errors.New("payout rail offline")

	_, err := f.engine.DistributeFunds(redAid, 0, big.NewInt(40), "medicine", "Medical")
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	c, _ := f.engine.Charity(0)
	if c.TotalSpent.Sign() != 0 {
		t.Fatalf("totalSpent must be unchanged, got %s", c.TotalSpent)
	}
	count, _ := f.engine.ExpenseCount(0)
	if count != 0 {
		t.Fatalf("expense must not be recorded, got %d", count)
	}
	stats, _ := f.engine.PlatformStats()
	if stats.TotalDisbursed.Sign() != 0 {
		t.Fatalf("totalDisbursed must be unchanged, got %s", stats.TotalDisbursed)
	}
	if len(f.emitter.events) != eventsBefore {
		t.Fatalf("failed transition must not emit")
	}
}

func TestDeactivationBlocksDonationsAndDisbursements(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Red Aid", redAid)
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(100), ""); err != nil {
		t.Fatalf("donate: %v", err)
	}
	if err := f.engine.DeactivateCharity(stranger, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.engine.DeactivateCharity(owner, 0); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(5), ""); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
	if _, err := f.engine.DistributeFunds(redAid, 0, big.NewInt(5), "x", ""); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
	if _, err := f.engine.Donation(0, 0); err != nil {
		t.Fatalf("reads must keep working on inactive charities: %v", err)
	}
	if err := f.engine.ReactivateCharity(owner, 0); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(5), ""); err != nil {
		t.Fatalf("donation after reactivation: %v", err)
	}
	if err := f.engine.DeactivateCharity(owner, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	c, _ := f.engine.Charity(0)
	if c.TotalReceived.Cmp(big.NewInt(105)) != 0 {
		t.Fatalf("toggling must not change accumulators, got %s", c.TotalReceived)
	}
}

func TestVerifyExpenseIsIdempotentAndOwnerOnly(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Red Aid", redAid)
	if _, err := f.engine.MakeDonation(donorD, 0, big.NewInt(100), ""); err != nil {
		t.Fatalf("donate: %v", err)
	}
	if _, err := f.engine.DistributeFunds(redAid, 0, big.NewInt(40), "medicine", "Medical"); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if err := f.engine.VerifyExpense(stranger, 0, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.engine.VerifyExpense(owner, 0, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for bad index, got %v", err)
	}
	if err := f.engine.VerifyExpense(owner, 5, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for bad charity, got %v", err)
	}
	before := len(f.emitter.events)
	for i := 0; i < 2; i++ {
		if err := f.engine.VerifyExpense(owner, 0, 0); err != nil {
			t.Fatalf("verify #%d: %v", i, err)
		}
	}
	expense, _ := f.engine.Expense(0, 0)
	if !expense.Verified {
		t.Fatalf("expected verified expense")
	}
	emitted := f.emitter.events[before:]
	if len(emitted) != 2 {
		t.Fatalf("expected one event per call, got %d", len(emitted))
	}
	for _, evt := range emitted {
		if evt.Type != EventTypeExpenseVerified || evt.Attributes["expenseIndex"] != "0" {
			t.Fatalf("unexpected event %+v", evt)
		}
	}
}

func TestDonorHistoryKeepsDuplicatesInOrder(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", testAddr(0x20))
	f.register(t, "B", testAddr(0x21))
	for _, id := range []uint64{1, 0, 1} {
		if _, err := f.engine.MakeDonation(donorD, id, big.NewInt(3), ""); err != nil {
			t.Fatalf("donate to %d: %v", id, err)
		}
	}
	history, _ := f.engine.DonorHistory(donorD)
	want := []uint64{1, 0, 1}
	if len(history) != len(want) {
		t.Fatalf("unexpected history %v", history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("unexpected history %v", history)
		}
	}
	unknown, err := f.engine.DonorHistory(stranger)
	if err != nil || len(unknown) != 0 {
		t.Fatalf("unknown donor should have empty history, got %v %v", unknown, err)
	}
	f.assertInvariants(t)
}

func TestQueriesOnMissingEntities(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Charity(0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.engine.DonationCount(0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	f.register(t, "A", redAid)
	if _, err := f.engine.Donation(0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.engine.Expense(0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInitializeOwnerIsFixed(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Initialize(owner); err != nil {
		t.Fatalf("re-initialising with the same owner should be a no-op: %v", err)
	}
	if err := f.engine.Initialize(stranger); !errors.Is(err, errOwnerChanged) {
		t.Fatalf("expected owner change rejection, got %v", err)
	}
	got, err := f.engine.Owner()
	if err != nil || got != owner {
		t.Fatalf("unexpected owner %x %v", got, err)
	}
}

func TestEngineWithoutStateOrVault(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.RegisterCharity(owner, "A", "", redAid); !errors.Is(err, errNilState) {
		t.Fatalf("expected nil state error, got %v", err)
	}
	engine.SetState(newMockState())
	if _, err := engine.MakeDonation(donorD, 0, big.NewInt(1), ""); !errors.Is(err, errNilVault) {
		t.Fatalf("expected nil vault error, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatalf("nil should classify as nil")
	}
	if Classify(errors.New("disk on fire")) != nil {
		t.Fatalf("unclassified errors should return nil")
	}
	wrapped := transferError("release", errors.New("boom"))
	if Classify(wrapped) != ErrTransferFailed {
		t.Fatalf("expected transfer class, got %v", Classify(wrapped))
	}
}
