package state

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"charityledger/native/charity"
	"charityledger/storage"
)

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestCharityKeyFormats(t *testing.T) {
	require.Equal(t, "charity/owner", string(CharityOwnerKey()))
	require.Equal(t, append([]byte("charity/meta/"), 0, 0, 0, 0, 0, 0, 0, 7), CharityKey(7))
	donationKey := CharityDonationKey(1, 2)
	require.Len(t, donationKey, len("charity/donation/")+16)
	require.Equal(t, byte(1), donationKey[len("charity/donation/")+7])
	require.Equal(t, byte(2), donationKey[len(donationKey)-1])
	donor := addr(0xaa)
	require.Equal(t, append([]byte("charity/donor/"), donor[:]...), CharityDonorKey(donor))
}

func TestCharityRecordsRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	_, ok, err := mgr.CharityOwner()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mgr.CharityOwnerPut(addr(0x01)))
	owner, ok, err := mgr.CharityOwner()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, addr(0x01), owner)

	record := &charity.Charity{
		ID:            3,
		Name:          "Red Aid",
		Description:   "relief",
		Payout:        addr(0x02),
		TotalReceived: big.NewInt(100),
		TotalSpent:    big.NewInt(40),
		Active:        true,
		RegisteredAt:  1_700_000_000,
	}
	require.NoError(t, mgr.CharityPut(record))
	loaded, ok, err := mgr.CharityGet(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.Name, loaded.Name)
	require.Equal(t, record.Payout, loaded.Payout)
	require.Equal(t, 0, loaded.TotalReceived.Cmp(big.NewInt(100)))
	require.Equal(t, 0, loaded.TotalSpent.Cmp(big.NewInt(40)))
	require.Equal(t, int64(1_700_000_000), loaded.RegisteredAt)
	require.True(t, loaded.Active)

	_, ok, err = mgr.CharityGet(4)
	require.NoError(t, err)
	require.False(t, ok)

	stats, err := mgr.CharityStats()
	require.NoError(t, err)
	require.Zero(t, stats.CharityCount)
	require.Zero(t, stats.TotalDonations.Sign())
}

func TestCharitySequencesAreIndexStable(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	for i := 0; i < 3; i++ {
		idx, err := mgr.CharityDonationAppend(&charity.Donation{CharityID: 1, Donor: addr(0x03), Amount: big.NewInt(int64(i + 1)), Timestamp: 10, Message: "m"})
		require.NoError(t, err)
		require.Equal(t, uint64(i), idx)
	}
	count, err := mgr.CharityDonationCount(1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)
	other, err := mgr.CharityDonationCount(2)
	require.NoError(t, err)
	require.Zero(t, other)

	d, ok, err := mgr.CharityDonationGet(1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, d.Amount.Cmp(big.NewInt(2)))
	require.Equal(t, "m", d.Message)

	idx, err := mgr.CharityExpenseAppend(&charity.Expense{CharityID: 1, Amount: big.NewInt(5), Description: "food", Timestamp: 11})
	require.NoError(t, err)
	require.Zero(t, idx)
	e, ok, err := mgr.CharityExpenseGet(1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, e.Verified)
	e.Verified = true
	require.NoError(t, mgr.CharityExpensePut(1, 0, e))
	e, _, err = mgr.CharityExpenseGet(1, 0)
	require.NoError(t, err)
	require.True(t, e.Verified)
	require.Error(t, mgr.CharityExpensePut(1, 1, e))
}

func TestDonorHistoryKeepsDuplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	donor := addr(0x04)
	history, err := mgr.CharityDonorHistory(donor)
	require.NoError(t, err)
	require.Empty(t, history)
	for _, id := range []uint64{2, 0, 2} {
		require.NoError(t, mgr.CharityDonorHistoryAppend(donor, id))
	}
	history, err = mgr.CharityDonorHistory(donor)
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 0, 2}, history)
}

func TestAccountsCreditDebit(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	a, b := addr(0x05), addr(0x06)

	require.NoError(t, mgr.Credit(a, big.NewInt(50)))
	require.ErrorIs(t, mgr.Debit(a, big.NewInt(51)), ErrInsufficientBalance)
	require.NoError(t, mgr.Transfer(a, b, big.NewInt(20)))

	accA, err := mgr.GetAccount(a)
	require.NoError(t, err)
	require.Equal(t, 0, accA.Balance.Cmp(big.NewInt(30)))
	accB, err := mgr.GetAccount(b)
	require.NoError(t, err)
	require.Equal(t, 0, accB.Balance.Cmp(big.NewInt(20)))

	require.NoError(t, mgr.IncrementNonce(a))
	accA, err = mgr.GetAccount(a)
	require.NoError(t, err)
	require.Equal(t, uint64(1), accA.Nonce)

	ceiling := new(uint256.Int).SetAllOne().ToBig()
	require.NoError(t, mgr.Credit(b, new(big.Int).Sub(ceiling, big.NewInt(20))))
	require.ErrorIs(t, mgr.Credit(b, big.NewInt(1)), ErrBalanceOverflow)
	require.Error(t, mgr.Credit(b, big.NewInt(-1)))
}

func TestGenesisMarker(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	applied, err := mgr.GenesisApplied()
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mgr.MarkGenesisApplied())
	applied, err = mgr.GenesisApplied()
	require.NoError(t, err)
	require.True(t, applied)
}

type balanceVault struct {
	mgr     *Manager
	custody [20]byte
}

func (v balanceVault) Deposit(from [20]byte, amount *big.Int) error {
	return v.mgr.Transfer(from, v.custody, amount)
}

func (v balanceVault) Release(to [20]byte, amount *big.Int) error {
	return v.mgr.Transfer(v.custody, to, amount)
}

func TestManagerBacksCharityEngine(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	owner, payout, donor, custody := addr(0x01), addr(0x02), addr(0x03), addr(0x09)
	require.NoError(t, mgr.Credit(donor, big.NewInt(1000)))

	engine := charity.NewEngine()
	engine.SetState(mgr)
	engine.SetVault(balanceVault{mgr: mgr, custody: custody})
	engine.SetNowFunc(func() int64 { return 42 })
	require.NoError(t, engine.Initialize(owner))

	id, err := engine.RegisterCharity(owner, "Red Aid", "", payout)
	require.NoError(t, err)
	_, err = engine.MakeDonation(donor, id, big.NewInt(100), "hi")
	require.NoError(t, err)
	_, err = engine.DistributeFunds(payout, id, big.NewInt(40), "medicine", "Medical")
	require.NoError(t, err)
	require.NoError(t, engine.VerifyExpense(owner, id, 0))

	custodyAcc, err := mgr.GetAccount(custody)
	require.NoError(t, err)
	require.Equal(t, 0, custodyAcc.Balance.Cmp(big.NewInt(60)))
	payoutAcc, err := mgr.GetAccount(payout)
	require.NoError(t, err)
	require.Equal(t, 0, payoutAcc.Balance.Cmp(big.NewInt(40)))

	stats, err := engine.PlatformStats()
	require.NoError(t, err)
	require.Equal(t, 0, stats.Escrowed().Cmp(custodyAcc.Balance))

	_, err = engine.MakeDonation(donor, id, big.NewInt(5000), "")
	require.ErrorIs(t, err, charity.ErrTransferFailed)
}
