package state

import (
	"encoding/binary"
)

var (
	charityOwnerKeyBytes  = []byte("charity/owner")
	charityStatsKeyBytes  = []byte("charity/stats")
	charityMetaPrefix     = []byte("charity/meta/")
	charityDonationPrefix = []byte("charity/donation/")
	charityDonationCount  = []byte("charity/donation-count/")
	charityExpensePrefix  = []byte("charity/expense/")
	charityExpenseCount   = []byte("charity/expense-count/")
	charityDonorPrefix    = []byte("charity/donor/")
	accountPrefix         = []byte("account/")
	genesisMarkerKeyBytes = []byte("ledger/genesis")
)

func withUint64(prefix []byte, vals ...uint64) []byte {
	buf := make([]byte, len(prefix)+8*len(vals))
	copy(buf, prefix)
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[len(prefix)+8*i:], v)
	}
	return buf
}

func withAddr(prefix []byte, addr [20]byte) []byte {
	buf := make([]byte, len(prefix)+len(addr))
	copy(buf, prefix)
	copy(buf[len(prefix):], addr[:])
	return buf
}

// CharityOwnerKey is the raw key of the ledger owner record.
func CharityOwnerKey() []byte { return append([]byte(nil), charityOwnerKeyBytes...) }

// CharityStatsKey is the raw key of the platform counters.
func CharityStatsKey() []byte { return append([]byte(nil), charityStatsKeyBytes...) }

// CharityKey is the raw key of a charity record.
func CharityKey(id uint64) []byte { return withUint64(charityMetaPrefix, id) }

// CharityDonationKey is the raw key of the donation at index.
func CharityDonationKey(id, index uint64) []byte { return withUint64(charityDonationPrefix, id, index) }

// CharityDonationCountKey is the raw key of a charity's donation counter.
func CharityDonationCountKey(id uint64) []byte { return withUint64(charityDonationCount, id) }

// CharityExpenseKey is the raw key of the expense at index.
func CharityExpenseKey(id, index uint64) []byte { return withUint64(charityExpensePrefix, id, index) }

// CharityExpenseCountKey is the raw key of a charity's expense counter.
func CharityExpenseCountKey(id uint64) []byte { return withUint64(charityExpenseCount, id) }

// CharityDonorKey is the raw key of a donor's history list.
func CharityDonorKey(donor [20]byte) []byte { return withAddr(charityDonorPrefix, donor) }

// AccountKey is the raw key of an account record.
func AccountKey(addr [20]byte) []byte { return withAddr(accountPrefix, addr) }

// GenesisKey marks that genesis allocations were applied.
func GenesisKey() []byte { return append([]byte(nil), genesisMarkerKeyBytes...) }
