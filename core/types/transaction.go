package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeRegisterCharity   TxType = 0x01 // Owner registers a charity
	TxTypeDonate            TxType = 0x02 // Donor attaches value to a charity
	TxTypeDistributeFunds   TxType = 0x03 // Charity payout address spends escrowed funds
	TxTypeVerifyExpense     TxType = 0x04 // Owner marks an expense as verified
	TxTypeDeactivateCharity TxType = 0x05
	TxTypeReactivateCharity TxType = 0x06
)

var (
	ErrMissingSignature = errors.New("transaction: missing signature")
	ErrUnknownTxType    = errors.New("transaction: unknown type")
)

// String returns a stable label for logs and metrics.
func (t TxType) String() string {
	switch t {
	case TxTypeRegisterCharity:
		return "register_charity"
	case TxTypeDonate:
		return "donate"
	case TxTypeDistributeFunds:
		return "distribute_funds"
	case TxTypeVerifyExpense:
		return "verify_expense"
	case TxTypeDeactivateCharity:
		return "deactivate_charity"
	case TxTypeReactivateCharity:
		return "reactivate_charity"
	default:
		return fmt.Sprintf("unknown_0x%02x", byte(t))
	}
}

// Valid reports whether the type is one the ledger understands.
func (t TxType) Valid() bool {
	return t >= TxTypeRegisterCharity && t <= TxTypeReactivateCharity
}

// Transaction is a signed request to apply one ledger transition. Value is the
// amount attached to the call and is only meaningful for donations; Data holds
// the RLP encoded payload for the transaction type.
type Transaction struct {
	ChainID   uint64   `json:"chainId"`
	Type      TxType   `json:"type"`
	Nonce     uint64   `json:"nonce"`
	Value     *big.Int `json:"value"`
	Data      []byte   `json:"data"`
	Signature []byte   `json:"signature"`

	from *[20]byte
}

type unsignedTx struct {
	ChainID uint64
	Type    TxType
	Nonce   uint64
	Value   *big.Int
	Data    []byte
}

// Hash returns the blake3 digest of the unsigned transaction fields. The
// signature covers this digest.
func (tx *Transaction) Hash() ([32]byte, error) {
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(&unsignedTx{
		ChainID: tx.ChainID,
		Type:    tx.Type,
		Nonce:   tx.Nonce,
		Value:   value,
		Data:    tx.Data,
	})
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(encoded), nil
}

// Sign signs the transaction hash with the supplied secp256k1 key.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash[:], privKey)
	if err != nil {
		return err
	}
	tx.Signature = sig
	tx.from = nil
	return nil
}

// From recovers the sender address from the signature.
func (tx *Transaction) From() ([20]byte, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if len(tx.Signature) != crypto.SignatureLength {
		return [20]byte{}, ErrMissingSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return [20]byte{}, err
	}
	pubKey, err := crypto.SigToPub(hash[:], tx.Signature)
	if err != nil {
		return [20]byte{}, fmt.Errorf("transaction: recover signer: %w", err)
	}
	var from [20]byte
	copy(from[:], crypto.PubkeyToAddress(*pubKey).Bytes())
	tx.from = &from
	return from, nil
}

// DecodePayload decodes the RLP payload into out.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if err := rlp.DecodeBytes(tx.Data, out); err != nil {
		return fmt.Errorf("transaction: decode %s payload: %w", tx.Type, err)
	}
	return nil
}

// EncodeTransaction serialises a signed transaction for the wire.
func EncodeTransaction(tx *Transaction) ([]byte, error) {
	if tx == nil {
		return nil, errors.New("transaction: nil")
	}
	if tx.Value == nil {
		tx.Value = big.NewInt(0)
	}
	return rlp.EncodeToBytes(tx)
}

// DecodeTransaction parses a transaction produced by EncodeTransaction.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	tx := new(Transaction)
	if err := rlp.DecodeBytes(raw, tx); err != nil {
		return nil, fmt.Errorf("transaction: decode: %w", err)
	}
	if !tx.Type.Valid() {
		return nil, ErrUnknownTxType
	}
	if tx.Value == nil {
		tx.Value = big.NewInt(0)
	}
	return tx, nil
}

// RegisterCharityPayload is carried by TxTypeRegisterCharity.
type RegisterCharityPayload struct {
	Name        string
	Description string
	Payout      [20]byte
}

// DonatePayload is carried by TxTypeDonate.
type DonatePayload struct {
	CharityID uint64
	Message   string
}

// DistributeFundsPayload is carried by TxTypeDistributeFunds.
type DistributeFundsPayload struct {
	CharityID   uint64
	Amount      *big.Int
	Description string
	Category    string
}

// ExpenseRefPayload is carried by TxTypeVerifyExpense.
type ExpenseRefPayload struct {
	CharityID uint64
	Index     uint64
}

// CharityRefPayload is carried by the activation toggles.
type CharityRefPayload struct {
	CharityID uint64
}

// NewTransaction builds an unsigned transaction with an encoded payload.
func NewTransaction(chainID uint64, txType TxType, nonce uint64, value *big.Int, payload interface{}) (*Transaction, error) {
	if !txType.Valid() {
		return nil, ErrUnknownTxType
	}
	data, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("transaction: encode %s payload: %w", txType, err)
	}
	if value == nil {
		value = big.NewInt(0)
	}
	return &Transaction{
		ChainID: chainID,
		Type:    txType,
		Nonce:   nonce,
		Value:   new(big.Int).Set(value),
		Data:    data,
	}, nil
}
