package core

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ledgererrors "charityledger/core/errors"
	"charityledger/core/events"
	"charityledger/core/payout"
	"charityledger/core/state"
	"charityledger/core/types"
	"charityledger/crypto"
	"charityledger/native/charity"
	"charityledger/observability"
	"charityledger/observability/logging"
	telemetry "charityledger/observability/otel"
	"charityledger/storage"
)

// Node owns one ledger instance. Transactions are applied one at a time; each
// runs against a staged overlay of the database that is committed as a single
// batch on success and dropped on failure. Events reach subscribers only after
// the commit.
type Node struct {
	db      storage.Database
	chainID uint64
	vault   [20]byte
	wallet  payout.Wallet
	clock   Clock
	feed    *events.Feed
	logger  *slog.Logger
	metrics *observability.CharityMetrics
	tracer  trace.Tracer
	stateMu sync.RWMutex
}

// Option customises a Node.
type Option func(*Node)

// WithWallet routes every disbursement through an external payout rail.
func WithWallet(w payout.Wallet) Option { return func(n *Node) { n.wallet = w } }

// WithClock overrides the ledger clock.
func WithClock(c Clock) Option { return func(n *Node) { n.clock = c } }

// WithLogger overrides the node logger.
func WithLogger(l *slog.Logger) Option { return func(n *Node) { n.logger = l } }

// Receipt summarises an applied transaction.
type Receipt struct {
	Hash      [32]byte       `json:"-"`
	Type      types.TxType   `json:"-"`
	From      [20]byte       `json:"-"`
	CharityID uint64         `json:"charityId"`
	Index     *uint64        `json:"index,omitempty"`
	// PayoutRef is the reference the payout rail reported for a disbursement.
	PayoutRef string         `json:"payoutRef,omitempty"`
	Events    []*types.Event `json:"events"`
}

// HashHex renders the transaction hash.
func (r *Receipt) HashHex() string { return "0x" + hex.EncodeToString(r.Hash[:]) }

func NewNode(db storage.Database, chainID uint64, vault [20]byte, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if chainID == 0 {
		return nil, fmt.Errorf("node: chain id must be positive")
	}
	if vault == ([20]byte{}) {
		return nil, fmt.Errorf("node: vault address must not be zero")
	}
	n := &Node{
		db:      db,
		chainID: chainID,
		vault:   vault,
		feed:    events.NewFeed(),
		metrics: observability.Charity(),
		tracer:  telemetry.Tracer("charityledger/core"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	if n.clock == nil {
		n.clock = NewClock(nil)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n, nil
}

// ChainID returns the chain identifier transactions must carry.
func (n *Node) ChainID() uint64 { return n.chainID }

// VaultAddress returns the custody account holding escrowed value.
func (n *Node) VaultAddress() [20]byte { return n.vault }

// Events exposes the committed event feed.
func (n *Node) Events() *events.Feed { return n.feed }

func (n *Node) newEngine(manager *state.Manager, vault charity.Vault, emitter events.Emitter) *charity.Engine {
	engine := charity.NewEngine()
	engine.SetState(manager)
	engine.SetVault(vault)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(n.clock.Now)
	return engine
}

// InitGenesis fixes the ledger owner and credits the genesis allocations. It
// is safe to call on every start: the owner must match the recorded one and
// allocations are applied only once.
func (n *Node) InitGenesis(owner [20]byte, allocs map[[20]byte]*big.Int) error {
	if owner == n.vault {
		return fmt.Errorf("genesis: owner must differ from the vault address")
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	overlay := storage.NewOverlay(n.db)
	manager := state.NewManager(overlay)
	engine := n.newEngine(manager, nil, nil)
	if err := engine.Initialize(owner); err != nil {
		overlay.Discard()
		return fmt.Errorf("genesis: %w", err)
	}
	applied, err := manager.GenesisApplied()
	if err != nil {
		overlay.Discard()
		return err
	}
	if !applied {
		addrs := make([][20]byte, 0, len(allocs))
		for addr := range allocs {
			addrs = append(addrs, addr)
		}
		sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
		for _, addr := range addrs {
			if err := manager.Credit(addr, allocs[addr]); err != nil {
				overlay.Discard()
				return fmt.Errorf("genesis: credit %s: %w", crypto.AddressFromArray(addr), err)
			}
		}
		if err := manager.MarkGenesisApplied(); err != nil {
			overlay.Discard()
			return err
		}
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	n.logger.Info("ledger initialised",
		slog.String("owner", crypto.AddressFromArray(owner).String()),
		slog.String("vault", crypto.AddressFromArray(n.vault).String()),
		slog.Int("allocations", len(allocs)),
		slog.Bool("fresh", !applied))
	return nil
}

// ApplyTransaction verifies and applies a signed transaction. On any error the
// database and the event feed are left untouched.
func (n *Node) ApplyTransaction(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", ledgererrors.ErrMalformedPayload)
	}
	ctx, span := n.tracer.Start(ctx, "charity.ApplyTransaction",
		trace.WithAttributes(attribute.String("tx.type", tx.Type.String())))
	defer span.End()
	start := time.Now()

	receipt, err := n.applyTransaction(ctx, tx)
	class := errorClass(err)
	n.metrics.ObserveTransition(tx.Type.String(), class, time.Since(start))

	attrs := []any{slog.String("type", tx.Type.String()), slog.Uint64("nonce", tx.Nonce)}
	if hash, hashErr := tx.Hash(); hashErr == nil {
		attrs = append(attrs, slog.String("hash", "0x"+hex.EncodeToString(hash[:])))
	}
	if from, fromErr := tx.From(); fromErr == nil {
		attrs = append(attrs, slog.String("caller", crypto.AddressFromArray(from).String()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, class)
		attrs = append(attrs, slog.String("class", class), slog.String("error", err.Error()))
		n.logger.Warn("transaction rejected", attrs...)
		return nil, err
	}
	span.SetAttributes(attribute.Int("tx.events", len(receipt.Events)))
	n.logger.Info("transaction applied", attrs...)
	return receipt, nil
}

func errorClass(err error) string {
	if err == nil {
		return ""
	}
	switch charity.Classify(err) {
	case charity.ErrUnauthorized:
		return "unauthorized"
	case charity.ErrNotFound:
		return "not_found"
	case charity.ErrInvalidArgument:
		return "invalid_argument"
	case charity.ErrInsufficientFunds:
		return "insufficient_funds"
	case charity.ErrInactive:
		return "inactive"
	case charity.ErrTransferFailed:
		return "transfer_failed"
	}
	switch {
	case errors.Is(err, ledgererrors.ErrInvalidSignature),
		errors.Is(err, ledgererrors.ErrWrongChain),
		errors.Is(err, ledgererrors.ErrBadNonce),
		errors.Is(err, ledgererrors.ErrUnexpectedValue),
		errors.Is(err, ledgererrors.ErrMalformedPayload):
		return "rejected"
	default:
		return "internal"
	}
}

func (n *Node) applyTransaction(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	if !tx.Type.Valid() {
		return nil, fmt.Errorf("%w: %v", ledgererrors.ErrMalformedPayload, types.ErrUnknownTxType)
	}
	from, err := tx.From()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledgererrors.ErrInvalidSignature, err)
	}
	if tx.ChainID != n.chainID {
		return nil, fmt.Errorf("%w: got %d, want %d", ledgererrors.ErrWrongChain, tx.ChainID, n.chainID)
	}
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() != 0 && tx.Type != types.TxTypeDonate {
		return nil, fmt.Errorf("%w: %s carries %s", ledgererrors.ErrUnexpectedValue, tx.Type, value)
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	receipt := &Receipt{Hash: hash, Type: tx.Type, From: from}
	ctx = payout.WithReference(ctx, receipt.HashHex())
	overlay := storage.NewOverlay(n.db)
	manager := state.NewManager(overlay)
	buffer := events.NewBuffer()
	vault := &custodyVault{ctx: ctx, accounts: manager, address: n.vault, wallet: n.wallet, metrics: n.metrics}
	engine := n.newEngine(manager, vault, buffer)

	commit := false
	defer func() {
		if !commit {
			overlay.Discard()
			buffer.Discard()
		}
	}()

	if _, err := engine.Owner(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledgererrors.ErrNotInitialized, err)
	}
	account, err := manager.GetAccount(from)
	if err != nil {
		return nil, err
	}
	if account.Nonce != tx.Nonce {
		return nil, fmt.Errorf("%w: got %d, want %d", ledgererrors.ErrBadNonce, tx.Nonce, account.Nonce)
	}

	if err := manager.IncrementNonce(from); err != nil {
		return nil, err
	}
	// A disbursement may have moved money off-ledger by the time dispatch
	// returns, so the commit is the only fallible step after it.
	if err := n.dispatch(engine, tx, from, value, receipt); err != nil {
		return nil, err
	}
	if err := overlay.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	commit = true
	receipt.PayoutRef = vault.payoutRef
	if receipt.PayoutRef != "" {
		n.logger.Info("payout accepted",
			slog.Uint64("charity", receipt.CharityID),
			slog.String("hash", receipt.HashHex()),
			slog.String("reference", receipt.PayoutRef))
	}

	record := events.EmitterFunc(func(evt events.Event) {
		if payload, ok := evt.(events.Payload); ok && payload.Event() != nil {
			receipt.Events = append(receipt.Events, payload.Event().Clone())
			n.recordCommittedEvent(payload.Event())
		}
	})
	dropped := n.feed.Dropped()
	buffer.Flush(events.Multi{record, n.feed})
	observability.Events().RecordDropped(n.feed.Dropped() - dropped)
	reader, _ := n.reader()
	if stats, err := reader.PlatformStats(); err != nil {
		n.logger.Warn("refresh platform totals", slog.String("error", err.Error()))
	} else {
		n.metrics.SetTotals(stats.Escrowed(), stats.CharityCount)
	}
	return receipt, nil
}

func (n *Node) recordCommittedEvent(evt *types.Event) {
	observability.Events().RecordEvent(evt.Type)
	amount, ok := new(big.Int).SetString(evt.Attributes["amount"], 10)
	if !ok {
		return
	}
	switch evt.Type {
	case charity.EventTypeDonationMade:
		n.metrics.AddDonated(amount)
	case charity.EventTypeFundsDistributed:
		n.metrics.AddDisbursed(amount)
	}
}

func (n *Node) dispatch(engine *charity.Engine, tx *types.Transaction, from [20]byte, value *big.Int, receipt *Receipt) error {
	decode := func(out interface{}) error {
		if err := tx.DecodePayload(out); err != nil {
			return fmt.Errorf("%w: %v", ledgererrors.ErrMalformedPayload, err)
		}
		return nil
	}
	switch tx.Type {
	case types.TxTypeRegisterCharity:
		var payload types.RegisterCharityPayload
		if err := decode(&payload); err != nil {
			return err
		}
		if payload.Payout == n.vault {
			return fmt.Errorf("%w: payout address must not be the vault", charity.ErrInvalidArgument)
		}
		id, err := engine.RegisterCharity(from, payload.Name, payload.Description, payload.Payout)
		if err != nil {
			return err
		}
		receipt.CharityID = id
	case types.TxTypeDonate:
		var payload types.DonatePayload
		if err := decode(&payload); err != nil {
			return err
		}
		if _, err := engine.MakeDonation(from, payload.CharityID, value, payload.Message); err != nil {
			return err
		}
		n.logger.Debug("donation recorded",
			slog.Uint64("charity", payload.CharityID),
			logging.Sensitive("memo", payload.Message))
		count, err := engine.DonationCount(payload.CharityID)
		if err != nil {
			return err
		}
		index := count - 1
		receipt.CharityID = payload.CharityID
		receipt.Index = &index
	case types.TxTypeDistributeFunds:
		var payload types.DistributeFundsPayload
		if err := decode(&payload); err != nil {
			return err
		}
		if _, err := engine.DistributeFunds(from, payload.CharityID, payload.Amount, payload.Description, payload.Category); err != nil {
			return err
		}
		count, err := engine.ExpenseCount(payload.CharityID)
		if err != nil {
			return err
		}
		index := count - 1
		receipt.CharityID = payload.CharityID
		receipt.Index = &index
	case types.TxTypeVerifyExpense:
		var payload types.ExpenseRefPayload
		if err := decode(&payload); err != nil {
			return err
		}
		if err := engine.VerifyExpense(from, payload.CharityID, payload.Index); err != nil {
			return err
		}
		index := payload.Index
		receipt.CharityID = payload.CharityID
		receipt.Index = &index
	case types.TxTypeDeactivateCharity, types.TxTypeReactivateCharity:
		var payload types.CharityRefPayload
		if err := decode(&payload); err != nil {
			return err
		}
		var err error
		if tx.Type == types.TxTypeDeactivateCharity {
			err = engine.DeactivateCharity(from, payload.CharityID)
		} else {
			err = engine.ReactivateCharity(from, payload.CharityID)
		}
		if err != nil {
			return err
		}
		receipt.CharityID = payload.CharityID
	default:
		return fmt.Errorf("%w: %v", ledgererrors.ErrMalformedPayload, types.ErrUnknownTxType)
	}
	return nil
}

// FundAccount credits addr outside of any signed transaction. It backs the
// operator faucet used on test deployments.
func (n *Node) FundAccount(addr [20]byte, amount *big.Int) (*types.Account, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", charity.ErrInvalidArgument)
	}
	if addr == n.vault {
		return nil, fmt.Errorf("%w: cannot fund the custody vault", charity.ErrInvalidArgument)
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	overlay := storage.NewOverlay(n.db)
	manager := state.NewManager(overlay)
	if err := manager.Credit(addr, amount); err != nil {
		overlay.Discard()
		return nil, err
	}
	account, err := manager.GetAccount(addr)
	if err != nil {
		overlay.Discard()
		return nil, err
	}
	if err := overlay.Commit(); err != nil {
		return nil, err
	}
	n.logger.Info("account funded",
		slog.String("account", crypto.AddressFromArray(addr).String()),
		slog.String("amount", amount.String()))
	return account, nil
}
