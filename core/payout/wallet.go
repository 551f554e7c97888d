package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Wallet captures what the ledger needs from an external payout rail. Transfer
// must return only once the rail has accepted or rejected the payment.
type Wallet interface {
	Transfer(ctx context.Context, destination string, amount *big.Int) (string, error)
}

// FuncWallet adapts a callback to the Wallet interface.
type FuncWallet struct {
	TransferFunc func(ctx context.Context, destination string, amount *big.Int) (string, error)
}

// Transfer delegates to the configured callback.
func (w FuncWallet) Transfer(ctx context.Context, destination string, amount *big.Int) (string, error) {
	if w.TransferFunc == nil {
		return "", nil
	}
	return w.TransferFunc(ctx, destination, amount)
}

type referenceKey struct{}

// WithReference attaches the ledger reference a wallet should use to
// deduplicate retries of the same payout.
func WithReference(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, referenceKey{}, ref)
}

// ReferenceFrom returns the reference stored by WithReference.
func ReferenceFrom(ctx context.Context) (string, bool) {
	ref, ok := ctx.Value(referenceKey{}).(string)
	return ref, ok && ref != ""
}

// ErrRejected is returned when the webhook answers with a non-2xx status.
var ErrRejected = errors.New("payout: transfer rejected")

// WebhookWallet posts each payout to an HTTP endpoint and treats any non-2xx
// answer as a failed transfer.
type WebhookWallet struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookWallet builds a webhook wallet. A zero timeout defaults to ten
// seconds.
func NewWebhookWallet(url string, token string, timeout time.Duration) (*WebhookWallet, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("payout: webhook url required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookWallet{
		url:   url,
		token: strings.TrimSpace(token),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type transferRequest struct {
	Reference   string `json:"reference"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

type transferResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error,omitempty"`
}

// Transfer posts the payout and returns the reference reported by the rail.
// The Idempotency-Key is the context reference when one is set.
func (w *WebhookWallet) Transfer(ctx context.Context, destination string, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("payout: amount must be positive")
	}
	reference, ok := ReferenceFrom(ctx)
	if !ok {
		reference = uuid.NewString()
	}
	body, err := json.Marshal(transferRequest{Reference: reference, Destination: destination, Amount: amount.String()})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", reference)
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("payout: webhook: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("payout: read response: %w", err)
	}
	var decoded transferResponse
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &decoded)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(decoded.Error)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	if decoded.TxHash == "" {
		return reference, nil
	}
	return decoded.TxHash, nil
}
