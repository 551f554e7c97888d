package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"charityledger/core"
	"charityledger/core/types"
	"charityledger/crypto"
	"charityledger/native/charity"
	"charityledger/storage"
)

const (
	testChainID   = 3
	testJWTSecret = "rpc-test-secret"
)

type rpcResponse struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type testEnv struct {
	t      *testing.T
	node   *core.Node
	server *Server
	http   *httptest.Server
	owner  *crypto.PrivateKey
	donor  *crypto.PrivateKey
	payout *crypto.PrivateKey
	nonces map[[20]byte]uint64
}

func addrOf(key *crypto.PrivateKey) [20]byte { return key.PubKey().Address().Array() }

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	node, err := core.NewNode(storage.NewMemDB(), testChainID, crypto.ModuleAddress("charity/vault"), core.WithLogger(quiet))
	require.NoError(t, err)

	env := &testEnv{t: t, node: node, nonces: make(map[[20]byte]uint64)}
	for _, key := range []**crypto.PrivateKey{&env.owner, &env.donor, &env.payout} {
		*key, err = crypto.GeneratePrivateKey()
		require.NoError(t, err)
	}
	require.NoError(t, node.InitGenesis(addrOf(env.owner), map[[20]byte]*big.Int{addrOf(env.donor): big.NewInt(500)}))

	if cfg.Logger == nil {
		cfg.Logger = quiet
	}
	env.server, err = NewServer(node, cfg)
	require.NoError(t, err)
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)
	return env
}

func (e *testEnv) call(headers map[string]string, method string, params ...interface{}) (int, rpcResponse) {
	e.t.Helper()
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(e.t, err)
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/", bytes.NewReader(body))
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	var out rpcResponse
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (e *testEnv) signedTx(key *crypto.PrivateKey, txType types.TxType, value *big.Int, payload interface{}) string {
	e.t.Helper()
	from := addrOf(key)
	tx, err := types.NewTransaction(testChainID, txType, e.nonces[from], value, payload)
	require.NoError(e.t, err)
	require.NoError(e.t, tx.Sign(key.PrivateKey))
	raw, err := types.EncodeTransaction(tx)
	require.NoError(e.t, err)
	return "0x" + hex.EncodeToString(raw)
}

func (e *testEnv) send(key *crypto.PrivateKey, txType types.TxType, value *big.Int, payload interface{}) (int, rpcResponse) {
	e.t.Helper()
	status, resp := e.call(nil, "charity_sendTransaction", e.signedTx(key, txType, value, payload))
	if resp.Error == nil {
		e.nonces[addrOf(key)]++
	}
	return status, resp
}

func decode[T any](t *testing.T, resp rpcResponse) T {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	var out T
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	return out
}

func TestSendTransactionAndQueries(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	status, resp := env.send(env.owner, types.TxTypeRegisterCharity, nil, &types.RegisterCharityPayload{Name: "  Shelter ", Description: "beds", Payout: addrOf(env.payout)})
	require.Equal(t, http.StatusOK, status)
	receipt := decode[ReceiptResult](t, resp)
	require.Equal(t, "register_charity", receipt.Type)
	require.Len(t, receipt.Events, 1)

	_, resp = env.send(env.donor, types.TxTypeDonate, big.NewInt(120), &types.DonatePayload{CharityID: 0, Message: "for winter"})
	receipt = decode[ReceiptResult](t, resp)
	require.NotNil(t, receipt.Index)
	require.Equal(t, uint64(0), *receipt.Index)

	_, resp = env.call(nil, "charity_getCharity", 0)
	c := decode[CharityResult](t, resp)
	require.Equal(t, "Shelter", c.Name)
	require.Equal(t, "120", c.TotalReceived)
	require.Equal(t, "120", c.Available)
	require.Equal(t, crypto.AddressFromArray(addrOf(env.payout)).String(), c.Payout)

	_, resp = env.call(nil, "charity_getDonation", "0", 0)
	d := decode[DonationResult](t, resp)
	require.Equal(t, "for winter", d.Message)
	require.Equal(t, crypto.AddressFromArray(addrOf(env.donor)).String(), d.Donor)

	_, resp = env.call(nil, "charity_getDonationCount", 0)
	require.Equal(t, uint64(1), decode[uint64](t, resp))
	_, resp = env.call(nil, "charity_getExpenseCount", 0)
	require.Equal(t, uint64(0), decode[uint64](t, resp))

	_, resp = env.send(env.payout, types.TxTypeDistributeFunds, nil, &types.DistributeFundsPayload{CharityID: 0, Amount: big.NewInt(20), Description: "blankets", Category: "Supplies"})
	require.Nil(t, resp.Error)
	_, resp = env.call(nil, "charity_getExpense", 0, 0)
	exp := decode[ExpenseResult](t, resp)
	require.Equal(t, "20", exp.Amount)
	require.False(t, exp.Verified)

	_, resp = env.call(nil, "charity_getDonorHistory", crypto.AddressFromArray(addrOf(env.donor)).String())
	require.Equal(t, []uint64{0}, decode[[]uint64](t, resp))

	_, resp = env.call(nil, "charity_getPlatformStats")
	stats := decode[StatsResult](t, resp)
	require.Equal(t, "120", stats.TotalDonations)
	require.Equal(t, "20", stats.TotalDisbursed)
	require.Equal(t, "100", stats.Escrowed)
	require.Equal(t, uint64(1), stats.CharityCount)

	_, resp = env.call(nil, "charity_getAccount", crypto.AddressFromArray(addrOf(env.donor)).String())
	account := decode[AccountResult](t, resp)
	require.Equal(t, "380", account.Balance)
	require.Equal(t, uint64(1), account.Nonce)

	_, resp = env.call(nil, "charity_owner")
	owner := decode[OwnerResult](t, resp)
	require.Equal(t, crypto.AddressFromArray(addrOf(env.owner)).String(), owner.Owner)
	require.Equal(t, uint64(testChainID), owner.ChainID)
}

func TestLedgerErrorsMapToCodes(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	env.send(env.owner, types.TxTypeRegisterCharity, nil, &types.RegisterCharityPayload{Name: "A", Payout: addrOf(env.payout)})

	status, resp := env.send(env.donor, types.TxTypeRegisterCharity, nil, &types.RegisterCharityPayload{Name: "B", Payout: addrOf(env.payout)})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = env.call(nil, "charity_getCharity", 9)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeNotFound, resp.Error.Code)

	status, resp = env.send(env.donor, types.TxTypeDonate, big.NewInt(0), &types.DonatePayload{CharityID: 0})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = env.send(env.donor, types.TxTypeDonate, big.NewInt(10_000), &types.DonatePayload{CharityID: 0})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeInsufficientFunds, resp.Error.Code)

	env.send(env.owner, types.TxTypeDeactivateCharity, nil, &types.CharityRefPayload{CharityID: 0})
	status, resp = env.send(env.donor, types.TxTypeDonate, big.NewInt(1), &types.DonatePayload{CharityID: 0})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeInactive, resp.Error.Code)

	// Replaying nonce 0 after the owner has moved on.
	env.nonces[addrOf(env.owner)] = 0
	status, resp = env.send(env.owner, types.TxTypeReactivateCharity, nil, &types.CharityRefPayload{CharityID: 0})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeTxRejected, resp.Error.Code)

	status, resp = env.call(nil, "charity_sendTransaction", "0xzz")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestTransferFailureCode(t *testing.T) {
	require.Equal(t, codeTransferFailed, ledgerError(fmt.Errorf("%w: rail down", charity.ErrTransferFailed)).Code)
	require.Equal(t, http.StatusBadGateway, ledgerError(charity.ErrTransferFailed).status)
	require.Equal(t, codeServerError, ledgerError(fmt.Errorf("disk full")).Code)
}

func TestMalformedRequests(t *testing.T) {
	env := newTestEnv(t, ServerConfig{MaxBodyBytes: 256})

	status, resp := env.call(nil, "charity_nope")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	status, resp = env.call(nil, "charity_getCharity")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = env.call(nil, "charity_getCharity", "-1")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	post := func(body string) (int, rpcResponse) {
		r, err := http.Post(env.http.URL+"/", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer r.Body.Close()
		var out rpcResponse
		require.NoError(t, json.NewDecoder(r.Body).Decode(&out))
		return r.StatusCode, out
	}
	status, resp = post("{not json")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeParseError, resp.Error.Code)

	status, resp = post(`{"jsonrpc":"2.0","method":"charity_owner","params":["` + strings.Repeat("a", 512) + `"]}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, status)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)
}

func adminToken(t *testing.T, scope string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "charity-tests",
		"scope": scope,
		"exp":   exp.Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func TestAdminFundAccount(t *testing.T) {
	env := newTestEnv(t, ServerConfig{JWTSecret: testJWTSecret, JWTIssuer: "charity-tests"})
	target := crypto.AddressFromArray(addrOf(env.payout)).String()
	bearer := func(token string) map[string]string { return map[string]string{"Authorization": "Bearer " + token} }

	status, resp := env.call(nil, "admin_fundAccount", target, "50")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, _ = env.call(bearer(adminToken(t, "read", time.Now().Add(time.Hour))), "admin_fundAccount", target, "50")
	require.Equal(t, http.StatusForbidden, status)

	status, _ = env.call(bearer(adminToken(t, "admin", time.Now().Add(-time.Hour))), "admin_fundAccount", target, "50")
	require.Equal(t, http.StatusUnauthorized, status)

	status, resp = env.call(bearer(adminToken(t, "ops admin", time.Now().Add(time.Hour))), "admin_fundAccount", target, "50")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "50", decode[AccountResult](t, resp).Balance)

	status, resp = env.call(bearer(adminToken(t, "admin", time.Now().Add(time.Hour))), "admin_fundAccount", target, "-5")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	status, resp := env.call(map[string]string{"Authorization": "Bearer " + adminToken(t, "admin", time.Now().Add(time.Hour))},
		"admin_fundAccount", crypto.AddressFromArray(addrOf(env.payout)).String(), "1")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, ServerConfig{RateLimitPerSecond: 0.001, RateLimitBurst: 2})
	for i := 0; i < 2; i++ {
		status, _ := env.call(nil, "charity_owner")
		require.Equal(t, http.StatusOK, status)
	}
	// Rotating X-Forwarded-For must not reset the budget of an untrusted peer.
	status, resp := env.call(map[string]string{"X-Forwarded-For": "198.51.100.7"}, "charity_owner")
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestClientSource(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "10.0.0.5", clientSource(req, false))
	require.Equal(t, "203.0.113.9", clientSource(req, true))
}

func TestHealthMetricsAndRequestID(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	resp, err := http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))

	env.call(nil, "charity_getPlatformStats")
	resp, err = http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "charity_rpc_requests_total")

	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/", strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"charity_owner","params":[]}`))
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "trace-me")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "trace-me", resp.Header.Get(requestIDHeader))
}

func TestEventsWebsocketStreamsCommittedEvents(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	env.send(env.owner, types.TxTypeRegisterCharity, nil, &types.RegisterCharityPayload{Name: "A", Payout: addrOf(env.payout)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/events?type=" + charity.EventTypeDonationMade
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return env.node.Events().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Rejected transactions never reach the stream.
	_, resp := env.send(env.donor, types.TxTypeDonate, big.NewInt(9_999), &types.DonatePayload{CharityID: 0})
	require.NotNil(t, resp.Error)
	env.send(env.owner, types.TxTypeDeactivateCharity, nil, &types.CharityRefPayload{CharityID: 0})
	env.send(env.owner, types.TxTypeReactivateCharity, nil, &types.CharityRefPayload{CharityID: 0})
	_, resp = env.send(env.donor, types.TxTypeDonate, big.NewInt(7), &types.DonatePayload{CharityID: 0, Message: "hi"})
	require.Nil(t, resp.Error)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, charity.EventTypeDonationMade, evt.Type)
	require.Equal(t, "7", evt.Attributes["amount"])
}
