package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	ledgererrors "charityledger/core/errors"
	"charityledger/core/state"
	"charityledger/native/charity"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError        = -32700
	codeInvalidRequest    = -32600
	codeMethodNotFound    = -32601
	codeInvalidParams     = -32602
	codeServerError       = -32000
	codeUnauthorized      = -32001
	codeNotFound          = -32004
	codeInsufficientFunds = -32005
	codeInactive          = -32006
	codeTransferFailed    = -32007
	codeTxRejected        = -32010
	codeRateLimited       = -32020
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object. status is the HTTP status written
// alongside it.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

func (e *RPCError) Error() string { return e.Message }

func newError(status, code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data, status: status}
}

func invalidParams(message string, data interface{}) *RPCError {
	return newError(http.StatusBadRequest, codeInvalidParams, message, data)
}

func writeError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	status := rpcErr.status
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// ledgerError maps a ledger failure onto a JSON-RPC error. Each failure class
// has its own code so clients can branch without parsing messages.
func ledgerError(err error) *RPCError {
	switch charity.Classify(err) {
	case charity.ErrUnauthorized:
		return newError(http.StatusForbidden, codeUnauthorized, "unauthorized", err.Error())
	case charity.ErrNotFound:
		return newError(http.StatusNotFound, codeNotFound, "not found", err.Error())
	case charity.ErrInvalidArgument:
		return invalidParams("invalid argument", err.Error())
	case charity.ErrInsufficientFunds:
		return newError(http.StatusConflict, codeInsufficientFunds, "insufficient funds", err.Error())
	case charity.ErrInactive:
		return newError(http.StatusConflict, codeInactive, "charity inactive", err.Error())
	case charity.ErrTransferFailed:
		return newError(http.StatusBadGateway, codeTransferFailed, "transfer failed", err.Error())
	}
	switch {
	case errors.Is(err, ledgererrors.ErrInvalidSignature),
		errors.Is(err, ledgererrors.ErrWrongChain),
		errors.Is(err, ledgererrors.ErrBadNonce),
		errors.Is(err, ledgererrors.ErrUnexpectedValue),
		errors.Is(err, ledgererrors.ErrMalformedPayload):
		return newError(http.StatusBadRequest, codeTxRejected, "transaction rejected", err.Error())
	case errors.Is(err, ledgererrors.ErrNotInitialized):
		return newError(http.StatusServiceUnavailable, codeServerError, "ledger not initialised", nil)
	case errors.Is(err, state.ErrBalanceOverflow):
		return invalidParams("balance overflow", err.Error())
	default:
		return newError(http.StatusInternalServerError, codeServerError, "internal error", nil)
	}
}
