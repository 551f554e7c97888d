package errors

import stderrors "errors"

// Admission errors raised before a transaction reaches the ledger engine.
var (
	ErrInvalidSignature = stderrors.New("tx: invalid signature")
	ErrWrongChain       = stderrors.New("tx: wrong chain id")
	ErrBadNonce         = stderrors.New("tx: unexpected nonce")
	ErrUnexpectedValue  = stderrors.New("tx: value only allowed on donations")
	ErrMalformedPayload = stderrors.New("tx: malformed payload")
	ErrNotInitialized   = stderrors.New("node: ledger not initialised")
)
