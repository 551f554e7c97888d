package charity

import (
	"errors"
	"fmt"
)

// Error classes. Every rejected transition wraps exactly one of these so
// callers can tell them apart with errors.Is.
var (
	ErrUnauthorized      = errors.New("charity: unauthorized")
	ErrNotFound          = errors.New("charity: not found")
	ErrInvalidArgument   = errors.New("charity: invalid argument")
	ErrInsufficientFunds = errors.New("charity: insufficient funds")
	ErrInactive          = errors.New("charity: inactive")
	ErrTransferFailed    = errors.New("charity: transfer failed")
)

var (
	errNilState     = errors.New("charity engine: state not configured")
	errNilVault     = errors.New("charity engine: vault not configured")
	errOwnerNotSet  = errors.New("charity engine: owner not initialised")
	errOwnerChanged = errors.New("charity engine: owner already initialised with a different address")
)

var classes = []error{
	ErrUnauthorized,
	ErrNotFound,
	ErrInvalidArgument,
	ErrInsufficientFunds,
	ErrInactive,
	ErrTransferFailed,
}

// Classify returns the error class wrapped by err, or nil when err carries
// none (for example a storage failure).
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, class := range classes {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}

func transferError(op string, err error) error {
	if Classify(err) != nil {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrTransferFailed, op, err)
}
