package market

import (
	"errors"
	"fmt"
)

// Error kinds. Every operation fails atomically with exactly one of these;
// callers match with errors.Is and read the wrapped reason.
var (
	ErrValidation   = errors.New("market: validation failed")
	ErrUnauthorized = errors.New("market: unauthorized")
	ErrState        = errors.New("market: invalid task state")
	ErrPolicy       = errors.New("market: policy rejection")
	ErrLedger       = errors.New("market: ledger transfer failed")
	ErrNotFound     = errors.New("market: not found")
	ErrConflict     = errors.New("market: already exists")
)

func wrapValidation(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

func wrapPolicy(reason string) error {
	return fmt.Errorf("%w: %s", ErrPolicy, reason)
}

func wrapState(reason string) error {
	return fmt.Errorf("%w: %s", ErrState, reason)
}

func wrapUnauthorized(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
}
