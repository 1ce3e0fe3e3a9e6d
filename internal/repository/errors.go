package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound indicates no user row exists for the identity
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientCredits indicates the balance is exhausted
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrSessionNotFound indicates the token matches no live session
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable indicates the backing store is unavailable
	ErrStoreUnavailable = errors.New("store unavailable")
)

// storeError tags an infrastructure failure with ErrStoreUnavailable so
// callers can tell an outage apart from a domain miss like ErrUserNotFound.
func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
