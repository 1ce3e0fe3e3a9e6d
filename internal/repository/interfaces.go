package repository

import "context"

// Attempt is one recognition attempt to be recorded in the usage trail.
// Every terminal outcome is recorded, including failures (with zero text
// length); only successful attempts consume a credit.
type Attempt struct {
	UserID           string
	Success          bool
	TextLength       int
	FileSize         int64
	ProcessingTimeMs int64
	Language         string
}

// CreditStore defines credit balance and usage-recording operations.
type CreditStore interface {
	// GetBalance returns the user's current credit balance
	GetBalance(ctx context.Context, userID string) (int, error)

	// EnsureUser creates the user row with the free starting balance when
	// the identity has never been seen, and returns the resulting balance.
	// Existing rows are left untouched.
	EnsureUser(ctx context.Context, userID string, seedCredits int) (int, error)

	// RecordAttempt writes the usage row and, for successful attempts,
	// decrements the balance in the same transaction. Returns the remaining
	// balance. Fails with ErrInsufficientCredits when a successful attempt
	// finds no credit left to deduct.
	RecordAttempt(ctx context.Context, attempt Attempt) (int, error)
}

// SessionStore resolves bearer tokens to verified user identities.
type SessionStore interface {
	// Resolve returns the user id for a live session token
	Resolve(ctx context.Context, token string) (string, error)
}
