package repository

import (
	"context"
	"errors"

	"go-doc-recognizer/internal/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PostgresCreditStore implements CreditStore over a pgx connection pool.
type PostgresCreditStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCreditStore creates a credit store backed by Postgres.
func NewPostgresCreditStore(pool *pgxpool.Pool) *PostgresCreditStore {
	return &PostgresCreditStore{pool: pool}
}

// GetBalance returns the user's current credit balance.
func (s *PostgresCreditStore) GetBalance(ctx context.Context, userID string) (int, error) {
	var credits int
	err := s.pool.QueryRow(ctx,
		`SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, storeError("query balance", err)
	}
	return credits, nil
}

// EnsureUser inserts the user row with the free starting balance. A row that
// already exists wins the conflict and keeps its balance.
func (s *PostgresCreditStore) EnsureUser(ctx context.Context, userID string, seedCredits int) (int, error) {
	var credits int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, credits) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING credits`, userID, seedCredits).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race, the row exists now
		return s.GetBalance(ctx, userID)
	}
	if err != nil {
		return 0, storeError("seed user", err)
	}

	logger.WithFields(logrus.Fields{
		"user_id": userID,
		"credits": credits,
	}).Info("Seeded new user with starting credits")

	return credits, nil
}

// RecordAttempt writes the usage row and deducts a credit for successful
// attempts in a single transaction, so a success is never billed twice and
// never billed without its audit row.
func (s *PostgresCreditStore) RecordAttempt(ctx context.Context, attempt Attempt) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, storeError("begin transaction", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.WithError(rbErr).Warn("Failed to roll back attempt transaction")
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO ocr_results
		     (user_id, success, text_length, file_size, processing_time_ms, language)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`,
		attempt.UserID, attempt.Success, attempt.TextLength,
		attempt.FileSize, attempt.ProcessingTimeMs, attempt.Language)
	if err != nil {
		return 0, storeError("insert usage row", err)
	}

	var remaining int
	if attempt.Success {
		err = tx.QueryRow(ctx,
			`UPDATE users SET credits = credits - 1
			 WHERE id = $1 AND credits > 0
			 RETURNING credits`, attempt.UserID).Scan(&remaining)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientCredits
		}
		if err != nil {
			return 0, storeError("deduct credit", err)
		}
	} else {
		err = tx.QueryRow(ctx,
			`SELECT credits FROM users WHERE id = $1`, attempt.UserID).Scan(&remaining)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		if err != nil {
			return 0, storeError("query balance", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storeError("commit attempt", err)
	}

	logger.WithFields(logrus.Fields{
		"user_id":   attempt.UserID,
		"success":   attempt.Success,
		"remaining": remaining,
	}).Debug("Recorded recognition attempt")

	return remaining, nil
}
