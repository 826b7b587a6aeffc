// Package ledger keeps the per-user credit balance. Every balance change runs
// as a single conditional UPDATE plus an audit row in one transaction, so
// concurrent debits can never overdraw an account.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"retro-improver-backend/internal/models"
)

var (
	ErrInsufficientFunds = errors.New("insufficient credits")
	ErrInvalidAmount     = errors.New("amount must be positive")

	// ErrDuplicateReference is returned by Credit when the external reference
	// was already applied.
	ErrDuplicateReference = errors.New("credit reference already applied")
)

type Reason string

const (
	ReasonRestore     Reason = "restore"
	ReasonVideo       Reason = "video"
	ReasonRefund      Reason = "refund"
	ReasonPurchase    Reason = "purchase"
	ReasonSignupBonus Reason = "signup_bonus"
)

// Costs of the paid stages.
const (
	RestoreCost = 1
	VideoCost   = 3
)

type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Debit subtracts amount from the balance and returns the new balance. It
// fails with ErrInsufficientFunds, without changing anything, when the
// balance is lower than amount.
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, amount int, reason Reason, projectID uuid.UUID) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE users
			SET credits = credits - $1, updated_at = NOW()
			WHERE id = $2 AND credits >= $1
			RETURNING credits
		`, amount, userID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return l.explainMiss(ctx, tx, userID)
		}
		if err != nil {
			return fmt.Errorf("failed to debit credits: %w", err)
		}
		return record(ctx, tx, userID, -amount, reason, balance, projectID, "")
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit adds amount to the balance. A non-empty reference is recorded and
// may only be applied once.
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amount int, reason Reason, reference string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		if err := l.add(ctx, tx, userID, amount, &balance); err != nil {
			return err
		}
		return record(ctx, tx, userID, amount, reason, balance, uuid.Nil, reference)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Refund returns amount previously debited for projectID.
func (l *Ledger) Refund(ctx context.Context, userID uuid.UUID, amount int, projectID uuid.UUID) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		if err := l.add(ctx, tx, userID, amount, &balance); err != nil {
			return err
		}
		return record(ctx, tx, userID, amount, ReasonRefund, balance, projectID, "")
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	var balance int
	err := l.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user: %w", models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

func (l *Ledger) add(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int, balance *int) error {
	err := tx.QueryRowContext(ctx, `
		UPDATE users
		SET credits = credits + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING credits
	`, amount, userID).Scan(balance)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user: %w", models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to credit: %w", err)
	}
	return nil
}

// explainMiss tells a missing user apart from a short balance after the
// conditional debit matched no row.
func (l *Ledger) explainMiss(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error {
	var balance int
	err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user: %w", models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	return ErrInsufficientFunds
}

func record(ctx context.Context, tx *sql.Tx, userID uuid.UUID, delta int, reason Reason, balance int, projectID uuid.UUID, reference string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_id, delta, reason, balance_after, project_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, userID, delta, string(reason), balance,
		uuid.NullUUID{UUID: projectID, Valid: projectID != uuid.Nil},
		sql.NullString{String: reference, Valid: reference != ""},
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func (l *Ledger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
