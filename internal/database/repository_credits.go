package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrInsufficientCredits is returned when a deduction exceeds the combined balance
var ErrInsufficientCredits = errors.New("insufficient credits")

// GetUserCredits retrieves the credit balances for a user
func (r *Repository) GetUserCredits(ctx context.Context, userID string) (*UserCredits, error) {
	query := `
		SELECT user_id, free_balance, paid_balance, created_at, updated_at
		FROM user_credits
		WHERE user_id = $1
	`
	credits := &UserCredits{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&credits.UserID, &credits.FreeBalance, &credits.PaidBalance,
		&credits.CreatedAt, &credits.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credits for user %s: %w", userID, err)
	}
	return credits, nil
}

// GrantCredits adds to a user's balance, creating the row if missing
func (r *Repository) GrantCredits(ctx context.Context, userID string, free, paid decimal.Decimal) error {
	query := `
		INSERT INTO user_credits (user_id, free_balance, paid_balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			free_balance = user_credits.free_balance + EXCLUDED.free_balance,
			paid_balance = user_credits.paid_balance + EXCLUDED.paid_balance,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.Pool.Exec(ctx, query, userID, free, paid)
	if err != nil {
		return fmt.Errorf("failed to grant credits to user %s: %w", userID, err)
	}
	return nil
}

// ConsumeCredits deducts an amount from a user's balance inside a single
// transaction, draining the free balance before touching the paid balance.
// The row is locked for the duration so concurrent deductions serialize.
func (r *Repository) ConsumeCredits(ctx context.Context, userID string, amount decimal.Decimal, refType, refID, description string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid credit amount: %s", amount)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var free, paid decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT free_balance, paid_balance
		FROM user_credits
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&free, &paid)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrInsufficientCredits
		}
		return fmt.Errorf("failed to lock credits for user %s: %w", userID, err)
	}

	if free.Add(paid).LessThan(amount) {
		return ErrInsufficientCredits
	}

	freeUsed := decimal.Min(free, amount)
	paidUsed := amount.Sub(freeUsed)

	_, err = tx.Exec(ctx, `
		UPDATE user_credits
		SET free_balance = free_balance - $2,
		    paid_balance = paid_balance - $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $1
	`, userID, freeUsed, paidUsed)
	if err != nil {
		return fmt.Errorf("failed to deduct credits for user %s: %w", userID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_consumption (user_id, amount, from_free, from_paid, reference_type, reference_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, userID, amount, freeUsed, paidUsed, refType, refID, description)
	if err != nil {
		return fmt.Errorf("failed to record credit consumption for user %s: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit credit consumption: %w", err)
	}
	return nil
}

// GetCreditConsumption returns recent consumption rows for a user
func (r *Repository) GetCreditConsumption(ctx context.Context, userID string, limit int) ([]*CreditConsumption, error) {
	query := `
		SELECT id, user_id, amount, from_free, from_paid, reference_type, reference_id, description, created_at
		FROM credit_consumption
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit consumption: %w", err)
	}
	defer rows.Close()

	var records []*CreditConsumption
	for rows.Next() {
		rec := &CreditConsumption{}
		var refID, description *string
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Amount, &rec.FromFree, &rec.FromPaid,
			&rec.ReferenceType, &refID, &description, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit consumption: %w", err)
		}
		if refID != nil {
			rec.ReferenceID = *refID
		}
		if description != nil {
			rec.Description = *description
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credit consumption: %w", err)
	}
	return records, nil
}
