package database

import (
	"context"
	"fmt"
)

// CreateBatch persists a new batch run in EXECUTING state
func (r *Repository) CreateBatch(ctx context.Context, batch *Batch) error {
	query := `
		INSERT INTO auto_trade_batches (
			id, signal_id, total_users, total_amount_usdt,
			batch_count, batch_size, current_batch, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		batch.ID, batch.SignalID, batch.TotalUsers, batch.TotalAmountUSDT,
		batch.BatchCount, batch.BatchSize, batch.CurrentBatch, batch.Status,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create batch %s: %w", batch.ID, err)
	}
	return nil
}

// GetBatch retrieves a batch by id
func (r *Repository) GetBatch(ctx context.Context, id string) (*Batch, error) {
	query := batchSelectColumns + ` FROM auto_trade_batches WHERE id = $1`
	batches, err := r.scanBatches(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, ErrNotFound
	}
	return batches[0], nil
}

// HasBatchForSignal reports whether a batch run already exists for a signal.
// Guards against a duplicate signal delivery creating a second run.
func (r *Repository) HasBatchForSignal(ctx context.Context, signalID string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM auto_trade_batches WHERE signal_id = $1)`,
		signalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check batch for signal %s: %w", signalID, err)
	}
	return exists, nil
}

// UpdateBatchProgress advances the per-batch counters
func (r *Repository) UpdateBatchProgress(ctx context.Context, id string, currentBatch, completedBatches, failedBatches int) error {
	query := `
		UPDATE auto_trade_batches
		SET current_batch = $2, completed_batches = $3, failed_batches = $4, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, id, currentBatch, completedBatches, failedBatches)
	if err != nil {
		return fmt.Errorf("failed to update batch %s progress: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeBatch sets the terminal status for a batch run
func (r *Repository) FinalizeBatch(ctx context.Context, id, status string, errorMessage *string) error {
	query := `
		UPDATE auto_trade_batches
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, id, status, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to finalize batch %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const batchSelectColumns = `
	SELECT id, signal_id, total_users, total_amount_usdt, batch_count, batch_size,
	       current_batch, completed_batches, failed_batches, status, error_message,
	       created_at, updated_at`

func (r *Repository) scanBatches(ctx context.Context, query string, args ...interface{}) ([]*Batch, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch := &Batch{}
		err := rows.Scan(
			&batch.ID, &batch.SignalID, &batch.TotalUsers, &batch.TotalAmountUSDT,
			&batch.BatchCount, &batch.BatchSize, &batch.CurrentBatch,
			&batch.CompletedBatches, &batch.FailedBatches, &batch.Status, &batch.ErrorMessage,
			&batch.CreatedAt, &batch.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}
	return batches, nil
}
