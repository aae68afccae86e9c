package database

import (
	"context"
	"fmt"
	"time"
)

// blockingStatuses are execution states that must reject a re-entry attempt
// with the same deterministic id. Everything except FAILED and CANCELLED
// blocks; FAILED rows are deleted before a fresh attempt.
var blockingStatuses = []string{
	ExecStatusPending,
	ExecStatusSubmitting,
	ExecStatusSubmitted,
	ExecStatusConfirmed,
	ExecStatusHolding,
	ExecStatusExited,
	ExecStatusInsufficientBalance,
	ExecStatusSuccess,
}

// CreateExecution inserts a new execution row in PENDING (or a side state)
func (r *Repository) CreateExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO auto_trade_executions (
			id, user_id, signal_id, token_symbol, chain, contract_address, dex,
			entry_amount_usdt, entry_amount_token, entry_price, fees,
			follow_strategy, strategy_id, is_alpha_token, signal_source,
			batch_id, batch_position, status, error_message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19
		)
		RETURNING created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		exec.ID, exec.UserID, exec.SignalID, exec.TokenSymbol, exec.Chain, exec.ContractAddress, exec.DEX,
		exec.EntryAmountUSDT, exec.EntryAmountToken, exec.EntryPrice, exec.Fees,
		exec.FollowStrategy, exec.StrategyID, exec.IsAlphaToken, exec.SignalSource,
		exec.BatchID, exec.BatchPosition, exec.Status, exec.ErrorMessage,
	).Scan(&exec.CreatedAt, &exec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", exec.ID, err)
	}
	return nil
}

// GetExecution retrieves an execution by id
func (r *Repository) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := executionSelectColumns + ` FROM auto_trade_executions WHERE id = $1`
	executions, err := r.scanExecutions(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, ErrNotFound
	}
	return executions[0], nil
}

// GetBlockingExecution returns the execution with the given id if its status
// blocks a re-entry attempt, or nil when the id is free to (re)use.
func (r *Repository) GetBlockingExecution(ctx context.Context, id string) (*Execution, error) {
	query := executionSelectColumns + `
		FROM auto_trade_executions
		WHERE id = $1 AND status = ANY($2)
	`
	executions, err := r.scanExecutions(ctx, query, id, blockingStatuses)
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, nil
	}
	return executions[0], nil
}

// DeleteFailedExecution removes a FAILED row so the deterministic id can be
// reused by a fresh attempt. Only FAILED rows may be deleted this way.
func (r *Repository) DeleteFailedExecution(ctx context.Context, id string) error {
	query := `DELETE FROM auto_trade_executions WHERE id = $1 AND status = 'FAILED'`
	if _, err := r.db.Pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete failed execution %s: %w", id, err)
	}
	return nil
}

// HasNonTerminalExecutionForToken reports whether the user has an execution
// on the token still in flight. Part of the per-user token-level entry mutex.
func (r *Repository) HasNonTerminalExecutionForToken(ctx context.Context, userID, tokenSymbol, chain string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM auto_trade_executions
			WHERE user_id = $1 AND token_symbol = $2 AND chain = $3
			  AND status NOT IN ('EXITED', 'FAILED', 'CANCELLED')
		)
	`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, userID, tokenSymbol, chain).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check non-terminal executions for %s: %w", tokenSymbol, err)
	}
	return exists, nil
}

// HasRecentTokenActivity reports whether the user traded the token, or has a
// closed trade on it, within the cooldown window.
func (r *Repository) HasRecentTokenActivity(ctx context.Context, userID, tokenSymbol, chain string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM auto_trade_executions
			WHERE user_id = $1 AND token_symbol = $2 AND chain = $3 AND created_at >= $4
		) OR EXISTS (
			SELECT 1 FROM auto_trade_history
			WHERE user_id = $1 AND token_symbol = $2 AND chain = $3 AND created_at >= $4
		)
	`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, userID, tokenSymbol, chain, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check recent activity for %s: %w", tokenSymbol, err)
	}
	return exists, nil
}

// UpdateExecutionStatus transitions an execution and optionally records an error
func (r *Repository) UpdateExecutionStatus(ctx context.Context, id, status string, errorMessage *string) error {
	query := `
		UPDATE auto_trade_executions
		SET status = $2, error_message = COALESCE($3, error_message), updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, id, status, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to update execution %s to %s: %w", id, status, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateExecutionSubmitted records the entry transaction hash and the DEX
// the quote routed through, and moves the row to SUBMITTED. The row was
// inserted before the quote ran, so the router is only known here.
func (r *Repository) UpdateExecutionSubmitted(ctx context.Context, id, txHash, dex string) error {
	query := `
		UPDATE auto_trade_executions
		SET status = 'SUBMITTED', entry_tx_hash = $2, dex = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, id, txHash, dex)
	if err != nil {
		return fmt.Errorf("failed to mark execution %s submitted: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateExecutionConfirmed records the confirmed entry fill
func (r *Repository) UpdateExecutionConfirmed(ctx context.Context, id string, entryPrice, entryAmountToken float64, executedAt time.Time) error {
	query := `
		UPDATE auto_trade_executions
		SET status = 'CONFIRMED', entry_price = $2, entry_amount_token = $3,
		    entry_executed_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, id, entryPrice, entryAmountToken, executedAt)
	if err != nil {
		return fmt.Errorf("failed to confirm execution %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateExecutionExitSubmitted records the exit transaction hash while the
// row stays HOLDING until the chain confirms.
func (r *Repository) UpdateExecutionExitSubmitted(ctx context.Context, id, exitTxHash, exitType string) error {
	query := `
		UPDATE auto_trade_executions
		SET exit_tx_hash = $2, exit_type = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, id, exitTxHash, exitType)
	if err != nil {
		return fmt.Errorf("failed to record exit submission for %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateExecutionExited finalises an exited execution with fill and pnl
func (r *Repository) UpdateExecutionExited(ctx context.Context, id string, exitPrice, exitAmountUSDT, pnlUSDT, pnlPct float64, exitType string, executedAt time.Time) error {
	query := `
		UPDATE auto_trade_executions
		SET status = 'EXITED', exit_price = $2, exit_amount_usdt = $3,
		    profit_loss_usdt = $4, profit_loss_pct = $5, exit_type = $6,
		    exit_executed_at = $7, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, id, exitPrice, exitAmountUSDT, pnlUSDT, pnlPct, exitType, executedAt)
	if err != nil {
		return fmt.Errorf("failed to mark execution %s exited: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecutionsByStatus retrieves executions in a given state, oldest first
func (r *Repository) GetExecutionsByStatus(ctx context.Context, status string) ([]*Execution, error) {
	query := executionSelectColumns + `
		FROM auto_trade_executions
		WHERE status = $1
		ORDER BY created_at
	`
	return r.scanExecutions(ctx, query, status)
}

// GetRecoverableExecutions returns CONFIRMED/HOLDING executions created
// within the recovery window, used by the startup sweep.
func (r *Repository) GetRecoverableExecutions(ctx context.Context, since time.Time) ([]*Execution, error) {
	query := executionSelectColumns + `
		FROM auto_trade_executions
		WHERE status IN ('CONFIRMED', 'HOLDING')
		  AND created_at > $1
		ORDER BY created_at
	`
	return r.scanExecutions(ctx, query, since)
}

// GetExecutionsMissingPosition finds CONFIRMED/HOLDING executions without a
// corresponding position row. Repair pass (i).
func (r *Repository) GetExecutionsMissingPosition(ctx context.Context, since time.Time) ([]*Execution, error) {
	query := executionSelectColumns + `
		FROM auto_trade_executions e
		WHERE e.status IN ('CONFIRMED', 'HOLDING')
		  AND e.created_at > $1
		  AND NOT EXISTS (
			SELECT 1 FROM auto_trade_positions p WHERE p.execution_id = e.id
		  )
		ORDER BY e.created_at
	`
	return r.scanExecutions(ctx, query, since)
}

// GetStuckExits finds HOLDING executions whose exit transaction was submitted
// but never resolved. Repair pass (ii).
func (r *Repository) GetStuckExits(ctx context.Context) ([]*Execution, error) {
	query := executionSelectColumns + `
		FROM auto_trade_executions
		WHERE status = 'HOLDING' AND exit_tx_hash IS NOT NULL
		ORDER BY updated_at
	`
	return r.scanExecutions(ctx, query)
}

// GetFailedExitExecutions finds FAILED executions that still have an open
// position, meaning the exit needs to be retried. Repair pass (iii).
func (r *Repository) GetFailedExitExecutions(ctx context.Context) ([]*Execution, error) {
	query := executionSelectColumns + `
		FROM auto_trade_executions e
		WHERE e.status = 'FAILED'
		  AND EXISTS (
			SELECT 1 FROM auto_trade_positions p
			WHERE p.execution_id = e.id AND p.status IN ('HOLDING', 'CLOSING')
		  )
		ORDER BY e.updated_at
	`
	return r.scanExecutions(ctx, query)
}

const executionSelectColumns = `
	SELECT id, user_id, signal_id, token_symbol, chain, contract_address, dex,
	       entry_amount_usdt, entry_amount_token, entry_price, entry_tx_hash,
	       exit_tx_hash, exit_price, exit_amount_usdt, exit_type,
	       profit_loss_usdt, profit_loss_pct, fees, follow_strategy, strategy_id,
	       is_alpha_token, signal_source, batch_id, batch_position, status,
	       error_message, created_at, entry_executed_at, exit_executed_at, updated_at`

func (r *Repository) scanExecutions(ctx context.Context, query string, args ...interface{}) ([]*Execution, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec := &Execution{}
		var contractAddress, dex, followStrategy, signalSource *string
		err := rows.Scan(
			&exec.ID, &exec.UserID, &exec.SignalID, &exec.TokenSymbol, &exec.Chain, &contractAddress, &dex,
			&exec.EntryAmountUSDT, &exec.EntryAmountToken, &exec.EntryPrice, &exec.EntryTxHash,
			&exec.ExitTxHash, &exec.ExitPrice, &exec.ExitAmountUSDT, &exec.ExitType,
			&exec.ProfitLossUSDT, &exec.ProfitLossPct, &exec.Fees, &followStrategy, &exec.StrategyID,
			&exec.IsAlphaToken, &signalSource, &exec.BatchID, &exec.BatchPosition, &exec.Status,
			&exec.ErrorMessage, &exec.CreatedAt, &exec.EntryExecutedAt, &exec.ExitExecutedAt, &exec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if contractAddress != nil {
			exec.ContractAddress = *contractAddress
		}
		if dex != nil {
			exec.DEX = *dex
		}
		if followStrategy != nil {
			exec.FollowStrategy = *followStrategy
		}
		if signalSource != nil {
			exec.SignalSource = *signalSource
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return executions, nil
}
