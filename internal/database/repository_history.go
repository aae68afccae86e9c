package database

import (
	"context"
	"fmt"
	"time"
)

// InsertHistory appends the closed projection of an execution. Idempotent on
// execution_id so the exit path can be replayed by the repair loop.
func (r *Repository) InsertHistory(ctx context.Context, record *HistoryRecord) error {
	query := `
		INSERT INTO auto_trade_history (
			execution_id, user_id, signal_id, token_symbol, chain,
			entry_price, exit_price, entry_amount_usdt, exit_amount_usdt,
			profit_loss_usdt, profit_loss_pct, fees, exit_type,
			follow_strategy, signal_source, is_alpha_token,
			holding_duration_seconds, entry_executed_at, exit_executed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19
		)
		ON CONFLICT (execution_id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		record.ExecutionID, record.UserID, record.SignalID, record.TokenSymbol, record.Chain,
		record.EntryPrice, record.ExitPrice, record.EntryAmountUSDT, record.ExitAmountUSDT,
		record.ProfitLossUSDT, record.ProfitLossPct, record.Fees, record.ExitType,
		record.FollowStrategy, record.SignalSource, record.IsAlphaToken,
		record.HoldingDurationSeconds, record.EntryExecutedAt, record.ExitExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history for execution %s: %w", record.ExecutionID, err)
	}
	return nil
}

// GetHistoryByExecution retrieves the closed record for one execution
func (r *Repository) GetHistoryByExecution(ctx context.Context, executionID string) (*HistoryRecord, error) {
	query := historySelectColumns + ` FROM auto_trade_history WHERE execution_id = $1`
	records, err := r.scanHistory(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

// GetUserHistory retrieves a user's closed trades, newest first
func (r *Repository) GetUserHistory(ctx context.Context, userID string, limit, offset int) ([]*HistoryRecord, error) {
	query := historySelectColumns + `
		FROM auto_trade_history
		WHERE user_id = $1
		ORDER BY exit_executed_at DESC NULLS LAST
		LIMIT $2 OFFSET $3
	`
	return r.scanHistory(ctx, query, userID, limit, offset)
}

// GetTodayRealizedPnLPct sums today's realised pnl percentage for a user.
// Feeds the daily-loss circuit breaker.
func (r *Repository) GetTodayRealizedPnLPct(ctx context.Context, userID string, dayStart time.Time) (float64, error) {
	var pnlPct float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(profit_loss_pct), 0)
		 FROM auto_trade_history
		 WHERE user_id = $1 AND exit_executed_at >= $2`,
		userID, dayStart,
	).Scan(&pnlPct)
	if err != nil {
		return 0, fmt.Errorf("failed to sum today's pnl for %s: %w", userID, err)
	}
	return pnlPct, nil
}

const historySelectColumns = `
	SELECT id, execution_id, user_id, signal_id, token_symbol, chain,
	       entry_price, exit_price, entry_amount_usdt, exit_amount_usdt,
	       profit_loss_usdt, profit_loss_pct, fees, exit_type,
	       follow_strategy, signal_source, is_alpha_token,
	       holding_duration_seconds, entry_executed_at, exit_executed_at, created_at`

func (r *Repository) scanHistory(ctx context.Context, query string, args ...interface{}) ([]*HistoryRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []*HistoryRecord
	for rows.Next() {
		record := &HistoryRecord{}
		var signalID, exitType, followStrategy, signalSource *string
		err := rows.Scan(
			&record.ID, &record.ExecutionID, &record.UserID, &signalID, &record.TokenSymbol, &record.Chain,
			&record.EntryPrice, &record.ExitPrice, &record.EntryAmountUSDT, &record.ExitAmountUSDT,
			&record.ProfitLossUSDT, &record.ProfitLossPct, &record.Fees, &exitType,
			&followStrategy, &signalSource, &record.IsAlphaToken,
			&record.HoldingDurationSeconds, &record.EntryExecutedAt, &record.ExitExecutedAt, &record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		if signalID != nil {
			record.SignalID = *signalID
		}
		if exitType != nil {
			record.ExitType = *exitType
		}
		if followStrategy != nil {
			record.FollowStrategy = *followStrategy
		}
		if signalSource != nil {
			record.SignalSource = *signalSource
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return records, nil
}
