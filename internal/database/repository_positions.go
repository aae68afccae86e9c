package database

import (
	"context"
	"fmt"
)

// UpsertPosition creates or refreshes a position row. Idempotent on id so
// the data-sync backfill can run repeatedly.
func (r *Repository) UpsertPosition(ctx context.Context, position *Position) error {
	query := `
		INSERT INTO auto_trade_positions (
			id, user_id, execution_id, signal_id, token_symbol, chain,
			contract_address, dex, entry_price, entry_amount_usdt, entry_amount_token,
			current_token_balance, stop_loss_price, take_profit_price, atr_value,
			highest_price, trailing_stop_activated, trailing_stop_price, stop_loss_type,
			current_price, unrealized_pnl_usdt, unrealized_pnl_pct, is_alpha_token,
			signal_source, partial_sold_pct, opened_at, status
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22, $23,
			$24, $25, $26, $27
		)
		ON CONFLICT (id)
		DO UPDATE SET
			current_token_balance = EXCLUDED.current_token_balance,
			stop_loss_price = EXCLUDED.stop_loss_price,
			take_profit_price = EXCLUDED.take_profit_price,
			atr_value = EXCLUDED.atr_value,
			highest_price = EXCLUDED.highest_price,
			current_price = EXCLUDED.current_price,
			unrealized_pnl_usdt = EXCLUDED.unrealized_pnl_usdt,
			unrealized_pnl_pct = EXCLUDED.unrealized_pnl_pct,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		position.ID, position.UserID, position.ExecutionID, position.SignalID, position.TokenSymbol, position.Chain,
		position.ContractAddress, position.DEX, position.EntryPrice, position.EntryAmountUSDT, position.EntryAmountToken,
		position.CurrentTokenBalance, position.StopLossPrice, position.TakeProfitPrice, position.ATRValue,
		position.HighestPrice, position.TrailingStopActivated, position.TrailingStopPrice, position.StopLossType,
		position.CurrentPrice, position.UnrealizedPnLUSDT, position.UnrealizedPnLPct, position.IsAlphaToken,
		position.SignalSource, position.PartialSoldPct, position.OpenedAt, position.Status,
	).Scan(&position.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", position.ID, err)
	}
	return nil
}

// GetPosition retrieves a position by id
func (r *Repository) GetPosition(ctx context.Context, id string) (*Position, error) {
	query := positionSelectColumns + ` FROM auto_trade_positions WHERE id = $1`
	positions, err := r.scanPositions(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, ErrNotFound
	}
	return positions[0], nil
}

// GetPositionByExecution retrieves the position owned by an execution
func (r *Repository) GetPositionByExecution(ctx context.Context, executionID string) (*Position, error) {
	query := positionSelectColumns + ` FROM auto_trade_positions WHERE execution_id = $1`
	positions, err := r.scanPositions(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, ErrNotFound
	}
	return positions[0], nil
}

// GetHoldingPositions retrieves all open positions, oldest first
func (r *Repository) GetHoldingPositions(ctx context.Context) ([]*Position, error) {
	query := positionSelectColumns + ` FROM auto_trade_positions WHERE status = 'HOLDING' ORDER BY opened_at`
	return r.scanPositions(ctx, query)
}

// GetHoldingPositionsByUser retrieves a user's open positions
func (r *Repository) GetHoldingPositionsByUser(ctx context.Context, userID string) ([]*Position, error) {
	query := positionSelectColumns + `
		FROM auto_trade_positions
		WHERE user_id = $1 AND status = 'HOLDING'
		ORDER BY opened_at
	`
	return r.scanPositions(ctx, query, userID)
}

// GetHoldingPositionsForToken retrieves open positions on a token across all users
func (r *Repository) GetHoldingPositionsForToken(ctx context.Context, tokenSymbol, chain string) ([]*Position, error) {
	query := positionSelectColumns + `
		FROM auto_trade_positions
		WHERE token_symbol = $1 AND chain = $2 AND status = 'HOLDING'
		ORDER BY opened_at
	`
	return r.scanPositions(ctx, query, tokenSymbol, chain)
}

// GetHoldingPositionsForUsersOnToken retrieves open positions on a token
// restricted to the given users. Used by the SELL fanout.
func (r *Repository) GetHoldingPositionsForUsersOnToken(ctx context.Context, userIDs []string, tokenSymbol, chain string) ([]*Position, error) {
	query := positionSelectColumns + `
		FROM auto_trade_positions
		WHERE user_id = ANY($1) AND token_symbol = $2 AND chain = $3 AND status = 'HOLDING'
		ORDER BY opened_at
	`
	return r.scanPositions(ctx, query, userIDs, tokenSymbol, chain)
}

// CountHoldingPositions counts a user's open positions
func (r *Repository) CountHoldingPositions(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM auto_trade_positions WHERE user_id = $1 AND status = 'HOLDING'`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count holding positions for %s: %w", userID, err)
	}
	return count, nil
}

// GetHoldingValue returns the entry value of a user's open positions,
// optionally restricted to one token. Used for exposure checks.
func (r *Repository) GetHoldingValue(ctx context.Context, userID, tokenSymbol string) (float64, error) {
	var value float64
	var err error
	if tokenSymbol != "" {
		err = r.db.Pool.QueryRow(ctx,
			`SELECT COALESCE(SUM(entry_amount_usdt), 0) FROM auto_trade_positions
			 WHERE user_id = $1 AND token_symbol = $2 AND status = 'HOLDING'`,
			userID, tokenSymbol,
		).Scan(&value)
	} else {
		err = r.db.Pool.QueryRow(ctx,
			`SELECT COALESCE(SUM(entry_amount_usdt), 0) FROM auto_trade_positions
			 WHERE user_id = $1 AND status = 'HOLDING'`,
			userID,
		).Scan(&value)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to sum holding value for %s: %w", userID, err)
	}
	return value, nil
}

// HasHoldingPositionForToken reports whether the user already holds the
// token. Part of the per-user token-level entry mutex.
func (r *Repository) HasHoldingPositionForToken(ctx context.Context, userID, tokenSymbol, chain string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM auto_trade_positions
			WHERE user_id = $1 AND token_symbol = $2 AND chain = $3 AND status = 'HOLDING'
		)
	`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, userID, tokenSymbol, chain).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check holdings for %s: %w", tokenSymbol, err)
	}
	return exists, nil
}

// UpdatePositionPrice writes the latest price, pnl and highest-price ratchet
func (r *Repository) UpdatePositionPrice(ctx context.Context, id string, currentPrice, unrealizedUSDT, unrealizedPct, highestPrice float64) error {
	query := `
		UPDATE auto_trade_positions
		SET current_price = $2, unrealized_pnl_usdt = $3, unrealized_pnl_pct = $4,
		    highest_price = $5, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.Pool.Exec(ctx, query, id, currentPrice, unrealizedUSDT, unrealizedPct, highestPrice); err != nil {
		return fmt.Errorf("failed to update position %s price: %w", id, err)
	}
	return nil
}

// UpdatePositionTrailing records trailing-stop activation and its price
func (r *Repository) UpdatePositionTrailing(ctx context.Context, id string, activated bool, trailingPrice float64) error {
	query := `
		UPDATE auto_trade_positions
		SET trailing_stop_activated = $2, trailing_stop_price = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.Pool.Exec(ctx, query, id, activated, trailingPrice); err != nil {
		return fmt.Errorf("failed to update position %s trailing stop: %w", id, err)
	}
	return nil
}

// UpdatePositionPartialSold tracks staged take-profit progress
func (r *Repository) UpdatePositionPartialSold(ctx context.Context, id string, partialSoldPct, currentTokenBalance float64) error {
	query := `
		UPDATE auto_trade_positions
		SET partial_sold_pct = $2, current_token_balance = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.Pool.Exec(ctx, query, id, partialSoldPct, currentTokenBalance); err != nil {
		return fmt.Errorf("failed to update position %s partial sold: %w", id, err)
	}
	return nil
}

// UpdatePositionStopLevels rewrites the stop-loss and take-profit prices
func (r *Repository) UpdatePositionStopLevels(ctx context.Context, id string, stopLossPrice, takeProfitPrice float64) error {
	query := `
		UPDATE auto_trade_positions
		SET stop_loss_price = $2, take_profit_price = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.Pool.Exec(ctx, query, id, stopLossPrice, takeProfitPrice); err != nil {
		return fmt.Errorf("failed to update position %s stop levels: %w", id, err)
	}
	return nil
}

// ClaimPositionForClose atomically moves a HOLDING position to CLOSING and
// reports whether this caller won the claim. A second concurrent exit
// attempt sees false and must no-op.
func (r *Repository) ClaimPositionForClose(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE auto_trade_positions
		SET status = 'CLOSING', updated_at = NOW()
		WHERE id = $1 AND status = 'HOLDING'
	`
	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim position %s for close: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

// UpdatePositionStatus sets the lifecycle status directly. Used to release a
// CLOSING claim after a failed exit submission.
func (r *Repository) UpdatePositionStatus(ctx context.Context, id, status string) error {
	query := `UPDATE auto_trade_positions SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update position %s status: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePosition removes a position row (after exit or as orphan cleanup)
func (r *Repository) DeletePosition(ctx context.Context, id string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM auto_trade_positions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", id, err)
	}
	return nil
}

// GetOrphanPositions finds positions whose execution is EXITED or gone.
// Repair pass (iv).
func (r *Repository) GetOrphanPositions(ctx context.Context) ([]*Position, error) {
	query := positionSelectColumns + `
		FROM auto_trade_positions p
		WHERE NOT EXISTS (
			SELECT 1 FROM auto_trade_executions e
			WHERE e.id = p.execution_id AND e.status != 'EXITED'
		)
	`
	return r.scanPositions(ctx, query)
}

const positionSelectColumns = `
	SELECT id, user_id, execution_id, signal_id, token_symbol, chain,
	       contract_address, dex, entry_price, entry_amount_usdt, entry_amount_token,
	       current_token_balance, stop_loss_price, take_profit_price, atr_value,
	       highest_price, trailing_stop_activated, trailing_stop_price, stop_loss_type,
	       current_price, unrealized_pnl_usdt, unrealized_pnl_pct, is_alpha_token,
	       signal_source, partial_sold_pct, opened_at, status, updated_at`

func (r *Repository) scanPositions(ctx context.Context, query string, args ...interface{}) ([]*Position, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		position := &Position{}
		var signalID, contractAddress, dex, signalSource *string
		err := rows.Scan(
			&position.ID, &position.UserID, &position.ExecutionID, &signalID, &position.TokenSymbol, &position.Chain,
			&contractAddress, &dex, &position.EntryPrice, &position.EntryAmountUSDT, &position.EntryAmountToken,
			&position.CurrentTokenBalance, &position.StopLossPrice, &position.TakeProfitPrice, &position.ATRValue,
			&position.HighestPrice, &position.TrailingStopActivated, &position.TrailingStopPrice, &position.StopLossType,
			&position.CurrentPrice, &position.UnrealizedPnLUSDT, &position.UnrealizedPnLPct, &position.IsAlphaToken,
			&signalSource, &position.PartialSoldPct, &position.OpenedAt, &position.Status, &position.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if signalID != nil {
			position.SignalID = *signalID
		}
		if contractAddress != nil {
			position.ContractAddress = *contractAddress
		}
		if dex != nil {
			position.DEX = *dex
		}
		if signalSource != nil {
			position.SignalSource = *signalSource
		}
		positions = append(positions, position)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}
