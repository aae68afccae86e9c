package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RebuildUserStats derives a user's statistics from history and open
// positions in one upsert. Running it twice produces identical rows, so the
// data-sync path can call it after every entry and exit.
func (r *Repository) RebuildUserStats(ctx context.Context, userID string, dayStart, weekStart time.Time) error {
	query := `
		WITH closed AS (
			SELECT
				COUNT(*) FILTER (WHERE exit_executed_at >= $2) AS today_trades,
				COALESCE(SUM(profit_loss_usdt) FILTER (WHERE exit_executed_at >= $2), 0) AS today_pnl_usdt,
				COALESCE(SUM(profit_loss_pct) FILTER (WHERE exit_executed_at >= $2), 0) AS today_pnl_pct,
				COUNT(*) FILTER (WHERE exit_executed_at >= $3) AS week_trades,
				COALESCE(SUM(profit_loss_usdt) FILTER (WHERE exit_executed_at >= $3), 0) AS week_pnl_usdt,
				COUNT(*) AS total_trades,
				COALESCE(SUM(profit_loss_usdt), 0) AS total_pnl_usdt,
				COUNT(*) FILTER (WHERE profit_loss_usdt > 0) AS total_wins,
				COALESCE(MAX(profit_loss_pct), 0) AS best_trade_pct,
				COALESCE(MIN(profit_loss_pct), 0) AS worst_trade_pct
			FROM auto_trade_history
			WHERE user_id = $1
		), open AS (
			SELECT
				COUNT(*) AS open_positions,
				COALESCE(SUM(entry_amount_usdt), 0) AS open_positions_value,
				COALESCE(SUM(unrealized_pnl_usdt), 0) AS unrealized_pnl_usdt
			FROM auto_trade_positions
			WHERE user_id = $1 AND status = 'HOLDING'
		)
		INSERT INTO auto_trade_user_stats (
			user_id, today_trades, today_pnl_usdt, today_pnl_pct,
			week_trades, week_pnl_usdt, total_trades, total_pnl_usdt,
			total_wins, win_rate, open_positions, open_positions_value,
			unrealized_pnl_usdt, best_trade_pct, worst_trade_pct, last_updated
		)
		SELECT
			$1, closed.today_trades, closed.today_pnl_usdt, closed.today_pnl_pct,
			closed.week_trades, closed.week_pnl_usdt, closed.total_trades, closed.total_pnl_usdt,
			closed.total_wins,
			CASE WHEN closed.total_trades > 0
				THEN closed.total_wins::float / closed.total_trades * 100
				ELSE 0
			END,
			open.open_positions, open.open_positions_value,
			open.unrealized_pnl_usdt, closed.best_trade_pct, closed.worst_trade_pct, NOW()
		FROM closed, open
		ON CONFLICT (user_id)
		DO UPDATE SET
			today_trades = EXCLUDED.today_trades,
			today_pnl_usdt = EXCLUDED.today_pnl_usdt,
			today_pnl_pct = EXCLUDED.today_pnl_pct,
			week_trades = EXCLUDED.week_trades,
			week_pnl_usdt = EXCLUDED.week_pnl_usdt,
			total_trades = EXCLUDED.total_trades,
			total_pnl_usdt = EXCLUDED.total_pnl_usdt,
			total_wins = EXCLUDED.total_wins,
			win_rate = EXCLUDED.win_rate,
			open_positions = EXCLUDED.open_positions,
			open_positions_value = EXCLUDED.open_positions_value,
			unrealized_pnl_usdt = EXCLUDED.unrealized_pnl_usdt,
			best_trade_pct = EXCLUDED.best_trade_pct,
			worst_trade_pct = EXCLUDED.worst_trade_pct,
			last_updated = NOW()
	`
	if _, err := r.db.Pool.Exec(ctx, query, userID, dayStart, weekStart); err != nil {
		return fmt.Errorf("failed to rebuild stats for user %s: %w", userID, err)
	}
	return nil
}

// GetUserStats retrieves a user's statistics row
func (r *Repository) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	query := `
		SELECT user_id, today_trades, today_pnl_usdt, today_pnl_pct,
		       week_trades, week_pnl_usdt, total_trades, total_pnl_usdt,
		       total_wins, win_rate, open_positions, open_positions_value,
		       unrealized_pnl_usdt, best_trade_pct, worst_trade_pct, last_updated
		FROM auto_trade_user_stats
		WHERE user_id = $1
	`
	stats := &UserStats{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&stats.UserID, &stats.TodayTrades, &stats.TodayPnLUSDT, &stats.TodayPnLPct,
		&stats.WeekTrades, &stats.WeekPnLUSDT, &stats.TotalTrades, &stats.TotalPnLUSDT,
		&stats.TotalWins, &stats.WinRate, &stats.OpenPositions, &stats.OpenPositionsValue,
		&stats.UnrealizedPnLUSDT, &stats.BestTradePct, &stats.WorstTradePct, &stats.LastUpdated,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get stats for user %s: %w", userID, err)
	}
	return stats, nil
}
