package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertStrategyConfig creates or replaces a user's strategy configuration
func (r *Repository) UpsertStrategyConfig(ctx context.Context, config *StrategyConfig) error {
	chainsJSON, err := json.Marshal(config.Chains)
	if err != nil {
		return fmt.Errorf("failed to marshal chains: %w", err)
	}
	whitelistJSON, err := json.Marshal(config.Whitelist)
	if err != nil {
		return fmt.Errorf("failed to marshal whitelist: %w", err)
	}
	blacklistJSON, err := json.Marshal(config.Blacklist)
	if err != nil {
		return fmt.Errorf("failed to marshal blacklist: %w", err)
	}

	query := `
		INSERT INTO auto_trade_config (
			user_id, wallet_address, privy_user_id, enabled, chains,
			follow_strategy, strategy_id, trade_amount, max_slippage, max_positions,
			take_profit_mode, stop_loss_mode, stop_loss_pct, take_profit_pct,
			trailing_activation_pct, daily_loss_limit, single_token_max_percent,
			min_liquidity, whitelist, blacklist, usdt_balance, gas_balance, paused_until
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17,
			$18, $19, $20, $21, $22, $23
		)
		ON CONFLICT (user_id, strategy_id)
		DO UPDATE SET
			wallet_address = EXCLUDED.wallet_address,
			privy_user_id = EXCLUDED.privy_user_id,
			enabled = EXCLUDED.enabled,
			chains = EXCLUDED.chains,
			follow_strategy = EXCLUDED.follow_strategy,
			trade_amount = EXCLUDED.trade_amount,
			max_slippage = EXCLUDED.max_slippage,
			max_positions = EXCLUDED.max_positions,
			take_profit_mode = EXCLUDED.take_profit_mode,
			stop_loss_mode = EXCLUDED.stop_loss_mode,
			stop_loss_pct = EXCLUDED.stop_loss_pct,
			take_profit_pct = EXCLUDED.take_profit_pct,
			trailing_activation_pct = EXCLUDED.trailing_activation_pct,
			daily_loss_limit = EXCLUDED.daily_loss_limit,
			single_token_max_percent = EXCLUDED.single_token_max_percent,
			min_liquidity = EXCLUDED.min_liquidity,
			whitelist = EXCLUDED.whitelist,
			blacklist = EXCLUDED.blacklist,
			usdt_balance = EXCLUDED.usdt_balance,
			gas_balance = EXCLUDED.gas_balance,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err = r.db.Pool.QueryRow(ctx, query,
		config.UserID, config.WalletAddress, config.PrivyUserID, config.Enabled, chainsJSON,
		config.FollowStrategy, config.StrategyID, config.TradeAmount, config.MaxSlippage, config.MaxPositions,
		config.TakeProfitMode, config.StopLossMode, config.StopLossPct, config.TakeProfitPct,
		config.TrailingActivationPct, config.DailyLossLimit, config.SingleTokenMaxPercent,
		config.MinLiquidity, whitelistJSON, blacklistJSON, config.USDTBalance, config.GasBalance, config.PausedUntil,
	).Scan(&config.ID, &config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert strategy config for user %s: %w", config.UserID, err)
	}
	return nil
}

// GetStrategyConfig retrieves one user's config for a strategy. An empty
// strategyID addresses the user's default config.
func (r *Repository) GetStrategyConfig(ctx context.Context, userID, strategyID string) (*StrategyConfig, error) {
	query := configSelectColumns + ` FROM auto_trade_config WHERE user_id = $1 AND strategy_id = $2`
	configs, err := r.scanConfigs(ctx, query, userID, strategyID)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, ErrNotFound
	}
	return configs[0], nil
}

// GetUserConfigs retrieves all of a user's strategy configs
func (r *Repository) GetUserConfigs(ctx context.Context, userID string) ([]*StrategyConfig, error) {
	query := configSelectColumns + ` FROM auto_trade_config WHERE user_id = $1 ORDER BY strategy_id`
	return r.scanConfigs(ctx, query, userID)
}

// GetConfigsByWallet retrieves configs by wallet address
func (r *Repository) GetConfigsByWallet(ctx context.Context, walletAddress string) ([]*StrategyConfig, error) {
	query := configSelectColumns + ` FROM auto_trade_config WHERE wallet_address = $1 ORDER BY strategy_id`
	return r.scanConfigs(ctx, query, walletAddress)
}

// GetEnabledConfigs retrieves all enabled configs, optionally filtered to one
// strategy id. Pause, follow-strategy and list filtering happen in the risk
// controller where the signal is in scope.
func (r *Repository) GetEnabledConfigs(ctx context.Context, strategyID string) ([]*StrategyConfig, error) {
	if strategyID != "" {
		query := configSelectColumns + ` FROM auto_trade_config WHERE enabled = TRUE AND strategy_id = $1`
		return r.scanConfigs(ctx, query, strategyID)
	}
	query := configSelectColumns + ` FROM auto_trade_config WHERE enabled = TRUE`
	return r.scanConfigs(ctx, query)
}

// SetAutoTradeEnabled flips the enabled flag on every config of a user
func (r *Repository) SetAutoTradeEnabled(ctx context.Context, userID string, enabled bool) error {
	query := `UPDATE auto_trade_config SET enabled = $2, updated_at = NOW() WHERE user_id = $1`
	result, err := r.db.Pool.Exec(ctx, query, userID, enabled)
	if err != nil {
		return fmt.Errorf("failed to toggle auto trade for user %s: %w", userID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPausedUntil sets the circuit-breaker pause on every config of a user
func (r *Repository) SetPausedUntil(ctx context.Context, userID string, until time.Time) error {
	query := `UPDATE auto_trade_config SET paused_until = $2, updated_at = NOW() WHERE user_id = $1`
	if _, err := r.db.Pool.Exec(ctx, query, userID, until); err != nil {
		return fmt.Errorf("failed to pause user %s: %w", userID, err)
	}
	return nil
}

// ClearPause removes the circuit-breaker pause for a user
func (r *Repository) ClearPause(ctx context.Context, userID string) error {
	query := `UPDATE auto_trade_config SET paused_until = NULL, updated_at = NOW() WHERE user_id = $1`
	if _, err := r.db.Pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to unpause user %s: %w", userID, err)
	}
	return nil
}

// ClearExpiredPauses unpauses every config whose pause window has passed and
// returns how many rows were cleared.
func (r *Repository) ClearExpiredPauses(ctx context.Context) (int64, error) {
	query := `
		UPDATE auto_trade_config
		SET paused_until = NULL, updated_at = NOW()
		WHERE paused_until IS NOT NULL AND paused_until <= NOW()
	`
	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired pauses: %w", err)
	}
	return result.RowsAffected(), nil
}

// UpdateCachedBalances refreshes the cached wallet balances on a config
func (r *Repository) UpdateCachedBalances(ctx context.Context, userID string, usdtBalance, gasBalance float64) error {
	query := `
		UPDATE auto_trade_config
		SET usdt_balance = $2, gas_balance = $3, updated_at = NOW()
		WHERE user_id = $1
	`
	if _, err := r.db.Pool.Exec(ctx, query, userID, usdtBalance, gasBalance); err != nil {
		return fmt.Errorf("failed to update cached balances for user %s: %w", userID, err)
	}
	return nil
}

const configSelectColumns = `
	SELECT id, user_id, wallet_address, privy_user_id, enabled, chains,
	       follow_strategy, strategy_id, trade_amount, max_slippage, max_positions,
	       take_profit_mode, stop_loss_mode, stop_loss_pct, take_profit_pct,
	       trailing_activation_pct, daily_loss_limit, single_token_max_percent,
	       min_liquidity, whitelist, blacklist, usdt_balance, gas_balance,
	       paused_until, created_at, updated_at`

func (r *Repository) scanConfigs(ctx context.Context, query string, args ...interface{}) ([]*StrategyConfig, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy configs: %w", err)
	}
	defer rows.Close()

	var configs []*StrategyConfig
	for rows.Next() {
		config := &StrategyConfig{}
		var chainsJSON, whitelistJSON, blacklistJSON []byte
		err := rows.Scan(
			&config.ID, &config.UserID, &config.WalletAddress, &config.PrivyUserID, &config.Enabled, &chainsJSON,
			&config.FollowStrategy, &config.StrategyID, &config.TradeAmount, &config.MaxSlippage, &config.MaxPositions,
			&config.TakeProfitMode, &config.StopLossMode, &config.StopLossPct, &config.TakeProfitPct,
			&config.TrailingActivationPct, &config.DailyLossLimit, &config.SingleTokenMaxPercent,
			&config.MinLiquidity, &whitelistJSON, &blacklistJSON, &config.USDTBalance, &config.GasBalance,
			&config.PausedUntil, &config.CreatedAt, &config.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy config: %w", err)
		}
		if len(chainsJSON) > 0 {
			if err := json.Unmarshal(chainsJSON, &config.Chains); err != nil {
				return nil, fmt.Errorf("failed to unmarshal chains: %w", err)
			}
		}
		if len(whitelistJSON) > 0 {
			if err := json.Unmarshal(whitelistJSON, &config.Whitelist); err != nil {
				return nil, fmt.Errorf("failed to unmarshal whitelist: %w", err)
			}
		}
		if len(blacklistJSON) > 0 {
			if err := json.Unmarshal(blacklistJSON, &config.Blacklist); err != nil {
				return nil, fmt.Errorf("failed to unmarshal blacklist: %w", err)
			}
		}
		configs = append(configs, config)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategy configs: %w", err)
	}
	return configs, nil
}
