package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations...")

	migrations := []string{
		// Signals produced by the scoring engine or received from external feeds
		`CREATE TABLE IF NOT EXISTS alpha_signals (
			id TEXT PRIMARY KEY,
			token_symbol VARCHAR(50) NOT NULL,
			chain VARCHAR(20) NOT NULL DEFAULT 'BSC',
			contract_address TEXT,
			signal_type VARCHAR(10) NOT NULL,
			confidence DECIMAL(10, 4) NOT NULL DEFAULT 0,
			entry_price_min DECIMAL(30, 18),
			entry_price_max DECIMAL(30, 18),
			stop_loss DECIMAL(30, 18),
			take_profits JSONB,
			current_price DECIMAL(30, 18),
			predicted_direction VARCHAR(10),
			predicted_return DECIMAL(10, 4),
			reasoning TEXT,
			reject_reason TEXT,
			source VARCHAR(30) NOT NULL DEFAULT 'TOP_SIGNALS',
			strategy_id TEXT,
			chat_id TEXT,
			is_alpha_token BOOLEAN NOT NULL DEFAULT FALSE,
			knowledge_answer TEXT,
			knowledge_adjustment DECIMAL(10, 4),
			knowledge_case_count INTEGER,
			model_version VARCHAR(50),
			status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alpha_signals_status ON alpha_signals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_alpha_signals_token ON alpha_signals(token_symbol, status)`,
		`CREATE INDEX IF NOT EXISTS idx_alpha_signals_expires_at ON alpha_signals(expires_at)`,

		// Per-user auto-trade strategy configuration
		`CREATE TABLE IF NOT EXISTS auto_trade_config (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			wallet_address TEXT NOT NULL,
			privy_user_id TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			chains JSONB,
			follow_strategy VARCHAR(20) NOT NULL DEFAULT 'ALL',
			strategy_id TEXT NOT NULL DEFAULT '',
			trade_amount DECIMAL(20, 8) NOT NULL,
			max_slippage DECIMAL(10, 4) NOT NULL DEFAULT 2.0,
			max_positions INTEGER NOT NULL DEFAULT 3,
			take_profit_mode VARCHAR(10) NOT NULL DEFAULT 'ONE_TIME',
			stop_loss_mode VARCHAR(12) NOT NULL DEFAULT 'FIXED',
			stop_loss_pct DECIMAL(10, 4) NOT NULL DEFAULT 10,
			take_profit_pct DECIMAL(10, 4) NOT NULL DEFAULT 20,
			trailing_activation_pct DECIMAL(10, 4) NOT NULL DEFAULT 10,
			daily_loss_limit DECIMAL(10, 4) NOT NULL DEFAULT -10,
			single_token_max_percent DECIMAL(10, 4) NOT NULL DEFAULT 100,
			min_liquidity DECIMAL(20, 2) NOT NULL DEFAULT 200000,
			whitelist JSONB,
			blacklist JSONB,
			usdt_balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
			gas_balance DECIMAL(30, 18) NOT NULL DEFAULT 0,
			paused_until TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, strategy_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_auto_trade_config_enabled ON auto_trade_config(enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_auto_trade_config_wallet ON auto_trade_config(wallet_address)`,

		// One row per (user, signal) trade attempt; id is deterministic
		`CREATE TABLE IF NOT EXISTS auto_trade_executions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			signal_id TEXT NOT NULL,
			token_symbol VARCHAR(50) NOT NULL,
			chain VARCHAR(20) NOT NULL,
			contract_address TEXT,
			dex VARCHAR(50),
			entry_amount_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			entry_amount_token DECIMAL(40, 18) NOT NULL DEFAULT 0,
			entry_price DECIMAL(30, 18) NOT NULL DEFAULT 0,
			entry_tx_hash TEXT,
			exit_tx_hash TEXT,
			exit_price DECIMAL(30, 18),
			exit_amount_usdt DECIMAL(20, 8),
			exit_type VARCHAR(25),
			profit_loss_usdt DECIMAL(20, 8),
			profit_loss_pct DECIMAL(10, 4),
			fees DECIMAL(20, 8) NOT NULL DEFAULT 0,
			follow_strategy VARCHAR(20),
			strategy_id TEXT,
			is_alpha_token BOOLEAN NOT NULL DEFAULT FALSE,
			signal_source VARCHAR(30),
			batch_id TEXT,
			batch_position INTEGER,
			status VARCHAR(25) NOT NULL DEFAULT 'PENDING',
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			entry_executed_at TIMESTAMPTZ,
			exit_executed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_user ON auto_trade_executions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON auto_trade_executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_token ON auto_trade_executions(token_symbol, chain)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON auto_trade_executions(created_at)`,

		// Open holdings, one per execution, monitored for exit
		`CREATE TABLE IF NOT EXISTS auto_trade_positions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			execution_id TEXT NOT NULL UNIQUE,
			signal_id TEXT,
			token_symbol VARCHAR(50) NOT NULL,
			chain VARCHAR(20) NOT NULL,
			contract_address TEXT,
			dex VARCHAR(50),
			entry_price DECIMAL(30, 18) NOT NULL,
			entry_amount_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			entry_amount_token DECIMAL(40, 18) NOT NULL DEFAULT 0,
			current_token_balance DECIMAL(40, 18) NOT NULL DEFAULT 0,
			stop_loss_price DECIMAL(30, 18) NOT NULL DEFAULT 0,
			take_profit_price DECIMAL(30, 18) NOT NULL DEFAULT 0,
			atr_value DECIMAL(30, 18),
			highest_price DECIMAL(30, 18) NOT NULL DEFAULT 0,
			trailing_stop_activated BOOLEAN NOT NULL DEFAULT FALSE,
			trailing_stop_price DECIMAL(30, 18),
			stop_loss_type VARCHAR(12) NOT NULL DEFAULT 'FIXED',
			current_price DECIMAL(30, 18) NOT NULL DEFAULT 0,
			unrealized_pnl_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			unrealized_pnl_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			is_alpha_token BOOLEAN NOT NULL DEFAULT FALSE,
			signal_source VARCHAR(30),
			partial_sold_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			status VARCHAR(10) NOT NULL DEFAULT 'HOLDING',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_user ON auto_trade_positions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON auto_trade_positions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_token ON auto_trade_positions(token_symbol, chain, status)`,

		// Closed trades, append-only
		`CREATE TABLE IF NOT EXISTS auto_trade_history (
			id BIGSERIAL PRIMARY KEY,
			execution_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			signal_id TEXT,
			token_symbol VARCHAR(50) NOT NULL,
			chain VARCHAR(20) NOT NULL,
			entry_price DECIMAL(30, 18) NOT NULL DEFAULT 0,
			exit_price DECIMAL(30, 18) NOT NULL DEFAULT 0,
			entry_amount_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			exit_amount_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			profit_loss_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			profit_loss_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			fees DECIMAL(20, 8) NOT NULL DEFAULT 0,
			exit_type VARCHAR(25),
			follow_strategy VARCHAR(20),
			signal_source VARCHAR(30),
			is_alpha_token BOOLEAN NOT NULL DEFAULT FALSE,
			holding_duration_seconds BIGINT NOT NULL DEFAULT 0,
			entry_executed_at TIMESTAMPTZ,
			exit_executed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user ON auto_trade_history(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_token ON auto_trade_history(token_symbol, chain)`,
		`CREATE INDEX IF NOT EXISTS idx_history_exit_time ON auto_trade_history(exit_executed_at)`,

		// Derived per-user statistics, rebuilt from history + positions
		`CREATE TABLE IF NOT EXISTS auto_trade_user_stats (
			user_id TEXT PRIMARY KEY,
			today_trades INTEGER NOT NULL DEFAULT 0,
			today_pnl_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			today_pnl_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			week_trades INTEGER NOT NULL DEFAULT 0,
			week_pnl_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			total_pnl_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			total_wins INTEGER NOT NULL DEFAULT 0,
			win_rate DECIMAL(10, 4) NOT NULL DEFAULT 0,
			open_positions INTEGER NOT NULL DEFAULT 0,
			open_positions_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			unrealized_pnl_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			best_trade_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			worst_trade_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// One row per batch-executor run for a signal
		`CREATE TABLE IF NOT EXISTS auto_trade_batches (
			id TEXT PRIMARY KEY,
			signal_id TEXT NOT NULL,
			total_users INTEGER NOT NULL DEFAULT 0,
			total_amount_usdt DECIMAL(20, 8) NOT NULL DEFAULT 0,
			batch_count INTEGER NOT NULL DEFAULT 0,
			batch_size INTEGER NOT NULL DEFAULT 0,
			current_batch INTEGER NOT NULL DEFAULT 0,
			completed_batches INTEGER NOT NULL DEFAULT 0,
			failed_batches INTEGER NOT NULL DEFAULT 0,
			status VARCHAR(12) NOT NULL DEFAULT 'EXECUTING',
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_signal ON auto_trade_batches(signal_id)`,

		// Credit balances; deductions lock the row FOR UPDATE
		`CREATE TABLE IF NOT EXISTS user_credits (
			user_id TEXT PRIMARY KEY,
			free_balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
			paid_balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS credit_consumption (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount DECIMAL(20, 8) NOT NULL,
			from_free DECIMAL(20, 8) NOT NULL DEFAULT 0,
			from_paid DECIMAL(20, 8) NOT NULL DEFAULT 0,
			reference_type VARCHAR(30) NOT NULL,
			reference_id TEXT,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_consumption_user ON credit_consumption(user_id, created_at)`,

		// Distribution log: which user received which signal
		`CREATE TABLE IF NOT EXISTS user_received_signals (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			signal_id TEXT NOT NULL,
			delivered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, signal_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_received_signals_signal ON user_received_signals(signal_id)`,

		// Telegram group membership used for SELL fanout resolution
		`CREATE TABLE IF NOT EXISTS telegram_group_configs (
			id BIGSERIAL PRIMARY KEY,
			chat_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			strategy_id TEXT,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (chat_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telegram_groups_chat ON telegram_group_configs(chat_id)`,

		// Scoring weights and thresholds; exactly one active row per type
		`CREATE TABLE IF NOT EXISTS alpha_model_config (
			id BIGSERIAL PRIMARY KEY,
			config_type VARCHAR(20) NOT NULL,
			config_data JSONB NOT NULL,
			version VARCHAR(50) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_alpha_model_config_active
			ON alpha_model_config(config_type) WHERE is_active`,

		// Known alpha tokens with cached liquidity, refreshed hourly
		`CREATE TABLE IF NOT EXISTS binance_alpha_tokens (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(50) NOT NULL,
			name TEXT,
			contract_address TEXT,
			chain VARCHAR(20) NOT NULL DEFAULT 'BSC',
			is_dex_only BOOLEAN NOT NULL DEFAULT FALSE,
			liquidity DECIMAL(20, 2) NOT NULL DEFAULT 0,
			volume_24h DECIMAL(20, 2) NOT NULL DEFAULT 0,
			listing_time TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (symbol, chain)
		)`,

		// Explicit strategy subscriptions used for SELL fanout resolution
		`CREATE TABLE IF NOT EXISTS alpha_agent_subscriptions (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, strategy_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_strategy ON alpha_agent_subscriptions(strategy_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("statements", len(migrations)).Msg("Database migrations completed")
	return nil
}

// VerifyTables checks that every table the engine depends on exists. Used by
// the strategy agent during initialization; a missing table is fatal.
func (db *DB) VerifyTables(ctx context.Context) error {
	required := []string{
		"alpha_signals",
		"auto_trade_config",
		"auto_trade_executions",
		"auto_trade_positions",
		"auto_trade_history",
		"auto_trade_user_stats",
		"auto_trade_batches",
		"user_credits",
		"credit_consumption",
		"user_received_signals",
		"telegram_group_configs",
		"alpha_model_config",
		"binance_alpha_tokens",
		"alpha_agent_subscriptions",
	}

	for _, table := range required {
		var exists bool
		err := db.Pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			table,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}
