package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal types
const (
	SignalTypeLong    = "LONG"
	SignalTypeShort   = "SHORT"
	SignalTypeBuy     = "BUY"
	SignalTypeSell    = "SELL"
	SignalTypeNeutral = "NEUTRAL"
)

// Signal statuses
const (
	SignalStatusActive    = "ACTIVE"
	SignalStatusTriggered = "TRIGGERED"
	SignalStatusExpired   = "EXPIRED"
	SignalStatusHitTP     = "HIT_TP"
	SignalStatusHitSL     = "HIT_SL"
)

// Execution statuses. ExecStatusSuccess is a legacy value older rows may
// still carry; it blocks re-entry the same way PENDING and HOLDING do.
const (
	ExecStatusPending             = "PENDING"
	ExecStatusSubmitting          = "SUBMITTING"
	ExecStatusSubmitted           = "SUBMITTED"
	ExecStatusConfirmed           = "CONFIRMED"
	ExecStatusHolding             = "HOLDING"
	ExecStatusExited              = "EXITED"
	ExecStatusInsufficientBalance = "INSUFFICIENT_BALANCE"
	ExecStatusFailed              = "FAILED"
	ExecStatusCancelled           = "CANCELLED"
	ExecStatusSuccess             = "SUCCESS"
)

// Position statuses
const (
	PositionStatusHolding = "HOLDING"
	PositionStatusClosing = "CLOSING"
	PositionStatusClosed  = "CLOSED"
)

// Exit types
const (
	ExitTypeStopLoss          = "STOP_LOSS"
	ExitTypeTakeProfit        = "TAKE_PROFIT"
	ExitTypeTakeProfitPartial = "TAKE_PROFIT_PARTIAL"
	ExitTypeSignalSell        = "SIGNAL_SELL"
	ExitTypeManual            = "MANUAL"
	ExitTypeTimeExit          = "TIME_EXIT"
)

// Take-profit modes
const (
	TakeProfitModeOneTime = "ONE_TIME"
	TakeProfitModeStaged  = "STAGED"
)

// Stop-loss modes. DYNAMIC appears in older configs and is treated as FIXED.
const (
	StopLossModeFixed     = "FIXED"
	StopLossModeATR       = "ATR"
	StopLossModeTrailing  = "TRAILING"
	StopLossModeTimeDecay = "TIME_DECAY"
	StopLossModeDynamic   = "DYNAMIC"
)

// Follow strategies
const (
	FollowStrategyTopSignals = "TOP_SIGNALS"
	FollowStrategyTwitterKOL = "TWITTER_KOL"
	FollowStrategyTelegram   = "TELEGRAM"
	FollowStrategyMeme       = "MEME"
	FollowStrategyRange      = "RANGE"
	FollowStrategyFusion     = "FUSION"
	FollowStrategyWhitelist  = "WHITELIST"
	FollowStrategyAll        = "ALL"
)

// Batch statuses
const (
	BatchStatusExecuting = "EXECUTING"
	BatchStatusCompleted = "COMPLETED"
	BatchStatusFailed    = "FAILED"
)

// Model config types
const (
	ModelConfigWeights    = "WEIGHTS"
	ModelConfigThresholds = "THRESHOLDS"
)

// Credit consumption reference types
const (
	CreditRefSignalDetail = "SIGNAL_DETAIL"
)

// Signal represents a trade proposal with entry band and exit levels
type Signal struct {
	ID                  string     `json:"id"`
	TokenSymbol         string     `json:"token_symbol"`
	Chain               string     `json:"chain"`
	ContractAddress     string     `json:"contract_address"`
	SignalType          string     `json:"signal_type"`
	Confidence          float64    `json:"confidence"`
	EntryPriceMin       float64    `json:"entry_price_min"`
	EntryPriceMax       float64    `json:"entry_price_max"`
	StopLoss            float64    `json:"stop_loss"`
	TakeProfits         []float64  `json:"take_profits"`
	CurrentPrice        float64    `json:"current_price"`
	PredictedDirection  string     `json:"predicted_direction,omitempty"`
	PredictedReturn     float64    `json:"predicted_return,omitempty"`
	Reasoning           string     `json:"reasoning,omitempty"`
	RejectReason        *string    `json:"reject_reason,omitempty"`
	Source              string     `json:"source"`
	StrategyID          *string    `json:"strategy_id,omitempty"`
	ChatID              *string    `json:"chat_id,omitempty"`
	IsAlphaToken        bool       `json:"is_alpha_token"`
	KnowledgeAnswer     *string    `json:"knowledge_answer,omitempty"`
	KnowledgeAdjustment *float64   `json:"knowledge_adjustment,omitempty"`
	KnowledgeCaseCount  *int       `json:"knowledge_case_count,omitempty"`
	ModelVersion        string     `json:"model_version,omitempty"`
	Status              string     `json:"status"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// HasEntryBand reports whether the signal carries an explicit entry range.
func (s *Signal) HasEntryBand() bool {
	return s.EntryPriceMin > 0 && s.EntryPriceMax > 0
}

// IsExpired reports whether the signal has passed its expiry.
func (s *Signal) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// FirstTakeProfit returns TP1, or 0 when the signal has no levels.
func (s *Signal) FirstTakeProfit() float64 {
	if len(s.TakeProfits) == 0 {
		return 0
	}
	return s.TakeProfits[0]
}

// StrategyConfig is one user's auto-trade configuration for one strategy
type StrategyConfig struct {
	ID                    int64      `json:"id"`
	UserID                string     `json:"user_id"`
	WalletAddress         string     `json:"wallet_address"`
	PrivyUserID           string     `json:"privy_user_id"`
	Enabled               bool       `json:"enabled"`
	Chains                []string   `json:"chains"`
	FollowStrategy        string     `json:"follow_strategy"`
	StrategyID            string     `json:"strategy_id"`
	TradeAmount           float64    `json:"trade_amount"`
	MaxSlippage           float64    `json:"max_slippage"`
	MaxPositions          int        `json:"max_positions"`
	TakeProfitMode        string     `json:"take_profit_mode"`
	StopLossMode          string     `json:"stop_loss_mode"`
	StopLossPct           float64    `json:"stop_loss_pct"`
	TakeProfitPct         float64    `json:"take_profit_pct"`
	TrailingActivationPct float64    `json:"trailing_activation_pct"`
	DailyLossLimit        float64    `json:"daily_loss_limit"`
	SingleTokenMaxPercent float64    `json:"single_token_max_percent"`
	MinLiquidity          float64    `json:"min_liquidity"`
	Whitelist             []string   `json:"whitelist,omitempty"`
	Blacklist             []string   `json:"blacklist,omitempty"`
	USDTBalance           float64    `json:"usdt_balance"`
	GasBalance            float64    `json:"gas_balance"`
	PausedUntil           *time.Time `json:"paused_until,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// IsPaused reports whether the circuit breaker currently holds this config.
func (c *StrategyConfig) IsPaused(now time.Time) bool {
	return c.PausedUntil != nil && c.PausedUntil.After(now)
}

// EffectiveStopLossMode maps legacy DYNAMIC rows onto FIXED. Unknown or
// empty modes also fall back to FIXED so old rows stay executable.
func (c *StrategyConfig) EffectiveStopLossMode() string {
	switch c.StopLossMode {
	case StopLossModeATR, StopLossModeTrailing, StopLossModeTimeDecay:
		return c.StopLossMode
	default:
		return StopLossModeFixed
	}
}

// Execution records one user's attempt to trade one signal
type Execution struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	SignalID         string     `json:"signal_id"`
	TokenSymbol      string     `json:"token_symbol"`
	Chain            string     `json:"chain"`
	ContractAddress  string     `json:"contract_address"`
	DEX              string     `json:"dex,omitempty"`
	EntryAmountUSDT  float64    `json:"entry_amount_usdt"`
	EntryAmountToken float64    `json:"entry_amount_token"`
	EntryPrice       float64    `json:"entry_price"`
	EntryTxHash      *string    `json:"entry_tx_hash,omitempty"`
	ExitTxHash       *string    `json:"exit_tx_hash,omitempty"`
	ExitPrice        *float64   `json:"exit_price,omitempty"`
	ExitAmountUSDT   *float64   `json:"exit_amount_usdt,omitempty"`
	ExitType         *string    `json:"exit_type,omitempty"`
	ProfitLossUSDT   *float64   `json:"profit_loss_usdt,omitempty"`
	ProfitLossPct    *float64   `json:"profit_loss_pct,omitempty"`
	Fees             float64    `json:"fees"`
	FollowStrategy   string     `json:"follow_strategy,omitempty"`
	StrategyID       *string    `json:"strategy_id,omitempty"`
	IsAlphaToken     bool       `json:"is_alpha_token"`
	SignalSource     string     `json:"signal_source,omitempty"`
	BatchID          *string    `json:"batch_id,omitempty"`
	BatchPosition    *int       `json:"batch_position,omitempty"`
	Status           string     `json:"status"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	EntryExecutedAt  *time.Time `json:"entry_executed_at,omitempty"`
	ExitExecutedAt   *time.Time `json:"exit_executed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ExecutionID builds the deterministic id for a (user, signal) pair. The
// fixed form makes duplicate entry attempts collide on the primary key.
func ExecutionID(userID, signalID string) string {
	return "exec_" + userID + "_" + signalID
}

// PositionID builds the deterministic id for an execution's position.
func PositionID(executionID string) string {
	return "pos_" + executionID
}

// Position is the open side of an execution, evaluated for exit
type Position struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	ExecutionID           string     `json:"execution_id"`
	SignalID              string     `json:"signal_id,omitempty"`
	TokenSymbol           string     `json:"token_symbol"`
	Chain                 string     `json:"chain"`
	ContractAddress       string     `json:"contract_address"`
	DEX                   string     `json:"dex,omitempty"`
	EntryPrice            float64    `json:"entry_price"`
	EntryAmountUSDT       float64    `json:"entry_amount_usdt"`
	EntryAmountToken      float64    `json:"entry_amount_token"`
	CurrentTokenBalance   float64    `json:"current_token_balance"`
	StopLossPrice         float64    `json:"stop_loss_price"`
	TakeProfitPrice       float64    `json:"take_profit_price"`
	ATRValue              *float64   `json:"atr_value,omitempty"`
	HighestPrice          float64    `json:"highest_price"`
	TrailingStopActivated bool       `json:"trailing_stop_activated"`
	TrailingStopPrice     *float64   `json:"trailing_stop_price,omitempty"`
	StopLossType          string     `json:"stop_loss_type"`
	CurrentPrice          float64    `json:"current_price"`
	UnrealizedPnLUSDT     float64    `json:"unrealized_pnl_usdt"`
	UnrealizedPnLPct      float64    `json:"unrealized_pnl_pct"`
	IsAlphaToken          bool       `json:"is_alpha_token"`
	SignalSource          string     `json:"signal_source,omitempty"`
	PartialSoldPct        float64    `json:"partial_sold_pct"`
	OpenedAt              time.Time  `json:"opened_at"`
	Status                string     `json:"status"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// HistoryRecord is the closed projection of an execution
type HistoryRecord struct {
	ID                     int64      `json:"id"`
	ExecutionID            string     `json:"execution_id"`
	UserID                 string     `json:"user_id"`
	SignalID               string     `json:"signal_id,omitempty"`
	TokenSymbol            string     `json:"token_symbol"`
	Chain                  string     `json:"chain"`
	EntryPrice             float64    `json:"entry_price"`
	ExitPrice              float64    `json:"exit_price"`
	EntryAmountUSDT        float64    `json:"entry_amount_usdt"`
	ExitAmountUSDT         float64    `json:"exit_amount_usdt"`
	ProfitLossUSDT         float64    `json:"profit_loss_usdt"`
	ProfitLossPct          float64    `json:"profit_loss_pct"`
	Fees                   float64    `json:"fees"`
	ExitType               string     `json:"exit_type,omitempty"`
	FollowStrategy         string     `json:"follow_strategy,omitempty"`
	SignalSource           string     `json:"signal_source,omitempty"`
	IsAlphaToken           bool       `json:"is_alpha_token"`
	HoldingDurationSeconds int64      `json:"holding_duration_seconds"`
	EntryExecutedAt        *time.Time `json:"entry_executed_at,omitempty"`
	ExitExecutedAt         *time.Time `json:"exit_executed_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

// UserStats holds rolling per-user performance numbers
type UserStats struct {
	UserID             string    `json:"user_id"`
	TodayTrades        int       `json:"today_trades"`
	TodayPnLUSDT       float64   `json:"today_pnl_usdt"`
	TodayPnLPct        float64   `json:"today_pnl_pct"`
	WeekTrades         int       `json:"week_trades"`
	WeekPnLUSDT        float64   `json:"week_pnl_usdt"`
	TotalTrades        int       `json:"total_trades"`
	TotalPnLUSDT       float64   `json:"total_pnl_usdt"`
	TotalWins          int       `json:"total_wins"`
	WinRate            float64   `json:"win_rate"`
	OpenPositions      int       `json:"open_positions"`
	OpenPositionsValue float64   `json:"open_positions_value"`
	UnrealizedPnLUSDT  float64   `json:"unrealized_pnl_usdt"`
	BestTradePct       float64   `json:"best_trade_pct"`
	WorstTradePct      float64   `json:"worst_trade_pct"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Batch tracks one batch-executor run
type Batch struct {
	ID               string    `json:"id"`
	SignalID         string    `json:"signal_id"`
	TotalUsers       int       `json:"total_users"`
	TotalAmountUSDT  float64   `json:"total_amount_usdt"`
	BatchCount       int       `json:"batch_count"`
	BatchSize        int       `json:"batch_size"`
	CurrentBatch     int       `json:"current_batch"`
	CompletedBatches int       `json:"completed_batches"`
	FailedBatches    int       `json:"failed_batches"`
	Status           string    `json:"status"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UserCredits is a user's credit balance split into free and paid pools
type UserCredits struct {
	UserID      string          `json:"user_id"`
	FreeBalance decimal.Decimal `json:"free_balance"`
	PaidBalance decimal.Decimal `json:"paid_balance"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Total returns the combined spendable balance.
func (c *UserCredits) Total() decimal.Decimal {
	return c.FreeBalance.Add(c.PaidBalance)
}

// CreditConsumption is one deduction from a user's credit balance
type CreditConsumption struct {
	ID            int64           `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	FromFree      decimal.Decimal `json:"from_free"`
	FromPaid      decimal.Decimal `json:"from_paid"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReceivedSignal records delivery of a signal to a user
type ReceivedSignal struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	SignalID    string    `json:"signal_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// TelegramGroupConfig maps a telegram chat to a member user
type TelegramGroupConfig struct {
	ID         int64     `json:"id"`
	ChatID     string    `json:"chat_id"`
	UserID     string    `json:"user_id"`
	StrategyID *string   `json:"strategy_id,omitempty"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// ModelConfig is one WEIGHTS or THRESHOLDS row for the scoring engine
type ModelConfig struct {
	ID         int64              `json:"id"`
	ConfigType string             `json:"config_type"`
	ConfigData map[string]float64 `json:"config_data"`
	Version    string             `json:"version"`
	IsActive   bool               `json:"is_active"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// AlphaToken is a Binance Alpha listing with cached liquidity
type AlphaToken struct {
	ID              int64      `json:"id"`
	Symbol          string     `json:"symbol"`
	Name            string     `json:"name,omitempty"`
	ContractAddress string     `json:"contract_address,omitempty"`
	Chain           string     `json:"chain"`
	IsDEXOnly       bool       `json:"is_dex_only"`
	Liquidity       float64    `json:"liquidity"`
	Volume24h       float64    `json:"volume_24h"`
	ListingTime     *time.Time `json:"listing_time,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AgentSubscription subscribes a user to a named strategy's signals
type AgentSubscription struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	StrategyID string    `json:"strategy_id"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}
