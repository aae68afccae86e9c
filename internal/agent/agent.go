// Package agent owns the trading engine lifecycle: signal intake, recovery
// after a restart, the background job roster, and the thin user-facing
// operations the ops server exposes.
package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/datasync"
	"alpha-trade-engine/internal/events"
	"alpha-trade-engine/internal/marketdata"
	"alpha-trade-engine/internal/risk"
	"alpha-trade-engine/internal/scheduler"
)

// Background job cadence
const (
	LiquidityRefreshInterval = time.Hour
	TxSweepInterval          = 30 * time.Second
	BreakerUnpauseInterval   = 10 * time.Minute
	RepairInterval           = 5 * time.Minute
	PriceRefreshInterval     = time.Minute
)

// New user config defaults
const (
	DefaultMaxPositions   = 3
	DefaultDailyLossLimit = -10.0
	DefaultMinLiquidity   = 200_000.0
	DefaultSlippage       = 2.0
)

// SellFanoutSpacing separates sequential exit submissions during a SELL
// signal fanout so one signal does not hammer the aggregator.
const SellFanoutSpacing = 2 * time.Second

// Store is the persistence surface the agent needs
type Store interface {
	CreateSignal(ctx context.Context, signal *database.Signal) error
	GetSignal(ctx context.Context, id string) (*database.Signal, error)
	GetActiveEntrySignals(ctx context.Context) ([]*database.Signal, error)
	UpdateSignalRejectReason(ctx context.Context, id, reason string) error
	RecordSignalDelivery(ctx context.Context, userID, signalID string) error

	GetSubscribedUserIDs(ctx context.Context, strategyID string) ([]string, error)
	GetTelegramGroupUserIDs(ctx context.Context, chatID string) ([]string, error)
	GetTelegramBroadcastUserIDs(ctx context.Context) ([]string, error)
	GetHoldingPositionsForUsersOnToken(ctx context.Context, userIDs []string, tokenSymbol, chain string) ([]*database.Position, error)

	UpsertStrategyConfig(ctx context.Context, config *database.StrategyConfig) error
	GetUserConfigs(ctx context.Context, userID string) ([]*database.StrategyConfig, error)
	GetConfigsByWallet(ctx context.Context, walletAddress string) ([]*database.StrategyConfig, error)
	SetAutoTradeEnabled(ctx context.Context, userID string, enabled bool) error
	GetUserStats(ctx context.Context, userID string) (*database.UserStats, error)

	UpsertAlphaToken(ctx context.Context, token *database.AlphaToken) error
	UpdateAlphaTokenLiquidity(ctx context.Context, symbol, chain string, liquidity float64) error
}

// RiskGate resolves eligible strategies and runs the pre-trade checks
type RiskGate interface {
	GetEnabledStrategies(ctx context.Context, signal *database.Signal, defaultStrategyID string) ([]*database.StrategyConfig, error)
	CheckTradeRisk(ctx context.Context, cfg *database.StrategyConfig, signal *database.Signal, amount float64) (*risk.CheckResult, error)
	UnpauseUser(ctx context.Context, userID string) error
	UnpauseExpired(ctx context.Context) (int64, error)
}

// EntryWatcher is the per-signal price monitor
type EntryWatcher interface {
	StartMonitoring(ctx context.Context, signal *database.Signal, users []*database.StrategyConfig)
	StopAll()
	Active() []string
}

// ExitDriver submits exits and tracks per-position monitors
type ExitDriver interface {
	ExecuteExit(ctx context.Context, executionID, exitType, reason string) error
	StopAll()
	Active() []string
}

// TxSweeper resolves submitted entry transactions
type TxSweeper interface {
	Sweep(ctx context.Context) (confirmed, failed int, err error)
}

// Syncer is the datasync surface driven by the job roster
type Syncer interface {
	SyncExistingPositions(ctx context.Context) (int, error)
	CheckAndRepairDataConsistency(ctx context.Context) (*datasync.RepairReport, error)
	RefreshHeldTokenPrices(ctx context.Context) error
}

// TokenSource feeds the hourly alpha token whitelist refresh
type TokenSource interface {
	AllAlphaTokens(ctx context.Context) ([]marketdata.AlphaToken, error)
	PoolLiquidity(ctx context.Context, contract, chain string) (float64, error)
}

// WeightsLoader hot-swaps the scoring model configuration
type WeightsLoader interface {
	Reload(ctx context.Context) error
}

// Deps collects everything the agent coordinates
type Deps struct {
	Store     Store
	Risk      RiskGate
	Entries   EntryWatcher
	Exits     ExitDriver
	TxSweep   TxSweeper
	Sync      Syncer
	Tokens    TokenSource
	Weights   WeightsLoader
	Scheduler *scheduler.Scheduler
	Bus       *events.Bus

	// VerifyTables confirms the schema exists before trading starts.
	// Optional; nil skips the check (tests).
	VerifyTables func(ctx context.Context) error

	DefaultStrategyID string
	Logger            zerolog.Logger
}

// Agent is the engine coordinator
type Agent struct {
	store   Store
	risk    RiskGate
	entries EntryWatcher
	exits   ExitDriver
	txSweep TxSweeper
	sync    Syncer
	tokens  TokenSource
	weights WeightsLoader
	sched   *scheduler.Scheduler
	bus     *events.Bus
	verify  func(ctx context.Context) error
	logger  zerolog.Logger

	defaultStrategyID string
	initialized       atomic.Bool
	startedAt         time.Time

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// New wires the agent; call Initialize to start it
func New(d Deps) *Agent {
	return &Agent{
		store:             d.Store,
		risk:              d.Risk,
		entries:           d.Entries,
		exits:             d.Exits,
		txSweep:           d.TxSweep,
		sync:              d.Sync,
		tokens:            d.Tokens,
		weights:           d.Weights,
		sched:             d.Scheduler,
		bus:               d.Bus,
		verify:            d.VerifyTables,
		logger:            d.Logger.With().Str("component", "agent").Logger(),
		defaultStrategyID: d.DefaultStrategyID,
		now:               time.Now,
		wait:              sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Initialize brings the engine online: schema check, signal and position
// recovery, one transaction sweep, and the background job roster. Calling
// it twice is a no-op.
func (a *Agent) Initialize(ctx context.Context) error {
	if !a.initialized.CompareAndSwap(false, true) {
		a.logger.Warn().Msg("Initialize called twice, ignoring")
		return nil
	}

	if a.verify != nil {
		if err := a.verify(ctx); err != nil {
			a.initialized.Store(false)
			return fmt.Errorf("schema verification failed: %w", err)
		}
	}
	if a.weights != nil {
		if err := a.weights.Reload(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Model config reload failed, using compiled defaults")
		}
	}

	restoredSignals, err := a.recoverActiveSignals(ctx)
	if err != nil {
		a.initialized.Store(false)
		return fmt.Errorf("signal recovery failed: %w", err)
	}
	restoredPositions, err := a.sync.SyncExistingPositions(ctx)
	if err != nil {
		a.initialized.Store(false)
		return fmt.Errorf("position recovery failed: %w", err)
	}
	if confirmed, failed, err := a.txSweep.Sweep(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Startup transaction sweep failed")
	} else if confirmed+failed > 0 {
		a.logger.Info().Int("confirmed", confirmed).Int("failed", failed).Msg("Startup sweep resolved transactions")
	}

	if err := a.registerJobs(); err != nil {
		a.initialized.Store(false)
		return fmt.Errorf("job registration failed: %w", err)
	}
	if err := a.sched.Start(ctx); err != nil {
		a.initialized.Store(false)
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	a.startedAt = a.now().UTC()
	if a.bus != nil {
		a.bus.Register("agent")
		a.bus.Publish("agent", events.EventAgentStarted, map[string]interface{}{
			"monitors_restored":  restoredSignals,
			"positions_restored": restoredPositions,
		})
	}
	a.logger.Info().
		Int("signals_restored", restoredSignals).
		Int("positions_restored", restoredPositions).
		Msg("Agent initialized")
	return nil
}

// recoverActiveSignals restarts a price monitor for every ACTIVE entry
// signal that still has at least one eligible user. Signals whose users
// all fail the gates stay ACTIVE; they are not rejected, just unwatched
// until expiry.
func (a *Agent) recoverActiveSignals(ctx context.Context) (int, error) {
	signals, err := a.store.GetActiveEntrySignals(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, signal := range signals {
		if signal.IsExpired(a.now()) {
			continue
		}
		users, err := a.eligibleUsers(ctx, signal)
		if err != nil {
			a.logger.Error().Err(err).Str("signal_id", signal.ID).Msg("Recovery eligibility check failed")
			continue
		}
		if len(users) == 0 {
			continue
		}
		a.entries.StartMonitoring(ctx, signal, users)
		restored++
	}
	return restored, nil
}

// eligibleUsers resolves enabled strategies for a signal and filters them
// through the risk gates.
func (a *Agent) eligibleUsers(ctx context.Context, signal *database.Signal) ([]*database.StrategyConfig, error) {
	configs, err := a.risk.GetEnabledStrategies(ctx, signal, a.defaultStrategyID)
	if err != nil {
		return nil, err
	}
	passing := make([]*database.StrategyConfig, 0, len(configs))
	for _, cfg := range configs {
		result, err := a.risk.CheckTradeRisk(ctx, cfg, signal, cfg.TradeAmount)
		if err != nil {
			a.logger.Error().Err(err).Str("user_id", cfg.UserID).Msg("Risk check errored")
			continue
		}
		if !result.Passed {
			a.logger.Debug().
				Str("user_id", cfg.UserID).
				Str("signal_id", signal.ID).
				Interface("risks", result.Risks).
				Msg("User filtered by risk gates")
			continue
		}
		passing = append(passing, cfg)
	}
	return passing, nil
}

// Shutdown stops jobs and monitors. Safe to call more than once.
func (a *Agent) Shutdown() {
	if !a.initialized.CompareAndSwap(true, false) {
		return
	}
	a.sched.Stop()
	a.entries.StopAll()
	a.exits.StopAll()
	if a.bus != nil {
		a.bus.Publish("agent", events.EventAgentStopped, map[string]interface{}{
			"uptime": a.now().UTC().Sub(a.startedAt).String(),
		})
	}
	a.logger.Info().Msg("Agent stopped")
}

// StatusReport is the operator-facing engine snapshot
type StatusReport struct {
	Running         bool                  `json:"running"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	EntryMonitors   []string              `json:"entry_monitors"`
	ExitMonitors    []string              `json:"exit_monitors"`
	Jobs            []scheduler.JobStatus `json:"jobs"`
	DefaultStrategy string                `json:"default_strategy"`
}

// Status reports the current engine state
func (a *Agent) Status() StatusReport {
	report := StatusReport{
		Running:         a.initialized.Load(),
		EntryMonitors:   a.entries.Active(),
		ExitMonitors:    a.exits.Active(),
		Jobs:            a.sched.Jobs(),
		DefaultStrategy: a.defaultStrategyID,
	}
	if report.Running {
		t := a.startedAt
		report.StartedAt = &t
	}
	return report
}

// CreateUserConfig persists a strategy config, filling engine defaults for
// the limits a new user leaves unset.
func (a *Agent) CreateUserConfig(ctx context.Context, cfg *database.StrategyConfig) error {
	if cfg.UserID == "" || cfg.WalletAddress == "" {
		return fmt.Errorf("user id and wallet address are required")
	}
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = DefaultMaxPositions
	}
	if cfg.DailyLossLimit == 0 {
		cfg.DailyLossLimit = DefaultDailyLossLimit
	}
	if cfg.MinLiquidity <= 0 {
		cfg.MinLiquidity = DefaultMinLiquidity
	}
	if cfg.MaxSlippage <= 0 {
		cfg.MaxSlippage = DefaultSlippage
	}
	if cfg.TakeProfitMode == "" {
		cfg.TakeProfitMode = database.TakeProfitModeOneTime
	}
	if cfg.StrategyID == "" {
		cfg.StrategyID = a.defaultStrategyID
	}
	return a.store.UpsertStrategyConfig(ctx, cfg)
}

// ToggleAutoTrade flips auto-trading for a user
func (a *Agent) ToggleAutoTrade(ctx context.Context, userID string, enabled bool) error {
	if err := a.store.SetAutoTradeEnabled(ctx, userID, enabled); err != nil {
		return err
	}
	a.logger.Info().Str("user_id", userID).Bool("enabled", enabled).Msg("Auto-trade toggled")
	return nil
}

// UnpauseUser clears a user's circuit breaker hold
func (a *Agent) UnpauseUser(ctx context.Context, userID string) error {
	return a.risk.UnpauseUser(ctx, userID)
}

// UserStats returns a user's aggregate trading stats, resolving wallet
// addresses to user ids when no stats row matches the key directly.
func (a *Agent) UserStats(ctx context.Context, idOrWallet string) (*database.UserStats, error) {
	stats, err := a.store.GetUserStats(ctx, idOrWallet)
	if err == nil {
		return stats, nil
	}
	configs, werr := a.store.GetConfigsByWallet(ctx, idOrWallet)
	if werr != nil || len(configs) == 0 {
		return nil, err
	}
	return a.store.GetUserStats(ctx, configs[0].UserID)
}
