// Package datasync keeps the execution, position, history and stats tables
// consistent with each other and with chain state. It projects confirmed
// entries into positions, settled exits into history, and runs the repair
// loop that resolves whatever the happy path dropped.
package datasync

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/chain"
	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/events"
	"alpha-trade-engine/internal/marketdata"
	"alpha-trade-engine/internal/monitor"
)

// RecoveryWindow bounds how far back the startup sweep and the
// missing-position repair look.
const RecoveryWindow = 72 * time.Hour

// MaxExitRetries caps repair-driven exit retries per execution
const MaxExitRetries = 3

// RetrySpacing separates consecutive exit retries within one repair run
const RetrySpacing = 10 * time.Second

// Default stop percentages for positions whose config row is missing
const (
	fallbackStopLossPct   = 10.0
	fallbackTakeProfitPct = 20.0
)

// Store is the persistence surface of the sync service
type Store interface {
	GetExecution(ctx context.Context, id string) (*database.Execution, error)
	UpdateExecutionStatus(ctx context.Context, id, status string, errorMessage *string) error
	GetSignal(ctx context.Context, id string) (*database.Signal, error)
	GetStrategyConfig(ctx context.Context, userID, strategyID string) (*database.StrategyConfig, error)
	UpsertPosition(ctx context.Context, position *database.Position) error
	GetPosition(ctx context.Context, id string) (*database.Position, error)
	GetPositionByExecution(ctx context.Context, executionID string) (*database.Position, error)
	UpdatePositionStatus(ctx context.Context, id, status string) error
	UpdatePositionPrice(ctx context.Context, id string, currentPrice, unrealizedUSDT, unrealizedPct, highestPrice float64) error
	DeletePosition(ctx context.Context, id string) error
	GetHoldingPositions(ctx context.Context) ([]*database.Position, error)
	InsertHistory(ctx context.Context, record *database.HistoryRecord) error
	GetHistoryByExecution(ctx context.Context, executionID string) (*database.HistoryRecord, error)
	RebuildUserStats(ctx context.Context, userID string, dayStart, weekStart time.Time) error
	GetRecoverableExecutions(ctx context.Context, since time.Time) ([]*database.Execution, error)
	GetExecutionsMissingPosition(ctx context.Context, since time.Time) ([]*database.Execution, error)
	GetStuckExits(ctx context.Context) ([]*database.Execution, error)
	GetFailedExitExecutions(ctx context.Context) ([]*database.Execution, error)
	GetOrphanPositions(ctx context.Context) ([]*database.Position, error)
}

// ChainReader is the read-only chain surface used for reconciliation
type ChainReader interface {
	TokenBalance(ctx context.Context, c *chain.Chain, wallet, token string) (*big.Int, error)
	TokenDecimals(ctx context.Context, c *chain.Chain, token string) (int, error)
	TransactionStatus(ctx context.Context, c *chain.Chain, txHash string) (chain.TxStatus, error)
}

// ExitHandler sells positions and settles confirmed sells
type ExitHandler interface {
	ExecuteExit(ctx context.Context, executionID, exitType, reason string) error
	FinalizeExit(ctx context.Context, exec *database.Execution, p *database.Position, toAmountRaw, exitType string, c *chain.Chain) error
}

// PositionWatcher starts exit monitoring for a position
type PositionWatcher interface {
	StartMonitoring(ctx context.Context, position *database.Position)
}

// PriceBatcher fetches live prices for many tokens at once
type PriceBatcher interface {
	BatchRealtimePrices(ctx context.Context, refs []marketdata.TokenRef) (map[string]float64, error)
}

// RepairReport summarizes one repair run
type RepairReport struct {
	MissingPositions   int `json:"missing_positions"`
	StuckExitsResolved int `json:"stuck_exits_resolved"`
	ExitRetries        int `json:"exit_retries"`
	OrphansRemoved     int `json:"orphans_removed"`
}

// Service is the data sync and reconciliation engine
type Service struct {
	store    Store
	chains   ChainReader
	registry *chain.Registry
	provider PriceBatcher
	exits    ExitHandler
	watcher  PositionWatcher
	bus      *events.Bus
	logger   zerolog.Logger

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// NewService creates a sync service
func NewService(store Store, chains ChainReader, registry *chain.Registry, provider PriceBatcher, exits ExitHandler, watcher PositionWatcher, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		chains:   chains,
		registry: registry,
		provider: provider,
		exits:    exits,
		watcher:  watcher,
		bus:      bus,
		logger:   logger.With().Str("component", "datasync").Logger(),
		now:      time.Now,
		wait:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// OnTradeEntry projects a confirmed entry into an open position. Safe to
// call repeatedly: an existing position only gets its watch restarted.
func (s *Service) OnTradeEntry(ctx context.Context, executionID string) error {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	if exec.Status != database.ExecStatusConfirmed && exec.Status != database.ExecStatusHolding {
		return fmt.Errorf("execution %s in %s cannot open a position", executionID, exec.Status)
	}

	positionID := database.PositionID(executionID)
	if existing, err := s.store.GetPosition(ctx, positionID); err == nil {
		if exec.Status == database.ExecStatusConfirmed {
			if err := s.store.UpdateExecutionStatus(ctx, executionID, database.ExecStatusHolding, nil); err != nil {
				return err
			}
		}
		s.watcher.StartMonitoring(ctx, existing)
		return nil
	}

	// Best-effort context: the signal supplies exit levels, the config
	// supplies the user's stop percentages.
	var signal *database.Signal
	if exec.SignalID != "" {
		signal, _ = s.store.GetSignal(ctx, exec.SignalID)
	}
	cfg := s.configFor(ctx, exec)

	entryPrice := exec.EntryPrice
	amountToken := exec.EntryAmountToken
	if amountToken <= 0 && entryPrice > 0 {
		amountToken = exec.EntryAmountUSDT / entryPrice
	}

	// Reconcile against the wallet's actual token balance; quotes and
	// fills rarely agree to the last unit.
	if cfg != nil {
		if actual, ok := s.walletTokenBalance(ctx, exec, cfg.WalletAddress); ok && actual > 0 {
			amountToken = actual
			if amountToken > 0 {
				entryPrice = exec.EntryAmountUSDT / amountToken
			}
		}
	}

	rules := monitor.DefaultRules()
	slPct, tpPct := fallbackStopLossPct, fallbackTakeProfitPct
	if cfg != nil {
		rules = monitor.RulesFromConfig(cfg)
		slPct, tpPct = cfg.StopLossPct, cfg.TakeProfitPct
	}
	stopLoss, takeProfit := monitor.SeedStopLevels(entryPrice, signal, rules, slPct, tpPct, nil)

	openedAt := s.now()
	if exec.EntryExecutedAt != nil {
		openedAt = *exec.EntryExecutedAt
	}

	position := &database.Position{
		ID:                  positionID,
		UserID:              exec.UserID,
		ExecutionID:         exec.ID,
		SignalID:            exec.SignalID,
		TokenSymbol:         exec.TokenSymbol,
		Chain:               exec.Chain,
		ContractAddress:     exec.ContractAddress,
		DEX:                 exec.DEX,
		EntryPrice:          entryPrice,
		EntryAmountUSDT:     exec.EntryAmountUSDT,
		EntryAmountToken:    amountToken,
		CurrentTokenBalance: amountToken,
		StopLossPrice:       stopLoss,
		TakeProfitPrice:     takeProfit,
		HighestPrice:        entryPrice,
		StopLossType:        rules.StopLossMode,
		CurrentPrice:        entryPrice,
		IsAlphaToken:        exec.IsAlphaToken,
		SignalSource:        exec.SignalSource,
		OpenedAt:            openedAt,
		Status:              database.PositionStatusHolding,
	}

	if err := s.store.UpsertPosition(ctx, position); err != nil {
		return fmt.Errorf("failed to open position for %s: %w", executionID, err)
	}
	if err := s.store.UpdateExecutionStatus(ctx, executionID, database.ExecStatusHolding, nil); err != nil {
		return err
	}
	if err := s.UpdateUserStats(ctx, exec.UserID); err != nil {
		s.logger.Error().Err(err).Str("user_id", exec.UserID).Msg("Stats rebuild failed after entry")
	}

	s.logger.Info().
		Str("position_id", positionID).
		Str("token", exec.TokenSymbol).
		Float64("entry_price", entryPrice).
		Float64("amount_token", amountToken).
		Float64("stop_loss", stopLoss).
		Float64("take_profit", takeProfit).
		Msg("Position opened")

	if s.bus != nil {
		s.bus.Publish("datasync", events.EventPositionOpened, map[string]interface{}{
			"position_id":  positionID,
			"execution_id": executionID,
			"user_id":      exec.UserID,
			"token":        exec.TokenSymbol,
			"entry_price":  entryPrice,
		})
	}
	s.watcher.StartMonitoring(ctx, position)
	return nil
}

// OnTradeExit migrates a settled exit into history and drops the position.
// Idempotent on the history row.
func (s *Service) OnTradeExit(ctx context.Context, executionID string) error {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	if exec.Status != database.ExecStatusExited {
		return fmt.Errorf("execution %s in %s cannot settle", executionID, exec.Status)
	}

	if _, err := s.store.GetHistoryByExecution(ctx, executionID); err == nil {
		// Already migrated; just make sure the position is gone
		if err := s.store.DeletePosition(ctx, database.PositionID(executionID)); err != nil && err != database.ErrNotFound {
			s.logger.Error().Err(err).Str("execution_id", executionID).Msg("Failed to drop migrated position")
		}
		return nil
	}

	record := &database.HistoryRecord{
		ExecutionID:     exec.ID,
		UserID:          exec.UserID,
		SignalID:        exec.SignalID,
		TokenSymbol:     exec.TokenSymbol,
		Chain:           exec.Chain,
		EntryPrice:      exec.EntryPrice,
		EntryAmountUSDT: exec.EntryAmountUSDT,
		Fees:            exec.Fees,
		FollowStrategy:  exec.FollowStrategy,
		SignalSource:    exec.SignalSource,
		IsAlphaToken:    exec.IsAlphaToken,
		EntryExecutedAt: exec.EntryExecutedAt,
		ExitExecutedAt:  exec.ExitExecutedAt,
	}
	if exec.ExitPrice != nil {
		record.ExitPrice = *exec.ExitPrice
	}
	if exec.ExitAmountUSDT != nil {
		record.ExitAmountUSDT = *exec.ExitAmountUSDT
	}
	if exec.ProfitLossUSDT != nil {
		record.ProfitLossUSDT = *exec.ProfitLossUSDT
	}
	if exec.ProfitLossPct != nil {
		record.ProfitLossPct = *exec.ProfitLossPct
	}
	if exec.ExitType != nil {
		record.ExitType = *exec.ExitType
	}
	if exec.EntryExecutedAt != nil && exec.ExitExecutedAt != nil {
		record.HoldingDurationSeconds = int64(exec.ExitExecutedAt.Sub(*exec.EntryExecutedAt).Seconds())
	}

	if err := s.store.InsertHistory(ctx, record); err != nil {
		return fmt.Errorf("failed to insert history for %s: %w", executionID, err)
	}
	if err := s.store.DeletePosition(ctx, database.PositionID(executionID)); err != nil && err != database.ErrNotFound {
		s.logger.Error().Err(err).Str("execution_id", executionID).Msg("Failed to drop closed position")
	}
	if err := s.UpdateUserStats(ctx, exec.UserID); err != nil {
		s.logger.Error().Err(err).Str("user_id", exec.UserID).Msg("Stats rebuild failed after exit")
	}

	s.logger.Info().
		Str("execution_id", executionID).
		Str("token", exec.TokenSymbol).
		Str("exit_type", record.ExitType).
		Float64("pnl_usdt", record.ProfitLossUSDT).
		Msg("Trade settled into history")

	if s.bus != nil {
		s.bus.Publish("datasync", events.EventPositionExited, map[string]interface{}{
			"execution_id": executionID,
			"user_id":      exec.UserID,
			"token":        exec.TokenSymbol,
			"exit_type":    record.ExitType,
			"pnl_usdt":     record.ProfitLossUSDT,
			"pnl_pct":      record.ProfitLossPct,
		})
	}
	return nil
}

// UpdateUserStats rebuilds a user's rolling stats from history and open
// positions. Day and week windows are UTC.
func (s *Service) UpdateUserStats(ctx context.Context, userID string) error {
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7 // Monday-based week
	}
	weekStart := dayStart.AddDate(0, 0, -(weekday - 1))
	return s.store.RebuildUserStats(ctx, userID, dayStart, weekStart)
}

// SyncExistingPositions restores exit monitoring after a restart: every
// CONFIRMED or HOLDING execution inside the recovery window gets its
// position re-projected or its watch restarted.
func (s *Service) SyncExistingPositions(ctx context.Context) (int, error) {
	executions, err := s.store.GetRecoverableExecutions(ctx, s.now().Add(-RecoveryWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to load recoverable executions: %w", err)
	}

	restored := 0
	for _, exec := range executions {
		if err := s.OnTradeEntry(ctx, exec.ID); err != nil {
			s.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("Recovery failed for execution")
			continue
		}
		restored++
	}
	if restored > 0 {
		s.logger.Info().Int("restored", restored).Msg("Positions restored after restart")
	}
	return restored, nil
}

// RefreshHeldTokenPrices updates every open position's mark price in one
// batched provider call. Keeps the cache warm between exit monitor ticks.
func (s *Service) RefreshHeldTokenPrices(ctx context.Context) error {
	positions, err := s.store.GetHoldingPositions(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	refs := make([]marketdata.TokenRef, 0, len(positions))
	for _, p := range positions {
		refs = append(refs, marketdata.TokenRef{Symbol: p.TokenSymbol, Contract: p.ContractAddress, Chain: p.Chain})
	}
	prices, err := s.provider.BatchRealtimePrices(ctx, refs)
	if err != nil {
		return err
	}

	for _, p := range positions {
		price, ok := prices[p.TokenSymbol]
		if !ok || price <= 0 {
			continue
		}
		highest := p.HighestPrice
		if price > highest {
			highest = price
		}
		pnlUSDT := (price - p.EntryPrice) * p.CurrentTokenBalance
		pnlPct := 0.0
		if p.EntryPrice > 0 {
			pnlPct = (price/p.EntryPrice - 1) * 100
		}
		if err := s.store.UpdatePositionPrice(ctx, p.ID, price, pnlUSDT, pnlPct, highest); err != nil {
			s.logger.Error().Err(err).Str("position_id", p.ID).Msg("Failed to refresh held price")
		}
	}
	return nil
}

func (s *Service) configFor(ctx context.Context, exec *database.Execution) *database.StrategyConfig {
	strategyID := ""
	if exec.StrategyID != nil {
		strategyID = *exec.StrategyID
	}
	cfg, err := s.store.GetStrategyConfig(ctx, exec.UserID, strategyID)
	if err != nil {
		s.logger.Warn().Err(err).Str("execution_id", exec.ID).Msg("No config for execution")
		return nil
	}
	return cfg
}

func (s *Service) walletTokenBalance(ctx context.Context, exec *database.Execution, wallet string) (float64, bool) {
	c, err := s.registry.Resolve(exec.Chain)
	if err != nil {
		return 0, false
	}
	raw, err := s.chains.TokenBalance(ctx, c, wallet, exec.ContractAddress)
	if err != nil {
		return 0, false
	}
	decimals, err := s.chains.TokenDecimals(ctx, c, exec.ContractAddress)
	if err != nil {
		return 0, false
	}
	return chain.FromTokenUnits(raw, decimals), true
}
