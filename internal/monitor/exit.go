package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/aggregator"
	"alpha-trade-engine/internal/chain"
	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/events"
	"alpha-trade-engine/internal/marketdata"
	"alpha-trade-engine/internal/metrics"
)

// PositionStore is the persistence surface of the exit monitor
type PositionStore interface {
	GetPosition(ctx context.Context, id string) (*database.Position, error)
	UpdatePositionPrice(ctx context.Context, id string, currentPrice, unrealizedUSDT, unrealizedPct, highestPrice float64) error
	UpdatePositionTrailing(ctx context.Context, id string, activated bool, trailingPrice float64) error
	UpdatePositionPartialSold(ctx context.Context, id string, partialSoldPct, currentTokenBalance float64) error
	ClaimPositionForClose(ctx context.Context, id string) (bool, error)
	UpdatePositionStatus(ctx context.Context, id, status string) error
	GetExecution(ctx context.Context, id string) (*database.Execution, error)
	UpdateExecutionStatus(ctx context.Context, id, status string, errorMessage *string) error
	UpdateExecutionExitSubmitted(ctx context.Context, id, exitTxHash, exitType string) error
	UpdateExecutionExited(ctx context.Context, id string, exitPrice, exitAmountUSDT, pnlUSDT, pnlPct float64, exitType string, executedAt time.Time) error
	GetStrategyConfig(ctx context.Context, userID, strategyID string) (*database.StrategyConfig, error)
}

type positionWatch struct {
	positionID string
	rules      ExitRules
	cfg        *database.StrategyConfig
	cancel     context.CancelFunc
}

// ExitMonitor polls open positions and sells them when a stop, a
// take-profit tier, or the holding-time limit is hit.
type ExitMonitor struct {
	store          PositionStore
	provider       PriceSource
	router         Router
	gateway        Gateway
	registry       *chain.Registry
	bus            *events.Bus
	logger         zerolog.Logger
	interval       time.Duration
	receiptTimeout time.Duration
	projector      ExitProjector

	mu      sync.Mutex
	watches map[string]*positionWatch
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewExitMonitor creates an exit monitor
func NewExitMonitor(store PositionStore, provider PriceSource, router Router, gateway Gateway, registry *chain.Registry, bus *events.Bus, receiptTimeout time.Duration, logger zerolog.Logger) *ExitMonitor {
	if receiptTimeout <= 0 {
		receiptTimeout = 60 * time.Second
	}
	return &ExitMonitor{
		store:          store,
		provider:       provider,
		router:         router,
		gateway:        gateway,
		registry:       registry,
		bus:            bus,
		logger:         logger.With().Str("component", "exit_monitor").Logger(),
		interval:       ExitInterval,
		receiptTimeout: receiptTimeout,
		watches:        make(map[string]*positionWatch),
		now:            time.Now,
	}
}

// SetProjector wires the settled-exit sink. Set once during bootstrap,
// before any position is monitored.
func (m *ExitMonitor) SetProjector(p ExitProjector) {
	m.projector = p
}

// StartMonitoring begins exit evaluation for a position. The user's exit
// rules are resolved once, at watch start; a missing config falls back to
// conservative defaults.
func (m *ExitMonitor) StartMonitoring(ctx context.Context, position *database.Position) {
	m.mu.Lock()
	if _, exists := m.watches[position.ID]; exists {
		m.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	watch := &positionWatch{positionID: position.ID, rules: DefaultRules(), cancel: cancel}
	m.watches[position.ID] = watch
	m.mu.Unlock()

	if cfg, err := m.resolveConfig(ctx, position.UserID, position.ExecutionID); err == nil {
		watch.cfg = cfg
		watch.rules = RulesFromConfig(cfg)
	} else {
		m.logger.Warn().Err(err).Str("position_id", position.ID).Msg("No config for position, using default exit rules")
	}

	metrics.ActiveExitMonitors.Inc()
	m.logger.Info().
		Str("position_id", position.ID).
		Str("token", position.TokenSymbol).
		Str("stop_loss_mode", watch.rules.StopLossMode).
		Str("take_profit_mode", watch.rules.TakeProfitMode).
		Msg("Exit watch started")

	m.wg.Add(1)
	go m.run(watchCtx, watch)
}

// Stop cancels the watch for one position
func (m *ExitMonitor) Stop(positionID string) {
	m.mu.Lock()
	watch, ok := m.watches[positionID]
	if ok {
		delete(m.watches, positionID)
	}
	m.mu.Unlock()
	if ok {
		watch.cancel()
		metrics.ActiveExitMonitors.Dec()
	}
}

// StopAll cancels every watch and waits for the loops to drain
func (m *ExitMonitor) StopAll() {
	m.mu.Lock()
	for id, watch := range m.watches {
		watch.cancel()
		delete(m.watches, id)
		metrics.ActiveExitMonitors.Dec()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Active returns the position ids currently under watch
func (m *ExitMonitor) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	return ids
}

func (m *ExitMonitor) run(ctx context.Context, watch *positionWatch) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := m.tick(ctx, watch); done {
				m.Stop(watch.positionID)
				return
			}
		}
	}
}

// tick runs one evaluation; returns true when the watch should end
func (m *ExitMonitor) tick(ctx context.Context, watch *positionWatch) bool {
	p, err := m.store.GetPosition(ctx, watch.positionID)
	if err != nil {
		if err == database.ErrNotFound {
			return true
		}
		m.logger.Error().Err(err).Str("position_id", watch.positionID).Msg("Failed to load position")
		return false
	}
	switch p.Status {
	case database.PositionStatusClosed:
		return true
	case database.PositionStatusClosing:
		// Exit in flight; the repair loop resolves it if it sticks
		return false
	}

	price, err := m.provider.RealtimePrice(ctx, marketdata.TokenRef{
		Symbol:   p.TokenSymbol,
		Contract: p.ContractAddress,
		Chain:    p.Chain,
	})
	if err != nil {
		m.logger.Debug().Err(err).Str("position_id", p.ID).Msg("Price fetch failed, retrying next tick")
		return false
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
	if err := m.store.UpdatePositionPrice(ctx, p.ID, price, pnlUSDT, pnlPct, highest); err != nil {
		m.logger.Error().Err(err).Str("position_id", p.ID).Msg("Failed to update position price")
	}
	p.HighestPrice = highest

	decision := EvaluateExit(p, watch.rules, price, m.now())
	if decision.UpdateTrailing {
		if err := m.store.UpdatePositionTrailing(ctx, p.ID, true, decision.TrailingPrice); err != nil {
			m.logger.Error().Err(err).Str("position_id", p.ID).Msg("Failed to update trailing stop")
		}
		return false
	}
	if !decision.Exit {
		return false
	}

	if decision.SellPct < 100 {
		m.executePartial(ctx, p, watch, decision)
		return false
	}

	if err := m.ExecuteExit(ctx, p.ExecutionID, decision.ExitType, decision.Reason); err != nil {
		m.logger.Error().Err(err).Str("position_id", p.ID).Msg("Exit execution failed")
	}
	return false
}

// ExecuteExit sells a position's full remaining balance. The HOLDING to
// CLOSING claim makes concurrent callers (exit monitor, SELL fanout,
// repair loop, manual close) collapse into a single seller; losers of the
// claim return nil.
func (m *ExitMonitor) ExecuteExit(ctx context.Context, executionID, exitType, reason string) error {
	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	if exec.Status == database.ExecStatusExited {
		return nil
	}

	positionID := database.PositionID(executionID)
	claimed, err := m.store.ClaimPositionForClose(ctx, positionID)
	if err != nil {
		return fmt.Errorf("failed to claim position %s: %w", positionID, err)
	}
	if !claimed {
		return nil
	}

	p, err := m.store.GetPosition(ctx, positionID)
	if err != nil {
		m.releaseClaim(ctx, positionID)
		return fmt.Errorf("failed to load position %s: %w", positionID, err)
	}

	log := m.logger.With().
		Str("execution_id", executionID).
		Str("position_id", positionID).
		Str("exit_type", exitType).
		Logger()

	cfg, err := m.resolveConfig(ctx, p.UserID, executionID)
	if err != nil {
		// A missing config will not fix itself, so let the retry cap park
		// it. A transient lookup error must not consume a retry; no sell
		// was attempted yet.
		if errors.Is(err, database.ErrNotFound) {
			return m.failExit(ctx, exec, positionID, fmt.Sprintf("config lookup failed: %v", err), log)
		}
		return m.abortExit(ctx, positionID, fmt.Sprintf("config lookup failed: %v", err), log)
	}

	c, err := m.registry.Resolve(p.Chain)
	if err != nil {
		return m.failExit(ctx, exec, positionID, fmt.Sprintf("unsupported chain: %v", err), log)
	}

	hash, swap, err := m.submitSell(ctx, c, cfg, p.ContractAddress, p.CurrentTokenBalance)
	if err != nil {
		return m.failExit(ctx, exec, positionID, err.Error(), log)
	}

	if err := m.store.UpdateExecutionExitSubmitted(ctx, executionID, hash, exitType); err != nil {
		log.Error().Err(err).Str("tx_hash", hash).Msg("Exit submitted but failed to record tx hash")
	}
	metrics.ExitsSubmitted.WithLabelValues(exitType).Inc()
	if m.bus != nil {
		m.bus.Publish("exit_monitor", events.EventExitSubmitted, map[string]interface{}{
			"execution_id": executionID,
			"position_id":  positionID,
			"exit_type":    exitType,
			"reason":       reason,
			"tx_hash":      hash,
		})
	}
	log.Info().Str("tx_hash", hash).Str("reason", reason).Msg("Exit transaction submitted")

	status, err := m.gateway.WaitForReceipt(ctx, c, hash, m.receiptTimeout)
	if err != nil || status == chain.TxPending {
		// Still unresolved; leave the position CLOSING with the tx hash
		// recorded and let the repair loop settle it.
		log.Warn().Err(err).Str("tx_hash", hash).Msg("Exit receipt not resolved in time")
		return nil
	}
	if status == chain.TxFailed {
		return m.failExit(ctx, exec, positionID, "exit transaction reverted", log)
	}

	return m.FinalizeExit(ctx, exec, p, swap.ToAmountRaw, exitType, c)
}

// FinalizeExit records a confirmed sell: the execution moves to EXITED,
// the position closes, and the projector migrates it into history.
func (m *ExitMonitor) FinalizeExit(ctx context.Context, exec *database.Execution, p *database.Position, toAmountRaw, exitType string, c *chain.Chain) error {
	exitAmount := 0.0
	if raw, ok := new(big.Int).SetString(toAmountRaw, 10); ok {
		exitAmount = chain.FromTokenUnits(raw, c.Stable.Decimals)
	}
	if exitAmount <= 0 {
		exitAmount = p.CurrentPrice * p.CurrentTokenBalance
	}

	exitPrice := p.CurrentPrice
	if p.CurrentTokenBalance > 0 {
		exitPrice = exitAmount / p.CurrentTokenBalance
	}
	costBasis := exec.EntryAmountUSDT * (100 - p.PartialSoldPct) / 100
	pnl := exitAmount - costBasis
	pnlPct := 0.0
	if costBasis > 0 {
		pnlPct = pnl / costBasis * 100
	}

	if err := m.store.UpdateExecutionExited(ctx, exec.ID, exitPrice, exitAmount, pnl, pnlPct, exitType, m.now()); err != nil {
		return fmt.Errorf("failed to record exit for %s: %w", exec.ID, err)
	}
	if err := m.store.UpdatePositionStatus(ctx, p.ID, database.PositionStatusClosed); err != nil {
		m.logger.Error().Err(err).Str("position_id", p.ID).Msg("Failed to close position")
	}

	m.logger.Info().
		Str("execution_id", exec.ID).
		Str("exit_type", exitType).
		Float64("exit_amount_usdt", exitAmount).
		Float64("pnl_usdt", pnl).
		Float64("pnl_pct", pnlPct).
		Msg("Exit confirmed")

	if m.projector != nil {
		if err := m.projector.OnTradeExit(ctx, exec.ID); err != nil {
			m.logger.Error().Err(err).Str("execution_id", exec.ID).Msg("Exit projection failed")
		}
	}
	m.Stop(p.ID)
	return nil
}

// executePartial sells one staged tier's share without closing the position
func (m *ExitMonitor) executePartial(ctx context.Context, p *database.Position, watch *positionWatch, decision Decision) {
	log := m.logger.With().Str("position_id", p.ID).Logger()
	if watch.cfg == nil {
		log.Warn().Msg("No config for partial sell, skipping tier")
		return
	}

	c, err := m.registry.Resolve(p.Chain)
	if err != nil {
		log.Error().Err(err).Msg("Unsupported chain for partial sell")
		return
	}

	sellTokens := p.EntryAmountToken * decision.SellPct / 100
	if sellTokens > p.CurrentTokenBalance {
		sellTokens = p.CurrentTokenBalance
	}
	if sellTokens <= 0 {
		return
	}

	hash, _, err := m.submitSell(ctx, c, watch.cfg, p.ContractAddress, sellTokens)
	if err != nil {
		log.Error().Err(err).Msg("Partial sell failed")
		return
	}

	newSold := p.PartialSoldPct + decision.SellPct
	newBalance := p.CurrentTokenBalance - sellTokens
	if err := m.store.UpdatePositionPartialSold(ctx, p.ID, newSold, newBalance); err != nil {
		log.Error().Err(err).Msg("Failed to record partial sell")
	}
	metrics.ExitsSubmitted.WithLabelValues(database.ExitTypeTakeProfitPartial).Inc()
	if m.bus != nil {
		m.bus.Publish("exit_monitor", events.EventExitSubmitted, map[string]interface{}{
			"execution_id": p.ExecutionID,
			"position_id":  p.ID,
			"exit_type":    database.ExitTypeTakeProfitPartial,
			"reason":       decision.Reason,
			"sell_pct":     decision.SellPct,
			"tx_hash":      hash,
		})
	}
	log.Info().
		Str("tx_hash", hash).
		Float64("sell_pct", decision.SellPct).
		Float64("partial_sold_pct", newSold).
		Msg("Partial take-profit submitted")
}

// submitSell quotes and submits a token-to-stable swap
func (m *ExitMonitor) submitSell(ctx context.Context, c *chain.Chain, cfg *database.StrategyConfig, token string, tokenAmount float64) (string, *aggregator.SwapTx, error) {
	decimals, err := m.gateway.TokenDecimals(ctx, c, token)
	if err != nil {
		return "", nil, fmt.Errorf("decimals lookup failed: %v", err)
	}
	amountRaw := chain.ToTokenUnits(tokenAmount, decimals)

	swap, err := m.router.BuildSwapTx(ctx, aggregator.QuoteRequest{
		ChainID:     c.ID,
		FromToken:   token,
		ToToken:     c.Stable.Address,
		AmountRaw:   amountRaw.String(),
		UserWallet:  cfg.WalletAddress,
		SlippagePct: cfg.MaxSlippage,
	})
	if err != nil {
		return "", nil, fmt.Errorf("sell quote failed: %v", err)
	}

	if err := m.gateway.EnsureApproval(ctx, c, cfg.PrivyUserID, cfg.WalletAddress, token, swap.To, amountRaw); err != nil {
		return "", nil, fmt.Errorf("sell approval failed: %v", err)
	}

	hash, err := m.gateway.SendTransaction(ctx, c, cfg.PrivyUserID, chain.TxRequest{
		To:      swap.To,
		Data:    swap.Data,
		Value:   swap.Value,
		ChainID: c.ID,
	})
	if err != nil {
		return "", nil, fmt.Errorf("sell submission failed: %v", err)
	}
	return hash, swap, nil
}

// failExit releases the CLOSING claim and stamps the execution FAILED with
// an incremented retry counter so the repair loop can try again.
func (m *ExitMonitor) failExit(ctx context.Context, exec *database.Execution, positionID, reason string, log zerolog.Logger) error {
	attempt := ParseRetryCount(exec.ErrorMessage) + 1
	msg := FormatRetryError(attempt, reason)
	if err := m.store.UpdateExecutionStatus(ctx, exec.ID, database.ExecStatusFailed, &msg); err != nil {
		log.Error().Err(err).Msg("Failed to record exit failure")
	}
	m.releaseClaim(ctx, positionID)
	log.Warn().Int("attempt", attempt).Str("reason", reason).Msg("Exit attempt failed")
	return fmt.Errorf("exit failed (attempt %d): %s", attempt, reason)
}

// abortExit releases the CLOSING claim without touching the retry counter.
// Used for failures before any sell is attempted, where a retry marker would
// burn attempts the actual sell never got.
func (m *ExitMonitor) abortExit(ctx context.Context, positionID, reason string, log zerolog.Logger) error {
	m.releaseClaim(ctx, positionID)
	log.Warn().Str("reason", reason).Msg("Exit aborted before submission")
	return fmt.Errorf("exit aborted: %s", reason)
}

func (m *ExitMonitor) releaseClaim(ctx context.Context, positionID string) {
	if err := m.store.UpdatePositionStatus(ctx, positionID, database.PositionStatusHolding); err != nil {
		m.logger.Error().Err(err).Str("position_id", positionID).Msg("Failed to release close claim")
	}
}

func (m *ExitMonitor) resolveConfig(ctx context.Context, userID, executionID string) (*database.StrategyConfig, error) {
	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	strategyID := ""
	if exec.StrategyID != nil {
		strategyID = *exec.StrategyID
	}
	return m.store.GetStrategyConfig(ctx, userID, strategyID)
}
