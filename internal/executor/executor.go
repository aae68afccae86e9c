// Package executor turns triggered signals into on-chain swaps. Entry for a
// signal with many subscribed users runs as a batch: users are split into
// liquidity-sized groups, groups run sequentially with a spacing delay, and
// the trades inside one group run concurrently.
package executor

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/aggregator"
	"alpha-trade-engine/internal/chain"
	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/events"
	"alpha-trade-engine/internal/metrics"
)

// Batch sizing limits
const (
	// MaxLiquidityPercent caps one group's combined entry size at this
	// share of the pool's liquidity.
	MaxLiquidityPercent = 2.0

	// BatchInterval spaces sequential groups so entries do not stack into
	// the same blocks.
	BatchInterval = 30 * time.Second

	// MaxBatchSize is the hard cap on users per group
	MaxBatchSize = 50

	// MinBatchAmount is the total size below which splitting is skipped
	MinBatchAmount = 1000.0

	// MinPoolLiquidity aborts the whole batch when the pool is thinner
	MinPoolLiquidity = 50000.0
)

// TokenCooldown blocks a user from re-entering a token this long after any
// activity on it. Mirrors the intake gate; re-checked here because trigger
// can happen hours after intake.
const TokenCooldown = 24 * time.Hour

// Outcome classifies one user's trade attempt
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Store is the persistence surface the executor needs
type Store interface {
	GetBlockingExecution(ctx context.Context, id string) (*database.Execution, error)
	DeleteFailedExecution(ctx context.Context, id string) error
	CreateExecution(ctx context.Context, exec *database.Execution) error
	UpdateExecutionStatus(ctx context.Context, id, status string, errorMessage *string) error
	UpdateExecutionSubmitted(ctx context.Context, id, txHash, dex string) error
	HasHoldingPositionForToken(ctx context.Context, userID, tokenSymbol, chain string) (bool, error)
	HasNonTerminalExecutionForToken(ctx context.Context, userID, tokenSymbol, chain string) (bool, error)
	HasRecentTokenActivity(ctx context.Context, userID, tokenSymbol, chain string, since time.Time) (bool, error)
	MarkTokenSignalsTriggered(ctx context.Context, tokenSymbol, chain string) (int64, error)
	CreateBatch(ctx context.Context, batch *database.Batch) error
	HasBatchForSignal(ctx context.Context, signalID string) (bool, error)
	UpdateBatchProgress(ctx context.Context, id string, currentBatch, completedBatches, failedBatches int) error
	FinalizeBatch(ctx context.Context, id, status string, errorMessage *string) error
}

// Gateway is the chain surface the executor needs
type Gateway interface {
	StableBalance(ctx context.Context, c *chain.Chain, wallet string) (float64, error)
	EnsureApproval(ctx context.Context, c *chain.Chain, walletID, owner, token, spender string, required *big.Int) error
	SendTransaction(ctx context.Context, c *chain.Chain, walletID string, tx chain.TxRequest) (string, error)
}

// Router builds routed swap transactions
type Router interface {
	BuildSwapTx(ctx context.Context, req aggregator.QuoteRequest) (*aggregator.SwapTx, error)
}

// Liquidity reports pool depth for the pre-batch floor check
type Liquidity interface {
	PoolLiquidity(ctx context.Context, contract, chainName string) (float64, error)
}

// Result summarizes one batch run
type Result struct {
	BatchID  string `json:"batch_id"`
	Executed int    `json:"executed"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// Executor runs batched signal entries
type Executor struct {
	store     Store
	gateway   Gateway
	router    Router
	liquidity Liquidity
	registry  *chain.Registry
	bus       *events.Bus
	logger    zerolog.Logger
	dryRun    bool

	// wait is swapped out in tests to skip the inter-group delay
	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time
}

// SetDryRun makes the executor run the full entry pipeline up to the quote
// but never submit a transaction. Executions are recorded as CANCELLED.
func (e *Executor) SetDryRun(enabled bool) {
	e.dryRun = enabled
}

// New creates a batch executor
func New(store Store, gateway Gateway, router Router, liquidity Liquidity, registry *chain.Registry, bus *events.Bus, logger zerolog.Logger) *Executor {
	return &Executor{
		store:     store,
		gateway:   gateway,
		router:    router,
		liquidity: liquidity,
		registry:  registry,
		bus:       bus,
		logger:    logger.With().Str("component", "executor").Logger(),
		wait:      sleepCtx,
		now:       time.Now,
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

// ExecuteBatchTrades runs the entry for one triggered signal across all
// eligible users. A signal gets at most one batch; repeated triggers are
// no-ops. Returns nil when the signal was already batched.
func (e *Executor) ExecuteBatchTrades(ctx context.Context, signal *database.Signal, users []*database.StrategyConfig, currentPrice float64) (*Result, error) {
	if len(users) == 0 {
		return nil, fmt.Errorf("no users for signal %s", signal.ID)
	}

	exists, err := e.store.HasBatchForSignal(ctx, signal.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check batch for signal %s: %w", signal.ID, err)
	}
	if exists {
		e.logger.Info().Str("signal_id", signal.ID).Msg("Signal already batched, skipping")
		return nil, nil
	}

	totalAmount := 0.0
	for _, cfg := range users {
		totalAmount += cfg.TradeAmount
	}

	poolLiquidity, err := e.liquidity.PoolLiquidity(ctx, signal.ContractAddress, signal.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to check pool liquidity for %s: %w", signal.TokenSymbol, err)
	}

	batch := &database.Batch{
		ID:              uuid.NewString(),
		SignalID:        signal.ID,
		TotalUsers:      len(users),
		TotalAmountUSDT: totalAmount,
		Status:          database.BatchStatusExecuting,
	}

	if poolLiquidity < MinPoolLiquidity {
		msg := fmt.Sprintf("pool liquidity $%.0f below floor $%.0f", poolLiquidity, MinPoolLiquidity)
		batch.Status = database.BatchStatusFailed
		batch.ErrorMessage = &msg
		batch.BatchCount = 1
		batch.BatchSize = len(users)
		if err := e.store.CreateBatch(ctx, batch); err != nil {
			return nil, err
		}
		e.logger.Warn().
			Str("signal_id", signal.ID).
			Float64("liquidity", poolLiquidity).
			Msg("Batch aborted on liquidity floor")
		metrics.BatchesExecuted.WithLabelValues(database.BatchStatusFailed).Inc()
		return &Result{BatchID: batch.ID}, nil
	}

	batchCount, usersPerBatch := planBatches(len(users), totalAmount, poolLiquidity)
	batch.BatchCount = batchCount
	batch.BatchSize = usersPerBatch
	if err := e.store.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("batch_id", batch.ID).
		Str("signal_id", signal.ID).
		Str("token", signal.TokenSymbol).
		Int("users", len(users)).
		Float64("total_amount", totalAmount).
		Int("batch_count", batchCount).
		Int("users_per_batch", usersPerBatch).
		Msg("Batch execution starting")

	result := &Result{BatchID: batch.ID}
	completedBatches, failedBatches := 0, 0

	for i := 0; i < batchCount; i++ {
		if i > 0 {
			if err := e.wait(ctx, BatchInterval); err != nil {
				e.finalize(ctx, batch.ID, result, completedBatches, failedBatches, err)
				return result, err
			}
		}

		start := i * usersPerBatch
		end := start + usersPerBatch
		if end > len(users) {
			end = len(users)
		}
		if start >= end {
			break
		}

		executed, skipped, failedCount := e.runGroup(ctx, signal, users[start:end], batch.ID, start, currentPrice)
		result.Executed += executed
		result.Skipped += skipped
		result.Failed += failedCount

		if executed == 0 && failedCount > 0 {
			failedBatches++
		} else {
			completedBatches++
		}
		if err := e.store.UpdateBatchProgress(ctx, batch.ID, i+1, completedBatches, failedBatches); err != nil {
			e.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("Failed to update batch progress")
		}
	}

	e.finalize(ctx, batch.ID, result, completedBatches, failedBatches, nil)
	return result, nil
}

func (e *Executor) finalize(ctx context.Context, batchID string, result *Result, completed, failed int, runErr error) {
	status := database.BatchStatusCompleted
	var errMsg *string
	switch {
	case runErr != nil:
		status = database.BatchStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	case result.Executed == 0 && result.Failed > 0:
		status = database.BatchStatusFailed
		msg := fmt.Sprintf("all %d trade attempts failed", result.Failed)
		errMsg = &msg
	}

	if err := e.store.FinalizeBatch(ctx, batchID, status, errMsg); err != nil {
		e.logger.Error().Err(err).Str("batch_id", batchID).Msg("Failed to finalize batch")
	}
	metrics.BatchesExecuted.WithLabelValues(status).Inc()
	if e.bus != nil {
		e.bus.Publish("executor", events.EventBatchCompleted, map[string]interface{}{
			"batch_id": batchID,
			"status":   status,
			"executed": result.Executed,
			"skipped":  result.Skipped,
			"failed":   result.Failed,
		})
	}
	e.logger.Info().
		Str("batch_id", batchID).
		Str("status", status).
		Int("executed", result.Executed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Batch execution finished")
}

// runGroup executes one group's trades concurrently
func (e *Executor) runGroup(ctx context.Context, signal *database.Signal, group []*database.StrategyConfig, batchID string, offset int, currentPrice float64) (executed, skipped, failed int) {
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, cfg := range group {
		wg.Add(1)
		go func(position int, cfg *database.StrategyConfig) {
			defer wg.Done()
			outcome := e.executeUserTrade(ctx, signal, cfg, batchID, position, currentPrice)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeExecuted:
				executed++
			case OutcomeSkipped:
				skipped++
			default:
				failed++
			}
		}(offset+i, cfg)
	}
	wg.Wait()
	return executed, skipped, failed
}

// executeUserTrade runs the full entry pipeline for one user. Every
// rejection before submission leaves a row explaining itself; failures
// after submission are the transaction monitor's problem.
func (e *Executor) executeUserTrade(ctx context.Context, signal *database.Signal, cfg *database.StrategyConfig, batchID string, batchPosition int, currentPrice float64) Outcome {
	execID := database.ExecutionID(cfg.UserID, signal.ID)
	log := e.logger.With().Str("execution_id", execID).Str("user_id", cfg.UserID).Str("token", signal.TokenSymbol).Logger()

	blocking, err := e.store.GetBlockingExecution(ctx, execID)
	if err != nil {
		log.Error().Err(err).Msg("Failed idempotency check")
		return OutcomeFailed
	}
	if blocking != nil {
		log.Debug().Str("status", blocking.Status).Msg("Execution already exists, skipping")
		return OutcomeSkipped
	}
	// A FAILED row with this id is a spent attempt; clear it so the
	// deterministic id is free again.
	if err := e.store.DeleteFailedExecution(ctx, execID); err != nil {
		log.Error().Err(err).Msg("Failed to clear failed execution")
		return OutcomeFailed
	}

	busy, reason, err := e.tokenBusy(ctx, cfg.UserID, signal)
	if err != nil {
		log.Error().Err(err).Msg("Token mutex check failed")
		return OutcomeFailed
	}
	if busy {
		log.Debug().Str("reason", reason).Msg("Token busy for user, skipping")
		return OutcomeSkipped
	}

	c, err := e.registry.Resolve(signal.Chain)
	if err != nil {
		log.Error().Err(err).Msg("Unsupported chain")
		return OutcomeFailed
	}

	exec := &database.Execution{
		ID:              execID,
		UserID:          cfg.UserID,
		SignalID:        signal.ID,
		TokenSymbol:     signal.TokenSymbol,
		Chain:           c.Name,
		ContractAddress: signal.ContractAddress,
		EntryAmountUSDT: cfg.TradeAmount,
		EntryPrice:      currentPrice,
		FollowStrategy:  cfg.FollowStrategy,
		IsAlphaToken:    signal.IsAlphaToken,
		SignalSource:    signal.Source,
		BatchID:         &batchID,
		BatchPosition:   &batchPosition,
		Status:          database.ExecStatusPending,
	}
	if cfg.StrategyID != "" {
		exec.StrategyID = &cfg.StrategyID
	}

	// On-chain balance re-check; the cached balance the risk gate saw may
	// be stale by trigger time.
	balance, err := e.gateway.StableBalance(ctx, c, cfg.WalletAddress)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read stable balance")
		return OutcomeFailed
	}
	if balance < cfg.TradeAmount {
		msg := fmt.Sprintf("balance %.2f %s below trade amount %.2f", balance, c.Stable.Symbol, cfg.TradeAmount)
		exec.Status = database.ExecStatusInsufficientBalance
		exec.ErrorMessage = &msg
		if err := e.store.CreateExecution(ctx, exec); err != nil {
			log.Error().Err(err).Msg("Failed to record insufficient balance")
		}
		log.Warn().Float64("balance", balance).Msg("Insufficient balance, trade skipped")
		return OutcomeSkipped
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		log.Error().Err(err).Msg("Failed to create execution")
		return OutcomeFailed
	}

	amountRaw := chain.ToTokenUnits(cfg.TradeAmount, c.Stable.Decimals)
	swap, err := e.router.BuildSwapTx(ctx, aggregator.QuoteRequest{
		ChainID:     c.ID,
		FromToken:   c.Stable.Address,
		ToToken:     signal.ContractAddress,
		AmountRaw:   amountRaw.String(),
		UserWallet:  cfg.WalletAddress,
		SlippagePct: cfg.MaxSlippage,
	})
	if err != nil {
		e.fail(ctx, execID, fmt.Sprintf("quote failed: %v", err), log)
		return OutcomeFailed
	}
	exec.DEX = swap.Router

	if e.dryRun {
		msg := "dry run, transaction not submitted"
		if err := e.store.UpdateExecutionStatus(ctx, execID, database.ExecStatusCancelled, &msg); err != nil {
			log.Error().Err(err).Msg("Failed to record dry run execution")
		}
		log.Info().Float64("amount_usdt", cfg.TradeAmount).Msg("Dry run, entry not submitted")
		return OutcomeSkipped
	}

	if err := e.store.UpdateExecutionStatus(ctx, execID, database.ExecStatusSubmitting, nil); err != nil {
		e.fail(ctx, execID, fmt.Sprintf("status update failed: %v", err), log)
		return OutcomeFailed
	}

	if err := e.gateway.EnsureApproval(ctx, c, cfg.PrivyUserID, cfg.WalletAddress, c.Stable.Address, swap.To, amountRaw); err != nil {
		e.fail(ctx, execID, fmt.Sprintf("approval failed: %v", err), log)
		return OutcomeFailed
	}

	txHash, err := e.gateway.SendTransaction(ctx, c, cfg.PrivyUserID, chain.TxRequest{
		To:      swap.To,
		Data:    swap.Data,
		Value:   swap.Value,
		ChainID: c.ID,
	})
	if err != nil {
		e.fail(ctx, execID, fmt.Sprintf("submission failed: %v", err), log)
		return OutcomeFailed
	}

	if err := e.store.UpdateExecutionSubmitted(ctx, execID, txHash, swap.Router); err != nil {
		log.Error().Err(err).Str("tx_hash", txHash).Msg("Submitted but failed to record tx hash")
	}
	if _, err := e.store.MarkTokenSignalsTriggered(ctx, signal.TokenSymbol, signal.Chain); err != nil {
		log.Error().Err(err).Msg("Failed to mark token signals triggered")
	}

	metrics.TradesSubmitted.Inc()
	if e.bus != nil {
		e.bus.Publish("executor", events.EventTradeSubmitted, map[string]interface{}{
			"execution_id": execID,
			"user_id":      cfg.UserID,
			"signal_id":    signal.ID,
			"token":        signal.TokenSymbol,
			"chain":        c.Name,
			"amount_usdt":  cfg.TradeAmount,
			"tx_hash":      txHash,
		})
	}
	log.Info().Str("tx_hash", txHash).Float64("amount_usdt", cfg.TradeAmount).Msg("Entry transaction submitted")
	return OutcomeExecuted
}

// tokenBusy applies the per-user token mutex: an open position, an in-flight
// execution, or recent activity on the token all block a new entry. A store
// error blocks too; this guards against double entries, so it never passes
// on an answer it could not read.
func (e *Executor) tokenBusy(ctx context.Context, userID string, signal *database.Signal) (bool, string, error) {
	holding, err := e.store.HasHoldingPositionForToken(ctx, userID, signal.TokenSymbol, signal.Chain)
	if err != nil {
		return false, "", fmt.Errorf("failed to check holding position: %w", err)
	}
	if holding {
		return true, "already holding token", nil
	}
	inFlight, err := e.store.HasNonTerminalExecutionForToken(ctx, userID, signal.TokenSymbol, signal.Chain)
	if err != nil {
		return false, "", fmt.Errorf("failed to check in-flight executions: %w", err)
	}
	if inFlight {
		return true, "execution in flight for token", nil
	}
	recent, err := e.store.HasRecentTokenActivity(ctx, userID, signal.TokenSymbol, signal.Chain, e.now().Add(-TokenCooldown))
	if err != nil {
		return false, "", fmt.Errorf("failed to check token cooldown: %w", err)
	}
	if recent {
		return true, "token inside cooldown window", nil
	}
	return false, "", nil
}

func (e *Executor) fail(ctx context.Context, execID, reason string, log zerolog.Logger) {
	if err := e.store.UpdateExecutionStatus(ctx, execID, database.ExecStatusFailed, &reason); err != nil {
		log.Error().Err(err).Msg("Failed to record execution failure")
	}
	metrics.TradesFailed.Inc()
	if e.bus != nil {
		e.bus.Publish("executor", events.EventTradeFailed, map[string]interface{}{
			"execution_id": execID,
			"reason":       reason,
		})
	}
	log.Warn().Str("reason", reason).Msg("Entry attempt failed")
}

// planBatches sizes the sequential groups. The combined amount of one group
// stays under MaxLiquidityPercent of the pool, groups never exceed
// MaxBatchSize users, and totals under MinBatchAmount run as one group.
func planBatches(userCount int, totalAmount, poolLiquidity float64) (batchCount, usersPerBatch int) {
	if totalAmount < MinBatchAmount {
		batchCount = 1
	} else {
		maxPerBatch := poolLiquidity * MaxLiquidityPercent / 100
		batchCount = int(math.Ceil(totalAmount / maxPerBatch))
		if batchCount < 1 {
			batchCount = 1
		}
	}

	usersPerBatch = int(math.Ceil(float64(userCount) / float64(batchCount)))
	if usersPerBatch > MaxBatchSize {
		usersPerBatch = MaxBatchSize
	}
	if usersPerBatch < 1 {
		usersPerBatch = 1
	}
	batchCount = int(math.Ceil(float64(userCount) / float64(usersPerBatch)))
	return batchCount, usersPerBatch
}
