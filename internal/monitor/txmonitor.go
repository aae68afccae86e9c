package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/chain"
	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/events"
	"alpha-trade-engine/internal/metrics"
)

// ExecutionStore is the persistence surface of the transaction monitor
type ExecutionStore interface {
	GetExecutionsByStatus(ctx context.Context, status string) ([]*database.Execution, error)
	UpdateExecutionConfirmed(ctx context.Context, id string, entryPrice, entryAmountToken float64, executedAt time.Time) error
	UpdateExecutionStatus(ctx context.Context, id, status string, errorMessage *string) error
}

// ReceiptSource reads transaction status from chain
type ReceiptSource interface {
	TransactionStatus(ctx context.Context, c *chain.Chain, txHash string) (chain.TxStatus, error)
}

// TxMonitor sweeps SUBMITTED entry transactions and resolves them against
// their chain receipts. Confirmed entries are handed to the projector,
// which opens the position.
type TxMonitor struct {
	store     ExecutionStore
	receipts  ReceiptSource
	registry  *chain.Registry
	bus       *events.Bus
	logger    zerolog.Logger
	projector EntryProjector
	now       func() time.Time
}

// NewTxMonitor creates a transaction monitor
func NewTxMonitor(store ExecutionStore, receipts ReceiptSource, registry *chain.Registry, bus *events.Bus, logger zerolog.Logger) *TxMonitor {
	return &TxMonitor{
		store:    store,
		receipts: receipts,
		registry: registry,
		bus:      bus,
		logger:   logger.With().Str("component", "tx_monitor").Logger(),
		now:      time.Now,
	}
}

// SetProjector wires the confirmed-entry sink. Set once during bootstrap.
func (m *TxMonitor) SetProjector(p EntryProjector) {
	m.projector = p
}

// Sweep resolves every SUBMITTED execution once. Runs on a scheduler tick.
func (m *TxMonitor) Sweep(ctx context.Context) (confirmed, failed int, err error) {
	executions, err := m.store.GetExecutionsByStatus(ctx, database.ExecStatusSubmitted)
	if err != nil {
		return 0, 0, err
	}

	for _, exec := range executions {
		if exec.EntryTxHash == nil || *exec.EntryTxHash == "" {
			continue
		}
		switch m.resolve(ctx, exec) {
		case chain.TxConfirmed:
			confirmed++
		case chain.TxFailed:
			failed++
		}
	}
	if confirmed > 0 || failed > 0 {
		m.logger.Info().Int("confirmed", confirmed).Int("failed", failed).Msg("Submitted transaction sweep resolved")
	}
	return confirmed, failed, nil
}

func (m *TxMonitor) resolve(ctx context.Context, exec *database.Execution) chain.TxStatus {
	log := m.logger.With().Str("execution_id", exec.ID).Str("tx_hash", *exec.EntryTxHash).Logger()

	c, err := m.registry.Resolve(exec.Chain)
	if err != nil {
		log.Error().Err(err).Msg("Unsupported chain on execution")
		return chain.TxPending
	}

	status, err := m.receipts.TransactionStatus(ctx, c, *exec.EntryTxHash)
	if err != nil {
		log.Debug().Err(err).Msg("Receipt lookup failed, retrying next sweep")
		return chain.TxPending
	}

	switch status {
	case chain.TxConfirmed:
		amountToken := exec.EntryAmountToken
		if amountToken <= 0 && exec.EntryPrice > 0 {
			amountToken = exec.EntryAmountUSDT / exec.EntryPrice
		}
		if err := m.store.UpdateExecutionConfirmed(ctx, exec.ID, exec.EntryPrice, amountToken, m.now()); err != nil {
			log.Error().Err(err).Msg("Failed to record confirmation")
			return chain.TxPending
		}
		if m.bus != nil {
			m.bus.Publish("tx_monitor", events.EventTradeConfirmed, map[string]interface{}{
				"execution_id": exec.ID,
				"user_id":      exec.UserID,
				"token":        exec.TokenSymbol,
				"tx_hash":      *exec.EntryTxHash,
			})
		}
		log.Info().Msg("Entry transaction confirmed")
		if m.projector != nil {
			if err := m.projector.OnTradeEntry(ctx, exec.ID); err != nil {
				log.Error().Err(err).Msg("Entry projection failed, repair loop will retry")
			}
		}
		return chain.TxConfirmed

	case chain.TxFailed:
		reason := "entry transaction reverted"
		if err := m.store.UpdateExecutionStatus(ctx, exec.ID, database.ExecStatusFailed, &reason); err != nil {
			log.Error().Err(err).Msg("Failed to record revert")
			return chain.TxPending
		}
		metrics.TradesFailed.Inc()
		if m.bus != nil {
			m.bus.Publish("tx_monitor", events.EventTradeFailed, map[string]interface{}{
				"execution_id": exec.ID,
				"reason":       reason,
			})
		}
		log.Warn().Msg("Entry transaction reverted")
		return chain.TxFailed
	}
	return chain.TxPending
}
