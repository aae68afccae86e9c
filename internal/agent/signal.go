package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/events"
	"alpha-trade-engine/internal/metrics"
)

// Persisted rejection reasons
const (
	RejectNeutral         = "neutral signals are not tradable"
	RejectShort           = "short signals are not tradable on spot"
	RejectMissingContract = "signal has no contract address"
	RejectNoMatch         = "no enabled strategy matches this signal"
)

// IngestSignal persists an externally produced signal and runs it through
// the intake path. Missing bookkeeping fields get engine defaults.
func (a *Agent) IngestSignal(ctx context.Context, signal *database.Signal) error {
	if signal.TokenSymbol == "" || signal.Chain == "" {
		return fmt.Errorf("signal requires token symbol and chain")
	}
	if signal.ID == "" {
		signal.ID = uuid.New().String()
	}
	if signal.Status == "" {
		signal.Status = database.SignalStatusActive
	}
	if signal.ExpiresAt == nil {
		exp := a.now().Add(24 * time.Hour)
		signal.ExpiresAt = &exp
	}
	if err := a.store.CreateSignal(ctx, signal); err != nil {
		return fmt.Errorf("failed to persist signal: %w", err)
	}
	return a.HandleNewSignal(ctx, signal)
}

// HandleNewSignal is the intake path for a freshly scored signal. Untradable
// signals are rejected with a persisted reason; SELL signals fan out exits
// across holders; BUY/LONG signals go to the price watcher for the users
// that clear the risk gates.
func (a *Agent) HandleNewSignal(ctx context.Context, signal *database.Signal) error {
	log := a.logger.With().
		Str("signal_id", signal.ID).
		Str("token", signal.TokenSymbol).
		Str("type", signal.SignalType).
		Logger()

	metrics.SignalsReceived.Inc()
	if a.bus != nil {
		a.bus.Publish("agent", events.EventSignalReceived, map[string]interface{}{
			"signal_id":   signal.ID,
			"token":       signal.TokenSymbol,
			"signal_type": signal.SignalType,
			"confidence":  signal.Confidence,
		})
	}

	if reason := untradableReason(signal); reason != "" {
		return a.rejectSignal(ctx, signal, reason)
	}

	if strings.EqualFold(signal.SignalType, database.SignalTypeSell) {
		report, err := a.HandleSellSignal(ctx, signal)
		if err != nil {
			return err
		}
		log.Info().
			Int("matched", report.Matched).
			Int("submitted", report.Submitted).
			Int("failed", report.Failed).
			Msg("Sell signal fanned out")
		return nil
	}

	users, err := a.eligibleUsers(ctx, signal)
	if err != nil {
		return fmt.Errorf("failed to resolve users for signal %s: %w", signal.ID, err)
	}
	if len(users) == 0 {
		return a.rejectSignal(ctx, signal, RejectNoMatch)
	}

	for _, cfg := range users {
		if err := a.store.RecordSignalDelivery(ctx, cfg.UserID, signal.ID); err != nil {
			log.Error().Err(err).Str("user_id", cfg.UserID).Msg("Failed to record signal delivery")
		}
	}

	a.entries.StartMonitoring(ctx, signal, users)
	log.Info().Int("users", len(users)).Msg("Signal accepted, price monitor started")
	return nil
}

// untradableReason classifies signals the engine never trades
func untradableReason(signal *database.Signal) string {
	switch strings.ToUpper(signal.SignalType) {
	case database.SignalTypeNeutral:
		return RejectNeutral
	case database.SignalTypeShort:
		return RejectShort
	}
	if signal.ContractAddress == "" {
		return RejectMissingContract
	}
	return ""
}

func (a *Agent) rejectSignal(ctx context.Context, signal *database.Signal, reason string) error {
	metrics.SignalsRejected.WithLabelValues(rejectLabel(reason)).Inc()
	if a.bus != nil {
		a.bus.Publish("agent", events.EventSignalRejected, map[string]interface{}{
			"signal_id": signal.ID,
			"token":     signal.TokenSymbol,
			"reason":    reason,
		})
	}
	a.logger.Info().
		Str("signal_id", signal.ID).
		Str("reason", reason).
		Msg("Signal rejected")
	if err := a.store.UpdateSignalRejectReason(ctx, signal.ID, reason); err != nil {
		return fmt.Errorf("failed to persist reject reason for %s: %w", signal.ID, err)
	}
	return nil
}

// rejectLabel keeps metric cardinality bounded to the known reasons
func rejectLabel(reason string) string {
	switch reason {
	case RejectNeutral:
		return "neutral"
	case RejectShort:
		return "short"
	case RejectMissingContract:
		return "missing_contract"
	case RejectNoMatch:
		return "no_match"
	default:
		return "other"
	}
}
