package agent

import (
	"context"
	"fmt"

	"alpha-trade-engine/internal/database"
)

// FanoutReport summarizes one SELL signal distribution
type FanoutReport struct {
	Matched   int `json:"matched"`
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
}

// HandleSellSignal closes holders' positions in the signalled token. User
// resolution narrows by signal provenance: strategy subscribers first, then
// the originating telegram group, then the broad telegram audience.
// Exits go out sequentially with spacing; positions already CLOSING or
// CLOSED are skipped.
func (a *Agent) HandleSellSignal(ctx context.Context, signal *database.Signal) (*FanoutReport, error) {
	userIDs, err := a.resolveSellAudience(ctx, signal)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sell audience for %s: %w", signal.ID, err)
	}

	report := &FanoutReport{}
	if len(userIDs) == 0 {
		return report, nil
	}

	positions, err := a.store.GetHoldingPositionsForUsersOnToken(ctx, userIDs, signal.TokenSymbol, signal.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to load holder positions for %s: %w", signal.ID, err)
	}
	report.Matched = len(positions)

	reason := fmt.Sprintf("sell signal %s", signal.ID)
	first := true
	for _, p := range positions {
		if p.Status != database.PositionStatusHolding {
			continue
		}
		if !first {
			if err := a.wait(ctx, SellFanoutSpacing); err != nil {
				return report, err
			}
		}
		first = false

		if err := a.exits.ExecuteExit(ctx, p.ExecutionID, database.ExitTypeSignalSell, reason); err != nil {
			a.logger.Error().Err(err).
				Str("execution_id", p.ExecutionID).
				Str("signal_id", signal.ID).
				Msg("Sell fanout exit failed")
			report.Failed++
			continue
		}
		report.Submitted++
	}
	return report, nil
}

func (a *Agent) resolveSellAudience(ctx context.Context, signal *database.Signal) ([]string, error) {
	if signal.StrategyID != nil && *signal.StrategyID != "" {
		return a.store.GetSubscribedUserIDs(ctx, *signal.StrategyID)
	}
	if signal.ChatID != nil && *signal.ChatID != "" {
		return a.store.GetTelegramGroupUserIDs(ctx, *signal.ChatID)
	}
	return a.store.GetTelegramBroadcastUserIDs(ctx)
}
