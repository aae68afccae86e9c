package agent

import (
	"context"
	"fmt"
	"time"

	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/scheduler"
)

// registerJobs builds the background job roster. Timeouts stay under each
// job's period so a wedged run is abandoned before the next tick.
func (a *Agent) registerJobs() error {
	jobs := []scheduler.Job{
		{
			Name:     "liquidity_refresh",
			Interval: LiquidityRefreshInterval,
			Timeout:  30 * time.Minute,
			Fn:       a.refreshAlphaTokens,
		},
		{
			Name:       "tx_sweep",
			Interval:   TxSweepInterval,
			Timeout:    25 * time.Second,
			RunAtStart: false,
			Fn: func(ctx context.Context) error {
				_, _, err := a.txSweep.Sweep(ctx)
				return err
			},
		},
		{
			Name:     "breaker_unpause",
			Interval: BreakerUnpauseInterval,
			Timeout:  time.Minute,
			Fn: func(ctx context.Context) error {
				cleared, err := a.risk.UnpauseExpired(ctx)
				if err == nil && cleared > 0 {
					a.logger.Info().Int64("users", cleared).Msg("Expired circuit breakers cleared")
				}
				return err
			},
		},
		{
			Name:     "consistency_repair",
			Interval: RepairInterval,
			Timeout:  4 * time.Minute,
			Fn: func(ctx context.Context) error {
				_, err := a.sync.CheckAndRepairDataConsistency(ctx)
				return err
			},
		},
		{
			Name:     "price_refresh",
			Interval: PriceRefreshInterval,
			Timeout:  50 * time.Second,
			Fn: func(ctx context.Context) error {
				return a.sync.RefreshHeldTokenPrices(ctx)
			},
		},
	}

	for _, j := range jobs {
		if err := a.sched.Add(j); err != nil {
			return fmt.Errorf("failed to register job %s: %w", j.Name, err)
		}
	}
	return nil
}

// refreshAlphaTokens pulls the current alpha token list and refreshes the
// stored whitelist with fresh pool liquidity for DEX-tradable tokens.
func (a *Agent) refreshAlphaTokens(ctx context.Context) error {
	tokens, err := a.tokens.AllAlphaTokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to list alpha tokens: %w", err)
	}

	updated := 0
	for _, t := range tokens {
		row := &database.AlphaToken{
			Symbol:          t.Symbol,
			Name:            t.Name,
			ContractAddress: t.ContractAddress,
			Chain:           t.Chain,
			IsDEXOnly:       !t.HasFutures,
			Liquidity:       t.Liquidity,
			Volume24h:       t.Volume24h,
		}
		if t.ListingTime > 0 {
			listed := time.UnixMilli(t.ListingTime).UTC()
			row.ListingTime = &listed
		}
		if err := a.store.UpsertAlphaToken(ctx, row); err != nil {
			a.logger.Error().Err(err).Str("symbol", t.Symbol).Msg("Failed to upsert alpha token")
			continue
		}

		if t.ContractAddress != "" {
			liquidity, err := a.tokens.PoolLiquidity(ctx, t.ContractAddress, t.Chain)
			if err == nil && liquidity > 0 {
				if err := a.store.UpdateAlphaTokenLiquidity(ctx, t.Symbol, t.Chain, liquidity); err != nil {
					a.logger.Error().Err(err).Str("symbol", t.Symbol).Msg("Failed to update token liquidity")
					continue
				}
			}
		}
		updated++
	}
	a.logger.Info().Int("tokens", updated).Msg("Alpha token whitelist refreshed")
	return nil
}
