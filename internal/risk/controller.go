// Package risk gates trade entries. Every execution request passes through
// the controller's check chain before the executor is allowed to spend a
// user's balance, and the daily-loss circuit breaker lives here too.
package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/events"
	"alpha-trade-engine/internal/metrics"
)

// Check names reported in rejection results
const (
	CheckFollowStrategy = "follow_strategy"
	CheckBalance        = "insufficient_balance"
	CheckLiquidity      = "liquidity"
	CheckBlacklist      = "blacklist"
	CheckWhitelist      = "whitelist"
	CheckTokenExposure  = "token_exposure"
	CheckMaxPositions   = "max_positions"
	CheckCircuitBreaker = "circuit_breaker"
	CheckTokenCooldown  = "token_cooldown"
)

// PauseDuration is how long the circuit breaker holds a user after the
// daily loss limit trips.
const PauseDuration = 24 * time.Hour

// TokenCooldown blocks re-entry into a token this long after any entry or
// exit activity on it.
const TokenCooldown = 24 * time.Hour

// Store is the persistence surface the controller needs
type Store interface {
	GetEnabledConfigs(ctx context.Context, strategyID string) ([]*database.StrategyConfig, error)
	CountHoldingPositions(ctx context.Context, userID string) (int, error)
	GetHoldingValue(ctx context.Context, userID, tokenSymbol string) (float64, error)
	GetTodayRealizedPnLPct(ctx context.Context, userID string, dayStart time.Time) (float64, error)
	HasRecentTokenActivity(ctx context.Context, userID, tokenSymbol, chain string, since time.Time) (bool, error)
	SetPausedUntil(ctx context.Context, userID string, until time.Time) error
	ClearPause(ctx context.Context, userID string) error
	ClearExpiredPauses(ctx context.Context) (int64, error)
}

// LiquiditySource reports pool depth for a token contract
type LiquiditySource interface {
	PoolLiquidity(ctx context.Context, contract, chain string) (float64, error)
}

// Risk is one failed check
type Risk struct {
	Check  string `json:"check"`
	Reason string `json:"reason"`
}

// CheckResult is the outcome of a trade risk evaluation
type CheckResult struct {
	Passed bool   `json:"passed"`
	Risks  []Risk `json:"risks,omitempty"`
}

func failed(check, format string, args ...interface{}) *CheckResult {
	return &CheckResult{Risks: []Risk{{Check: check, Reason: fmt.Sprintf(format, args...)}}}
}

// Controller runs the pre-trade check chain
type Controller struct {
	store     Store
	liquidity LiquiditySource
	bus       *events.Bus
	logger    zerolog.Logger

	now func() time.Time
}

// NewController creates a risk controller
func NewController(store Store, liquidity LiquiditySource, bus *events.Bus, logger zerolog.Logger) *Controller {
	return &Controller{
		store:     store,
		liquidity: liquidity,
		bus:       bus,
		logger:    logger.With().Str("component", "risk").Logger(),
		now:       time.Now,
	}
}

// GetEnabledStrategies returns the auto-trade configs eligible for a signal:
// enabled, not paused, and following the signal's source. Per-user limits
// are left to CheckTradeRisk.
func (c *Controller) GetEnabledStrategies(ctx context.Context, signal *database.Signal, defaultStrategyID string) ([]*database.StrategyConfig, error) {
	strategyID := defaultStrategyID
	if signal.StrategyID != nil && *signal.StrategyID != "" {
		strategyID = *signal.StrategyID
	}

	configs, err := c.store.GetEnabledConfigs(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load enabled configs: %w", err)
	}

	now := c.now()
	eligible := make([]*database.StrategyConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.IsPaused(now) {
			continue
		}
		if !c.followMatches(cfg, signal) {
			continue
		}
		eligible = append(eligible, cfg)
	}
	return eligible, nil
}

// CheckTradeRisk runs the full check chain for one user and one signal.
// The first failing check rejects the trade; the liquidity floor is never
// bypassed regardless of per-user settings.
func (c *Controller) CheckTradeRisk(ctx context.Context, cfg *database.StrategyConfig, signal *database.Signal, amount float64) (*CheckResult, error) {
	now := c.now()

	if !c.followMatches(cfg, signal) {
		return failed(CheckFollowStrategy, "signal source %s does not match follow strategy %s", signal.Source, cfg.FollowStrategy), nil
	}

	if cfg.USDTBalance < amount {
		return failed(CheckBalance, "balance %.2f below trade amount %.2f", cfg.USDTBalance, amount), nil
	}

	if cfg.MinLiquidity > 0 {
		liquidity, err := c.liquidity.PoolLiquidity(ctx, signal.ContractAddress, signal.Chain)
		if err != nil {
			return nil, fmt.Errorf("failed to check liquidity for %s: %w", signal.TokenSymbol, err)
		}
		if liquidity < cfg.MinLiquidity {
			return failed(CheckLiquidity, "pool liquidity $%.0f below minimum $%.0f", liquidity, cfg.MinLiquidity), nil
		}
	}

	if containsFold(cfg.Blacklist, signal.TokenSymbol) {
		return failed(CheckBlacklist, "token %s is blacklisted", signal.TokenSymbol), nil
	}

	if len(cfg.Whitelist) > 0 && !containsFold(cfg.Whitelist, signal.TokenSymbol) {
		return failed(CheckWhitelist, "token %s is not whitelisted", signal.TokenSymbol), nil
	}

	if cfg.SingleTokenMaxPercent > 0 {
		held, err := c.store.GetHoldingValue(ctx, cfg.UserID, signal.TokenSymbol)
		if err != nil {
			return nil, fmt.Errorf("failed to check token exposure: %w", err)
		}
		limit := cfg.USDTBalance * cfg.SingleTokenMaxPercent / 100
		if held+amount > limit {
			return failed(CheckTokenExposure, "exposure %.2f would exceed single-token limit %.2f", held+amount, limit), nil
		}
	}

	if cfg.MaxPositions > 0 {
		open, err := c.store.CountHoldingPositions(ctx, cfg.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to count open positions: %w", err)
		}
		if open >= cfg.MaxPositions {
			return failed(CheckMaxPositions, "%d open positions at limit %d", open, cfg.MaxPositions), nil
		}
	}

	if result, err := c.checkCircuitBreaker(ctx, cfg, now); err != nil || result != nil {
		return result, err
	}

	recent, err := c.store.HasRecentTokenActivity(ctx, cfg.UserID, signal.TokenSymbol, signal.Chain, now.Add(-TokenCooldown))
	if err != nil {
		return nil, fmt.Errorf("failed to check token cooldown: %w", err)
	}
	if recent {
		return failed(CheckTokenCooldown, "token %s traded within the last %s", signal.TokenSymbol, TokenCooldown), nil
	}

	return &CheckResult{Passed: true}, nil
}

// checkCircuitBreaker trips the 24h pause when today's realized loss has
// reached the user's daily limit. Returns a nil result when the check passes.
func (c *Controller) checkCircuitBreaker(ctx context.Context, cfg *database.StrategyConfig, now time.Time) (*CheckResult, error) {
	if cfg.IsPaused(now) {
		return failed(CheckCircuitBreaker, "user paused until %s", cfg.PausedUntil.Format(time.RFC3339)), nil
	}
	if cfg.DailyLossLimit >= 0 {
		return nil, nil
	}

	pnlPct, err := c.store.GetTodayRealizedPnLPct(ctx, cfg.UserID, dayStartUTC(now))
	if err != nil {
		return nil, fmt.Errorf("failed to load today's pnl: %w", err)
	}
	if pnlPct > cfg.DailyLossLimit {
		return nil, nil
	}

	until := now.Add(PauseDuration)
	if err := c.store.SetPausedUntil(ctx, cfg.UserID, until); err != nil {
		return nil, fmt.Errorf("failed to pause user %s: %w", cfg.UserID, err)
	}
	metrics.BreakerTrips.Inc()
	c.logger.Warn().
		Str("user_id", cfg.UserID).
		Float64("today_pnl_pct", pnlPct).
		Float64("daily_loss_limit", cfg.DailyLossLimit).
		Time("paused_until", until).
		Msg("Daily loss limit hit, circuit breaker tripped")
	if c.bus != nil {
		c.bus.Publish("risk", events.EventBreakerTripped, map[string]interface{}{
			"user_id":          cfg.UserID,
			"today_pnl_pct":    pnlPct,
			"daily_loss_limit": cfg.DailyLossLimit,
			"paused_until":     until,
		})
	}
	return failed(CheckCircuitBreaker, "daily loss %.2f%% hit limit %.2f%%, paused until %s",
		pnlPct, cfg.DailyLossLimit, until.Format(time.RFC3339)), nil
}

// UnpauseUser clears a tripped circuit breaker for a user
func (c *Controller) UnpauseUser(ctx context.Context, userID string) error {
	if err := c.store.ClearPause(ctx, userID); err != nil {
		return err
	}
	c.logger.Info().Str("user_id", userID).Msg("Circuit breaker pause cleared")
	if c.bus != nil {
		c.bus.Publish("risk", events.EventBreakerCleared, map[string]interface{}{
			"user_id": userID,
		})
	}
	return nil
}

// UnpauseExpired clears every pause whose window has elapsed. Runs on a
// scheduler tick.
func (c *Controller) UnpauseExpired(ctx context.Context) (int64, error) {
	cleared, err := c.store.ClearExpiredPauses(ctx)
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		c.logger.Info().Int64("cleared", cleared).Msg("Expired circuit breaker pauses cleared")
	}
	return cleared, nil
}

// followMatches reports whether a config's follow strategy accepts a signal.
// ALL follows everything, WHITELIST follows whatever the user whitelisted,
// and anything else must match the signal source.
func (c *Controller) followMatches(cfg *database.StrategyConfig, signal *database.Signal) bool {
	switch cfg.FollowStrategy {
	case "", database.FollowStrategyAll:
		return true
	case database.FollowStrategyWhitelist:
		return containsFold(cfg.Whitelist, signal.TokenSymbol)
	default:
		return strings.EqualFold(cfg.FollowStrategy, signal.Source)
	}
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func dayStartUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
