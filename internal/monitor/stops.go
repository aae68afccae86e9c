package monitor

import (
	"fmt"
	"time"

	"alpha-trade-engine/internal/database"
)

// Stop level clamps. User percentages and signal-provided levels are both
// forced into these bands before a position opens.
const (
	MinTakeProfitPct = 5.0
	MaxTakeProfitPct = 50.0
	MinStopLossPct   = 3.0
	MaxStopLossPct   = 20.0
)

// DefaultMaxHold closes TIME_DECAY positions that have not resolved
const DefaultMaxHold = 72 * time.Hour

// ATRStopMultiple places the ATR stop this many ATRs under entry
const ATRStopMultiple = 2.0

// TierRule is one staged take-profit step
type TierRule struct {
	GainPct float64
	SellPct float64
}

// StagedTiers is the ladder used in STAGED take-profit mode. Sell
// percentages sum to 100, so the last tier closes the position.
var StagedTiers = []TierRule{
	{GainPct: 50, SellPct: 30},
	{GainPct: 100, SellPct: 30},
	{GainPct: 200, SellPct: 40},
}

// ExitRules is the per-position exit configuration resolved at open time
type ExitRules struct {
	TakeProfitMode        string
	StopLossMode          string
	TrailingActivationPct float64
	TrailPct              float64
	MaxHold               time.Duration
}

// RulesFromConfig resolves a user's config into exit rules
func RulesFromConfig(cfg *database.StrategyConfig) ExitRules {
	rules := ExitRules{
		TakeProfitMode:        cfg.TakeProfitMode,
		StopLossMode:          cfg.EffectiveStopLossMode(),
		TrailingActivationPct: cfg.TrailingActivationPct,
		TrailPct:              clampStopLossPct(cfg.StopLossPct),
		MaxHold:               DefaultMaxHold,
	}
	if rules.TakeProfitMode == "" {
		rules.TakeProfitMode = database.TakeProfitModeOneTime
	}
	if rules.TrailingActivationPct <= 0 {
		rules.TrailingActivationPct = 10
	}
	return rules
}

// DefaultRules covers positions whose config row has gone missing
func DefaultRules() ExitRules {
	return ExitRules{
		TakeProfitMode:        database.TakeProfitModeOneTime,
		StopLossMode:          database.StopLossModeFixed,
		TrailingActivationPct: 10,
		TrailPct:              5,
		MaxHold:               DefaultMaxHold,
	}
}

// Decision is the outcome of one exit evaluation tick
type Decision struct {
	Exit     bool
	ExitType string
	Reason   string
	// SellPct is the share of the original entry to sell; 100 closes
	SellPct float64
	// UpdateTrailing asks the caller to persist a new trailing stop
	UpdateTrailing bool
	TrailingPrice  float64
}

// SeedStopLevels computes the initial stop-loss and take-profit prices for
// a new position. Signal-provided levels are used when they sit on the
// right side of the actual entry; either way the final percentages are
// clamped into the allowed bands.
func SeedStopLevels(entryPrice float64, signal *database.Signal, rules ExitRules, slPct, tpPct float64, atr *float64) (stopLoss, takeProfit float64) {
	slPct = clampStopLossPct(slPct)
	tpPct = clampTakeProfitPct(tpPct)

	if signal != nil {
		if tp1 := signal.FirstTakeProfit(); tp1 > entryPrice {
			tpPct = clampTakeProfitPct((tp1/entryPrice - 1) * 100)
		}
		if signal.StopLoss > 0 && signal.StopLoss < entryPrice {
			slPct = clampStopLossPct((1 - signal.StopLoss/entryPrice) * 100)
		}
	}

	if rules.StopLossMode == database.StopLossModeATR && atr != nil && *atr > 0 {
		atrStop := entryPrice - ATRStopMultiple*(*atr)
		if atrStop > 0 {
			slPct = clampStopLossPct((1 - atrStop/entryPrice) * 100)
		}
	}

	return entryPrice * (1 - slPct/100), entryPrice * (1 + tpPct/100)
}

// EvaluateExit decides what, if anything, to do with a position at the
// current price. Checks run stop-first: a hit stop always wins over a
// pending take-profit tier.
func EvaluateExit(p *database.Position, rules ExitRules, price float64, now time.Time) Decision {
	if p.EntryPrice <= 0 || price <= 0 {
		return Decision{}
	}
	pnlPct := (price/p.EntryPrice - 1) * 100
	highest := p.HighestPrice
	if price > highest {
		highest = price
	}

	if rules.StopLossMode == database.StopLossModeTrailing {
		if d, handled := evaluateTrailing(p, rules, price, highest, pnlPct); handled {
			return d
		}
	} else if p.StopLossPrice > 0 && price <= p.StopLossPrice {
		return Decision{
			Exit:     true,
			ExitType: database.ExitTypeStopLoss,
			Reason:   fmt.Sprintf("price %.8f hit stop loss %.8f", price, p.StopLossPrice),
			SellPct:  100,
		}
	}

	if rules.StopLossMode == database.StopLossModeTimeDecay && now.Sub(p.OpenedAt) >= rules.MaxHold {
		return Decision{
			Exit:     true,
			ExitType: database.ExitTypeTimeExit,
			Reason:   fmt.Sprintf("held %s past maximum %s", now.Sub(p.OpenedAt).Round(time.Minute), rules.MaxHold),
			SellPct:  100,
		}
	}

	if rules.TakeProfitMode == database.TakeProfitModeStaged {
		return evaluateStagedTiers(p, pnlPct)
	}

	if p.TakeProfitPrice > 0 && price >= p.TakeProfitPrice {
		return Decision{
			Exit:     true,
			ExitType: database.ExitTypeTakeProfit,
			Reason:   fmt.Sprintf("price %.8f hit take profit %.8f", price, p.TakeProfitPrice),
			SellPct:  100,
		}
	}
	return Decision{}
}

// evaluateTrailing handles TRAILING mode. Before activation the fixed stop
// applies; after activation the stop rides under the highest seen price.
func evaluateTrailing(p *database.Position, rules ExitRules, price, highest, pnlPct float64) (Decision, bool) {
	if !p.TrailingStopActivated {
		if pnlPct >= rules.TrailingActivationPct {
			return Decision{
				UpdateTrailing: true,
				TrailingPrice:  highest * (1 - rules.TrailPct/100),
			}, true
		}
		if p.StopLossPrice > 0 && price <= p.StopLossPrice {
			return Decision{
				Exit:     true,
				ExitType: database.ExitTypeStopLoss,
				Reason:   fmt.Sprintf("price %.8f hit stop loss %.8f", price, p.StopLossPrice),
				SellPct:  100,
			}, true
		}
		return Decision{}, true
	}

	trailing := highest * (1 - rules.TrailPct/100)
	current := 0.0
	if p.TrailingStopPrice != nil {
		current = *p.TrailingStopPrice
	}
	if price <= current && current > 0 {
		return Decision{
			Exit:     true,
			ExitType: database.ExitTypeStopLoss,
			Reason:   fmt.Sprintf("price %.8f hit trailing stop %.8f", price, current),
			SellPct:  100,
		}, true
	}
	// Ratchet only upward
	if trailing > current {
		return Decision{UpdateTrailing: true, TrailingPrice: trailing}, true
	}
	return Decision{}, true
}

// evaluateStagedTiers walks the ladder. Each tier fires once, tracked by
// the position's cumulative partial_sold_pct.
func evaluateStagedTiers(p *database.Position, pnlPct float64) Decision {
	sold := 0.0
	for _, tier := range StagedTiers {
		next := sold + tier.SellPct
		if p.PartialSoldPct < next && pnlPct >= tier.GainPct {
			exitType := database.ExitTypeTakeProfitPartial
			sellPct := tier.SellPct
			if next >= 100 {
				exitType = database.ExitTypeTakeProfit
				sellPct = 100 // sell whatever remains
			}
			return Decision{
				Exit:     true,
				ExitType: exitType,
				Reason:   fmt.Sprintf("gain %.1f%% reached tier +%.0f%%", pnlPct, tier.GainPct),
				SellPct:  sellPct,
			}
		}
		sold = next
	}
	return Decision{}
}

func clampTakeProfitPct(pct float64) float64 {
	if pct < MinTakeProfitPct {
		return MinTakeProfitPct
	}
	if pct > MaxTakeProfitPct {
		return MaxTakeProfitPct
	}
	return pct
}

func clampStopLossPct(pct float64) float64 {
	if pct < MinStopLossPct {
		return MinStopLossPct
	}
	if pct > MaxStopLossPct {
		return MaxStopLossPct
	}
	return pct
}
