package monitor

import (
	"testing"
	"time"

	"alpha-trade-engine/internal/database"
)

func holdingPosition() *database.Position {
	return &database.Position{
		ID:                  "pos_exec_user1_sig1",
		UserID:              "user1",
		ExecutionID:         "exec_user1_sig1",
		TokenSymbol:         "PEPE",
		Chain:               "BSC",
		EntryPrice:          1.0,
		EntryAmountUSDT:     100,
		EntryAmountToken:    100,
		CurrentTokenBalance: 100,
		StopLossPrice:       0.95,
		TakeProfitPrice:     1.10,
		HighestPrice:        1.0,
		StopLossType:        database.StopLossModeFixed,
		OpenedAt:            time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Status:              database.PositionStatusHolding,
	}
}

func fixedRules() ExitRules {
	return ExitRules{
		TakeProfitMode:        database.TakeProfitModeOneTime,
		StopLossMode:          database.StopLossModeFixed,
		TrailingActivationPct: 10,
		TrailPct:              5,
		MaxHold:               DefaultMaxHold,
	}
}

func TestEvaluateExitFixed(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		price    float64
		wantExit bool
		wantType string
	}{
		{"inside band holds", 1.02, false, ""},
		{"stop loss hit", 0.94, true, database.ExitTypeStopLoss},
		{"stop loss exact", 0.95, true, database.ExitTypeStopLoss},
		{"take profit hit", 1.11, true, database.ExitTypeTakeProfit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EvaluateExit(holdingPosition(), fixedRules(), tt.price, now)
			if d.Exit != tt.wantExit {
				t.Fatalf("price %.2f: exit = %v, want %v", tt.price, d.Exit, tt.wantExit)
			}
			if tt.wantExit && d.ExitType != tt.wantType {
				t.Errorf("price %.2f: exit type = %s, want %s", tt.price, d.ExitType, tt.wantType)
			}
			if tt.wantExit && d.SellPct != 100 {
				t.Errorf("full exit should sell 100%%, got %.0f", d.SellPct)
			}
		})
	}
}

func TestEvaluateExitTimeDecay(t *testing.T) {
	rules := fixedRules()
	rules.StopLossMode = database.StopLossModeTimeDecay
	p := holdingPosition()

	early := p.OpenedAt.Add(24 * time.Hour)
	if d := EvaluateExit(p, rules, 1.0, early); d.Exit {
		t.Fatalf("should hold before max hold, got %+v", d)
	}

	late := p.OpenedAt.Add(DefaultMaxHold)
	d := EvaluateExit(p, rules, 1.0, late)
	if !d.Exit || d.ExitType != database.ExitTypeTimeExit {
		t.Fatalf("expected TIME_EXIT at max hold, got %+v", d)
	}

	// A hit stop still wins over the clock
	d = EvaluateExit(p, rules, 0.90, late)
	if !d.Exit || d.ExitType != database.ExitTypeStopLoss {
		t.Fatalf("stop loss should beat time exit, got %+v", d)
	}
}

func TestEvaluateExitTrailing(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	rules := fixedRules()
	rules.StopLossMode = database.StopLossModeTrailing

	p := holdingPosition()

	// Below activation the fixed stop still protects
	d := EvaluateExit(p, rules, 0.94, now)
	if !d.Exit || d.ExitType != database.ExitTypeStopLoss {
		t.Fatalf("expected fixed stop before activation, got %+v", d)
	}

	// Crossing activation arms the trailing stop under the high
	d = EvaluateExit(p, rules, 1.12, now)
	if d.Exit || !d.UpdateTrailing {
		t.Fatalf("expected trailing activation, got %+v", d)
	}
	wantTrail := 1.12 * 0.95
	if d.TrailingPrice < wantTrail-1e-9 || d.TrailingPrice > wantTrail+1e-9 {
		t.Errorf("trailing price = %.6f, want %.6f", d.TrailingPrice, wantTrail)
	}

	// Once armed, the stop ratchets up with new highs
	p.TrailingStopActivated = true
	trail := 1.064
	p.TrailingStopPrice = &trail
	p.HighestPrice = 1.12
	d = EvaluateExit(p, rules, 1.30, now)
	if d.Exit || !d.UpdateTrailing {
		t.Fatalf("expected ratchet on new high, got %+v", d)
	}
	if d.TrailingPrice <= trail {
		t.Errorf("trailing stop should only move up, got %.6f", d.TrailingPrice)
	}

	// Falling through the trailing stop closes the position
	d = EvaluateExit(p, rules, 1.05, now)
	if !d.Exit || d.ExitType != database.ExitTypeStopLoss {
		t.Fatalf("expected trailing stop exit, got %+v", d)
	}
}

func TestEvaluateStagedTiers(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	rules := fixedRules()
	rules.TakeProfitMode = database.TakeProfitModeStaged

	p := holdingPosition()
	p.TakeProfitPrice = 0 // staged mode ignores the single TP level

	// +50% fires the first tier
	d := EvaluateExit(p, rules, 1.50, now)
	if !d.Exit || d.ExitType != database.ExitTypeTakeProfitPartial || d.SellPct != 30 {
		t.Fatalf("expected 30%% partial at +50%%, got %+v", d)
	}

	// Tier one done, +60% is not enough for tier two
	p.PartialSoldPct = 30
	if d := EvaluateExit(p, rules, 1.60, now); d.Exit {
		t.Fatalf("tier should fire once, got %+v", d)
	}

	// +100% fires the second tier
	d = EvaluateExit(p, rules, 2.00, now)
	if !d.Exit || d.SellPct != 30 {
		t.Fatalf("expected second 30%% tier at +100%%, got %+v", d)
	}

	// Final tier closes whatever remains
	p.PartialSoldPct = 60
	d = EvaluateExit(p, rules, 3.00, now)
	if !d.Exit || d.ExitType != database.ExitTypeTakeProfit || d.SellPct != 100 {
		t.Fatalf("expected full close at +200%%, got %+v", d)
	}
}

func TestSeedStopLevels(t *testing.T) {
	rules := fixedRules()

	// User percentages apply when the signal has no levels
	sl, tp := SeedStopLevels(1.0, nil, rules, 10, 20, nil)
	if sl != 0.90 || tp != 1.20 {
		t.Fatalf("got sl=%.4f tp=%.4f, want 0.90/1.20", sl, tp)
	}

	// Percentages outside the bands are clamped
	sl, tp = SeedStopLevels(1.0, nil, rules, 50, 200, nil)
	if sl != 1.0*(1-MaxStopLossPct/100) {
		t.Errorf("stop loss not clamped: %.4f", sl)
	}
	if tp != 1.0*(1+MaxTakeProfitPct/100) {
		t.Errorf("take profit not clamped: %.4f", tp)
	}

	// Valid signal levels override the user percentages
	sig := &database.Signal{TakeProfits: []float64{1.30}, StopLoss: 0.92}
	sl, tp = SeedStopLevels(1.0, sig, rules, 10, 20, nil)
	if tp < 1.2999 || tp > 1.3001 {
		t.Errorf("signal TP should apply, got %.4f", tp)
	}
	if sl < 0.9199 || sl > 0.9201 {
		t.Errorf("signal SL should apply, got %.4f", sl)
	}

	// Signal levels on the wrong side of entry are ignored
	bad := &database.Signal{TakeProfits: []float64{0.80}, StopLoss: 1.50}
	sl, tp = SeedStopLevels(1.0, bad, rules, 10, 20, nil)
	if sl != 0.90 || tp != 1.20 {
		t.Errorf("invalid signal levels should fall back, got sl=%.4f tp=%.4f", sl, tp)
	}

	// ATR mode derives the stop from volatility, inside the clamp band
	atr := 0.04
	atrRules := fixedRules()
	atrRules.StopLossMode = database.StopLossModeATR
	sl, _ = SeedStopLevels(1.0, nil, atrRules, 10, 20, &atr)
	if sl != 0.92 {
		t.Errorf("ATR stop = %.4f, want 0.92", sl)
	}
}

func TestRetryMarkers(t *testing.T) {
	if got := ParseRetryCount(nil); got != 0 {
		t.Errorf("nil message: got %d", got)
	}
	plain := "quote failed"
	if got := ParseRetryCount(&plain); got != 0 {
		t.Errorf("plain message: got %d", got)
	}
	msg := FormatRetryError(2, "sell submission failed")
	if msg != "[Retry 2] sell submission failed" {
		t.Fatalf("unexpected format: %q", msg)
	}
	if got := ParseRetryCount(&msg); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestEntryMet(t *testing.T) {
	banded := &database.Signal{EntryPriceMin: 0.95, EntryPriceMax: 1.05, CurrentPrice: 1.0}
	if !entryMet(banded, 1.0) || entryMet(banded, 1.10) || entryMet(banded, 0.90) {
		t.Error("band check wrong")
	}

	market := &database.Signal{CurrentPrice: 1.0}
	if !entryMet(market, 1.005) {
		t.Error("price within tolerance should trigger")
	}
	if entryMet(market, 1.05) {
		t.Error("price outside tolerance should not trigger")
	}
	if entryMet(&database.Signal{}, 1.0) {
		t.Error("no reference price should never trigger")
	}
}
