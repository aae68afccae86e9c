package database

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestExecutionAndPositionIDs(t *testing.T) {
	execID := ExecutionID("user123", "sig_abc")
	if execID != "exec_user123_sig_abc" {
		t.Errorf("ExecutionID = %s, want exec_user123_sig_abc", execID)
	}
	posID := PositionID(execID)
	if posID != "pos_exec_user123_sig_abc" {
		t.Errorf("PositionID = %s, want pos_exec_user123_sig_abc", posID)
	}

	// Same user and signal must always map to the same ids
	if ExecutionID("user123", "sig_abc") != execID {
		t.Error("ExecutionID is not deterministic")
	}
}

func TestSignalHasEntryBand(t *testing.T) {
	tests := []struct {
		name   string
		signal Signal
		want   bool
	}{
		{"both bounds", Signal{EntryPriceMin: 1.0, EntryPriceMax: 1.2}, true},
		{"min only", Signal{EntryPriceMin: 1.0}, false},
		{"max only", Signal{EntryPriceMax: 1.2}, false},
		{"neither", Signal{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.signal.HasEntryBand(); got != tt.want {
				t.Errorf("HasEntryBand() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSignalIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		signal Signal
		want   bool
	}{
		{"expired", Signal{ExpiresAt: &past}, true},
		{"not expired", Signal{ExpiresAt: &future}, false},
		{"no expiry never expires", Signal{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.signal.IsExpired(now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSignalFirstTakeProfit(t *testing.T) {
	s := Signal{TakeProfits: []float64{2.5, 3.0, 4.0}}
	if tp := s.FirstTakeProfit(); tp != 2.5 {
		t.Errorf("FirstTakeProfit() = %v, want 2.5", tp)
	}

	empty := Signal{}
	if tp := empty.FirstTakeProfit(); tp != 0 {
		t.Errorf("FirstTakeProfit() on empty list = %v, want 0", tp)
	}
}

func TestStrategyConfigIsPaused(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		cfg  StrategyConfig
		want bool
	}{
		{"paused until future", StrategyConfig{PausedUntil: &future}, true},
		{"pause lapsed", StrategyConfig{PausedUntil: &past}, false},
		{"never paused", StrategyConfig{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.IsPaused(now); got != tt.want {
				t.Errorf("IsPaused() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEffectiveStopLossMode(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{StopLossModeFixed, StopLossModeFixed},
		{StopLossModeATR, StopLossModeATR},
		{StopLossModeTrailing, StopLossModeTrailing},
		{StopLossModeTimeDecay, StopLossModeTimeDecay},
		{StopLossModeDynamic, StopLossModeFixed},
		{"", StopLossModeFixed},
		{"bogus", StopLossModeFixed},
	}
	for _, tt := range tests {
		cfg := StrategyConfig{StopLossMode: tt.mode}
		if got := cfg.EffectiveStopLossMode(); got != tt.want {
			t.Errorf("EffectiveStopLossMode(%q) = %s, want %s", tt.mode, got, tt.want)
		}
	}
}

func TestUserCreditsTotal(t *testing.T) {
	credits := UserCredits{
		FreeBalance: decimal.NewFromFloat(1.5),
		PaidBalance: decimal.NewFromFloat(3.25),
	}
	want := decimal.NewFromFloat(4.75)
	if !credits.Total().Equal(want) {
		t.Errorf("Total() = %s, want %s", credits.Total(), want)
	}
}

func TestBlockingStatusesExcludeRetriable(t *testing.T) {
	blocked := make(map[string]bool, len(blockingStatuses))
	for _, s := range blockingStatuses {
		blocked[s] = true
	}

	// FAILED and CANCELLED allow a fresh attempt, everything else blocks
	if blocked[ExecStatusFailed] {
		t.Error("FAILED must not block a re-entry")
	}
	if blocked[ExecStatusCancelled] {
		t.Error("CANCELLED must not block a re-entry")
	}
	for _, s := range []string{
		ExecStatusPending, ExecStatusSubmitting, ExecStatusSubmitted,
		ExecStatusConfirmed, ExecStatusHolding, ExecStatusExited,
		ExecStatusInsufficientBalance, ExecStatusSuccess,
	} {
		if !blocked[s] {
			t.Errorf("status %s must block a re-entry", s)
		}
	}
}
