package scoring

import (
	"testing"

	"alpha-trade-engine/internal/marketdata"
)

func TestIsHammer(t *testing.T) {
	down := marketdata.Kline{Open: 102, High: 103, Low: 100, Close: 100.5}

	// Long lower wick, tiny upper wick, after a down candle
	hammer := marketdata.Kline{Open: 100, High: 100.6, Low: 95, Close: 100.5}
	if !isHammer(hammer, &down) {
		t.Error("should detect a valid hammer")
	}

	// Upper wick too large
	topHeavy := marketdata.Kline{Open: 100, High: 103, Low: 95, Close: 100.5}
	if isHammer(topHeavy, &down) {
		t.Error("should reject a hammer with a large upper wick")
	}

	// Previous candle was up, wrong context
	up := marketdata.Kline{Open: 100, High: 103, Low: 99, Close: 102}
	if isHammer(hammer, &up) {
		t.Error("should reject a hammer after an up candle")
	}
}

func TestIsInvertedHammer(t *testing.T) {
	up := marketdata.Kline{Open: 100, High: 103, Low: 99, Close: 102}

	inverted := marketdata.Kline{Open: 102, High: 108, Low: 101.9, Close: 102.5}
	if !isInvertedHammer(inverted, &up) {
		t.Error("should detect a valid inverted hammer")
	}

	// Lower wick too large
	bottomHeavy := marketdata.Kline{Open: 102, High: 108, Low: 98, Close: 102.5}
	if isInvertedHammer(bottomHeavy, &up) {
		t.Error("should reject an inverted hammer with a large lower wick")
	}
}

func TestEngulfing(t *testing.T) {
	bearish := marketdata.Kline{Open: 100, High: 102, Low: 98, Close: 99}
	bullishEngulf := marketdata.Kline{Open: 98.5, High: 105, Low: 98, Close: 104}
	if !isBullishEngulfing(bearish, bullishEngulf) {
		t.Error("should detect a bullish engulfing pair")
	}

	tooSmall := marketdata.Kline{Open: 99.5, High: 101, Low: 99, Close: 99.8}
	if isBullishEngulfing(bearish, tooSmall) {
		t.Error("should reject when the second body does not engulf the first")
	}

	bullish := marketdata.Kline{Open: 99, High: 102, Low: 98, Close: 101}
	bearishEngulf := marketdata.Kline{Open: 101.5, High: 102, Low: 96, Close: 97}
	if !isBearishEngulfing(bullish, bearishEngulf) {
		t.Error("should detect a bearish engulfing pair")
	}
}

func TestConsecutiveMoves(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   int
	}{
		{"three rises", []float64{100, 101, 102, 103}, 3},
		{"three falls", []float64{103, 102, 101, 100}, -3},
		{"broken run", []float64{100, 102, 101, 103}, 1},
		{"flat tail", []float64{100, 101, 101}, 0},
		{"too short", []float64{100}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := consecutiveMoves(klinesFromCloses(tt.closes...)); got != tt.want {
				t.Errorf("consecutiveMoves(%v) = %d, want %d", tt.closes, got, tt.want)
			}
		})
	}
}

func TestDetectCandlePatternPriority(t *testing.T) {
	// Engulfing pair at the tail wins over momentum runs
	klines := []marketdata.Kline{
		{Open: 101, High: 102, Low: 100, Close: 100.2, Volume: 1000},
		{Open: 100.5, High: 101, Low: 99.5, Close: 99.8, Volume: 1000},
		{Open: 100, High: 102, Low: 98, Close: 99, Volume: 1000},
		{Open: 98.5, High: 105, Low: 98, Close: 104, Volume: 1000},
	}

	pattern, direction := detectCandlePattern(klines)
	if pattern != patternBullishEngulfing {
		t.Errorf("pattern = %s, want %s", pattern, patternBullishEngulfing)
	}
	if direction != SignalLong {
		t.Errorf("direction = %s, want %s", direction, SignalLong)
	}
}

func TestDetectCandlePatternMomentumFallback(t *testing.T) {
	// Steady climb with no reversal shapes resolves to a consecutive rise
	klines := []marketdata.Kline{
		{Open: 100, High: 101.2, Low: 99.9, Close: 101, Volume: 1000},
		{Open: 101, High: 102.2, Low: 100.9, Close: 102, Volume: 1000},
		{Open: 102, High: 103.2, Low: 101.9, Close: 103, Volume: 1000},
		{Open: 103, High: 104.2, Low: 102.9, Close: 104, Volume: 1000},
	}

	pattern, direction := detectCandlePattern(klines)
	if pattern != patternConsecutiveRise {
		t.Errorf("pattern = %s, want %s", pattern, patternConsecutiveRise)
	}
	if direction != SignalLong {
		t.Errorf("direction = %s, want %s", direction, SignalLong)
	}
}
