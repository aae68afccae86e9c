package scoring

import (
	"math"

	"alpha-trade-engine/internal/marketdata"
)

// Candle pattern names surfaced in dimension descriptions.
const (
	patternHammer           = "hammer"
	patternInvertedHammer   = "inverted_hammer"
	patternBullishEngulfing = "bullish_engulfing"
	patternBearishEngulfing = "bearish_engulfing"
	patternConsecutiveRise  = "consecutive_rise"
	patternConsecutiveFall  = "consecutive_fall"
)

// isHammer checks for a Hammer candle (bullish reversal): long lower wick,
// small upper wick, appearing after a down candle when context is available.
func isHammer(candle marketdata.Kline, prev *marketdata.Kline) bool {
	body := math.Abs(candle.Close - candle.Open)
	upperWick := candle.High - math.Max(candle.Open, candle.Close)
	lowerWick := math.Min(candle.Open, candle.Close) - candle.Low

	// Long lower wick (at least 2x body)
	if lowerWick < body*2 {
		return false
	}

	// Small or no upper wick
	if upperWick > body*0.3 {
		return false
	}

	// Should appear after a down candle
	if prev != nil && prev.Close >= prev.Open {
		return false
	}

	return true
}

// isInvertedHammer checks for an Inverted Hammer / Shooting Star shape
// (bearish after an up move): long upper wick, small lower wick.
func isInvertedHammer(candle marketdata.Kline, prev *marketdata.Kline) bool {
	body := math.Abs(candle.Close - candle.Open)
	upperWick := candle.High - math.Max(candle.Open, candle.Close)
	lowerWick := math.Min(candle.Open, candle.Close) - candle.Low

	// Long upper wick (at least 2x body)
	if upperWick < body*2 {
		return false
	}

	// Small or no lower wick
	if lowerWick > body*0.3 {
		return false
	}

	// Should appear after an up candle
	if prev != nil && prev.Close <= prev.Open {
		return false
	}

	return true
}

// isBullishEngulfing checks whether c2's body completely engulfs c1's
// bearish body.
func isBullishEngulfing(c1, c2 marketdata.Kline) bool {
	// C1: bearish candle
	if c1.Close >= c1.Open {
		return false
	}

	// C2: bullish candle
	if c2.Close <= c2.Open {
		return false
	}

	// C2 body must completely engulf C1 body
	if c2.Open > c1.Close || c2.Close < c1.Open {
		return false
	}

	return true
}

// isBearishEngulfing checks whether c2's body completely engulfs c1's
// bullish body.
func isBearishEngulfing(c1, c2 marketdata.Kline) bool {
	// C1: bullish candle
	if c1.Close <= c1.Open {
		return false
	}

	// C2: bearish candle
	if c2.Close >= c2.Open {
		return false
	}

	// C2 body must completely engulf C1 body
	if c2.Open < c1.Close || c2.Close > c1.Open {
		return false
	}

	return true
}

// consecutiveMoves counts the run of rising or falling closes ending at the
// last candle. Positive for rises, negative for falls, zero for a flat tail.
func consecutiveMoves(klines []marketdata.Kline) int {
	if len(klines) < 2 {
		return 0
	}

	last := len(klines) - 1
	if klines[last].Close > klines[last-1].Close {
		run := 1
		for i := last - 1; i > 0 && klines[i].Close > klines[i-1].Close; i-- {
			run++
		}
		return run
	}
	if klines[last].Close < klines[last-1].Close {
		run := 1
		for i := last - 1; i > 0 && klines[i].Close < klines[i-1].Close; i-- {
			run++
		}
		return -run
	}

	return 0
}

// detectCandlePattern scans the tail of a 1h series for the patterns the
// candle dimension scores. Two-candle patterns win over single-candle ones;
// momentum runs are the fallback.
func detectCandlePattern(klines []marketdata.Kline) (pattern string, direction string) {
	if len(klines) < 2 {
		return "", SignalNeutral
	}

	last := len(klines) - 1
	c1, c2 := klines[last-1], klines[last]

	if isBullishEngulfing(c1, c2) {
		return patternBullishEngulfing, SignalLong
	}
	if isBearishEngulfing(c1, c2) {
		return patternBearishEngulfing, SignalShort
	}
	if isHammer(c2, &c1) {
		return patternHammer, SignalLong
	}
	if isInvertedHammer(c2, &c1) {
		return patternInvertedHammer, SignalShort
	}

	if run := consecutiveMoves(klines); run >= 3 {
		return patternConsecutiveRise, SignalLong
	} else if run <= -3 {
		return patternConsecutiveFall, SignalShort
	}

	return "", SignalNeutral
}
