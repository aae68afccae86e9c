package scoring

import (
	"math"

	"alpha-trade-engine/internal/marketdata"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates Simple Moving Average over the last period closes
func CalculateSMA(klines []marketdata.Kline, period int) float64 {
	if len(klines) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	startIdx := len(klines) - period

	for i := startIdx; i < len(klines); i++ {
		sum += klines[i].Close
	}

	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average
func CalculateEMA(klines []marketdata.Kline, period int) float64 {
	if len(klines) < period || period <= 0 {
		return 0
	}

	// Seed with SMA, then roll forward
	sma := CalculateSMA(klines[:period], period)
	multiplier := 2.0 / float64(period+1)

	ema := sma
	for i := period; i < len(klines); i++ {
		ema = (klines[i].Close * multiplier) + (ema * (1 - multiplier))
	}

	return ema
}

// emaSeries returns the EMA of values at every index. Entries before the
// first full period are zero.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) < period || period <= 0 {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out[i] = ema
	}

	return out
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// CalculateRSI calculates the Relative Strength Index
func CalculateRSI(klines []marketdata.Kline, period int) float64 {
	if len(klines) < period+1 || period <= 0 {
		return 50.0 // Neutral RSI
	}

	gains := 0.0
	losses := 0.0

	for i := len(klines) - period; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// MACDResult holds MACD indicator values. PrevHistogram carries the
// previous bar's histogram so callers can detect a sign flip.
type MACDResult struct {
	MACD          float64
	Signal        float64
	Histogram     float64
	PrevHistogram float64
	Valid         bool
}

// CalculateMACD calculates the MACD line, its signal line and histogram.
// The signal line is a true EMA over the MACD series, so two consecutive
// histogram values are available for cross detection.
func CalculateMACD(klines []marketdata.Kline, fastPeriod, slowPeriod, signalPeriod int) *MACDResult {
	if len(klines) < slowPeriod+signalPeriod+1 {
		return &MACDResult{}
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	fast := emaSeries(closes, fastPeriod)
	slow := emaSeries(closes, slowPeriod)

	macd := make([]float64, 0, len(closes)-slowPeriod+1)
	for i := slowPeriod - 1; i < len(closes); i++ {
		macd = append(macd, fast[i]-slow[i])
	}

	signal := emaSeries(macd, signalPeriod)

	last := len(macd) - 1
	result := &MACDResult{
		MACD:      macd[last],
		Signal:    signal[last],
		Histogram: macd[last] - signal[last],
		Valid:     true,
	}
	if last-1 >= signalPeriod-1 {
		result.PrevHistogram = macd[last-1] - signal[last-1]
	}

	return result
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// CalculateATR calculates Average True Range
func CalculateATR(klines []marketdata.Kline, period int) float64 {
	if len(klines) < period+1 || period <= 0 {
		return 0
	}

	trSum := 0.0
	startIdx := len(klines) - period

	for i := startIdx; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		tr := math.Max(
			high-low,
			math.Max(
				math.Abs(high-prevClose),
				math.Abs(low-prevClose),
			),
		)

		trSum += tr
	}

	return trSum / float64(period)
}

// ============================================================================
// VOLUME
// ============================================================================

// CalculateAverageVolume calculates average volume over the last period bars
func CalculateAverageVolume(klines []marketdata.Kline, period int) float64 {
	if len(klines) == 0 {
		return 0
	}
	if len(klines) < period {
		period = len(klines)
	}

	sum := 0.0
	startIdx := len(klines) - period

	for i := startIdx; i < len(klines); i++ {
		sum += klines[i].Volume
	}

	return sum / float64(period)
}

// ============================================================================
// KEY LEVELS
// ============================================================================

// HighestHigh returns the highest high over the last period bars
func HighestHigh(klines []marketdata.Kline, period int) float64 {
	if len(klines) == 0 {
		return 0
	}
	if len(klines) < period {
		period = len(klines)
	}

	startIdx := len(klines) - period
	high := klines[startIdx].High
	for i := startIdx; i < len(klines); i++ {
		if klines[i].High > high {
			high = klines[i].High
		}
	}

	return high
}

// LowestLow returns the lowest low over the last period bars
func LowestLow(klines []marketdata.Kline, period int) float64 {
	if len(klines) == 0 {
		return 0
	}
	if len(klines) < period {
		period = len(klines)
	}

	startIdx := len(klines) - period
	low := klines[startIdx].Low
	for i := startIdx; i < len(klines); i++ {
		if klines[i].Low < low {
			low = klines[i].Low
		}
	}

	return low
}
