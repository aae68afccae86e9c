package scoring

import (
	"testing"

	"alpha-trade-engine/internal/marketdata"
)

func klinesFromCloses(closes ...float64) []marketdata.Kline {
	out := make([]marketdata.Kline, len(closes))
	for i, c := range closes {
		out[i] = marketdata.Kline{
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1000,
		}
	}
	return out
}

func rampKlines(start, step float64, n int) []marketdata.Kline {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + step*float64(i)
	}
	return klinesFromCloses(closes...)
}

func TestCalculateSMA(t *testing.T) {
	klines := klinesFromCloses(1, 2, 3, 4, 5)

	if got := CalculateSMA(klines, 5); got != 3 {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := CalculateSMA(klines, 2); got != 4.5 {
		t.Errorf("SMA(2) = %v, want 4.5", got)
	}
	if got := CalculateSMA(klines, 10); got != 0 {
		t.Errorf("SMA with insufficient data = %v, want 0", got)
	}
}

func TestCalculateEMA(t *testing.T) {
	// Seed SMA(3) over [1,2,3] is 2; multiplier 0.5; EMA = 4*0.5 + 2*0.5 = 3
	klines := klinesFromCloses(1, 2, 3, 4)
	if got := CalculateEMA(klines, 3); got != 3 {
		t.Errorf("EMA(3) = %v, want 3", got)
	}

	if got := CalculateEMA(klines, 10); got != 0 {
		t.Errorf("EMA with insufficient data = %v, want 0", got)
	}
}

func TestCalculateRSI(t *testing.T) {
	rising := rampKlines(100, 1, 20)
	if got := CalculateRSI(rising, 14); got != 100 {
		t.Errorf("RSI of rising series = %v, want 100", got)
	}

	falling := rampKlines(100, -1, 20)
	if got := CalculateRSI(falling, 14); got != 0 {
		t.Errorf("RSI of falling series = %v, want 0", got)
	}

	short := rampKlines(100, 1, 5)
	if got := CalculateRSI(short, 14); got != 50 {
		t.Errorf("RSI with insufficient data = %v, want neutral 50", got)
	}
}

func TestCalculateMACD(t *testing.T) {
	rising := rampKlines(100, 1, 60)
	macd := CalculateMACD(rising, 12, 26, 9)
	if !macd.Valid {
		t.Fatal("MACD over 60 bars should be valid")
	}
	if macd.MACD <= 0 {
		t.Errorf("MACD of rising series = %v, want positive", macd.MACD)
	}
	if macd.Histogram <= 0 {
		t.Errorf("histogram of rising series = %v, want positive", macd.Histogram)
	}

	falling := rampKlines(200, -1, 60)
	macd = CalculateMACD(falling, 12, 26, 9)
	if macd.Histogram >= 0 {
		t.Errorf("histogram of falling series = %v, want negative", macd.Histogram)
	}

	short := rampKlines(100, 1, 20)
	if CalculateMACD(short, 12, 26, 9).Valid {
		t.Error("MACD over 20 bars should be invalid")
	}
}

func TestCalculateATR(t *testing.T) {
	klines := []marketdata.Kline{
		{Open: 100, High: 101, Low: 99, Close: 100},
		{Open: 100, High: 110, Low: 95, Close: 105},
	}
	// TR = max(110-95, |110-100|, |95-100|) = 15
	if got := CalculateATR(klines, 1); got != 15 {
		t.Errorf("ATR(1) = %v, want 15", got)
	}

	if got := CalculateATR(klines, 5); got != 0 {
		t.Errorf("ATR with insufficient data = %v, want 0", got)
	}
}

func TestCalculateAverageVolume(t *testing.T) {
	klines := klinesFromCloses(1, 1, 1, 1)
	klines[0].Volume = 100
	klines[1].Volume = 200
	klines[2].Volume = 300
	klines[3].Volume = 400

	if got := CalculateAverageVolume(klines, 2); got != 350 {
		t.Errorf("AverageVolume(2) = %v, want 350", got)
	}
	// Period longer than the series averages over what exists
	if got := CalculateAverageVolume(klines, 10); got != 250 {
		t.Errorf("AverageVolume(10) = %v, want 250", got)
	}
}

func TestHighestHighLowestLow(t *testing.T) {
	klines := []marketdata.Kline{
		{High: 10, Low: 8},
		{High: 15, Low: 7},
		{High: 12, Low: 9},
	}

	if got := HighestHigh(klines, 3); got != 15 {
		t.Errorf("HighestHigh = %v, want 15", got)
	}
	if got := LowestLow(klines, 3); got != 7 {
		t.Errorf("LowestLow = %v, want 7", got)
	}
	if got := HighestHigh(klines, 1); got != 12 {
		t.Errorf("HighestHigh over last bar = %v, want 12", got)
	}
}

func TestEMASeriesAlignment(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	series := emaSeries(values, 3)

	if series[0] != 0 || series[1] != 0 {
		t.Error("entries before the first full period must be zero")
	}
	if series[2] != 2 {
		t.Errorf("series[2] = %v, want seed SMA 2", series[2])
	}
	// index 3: 4*0.5 + 2*0.5 = 3; index 4: 5*0.5 + 3*0.5 = 4
	if series[3] != 3 || series[4] != 4 {
		t.Errorf("series tail = %v, %v, want 3, 4", series[3], series[4])
	}
}
