package scoring

import (
	"fmt"

	"alpha-trade-engine/internal/marketdata"
)

// collapsedLeverageDim is the low-risk default for OI-dependent dimensions
// when a token has no futures market. The engine zeroes their weights so
// the remaining twelve dimensions carry the confidence.
func collapsedLeverageDim(key, name string) DimensionResult {
	return DimensionResult{
		Key:         key,
		Name:        name,
		Score:       75,
		Signal:      SignalNeutral,
		Description: "no futures market, leverage data unavailable",
	}
}

// scoreOIFunding reads open-interest change against the funding rate. OI
// building while shorts pay funding means whales are accumulating longs;
// OI building while longs pay heavily means the crowd is short.
func scoreOIFunding(data *marketdata.ComprehensiveData, th *ThresholdSet) DimensionResult {
	dim := DimensionResult{Key: DimOIFunding, Name: "OI+Funding"}

	if !data.HasFutures {
		return collapsedLeverageDim(DimOIFunding, dim.Name)
	}

	oiChange := data.OpenInterestChange
	funding := data.FundingRate
	oiJump := th.Value(ThresholdOIChangePct)
	fundingHigh := th.Value(ThresholdFundingRateHigh)

	switch {
	case oiChange > oiJump && funding < 0:
		dim.Score = 90
		dim.Signal = SignalLong
		dim.Description = fmt.Sprintf("OI up %.1f%% while funding is negative, whales building longs", oiChange)
	case oiChange > oiJump && funding > fundingHigh:
		dim.Score = 85
		dim.Signal = SignalShort
		dim.Description = fmt.Sprintf("OI up %.1f%% with funding %.4f, whales building shorts", oiChange, funding)
	case oiChange < -oiJump && funding < 0:
		dim.Score = 75
		dim.Signal = SignalLong
		dim.Description = fmt.Sprintf("OI down %.1f%% while shorts still pay funding, capitulation", -oiChange)
	case oiChange >= 0:
		dim.Score = 60
		dim.Signal = SignalNeutral
		dim.Description = fmt.Sprintf("open interest steady (%.1f%%)", oiChange)
	default:
		dim.Score = 40
		dim.Signal = SignalNeutral
		dim.Description = fmt.Sprintf("open interest draining (%.1f%%)", oiChange)
	}

	return dim
}

// scoreTrend reads MA20 against MA50 and price on the 4h series.
func scoreTrend(data *marketdata.ComprehensiveData) DimensionResult {
	dim := DimensionResult{Key: DimTrend, Name: "Trend"}

	ma20 := CalculateSMA(data.Klines4h, 20)
	ma50 := CalculateSMA(data.Klines4h, 50)
	price := data.CurrentPrice

	if ma20 == 0 || ma50 == 0 {
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "not enough 4h history for MA20/MA50"
		return dim
	}

	switch {
	case price > ma20 && ma20 > ma50:
		dim.Score = 85
		dim.Signal = SignalLong
		dim.Description = "price above MA20 above MA50, uptrend intact"
	case price < ma20 && ma20 < ma50:
		dim.Score = 80
		dim.Signal = SignalShort
		dim.Description = "price below MA20 below MA50, downtrend intact"
	case ma20 > ma50:
		dim.Score = 65
		dim.Signal = SignalLong
		dim.Description = "uptrend pulling back toward MA20"
	case ma20 < ma50:
		dim.Score = 60
		dim.Signal = SignalShort
		dim.Description = "downtrend rebounding into MA20"
	default:
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "moving averages flat"
	}

	return dim
}

// scoreCandle detects reversal and momentum candle shapes on the 1h series.
func scoreCandle(data *marketdata.ComprehensiveData) DimensionResult {
	dim := DimensionResult{Key: DimCandle, Name: "Candle Pattern"}

	pattern, direction := detectCandlePattern(data.Klines1h)

	switch pattern {
	case patternBullishEngulfing, patternBearishEngulfing:
		dim.Score = 80
	case patternHammer:
		dim.Score = 75
	case patternInvertedHammer:
		dim.Score = 65
	case patternConsecutiveRise, patternConsecutiveFall:
		dim.Score = 70
	default:
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "no actionable candle pattern"
		return dim
	}

	dim.Signal = direction
	dim.Description = fmt.Sprintf("1h %s", pattern)
	return dim
}

// scoreVolume compares the latest 1h volume against the mean of the prior
// 20 bars.
func scoreVolume(data *marketdata.ComprehensiveData, th *ThresholdSet) DimensionResult {
	dim := DimensionResult{Key: DimVolume, Name: "Volume"}

	klines := data.Klines1h
	if len(klines) < 21 {
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "not enough volume history"
		return dim
	}

	last := klines[len(klines)-1]
	mean := CalculateAverageVolume(klines[:len(klines)-1], 20)
	if mean == 0 {
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "no baseline volume"
		return dim
	}

	ratio := last.Volume / mean
	direction := SignalLong
	if last.Close < last.Open {
		direction = SignalShort
	}

	switch {
	case ratio > th.Value(ThresholdVolumeSurge):
		dim.Score = 85
		dim.Signal = direction
		dim.Description = fmt.Sprintf("volume surge %.1fx the 20-bar mean", ratio)
	case ratio > th.Value(ThresholdVolumeModerate):
		dim.Score = 70
		dim.Signal = direction
		dim.Description = fmt.Sprintf("volume %.1fx the 20-bar mean", ratio)
	case ratio < th.Value(ThresholdVolumeDecline):
		dim.Score = 35
		dim.Signal = SignalNeutral
		dim.Description = fmt.Sprintf("volume fading, %.1fx the 20-bar mean", ratio)
	default:
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = fmt.Sprintf("volume in line with the 20-bar mean (%.1fx)", ratio)
	}

	return dim
}

// scoreKeyLevels measures proximity to the 20-bar 4h extremes. The current
// bar is excluded from the reference window so a fresh break registers.
func scoreKeyLevels(data *marketdata.ComprehensiveData, th *ThresholdSet) DimensionResult {
	dim := DimensionResult{Key: DimKeyLevels, Name: "Key Levels"}

	klines := data.Klines4h
	if len(klines) < 2 {
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "not enough 4h history for key levels"
		return dim
	}

	window := klines[:len(klines)-1]
	high := HighestHigh(window, 20)
	low := LowestLow(window, 20)
	price := data.CurrentPrice
	proximity := th.Value(ThresholdKeyLevelProximity) / 100

	switch {
	case high > 0 && price > high:
		dim.Score = 85
		dim.Signal = SignalLong
		dim.Description = fmt.Sprintf("broke above the 20-bar high %.6f", high)
	case low > 0 && price < low:
		dim.Score = 80
		dim.Signal = SignalShort
		dim.Description = fmt.Sprintf("broke below the 20-bar low %.6f", low)
	case high > 0 && (high-price)/high <= proximity:
		dim.Score = 60
		dim.Signal = SignalNeutral
		dim.Description = fmt.Sprintf("testing resistance at %.6f", high)
	case low > 0 && (price-low)/low <= proximity:
		dim.Score = 62
		dim.Signal = SignalLong
		dim.Description = fmt.Sprintf("holding support at %.6f", low)
	default:
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "mid-range between key levels"
	}

	return dim
}

// scoreRSI scores the 14-period RSI on the 1h series.
func scoreRSI(data *marketdata.ComprehensiveData, th *ThresholdSet) DimensionResult {
	dim := DimensionResult{Key: DimRSI, Name: "RSI"}

	rsi := CalculateRSI(data.Klines1h, 14)
	oversold := th.Value(ThresholdRSIOversold)
	overbought := th.Value(ThresholdRSIOverbought)

	switch {
	case rsi <= oversold-10:
		dim.Score = 88
		dim.Signal = SignalLong
		dim.Description = fmt.Sprintf("RSI %.1f deeply oversold", rsi)
	case rsi < oversold:
		dim.Score = 80
		dim.Signal = SignalLong
		dim.Description = fmt.Sprintf("RSI %.1f oversold", rsi)
	case rsi >= overbought+10:
		dim.Score = 88
		dim.Signal = SignalShort
		dim.Description = fmt.Sprintf("RSI %.1f deeply overbought", rsi)
	case rsi > overbought:
		dim.Score = 80
		dim.Signal = SignalShort
		dim.Description = fmt.Sprintf("RSI %.1f overbought", rsi)
	default:
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = fmt.Sprintf("RSI %.1f in neutral range", rsi)
	}

	return dim
}

// scoreMACD watches the 1h MACD histogram for a sign flip.
func scoreMACD(data *marketdata.ComprehensiveData) DimensionResult {
	dim := DimensionResult{Key: DimMACD, Name: "MACD"}

	macd := CalculateMACD(data.Klines1h, 12, 26, 9)
	if !macd.Valid {
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "not enough history for MACD"
		return dim
	}

	switch {
	case macd.PrevHistogram <= 0 && macd.Histogram > 0:
		dim.Score = 80
		dim.Signal = SignalLong
		dim.Description = "MACD histogram flipped positive, golden cross"
	case macd.PrevHistogram >= 0 && macd.Histogram < 0:
		dim.Score = 80
		dim.Signal = SignalShort
		dim.Description = "MACD histogram flipped negative, death cross"
	case macd.Histogram > 0:
		dim.Score = 60
		dim.Signal = SignalLong
		dim.Description = "MACD histogram positive"
	case macd.Histogram < 0:
		dim.Score = 55
		dim.Signal = SignalShort
		dim.Description = "MACD histogram negative"
	default:
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "MACD flat"
	}

	return dim
}

// scorePullbackRisk crosses the 24h move with RSI. A token already up 30%
// with an overbought RSI is the classic blow-off setup.
func scorePullbackRisk(data *marketdata.ComprehensiveData, th *ThresholdSet) DimensionResult {
	dim := DimensionResult{Key: DimPullbackRisk, Name: "Pullback Risk"}

	change := data.PriceChange24hPct
	rsi := CalculateRSI(data.Klines1h, 14)
	extreme := th.Value(ThresholdPullbackExtremePct)
	overbought := th.Value(ThresholdRSIOverbought)

	switch {
	case change >= extreme && rsi > overbought:
		dim.Score = 15
		dim.Signal = SignalShort
		dim.Description = fmt.Sprintf("up %.1f%% in 24h with RSI %.1f, EXTREME pullback risk", change, rsi)
	case change >= extreme*2/3 && rsi > overbought-5:
		dim.Score = 35
		dim.Signal = SignalShort
		dim.Description = fmt.Sprintf("up %.1f%% in 24h with RSI %.1f, high pullback risk", change, rsi)
	case change >= extreme/3:
		dim.Score = 55
		dim.Signal = SignalNeutral
		dim.Description = fmt.Sprintf("up %.1f%% in 24h, moderate pullback risk", change)
	default:
		dim.Score = 75
		dim.Signal = SignalNeutral
		dim.Description = "pullback risk low"
	}

	return dim
}

// scoreLiquidityRisk reads absolute pool depth and the turnover rate.
func scoreLiquidityRisk(data *marketdata.ComprehensiveData) DimensionResult {
	dim := DimensionResult{Key: DimLiquidityRisk, Name: "Liquidity Risk", Signal: SignalNeutral}

	liquidity := data.PoolLiquidityUSD

	switch {
	case liquidity >= 1_000_000:
		dim.Score = 85
		dim.Description = fmt.Sprintf("deep pool, $%.0fK liquidity", liquidity/1000)
	case liquidity >= 500_000:
		dim.Score = 70
		dim.Description = fmt.Sprintf("adequate pool, $%.0fK liquidity", liquidity/1000)
	case liquidity >= 100_000:
		dim.Score = 50
		dim.Description = fmt.Sprintf("shallow pool, $%.0fK liquidity", liquidity/1000)
	case liquidity > 0:
		dim.Score = 25
		dim.Description = fmt.Sprintf("thin pool, $%.0fK liquidity", liquidity/1000)
	default:
		dim.Score = 20
		dim.Description = "pool liquidity unknown"
		return dim
	}

	if turnover := data.TurnoverRate(); turnover > 3 {
		dim.Score -= 10
		dim.Description += fmt.Sprintf(", turnover %.1fx running hot", turnover)
	}

	return dim
}

// scoreVolatilityRisk measures the 24h high/low amplitude, falling back to
// the mean hourly range when the daily extremes are missing.
func scoreVolatilityRisk(data *marketdata.ComprehensiveData) DimensionResult {
	dim := DimensionResult{Key: DimVolatilityRisk, Name: "Volatility Risk", Signal: SignalNeutral}

	if data.Low24h > 0 && data.High24h >= data.Low24h {
		amplitude := (data.High24h - data.Low24h) / data.Low24h * 100
		switch {
		case amplitude <= 10:
			dim.Score = 80
		case amplitude <= 25:
			dim.Score = 65
		case amplitude <= 50:
			dim.Score = 45
		default:
			dim.Score = 25
		}
		dim.Description = fmt.Sprintf("24h amplitude %.1f%%", amplitude)
		return dim
	}

	hourly := meanHourlyRangePct(data.Klines1h, 24)
	if hourly <= 0 {
		dim.Score = 50
		dim.Description = "volatility unknown"
		return dim
	}

	switch {
	case hourly <= 1:
		dim.Score = 80
	case hourly <= 2.5:
		dim.Score = 65
	case hourly <= 5:
		dim.Score = 45
	default:
		dim.Score = 25
	}
	dim.Description = fmt.Sprintf("mean hourly range %.2f%%", hourly)

	return dim
}

// meanHourlyRangePct averages (high-low)/low over the last n 1h candles.
func meanHourlyRangePct(klines []marketdata.Kline, n int) float64 {
	if len(klines) == 0 {
		return 0
	}
	if len(klines) < n {
		n = len(klines)
	}

	sum := 0.0
	count := 0
	for i := len(klines) - n; i < len(klines); i++ {
		if klines[i].Low <= 0 {
			continue
		}
		sum += (klines[i].High - klines[i].Low) / klines[i].Low * 100
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// scoreLiquidationRisk crosses the OI/market-cap ratio with the funding
// rate to find crowded leverage and its squeeze direction.
func scoreLiquidationRisk(data *marketdata.ComprehensiveData, th *ThresholdSet) DimensionResult {
	dim := DimensionResult{Key: DimLiquidationRisk, Name: "Liquidation Risk"}

	if !data.HasFutures {
		return collapsedLeverageDim(DimLiquidationRisk, dim.Name)
	}
	if data.MarketCap <= 0 || data.OpenInterest <= 0 {
		dim.Score = 60
		dim.Signal = SignalNeutral
		dim.Description = "OI/MC ratio unavailable"
		return dim
	}

	ratio := data.OpenInterest / data.MarketCap
	funding := data.FundingRate
	fundingHigh := th.Value(ThresholdFundingRateHigh)

	switch {
	case ratio > 0.3 && funding > fundingHigh:
		dim.Score = 30
		dim.Signal = SignalShort
		dim.Description = fmt.Sprintf("OI %.0f%% of market cap with longs paying %.4f, long squeeze risk", ratio*100, funding)
	case ratio > 0.3 && funding < -fundingHigh:
		dim.Score = 45
		dim.Signal = SignalLong
		dim.Description = fmt.Sprintf("OI %.0f%% of market cap with shorts paying, short squeeze fuel", ratio*100)
	case ratio > 0.15:
		dim.Score = 55
		dim.Signal = SignalNeutral
		dim.Description = fmt.Sprintf("elevated OI/MC ratio %.2f", ratio)
	default:
		dim.Score = 75
		dim.Signal = SignalNeutral
		dim.Description = fmt.Sprintf("OI/MC ratio %.2f, low liquidation pressure", ratio)
	}

	return dim
}

// scoreNewTokenRisk scores listing age. Freshly listed tokens carry rug and
// delisting risk no indicator can see.
func scoreNewTokenRisk(data *marketdata.ComprehensiveData) DimensionResult {
	dim := DimensionResult{Key: DimNewTokenRisk, Name: "New Token Risk", Signal: SignalNeutral}

	age := data.AgeDays(data.FetchedAt)
	switch {
	case age < 0:
		dim.Score = 50
		dim.Description = "listing age unknown"
	case age < 3:
		dim.Score = 25
		dim.Description = fmt.Sprintf("listed %.0f days ago, very new", age)
	case age < 7:
		dim.Score = 40
		dim.Description = fmt.Sprintf("listed %.0f days ago, new", age)
	case age < 30:
		dim.Score = 60
		dim.Description = fmt.Sprintf("listed %.0f days ago", age)
	default:
		dim.Score = 80
		dim.Description = fmt.Sprintf("listed %.0f days ago, seasoned", age)
	}

	return dim
}

// scoreWhaleRisk is a concentration heuristic from holder count and the
// circulating ratio.
func scoreWhaleRisk(data *marketdata.ComprehensiveData) DimensionResult {
	dim := DimensionResult{Key: DimWhaleRisk, Name: "Whale Risk", Signal: SignalNeutral}

	holders := data.HoldersCount
	if holders <= 0 {
		dim.Score = 50
		dim.Description = "holder data unavailable"
		return dim
	}

	switch {
	case holders < 500:
		dim.Score = 30
		dim.Description = fmt.Sprintf("%d holders, heavily concentrated", holders)
	case holders < 2000:
		dim.Score = 50
		dim.Description = fmt.Sprintf("%d holders, moderately concentrated", holders)
	default:
		dim.Score = 75
		dim.Description = fmt.Sprintf("%d holders, broad distribution", holders)
	}

	if circ := data.CirculationRatio; circ > 0 {
		if circ < 0.2 {
			dim.Score -= 15
			dim.Description += fmt.Sprintf(", only %.0f%% circulating", circ*100)
		} else if circ >= 0.5 {
			dim.Score += 5
		}
	}

	dim.Score = clamp(dim.Score, 0, 100)
	return dim
}

// scoreDivergence compares price direction with the volume trend over the
// last five 1h candles. Price climbing on fading volume marks a likely
// fake breakout.
func scoreDivergence(data *marketdata.ComprehensiveData) DimensionResult {
	dim := DimensionResult{Key: DimDivergence, Name: "Volume/Price Divergence"}

	klines := data.Klines1h
	if len(klines) < 5 {
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "not enough candles for divergence"
		return dim
	}

	tail := klines[len(klines)-5:]
	priceUp := tail[4].Close > tail[0].Close
	volEarly := (tail[0].Volume + tail[1].Volume + tail[2].Volume) / 3
	volLate := (tail[3].Volume + tail[4].Volume) / 2

	volumeFading := volEarly > 0 && volLate < volEarly*0.7
	volumeRising := volEarly > 0 && volLate > volEarly*1.2

	switch {
	case priceUp && volumeFading:
		dim.Score = 30
		dim.Signal = SignalShort
		dim.Description = "price rising on fading volume, possible fake breakout"
	case priceUp && volumeRising:
		dim.Score = 75
		dim.Signal = SignalLong
		dim.Description = "price rising with volume behind it"
	case !priceUp && volumeFading:
		dim.Score = 55
		dim.Signal = SignalNeutral
		dim.Description = "drifting lower on fading volume"
	default:
		dim.Score = 50
		dim.Signal = SignalNeutral
		dim.Description = "no volume/price divergence"
	}

	return dim
}
