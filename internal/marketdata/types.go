package marketdata

import "time"

// Kline represents a candlestick
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"closeTime"`
}

// ComprehensiveData is the full market view the scoring engine consumes.
// Futures-only fields (open interest, funding) stay zero for DEX-only
// tokens and HasFutures reports which scoring variant applies.
type ComprehensiveData struct {
	Symbol          string    `json:"symbol"`
	ContractAddress string    `json:"contract_address"`
	Chain           string    `json:"chain"`
	FetchedAt       time.Time `json:"fetched_at"`

	CurrentPrice      float64 `json:"current_price"`
	PriceChange24hPct float64 `json:"price_change_24h_pct"`
	High24h           float64 `json:"high_24h"`
	Low24h            float64 `json:"low_24h"`
	Volume24h         float64 `json:"volume_24h"`
	QuoteVolume24h    float64 `json:"quote_volume_24h"`

	Klines1h []Kline `json:"klines_1h"`
	Klines4h []Kline `json:"klines_4h"`

	HasFutures          bool    `json:"has_futures"`
	OpenInterest        float64 `json:"open_interest"`
	OpenInterestChange  float64 `json:"open_interest_change_pct"`
	FundingRate         float64 `json:"funding_rate"`
	MarketCap           float64 `json:"market_cap"`
	PoolLiquidityUSD    float64 `json:"pool_liquidity_usd"`
	HoldersCount        int64   `json:"holders_count"`
	CirculationRatio    float64 `json:"circulation_ratio"`
	ListingTime         int64   `json:"listing_time"` // unix ms, 0 when unknown
}

// TurnoverRate is 24h volume relative to pool liquidity
func (d *ComprehensiveData) TurnoverRate() float64 {
	if d.PoolLiquidityUSD <= 0 {
		return 0
	}
	return d.QuoteVolume24h / d.PoolLiquidityUSD
}

// AgeDays returns days since listing, or -1 when the listing time is unknown
func (d *ComprehensiveData) AgeDays(now time.Time) float64 {
	if d.ListingTime <= 0 {
		return -1
	}
	listed := time.UnixMilli(d.ListingTime)
	return now.Sub(listed).Hours() / 24
}

// AlphaToken is an entry from the tradable token listing
type AlphaToken struct {
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	ContractAddress string  `json:"contractAddress"`
	Chain           string  `json:"chainName"`
	ChainID         string  `json:"chainId"`
	Decimals        int     `json:"decimals"`
	AlphaID         string  `json:"alphaId"`
	Price           float64 `json:"price,string"`
	Volume24h       float64 `json:"volume24h,string"`
	Liquidity       float64 `json:"liquidity,string"`
	MarketCap       float64 `json:"marketCap,string"`
	HoldersCount    int64   `json:"holders"`
	ListingTime     int64   `json:"listingTime"`
	HasFutures      bool    `json:"hasFutures"`
}

// PairLiquidity is the DEX pool snapshot used by risk gating
type PairLiquidity struct {
	PairAddress  string  `json:"pair_address"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	PriceUSD     float64 `json:"price_usd"`
	Volume24h    float64 `json:"volume_24h"`
	PriceChange  float64 `json:"price_change_24h"`
}
