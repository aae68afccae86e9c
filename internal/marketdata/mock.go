package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockProvider serves simulated market data for development and dry-run
// operation when the upstream quote APIs are unavailable.
type MockProvider struct {
	mu         sync.RWMutex
	prices     map[string]float64
	lastUpdate time.Time
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a provider with a small realistic token set
func NewMockProvider() *MockProvider {
	return &MockProvider{
		prices: map[string]float64{
			"AIOT": 0.245,
			"KOGE": 47.80,
			"B2":   0.68,
			"MERL": 0.30,
			"OBOL": 0.145,
			"ZKJ":  1.95,
		},
		lastUpdate: time.Now(),
	}
}

// updatePrices adds small random variations to simulate market movement
func (m *MockProvider) updatePrices() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastUpdate) < time.Second {
		return
	}

	for symbol, price := range m.prices {
		// Random walk: -0.5% to +0.5% change
		change := (rand.Float64() - 0.5) * 0.01
		m.prices[symbol] = price * (1 + change)
	}
	m.lastUpdate = time.Now()
}

func (m *MockProvider) price(symbol string) float64 {
	m.updatePrices()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.prices[symbol]; ok {
		return p
	}
	return 1.0
}

// SetPrice pins a symbol's price, used by tests to drive entry and exit paths
func (m *MockProvider) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	m.lastUpdate = time.Now()
}

func (m *MockProvider) RealtimePrice(ctx context.Context, ref TokenRef) (float64, error) {
	return m.price(ref.Symbol), nil
}

func (m *MockProvider) BatchRealtimePrices(ctx context.Context, refs []TokenRef) (map[string]float64, error) {
	prices := make(map[string]float64, len(refs))
	for _, ref := range refs {
		prices[ref.Symbol] = m.price(ref.Symbol)
	}
	return prices, nil
}

func (m *MockProvider) GetComprehensiveData(ctx context.Context, ref TokenRef) (*ComprehensiveData, error) {
	price := m.price(ref.Symbol)

	// Gentle uptrend ending at the current price
	klines1h := make([]Kline, 100)
	for i := range klines1h {
		drift := price * (1 - 0.001*float64(len(klines1h)-i))
		wave := price * 0.002 * math.Sin(float64(i)/5)
		openPx := drift - wave
		closePx := drift + wave
		klines1h[i] = Kline{
			OpenTime:  time.Now().Add(-time.Duration(len(klines1h)-i) * time.Hour).UnixMilli(),
			Open:      openPx,
			High:      math.Max(openPx, closePx) * 1.002,
			Low:       math.Min(openPx, closePx) * 0.998,
			Close:     closePx,
			Volume:    10000 + 100*float64(i),
			CloseTime: time.Now().Add(-time.Duration(len(klines1h)-i-1) * time.Hour).UnixMilli(),
		}
	}

	klines4h := make([]Kline, 60)
	for i := range klines4h {
		drift := price * (1 - 0.004*float64(len(klines4h)-i))
		klines4h[i] = Kline{
			OpenTime:  time.Now().Add(-4 * time.Duration(len(klines4h)-i) * time.Hour).UnixMilli(),
			Open:      drift * 0.999,
			High:      drift * 1.004,
			Low:       drift * 0.996,
			Close:     drift,
			Volume:    40000,
			CloseTime: time.Now().Add(-4 * time.Duration(len(klines4h)-i-1) * time.Hour).UnixMilli(),
		}
	}

	return &ComprehensiveData{
		Symbol:            ref.Symbol,
		ContractAddress:   ref.Contract,
		Chain:             ref.Chain,
		FetchedAt:         time.Now(),
		CurrentPrice:      price,
		PriceChange24hPct: 5.2,
		High24h:           price * 1.08,
		Low24h:            price * 0.94,
		Volume24h:         1_200_000,
		QuoteVolume24h:    1_200_000 * price,
		Klines1h:          klines1h,
		Klines4h:          klines4h,
		HasFutures:        false,
		MarketCap:         25_000_000,
		PoolLiquidityUSD:  750_000,
		HoldersCount:      4100,
		CirculationRatio:  0.35,
		ListingTime:       time.Now().Add(-45 * 24 * time.Hour).UnixMilli(),
	}, nil
}

func (m *MockProvider) AllAlphaTokens(ctx context.Context) ([]AlphaToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tokens := make([]AlphaToken, 0, len(m.prices))
	for symbol, price := range m.prices {
		tokens = append(tokens, AlphaToken{
			Symbol:       symbol,
			Name:         symbol,
			Chain:        "BSC",
			Decimals:     18,
			Price:        price,
			Volume24h:    1_200_000,
			Liquidity:    750_000,
			MarketCap:    25_000_000,
			HoldersCount: 4100,
			ListingTime:  time.Now().Add(-45 * 24 * time.Hour).UnixMilli(),
		})
	}
	return tokens, nil
}

func (m *MockProvider) PoolLiquidity(ctx context.Context, contract, chain string) (float64, error) {
	return 750_000, nil
}
