package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TokenRef identifies a token across the quote sources. Symbol addresses
// the Alpha endpoints, contract+chain address DexScreener.
type TokenRef struct {
	Symbol   string
	Contract string
	Chain    string
}

// Provider is the market data surface the rest of the engine consumes
type Provider interface {
	RealtimePrice(ctx context.Context, ref TokenRef) (float64, error)
	BatchRealtimePrices(ctx context.Context, refs []TokenRef) (map[string]float64, error)
	GetComprehensiveData(ctx context.Context, ref TokenRef) (*ComprehensiveData, error)
	AllAlphaTokens(ctx context.Context) ([]AlphaToken, error)
	PoolLiquidity(ctx context.Context, contract, chain string) (float64, error)
}

// priceCallSpacing throttles consecutive REST price calls in one batch
const priceCallSpacing = 500 * time.Millisecond

// tokenListTTL bounds how long the in-memory listing snapshot is reused
const tokenListTTL = 10 * time.Minute

// Service resolves market data from the Alpha endpoints first and falls
// back to DexScreener for DEX-only tokens. A Redis cache fronts realtime
// prices when available.
type Service struct {
	alpha  *AlphaClient
	dex    *DexScreenerClient
	cache  *PriceCache // nil when redis is disabled
	logger zerolog.Logger

	mu          sync.Mutex
	tokenList   []AlphaToken
	tokenListAt time.Time
}

var _ Provider = (*Service)(nil)

// NewService creates the production market data provider
func NewService(alpha *AlphaClient, dex *DexScreenerClient, cache *PriceCache, logger zerolog.Logger) *Service {
	return &Service{
		alpha:  alpha,
		dex:    dex,
		cache:  cache,
		logger: logger.With().Str("component", "marketdata").Logger(),
	}
}

// RealtimePrice returns the latest trade price for a token. Cache first,
// then Alpha ticker, then the deepest DexScreener pool.
func (s *Service) RealtimePrice(ctx context.Context, ref TokenRef) (float64, error) {
	if s.cache != nil {
		if price, err := s.cache.GetPrice(ctx, ref.Symbol); err == nil && price > 0 {
			return price, nil
		}
	}

	price, err := s.restPrice(ctx, ref)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, ref.Symbol, price); err != nil {
			s.logger.Debug().Err(err).Str("symbol", ref.Symbol).Msg("Price cache write skipped")
		}
	}
	return price, nil
}

func (s *Service) restPrice(ctx context.Context, ref TokenRef) (float64, error) {
	ticker, err := s.alpha.GetTicker(ctx, ref.Symbol)
	if err == nil && ticker.LastPrice > 0 {
		return ticker.LastPrice, nil
	}

	if ref.Contract == "" {
		return 0, fmt.Errorf("no price for %s: %v", ref.Symbol, err)
	}

	pair, dexErr := s.dex.BestPair(ctx, ref.Contract, ref.Chain)
	if dexErr != nil {
		return 0, fmt.Errorf("no price for %s: alpha: %v, dexscreener: %v", ref.Symbol, err, dexErr)
	}
	if pair.PriceUSD <= 0 {
		return 0, fmt.Errorf("no price for %s: zero quote from deepest pool", ref.Symbol)
	}
	return pair.PriceUSD, nil
}

// BatchRealtimePrices resolves prices for a set of tokens, spacing the
// REST calls to respect upstream rate limits. Cache hits do not consume
// spacing. Tokens that fail resolve are omitted from the result.
func (s *Service) BatchRealtimePrices(ctx context.Context, refs []TokenRef) (map[string]float64, error) {
	prices := make(map[string]float64, len(refs))
	restCalls := 0

	for _, ref := range refs {
		if s.cache != nil {
			if price, err := s.cache.GetPrice(ctx, ref.Symbol); err == nil && price > 0 {
				prices[ref.Symbol] = price
				continue
			}
		}

		if restCalls > 0 {
			select {
			case <-time.After(priceCallSpacing):
			case <-ctx.Done():
				return prices, ctx.Err()
			}
		}
		restCalls++

		price, err := s.restPrice(ctx, ref)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", ref.Symbol).Msg("Batch price refresh skipped token")
			continue
		}
		prices[ref.Symbol] = price

		if s.cache != nil {
			_ = s.cache.SetPrice(ctx, ref.Symbol, price)
		}
	}

	return prices, nil
}

// GetComprehensiveData assembles the full scoring input for a token.
// The price and 1h klines are required; everything else degrades to
// zero values so the scoring engine can still run its DEX variant.
func (s *Service) GetComprehensiveData(ctx context.Context, ref TokenRef) (*ComprehensiveData, error) {
	data := &ComprehensiveData{
		Symbol:          ref.Symbol,
		ContractAddress: ref.Contract,
		Chain:           ref.Chain,
		FetchedAt:       time.Now(),
	}

	klines1h, err := s.alpha.GetKlines(ctx, ref.Symbol, "1h", 100)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch 1h klines for %s: %w", ref.Symbol, err)
	}
	if len(klines1h) == 0 {
		return nil, fmt.Errorf("no 1h klines for %s", ref.Symbol)
	}
	data.Klines1h = klines1h

	if klines4h, err := s.alpha.GetKlines(ctx, ref.Symbol, "4h", 60); err == nil {
		data.Klines4h = klines4h
	} else {
		s.logger.Debug().Err(err).Str("symbol", ref.Symbol).Msg("4h klines unavailable")
	}

	if ticker, err := s.alpha.GetTicker(ctx, ref.Symbol); err == nil {
		data.CurrentPrice = ticker.LastPrice
		data.PriceChange24hPct = ticker.PriceChangePercent
		data.High24h = ticker.HighPrice
		data.Low24h = ticker.LowPrice
		data.Volume24h = ticker.Volume
		data.QuoteVolume24h = ticker.QuoteVolume
	}
	if data.CurrentPrice <= 0 {
		data.CurrentPrice = klines1h[len(klines1h)-1].Close
	}

	if metrics, err := s.alpha.GetFuturesMetrics(ctx, ref.Symbol); err == nil && metrics.OpenInterest > 0 {
		data.HasFutures = true
		data.OpenInterest = metrics.OpenInterest
		data.OpenInterestChange = metrics.OpenInterestChange
		data.FundingRate = metrics.FundingRate
	}

	if tokens, err := s.cachedTokenList(ctx); err == nil {
		for _, t := range tokens {
			if t.Symbol == ref.Symbol {
				data.MarketCap = t.MarketCap
				data.HoldersCount = t.HoldersCount
				data.ListingTime = t.ListingTime
				if t.MarketCap > 0 {
					data.CirculationRatio = t.Liquidity / t.MarketCap
				}
				break
			}
		}
	}

	if ref.Contract != "" {
		if pair, err := s.dex.BestPair(ctx, ref.Contract, ref.Chain); err == nil {
			data.PoolLiquidityUSD = pair.LiquidityUSD
			if data.CurrentPrice <= 0 {
				data.CurrentPrice = pair.PriceUSD
			}
		}
	}

	return data, nil
}

// cachedTokenList reuses the listing snapshot across scoring calls
func (s *Service) cachedTokenList(ctx context.Context) ([]AlphaToken, error) {
	s.mu.Lock()
	if s.tokenList != nil && time.Since(s.tokenListAt) < tokenListTTL {
		tokens := s.tokenList
		s.mu.Unlock()
		return tokens, nil
	}
	s.mu.Unlock()

	tokens, err := s.alpha.GetTokenList(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tokenList = tokens
	s.tokenListAt = time.Now()
	s.mu.Unlock()
	return tokens, nil
}

// AllAlphaTokens lists every tradable token the Alpha listing knows
func (s *Service) AllAlphaTokens(ctx context.Context) ([]AlphaToken, error) {
	return s.cachedTokenList(ctx)
}

// PoolLiquidity returns the deepest pool's liquidity for a token contract
func (s *Service) PoolLiquidity(ctx context.Context, contract, chain string) (float64, error) {
	pair, err := s.dex.BestPair(ctx, contract, chain)
	if err != nil {
		return 0, err
	}
	return pair.LiquidityUSD, nil
}
