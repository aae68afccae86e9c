package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DexScreener chain slugs for the supported networks
var dexScreenerChains = map[string]string{
	"BSC":  "bsc",
	"BASE": "base",
}

// DexScreenerClient resolves prices and pool liquidity for DEX-only
// tokens that the Alpha endpoints do not quote.
type DexScreenerClient struct {
	http *resty.Client
}

type dexPair struct {
	ChainID     string `json:"chainId"`
	PairAddress string `json:"pairAddress"`
	PriceUSD    string `json:"priceUsd"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
}

type dexTokenResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// NewDexScreenerClient creates a DexScreener client
func NewDexScreenerClient(baseURL string) *DexScreenerClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &DexScreenerClient{http: httpClient}
}

// TokenPairs returns all pools quoting a token contract, optionally
// filtered to one chain.
func (c *DexScreenerClient) TokenPairs(ctx context.Context, contract, chain string) ([]PairLiquidity, error) {
	var result dexTokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/latest/dex/tokens/" + contract)
	if err != nil {
		return nil, fmt.Errorf("dexscreener token lookup: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("dexscreener token lookup: status %d", resp.StatusCode())
	}

	slug := dexScreenerChains[strings.ToUpper(chain)]

	var pairs []PairLiquidity
	for _, p := range result.Pairs {
		if slug != "" && p.ChainID != slug {
			continue
		}
		price, _ := strconv.ParseFloat(p.PriceUSD, 64)
		pairs = append(pairs, PairLiquidity{
			PairAddress:  p.PairAddress,
			LiquidityUSD: p.Liquidity.USD,
			PriceUSD:     price,
			Volume24h:    p.Volume.H24,
			PriceChange:  p.PriceChange.H24,
		})
	}
	return pairs, nil
}

// BestPair returns the deepest pool for a token on a chain
func (c *DexScreenerClient) BestPair(ctx context.Context, contract, chain string) (*PairLiquidity, error) {
	pairs, err := c.TokenPairs(ctx, contract, chain)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no pools found for %s on %s", contract, chain)
	}

	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.LiquidityUSD > best.LiquidityUSD {
			best = p
		}
	}
	return &best, nil
}
