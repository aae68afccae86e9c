// Package aggregator wraps the DEX routing service that turns a desired
// swap into a ready-to-sign transaction. The engine never builds router
// calldata itself; the aggregator selects the route and returns the
// target contract, calldata, and native value for the swap.
package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// QuoteRequest describes a swap the engine wants routed
type QuoteRequest struct {
	ChainID     int64
	FromToken   string
	ToToken     string
	AmountRaw   string // integer string in from-token base units
	UserWallet  string
	SlippagePct float64
}

// SwapTx is the routed transaction returned by the aggregator
type SwapTx struct {
	To          string  `json:"to"`
	Data        string  `json:"data"`
	Value       string  `json:"value"`
	ToAmountRaw string  `json:"toAmount"`
	PriceImpact float64 `json:"priceImpact"`
	Router      string  `json:"router"`
}

type quoteResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    SwapTx `json:"data"`
}

// ErrNoRoute is reported when the aggregator cannot route the pair
var ErrNoRoute = fmt.Errorf("no swap route available")

// Client talks to the swap routing service
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient creates an aggregator client
func NewClient(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	if apiKey != "" {
		httpClient.SetHeader("X-API-KEY", apiKey)
	}

	return &Client{
		http:   httpClient,
		logger: logger.With().Str("component", "aggregator").Logger(),
	}
}

// BuildSwapTx asks the routing service for a transaction that swaps
// AmountRaw of FromToken into ToToken for the user's wallet.
func (c *Client) BuildSwapTx(ctx context.Context, req QuoteRequest) (*SwapTx, error) {
	if req.AmountRaw == "" || req.AmountRaw == "0" {
		return nil, fmt.Errorf("invalid swap amount: %q", req.AmountRaw)
	}

	var result quoteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"chainId":   strconv.FormatInt(req.ChainID, 10),
			"fromToken": req.FromToken,
			"toToken":   req.ToToken,
			"amount":    req.AmountRaw,
			"account":   req.UserWallet,
			"slippage":  strconv.FormatFloat(req.SlippagePct, 'f', -1, 64),
		}).
		SetResult(&result).
		Get("/v1/swap")
	if err != nil {
		return nil, fmt.Errorf("swap quote request: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNoRoute
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("swap quote: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Code != 0 {
		if result.Code == 40001 {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("swap quote rejected: %s (code %d)", result.Message, result.Code)
	}
	if result.Data.To == "" || result.Data.Data == "" {
		return nil, fmt.Errorf("swap quote returned empty transaction")
	}

	c.logger.Debug().
		Int64("chain_id", req.ChainID).
		Str("from", req.FromToken).
		Str("to", req.ToToken).
		Str("router", result.Data.Router).
		Float64("price_impact", result.Data.PriceImpact).
		Msg("Swap route built")

	return &result.Data, nil
}
