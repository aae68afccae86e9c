package marketdata

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// AlphaClient fetches quotes, klines, and the token listing from the
// Binance Alpha market endpoints.
type AlphaClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// NewAlphaClient creates a market data client for the Alpha endpoints
func NewAlphaClient(apiKey, secretKey, baseURL string) *AlphaClient {
	return &AlphaClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type alphaEnvelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

const alphaOKCode = "000000"

// Ticker is the 24h rolling window snapshot for an alpha token
type Ticker struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"lastPrice,string"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	HighPrice          float64 `json:"highPrice,string"`
	LowPrice           float64 `json:"lowPrice,string"`
	Volume             float64 `json:"volume,string"`
	QuoteVolume        float64 `json:"quoteVolume,string"`
}

// FuturesMetrics carries the derivatives fields for tokens that also
// trade on futures. Tokens without a futures listing return zeros.
type FuturesMetrics struct {
	OpenInterest       float64 `json:"openInterest,string"`
	OpenInterestChange float64 `json:"openInterestChangePct,string"`
	FundingRate        float64 `json:"fundingRate,string"`
}

func (c *AlphaClient) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	// Signed requests get a higher rate-limit tier
	if c.secretKey != "" {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("signature", c.sign(params))
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var envelope alphaEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("error parsing response envelope: %w", err)
	}
	if envelope.Code != alphaOKCode {
		return nil, fmt.Errorf("API error %s: %s", envelope.Code, envelope.Message)
	}

	return envelope.Data, nil
}

// GetTokenList fetches the full alpha token listing, including DEX-only tokens
func (c *AlphaClient) GetTokenList(ctx context.Context) ([]AlphaToken, error) {
	data, err := c.get(ctx, "/bapi/defi/v1/public/alpha-trade/token/list", nil)
	if err != nil {
		return nil, err
	}

	var tokens []AlphaToken
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("error parsing token list: %w", err)
	}
	return tokens, nil
}

// GetKlines fetches candlestick data for an alpha token
func (c *AlphaClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	data, err := c.get(ctx, "/bapi/defi/v1/public/alpha-trade/klines", params)
	if err != nil {
		return nil, err
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(data, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, len(rawKlines))
	for i, raw := range rawKlines {
		if len(raw) < 7 {
			return nil, fmt.Errorf("malformed kline row with %d fields", len(raw))
		}
		klines[i] = Kline{
			OpenTime:  int64(parseFloat(raw[0])),
			Open:      parseFloat(raw[1]),
			High:      parseFloat(raw[2]),
			Low:       parseFloat(raw[3]),
			Close:     parseFloat(raw[4]),
			Volume:    parseFloat(raw[5]),
			CloseTime: int64(parseFloat(raw[6])),
		}
	}

	return klines, nil
}

// GetTicker fetches the 24h ticker for an alpha token
func (c *AlphaClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	data, err := c.get(ctx, "/bapi/defi/v1/public/alpha-trade/ticker", params)
	if err != nil {
		return nil, err
	}

	var ticker Ticker
	if err := json.Unmarshal(data, &ticker); err != nil {
		return nil, fmt.Errorf("error parsing ticker: %w", err)
	}
	return &ticker, nil
}

// GetFuturesMetrics fetches open interest and funding for tokens with a
// futures listing. Missing listings return zero metrics, not an error.
func (c *AlphaClient) GetFuturesMetrics(ctx context.Context, symbol string) (*FuturesMetrics, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	data, err := c.get(ctx, "/bapi/defi/v1/public/alpha-trade/futures-metrics", params)
	if err != nil {
		return &FuturesMetrics{}, nil
	}

	var metrics FuturesMetrics
	if err := json.Unmarshal(data, &metrics); err != nil {
		return &FuturesMetrics{}, nil
	}
	return &metrics, nil
}

// sign builds the HMAC-SHA256 signature over the encoded query
func (c *AlphaClient) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}
