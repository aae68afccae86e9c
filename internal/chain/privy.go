package chain

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// PrivyClient submits transactions through Privy's delegated wallet RPC.
// The engine never holds user keys; each user has granted the app
// permission to sign from their embedded wallet.
type PrivyClient struct {
	http   *resty.Client
	appID  string
	logger zerolog.Logger
}

// TxRequest is the transaction forwarded to the wallet RPC for signing
type TxRequest struct {
	To      string `json:"to"`
	Data    string `json:"data,omitempty"`
	Value   string `json:"value,omitempty"`
	ChainID int64  `json:"chain_id"`
}

type privyRPCRequest struct {
	Method    string         `json:"method"`
	CAIP2     string         `json:"caip2"`
	ChainType string         `json:"chain_type"`
	Params    privyRPCParams `json:"params"`
}

type privyRPCParams struct {
	Transaction TxRequest `json:"transaction"`
}

type privyRPCResponse struct {
	Method string `json:"method"`
	Data   struct {
		Hash  string `json:"hash"`
		CAIP2 string `json:"caip2"`
	} `json:"data"`
}

// NewPrivyClient creates a delegated signing client
func NewPrivyClient(appID, appSecret, baseURL string, timeout time.Duration, logger zerolog.Logger) *PrivyClient {
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
		SetBasicAuth(appID, appSecret).
		SetHeader("privy-app-id", appID).
		SetHeader("Content-Type", "application/json")

	return &PrivyClient{
		http:   httpClient,
		appID:  appID,
		logger: logger.With().Str("component", "privy").Logger(),
	}
}

// SendTransaction signs and broadcasts a transaction from a user's
// delegated wallet and returns the transaction hash.
func (c *PrivyClient) SendTransaction(ctx context.Context, walletID, caip2 string, tx TxRequest) (string, error) {
	if walletID == "" {
		return "", fmt.Errorf("missing privy wallet id")
	}

	body := privyRPCRequest{
		Method:    "eth_sendTransaction",
		CAIP2:     caip2,
		ChainType: "ethereum",
		Params:    privyRPCParams{Transaction: tx},
	}

	var result privyRPCResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post(fmt.Sprintf("/v1/wallets/%s/rpc", walletID))
	if err != nil {
		return "", fmt.Errorf("privy send transaction: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("privy send transaction: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Data.Hash == "" {
		return "", fmt.Errorf("privy send transaction: empty hash in response")
	}

	c.logger.Debug().
		Str("wallet_id", walletID).
		Str("caip2", caip2).
		Str("tx_hash", result.Data.Hash).
		Msg("Transaction submitted via delegated wallet")

	return result.Data.Hash, nil
}
