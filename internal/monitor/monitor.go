// Package monitor holds the three polling loops around a position's life:
// the price watcher fires entries, the exit monitor evaluates stops and
// take-profits on open positions, and the transaction monitor resolves
// submitted entry transactions against chain receipts.
package monitor

import (
	"context"
	"math/big"
	"regexp"
	"strconv"
	"time"

	"alpha-trade-engine/internal/aggregator"
	"alpha-trade-engine/internal/chain"
	"alpha-trade-engine/internal/marketdata"
)

// Poll intervals
const (
	PriceInterval = 15 * time.Second
	ExitInterval  = 15 * time.Second
)

// PriceSource supplies live prices
type PriceSource interface {
	RealtimePrice(ctx context.Context, ref marketdata.TokenRef) (float64, error)
}

// Router builds routed swap transactions
type Router interface {
	BuildSwapTx(ctx context.Context, req aggregator.QuoteRequest) (*aggregator.SwapTx, error)
}

// Gateway is the chain surface the monitors need
type Gateway interface {
	TokenDecimals(ctx context.Context, c *chain.Chain, token string) (int, error)
	EnsureApproval(ctx context.Context, c *chain.Chain, walletID, owner, token, spender string, required *big.Int) error
	SendTransaction(ctx context.Context, c *chain.Chain, walletID string, tx chain.TxRequest) (string, error)
	TransactionStatus(ctx context.Context, c *chain.Chain, txHash string) (chain.TxStatus, error)
	WaitForReceipt(ctx context.Context, c *chain.Chain, txHash string, timeout time.Duration) (chain.TxStatus, error)
}

// EntryProjector receives confirmed entries for position projection
type EntryProjector interface {
	OnTradeEntry(ctx context.Context, executionID string) error
}

// ExitProjector receives settled exits for history projection
type ExitProjector interface {
	OnTradeExit(ctx context.Context, executionID string) error
}

var retryPrefix = regexp.MustCompile(`^\[Retry (\d+)\] `)

// ParseRetryCount extracts the retry counter from a failure message.
// Messages without a marker count as zero attempts.
func ParseRetryCount(message *string) int {
	if message == nil {
		return 0
	}
	m := retryPrefix.FindStringSubmatch(*message)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// FormatRetryError stamps a failure message with its attempt number
func FormatRetryError(attempt int, reason string) string {
	return "[Retry " + strconv.Itoa(attempt) + "] " + reason
}
