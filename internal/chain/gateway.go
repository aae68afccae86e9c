package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// TxStatus is the on-chain state of a submitted transaction
type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxConfirmed TxStatus = "CONFIRMED"
	TxFailed    TxStatus = "FAILED"
)

// approvalSettleWait gives the approval transaction time to propagate
// before the swap that depends on it is submitted.
const approvalSettleWait = 5 * time.Second

// Gateway is the engine's single point of chain access. It reads balances
// and receipts directly over RPC and routes all writes through Privy
// delegated signing.
type Gateway struct {
	registry *Registry
	privy    *PrivyClient
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[int64]*ethclient.Client
}

// NewGateway creates a gateway over the given chain registry
func NewGateway(registry *Registry, privy *PrivyClient, logger zerolog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		privy:    privy,
		logger:   logger.With().Str("component", "chain_gateway").Logger(),
		clients:  make(map[int64]*ethclient.Client),
	}
}

// Registry exposes the chain registry for callers that resolve chains
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// client returns a lazily dialed RPC client for a chain
func (g *Gateway) client(c *Chain) (*ethclient.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cl, ok := g.clients[c.ID]; ok {
		return cl, nil
	}
	cl, err := ethclient.Dial(c.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s rpc: %w", c.Name, err)
	}
	g.clients[c.ID] = cl
	return cl, nil
}

// Close releases all dialed RPC clients
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cl := range g.clients {
		cl.Close()
	}
	g.clients = make(map[int64]*ethclient.Client)
}

func (g *Gateway) callContract(ctx context.Context, c *Chain, to common.Address, data []byte) ([]byte, error) {
	cl, err := g.client(c)
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	return cl.CallContract(ctx, msg, nil)
}

// StableBalance returns the wallet's quote asset balance in whole units
func (g *Gateway) StableBalance(ctx context.Context, c *Chain, wallet string) (float64, error) {
	raw, err := g.TokenBalance(ctx, c, wallet, c.Stable.Address)
	if err != nil {
		return 0, err
	}
	return FromTokenUnits(raw, c.Stable.Decimals), nil
}

// TokenBalance returns the raw ERC-20 balance of a wallet
func (g *Gateway) TokenBalance(ctx context.Context, c *Chain, wallet, token string) (*big.Int, error) {
	result, err := g.callContract(ctx, c, common.HexToAddress(token), BalanceOfCalldata(common.HexToAddress(wallet)))
	if err != nil {
		return nil, fmt.Errorf("failed to read balance of %s on %s: %w", token, c.Name, err)
	}
	return ParseUint256(result)
}

// TokenDecimals reads the decimals of an ERC-20 token
func (g *Gateway) TokenDecimals(ctx context.Context, c *Chain, token string) (int, error) {
	result, err := g.callContract(ctx, c, common.HexToAddress(token), DecimalsCalldata())
	if err != nil {
		return 0, fmt.Errorf("failed to read decimals of %s on %s: %w", token, c.Name, err)
	}
	v, err := ParseUint256(result)
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Allowance returns the raw ERC-20 allowance granted to a spender
func (g *Gateway) Allowance(ctx context.Context, c *Chain, token, owner, spender string) (*big.Int, error) {
	result, err := g.callContract(ctx, c, common.HexToAddress(token),
		AllowanceCalldata(common.HexToAddress(owner), common.HexToAddress(spender)))
	if err != nil {
		return nil, fmt.Errorf("failed to read allowance of %s on %s: %w", token, c.Name, err)
	}
	return ParseUint256(result)
}

// EnsureApproval checks the spender's allowance on a token and, when it is
// below the required amount, submits an unlimited approve through the
// user's delegated wallet and waits for it to settle.
func (g *Gateway) EnsureApproval(ctx context.Context, c *Chain, walletID, owner, token, spender string, required *big.Int) error {
	allowance, err := g.Allowance(ctx, c, token, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(required) >= 0 {
		return nil
	}

	g.logger.Info().
		Str("chain", c.Name).
		Str("token", token).
		Str("spender", spender).
		Msg("Allowance insufficient, submitting approval")

	data := ApproveCalldata(common.HexToAddress(spender), MaxUint256)
	txHash, err := g.privy.SendTransaction(ctx, walletID, c.CAIP2, TxRequest{
		To:      token,
		Data:    hexutil.Encode(data),
		Value:   "0x0",
		ChainID: c.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to submit approval: %w", err)
	}

	status, err := g.WaitForReceipt(ctx, c, txHash, 60*time.Second)
	if err != nil {
		return fmt.Errorf("failed waiting for approval %s: %w", txHash, err)
	}
	if status != TxConfirmed {
		return fmt.Errorf("approval transaction %s not confirmed: %s", txHash, status)
	}

	// Some RPC nodes lag the state root for a few blocks after the receipt
	select {
	case <-time.After(approvalSettleWait):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// SendTransaction routes a prepared transaction through delegated signing
func (g *Gateway) SendTransaction(ctx context.Context, c *Chain, walletID string, tx TxRequest) (string, error) {
	if tx.ChainID == 0 {
		tx.ChainID = c.ID
	}
	if tx.Value == "" {
		tx.Value = "0x0"
	}
	return g.privy.SendTransaction(ctx, walletID, c.CAIP2, tx)
}

// TransactionStatus reads the receipt state of a transaction hash
func (g *Gateway) TransactionStatus(ctx context.Context, c *Chain, txHash string) (TxStatus, error) {
	cl, err := g.client(c)
	if err != nil {
		return TxPending, err
	}

	receipt, err := cl.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound || strings.Contains(err.Error(), "not found") {
			return TxPending, nil
		}
		return TxPending, fmt.Errorf("failed to fetch receipt for %s: %w", txHash, err)
	}

	if receipt.Status == 1 {
		return TxConfirmed, nil
	}
	return TxFailed, nil
}

// WaitForReceipt polls a transaction until it confirms, fails, or the
// timeout elapses. A timeout returns TxPending with no error so callers
// can leave the sweep to the transaction monitor.
func (g *Gateway) WaitForReceipt(ctx context.Context, c *Chain, txHash string, timeout time.Duration) (TxStatus, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		status, err := g.TransactionStatus(ctx, c, txHash)
		if err != nil {
			return TxPending, err
		}
		if status != TxPending {
			return status, nil
		}
		if time.Now().After(deadline) {
			return TxPending, nil
		}

		select {
		case <-ctx.Done():
			return TxPending, ctx.Err()
		case <-ticker.C:
		}
	}
}
