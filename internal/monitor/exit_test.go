package monitor

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/aggregator"
	"alpha-trade-engine/internal/chain"
	"alpha-trade-engine/internal/database"
)

type fakePositionStore struct {
	mu sync.Mutex

	positions  map[string]*database.Position
	executions map[string]*database.Execution
	configs    map[string]*database.StrategyConfig
	claimFails bool
	configErr  error
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{
		positions:  make(map[string]*database.Position),
		executions: make(map[string]*database.Execution),
		configs:    make(map[string]*database.StrategyConfig),
	}
}

func (f *fakePositionStore) GetPosition(ctx context.Context, id string) (*database.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakePositionStore) UpdatePositionPrice(ctx context.Context, id string, currentPrice, unrealizedUSDT, unrealizedPct, highestPrice float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.positions[id]; ok {
		p.CurrentPrice = currentPrice
		p.UnrealizedPnLUSDT = unrealizedUSDT
		p.UnrealizedPnLPct = unrealizedPct
		p.HighestPrice = highestPrice
	}
	return nil
}

func (f *fakePositionStore) UpdatePositionTrailing(ctx context.Context, id string, activated bool, trailingPrice float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.positions[id]; ok {
		p.TrailingStopActivated = activated
		p.TrailingStopPrice = &trailingPrice
	}
	return nil
}

func (f *fakePositionStore) UpdatePositionPartialSold(ctx context.Context, id string, partialSoldPct, currentTokenBalance float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.positions[id]; ok {
		p.PartialSoldPct = partialSoldPct
		p.CurrentTokenBalance = currentTokenBalance
	}
	return nil
}

func (f *fakePositionStore) ClaimPositionForClose(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimFails {
		return false, nil
	}
	p, ok := f.positions[id]
	if !ok || p.Status != database.PositionStatusHolding {
		return false, nil
	}
	p.Status = database.PositionStatusClosing
	return true, nil
}

func (f *fakePositionStore) UpdatePositionStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.positions[id]; ok {
		p.Status = status
	}
	return nil
}

func (f *fakePositionStore) GetExecution(ctx context.Context, id string) (*database.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.executions[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (f *fakePositionStore) UpdateExecutionStatus(ctx context.Context, id, status string, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.executions[id]; ok {
		e.Status = status
		e.ErrorMessage = errorMessage
	}
	return nil
}

func (f *fakePositionStore) UpdateExecutionExitSubmitted(ctx context.Context, id, exitTxHash, exitType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.executions[id]; ok {
		e.ExitTxHash = &exitTxHash
		e.ExitType = &exitType
	}
	return nil
}

func (f *fakePositionStore) UpdateExecutionExited(ctx context.Context, id string, exitPrice, exitAmountUSDT, pnlUSDT, pnlPct float64, exitType string, executedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.executions[id]; ok {
		e.Status = database.ExecStatusExited
		e.ExitPrice = &exitPrice
		e.ExitAmountUSDT = &exitAmountUSDT
		e.ProfitLossUSDT = &pnlUSDT
		e.ProfitLossPct = &pnlPct
		e.ExitType = &exitType
		e.ExitExecutedAt = &executedAt
	}
	return nil
}

func (f *fakePositionStore) GetStrategyConfig(ctx context.Context, userID, strategyID string) (*database.StrategyConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configErr != nil {
		return nil, f.configErr
	}
	cfg, ok := f.configs[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cfg, nil
}

type fakeChainGateway struct {
	receipt chain.TxStatus
	sendErr error
}

func (f *fakeChainGateway) TokenDecimals(ctx context.Context, c *chain.Chain, token string) (int, error) {
	return 18, nil
}

func (f *fakeChainGateway) EnsureApproval(ctx context.Context, c *chain.Chain, walletID, owner, token, spender string, required *big.Int) error {
	return nil
}

func (f *fakeChainGateway) SendTransaction(ctx context.Context, c *chain.Chain, walletID string, tx chain.TxRequest) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "0xexit", nil
}

func (f *fakeChainGateway) TransactionStatus(ctx context.Context, c *chain.Chain, txHash string) (chain.TxStatus, error) {
	return f.receipt, nil
}

func (f *fakeChainGateway) WaitForReceipt(ctx context.Context, c *chain.Chain, txHash string, timeout time.Duration) (chain.TxStatus, error) {
	return f.receipt, nil
}

type fakeSellRouter struct{}

func (f *fakeSellRouter) BuildSwapTx(ctx context.Context, req aggregator.QuoteRequest) (*aggregator.SwapTx, error) {
	// 120 USDT out in 18-decimal base units
	return &aggregator.SwapTx{To: "0xrouter", Data: "0xdata", ToAmountRaw: "120000000000000000000", Router: "pancake"}, nil
}

type fakeExitProjector struct {
	mu     sync.Mutex
	exited []string
}

func (f *fakeExitProjector) OnTradeExit(ctx context.Context, executionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = append(f.exited, executionID)
	return nil
}

func seededStore() *fakePositionStore {
	store := newFakePositionStore()
	p := holdingPosition()
	store.positions[p.ID] = p
	strategyID := "alpha-default"
	store.executions[p.ExecutionID] = &database.Execution{
		ID:              p.ExecutionID,
		UserID:          p.UserID,
		SignalID:        "sig1",
		TokenSymbol:     p.TokenSymbol,
		Chain:           p.Chain,
		EntryAmountUSDT: 100,
		EntryPrice:      1.0,
		StrategyID:      &strategyID,
		Status:          database.ExecStatusHolding,
	}
	store.configs[p.UserID] = &database.StrategyConfig{
		UserID:        p.UserID,
		WalletAddress: "0xwallet",
		PrivyUserID:   "privy1",
		StrategyID:    strategyID,
		MaxSlippage:   2,
		StopLossPct:   5,
		TakeProfitPct: 10,
	}
	return store
}

func newTestExitMonitor(store *fakePositionStore, gw *fakeChainGateway) (*ExitMonitor, *fakeExitProjector) {
	m := NewExitMonitor(store, nil, &fakeSellRouter{}, gw, chain.NewRegistry("http://bsc", "http://base"), nil, time.Second, zerolog.Nop())
	projector := &fakeExitProjector{}
	m.SetProjector(projector)
	m.now = func() time.Time { return time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC) }
	return m, projector
}

func TestExecuteExitConfirmed(t *testing.T) {
	store := seededStore()
	m, projector := newTestExitMonitor(store, &fakeChainGateway{receipt: chain.TxConfirmed})

	err := m.ExecuteExit(context.Background(), "exec_user1_sig1", database.ExitTypeStopLoss, "price hit stop")
	if err != nil {
		t.Fatalf("ExecuteExit failed: %v", err)
	}

	exec := store.executions["exec_user1_sig1"]
	if exec.Status != database.ExecStatusExited {
		t.Fatalf("expected EXITED, got %s", exec.Status)
	}
	if exec.ExitAmountUSDT == nil || *exec.ExitAmountUSDT != 120 {
		t.Errorf("expected exit amount 120, got %v", exec.ExitAmountUSDT)
	}
	if exec.ProfitLossUSDT == nil || *exec.ProfitLossUSDT != 20 {
		t.Errorf("expected pnl 20, got %v", exec.ProfitLossUSDT)
	}
	if store.positions["pos_exec_user1_sig1"].Status != database.PositionStatusClosed {
		t.Error("position should be CLOSED")
	}
	if len(projector.exited) != 1 || projector.exited[0] != "exec_user1_sig1" {
		t.Errorf("projector should see the exit, got %v", projector.exited)
	}
}

func TestExecuteExitClaimLost(t *testing.T) {
	store := seededStore()
	store.positions["pos_exec_user1_sig1"].Status = database.PositionStatusClosing
	m, projector := newTestExitMonitor(store, &fakeChainGateway{receipt: chain.TxConfirmed})

	if err := m.ExecuteExit(context.Background(), "exec_user1_sig1", database.ExitTypeManual, "manual close"); err != nil {
		t.Fatalf("losing the claim should be a silent no-op, got %v", err)
	}
	if store.executions["exec_user1_sig1"].Status != database.ExecStatusHolding {
		t.Error("execution must be untouched when the claim is lost")
	}
	if len(projector.exited) != 0 {
		t.Error("projector must not fire on a lost claim")
	}
}

func TestExecuteExitAlreadyExited(t *testing.T) {
	store := seededStore()
	store.executions["exec_user1_sig1"].Status = database.ExecStatusExited
	m, _ := newTestExitMonitor(store, &fakeChainGateway{receipt: chain.TxConfirmed})

	if err := m.ExecuteExit(context.Background(), "exec_user1_sig1", database.ExitTypeManual, "manual close"); err != nil {
		t.Fatalf("already exited should be a no-op, got %v", err)
	}
	if store.positions["pos_exec_user1_sig1"].Status != database.PositionStatusHolding {
		t.Error("position must be untouched for an already exited execution")
	}
}

func TestExecuteExitRevertRetries(t *testing.T) {
	store := seededStore()
	m, _ := newTestExitMonitor(store, &fakeChainGateway{receipt: chain.TxFailed})

	err := m.ExecuteExit(context.Background(), "exec_user1_sig1", database.ExitTypeStopLoss, "price hit stop")
	if err == nil {
		t.Fatal("expected error on reverted exit")
	}

	exec := store.executions["exec_user1_sig1"]
	if exec.Status != database.ExecStatusFailed {
		t.Fatalf("expected FAILED, got %s", exec.Status)
	}
	if exec.ErrorMessage == nil || !strings.HasPrefix(*exec.ErrorMessage, "[Retry 1] ") {
		t.Errorf("expected retry marker, got %v", exec.ErrorMessage)
	}
	if store.positions["pos_exec_user1_sig1"].Status != database.PositionStatusHolding {
		t.Error("position should return to HOLDING for a retry")
	}

	// A second failed attempt increments the marker
	store.positions["pos_exec_user1_sig1"].Status = database.PositionStatusHolding
	store.executions["exec_user1_sig1"].Status = database.ExecStatusHolding
	if err := m.ExecuteExit(context.Background(), "exec_user1_sig1", database.ExitTypeStopLoss, "price hit stop"); err == nil {
		t.Fatal("expected error on second revert")
	}
	exec = store.executions["exec_user1_sig1"]
	if exec.ErrorMessage == nil || !strings.HasPrefix(*exec.ErrorMessage, "[Retry 2] ") {
		t.Errorf("expected incremented retry marker, got %v", exec.ErrorMessage)
	}
}

func TestExecuteExitConfigErrorKeepsRetryBudget(t *testing.T) {
	store := seededStore()
	m, _ := newTestExitMonitor(store, &fakeChainGateway{receipt: chain.TxConfirmed})

	store.configErr = errors.New("connection reset")
	if err := m.ExecuteExit(context.Background(), "exec_user1_sig1", database.ExitTypeStopLoss, "price hit stop"); err == nil {
		t.Fatal("expected error when the config lookup fails")
	}

	exec := store.executions["exec_user1_sig1"]
	if exec.Status != database.ExecStatusHolding {
		t.Fatalf("no sell was attempted, execution must stay HOLDING, got %s", exec.Status)
	}
	if exec.ErrorMessage != nil && strings.Contains(*exec.ErrorMessage, "[Retry") {
		t.Errorf("a pre-submission failure must not consume a retry, got %v", *exec.ErrorMessage)
	}
	if store.positions["pos_exec_user1_sig1"].Status != database.PositionStatusHolding {
		t.Fatal("close claim must be released for the next attempt")
	}

	// Once the lookup recovers the exit goes through with the full retry
	// budget intact.
	store.configErr = nil
	if err := m.ExecuteExit(context.Background(), "exec_user1_sig1", database.ExitTypeStopLoss, "price hit stop"); err != nil {
		t.Fatalf("retry after transient config error failed: %v", err)
	}
	if store.executions["exec_user1_sig1"].Status != database.ExecStatusExited {
		t.Errorf("expected EXITED after recovery, got %s", store.executions["exec_user1_sig1"].Status)
	}
}

func TestExecuteExitMissingConfigCountsRetry(t *testing.T) {
	store := seededStore()
	delete(store.configs, "user1")
	m, _ := newTestExitMonitor(store, &fakeChainGateway{receipt: chain.TxConfirmed})

	if err := m.ExecuteExit(context.Background(), "exec_user1_sig1", database.ExitTypeStopLoss, "price hit stop"); err == nil {
		t.Fatal("expected error for a missing config")
	}

	exec := store.executions["exec_user1_sig1"]
	if exec.Status != database.ExecStatusFailed {
		t.Fatalf("missing config is permanent, expected FAILED, got %s", exec.Status)
	}
	if exec.ErrorMessage == nil || !strings.HasPrefix(*exec.ErrorMessage, "[Retry 1] ") {
		t.Errorf("missing config should consume a retry so the cap can park it, got %v", exec.ErrorMessage)
	}
	if store.positions["pos_exec_user1_sig1"].Status != database.PositionStatusHolding {
		t.Error("close claim must still be released")
	}
}

func TestExecuteExitPendingLeavesClosing(t *testing.T) {
	store := seededStore()
	m, projector := newTestExitMonitor(store, &fakeChainGateway{receipt: chain.TxPending})

	if err := m.ExecuteExit(context.Background(), "exec_user1_sig1", database.ExitTypeTakeProfit, "tp hit"); err != nil {
		t.Fatalf("pending receipt should not error: %v", err)
	}

	exec := store.executions["exec_user1_sig1"]
	if exec.ExitTxHash == nil || *exec.ExitTxHash != "0xexit" {
		t.Error("exit tx hash should be recorded before the receipt resolves")
	}
	if exec.Status != database.ExecStatusHolding {
		t.Errorf("execution should stay HOLDING, got %s", exec.Status)
	}
	if store.positions["pos_exec_user1_sig1"].Status != database.PositionStatusClosing {
		t.Error("position should stay CLOSING for the repair loop")
	}
	if len(projector.exited) != 0 {
		t.Error("projector must not fire before confirmation")
	}
}

type fakeExecStore struct {
	executions []*database.Execution
	confirmed  []string
	failed     []string
}

func (f *fakeExecStore) GetExecutionsByStatus(ctx context.Context, status string) ([]*database.Execution, error) {
	return f.executions, nil
}

func (f *fakeExecStore) UpdateExecutionConfirmed(ctx context.Context, id string, entryPrice, entryAmountToken float64, executedAt time.Time) error {
	f.confirmed = append(f.confirmed, id)
	return nil
}

func (f *fakeExecStore) UpdateExecutionStatus(ctx context.Context, id, status string, errorMessage *string) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeEntryProjector struct {
	entries []string
}

func (f *fakeEntryProjector) OnTradeEntry(ctx context.Context, executionID string) error {
	f.entries = append(f.entries, executionID)
	return nil
}

func TestTxMonitorSweep(t *testing.T) {
	hash1, hash2 := "0x1", "0x2"
	store := &fakeExecStore{executions: []*database.Execution{
		{ID: "exec_a", Chain: "BSC", EntryTxHash: &hash1, EntryPrice: 1.0, EntryAmountUSDT: 100, Status: database.ExecStatusSubmitted},
		{ID: "exec_b", Chain: "BSC", EntryTxHash: &hash2, Status: database.ExecStatusSubmitted},
		{ID: "exec_c", Chain: "BSC", Status: database.ExecStatusSubmitted}, // no hash, skipped
	}}

	projector := &fakeEntryProjector{}

	m := NewTxMonitor(store, &fakeChainGateway{receipt: chain.TxConfirmed}, chain.NewRegistry("http://bsc", "http://base"), nil, zerolog.Nop())
	m.SetProjector(projector)

	confirmed, failed, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if confirmed != 2 || failed != 0 {
		t.Fatalf("expected 2 confirmed, got %d/%d", confirmed, failed)
	}
	if len(projector.entries) != 2 {
		t.Errorf("projector should see both confirmations, got %v", projector.entries)
	}

	reverted := NewTxMonitor(store, &fakeChainGateway{receipt: chain.TxFailed}, chain.NewRegistry("http://bsc", "http://base"), nil, zerolog.Nop())
	store.failed = nil
	confirmed, failed, err = reverted.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if confirmed != 0 || failed != 2 {
		t.Fatalf("expected 2 failed, got %d/%d", confirmed, failed)
	}
}
