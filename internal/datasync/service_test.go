package datasync

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/chain"
	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/marketdata"
)

type fakeStore struct {
	executions map[string]*database.Execution
	positions  map[string]*database.Position
	configs    map[string]*database.StrategyConfig
	signals    map[string]*database.Signal
	history    map[string]*database.HistoryRecord

	statsRebuilt []string
	missing      []*database.Execution
	stuck        []*database.Execution
	failedExits  []*database.Execution
	orphans      []*database.Position
	recoverable  []*database.Execution
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		executions: make(map[string]*database.Execution),
		positions:  make(map[string]*database.Position),
		configs:    make(map[string]*database.StrategyConfig),
		signals:    make(map[string]*database.Signal),
		history:    make(map[string]*database.HistoryRecord),
	}
}

func (f *fakeStore) GetExecution(ctx context.Context, id string) (*database.Execution, error) {
	e, ok := f.executions[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (f *fakeStore) UpdateExecutionStatus(ctx context.Context, id, status string, errorMessage *string) error {
	if e, ok := f.executions[id]; ok {
		e.Status = status
		e.ErrorMessage = errorMessage
	}
	return nil
}

func (f *fakeStore) GetSignal(ctx context.Context, id string) (*database.Signal, error) {
	s, ok := f.signals[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) GetStrategyConfig(ctx context.Context, userID, strategyID string) (*database.StrategyConfig, error) {
	cfg, ok := f.configs[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cfg, nil
}

func (f *fakeStore) UpsertPosition(ctx context.Context, position *database.Position) error {
	copied := *position
	f.positions[position.ID] = &copied
	return nil
}

func (f *fakeStore) GetPosition(ctx context.Context, id string) (*database.Position, error) {
	p, ok := f.positions[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeStore) GetPositionByExecution(ctx context.Context, executionID string) (*database.Position, error) {
	return f.GetPosition(ctx, database.PositionID(executionID))
}

func (f *fakeStore) UpdatePositionStatus(ctx context.Context, id, status string) error {
	if p, ok := f.positions[id]; ok {
		p.Status = status
	}
	return nil
}

func (f *fakeStore) UpdatePositionPrice(ctx context.Context, id string, currentPrice, unrealizedUSDT, unrealizedPct, highestPrice float64) error {
	if p, ok := f.positions[id]; ok {
		p.CurrentPrice = currentPrice
		p.UnrealizedPnLUSDT = unrealizedUSDT
		p.UnrealizedPnLPct = unrealizedPct
		p.HighestPrice = highestPrice
	}
	return nil
}

func (f *fakeStore) DeletePosition(ctx context.Context, id string) error {
	delete(f.positions, id)
	return nil
}

func (f *fakeStore) GetHoldingPositions(ctx context.Context) ([]*database.Position, error) {
	var out []*database.Position
	for _, p := range f.positions {
		if p.Status == database.PositionStatusHolding {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertHistory(ctx context.Context, record *database.HistoryRecord) error {
	f.history[record.ExecutionID] = record
	return nil
}

func (f *fakeStore) GetHistoryByExecution(ctx context.Context, executionID string) (*database.HistoryRecord, error) {
	h, ok := f.history[executionID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return h, nil
}

func (f *fakeStore) RebuildUserStats(ctx context.Context, userID string, dayStart, weekStart time.Time) error {
	f.statsRebuilt = append(f.statsRebuilt, userID)
	return nil
}

func (f *fakeStore) GetRecoverableExecutions(ctx context.Context, since time.Time) ([]*database.Execution, error) {
	return f.recoverable, nil
}

func (f *fakeStore) GetExecutionsMissingPosition(ctx context.Context, since time.Time) ([]*database.Execution, error) {
	return f.missing, nil
}

func (f *fakeStore) GetStuckExits(ctx context.Context) ([]*database.Execution, error) {
	return f.stuck, nil
}

func (f *fakeStore) GetFailedExitExecutions(ctx context.Context) ([]*database.Execution, error) {
	return f.failedExits, nil
}

func (f *fakeStore) GetOrphanPositions(ctx context.Context) ([]*database.Position, error) {
	return f.orphans, nil
}

type fakeChainReader struct {
	balance *big.Int
	status  chain.TxStatus
}

func (f *fakeChainReader) TokenBalance(ctx context.Context, c *chain.Chain, wallet, token string) (*big.Int, error) {
	if f.balance == nil {
		return big.NewInt(0), nil
	}
	return f.balance, nil
}

func (f *fakeChainReader) TokenDecimals(ctx context.Context, c *chain.Chain, token string) (int, error) {
	return 18, nil
}

func (f *fakeChainReader) TransactionStatus(ctx context.Context, c *chain.Chain, txHash string) (chain.TxStatus, error) {
	return f.status, nil
}

type fakeExitHandler struct {
	executed  []string
	finalized []string
	execErr   error
}

func (f *fakeExitHandler) ExecuteExit(ctx context.Context, executionID, exitType, reason string) error {
	if f.execErr != nil {
		return f.execErr
	}
	f.executed = append(f.executed, executionID)
	return nil
}

func (f *fakeExitHandler) FinalizeExit(ctx context.Context, exec *database.Execution, p *database.Position, toAmountRaw, exitType string, c *chain.Chain) error {
	f.finalized = append(f.finalized, exec.ID)
	return nil
}

type fakeWatcher struct {
	started []string
}

func (f *fakeWatcher) StartMonitoring(ctx context.Context, position *database.Position) {
	f.started = append(f.started, position.ID)
}

type fakeBatcher struct {
	prices map[string]float64
}

func (f *fakeBatcher) BatchRealtimePrices(ctx context.Context, refs []marketdata.TokenRef) (map[string]float64, error) {
	return f.prices, nil
}

func confirmedExecution() *database.Execution {
	executedAt := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	strategyID := "alpha-default"
	return &database.Execution{
		ID:              "exec_user1_sig1",
		UserID:          "user1",
		SignalID:        "sig1",
		TokenSymbol:     "PEPE",
		Chain:           "BSC",
		ContractAddress: "0xtoken",
		EntryAmountUSDT: 100,
		EntryPrice:      1.0,
		StrategyID:      &strategyID,
		Status:          database.ExecStatusConfirmed,
		EntryExecutedAt: &executedAt,
	}
}

func newTestService(store *fakeStore, chains *fakeChainReader, exits *fakeExitHandler, watcher *fakeWatcher) *Service {
	s := NewService(store, chains, chain.NewRegistry("http://bsc", "http://base"), &fakeBatcher{}, exits, watcher, nil, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	s.wait = func(ctx context.Context, d time.Duration) error { return nil }
	return s
}

func TestOnTradeEntryOpensPosition(t *testing.T) {
	store := newFakeStore()
	store.executions["exec_user1_sig1"] = confirmedExecution()
	store.configs["user1"] = &database.StrategyConfig{
		UserID:        "user1",
		WalletAddress: "0xwallet",
		StrategyID:    "alpha-default",
		StopLossPct:   10,
		TakeProfitPct: 20,
		StopLossMode:  database.StopLossModeFixed,
	}
	watcher := &fakeWatcher{}
	s := newTestService(store, &fakeChainReader{}, &fakeExitHandler{}, watcher)

	if err := s.OnTradeEntry(context.Background(), "exec_user1_sig1"); err != nil {
		t.Fatalf("OnTradeEntry failed: %v", err)
	}

	p := store.positions["pos_exec_user1_sig1"]
	if p == nil {
		t.Fatal("position not created")
	}
	if p.Status != database.PositionStatusHolding {
		t.Errorf("expected HOLDING, got %s", p.Status)
	}
	if p.StopLossPrice != 0.90 || p.TakeProfitPrice != 1.20 {
		t.Errorf("stops = %.4f/%.4f, want 0.90/1.20", p.StopLossPrice, p.TakeProfitPrice)
	}
	if p.EntryAmountToken != 100 || p.CurrentTokenBalance != 100 {
		t.Errorf("token amounts = %.2f/%.2f, want 100/100", p.EntryAmountToken, p.CurrentTokenBalance)
	}
	if store.executions["exec_user1_sig1"].Status != database.ExecStatusHolding {
		t.Error("execution should move to HOLDING")
	}
	if len(watcher.started) != 1 {
		t.Error("exit watch should start")
	}

	// Second call restarts the watch without touching the row
	if err := s.OnTradeEntry(context.Background(), "exec_user1_sig1"); err != nil {
		t.Fatalf("repeat OnTradeEntry failed: %v", err)
	}
	if len(watcher.started) != 2 {
		t.Error("repeat call should restart the watch")
	}
}

func TestOnTradeEntryUsesWalletBalance(t *testing.T) {
	store := newFakeStore()
	store.executions["exec_user1_sig1"] = confirmedExecution()
	store.configs["user1"] = &database.StrategyConfig{
		UserID:        "user1",
		WalletAddress: "0xwallet",
		StopLossPct:   10,
		TakeProfitPct: 20,
	}
	// 95 tokens actually landed in the wallet
	balance, _ := new(big.Int).SetString("95000000000000000000", 10)
	s := newTestService(store, &fakeChainReader{balance: balance}, &fakeExitHandler{}, &fakeWatcher{})

	if err := s.OnTradeEntry(context.Background(), "exec_user1_sig1"); err != nil {
		t.Fatalf("OnTradeEntry failed: %v", err)
	}

	p := store.positions["pos_exec_user1_sig1"]
	if p.CurrentTokenBalance != 95 {
		t.Errorf("balance should come from chain, got %.2f", p.CurrentTokenBalance)
	}
	// Effective entry price derives from the actual fill
	want := 100.0 / 95.0
	if p.EntryPrice < want-1e-9 || p.EntryPrice > want+1e-9 {
		t.Errorf("entry price = %.6f, want %.6f", p.EntryPrice, want)
	}
}

func TestOnTradeEntryWrongStatus(t *testing.T) {
	store := newFakeStore()
	exec := confirmedExecution()
	exec.Status = database.ExecStatusPending
	store.executions[exec.ID] = exec
	s := newTestService(store, &fakeChainReader{}, &fakeExitHandler{}, &fakeWatcher{})

	if err := s.OnTradeEntry(context.Background(), exec.ID); err == nil {
		t.Fatal("PENDING execution must not open a position")
	}
}

func TestOnTradeExitMigratesToHistory(t *testing.T) {
	store := newFakeStore()
	exec := confirmedExecution()
	exec.Status = database.ExecStatusExited
	exitPrice, exitAmount, pnl, pnlPct := 1.2, 120.0, 20.0, 20.0
	exitType := database.ExitTypeTakeProfit
	exitAt := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)
	exec.ExitPrice = &exitPrice
	exec.ExitAmountUSDT = &exitAmount
	exec.ProfitLossUSDT = &pnl
	exec.ProfitLossPct = &pnlPct
	exec.ExitType = &exitType
	exec.ExitExecutedAt = &exitAt
	store.executions[exec.ID] = exec
	store.positions["pos_exec_user1_sig1"] = &database.Position{ID: "pos_exec_user1_sig1", ExecutionID: exec.ID, Status: database.PositionStatusClosed}

	s := newTestService(store, &fakeChainReader{}, &fakeExitHandler{}, &fakeWatcher{})

	if err := s.OnTradeExit(context.Background(), exec.ID); err != nil {
		t.Fatalf("OnTradeExit failed: %v", err)
	}

	record := store.history[exec.ID]
	if record == nil {
		t.Fatal("history record not written")
	}
	if record.ProfitLossUSDT != 20 || record.ExitType != database.ExitTypeTakeProfit {
		t.Errorf("unexpected history: %+v", record)
	}
	if record.HoldingDurationSeconds != 4*3600 {
		t.Errorf("holding duration = %d, want %d", record.HoldingDurationSeconds, 4*3600)
	}
	if _, ok := store.positions["pos_exec_user1_sig1"]; ok {
		t.Error("position should be removed after migration")
	}

	// Repeat settles to a no-op
	if err := s.OnTradeExit(context.Background(), exec.ID); err != nil {
		t.Fatalf("repeat OnTradeExit failed: %v", err)
	}
	if len(store.history) != 1 {
		t.Error("history must not duplicate")
	}
}

func TestSyncExistingPositions(t *testing.T) {
	store := newFakeStore()
	exec := confirmedExecution()
	exec.Status = database.ExecStatusHolding
	store.executions[exec.ID] = exec
	store.recoverable = []*database.Execution{exec}
	store.positions["pos_exec_user1_sig1"] = &database.Position{
		ID: "pos_exec_user1_sig1", ExecutionID: exec.ID, UserID: "user1",
		Status: database.PositionStatusHolding,
	}
	watcher := &fakeWatcher{}
	s := newTestService(store, &fakeChainReader{}, &fakeExitHandler{}, watcher)

	restored, err := s.SyncExistingPositions(context.Background())
	if err != nil {
		t.Fatalf("SyncExistingPositions failed: %v", err)
	}
	if restored != 1 || len(watcher.started) != 1 {
		t.Fatalf("expected 1 restored watch, got %d/%d", restored, len(watcher.started))
	}
}

func TestRepairStuckExitConfirmed(t *testing.T) {
	store := newFakeStore()
	exec := confirmedExecution()
	exec.Status = database.ExecStatusHolding
	hash := "0xexit"
	exitType := database.ExitTypeStopLoss
	exec.ExitTxHash = &hash
	exec.ExitType = &exitType
	store.executions[exec.ID] = exec
	store.stuck = []*database.Execution{exec}
	store.positions["pos_exec_user1_sig1"] = &database.Position{
		ID: "pos_exec_user1_sig1", ExecutionID: exec.ID, Status: database.PositionStatusClosing,
	}
	exits := &fakeExitHandler{}
	s := newTestService(store, &fakeChainReader{status: chain.TxConfirmed}, exits, &fakeWatcher{})

	report, err := s.CheckAndRepairDataConsistency(context.Background())
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if report.StuckExitsResolved != 1 {
		t.Fatalf("expected 1 stuck exit resolved, got %+v", report)
	}
	if len(exits.finalized) != 1 || exits.finalized[0] != exec.ID {
		t.Errorf("expected finalize for %s, got %v", exec.ID, exits.finalized)
	}
}

func TestRepairStuckExitReverted(t *testing.T) {
	store := newFakeStore()
	exec := confirmedExecution()
	exec.Status = database.ExecStatusHolding
	hash := "0xexit"
	exec.ExitTxHash = &hash
	store.executions[exec.ID] = exec
	store.stuck = []*database.Execution{exec}
	store.positions["pos_exec_user1_sig1"] = &database.Position{
		ID: "pos_exec_user1_sig1", ExecutionID: exec.ID, Status: database.PositionStatusClosing,
	}
	s := newTestService(store, &fakeChainReader{status: chain.TxFailed}, &fakeExitHandler{}, &fakeWatcher{})

	if _, err := s.CheckAndRepairDataConsistency(context.Background()); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	got := store.executions[exec.ID]
	if got.Status != database.ExecStatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.ErrorMessage == nil || !strings.HasPrefix(*got.ErrorMessage, "[Retry 1] ") {
		t.Errorf("expected retry marker, got %v", got.ErrorMessage)
	}
	if store.positions["pos_exec_user1_sig1"].Status != database.PositionStatusHolding {
		t.Error("position should return to HOLDING")
	}
}

func TestRetryFailedExitsHonorsCap(t *testing.T) {
	store := newFakeStore()
	retryable := confirmedExecution()
	retryable.ID = "exec_retry"
	retryable.Status = database.ExecStatusFailed
	msg1 := "[Retry 1] sell submission failed"
	retryable.ErrorMessage = &msg1

	capped := confirmedExecution()
	capped.ID = "exec_capped"
	capped.Status = database.ExecStatusFailed
	msg3 := "[Retry 3] sell submission failed"
	capped.ErrorMessage = &msg3

	store.executions[retryable.ID] = retryable
	store.executions[capped.ID] = capped
	store.failedExits = []*database.Execution{retryable, capped}

	exits := &fakeExitHandler{}
	s := newTestService(store, &fakeChainReader{}, exits, &fakeWatcher{})

	report, err := s.CheckAndRepairDataConsistency(context.Background())
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if report.ExitRetries != 1 {
		t.Fatalf("expected 1 retry, got %+v", report)
	}
	if len(exits.executed) != 1 || exits.executed[0] != "exec_retry" {
		t.Errorf("only the uncapped execution should retry, got %v", exits.executed)
	}
}

func TestRefreshHeldTokenPrices(t *testing.T) {
	store := newFakeStore()
	store.positions["pos_a"] = &database.Position{
		ID: "pos_a", TokenSymbol: "PEPE", Chain: "BSC",
		EntryPrice: 1.0, CurrentTokenBalance: 100, HighestPrice: 1.1,
		Status: database.PositionStatusHolding,
	}
	s := newTestService(store, &fakeChainReader{}, &fakeExitHandler{}, &fakeWatcher{})
	s.provider = &fakeBatcher{prices: map[string]float64{"PEPE": 1.25}}

	if err := s.RefreshHeldTokenPrices(context.Background()); err != nil {
		t.Fatalf("RefreshHeldTokenPrices failed: %v", err)
	}
	p := store.positions["pos_a"]
	if p.CurrentPrice != 1.25 || p.HighestPrice != 1.25 {
		t.Errorf("price refresh wrong: current=%.2f highest=%.2f", p.CurrentPrice, p.HighestPrice)
	}
	if p.UnrealizedPnLUSDT != 25 {
		t.Errorf("unrealized pnl = %.2f, want 25", p.UnrealizedPnLUSDT)
	}
}
