package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/executor"
	"alpha-trade-engine/internal/marketdata"
)

type fakeSignalStore struct {
	mu      sync.Mutex
	expired []string
}

func (f *fakeSignalStore) MarkSignalExpired(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, id)
	return nil
}

func (f *fakeSignalStore) expiredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.expired)
}

type fakePrices struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (f *fakePrices) RealtimePrice(ctx context.Context, ref marketdata.TokenRef) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.err
}

func (f *fakePrices) set(price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.err = nil
}

type fakeBatchExec struct {
	mu        sync.Mutex
	calls     int
	lastPrice float64
}

func (f *fakeBatchExec) ExecuteBatchTrades(ctx context.Context, signal *database.Signal, users []*database.StrategyConfig, currentPrice float64) (*executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastPrice = currentPrice
	return &executor.Result{Executed: len(users)}, nil
}

func (f *fakeBatchExec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func watchedSignal(id string) *database.Signal {
	expires := time.Now().Add(time.Hour)
	return &database.Signal{
		ID:            id,
		TokenSymbol:   "PEPE",
		Chain:         "BSC",
		EntryPriceMin: 1.0,
		EntryPriceMax: 1.2,
		ExpiresAt:     &expires,
	}
}

func newTestWatcher(store *fakeSignalStore, prices *fakePrices, exec *fakeBatchExec) *PriceWatcher {
	w := NewPriceWatcher(store, prices, exec, nil, zerolog.Nop())
	w.interval = 2 * time.Millisecond
	return w
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPriceWatcherFiresOnce(t *testing.T) {
	store := &fakeSignalStore{}
	prices := &fakePrices{price: 1.1}
	exec := &fakeBatchExec{}
	w := newTestWatcher(store, prices, exec)
	defer w.StopAll()

	w.StartMonitoring(context.Background(), watchedSignal("sig1"), []*database.StrategyConfig{{UserID: "u1"}})

	waitFor(t, func() bool { return exec.callCount() == 1 }, "entry never fired")
	waitFor(t, func() bool { return len(w.Active()) == 0 }, "watch not removed after firing")

	// more ticks must not fire again
	time.Sleep(20 * time.Millisecond)
	if got := exec.callCount(); got != 1 {
		t.Errorf("calls = %d, want exactly 1", got)
	}
	if exec.lastPrice != 1.1 {
		t.Errorf("lastPrice = %v, want 1.1", exec.lastPrice)
	}
}

func TestPriceWatcherWaitsOutsideBand(t *testing.T) {
	store := &fakeSignalStore{}
	prices := &fakePrices{price: 2.0}
	exec := &fakeBatchExec{}
	w := newTestWatcher(store, prices, exec)
	defer w.StopAll()

	w.StartMonitoring(context.Background(), watchedSignal("sig1"), nil)

	time.Sleep(20 * time.Millisecond)
	if got := exec.callCount(); got != 0 {
		t.Fatalf("fired outside the band, calls = %d", got)
	}

	prices.set(1.05)
	waitFor(t, func() bool { return exec.callCount() == 1 }, "entry not fired after price entered the band")
}

func TestPriceWatcherExpiry(t *testing.T) {
	store := &fakeSignalStore{}
	exec := &fakeBatchExec{}
	w := newTestWatcher(store, &fakePrices{price: 1.1}, exec)
	defer w.StopAll()

	signal := watchedSignal("sig-old")
	past := time.Now().Add(-time.Minute)
	signal.ExpiresAt = &past

	w.StartMonitoring(context.Background(), signal, nil)

	waitFor(t, func() bool { return store.expiredCount() == 1 }, "expired signal not marked")
	waitFor(t, func() bool { return len(w.Active()) == 0 }, "expired watch not removed")
	if got := exec.callCount(); got != 0 {
		t.Errorf("expired signal fired the entry, calls = %d", got)
	}
	if store.expired[0] != "sig-old" {
		t.Errorf("expired = %v", store.expired)
	}
}

func TestPriceWatcherRetriesFetchErrors(t *testing.T) {
	store := &fakeSignalStore{}
	prices := &fakePrices{err: errors.New("upstream down")}
	exec := &fakeBatchExec{}
	w := newTestWatcher(store, prices, exec)
	defer w.StopAll()

	w.StartMonitoring(context.Background(), watchedSignal("sig1"), nil)

	time.Sleep(20 * time.Millisecond)
	if len(w.Active()) != 1 {
		t.Fatal("watch dropped on a transient price error")
	}

	prices.set(1.1)
	waitFor(t, func() bool { return exec.callCount() == 1 }, "entry not fired after the feed recovered")
}

func TestPriceWatcherDuplicateStart(t *testing.T) {
	w := newTestWatcher(&fakeSignalStore{}, &fakePrices{price: 5.0}, &fakeBatchExec{})
	defer w.StopAll()

	signal := watchedSignal("sig1")
	w.StartMonitoring(context.Background(), signal, nil)
	w.StartMonitoring(context.Background(), signal, nil)

	if got := len(w.Active()); got != 1 {
		t.Errorf("active watches = %d, want 1", got)
	}
}

func TestPriceWatcherStopAll(t *testing.T) {
	w := newTestWatcher(&fakeSignalStore{}, &fakePrices{price: 5.0}, &fakeBatchExec{})

	w.StartMonitoring(context.Background(), watchedSignal("sig1"), nil)
	w.StartMonitoring(context.Background(), watchedSignal("sig2"), nil)
	if got := len(w.Active()); got != 2 {
		t.Fatalf("active watches = %d, want 2", got)
	}

	w.StopAll()
	if got := len(w.Active()); got != 0 {
		t.Errorf("active watches after StopAll = %d, want 0", got)
	}
}
