package monitor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/events"
	"alpha-trade-engine/internal/executor"
	"alpha-trade-engine/internal/marketdata"
	"alpha-trade-engine/internal/metrics"
)

// marketEntryTolerance fires a band-less signal when the live price is
// within this fraction of the signal's reference price.
const marketEntryTolerance = 0.01

// EntryExecutor runs the batch entry once a signal's condition is met
type EntryExecutor interface {
	ExecuteBatchTrades(ctx context.Context, signal *database.Signal, users []*database.StrategyConfig, currentPrice float64) (*executor.Result, error)
}

// SignalStore is the persistence surface of the price watcher
type SignalStore interface {
	MarkSignalExpired(ctx context.Context, id string) error
}

type signalWatch struct {
	signal *database.Signal
	users  []*database.StrategyConfig
	cancel context.CancelFunc
	fired  sync.Once
}

// PriceWatcher polls live prices for active signals and fires the batch
// entry exactly once per signal when the entry condition is met.
type PriceWatcher struct {
	store    SignalStore
	provider PriceSource
	exec     EntryExecutor
	bus      *events.Bus
	logger   zerolog.Logger
	interval time.Duration

	mu       sync.Mutex
	watches  map[string]*signalWatch
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewPriceWatcher creates a price watcher
func NewPriceWatcher(store SignalStore, provider PriceSource, exec EntryExecutor, bus *events.Bus, logger zerolog.Logger) *PriceWatcher {
	return &PriceWatcher{
		store:    store,
		provider: provider,
		exec:     exec,
		bus:      bus,
		logger:   logger.With().Str("component", "price_watcher").Logger(),
		interval: PriceInterval,
		watches:  make(map[string]*signalWatch),
		now:      time.Now,
	}
}

// StartMonitoring begins watching a signal for its entry condition.
// Watching the same signal twice is a no-op.
func (w *PriceWatcher) StartMonitoring(ctx context.Context, signal *database.Signal, users []*database.StrategyConfig) {
	w.mu.Lock()
	if _, exists := w.watches[signal.ID]; exists {
		w.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	watch := &signalWatch{signal: signal, users: users, cancel: cancel}
	w.watches[signal.ID] = watch
	w.mu.Unlock()

	metrics.ActivePriceMonitors.Inc()
	w.logger.Info().
		Str("signal_id", signal.ID).
		Str("token", signal.TokenSymbol).
		Int("users", len(users)).
		Msg("Entry watch started")

	w.wg.Add(1)
	go w.run(watchCtx, watch)
}

// Stop cancels the watch for one signal
func (w *PriceWatcher) Stop(signalID string) {
	w.mu.Lock()
	watch, ok := w.watches[signalID]
	if ok {
		delete(w.watches, signalID)
	}
	w.mu.Unlock()
	if ok {
		watch.cancel()
		metrics.ActivePriceMonitors.Dec()
	}
}

// StopAll cancels every watch and waits for the loops to drain
func (w *PriceWatcher) StopAll() {
	w.mu.Lock()
	for id, watch := range w.watches {
		watch.cancel()
		delete(w.watches, id)
		metrics.ActivePriceMonitors.Dec()
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// Active returns the signal ids currently under watch
func (w *PriceWatcher) Active() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.watches))
	for id := range w.watches {
		ids = append(ids, id)
	}
	return ids
}

func (w *PriceWatcher) run(ctx context.Context, watch *signalWatch) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := w.tick(ctx, watch); done {
				w.Stop(watch.signal.ID)
				return
			}
		}
	}
}

// tick runs one evaluation; returns true when the watch should end
func (w *PriceWatcher) tick(ctx context.Context, watch *signalWatch) bool {
	signal := watch.signal
	if signal.IsExpired(w.now()) {
		if err := w.store.MarkSignalExpired(ctx, signal.ID); err != nil {
			w.logger.Error().Err(err).Str("signal_id", signal.ID).Msg("Failed to mark signal expired")
		}
		if w.bus != nil {
			w.bus.Publish("price_watcher", events.EventSignalExpired, map[string]interface{}{
				"signal_id": signal.ID,
				"token":     signal.TokenSymbol,
			})
		}
		w.logger.Info().Str("signal_id", signal.ID).Msg("Signal expired before entry")
		return true
	}

	price, err := w.provider.RealtimePrice(ctx, marketdata.TokenRef{
		Symbol:   signal.TokenSymbol,
		Contract: signal.ContractAddress,
		Chain:    signal.Chain,
	})
	if err != nil {
		w.logger.Debug().Err(err).Str("signal_id", signal.ID).Msg("Price fetch failed, retrying next tick")
		return false
	}

	if !entryMet(signal, price) {
		return false
	}

	triggered := false
	watch.fired.Do(func() {
		triggered = true
		metrics.EntriesTriggered.Inc()
		if w.bus != nil {
			w.bus.Publish("price_watcher", events.EventEntryTriggered, map[string]interface{}{
				"signal_id": signal.ID,
				"token":     signal.TokenSymbol,
				"price":     price,
			})
		}
		w.logger.Info().
			Str("signal_id", signal.ID).
			Str("token", signal.TokenSymbol).
			Float64("price", price).
			Msg("Entry condition met")
		if _, err := w.exec.ExecuteBatchTrades(ctx, signal, watch.users, price); err != nil {
			w.logger.Error().Err(err).Str("signal_id", signal.ID).Msg("Batch execution failed")
		}
	})
	return triggered
}

// entryMet checks the signal's entry condition: inside the explicit band
// when one is set, otherwise within tolerance of the reference price.
func entryMet(signal *database.Signal, price float64) bool {
	if signal.HasEntryBand() {
		return price >= signal.EntryPriceMin && price <= signal.EntryPriceMax
	}
	if signal.CurrentPrice <= 0 {
		return false
	}
	return math.Abs(price/signal.CurrentPrice-1) <= marketEntryTolerance
}
