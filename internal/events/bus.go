package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalReceived   EventType = "SIGNAL_RECEIVED"
	EventSignalRejected   EventType = "SIGNAL_REJECTED"
	EventSignalExpired    EventType = "SIGNAL_EXPIRED"
	EventEntryTriggered   EventType = "ENTRY_TRIGGERED"
	EventTradeSubmitted   EventType = "TRADE_SUBMITTED"
	EventTradeConfirmed   EventType = "TRADE_CONFIRMED"
	EventTradeFailed      EventType = "TRADE_FAILED"
	EventPositionOpened   EventType = "POSITION_OPENED"
	EventExitSubmitted    EventType = "EXIT_SUBMITTED"
	EventPositionExited   EventType = "POSITION_EXITED"
	EventBatchCompleted   EventType = "BATCH_COMPLETED"
	EventBreakerTripped   EventType = "CIRCUIT_BREAKER_TRIPPED"
	EventBreakerCleared   EventType = "CIRCUIT_BREAKER_CLEARED"
	EventAgentStarted     EventType = "AGENT_STARTED"
	EventAgentStopped     EventType = "AGENT_STOPPED"
	EventConfigReloaded   EventType = "CONFIG_RELOADED"
	EventError            EventType = "ERROR"
)

// eventLogSize is how many recent events the bus retains for diagnostics.
const eventLogSize = 100

// subBuffer is the per-subscription queue depth. When a slow handler falls
// this far behind, the oldest queued event for that handler is dropped.
const subBuffer = 64

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	From      string                 `json:"from"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Handler is a function that handles events
type Handler func(Event)

// subscription owns a buffered queue drained by a single worker goroutine so
// that each subscriber sees events of one type in publish order while a slow
// handler never blocks the publisher.
type subscription struct {
	id      int64
	handler Handler
	queue   chan Event
	done    chan struct{}
}

// BusStatus is a snapshot of bus internals for the status endpoint.
type BusStatus struct {
	Agents        []string `json:"agents"`
	Subscriptions int      `json:"subscriptions"`
	Published     uint64   `json:"published"`
	Dropped       uint64   `json:"dropped"`
	Queued        int      `json:"queued"`
	Retained      int      `json:"retained"`
}

// Bus manages event publishing and subscriptions
type Bus struct {
	mu      sync.RWMutex
	logger  zerolog.Logger
	agents  map[string]time.Time
	subs    map[EventType][]*subscription
	allSubs []*subscription
	nextID  int64
	closed  bool
	wg      sync.WaitGroup

	ring     [eventLogSize]Event
	ringPos  int
	ringSize int

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates a new event bus
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "event_bus").Logger(),
		agents: make(map[string]time.Time),
		subs:   make(map[EventType][]*subscription),
	}
}

// Register records an agent as a known publisher. Registration is
// informational; unregistered publishers are still delivered.
func (b *Bus) Register(agent string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.agents[agent]; !ok {
		b.agents[agent] = time.Now().UTC()
	}
}

// Subscribe registers a handler for a specific event type and returns a
// function that removes the subscription.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSubscription(handler)
	b.subs[eventType] = append(b.subs[eventType], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, s := range list {
			if s.id == sub.id {
				b.subs[eventType] = append(list[:i], list[i+1:]...)
				close(s.done)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for all events and returns a function that
// removes the subscription.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSubscription(handler)
	b.allSubs = append(b.allSubs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == sub.id {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				close(s.done)
				return
			}
		}
	}
}

// newSubscription must be called with b.mu held.
func (b *Bus) newSubscription(handler Handler) *subscription {
	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		handler: handler,
		queue:   make(chan Event, subBuffer),
		done:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.runWorker(sub)
	return sub
}

// Publish sends an event to all matching subscribers. It never blocks: each
// subscriber has its own queue, and a full queue sheds the oldest entry.
func (b *Bus) Publish(from string, eventType EventType, data map[string]interface{}) {
	event := Event{
		ID:        uuid.New().String(),
		From:      from,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.ring[b.ringPos] = event
	b.ringPos = (b.ringPos + 1) % eventLogSize
	if b.ringSize < eventLogSize {
		b.ringSize++
	}
	targets := make([]*subscription, 0, len(b.subs[eventType])+len(b.allSubs))
	targets = append(targets, b.subs[eventType]...)
	targets = append(targets, b.allSubs...)
	b.mu.Unlock()

	b.published.Add(1)

	for _, sub := range targets {
		b.enqueue(sub, event)
	}
}

// PublishError publishes an error event
func (b *Bus) PublishError(from, message string, err error) {
	data := map[string]interface{}{"message": message}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(from, EventError, data)
}

func (b *Bus) enqueue(sub *subscription, event Event) {
	select {
	case sub.queue <- event:
		return
	default:
	}

	// Queue full: drop the oldest pending event for this subscriber, then
	// retry once. The worker may have drained concurrently, so both branches
	// of each select are legitimate.
	select {
	case <-sub.queue:
		b.dropped.Add(1)
	default:
	}
	select {
	case sub.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bus) runWorker(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case event := <-sub.queue:
			b.dispatch(sub, event)
		case <-sub.done:
			return
		}
	}
}

// dispatch isolates handler panics so one failing subscriber cannot take the
// worker down.
func (b *Bus) dispatch(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Str("from", event.From).
				Msg("Event handler panicked")
		}
	}()
	sub.handler(event)
}

// Recent returns up to n retained events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.ringSize {
		n = b.ringSize
	}
	out := make([]Event, 0, n)
	start := b.ringPos - n
	if start < 0 {
		start += eventLogSize
	}
	for i := 0; i < n; i++ {
		out = append(out, b.ring[(start+i)%eventLogSize])
	}
	return out
}

// Status returns a snapshot of registered agents, subscription counts and
// delivery counters.
func (b *Bus) Status() BusStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	agents := make([]string, 0, len(b.agents))
	for name := range b.agents {
		agents = append(agents, name)
	}

	queued := 0
	count := 0
	for _, list := range b.subs {
		for _, s := range list {
			queued += len(s.queue)
			count++
		}
	}
	for _, s := range b.allSubs {
		queued += len(s.queue)
		count++
	}

	return BusStatus{
		Agents:        agents,
		Subscriptions: count,
		Published:     b.published.Load(),
		Dropped:       b.dropped.Load(),
		Queued:        queued,
		Retained:      b.ringSize,
	}
}

// Close stops all subscription workers. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, s := range list {
			close(s.done)
		}
	}
	for _, s := range b.allSubs {
		close(s.done)
	}
	b.subs = make(map[EventType][]*subscription)
	b.allSubs = nil
	b.mu.Unlock()

	b.wg.Wait()
}
