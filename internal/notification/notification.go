// Package notification fans engine events out to chat channels. The
// manager listens on the event bus and renders position opens, exits,
// breaker trips and failures into human-readable messages for every
// enabled provider.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"alpha-trade-engine/internal/events"
)

// Kind classifies a message so providers can style or filter it
type Kind string

const (
	KindTradeOpen  Kind = "trade_open"
	KindTradeClose Kind = "trade_close"
	KindBreaker    Kind = "breaker"
	KindError      Kind = "error"
	KindInfo       Kind = "info"
)

// Message is one rendered notification
type Message struct {
	Kind      Kind
	Title     string
	Body      string
	Timestamp time.Time
}

// Notifier is one delivery channel
type Notifier interface {
	Send(ctx context.Context, msg *Message) error
	Name() string
	Enabled() bool
}

// Manager dispatches messages to every enabled notifier
type Manager struct {
	notifiers []Notifier
	logger    zerolog.Logger
	enabled   bool
	unsubs    []func()
}

// NewManager creates a manager with no providers attached
func NewManager(logger zerolog.Logger, enabled bool) *Manager {
	return &Manager{
		logger:  logger.With().Str("component", "notification").Logger(),
		enabled: enabled,
	}
}

// AddNotifier registers a delivery channel
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers a message to every enabled provider. Provider failures
// are logged, not propagated, so a dead webhook cannot stall trading.
func (m *Manager) Send(ctx context.Context, msg *Message) {
	if !m.enabled || msg == nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	for _, n := range m.notifiers {
		if !n.Enabled() {
			continue
		}
		if err := n.Send(ctx, msg); err != nil {
			m.logger.Error().Err(err).
				Str("provider", n.Name()).
				Str("kind", string(msg.Kind)).
				Msg("Notification delivery failed")
		}
	}
}

// AttachBus subscribes the manager to the engine events worth telling a
// human about. Call Detach to remove the subscriptions.
func (m *Manager) AttachBus(bus *events.Bus) {
	if bus == nil {
		return
	}
	m.unsubs = append(m.unsubs,
		bus.Subscribe(events.EventPositionOpened, m.onPositionOpened),
		bus.Subscribe(events.EventPositionExited, m.onPositionExited),
		bus.Subscribe(events.EventBreakerTripped, m.onBreakerTripped),
		bus.Subscribe(events.EventTradeFailed, m.onTradeFailed),
		bus.Subscribe(events.EventAgentStarted, m.onAgentStarted),
	)
}

// Detach removes the bus subscriptions added by AttachBus
func (m *Manager) Detach() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

func (m *Manager) onPositionOpened(e events.Event) {
	m.Send(context.Background(), &Message{
		Kind:  KindTradeOpen,
		Title: fmt.Sprintf("📈 Position opened: %s", str(e.Data, "token")),
		Body: fmt.Sprintf("User: %s\nEntry: $%s\nExecution: %s",
			str(e.Data, "user_id"),
			num(e.Data, "entry_price"),
			str(e.Data, "execution_id")),
		Timestamp: e.Timestamp,
	})
}

func (m *Manager) onPositionExited(e events.Event) {
	pnl := floatVal(e.Data, "pnl_usdt")
	emoji := "✅"
	if pnl < 0 {
		emoji = "❌"
	}
	m.Send(context.Background(), &Message{
		Kind:  KindTradeClose,
		Title: fmt.Sprintf("%s Position closed: %s", emoji, str(e.Data, "token")),
		Body: fmt.Sprintf("User: %s\nExit: %s\nP&L: $%s (%s%%)",
			str(e.Data, "user_id"),
			str(e.Data, "exit_type"),
			num(e.Data, "pnl_usdt"),
			num(e.Data, "pnl_pct")),
		Timestamp: e.Timestamp,
	})
}

func (m *Manager) onBreakerTripped(e events.Event) {
	until := ""
	if t, ok := e.Data["paused_until"].(time.Time); ok {
		until = t.UTC().Format(time.RFC3339)
	}
	m.Send(context.Background(), &Message{
		Kind:  KindBreaker,
		Title: "🛑 Circuit breaker tripped",
		Body: fmt.Sprintf("User: %s\nToday P&L: %s%%\nTrading paused until %s",
			str(e.Data, "user_id"),
			num(e.Data, "today_pnl_pct"),
			until),
		Timestamp: e.Timestamp,
	})
}

func (m *Manager) onTradeFailed(e events.Event) {
	m.Send(context.Background(), &Message{
		Kind:  KindError,
		Title: "⚠️ Trade failed",
		Body: fmt.Sprintf("Execution: %s\nReason: %s",
			str(e.Data, "execution_id"),
			str(e.Data, "reason")),
		Timestamp: e.Timestamp,
	})
}

func (m *Manager) onAgentStarted(e events.Event) {
	m.Send(context.Background(), &Message{
		Kind:      KindInfo,
		Title:     "🟢 Trading engine online",
		Body:      fmt.Sprintf("Monitors restored: %s", num(e.Data, "monitors_restored")),
		Timestamp: e.Timestamp,
	})
}

func str(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// num renders numeric event payload values regardless of whether the
// publisher passed an int or a float
func num(data map[string]interface{}, key string) string {
	if data == nil {
		return "0"
	}
	switch v := data[key].(type) {
	case float64:
		return fmt.Sprintf("%.4f", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case string:
		return v
	default:
		return "0"
	}
}

func floatVal(data map[string]interface{}, key string) float64 {
	if data == nil {
		return 0
	}
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
