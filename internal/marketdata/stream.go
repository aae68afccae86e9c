package marketdata

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TickerStream keeps the price cache warm for held tokens through the
// miniTicker websocket feed. Monitors still poll on their own tick; the
// stream just turns most of those polls into cache hits.
type TickerStream struct {
	wsURL  string
	cache  *PriceCache
	logger zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	symbols    map[string]bool
	isRunning  bool
	reconnects int
	nextReqID  int
}

// NewTickerStream creates a stream bound to a price cache
func NewTickerStream(wsURL string, cache *PriceCache, logger zerolog.Logger) *TickerStream {
	return &TickerStream{
		wsURL:   wsURL,
		cache:   cache,
		logger:  logger.With().Str("component", "ticker_stream").Logger(),
		symbols: make(map[string]bool),
	}
}

// Start launches the connection loop
func (s *TickerStream) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	go s.connect()
}

// Stop closes the stream
func (s *TickerStream) Stop() {
	s.mu.Lock()
	s.isRunning = false
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Watch subscribes a symbol's miniTicker
func (s *TickerStream) Watch(symbol string) {
	symbol = strings.ToUpper(symbol)

	s.mu.Lock()
	if s.symbols[symbol] {
		s.mu.Unlock()
		return
	}
	s.symbols[symbol] = true
	conn := s.conn
	s.nextReqID++
	reqID := s.nextReqID
	s.mu.Unlock()

	if conn != nil {
		s.sendSubscription(conn, "SUBSCRIBE", symbol, reqID)
	}
}

// Unwatch drops a symbol's subscription
func (s *TickerStream) Unwatch(symbol string) {
	symbol = strings.ToUpper(symbol)

	s.mu.Lock()
	if !s.symbols[symbol] {
		s.mu.Unlock()
		return
	}
	delete(s.symbols, symbol)
	conn := s.conn
	s.nextReqID++
	reqID := s.nextReqID
	s.mu.Unlock()

	if conn != nil {
		s.sendSubscription(conn, "UNSUBSCRIBE", symbol, reqID)
	}
}

// WatchedSymbols returns the current subscription set
func (s *TickerStream) WatchedSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		symbols = append(symbols, sym)
	}
	return symbols
}

type wsRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func (s *TickerStream) sendSubscription(conn *websocket.Conn, method, symbol string, id int) {
	req := wsRequest{
		Method: method,
		Params: []string{strings.ToLower(symbol) + "@miniTicker"},
		ID:     id,
	}
	if err := conn.WriteJSON(req); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Str("method", method).Msg("Stream subscription write failed")
	}
}

// connect establishes the WebSocket connection and re-subscribes the
// watch set after every reconnect
func (s *TickerStream) connect() {
	for {
		s.mu.RLock()
		if !s.isRunning {
			s.mu.RUnlock()
			return
		}
		s.mu.RUnlock()

		conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Stream connection failed, retrying in 5s")
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			time.Sleep(5 * time.Second)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.reconnects = 0
		watched := make([]string, 0, len(s.symbols))
		for sym := range s.symbols {
			watched = append(watched, sym)
		}
		s.mu.Unlock()

		s.logger.Info().Int("symbols", len(watched)).Msg("Ticker stream connected")

		for i, sym := range watched {
			s.sendSubscription(conn, "SUBSCRIBE", sym, i+1)
		}

		s.readLoop(conn)

		s.mu.RLock()
		isRunning := s.isRunning
		s.mu.RUnlock()

		if !isRunning {
			return
		}

		s.logger.Warn().Msg("Ticker stream lost, reconnecting in 3s")
		time.Sleep(3 * time.Second)
	}
}

func (s *TickerStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("Ticker stream closed normally")
			} else {
				s.logger.Warn().Err(err).Msg("Ticker stream read error")
			}
			return
		}

		s.handleMessage(message)
	}
}

type miniTickerEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

func (s *TickerStream) handleMessage(message []byte) {
	var event miniTickerEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return
	}
	if event.EventType != "24hrMiniTicker" || event.Symbol == "" {
		return
	}

	price := parseFloat(event.Close)
	if price <= 0 || s.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cache.SetPrice(ctx, event.Symbol, price); err == nil {
		s.logger.Trace().Str("symbol", event.Symbol).Float64("price", price).Msg("Stream price cached")
	}
}

// Stats reports stream state for the ops endpoint
type StreamStats struct {
	Connected  bool `json:"connected"`
	Symbols    int  `json:"symbols"`
	Reconnects int  `json:"reconnects"`
}

// Stats returns current stream statistics
func (s *TickerStream) Stats() StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StreamStats{
		Connected:  s.conn != nil && s.isRunning,
		Symbols:    len(s.symbols),
		Reconnects: s.reconnects,
	}
}
