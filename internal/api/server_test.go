package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"alpha-trade-engine/internal/agent"
	"alpha-trade-engine/internal/database"
)

type fakeEngine struct {
	status     agent.StatusReport
	unpaused   []string
	toggles    map[string]bool
	stats      map[string]*database.UserStats
	savedCfg   *database.StrategyConfig
	ingested   []*database.Signal
	statsError error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		status: agent.StatusReport{
			Running:       true,
			EntryMonitors: []string{"sig1"},
			ExitMonitors:  []string{"pos1", "pos2"},
		},
		toggles: make(map[string]bool),
		stats:   make(map[string]*database.UserStats),
	}
}

func (f *fakeEngine) Status() agent.StatusReport { return f.status }

func (f *fakeEngine) IngestSignal(ctx context.Context, signal *database.Signal) error {
	if signal.TokenSymbol == "" {
		return errors.New("token symbol required")
	}
	signal.ID = "sig-generated"
	f.ingested = append(f.ingested, signal)
	return nil
}

func (f *fakeEngine) UnpauseUser(ctx context.Context, userID string) error {
	f.unpaused = append(f.unpaused, userID)
	return nil
}

func (f *fakeEngine) ToggleAutoTrade(ctx context.Context, userID string, enabled bool) error {
	f.toggles[userID] = enabled
	return nil
}

func (f *fakeEngine) UserStats(ctx context.Context, idOrWallet string) (*database.UserStats, error) {
	if f.statsError != nil {
		return nil, f.statsError
	}
	if s, ok := f.stats[idOrWallet]; ok {
		return s, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeEngine) CreateUserConfig(ctx context.Context, cfg *database.StrategyConfig) error {
	if cfg.WalletAddress == "" {
		return errors.New("wallet address required")
	}
	f.savedCfg = cfg
	return nil
}

type fakeHealth struct{ err error }

func (f *fakeHealth) HealthCheck(ctx context.Context) error { return f.err }

type fakeWeights struct {
	reloads int
	err     error
}

func (f *fakeWeights) Reload(ctx context.Context) error {
	f.reloads++
	return f.err
}

type fakeCredits struct {
	balances map[string]decimal.Decimal
}

func (f *fakeCredits) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return f.balances[userID], nil
}

func newTestServer(engine *fakeEngine, health *fakeHealth, weights *fakeWeights) *Server {
	credits := &fakeCredits{balances: map[string]decimal.Decimal{"u1": decimal.NewFromInt(4)}}
	return NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, ProductionMode: true},
		engine, health, weights, credits, nil, zerolog.Nop())
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(newFakeEngine(), &fakeHealth{}, &fakeWeights{})

	w := doRequest(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "healthy" || resp["database"] != "ok" {
		t.Errorf("unexpected body %v", resp)
	}
}

func TestHealthEndpointDegraded(t *testing.T) {
	s := newTestServer(newFakeEngine(), &fakeHealth{err: errors.New("pool exhausted")}, &fakeWeights{})

	w := doRequest(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestMonitorsEndpoint(t *testing.T) {
	s := newTestServer(newFakeEngine(), &fakeHealth{}, &fakeWeights{})

	w := doRequest(t, s, http.MethodGet, "/api/monitors", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Entry []string `json:"entry_monitors"`
		Exit  []string `json:"exit_monitors"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Entry) != 1 || len(resp.Exit) != 2 {
		t.Errorf("monitors = %+v", resp)
	}
}

func TestWeightsReload(t *testing.T) {
	weights := &fakeWeights{}
	s := newTestServer(newFakeEngine(), &fakeHealth{}, weights)

	w := doRequest(t, s, http.MethodPost, "/api/weights/reload", "")
	if w.Code != http.StatusOK || weights.reloads != 1 {
		t.Errorf("status = %d reloads = %d", w.Code, weights.reloads)
	}

	weights.err = errors.New("no active config")
	w = doRequest(t, s, http.MethodPost, "/api/weights/reload", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("failed reload status = %d, want 500", w.Code)
	}
}

func TestUnpauseEndpoint(t *testing.T) {
	engine := newFakeEngine()
	s := newTestServer(engine, &fakeHealth{}, &fakeWeights{})

	w := doRequest(t, s, http.MethodPost, "/api/users/u42/unpause", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(engine.unpaused) != 1 || engine.unpaused[0] != "u42" {
		t.Errorf("unpaused = %v", engine.unpaused)
	}
}

func TestAutoTradeEndpoint(t *testing.T) {
	engine := newFakeEngine()
	s := newTestServer(engine, &fakeHealth{}, &fakeWeights{})

	w := doRequest(t, s, http.MethodPost, "/api/users/u1/autotrade", `{"enabled":true}`)
	if w.Code != http.StatusOK || !engine.toggles["u1"] {
		t.Errorf("status = %d toggles = %v", w.Code, engine.toggles)
	}

	w = doRequest(t, s, http.MethodPost, "/api/users/u1/autotrade", `{bad`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", w.Code)
	}
}

func TestUserStatsEndpoint(t *testing.T) {
	engine := newFakeEngine()
	engine.stats["u1"] = &database.UserStats{UserID: "u1", TodayTrades: 7}
	s := newTestServer(engine, &fakeHealth{}, &fakeWeights{})

	w := doRequest(t, s, http.MethodGet, "/api/users/u1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var stats database.UserStats
	json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.TodayTrades != 7 {
		t.Errorf("stats = %+v", stats)
	}

	w = doRequest(t, s, http.MethodGet, "/api/users/nobody/stats", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing user status = %d, want 404", w.Code)
	}
}

func TestUserConfigEndpoint(t *testing.T) {
	engine := newFakeEngine()
	s := newTestServer(engine, &fakeHealth{}, &fakeWeights{})

	body := `{"wallet_address":"0xabc","trade_amount":100}`
	w := doRequest(t, s, http.MethodPut, "/api/users/u5/config", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if engine.savedCfg == nil || engine.savedCfg.UserID != "u5" {
		t.Errorf("saved config = %+v, path id must win", engine.savedCfg)
	}

	w = doRequest(t, s, http.MethodPut, "/api/users/u5/config", `{"trade_amount":100}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid config status = %d, want 400", w.Code)
	}
}

func TestSignalIntakeEndpoint(t *testing.T) {
	engine := newFakeEngine()
	s := newTestServer(engine, &fakeHealth{}, &fakeWeights{})

	body := `{"token_symbol":"PEPE","chain":"BSC","signal_type":"BUY"}`
	w := doRequest(t, s, http.MethodPost, "/api/signals", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	if len(engine.ingested) != 1 {
		t.Fatalf("ingested = %d, want 1", len(engine.ingested))
	}
	if !strings.Contains(w.Body.String(), "sig-generated") {
		t.Errorf("response should echo the assigned id: %s", w.Body.String())
	}

	w = doRequest(t, s, http.MethodPost, "/api/signals", `{"chain":"BSC"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid signal status = %d, want 400", w.Code)
	}
}

func TestUserCreditsEndpoint(t *testing.T) {
	s := newTestServer(newFakeEngine(), &fakeHealth{}, &fakeWeights{})

	w := doRequest(t, s, http.MethodGet, "/api/users/u1/credits", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"4"`) {
		t.Errorf("balance missing from body: %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(newFakeEngine(), &fakeHealth{}, &fakeWeights{})

	w := doRequest(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("metrics output should include runtime collectors")
	}
}
