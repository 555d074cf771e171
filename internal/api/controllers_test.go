package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/balance"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/engine"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/monitor"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/persistence"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/risk"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/config"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/db"
)

const testSecret = "test-secret"

type readySymbols struct{}

func (readySymbols) IsReady() bool                                  { return true }
func (readySymbols) RoundQty(_ string, qty float64) (float64, bool) { return qty, false }
func (readySymbols) RoundPrice(_ string, p float64) (float64, bool) { return p, false }

type flatATR struct{}

func (flatATR) ATRPercent(context.Context, string, string) (float64, error) { return 0.5, nil }
func (flatATR) ATRLevels(context.Context, string, string, float64, float64) (float64, float64, error) {
	return 1.5, 0.75, nil
}

type testEnv struct {
	server *httptest.Server
	bus    *events.Bus
}

func newTestAPIServer(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	bus := events.NewBus()
	ctrl, err := engine.NewController(engine.Options{
		Mode:           config.ModePaper,
		SessionID:      "api-test",
		Symbols:        []string{"BTCUSDT"},
		MarginPerTrade: 10,
	}, engine.Deps{
		Ledger:  position.NewLedger(position.DefaultCapacity, position.DirectionBoth),
		Balance: balance.NewManager(1000),
		Risk:    risk.NewEngine(flatATR{}, risk.DefaultSettings()),
		Symbols: readySymbols{},
		Sink:    persistence.NewTradeSink(database),
		Bus:     bus,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	hash, err := HashPassword("StrongPass123!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	server := NewServer(Options{
		Engine:            ctrl,
		Trades:            database,
		Bus:               bus,
		Metrics:           monitor.NewMetrics(),
		Meta:              SystemMeta{Version: "test"},
		JWTSecret:         testSecret,
		AdminUser:         "operator",
		AdminPasswordHash: hash,
	})

	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		httpServer.Close()
		_ = database.Close()
	})
	return testEnv{server: httpServer, bus: bus}
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func login(t *testing.T, client *http.Client, baseURL string) string {
	t.Helper()
	var resp struct {
		Token string `json:"token"`
	}
	status := doJSONRequest(t, client, http.MethodPost, baseURL+"/api/auth/login", "", map[string]string{
		"username": "operator",
		"password": "StrongPass123!",
	}, &resp)
	if status != http.StatusOK || resp.Token == "" {
		t.Fatalf("login failed status=%d resp=%+v", status, resp)
	}
	return resp.Token
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.server.Client()

	var resp errorResponse
	status := doJSONRequest(t, client, http.MethodPost, env.server.URL+"/api/auth/login", "", map[string]string{
		"username": "operator",
		"password": "wrong",
	}, &resp)
	if status != http.StatusUnauthorized || resp.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected 401 INVALID_CREDENTIALS, got %d %+v", status, resp)
	}
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.server.Client()

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"missing", "", "MISSING_TOKEN"},
		{"garbage", "not-a-jwt", "INVALID_TOKEN"},
	}
	forged, err := GenerateToken("operator", "other-secret", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	tests = append(tests, struct {
		name  string
		token string
		code  string
	}{"wrong secret", forged, "INVALID_TOKEN"})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			status := doJSONRequest(t, client, http.MethodPost, env.server.URL+"/api/positions", tt.token,
				map[string]any{"symbol": "BTCUSDT", "side": "LONG", "price": 100}, &resp)
			if status != http.StatusUnauthorized || resp.Code != tt.code {
				t.Fatalf("expected 401 %s, got %d %+v", tt.code, status, resp)
			}
		})
	}
}

func TestManualEntryCloseAllAndJournal(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.server.Client()
	token := login(t, client, env.server.URL)
	base := env.server.URL

	var opened position.Position
	status := doJSONRequest(t, client, http.MethodPost, base+"/api/positions", token, map[string]any{
		"symbol":      "btcusdt",
		"side":        "LONG",
		"price":       100,
		"take_profit": 104,
		"stop_loss":   98,
	}, &opened)
	if status != http.StatusCreated {
		t.Fatalf("open status=%d", status)
	}
	if opened.Symbol != "BTCUSDT" || opened.Side != position.Long || opened.Qty != 1 || opened.Signal != "manual:operator" {
		t.Fatalf("unexpected position: %+v", opened)
	}

	var dup errorResponse
	status = doJSONRequest(t, client, http.MethodPost, base+"/api/positions", token, map[string]any{
		"symbol": "BTCUSDT", "side": "SHORT", "price": 100,
	}, &dup)
	if status != http.StatusConflict || dup.Code != "DUPLICATE_SYMBOL" {
		t.Fatalf("expected 409 DUPLICATE_SYMBOL, got %d %+v", status, dup)
	}

	var bad errorResponse
	status = doJSONRequest(t, client, http.MethodPost, base+"/api/positions", token, map[string]any{
		"symbol": "ETHUSDT", "side": "UP",
	}, &bad)
	if status != http.StatusBadRequest || bad.Code != "INVALID_REQUEST" {
		t.Fatalf("expected 400 INVALID_REQUEST, got %d %+v", status, bad)
	}

	var positions []position.Position
	if status := doJSONRequest(t, client, http.MethodGet, base+"/api/positions", "", nil, &positions); status != http.StatusOK || len(positions) != 1 {
		t.Fatalf("positions status=%d len=%d", status, len(positions))
	}

	var closeResp struct {
		Closed  int                `json:"closed"`
		NetPnL  float64            `json:"net_pnl"`
		Balance engine.BalanceInfo `json:"balance"`
	}
	status = doJSONRequest(t, client, http.MethodPost, base+"/api/positions/close-all", token, map[string]any{
		"prices": map[string]float64{"BTCUSDT": 102},
	}, &closeResp)
	if status != http.StatusOK || closeResp.Closed != 1 || math.Abs(closeResp.NetPnL-2) > 1e-9 {
		t.Fatalf("close-all status=%d resp=%+v", status, closeResp)
	}
	if math.Abs(closeResp.Balance.Available-1002) > 1e-9 {
		t.Fatalf("balance after close-all=%+v", closeResp.Balance)
	}

	var trades []tradeView
	if status := doJSONRequest(t, client, http.MethodGet, base+"/api/trades?limit=10", "", nil, &trades); status != http.StatusOK {
		t.Fatalf("trades status=%d", status)
	}
	if len(trades) != 1 || !trades[0].Closed || trades[0].Profit == nil || math.Abs(*trades[0].Profit-2) > 1e-9 {
		t.Fatalf("unexpected journal: %+v", trades)
	}
	if trades[0].CloseReason != string(position.ReasonCloseAll) {
		t.Fatalf("close reason=%s", trades[0].CloseReason)
	}

	var stats struct {
		Trades int     `json:"trades"`
		Wins   int     `json:"wins"`
		NetPnL float64 `json:"net_pnl"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, base+"/api/trades/stats", "", nil, &stats); status != http.StatusOK || stats.Trades != 1 || stats.Wins != 1 {
		t.Fatalf("stats status=%d %+v", status, stats)
	}
}

func TestHaltBlocksEntries(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.server.Client()
	token := login(t, client, env.server.URL)

	if status := doJSONRequest(t, client, http.MethodPost, env.server.URL+"/api/engine/halt", token, nil, nil); status != http.StatusOK {
		t.Fatalf("halt status=%d", status)
	}
	var resp errorResponse
	status := doJSONRequest(t, client, http.MethodPost, env.server.URL+"/api/positions", token, map[string]any{
		"symbol": "BTCUSDT", "side": "BUY", "price": 100,
	}, &resp)
	if status != http.StatusServiceUnavailable || resp.Code != "HALTED" {
		t.Fatalf("expected 503 HALTED, got %d %+v", status, resp)
	}
}

func TestRuntimeConfigRoutes(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.server.Client()
	token := login(t, client, env.server.URL)
	base := env.server.URL

	var settings risk.Settings
	if status := doJSONRequest(t, client, http.MethodPut, base+"/api/config/exit-mode", token, map[string]string{"mode": "trailing"}, &settings); status != http.StatusOK {
		t.Fatalf("exit-mode status=%d", status)
	}
	if settings.ExitMode != risk.ExitTrailing {
		t.Fatalf("exit mode=%s", settings.ExitMode)
	}

	var resp errorResponse
	if status := doJSONRequest(t, client, http.MethodPut, base+"/api/config/exit-mode", token, map[string]string{"mode": "moon"}, &resp); status != http.StatusBadRequest || resp.Code != "INVALID_EXIT_MODE" {
		t.Fatalf("expected INVALID_EXIT_MODE, got %d %+v", status, resp)
	}

	if status := doJSONRequest(t, client, http.MethodPut, base+"/api/config/trailing", token, map[string]float64{
		"activation_pct": 0.8, "callback_pct": 0.3, "atr_multiplier": 1.5,
	}, &settings); status != http.StatusOK {
		t.Fatalf("trailing status=%d", status)
	}
	if settings.TrailingActivationPct != 0.8 || settings.TrailingCallbackPct != 0.3 || settings.TrailingATRMultiplier != 1.5 {
		t.Fatalf("trailing not applied: %+v", settings)
	}

	if status := doJSONRequest(t, client, http.MethodPut, base+"/api/config/leverage", token, map[string]any{"leverage": 20, "interval": "15m"}, &settings); status != http.StatusOK {
		t.Fatalf("leverage status=%d", status)
	}
	if settings.Leverage != 20 || settings.Interval != "15m" {
		t.Fatalf("leverage not applied: %+v", settings)
	}
	if status := doJSONRequest(t, client, http.MethodPut, base+"/api/config/leverage", token, map[string]any{"leverage": 500}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for leverage 500, got %d", status)
	}

	var st engine.SystemStatus
	if status := doJSONRequest(t, client, http.MethodPut, base+"/api/config/direction-filter", token, map[string]string{"filter": "long"}, &st); status != http.StatusOK {
		t.Fatalf("direction-filter status=%d", status)
	}
	if st.Filter != string(position.DirectionLongOnly) {
		t.Fatalf("filter=%s", st.Filter)
	}
	if status := doJSONRequest(t, client, http.MethodPut, base+"/api/config/direction-filter", token, map[string]string{"filter": "sideways"}, &resp); status != http.StatusBadRequest || resp.Code != "INVALID_DIRECTION_FILTER" {
		t.Fatalf("expected INVALID_DIRECTION_FILTER, got %d %+v", status, resp)
	}
	var filtered errorResponse
	status := doJSONRequest(t, client, http.MethodPost, base+"/api/positions", token, map[string]any{
		"symbol": "BTCUSDT", "side": "SHORT", "price": 100, "stop_loss": 102,
	}, &filtered)
	if status != http.StatusConflict || filtered.Code != "DIRECTION_FILTERED" {
		t.Fatalf("expected 409 DIRECTION_FILTERED, got %d %+v", status, filtered)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	env := newTestAPIServer(t)
	client := env.server.Client()

	var status struct {
		Engine engine.SystemStatus `json:"engine"`
		Meta   SystemMeta          `json:"meta"`
	}
	if code := doJSONRequest(t, client, http.MethodGet, env.server.URL+"/api/status", "", nil, &status); code != http.StatusOK {
		t.Fatalf("status code=%d", code)
	}
	if status.Engine.Mode != config.ModePaper || status.Engine.SessionID != "api-test" || status.Meta.Version != "test" {
		t.Fatalf("unexpected status: %+v", status)
	}

	resp, err := client.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body.String(), "futures_engine_open_positions") {
		t.Fatalf("metrics exposition missing engine gauges")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestWebsocketStreamsBusEvents(t *testing.T) {
	env := newTestAPIServer(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the handler subscribes after the upgrade; keep publishing until one arrives
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.bus.Publish(events.EventRiskAlert, events.RiskAlert{Symbol: "BTCUSDT", Kind: "unprotected"})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string           `json:"type"`
		Data events.RiskAlert `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != string(events.EventRiskAlert) || msg.Data.Kind != "unprotected" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
