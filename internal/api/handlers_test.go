package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"futures-trading-agent/internal/auth"
	"futures-trading-agent/internal/control"
	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/presentation"
	"futures-trading-agent/internal/strategy"
)

func newTestServer(t *testing.T, authSvc *auth.Service) (*Server, *control.MemoryFlags, *presentation.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	flags := control.NewMemoryFlags()
	view := presentation.NewStore(0, 0, 0, nil)
	s := NewServer(ServerConfig{ProductionMode: true}, Deps{
		View:  view,
		Flags: flags,
		Auth:  authSvc,
	})
	t.Cleanup(s.hub.Stop)
	return s, flags, view
}

func do(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	w := do(s, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	s.deps.Health = map[string]HealthChecker{
		"database": func(context.Context) error { return errors.New("connection refused") },
	}
	w = do(s, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded health: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("health body missing check error: %s", w.Body.String())
	}
}

func TestControlWithoutAuth(t *testing.T) {
	s, flags, view := newTestServer(t, nil)
	ctx := context.Background()

	if w := do(s, http.MethodPost, "/api/control/pause", "", ""); w.Code != http.StatusOK {
		t.Fatalf("pause: %d %s", w.Code, w.Body.String())
	}
	if st, _ := flags.Read(ctx); !st.Paused {
		t.Error("pause flag not set")
	}
	if w := do(s, http.MethodPost, "/api/control/resume", "", ""); w.Code != http.StatusOK {
		t.Fatalf("resume: %d", w.Code)
	}
	if st, _ := flags.Read(ctx); st.Paused {
		t.Error("pause flag not cleared")
	}
	if w := do(s, http.MethodPost, "/api/control/emergency-close", "", ""); w.Code != http.StatusOK {
		t.Fatalf("emergency: %d", w.Code)
	}
	if st, _ := flags.Read(ctx); !st.Emergency {
		t.Error("emergency flag not set")
	}
	if n := len(view.Messages()); n != 3 {
		t.Errorf("control messages = %d, want 3", n)
	}
}

func TestControlRequiresOperatorToken(t *testing.T) {
	svc := auth.NewService(auth.Config{JWTSecret: "k", OperatorUser: "ops", OperatorPassword: "pw", AccessTokenDuration: time.Hour}, nil)
	s, flags, _ := newTestServer(t, svc)

	if w := do(s, http.MethodPost, "/api/control/pause", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated pause: got %d", w.Code)
	}

	w := do(s, http.MethodPost, "/api/auth/login", "", `{"username":"ops","password":"pw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var tok auth.TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &tok); err != nil {
		t.Fatal(err)
	}

	if w := do(s, http.MethodPost, "/api/control/pause", tok.AccessToken, ""); w.Code != http.StatusOK {
		t.Errorf("authenticated pause: got %d", w.Code)
	}
	if st, _ := flags.Read(context.Background()); !st.Paused {
		t.Error("pause flag not set")
	}
}

func TestTradesFilter(t *testing.T) {
	s, _, view := newTestServer(t, nil)
	now := time.Now()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		view.AddTrade(position.ClosedTrade{
			ID: sym + now.String(), Symbol: sym, Style: strategy.StyleSwing, Side: "LONG",
			Size: 1, EntryPrice: 100, ExitPrice: 110, EntryTime: now.Add(-time.Hour), ExitTime: now, PnL: 10,
		})
	}

	w := do(s, http.MethodGet, "/api/trades?symbol=btcusdt", "", "")
	var resp struct {
		Data []presentation.TradeRow `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 2 {
		t.Errorf("filtered trades = %d, want 2", len(resp.Data))
	}

	if w := do(s, http.MethodGet, "/api/trades?source=db", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("db source without history: got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	w := do(s, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "agent_equity") {
		t.Error("agent metrics not exported")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst rejected")
	}
	if rl.Allow("a") {
		t.Error("third request allowed")
	}
	if !rl.Allow("b") {
		t.Error("keys not independent")
	}
}

func TestParseOrigins(t *testing.T) {
	got := ParseOrigins(" http://a.test , ,http://b.test")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Errorf("ParseOrigins = %v", got)
	}
}
