package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"futures-trading-agent/internal/events"
	"futures-trading-agent/internal/logging"
)

// Kind classifies an operator alert.
type Kind string

const (
	KindTradeOpen  Kind = "trade_open"
	KindTradeClose Kind = "trade_close"
	KindBreaker    Kind = "circuit_breaker"
	KindState      Kind = "state"
	KindError      Kind = "error"
)

// Alert is one message pushed to the operator.
type Alert struct {
	Kind    Kind
	Title   string
	Message string
	Symbol  string
	PnL     float64
	Time    time.Time
}

// Notifier delivers alerts to one channel.
type Notifier interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Manager fans alerts out to every notifier from a single worker so a slow
// channel never blocks the trading cycle. Alerts beyond the queue or the
// rate budget are dropped and logged.
type Manager struct {
	notifiers []Notifier
	queue     chan Alert
	limiter   *rate.Limiter
	logger    *logging.Logger

	mu      sync.Mutex
	dropped int64
}

// NewManager creates a manager allowing perMinute alerts (0 means 20).
func NewManager(perMinute int, logger *logging.Logger) *Manager {
	if perMinute <= 0 {
		perMinute = 20
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		queue:   make(chan Alert, 64),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:  logger.WithComponent("notification"),
	}
}

// AddNotifier adds a channel. Call before Run.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Len reports the number of configured channels.
func (m *Manager) Len() int { return len(m.notifiers) }

// Dropped reports alerts lost to a full queue or the rate limit.
func (m *Manager) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Notify queues a without blocking.
func (m *Manager) Notify(a Alert) {
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	select {
	case m.queue <- a:
	default:
		m.drop(a, "queue full")
	}
}

// Attach forwards the bus events an operator cares about.
func (m *Manager) Attach(bus *events.EventBus) {
	for _, t := range []events.EventType{
		events.EventTradeOpened,
		events.EventTradeClosed,
		events.EventCircuitBreakerUpdate,
		events.EventStateChanged,
		events.EventError,
	} {
		bus.Subscribe(t, func(e events.Event) {
			if a, ok := FromEvent(e); ok {
				m.Notify(a)
			}
		})
	}
}

// Run delivers queued alerts until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-m.queue:
			if !m.limiter.Allow() {
				m.drop(a, "rate limited")
				continue
			}
			m.deliver(ctx, a)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, a Alert) {
	for _, n := range m.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := n.Send(sendCtx, a)
		cancel()
		if err != nil {
			m.logger.WithError(err).Warn("alert delivery failed", "channel", n.Name(), "kind", string(a.Kind))
		}
	}
}

func (m *Manager) drop(a Alert, why string) {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
	m.logger.Warn("alert dropped", "reason", why, "kind", string(a.Kind), "title", a.Title)
}

// FromEvent turns a bus event into an alert. Events that are not worth an
// operator's attention return false.
func FromEvent(e events.Event) (Alert, bool) {
	str := func(k string) string { s, _ := e.Data[k].(string); return s }
	num := func(k string) float64 { f, _ := e.Data[k].(float64); return f }

	a := Alert{Time: e.Timestamp, Symbol: str("symbol")}
	switch e.Type {
	case events.EventTradeOpened:
		a.Kind = KindTradeOpen
		a.Title = fmt.Sprintf("Opened %s %s %s", str("style"), strings.ToUpper(str("side")), a.Symbol)
		a.Message = fmt.Sprintf("Entry %.4f, qty %.6f, %.0fx", num("entry_price"), num("quantity"), num("leverage"))
	case events.EventTradeClosed:
		a.Kind = KindTradeClose
		a.PnL = num("pnl")
		a.Title = fmt.Sprintf("Closed %s %s", str("style"), a.Symbol)
		a.Message = fmt.Sprintf("Entry %.4f, exit %.4f, P&L %+.2f USDT\nReason: %s",
			num("entry_price"), num("exit_price"), a.PnL, str("reason"))
	case events.EventCircuitBreakerUpdate:
		if str("action") == "" || str("state") == "" {
			return Alert{}, false
		}
		a.Kind = KindBreaker
		a.Title = "Circuit breaker " + str("state")
		a.Message = strings.TrimSpace(str("action") + ": " + str("reason"))
	case events.EventStateChanged:
		a.Kind = KindState
		a.Title = "Agent " + str("to")
		a.Message = fmt.Sprintf("State changed from %s to %s", str("from"), str("to"))
	case events.EventError:
		a.Kind = KindError
		a.Title = "Error in " + str("source")
		a.Message = strings.TrimSpace(str("message") + " " + str("error"))
	default:
		return Alert{}, false
	}
	return a, true
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	BaseURL  string // defaults to https://api.telegram.org
}

// TelegramNotifier sends alerts through the Telegram bot API
type TelegramNotifier struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramNotifier returns nil when the token or chat is missing.
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	return &TelegramNotifier{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Send(ctx context.Context, a Alert) error {
	payload := map[string]interface{}{
		"chat_id": t.cfg.ChatID,
		"text":    fmt.Sprintf("%s\n\n%s", a.Title, a.Message),
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.BaseURL, "/"), t.cfg.BotToken)
	return postJSON(ctx, t.client, url, payload, http.StatusOK)
}

// DiscordNotifier posts alerts to a Discord webhook
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordNotifier returns nil when webhookURL is empty.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	if webhookURL == "" {
		return nil
	}
	return &DiscordNotifier{webhookURL: webhookURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) Send(ctx context.Context, a Alert) error {
	color := 0x00FF00
	if a.Kind == KindError || a.Kind == KindBreaker || (a.Kind == KindTradeClose && a.PnL < 0) {
		color = 0xFF0000
	}
	embed := map[string]interface{}{
		"title":       a.Title,
		"description": a.Message,
		"color":       color,
		"timestamp":   a.Time.Format(time.RFC3339),
	}
	if a.Symbol != "" {
		embed["fields"] = []map[string]interface{}{
			{"name": "Symbol", "value": a.Symbol, "inline": true},
		}
	}
	payload := map[string]interface{}{"embeds": []map[string]interface{}{embed}}
	return postJSON(ctx, d.client, d.webhookURL, payload, http.StatusOK, http.StatusNoContent)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, okCodes ...int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	for _, c := range okCodes {
		if resp.StatusCode == c {
			return nil
		}
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
