// Package presentation keeps the read model served to the dashboard and
// the operator CLI. It is rebuilt from position state after every cycle.
package presentation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/position"
)

const (
	DefaultMaxTrades   = 200
	DefaultMaxMessages = 100
)

// PositionRow is one open position as displayed.
type PositionRow struct {
	Symbol        string    `json:"symbol"`
	Style         string    `json:"style"`
	Side          string    `json:"side"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	Leverage      float64   `json:"leverage"`
	Margin        float64   `json:"margin"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	EntryTime     time.Time `json:"entry_time"`
}

// TradeRow is one completed trade as displayed.
type TradeRow struct {
	position.ClosedTrade
	EntryValue float64 `json:"entry_value"`
	ExitValue  float64 `json:"exit_value"`
	Holding    string  `json:"holding"`
}

// Message is an agent chat line.
type Message struct {
	Time  time.Time `json:"time"`
	Level string    `json:"level"`
	Text  string    `json:"text"`
}

// View is the full read model. Positions, Trades and Messages are never nil
// so that an empty book replaces whatever the client displayed before.
// Ready stays false until the first cycle has been rebuilt; until then the
// zero summary is not a real empty portfolio.
type View struct {
	UpdatedAt      time.Time         `json:"updated_at"`
	Ready          bool              `json:"ready"`
	Cycle          int64             `json:"cycle"`
	SchedulerState string            `json:"scheduler_state"`
	Paused         bool              `json:"paused"`
	Emergency      bool              `json:"emergency"`
	CircuitState   string            `json:"circuit_state,omitempty"`
	Summary        position.Summary  `json:"summary"`
	Positions      []PositionRow     `json:"positions"`
	Trades         []TradeRow        `json:"trades"`
	Messages       []Message         `json:"messages"`
	FetchErrors    map[string]string `json:"fetch_errors"`
}

// Input is what a rebuild needs.
type Input struct {
	Cycle          int64
	SchedulerState string
	Paused         bool
	Emergency      bool
	CircuitState   string
	Positions      []position.State
	Summary        position.Summary
	Prices         map[string]float64
	FetchErrors    map[string]string
}

// Store holds the latest View. All methods are safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	view        View
	trades      []TradeRow
	messages    []Message
	noiseFloor  float64
	maxTrades   int
	maxMessages int
	listeners   []func(View)
	logger      *logging.Logger
	now         func() time.Time
}

// NewStore creates a store. Trades with |P&L| below noiseFloor are left out
// of the history.
func NewStore(noiseFloor float64, maxTrades, maxMessages int, logger *logging.Logger) *Store {
	if maxTrades <= 0 {
		maxTrades = DefaultMaxTrades
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{
		noiseFloor:  noiseFloor,
		maxTrades:   maxTrades,
		maxMessages: maxMessages,
		logger:      logger.WithComponent("presentation"),
		now:         time.Now,
	}
	s.view = View{Positions: []PositionRow{}, Trades: []TradeRow{}, Messages: []Message{}, FetchErrors: map[string]string{}}
	return s
}

// OnUpdate registers fn to receive every rebuilt view.
func (s *Store) OnUpdate(fn func(View)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Rebuild replaces the view. The positions list is always replaced.
func (s *Store) Rebuild(in Input) View {
	rows := make([]PositionRow, 0, len(in.Positions))
	for _, st := range in.Positions {
		mark := in.Prices[st.Symbol]
		if mark <= 0 {
			mark = st.EntryPrice
		}
		rows = append(rows, PositionRow{
			Symbol:        st.Symbol,
			Style:         string(st.Style),
			Side:          st.Side(),
			Size:          st.Size,
			EntryPrice:    st.EntryPrice,
			MarkPrice:     mark,
			StopLoss:      st.StopLoss,
			TakeProfit:    st.TakeProfit,
			Leverage:      st.Leverage,
			Margin:        st.Margin(),
			UnrealizedPnL: st.UnrealizedPnL(mark),
			EntryTime:     st.EntryTime,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Symbol != rows[j].Symbol {
			return rows[i].Symbol < rows[j].Symbol
		}
		return rows[i].Style < rows[j].Style
	})

	sum := in.Summary
	if sum.AvailableCash < 0 {
		s.logger.Warn("negative available cash clamped", "available_cash", sum.AvailableCash)
		sum.AvailableCash = 0
	}

	errs := make(map[string]string, len(in.FetchErrors))
	for k, v := range in.FetchErrors {
		errs[k] = v
	}

	s.mu.Lock()
	s.view = View{
		UpdatedAt:      s.now(),
		Cycle:          in.Cycle,
		SchedulerState: in.SchedulerState,
		Paused:         in.Paused,
		Emergency:      in.Emergency,
		CircuitState:   in.CircuitState,
		Summary:        sum,
		Positions:      rows,
		Ready:          true,
		Trades:         append([]TradeRow{}, s.trades...),
		Messages:       append([]Message{}, s.messages...),
		FetchErrors:    errs,
	}
	v := s.view
	listeners := append([]func(View){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
	return v
}

// View returns the latest view.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// AddTrade records a completed trade and posts a chat line for it. It
// reports false when the trade is below the noise floor.
func (s *Store) AddTrade(t position.ClosedTrade) bool {
	if math.Abs(t.PnL) < s.noiseFloor {
		return false
	}
	qty := math.Abs(t.Size)
	row := TradeRow{
		ClosedTrade: t,
		EntryValue:  t.EntryPrice * qty,
		ExitValue:   t.ExitPrice * qty,
		Holding:     FormatHolding(t.ExitTime.Sub(t.EntryTime)),
	}

	s.mu.Lock()
	// newest first
	s.trades = append([]TradeRow{row}, s.trades...)
	if len(s.trades) > s.maxTrades {
		s.trades = s.trades[:s.maxTrades]
	}
	s.mu.Unlock()

	s.AddMessage("trade", fmt.Sprintf("Closed %s %s %s at $%.2f (qty %g). Duration %s. P&L %+.2f.",
		t.Style, t.Symbol, t.Side, t.ExitPrice, qty, row.Holding, t.PnL))
	return true
}

// RecordTrade adds t to the history. Trades under the noise floor are
// dropped silently.
func (s *Store) RecordTrade(_ context.Context, t position.ClosedTrade) error {
	s.AddTrade(t)
	return nil
}

// Trades returns the trade history, newest first.
func (s *Store) Trades() []TradeRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TradeRow{}, s.trades...)
}

// AddMessage appends to the bounded message ring.
func (s *Store) AddMessage(level, text string) {
	s.mu.Lock()
	s.messages = append(s.messages, Message{Time: s.now(), Level: level, Text: text})
	if over := len(s.messages) - s.maxMessages; over > 0 {
		s.messages = append([]Message(nil), s.messages[over:]...)
	}
	s.mu.Unlock()
}

// Messages returns the message ring, oldest first.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message{}, s.messages...)
}

// FormatHolding renders a holding duration as minutes below an hour and
// hours plus minutes above.
func FormatHolding(d time.Duration) string {
	if d <= 0 {
		return "Unknown"
	}
	sec := int(d.Seconds())
	if sec < 3600 {
		return fmt.Sprintf("%dm", sec/60)
	}
	return fmt.Sprintf("%dh %dm", sec/3600, (sec%3600)/60)
}
