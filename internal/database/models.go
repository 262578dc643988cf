package database

import (
	"time"

	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/scheduler"
	"futures-trading-agent/internal/strategy"
)

// Trade is the stored form of a closed round trip.
type Trade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Style      string    `json:"style"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	Leverage   float64   `json:"leverage"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// TradeFromClosed converts a settled trade for storage.
func TradeFromClosed(t position.ClosedTrade) Trade {
	return Trade{
		ID:         t.ID,
		Symbol:     t.Symbol,
		Style:      string(t.Style),
		Side:       t.Side,
		Quantity:   t.Size,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
		Leverage:   t.Leverage,
		PnL:        t.PnL,
		PnLPercent: t.PnLPct,
		Reason:     t.Reason,
	}
}

// Closed converts back to the position package's form.
func (t Trade) Closed() position.ClosedTrade {
	return position.ClosedTrade{
		ID:         t.ID,
		Symbol:     t.Symbol,
		Style:      strategy.Style(t.Style),
		Side:       t.Side,
		Size:       t.Quantity,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
		Leverage:   t.Leverage,
		PnL:        t.PnL,
		PnLPct:     t.PnLPercent,
		Reason:     t.Reason,
	}
}

// CycleLog is one scheduler cycle.
type CycleLog struct {
	Cycle      int64     `json:"cycle"`
	StartedAt  time.Time `json:"started_at"`
	State      string    `json:"state"`
	DurationMs int64     `json:"duration_ms"`
	Symbols    int       `json:"symbols"`
	Trades     int       `json:"trades"`
	Errors     int       `json:"errors"`
	Overrun    bool      `json:"overrun"`
}

// CycleLogFromReport converts a scheduler report for storage.
func CycleLogFromReport(r scheduler.CycleReport) CycleLog {
	return CycleLog{
		Cycle:      r.Cycle,
		StartedAt:  r.Started,
		State:      string(r.State),
		DurationMs: r.Duration.Milliseconds(),
		Symbols:    r.Symbols,
		Trades:     r.Trades,
		Errors:     r.Errors,
		Overrun:    r.Overrun,
	}
}

// TradeStats aggregates stored trades.
type TradeStats struct {
	Total    int     `json:"total"`
	Winners  int     `json:"winners"`
	Losers   int     `json:"losers"`
	TotalPnL float64 `json:"total_pnl"`
	BestPnL  float64 `json:"best_pnl"`
	WorstPnL float64 `json:"worst_pnl"`
}

// WinRate returns winners over total as a percentage.
func (s TradeStats) WinRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Winners) / float64(s.Total) * 100
}
