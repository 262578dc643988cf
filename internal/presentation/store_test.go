package presentation

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/strategy"
)

func TestRebuildReplacesPositions(t *testing.T) {
	s := NewStore(0, 0, 0, nil)

	v := s.Rebuild(Input{
		Positions: []position.State{
			{Symbol: "ETHUSDT", Style: strategy.StyleScalp, Size: -1, EntryPrice: 2000, Leverage: 2},
			{Symbol: "BTCUSDT", Style: strategy.StyleSwing, Size: 0.1, EntryPrice: 100, Leverage: 1},
		},
		Prices: map[string]float64{"BTCUSDT": 110},
	})
	if len(v.Positions) != 2 {
		t.Fatalf("positions = %d, want 2", len(v.Positions))
	}
	if v.Positions[0].Symbol != "BTCUSDT" {
		t.Errorf("rows not sorted: %s first", v.Positions[0].Symbol)
	}
	if got := v.Positions[0].UnrealizedPnL; got < 0.99 || got > 1.01 {
		t.Errorf("unrealized = %v, want 1", got)
	}
	if got := v.Positions[1].MarkPrice; got != 2000 {
		t.Errorf("missing price should fall back to entry, got %v", got)
	}

	v = s.Rebuild(Input{})
	if v.Positions == nil || len(v.Positions) != 0 {
		t.Errorf("empty book must be an empty list, got %#v", v.Positions)
	}
}

func TestRebuildClampsCash(t *testing.T) {
	s := NewStore(0, 0, 0, nil)
	v := s.Rebuild(Input{Summary: position.Summary{Equity: 100, AvailableCash: -5}})
	if v.Summary.AvailableCash != 0 {
		t.Errorf("available cash = %v, want 0", v.Summary.AvailableCash)
	}
}

func TestAddTradeNoiseFloor(t *testing.T) {
	s := NewStore(0.05, 0, 0, nil)
	entry := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		pnl  float64
		want bool
	}{
		{"below floor", 0.01, false},
		{"negative below floor", -0.04, false},
		{"at floor", 0.05, true},
		{"loss above floor", -3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.AddTrade(position.ClosedTrade{Symbol: "BTCUSDT", PnL: tt.pnl, Size: 1, EntryTime: entry, ExitTime: entry.Add(90 * time.Minute)})
			if got != tt.want {
				t.Errorf("AddTrade(pnl=%v) = %v, want %v", tt.pnl, got, tt.want)
			}
		})
	}

	trades := s.Trades()
	if len(trades) != 2 {
		t.Fatalf("history = %d, want 2", len(trades))
	}
	if trades[0].PnL != -3 {
		t.Errorf("history not newest first")
	}
	if trades[0].Holding != "1h 30m" {
		t.Errorf("holding = %q", trades[0].Holding)
	}
	if len(s.Messages()) != 2 {
		t.Errorf("each recorded trade should post one message")
	}
}

func TestMessageRingBounded(t *testing.T) {
	s := NewStore(0, 0, 3, nil)
	for i := 0; i < 5; i++ {
		s.AddMessage("info", string(rune('a'+i)))
	}
	msgs := s.Messages()
	if len(msgs) != 3 || msgs[0].Text != "c" || msgs[2].Text != "e" {
		t.Errorf("ring = %+v", msgs)
	}
}

func TestOnUpdate(t *testing.T) {
	s := NewStore(0, 0, 0, nil)
	var got int64
	s.OnUpdate(func(v View) { got = v.Cycle })
	s.Rebuild(Input{Cycle: 7})
	if got != 7 {
		t.Errorf("listener saw cycle %d", got)
	}
}

func TestEmptyListsSerializeAsArrays(t *testing.T) {
	s := NewStore(0, 0, 0, nil)
	if s.View().Ready {
		t.Error("view should not be ready before the first rebuild")
	}

	v := s.Rebuild(Input{Cycle: 1})
	if !v.Ready {
		t.Error("view should be ready after a rebuild")
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"positions":[]`, `"trades":[]`, `"messages":[]`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("payload missing %s: %s", field, data)
		}
	}
	if s.Trades() == nil || s.Messages() == nil {
		t.Error("accessors should return empty slices, not nil")
	}
}
