package position

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"futures-trading-agent/internal/strategy"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func newTestManager(equity float64) *Manager {
	m := NewManager(equity, nil, nil)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })
	return m
}

func openSwingLong(t *testing.T, m *Manager, entry, stop, conf float64) {
	t.Helper()
	_, err := m.Open(OpenRequest{
		Symbol:     "SYM",
		Style:      strategy.StyleSwing,
		Size:       1,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: entry * 1.5,
		Leverage:   2,
		Confidence: conf,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func TestOpenRejectsInvalid(t *testing.T) {
	m := newTestManager(1000)
	if _, err := m.Open(OpenRequest{Symbol: "SYM", Style: strategy.StyleSwing, Size: 0, EntryPrice: 100}); !errors.Is(err, ErrZeroSize) {
		t.Errorf("zero size error = %v", err)
	}
	if _, err := m.Open(OpenRequest{Symbol: "SYM", Style: strategy.StyleSwing, Size: 1, EntryPrice: 0}); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("zero price error = %v", err)
	}
	openSwingLong(t, m, 100, 90, 0.8)
	if _, err := m.Open(OpenRequest{Symbol: "SYM", Style: strategy.StyleSwing, Size: 1, EntryPrice: 100}); !errors.Is(err, ErrPositionExists) {
		t.Errorf("duplicate open error = %v", err)
	}
}

func TestStylesAreIndependent(t *testing.T) {
	m := newTestManager(1000)
	openSwingLong(t, m, 100, 90, 0.8)
	if _, err := m.Open(OpenRequest{Symbol: "SYM", Style: strategy.StyleScalp, Size: -2, EntryPrice: 101, Leverage: 1}); err != nil {
		t.Fatalf("open opposite scalp: %v", err)
	}

	sp := m.Get("SYM")
	if sp.Swing == nil || sp.Scalp == nil {
		t.Fatalf("both slots should be open: %+v", sp)
	}
	if sp.Swing.Size != 1 || sp.Scalp.Size != -2 {
		t.Errorf("sizes = %v / %v", sp.Swing.Size, sp.Scalp.Size)
	}

	if _, err := m.Close("SYM", strategy.StyleScalp, 99, "test"); err != nil {
		t.Fatalf("close scalp: %v", err)
	}
	if _, ok := m.Position("SYM", strategy.StyleSwing); !ok {
		t.Error("closing scalp cleared swing")
	}
	if got := m.Size("SYM", strategy.StyleScalp); got != 0 {
		t.Errorf("scalp size after close = %v, want 0", got)
	}
}

func TestMarginUsesEntryPrice(t *testing.T) {
	m := newTestManager(1000)
	openSwingLong(t, m, 100, 90, 0.8)

	if got := m.TotalMargin(); !approx(got, 50) {
		t.Errorf("margin = %v, want 50", got)
	}
	s := m.Summary(map[string]float64{"SYM": 130})
	if !approx(s.MarginUsed, 50) {
		t.Errorf("summary margin = %v, want 50 regardless of price", s.MarginUsed)
	}
	if !approx(s.Unrealized, 30) {
		t.Errorf("unrealized = %v, want 30", s.Unrealized)
	}
	if !approx(s.AvailableCash, 950) {
		t.Errorf("available cash = %v, want 950", s.AvailableCash)
	}
}

func TestSummaryClampsMargin(t *testing.T) {
	m := newTestManager(40)
	openSwingLong(t, m, 100, 90, 0.8)

	s := m.Summary(nil)
	if !s.MarginClamped {
		t.Error("expected margin clamp flag")
	}
	if s.MarginUsed > s.Equity {
		t.Errorf("margin %v exceeds equity %v", s.MarginUsed, s.Equity)
	}
	if s.AvailableCash != 0 {
		t.Errorf("available cash = %v, want 0", s.AvailableCash)
	}

	m.SetEquity(-10)
	if s := m.Summary(nil); s.AvailableCash < 0 || s.MarginUsed < 0 {
		t.Errorf("negative values in summary: %+v", s)
	}
}

func TestCloseRealizesPnL(t *testing.T) {
	m := newTestManager(1000)
	openSwingLong(t, m, 100, 90, 0.8)

	trade, err := m.Close("SYM", strategy.StyleSwing, 110, "target")
	if err != nil {
		t.Fatal(err)
	}
	if !approx(trade.PnL, 10) || trade.Side != "LONG" || trade.ID == "" {
		t.Errorf("trade = %+v", trade)
	}
	if !approx(trade.PnLPct, 20) {
		t.Errorf("pnl pct = %v, want 20 (of margin)", trade.PnLPct)
	}
	if got := m.Equity(); !approx(got, 1010) {
		t.Errorf("equity = %v, want 1010", got)
	}
	if _, err := m.Close("SYM", strategy.StyleSwing, 110, "again"); !errors.Is(err, ErrNoPosition) {
		t.Errorf("second close error = %v", err)
	}
}

// Scenario: long at 100, price runs to 115 with confidence 0.85 (12% trail).
func TestTrailingStopScenario(t *testing.T) {
	m := newTestManager(1000)
	openSwingLong(t, m, 100, 96, 0.85)

	upd, ok := m.UpdateTrailingStop("SYM", strategy.StyleSwing, 115)
	if !ok {
		t.Fatal("stop not moved at 115")
	}
	if !approx(upd.NewStop, 101.2) {
		t.Errorf("new stop = %v, want 101.20", upd.NewStop)
	}
	if upd.NewStop <= upd.OldStop {
		t.Errorf("stop did not tighten: %v -> %v", upd.OldStop, upd.NewStop)
	}
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	tests := []struct {
		name   string
		size   float64
		stop   float64
		prices []float64
	}{
		{"long", 1, 90, []float64{100, 105, 112, 120, 118, 110, 125, 101}},
		{"short", -1, 110, []float64{100, 95, 88, 80, 84, 92, 78, 99}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(10000)
			if _, err := m.Open(OpenRequest{
				Symbol: "SYM", Style: strategy.StyleSwing, Size: tt.size,
				EntryPrice: 100, StopLoss: tt.stop, Leverage: 1, Confidence: 0.95,
			}); err != nil {
				t.Fatal(err)
			}
			prev := tt.stop
			for _, p := range tt.prices {
				m.UpdateTrailingStop("SYM", strategy.StyleSwing, p)
				st, _ := m.Position("SYM", strategy.StyleSwing)
				if tt.size > 0 && st.StopLoss < prev {
					t.Fatalf("long stop loosened at %v: %v < %v", p, st.StopLoss, prev)
				}
				if tt.size < 0 && st.StopLoss > prev {
					t.Fatalf("short stop loosened at %v: %v > %v", p, st.StopLoss, prev)
				}
				prev = st.StopLoss
			}
		})
	}
}

func TestScalpIsNeverTrailed(t *testing.T) {
	m := newTestManager(1000)
	if _, err := m.Open(OpenRequest{Symbol: "SYM", Style: strategy.StyleScalp, Size: 1, EntryPrice: 100, StopLoss: 99.5, Leverage: 1, Confidence: 0.9}); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.UpdateTrailingStop("SYM", strategy.StyleScalp, 150); ok {
		t.Error("scalp stop was trailed")
	}
	if st, _ := m.Position("SYM", strategy.StyleScalp); st.StopLoss != 99.5 {
		t.Errorf("scalp stop = %v, want 99.5", st.StopLoss)
	}
}

func TestCheckSLTPIsIdempotent(t *testing.T) {
	tests := []struct {
		name  string
		size  float64
		price float64
		kind  ExitKind
	}{
		{"long stop", 1, 89, ExitStopLoss},
		{"long target", 1, 151, ExitTakeProfit},
		{"short stop", -1, 111, ExitStopLoss},
		{"short target", -1, 49, ExitTakeProfit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(1000)
			stop, target := 90.0, 150.0
			if tt.size < 0 {
				stop, target = 110, 50
			}
			if _, err := m.Open(OpenRequest{Symbol: "SYM", Style: strategy.StyleSwing, Size: tt.size, EntryPrice: 100, StopLoss: stop, TakeProfit: target, Leverage: 1}); err != nil {
				t.Fatal(err)
			}
			if _, ok := m.CheckSLTP("SYM", strategy.StyleSwing, 100); ok {
				t.Fatal("triggered at entry price")
			}
			exit, ok := m.CheckSLTP("SYM", strategy.StyleSwing, tt.price)
			if !ok || exit.Kind != tt.kind {
				t.Fatalf("CheckSLTP = %+v, %v; want %s", exit, ok, tt.kind)
			}
			if exit.State.Size != tt.size {
				t.Errorf("exit size = %v, want %v", exit.State.Size, tt.size)
			}
			if _, ok := m.CheckSLTP("SYM", strategy.StyleSwing, tt.price); ok {
				t.Error("second CheckSLTP triggered again")
			}
			if _, ok := m.Position("SYM", strategy.StyleSwing); ok {
				t.Error("position still tracked after trigger")
			}
		})
	}
}

func TestSettleAndReinstate(t *testing.T) {
	m := newTestManager(1000)
	openSwingLong(t, m, 100, 90, 0.8)

	exit, ok := m.CheckSLTP("SYM", strategy.StyleSwing, 85)
	if !ok {
		t.Fatal("stop not triggered")
	}
	if err := m.Reinstate(exit.State); err != nil {
		t.Fatalf("Reinstate: %v", err)
	}
	if err := m.Reinstate(exit.State); !errors.Is(err, ErrPositionExists) {
		t.Errorf("double reinstate error = %v", err)
	}

	exit, _ = m.CheckSLTP("SYM", strategy.StyleSwing, 85)
	trade := m.Settle(exit.State, 85, string(exit.Kind))
	if !approx(trade.PnL, -15) || !approx(m.Equity(), 985) {
		t.Errorf("pnl = %v equity = %v", trade.PnL, m.Equity())
	}
}

func TestConcurrentCheckSLTPClosesOnce(t *testing.T) {
	m := newTestManager(1000)
	openSwingLong(t, m, 100, 90, 0.8)

	var wg sync.WaitGroup
	var mu sync.Mutex
	triggers := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.CheckSLTP("SYM", strategy.StyleSwing, 80); ok {
				mu.Lock()
				triggers++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if triggers != 1 {
		t.Errorf("triggers = %d, want exactly 1", triggers)
	}
}

func TestRestoreFromStore(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(1000, store, nil)
	openSwingLong(t, m, 100, 90, 0.8)

	restored := NewManager(1000, store, nil)
	n, err := restored.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	st, ok := restored.Position("SYM", strategy.StyleSwing)
	if !ok || st.EntryPrice != 100 || st.StopLoss != 90 {
		t.Errorf("restored state = %+v", st)
	}

	if _, err := m.Close("SYM", strategy.StyleSwing, 100, "flat"); err != nil {
		t.Fatal(err)
	}
	all, _ := store.LoadAll(context.Background())
	if len(all) != 0 {
		t.Errorf("store still holds %d symbols after close", len(all))
	}
}

func TestRedisStoreWithoutRedis(t *testing.T) {
	s := NewRedisStore(nil, nil)
	ctx := context.Background()
	st := &State{Symbol: "SYM", Style: strategy.StyleScalp, Size: 2, EntryPrice: 10}
	if err := s.Save(ctx, "SYM", SymbolPositions{Scalp: st}); err != nil {
		t.Fatal(err)
	}
	if s.IsRedisAvailable() {
		t.Error("store without redis reports available")
	}
	all, err := s.LoadAll(ctx)
	if err != nil || all["SYM"].Scalp == nil || all["SYM"].Scalp.Size != 2 {
		t.Errorf("LoadAll = %+v, %v", all, err)
	}
}

func TestReserveCountsTowardMargin(t *testing.T) {
	m := newTestManager(1000)

	release := m.Reserve("SYM", strategy.StyleSwing, 200)
	if got := m.TotalMargin(); !approx(got, 200) {
		t.Errorf("total margin with reservation = %v, want 200", got)
	}
	if got := m.Summary(nil).MarginUsed; got != 0 {
		t.Errorf("summary margin = %v, reservations are not positions", got)
	}

	// 1 @ 100 at 2x is 50 margin; the open replaces the reservation
	openSwingLong(t, m, 100, 90, 0.8)
	if got := m.TotalMargin(); !approx(got, 50) {
		t.Errorf("total margin after open = %v, want 50", got)
	}
	release()
	if got := m.TotalMargin(); !approx(got, 50) {
		t.Errorf("release after open changed margin to %v", got)
	}

	release = m.Reserve("SYM", strategy.StyleScalp, 30)
	release()
	if got := m.Reserved(); got != 0 {
		t.Errorf("reserved after release = %v", got)
	}
}

// Any sequence of opens, closes, protective exits and reinstatements keeps
// size and metadata in step: a slot is either fully populated or empty.
func TestSizeAndMetadataStayInStep(t *testing.T) {
	symbols := []string{"AAA", "BBB", "CCC"}

	check := func(ops []uint16) bool {
		m := newTestManager(10000)
		for _, op := range ops {
			symbol := symbols[op%3]
			style := strategy.Styles[(op/3)%2]
			price := 50 + float64((op/30)%100)

			switch (op / 6) % 5 {
			case 0:
				m.Open(OpenRequest{Symbol: symbol, Style: style, Size: 1, EntryPrice: price,
					StopLoss: price * 0.95, TakeProfit: price * 1.05, Leverage: 2})
			case 1:
				m.Open(OpenRequest{Symbol: symbol, Style: style, Size: -1, EntryPrice: price,
					StopLoss: price * 1.05, TakeProfit: price * 0.95, Leverage: 2})
			case 2:
				m.Close(symbol, style, price, "close")
			case 3:
				if exit, ok := m.CheckSLTP(symbol, style, price); ok {
					m.Settle(exit.State, price, string(exit.Kind))
				}
			case 4:
				if exit, ok := m.CheckSLTP(symbol, style, price); ok {
					m.Reinstate(exit.State)
				}
			}

			for _, st := range m.Snapshot() {
				if st.Size == 0 || st.EntryPrice <= 0 || st.EntryTime.IsZero() ||
					st.StopLoss <= 0 || st.TakeProfit <= 0 || st.Leverage <= 0 {
					t.Logf("inconsistent slot %+v", st)
					return false
				}
			}
			for _, sym := range symbols {
				for _, sty := range strategy.Styles {
					_, open := m.Position(sym, sty)
					h := m.Holding(sym, sty)
					if open == h.Flat() {
						return false
					}
					if h.Flat() && (h.EntryPrice != 0 || !h.EntryTime.IsZero()) {
						return false
					}
				}
			}
		}
		return true
	}

	if err := quick.Check(check, &quick.Config{MaxCount: 300}); err != nil {
		t.Error(err)
	}
}
