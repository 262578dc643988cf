package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"futures-trading-agent/internal/advisory"
	"futures-trading-agent/internal/binance"
	"futures-trading-agent/internal/control"
	"futures-trading-agent/internal/exchange"
	"futures-trading-agent/internal/market"
	"futures-trading-agent/internal/portfolio"
	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/presentation"
	"futures-trading-agent/internal/risk"
	"futures-trading-agent/internal/strategy"
)

type stubProvider struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (p *stubProvider) Snapshot(_ context.Context, symbol string) (*market.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no data for %s", symbol)
	}
	return &market.Snapshot{Symbol: symbol, Price: price, Timestamp: time.Now(), Indicators: market.Indicators{}}, nil
}

func (p *stubProvider) price(symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prices[symbol], nil
}

func (p *stubProvider) set(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

type stubSwing struct {
	mu    sync.Mutex
	calls int
	fn    func(snap *market.Snapshot, h strategy.Holding) strategy.Signal
}

func (s *stubSwing) Analyze(snap *market.Snapshot, h strategy.Holding, _ strategy.Account) strategy.Signal {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(snap, h)
	}
	return strategy.Hold(snap.Symbol, strategy.StyleSwing, 0.5, "no setup")
}

func (s *stubSwing) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubScalp struct {
	mu       sync.Mutex
	sawSwing []strategy.Holding
	fn       func(snap *market.Snapshot, h strategy.Holding) strategy.Signal
}

func (s *stubScalp) Analyze(snap *market.Snapshot, h strategy.Holding, _ strategy.Account, swing strategy.Holding) strategy.Signal {
	s.mu.Lock()
	s.sawSwing = append(s.sawSwing, swing)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(snap, h)
	}
	return strategy.Hold(snap.Symbol, strategy.StyleScalp, 0.5, "no setup")
}

type stubAdvisor struct {
	mu     sync.Mutex
	calls  int
	result advisory.Result
}

func (a *stubAdvisor) Review(_ context.Context, _ advisory.Request) advisory.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.result
}

func (a *stubAdvisor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type failingGateway struct{}

func (failingGateway) Open(context.Context, string, strategy.Action, float64, float64) (exchange.Fill, error) {
	return exchange.Fill{}, errors.New("insufficient margin")
}

func (failingGateway) Close(context.Context, string, float64, float64) (exchange.Fill, error) {
	return exchange.Fill{}, errors.New("venue unavailable")
}

type harness struct {
	provider  *stubProvider
	swing     *stubSwing
	scalp     *stubScalp
	advisor   *stubAdvisor
	positions *position.Manager
	flags     *control.MemoryFlags
	view      *presentation.Store
	processor *Processor
	sched     *Scheduler
}

func newHarness(t *testing.T, equity float64, prices map[string]float64) *harness {
	t.Helper()
	h := &harness{
		provider:  &stubProvider{prices: prices},
		swing:     &stubSwing{},
		scalp:     &stubScalp{},
		advisor:   &stubAdvisor{result: advisory.Result{Verdict: advisory.Verdict{Approved: true, Outcome: advisory.OutcomeApproved}}},
		positions: position.NewManager(equity, position.NewMemoryStore(), nil),
		flags:     control.NewMemoryFlags(),
		view:      presentation.NewStore(0, 0, 0, nil),
	}

	paper := binance.NewPaperClient(h.provider.price, 0)
	gw := exchange.NewFuturesGateway(paper, exchange.Config{PollAttempts: 1, PollInterval: time.Millisecond}, nil)

	symbols := make([]string, 0, len(prices))
	for s := range prices {
		symbols = append(symbols, s)
	}
	h.processor = NewProcessor(ProcessorConfig{
		Symbols:           symbols,
		MaxEquityUsagePct: 0.30,
		MaxLeverage:       5,
	}, Deps{
		Swing:     h.swing,
		Scalp:     h.scalp,
		Advisory:  h.advisor,
		Risk:      risk.NewGate(risk.Config{MaxEquityUsagePct: 0.30, MaxLeverage: 5}, nil),
		Allocator: portfolio.NewAllocator(portfolio.DefaultConfig(), h.positions),
		Gateway:   gw,
		Positions: h.positions,
		Notifier:  h.view,
		Sinks:     []TradeSink{h.view},
	})
	h.sched = New(Config{Symbols: symbols, Interval: time.Hour, MaxWorkers: 2},
		h.provider, h.processor, h.flags, h.view, nil, nil, nil)
	return h
}

func breakoutLong(conf float64) func(*market.Snapshot, strategy.Holding) strategy.Signal {
	return func(snap *market.Snapshot, h strategy.Holding) strategy.Signal {
		if !h.Flat() {
			return strategy.Hold(snap.Symbol, strategy.StyleSwing, 0.6, "holding")
		}
		return strategy.Signal{
			Symbol:     snap.Symbol,
			Style:      strategy.StyleSwing,
			Action:     strategy.ActionLong,
			SizePct:    0.1,
			Confidence: conf,
			Reason:     "1h Keltner breakout",
			Price:      snap.Price,
			StopLoss:   snap.Price * 0.96,
			TakeProfit: snap.Price * 1.08,
			Leverage:   3,
		}
	}
}

// Scenario A: a flat symbol takes a swing breakout at the equity-tier
// leverage cap.
func TestSwingEntryRespectsSmartCap(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 100})
	h.swing.fn = breakoutLong(0.82)

	rep := h.sched.RunCycle(context.Background())
	if rep.Trades != 1 {
		t.Fatalf("trades = %d, want 1", rep.Trades)
	}
	st, ok := h.positions.Position("BTCUSDT", strategy.StyleSwing)
	if !ok {
		t.Fatal("no swing position opened")
	}
	if st.Leverage > 2.0 {
		t.Errorf("leverage %v exceeds the 2.0x cap for $2000 equity", st.Leverage)
	}
	if st.EntryPrice <= 0 || st.EntryTime.IsZero() || st.StopLoss <= 0 || st.TakeProfit <= 0 {
		t.Errorf("position metadata incomplete: %+v", st)
	}
	if h.advisor.count() != 1 {
		t.Errorf("advisory calls = %d, want 1", h.advisor.count())
	}

	v := h.view.View()
	if len(v.Positions) != 1 || v.Positions[0].Style != "swing" {
		t.Errorf("presentation positions = %+v", v.Positions)
	}
}

func TestScalpSeesSwingAfterSwingActs(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"ETHUSDT": 100})
	h.swing.fn = breakoutLong(0.8)

	h.sched.RunCycle(context.Background())

	if len(h.scalp.sawSwing) != 1 {
		t.Fatalf("scalp evaluated %d times", len(h.scalp.sawSwing))
	}
	if h.scalp.sawSwing[0].Size <= 0 {
		t.Errorf("scalp saw swing size %v, want the position opened this cycle", h.scalp.sawSwing[0].Size)
	}
}

func TestAdvisoryTimeoutVetoes(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 100})
	h.swing.fn = breakoutLong(0.95)
	h.advisor.result = advisory.Result{Verdict: advisory.Verdict{Approved: false, Outcome: advisory.OutcomeTimeout}, Err: advisory.ErrTimeout}

	rep := h.sched.RunCycle(context.Background())
	if rep.Trades != 0 {
		t.Errorf("trades = %d, want 0 after timeout veto", rep.Trades)
	}
	if _, ok := h.positions.Position("BTCUSDT", strategy.StyleSwing); ok {
		t.Error("position opened despite veto")
	}
}

func TestOrderFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 100})
	h.swing.fn = breakoutLong(0.8)
	h.processor.Gateway = failingGateway{}

	rep := h.sched.RunCycle(context.Background())
	if rep.Trades != 0 {
		t.Errorf("trades = %d, want 0", rep.Trades)
	}
	if n := len(h.positions.Snapshot()); n != 0 {
		t.Errorf("positions = %d after failed order", n)
	}
	if h.positions.Equity() != 2000 {
		t.Errorf("equity changed to %v", h.positions.Equity())
	}
	if len(h.view.Messages()) == 0 {
		t.Error("order failure not reported to presentation")
	}
}

func TestProtectiveCloseFailureReinstates(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 90})
	h.processor.Gateway = failingGateway{}
	if _, err := h.positions.Open(position.OpenRequest{Symbol: "BTCUSDT", Style: strategy.StyleScalp, Size: 1, EntryPrice: 100, StopLoss: 95, Leverage: 1}); err != nil {
		t.Fatal(err)
	}

	h.sched.RunCycle(context.Background())
	if _, ok := h.positions.Position("BTCUSDT", strategy.StyleScalp); !ok {
		t.Error("position lost after failed stop-loss close")
	}
}

// Scenario E: emergency close flattens both styles without advisory or
// risk, clears the flag and the next cycle evaluates normally.
func TestEmergencyCloseAll(t *testing.T) {
	h := newHarness(t, 5000, map[string]float64{"BTCUSDT": 100})
	ctx := context.Background()
	for _, req := range []position.OpenRequest{
		{Symbol: "BTCUSDT", Style: strategy.StyleSwing, Size: 2, EntryPrice: 95, StopLoss: 80, TakeProfit: 150, Leverage: 2},
		{Symbol: "BTCUSDT", Style: strategy.StyleScalp, Size: -1, EntryPrice: 101, StopLoss: 120, TakeProfit: 90, Leverage: 2},
	} {
		if _, err := h.positions.Open(req); err != nil {
			t.Fatal(err)
		}
	}
	_ = h.flags.SetEmergency(ctx, true)

	rep := h.sched.RunCycle(ctx)
	if rep.State != StateEmergencyClosing {
		t.Errorf("state = %s", rep.State)
	}
	if rep.Trades != 2 {
		t.Errorf("closed = %d, want 2", rep.Trades)
	}
	if n := len(h.positions.Snapshot()); n != 0 {
		t.Errorf("%d positions left open", n)
	}
	if h.advisor.count() != 0 || h.swing.count() != 0 {
		t.Error("emergency path consulted strategy or advisory")
	}
	if st, _ := h.flags.Read(ctx); st.Emergency {
		t.Error("emergency flag not cleared")
	}
	// 2*(100-95) + -1*(100-101) = 11
	if got := h.positions.Equity(); got < 5010.99 || got > 5011.01 {
		t.Errorf("equity = %v, want 5011", got)
	}

	rep = h.sched.RunCycle(ctx)
	if rep.State != StateRunning || h.sched.State() != StateRunning {
		t.Errorf("next cycle state = %s", rep.State)
	}
	if h.swing.count() != 1 {
		t.Errorf("swing not evaluated after emergency, calls = %d", h.swing.count())
	}
}

func TestPauseOnlyRunsProtectiveExits(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 100})
	h.swing.fn = breakoutLong(0.9)
	ctx := context.Background()
	if _, err := h.positions.Open(position.OpenRequest{Symbol: "BTCUSDT", Style: strategy.StyleScalp, Size: 1, EntryPrice: 110, StopLoss: 105, Leverage: 1}); err != nil {
		t.Fatal(err)
	}
	_ = h.flags.SetPaused(ctx, true)

	rep := h.sched.RunCycle(ctx)
	if rep.State != StatePaused {
		t.Errorf("state = %s, want paused", rep.State)
	}
	if h.swing.count() != 0 {
		t.Error("strategy evaluated while paused")
	}
	if _, ok := h.positions.Position("BTCUSDT", strategy.StyleScalp); ok {
		t.Error("stop loss not honored while paused")
	}
	v := h.view.View()
	if !v.Paused || v.SchedulerState != string(StatePaused) {
		t.Errorf("view = paused %v state %s", v.Paused, v.SchedulerState)
	}

	_ = h.flags.SetPaused(ctx, false)
	h.sched.RunCycle(ctx)
	if _, ok := h.positions.Position("BTCUSDT", strategy.StyleSwing); !ok {
		t.Error("entry not taken after resume")
	}
}

func TestWorkerPanicDoesNotStopCycle(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 100, "ETHUSDT": 100})
	h.swing.fn = func(snap *market.Snapshot, hold strategy.Holding) strategy.Signal {
		if snap.Symbol == "BTCUSDT" {
			panic("indicator blew up")
		}
		return breakoutLong(0.8)(snap, hold)
	}

	rep := h.sched.RunCycle(context.Background())
	if rep.Errors != 1 {
		t.Errorf("errors = %d, want 1", rep.Errors)
	}
	if _, ok := h.positions.Position("ETHUSDT", strategy.StyleSwing); !ok {
		t.Error("healthy symbol not processed")
	}
}

func TestMissingSnapshotSkipsSymbol(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 100})
	h.sched.cfg.Symbols = append(h.sched.cfg.Symbols, "XRPUSDT")

	rep := h.sched.RunCycle(context.Background())
	if rep.Errors != 1 {
		t.Errorf("errors = %d, want 1 for the missing symbol", rep.Errors)
	}
	if h.swing.count() != 1 {
		t.Errorf("swing calls = %d, want 1", h.swing.count())
	}
}

func TestOverrunIsReported(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 100})
	h.sched.cfg.Interval = time.Nanosecond

	rep := h.sched.RunCycle(context.Background())
	if !rep.Overrun {
		t.Error("overrun not flagged")
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 100})
	h.sched.cfg.Interval = 5 * time.Millisecond

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.sched.Status().Cycle < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := h.sched.Stop(); err != nil {
		t.Fatal(err)
	}
	if h.sched.Status().Cycle < 2 {
		t.Error("loop did not keep cycling")
	}
}

func TestSkipUnchangedAdvisory(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		nextPrice float64
		wantCalls int
		wantOpen  bool
	}{
		// an unchanged market skips the call and the strategy decision
		// goes through unfiltered
		{"unchanged market", 100, 1, true},
		{"1% move", 101, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 100})
			h.processor.cfg.SkipUnchangedLLM = true
			h.swing.fn = breakoutLong(0.8)
			h.advisor.result = advisory.Result{Verdict: advisory.Verdict{Approved: false, Outcome: advisory.OutcomeVetoed}}
			h.processor.now = func() time.Time { return now }

			ctx := context.Background()
			h.sched.RunCycle(ctx)
			if _, ok := h.positions.Position("BTCUSDT", strategy.StyleSwing); ok {
				t.Fatal("vetoed entry was opened")
			}

			h.provider.set("BTCUSDT", tt.nextPrice)
			h.sched.RunCycle(ctx)
			if h.advisor.count() != tt.wantCalls {
				t.Errorf("advisory calls = %d, want %d", h.advisor.count(), tt.wantCalls)
			}
			if _, ok := h.positions.Position("BTCUSDT", strategy.StyleSwing); ok != tt.wantOpen {
				t.Errorf("swing open = %v, want %v", ok, tt.wantOpen)
			}
		})
	}
}

type slowGateway struct {
	exchange.Gateway
	delay time.Duration
}

func (g slowGateway) Open(ctx context.Context, symbol string, action strategy.Action, qty, leverage float64) (exchange.Fill, error) {
	time.Sleep(g.delay)
	return g.Gateway.Open(ctx, symbol, action, qty, leverage)
}

func TestParallelEntriesStayWithinBudget(t *testing.T) {
	prices := map[string]float64{}
	for _, s := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "ADAUSDT"} {
		prices[s] = 100
	}
	h := newHarness(t, 2000, prices)
	h.sched.cfg.MaxWorkers = 6
	h.swing.fn = breakoutLong(0.9)
	h.processor.Gateway = slowGateway{Gateway: h.processor.Gateway, delay: 50 * time.Millisecond}

	h.sched.RunCycle(context.Background())

	budget := 2000 * 0.30
	if got := h.positions.TotalMargin(); got > budget+1e-6 {
		t.Errorf("total margin %.2f exceeds budget %.2f", got, budget)
	}
	if len(h.positions.Snapshot()) == 0 {
		t.Error("no entry was taken")
	}
	if r := h.positions.Reserved(); r != 0 {
		t.Errorf("reservations left after the cycle: %.2f", r)
	}
}

func TestScalpAutoFlip(t *testing.T) {
	h := newHarness(t, 2000, map[string]float64{"BTCUSDT": 100})
	h.processor.cfg.ScalpAutoFlip = true
	h.scalp.fn = func(snap *market.Snapshot, hold strategy.Holding) strategy.Signal {
		if !hold.Flat() {
			return strategy.Close(snap.Symbol, strategy.StyleScalp, 0.8, "strong reversal flip_to=short")
		}
		return strategy.Signal{
			Symbol: snap.Symbol, Style: strategy.StyleScalp, Action: strategy.ActionShort,
			SizePct: 0.05, Confidence: 0.8, Price: snap.Price,
			StopLoss: snap.Price * 1.01, TakeProfit: snap.Price * 0.98, Leverage: 1,
		}
	}
	if _, err := h.positions.Open(position.OpenRequest{Symbol: "BTCUSDT", Style: strategy.StyleScalp, Size: 1, EntryPrice: 100, Leverage: 1}); err != nil {
		t.Fatal(err)
	}

	rep := h.sched.RunCycle(context.Background())
	if rep.Trades != 2 {
		t.Errorf("trades = %d, want close plus flip", rep.Trades)
	}
	st, ok := h.positions.Position("BTCUSDT", strategy.StyleScalp)
	if !ok || st.Size >= 0 {
		t.Errorf("expected a short scalp after flip, got %+v ok=%v", st, ok)
	}
}
