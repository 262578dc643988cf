package advisory

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/market"
	"futures-trading-agent/internal/strategy"
)

type fakeCompleter struct {
	calls     atomic.Int32
	responses []func(ctx context.Context) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.responses) {
		n = len(f.responses) - 1
	}
	return f.responses[n](ctx)
}

func hang(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func reply(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func testRequest(conf float64) Request {
	return Request{
		Snapshot: &market.Snapshot{Symbol: "BTCUSDT", Price: 50000, Indicators: market.Indicators{"trend_1d": market.Bullish}},
		Signal: strategy.Signal{
			Symbol: "BTCUSDT", Style: strategy.StyleSwing, Action: strategy.ActionLong,
			Confidence: conf, SizePct: 0.2, Leverage: 2, Price: 50000,
		},
		Equity: 2000,
	}
}

func fastConfig() Config {
	return Config{BaseTimeout: 10 * time.Millisecond, TimeoutStep: 5 * time.Millisecond, MaxRetries: 2}
}

func TestFilterFailsClosedOnTimeout(t *testing.T) {
	for _, conf := range []float64{0.3, 0.75, 0.95} {
		fc := &fakeCompleter{responses: []func(context.Context) (string, error){hang}}
		f := NewFilter(fc, fastConfig(), nil, logging.Nop())

		res := f.Review(context.Background(), testRequest(conf))
		if res.Approved {
			t.Errorf("confidence %.2f: timeout after retries must veto", conf)
		}
		if res.Outcome != OutcomeTimeout || !errors.Is(res.Err, ErrTimeout) {
			t.Errorf("outcome = %s err = %v, want timeout", res.Outcome, res.Err)
		}
		if got := fc.calls.Load(); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	}
}

func TestFilterFailsOpenOnOtherErrors(t *testing.T) {
	fc := &fakeCompleter{responses: []func(context.Context) (string, error){
		func(context.Context) (string, error) { return "", errors.New("401 unauthorized") },
	}}
	f := NewFilter(fc, fastConfig(), nil, logging.Nop())

	res := f.Review(context.Background(), testRequest(0.8))
	if !res.Approved || res.Outcome != OutcomeError {
		t.Errorf("got approved=%v outcome=%s, want approve on error", res.Approved, res.Outcome)
	}
	if fc.calls.Load() != 1 {
		t.Errorf("non-timeout errors must not retry, got %d calls", fc.calls.Load())
	}
}

func TestFilterRetriesThenSucceeds(t *testing.T) {
	fc := &fakeCompleter{responses: []func(context.Context) (string, error){
		hang,
		reply("APPROVE\nCONFIDENCE: 0.81\nLEVERAGE: 2x"),
	}}
	f := NewFilter(fc, fastConfig(), nil, logging.Nop())

	res := f.Review(context.Background(), testRequest(0.8))
	if !res.Approved || res.Outcome != OutcomeApproved {
		t.Fatalf("got %+v, want approval", res.Verdict)
	}
	if res.Confidence == nil || *res.Confidence != 0.81 {
		t.Errorf("confidence = %v, want 0.81", res.Confidence)
	}
	if res.Leverage != 2 {
		t.Errorf("leverage = %v, want 2", res.Leverage)
	}
}

func TestFilterCanceledContextVetoes(t *testing.T) {
	fc := &fakeCompleter{responses: []func(context.Context) (string, error){hang}}
	f := NewFilter(fc, Config{BaseTimeout: time.Second}, nil, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := f.Review(ctx, testRequest(0.9))
	if res.Approved || res.Outcome != OutcomeCanceled {
		t.Errorf("got approved=%v outcome=%s, want canceled veto", res.Approved, res.Outcome)
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		inputConf  float64
		approved   bool
		outcome    Outcome
		confidence float64 // -1 = absent
		leverage   float64
		trail      float64
	}{
		{"approve with fields", "APPROVE\nCONFIDENCE: 0.82\nLEVERAGE: 3x\nTRAIL: 8%", 0.8, true, OutcomeApproved, 0.82, 3, 0.08},
		{"veto", "VETO - trend is exhausted\nCONFIDENCE: 35%", 0.8, false, OutcomeVetoed, 0.35, 0, 0},
		{"reject synonym", "Reject.", 0.5, false, OutcomeVetoed, -1, 0, 0},
		{"fallback veto", "After review I must veto this trade.", 0.5, false, OutcomeVetoed, -1, 0, 0},
		{"unclear approves", "Looks fine overall", 0.5, true, OutcomeUnclear, -1, 0, 0},
		{"leverage ignored at low input confidence", "APPROVE\nLEVERAGE: 3x", 0.6, true, OutcomeApproved, -1, 0, 0},
		{"leverage outside whitelist", "APPROVE\nLEVERAGE: 4x", 0.9, true, OutcomeApproved, -1, 0, 0},
		{"confidence on 0-100 scale", "APPROVE\nCONFIDENCE: 78", 0.5, true, OutcomeApproved, 0.78, 0, 0},
		{"implausible confidence dropped", "APPROVE\nCONFIDENCE: 450", 0.5, true, OutcomeApproved, -1, 0, 0},
		{"trail out of band dropped", "APPROVE\nTRAIL: 40%", 0.5, true, OutcomeApproved, -1, 0, 0},
		{"markdown approve", "**APPROVE**\nREASONING: clean breakout", 0.5, true, OutcomeApproved, -1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ParseVerdict(tt.text, tt.inputConf)
			if v.Approved != tt.approved || v.Outcome != tt.outcome {
				t.Errorf("got approved=%v outcome=%s, want %v %s", v.Approved, v.Outcome, tt.approved, tt.outcome)
			}
			switch {
			case tt.confidence < 0 && v.Confidence != nil:
				t.Errorf("confidence = %v, want absent", *v.Confidence)
			case tt.confidence >= 0 && (v.Confidence == nil || math.Abs(*v.Confidence-tt.confidence) > 1e-9):
				t.Errorf("confidence = %v, want %v", v.Confidence, tt.confidence)
			}
			if v.Leverage != tt.leverage {
				t.Errorf("leverage = %v, want %v", v.Leverage, tt.leverage)
			}
			if math.Abs(v.TrailPct-tt.trail) > 1e-9 {
				t.Errorf("trail = %v, want %v", v.TrailPct, tt.trail)
			}
		})
	}
}

func TestCache(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(90*time.Second, 0.001)
	c.now = func() time.Time { return now }

	req := testRequest(0.82)
	c.Put(req, Verdict{Approved: true, Outcome: OutcomeApproved})

	near := testRequest(0.84) // same 0.1 bucket
	near.Snapshot.Price = 50020
	if _, ok := c.Get(near); !ok {
		t.Error("expected hit within tolerance and bucket")
	}

	drift := testRequest(0.82)
	drift.Snapshot.Price = 50100
	if _, ok := c.Get(drift); ok {
		t.Error("expected miss after price drift beyond 0.1%")
	}

	other := testRequest(0.82)
	other.Signal.Action = strategy.ActionShort
	if _, ok := c.Get(other); ok {
		t.Error("different action must miss")
	}

	now = now.Add(91 * time.Second)
	if _, ok := c.Get(req); ok {
		t.Error("expected miss after TTL")
	}

	c.Put(req, Verdict{Approved: false, Outcome: OutcomeTimeout})
	if _, ok := c.Get(req); ok {
		t.Error("timeouts must not be cached")
	}

	if s := c.Stats(); s.Hits != 1 || s.Misses != 4 {
		t.Errorf("stats = %+v, want 1 hit 4 misses", s)
	}
}

type recordingReviewer struct {
	mu    sync.Mutex
	seen  []string
	calls atomic.Int32
}

func (r *recordingReviewer) Review(ctx context.Context, req Request) Result {
	r.calls.Add(1)
	r.mu.Lock()
	r.seen = append(r.seen, req.Signal.Symbol)
	r.mu.Unlock()
	return Result{Verdict: Verdict{Approved: true, Outcome: OutcomeApproved, Reasoning: req.Signal.Symbol}}
}

func TestBatcherTradesAreImmediate(t *testing.T) {
	rr := &recordingReviewer{}
	b := NewBatcher(rr, time.Hour, 6, logging.Nop())

	res := b.Review(context.Background(), testRequest(0.8))
	if !res.Approved {
		t.Fatal("expected pass-through approval")
	}
	if s := b.Stats(); s.Immediate != 1 || s.Batched != 0 {
		t.Errorf("stats = %+v, want one immediate", s)
	}
}

func TestBatcherCoalescesHolds(t *testing.T) {
	rr := &recordingReviewer{}
	b := NewBatcher(rr, time.Hour, 3, logging.Nop())

	symbols := []string{"AAA", "BBB", "CCC"}
	results := make([]Result, len(symbols))
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			req := testRequest(0.4)
			req.Signal.Symbol = sym
			req.Signal.Action = strategy.ActionHold
			results[i] = b.Review(context.Background(), req)
		}(i, sym)
	}
	wg.Wait()

	for i, sym := range symbols {
		if results[i].Reasoning != sym {
			t.Errorf("waiter %s received result for %q", sym, results[i].Reasoning)
		}
	}
	if s := b.Stats(); s.Batches != 1 || s.Batched != 3 {
		t.Errorf("stats = %+v, want one batch of three", s)
	}
}

func TestBatcherWindowFlush(t *testing.T) {
	rr := &recordingReviewer{}
	b := NewBatcher(rr, 20*time.Millisecond, 6, logging.Nop())
	req := testRequest(0.4)
	req.Signal.Action = strategy.ActionHold

	res := b.Review(context.Background(), req)
	if !res.Approved || rr.calls.Load() != 1 {
		t.Errorf("window flush: approved=%v calls=%d", res.Approved, rr.calls.Load())
	}
}

func TestApply(t *testing.T) {
	conf := 0.9
	tests := []struct {
		name       string
		sig        strategy.Signal
		res        Result
		quality    float64
		wantAction strategy.Action
		wantConf   float64
		wantLev    float64
	}{
		{
			name:       "approve fuses quality",
			sig:        strategy.Signal{Action: strategy.ActionLong, Style: strategy.StyleSwing, Confidence: 0.8, Leverage: 2, SizePct: 0.2},
			res:        Result{Verdict: Verdict{Approved: true, Outcome: OutcomeApproved}},
			quality:    0.5,
			wantAction: strategy.ActionLong,
			wantConf:   0.71,
			wantLev:    2,
		},
		{
			name:       "override and leverage",
			sig:        strategy.Signal{Action: strategy.ActionShort, Style: strategy.StyleScalp, Confidence: 0.6, Leverage: 1, SizePct: 0.1},
			res:        Result{Verdict: Verdict{Approved: true, Outcome: OutcomeApproved, Confidence: &conf, Leverage: 3}},
			quality:    1,
			wantAction: strategy.ActionShort,
			wantConf:   0.93,
			wantLev:    3,
		},
		{
			name:       "veto converts to hold",
			sig:        strategy.Signal{Action: strategy.ActionLong, Style: strategy.StyleSwing, Confidence: 0.8, Leverage: 2, SizePct: 0.2},
			res:        Result{Verdict: Verdict{Approved: false, Outcome: OutcomeTimeout, Leverage: 5}},
			quality:    0.5,
			wantAction: strategy.ActionHold,
			wantConf:   0,
			wantLev:    2,
		},
		{
			name:       "close veto keeps position",
			sig:        strategy.Signal{Action: strategy.ActionClose, Style: strategy.StyleSwing, Confidence: 0.9, SizePct: 1},
			res:        Result{Verdict: Verdict{Approved: false, Outcome: OutcomeVetoed, Confidence: &conf}},
			wantAction: strategy.ActionHold,
			wantConf:   0.9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := tt.sig
			Apply(&sig, tt.res, tt.quality)
			if sig.Action != tt.wantAction {
				t.Errorf("action = %s, want %s", sig.Action, tt.wantAction)
			}
			if math.Abs(sig.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("confidence = %v, want %v", sig.Confidence, tt.wantConf)
			}
			if sig.Leverage != tt.wantLev {
				t.Errorf("leverage = %v, want %v", sig.Leverage, tt.wantLev)
			}
			if sig.Action == strategy.ActionHold && sig.SizePct != 0 {
				t.Errorf("vetoed signal kept size %v", sig.SizePct)
			}
		})
	}
}
