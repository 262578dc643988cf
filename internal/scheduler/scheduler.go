// Package scheduler drives the trading cycle: it polls the operator flags,
// fetches market snapshots and fans symbols out over a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"futures-trading-agent/internal/circuit"
	"futures-trading-agent/internal/control"
	"futures-trading-agent/internal/events"
	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/market"
	"futures-trading-agent/internal/metrics"
	"futures-trading-agent/internal/presentation"
	"futures-trading-agent/internal/strategy"
)

// State is the scheduler state.
type State string

const (
	StateRunning          State = "running"
	StatePaused           State = "paused"
	StateEmergencyClosing State = "emergency_closing"
)

// DefaultMaxWorkers caps per-cycle parallelism when unset.
const DefaultMaxWorkers = 4

// Config holds the cycle cadence and pool size.
type Config struct {
	Symbols    []string
	Interval   time.Duration
	MaxWorkers int
}

// CycleReport describes one finished cycle.
type CycleReport struct {
	Cycle    int64         `json:"cycle"`
	State    State         `json:"state"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Symbols  int           `json:"symbols"`
	Trades   int           `json:"trades"`
	Errors   int           `json:"errors"`
	Overrun  bool          `json:"overrun"`
}

// CycleSink receives every cycle report.
type CycleSink interface {
	RecordCycle(ctx context.Context, r CycleReport) error
}

// fetchErrorReporter is implemented by market.CachingProvider.
type fetchErrorReporter interface {
	FetchErrors() map[string]string
}

// Status is the scheduler's externally visible state.
type Status struct {
	State     State       `json:"state"`
	Running   bool        `json:"running"`
	Cycle     int64       `json:"cycle"`
	LastCycle CycleReport `json:"last_cycle"`
}

// Scheduler runs cycles at a fixed wall-clock interval. Cycles never
// overlap; an overrun starts the next cycle immediately.
type Scheduler struct {
	cfg        Config
	provider   market.Provider
	processor  *Processor
	flags      control.Source
	view       *presentation.Store
	breaker    *circuit.Breaker
	bus        *events.EventBus
	cycleSinks []CycleSink
	logger     *logging.Logger

	cycle atomic.Int64

	mu        sync.Mutex
	state     State
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	prices    map[string]float64
	lastCycle CycleReport
}

// New creates a scheduler. view, breaker and bus may be nil.
func New(cfg Config, provider market.Provider, processor *Processor, flags control.Source,
	view *presentation.Store, breaker *circuit.Breaker, bus *events.EventBus, logger *logging.Logger) *Scheduler {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if flags == nil {
		flags = control.NewMemoryFlags()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{
		cfg:       cfg,
		provider:  provider,
		processor: processor,
		flags:     flags,
		view:      view,
		breaker:   breaker,
		bus:       bus,
		logger:    logger.WithComponent("scheduler"),
		state:     StateRunning,
		prices:    make(map[string]float64),
	}
}

// AddCycleSink registers a receiver for cycle reports.
func (s *Scheduler) AddCycleSink(sink CycleSink) {
	s.cycleSinks = append(s.cycleSinks, sink)
}

// Start runs the loop in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.logger.Info("starting scheduler",
		"symbols", len(s.cfg.Symbols), "interval", s.cfg.Interval.String(), "workers", s.workers())

	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Error("scheduler stopped")
		}
	}()
	return nil
}

// Stop cancels the loop and waits for the cycle in progress to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("scheduler stopped")
	return nil
}

// Run executes cycles until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		start := time.Now()
		s.RunCycle(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}

		elapsed := time.Since(start)
		if elapsed >= s.cfg.Interval {
			continue
		}
		timer := time.NewTimer(s.cfg.Interval - elapsed)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunCycle executes exactly one cycle.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	n := s.cycle.Add(1)
	start := time.Now()
	log := logging.CycleContext(s.logger, n)
	report := CycleReport{Cycle: n, Started: start, Symbols: len(s.cfg.Symbols)}

	flags, err := s.flags.Read(ctx)
	if err != nil {
		log.WithError(err).Warn("flag source unavailable")
	}

	switch {
	case flags.Emergency:
		s.setState(StateEmergencyClosing)
		report.State = StateEmergencyClosing
		report.Trades, report.Errors = s.emergencyClose(ctx, log)
		if report.Errors == 0 {
			if err := s.flags.SetEmergency(ctx, false); err != nil {
				log.WithError(err).Error("failed to clear emergency flag")
				report.Errors++
			}
			s.notify("warning", fmt.Sprintf("Emergency close complete: %d positions closed.", report.Trades))
		} else {
			log.Error("emergency close incomplete, will retry next cycle", "failed", report.Errors)
		}
		if flags.Paused {
			s.setState(StatePaused)
		} else {
			s.setState(StateRunning)
		}

	case flags.Paused:
		s.setState(StatePaused)
		report.State = StatePaused
		snaps := s.fetch(ctx, log)
		s.forEach(ctx, snaps, func(ctx context.Context, snap *market.Snapshot) SymbolResult {
			return SymbolResult{Symbol: snap.Symbol, Trades: s.processor.ProtectiveExits(ctx, snap)}
		}, &report)

	default:
		s.setState(StateRunning)
		report.State = StateRunning
		snaps := s.fetch(ctx, log)
		report.Errors += len(s.cfg.Symbols) - len(snaps)
		s.forEach(ctx, snaps, s.processor.ProcessSymbol, &report)
	}

	s.refresh(n)

	report.Duration = time.Since(start)
	report.Overrun = report.Duration > s.cfg.Interval
	if report.Overrun {
		log.Warn("cycle overran interval, starting next cycle immediately",
			"duration", report.Duration.Round(time.Millisecond).String(), "interval", s.cfg.Interval.String())
	}
	metrics.ObserveCycle(string(report.State), report.Duration, report.Overrun)
	s.bus.PublishCycle(n, string(report.State), report.Duration, report.Trades)
	log.WithDuration(report.Duration).Info("cycle complete",
		"state", string(report.State), "trades", report.Trades, "errors", report.Errors)

	for _, sink := range s.cycleSinks {
		if err := sink.RecordCycle(ctx, report); err != nil {
			log.WithError(err).Warn("cycle sink failed")
		}
	}

	s.mu.Lock()
	s.lastCycle = report
	s.mu.Unlock()
	return report
}

// fetch loads snapshots for every configured symbol in parallel. Symbols
// with no snapshot at all are left out.
func (s *Scheduler) fetch(ctx context.Context, log *logging.Logger) []*market.Snapshot {
	out := make([]*market.Snapshot, len(s.cfg.Symbols))
	sem := make(chan struct{}, s.workers())
	var wg sync.WaitGroup
	for i, symbol := range s.cfg.Symbols {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, symbol string) {
			defer wg.Done()
			defer func() { <-sem }()
			snap, err := s.provider.Snapshot(ctx, symbol)
			if err != nil {
				log.WithError(err).Warn("no snapshot, skipping symbol", "symbol", symbol)
				return
			}
			out[i] = snap
		}(i, symbol)
	}
	wg.Wait()

	snaps := out[:0]
	s.mu.Lock()
	for _, snap := range out {
		if snap == nil {
			continue
		}
		snaps = append(snaps, snap)
		s.prices[snap.Symbol] = snap.Price
	}
	s.mu.Unlock()
	return snaps
}

// forEach runs fn for every snapshot with at most MaxWorkers in flight.
func (s *Scheduler) forEach(ctx context.Context, snaps []*market.Snapshot,
	fn func(context.Context, *market.Snapshot) SymbolResult, report *CycleReport) {
	results := make([]SymbolResult, len(snaps))
	sem := make(chan struct{}, s.workers())
	var wg sync.WaitGroup
	for i, snap := range snaps {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, snap *market.Snapshot) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					results[i] = SymbolResult{Symbol: snap.Symbol, Err: fmt.Errorf("panic: %v", r)}
					s.logger.Error("recovered panic in worker", "symbol", snap.Symbol, "panic", fmt.Sprint(r))
				}
			}()
			results[i] = fn(ctx, snap)
		}(i, snap)
	}
	wg.Wait()

	for _, r := range results {
		report.Trades += r.Trades
		if r.Err != nil {
			report.Errors++
		}
	}
}

// emergencyClose flattens every open position without consulting strategy,
// advisory or risk. It returns closed and failed counts.
func (s *Scheduler) emergencyClose(ctx context.Context, log *logging.Logger) (int, int) {
	open := s.processor.Positions.Snapshot()
	log.Warn("emergency close requested", "positions", len(open))

	closed, failed := 0, 0
	for _, st := range open {
		price := s.lastPrice(ctx, st.Symbol)
		if price <= 0 {
			price = st.EntryPrice
		}
		if err := s.processor.ForceClose(ctx, st, price, "emergency close"); err != nil {
			failed++
			continue
		}
		closed++
	}
	return closed, failed
}

func (s *Scheduler) lastPrice(ctx context.Context, symbol string) float64 {
	if snap, err := s.provider.Snapshot(ctx, symbol); err == nil && snap.Price > 0 {
		s.mu.Lock()
		s.prices[symbol] = snap.Price
		s.mu.Unlock()
		return snap.Price
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prices[symbol]
}

// refresh rebuilds presentation state from the position book. Aggregates
// are always recomputed, never maintained incrementally.
func (s *Scheduler) refresh(cycle int64) {
	s.mu.Lock()
	prices := make(map[string]float64, len(s.prices))
	for k, v := range s.prices {
		prices[k] = v
	}
	state := s.state
	s.mu.Unlock()

	positions := s.processor.Positions
	open := positions.Snapshot()
	summary := positions.Summary(prices)

	swing, scalp := 0, 0
	for _, st := range open {
		if st.Style == strategy.StyleScalp {
			scalp++
		} else {
			swing++
		}
	}
	metrics.SetBook(summary.Equity, summary.MarginUsed, swing, scalp)

	if s.view == nil {
		return
	}
	flags, _ := s.flags.Read(context.Background())
	in := presentation.Input{
		Cycle:          cycle,
		SchedulerState: string(state),
		Paused:         flags.Paused,
		Emergency:      flags.Emergency,
		Positions:      open,
		Summary:        summary,
		Prices:         prices,
	}
	if r, ok := s.provider.(fetchErrorReporter); ok {
		in.FetchErrors = r.FetchErrors()
	}
	if s.breaker != nil {
		in.CircuitState = string(s.breaker.State())
	}
	s.view.Rebuild(in)
}

func (s *Scheduler) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Info("scheduler state changed", "from", string(prev), "to", string(next))
		s.bus.PublishStateChanged(string(prev), string(next))
	}
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the scheduler status for the API.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, Running: s.running, Cycle: s.cycle.Load(), LastCycle: s.lastCycle}
}

// Prices returns the latest known price per symbol.
func (s *Scheduler) Prices() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

func (s *Scheduler) workers() int {
	n := len(s.cfg.Symbols)
	if n > s.cfg.MaxWorkers {
		n = s.cfg.MaxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (s *Scheduler) notify(level, text string) {
	if s.view != nil {
		s.view.AddMessage(level, text)
	}
}
