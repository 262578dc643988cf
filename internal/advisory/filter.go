package advisory

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/time/rate"

	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/market"
	"futures-trading-agent/internal/strategy"
)

// ErrTimeout marks a result produced after every attempt timed out.
var ErrTimeout = errors.New("advisory timed out after retries")

// Completer is the external advisory model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Reviewer is anything that can vet a signal. Filter, Batcher and test
// fakes implement it.
type Reviewer interface {
	Review(ctx context.Context, req Request) Result
}

// Request carries everything the advisory needs about one signal.
type Request struct {
	ID              string
	Snapshot        *market.Snapshot
	Signal          strategy.Signal
	PositionSize    float64
	Equity          float64
	TotalMarginUsed float64
	AllSymbols      []string
	Quality         float64
}

// Config bounds the retry policy.
type Config struct {
	BaseTimeout   time.Duration
	TimeoutStep   time.Duration
	MaxRetries    int
	RatePerMinute int
}

// Filter calls the advisory model with escalating timeouts. Timeouts on
// every attempt veto; any other failure approves.
type Filter struct {
	completer Completer
	cfg       Config
	limiter   *rate.Limiter
	cache     *Cache
	logger    *logging.Logger
}

// NewFilter builds a filter. cache may be nil.
func NewFilter(c Completer, cfg Config, cache *Cache, logger *logging.Logger) *Filter {
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Filter{
		completer: c,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		cache:     cache,
		logger:    logger.WithComponent("advisory"),
	}
}

// Review implements Reviewer.
func (f *Filter) Review(ctx context.Context, req Request) Result {
	start := time.Now()
	log := f.logger.WithFields(map[string]interface{}{
		"symbol": req.Signal.Symbol,
		"style":  string(req.Signal.Style),
		"action": string(req.Signal.Action),
	})

	if f.cache != nil {
		if v, ok := f.cache.Get(req); ok {
			log.Debug("advisory cache hit", "approved", v.Approved)
			return Result{Verdict: v, Cached: true, Latency: time.Since(start)}
		}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return canceled(err, start)
	}

	system, user := BuildPrompt(req)
	attempts := f.cfg.MaxRetries + 1
	for i := 0; i < attempts; i++ {
		timeout := f.cfg.BaseTimeout + time.Duration(i)*f.cfg.TimeoutStep
		actx, cancel := context.WithTimeout(ctx, timeout)
		text, err := f.completer.Complete(actx, system, user)
		cancel()

		if err == nil {
			v := ParseVerdict(text, req.Signal.Confidence)
			if f.cache != nil {
				f.cache.Put(req, v)
			}
			if v.Outcome == OutcomeUnclear {
				log.Warn("advisory response unclear, approving", "response", firstLine(text))
			} else {
				log.Info("advisory verdict", "outcome", string(v.Outcome), "attempt", i+1)
			}
			return Result{Verdict: v, Latency: time.Since(start)}
		}

		if ctx.Err() != nil {
			return canceled(ctx.Err(), start)
		}
		if isTimeout(err) {
			log.Warn("advisory attempt timed out", "attempt", i+1, "timeout", timeout.String())
			continue
		}
		log.Error("advisory call failed, approving", "error", err)
		return Result{
			Verdict: Verdict{Approved: true, Outcome: OutcomeError},
			Latency: time.Since(start),
			Err:     err,
		}
	}

	log.Warn("advisory exhausted retries on timeout, vetoing", "attempts", attempts)
	return Result{
		Verdict: Verdict{Approved: false, Outcome: OutcomeTimeout},
		Latency: time.Since(start),
		Err:     ErrTimeout,
	}
}

// canceled vetoes when the caller's own context ends; nothing should trade
// during shutdown.
func canceled(err error, start time.Time) Result {
	return Result{
		Verdict: Verdict{Approved: false, Outcome: OutcomeCanceled},
		Latency: time.Since(start),
		Err:     err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
