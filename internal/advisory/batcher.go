package advisory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/strategy"
)

// BatchStats counts routing decisions.
type BatchStats struct {
	Immediate int64 `json:"immediate"`
	Batched   int64 `json:"batched"`
	Batches   int64 `json:"batches"`
}

type waiter struct {
	ctx  context.Context
	req  Request
	done chan Result
}

type batch struct {
	waiters []waiter
	timer   *time.Timer
}

// Batcher coalesces hold reviews into windowed batches. Trade actions are
// always passed straight through.
type Batcher struct {
	next    Reviewer
	window  time.Duration
	maxSize int
	logger  *logging.Logger

	mu      sync.Mutex
	pending map[string]*batch

	immediate atomic.Int64
	batched   atomic.Int64
	batches   atomic.Int64
}

// NewBatcher wraps next. Zero values fall back to a 2s window and 6 requests.
func NewBatcher(next Reviewer, window time.Duration, maxSize int, logger *logging.Logger) *Batcher {
	if window <= 0 {
		window = 2 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 6
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Batcher{
		next:    next,
		window:  window,
		maxSize: maxSize,
		logger:  logger.WithComponent("advisory-batcher"),
		pending: make(map[string]*batch),
	}
}

// Review implements Reviewer.
func (b *Batcher) Review(ctx context.Context, req Request) Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Signal.Action != strategy.ActionHold {
		b.immediate.Add(1)
		return b.next.Review(ctx, req)
	}

	b.batched.Add(1)
	key := "hold_" + string(req.Signal.Style)
	w := waiter{ctx: ctx, req: req, done: make(chan Result, 1)}

	b.mu.Lock()
	bt, ok := b.pending[key]
	if !ok {
		bt = &batch{}
		b.pending[key] = bt
		bt.timer = time.AfterFunc(b.window, func() { b.flush(key, bt) })
	}
	bt.waiters = append(bt.waiters, w)
	full := len(bt.waiters) >= b.maxSize
	b.mu.Unlock()

	if full {
		go b.flush(key, bt)
	}

	select {
	case r := <-w.done:
		return r
	case <-ctx.Done():
		// holds carry no trade risk
		return Result{Verdict: Verdict{Approved: true, Outcome: OutcomeSkipped}, Err: ctx.Err()}
	}
}

// flush runs one batch. A batch is flushed at most once.
func (b *Batcher) flush(key string, bt *batch) {
	b.mu.Lock()
	if b.pending[key] != bt {
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	bt.timer.Stop()
	waiters := bt.waiters
	b.mu.Unlock()

	b.batches.Add(1)
	b.logger.Debug("flushing advisory batch", "key", key, "size", len(waiters))
	for _, w := range waiters {
		if w.ctx.Err() != nil {
			continue
		}
		w.done <- b.next.Review(w.ctx, w.req)
	}
}

// Stats returns routing counters.
func (b *Batcher) Stats() BatchStats {
	return BatchStats{
		Immediate: b.immediate.Load(),
		Batched:   b.batched.Load(),
		Batches:   b.batches.Load(),
	}
}
