package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"futures-trading-agent/internal/logging"
)

// CachingProvider serves the last good snapshot when the inner provider fails.
type CachingProvider struct {
	inner  Provider
	logger *logging.Logger

	mu       sync.RWMutex
	lastGood map[string]*Snapshot
	errors   map[string]string
}

// NewCachingProvider wraps inner with last-good fallback.
func NewCachingProvider(inner Provider, logger *logging.Logger) *CachingProvider {
	return &CachingProvider{
		inner:    inner,
		logger:   logger.WithComponent("market"),
		lastGood: make(map[string]*Snapshot),
		errors:   make(map[string]string),
	}
}

// Snapshot fetches fresh data, falling back to the cached snapshot marked
// Stale. Returns ErrNoSnapshot when nothing was ever fetched for symbol.
func (p *CachingProvider) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	snap, err := p.inner.Snapshot(ctx, symbol)
	if err == nil && snap != nil && snap.Price > 0 {
		p.mu.Lock()
		p.lastGood[symbol] = snap
		delete(p.errors, symbol)
		p.mu.Unlock()
		return snap, nil
	}
	if err == nil {
		err = fmt.Errorf("invalid snapshot for %s", symbol)
	}

	p.mu.Lock()
	p.errors[symbol] = err.Error()
	cached, ok := p.lastGood[symbol]
	p.mu.Unlock()

	if !ok {
		p.logger.Warn("Snapshot fetch failed with no cached fallback", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("%s: %w: %v", symbol, ErrNoSnapshot, err)
	}

	p.logger.Warn("Snapshot fetch failed, using last good snapshot",
		"symbol", symbol,
		"error", err,
		"age", time.Since(cached.Timestamp).Round(time.Second))
	return cached.WithStale(), nil
}

// FetchErrors returns the most recent fetch error per symbol.
func (p *CachingProvider) FetchErrors() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.errors))
	for k, v := range p.errors {
		out[k] = v
	}
	return out
}

// LastPrice returns the last good price for symbol.
func (p *CachingProvider) LastPrice(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.lastGood[symbol]; ok {
		return s.Price, true
	}
	return 0, false
}
