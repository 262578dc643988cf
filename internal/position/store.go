package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"futures-trading-agent/internal/cache"
	"futures-trading-agent/internal/logging"
)

// Store persists position state for crash recovery.
type Store interface {
	Save(ctx context.Context, symbol string, positions SymbolPositions) error
	Delete(ctx context.Context, symbol string) error
	LoadAll(ctx context.Context) (map[string]SymbolPositions, error)
}

// persistedPositions is the stored form of one symbol's slots.
type persistedPositions struct {
	SymbolPositions
	SavedAt time.Time `json:"saved_at"`
}

// MemoryStore keeps state in process memory only.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]SymbolPositions
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]SymbolPositions)}
}

func (s *MemoryStore) Save(_ context.Context, symbol string, p SymbolPositions) error {
	s.mu.Lock()
	s.items[symbol] = p.clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, symbol string) error {
	s.mu.Lock()
	delete(s.items, symbol)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LoadAll(_ context.Context) (map[string]SymbolPositions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]SymbolPositions, len(s.items))
	for k, v := range s.items {
		out[k] = v.clone()
	}
	return out, nil
}

// RedisStore writes each symbol's positions as JSON under its own key and
// tracks symbols in a set. Every write also lands in an in-memory copy so
// that a Redis outage never loses state for the running process.
type RedisStore struct {
	redis          *cache.CacheService
	fallback       *MemoryStore
	redisAvailable atomic.Bool
	logger         *logging.Logger
}

// NewRedisStore wraps svc. A nil svc gives a memory-only store.
func NewRedisStore(svc *cache.CacheService, logger *logging.Logger) *RedisStore {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &RedisStore{
		redis:    svc,
		fallback: NewMemoryStore(),
		logger:   logger.WithComponent("position-store"),
	}
	s.redisAvailable.Store(svc.IsHealthy())
	if !s.redisAvailable.Load() {
		s.logger.Warn("redis unavailable, position state kept in memory only")
	}
	return s
}

// IsRedisAvailable reports whether the last Redis operation succeeded.
func (s *RedisStore) IsRedisAvailable() bool {
	return s.redisAvailable.Load()
}

func (s *RedisStore) Save(ctx context.Context, symbol string, p SymbolPositions) error {
	_ = s.fallback.Save(ctx, symbol, p)
	if !s.usable() {
		return nil
	}
	rec := persistedPositions{SymbolPositions: p, SavedAt: time.Now()}
	err := s.redis.SetMember(ctx, cache.PositionKey(symbol), rec, cache.DefaultPositionTTL, cache.KeyPositionList, symbol)
	s.track(err, "save", symbol)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, symbol string) error {
	_ = s.fallback.Delete(ctx, symbol)
	if !s.usable() {
		return nil
	}
	err := s.redis.DeleteMember(ctx, cache.PositionKey(symbol), cache.KeyPositionList, symbol)
	s.track(err, "delete", symbol)
	return nil
}

// LoadAll prefers Redis and falls back to the in-memory copy.
func (s *RedisStore) LoadAll(ctx context.Context) (map[string]SymbolPositions, error) {
	if !s.usable() {
		return s.fallback.LoadAll(ctx)
	}
	symbols, err := s.redis.Members(ctx, cache.KeyPositionList)
	if err != nil {
		s.track(err, "list", "")
		return s.fallback.LoadAll(ctx)
	}

	out := make(map[string]SymbolPositions, len(symbols))
	for _, symbol := range symbols {
		var rec persistedPositions
		if err := s.redis.GetJSON(ctx, cache.PositionKey(symbol), &rec); err != nil {
			if errors.Is(err, cache.ErrMiss) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", symbol, err)
		}
		out[symbol] = rec.SymbolPositions
		_ = s.fallback.Save(ctx, symbol, rec.SymbolPositions)
	}
	s.logger.Info("loaded position state from redis", "symbols", len(out))
	return out, nil
}

// usable reports whether Redis should be attempted. The service's own
// health circuit short-circuits calls and probes for recovery.
func (s *RedisStore) usable() bool {
	return s.redis != nil
}

func (s *RedisStore) track(err error, op, symbol string) {
	if err != nil {
		if s.redisAvailable.Swap(false) {
			s.logger.Warn("redis position write failed, using in-memory state", "op", op, "symbol", symbol, "error", err)
		}
		return
	}
	s.redisAvailable.Store(true)
}
