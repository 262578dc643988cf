// Package cache wraps Redis with a failure-counting health circuit so that
// callers can fall back to process memory when Redis is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"futures-trading-agent/config"
	"futures-trading-agent/internal/logging"
)

// ErrUnavailable is returned while the health circuit is open.
var ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")

// ErrMiss is returned when a key does not exist.
var ErrMiss = redis.Nil

// Key layout shared by every process of the agent.
const (
	PrefixPosition  = "agent:position:%s"
	KeyPositionList = "agent:positions"
	PrefixFlag      = "agent:flag:%s"
)

// Default TTLs
const (
	DefaultPositionTTL = 7 * 24 * time.Hour
)

// CacheService provides Redis access with graceful degradation.
type CacheService struct {
	client       *redis.Client
	address      string
	poolSize     int
	logger       *logging.Logger
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	// Circuit breaker settings
	maxFailures   int
	checkInterval time.Duration
}

// NewCacheService connects to Redis. A failed initial ping still returns a
// service in degraded mode.
func NewCacheService(cfg config.RedisConfig, logger *logging.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := newService(client, cfg.Address, cfg.PoolSize, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.Warn("initial redis connection failed", "address", cfg.Address, "error", err)
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	cs.logger.Info("redis connected", "address", cfg.Address)
	return cs, nil
}

// NewFromClient wraps an existing client, assumed healthy.
func NewFromClient(client *redis.Client, logger *logging.Logger) *CacheService {
	if logger == nil {
		logger = logging.Nop()
	}
	cs := newService(client, client.Options().Addr, client.Options().PoolSize, logger)
	cs.healthy = true
	cs.lastCheck = time.Now()
	return cs
}

func newService(client *redis.Client, addr string, poolSize int, logger *logging.Logger) *CacheService {
	return &CacheService{
		client:        client,
		address:       addr,
		poolSize:      poolSize,
		logger:        logger.WithComponent("redis"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}
}

// IsHealthy returns whether Redis is currently available.
func (cs *CacheService) IsHealthy() bool {
	if cs == nil {
		return false
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

// recordFailure tracks a Redis operation failure for circuit breaker.
func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn("redis marked unhealthy", "failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

// recordSuccess resets the failure counter on successful operation.
func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		cs.logger.Info("redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth performs a background health check if enough time has passed.
func (cs *CacheService) checkHealth() {
	cs.mu.RLock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	cs.mu.RUnlock()
	if !shouldCheck {
		return
	}

	cs.mu.Lock()
	cs.lastCheck = time.Now()
	cs.mu.Unlock()

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

func (cs *CacheService) ready() error {
	if cs == nil || cs.client == nil {
		return ErrUnavailable
	}
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrUnavailable
	}
	return nil
}

// Get retrieves a value. A missing key returns ErrMiss.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	if err := cs.ready(); err != nil {
		return "", err
	}
	result, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		cs.recordFailure()
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	cs.recordSuccess()
	return result, nil
}

// Exists reports whether key is set.
func (cs *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	if err := cs.ready(); err != nil {
		return false, err
	}
	n, err := cs.client.Exists(ctx, key).Result()
	if err != nil {
		cs.recordFailure()
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	cs.recordSuccess()
	return n > 0, nil
}

// Set stores a value with TTL. Non-string values are JSON encoded.
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := cs.ready(); err != nil {
		return err
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := cs.client.Set(ctx, key, data, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// SetMember stores a value and adds member to the set at setKey in one
// transaction.
func (cs *CacheService) SetMember(ctx context.Context, key string, value interface{}, ttl time.Duration, setKey, member string) error {
	if err := cs.ready(); err != nil {
		return err
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	pipe := cs.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.SAdd(ctx, setKey, member)
	pipe.Expire(ctx, setKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set member failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// DeleteMember removes key and drops member from the set at setKey.
func (cs *CacheService) DeleteMember(ctx context.Context, key, setKey, member string) error {
	if err := cs.ready(); err != nil {
		return err
	}
	pipe := cs.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, setKey, member)
	if _, err := pipe.Exec(ctx); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis delete member failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// Members lists the set at key.
func (cs *CacheService) Members(ctx context.Context, key string) ([]string, error) {
	if err := cs.ready(); err != nil {
		return nil, err
	}
	out, err := cs.client.SMembers(ctx, key).Result()
	if err != nil {
		cs.recordFailure()
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	cs.recordSuccess()
	return out, nil
}

// Delete removes keys.
func (cs *CacheService) Delete(ctx context.Context, keys ...string) error {
	if err := cs.ready(); err != nil {
		return err
	}
	if err := cs.client.Del(ctx, keys...).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// GetJSON retrieves and unmarshals a JSON value.
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := cs.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

func encode(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("failed to marshal value: %w", err)
		}
		return string(data), nil
	}
}

// Close closes the Redis connection.
func (cs *CacheService) Close() error {
	if cs != nil && cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Ping checks Redis connectivity.
func (cs *CacheService) Ping(ctx context.Context) error {
	if cs == nil || cs.client == nil {
		return ErrUnavailable
	}
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Stats returns cache statistics for monitoring.
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

// GetStats returns current cache statistics.
func (cs *CacheService) GetStats() Stats {
	if cs == nil {
		return Stats{}
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return Stats{
		Healthy:      cs.healthy,
		FailureCount: cs.failureCount,
		Address:      cs.address,
		PoolSize:     cs.poolSize,
	}
}

// PositionKey returns the key holding one symbol's positions.
func PositionKey(symbol string) string {
	return fmt.Sprintf(PrefixPosition, symbol)
}

// FlagKey returns the key for an operator flag.
func FlagKey(name string) string {
	return fmt.Sprintf(PrefixFlag, name)
}
