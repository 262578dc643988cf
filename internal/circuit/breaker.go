package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"futures-trading-agent/internal/events"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // New entries halted
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"` // Max losing closes in a row
	MaxDailyLossPct      float64 `json:"max_daily_loss_pct"`     // Cumulative daily loss, percent of equity
	CooldownMinutes      int     `json:"cooldown_minutes"`       // Cooldown after trip
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxConsecutiveLosses: 5,
		MaxDailyLossPct:      5.0,
		CooldownMinutes:      30,
	}
}

// Stats is a snapshot of the breaker's counters.
type Stats struct {
	State             BreakerState `json:"state"`
	ConsecutiveLosses int          `json:"consecutive_losses"`
	DailyLossPct      float64      `json:"daily_loss_pct"`
	DailyTrades       int          `json:"daily_trades"`
	TripReason        string       `json:"trip_reason,omitempty"`
	LastTripTime      time.Time    `json:"last_trip_time"`
}

// Breaker halts new entries after a run of losing closes or too much
// cumulative daily loss. Closes are never blocked.
type Breaker struct {
	config            Config
	bus               *events.EventBus
	now               func() time.Time
	state             BreakerState
	consecutiveLosses int
	dailyLoss         float64
	dailyTrades       int
	lastTripTime      time.Time
	dailyResetTime    time.Time
	tripReason        string
	mu                sync.Mutex
}

// NewBreaker creates a new circuit breaker. bus may be nil.
func NewBreaker(config Config, bus *events.EventBus) *Breaker {
	cb := &Breaker{
		config: config,
		bus:    bus,
		now:    time.Now,
		state:  StateClosed,
	}
	cb.dailyResetTime = nextUTCMidnight(cb.now())
	return cb
}

// SetClock replaces the breaker's time source.
func (cb *Breaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
	cb.dailyResetTime = nextUTCMidnight(now())
}

func nextUTCMidnight(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}

// CanTrade checks if new entries are allowed
func (cb *Breaker) CanTrade() (bool, string) {
	if !cb.config.Enabled {
		return true, ""
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.resetCountersIfNeeded()

	if cb.state == StateOpen {
		elapsed := cb.now().Sub(cb.lastTripTime)
		cooldown := time.Duration(cb.config.CooldownMinutes) * time.Minute

		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), cb.tripReason)
		}

		// Cooldown passed, allow one probe
		cb.state = StateHalfOpen
		cb.consecutiveLosses = 0
		cb.bus.PublishCircuitBreaker(string(StateHalfOpen), "probing", cb.tripReason)
	}

	if cb.config.MaxDailyLossPct > 0 && cb.dailyLoss >= cb.config.MaxDailyLossPct && cb.state != StateHalfOpen {
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%",
			cb.dailyLoss, cb.config.MaxDailyLossPct)
	}

	return true, ""
}

// RecordTrade records a closed trade's P&L as a percent of equity
func (cb *Breaker) RecordTrade(pnlPercent float64) {
	if !cb.config.Enabled {
		return
	}
	if math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.resetCountersIfNeeded()
	cb.dailyTrades++

	if pnlPercent < 0 {
		cb.consecutiveLosses++
		cb.dailyLoss += -pnlPercent
		if cb.state == StateHalfOpen {
			cb.trip("loss while half-open")
			return
		}
	} else {
		cb.consecutiveLosses = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.tripReason = ""
			cb.bus.PublishCircuitBreaker(string(StateClosed), "recovered", "winning_trade_after_cooldown")
		}
	}

	cb.checkAndTrip()
}

// checkAndTrip checks conditions and trips if needed
func (cb *Breaker) checkAndTrip() {
	if cb.state == StateOpen {
		return
	}
	var reason string
	if cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		reason = fmt.Sprintf("consecutive losses: %d", cb.consecutiveLosses)
	} else if cb.config.MaxDailyLossPct > 0 && cb.dailyLoss >= cb.config.MaxDailyLossPct {
		reason = fmt.Sprintf("daily loss: %.2f%%", cb.dailyLoss)
	}
	if reason != "" {
		cb.trip(reason)
	}
}

// trip opens the circuit breaker
func (cb *Breaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTripTime = cb.now()
	cb.tripReason = reason
	cb.bus.PublishCircuitBreaker(string(StateOpen), "tripped", reason)
}

// resetCountersIfNeeded resets the daily counters at the UTC boundary
func (cb *Breaker) resetCountersIfNeeded() {
	now := cb.now()
	if now.After(cb.dailyResetTime) {
		cb.dailyLoss = 0
		cb.dailyTrades = 0
		cb.dailyResetTime = nextUTCMidnight(now)
	}
}

// ForceReset manually resets the circuit breaker
func (cb *Breaker) ForceReset() {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.consecutiveLosses = 0
	cb.tripReason = ""
	cb.mu.Unlock()

	cb.bus.PublishCircuitBreaker(string(StateClosed), "reset", "manual_reset")
}

// State returns current breaker state
func (cb *Breaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns current statistics
func (cb *Breaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:             cb.state,
		ConsecutiveLosses: cb.consecutiveLosses,
		DailyLossPct:      cb.dailyLoss,
		DailyTrades:       cb.dailyTrades,
		TripReason:        cb.tripReason,
		LastTripTime:      cb.lastTripTime,
	}
}
