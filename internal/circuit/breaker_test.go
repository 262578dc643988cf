package circuit

import (
	"strings"
	"testing"
	"time"
)

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cb := NewBreaker(cfg, nil)
	cb.SetClock(func() time.Time { return now })
	return cb, &now
}

func TestBreakerTripsOnConsecutiveLosses(t *testing.T) {
	cb, now := newTestBreaker(Config{Enabled: true, MaxConsecutiveLosses: 3, CooldownMinutes: 10})

	cb.RecordTrade(-0.5)
	cb.RecordTrade(-0.5)
	if ok, _ := cb.CanTrade(); !ok {
		t.Fatal("breaker open after two losses")
	}
	cb.RecordTrade(-0.5)
	ok, reason := cb.CanTrade()
	if ok || !strings.Contains(reason, "consecutive losses") {
		t.Fatalf("CanTrade = %v, %q; want open on consecutive losses", ok, reason)
	}

	*now = now.Add(11 * time.Minute)
	if ok, _ := cb.CanTrade(); !ok {
		t.Fatal("breaker still open after cooldown")
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}

	cb.RecordTrade(1.2)
	if got := cb.State(); got != StateClosed {
		t.Errorf("state after winning probe = %s, want closed", got)
	}
}

func TestBreakerHalfOpenLossReopens(t *testing.T) {
	cb, now := newTestBreaker(Config{Enabled: true, MaxConsecutiveLosses: 1, CooldownMinutes: 5})

	cb.RecordTrade(-1)
	*now = now.Add(6 * time.Minute)
	cb.CanTrade()
	cb.RecordTrade(-1)
	if got := cb.State(); got != StateOpen {
		t.Errorf("state after losing probe = %s, want open", got)
	}
}

func TestBreakerDailyLossResets(t *testing.T) {
	cb, now := newTestBreaker(Config{Enabled: true, MaxDailyLossPct: 3, CooldownMinutes: 1})

	cb.RecordTrade(-2)
	cb.RecordTrade(1)
	cb.RecordTrade(-1.5)
	if got := cb.Stats(); got.State != StateOpen || got.DailyLossPct != 3.5 {
		t.Fatalf("stats = %+v, want open with 3.5%% daily loss", got)
	}

	*now = now.Add(24 * time.Hour)
	if ok, reason := cb.CanTrade(); !ok {
		t.Fatalf("CanTrade next day = false (%s)", reason)
	}
	if got := cb.Stats().DailyLossPct; got != 0 {
		t.Errorf("daily loss after rollover = %v, want 0", got)
	}
}

func TestBreakerDisabled(t *testing.T) {
	cb, _ := newTestBreaker(Config{Enabled: false, MaxConsecutiveLosses: 1})
	cb.RecordTrade(-10)
	if ok, _ := cb.CanTrade(); !ok {
		t.Error("disabled breaker blocked trading")
	}
}

func TestForceReset(t *testing.T) {
	cb, _ := newTestBreaker(Config{Enabled: true, MaxConsecutiveLosses: 1, CooldownMinutes: 60})
	cb.RecordTrade(-1)
	cb.ForceReset()
	if ok, _ := cb.CanTrade(); !ok {
		t.Error("breaker blocked after ForceReset")
	}
}
