package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeOpened          EventType = "TRADE_OPENED"
	EventTradeClosed          EventType = "TRADE_CLOSED"
	EventSignalGenerated      EventType = "SIGNAL_GENERATED"
	EventAdvisoryVerdict      EventType = "ADVISORY_VERDICT"
	EventRiskRejected         EventType = "RISK_REJECTED"
	EventStopMoved            EventType = "STOP_MOVED"
	EventCycleCompleted       EventType = "CYCLE_COMPLETED"
	EventStateChanged         EventType = "STATE_CHANGED"
	EventCircuitBreakerUpdate EventType = "CIRCUIT_BREAKER_UPDATE"
	EventAgentMessage         EventType = "AGENT_MESSAGE"
	EventError                EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run on their own
// goroutines and must not assume ordering. A nil bus drops the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(symbol, style, side string, entryPrice, quantity, leverage float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"style":       style,
			"side":        side,
			"entry_price": entryPrice,
			"quantity":    quantity,
			"leverage":    leverage,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(symbol, style, reason string, entryPrice, exitPrice, quantity, pnl float64) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"style":       style,
			"reason":      reason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"quantity":    quantity,
			"pnl":         pnl,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(symbol, style, action, reason string, confidence, price float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"style":      style,
			"action":     action,
			"reason":     reason,
			"confidence": confidence,
			"price":      price,
		},
	})
}

// PublishAdvisory publishes the advisory outcome for one signal
func (eb *EventBus) PublishAdvisory(symbol, style, outcome string, approved, cached bool) {
	eb.Publish(Event{
		Type: EventAdvisoryVerdict,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"style":    style,
			"outcome":  outcome,
			"approved": approved,
			"cached":   cached,
		},
	})
}

// PublishRiskRejected publishes a risk gate rejection
func (eb *EventBus) PublishRiskRejected(symbol, style, action, reason string) {
	eb.Publish(Event{
		Type: EventRiskRejected,
		Data: map[string]interface{}{
			"symbol": symbol,
			"style":  style,
			"action": action,
			"reason": reason,
		},
	})
}

// PublishStopMoved publishes a trailing stop update
func (eb *EventBus) PublishStopMoved(symbol string, oldStop, newStop float64) {
	eb.Publish(Event{
		Type: EventStopMoved,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"old_stop": oldStop,
			"new_stop": newStop,
		},
	})
}

// PublishCycle publishes a completed scheduler cycle
func (eb *EventBus) PublishCycle(cycle int64, state string, duration time.Duration, trades int) {
	eb.Publish(Event{
		Type: EventCycleCompleted,
		Data: map[string]interface{}{
			"cycle":       cycle,
			"state":       state,
			"duration_ms": duration.Milliseconds(),
			"trades":      trades,
		},
	})
}

// PublishStateChanged publishes a scheduler state transition
func (eb *EventBus) PublishStateChanged(from, to string) {
	eb.Publish(Event{
		Type: EventStateChanged,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishCircuitBreaker publishes a breaker transition
func (eb *EventBus) PublishCircuitBreaker(state, action, reason string) {
	eb.Publish(Event{
		Type: EventCircuitBreakerUpdate,
		Data: map[string]interface{}{
			"state":  state,
			"action": action,
			"reason": reason,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
			"error":   errStr,
		},
	})
}
