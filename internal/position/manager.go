package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/strategy"
)

var (
	ErrNoPosition     = errors.New("no open position")
	ErrPositionExists = errors.New("position already open")
	ErrZeroSize       = errors.New("position size must be non-zero")
	ErrInvalidPrice   = errors.New("price must be positive")
)

const persistTimeout = 2 * time.Second

// OpenRequest describes a filled entry.
type OpenRequest struct {
	Symbol        string
	Style         strategy.Style
	Size          float64 // signed
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
	Leverage      float64
	Confidence    float64
	AdvisoryTrail float64
	RiskAmount    float64
	RewardAmount  float64
	OrderID       string
}

// Summary is the aggregate view used by presentation. MarginUsed is clamped
// to Equity and AvailableCash is never negative.
type Summary struct {
	Equity        float64 `json:"equity"`
	MarginUsed    float64 `json:"margin_used"`
	AvailableCash float64 `json:"available_cash"`
	Unrealized    float64 `json:"unrealized_pnl"`
	Realized      float64 `json:"realized_pnl"`
	OpenPositions int     `json:"open_positions"`
	MarginClamped bool    `json:"margin_clamped"`
}

// Manager is the single owner of position state. Every read and write goes
// through one RWMutex.
type Manager struct {
	mu        sync.RWMutex
	positions map[string]*SymbolPositions
	reserved  map[string]float64 // margin held for entries in flight, by symbol:style
	equity    float64
	realized  float64

	store  Store
	logger *logging.Logger
	now    func() time.Time
}

// NewManager creates a manager with tracked equity set to startingEquity.
// store may be nil.
func NewManager(startingEquity float64, store Store, logger *logging.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		positions: make(map[string]*SymbolPositions),
		reserved:  make(map[string]float64),
		equity:    startingEquity,
		store:     store,
		logger:    logger.WithComponent("position"),
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Restore loads persisted positions. Call once before the first cycle.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	all, err := m.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore positions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for symbol, sp := range all {
		sp := sp
		if sp.Swing != nil && sp.Swing.Size == 0 {
			sp.Swing = nil
		}
		if sp.Scalp != nil && sp.Scalp.Size == 0 {
			sp.Scalp = nil
		}
		if sp.Empty() {
			continue
		}
		m.positions[symbol] = &sp
		for _, st := range []*State{sp.Swing, sp.Scalp} {
			if st != nil {
				n++
				logging.PositionContext(m.logger, symbol, string(st.Style), st.Size, st.EntryPrice).
					Info("position restored")
			}
		}
	}
	return n, nil
}

// Get returns a copy of both slots for symbol.
func (m *Manager) Get(symbol string) SymbolPositions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sp, ok := m.positions[symbol]; ok {
		return sp.clone()
	}
	return SymbolPositions{}
}

// Position returns a copy of the (symbol, style) position.
func (m *Manager) Position(symbol string, style strategy.Style) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st := m.slotLocked(symbol, style); st != nil {
		return *st, true
	}
	return State{}, false
}

// Size returns the signed size for (symbol, style), zero when flat.
func (m *Manager) Size(symbol string, style strategy.Style) float64 {
	st, _ := m.Position(symbol, style)
	return st.Size
}

// Holding returns the strategy view of (symbol, style).
func (m *Manager) Holding(symbol string, style strategy.Style) strategy.Holding {
	st, ok := m.Position(symbol, style)
	if !ok {
		return strategy.Holding{}
	}
	return st.Holding()
}

func (m *Manager) slotLocked(symbol string, style strategy.Style) *State {
	sp, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	return sp.Get(style)
}

// Open records a filled entry.
func (m *Manager) Open(req OpenRequest) (State, error) {
	if req.Size == 0 || math.IsNaN(req.Size) {
		return State{}, ErrZeroSize
	}
	if req.EntryPrice <= 0 {
		return State{}, ErrInvalidPrice
	}
	lev := req.Leverage
	if lev <= 0 {
		lev = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if st := m.slotLocked(req.Symbol, req.Style); st != nil {
		return State{}, fmt.Errorf("%s %s: %w", req.Symbol, req.Style, ErrPositionExists)
	}

	st := &State{
		Symbol:        req.Symbol,
		Style:         req.Style,
		Size:          req.Size,
		EntryPrice:    req.EntryPrice,
		EntryTime:     m.now(),
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		Leverage:      lev,
		Confidence:    req.Confidence,
		TrailExtreme:  req.EntryPrice,
		AdvisoryTrail: req.AdvisoryTrail,
		RiskAmount:    req.RiskAmount,
		RewardAmount:  req.RewardAmount,
		OrderID:       req.OrderID,
	}
	st.CapitalUsed = st.Margin()

	sp, ok := m.positions[req.Symbol]
	if !ok {
		sp = &SymbolPositions{}
		m.positions[req.Symbol] = sp
	}
	sp.set(req.Style, st)
	delete(m.reserved, slotKey(req.Symbol, req.Style))
	m.persistLocked(req.Symbol)

	logging.PositionContext(m.logger, req.Symbol, string(req.Style), st.Size, st.EntryPrice).
		Info("position opened", "stop_loss", st.StopLoss, "take_profit", st.TakeProfit, "leverage", lev)
	return *st, nil
}

// Reinstate puts back a position that was cleared by CheckSLTP when the
// exchange close could not be completed.
func (m *Manager) Reinstate(st State) error {
	if st.Size == 0 {
		return ErrZeroSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.slotLocked(st.Symbol, st.Style) != nil {
		return fmt.Errorf("%s %s: %w", st.Symbol, st.Style, ErrPositionExists)
	}
	sp, ok := m.positions[st.Symbol]
	if !ok {
		sp = &SymbolPositions{}
		m.positions[st.Symbol] = sp
	}
	cp := st
	sp.set(st.Style, &cp)
	m.persistLocked(st.Symbol)
	m.logger.Warn("position reinstated after failed close", "symbol", st.Symbol, "style", string(st.Style))
	return nil
}

// Close clears (symbol, style) and realizes P&L at exitPrice.
func (m *Manager) Close(symbol string, style strategy.Style, exitPrice float64, reason string) (ClosedTrade, error) {
	if exitPrice <= 0 {
		return ClosedTrade{}, ErrInvalidPrice
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.clearLocked(symbol, style)
	if st == nil {
		return ClosedTrade{}, fmt.Errorf("%s %s: %w", symbol, style, ErrNoPosition)
	}
	return m.settleLocked(*st, exitPrice, reason), nil
}

// Settle realizes P&L for a position already cleared by CheckSLTP.
func (m *Manager) Settle(st State, exitPrice float64, reason string) ClosedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settleLocked(st, exitPrice, reason)
}

func (m *Manager) settleLocked(st State, exitPrice float64, reason string) ClosedTrade {
	pnl := (exitPrice - st.EntryPrice) * st.Size
	m.equity += pnl
	m.realized += pnl

	trade := ClosedTrade{
		ID:         uuid.NewString(),
		Symbol:     st.Symbol,
		Style:      st.Style,
		Side:       st.Side(),
		Size:       math.Abs(st.Size),
		EntryPrice: st.EntryPrice,
		ExitPrice:  exitPrice,
		EntryTime:  st.EntryTime,
		ExitTime:   m.now(),
		Leverage:   st.Leverage,
		PnL:        pnl,
		Reason:     reason,
	}
	if margin := st.Margin(); margin > 0 {
		trade.PnLPct = pnl / margin * 100
	}

	logging.PositionContext(m.logger, st.Symbol, string(st.Style), st.Size, st.EntryPrice).
		Info("position closed", "exit_price", exitPrice, "pnl", pnl, "equity", m.equity, "reason", reason)
	return trade
}

// clearLocked removes the slot and returns what was there.
func (m *Manager) clearLocked(symbol string, style strategy.Style) *State {
	sp, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	st := sp.Get(style)
	if st == nil {
		return nil
	}
	sp.set(style, nil)
	if sp.Empty() {
		delete(m.positions, symbol)
	}
	m.persistLocked(symbol)
	return st
}

// UpdateTrailingStop tightens the swing stop toward price. Scalp positions
// use fixed stops and are never trailed. The stop never loosens.
func (m *Manager) UpdateTrailingStop(symbol string, style strategy.Style, price float64) (StopUpdate, bool) {
	if style != strategy.StyleSwing || price <= 0 {
		return StopUpdate{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.slotLocked(symbol, style)
	if st == nil {
		return StopUpdate{}, false
	}

	trail := strategy.TrailPct(st.Confidence, st.AdvisoryTrail)
	var candidate float64
	if st.IsLong() {
		if price > st.TrailExtreme {
			st.TrailExtreme = price
		}
		candidate = st.TrailExtreme * (1 - trail)
		if candidate <= st.StopLoss {
			return StopUpdate{}, false
		}
	} else {
		if st.TrailExtreme == 0 || price < st.TrailExtreme {
			st.TrailExtreme = price
		}
		candidate = st.TrailExtreme * (1 + trail)
		if st.StopLoss > 0 && candidate >= st.StopLoss {
			return StopUpdate{}, false
		}
	}

	upd := StopUpdate{
		Symbol:   symbol,
		OldStop:  st.StopLoss,
		NewStop:  candidate,
		Extreme:  st.TrailExtreme,
		TrailPct: trail,
	}
	st.StopLoss = candidate
	m.persistLocked(symbol)

	m.logger.Debug("trailing stop moved",
		"symbol", symbol, "old_stop", upd.OldStop, "new_stop", upd.NewStop, "extreme", upd.Extreme)
	return upd, true
}

// CheckSLTP returns a close instruction when price has crossed the stop or
// target, clearing the position in the same critical section. A second call
// at the same price finds nothing.
func (m *Manager) CheckSLTP(symbol string, style strategy.Style, price float64) (Exit, bool) {
	if price <= 0 {
		return Exit{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.slotLocked(symbol, style)
	if st == nil {
		return Exit{}, false
	}

	var kind ExitKind
	if st.IsLong() {
		switch {
		case st.StopLoss > 0 && price <= st.StopLoss:
			kind = ExitStopLoss
		case st.TakeProfit > 0 && price >= st.TakeProfit:
			kind = ExitTakeProfit
		}
	} else {
		switch {
		case st.StopLoss > 0 && price >= st.StopLoss:
			kind = ExitStopLoss
		case st.TakeProfit > 0 && price <= st.TakeProfit:
			kind = ExitTakeProfit
		}
	}
	if kind == "" {
		return Exit{}, false
	}

	cleared := m.clearLocked(symbol, style)
	m.logger.Info("protective exit triggered",
		"symbol", symbol, "style", string(style), "kind", string(kind), "price", price)
	return Exit{State: *cleared, Kind: kind, TriggerPrice: price}, true
}

// Equity returns tracked equity.
func (m *Manager) Equity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

// SetEquity overwrites tracked equity, e.g. from an exchange balance.
func (m *Manager) SetEquity(equity float64) {
	m.mu.Lock()
	m.equity = equity
	m.mu.Unlock()
}

// ApplyRealized adjusts tracked equity by pnl.
func (m *Manager) ApplyRealized(pnl float64) {
	m.mu.Lock()
	m.equity += pnl
	m.realized += pnl
	m.mu.Unlock()
}

func slotKey(symbol string, style strategy.Style) string {
	return symbol + ":" + string(style)
}

// Reserve holds margin for an entry whose order is still in flight so that
// concurrent entries see it in TotalMargin. Open consumes the reservation
// for the same slot; the returned release drops it if the order fails.
func (m *Manager) Reserve(symbol string, style strategy.Style, margin float64) (release func()) {
	key := slotKey(symbol, style)
	m.mu.Lock()
	m.reserved[key] = math.Max(margin, 0)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.reserved, key)
		m.mu.Unlock()
	}
}

// Reserved sums margin held by entries in flight.
func (m *Manager) Reserved() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, v := range m.reserved {
		total += v
	}
	return total
}

// TotalMargin sums margin across every open position plus reservations,
// unclamped.
func (m *Manager) TotalMargin() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := m.openMarginLocked()
	for _, v := range m.reserved {
		total += v
	}
	return total
}

func (m *Manager) openMarginLocked() float64 {
	total := 0.0
	for _, sp := range m.positions {
		for _, st := range []*State{sp.Swing, sp.Scalp} {
			if st != nil {
				total += st.Margin()
			}
		}
	}
	return total
}

// StyleMargin sums margin for one style.
func (m *Manager) StyleMargin(style strategy.Style) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, sp := range m.positions {
		if st := sp.Get(style); st != nil {
			total += st.Margin()
		}
	}
	return total
}

// UnrealizedPnL for (symbol, style) at price. Zero when flat.
func (m *Manager) UnrealizedPnL(symbol string, style strategy.Style, price float64) float64 {
	st, ok := m.Position(symbol, style)
	if !ok {
		return 0
	}
	return st.UnrealizedPnL(price)
}

// Snapshot returns copies of every open position ordered by symbol then
// style.
func (m *Manager) Snapshot() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]State, 0, len(m.positions)*2)
	for _, sp := range m.positions {
		if sp.Swing != nil {
			out = append(out, *sp.Swing)
		}
		if sp.Scalp != nil {
			out = append(out, *sp.Scalp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Style < out[j].Style
	})
	return out
}

// Summary computes aggregates from current state. prices supplies the
// latest price per symbol for unrealized P&L; missing symbols contribute
// nothing.
func (m *Manager) Summary(prices map[string]float64) Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{Equity: m.equity, Realized: m.realized}
	margin := m.openMarginLocked()
	for symbol, sp := range m.positions {
		for _, st := range []*State{sp.Swing, sp.Scalp} {
			if st == nil {
				continue
			}
			s.OpenPositions++
			s.Unrealized += st.UnrealizedPnL(prices[symbol])
		}
	}

	equity := math.Max(m.equity, 0)
	if margin > equity {
		m.logger.Warn("margin exceeds equity, clamping", "margin", margin, "equity", m.equity)
		margin = equity
		s.MarginClamped = true
	}
	s.MarginUsed = margin
	s.AvailableCash = math.Max(equity-margin, 0)
	return s
}

func (m *Manager) persistLocked(symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if sp, ok := m.positions[symbol]; ok {
		err = m.store.Save(ctx, symbol, sp.clone())
	} else {
		err = m.store.Delete(ctx, symbol)
	}
	if err != nil {
		m.logger.Warn("position persist failed", "symbol", symbol, "error", err)
	}
}
