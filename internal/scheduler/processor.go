package scheduler

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"futures-trading-agent/internal/advisory"
	"futures-trading-agent/internal/circuit"
	"futures-trading-agent/internal/events"
	"futures-trading-agent/internal/exchange"
	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/market"
	"futures-trading-agent/internal/metrics"
	"futures-trading-agent/internal/portfolio"
	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/qualifier"
	"futures-trading-agent/internal/risk"
	"futures-trading-agent/internal/strategy"
)

var flipRe = regexp.MustCompile(`(?i)flip_to=(long|short)`)

// TradeSink receives every completed trade.
type TradeSink interface {
	RecordTrade(ctx context.Context, t position.ClosedTrade) error
}

// Notifier receives human-readable agent messages.
type Notifier interface {
	AddMessage(level, text string)
}

// ProcessorConfig tunes the per-symbol pipeline.
type ProcessorConfig struct {
	Symbols           []string
	MaxEquityUsagePct float64
	MaxLeverage       float64
	ReviewHolds       bool
	ScalpAutoFlip     bool
	SkipUnchangedLLM  bool
}

// Deps wires the processor to its collaborators. Advisory, Holds, Breaker,
// Bus and Notifier are optional.
type Deps struct {
	Swing     strategy.SwingAnalyzer
	Scalp     strategy.ScalpAnalyzer
	Advisory  advisory.Reviewer
	Holds     advisory.Reviewer
	Risk      *risk.Gate
	Allocator *portfolio.Allocator
	Gateway   exchange.Gateway
	Positions *position.Manager
	Breaker   *circuit.Breaker
	Bus       *events.EventBus
	Notifier  Notifier
	Sinks     []TradeSink
	Logger    *logging.Logger
}

// SymbolResult summarises one symbol's work in a cycle.
type SymbolResult struct {
	Symbol string
	Trades int
	Err    error
}

// Processor runs the full decision pipeline for one symbol: protective
// exits first, then swing, then scalp.
type Processor struct {
	cfg ProcessorConfig
	Deps
	logger *logging.Logger
	now    func() time.Time

	mu         sync.Mutex
	lastReview map[string]reviewMark

	// entryMu makes risk validation, allocation and the margin reservation
	// one step across symbol workers.
	entryMu sync.Mutex
}

type reviewMark struct {
	price float64
	at    time.Time
}

// NewProcessor creates a processor.
func NewProcessor(cfg ProcessorConfig, deps Deps) *Processor {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Processor{
		cfg:        cfg,
		Deps:       deps,
		logger:     logger.WithComponent("processor"),
		now:        time.Now,
		lastReview: make(map[string]reviewMark),
	}
}

// ProcessSymbol evaluates both styles for snap.Symbol. A panic is recovered
// and reported as the result's error so other symbols keep running.
func (p *Processor) ProcessSymbol(ctx context.Context, snap *market.Snapshot) (res SymbolResult) {
	res.Symbol = snap.Symbol
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic processing %s: %v", snap.Symbol, r)
			p.logger.Error("recovered panic in symbol worker",
				"symbol", snap.Symbol, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			p.Bus.PublishError("processor", "panic processing "+snap.Symbol, res.Err)
		}
	}()

	if snap.Stale {
		p.logger.Warn("using last good snapshot", "symbol", snap.Symbol)
	}

	res.Trades += p.ProtectiveExits(ctx, snap)
	for _, style := range strategy.Styles {
		if ctx.Err() != nil {
			return res
		}
		res.Trades += p.runStyle(ctx, snap, style)
	}
	return res
}

// ProtectiveExits moves the swing trailing stop and then checks stop and
// target for swing and scalp in that order. It returns the number of
// positions closed.
func (p *Processor) ProtectiveExits(ctx context.Context, snap *market.Snapshot) int {
	symbol, price := snap.Symbol, snap.Price
	if upd, ok := p.Positions.UpdateTrailingStop(symbol, strategy.StyleSwing, price); ok {
		p.Bus.PublishStopMoved(symbol, upd.OldStop, upd.NewStop)
	}

	closed := 0
	for _, style := range strategy.Styles {
		exit, ok := p.Positions.CheckSLTP(symbol, style, price)
		if !ok {
			continue
		}
		fill, err := p.Gateway.Close(ctx, symbol, exit.State.Size, price)
		metrics.ObserveOrder("close", err)
		if err != nil {
			p.logger.WithError(err).Error("protective close failed, position kept",
				"symbol", symbol, "style", string(style), "kind", string(exit.Kind))
			if rerr := p.Positions.Reinstate(exit.State); rerr != nil {
				p.logger.WithError(rerr).Error("reinstate failed", "symbol", symbol, "style", string(style))
			}
			p.Bus.PublishError("gateway", "protective close failed for "+symbol, err)
			continue
		}
		trade := p.Positions.Settle(exit.State, fill.Price, string(exit.Kind))
		p.afterClose(ctx, trade)
		closed++
	}
	return closed
}

// ForceClose flattens st at the venue and settles it, bypassing strategy,
// advisory and risk.
func (p *Processor) ForceClose(ctx context.Context, st position.State, price float64, reason string) error {
	fill, err := p.Gateway.Close(ctx, st.Symbol, st.Size, price)
	metrics.ObserveOrder("close", err)
	if err != nil {
		p.logger.WithError(err).Error("forced close failed", "symbol", st.Symbol, "style", string(st.Style))
		p.Bus.PublishError("gateway", "forced close failed for "+st.Symbol, err)
		return err
	}
	trade, err := p.Positions.Close(st.Symbol, st.Style, fill.Price, reason)
	if err != nil {
		return fmt.Errorf("settle %s %s: %w", st.Symbol, st.Style, err)
	}
	p.afterClose(ctx, trade)
	return nil
}

func (p *Processor) runStyle(ctx context.Context, snap *market.Snapshot, style strategy.Style) int {
	symbol := snap.Symbol
	h := p.Positions.Holding(symbol, style)
	acct := p.account()

	var sig strategy.Signal
	if style == strategy.StyleSwing {
		sig = p.Swing.Analyze(snap, h, acct)
	} else {
		sig = p.Scalp.Analyze(snap, h, acct, p.Positions.Holding(symbol, strategy.StyleSwing))
	}
	sig.Symbol, sig.Style = symbol, style
	if sig.Price <= 0 {
		sig.Price = snap.Price
	}

	metrics.Signals.WithLabelValues(string(style), string(sig.Action)).Inc()
	p.Bus.PublishSignal(symbol, string(style), string(sig.Action), sig.Reason, sig.Confidence, sig.Price)
	logging.SignalContext(p.logger, symbol, string(style), string(sig.Action), sig.Confidence).
		Debug("strategy signal", "reason", sig.Reason, "size_pct", sig.SizePct)

	return p.execute(ctx, snap, sig, true)
}

// execute runs qualifier, advisory, risk, allocator, gateway and position
// update in that order. It returns the number of trades placed.
func (p *Processor) execute(ctx context.Context, snap *market.Snapshot, sig strategy.Signal, allowFlip bool) int {
	symbol, style := sig.Symbol, sig.Style
	h := p.Positions.Holding(symbol, style)
	log := logging.SignalContext(p.logger, symbol, string(style), string(sig.Action), sig.Confidence)

	quality := 0.0
	if sig.Action.IsEntry() {
		quality = qualifier.Score(snap, style, sig.Action)
	}

	res := p.review(ctx, snap, sig, h, quality)
	advisory.Apply(&sig, res, quality)

	if sig.Action.IsEntry() {
		acct := p.account()
		sz := strategy.Size(style, sig.Confidence, p.cfg.MaxEquityUsagePct, snap.Price, acct)
		if sz.SizePct <= 0 {
			sig = strategy.Hold(symbol, style, sig.Confidence, "insufficient cash for "+string(sig.Action)+" entry")
		} else {
			sig.SizePct = sz.SizePct
			if res.Leverage <= 0 {
				sig.Leverage = sz.Leverage
			}
		}
	}

	if sig.Action == strategy.ActionHold {
		log.Debug("holding", "reason", sig.Reason)
		return 0
	}

	equity := p.Positions.Equity()
	if sig.Action.IsEntry() {
		if p.Breaker != nil {
			if ok, why := p.Breaker.CanTrade(); !ok {
				log.Info("entry blocked by circuit breaker", "reason", why)
				return 0
			}
		}
		if limit := risk.SmartLeverageCap(equity, p.cfg.MaxLeverage); sig.Leverage > limit {
			sig.Leverage = limit
		}
		if sig.Leverage < 1 {
			sig.Leverage = 1
		}

		release, ok := p.admitEntry(snap, &sig, h, log)
		if !ok {
			return 0
		}
		defer release()
		return p.openPosition(ctx, snap, sig, res)
	}

	if !p.validate(sig, snap, h, equity) {
		return 0
	}
	if sig.Action == strategy.ActionClose {
		return p.closePosition(ctx, snap, sig, h, allowFlip)
	}
	return 0
}

func (p *Processor) validate(sig strategy.Signal, snap *market.Snapshot, h strategy.Holding, equity float64) bool {
	verdict := p.Risk.Validate(sig, snap, h.Size, equity, sig.Symbol)
	if !verdict.Approved {
		metrics.RiskRejections.WithLabelValues(verdict.Check).Inc()
		p.Bus.PublishRiskRejected(sig.Symbol, string(sig.Style), string(sig.Action), verdict.Reason)
	}
	return verdict.Approved
}

// admitEntry runs the risk gate and the allocator for an entry and reserves
// the allocated margin, all under entryMu, so parallel workers never spend
// the same budget twice. The caller must call release once the order has
// settled either way.
func (p *Processor) admitEntry(snap *market.Snapshot, sig *strategy.Signal, h strategy.Holding, log *logging.Logger) (release func(), ok bool) {
	p.entryMu.Lock()
	defer p.entryMu.Unlock()

	equity := p.Positions.Equity()
	if !p.validate(*sig, snap, h, equity) {
		return nil, false
	}
	alloc := p.Allocator.Apply(sig, equity)
	if alloc.Hold {
		log.Info("entry dropped by allocator", "reason", sig.Reason)
		return nil, false
	}
	return p.Positions.Reserve(sig.Symbol, sig.Style, sig.SizePct*equity), true
}

func (p *Processor) openPosition(ctx context.Context, snap *market.Snapshot, sig strategy.Signal, res advisory.Result) int {
	equity := p.Positions.Equity()
	qty := sig.SizePct * equity * sig.Leverage / snap.Price
	log := logging.TradeContext(p.logger, sig.Symbol, string(sig.Style), string(sig.Action), qty, snap.Price)

	fill, err := p.Gateway.Open(ctx, sig.Symbol, sig.Action, qty, sig.Leverage)
	metrics.ObserveOrder("open", err)
	if err != nil {
		log.WithError(err).Error("entry order failed")
		p.Bus.PublishError("gateway", "entry failed for "+sig.Symbol, err)
		p.notify("error", fmt.Sprintf("%s %s %s entry failed: %v", sig.Style, sig.Symbol, sig.Action, err))
		return 0
	}

	st, err := p.Positions.Open(position.OpenRequest{
		Symbol:        sig.Symbol,
		Style:         sig.Style,
		Size:          fill.Signed(),
		EntryPrice:    fill.Price,
		StopLoss:      sig.StopLoss,
		TakeProfit:    sig.TakeProfit,
		Leverage:      sig.Leverage,
		Confidence:    sig.Confidence,
		AdvisoryTrail: res.TrailPct,
		RiskAmount:    sig.RiskAmount,
		RewardAmount:  sig.RewardAmount,
		OrderID:       fill.OrderID,
	})
	if err != nil {
		log.WithError(err).Error("filled entry could not be tracked", "order_id", fill.OrderID)
		return 1
	}

	log.Info("position opened", "fill_price", fill.Price, "leverage", st.Leverage, "reason", sig.Reason)
	p.Bus.PublishTradeOpened(st.Symbol, string(st.Style), st.Side(), st.EntryPrice, math.Abs(st.Size), st.Leverage)
	p.notify("trade", fmt.Sprintf("Opened %s %s %s at $%.2f (qty %g, %.1fx). %s",
		st.Style, st.Symbol, strings.ToLower(st.Side()), st.EntryPrice, math.Abs(st.Size), st.Leverage, sig.Reason))
	return 1
}

func (p *Processor) closePosition(ctx context.Context, snap *market.Snapshot, sig strategy.Signal, h strategy.Holding, allowFlip bool) int {
	log := logging.TradeContext(p.logger, sig.Symbol, string(sig.Style), "close", math.Abs(h.Size), snap.Price)

	fill, err := p.Gateway.Close(ctx, sig.Symbol, h.Size, snap.Price)
	metrics.ObserveOrder("close", err)
	if err != nil {
		log.WithError(err).Error("close order failed")
		p.Bus.PublishError("gateway", "close failed for "+sig.Symbol, err)
		return 0
	}
	trade, err := p.Positions.Close(sig.Symbol, sig.Style, fill.Price, sig.Reason)
	if err != nil {
		log.WithError(err).Error("filled close could not be settled")
		return 1
	}
	p.afterClose(ctx, trade)

	trades := 1
	if allowFlip && p.cfg.ScalpAutoFlip && sig.Style == strategy.StyleScalp {
		trades += p.autoFlip(ctx, snap, sig.Reason)
	}
	return trades
}

// autoFlip asks the scalp strategy for an immediate entry after a reversal
// close whose reason carries a flip_to hint.
func (p *Processor) autoFlip(ctx context.Context, snap *market.Snapshot, reason string) int {
	m := flipRe.FindStringSubmatch(reason)
	if m == nil {
		return 0
	}
	want := strategy.Action(strings.ToLower(m[1]))
	next := p.Scalp.Analyze(snap, strategy.Holding{}, p.account(), p.Positions.Holding(snap.Symbol, strategy.StyleSwing))
	if !next.Action.IsEntry() {
		p.logger.Info("flip requested but no scalp entry this cycle", "symbol", snap.Symbol, "flip_to", string(want))
		return 0
	}
	if next.Action != want {
		p.logger.Info("strategy disagrees with flip hint", "symbol", snap.Symbol, "flip_to", string(want), "action", string(next.Action))
	}
	next.Symbol, next.Style = snap.Symbol, strategy.StyleScalp
	if next.Price <= 0 {
		next.Price = snap.Price
	}
	return p.execute(ctx, snap, next, false)
}

func (p *Processor) afterClose(ctx context.Context, trade position.ClosedTrade) {
	p.Risk.RecordClose(trade.Symbol, trade.Style)
	if p.Breaker != nil {
		// breaker limits are in percent of equity before the close
		if before := p.Positions.Equity() - trade.PnL; before > 0 {
			p.Breaker.RecordTrade(trade.PnL / before * 100)
		}
	}
	p.Bus.PublishTradeClosed(trade.Symbol, string(trade.Style), trade.Reason, trade.EntryPrice, trade.ExitPrice, trade.Size, trade.PnL)
	for _, sink := range p.Sinks {
		if err := sink.RecordTrade(ctx, trade); err != nil {
			p.logger.WithError(err).Warn("trade sink failed", "symbol", trade.Symbol, "trade_id", trade.ID)
		}
	}
}

// review sends sig to the advisory filter. Holds only go to the batched
// reviewer and only when hold review is on.
func (p *Processor) review(ctx context.Context, snap *market.Snapshot, sig strategy.Signal, h strategy.Holding, quality float64) advisory.Result {
	var reviewer advisory.Reviewer
	switch {
	case sig.Action == strategy.ActionHold:
		if !p.cfg.ReviewHolds || p.Holds == nil {
			return skipped(true)
		}
		reviewer = p.Holds
	case p.Advisory == nil:
		return skipped(true)
	default:
		reviewer = p.Advisory
	}

	// An unchanged market skips the call and lets the strategy decision
	// through unfiltered; risk and allocation still apply.
	key := sig.Symbol + ":" + string(sig.Style)
	if sig.Action.IsEntry() && p.unchanged(key, h, snap.Price) {
		p.logger.Info("skipping advisory, market unchanged", "symbol", sig.Symbol, "style", string(sig.Style))
		metrics.AdvisoryOutcomes.WithLabelValues(string(advisory.OutcomeSkipped)).Inc()
		return skipped(true)
	}

	res := reviewer.Review(ctx, advisory.Request{
		ID:              uuid.NewString(),
		Snapshot:        snap,
		Signal:          sig,
		PositionSize:    h.Size,
		Equity:          p.Positions.Equity(),
		TotalMarginUsed: p.Positions.TotalMargin(),
		AllSymbols:      p.cfg.Symbols,
		Quality:         quality,
	})
	if sig.Action != strategy.ActionHold {
		p.mark(key, snap.Price)
	}

	outcome := string(res.Outcome)
	if res.Cached {
		outcome = "cache_hit"
	}
	metrics.AdvisoryOutcomes.WithLabelValues(outcome).Inc()
	p.Bus.PublishAdvisory(sig.Symbol, string(sig.Style), string(res.Outcome), res.Approved, res.Cached)
	if !res.Approved && sig.Action != strategy.ActionHold {
		p.notify("advisory", fmt.Sprintf("Advisory %s %s %s %s: %s", res.Outcome, sig.Style, sig.Symbol, sig.Action, res.Reasoning))
	}
	return res
}

func skipped(approved bool) advisory.Result {
	return advisory.Result{Verdict: advisory.Verdict{Approved: approved, Outcome: advisory.OutcomeSkipped}}
}

// unchanged reports whether a flat (symbol, style) was reviewed recently
// enough, at a close enough price, that another advisory call is wasted.
func (p *Processor) unchanged(key string, h strategy.Holding, price float64) bool {
	if !p.cfg.SkipUnchangedLLM || !h.Flat() || price <= 0 {
		return false
	}
	p.mu.Lock()
	last, ok := p.lastReview[key]
	p.mu.Unlock()
	if !ok || last.price <= 0 {
		return false
	}
	delta := math.Abs(price-last.price) / price
	age := p.now().Sub(last.at)
	switch {
	case delta < 0.0015 && age < 60*time.Second:
		return true
	case delta < 0.003 && age < 90*time.Second:
		return true
	case delta < 0.005 && age < 120*time.Second:
		return true
	}
	return false
}

func (p *Processor) mark(key string, price float64) {
	p.mu.Lock()
	p.lastReview[key] = reviewMark{price: price, at: p.now()}
	p.mu.Unlock()
}

func (p *Processor) account() strategy.Account {
	sum := p.Positions.Summary(nil)
	return strategy.Account{Equity: sum.Equity, AvailableCash: sum.AvailableCash}
}

func (p *Processor) notify(level, text string) {
	if p.Notifier != nil {
		p.Notifier.AddMessage(level, text)
	}
}
