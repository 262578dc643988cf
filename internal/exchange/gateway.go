package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"futures-trading-agent/internal/binance"
	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/strategy"
)

var (
	// ErrOrderNotFilled means the order did not fill within the poll budget
	// and was canceled.
	ErrOrderNotFilled = errors.New("order not filled")
	// ErrInvalidQuantity means the quantity rounded to zero.
	ErrInvalidQuantity = errors.New("invalid order quantity")
)

// Fill is an executed order.
type Fill struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"` // BUY or SELL
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Status   string  `json:"status"`
}

// Signed returns the fill quantity with buys positive.
func (f Fill) Signed() float64 {
	if f.Side == "SELL" {
		return -f.Quantity
	}
	return f.Quantity
}

// Gateway places orders on the venue.
type Gateway interface {
	// Open enters a position in direction (long or short).
	Open(ctx context.Context, symbol string, direction strategy.Action, qty, leverage float64) (Fill, error)
	// Close flattens positionSize (signed) with an opposing market order.
	// refPrice is reported when the venue does not return a fill price.
	Close(ctx context.Context, symbol string, positionSize, refPrice float64) (Fill, error)
}

// Config bounds the fill poll.
type Config struct {
	PollAttempts int
	PollInterval time.Duration
}

// FuturesGateway sends market orders through a binance.FuturesAPI, which is
// either the live client or the paper client.
type FuturesGateway struct {
	api    binance.FuturesAPI
	cfg    Config
	logger *logging.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewFuturesGateway creates a gateway. Zero config values fall back to 5
// polls at 500ms.
func NewFuturesGateway(api binance.FuturesAPI, cfg Config, logger *logging.Logger) *FuturesGateway {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &FuturesGateway{
		api:    api,
		cfg:    cfg,
		logger: logger.WithComponent("gateway"),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Open implements Gateway.
func (g *FuturesGateway) Open(ctx context.Context, symbol string, direction strategy.Action, qty, leverage float64) (Fill, error) {
	if !direction.IsEntry() {
		return Fill{}, fmt.Errorf("open %s: unsupported direction %q", symbol, direction)
	}
	rounded, err := g.api.RoundQuantity(ctx, symbol, qty)
	if err != nil {
		return Fill{}, fmt.Errorf("round quantity %s: %w", symbol, err)
	}
	if rounded <= 0 {
		return Fill{}, fmt.Errorf("open %s qty %v: %w", symbol, qty, ErrInvalidQuantity)
	}

	// Venue leverage is whole-numbered. Round down so the venue never runs
	// more leverage than the position records; quantity already carries the
	// fractional exposure.
	lev := VenueLeverage(leverage)
	if err := g.api.SetLeverage(ctx, symbol, lev); err != nil {
		return Fill{}, fmt.Errorf("set leverage %s %dx: %w", symbol, lev, err)
	}

	buy := direction == strategy.ActionLong
	logging.TradeContext(g.logger, symbol, "", string(direction), rounded, 0).Info("submitting entry order", "leverage", lev)
	return g.submit(ctx, symbol, buy, rounded, false, 0)
}

// VenueLeverage is the whole-number leverage sent to the venue for a
// tracked leverage: floored, at least 1.
func VenueLeverage(leverage float64) int {
	return int(math.Max(1, math.Floor(leverage+1e-9)))
}

// Close implements Gateway. Closes are plain market orders rather than
// reduce-only: swing and scalp share the venue's one-way net position, so
// an opposite-style position can make the net side disagree with the style
// being closed.
func (g *FuturesGateway) Close(ctx context.Context, symbol string, positionSize, refPrice float64) (Fill, error) {
	if positionSize == 0 {
		return Fill{}, fmt.Errorf("close %s: %w", symbol, ErrInvalidQuantity)
	}
	qty, err := g.api.RoundQuantity(ctx, symbol, math.Abs(positionSize))
	if err != nil {
		return Fill{}, fmt.Errorf("round quantity %s: %w", symbol, err)
	}
	if qty <= 0 {
		return Fill{}, fmt.Errorf("close %s qty %v: %w", symbol, positionSize, ErrInvalidQuantity)
	}
	buy := positionSize < 0
	logging.TradeContext(g.logger, symbol, "", "close", qty, refPrice).Info("submitting close order")
	return g.submit(ctx, symbol, buy, qty, false, refPrice)
}

func (g *FuturesGateway) submit(ctx context.Context, symbol string, buy bool, qty float64, reduceOnly bool, refPrice float64) (Fill, error) {
	res, err := g.api.PlaceMarketOrder(ctx, symbol, buy, qty, reduceOnly)
	if err != nil {
		return Fill{}, fmt.Errorf("place order %s: %w", symbol, err)
	}

	for attempt := 0; !filled(res) && attempt < g.cfg.PollAttempts; attempt++ {
		if isTerminal(res.Status) {
			break
		}
		if err := g.sleep(ctx, g.cfg.PollInterval); err != nil {
			return Fill{}, err
		}
		next, err := g.api.GetOrder(ctx, symbol, res.OrderID)
		if err != nil {
			g.logger.Warn("order status check failed", "symbol", symbol, "order_id", res.OrderID, "error", err)
			continue
		}
		res = next
	}

	if !filled(res) {
		if res.Status != binance.StatusFilled && !isTerminal(res.Status) {
			if err := g.api.CancelOrder(ctx, symbol, res.OrderID); err != nil {
				g.logger.Error("cancel of unfilled order failed", "symbol", symbol, "order_id", res.OrderID, "error", err)
			}
		}
		return Fill{}, fmt.Errorf("%s order %d status %s: %w", symbol, res.OrderID, res.Status, ErrOrderNotFilled)
	}

	side := "SELL"
	if buy {
		side = "BUY"
	}
	price := res.AvgPrice
	if price <= 0 {
		price = refPrice
	}
	return Fill{
		OrderID:  strconv.FormatInt(res.OrderID, 10),
		Symbol:   symbol,
		Side:     side,
		Quantity: res.ExecutedQty,
		Price:    price,
		Status:   res.Status,
	}, nil
}

func filled(res *binance.OrderResult) bool {
	return res.Status == binance.StatusFilled && res.ExecutedQty > 0
}

func isTerminal(status string) bool {
	switch status {
	case binance.StatusCanceled, binance.StatusRejected, binance.StatusExpired:
		return true
	}
	return false
}
