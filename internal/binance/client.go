package binance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"futures-trading-agent/internal/logging"
	"futures-trading-agent/internal/market"
)

// Order status values reported by the exchange.
const (
	StatusFilled          = "FILLED"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusNew             = "NEW"
	StatusCanceled        = "CANCELED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)

// OrderResult is the subset of order state the agent consumes.
type OrderResult struct {
	OrderID     int64
	Symbol      string
	Status      string
	AvgPrice    float64
	ExecutedQty float64
}

// FuturesAPI is the exchange surface used by the order gateway.
type FuturesAPI interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, symbol string, buy bool, qty float64, reduceOnly bool) (*OrderResult, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	RoundQuantity(ctx context.Context, symbol string, qty float64) (float64, error)
}

// Client wraps the go-binance futures client with request pacing and a
// cached lot-size table.
type Client struct {
	api     *futures.Client
	limiter *rate.Limiter
	logger  *logging.Logger

	stepMu    sync.RWMutex
	stepSizes map[string]float64
}

// NewClient creates a futures client. Testnet switches the package-wide
// endpoint before the client is built.
func NewClient(apiKey, secretKey string, testnet bool, logger *logging.Logger) *Client {
	if testnet {
		futures.UseTestnet = true
	}
	c := &Client{
		api: futures.NewClient(strings.TrimSpace(apiKey), strings.TrimSpace(secretKey)),
		// 1200 requests/minute weight budget, with bursts for a full snapshot fan-out
		limiter:   rate.NewLimiter(rate.Limit(15), 30),
		logger:    logger.WithComponent("binance"),
		stepSizes: make(map[string]float64),
	}
	return c
}

// SyncTime measures the local clock offset against the exchange and applies it.
func (c *Client) SyncTime(ctx context.Context) {
	serverTime, err := c.api.NewServerTimeService().Do(ctx)
	if err != nil {
		c.logger.Warn("Failed to get server time, continuing without sync", "error", err)
		return
	}
	offset := serverTime - time.Now().UnixMilli()
	c.api.TimeOffset = offset
	if offset > 1000 || offset < -1000 {
		c.logger.Warn("Local clock drift detected", "offset_ms", offset)
	} else {
		c.logger.Info("Time synchronized with exchange", "offset_ms", offset)
	}
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// Candles fetches candles for one interval, oldest first.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Kline, 0, len(raw))
	for _, k := range raw {
		out = append(out, market.Kline{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return out, nil
}

// BookTicker returns best bid and ask.
func (c *Client) BookTicker(ctx context.Context, symbol string) (bid, ask float64, err error) {
	if err := c.wait(ctx); err != nil {
		return 0, 0, err
	}
	tickers, err := c.api.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range tickers {
		if t.Symbol == symbol {
			return parseFloat(t.BidPrice), parseFloat(t.AskPrice), nil
		}
	}
	return 0, 0, fmt.Errorf("no book ticker for %s", symbol)
}

// Depth returns the top levels of the order book.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (bids, asks []market.BookLevel, err error) {
	if err := c.wait(ctx); err != nil {
		return nil, nil, err
	}
	res, err := c.api.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range res.Bids {
		bids = append(bids, market.BookLevel{Price: parseFloat(b.Price), Quantity: parseFloat(b.Quantity)})
	}
	for _, a := range res.Asks {
		asks = append(asks, market.BookLevel{Price: parseFloat(a.Price), Quantity: parseFloat(a.Quantity)})
	}
	return bids, asks, nil
}

// USDTBalance returns wallet and available USDT balance.
func (c *Client) USDTBalance(ctx context.Context) (wallet, available float64, err error) {
	if err := c.wait(ctx); err != nil {
		return 0, 0, err
	}
	balances, err := c.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			return parseFloat(b.Balance), parseFloat(b.AvailableBalance), nil
		}
	}
	return 0, 0, nil
}

// SetLeverage changes the symbol leverage.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return err
}

// PlaceMarketOrder submits a one-way-mode market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, buy bool, qty float64, reduceOnly bool) (*OrderResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	side := futures.SideTypeSell
	if buy {
		side = futures.SideTypeBuy
	}
	svc := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		PositionSide(futures.PositionSideTypeBoth).
		Quantity(strconv.FormatFloat(qty, 'f', -1, 64))
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	return &OrderResult{
		OrderID:     res.OrderID,
		Symbol:      res.Symbol,
		Status:      string(res.Status),
		AvgPrice:    parseFloat(res.AvgPrice),
		ExecutedQty: parseFloat(res.ExecutedQuantity),
	}, nil
}

// GetOrder returns current order state.
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	o, err := c.api.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, err
	}
	return &OrderResult{
		OrderID:     o.OrderID,
		Symbol:      o.Symbol,
		Status:      string(o.Status),
		AvgPrice:    parseFloat(o.AvgPrice),
		ExecutedQty: parseFloat(o.ExecutedQuantity),
	}, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	return err
}

// RoundQuantity floors qty to the symbol's LOT_SIZE step.
func (c *Client) RoundQuantity(ctx context.Context, symbol string, qty float64) (float64, error) {
	step, err := c.stepSize(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return FloorToStep(qty, step), nil
}

func (c *Client) stepSize(ctx context.Context, symbol string) (float64, error) {
	c.stepMu.RLock()
	step, ok := c.stepSizes[symbol]
	c.stepMu.RUnlock()
	if ok {
		return step, nil
	}

	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("exchange info: %w", err)
	}

	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	for _, s := range info.Symbols {
		for _, f := range s.Filters {
			if f["filterType"] == "LOT_SIZE" {
				if raw, ok := f["stepSize"].(string); ok {
					c.stepSizes[s.Symbol] = parseFloat(raw)
				}
			}
		}
	}
	step, ok = c.stepSizes[symbol]
	if !ok || step <= 0 {
		c.logger.Warn("No LOT_SIZE filter found, using default precision", "symbol", symbol)
		step = 0.001
		c.stepSizes[symbol] = step
	}
	return step, nil
}

// FloorToStep floors qty to a multiple of step.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	n := math.Floor(qty/step + 1e-9)
	decimals := 0
	for s := step; s < 1 && decimals < 12; s *= 10 {
		decimals++
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(n*step*p) / p
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
