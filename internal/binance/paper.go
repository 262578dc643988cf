package binance

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// PaperPosition is the simulated net position for a symbol.
type PaperPosition struct {
	Symbol     string
	Amount     float64 // signed
	EntryPrice float64
	Leverage   int
}

// PaperOrder is a simulated order.
type PaperOrder struct {
	OrderResult
	Side       string
	ReduceOnly bool
	Time       time.Time
}

// PaperClient implements FuturesAPI for paper trading. Market orders fill
// immediately at the price provider's price, adjusted by slippage.
type PaperClient struct {
	mu            sync.RWMutex
	positions     map[string]*PaperPosition
	orders        map[int64]*PaperOrder
	leverage      map[string]int
	nextOrderID   int64
	slippageBps   float64
	priceProvider func(symbol string) (float64, error)

	// pendingPolls keeps new orders unfilled for this many GetOrder calls.
	// Tests use it to exercise the fill-poll path.
	pendingPolls int
	polls        map[int64]int
}

// NewPaperClient creates a paper client. Order IDs start at 1000.
func NewPaperClient(priceProvider func(symbol string) (float64, error), slippageBps float64) *PaperClient {
	return &PaperClient{
		positions:     make(map[string]*PaperPosition),
		orders:        make(map[int64]*PaperOrder),
		leverage:      make(map[string]int),
		nextOrderID:   1000,
		slippageBps:   slippageBps,
		priceProvider: priceProvider,
		polls:         make(map[int64]int),
	}
}

// SetPendingPolls makes new orders report NEW for n status checks.
func (c *PaperClient) SetPendingPolls(n int) {
	c.mu.Lock()
	c.pendingPolls = n
	c.mu.Unlock()
}

func (c *PaperClient) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage < 1 || leverage > 125 {
		return fmt.Errorf("invalid leverage: must be between 1 and 125")
	}
	c.mu.Lock()
	c.leverage[symbol] = leverage
	c.mu.Unlock()
	return nil
}

func (c *PaperClient) PlaceMarketOrder(_ context.Context, symbol string, buy bool, qty float64, reduceOnly bool) (*OrderResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("invalid quantity %v", qty)
	}
	price, err := c.price(symbol)
	if err != nil {
		return nil, err
	}
	slip := price * c.slippageBps / 10000
	side := "SELL"
	if buy {
		side = "BUY"
		price += slip
	} else {
		price -= slip
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if reduceOnly {
		pos := c.positions[symbol]
		if pos == nil || (buy && pos.Amount >= 0) || (!buy && pos.Amount <= 0) {
			return nil, fmt.Errorf("reduce-only order rejected: no opposing position for %s", symbol)
		}
		qty = math.Min(qty, math.Abs(pos.Amount))
	}

	id := c.nextOrderID
	c.nextOrderID++

	order := &PaperOrder{
		OrderResult: OrderResult{
			OrderID:     id,
			Symbol:      symbol,
			Status:      StatusFilled,
			AvgPrice:    price,
			ExecutedQty: qty,
		},
		Side:       side,
		ReduceOnly: reduceOnly,
		Time:       time.Now(),
	}
	c.orders[id] = order
	c.applyFillLocked(symbol, buy, qty, price)

	res := order.OrderResult
	if c.pendingPolls > 0 {
		c.polls[id] = c.pendingPolls
		res.Status = StatusNew
		res.AvgPrice = 0
		res.ExecutedQty = 0
	}
	return &res, nil
}

func (c *PaperClient) applyFillLocked(symbol string, buy bool, qty, price float64) {
	pos, ok := c.positions[symbol]
	if !ok {
		pos = &PaperPosition{Symbol: symbol, Leverage: c.leverage[symbol]}
		c.positions[symbol] = pos
	}
	signed := qty
	if !buy {
		signed = -qty
	}
	oldAmt := pos.Amount
	newAmt := oldAmt + signed

	switch {
	case newAmt == 0 || math.Abs(newAmt) < 1e-12:
		delete(c.positions, symbol)
		return
	case oldAmt == 0 || (oldAmt > 0) != (newAmt > 0):
		pos.EntryPrice = price
	case (oldAmt > 0) == (signed > 0):
		total := pos.EntryPrice*math.Abs(oldAmt) + price*qty
		pos.EntryPrice = total / math.Abs(newAmt)
	}
	pos.Amount = newAmt
}

func (c *PaperClient) GetOrder(_ context.Context, symbol string, orderID int64) (*OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, ok := c.orders[orderID]
	if !ok || order.Symbol != symbol {
		return nil, fmt.Errorf("order not found: %d", orderID)
	}
	res := order.OrderResult
	if left := c.polls[orderID]; left > 0 {
		c.polls[orderID] = left - 1
		res.Status = StatusNew
		res.AvgPrice = 0
		res.ExecutedQty = 0
	}
	return &res, nil
}

func (c *PaperClient) CancelOrder(_ context.Context, symbol string, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, ok := c.orders[orderID]
	if !ok || order.Symbol != symbol {
		return fmt.Errorf("order not found: %d", orderID)
	}
	if c.polls[orderID] == 0 {
		return fmt.Errorf("order cannot be canceled")
	}
	// undo the fill that was held back
	c.applyFillLocked(symbol, order.Side != "BUY", order.ExecutedQty, order.AvgPrice)
	order.Status = StatusCanceled
	order.ExecutedQty = 0
	delete(c.polls, orderID)
	return nil
}

// RoundQuantity floors to a fixed 0.001 lot in paper mode.
func (c *PaperClient) RoundQuantity(_ context.Context, _ string, qty float64) (float64, error) {
	return FloorToStep(qty, 0.001), nil
}

// Position returns the simulated net position for symbol.
func (c *PaperClient) Position(symbol string) (PaperPosition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.positions[symbol]; ok {
		return *p, true
	}
	return PaperPosition{}, false
}

// Orders returns the number of orders placed.
func (c *PaperClient) Orders() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orders)
}

func (c *PaperClient) price(symbol string) (float64, error) {
	if c.priceProvider == nil {
		return 0, fmt.Errorf("no price provider")
	}
	p, err := c.priceProvider(symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to get current price: %w", err)
	}
	if p <= 0 {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

var _ FuturesAPI = (*PaperClient)(nil)
var _ FuturesAPI = (*Client)(nil)
