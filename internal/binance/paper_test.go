package binance

import (
	"context"
	"errors"
	"math"
	"testing"
)

func fixedPrice(p float64) func(string) (float64, error) {
	return func(string) (float64, error) { return p, nil }
}

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		qty, step, want float64
	}{
		{0.12345, 0.001, 0.123},
		{1.9999, 0.01, 1.99},
		{0.3, 0.1, 0.3},
		{5, 0, 5},
		{0.0004, 0.001, 0},
		{12.7, 1, 12},
	}
	for _, tt := range tests {
		if got := FloorToStep(tt.qty, tt.step); got != tt.want {
			t.Errorf("FloorToStep(%v, %v) = %v, want %v", tt.qty, tt.step, got, tt.want)
		}
	}
}

func TestPaperOpenAndClose(t *testing.T) {
	ctx := context.Background()
	c := NewPaperClient(fixedPrice(100), 10) // 0.1% slippage

	if err := c.SetLeverage(ctx, "BTCUSDT", 5); err != nil {
		t.Fatal(err)
	}
	res, err := c.PlaceMarketOrder(ctx, "BTCUSDT", true, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFilled || math.Abs(res.AvgPrice-100.1) > 1e-9 {
		t.Errorf("buy fill = %+v", res)
	}
	pos, ok := c.Position("BTCUSDT")
	if !ok || pos.Amount != 2 || pos.Leverage != 5 {
		t.Errorf("position = %+v ok=%v", pos, ok)
	}

	// closes are plain opposing orders
	res, err = c.PlaceMarketOrder(ctx, "BTCUSDT", false, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.AvgPrice-99.9) > 1e-9 {
		t.Errorf("sell price = %v", res.AvgPrice)
	}
	if _, ok := c.Position("BTCUSDT"); ok {
		t.Error("position should be flat")
	}
	if c.Orders() != 2 {
		t.Errorf("orders = %d", c.Orders())
	}
}

func TestPaperAveragesEntry(t *testing.T) {
	ctx := context.Background()
	price := 100.0
	c := NewPaperClient(func(string) (float64, error) { return price, nil }, 0)

	c.PlaceMarketOrder(ctx, "ETHUSDT", false, 1, false)
	price = 110
	c.PlaceMarketOrder(ctx, "ETHUSDT", false, 1, false)

	pos, _ := c.Position("ETHUSDT")
	if pos.Amount != -2 || pos.EntryPrice != 105 {
		t.Errorf("position = %+v", pos)
	}
}

func TestPaperReduceOnlyRequiresOpposingPosition(t *testing.T) {
	c := NewPaperClient(fixedPrice(50), 0)
	if _, err := c.PlaceMarketOrder(context.Background(), "SOLUSDT", false, 1, true); err == nil {
		t.Error("reduce-only without a position should be rejected")
	}
}

func TestPaperPendingPollsAndCancel(t *testing.T) {
	ctx := context.Background()
	c := NewPaperClient(fixedPrice(10), 0)
	c.SetPendingPolls(2)

	res, err := c.PlaceMarketOrder(ctx, "XRPUSDT", true, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusNew || res.ExecutedQty != 0 {
		t.Fatalf("first report = %+v", res)
	}
	got, _ := c.GetOrder(ctx, "XRPUSDT", res.OrderID)
	if got.Status != StatusNew {
		t.Errorf("first poll = %s", got.Status)
	}

	if err := c.CancelOrder(ctx, "XRPUSDT", res.OrderID); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Position("XRPUSDT"); ok {
		t.Error("canceled order should leave no position")
	}
	if err := c.CancelOrder(ctx, "XRPUSDT", res.OrderID); err == nil {
		t.Error("second cancel should fail")
	}
}

func TestPaperPriceErrors(t *testing.T) {
	c := NewPaperClient(func(string) (float64, error) { return 0, errors.New("no data") }, 0)
	if _, err := c.PlaceMarketOrder(context.Background(), "BTCUSDT", true, 1, false); err == nil {
		t.Error("expected price error")
	}
	if err := c.SetLeverage(context.Background(), "BTCUSDT", 0); err == nil {
		t.Error("leverage 0 should be rejected")
	}
}
