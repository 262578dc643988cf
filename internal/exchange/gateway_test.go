package exchange

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"futures-trading-agent/internal/binance"
	"futures-trading-agent/internal/strategy"
)

func fixedPrice(p float64) func(string) (float64, error) {
	return func(string) (float64, error) { return p, nil }
}

func newTestGateway(paper *binance.PaperClient, attempts int) *FuturesGateway {
	g := NewFuturesGateway(paper, Config{PollAttempts: attempts, PollInterval: time.Millisecond}, nil)
	g.sleep = func(context.Context, time.Duration) error { return nil }
	return g
}

func TestOpenAndClose(t *testing.T) {
	paper := binance.NewPaperClient(fixedPrice(100), 0)
	g := newTestGateway(paper, 3)
	ctx := context.Background()

	fill, err := g.Open(ctx, "BTCUSDT", strategy.ActionShort, 0.5004, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fill.OrderID != "1000" || fill.Side != "SELL" || fill.Quantity != 0.5 || fill.Price != 100 {
		t.Errorf("open fill = %+v", fill)
	}
	if fill.Signed() != -0.5 {
		t.Errorf("signed = %v, want -0.5", fill.Signed())
	}

	fill, err = g.Close(ctx, "BTCUSDT", -0.5, 100)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fill.Side != "BUY" || fill.OrderID != "1001" {
		t.Errorf("close fill = %+v", fill)
	}
	if _, open := paper.Position("BTCUSDT"); open {
		t.Error("paper position still open after close")
	}
}

func TestVenueLeverageRoundsDown(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 1},
		{1, 1},
		{1.5, 1},
		{2, 2},
		{2.5, 2},
		{2.9999999999, 3},
	}
	for _, tt := range tests {
		if got := VenueLeverage(tt.in); got != tt.want {
			t.Errorf("VenueLeverage(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}

	paper := binance.NewPaperClient(fixedPrice(100), 0)
	g := newTestGateway(paper, 3)
	if _, err := g.Open(context.Background(), "ETHUSDT", strategy.ActionLong, 1, 1.5); err != nil {
		t.Fatal(err)
	}
	if pos, _ := paper.Position("ETHUSDT"); pos.Leverage != 1 {
		t.Errorf("venue leverage = %d, want 1 for a 1.5x position", pos.Leverage)
	}
}

func TestOpenRejectsBadInput(t *testing.T) {
	g := newTestGateway(binance.NewPaperClient(fixedPrice(100), 0), 3)
	ctx := context.Background()

	if _, err := g.Open(ctx, "BTCUSDT", strategy.ActionHold, 1, 1); err == nil {
		t.Error("hold accepted as entry direction")
	}
	if _, err := g.Open(ctx, "BTCUSDT", strategy.ActionLong, 0.0004, 1); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("dust quantity error = %v", err)
	}
	if _, err := g.Close(ctx, "BTCUSDT", 0, 100); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("zero close error = %v", err)
	}
}

func TestFillPoll(t *testing.T) {
	tests := []struct {
		name     string
		pending  int
		attempts int
		wantErr  bool
	}{
		{"fills on second poll", 1, 3, false},
		{"fills on last poll", 2, 3, false},
		{"never fills", 5, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paper := binance.NewPaperClient(fixedPrice(50), 0)
			paper.SetPendingPolls(tt.pending)
			g := newTestGateway(paper, tt.attempts)

			fill, err := g.Open(context.Background(), "ETHUSDT", strategy.ActionLong, 1, 1)
			if tt.wantErr {
				if !errors.Is(err, ErrOrderNotFilled) {
					t.Fatalf("error = %v, want ErrOrderNotFilled", err)
				}
				if _, open := paper.Position("ETHUSDT"); open {
					t.Error("canceled order left a position behind")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if fill.Quantity != 1 || fill.Price != 50 {
				t.Errorf("fill = %+v", fill)
			}
		})
	}
}

func TestSlippage(t *testing.T) {
	g := newTestGateway(binance.NewPaperClient(fixedPrice(100), 10), 1)
	fill, err := g.Open(context.Background(), "BTCUSDT", strategy.ActionLong, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(fill.Price-100.1) > 1e-9 {
		t.Errorf("buy fill with 10bps slippage = %v, want 100.1", fill.Price)
	}
}
