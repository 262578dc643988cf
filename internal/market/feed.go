package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"futures-trading-agent/internal/logging"
)

// Source is the exchange data surface the feed needs.
type Source interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	BookTicker(ctx context.Context, symbol string) (bid, ask float64, err error)
	Depth(ctx context.Context, symbol string, limit int) (bids, asks []BookLevel, err error)
}

// Feed builds snapshots from exchange candles and depth.
type Feed struct {
	source     Source
	klineLimit int
	depthLimit int
	logger     *logging.Logger
	now        func() time.Time

	mu      sync.Mutex
	prevMid map[string]float64
}

// NewFeed creates a Feed over source.
func NewFeed(source Source, klineLimit int, logger *logging.Logger) *Feed {
	if klineLimit <= 0 {
		klineLimit = 200
	}
	return &Feed{
		source:     source,
		klineLimit: klineLimit,
		depthLimit: 20,
		logger:     logger.WithComponent("feed"),
		now:        time.Now,
		prevMid:    make(map[string]float64),
	}
}

// Snapshot fetches every timeframe, computes indicators and classifies the
// regime. A failed primary (1h) or short-term (5m) timeframe fails the whole
// snapshot; other timeframes degrade to missing keys.
func (f *Feed) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	candles := make(map[string][]Kline, len(Timeframes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	errs := make(map[string]error)

	for _, tf := range Timeframes {
		wg.Add(1)
		go func(tf string) {
			defer wg.Done()
			series, err := f.source.Candles(ctx, symbol, tf, f.klineLimit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[tf] = err
				return
			}
			candles[tf] = series
		}(tf)
	}
	wg.Wait()

	for _, required := range []string{"1h", "5m"} {
		if err := errs[required]; err != nil {
			return nil, fmt.Errorf("fetch %s %s candles: %w", symbol, required, err)
		}
	}
	for tf, err := range errs {
		f.logger.Debug("Optional timeframe unavailable", "symbol", symbol, "timeframe", tf, "error", err)
	}

	primary := candles["1m"]
	if len(primary) == 0 {
		primary = candles["5m"]
	}
	if len(primary) == 0 {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}
	price := primary[len(primary)-1].Close

	bid, ask, err := f.source.BookTicker(ctx, symbol)
	if err != nil {
		f.logger.Debug("Book ticker unavailable", "symbol", symbol, "error", err)
		bid, ask = price, price
	}

	now := f.now()
	ind := Compute(candles, price)
	snap := &Snapshot{
		Symbol:     symbol,
		Timestamp:  now,
		Price:      price,
		Bid:        bid,
		Ask:        ask,
		Candles:    candles,
		Indicators: ind,
		Regime:     ClassifyRegime(ind, now),
	}

	bids, asks, err := f.source.Depth(ctx, symbol, f.depthLimit)
	if err == nil {
		f.mu.Lock()
		prev := f.prevMid[symbol]
		if len(bids) > 0 && len(asks) > 0 {
			f.prevMid[symbol] = (bids[0].Price + asks[0].Price) / 2
		}
		f.mu.Unlock()
		snap.Micro = AnalyzeBook(bids, asks, prev)
	}

	return snap, nil
}
