package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/scheduler"
)

// ============================================================================
// TRADES
// ============================================================================

// TradeRepository stores closed trades. It satisfies scheduler.TradeSink.
type TradeRepository struct {
	db *DB
}

// NewTradeRepository creates a trade repository.
func NewTradeRepository(db *DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// RecordTrade inserts a closed trade. Replays of the same id are ignored.
func (r *TradeRepository) RecordTrade(ctx context.Context, t position.ClosedTrade) error {
	tr := TradeFromClosed(t)
	query := `
		INSERT INTO trades (id, symbol, style, side, quantity, entry_price, exit_price,
		                    entry_time, exit_time, leverage, pnl, pnl_percent, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		tr.ID, tr.Symbol, tr.Style, tr.Side, tr.Quantity, tr.EntryPrice, tr.ExitPrice,
		tr.EntryTime, tr.ExitTime, tr.Leverage, tr.PnL, tr.PnLPercent, tr.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", tr.ID, err)
	}
	return nil
}

// RecentTrades returns up to limit trades, newest first, optionally for one
// symbol.
func (r *TradeRepository) RecentTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, symbol, style, side, quantity, entry_price, exit_price, entry_time, exit_time,
		       leverage, pnl, pnl_percent, COALESCE(reason, ''), created_at
		FROM trades
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY exit_time DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Style, &t.Side, &t.Quantity, &t.EntryPrice, &t.ExitPrice,
			&t.EntryTime, &t.ExitTime, &t.Leverage, &t.PnL, &t.PnLPercent, &t.Reason, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Stats aggregates trades closed since the given time.
func (r *TradeRepository) Stats(ctx context.Context, since time.Time) (TradeStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE pnl > 0),
		       COUNT(*) FILTER (WHERE pnl < 0),
		       COALESCE(SUM(pnl), 0),
		       COALESCE(MAX(pnl), 0),
		       COALESCE(MIN(pnl), 0)
		FROM trades
		WHERE exit_time >= $1
	`
	var s TradeStats
	err := r.db.Pool.QueryRow(ctx, query, since).Scan(
		&s.Total, &s.Winners, &s.Losers, &s.TotalPnL, &s.BestPnL, &s.WorstPnL,
	)
	return s, err
}

// ============================================================================
// CYCLE LOGS
// ============================================================================

// CycleLogRepository stores cycle reports. It satisfies scheduler.CycleSink.
type CycleLogRepository struct {
	db *DB
}

// NewCycleLogRepository creates a cycle log repository.
func NewCycleLogRepository(db *DB) *CycleLogRepository {
	return &CycleLogRepository{db: db}
}

// RecordCycle inserts one cycle report.
func (r *CycleLogRepository) RecordCycle(ctx context.Context, rep scheduler.CycleReport) error {
	c := CycleLogFromReport(rep)
	query := `
		INSERT INTO cycle_logs (cycle, started_at, state, duration_ms, symbols, trades, errors, overrun)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		c.Cycle, c.StartedAt, c.State, c.DurationMs, c.Symbols, c.Trades, c.Errors, c.Overrun,
	)
	return err
}

// Recent returns the latest cycles, newest first.
func (r *CycleLogRepository) Recent(ctx context.Context, limit int) ([]CycleLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT cycle, started_at, state, duration_ms, symbols, trades, errors, overrun
		FROM cycle_logs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CycleLog, error) {
		var c CycleLog
		err := row.Scan(&c.Cycle, &c.StartedAt, &c.State, &c.DurationMs, &c.Symbols, &c.Trades, &c.Errors, &c.Overrun)
		return c, err
	})
}

// PruneBefore deletes cycle logs older than cutoff.
func (r *CycleLogRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM cycle_logs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// POSITION STATES
// ============================================================================

// PositionRepository persists position slots as JSONB. It satisfies
// position.Store.
type PositionRepository struct {
	db *DB
}

// NewPositionRepository creates a position repository.
func NewPositionRepository(db *DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func (r *PositionRepository) Save(ctx context.Context, symbol string, p position.SymbolPositions) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal positions for %s: %w", symbol, err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO position_states (symbol, positions, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			positions = EXCLUDED.positions,
			updated_at = EXCLUDED.updated_at
	`, symbol, data)
	return err
}

func (r *PositionRepository) Delete(ctx context.Context, symbol string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM position_states WHERE symbol = $1`, symbol)
	return err
}

func (r *PositionRepository) LoadAll(ctx context.Context) (map[string]position.SymbolPositions, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT symbol, positions FROM position_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]position.SymbolPositions)
	for rows.Next() {
		var symbol string
		var data []byte
		if err := rows.Scan(&symbol, &data); err != nil {
			return nil, err
		}
		var p position.SymbolPositions
		if err := json.Unmarshal(data, &p); err != nil {
			r.db.logger.WithError(err).Warn("skipping unreadable position state", "symbol", symbol)
			continue
		}
		if p.Empty() {
			continue
		}
		out[symbol] = p
	}
	return out, rows.Err()
}
