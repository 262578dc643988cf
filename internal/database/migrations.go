package database

var migrations = []string{
	// Completed round trips, one row per close
	`CREATE TABLE IF NOT EXISTS trades (
		id VARCHAR(64) PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		style VARCHAR(10) NOT NULL,
		side VARCHAR(5) NOT NULL,
		quantity DECIMAL(20, 8) NOT NULL,
		entry_price DECIMAL(20, 8) NOT NULL,
		exit_price DECIMAL(20, 8) NOT NULL,
		entry_time TIMESTAMPTZ NOT NULL,
		exit_time TIMESTAMPTZ NOT NULL,
		leverage DECIMAL(6, 2) NOT NULL DEFAULT 1,
		pnl DECIMAL(20, 8) NOT NULL,
		pnl_percent DECIMAL(10, 4) NOT NULL,
		reason TEXT,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_style ON trades(style)`,

	// One row per scheduler cycle
	`CREATE TABLE IF NOT EXISTS cycle_logs (
		cycle BIGINT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		state VARCHAR(20) NOT NULL,
		duration_ms BIGINT NOT NULL,
		symbols INTEGER NOT NULL,
		trades INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		overrun BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (started_at, cycle)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cycle_logs_started ON cycle_logs(started_at DESC)`,

	// Per-symbol position slots for crash recovery
	`CREATE TABLE IF NOT EXISTS position_states (
		symbol VARCHAR(20) PRIMARY KEY,
		positions JSONB NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
}
