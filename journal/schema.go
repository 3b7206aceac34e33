// journal/schema.go
package journal

const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	order_id TEXT NOT NULL,
	account TEXT NOT NULL,
	symbol TEXT NOT NULL,
	pattern TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	entry_time DATETIME NOT NULL,
	exit_time DATETIME NOT NULL,
	realized_pl REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_stats (
	account TEXT NOT NULL,
	date TEXT NOT NULL,
	pnl REAL NOT NULL,
	net_pnl REAL NOT NULL,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	win_rate REAL NOT NULL,
	commissions REAL NOT NULL,
	slippage REAL NOT NULL,
	starting_capital REAL NOT NULL,
	peak_capital REAL NOT NULL,
	max_drawdown_pct REAL NOT NULL,
	PRIMARY KEY (account, date)
);

CREATE INDEX IF NOT EXISTS idx_positions_exit_time ON positions(exit_time);
CREATE INDEX IF NOT EXISTS idx_positions_account ON positions(account);
`
