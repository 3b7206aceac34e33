package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordPosition(r PositionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO positions
		(order_id, account, symbol, pattern, quantity, entry_price, exit_price, entry_time, exit_time, realized_pl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OrderID, r.Account, r.Symbol, r.Pattern, r.Quantity,
		r.EntryPrice, r.ExitPrice, r.EntryTime, r.ExitTime, r.RealizedPL, r.Reason,
	)
	return err
}

// RecordDaily upserts the day's snapshot; the scheduler writes it once
// at the close but a crash-restart may write it again with later
// numbers.
func (j *SQLite) RecordDaily(s DailySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO daily_stats
		(account, date, pnl, net_pnl, trades, wins, losses, win_rate, commissions, slippage, starting_capital, peak_capital, max_drawdown_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, date) DO UPDATE SET
			pnl=excluded.pnl, net_pnl=excluded.net_pnl, trades=excluded.trades,
			wins=excluded.wins, losses=excluded.losses, win_rate=excluded.win_rate,
			commissions=excluded.commissions, slippage=excluded.slippage,
			starting_capital=excluded.starting_capital, peak_capital=excluded.peak_capital,
			max_drawdown_pct=excluded.max_drawdown_pct`,
		s.Account, s.Date, s.PnL, s.NetPnL, s.Trades, s.Wins, s.Losses,
		s.WinRate, s.Commissions, s.Slippage, s.StartingCapital,
		s.PeakCapital, s.MaxDrawdownPct,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
