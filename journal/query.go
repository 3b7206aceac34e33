package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// ListPositionsClosedBetween returns close events with exit_time within
// [start, end), oldest first.
func (j *SQLite) ListPositionsClosedBetween(start, end time.Time) ([]PositionRecord, error) {
	rows, err := j.db.Query(`
		SELECT order_id, account, symbol, pattern, quantity, entry_price, exit_price, entry_time, exit_time, realized_pl, reason
		FROM positions
		WHERE exit_time >= ? AND exit_time < ?
		ORDER BY exit_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		var rec PositionRecord
		if err := rows.Scan(
			&rec.OrderID,
			&rec.Account,
			&rec.Symbol,
			&rec.Pattern,
			&rec.Quantity,
			&rec.EntryPrice,
			&rec.ExitPrice,
			&rec.EntryTime,
			&rec.ExitTime,
			&rec.RealizedPL,
			&rec.Reason,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDaily returns an account's daily snapshots, newest first, capped
// at limit.
func (j *SQLite) ListDaily(account string, limit int) ([]DailySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT account, date, pnl, net_pnl, trades, wins, losses, win_rate, commissions, slippage, starting_capital, peak_capital, max_drawdown_pct
		FROM daily_stats
		WHERE account = ?
		ORDER BY date DESC
		LIMIT ?`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailySnapshot
	for rows.Next() {
		var s DailySnapshot
		if err := rows.Scan(
			&s.Account,
			&s.Date,
			&s.PnL,
			&s.NetPnL,
			&s.Trades,
			&s.Wins,
			&s.Losses,
			&s.WinRate,
			&s.Commissions,
			&s.Slippage,
			&s.StartingCapital,
			&s.PeakCapital,
			&s.MaxDrawdownPct,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDaily returns one account's snapshot for a date.
func (j *SQLite) GetDaily(account, date string) (DailySnapshot, error) {
	var s DailySnapshot
	row := j.db.QueryRow(`
		SELECT account, date, pnl, net_pnl, trades, wins, losses, win_rate, commissions, slippage, starting_capital, peak_capital, max_drawdown_pct
		FROM daily_stats
		WHERE account = ? AND date = ?`, account, date)

	err := row.Scan(
		&s.Account,
		&s.Date,
		&s.PnL,
		&s.NetPnL,
		&s.Trades,
		&s.Wins,
		&s.Losses,
		&s.WinRate,
		&s.Commissions,
		&s.Slippage,
		&s.StartingCapital,
		&s.PeakCapital,
		&s.MaxDrawdownPct,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return DailySnapshot{}, fmt.Errorf("no stats for %s on %s", account, date)
		}
		return DailySnapshot{}, err
	}
	return s, nil
}
