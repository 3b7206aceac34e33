package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

type CSVJournal struct {
	positions *csv.Writer
	daily     *csv.Writer
	pf, df    *os.File
}

func NewCSV(positionsPath, dailyPath string) (*CSVJournal, error) {
	pf, err := os.Create(positionsPath)
	if err != nil {
		return nil, err
	}
	df, err := os.Create(dailyPath)
	if err != nil {
		return nil, err
	}

	pw := csv.NewWriter(pf)
	dw := csv.NewWriter(df)

	if err := pw.Write([]string{"order_id", "account", "symbol", "pattern", "quantity", "entry_price", "exit_price", "entry_time", "exit_time", "realized_pl", "reason"}); err != nil {
		return nil, err
	}
	if err := dw.Write([]string{"account", "date", "pnl", "net_pnl", "trades", "wins", "losses", "win_rate", "commissions", "slippage", "starting_capital", "peak_capital", "max_drawdown_pct"}); err != nil {
		return nil, err
	}

	pw.Flush()
	if err := pw.Error(); err != nil {
		return nil, err
	}
	dw.Flush()
	if err := dw.Error(); err != nil {
		return nil, err
	}

	return &CSVJournal{pw, dw, pf, df}, nil
}

func (j *CSVJournal) RecordPosition(r PositionRecord) error {
	err := j.positions.Write([]string{
		r.OrderID,
		r.Account,
		r.Symbol,
		r.Pattern,
		strconv.Itoa(r.Quantity),
		f(r.EntryPrice),
		f(r.ExitPrice),
		r.EntryTime.Format(time.RFC3339),
		r.ExitTime.Format(time.RFC3339),
		f(r.RealizedPL),
		r.Reason,
	})
	if err != nil {
		return err
	}
	j.positions.Flush()
	return j.positions.Error()
}

func (j *CSVJournal) RecordDaily(s DailySnapshot) error {
	err := j.daily.Write([]string{
		s.Account,
		s.Date,
		f(s.PnL),
		f(s.NetPnL),
		strconv.Itoa(s.Trades),
		strconv.Itoa(s.Wins),
		strconv.Itoa(s.Losses),
		f(s.WinRate),
		f(s.Commissions),
		f(s.Slippage),
		f(s.StartingCapital),
		f(s.PeakCapital),
		f(s.MaxDrawdownPct),
	})
	if err != nil {
		return err
	}
	j.daily.Flush()
	return j.daily.Error()
}

func (j *CSVJournal) Close() error {
	j.positions.Flush()
	if err := j.positions.Error(); err != nil {
		return err
	}
	j.daily.Flush()
	if err := j.daily.Error(); err != nil {
		return err
	}

	if err := j.pf.Close(); err != nil {
		return err
	}
	if err := j.df.Close(); err != nil {
		return err
	}
	return nil
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}
