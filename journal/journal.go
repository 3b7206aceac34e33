// Package journal is the append-only audit sink: every closed position
// slice and every day's aggregate stats land here. The trading core
// never reads this data back except to display history.
package journal

import "time"

// PositionRecord is one close event, full or partial.
type PositionRecord struct {
	OrderID    string
	Account    string
	Symbol     string
	Pattern    string
	Quantity   int
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	RealizedPL float64
	Reason     string
}

// DailySnapshot is the end-of-day ledger summary for one account.
type DailySnapshot struct {
	Account         string
	Date            string
	PnL             float64
	NetPnL          float64
	Trades          int
	Wins            int
	Losses          int
	WinRate         float64
	Commissions     float64
	Slippage        float64
	StartingCapital float64
	PeakCapital     float64
	MaxDrawdownPct  float64
}

type Journal interface {
	RecordPosition(PositionRecord) error
	RecordDaily(DailySnapshot) error
	Close() error
}
