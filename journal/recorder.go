package journal

import (
	"context"

	"github.com/niftyalgo/trader/internal/clock"
	"github.com/niftyalgo/trader/trade"
)

// Recorder adapts a Journal to the monitoring loop's close-event hook.
type Recorder struct {
	J   Journal
	Clk clock.Clock
}

func NewRecorder(j Journal, clk clock.Clock) *Recorder {
	return &Recorder{J: j, Clk: clk}
}

func (r *Recorder) PositionClosed(ctx context.Context, account string, p *trade.Position, reason trade.CloseReason, qty int, price, pnl float64) error {
	return r.J.RecordPosition(PositionRecord{
		OrderID:    p.OrderID,
		Account:    account,
		Symbol:     p.Instrument.TradingSymbol,
		Pattern:    p.Pattern,
		Quantity:   qty,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		EntryTime:  p.EnteredAt,
		ExitTime:   r.Clk.Now(),
		RealizedPL: pnl,
		Reason:     string(reason),
	})
}
