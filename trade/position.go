package trade

import (
	"time"

	"github.com/niftyalgo/trader/market"
)

// CloseReason tags why a position (or a slice of it) was closed.
type CloseReason string

const (
	ReasonStopLoss     CloseReason = "stop_loss"
	ReasonProfitTarget CloseReason = "profit_target"
	ReasonTimeExit     CloseReason = "time_exit"
	ReasonEOD          CloseReason = "eod_auto_close"
)

// Status is the position lifecycle state. Closed states are terminal.
type Status string

const StatusOpen Status = "open"

// ClosedStatus derives the terminal status for a close reason.
func ClosedStatus(reason CloseReason) Status {
	return Status("closed_" + string(reason))
}

// Position is a live trade created from a verified fill. The stop only
// ever rises; Remaining only ever falls.
type Position struct {
	OrderID    string
	SetupID    string
	Instrument market.Instrument
	Pattern    string

	PlannedPrice float64
	EntryPrice   float64 // actual fill
	Quantity     int     // original fill quantity
	Remaining    int

	StopLoss   float64
	Target1    float64
	Target2    float64
	Target1Hit bool
	Target2Hit bool
	Tiered     bool // scale out at explicit targets instead of a vix target

	EnteredAt   time.Time
	Status      Status
	CloseAt     time.Time
	ClosePrice  float64
	RealizedPnL float64

	profits []profitPoint // trailing profit% samples for stagnation
}

type profitPoint struct {
	at  time.Time
	pct float64
}

// ProfitPct is the unrealized profit at price, percent of entry.
func (p *Position) ProfitPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// ScaleExits rescales the stop and target distances around the entry
// fill. Applied once, at entry, for the session-phase adjustment; the
// ratchet takes over from there.
func (p *Position) ScaleExits(stopMult, targetMult float64) {
	if p.StopLoss > 0 {
		p.StopLoss = p.EntryPrice - (p.EntryPrice-p.StopLoss)*stopMult
	}
	if p.Target1 > 0 {
		p.Target1 = p.EntryPrice + (p.Target1-p.EntryPrice)*targetMult
	}
	if p.Target2 > 0 {
		p.Target2 = p.EntryPrice + (p.Target2-p.EntryPrice)*targetMult
	}
}

// Ratchet raises the stop according to the trailing ladder: 30% profit
// locks in 15% above entry, 20% locks 10% above, 10% moves to
// breakeven. The stop never moves down.
func (p *Position) Ratchet(price float64) (raised bool) {
	profit := p.ProfitPct(price)

	var candidate float64
	switch {
	case profit >= 30:
		candidate = p.EntryPrice * 1.15
	case profit >= 20:
		candidate = p.EntryPrice * 1.10
	case profit >= 10:
		candidate = p.EntryPrice
	default:
		return false
	}

	if candidate > p.StopLoss {
		p.StopLoss = candidate
		return true
	}
	return false
}

// AdjustStop applies an externally suggested stop, honoring the
// ratchet: a suggestion below the current stop is discarded.
func (p *Position) AdjustStop(suggested float64) bool {
	if suggested > p.StopLoss {
		p.StopLoss = suggested
		return true
	}
	return false
}

const (
	stagnationAge     = 45 * time.Minute
	stagnationWindow  = 20 * time.Minute
	stagnationBandPct = 1.0
)

// RecordProfit appends a profit sample and prunes outside the
// stagnation lookback.
func (p *Position) RecordProfit(now time.Time, pct float64) {
	p.profits = append(p.profits, profitPoint{at: now, pct: pct})
	cutoff := now.Add(-stagnationWindow)
	for len(p.profits) > 0 && p.profits[0].at.Before(cutoff) {
		p.profits = p.profits[1:]
	}
}

// Stagnant reports whether the position has been open at least 45
// minutes in positive but flat territory: profit moved no more than one
// percentage point across the last 20 minutes. Flat winners bleed theta.
func (p *Position) Stagnant(now time.Time) bool {
	if now.Sub(p.EnteredAt) < stagnationAge || len(p.profits) < 2 {
		return false
	}
	latest := p.profits[len(p.profits)-1].pct
	if latest <= 0 {
		return false
	}

	min, max := latest, latest
	for _, pt := range p.profits {
		if pt.pct < min {
			min = pt.pct
		}
		if pt.pct > max {
			max = pt.pct
		}
	}
	return max-min <= stagnationBandPct
}

// CloseSlice realizes pnl for qty units at price and decrements the
// remaining quantity. When nothing remains the terminal status is set.
func (p *Position) CloseSlice(qty int, price float64, reason CloseReason, now time.Time) float64 {
	if qty > p.Remaining {
		qty = p.Remaining
	}
	pnl := (price - p.EntryPrice) * float64(qty)
	p.RealizedPnL += pnl
	p.Remaining -= qty

	if p.Remaining <= 0 {
		p.Status = ClosedStatus(reason)
		p.CloseAt = now
		p.ClosePrice = price
	}
	return pnl
}
