package risk

import "fmt"

// PerformanceMultiplier scales sizing by the day's realized edge, a
// fractional-Kelly style of pressing winners and cutting cold streaks.
// Fewer than 3 trades is too small a sample to act on.
func (l *Ledger) PerformanceMultiplier(account string) (float64, string) {
	s, ok := l.Summary(account)
	if !ok || s.Trades < 3 {
		return 1.0, "insufficient sample, neutral sizing"
	}
	switch {
	case s.WinRate >= 65:
		return 1.3, fmt.Sprintf("win rate %.0f%%, pressing", s.WinRate)
	case s.WinRate >= 50:
		return 1.0, fmt.Sprintf("win rate %.0f%%, neutral", s.WinRate)
	case s.WinRate >= 35:
		return 0.7, fmt.Sprintf("win rate %.0f%%, cautious", s.WinRate)
	default:
		return 0.5, fmt.Sprintf("win rate %.0f%%, minimum sizing", s.WinRate)
	}
}

// GreeksMultiplier discounts size for deltas outside the sweet spot:
// deep ITM contracts tie up premium, far OTM ones decay too fast. A nil
// delta (no greeks feed) sizes neutrally.
func GreeksMultiplier(delta *float64) (float64, string) {
	if delta == nil {
		return 1.0, "no greeks available"
	}
	d := *delta
	if d < 0 {
		d = -d
	}
	switch {
	case d > 0.7:
		return 0.7, fmt.Sprintf("deep ITM delta %.2f", *delta)
	case d < 0.3:
		return 0.5, fmt.Sprintf("far OTM delta %.2f", *delta)
	default:
		return 1.0, fmt.Sprintf("delta %.2f in range", *delta)
	}
}

// SizeInput is one entry candidate's sizing request. BaseQty is the
// suggested quantity (a whole number of lots) before risk adjustment.
// GateFactor comes from the gate chain verdict. CapCapital, when
// positive, caps total premium outlay.
type SizeInput struct {
	BaseQty    int
	LotSize    int
	EntryPrice float64
	Delta      *float64
	GateFactor float64
	CapCapital float64
}

// SizeResult is the adjusted quantity with the full reasoning trail.
type SizeResult struct {
	Quantity   int
	Lots       int
	Multiplier float64
	Notes      []string
}

// Size applies the performance, greeks and protection multipliers to
// the base quantity and floors the result to whole lots. A result below
// one lot comes back as zero quantity: the entry should be skipped, not
// force-filled at minimum size.
func (l *Ledger) Size(account string, in SizeInput) SizeResult {
	res := SizeResult{}
	if in.LotSize <= 0 || in.BaseQty <= 0 {
		res.Notes = append(res.Notes, "invalid base quantity or lot size")
		return res
	}

	perf, perfNote := l.PerformanceMultiplier(account)
	greeks, greeksNote := GreeksMultiplier(in.Delta)
	gate := in.GateFactor
	if gate <= 0 {
		gate = 1.0
	}

	res.Multiplier = perf * greeks * gate
	res.Notes = append(res.Notes, perfNote, greeksNote)
	if gate != 1.0 {
		res.Notes = append(res.Notes, fmt.Sprintf("gate factor %.2f", gate))
	}

	adjusted := float64(in.BaseQty) * res.Multiplier
	lots := int(adjusted) / in.LotSize

	// Cap outlay to available capital.
	if in.CapCapital > 0 && in.EntryPrice > 0 {
		maxLots := int(in.CapCapital / (in.EntryPrice * float64(in.LotSize)))
		if lots > maxLots {
			res.Notes = append(res.Notes, fmt.Sprintf("capital cap reduced lots %d -> %d", lots, maxLots))
			lots = maxLots
		}
	}

	if lots < 1 {
		res.Notes = append(res.Notes, "below one lot after adjustment, skip entry")
		return res
	}

	res.Lots = lots
	res.Quantity = lots * in.LotSize
	return res
}
