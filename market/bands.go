package market

// Band holds the exit thresholds for one volatility regime, all expressed
// as percent profit on the entry premium. Lower readings mean tighter,
// earlier exits; higher readings give a trade room to breathe.
type Band struct {
	// BreakevenPct is the profit level at which the stop moves to entry.
	BreakevenPct float64
	// TrailPct is the profit level at which the stop starts trailing.
	TrailPct float64
	// TargetPct is the full-close profit target for the regime.
	TargetPct float64
}

// BandFor maps an India VIX reading to its exit thresholds. The numbers
// are tuned policy, not derived quantities.
//
// A nil reading (VIX unavailable) falls back to the 12–15 band, which is
// where the index spends most of its time.
func BandFor(vix *float64) Band {
	if vix == nil {
		return Band{BreakevenPct: 15, TrailPct: 25, TargetPct: 25}
	}

	switch v := *vix; {
	case v < 12:
		return Band{BreakevenPct: 10, TrailPct: 15, TargetPct: 10}
	case v < 15:
		return Band{BreakevenPct: 15, TrailPct: 25, TargetPct: 25}
	case v < 20:
		return Band{BreakevenPct: 20, TrailPct: 40, TargetPct: 40}
	case v < 25:
		return Band{BreakevenPct: 30, TrailPct: 65, TargetPct: 65}
	default:
		return Band{BreakevenPct: 40, TrailPct: 80, TargetPct: 80}
	}
}
