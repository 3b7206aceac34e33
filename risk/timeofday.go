package risk

import "time"

// PhaseAdjust widens or tightens stop and target distances by session
// phase. Applied once to a position's exits when it is armed.
type PhaseAdjust struct {
	Phase      string
	StopMult   float64
	TargetMult float64
}

// TimeOfDayAdjust classifies the session phase for t (exchange local
// time) and returns the stop/target multipliers for it.
func TimeOfDayAdjust(t time.Time) PhaseAdjust {
	tod := sinceMidnight(t)
	switch {
	case tod < 9*time.Hour+15*time.Minute:
		return PhaseAdjust{Phase: "standard", StopMult: 1.0, TargetMult: 1.0}
	case tod < 10*time.Hour+30*time.Minute:
		return PhaseAdjust{Phase: "opening_volatility", StopMult: 1.25, TargetMult: 1.15}
	case tod < 14*time.Hour:
		return PhaseAdjust{Phase: "midday_calm", StopMult: 0.85, TargetMult: 1.0}
	default:
		return PhaseAdjust{Phase: "closing_rush", StopMult: 1.1, TargetMult: 1.05}
	}
}
