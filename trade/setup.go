// Package trade drives the lifecycle of a position: entry evaluation,
// order execution and verification, tick-by-tick monitoring with a
// trailing ratchet, scaled exits and the end-of-day sweep.
package trade

import (
	"fmt"
	"time"

	"github.com/niftyalgo/trader/market"
)

// Condition is one structured entry trigger, e.g. spot > 24000.
type Condition struct {
	Indicator string  `json:"indicator"` // "spot" or "premium"
	Operator  string  `json:"operator"`  // ">", ">=", "<", "<="
	Threshold float64 `json:"threshold"`
}

// Eval checks the condition against the live reading for its indicator.
func (c Condition) Eval(value float64) (bool, error) {
	switch c.Operator {
	case ">":
		return value > c.Threshold, nil
	case ">=":
		return value >= c.Threshold, nil
	case "<":
		return value < c.Threshold, nil
	case "<=":
		return value <= c.Threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

// Setup is a proposed trade, parsed from the day's plan. Immutable once
// generated; it is consumed exactly once to produce a Position, or
// discarded when its entry window lapses. A setup closed at its profit
// target may be marked eligible again for a fresh entry.
type Setup struct {
	ID         string
	Instrument market.Instrument
	EntryPrice float64
	StopLoss   float64
	Target1    float64
	Target2    float64
	Quantity   int
	Conditions []Condition
	ValidFrom  time.Time
	ValidUntil time.Time

	Delta         *float64
	Pattern       string
	Reasoning     string
	BreakoutLevel float64
}

// HasExplicitTargets reports whether the plan supplied concrete premium
// targets. Positions from such setups scale out in tiers; the rest use
// a single volatility-derived target.
func (s *Setup) HasExplicitTargets() bool {
	return s.Target1 > 0 && s.Target2 > 0
}

// InWindow reports whether now falls inside the setup's entry window.
// An open-ended window (zero bounds) is always in.
func (s *Setup) InWindow(now time.Time) bool {
	if !s.ValidFrom.IsZero() && now.Before(s.ValidFrom) {
		return false
	}
	if !s.ValidUntil.IsZero() && !now.Before(s.ValidUntil) {
		return false
	}
	return true
}

// Expired reports whether the window has lapsed for good.
func (s *Setup) Expired(now time.Time) bool {
	return !s.ValidUntil.IsZero() && !now.Before(s.ValidUntil)
}

// ConditionsMet evaluates every entry condition against the spot and
// the option premium. Malformed conditions fail the setup rather than
// passing silently.
func (s *Setup) ConditionsMet(spot, premium float64) (bool, string) {
	for _, c := range s.Conditions {
		value := spot
		if c.Indicator == "premium" {
			value = premium
		}
		ok, err := c.Eval(value)
		if err != nil {
			return false, err.Error()
		}
		if !ok {
			return false, fmt.Sprintf("%s %.2f not %s %.2f", c.Indicator, value, c.Operator, c.Threshold)
		}
	}
	return true, "entry conditions met"
}

// Validate rejects setups the executor cannot act on. Dropped setups
// never reach the gate chain.
func (s *Setup) Validate() error {
	if s.Instrument.Token == "" {
		return fmt.Errorf("setup %s: no resolvable instrument token", s.ID)
	}
	if s.EntryPrice <= 0 {
		return fmt.Errorf("setup %s: invalid entry price %.2f", s.ID, s.EntryPrice)
	}
	if s.Quantity <= 0 {
		return fmt.Errorf("setup %s: invalid quantity %d", s.ID, s.Quantity)
	}
	if s.StopLoss >= s.EntryPrice {
		return fmt.Errorf("setup %s: stop %.2f not below entry %.2f", s.ID, s.StopLoss, s.EntryPrice)
	}
	return nil
}
