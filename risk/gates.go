package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/niftyalgo/trader/market"
)

// Outcome is one gate's result. Pending marks a gate whose condition is
// not met yet but may be on a later tick (breakout not confirmed);
// Unavailable marks a gate with no data source wired. Pending blocks
// the entry; Unavailable does not. Both stay distinct from Passed in
// the audit trail so a quiet gate is never mistaken for a confirming
// one.
type Outcome string

const (
	Passed      Outcome = "passed"
	Rejected    Outcome = "rejected"
	Pending     Outcome = "pending"
	Unavailable Outcome = "unavailable"
)

// GateResult is one line of the entry audit trail.
type GateResult struct {
	Gate    string
	Outcome Outcome
	Reason  string
}

// Verdict is the chain's aggregate decision. Reason carries the first
// blocking result; Results carries every gate evaluated, in order.
// SizeFactor is 0.5 when profit protection demands reduced risk, else
// 1.0.
type Verdict struct {
	Allowed    bool
	Reason     string
	SizeFactor float64
	Results    []GateResult
}

// MicroCheck is a market-microstructure gate (liquidity, spread, IV
// percentile, multi-timeframe alignment). Implementations need a data
// feed the core system does not require; a nil checker reports
// Unavailable instead of silently passing.
type MicroCheck interface {
	Check(ctx context.Context, inst market.Instrument) GateResult
}

// Limits holds the guardrail configuration for the gate chain.
type Limits struct {
	LossLimitPct     float64 // daily circuit breaker, percent of capital
	SoftTradeLimit   int     // blocks here when win rate < 60%
	HardTradeLimit   int     // absolute daily cap
	MaxLossStreak    int     // consecutive losses before a forced pause
	MaxOpenPositions int

	BlockStart time.Duration // time-of-day window with no new entries
	BlockEnd   time.Duration
	BuyCutoff  time.Duration // no fresh buys at or after this time
}

// DefaultLimits returns the production guardrails.
func DefaultLimits() Limits {
	return Limits{
		LossLimitPct:     10,
		SoftTradeLimit:   10,
		HardTradeLimit:   15,
		MaxLossStreak:    3,
		MaxOpenPositions: 2,
		BlockStart:       14*time.Hour + 30*time.Minute,
		BlockEnd:         15*time.Hour + 15*time.Minute,
		BuyCutoff:        14 * time.Hour,
	}
}

// Chain evaluates every entry gate in a fixed order and records the
// full audit trail. The first blocking result decides the verdict;
// later gates are still evaluated so the trail always shows the
// complete picture of the moment.
type Chain struct {
	Ledger *Ledger
	Limits Limits

	// Optional microstructure gates. Nil members report Unavailable.
	Liquidity    MicroCheck
	Spread       MicroCheck
	Timeframes   MicroCheck
	IVPercentile MicroCheck
}

// EntryContext is the per-candidate input to the chain. BreakoutLevel
// zero means the setup carries no reference level and the breakout gate
// is skipped. OpenTypes lists the option types already open on the same
// underlying, for the correlation gate.
type EntryContext struct {
	Account       string
	Now           time.Time
	Instrument    market.Instrument
	OpenPositions int
	OpenTypes     []market.OptionType

	Spot          float64
	BreakoutLevel float64
	Trend         market.Trend
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// Evaluate runs the chain for one entry candidate.
func (c *Chain) Evaluate(ctx context.Context, ec EntryContext) Verdict {
	v := Verdict{Allowed: true, SizeFactor: 1.0}

	record := func(gate string, outcome Outcome, reason string) {
		v.Results = append(v.Results, GateResult{Gate: gate, Outcome: outcome, Reason: reason})
		if (outcome == Rejected || outcome == Pending) && v.Allowed {
			v.Allowed = false
			v.Reason = reason
		}
	}

	if ok, lossPct := c.Ledger.CircuitBreaker(ec.Account, c.Limits.LossLimitPct); !ok {
		record("circuit_breaker", Rejected,
			fmt.Sprintf("daily loss %.1f%% breached %.0f%% limit", lossPct, c.Limits.LossLimitPct))
	} else {
		record("circuit_breaker", Passed, fmt.Sprintf("daily pnl %.1f%%", lossPct))
	}

	if ok, reason, _ := c.Ledger.MaxTrades(ec.Account, c.Limits.SoftTradeLimit, c.Limits.HardTradeLimit); !ok {
		record("max_trades", Rejected, reason)
	} else {
		record("max_trades", Passed, reason)
	}

	if ec.OpenPositions >= c.Limits.MaxOpenPositions {
		record("max_positions", Rejected,
			fmt.Sprintf("%d positions already open (max %d)", ec.OpenPositions, c.Limits.MaxOpenPositions))
	} else {
		record("max_positions", Passed, fmt.Sprintf("open %d/%d", ec.OpenPositions, c.Limits.MaxOpenPositions))
	}

	tod := sinceMidnight(ec.Now)
	if tod >= c.Limits.BlockStart && tod < c.Limits.BlockEnd {
		record("time_window", Rejected, "inside late-session no-entry window")
	} else {
		record("time_window", Passed, "outside blocked window")
	}

	if tod >= c.Limits.BuyCutoff {
		record("buy_cutoff", Rejected, "no new buys this late in the session")
	} else {
		record("buy_cutoff", Passed, "before buy cutoff")
	}

	opposite := ec.Instrument.OptionType.Opposite()
	hedged := false
	for _, ot := range ec.OpenTypes {
		if ot == opposite {
			hedged = true
			break
		}
	}
	if hedged {
		record("correlation", Rejected,
			fmt.Sprintf("open %s position conflicts with new %s entry", opposite, ec.Instrument.OptionType))
	} else {
		record("correlation", Passed, "no opposite-side position open")
	}

	if movePct, tripped := c.Ledger.FlashMove(ec.Account); tripped {
		record("flash_crash", Rejected,
			fmt.Sprintf("underlying moved %.2f%% inside 5 minutes", movePct))
	} else {
		record("flash_crash", Passed, fmt.Sprintf("5-minute move %.2f%%", movePct))
	}

	if streak := c.Ledger.LossStreak(ec.Account); streak >= c.Limits.MaxLossStreak {
		record("loss_streak", Rejected,
			fmt.Sprintf("%d consecutive losses, pausing entries", streak))
	} else {
		record("loss_streak", Passed, fmt.Sprintf("streak %d", streak))
	}

	mode, retracePct := c.Ledger.Protect(ec.Account)
	switch mode {
	case ProtectStop:
		record("profit_protect", Rejected,
			fmt.Sprintf("profit protection: gave back %.0f%% of peak, done for the day", retracePct))
	case ProtectReduceRisk:
		v.SizeFactor = 0.5
		record("profit_protect", Passed,
			fmt.Sprintf("profit protection: %.0f%% retrace, sizing halved", retracePct))
	default:
		record("profit_protect", Passed, string(mode))
	}

	if ec.BreakoutLevel > 0 {
		if ok, reason := market.ConfirmBreakout(ec.Spot, ec.BreakoutLevel, ec.Trend); ok {
			record("breakout", Passed, reason)
		} else {
			record("breakout", Pending, reason)
		}
	} else {
		record("breakout", Passed, "no reference level on setup")
	}

	c.micro(ctx, ec, "liquidity", c.Liquidity, record)
	c.micro(ctx, ec, "spread", c.Spread, record)
	c.micro(ctx, ec, "timeframe_alignment", c.Timeframes, record)
	c.micro(ctx, ec, "iv_percentile", c.IVPercentile, record)

	if v.Allowed {
		v.Reason = "all gates passed"
	}
	return v
}

func (c *Chain) micro(ctx context.Context, ec EntryContext, name string, check MicroCheck, record func(string, Outcome, string)) {
	if check == nil {
		record(name, Unavailable, "no data source wired")
		return
	}
	res := check.Check(ctx, ec.Instrument)
	record(name, res.Outcome, res.Reason)
}
