package plan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/niftyalgo/trader/market"
	"github.com/niftyalgo/trader/trade"
)

// Adjustment is the model's suggestion for an open position. The caller
// applies it through the position's own guards: a suggested stop below
// the ratchet is discarded there, not here.
type Adjustment struct {
	Action     string  `json:"action"` // hold, tighten_stop, exit
	NewStop    float64 `json:"new_stop"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

const (
	ActionHold        = "hold"
	ActionTightenStop = "tighten_stop"
	ActionExit        = "exit"
)

const adjustConfidenceFloor = 0.6

var validAdjustActions = map[string]bool{
	ActionHold:        true,
	ActionTightenStop: true,
	ActionExit:        true,
}

const adjustSystemPrompt = `You review one open intraday NIFTY option position against fresh
market data and answer with pure JSON, no markdown:
{"action": "hold|tighten_stop|exit", "new_stop": 0.0,
 "confidence": 0.0, "rationale": "one line"}
Suggest tighten_stop only with a concrete new_stop. Never suggest
widening a stop.`

// SuggestAdjustment asks whether market conditions have shifted against
// an open position. gapPct is today's open-to-now spot move when known
// (nil otherwise); it tells the model whether the session's gap thesis
// still holds. Low-confidence or malformed suggestions degrade to hold:
// the monitoring loop's own rules remain the authority.
func (p *Planner) SuggestAdjustment(ctx context.Context, pos *trade.Position, price float64, snap market.Snapshot, gapPct *float64) (Adjustment, error) {
	hold := Adjustment{Action: ActionHold}

	vix := "unavailable"
	if snap.VIX != nil {
		vix = fmt.Sprintf("%.2f (%s)", *snap.VIX, snap.VIXMomentum)
	}
	gap := "unknown"
	if gapPct != nil {
		gap = fmt.Sprintf("%+.2f%%", *gapPct)
	}
	user := fmt.Sprintf(`Position: %s, entered %.2f, now %.2f (%.1f%%), stop %.2f, remaining qty %d.
Market: regime %s, trend %s, VIX %s, spot move since open %s.
Has the situation shifted against this position?`,
		pos.Instrument.TradingSymbol,
		pos.EntryPrice, price, pos.ProfitPct(price), pos.StopLoss, pos.Remaining,
		snap.Regime, snap.Trend, vix, gap,
	)

	reply, err := p.chat(ctx, adjustSystemPrompt, user)
	if err != nil {
		return hold, err
	}

	var adj Adjustment
	if err := json.Unmarshal([]byte(extractJSON(reply)), &adj); err != nil {
		p.log.Warn("unparseable adjustment reply, holding", "err", err)
		return hold, nil
	}

	if !validAdjustActions[adj.Action] {
		p.log.Warn("unknown adjustment action, holding", "action", adj.Action)
		return hold, nil
	}
	if adj.Confidence < adjustConfidenceFloor {
		return hold, nil
	}
	if adj.Action == ActionTightenStop && adj.NewStop <= 0 {
		return hold, nil
	}
	return adj, nil
}
