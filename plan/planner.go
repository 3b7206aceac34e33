package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/niftyalgo/trader/internal/clock"
	"github.com/niftyalgo/trader/internal/id"
	"github.com/niftyalgo/trader/market"
	"github.com/niftyalgo/trader/risk"
	"github.com/niftyalgo/trader/trade"
)

// Chatter is the slice of the AI client the planner needs. Client
// satisfies it.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// InstrumentResolver maps a proposed contract onto a real exchange
// instrument. A setup whose contract cannot be resolved is unusable and
// is dropped, never retried against the resolver indefinitely.
type InstrumentResolver interface {
	Resolve(ctx context.Context, underlying string, strike float64, optionType market.OptionType) (market.Instrument, error)
}

const (
	chatAttempts = 3
	chatBackoff  = 2 * time.Second
)

// Planner turns market context into validated trade setups via two AI
// calls: one to write the plan, one to structure it.
type Planner struct {
	ai       Chatter
	resolver InstrumentResolver
	clk      clock.Clock
	log      *slog.Logger

	// Backoff between retry attempts; zero means the default.
	Backoff time.Duration
}

func NewPlanner(ai Chatter, resolver InstrumentResolver, clk clock.Clock, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{
		ai:       ai,
		resolver: resolver,
		clk:      clk,
		log:      log.With("component", "plan"),
	}
}

func (p *Planner) backoff() time.Duration {
	if p.Backoff > 0 {
		return p.Backoff
	}
	return chatBackoff
}

// chat retries the AI call a bounded number of times with a fixed
// backoff, then fails closed.
func (p *Planner) chat(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= chatAttempts; attempt++ {
		reply, err := p.ai.Chat(ctx, system, user)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		p.log.Warn("ai call failed", "attempt", attempt, "err", err)

		if attempt == chatAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-p.clk.After(p.backoff()):
		}
	}
	return "", fmt.Errorf("ai call after %d attempts: %w", chatAttempts, lastErr)
}

// Generate asks for a free-text trade plan for today's session.
// patterns is the account's best-performing setup history and steers the
// plan toward what has actually worked for this account.
func (p *Planner) Generate(ctx context.Context, snap market.Snapshot, day risk.Summary, patterns []risk.PatternStats) (string, error) {
	return p.chat(ctx, analystSystemPrompt, buildMarketContext(snap, day, patterns))
}

func buildMarketContext(snap market.Snapshot, day risk.Summary, patterns []risk.PatternStats) string {
	vix := "unavailable"
	if snap.VIX != nil {
		vix = fmt.Sprintf("%.2f (%s)", *snap.VIX, snap.VIXMomentum)
	}
	spot := "unavailable"
	if snap.SpotErr == nil {
		spot = fmt.Sprintf("%.2f", snap.Spot)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Propose intraday NIFTY option buying setups for this session.

Market snapshot (%s):
- NIFTY spot: %s
- India VIX: %s
- Regime: %s, trend: %s
- Pivot %.0f, R1 %.0f, S1 %.0f, swing high %.0f, swing low %.0f

Account today:
- Capital: %.0f, realized pnl: %.0f (%.1f%%)
- Trades: %d, win rate %.0f%%

Best performing patterns for this account:
`,
		snap.Taken.Format("15:04"),
		spot,
		vix,
		snap.Regime, snap.Trend,
		snap.Levels.Pivot, snap.Levels.R1, snap.Levels.S1,
		snap.Levels.SwingHigh, snap.Levels.SwingLow,
		day.StartingCapital, day.PnL, day.PnLPct,
		day.Trades, day.WinRate,
	)
	if len(patterns) == 0 {
		b.WriteString("- no pattern has enough closed trades yet\n")
	}
	for _, ps := range patterns {
		fmt.Fprintf(&b, "- %s: %.0f%% win rate over %d trades, pnl %.0f\n",
			ps.Pattern, ps.WinRate(), ps.Trades, ps.PnL)
	}
	b.WriteString(`
Give at most 3 setups with strike, premium entry, stop, two targets,
entry conditions and the time window each setup is valid.`)
	return b.String()
}

type planDoc struct {
	Trades []rawTrade `json:"trades"`
}

type rawTrade struct {
	Underlying    string            `json:"underlying"`
	OptionType    string            `json:"option_type"`
	Strike        float64           `json:"strike"`
	EntryPrice    float64           `json:"entry_price"`
	StopLoss      float64           `json:"stop_loss"`
	Target1       float64           `json:"target_1"`
	Target2       float64           `json:"target_2"`
	Quantity      int               `json:"quantity"`
	Conditions    []trade.Condition `json:"entry_conditions"`
	ValidFrom     string            `json:"valid_from"`
	ValidUntil    string            `json:"valid_until"`
	Delta         *float64          `json:"delta"`
	Pattern       string            `json:"pattern"`
	BreakoutLevel float64           `json:"breakout_level"`
	Reasoning     string            `json:"reasoning"`
}

// Parse structures a free-text plan into validated setups. Setups that
// fail validation or instrument resolution are dropped individually;
// the siblings survive.
func (p *Planner) Parse(ctx context.Context, freeText string) ([]*trade.Setup, error) {
	reply, err := p.chat(ctx, structurerSystemPrompt, structurerSchema+freeText)
	if err != nil {
		return nil, err
	}

	var doc planDoc
	if err := json.Unmarshal([]byte(extractJSON(reply)), &doc); err != nil {
		return nil, fmt.Errorf("parse structured plan: %w", err)
	}

	var setups []*trade.Setup
	for i, raw := range doc.Trades {
		s, err := p.toSetup(ctx, raw)
		if err != nil {
			p.log.Warn("dropping unusable setup from plan", "index", i, "err", err)
			continue
		}
		setups = append(setups, s)
	}
	return setups, nil
}

func (p *Planner) toSetup(ctx context.Context, raw rawTrade) (*trade.Setup, error) {
	var optionType market.OptionType
	switch raw.OptionType {
	case string(market.Call):
		optionType = market.Call
	case string(market.Put):
		optionType = market.Put
	default:
		return nil, fmt.Errorf("unknown option type %q", raw.OptionType)
	}

	if p.resolver == nil {
		return nil, fmt.Errorf("no instrument resolver configured")
	}
	inst, err := p.resolver.Resolve(ctx, raw.Underlying, raw.Strike, optionType)
	if err != nil {
		return nil, fmt.Errorf("resolve %s %.0f %s: %w", raw.Underlying, raw.Strike, optionType, err)
	}

	quantity := raw.Quantity
	if quantity == 0 {
		quantity = inst.LotSize
	}

	s := &trade.Setup{
		ID:            id.New(),
		Instrument:    inst,
		EntryPrice:    raw.EntryPrice,
		StopLoss:      raw.StopLoss,
		Target1:       raw.Target1,
		Target2:       raw.Target2,
		Quantity:      quantity,
		Conditions:    raw.Conditions,
		Delta:         raw.Delta,
		Pattern:       raw.Pattern,
		Reasoning:     raw.Reasoning,
		BreakoutLevel: raw.BreakoutLevel,
	}

	if s.ValidFrom, err = p.parseClock(raw.ValidFrom); err != nil {
		return nil, err
	}
	if s.ValidUntil, err = p.parseClock(raw.ValidUntil); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// parseClock turns an exchange-local "HH:MM" into a timestamp on
// today's date. Empty input means an unbounded side of the window.
func (p *Planner) parseClock(hhmm string) (time.Time, error) {
	if hhmm == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: %w", hhmm, err)
	}
	now := p.clk.Now()
	return time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location()), nil
}
