package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niftyalgo/trader/internal/clock"
	"github.com/niftyalgo/trader/market"
	"github.com/niftyalgo/trader/risk"
	"github.com/niftyalgo/trader/trade"
)

type stubChat struct {
	replies  []string
	errs     []error
	calls    int
	lastUser string
}

func (s *stubChat) Chat(ctx context.Context, system, user string) (string, error) {
	i := s.calls
	s.calls++
	s.lastUser = user
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return s.replies[len(s.replies)-1], nil
}

type stubResolver struct {
	fail map[float64]bool
}

func (r *stubResolver) Resolve(ctx context.Context, underlying string, strike float64, ot market.OptionType) (market.Instrument, error) {
	if r.fail[strike] {
		return market.Instrument{}, errors.New("strike not in scrip master")
	}
	return market.Instrument{
		Underlying:    underlying,
		TradingSymbol: "NIFTY31AUG24000CE",
		Token:         "T1",
		Strike:        strike,
		OptionType:    ot,
		LotSize:       75,
	}, nil
}

func newTestPlanner(chat *stubChat, resolver InstrumentResolver) *Planner {
	clk := clock.NewFake(time.Date(2026, 8, 31, 9, 0, 0, 0, time.Local))
	p := NewPlanner(chat, resolver, clk, nil)
	p.Backoff = time.Millisecond
	p.clk = clock.Real{} // millisecond backoff, no manual advancing needed
	return p
}

const goodPlanJSON = `{
  "trades": [
    {
      "underlying": "NIFTY",
      "option_type": "CE",
      "strike": 24000,
      "entry_price": 100,
      "stop_loss": 85,
      "target_1": 120,
      "target_2": 140,
      "quantity": 75,
      "entry_conditions": [{"indicator": "spot", "operator": ">", "threshold": 24000}],
      "valid_from": "09:30",
      "valid_until": "14:00",
      "delta": 0.45,
      "pattern": "breakout_bullish",
      "breakout_level": 24000
    },
    {
      "underlying": "NIFTY",
      "option_type": "PE",
      "strike": 23800,
      "entry_price": 90,
      "stop_loss": 95,
      "quantity": 75
    }
  ]
}`

func TestParseDropsInvalidSiblingKeepsGood(t *testing.T) {
	t.Parallel()

	chat := &stubChat{replies: []string{goodPlanJSON}}
	p := newTestPlanner(chat, &stubResolver{})

	setups, err := p.Parse(context.Background(), "plan text")
	require.NoError(t, err)
	// The PE setup has its stop above entry and must be dropped alone.
	require.Len(t, setups, 1)

	s := setups[0]
	assert.Equal(t, market.Call, s.Instrument.OptionType)
	assert.Equal(t, "T1", s.Instrument.Token)
	assert.Equal(t, 100.0, s.EntryPrice)
	assert.Equal(t, 24000.0, s.BreakoutLevel)
	assert.NotEmpty(t, s.ID)
	require.NotNil(t, s.Delta)
	assert.Equal(t, 0.45, *s.Delta)

	// Window lands on today's date in local time.
	assert.Equal(t, 9, s.ValidFrom.Hour())
	assert.Equal(t, 30, s.ValidFrom.Minute())
	assert.Equal(t, 14, s.ValidUntil.Hour())
}

func TestParseHandlesMarkdownFence(t *testing.T) {
	t.Parallel()

	fenced := "Here is the structured plan:\n```json\n" + goodPlanJSON + "\n```\nDone."
	chat := &stubChat{replies: []string{fenced}}
	p := newTestPlanner(chat, &stubResolver{})

	setups, err := p.Parse(context.Background(), "plan text")
	require.NoError(t, err)
	assert.Len(t, setups, 1)
}

func TestParseDropsUnresolvableInstrument(t *testing.T) {
	t.Parallel()

	chat := &stubChat{replies: []string{goodPlanJSON}}
	p := newTestPlanner(chat, &stubResolver{fail: map[float64]bool{24000: true}})

	setups, err := p.Parse(context.Background(), "plan text")
	require.NoError(t, err)
	assert.Empty(t, setups, "no token, no trade")
}

func TestParseGarbageIsAnError(t *testing.T) {
	t.Parallel()

	chat := &stubChat{replies: []string{"I'd rather talk about the weather."}}
	p := newTestPlanner(chat, &stubResolver{})

	_, err := p.Parse(context.Background(), "plan text")
	assert.Error(t, err)
}

func TestChatRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	chat := &stubChat{
		errs:    []error{errors.New("503"), errors.New("503"), nil},
		replies: []string{"", "", "the plan"},
	}
	p := newTestPlanner(chat, &stubResolver{})

	out, err := p.Generate(context.Background(), market.Snapshot{}, dayStats(), nil)
	require.NoError(t, err)
	assert.Equal(t, "the plan", out)
	assert.Equal(t, 3, chat.calls)
}

func TestChatExhaustsRetries(t *testing.T) {
	t.Parallel()

	boom := errors.New("503")
	chat := &stubChat{errs: []error{boom, boom, boom}, replies: []string{"", "", ""}}
	p := newTestPlanner(chat, &stubResolver{})

	_, err := p.Generate(context.Background(), market.Snapshot{}, dayStats(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, chat.calls)
}

func TestGeneratePromptCarriesPatternHistory(t *testing.T) {
	t.Parallel()

	chat := &stubChat{replies: []string{"the plan"}}
	p := newTestPlanner(chat, &stubResolver{})

	patterns := []risk.PatternStats{
		{Pattern: "breakout_bullish", Trades: 8, Wins: 6, PnL: 1240},
		{Pattern: "support_bounce", Trades: 5, Wins: 2, PnL: -310},
	}
	_, err := p.Generate(context.Background(), market.Snapshot{}, dayStats(), patterns)
	require.NoError(t, err)

	assert.Contains(t, chat.lastUser, "breakout_bullish: 75% win rate over 8 trades")
	assert.Contains(t, chat.lastUser, "support_bounce: 40% win rate over 5 trades")

	chat.lastUser = ""
	_, err = p.Generate(context.Background(), market.Snapshot{}, dayStats(), nil)
	require.NoError(t, err)
	assert.Contains(t, chat.lastUser, "no pattern has enough closed trades yet")
}

func TestSuggestAdjustmentPromptCarriesGap(t *testing.T) {
	t.Parallel()

	pos := &trade.Position{EntryPrice: 100, StopLoss: 90, Remaining: 75,
		Instrument: market.Instrument{TradingSymbol: "NIFTY31AUG24000CE"}}
	chat := &stubChat{replies: []string{`{"action": "hold", "confidence": 0.9}`}}
	p := newTestPlanner(chat, &stubResolver{})

	gap := 0.42
	_, err := p.SuggestAdjustment(context.Background(), pos, 105, market.Snapshot{}, &gap)
	require.NoError(t, err)
	assert.Contains(t, chat.lastUser, "spot move since open +0.42%")

	chat.lastUser = ""
	_, err = p.SuggestAdjustment(context.Background(), pos, 105, market.Snapshot{}, nil)
	require.NoError(t, err)
	assert.Contains(t, chat.lastUser, "spot move since open unknown")
}

func TestSuggestAdjustmentDegradesToHold(t *testing.T) {
	t.Parallel()

	pos := &trade.Position{EntryPrice: 100, StopLoss: 90, Remaining: 75,
		Instrument: market.Instrument{TradingSymbol: "NIFTY31AUG24000CE"}}

	cases := []struct {
		name  string
		reply string
	}{
		{"low confidence", `{"action": "exit", "confidence": 0.4}`},
		{"unknown action", `{"action": "double_down", "confidence": 0.9}`},
		{"tighten without stop", `{"action": "tighten_stop", "confidence": 0.9}`},
		{"garbage", `sell everything!!`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			chat := &stubChat{replies: []string{tc.reply}}
			p := newTestPlanner(chat, &stubResolver{})

			adj, err := p.SuggestAdjustment(context.Background(), pos, 105, market.Snapshot{}, nil)
			require.NoError(t, err)
			assert.Equal(t, "hold", adj.Action)
		})
	}
}

func TestSuggestAdjustmentAcceptsConfidentTighten(t *testing.T) {
	t.Parallel()

	pos := &trade.Position{EntryPrice: 100, StopLoss: 90, Remaining: 75,
		Instrument: market.Instrument{TradingSymbol: "NIFTY31AUG24000CE"}}
	chat := &stubChat{replies: []string{
		`{"action": "tighten_stop", "new_stop": 98, "confidence": 0.8, "rationale": "trend fading"}`,
	}}
	p := newTestPlanner(chat, &stubResolver{})

	adj, err := p.SuggestAdjustment(context.Background(), pos, 105, market.Snapshot{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tighten_stop", adj.Action)
	assert.Equal(t, 98.0, adj.NewStop)

	// The position guard, not the planner, enforces the ratchet.
	assert.True(t, pos.AdjustStop(adj.NewStop))
	assert.False(t, pos.AdjustStop(95))
}

func dayStats() risk.Summary { return risk.Summary{StartingCapital: 15000} }
