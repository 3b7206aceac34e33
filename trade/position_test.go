package trade

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niftyalgo/trader/market"
)

func openPosition(entry float64, qty int) *Position {
	return &Position{
		OrderID:    "ORD1",
		SetupID:    "SET1",
		Instrument: market.Instrument{TradingSymbol: "NIFTY31AUG24000CE", Token: "T1", OptionType: market.Call, LotSize: 75},
		EntryPrice: entry,
		Quantity:   qty,
		Remaining:  qty,
		StopLoss:   entry * 0.85,
		EnteredAt:  time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local),
		Status:     StatusOpen,
	}
}

func TestRatchetLadder(t *testing.T) {
	t.Parallel()

	p := openPosition(100, 75)

	assert.False(t, p.Ratchet(105), "under 10% profit leaves the stop alone")
	assert.Equal(t, 85.0, p.StopLoss)

	assert.True(t, p.Ratchet(111))
	assert.Equal(t, 100.0, p.StopLoss, "10% profit moves to breakeven")

	assert.True(t, p.Ratchet(121))
	assert.Equal(t, 110.0, p.StopLoss)

	assert.True(t, p.Ratchet(131))
	assert.InDelta(t, 115.0, p.StopLoss, 1e-9)
}

func TestRatchetNeverLowersStop(t *testing.T) {
	t.Parallel()

	// Random walks must never produce a falling stop.
	rng := rand.New(rand.NewSource(42))
	for path := 0; path < 100; path++ {
		p := openPosition(100, 75)
		price := 100.0
		prevStop := p.StopLoss
		for step := 0; step < 200; step++ {
			price *= 1 + (rng.Float64()-0.5)*0.1
			p.Ratchet(price)
			require.GreaterOrEqual(t, p.StopLoss, prevStop,
				"path %d step %d: stop fell after price %.2f", path, step, price)
			prevStop = p.StopLoss
		}
	}
}

func TestAdjustStopHonorsRatchet(t *testing.T) {
	t.Parallel()

	p := openPosition(100, 75)
	require.True(t, p.Ratchet(121)) // stop now 110

	assert.False(t, p.AdjustStop(105), "suggestion below the ratchet is discarded")
	assert.Equal(t, 110.0, p.StopLoss)
	assert.True(t, p.AdjustStop(112))
	assert.Equal(t, 112.0, p.StopLoss)
}

func TestStagnationDetection(t *testing.T) {
	t.Parallel()

	p := openPosition(100, 75)
	start := p.EnteredAt

	// Flat +3% for 50 minutes: stagnant.
	for m := 0; m <= 50; m += 5 {
		p.RecordProfit(start.Add(time.Duration(m)*time.Minute), 3.0+0.2*float64(m%2))
	}
	assert.True(t, p.Stagnant(start.Add(50*time.Minute)))

	// Still moving: not stagnant.
	q := openPosition(100, 75)
	for m := 0; m <= 50; m += 5 {
		q.RecordProfit(start.Add(time.Duration(m)*time.Minute), float64(m)/2)
	}
	assert.False(t, q.Stagnant(start.Add(50*time.Minute)))

	// Flat but losing: leave it to the stop, not the clock.
	r := openPosition(100, 75)
	for m := 0; m <= 50; m += 5 {
		r.RecordProfit(start.Add(time.Duration(m)*time.Minute), -2.0)
	}
	assert.False(t, r.Stagnant(start.Add(50*time.Minute)))

	// Too young even if flat.
	s := openPosition(100, 75)
	for m := 0; m <= 30; m += 5 {
		s.RecordProfit(start.Add(time.Duration(m)*time.Minute), 3.0)
	}
	assert.False(t, s.Stagnant(start.Add(30*time.Minute)))
}

func TestCloseSlicePartialAndTerminal(t *testing.T) {
	t.Parallel()

	p := openPosition(100, 150)
	now := p.EnteredAt.Add(time.Hour)

	pnl := p.CloseSlice(50, 120, ReasonProfitTarget, now)
	assert.InDelta(t, 1000.0, pnl, 1e-9)
	assert.Equal(t, 100, p.Remaining)
	assert.Equal(t, StatusOpen, p.Status, "partial close keeps the position open")

	pnl = p.CloseSlice(100, 110, ReasonStopLoss, now)
	assert.InDelta(t, 1000.0, pnl, 1e-9)
	assert.Zero(t, p.Remaining)
	assert.Equal(t, ClosedStatus(ReasonStopLoss), p.Status)
	assert.InDelta(t, 2000.0, p.RealizedPnL, 1e-9)
}

func TestCloseSliceClampsOverage(t *testing.T) {
	t.Parallel()

	p := openPosition(100, 75)
	p.CloseSlice(500, 105, ReasonEOD, p.EnteredAt.Add(time.Hour))
	assert.Zero(t, p.Remaining)
	assert.InDelta(t, 5.0*75, p.RealizedPnL, 1e-9)
}

func TestSetupWindowAndConditions(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local)
	s := &Setup{
		ID:         "SET1",
		Instrument: market.Instrument{Token: "T1", LotSize: 75},
		EntryPrice: 100,
		StopLoss:   85,
		Quantity:   75,
		ValidFrom:  base,
		ValidUntil: base.Add(30 * time.Minute),
		Conditions: []Condition{
			{Indicator: "spot", Operator: ">", Threshold: 24000},
			{Indicator: "premium", Operator: "<=", Threshold: 105},
		},
	}

	assert.False(t, s.InWindow(base.Add(-time.Minute)))
	assert.True(t, s.InWindow(base.Add(10*time.Minute)))
	assert.False(t, s.InWindow(base.Add(31*time.Minute)))
	assert.True(t, s.Expired(base.Add(31*time.Minute)))

	ok, _ := s.ConditionsMet(24100, 102)
	assert.True(t, ok)
	ok, reason := s.ConditionsMet(23900, 102)
	assert.False(t, ok)
	assert.Contains(t, reason, "spot")
	ok, _ = s.ConditionsMet(24100, 110)
	assert.False(t, ok)
}

func TestSetupValidate(t *testing.T) {
	t.Parallel()

	good := &Setup{ID: "S", Instrument: market.Instrument{Token: "T1"}, EntryPrice: 100, StopLoss: 85, Quantity: 75}
	require.NoError(t, good.Validate())

	noToken := *good
	noToken.Instrument.Token = ""
	assert.Error(t, noToken.Validate())

	badStop := *good
	badStop.StopLoss = 100
	assert.Error(t, badStop.Validate())

	badQty := *good
	badQty.Quantity = 0
	assert.Error(t, badQty.Validate())
}

func TestConditionUnknownOperatorFailsClosed(t *testing.T) {
	t.Parallel()

	s := &Setup{Conditions: []Condition{{Indicator: "spot", Operator: "~", Threshold: 1}}}
	ok, reason := s.ConditionsMet(100, 100)
	assert.False(t, ok)
	assert.Contains(t, reason, "unknown operator")
}
