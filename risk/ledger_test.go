package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niftyalgo/trader/internal/clock"
)

type stubCapital struct {
	amount float64
	err    error
}

func (s stubCapital) AvailableCapital(ctx context.Context, clientCode string) (float64, error) {
	return s.amount, s.err
}

func sessionStart() *clock.Fake {
	return clock.NewFake(time.Date(2026, 8, 31, 9, 15, 0, 0, time.Local))
}

func TestInitializeUsesCapitalSource(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(stubCapital{amount: 50000}, clk, nil)
	l.Initialize(context.Background(), "ACC1", nil)

	s, ok := l.Summary("ACC1")
	require.True(t, ok)
	assert.Equal(t, 50000.0, s.StartingCapital)
}

func TestInitializeFallsBackToDefaultCapital(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(stubCapital{err: errors.New("funds endpoint down")}, clk, nil)
	l.Initialize(context.Background(), "ACC1", nil)

	s, ok := l.Summary("ACC1")
	require.True(t, ok)
	assert.Equal(t, DefaultCapital, s.StartingCapital)
}

func TestInitializeIsIdempotentWithinDay(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)
	cap1 := 20000.0
	l.Initialize(context.Background(), "ACC1", &cap1)
	l.RecordClose("ACC1", 1200, true)

	// Re-initializing the same day must not wipe accumulated stats.
	cap2 := 99999.0
	l.Initialize(context.Background(), "ACC1", &cap2)

	s, ok := l.Summary("ACC1")
	require.True(t, ok)
	assert.Equal(t, 20000.0, s.StartingCapital)
	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, 1200.0, s.PnL)
}

func TestNewDayResetsStatsAndStreak(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)
	l.Initialize(context.Background(), "ACC1", nil)
	l.RecordClose("ACC1", -500, false)
	l.RecordClose("ACC1", -300, false)
	require.Equal(t, 2, l.LossStreak("ACC1"))

	clk.Advance(24 * time.Hour)
	l.Initialize(context.Background(), "ACC1", nil)

	s, ok := l.Summary("ACC1")
	require.True(t, ok)
	assert.Zero(t, s.Trades)
	assert.Zero(t, s.PnL)
	assert.Zero(t, l.LossStreak("ACC1"))
}

func TestRecordCloseIdentity(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)
	l.Initialize(context.Background(), "ACC1", nil)

	l.RecordClose("ACC1", 800, true)
	l.RecordClose("ACC1", -300, false)
	l.RecordClose("ACC1", 150, true)

	s, ok := l.Summary("ACC1")
	require.True(t, ok)
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	// pnl must equal gross profit minus gross loss
	assert.InDelta(t, 650.0, s.PnL, 1e-9)
	assert.InDelta(t, float64(s.Wins)/float64(s.Trades)*100, s.WinRate, 1e-9)
}

func TestRecordCloseAutoInitializes(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)

	// No Initialize call: recording must still land safely.
	l.RecordClose("ACC1", 100, true)

	s, ok := l.Summary("ACC1")
	require.True(t, ok)
	assert.Equal(t, DefaultCapital, s.StartingCapital)
	assert.Equal(t, 1, s.Trades)
}

func TestCommissionAndSlippageNetOut(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)
	l.Initialize(context.Background(), "ACC1", nil)

	l.RecordClose("ACC1", 1000, true)
	l.RecordCommission("ACC1", 2) // entry + exit
	l.RecordSlippage("ACC1", 35)

	s, ok := l.Summary("ACC1")
	require.True(t, ok)
	assert.Equal(t, 40.0, s.Commissions)
	assert.Equal(t, 35.0, s.Slippage)
	assert.InDelta(t, 1000-40-35, s.NetPnL, 1e-9)
}

func TestCircuitBreakerTripsPastLimit(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)
	capital := 15000.0
	l.Initialize(context.Background(), "ACC1", &capital)

	l.RecordClose("ACC1", -1400, false) // -9.33%
	ok, lossPct := l.CircuitBreaker("ACC1", 10)
	assert.True(t, ok)
	assert.InDelta(t, -9.33, lossPct, 0.01)

	l.RecordClose("ACC1", -250, false) // -11%
	ok, lossPct = l.CircuitBreaker("ACC1", 10)
	assert.False(t, ok)
	assert.InDelta(t, -11.0, lossPct, 0.01)
}

func TestMaxTradesSoftAndHardLimits(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)
	l.Initialize(context.Background(), "ACC1", nil)

	// 10 trades, 7 wins: soft limit reached but win rate holds it open.
	for i := 0; i < 7; i++ {
		l.RecordClose("ACC1", 100, true)
	}
	for i := 0; i < 3; i++ {
		l.RecordClose("ACC1", -100, false)
	}
	ok, _, count := l.MaxTrades("ACC1", 10, 15)
	assert.True(t, ok)
	assert.Equal(t, 10, count)

	// Two more losses drop the win rate under 60%: soft limit bites.
	l.RecordClose("ACC1", -100, false)
	l.RecordClose("ACC1", -100, false)
	ok, reason, _ := l.MaxTrades("ACC1", 10, 15)
	assert.False(t, ok)
	assert.Contains(t, reason, "win rate")

	// Hard limit is unconditional.
	for i := 0; i < 3; i++ {
		l.RecordClose("ACC1", 100, true)
	}
	ok, reason, count = l.MaxTrades("ACC1", 10, 15)
	require.Equal(t, 15, count)
	assert.False(t, ok)
	assert.Contains(t, reason, "15/15")
}

func TestProtectModeThresholds(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)
	l.Initialize(context.Background(), "ACC1", nil)

	// Below the peak threshold protection stays off even on a retrace.
	l.RecordClose("ACC1", 3000, true)
	l.RecordClose("ACC1", -2000, false)
	mode, _ := l.Protect("ACC1")
	assert.Equal(t, ProtectNormal, mode)

	// Push the peak past 5000, then give back ~30%.
	l.RecordClose("ACC1", 5000, true) // pnl 6000, peak 6000
	l.RecordClose("ACC1", -1800, false)
	mode, retrace := l.Protect("ACC1")
	assert.Equal(t, ProtectReduceRisk, mode)
	assert.InDelta(t, 30.0, retrace, 0.1)

	// Past 40% retrace, done for the day.
	l.RecordClose("ACC1", -900, false)
	mode, _ = l.Protect("ACC1")
	assert.Equal(t, ProtectStop, mode)
}

func TestFlashMoveOverRollingWindow(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)

	l.PushSpot("ACC1", 24000)
	_, tripped := l.FlashMove("ACC1")
	assert.False(t, tripped, "single sample cannot trip")

	clk.Advance(2 * time.Minute)
	l.PushSpot("ACC1", 23400) // -2.5% in 2 minutes
	move, tripped := l.FlashMove("ACC1")
	assert.True(t, tripped)
	assert.InDelta(t, 2.5, move, 0.01)

	// Once the crash sample ages out of the 5-minute window, the
	// buffer calms down.
	clk.Advance(6 * time.Minute)
	l.PushSpot("ACC1", 23420)
	l.PushSpot("ACC1", 23410)
	_, tripped = l.FlashMove("ACC1")
	assert.False(t, tripped)
}

func TestGapVersusOpen(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)

	_, ok := l.Gap("ACC1", 24000)
	assert.False(t, ok, "no open captured yet")

	l.CaptureOpen("ACC1", 24000)
	l.CaptureOpen("ACC1", 25000) // second capture ignored

	gap, ok := l.Gap("ACC1", 24360)
	require.True(t, ok)
	assert.InDelta(t, 1.5, gap, 0.001)
}

func TestBestPatternsOrdering(t *testing.T) {
	t.Parallel()

	clk := sessionStart()
	l := NewLedger(nil, clk, nil)

	for i := 0; i < 3; i++ {
		l.RecordPattern("ACC1", "breakout_bullish", true, 400)
	}
	l.RecordPattern("ACC1", "breakout_bullish", false, -200)
	for i := 0; i < 4; i++ {
		l.RecordPattern("ACC1", "reversal_bearish", i < 2, 50)
	}
	l.RecordPattern("ACC1", "thin_sample", true, 900) // below min trades

	best := l.BestPatterns("ACC1", 3)
	require.Len(t, best, 2)
	assert.Equal(t, "breakout_bullish", best[0].Pattern)
	assert.InDelta(t, 75.0, best[0].WinRate(), 1e-9)
	assert.Equal(t, "reversal_bearish", best[1].Pattern)
}
