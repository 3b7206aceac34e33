package trade

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niftyalgo/trader/internal/clock"
	"github.com/niftyalgo/trader/market"
	"github.com/niftyalgo/trader/risk"
)

type closeEvent struct {
	account string
	orderID string
	reason  CloseReason
	qty     int
	price   float64
	pnl     float64
}

type recSink struct{ events []closeEvent }

func (r *recSink) PositionClosed(ctx context.Context, account string, p *Position, reason CloseReason, qty int, price, pnl float64) error {
	r.events = append(r.events, closeEvent{account, p.OrderID, reason, qty, price, pnl})
	return nil
}

type harness struct {
	clk    *clock.Fake
	stub   *stubBroker
	ledger *risk.Ledger
	book   *Book
	rec    *recSink
	mon    *Monitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local))
	stub := newStubBroker()
	stub.setQuote(market.NiftySpotToken, 24000)
	stub.setQuote(market.IndiaVIXToken, 14) // maps to the 25% target band

	gw := market.NewGateway(stub, clk, nil)
	ledger := risk.NewLedger(stub, clk, nil)
	ledger.Initialize(context.Background(), "ACC1", nil)
	chain := &risk.Chain{Ledger: ledger, Limits: risk.DefaultLimits()}
	exec := &Executor{Broker: stub, Ledger: ledger, Clk: clk, Log: slog.Default(), Retries: 5}
	book := NewBook()
	rec := &recSink{}

	return &harness{
		clk:    clk,
		stub:   stub,
		ledger: ledger,
		book:   book,
		rec:    rec,
		mon:    NewMonitor(gw, exec, ledger, chain, book, rec, clk, nil, DefaultMonitorConfig()),
	}
}

// heldSetup registers the originating setup as consumed, with a
// condition that keeps it from re-entering during the test.
func (h *harness) heldSetup() {
	s := testSetup()
	s.Conditions = []Condition{{Indicator: "spot", Operator: ">", Threshold: 90000}}
	acct := h.book.Account("ACC1")
	acct.AddSetup(s)
	acct.Consume(s.ID)
}

func TestTickClosesAtVolatilityTarget(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.heldSetup()
	acct := h.book.Account("ACC1")
	pos := openPosition(100, 75)
	acct.Open(pos)
	h.stub.setQuote("T1", 125.5) // 25.5% past a 25% band target

	h.mon.Tick(context.Background(), "ACC1")

	assert.Equal(t, ClosedStatus(ReasonProfitTarget), pos.Status)
	assert.Zero(t, acct.OpenCount())
	assert.True(t, acct.Reenabled("SET1"), "clean target hit re-arms the setup")

	s, ok := h.ledger.Summary("ACC1")
	require.True(t, ok)
	assert.Equal(t, 1, s.Trades)
	assert.Equal(t, 1, s.Wins)
	assert.InDelta(t, 25.5*75, s.PnL, 1e-9)

	require.Len(t, h.rec.events, 1)
	assert.Equal(t, ReasonProfitTarget, h.rec.events[0].reason)
}

func TestTickStopLossClose(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.heldSetup()
	acct := h.book.Account("ACC1")
	pos := openPosition(100, 75) // stop at 85
	acct.Open(pos)
	h.stub.setQuote("T1", 84)

	h.mon.Tick(context.Background(), "ACC1")

	assert.Equal(t, ClosedStatus(ReasonStopLoss), pos.Status)
	assert.False(t, acct.Reenabled("SET1"), "a stopped setup stays consumed")
	assert.Equal(t, 1, h.ledger.LossStreak("ACC1"))

	s, _ := h.ledger.Summary("ACC1")
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, -16.0*75, s.PnL, 1e-9)
}

func TestTieredScaleOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.heldSetup()
	acct := h.book.Account("ACC1")
	pos := openPosition(100, 150)
	pos.Target1, pos.Target2, pos.Tiered = 120, 140, true
	acct.Open(pos)

	// First target: a third of remaining comes off.
	h.stub.setQuote("T1", 121)
	h.mon.Tick(context.Background(), "ACC1")
	assert.True(t, pos.Target1Hit)
	assert.Equal(t, 100, pos.Remaining)
	assert.Equal(t, StatusOpen, pos.Status)

	// Second target: a third of the original comes off.
	h.clk.Advance(time.Minute)
	h.stub.setQuote("T1", 141)
	h.mon.Tick(context.Background(), "ACC1")
	assert.True(t, pos.Target2Hit)
	assert.Equal(t, 50, pos.Remaining)
	assert.Equal(t, StatusOpen, pos.Status)

	// 15% beyond target 2: flat.
	h.clk.Advance(time.Minute)
	h.stub.setQuote("T1", 162)
	h.mon.Tick(context.Background(), "ACC1")
	assert.Zero(t, pos.Remaining)
	assert.Equal(t, ClosedStatus(ReasonProfitTarget), pos.Status)
	assert.Zero(t, acct.OpenCount())

	// Three close events, one ledger record each.
	require.Len(t, h.rec.events, 3)
	s, _ := h.ledger.Summary("ACC1")
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 3, s.Wins)
}

func TestLateSessionBanksWinners(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.heldSetup()
	acct := h.book.Account("ACC1")
	pos := openPosition(100, 75)
	acct.Open(pos)
	h.stub.setQuote("T1", 106) // +6%, past the 5% late-session floor

	h.clk.Advance(5*time.Hour + 5*time.Minute) // 15:05
	h.mon.Tick(context.Background(), "ACC1")

	assert.Equal(t, ClosedStatus(ReasonTimeExit), pos.Status)
	s, _ := h.ledger.Summary("ACC1")
	assert.Equal(t, 1, s.Wins)
}

func TestTickPlacesEntryThroughGates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stub.setQuote(market.NiftySpotToken, 24100)
	h.stub.setQuote("T1", 100.5)

	s := testSetup()
	s.Conditions = []Condition{{Indicator: "spot", Operator: ">", Threshold: 24000}}
	acct := h.book.Account("ACC1")
	acct.AddSetup(s)

	h.mon.Tick(context.Background(), "ACC1")

	require.Equal(t, 1, acct.OpenCount(), "entry should be placed and verified")
	assert.Empty(t, acct.PendingSetups(h.clk.Now()), "setup consumed on entry")

	sum, _ := h.ledger.Summary("ACC1")
	assert.Equal(t, risk.CommissionPerOrder, sum.Commissions, "entry order commission booked")
}

func TestTickHoldsEntryWhenConditionsNotMet(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stub.setQuote("T1", 100.5)

	s := testSetup()
	s.Conditions = []Condition{{Indicator: "spot", Operator: ">", Threshold: 24500}}
	acct := h.book.Account("ACC1")
	acct.AddSetup(s)

	h.mon.Tick(context.Background(), "ACC1")

	assert.Zero(t, acct.OpenCount())
	assert.Len(t, acct.PendingSetups(h.clk.Now()), 1, "unmet conditions keep the setup pending")
}

func TestTickDropsInvalidSetup(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := testSetup()
	s.Instrument.Token = "" // unresolvable
	acct := h.book.Account("ACC1")
	acct.AddSetup(s)

	h.mon.Tick(context.Background(), "ACC1")

	assert.Zero(t, acct.OpenCount())
	assert.Empty(t, acct.PendingSetups(h.clk.Now()), "invalid setup dropped, not retried")
}

func TestTickAppliesProposedStops(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.heldSetup()
	acct := h.book.Account("ACC1")
	pos := openPosition(100, 75) // stop at 85
	acct.Open(pos)
	h.stub.setQuote("T1", 104)

	acct.ProposeStop(pos.OrderID, 95)
	acct.ProposeStop("GHOST", 99) // unknown order id, dropped

	h.mon.Tick(context.Background(), "ACC1")

	assert.Equal(t, 95.0, pos.StopLoss, "queued stop applied at tick start")
	assert.Equal(t, StatusOpen, pos.Status, "price above the new stop")
	assert.Empty(t, acct.TakeProposals(), "proposals drained")

	// The tightened stop is live on the next tick.
	h.clk.Advance(time.Minute)
	h.stub.setQuote("T1", 94)
	h.mon.Tick(context.Background(), "ACC1")
	assert.Equal(t, ClosedStatus(ReasonStopLoss), pos.Status)
}

func TestProposedStopNeverLowers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.heldSetup()
	acct := h.book.Account("ACC1")
	pos := openPosition(100, 75) // stop at 85
	acct.Open(pos)
	h.stub.setQuote("T1", 104)

	acct.ProposeStop(pos.OrderID, 70)
	h.mon.Tick(context.Background(), "ACC1")

	assert.Equal(t, 85.0, pos.StopLoss, "a looser stop proposal is discarded")
}

func TestEODSweepFallsBackToEntryPrice(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.heldSetup()
	acct := h.book.Account("ACC1")
	pos := openPosition(100, 75)
	acct.Open(pos)

	h.stub.mu.Lock()
	h.stub.quotesErr = errors.New("feed down")
	h.stub.mu.Unlock()

	h.clk.Advance(5*time.Hour + 25*time.Minute) // past 15:20
	h.mon.EODSweep(context.Background(), "ACC1")

	assert.Equal(t, ClosedStatus(ReasonEOD), pos.Status)
	assert.Equal(t, 100.0, pos.ClosePrice, "degraded close books at entry price")
	assert.Zero(t, acct.OpenCount())

	require.Len(t, h.rec.events, 1)
	assert.Equal(t, ReasonEOD, h.rec.events[0].reason)
}

func TestQuoteOutageHoldsPositions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.heldSetup()
	acct := h.book.Account("ACC1")
	pos := openPosition(100, 75)
	acct.Open(pos)

	h.stub.mu.Lock()
	h.stub.quotesErr = errors.New("feed down")
	h.stub.mu.Unlock()

	h.mon.Tick(context.Background(), "ACC1")

	assert.Equal(t, StatusOpen, pos.Status, "no quote, no action")
	assert.Equal(t, 1, acct.OpenCount())
}

func TestEntryExitsScaledForOpeningVolatility(t *testing.T) {
	t.Parallel()

	h := newHarness(t) // 10:00, inside the opening-volatility window
	h.stub.setQuote(market.NiftySpotToken, 24100)
	h.stub.setQuote("T1", 100)

	s := testSetup()
	s.Target1, s.Target2 = 120, 140
	s.Conditions = []Condition{{Indicator: "spot", Operator: ">", Threshold: 24000}}
	acct := h.book.Account("ACC1")
	acct.AddSetup(s)

	h.mon.Tick(context.Background(), "ACC1")

	open := acct.OpenPositions()
	require.Len(t, open, 1)
	pos := open[0]
	// 15-point stop distance widened 1.25x, 20/40-point targets 1.15x.
	assert.InDelta(t, 81.25, pos.StopLoss, 1e-9)
	assert.InDelta(t, 123.0, pos.Target1, 1e-9)
	assert.InDelta(t, 146.0, pos.Target2, 1e-9)
}

func TestEntryStopTightenedThroughMiddayCalm(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.clk.Advance(2 * time.Hour) // 12:00
	h.stub.setQuote(market.NiftySpotToken, 24100)
	h.stub.setQuote("T1", 100)

	s := testSetup()
	s.Target1 = 120
	s.Conditions = []Condition{{Indicator: "spot", Operator: ">", Threshold: 24000}}
	acct := h.book.Account("ACC1")
	acct.AddSetup(s)

	h.mon.Tick(context.Background(), "ACC1")

	open := acct.OpenPositions()
	require.Len(t, open, 1)
	pos := open[0]
	assert.InDelta(t, 87.25, pos.StopLoss, 1e-9, "stop distance cut to 0.85x")
	assert.InDelta(t, 120.0, pos.Target1, 1e-9, "targets keep the standard distance")
}

func TestFailedTierExitRetriesNextTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.heldSetup()
	acct := h.book.Account("ACC1")
	pos := openPosition(100, 150)
	pos.Target1, pos.Target2, pos.Tiered = 120, 140, true
	acct.Open(pos)
	h.stub.setQuote("T1", 121)

	h.stub.mu.Lock()
	h.stub.placeErr = errors.New("exchange throttled")
	h.stub.mu.Unlock()

	h.mon.Tick(context.Background(), "ACC1")
	assert.False(t, pos.Target1Hit, "failed exit order leaves the tier unclaimed")
	assert.Equal(t, 150, pos.Remaining)
	assert.Equal(t, StatusOpen, pos.Status)

	h.clk.Advance(time.Minute)
	h.stub.mu.Lock()
	h.stub.placeErr = nil
	h.stub.mu.Unlock()

	h.mon.Tick(context.Background(), "ACC1")
	assert.True(t, pos.Target1Hit, "tier claimed once the exit fills")
	assert.Equal(t, 100, pos.Remaining)
}
