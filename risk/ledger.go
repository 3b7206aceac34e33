// Package risk owns the per-account accounting and every heuristic that
// gates or sizes an entry: daily stats, circuit breakers, the entry gate
// chain and the position sizer.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/niftyalgo/trader/internal/clock"
)

const (
	// DefaultCapital is assumed when the capital source is unreachable.
	DefaultCapital = 15000.0
	// CommissionPerOrder is the flat brokerage fee per executed order.
	CommissionPerOrder = 20.0
)

// CapitalSource provides the account's available cash at session start.
// broker.Broker satisfies it.
type CapitalSource interface {
	AvailableCapital(ctx context.Context, clientCode string) (float64, error)
}

// DailyStats accumulates one account's session. All fields are gross
// running totals; derived metrics live on Summary.
type DailyStats struct {
	Date            string
	PnL             float64
	Trades          int
	Wins            int
	Losses          int
	Commissions     float64
	Slippage        float64
	GrossProfit     float64
	GrossLoss       float64
	StartingCapital float64
	PeakCapital     float64
	MaxDrawdownPct  float64
}

// riskState is day-scoped but survives between stats lookups: the loss
// streak and the peak-profit high-water mark for profit protection.
type riskState struct {
	ConsecutiveLosses int
	PeakDailyProfit   float64
}

// Ledger tracks DailyStats and risk state per account. One instance is
// shared by all accounts; every method locks.
type Ledger struct {
	mu       sync.Mutex
	clk      clock.Clock
	log      *slog.Logger
	capital  CapitalSource
	days     map[string]map[string]*DailyStats // account -> date -> stats
	state    map[string]*riskState
	patterns map[string]map[string]*PatternStats
	spots    map[string][]spotPoint // flash-crash rolling buffer
	opens    map[string]float64     // opening price per account
}

func NewLedger(capital CapitalSource, clk clock.Clock, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		clk:      clk,
		log:      log.With("component", "risk"),
		capital:  capital,
		days:     make(map[string]map[string]*DailyStats),
		state:    make(map[string]*riskState),
		patterns: make(map[string]map[string]*PatternStats),
		spots:    make(map[string][]spotPoint),
		opens:    make(map[string]float64),
	}
}

func (l *Ledger) today() string {
	return l.clk.Now().Format("2006-01-02")
}

// Initialize sets up today's stats for the account. When startingCapital
// is nil the capital source is consulted, falling back to DefaultCapital.
// Calling it again for the same account and day is a no-op: accumulated
// stats are never reset mid-session.
func (l *Ledger) Initialize(ctx context.Context, account string, startingCapital *float64) {
	capital := DefaultCapital
	switch {
	case startingCapital != nil:
		capital = *startingCapital
	case l.capital != nil:
		fetched, err := l.capital.AvailableCapital(ctx, account)
		if err != nil || fetched <= 0 {
			l.log.Warn("capital source unavailable, using default",
				"account", account, "default", DefaultCapital, "err", err)
		} else {
			capital = fetched
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.initLocked(account, capital)
}

// initLocked creates today's stats if absent. New day resets the loss
// streak, peak profit and the rolling buffers.
func (l *Ledger) initLocked(account string, capital float64) *DailyStats {
	today := l.today()

	byDay, ok := l.days[account]
	if !ok {
		byDay = make(map[string]*DailyStats)
		l.days[account] = byDay
	}
	if stats, ok := byDay[today]; ok {
		return stats
	}

	stats := &DailyStats{
		Date:            today,
		StartingCapital: capital,
		PeakCapital:     capital,
	}
	byDay[today] = stats
	l.state[account] = &riskState{}
	l.spots[account] = nil
	delete(l.opens, account)

	l.log.Info("daily stats initialized", "account", account, "capital", capital)
	return stats
}

// statsLocked returns today's stats, auto-initializing with the default
// capital so recording paths never drop data.
func (l *Ledger) statsLocked(account string) *DailyStats {
	if byDay, ok := l.days[account]; ok {
		if stats, ok := byDay[l.today()]; ok {
			return stats
		}
	}
	return l.initLocked(account, DefaultCapital)
}

// RecordClose books one realized close: pnl, win/loss counters, capital
// peak, drawdown and the consecutive-loss streak.
func (l *Ledger) RecordClose(account string, realizedPnL float64, isWin bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.statsLocked(account)
	stats.PnL += realizedPnL
	stats.Trades++
	if realizedPnL > 0 {
		stats.GrossProfit += realizedPnL
	} else {
		stats.GrossLoss += -realizedPnL
	}
	if isWin {
		stats.Wins++
	} else {
		stats.Losses++
	}

	current := stats.StartingCapital + stats.PnL
	if current > stats.PeakCapital {
		stats.PeakCapital = current
	}
	if stats.PeakCapital > 0 {
		drawdown := (stats.PeakCapital - current) / stats.PeakCapital * 100
		if drawdown > stats.MaxDrawdownPct {
			stats.MaxDrawdownPct = drawdown
		}
	}

	state := l.stateLocked(account)
	if isWin {
		state.ConsecutiveLosses = 0
	} else {
		state.ConsecutiveLosses++
		l.log.Warn("loss recorded", "account", account, "streak", state.ConsecutiveLosses)
	}
	if stats.PnL > state.PeakDailyProfit {
		state.PeakDailyProfit = stats.PnL
	}

	l.log.Info("daily stats updated",
		"account", account,
		"pnl", stats.PnL,
		"trades", stats.Trades,
		"win_rate", winRate(stats),
		"drawdown_pct", stats.MaxDrawdownPct,
	)
}

// RecordCommission books the flat fee for numOrders orders.
func (l *Ledger) RecordCommission(account string, numOrders int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.statsLocked(account)
	stats.Commissions += float64(numOrders) * CommissionPerOrder
}

// RecordSlippage books realized slippage in currency units. Positive is
// always cost; callers compute the sign convention via Slippage.
func (l *Ledger) RecordSlippage(account string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.statsLocked(account)
	stats.Slippage += amount
}

func (l *Ledger) stateLocked(account string) *riskState {
	state, ok := l.state[account]
	if !ok {
		state = &riskState{}
		l.state[account] = state
	}
	return state
}

// Summary is the derived view of today's stats.
type Summary struct {
	Date            string
	PnL             float64
	PnLPct          float64
	NetPnL          float64
	Trades          int
	Wins            int
	Losses          int
	WinRate         float64
	Commissions     float64
	Slippage        float64
	StartingCapital float64
	PeakCapital     float64
	MaxDrawdownPct  float64
}

// Summary returns derived metrics for the account's current day. ok is
// false when the day was never initialized.
func (l *Ledger) Summary(account string) (Summary, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byDay, ok := l.days[account]
	if !ok {
		return Summary{}, false
	}
	stats, ok := byDay[l.today()]
	if !ok {
		return Summary{}, false
	}

	s := Summary{
		Date:            stats.Date,
		PnL:             stats.PnL,
		NetPnL:          stats.PnL - stats.Commissions - stats.Slippage,
		Trades:          stats.Trades,
		Wins:            stats.Wins,
		Losses:          stats.Losses,
		WinRate:         winRate(stats),
		Commissions:     stats.Commissions,
		Slippage:        stats.Slippage,
		StartingCapital: stats.StartingCapital,
		PeakCapital:     stats.PeakCapital,
		MaxDrawdownPct:  stats.MaxDrawdownPct,
	}
	if stats.StartingCapital > 0 {
		s.PnLPct = stats.PnL / stats.StartingCapital * 100
	}
	return s, true
}

func winRate(stats *DailyStats) float64 {
	if stats.Trades == 0 {
		return 0
	}
	return float64(stats.Wins) / float64(stats.Trades) * 100
}

// CircuitBreaker reports whether trading may continue. It trips once the
// day's loss exceeds lossLimitPct of starting capital; the returned
// percentage is the current pnl% (negative when losing).
func (l *Ledger) CircuitBreaker(account string, lossLimitPct float64) (bool, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byDay, ok := l.days[account]
	if !ok {
		return true, 0
	}
	stats, ok := byDay[l.today()]
	if !ok || stats.StartingCapital <= 0 {
		return true, 0
	}

	lossPct := stats.PnL / stats.StartingCapital * 100
	return lossPct >= -lossLimitPct, lossPct
}

// MaxTrades blocks hard at hardLimit and at softLimit when the win rate
// has dropped below 60%. Returns today's trade count.
func (l *Ledger) MaxTrades(account string, softLimit, hardLimit int) (bool, string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byDay, ok := l.days[account]
	if !ok {
		return true, "no trades today", 0
	}
	stats, ok := byDay[l.today()]
	if !ok {
		return true, "no trades today", 0
	}

	rate := winRate(stats)
	switch {
	case stats.Trades >= hardLimit:
		return false, fmt.Sprintf("max trades: %d/%d executed today", stats.Trades, hardLimit), stats.Trades
	case stats.Trades >= softLimit && rate < 60:
		return false, fmt.Sprintf("max trades: %d/%d with win rate %.0f%% below 60%%", stats.Trades, softLimit, rate), stats.Trades
	}
	return true, fmt.Sprintf("trades %d/%d", stats.Trades, hardLimit), stats.Trades
}

// LossStreak returns the current consecutive-loss count.
func (l *Ledger) LossStreak(account string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(account).ConsecutiveLosses
}

// ProtectMode classifies how far today's pnl has retraced from its peak.
type ProtectMode string

const (
	ProtectNormal     ProtectMode = "normal"
	ProtectActive     ProtectMode = "protect"      // peak locked in, normal sizing
	ProtectReduceRisk ProtectMode = "reduce_risk"  // halve position sizes
	ProtectStop       ProtectMode = "stop_trading" // no further entries today
)

// protectPeakThreshold is the peak profit that arms protection.
const protectPeakThreshold = 5000.0

// Protect evaluates profit-protect mode: once the day's peak profit has
// reached the threshold, giving back more than 25% of it halves new
// position sizes and more than 40% stops trading for the day.
func (l *Ledger) Protect(account string) (ProtectMode, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byDay, ok := l.days[account]
	if !ok {
		return ProtectNormal, 0
	}
	stats, ok := byDay[l.today()]
	if !ok {
		return ProtectNormal, 0
	}

	peak := l.stateLocked(account).PeakDailyProfit
	if peak < protectPeakThreshold {
		return ProtectNormal, 0
	}

	retracePct := (peak - stats.PnL) / peak * 100
	switch {
	case retracePct > 40:
		return ProtectStop, retracePct
	case retracePct > 25:
		return ProtectReduceRisk, retracePct
	default:
		return ProtectActive, retracePct
	}
}

// spotPoint is one sample in the flash-crash rolling buffer.
type spotPoint struct {
	at    time.Time
	price float64
}

const flashWindow = 5 * time.Minute

// PushSpot appends a spot sample to the account's rolling 5-minute
// buffer and prunes expired samples.
func (l *Ledger) PushSpot(account string, price float64) {
	now := l.clk.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	buf := append(l.spots[account], spotPoint{at: now, price: price})
	cutoff := now.Add(-flashWindow)
	for len(buf) > 0 && !buf[0].at.After(cutoff) {
		buf = buf[1:]
	}
	l.spots[account] = buf
}

// FlashMove returns the absolute percent move of the underlying across
// the trailing 5-minute buffer. tripped is true above 2%.
func (l *Ledger) FlashMove(account string) (movePct float64, tripped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := l.spots[account]
	if len(buf) < 2 {
		return 0, false
	}
	oldest := buf[0].price
	latest := buf[len(buf)-1].price
	if oldest == 0 {
		return 0, false
	}
	movePct = (latest - oldest) / oldest * 100
	if movePct < 0 {
		movePct = -movePct
	}
	return movePct, movePct > 2.0
}

// CaptureOpen records the session opening price once, during the opening
// window. Later calls are no-ops.
func (l *Ledger) CaptureOpen(account string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.opens[account]; !ok {
		l.opens[account] = price
	}
}

// Gap returns the percent gap of price versus the captured open, or
// ok=false when no opening price has been captured yet. Informational:
// a >1% gap signals a momentum-biased session.
func (l *Ledger) Gap(account string, price float64) (gapPct float64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	open, found := l.opens[account]
	if !found || open == 0 {
		return 0, false
	}
	return (price - open) / open * 100, true
}
