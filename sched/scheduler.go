// Package sched runs the trading day: plan generation before the open,
// the monitoring loop during the session, a midday plan review and the
// end-of-day journal snapshot. Jobs fire on exchange-local wall time.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/niftyalgo/trader/internal/clock"
	"github.com/niftyalgo/trader/journal"
	"github.com/niftyalgo/trader/market"
	"github.com/niftyalgo/trader/plan"
	"github.com/niftyalgo/trader/risk"
	"github.com/niftyalgo/trader/trade"
)

// Weekday session times, exchange local. The monitor enforces its own
// finer-grained cutoffs; these only bound the outer session.
const (
	specMorningPlan = "0 9 * * 1-5"   // 09:00 generate and parse the day's plan
	specOpen        = "15 9 * * 1-5"  // 09:15 start the monitoring loop
	specMidday      = "30 12 * * 1-5" // 12:30 AI review of open positions
	specClose       = "25 15 * * 1-5" // 15:25 stop the loop, write daily stats
)

// A pattern needs this many closed trades before its stats are trusted
// enough to show the planner.
const minPatternTrades = 5

// Account pairs a client code with its optional capital override.
type Account struct {
	Code            string
	StartingCapital *float64
}

// Scheduler owns the daily lifecycle. Construct with NewScheduler, then
// Start; Stop tears down cron and any running session.
type Scheduler struct {
	gw      *market.Gateway
	planner *plan.Planner
	monitor *trade.Monitor
	ledger  *risk.Ledger
	book    *trade.Book
	jnl     journal.Journal
	clk     clock.Clock
	log     *slog.Logger

	accounts []Account
	cron     *cron.Cron

	mu         sync.Mutex
	endSession context.CancelFunc
	sessionWG  sync.WaitGroup
}

func NewScheduler(gw *market.Gateway, planner *plan.Planner, monitor *trade.Monitor, ledger *risk.Ledger, book *trade.Book, jnl journal.Journal, accounts []Account, loc *time.Location, clk clock.Clock, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		gw:       gw,
		planner:  planner,
		monitor:  monitor,
		ledger:   ledger,
		book:     book,
		jnl:      jnl,
		clk:      clk,
		log:      log.With("component", "sched"),
		accounts: accounts,
		cron:     cron.New(cron.WithLocation(loc)),
	}
}

// Start registers the daily jobs and starts cron. It does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		name string
		run  func(context.Context)
	}{
		{specMorningPlan, "morning_plan", s.MorningPlan},
		{specOpen, "session_open", func(context.Context) { s.StartSession(ctx) }},
		{specMidday, "midday_review", s.MiddayReview},
		{specClose, "session_close", s.CloseSession},
	}
	for _, j := range jobs {
		job := j
		if _, err := s.cron.AddFunc(job.spec, func() {
			s.log.Info("job starting", "job", job.name)
			job.run(ctx)
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts cron and ends any running session.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.stopSession()
}

// MorningPlan initializes each account's day, asks the planner for
// setups and loads them into the book. One account failing does not
// stop the others.
func (s *Scheduler) MorningPlan(ctx context.Context) {
	snap := s.gw.Snapshot(ctx)
	if snap.SpotErr != nil {
		s.log.Error("morning plan without spot, proceeding degraded", "err", snap.SpotErr)
	}

	for _, acct := range s.accounts {
		s.ledger.Initialize(ctx, acct.Code, acct.StartingCapital)
		day, _ := s.ledger.Summary(acct.Code)

		text, err := s.planner.Generate(ctx, snap, day, s.ledger.BestPatterns(acct.Code, minPatternTrades))
		if err != nil {
			s.log.Error("plan generation failed, no setups today", "account", acct.Code, "err", err)
			continue
		}
		setups, err := s.planner.Parse(ctx, text)
		if err != nil {
			s.log.Error("plan parse failed, no setups today", "account", acct.Code, "err", err)
			continue
		}

		holdings := s.book.Account(acct.Code)
		for _, setup := range setups {
			holdings.AddSetup(setup)
		}
		s.log.Info("plan loaded", "account", acct.Code, "setups", len(setups))
	}
}

// StartSession launches the monitoring loop for the day. A second call
// while a session is running is a no-op.
func (s *Scheduler) StartSession(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endSession != nil {
		s.log.Warn("session already running")
		return
	}

	ctx, cancel := context.WithCancel(parent)
	s.endSession = cancel
	s.sessionWG.Add(1)
	go func() {
		defer s.sessionWG.Done()
		if err := s.monitor.Run(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("monitor loop exited", "err", err)
		}
	}()
}

// MiddayReview asks the AI for an adjustment on every open position and
// queues accepted stop tightenings; the monitoring loop applies them on
// its next tick. An "exit" verdict raises the stop to the current price
// so the regular stop logic closes it.
func (s *Scheduler) MiddayReview(ctx context.Context) {
	snap := s.gw.Snapshot(ctx)

	for _, acct := range s.accounts {
		// Gap since the captured session open, when both sides are known.
		var gapPct *float64
		if snap.SpotErr == nil {
			if g, ok := s.ledger.Gap(acct.Code, snap.Spot); ok {
				gapPct = &g
			}
		}

		holdings := s.book.Account(acct.Code)
		for _, pos := range holdings.OpenPositions() {
			q, err := s.gw.Quote(ctx, pos.Instrument.ExchangeOrDefault(), pos.Instrument.Token)
			if err != nil {
				s.log.Warn("review skipped, no quote",
					"account", acct.Code, "symbol", pos.Instrument.TradingSymbol, "err", err)
				continue
			}

			adj, err := s.planner.SuggestAdjustment(ctx, pos, q.LTP, snap, gapPct)
			if err != nil {
				s.log.Warn("review failed, holding",
					"account", acct.Code, "symbol", pos.Instrument.TradingSymbol, "err", err)
				continue
			}

			switch adj.Action {
			case plan.ActionTightenStop:
				holdings.ProposeStop(pos.OrderID, adj.NewStop)
			case plan.ActionExit:
				holdings.ProposeStop(pos.OrderID, q.LTP)
			}
			s.log.Info("review verdict",
				"account", acct.Code,
				"symbol", pos.Instrument.TradingSymbol,
				"action", string(adj.Action),
				"confidence", adj.Confidence,
				"rationale", adj.Rationale)
		}
	}
}

// CloseSession ends the monitoring loop and writes each account's daily
// snapshot. The monitor's own EOD sweep has already flattened positions
// by this time.
func (s *Scheduler) CloseSession(ctx context.Context) {
	s.stopSession()

	for _, acct := range s.accounts {
		sum, ok := s.ledger.Summary(acct.Code)
		if !ok {
			continue
		}
		snap := journal.DailySnapshot{
			Account:         acct.Code,
			Date:            sum.Date,
			PnL:             sum.PnL,
			NetPnL:          sum.NetPnL,
			Trades:          sum.Trades,
			Wins:            sum.Wins,
			Losses:          sum.Losses,
			WinRate:         sum.WinRate,
			Commissions:     sum.Commissions,
			Slippage:        sum.Slippage,
			StartingCapital: sum.StartingCapital,
			PeakCapital:     sum.PeakCapital,
			MaxDrawdownPct:  sum.MaxDrawdownPct,
		}
		if err := s.jnl.RecordDaily(snap); err != nil {
			s.log.Error("daily snapshot write failed", "account", acct.Code, "err", err)
			continue
		}
		s.log.Info("day closed",
			"account", acct.Code, "net_pnl", sum.NetPnL, "trades", sum.Trades, "win_rate", sum.WinRate)
	}
}

func (s *Scheduler) stopSession() {
	s.mu.Lock()
	cancel := s.endSession
	s.endSession = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.sessionWG.Wait()
	}
}
