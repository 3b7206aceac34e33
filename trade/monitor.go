package trade

import (
	"context"
	"log/slog"
	"time"

	"github.com/niftyalgo/trader/internal/clock"
	"github.com/niftyalgo/trader/market"
	"github.com/niftyalgo/trader/risk"
)

// Recorder is the write-only audit sink for close events. The core
// never reads this data back.
type Recorder interface {
	PositionClosed(ctx context.Context, account string, p *Position, reason CloseReason, qty int, price, pnl float64) error
}

// MonitorConfig tunes the tick cadence and session cutoffs. Durations
// for cutoffs are time-of-day offsets from midnight, exchange local
// time.
type MonitorConfig struct {
	Interval        time.Duration // steady tick interval
	OpeningInterval time.Duration // tick interval during the opening burst
	OpeningBurst    time.Duration // how long the burst lasts after open
	SessionOpen     time.Duration // 09:15

	LateCutoff       time.Duration // 15:00, banks >5% winners
	LateMinProfitPct float64
	EODCutoff        time.Duration // 15:20 forced flat

	// ExitMode: "auto" derives tiered vs volatility-target per position
	// from whether its setup carried explicit targets; "tiered" and
	// "vix_target" force one style for every position.
	ExitMode string
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:         60 * time.Second,
		OpeningInterval:  time.Second,
		OpeningBurst:     5 * time.Minute,
		SessionOpen:      9*time.Hour + 15*time.Minute,
		LateCutoff:       15 * time.Hour,
		LateMinProfitPct: 5,
		EODCutoff:        15*time.Hour + 20*time.Minute,
		ExitMode:         "auto",
	}
}

// Monitor drives every account's positions and pending setups through
// one tick at a time. Ticks for an account are serialized: Tick runs to
// completion before the loop moves on, so position and ledger updates
// stay atomic per account.
type Monitor struct {
	Gateway *market.Gateway
	Exec    *Executor
	Ledger  *risk.Ledger
	Chain   *risk.Chain
	Book    *Book
	Rec     Recorder
	Clk     clock.Clock
	Log     *slog.Logger
	Cfg     MonitorConfig
}

func NewMonitor(gw *market.Gateway, exec *Executor, ledger *risk.Ledger, chain *risk.Chain, book *Book, rec Recorder, clk clock.Clock, log *slog.Logger, cfg MonitorConfig) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		Gateway: gw, Exec: exec, Ledger: ledger, Chain: chain,
		Book: book, Rec: rec, Clk: clk, Log: log.With("component", "monitor"), Cfg: cfg,
	}
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// interval picks the tick cadence: a fast burst right after the open,
// the steady interval otherwise.
func (m *Monitor) interval() time.Duration {
	tod := sinceMidnight(m.Clk.Now())
	if tod >= m.Cfg.SessionOpen && tod < m.Cfg.SessionOpen+m.Cfg.OpeningBurst {
		return m.Cfg.OpeningInterval
	}
	return m.Cfg.Interval
}

// Run ticks every account until ctx is cancelled. The EOD sweep fires
// once per day when the cutoff passes.
func (m *Monitor) Run(ctx context.Context) error {
	sweptOn := ""
	for {
		for _, code := range m.Book.Codes() {
			m.Tick(ctx, code)
		}

		now := m.Clk.Now()
		if sinceMidnight(now) >= m.Cfg.EODCutoff && sweptOn != now.Format("2006-01-02") {
			for _, code := range m.Book.Codes() {
				m.EODSweep(ctx, code)
			}
			sweptOn = now.Format("2006-01-02")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.Clk.After(m.interval()):
		}
	}
}

// Tick runs one full monitoring pass for the account: refresh the spot
// buffers, manage open positions, then evaluate pending entries.
func (m *Monitor) Tick(ctx context.Context, account string) {
	now := m.Clk.Now()

	spot, spotErr := m.Gateway.Spot(ctx)
	if spotErr != nil {
		m.Log.Warn("spot fetch failed, positions hold", "account", account, "err", spotErr)
	} else {
		m.Ledger.PushSpot(account, spot)
		if tod := sinceMidnight(now); tod >= m.Cfg.SessionOpen && tod < m.Cfg.SessionOpen+m.Cfg.OpeningBurst {
			m.Ledger.CaptureOpen(account, spot)
		}
	}

	band := market.BandFor(m.Gateway.VIX(ctx))
	m.managePositions(ctx, account, band, now)

	if spotErr == nil {
		m.evaluateEntries(ctx, account, spot, now)
	}
}

// managePositions fetches one quote batch for all of the account's open
// positions and applies the exit rules to each. A missing quote means
// that position simply holds until the next tick.
func (m *Monitor) managePositions(ctx context.Context, account string, band market.Band, now time.Time) {
	acct := m.Book.Account(account)
	open := acct.OpenPositions()
	if len(open) == 0 {
		return
	}

	// Stop adjustments proposed outside the loop (the midday AI review)
	// land here, under the single writer.
	proposals := acct.TakeProposals()
	for _, p := range open {
		if stop, ok := proposals[p.OrderID]; ok && p.AdjustStop(stop) {
			m.Log.Info("stop adjusted on review",
				"account", account, "symbol", p.Instrument.TradingSymbol, "stop", stop)
		}
	}

	tokens := make([]string, 0, len(open))
	for _, p := range open {
		tokens = append(tokens, p.Instrument.Token)
	}
	quotes, err := m.Gateway.Batch(ctx, market.ExchangeNFO, tokens)
	if err != nil {
		m.Log.Warn("position quote batch failed, holding", "account", account, "err", err)
		return
	}

	for _, p := range open {
		q, ok := quotes[p.Instrument.Token]
		if !ok {
			m.Log.Warn("no quote for open position", "account", account, "symbol", p.Instrument.TradingSymbol)
			continue
		}
		m.managePosition(ctx, account, acct, p, q.LTP, band, now)
	}
}

func (m *Monitor) tiered(p *Position) bool {
	switch m.Cfg.ExitMode {
	case "tiered":
		return true
	case "vix_target":
		return false
	default:
		return p.Tiered
	}
}

// managePosition applies one tick of exit logic to a single position.
// Order matters: ratchet the stop first, then the profit target, then
// the stop check, then scaled exits, then the time-based exits.
func (m *Monitor) managePosition(ctx context.Context, account string, acct *Account, p *Position, price float64, band market.Band, now time.Time) {
	profitPct := p.ProfitPct(price)
	p.RecordProfit(now, profitPct)

	if p.Ratchet(price) {
		m.Log.Info("stop ratcheted",
			"account", account, "symbol", p.Instrument.TradingSymbol,
			"profit_pct", profitPct, "stop", p.StopLoss)
	}

	if !m.tiered(p) && profitPct >= band.TargetPct {
		m.close(ctx, account, acct, p, p.Remaining, price, ReasonProfitTarget)
		return
	}

	if price <= p.StopLoss {
		m.close(ctx, account, acct, p, p.Remaining, price, ReasonStopLoss)
		return
	}

	if m.tiered(p) {
		// A tier is claimed only once its exit order went through; a
		// failed order leaves the tier for the next tick to retry.
		if !p.Target1Hit && p.Target1 > 0 && price >= p.Target1 {
			if m.close(ctx, account, acct, p, p.Remaining/3, price, ReasonProfitTarget) {
				p.Target1Hit = true
			}
			if p.Status != StatusOpen {
				return
			}
		}
		if !p.Target2Hit && p.Target2 > 0 && price >= p.Target2 {
			if m.close(ctx, account, acct, p, p.Quantity/3, price, ReasonProfitTarget) {
				p.Target2Hit = true
			}
			if p.Status != StatusOpen {
				return
			}
		}
		if p.Target2Hit && p.Target2 > 0 && price >= p.Target2*1.15 {
			m.close(ctx, account, acct, p, p.Remaining, price, ReasonProfitTarget)
			return
		}
	}

	if p.Stagnant(now) {
		m.Log.Info("stagnation exit, decaying flat winner",
			"account", account, "symbol", p.Instrument.TradingSymbol, "profit_pct", profitPct)
		m.close(ctx, account, acct, p, p.Remaining, price, ReasonTimeExit)
		return
	}

	if sinceMidnight(now) >= m.Cfg.LateCutoff && profitPct > m.Cfg.LateMinProfitPct {
		m.close(ctx, account, acct, p, p.Remaining, price, ReasonTimeExit)
	}
}

// close executes a full or partial exit and books it everywhere it
// needs to land: broker, position, ledger, pattern stats, audit sink.
// Reports whether the exit actually went through.
func (m *Monitor) close(ctx context.Context, account string, acct *Account, p *Position, qty int, price float64, reason CloseReason) bool {
	if qty <= 0 {
		return false
	}
	if qty > p.Remaining {
		qty = p.Remaining
	}

	fill, err := m.Exec.PlaceExit(ctx, account, p, qty, price)
	if err != nil {
		m.Log.Error("exit order failed, position unchanged",
			"account", account, "symbol", p.Instrument.TradingSymbol,
			"reason", string(reason), "err", err)
		return false
	}

	now := m.Clk.Now()
	pnl := p.CloseSlice(fill.Quantity, fill.Price, reason, now)
	m.Ledger.RecordClose(account, pnl, pnl > 0)
	m.Ledger.RecordPattern(account, p.Pattern, pnl > 0, pnl)

	m.Log.Info("position closed",
		"account", account,
		"symbol", p.Instrument.TradingSymbol,
		"reason", string(reason),
		"qty", fill.Quantity,
		"price", fill.Price,
		"pnl", pnl,
		"remaining", p.Remaining,
	)

	if m.Rec != nil {
		if err := m.Rec.PositionClosed(ctx, account, p, reason, fill.Quantity, fill.Price, pnl); err != nil {
			m.Log.Error("audit write failed", "account", account, "err", err)
		}
	}

	if p.Status != StatusOpen {
		acct.Retire(p.OrderID)
		if reason == ReasonProfitTarget {
			acct.Reenable(p.SetupID)
		}
	}
	return true
}

// evaluateEntries walks the pending setups and places an order for each
// one that clears its window, its conditions, the gate chain and the
// sizer. A gate block leaves the setup pending for the next tick.
func (m *Monitor) evaluateEntries(ctx context.Context, account string, spot float64, now time.Time) {
	acct := m.Book.Account(account)
	pending := acct.PendingSetups(now)
	if len(pending) == 0 {
		return
	}

	// Trend feeds the breakout gate; one candle fetch covers the tick.
	trend := market.TrendNeutral
	if candles, err := m.Gateway.Candles(ctx, market.CandlesRequest{
		Exchange: market.ExchangeNSE,
		Token:    market.NiftySpotToken,
		Interval: "FIVE_MINUTE",
		From:     now.Add(-3 * time.Hour),
		To:       now,
	}); err == nil {
		trend = market.TrendOf(candles)
	}

	for _, s := range pending {
		if !s.InWindow(now) {
			continue
		}
		if err := s.Validate(); err != nil {
			m.Log.Warn("dropping invalid setup", "account", account, "err", err)
			acct.Consume(s.ID)
			continue
		}

		premium := s.EntryPrice
		if q, err := m.Gateway.Quote(ctx, s.Instrument.ExchangeOrDefault(), s.Instrument.Token); err == nil {
			premium = q.LTP
		}
		if ok, reason := s.ConditionsMet(spot, premium); !ok {
			m.Log.Debug("entry conditions not met",
				"account", account, "symbol", s.Instrument.TradingSymbol, "reason", reason)
			continue
		}

		verdict := m.Chain.Evaluate(ctx, risk.EntryContext{
			Account:       account,
			Now:           now,
			Instrument:    s.Instrument,
			OpenPositions: acct.OpenCount(),
			OpenTypes:     acct.OpenTypes(),
			Spot:          spot,
			BreakoutLevel: s.BreakoutLevel,
			Trend:         trend,
		})
		if !verdict.Allowed {
			m.Log.Info("entry skipped",
				"account", account, "symbol", s.Instrument.TradingSymbol, "reason", verdict.Reason)
			continue
		}

		capital := 0.0
		if sum, ok := m.Ledger.Summary(account); ok {
			capital = sum.StartingCapital + sum.PnL
		}
		size := m.Ledger.Size(account, risk.SizeInput{
			BaseQty:    s.Quantity,
			LotSize:    s.Instrument.LotSize,
			EntryPrice: premium,
			Delta:      s.Delta,
			GateFactor: verdict.SizeFactor,
			CapCapital: capital,
		})
		if size.Quantity == 0 {
			m.Log.Info("entry skipped, sized below one lot",
				"account", account, "symbol", s.Instrument.TradingSymbol, "notes", size.Notes)
			continue
		}

		pos, err := m.Exec.PlaceEntry(ctx, account, s, size.Quantity)
		if err != nil {
			m.Log.Error("entry failed",
				"account", account, "symbol", s.Instrument.TradingSymbol, "err", err)
			continue
		}

		// Session phase sets how much room the trade gets: wider stops
		// in the opening volatility, tighter through the midday calm.
		phase := risk.TimeOfDayAdjust(now)
		pos.ScaleExits(phase.StopMult, phase.TargetMult)
		if phase.StopMult != 1 || phase.TargetMult != 1 {
			m.Log.Info("exits scaled for session phase",
				"account", account, "symbol", s.Instrument.TradingSymbol,
				"phase", phase.Phase, "stop", pos.StopLoss)
		}

		acct.Open(pos)
		acct.Consume(s.ID)
	}
}

// EODSweep force-closes everything still open at the cutoff. When no
// live quote is available the entry price anchors the close: a degraded
// bookkeeping fallback, logged loudly, never silent.
func (m *Monitor) EODSweep(ctx context.Context, account string) {
	acct := m.Book.Account(account)
	open := acct.OpenPositions()
	if len(open) == 0 {
		return
	}
	m.Log.Info("end-of-day sweep", "account", account, "open", len(open))

	tokens := make([]string, 0, len(open))
	for _, p := range open {
		tokens = append(tokens, p.Instrument.Token)
	}
	quotes, err := m.Gateway.Batch(ctx, market.ExchangeNFO, tokens)
	if err != nil {
		m.Log.Error("eod quote batch failed, falling back to entry prices",
			"account", account, "err", err)
		quotes = nil
	}

	now := m.Clk.Now()
	for _, p := range open {
		price := p.EntryPrice
		if q, ok := quotes[p.Instrument.Token]; ok && q.LTP > 0 {
			price = q.LTP
		} else {
			m.Log.Warn("eod close without live quote, using entry price",
				"account", account, "symbol", p.Instrument.TradingSymbol)
		}

		fill, err := m.Exec.PlaceExit(ctx, account, p, p.Remaining, price)
		if err != nil {
			// The exchange squares off intraday options itself; book the
			// close at the best known price so the ledger stays honest.
			m.Log.Error("eod exit order failed, booking at last known price",
				"account", account, "symbol", p.Instrument.TradingSymbol, "err", err)
			fill = ExitFill{Quantity: p.Remaining, Price: price}
		}

		pnl := p.CloseSlice(fill.Quantity, fill.Price, ReasonEOD, now)
		m.Ledger.RecordClose(account, pnl, pnl > 0)
		m.Ledger.RecordPattern(account, p.Pattern, pnl > 0, pnl)
		acct.Retire(p.OrderID)

		if m.Rec != nil {
			if err := m.Rec.PositionClosed(ctx, account, p, ReasonEOD, fill.Quantity, fill.Price, pnl); err != nil {
				m.Log.Error("audit write failed", "account", account, "err", err)
			}
		}
	}
}
