package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/niftyalgo/trader/broker"
	"github.com/niftyalgo/trader/internal/clock"
	"github.com/niftyalgo/trader/risk"
)

// ErrVerifyTimeout is returned when an order never reaches a terminal
// state inside the polling budget. It must be treated as a failed
// entry: the position may or may not exist at the broker, and nothing
// is booked until a human or the next reconciliation sorts it out.
var ErrVerifyTimeout = errors.New("order verification timed out")

const (
	defaultVerifyRetries = 5
	defaultVerifyPoll    = 2 * time.Second
)

// Executor places orders and refuses to acknowledge a position until
// the fill is verified.
type Executor struct {
	Broker broker.Broker
	Ledger *risk.Ledger
	Clk    clock.Clock
	Log    *slog.Logger

	// Retries and Poll bound fill verification. Zero values take the
	// production defaults (5 polls, 2s apart).
	Retries int
	Poll    time.Duration
}

func NewExecutor(b broker.Broker, ledger *risk.Ledger, clk clock.Clock, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{Broker: b, Ledger: ledger, Clk: clk, Log: log.With("component", "executor")}
}

func (e *Executor) retries() int {
	if e.Retries > 0 {
		return e.Retries
	}
	return defaultVerifyRetries
}

func (e *Executor) poll() time.Duration {
	if e.Poll > 0 {
		return e.Poll
	}
	return defaultVerifyPoll
}

// VerifyFill polls order status until terminal or the retry budget is
// spent. A timeout is a terminal failure, never a success.
func (e *Executor) VerifyFill(ctx context.Context, account, orderID string) (broker.OrderState, error) {
	var last broker.OrderState
	retries := e.retries()
	for attempt := 1; attempt <= retries; attempt++ {
		state, err := e.Broker.OrderStatus(ctx, account, orderID)
		if err != nil {
			e.Log.Warn("order status poll failed",
				"order_id", orderID, "attempt", attempt, "err", err)
		} else {
			last = state
			if state.Status.Terminal() {
				return state, nil
			}
		}

		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-e.Clk.After(e.poll()):
		}
	}
	return last, fmt.Errorf("order %s after %d polls: %w", orderID, retries, ErrVerifyTimeout)
}

// PlaceEntry submits a market buy for the setup and verifies the fill.
// A position is returned only on a confirmed complete fill; rejection,
// cancellation, timeout or any broker error leaves the account
// untouched apart from the logged attempt.
func (e *Executor) PlaceEntry(ctx context.Context, account string, s *Setup, quantity int) (*Position, error) {
	receipt, err := e.Broker.PlaceOrder(ctx, broker.OrderSpec{
		ClientCode:    account,
		Exchange:      s.Instrument.ExchangeOrDefault(),
		TradingSymbol: s.Instrument.TradingSymbol,
		Token:         s.Instrument.Token,
		Side:          broker.Buy,
		Quantity:      quantity,
		PlannedPrice:  s.EntryPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("place entry for %s: %w", s.Instrument.TradingSymbol, err)
	}

	state, err := e.VerifyFill(ctx, account, receipt.OrderID)
	if err != nil {
		return nil, err
	}
	if state.Status != broker.StatusComplete {
		return nil, fmt.Errorf("entry order %s %s: %s", receipt.OrderID, state.Status, state.Reason)
	}

	fill := state.AvgPrice
	if fill == 0 {
		fill = s.EntryPrice
	}
	slipPct := risk.Slippage(s.EntryPrice, fill, true)
	e.Ledger.RecordCommission(account, 1)
	e.Ledger.RecordSlippage(account, risk.SlippageCost(s.EntryPrice, fill, state.FilledQty, true))

	e.Log.Info("entry filled",
		"account", account,
		"symbol", s.Instrument.TradingSymbol,
		"order_id", receipt.OrderID,
		"qty", state.FilledQty,
		"planned", s.EntryPrice,
		"fill", fill,
		"slippage_pct", slipPct,
	)

	return &Position{
		OrderID:      receipt.OrderID,
		SetupID:      s.ID,
		Instrument:   s.Instrument,
		Pattern:      s.Pattern,
		PlannedPrice: s.EntryPrice,
		EntryPrice:   fill,
		Quantity:     state.FilledQty,
		Remaining:    state.FilledQty,
		StopLoss:     s.StopLoss,
		Target1:      s.Target1,
		Target2:      s.Target2,
		Tiered:       s.HasExplicitTargets(),
		EnteredAt:    e.Clk.Now(),
		Status:       StatusOpen,
	}, nil
}

// ExitFill is the result of a verified exit order.
type ExitFill struct {
	OrderID  string
	Quantity int
	Price    float64
}

// PlaceExit submits a market sell for qty units of the position at the
// current price and verifies it. plannedPrice anchors exit slippage.
func (e *Executor) PlaceExit(ctx context.Context, account string, p *Position, qty int, plannedPrice float64) (ExitFill, error) {
	receipt, err := e.Broker.PlaceOrder(ctx, broker.OrderSpec{
		ClientCode:    account,
		Exchange:      p.Instrument.ExchangeOrDefault(),
		TradingSymbol: p.Instrument.TradingSymbol,
		Token:         p.Instrument.Token,
		Side:          broker.Sell,
		Quantity:      qty,
		PlannedPrice:  plannedPrice,
	})
	if err != nil {
		return ExitFill{}, fmt.Errorf("place exit for %s: %w", p.Instrument.TradingSymbol, err)
	}

	state, err := e.VerifyFill(ctx, account, receipt.OrderID)
	if err != nil {
		return ExitFill{}, err
	}
	if state.Status != broker.StatusComplete {
		return ExitFill{}, fmt.Errorf("exit order %s %s: %s", receipt.OrderID, state.Status, state.Reason)
	}

	fill := state.AvgPrice
	if fill == 0 {
		fill = plannedPrice
	}
	e.Ledger.RecordCommission(account, 1)
	e.Ledger.RecordSlippage(account, risk.SlippageCost(plannedPrice, fill, state.FilledQty, false))

	return ExitFill{OrderID: receipt.OrderID, Quantity: state.FilledQty, Price: fill}, nil
}
