// Package paper is the dry-run implementation of broker.Broker: live
// market data passes through to a real data source, orders fill
// instantly in memory at the last traded price.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/niftyalgo/trader/broker"
	"github.com/niftyalgo/trader/internal/clock"
	"github.com/niftyalgo/trader/market"
)

// Broker simulates execution. Quotes and candles come from Data so the
// paper session sees the same market the live session would.
type Broker struct {
	Data broker.Broker

	// SlippagePct widens fills against the order: buys fill above the
	// planned price, sells below. Zero means fills at the live LTP.
	SlippagePct float64

	Capital float64

	clk clock.Clock
	log *slog.Logger

	mu     sync.Mutex
	nextID int
	orders map[string]broker.OrderState
}

func New(data broker.Broker, capital float64, clk clock.Clock, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	return &Broker{
		Data:    data,
		Capital: capital,
		clk:     clk,
		log:     log.With("component", "paper"),
		orders:  make(map[string]broker.OrderState),
	}
}

// Login never talks to the upstream; paper sessions need no credentials.
func (b *Broker) Login(_ context.Context, creds broker.Credentials) (broker.Session, error) {
	return broker.Session{ClientCode: creds.ClientCode, Token: "paper", LoginAt: b.clk.Now()}, nil
}

// PlaceOrder fills immediately at the live price (with the configured
// slippage), or at the planned price when no quote is available.
func (b *Broker) PlaceOrder(ctx context.Context, spec broker.OrderSpec) (broker.OrderReceipt, error) {
	price := spec.PlannedPrice
	if quotes, err := b.Data.QuotesBatch(ctx, spec.Exchange, []string{spec.Token}, market.QuoteLTP); err == nil {
		if q, ok := quotes[spec.Token]; ok && q.LTP > 0 {
			price = q.LTP
		}
	}

	switch spec.Side {
	case broker.Buy:
		price *= 1 + b.SlippagePct/100
	case broker.Sell:
		price *= 1 - b.SlippagePct/100
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	orderID := fmt.Sprintf("PAPER-%d", b.nextID)
	b.orders[orderID] = broker.OrderState{
		OrderID:   orderID,
		Status:    broker.StatusComplete,
		FilledQty: spec.Quantity,
		AvgPrice:  price,
	}

	b.log.Info("paper fill",
		"order", orderID, "symbol", spec.TradingSymbol,
		"side", string(spec.Side), "qty", spec.Quantity, "price", price)
	return broker.OrderReceipt{OrderID: orderID, Status: broker.StatusComplete}, nil
}

// OrderStatus ignores the client code; paper orders live in one book.
func (b *Broker) OrderStatus(_ context.Context, _, orderID string) (broker.OrderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.orders[orderID]
	if !ok {
		return broker.OrderState{}, fmt.Errorf("paper: unknown order %s", orderID)
	}
	return state, nil
}

func (b *Broker) QuotesBatch(ctx context.Context, exchange string, tokens []string, mode market.QuoteMode) (map[string]market.Quote, error) {
	return b.Data.QuotesBatch(ctx, exchange, tokens, mode)
}

func (b *Broker) Candles(ctx context.Context, req market.CandlesRequest) ([]market.Candle, error) {
	return b.Data.Candles(ctx, req)
}

func (b *Broker) AvailableCapital(context.Context, string) (float64, error) {
	return b.Capital, nil
}

var _ broker.Broker = (*Broker)(nil)
