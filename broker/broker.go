// Package broker defines the brokerage capability the trading core runs
// against. Implementations: broker/angel (SmartAPI REST) and broker/paper
// (in-memory fills for tests and dry runs).
package broker

import (
	"context"
	"time"

	"github.com/niftyalgo/trader/market"
)

type Broker interface {
	Login(ctx context.Context, creds Credentials) (Session, error)
	PlaceOrder(ctx context.Context, spec OrderSpec) (OrderReceipt, error)
	// OrderStatus looks an order up under the owning account's session.
	OrderStatus(ctx context.Context, clientCode, orderID string) (OrderState, error)
	QuotesBatch(ctx context.Context, exchange string, tokens []string, mode market.QuoteMode) (map[string]market.Quote, error)
	Candles(ctx context.Context, req market.CandlesRequest) ([]market.Candle, error)
	AvailableCapital(ctx context.Context, clientCode string) (float64, error)
}

type Credentials struct {
	ClientCode string
	Password   string
	TOTP       string
	APIKey     string
}

type Session struct {
	ClientCode string
	Token      string
	LoginAt    time.Time
}

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderSpec describes a market order. Limit orders are intentionally
// absent: every entry and exit in this system is a market order whose
// fill is verified after the fact.
type OrderSpec struct {
	ClientCode    string
	Exchange      string
	TradingSymbol string
	Token         string
	Side          Side
	Quantity      int
	// PlannedPrice is the premium the order was sized against. It is not
	// sent to the exchange; it anchors slippage accounting.
	PlannedPrice float64
}

type OrderReceipt struct {
	OrderID string
	// Status as reported at placement time; callers must still poll
	// OrderStatus until a terminal state before assuming a position exists.
	Status Status
}

type Status string

const (
	StatusOpen      Status = "open"
	StatusComplete  Status = "complete"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the order can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusRejected || s == StatusCancelled
}

type OrderState struct {
	OrderID   string
	Status    Status
	FilledQty int
	AvgPrice  float64
	// Reason carries the broker's rejection text when Status is rejected.
	Reason string
}

