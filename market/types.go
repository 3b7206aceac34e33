// Package market is the gateway to live exchange data: spot, option
// quotes, candles and the volatility index, with the short-lived caches
// the rest of the system leans on.
package market

import (
	"context"
	"time"
)

const (
	ExchangeNSE = "NSE"
	ExchangeNFO = "NFO"

	// Symbol tokens on NSE.
	NiftySpotToken = "99926000"
	IndiaVIXToken  = "99926017"
)

type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// Instrument identifies a tradeable option contract as resolved from the
// exchange scrip master.
type Instrument struct {
	Underlying    string
	TradingSymbol string
	Token         string
	Exchange      string
	Strike        float64
	OptionType    OptionType
	Expiry        string
	LotSize       int
}

// ExchangeOrDefault returns the contract's exchange, defaulting to the
// derivatives segment where index options trade.
func (i Instrument) ExchangeOrDefault() string {
	if i.Exchange != "" {
		return i.Exchange
	}
	return ExchangeNFO
}

// Opposite returns the hedging counterpart type (CE for PE and vice versa).
func (o OptionType) Opposite() OptionType {
	if o == Call {
		return Put
	}
	return Call
}

type Quote struct {
	Token     string
	LTP       float64
	Volume    int64
	OI        int64
	ChangePct float64
	Time      time.Time
}

// Candle represents OHLC candlestick data.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	time.Time
}

type QuoteMode string

const (
	QuoteLTP  QuoteMode = "LTP"
	QuoteFull QuoteMode = "FULL"
)

type CandlesRequest struct {
	Exchange string
	Token    string
	Interval string // e.g. "FIVE_MINUTE", "ONE_DAY"
	From     time.Time
	To       time.Time
}

// Source is the slice of the brokerage capability the gateway consumes.
// broker.Broker satisfies it.
type Source interface {
	QuotesBatch(ctx context.Context, exchange string, tokens []string, mode QuoteMode) (map[string]Quote, error)
	Candles(ctx context.Context, req CandlesRequest) ([]Candle, error)
}
