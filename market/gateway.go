package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/niftyalgo/trader/internal/clock"
)

const (
	defaultQuoteTTL = 2 * time.Second
	defaultVIXTTL   = 5 * time.Minute
)

// Gateway serves market data to the rest of the system, batching and
// caching upstream calls. It is process-wide shared state; every method
// is safe for concurrent use.
type Gateway struct {
	src    Source
	clk    clock.Clock
	log    *slog.Logger
	quotes *quoteCache
	vix    *vixCache
}

func NewGateway(src Source, clk clock.Clock, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		src:    src,
		clk:    clk,
		log:    log.With("component", "market"),
		quotes: newQuoteCache(defaultQuoteTTL, clk),
		vix:    newVIXCache(defaultVIXTTL, clk),
	}
}

// Spot returns the NIFTY index last traded price.
func (g *Gateway) Spot(ctx context.Context) (float64, error) {
	q, err := g.Quote(ctx, ExchangeNSE, NiftySpotToken)
	if err != nil {
		return 0, fmt.Errorf("spot: %w", err)
	}
	return q.LTP, nil
}

// Quote fetches a single token, going through the batch cache.
func (g *Gateway) Quote(ctx context.Context, exchange, token string) (Quote, error) {
	quotes, err := g.Batch(ctx, exchange, []string{token})
	if err != nil {
		return Quote{}, err
	}
	q, ok := quotes[token]
	if !ok {
		return Quote{}, fmt.Errorf("no quote returned for token %s", token)
	}
	return q, nil
}

// Batch returns quotes for all tokens, fetching only the ones not in the
// cache. One upstream call covers every cache miss, so a monitoring tick
// over N open positions costs at most one request.
func (g *Gateway) Batch(ctx context.Context, exchange string, tokens []string) (map[string]Quote, error) {
	out := make(map[string]Quote, len(tokens))
	var missing []string
	for _, token := range tokens {
		if q, ok := g.quotes.get(token); ok {
			out[token] = q
		} else {
			missing = append(missing, token)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := g.src.QuotesBatch(ctx, exchange, missing, QuoteFull)
	if err != nil {
		return nil, fmt.Errorf("batch quotes (%d tokens): %w", len(missing), err)
	}
	g.quotes.put(fetched)
	for token, q := range fetched {
		out[token] = q
	}
	return out, nil
}

// VIX returns the current India VIX reading. Serves the cached value when
// younger than 5 minutes; on refresh failure a stale value is served with
// a warning rather than failing the tick (nil only when never fetched).
func (g *Gateway) VIX(ctx context.Context) *float64 {
	if v, ok := g.vix.fresh(); ok {
		return v
	}

	q, err := g.src.QuotesBatch(ctx, ExchangeNSE, []string{IndiaVIXToken}, QuoteLTP)
	if err != nil {
		stale, _ := g.vix.fresh()
		g.log.Warn("vix refresh failed, serving stale", "err", err)
		return stale
	}
	vq, ok := q[IndiaVIXToken]
	if !ok || vq.LTP <= 0 {
		stale, _ := g.vix.fresh()
		return stale
	}

	g.vix.set(vq.LTP)
	return &vq.LTP
}

// VIXMomentum classifies the recent VIX slope.
func (g *Gateway) VIXMomentum() Momentum { return g.vix.momentum() }

// Candles fetches candle history for a token.
func (g *Gateway) Candles(ctx context.Context, req CandlesRequest) ([]Candle, error) {
	candles, err := g.src.Candles(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("candles %s/%s: %w", req.Exchange, req.Token, err)
	}
	return candles, nil
}

// Snapshot is a comprehensive gather across independent sources. Any one
// source failing does not block the others: the caller receives whichever
// subset succeeded plus per-source errors.
type Snapshot struct {
	Taken time.Time

	Spot    float64
	SpotErr error

	VIX         *float64
	VIXMomentum Momentum

	Candles    []Candle
	CandlesErr error

	Regime Regime
	Trend  Trend
	Levels Levels
}

// Snapshot gathers spot, VIX, recent candles and the derived analytics in
// one pass. Each failure is flagged on the result, never returned as a
// combined error.
func (g *Gateway) Snapshot(ctx context.Context) Snapshot {
	now := g.clk.Now()
	snap := Snapshot{Taken: now}

	snap.Spot, snap.SpotErr = g.Spot(ctx)
	if snap.SpotErr != nil {
		g.log.Warn("snapshot: spot fetch failed", "err", snap.SpotErr)
	}

	snap.VIX = g.VIX(ctx)
	snap.VIXMomentum = g.VIXMomentum()

	snap.Candles, snap.CandlesErr = g.Candles(ctx, CandlesRequest{
		Exchange: ExchangeNSE,
		Token:    NiftySpotToken,
		Interval: "FIVE_MINUTE",
		From:     now.Add(-3 * time.Hour),
		To:       now,
	})
	if snap.CandlesErr != nil {
		g.log.Warn("snapshot: candle fetch failed", "err", snap.CandlesErr)
	}

	snap.Trend = TrendOf(snap.Candles)
	snap.Regime = DetectRegime(snap.VIX, snap.Trend)
	snap.Levels = LevelsOf(snap.Candles)

	return snap
}
