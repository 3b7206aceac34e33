// Package angel is the SmartAPI REST implementation of broker.Broker.
// Every call goes through a token-bucket rate limiter and a circuit
// breaker so a flapping upstream cannot melt the trading loop.
package angel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/niftyalgo/trader/broker"
	"github.com/niftyalgo/trader/market"
)

const (
	defaultBaseURL = "https://apiconnect.angelone.in"

	loginPath      = "/rest/auth/angelbroking/user/v1/loginByPassword"
	placeOrderPath = "/rest/secure/angelbroking/order/v1/placeOrder"
	orderBookPath  = "/rest/secure/angelbroking/order/v1/getOrderBook"
	quotePath      = "/rest/secure/angelbroking/market/v1/quote/"
	candlesPath    = "/rest/secure/angelbroking/historical/v1/getCandleData"
	rmsPath        = "/rest/secure/angelbroking/user/v1/getRMS"
)

// SmartAPI allows roughly 3 requests per second per endpoint class; the
// batch quote design keeps us well under it, the limiter enforces it.
const requestsPerSecond = 3

var ErrNotLoggedIn = errors.New("angel: not logged in")

// session is one account's live SmartAPI credentials. Orders and RMS
// reads must ride the owning account's session; mixing them up would
// trade on the wrong account.
type session struct {
	apiKey string
	jwt    string
}

type Client struct {
	BaseURL string
	HTTP    *http.Client

	log     *slog.Logger
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	sessions map[string]session // keyed by clientcode
	primary  string             // first login, serves account-neutral market data
}

func New(log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "angel")

	settings := gobreaker.Settings{
		Name:    "smartapi",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		BaseURL:  defaultBaseURL,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		breaker:  gobreaker.NewCircuitBreaker(settings),
		sessions: make(map[string]session),
	}
}

// session returns the account's live session or ErrNotLoggedIn.
func (c *Client) session(clientCode string) (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[clientCode]
	if !ok {
		return session{}, fmt.Errorf("%w: %s", ErrNotLoggedIn, clientCode)
	}
	return s, nil
}

// dataSession picks the session market-data calls ride on. Quotes and
// candles are account-neutral, so the first login serves every account.
func (c *Client) dataSession() (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primary == "" {
		return session{}, ErrNotLoggedIn
	}
	return c.sessions[c.primary], nil
}

// envelope is SmartAPI's uniform response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

func (c *Client) headers(req *http.Request, sess session, authed bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", "127.0.0.1")
	req.Header.Set("X-ClientPublicIP", "127.0.0.1")
	req.Header.Set("X-MACAddress", "00:00:00:00:00:00")
	req.Header.Set("X-PrivateKey", sess.apiKey)
	if authed {
		req.Header.Set("Authorization", "Bearer "+sess.jwt)
	}
}

// do issues one SmartAPI request under sess through the limiter and the
// breaker and unwraps the envelope. A status=false envelope is an
// upstream rejection, not a transport failure, so it does not count
// against the breaker.
func (c *Client) do(ctx context.Context, method, path string, body any, sess session, authed bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	raw, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		c.headers(req, sess, authed)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("smartapi %s: http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
		}
		return b, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, fmt.Errorf("smartapi %s: upstream unavailable: %w", path, err)
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw.([]byte), &env); err != nil {
		return nil, fmt.Errorf("smartapi %s: decode envelope: %w", path, err)
	}
	if !env.Status {
		return nil, fmt.Errorf("smartapi %s: %s (%s)", path, env.Message, env.ErrorCode)
	}
	return env.Data, nil
}

type loginReply struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// Login exchanges client code, PIN and a fresh TOTP for a session JWT.
// Credentials.TOTP is the base32 shared secret; the one-time code is
// derived here at call time.
func (c *Client) Login(ctx context.Context, creds broker.Credentials) (broker.Session, error) {
	code, err := totpNow(creds.TOTP, time.Now())
	if err != nil {
		return broker.Session{}, fmt.Errorf("totp for %s: %w", creds.ClientCode, err)
	}

	data, err := c.do(ctx, http.MethodPost, loginPath, map[string]string{
		"clientcode": creds.ClientCode,
		"password":   creds.Password,
		"totp":       code,
	}, session{apiKey: creds.APIKey}, false)
	if err != nil {
		return broker.Session{}, fmt.Errorf("login %s: %w", creds.ClientCode, err)
	}

	var reply loginReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return broker.Session{}, fmt.Errorf("login %s: decode: %w", creds.ClientCode, err)
	}
	jwt := strings.TrimPrefix(reply.JWTToken, "Bearer ")
	if jwt == "" {
		return broker.Session{}, fmt.Errorf("login %s: empty jwt in reply", creds.ClientCode)
	}

	c.mu.Lock()
	c.sessions[creds.ClientCode] = session{apiKey: creds.APIKey, jwt: jwt}
	if c.primary == "" {
		c.primary = creds.ClientCode
	}
	c.mu.Unlock()

	c.log.Info("logged in", "client", creds.ClientCode)
	return broker.Session{ClientCode: creds.ClientCode, Token: jwt, LoginAt: time.Now()}, nil
}

// PlaceOrder submits an intraday market order. The returned status is
// provisional; callers poll OrderStatus until a terminal state.
func (c *Client) PlaceOrder(ctx context.Context, spec broker.OrderSpec) (broker.OrderReceipt, error) {
	sess, err := c.session(spec.ClientCode)
	if err != nil {
		return broker.OrderReceipt{}, err
	}
	data, err := c.do(ctx, http.MethodPost, placeOrderPath, map[string]string{
		"variety":         "NORMAL",
		"tradingsymbol":   spec.TradingSymbol,
		"symboltoken":     spec.Token,
		"transactiontype": string(spec.Side),
		"exchange":        spec.Exchange,
		"ordertype":       "MARKET",
		"producttype":     "INTRADAY",
		"duration":        "DAY",
		"quantity":        strconv.Itoa(spec.Quantity),
	}, sess, true)
	if err != nil {
		return broker.OrderReceipt{}, fmt.Errorf("place order %s: %w", spec.TradingSymbol, err)
	}

	var reply struct {
		OrderID string `json:"orderid"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return broker.OrderReceipt{}, fmt.Errorf("place order %s: decode: %w", spec.TradingSymbol, err)
	}
	if reply.OrderID == "" {
		return broker.OrderReceipt{}, fmt.Errorf("place order %s: no order id in reply", spec.TradingSymbol)
	}
	return broker.OrderReceipt{OrderID: reply.OrderID, Status: broker.StatusOpen}, nil
}

type bookOrder struct {
	OrderID      string      `json:"orderid"`
	Status       string      `json:"status"`
	FilledShares string      `json:"filledshares"`
	AvgPrice     json.Number `json:"averageprice"`
	Text         string      `json:"text"`
}

// OrderStatus looks the order up in the account's order book for today.
// SmartAPI has no single-order endpoint on this API version; the book is
// small intraday.
func (c *Client) OrderStatus(ctx context.Context, clientCode, orderID string) (broker.OrderState, error) {
	sess, err := c.session(clientCode)
	if err != nil {
		return broker.OrderState{}, err
	}
	data, err := c.do(ctx, http.MethodGet, orderBookPath, nil, sess, true)
	if err != nil {
		return broker.OrderState{}, fmt.Errorf("order status %s: %w", orderID, err)
	}

	var book []bookOrder
	if err := json.Unmarshal(data, &book); err != nil {
		return broker.OrderState{}, fmt.Errorf("order status %s: decode: %w", orderID, err)
	}

	for _, o := range book {
		if o.OrderID != orderID {
			continue
		}
		filled, _ := strconv.Atoi(o.FilledShares)
		avg, _ := o.AvgPrice.Float64()
		return broker.OrderState{
			OrderID:   orderID,
			Status:    mapOrderStatus(o.Status),
			FilledQty: filled,
			AvgPrice:  avg,
			Reason:    o.Text,
		}, nil
	}
	return broker.OrderState{}, fmt.Errorf("order status %s: not in order book", orderID)
}

func mapOrderStatus(s string) broker.Status {
	switch {
	case strings.Contains(strings.ToLower(s), "complete"):
		return broker.StatusComplete
	case strings.Contains(strings.ToLower(s), "rejected"):
		return broker.StatusRejected
	case strings.Contains(strings.ToLower(s), "cancelled"):
		return broker.StatusCancelled
	default:
		return broker.StatusOpen
	}
}

type quoteReply struct {
	Fetched []struct {
		SymbolToken   string  `json:"symbolToken"`
		LTP           float64 `json:"ltp"`
		TradeVolume   int64   `json:"tradeVolume"`
		OpnInterest   int64   `json:"opnInterest"`
		PercentChange float64 `json:"percentChange"`
	} `json:"fetched"`
	Unfetched []struct {
		SymbolToken string `json:"symbolToken"`
		Message     string `json:"message"`
	} `json:"unfetched"`
}

// QuotesBatch fetches every token in one upstream call. Tokens the
// exchange could not serve are simply absent from the result.
func (c *Client) QuotesBatch(ctx context.Context, exchange string, tokens []string, mode market.QuoteMode) (map[string]market.Quote, error) {
	sess, err := c.dataSession()
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, http.MethodPost, quotePath, map[string]any{
		"mode":           string(mode),
		"exchangeTokens": map[string][]string{exchange: tokens},
	}, sess, true)
	if err != nil {
		return nil, fmt.Errorf("quotes %s (%d tokens): %w", exchange, len(tokens), err)
	}

	var reply quoteReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("quotes %s: decode: %w", exchange, err)
	}

	now := time.Now()
	out := make(map[string]market.Quote, len(reply.Fetched))
	for _, q := range reply.Fetched {
		out[q.SymbolToken] = market.Quote{
			Token:     q.SymbolToken,
			LTP:       q.LTP,
			Volume:    q.TradeVolume,
			OI:        q.OpnInterest,
			ChangePct: q.PercentChange,
			Time:      now,
		}
	}
	for _, miss := range reply.Unfetched {
		c.log.Warn("quote unavailable", "token", miss.SymbolToken, "msg", miss.Message)
	}
	return out, nil
}

const candleTimeLayout = "2006-01-02 15:04"

// Candles fetches OHLCV history. SmartAPI returns rows of
// [timestamp, open, high, low, close, volume].
func (c *Client) Candles(ctx context.Context, req market.CandlesRequest) ([]market.Candle, error) {
	sess, err := c.dataSession()
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, http.MethodPost, candlesPath, map[string]string{
		"exchange":    req.Exchange,
		"symboltoken": req.Token,
		"interval":    req.Interval,
		"fromdate":    req.From.Format(candleTimeLayout),
		"todate":      req.To.Format(candleTimeLayout),
	}, sess, true)
	if err != nil {
		return nil, fmt.Errorf("candles %s/%s: %w", req.Exchange, req.Token, err)
	}

	// Rows mix a timestamp string with numeric OHLCV fields.
	var rows [][]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("candles %s/%s: decode: %w", req.Exchange, req.Token, err)
	}

	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var stamp string
		if err := json.Unmarshal(row[0], &stamp); err != nil {
			return nil, fmt.Errorf("candles %s/%s: bad timestamp: %w", req.Exchange, req.Token, err)
		}
		ts, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			return nil, fmt.Errorf("candles %s/%s: bad timestamp %q: %w", req.Exchange, req.Token, stamp, err)
		}

		var v [5]float64
		for i := 1; i < 6; i++ {
			if err := json.Unmarshal(row[i], &v[i-1]); err != nil {
				return nil, fmt.Errorf("candles %s/%s: bad row value: %w", req.Exchange, req.Token, err)
			}
		}
		candles = append(candles, market.Candle{
			Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4], Time: ts,
		})
	}
	return candles, nil
}

// AvailableCapital reads the account's RMS cash balance.
func (c *Client) AvailableCapital(ctx context.Context, clientCode string) (float64, error) {
	sess, err := c.session(clientCode)
	if err != nil {
		return 0, err
	}
	data, err := c.do(ctx, http.MethodGet, rmsPath, nil, sess, true)
	if err != nil {
		return 0, fmt.Errorf("rms %s: %w", clientCode, err)
	}

	var reply struct {
		AvailableCash string `json:"availablecash"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return 0, fmt.Errorf("rms %s: decode: %w", clientCode, err)
	}
	cash, err := strconv.ParseFloat(strings.TrimSpace(reply.AvailableCash), 64)
	if err != nil {
		return 0, fmt.Errorf("rms %s: bad availablecash %q: %w", clientCode, reply.AvailableCash, err)
	}
	return cash, nil
}
