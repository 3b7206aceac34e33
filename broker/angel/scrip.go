package angel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/niftyalgo/trader/internal/clock"
	"github.com/niftyalgo/trader/market"
)

// ScripMasterURL is Angel's published instrument dump, refreshed daily
// before the open.
const ScripMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

const scripTTL = 24 * time.Hour

type scripEntry struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"` // paise, e.g. "2410000.000000"
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
}

// ScripMaster resolves proposed option contracts against the exchange
// instrument dump. The dump is fetched lazily and cached for a day.
type ScripMaster struct {
	URL  string
	HTTP *http.Client

	clk clock.Clock
	log *slog.Logger

	mu        sync.Mutex
	entries   []scripEntry
	fetchedAt time.Time
}

func NewScripMaster(clk clock.Clock, log *slog.Logger) *ScripMaster {
	if log == nil {
		log = slog.Default()
	}
	return &ScripMaster{
		URL:  ScripMasterURL,
		HTTP: &http.Client{Timeout: 30 * time.Second},
		clk:  clk,
		log:  log.With("component", "scrip"),
	}
}

func (m *ScripMaster) load(ctx context.Context) ([]scripEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries != nil && m.clk.Now().Sub(m.fetchedAt) < scripTTL {
		return m.entries, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.HTTP.Do(req)
	if err != nil {
		if m.entries != nil {
			m.log.Warn("scrip master refresh failed, serving stale", "err", err)
			return m.entries, nil
		}
		return nil, fmt.Errorf("fetch scrip master: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch scrip master: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch scrip master: %w", err)
	}

	var entries []scripEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode scrip master: %w", err)
	}

	m.entries = entries
	m.fetchedAt = m.clk.Now()
	m.log.Info("scrip master loaded", "instruments", len(entries))
	return entries, nil
}

// Resolve finds the index option contract for the given strike and type,
// preferring the nearest expiry on or after today.
func (m *ScripMaster) Resolve(ctx context.Context, underlying string, strike float64, optionType market.OptionType) (market.Instrument, error) {
	entries, err := m.load(ctx)
	if err != nil {
		return market.Instrument{}, err
	}

	underlying = strings.ToUpper(underlying)
	today := m.clk.Now().Truncate(24 * time.Hour)

	type candidate struct {
		entry  scripEntry
		expiry time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.ExchSeg != market.ExchangeNFO || e.Name != underlying || e.InstrumentType != "OPTIDX" {
			continue
		}
		if !strings.HasSuffix(e.Symbol, string(optionType)) {
			continue
		}
		paise, err := strconv.ParseFloat(e.Strike, 64)
		if err != nil || math.Abs(paise/100-strike) > 0.01 {
			continue
		}
		expiry, err := parseExpiry(e.Expiry)
		if err != nil || expiry.Before(today) {
			continue
		}
		candidates = append(candidates, candidate{entry: e, expiry: expiry})
	}

	if len(candidates) == 0 {
		return market.Instrument{}, fmt.Errorf("no %s %s %.0f contract in scrip master", underlying, optionType, strike)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].expiry.Before(candidates[j].expiry)
	})
	best := candidates[0]

	lotSize, err := strconv.Atoi(best.entry.LotSize)
	if err != nil || lotSize <= 0 {
		return market.Instrument{}, fmt.Errorf("bad lot size %q for %s", best.entry.LotSize, best.entry.Symbol)
	}

	return market.Instrument{
		Underlying:    underlying,
		TradingSymbol: best.entry.Symbol,
		Token:         best.entry.Token,
		Exchange:      market.ExchangeNFO,
		Strike:        strike,
		OptionType:    optionType,
		Expiry:        best.entry.Expiry,
		LotSize:       lotSize,
	}, nil
}

// parseExpiry reads Angel's "26SEP2024" expiry format.
func parseExpiry(s string) (time.Time, error) {
	if len(s) != 9 {
		return time.Time{}, fmt.Errorf("bad expiry %q", s)
	}
	normalized := s[:3] + strings.ToLower(s[3:5]) + s[5:]
	return time.Parse("02Jan2006", normalized)
}
