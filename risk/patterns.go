package risk

import "sort"

// PatternStats accumulates outcomes for one setup pattern label (e.g.
// "breakout_bullish"). Survives across days: pattern memory is meant to
// outlive a single session.
type PatternStats struct {
	Pattern string
	Trades  int
	Wins    int
	PnL     float64
}

// WinRate in percent; zero with no trades.
func (p *PatternStats) WinRate() float64 {
	if p.Trades == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.Trades) * 100
}

// RecordPattern books one closed trade against its pattern label.
func (l *Ledger) RecordPattern(account, pattern string, isWin bool, pnl float64) {
	if pattern == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	byPattern, ok := l.patterns[account]
	if !ok {
		byPattern = make(map[string]*PatternStats)
		l.patterns[account] = byPattern
	}
	stats, ok := byPattern[pattern]
	if !ok {
		stats = &PatternStats{Pattern: pattern}
		byPattern[pattern] = stats
	}
	stats.Trades++
	if isWin {
		stats.Wins++
	}
	stats.PnL += pnl
}

// BestPatterns returns the account's patterns with at least minTrades
// samples, best win rate first. Ties break on total pnl.
func (l *Ledger) BestPatterns(account string, minTrades int) []PatternStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []PatternStats
	for _, stats := range l.patterns[account] {
		if stats.Trades >= minTrades {
			out = append(out, *stats)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WinRate() != out[j].WinRate() {
			return out[i].WinRate() > out[j].WinRate()
		}
		return out[i].PnL > out[j].PnL
	})
	return out
}
