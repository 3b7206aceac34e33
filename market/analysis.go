package market

import (
	"fmt"

	"github.com/niftyalgo/trader/market/indicators"
)

type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// TrendOf classifies direction from an EMA9/EMA21 crossover over candle
// closes. Fewer than 21 candles is neutral by definition.
func TrendOf(candles []Candle) Trend {
	if len(candles) < 21 {
		return TrendNeutral
	}

	fast := indicators.NewEMA(9)
	slow := indicators.NewEMA(21)
	for _, c := range candles {
		fast.Update(c.Close)
		slow.Update(c.Close)
	}
	if !fast.Ready() || !slow.Ready() {
		return TrendNeutral
	}

	// 0.2% dead zone so a flat tape doesn't flip-flop.
	switch f, s := fast.Value(), slow.Value(); {
	case f > s*1.002:
		return TrendBullish
	case f < s*0.998:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

type Regime string

const (
	RegimeHighVol  Regime = "high_vol"
	RegimeLowVol   Regime = "low_vol"
	RegimeTrending Regime = "trending"
	RegimeChoppy   Regime = "choppy"
	RegimeUnknown  Regime = "unknown"
)

// DetectRegime buckets the session by volatility first, trend second.
func DetectRegime(vix *float64, trend Trend) Regime {
	if vix == nil {
		return RegimeUnknown
	}
	switch {
	case *vix > 25:
		return RegimeHighVol
	case *vix < 12:
		return RegimeLowVol
	case trend != TrendNeutral:
		return RegimeTrending
	default:
		return RegimeChoppy
	}
}

// Levels carries the pivot, fibonacci and swing reference levels computed
// from the last 20 candles. Zero-valued when not enough data.
type Levels struct {
	Pivot float64
	R1    float64
	R2    float64
	R3    float64
	S1    float64
	S2    float64
	S3    float64

	SwingHigh float64
	SwingLow  float64
	Fib382    float64
	Fib50     float64
	Fib618    float64
}

func LevelsOf(candles []Candle) Levels {
	if len(candles) < 20 {
		return Levels{}
	}

	recent := candles[len(candles)-20:]
	last := recent[len(recent)-1]

	var lv Levels
	lv.Pivot = (last.High + last.Low + last.Close) / 3
	lv.R1 = 2*lv.Pivot - last.Low
	lv.R2 = lv.Pivot + (last.High - last.Low)
	lv.R3 = lv.R1 + (last.High - last.Low)
	lv.S1 = 2*lv.Pivot - last.High
	lv.S2 = lv.Pivot - (last.High - last.Low)
	lv.S3 = lv.S1 - (last.High - last.Low)

	lv.SwingHigh, lv.SwingLow = recent[0].High, recent[0].Low
	for _, c := range recent[1:] {
		if c.High > lv.SwingHigh {
			lv.SwingHigh = c.High
		}
		if c.Low < lv.SwingLow {
			lv.SwingLow = c.Low
		}
	}
	diff := lv.SwingHigh - lv.SwingLow
	lv.Fib382 = lv.SwingHigh - diff*0.382
	lv.Fib50 = lv.SwingHigh - diff*0.5
	lv.Fib618 = lv.SwingHigh - diff*0.618

	return lv
}

// breakoutBuffer is the fraction of the reference level the price must
// clear before a break counts (0.2%).
const breakoutBuffer = 0.002

// ConfirmBreakout reports whether price has cleared level in the given
// direction by the confirmation buffer. An unconfirmed break is pending,
// not failed: the caller may re-check on a later tick.
func ConfirmBreakout(price, level float64, trend Trend) (bool, string) {
	buffer := level * breakoutBuffer

	switch trend {
	case TrendBearish:
		if price < level-buffer {
			return true, fmt.Sprintf("breakdown confirmed: %.0f < %.0f", price, level)
		}
	default:
		// Bullish bias is the default for call entries.
		if price > level+buffer {
			return true, fmt.Sprintf("breakout confirmed: %.0f > %.0f", price, level)
		}
	}
	return false, "waiting for clear break (0.2% buffer)"
}
