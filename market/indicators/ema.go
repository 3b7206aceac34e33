// Package indicators holds the streaming indicators used for trend
// classification. Each indicator is fed one close at a time and reports
// readiness once its warmup window has passed.
package indicators

import "fmt"

// EMA computes an Exponential Moving Average over closes.
type EMA struct {
	n     int
	alpha float64

	seen  int
	value float64
	ready bool

	name string
}

func NewEMA(period int) *EMA {
	if period <= 0 {
		panic("EMA period must be > 0")
	}
	return &EMA{
		n:     period,
		alpha: 2.0 / float64(period+1),
		name:  fmt.Sprintf("EMA(%d)", period),
	}
}

func (e *EMA) Name() string  { return e.name }
func (e *EMA) Warmup() int   { return e.n }
func (e *EMA) Ready() bool   { return e.ready }
func (e *EMA) Value() float64 { return e.value }

func (e *EMA) Reset() {
	e.seen = 0
	e.value = 0
	e.ready = false
}

func (e *EMA) Update(close float64) {
	e.seen++
	if e.seen == 1 {
		// Seed with the first close (simple, deterministic).
		e.value = close
	} else {
		e.value = e.alpha*close + (1.0-e.alpha)*e.value
	}

	if e.seen >= e.n {
		e.ready = true
	}
}
