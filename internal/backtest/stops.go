package backtest

import (
	"math"

	"nanobook/internal/types"
)

// StopReason identifies which configured stop flattened a position.
type StopReason string

const (
	ReasonFixed    StopReason = "fixed"
	ReasonTrailing StopReason = "trailing"
	ReasonATR      StopReason = "atr"
)

// stopPriority breaks trigger-price ties: trailing beats fixed beats atr.
var stopPriority = map[StopReason]int{
	ReasonTrailing: 0,
	ReasonFixed:    1,
	ReasonATR:      2,
}

// ATRStopConfig trails by a multiple of the average true range of the
// position's price history.
type ATRStopConfig struct {
	Multiplier float64
	Period     int
}

// StopConfig enables the per-position stop rules. Zero values disable a
// rule; unknown keys at the config-file layer are simply never mapped here.
type StopConfig struct {
	FixedStopPct    float64
	TrailingStopPct float64
	ATRStop         *ATRStopConfig
}

func (c *StopConfig) enabled() bool {
	return c != nil && (c.FixedStopPct > 0 || c.TrailingStopPct > 0 || c.ATRStop != nil)
}

// StopEvent records one stop firing. Prices are integer cents; the
// trigger is rounded to the nearest cent for reporting.
type StopEvent struct {
	Symbol       string
	PeriodIndex  int
	Reason       StopReason
	TriggerPrice types.Price
	ExitPrice    types.Price
}

// lifecycle tracks one maximal run of nonzero holding in a symbol. A stop
// fires at most once per lifecycle; reopening the symbol later starts a
// fresh lifecycle with a fresh entry price.
type lifecycle struct {
	entry  float64
	peak   float64
	prices []float64 // price history for the ATR rule
}

func newLifecycle(entry float64) *lifecycle {
	return &lifecycle{entry: entry, peak: entry, prices: []float64{entry}}
}

// observe folds the period price into the trailing state before triggers
// are evaluated. The peak only ratchets upward.
func (lc *lifecycle) observe(price float64) {
	if price > lc.peak {
		lc.peak = price
	}
	lc.prices = append(lc.prices, price)
}

type firedStop struct {
	reason  StopReason
	trigger float64
}

// check returns every configured stop whose trigger the price breaches
// this period.
func (lc *lifecycle) check(cfg *StopConfig, price float64) []firedStop {
	var fired []firedStop
	if cfg.TrailingStopPct > 0 {
		trig := lc.peak * (1 - cfg.TrailingStopPct)
		if price <= trig {
			fired = append(fired, firedStop{ReasonTrailing, trig})
		}
	}
	if cfg.FixedStopPct > 0 {
		trig := lc.entry * (1 - cfg.FixedStopPct)
		if price <= trig {
			fired = append(fired, firedStop{ReasonFixed, trig})
		}
	}
	if cfg.ATRStop != nil && cfg.ATRStop.Period > 0 {
		if atr, ok := closeATR(lc.prices, cfg.ATRStop.Period); ok {
			trig := lc.peak - atr*cfg.ATRStop.Multiplier
			if price <= trig {
				fired = append(fired, firedStop{ReasonATR, trig})
			}
		}
	}
	return fired
}

// tightest picks the stop that breached first as price fell: the highest
// trigger, with the reason priority breaking exact ties.
func tightest(fired []firedStop) firedStop {
	best := fired[0]
	for _, f := range fired[1:] {
		if f.trigger > best.trigger ||
			(f.trigger == best.trigger && stopPriority[f.reason] < stopPriority[best.reason]) {
			best = f
		}
	}
	return best
}

// closeATR is the Wilder average true range of a close-only series, where
// each true range collapses to the absolute move.
func closeATR(prices []float64, period int) (float64, bool) {
	if len(prices) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += math.Abs(prices[i] - prices[i-1])
	}
	atr := sum / float64(period)
	for i := period + 1; i < len(prices); i++ {
		tr := math.Abs(prices[i] - prices[i-1])
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, true
}
