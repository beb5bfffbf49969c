// Package risk implements pre-trade checks: per-order value caps, position
// concentration caps and batch-level exposure caps. Checks never block by
// themselves; they produce a report the caller acts on.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nanobook/internal/types"
)

type Status string

const (
	Pass Status = "PASS"
	Fail Status = "FAIL"
)

// Check is one line of a risk report.
type Check struct {
	Name   string
	Status Status
	Detail string
}

// Order is a proposed order for batch checking.
type Order struct {
	Symbol   string
	Side     types.Side
	Quantity types.Quantity
	Price    types.Price
}

// Position is an existing holding used for concentration checks.
type Position struct {
	Symbol     string
	ValueCents int64
}

// TargetWeight is one entry of the allocation a batch steers toward.
type TargetWeight struct {
	Symbol string
	Weight float64
}

// Engine evaluates orders against configured caps. Zero-valued caps are
// treated as unlimited.
type Engine struct {
	MaxOrderValueCents int64
	MaxPositionPct     float64
	MaxBatchValueCents int64

	lg zerolog.Logger
}

func NewEngine(maxOrderValue int64, maxPositionPct float64, maxBatchValue int64) *Engine {
	return &Engine{
		MaxOrderValueCents: maxOrderValue,
		MaxPositionPct:     maxPositionPct,
		MaxBatchValueCents: maxBatchValue,
		lg:                 log.With().Str("component", "risk").Logger(),
	}
}

func status(ok bool) Status {
	if ok {
		return Pass
	}
	return Fail
}

// CheckOrder reports every single-order check with its PASS/FAIL status.
func (e *Engine) CheckOrder(symbol string, side types.Side, qty types.Quantity, price types.Price, equityCents int64, positions []Position) []Check {
	value := int64(qty) * price
	var out []Check

	if e.MaxOrderValueCents > 0 {
		out = append(out, Check{
			Name:   "Max order value",
			Status: status(value <= e.MaxOrderValueCents),
			Detail: fmt.Sprintf("order value %d, cap %d", value, e.MaxOrderValueCents),
		})
	}
	if e.MaxPositionPct > 0 && equityCents > 0 {
		current := int64(0)
		for _, p := range positions {
			if p.Symbol == symbol {
				current += p.ValueCents
			}
		}
		resulting := current
		if side == types.Buy {
			resulting += value
		} else {
			resulting -= value
		}
		pct := math.Abs(float64(resulting)) / float64(equityCents)
		out = append(out, Check{
			Name:   "Max position pct",
			Status: status(pct <= e.MaxPositionPct),
			Detail: fmt.Sprintf("position %.4f of equity, cap %.4f", pct, e.MaxPositionPct),
		})
	}

	for _, c := range out {
		if c.Status == Fail {
			e.lg.Warn().Str("symbol", symbol).Str("check", c.Name).Str("detail", c.Detail).Msg("risk check failed")
		}
	}
	return out
}

// CheckBatch reports breaches across a proposed order batch: the combined
// batch value cap, any individual order over the order-value cap, and a
// sanity check that the target weights form a sensible allocation. Value
// caps appear in the report only when breached.
func (e *Engine) CheckBatch(orders []Order, equityCents int64, positions []Position, targetWeights []TargetWeight) []Check {
	var out []Check

	var batchValue int64
	for _, o := range orders {
		batchValue += int64(o.Quantity) * o.Price
	}
	if e.MaxBatchValueCents > 0 && batchValue > e.MaxBatchValueCents {
		out = append(out, Check{
			Name:   "Max batch value",
			Status: Fail,
			Detail: fmt.Sprintf("batch value %d, cap %d", batchValue, e.MaxBatchValueCents),
		})
	}
	if e.MaxOrderValueCents > 0 {
		for _, o := range orders {
			if v := int64(o.Quantity) * o.Price; v > e.MaxOrderValueCents {
				out = append(out, Check{
					Name:   "Max order value",
					Status: Fail,
					Detail: fmt.Sprintf("%s order value %d, cap %d", o.Symbol, v, e.MaxOrderValueCents),
				})
			}
		}
	}

	if e.MaxPositionPct > 0 && equityCents > 0 {
		current := make(map[string]int64, len(positions))
		for _, p := range positions {
			current[p.Symbol] += p.ValueCents
		}
		for _, o := range orders {
			v := int64(o.Quantity) * o.Price
			if o.Side == types.Buy {
				current[o.Symbol] += v
			} else {
				current[o.Symbol] -= v
			}
		}
		for _, tw := range targetWeights {
			pct := math.Abs(float64(current[tw.Symbol])) / float64(equityCents)
			if pct > e.MaxPositionPct {
				out = append(out, Check{
					Name:   "Max position pct",
					Status: Fail,
					Detail: fmt.Sprintf("%s position %.4f of equity, cap %.4f", tw.Symbol, pct, e.MaxPositionPct),
				})
			}
		}
	}

	var weightSum float64
	for _, tw := range targetWeights {
		weightSum += tw.Weight
	}
	out = append(out, Check{
		Name:   "Target weight sum",
		Status: status(weightSum <= 1+1e-9),
		Detail: fmt.Sprintf("weights sum to %.6f", weightSum),
	})
	return out
}
