// Package backtest simulates a weight schedule against a price schedule,
// tracking per-symbol holdings, trading costs and the stop-loss state
// machine. A single run is strictly sequential; all reductions accumulate
// in schedule order so repeated runs are bit-identical.
package backtest

import (
	"errors"

	"github.com/rs/zerolog/log"

	"nanobook/internal/metrics"
	"nanobook/internal/types"
)

var (
	ErrScheduleMismatch = errors.New("backtest: weight and price schedules differ in length")
	ErrEmptySchedule    = errors.New("backtest: empty schedule")
	ErrBadCash          = errors.New("backtest: initial cash must be positive")
)

// SymbolWeight is one target allocation within a period.
type SymbolWeight struct {
	Symbol string
	Weight float64
}

// SymbolPrice is one symbol's price (cents) within a period.
type SymbolPrice struct {
	Symbol string
	Price  types.Price
}

// Position is a holding snapshot entry.
type Position struct {
	Symbol   string
	Quantity float64
}

// SymbolReturn is one symbol's simple return over a period.
type SymbolReturn struct {
	Symbol string
	Return float64
}

// Config drives one backtest run.
type Config struct {
	InitialCash    float64 // cents
	CostBps        float64
	PeriodsPerYear float64
	RiskFree       float64
	Stops          *StopConfig
}

// Result is the full simulation output.
type Result struct {
	EquityCurve   []float64
	Returns       []float64
	Holdings      [][]Position
	SymbolReturns [][]SymbolReturn
	StopEvents    []StopEvent
	Metrics       metrics.Metrics
}

type position struct {
	qty float64
	lc  *lifecycle
}

// Run simulates the weight schedule over the parallel price schedule.
// Each period: revalue, evaluate stops (flattening breached symbols at the
// period price and excluding them from this period's rebalance), rebalance
// the surviving equity toward the period's targets, then record state.
func Run(weights [][]SymbolWeight, prices [][]SymbolPrice, cfg Config) (*Result, error) {
	if len(weights) != len(prices) {
		return nil, ErrScheduleMismatch
	}
	if len(weights) == 0 {
		return nil, ErrEmptySchedule
	}
	if cfg.InitialCash <= 0 {
		return nil, ErrBadCash
	}
	periods := len(weights)

	res := &Result{
		EquityCurve:   make([]float64, 0, periods),
		Returns:       make([]float64, 0, periods),
		Holdings:      make([][]Position, 0, periods),
		SymbolReturns: make([][]SymbolReturn, 0, periods),
		StopEvents:    []StopEvent{},
	}

	cash := cfg.InitialCash
	positions := make(map[string]*position)
	prevPrice := make(map[string]float64)
	// symbol order of first appearance keeps snapshots deterministic
	var order []string
	seen := make(map[string]bool)

	note := func(sym string) {
		if !seen[sym] {
			seen[sym] = true
			order = append(order, sym)
		}
	}

	for t := 0; t < periods; t++ {
		priceOf := make(map[string]float64, len(prices[t]))
		for _, sp := range prices[t] {
			note(sp.Symbol)
			priceOf[sp.Symbol] = float64(sp.Price)
		}

		// Per-symbol returns against the previous period's prices.
		var symReturns []SymbolReturn
		if t > 0 {
			for _, sym := range order {
				p, ok := priceOf[sym]
				prev, okPrev := prevPrice[sym]
				if ok && okPrev && prev != 0 {
					symReturns = append(symReturns, SymbolReturn{Symbol: sym, Return: p/prev - 1})
				}
			}
		}

		// Stop evaluation on open positions at the period price.
		stopped := make(map[string]bool)
		if cfg.Stops.enabled() {
			for _, sym := range order {
				pos, ok := positions[sym]
				if !ok || pos.qty == 0 {
					continue
				}
				price, havePrice := priceOf[sym]
				if !havePrice {
					continue
				}
				pos.lc.observe(price)
				fired := pos.lc.check(cfg.Stops, price)
				if len(fired) == 0 {
					continue
				}
				hit := tightest(fired)
				res.StopEvents = append(res.StopEvents, StopEvent{
					Symbol:       sym,
					PeriodIndex:  t,
					Reason:       hit.reason,
					TriggerPrice: roundPrice(hit.trigger),
					ExitPrice:    roundPrice(price),
				})
				// Flatten at the exit price and end the lifecycle.
				cash += pos.qty * price
				delete(positions, sym)
				stopped[sym] = true
				log.Debug().
					Str("component", "backtest").
					Str("symbol", sym).
					Int("period", t).
					Str("reason", string(hit.reason)).
					Msg("stop fired")
			}
		}

		// Mark equity before rebalancing. Iterate the stable symbol order:
		// float accumulation order is part of the determinism contract.
		equity := cash
		for _, sym := range order {
			pos, ok := positions[sym]
			if !ok {
				continue
			}
			if p, okP := priceOf[sym]; okP {
				equity += pos.qty * p
			} else if prev, okPrev := prevPrice[sym]; okPrev {
				equity += pos.qty * prev
			}
		}

		// Rebalance toward the period targets; stopped symbols sit out.
		var cost float64
		targets := make(map[string]float64, len(weights[t]))
		for _, sw := range weights[t] {
			note(sw.Symbol)
			if stopped[sw.Symbol] {
				continue
			}
			targets[sw.Symbol] = sw.Weight
		}
		for _, sym := range order {
			target, wanted := targets[sym]
			pos, held := positions[sym]
			price, havePrice := priceOf[sym]
			if !havePrice {
				continue
			}
			currentValue := 0.0
			if held {
				currentValue = pos.qty * price
			}
			targetValue := 0.0
			if wanted {
				targetValue = equity * target
			}
			notional := targetValue - currentValue
			if notional == 0 {
				continue
			}
			cost += abs(notional) * cfg.CostBps / 10000
			cash -= notional
			switch {
			case targetValue == 0:
				delete(positions, sym)
			case held && pos.qty != 0:
				pos.qty = targetValue / price
			default:
				positions[sym] = &position{qty: targetValue / price, lc: newLifecycle(price)}
			}
		}
		cash -= cost

		// Snapshot.
		equityNow := cash
		var snap []Position
		for _, sym := range order {
			pos, ok := positions[sym]
			if !ok || pos.qty == 0 {
				continue
			}
			if p, okP := priceOf[sym]; okP {
				equityNow += pos.qty * p
			}
			snap = append(snap, Position{Symbol: sym, Quantity: pos.qty})
		}
		if snap == nil {
			snap = []Position{}
		}
		if symReturns == nil {
			symReturns = []SymbolReturn{}
		}
		res.Holdings = append(res.Holdings, snap)
		res.SymbolReturns = append(res.SymbolReturns, symReturns)
		res.EquityCurve = append(res.EquityCurve, equityNow)
		if t == 0 {
			res.Returns = append(res.Returns, 0)
		} else {
			prev := res.EquityCurve[t-1]
			if prev != 0 {
				res.Returns = append(res.Returns, equityNow/prev-1)
			} else {
				res.Returns = append(res.Returns, 0)
			}
		}

		for sym, p := range priceOf {
			prevPrice[sym] = p
		}
	}

	ppy := cfg.PeriodsPerYear
	if ppy <= 0 {
		ppy = 252
	}
	res.Metrics = metrics.Compute(res.Returns, ppy, cfg.RiskFree)
	return res, nil
}

func roundPrice(v float64) types.Price {
	if v >= 0 {
		return types.Price(v + 0.5)
	}
	return types.Price(v - 0.5)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
