package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nanobook/internal/types"
)

// --- Helpers ----------------------------------------------------------------

func singleSymbol(sym string, weights []float64, prices []types.Price) ([][]SymbolWeight, [][]SymbolPrice) {
	ws := make([][]SymbolWeight, len(weights))
	ps := make([][]SymbolPrice, len(prices))
	for i := range weights {
		ws[i] = []SymbolWeight{{Symbol: sym, Weight: weights[i]}}
		ps[i] = []SymbolPrice{{Symbol: sym, Price: prices[i]}}
	}
	return ws, ps
}

func cfg(stops *StopConfig) Config {
	return Config{
		InitialCash:    10_000_000,
		CostBps:        0,
		PeriodsPerYear: 252,
		Stops:          stops,
	}
}

// --- Core payload -----------------------------------------------------------

func TestRunBasicPayload(t *testing.T) {
	ws, ps := singleSymbol("AAPL", []float64{1, 1}, []types.Price{10000, 10200})
	res, err := Run(ws, ps, cfg(nil))
	require.NoError(t, err)

	assert.Len(t, res.Holdings, 2)
	assert.Len(t, res.SymbolReturns, 2)
	assert.Len(t, res.EquityCurve, 2)
	assert.Len(t, res.Returns, 2)
	assert.Empty(t, res.StopEvents)

	// Fully invested: the equity tracks the price move.
	assert.InDelta(t, 0.02, res.Returns[1], 1e-12)
	assert.InDelta(t, 10_200_000, res.EquityCurve[1], 1e-6)
	require.Len(t, res.SymbolReturns[1], 1)
	assert.InDelta(t, 0.02, res.SymbolReturns[1][0].Return, 1e-12)
}

func TestRunValidation(t *testing.T) {
	ws, ps := singleSymbol("AAPL", []float64{1}, []types.Price{10000, 10100})
	_, err := Run(ws, ps[:1], cfg(nil))
	assert.NoError(t, err)

	_, err = Run(ws, ps, cfg(nil))
	assert.ErrorIs(t, err, ErrScheduleMismatch)

	_, err = Run(nil, nil, cfg(nil))
	assert.ErrorIs(t, err, ErrEmptySchedule)

	bad := cfg(nil)
	bad.InitialCash = 0
	ws2, ps2 := singleSymbol("AAPL", []float64{1}, []types.Price{10000})
	_, err = Run(ws2, ps2, bad)
	assert.ErrorIs(t, err, ErrBadCash)
}

func TestTradingCostsReduceEquity(t *testing.T) {
	ws, ps := singleSymbol("AAPL", []float64{1, 1}, []types.Price{10000, 10000})
	free, err := Run(ws, ps, cfg(nil))
	require.NoError(t, err)

	costly := cfg(nil)
	costly.CostBps = 10
	paid, err := Run(ws, ps, costly)
	require.NoError(t, err)

	assert.Less(t, paid.EquityCurve[1], free.EquityCurve[1])
	// 10bps on the initial 10,000,000 notional buy.
	assert.InDelta(t, 10_000, free.EquityCurve[0]-paid.EquityCurve[0], 1e-6)
}

// --- Stops ------------------------------------------------------------------

func TestFixedStopFires(t *testing.T) {
	ws, ps := singleSymbol("AAPL", []float64{1, 1}, []types.Price{10000, 8500})
	res, err := Run(ws, ps, cfg(&StopConfig{FixedStopPct: 0.10}))
	require.NoError(t, err)

	require.Len(t, res.StopEvents, 1)
	ev := res.StopEvents[0]
	assert.Equal(t, "AAPL", ev.Symbol)
	assert.Equal(t, 1, ev.PeriodIndex)
	assert.Equal(t, ReasonFixed, ev.Reason)
	assert.Equal(t, types.Price(9000), ev.TriggerPrice)
	assert.Equal(t, types.Price(8500), ev.ExitPrice)
	assert.Empty(t, res.Holdings[1])
}

func TestStopFiresOncePerLifecycle(t *testing.T) {
	ws, ps := singleSymbol("AAPL", []float64{1, 1, 1}, []types.Price{10000, 9000, 8900})
	res, err := Run(ws, ps, cfg(&StopConfig{FixedStopPct: 0.10}))
	require.NoError(t, err)

	// The breach at 9000 flattens the position and it sits out period 1;
	// the lifecycle reopened at 8900 in period 2 has a fresh entry and
	// does not fire.
	require.Len(t, res.StopEvents, 1)
	assert.Equal(t, 1, res.StopEvents[0].PeriodIndex)
	assert.Equal(t, ReasonFixed, res.StopEvents[0].Reason)
}

func TestTightestStopWins(t *testing.T) {
	ws, ps := singleSymbol("AAPL", []float64{1, 1, 1}, []types.Price{10000, 11000, 10300})
	res, err := Run(ws, ps, cfg(&StopConfig{FixedStopPct: 0.10, TrailingStopPct: 0.05}))
	require.NoError(t, err)

	require.Len(t, res.StopEvents, 1)
	ev := res.StopEvents[0]
	assert.Equal(t, ReasonTrailing, ev.Reason)
	assert.Equal(t, types.Price(10450), ev.TriggerPrice)
	assert.Equal(t, 2, ev.PeriodIndex)
}

func TestTrailingPeakNeverFallsBack(t *testing.T) {
	// Peak 11000 holds even after the dip; the trail fires on the second
	// dip against the original peak.
	ws, ps := singleSymbol("AAPL", []float64{1, 1, 1, 1}, []types.Price{10000, 11000, 10600, 10400})
	res, err := Run(ws, ps, cfg(&StopConfig{TrailingStopPct: 0.05}))
	require.NoError(t, err)

	require.Len(t, res.StopEvents, 1)
	assert.Equal(t, 3, res.StopEvents[0].PeriodIndex)
	assert.Equal(t, types.Price(10450), res.StopEvents[0].TriggerPrice)
}

func TestATRStopFires(t *testing.T) {
	// Small moves establish the range; the crash breaches peak - 2*ATR.
	prices := []types.Price{10000, 10050, 10000, 10050, 9000}
	ws, ps := singleSymbol("AAPL", []float64{1, 1, 1, 1, 1}, prices)
	res, err := Run(ws, ps, cfg(&StopConfig{ATRStop: &ATRStopConfig{Multiplier: 2, Period: 3}}))
	require.NoError(t, err)

	require.Len(t, res.StopEvents, 1)
	assert.Equal(t, ReasonATR, res.StopEvents[0].Reason)
	assert.Equal(t, 4, res.StopEvents[0].PeriodIndex)
}

func TestStopExcludedFromRebalanceOnlyThatPeriod(t *testing.T) {
	ws, ps := singleSymbol("AAPL", []float64{1, 1, 1}, []types.Price{10000, 8500, 8600})
	res, err := Run(ws, ps, cfg(&StopConfig{FixedStopPct: 0.10}))
	require.NoError(t, err)

	require.Len(t, res.StopEvents, 1)
	assert.Empty(t, res.Holdings[1], "stopped symbol sits out its stop period")
	require.Len(t, res.Holdings[2], 1, "nonzero weight reopens next period")
	assert.Equal(t, "AAPL", res.Holdings[2][0].Symbol)
}

func TestNoStopsWithoutConfig(t *testing.T) {
	ws, ps := singleSymbol("AAPL", []float64{1, 1}, []types.Price{10000, 5000})
	res, err := Run(ws, ps, cfg(nil))
	require.NoError(t, err)
	assert.Empty(t, res.StopEvents)
	require.Len(t, res.Holdings[1], 1)
}

// --- Multi-symbol -----------------------------------------------------------

func TestMultiSymbolRebalance(t *testing.T) {
	ws := [][]SymbolWeight{
		{{"AAPL", 0.5}, {"MSFT", 0.5}},
		{{"AAPL", 0.5}, {"MSFT", 0.5}},
	}
	ps := [][]SymbolPrice{
		{{"AAPL", 15000}, {"MSFT", 30000}},
		{{"AAPL", 15500}, {"MSFT", 31000}},
	}
	res, err := Run(ws, ps, cfg(nil))
	require.NoError(t, err)

	require.Len(t, res.Holdings[0], 2)
	require.Len(t, res.Holdings[1], 2)
	require.Len(t, res.SymbolReturns[1], 2)
	assert.Greater(t, res.Returns[1], 0.0)
}

func TestStopOnOneSymbolLeavesOthersAlone(t *testing.T) {
	ws := [][]SymbolWeight{
		{{"AAPL", 0.5}, {"MSFT", 0.5}},
		{{"AAPL", 0.5}, {"MSFT", 0.5}},
	}
	ps := [][]SymbolPrice{
		{{"AAPL", 10000}, {"MSFT", 30000}},
		{{"AAPL", 8500}, {"MSFT", 30300}},
	}
	res, err := Run(ws, ps, cfg(&StopConfig{FixedStopPct: 0.10}))
	require.NoError(t, err)

	require.Len(t, res.StopEvents, 1)
	assert.Equal(t, "AAPL", res.StopEvents[0].Symbol)
	require.Len(t, res.Holdings[1], 1)
	assert.Equal(t, "MSFT", res.Holdings[1][0].Symbol)
}

// --- Determinism ------------------------------------------------------------

func TestRunDeterministic(t *testing.T) {
	ws := [][]SymbolWeight{
		{{"AAPL", 0.4}, {"MSFT", 0.6}},
		{{"AAPL", 0.6}, {"MSFT", 0.4}},
		{{"AAPL", 0.5}, {"MSFT", 0.5}},
	}
	ps := [][]SymbolPrice{
		{{"AAPL", 10000}, {"MSFT", 30000}},
		{{"AAPL", 10400}, {"MSFT", 29000}},
		{{"AAPL", 10100}, {"MSFT", 29500}},
	}
	c := cfg(&StopConfig{TrailingStopPct: 0.08})
	c.CostBps = 5

	a, err := Run(ws, ps, c)
	require.NoError(t, err)
	b, err := Run(ws, ps, c)
	require.NoError(t, err)
	assert.Equal(t, a.EquityCurve, b.EquityCurve)
	assert.Equal(t, a.Returns, b.Returns)
	assert.Equal(t, a.Metrics, b.Metrics)
}
