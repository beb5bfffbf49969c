// Package sweep fans independent backtests out across a worker pool. Every
// job is a pure function of its parameter index and the shared, immutable
// price series, so completion order is irrelevant while the result order
// is strict.
package sweep

import (
	"runtime"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"nanobook/internal/backtest"
	"nanobook/internal/metrics"
)

// EqualWeight runs n independent equal-weight backtests over the price
// series and returns their metrics in parameter order. A backtest that
// fails (numeric error or panic) leaves a nil slot without aborting the
// sweep.
func EqualWeight(n int, priceSeries [][]backtest.SymbolPrice, initialCash, periodsPerYear, riskFree float64) []*metrics.Metrics {
	results := make([]*metrics.Metrics, n)
	if n == 0 || len(priceSeries) == 0 {
		return results
	}

	// The schedule is identical for every parameter; build it once and
	// share it read-only with the workers.
	schedule := equalWeightSchedule(priceSeries)
	cfg := backtest.Config{
		InitialCash:    initialCash,
		CostBps:        0,
		PeriodsPerYear: periodsPerYear,
		RiskFree:       riskFree,
	}

	runID := uuid.New().String()
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	log.Info().
		Str("component", "sweep").
		Str("runId", runID).
		Int("params", n).
		Int("workers", workers).
		Int("periods", len(priceSeries)).
		Msg("sweep starting")

	jobs := make(chan int)
	var t tomb.Tomb
	for w := 0; w < workers; w++ {
		t.Go(func() error {
			for idx := range jobs {
				results[idx] = runOne(idx, schedule, priceSeries, cfg)
			}
			return nil
		})
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	if err := t.Wait(); err != nil {
		log.Error().Str("runId", runID).Err(err).Msg("sweep worker error")
	}

	log.Info().Str("component", "sweep").Str("runId", runID).Msg("sweep finished")
	return results
}

// runOne executes a single parameterized backtest, converting panics and
// errors into a nil slot.
func runOne(idx int, schedule [][]backtest.SymbolWeight, prices [][]backtest.SymbolPrice, cfg backtest.Config) (m *metrics.Metrics) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "sweep").Int("param", idx).Any("panic", r).Msg("backtest panicked")
			m = nil
		}
	}()
	res, err := backtest.Run(schedule, prices, cfg)
	if err != nil {
		log.Warn().Str("component", "sweep").Int("param", idx).Err(err).Msg("backtest failed")
		return nil
	}
	out := res.Metrics
	return &out
}

// equalWeightSchedule assigns 1/k to each of the k symbols present in a
// period.
func equalWeightSchedule(prices [][]backtest.SymbolPrice) [][]backtest.SymbolWeight {
	schedule := make([][]backtest.SymbolWeight, len(prices))
	for t, row := range prices {
		if len(row) == 0 {
			schedule[t] = []backtest.SymbolWeight{}
			continue
		}
		w := 1 / float64(len(row))
		period := make([]backtest.SymbolWeight, len(row))
		for i, sp := range row {
			period[i] = backtest.SymbolWeight{Symbol: sp.Symbol, Weight: w}
		}
		schedule[t] = period
	}
	return schedule
}
