// Package portfolio holds the long-only weight optimizers and the GARCH
// volatility forecaster. Every routine is deterministic and seed free:
// identical inputs produce bit-identical outputs, so reductions keep a
// fixed accumulation order and iteration budgets are constants.
package portfolio

import (
	"errors"
	"math"
)

var (
	ErrDimension = errors.New("portfolio: returns/symbols dimension mismatch")
	ErrTooShort  = errors.New("portfolio: need at least two return periods")
	ErrNumeric   = errors.New("portfolio: numeric failure")
)

// Weights is a symbol to simplex-weight mapping: entries are non-negative
// and sum to one.
type Weights map[string]float64

const (
	minVarIters = 295
	minVarStep  = 0.12230000873281202 // locked against the reference min-variance fixture

	maxSharpeIters = 2000
	maxSharpeStep  = 0.05
)

func checkInput(returns [][]float64, symbols []string) (t, n int, err error) {
	n = len(symbols)
	t = len(returns)
	if n == 0 || t == 0 {
		return 0, 0, ErrDimension
	}
	if t < 2 {
		return 0, 0, ErrTooShort
	}
	for _, row := range returns {
		if len(row) != n {
			return 0, 0, ErrDimension
		}
	}
	return t, n, nil
}

// covariance is the population covariance of the T×N returns matrix,
// accumulated in period order.
func covariance(returns [][]float64, t, n int) (mu []float64, sigma [][]float64) {
	mu = make([]float64, n)
	for i := 0; i < n; i++ {
		s := 0.0
		for k := 0; k < t; k++ {
			s += returns[k][i]
		}
		mu[i] = s / float64(t)
	}
	sigma = make([][]float64, n)
	for i := 0; i < n; i++ {
		sigma[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			s := 0.0
			for k := 0; k < t; k++ {
				s += (returns[k][i] - mu[i]) * (returns[k][j] - mu[j])
			}
			sigma[i][j] = s / float64(t)
		}
	}
	return mu, sigma
}

// project clips negative coordinates and renormalizes onto the simplex.
func project(w []float64) bool {
	for i := range w {
		if w[i] < 0 {
			w[i] = 0
		}
	}
	s := 0.0
	for i := range w {
		s += w[i]
	}
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return false
	}
	for i := range w {
		w[i] /= s
	}
	return true
}

func toWeights(w []float64, symbols []string) (Weights, error) {
	out := make(Weights, len(symbols))
	for i, sym := range symbols {
		if math.IsNaN(w[i]) || math.IsInf(w[i], 0) {
			return nil, ErrNumeric
		}
		out[sym] = w[i]
	}
	return out, nil
}

// MinVariance minimizes portfolio variance on the simplex by projected
// gradient descent from the uniform start with a fixed iteration budget.
func MinVariance(returns [][]float64, symbols []string) (Weights, error) {
	t, n, err := checkInput(returns, symbols)
	if err != nil {
		return nil, err
	}
	_, sigma := covariance(returns, t, n)

	w := uniform(n)
	g := make([]float64, n)
	for it := 0; it < minVarIters; it++ {
		for i := 0; i < n; i++ {
			s := 0.0
			for j := 0; j < n; j++ {
				s += sigma[i][j] * w[j]
			}
			g[i] = 2 * s
		}
		for i := 0; i < n; i++ {
			w[i] -= minVarStep * g[i]
		}
		if !project(w) {
			return nil, ErrNumeric
		}
	}
	return toWeights(w, symbols)
}

// MaxSharpe maximizes (μᵀw − rf)/√(wᵀΣw) on the simplex by projected
// gradient ascent with a fixed budget.
func MaxSharpe(returns [][]float64, symbols []string, riskFree float64) (Weights, error) {
	t, n, err := checkInput(returns, symbols)
	if err != nil {
		return nil, err
	}
	mu, sigma := covariance(returns, t, n)

	w := uniform(n)
	sw := make([]float64, n)
	for it := 0; it < maxSharpeIters; it++ {
		var excess float64
		for i := 0; i < n; i++ {
			excess += mu[i] * w[i]
		}
		excess -= riskFree
		var variance float64
		for i := 0; i < n; i++ {
			s := 0.0
			for j := 0; j < n; j++ {
				s += sigma[i][j] * w[j]
			}
			sw[i] = s
			variance += w[i] * s
		}
		if variance <= 0 {
			return nil, ErrNumeric
		}
		vol := math.Sqrt(variance)
		for i := 0; i < n; i++ {
			grad := mu[i]/vol - excess*sw[i]/(variance*vol)
			w[i] += maxSharpeStep * grad
		}
		if !project(w) {
			return nil, ErrNumeric
		}
	}
	return toWeights(w, symbols)
}

// RiskParity equalizes risk contributions wᵢ·(Σw)ᵢ via the Spinu
// formulation: cyclical coordinate descent on the positive orthant
// solving xᵢ(Σx)ᵢ = 1/N, then normalization onto the simplex.
func RiskParity(returns [][]float64, symbols []string) (Weights, error) {
	t, n, err := checkInput(returns, symbols)
	if err != nil {
		return nil, err
	}
	_, sigma := covariance(returns, t, n)
	for i := 0; i < n; i++ {
		if sigma[i][i] <= 0 {
			return nil, ErrNumeric
		}
	}

	x := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = 1 / (math.Sqrt(sigma[i][i]) * float64(n))
	}
	const tol = 1e-14
	for cycle := 0; cycle < 10000; cycle++ {
		delta := 0.0
		for i := 0; i < n; i++ {
			b := 0.0
			for j := 0; j < n; j++ {
				if j != i {
					b += sigma[i][j] * x[j]
				}
			}
			disc := b*b + 4*sigma[i][i]/float64(n)
			xi := (-b + math.Sqrt(disc)) / (2 * sigma[i][i])
			if d := math.Abs(xi - x[i]); d > delta {
				delta = d
			}
			x[i] = xi
		}
		if delta < tol {
			break
		}
	}
	if !project(x) {
		return nil, ErrNumeric
	}
	return toWeights(x, symbols)
}

// tailCount is the number of observations in the (1-alpha) tail, never
// fewer than one.
func tailCount(t int, alpha float64) int {
	k := int(math.Ceil((1 - alpha) * float64(t)))
	if k < 1 {
		k = 1
	}
	if k > t {
		k = t
	}
	return k
}

// CVaR allocates inversely to each asset's conditional value at risk: the
// mean of its worst ⌈(1−α)T⌉ returns. Assets with non-positive tail risk
// degenerate the weighting, in which case allocation is uniform.
func CVaR(returns [][]float64, symbols []string, alpha float64) (Weights, error) {
	t, n, err := checkInput(returns, symbols)
	if err != nil {
		return nil, err
	}
	k := tailCount(t, alpha)
	risks := make([]float64, n)
	col := make([]float64, t)
	for i := 0; i < n; i++ {
		for j := 0; j < t; j++ {
			col[j] = returns[j][i]
		}
		sortAscending(col)
		s := 0.0
		for j := 0; j < k; j++ {
			s += col[j]
		}
		risks[i] = -s / float64(k)
	}
	return inverseRiskWeights(risks, symbols)
}

// CDaR allocates inversely to each asset's conditional drawdown at risk:
// the mean of the worst ⌈(1−α)T⌉ drawdowns of its cumulative return path.
func CDaR(returns [][]float64, symbols []string, alpha float64) (Weights, error) {
	t, n, err := checkInput(returns, symbols)
	if err != nil {
		return nil, err
	}
	k := tailCount(t, alpha)
	risks := make([]float64, n)
	dds := make([]float64, t)
	for i := 0; i < n; i++ {
		cum, peak := 0.0, 0.0
		for j := 0; j < t; j++ {
			cum += returns[j][i]
			if cum > peak {
				peak = cum
			}
			dds[j] = peak - cum
		}
		sortDescending(dds)
		s := 0.0
		for j := 0; j < k; j++ {
			s += dds[j]
		}
		risks[i] = s / float64(k)
	}
	return inverseRiskWeights(risks, symbols)
}

func inverseRiskWeights(risks []float64, symbols []string) (Weights, error) {
	n := len(risks)
	for i := 0; i < n; i++ {
		if risks[i] <= 0 {
			// A riskless tail makes the inverse weighting meaningless.
			out := make(Weights, n)
			for _, sym := range symbols {
				out[sym] = 1 / float64(n)
			}
			return out, nil
		}
	}
	inv := make([]float64, n)
	s := 0.0
	for i := 0; i < n; i++ {
		inv[i] = 1 / risks[i]
		s += inv[i]
	}
	for i := 0; i < n; i++ {
		inv[i] /= s
	}
	return toWeights(inv, symbols)
}

func uniform(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// sortAscending is an insertion sort; the return columns here are short and
// the ordering must be stable and allocation free.
func sortAscending(v []float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}

func sortDescending(v []float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] > v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}
