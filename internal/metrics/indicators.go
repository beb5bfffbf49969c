// Package metrics implements the indicator and performance-statistic
// kernels. Outputs are aligned to input length with leading NaNs over each
// indicator's lookback, and every reduction runs left to right so results
// are bit-identical across runs.
package metrics

import "math"

// SMA returns the n-period simple moving average, aligned to the input.
// Indices before the first full window are NaN.
func SMA(values []float64, n int) []float64 {
	out := nanSlice(len(values))
	if n <= 0 {
		return out
	}
	var sum float64
	for i := range values {
		sum += values[i]
		if i >= n {
			sum -= values[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// RSI returns the n-period relative strength index with Wilder smoothing.
// The seed averages are simple means over the first n gains and losses;
// indices up to and including n-1 are NaN.
func RSI(values []float64, n int) []float64 {
	out := nanSlice(len(values))
	if n <= 0 || len(values) <= n {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)
	out[n] = rsiValue(avgGain, avgLoss)
	for i := n + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	denom := avgGain + avgLoss
	if denom == 0 {
		return 0
	}
	return 100 * (avgGain / denom)
}

// MACD returns the moving average convergence/divergence line, its signal
// line and the histogram. EMAs use alpha = 2/(n+1) and are seeded with a
// simple average so the warm-up matches the standard lookback of
// slow-1 + signal-1.
func MACD(values []float64, fast, slow, signal int) (macd, signalLine, hist []float64) {
	n := len(values)
	macd = nanSlice(n)
	signalLine = nanSlice(n)
	hist = nanSlice(n)
	if fast > slow {
		fast, slow = slow, fast
	}
	if fast <= 0 || signal <= 0 || n < slow+signal-1 {
		return macd, signalLine, hist
	}

	// Both EMAs produce their first value at index slow-1: the slow seed
	// is the mean of the first slow inputs, the fast seed the mean of the
	// fast inputs ending there.
	kFast := 2.0 / float64(fast+1)
	kSlow := 2.0 / float64(slow+1)

	var seed float64
	for i := 0; i < slow; i++ {
		seed += values[i]
	}
	slowEMA := seed / float64(slow)

	seed = 0
	for i := slow - fast; i < slow; i++ {
		seed += values[i]
	}
	fastEMA := seed / float64(fast)

	line := make([]float64, 0, n-slow+1)
	line = append(line, fastEMA-slowEMA)
	for i := slow; i < n; i++ {
		fastEMA = (values[i]-fastEMA)*kFast + fastEMA
		slowEMA = (values[i]-slowEMA)*kSlow + slowEMA
		line = append(line, fastEMA-slowEMA)
	}

	// Signal EMA over the MACD line, seeded the same way.
	kSig := 2.0 / float64(signal+1)
	seed = 0
	for i := 0; i < signal; i++ {
		seed += line[i]
	}
	sig := seed / float64(signal)

	first := slow - 1 + signal - 1
	macd[first] = line[signal-1]
	signalLine[first] = sig
	hist[first] = line[signal-1] - sig
	for i := first + 1; i < n; i++ {
		v := line[i-slow+1]
		sig = (v-sig)*kSig + sig
		macd[i] = v
		signalLine[i] = sig
		hist[i] = v - sig
	}
	return macd, signalLine, hist
}

// BBANDS returns the Bollinger bands: an n-period simple moving average
// with bands at nbdevup and nbdevdn population standard deviations.
func BBANDS(values []float64, n int, nbdevup, nbdevdn float64) (upper, middle, lower []float64) {
	length := len(values)
	upper = nanSlice(length)
	middle = nanSlice(length)
	lower = nanSlice(length)
	if n <= 0 || length < n {
		return upper, middle, lower
	}
	for i := n - 1; i < length; i++ {
		var sum float64
		for j := i - n + 1; j <= i; j++ {
			sum += values[j]
		}
		mean := sum / float64(n)
		var sq float64
		for j := i - n + 1; j <= i; j++ {
			d := values[j] - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(n))
		middle[i] = mean
		upper[i] = mean + nbdevup*std
		lower[i] = mean - nbdevdn*std
	}
	return upper, middle, lower
}

// ATR returns the n-period Wilder-smoothed average true range. True range
// needs a previous close, so the first ATR value lands at index n.
func ATR(high, low, close []float64, n int) []float64 {
	length := len(close)
	out := nanSlice(length)
	if n <= 0 || length <= n || len(high) != length || len(low) != length {
		return out
	}
	tr := func(i int) float64 {
		r := high[i] - low[i]
		if hc := math.Abs(high[i] - close[i-1]); hc > r {
			r = hc
		}
		if lc := math.Abs(low[i] - close[i-1]); lc > r {
			r = lc
		}
		return r
	}
	var sum float64
	for i := 1; i <= n; i++ {
		sum += tr(i)
	}
	atr := sum / float64(n)
	out[n] = atr
	for i := n + 1; i < length; i++ {
		atr = (atr*float64(n-1) + tr(i)) / float64(n)
		out[i] = atr
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
