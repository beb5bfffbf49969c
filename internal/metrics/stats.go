package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Spearman returns the rank correlation of x and y with average-rank tie
// handling, and the two-sided p-value from a t distribution with n-2
// degrees of freedom.
func Spearman(x, y []float64) (rho, p float64) {
	n := len(x)
	if n != len(y) || n < 2 {
		return math.NaN(), math.NaN()
	}
	rx := averageRanks(x)
	ry := averageRanks(y)

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += rx[i]
		sumY += ry[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)
	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := rx[i] - meanX
		dy := ry[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return math.NaN(), math.NaN()
	}
	rho = cov / math.Sqrt(varX*varY)

	if n <= 2 {
		return rho, math.NaN()
	}
	if rho >= 1 || rho <= -1 {
		return rho, 0
	}
	df := float64(n - 2)
	t := rho * math.Sqrt(df/(1-rho*rho))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p = 2 * dist.Survival(math.Abs(t))
	return rho, p
}

// averageRanks assigns 1-based ranks, sharing the average rank across ties.
func averageRanks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] < values[idx[b]]
	})
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j+2) / 2 // mean of 1-based positions i+1..j+1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// QuintileSpread sorts observations by score, partitions them into k bins
// (the remainder is handed out from the middle bin outward), and returns the mean
// return of the top bin minus the mean return of the bottom bin.
func QuintileSpread(scores, returns []float64, k int) float64 {
	n := len(scores)
	if n != len(returns) || k < 2 || n < k {
		return math.NaN()
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] < scores[idx[b]]
	})

	sizes := binSizes(n, k)
	var bottomSum, topSum float64
	for i := 0; i < sizes[0]; i++ {
		bottomSum += returns[idx[i]]
	}
	topStart := n - sizes[k-1]
	for i := topStart; i < n; i++ {
		topSum += returns[idx[i]]
	}
	return topSum/float64(sizes[k-1]) - bottomSum/float64(sizes[0])
}

// binSizes splits n into k bins of n/k, handing the remainder out one slot
// at a time from the middle bin k/2 outward (k/2, then k/2-1 and k/2+1, …).
// An outer bin gains a slot only when the remainder reaches it.
func binSizes(n, k int) []int {
	sizes := make([]int, k)
	for i := range sizes {
		sizes[i] = n / k
	}
	rem := n % k
	mid := k / 2
	for off := 0; rem > 0; off++ {
		cands := []int{mid}
		if off > 0 {
			cands = []int{mid - off, mid + off}
		}
		for _, i := range cands {
			if rem > 0 && i >= 0 && i < k {
				sizes[i]++
				rem--
			}
		}
	}
	return sizes
}

// Fold is one cross-validation split: an expanding train range followed by
// a fixed-size test range.
type Fold struct {
	Train []int
	Test  []int
}

// TimeSeriesSplit produces k expanding-window folds over n samples with
// test size n/(k+1). Any remainder stays in the first fold's training
// range, matching the usual scikit-learn integer arithmetic.
func TimeSeriesSplit(n, k int) []Fold {
	if k < 1 || n < k+1 {
		return nil
	}
	testSize := n / (k + 1)
	if testSize == 0 {
		return nil
	}
	folds := make([]Fold, 0, k)
	for i := 0; i < k; i++ {
		testStart := n - (k-i)*testSize
		train := make([]int, testStart)
		for j := range train {
			train[j] = j
		}
		test := make([]int, testSize)
		for j := range test {
			test[j] = testStart + j
		}
		folds = append(folds, Fold{Train: train, Test: test})
	}
	return folds
}
