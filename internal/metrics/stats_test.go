package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Spearman ---------------------------------------------------------------

func TestSpearmanPerfectPositive(t *testing.T) {
	x := make([]float64, 50)
	y := make([]float64, 50)
	for i := range x {
		x[i] = float64(i)
		y[i] = float64(i) * 2
	}
	rho, p := Spearman(x, y)
	assert.InDelta(t, 1, rho, 1e-12)
	assert.Less(t, p, 1e-10)
}

func TestSpearmanPerfectNegative(t *testing.T) {
	x := make([]float64, 50)
	y := make([]float64, 50)
	for i := range x {
		x[i] = float64(i)
		y[i] = float64(49 - i)
	}
	rho, _ := Spearman(x, y)
	assert.InDelta(t, -1, rho, 1e-12)
}

func TestSpearmanTiedValues(t *testing.T) {
	x := []float64{1, 1, 2, 2, 3}
	y := []float64{5, 4, 3, 2, 1}
	rho, p := Spearman(x, y)
	// Ranks of x: {1.5, 1.5, 3.5, 3.5, 5}; Pearson on ranks.
	assert.InDelta(t, -9.0/math.Sqrt(90), rho, 1e-12)
	assert.Greater(t, p, 0.0)
	assert.Less(t, p, 1.0)
}

func TestSpearmanMonotoneTransformInvariant(t *testing.T) {
	x := []float64{0.3, 1.7, 0.1, 4.2, 2.8, 0.9}
	y := []float64{5, 2, 7, 1, 3, 4}
	rho1, _ := Spearman(x, y)
	expX := make([]float64, len(x))
	for i, v := range x {
		expX[i] = math.Exp(v)
	}
	rho2, _ := Spearman(expX, y)
	assert.InDelta(t, rho1, rho2, 1e-12)
}

func TestSpearmanDegenerate(t *testing.T) {
	rho, _ := Spearman([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.True(t, math.IsNaN(rho))

	rho, _ = Spearman([]float64{1}, []float64{1})
	assert.True(t, math.IsNaN(rho))
}

// --- Quintile spread --------------------------------------------------------

func TestQuintileSpreadKnown(t *testing.T) {
	scores := make([]float64, 100)
	returns := make([]float64, 100)
	for i := range scores {
		scores[i] = float64(i)
		returns[i] = float64(i) * 0.001
	}
	got := QuintileSpread(scores, returns, 5)

	var bottom, top float64
	for i := 0; i < 20; i++ {
		bottom += float64(i) * 0.001
	}
	for i := 80; i < 100; i++ {
		top += float64(i) * 0.001
	}
	assert.InDelta(t, top/20-bottom/20, got, 1e-12)
}

func TestQuintileSpreadInverseScoresNegative(t *testing.T) {
	scores := make([]float64, 100)
	returns := make([]float64, 100)
	for i := range scores {
		scores[i] = float64(i)
		returns[i] = float64(99-i) * 0.001
	}
	assert.Less(t, QuintileSpread(scores, returns, 5), 0.0)
}

func TestBinSizesRemainderGoesToMiddle(t *testing.T) {
	assert.Equal(t, []int{20, 20, 20, 20, 20}, binSizes(100, 5))
	// 7 = 5*1 + 2: the extras land on the middle bins, outer bins stay 1.
	sizes := binSizes(7, 5)
	assert.Equal(t, 1, sizes[0])
	assert.Equal(t, 1, sizes[4])
	total := 0
	for _, s := range sizes {
		total += s
	}
	assert.Equal(t, 7, total)
}

// --- Time series split ------------------------------------------------------

func TestTimeSeriesSplitExactIndices(t *testing.T) {
	// n=10, k=3: test size 2, remainder rides in the first train window.
	folds := TimeSeriesSplit(10, 3)
	require.Len(t, folds, 3)

	assert.Equal(t, []int{0, 1, 2, 3}, folds[0].Train)
	assert.Equal(t, []int{4, 5}, folds[0].Test)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, folds[1].Train)
	assert.Equal(t, []int{6, 7}, folds[1].Test)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, folds[2].Train)
	assert.Equal(t, []int{8, 9}, folds[2].Test)
}

func TestTimeSeriesSplitSingleFold(t *testing.T) {
	folds := TimeSeriesSplit(10, 1)
	require.Len(t, folds, 1)
	assert.Len(t, folds[0].Train, 5)
	assert.Equal(t, []int{5, 6, 7, 8, 9}, folds[0].Test)
}

func TestTimeSeriesSplitExpandingWindow(t *testing.T) {
	folds := TimeSeriesSplit(100, 5)
	require.Len(t, folds, 5)
	for i := 1; i < len(folds); i++ {
		assert.Greater(t, len(folds[i].Train), len(folds[i-1].Train))
		assert.Equal(t, len(folds[0].Test), len(folds[i].Test))
	}
	// Contiguity: each test range starts where its train range ends.
	for _, f := range folds {
		require.NotEmpty(t, f.Train)
		assert.Equal(t, f.Train[len(f.Train)-1]+1, f.Test[0])
	}
}

func TestTimeSeriesSplitDegenerate(t *testing.T) {
	assert.Nil(t, TimeSeriesSplit(3, 5))
	assert.Nil(t, TimeSeriesSplit(0, 1))
}
