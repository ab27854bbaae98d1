package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertOnSimplex(t *testing.T, w []float64) {
	t.Helper()
	var sum float64
	for _, v := range w {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0+1e-9)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestOptimizeWeightsStaysOnSimplex(t *testing.T) {
	mu := []float64{0.001, 0.002, 0.0005}
	cov := [][]float64{
		{0.0004, 0.0001, 0.0000},
		{0.0001, 0.0009, 0.0001},
		{0.0000, 0.0001, 0.0001},
	}

	w := optimizeWeights(mu, cov)
	require.Len(t, w, 3)
	assertOnSimplex(t, w)
}

func TestOptimizeWeightsPrefersBetterSharpe(t *testing.T) {
	// Same variance, twice the expected return: the second asset must end up
	// with the larger weight.
	mu := []float64{0.001, 0.002}
	cov := [][]float64{
		{0.0004, 0.0},
		{0.0, 0.0004},
	}

	w := optimizeWeights(mu, cov)
	require.Len(t, w, 2)
	assertOnSimplex(t, w)
	assert.Greater(t, w[1], w[0])
}

func TestOptimizeWeightsDegenerate(t *testing.T) {
	assert.Nil(t, optimizeWeights(nil, nil))

	w := optimizeWeights([]float64{0.01}, [][]float64{{0.0004}})
	require.Equal(t, []float64{1.0}, w)

	// Zero covariance everywhere keeps the equal-weight start.
	w = optimizeWeights([]float64{0.01, 0.02}, [][]float64{{0, 0}, {0, 0}})
	require.Len(t, w, 2)
	assert.Equal(t, 0.5, w[0])
	assert.Equal(t, 0.5, w[1])
}

func TestProjectSimplex(t *testing.T) {
	w := []float64{0.5, 0.7, 0.3}
	projectSimplex(w)
	assertOnSimplex(t, w)

	// Already feasible input is preserved.
	w = []float64{0.25, 0.75}
	projectSimplex(w)
	assert.InDelta(t, 0.25, w[0], 1e-9)
	assert.InDelta(t, 0.75, w[1], 1e-9)

	// All-negative input resets to equal weights.
	w = []float64{-1, -2}
	projectSimplex(w)
	assert.Equal(t, []float64{0.5, 0.5}, w)
}
