package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReturnsFromCloses(t *testing.T) {
	assert.Nil(t, returnsFromCloses(nil))
	assert.Nil(t, returnsFromCloses([]float64{100}))

	rets := returnsFromCloses([]float64{100, 110, 99})
	assert.InDelta(t, 0.10, rets[0], 1e-9)
	assert.InDelta(t, -0.10, rets[1], 1e-9)

	// A zero close cannot produce a return; the observation is dropped.
	rets = returnsFromCloses([]float64{100, 0, 50})
	assert.Len(t, rets, 1)
}

func TestCorrelation(t *testing.T) {
	a := []float64{0.01, -0.02, 0.03, -0.01, 0.02}

	assert.InDelta(t, 1.0, correlation(a, a), 1e-9)

	inverted := make([]float64, len(a))
	for i, v := range a {
		inverted[i] = -v
	}
	assert.InDelta(t, -1.0, correlation(a, inverted), 1e-9)

	flat := []float64{0.01, 0.01, 0.01, 0.01, 0.01}
	assert.Zero(t, correlation(a, flat))

	assert.Zero(t, correlation(a, []float64{0.01}))
}

func TestCorrelationAlignsOnRecentTail(t *testing.T) {
	long := []float64{0.5, -0.5, 0.01, -0.02, 0.03}
	short := []float64{0.01, -0.02, 0.03}

	// The noisy head of the longer series is outside the overlap and must not
	// influence the result.
	assert.InDelta(t, 1.0, correlation(long, short), 1e-9)
}

func TestCovarianceMatrixSymmetric(t *testing.T) {
	series := [][]float64{
		{0.01, -0.02, 0.03, -0.01},
		{0.02, -0.01, 0.01, 0.00},
	}
	cov := covarianceMatrix(series)

	assert.Equal(t, cov[0][1], cov[1][0])
	assert.Greater(t, cov[0][0], 0.0)
	assert.Greater(t, cov[1][1], 0.0)
}

func TestTrueRangeVolatility(t *testing.T) {
	// Constant 4% daily range around a flat close.
	closes := []float64{100, 100, 100, 100, 100}
	highs := []float64{102, 102, 102, 102, 102}
	lows := []float64{98, 98, 98, 98, 98}

	assert.InDelta(t, 0.04, trueRangeVolatility(closes, highs, lows, 14), 1e-9)
}

func TestTrueRangeVolatilityUsesGaps(t *testing.T) {
	// The second candle gaps far above the prior close; the true range must
	// pick up the gap, not just the candle's own high-low span.
	closes := []float64{100, 120}
	highs := []float64{101, 121}
	lows := []float64{99, 119}

	// true range = |121 - 100| = 21, normalized by the last close.
	assert.InDelta(t, 21.0/120.0, trueRangeVolatility(closes, highs, lows, 14), 1e-9)
}

func TestTrueRangeVolatilityDegenerate(t *testing.T) {
	assert.Zero(t, trueRangeVolatility(nil, nil, nil, 14))
	assert.Zero(t, trueRangeVolatility([]float64{100}, []float64{101}, []float64{99}, 14))
	assert.Zero(t, trueRangeVolatility([]float64{100, 101}, []float64{102}, []float64{99, 100}, 14))
}
