package planner

import "math"

// trueRangePeriod is the window for the true-range volatility measure.
const trueRangePeriod = 14

func returnsFromCloses(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var acc float64
	for _, x := range xs {
		d := x - m
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(xs)))
}

// correlation computes Pearson correlation over the overlapping tail of the
// two series. Series of unequal length are aligned on their most recent
// observations.
func correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}

// covarianceMatrix builds the sample covariance matrix over return series
// aligned on their most recent observations.
func covarianceMatrix(series [][]float64) [][]float64 {
	n := len(series)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}

	length := -1
	for _, s := range series {
		if length < 0 || len(s) < length {
			length = len(s)
		}
	}
	if length < 2 {
		return cov
	}

	aligned := make([][]float64, n)
	means := make([]float64, n)
	for i, s := range series {
		aligned[i] = s[len(s)-length:]
		means[i] = mean(aligned[i])
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var acc float64
			for k := 0; k < length; k++ {
				acc += (aligned[i][k] - means[i]) * (aligned[j][k] - means[j])
			}
			c := acc / float64(length)
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return cov
}

// trueRangeVolatility is the average true range over the last period candles,
// normalized by the latest close. Candles must be ordered oldest first.
func trueRangeVolatility(closes, highs, lows []float64, period int) float64 {
	n := len(closes)
	if n < 2 || len(highs) != n || len(lows) != n {
		return 0
	}
	start := n - period
	if start < 1 {
		start = 1
	}

	var sum float64
	count := 0
	for i := start; i < n; i++ {
		tr := highs[i] - lows[i]
		if hc := math.Abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		sum += tr
		count++
	}
	if count == 0 || closes[n-1] == 0 {
		return 0
	}
	return (sum / float64(count)) / closes[n-1]
}
