package planner

import "math"

const (
	optimizerIterations = 500
	optimizerStep       = 0.05
)

// optimizeWeights maximizes the portfolio Sharpe ratio mu'w / sqrt(w'Cw)
// by projected gradient ascent, with weights constrained to the simplex
// (each in [0,1], summing to 1). Starts from the equal-weight portfolio.
// Degenerate inputs (no variance anywhere) keep the equal-weight start.
func optimizeWeights(mu []float64, cov [][]float64) []float64 {
	n := len(mu)
	if n == 0 {
		return nil
	}

	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	if n == 1 {
		return w
	}

	grad := make([]float64, n)
	for iter := 0; iter < optimizerIterations; iter++ {
		ret := dot(mu, w)
		variance := quadForm(cov, w)
		vol := math.Sqrt(variance)
		if vol < 1e-12 {
			return w
		}

		// d/dw (mu'w / vol) = mu/vol - (mu'w) (Cw) / vol^3
		cw := matVec(cov, w)
		for i := 0; i < n; i++ {
			grad[i] = mu[i]/vol - ret*cw[i]/(vol*variance)
		}

		for i := 0; i < n; i++ {
			w[i] += optimizerStep * grad[i]
		}
		projectSimplex(w)
	}
	return w
}

// projectSimplex projects w onto {w : w_i >= 0, sum w_i = 1} in place using
// the sort-free iterative clamp-and-renormalize scheme.
func projectSimplex(w []float64) {
	n := len(w)
	for pass := 0; pass < n; pass++ {
		var sum float64
		active := 0
		for _, v := range w {
			if v > 0 {
				sum += v
				active++
			}
		}
		if active == 0 {
			for i := range w {
				w[i] = 1 / float64(n)
			}
			return
		}

		shift := (sum - 1) / float64(active)
		clamped := false
		for i := range w {
			if w[i] <= 0 {
				w[i] = 0
				continue
			}
			w[i] -= shift
			if w[i] < 0 {
				w[i] = 0
				clamped = true
			}
		}
		if !clamped {
			return
		}
	}
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func matVec(m [][]float64, v []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		out[i] = dot(row, v)
	}
	return out
}

func quadForm(m [][]float64, v []float64) float64 {
	var sum float64
	for i, row := range m {
		sum += v[i] * dot(row, v)
	}
	return sum
}
