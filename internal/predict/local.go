// Package predict provides a local fallback implementation of the
// prediction oracle. It classifies the market regime from a rolling window
// of observed closes; a real model service can replace it behind the same
// interface.
package predict

import (
	"math"
	"sync"
	"time"

	"github.com/quantfold/crossarb/internal/domain"
)

const (
	windowSize = 30

	// trendBand is the fractional distance from the window mean inside
	// which the market counts as sideways.
	trendBand = 0.01
)

// LocalPredictor is a momentum-based regime classifier. It keeps one rolling
// close window per symbol, fed through Predict.
type LocalPredictor struct {
	mu      sync.Mutex
	windows map[string][]float64
}

// NewLocalPredictor creates an empty LocalPredictor.
func NewLocalPredictor() *LocalPredictor {
	return &LocalPredictor{windows: make(map[string][]float64)}
}

// Predict folds the candle into the symbol's window and scores it. With too
// little history the answer is a low-confidence hold in a sideways regime.
func (p *LocalPredictor) Predict(candle domain.Candle) (domain.Prediction, error) {
	p.mu.Lock()
	w := append(p.windows[candle.Symbol], candle.Close)
	if len(w) > windowSize {
		w = w[len(w)-windowSize:]
	}
	p.windows[candle.Symbol] = w
	p.mu.Unlock()

	pred := domain.Prediction{
		Action:     domain.ActionHold,
		Confidence: 0.2,
		Regime:     domain.RegimeSideways,
		At:         time.Now().UTC(),
	}
	if len(w) < 5 {
		return pred, nil
	}

	var sum float64
	for _, c := range w {
		sum += c
	}
	mean := sum / float64(len(w))
	if mean == 0 {
		return pred, nil
	}

	// Deviation of the latest close from the window mean drives both the
	// regime call and the confidence.
	drift := (w[len(w)-1] - mean) / mean
	switch {
	case drift > trendBand:
		pred.Regime = domain.RegimeBull
		pred.Action = domain.ActionBuy
	case drift < -trendBand:
		pred.Regime = domain.RegimeBear
		pred.Action = domain.ActionSell
	}

	pred.Confidence = math.Min(0.9, 0.2+math.Abs(drift)*10)
	return pred, nil
}
