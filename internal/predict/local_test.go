package predict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/crossarb/internal/domain"
)

func feed(t *testing.T, p *LocalPredictor, symbol string, closes []float64) domain.Prediction {
	t.Helper()
	var pred domain.Prediction
	for _, c := range closes {
		var err error
		pred, err = p.Predict(domain.Candle{
			Symbol:    symbol,
			Close:     c,
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	return pred
}

func TestPredictShortHistoryHolds(t *testing.T) {
	p := NewLocalPredictor()

	pred := feed(t, p, "BTC/USDT", []float64{50_000, 50_100})
	assert.Equal(t, domain.ActionHold, pred.Action)
	assert.Equal(t, domain.RegimeSideways, pred.Regime)
	assert.Equal(t, 0.2, pred.Confidence)
}

func TestPredictUptrendIsBull(t *testing.T) {
	p := NewLocalPredictor()

	pred := feed(t, p, "BTC/USDT", []float64{50_000, 50_500, 51_000, 51_500, 52_500})
	assert.Equal(t, domain.RegimeBull, pred.Regime)
	assert.Equal(t, domain.ActionBuy, pred.Action)
	assert.Greater(t, pred.Confidence, 0.2)
	assert.LessOrEqual(t, pred.Confidence, 0.9)
}

func TestPredictDowntrendIsBear(t *testing.T) {
	p := NewLocalPredictor()

	pred := feed(t, p, "BTC/USDT", []float64{52_500, 52_000, 51_500, 51_000, 49_500})
	assert.Equal(t, domain.RegimeBear, pred.Regime)
	assert.Equal(t, domain.ActionSell, pred.Action)
}

func TestPredictFlatIsSideways(t *testing.T) {
	p := NewLocalPredictor()

	pred := feed(t, p, "BTC/USDT", []float64{50_000, 50_010, 49_990, 50_005, 50_000})
	assert.Equal(t, domain.RegimeSideways, pred.Regime)
	assert.Equal(t, domain.ActionHold, pred.Action)
}

func TestPredictWindowsAreIndependentPerSymbol(t *testing.T) {
	p := NewLocalPredictor()

	feed(t, p, "BTC/USDT", []float64{50_000, 51_000, 52_000, 53_000, 55_000})
	pred := feed(t, p, "ETH/USDT", []float64{3_000, 2_950, 2_900, 2_850, 2_700})

	assert.Equal(t, domain.RegimeBear, pred.Regime)
}
