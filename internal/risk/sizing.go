package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantfold/crossarb/internal/domain"
)

// Kelly fraction bounds. The lower bound doubles as the conservative floor
// for degenerate (near-zero volatility) return series.
const (
	kellyFloor   = 0.01
	kellyCeiling = 0.5

	varianceEpsilon = 1e-10
)

// AdjustSize applies Kelly-criterion position sizing: the Kelly fraction
// over the recent close history, multiplied by the tiered position cap,
// bounds the approved amount. Returns min(requested, kellyAdjustedCap) in
// base-currency units. price converts the notional cap into base units.
func (g *Gate) AdjustSize(ctx context.Context, symbol string, requested, price float64, snap domain.PortfolioSnapshot) (float64, error) {
	if requested <= 0 || price <= 0 {
		return 0, nil
	}

	closes, err := g.history.GetCloses(ctx, symbol, g.kellyLookback)
	if err != nil {
		return 0, fmt.Errorf("risk: closes for %s: %w", symbol, err)
	}

	kelly := KellyFraction(closes)
	profile := g.Profile()
	capBase := kelly * TieredPositionCap(profile, snap.TotalValue) / price

	approved := requested
	if capBase < approved {
		approved = capBase
	}

	g.logger.Debug("size adjusted",
		slog.String("symbol", symbol),
		slog.Float64("requested", requested),
		slog.Float64("kelly", kelly),
		slog.Float64("approved", approved),
	)
	return approved, nil
}

// KellyFraction computes mean(returns)/variance(returns) over the close
// series, clamped to [kellyFloor, kellyCeiling]. Zero or near-zero variance
// falls back to the conservative floor instead of dividing by zero.
func KellyFraction(closes []float64) float64 {
	returns := periodReturns(closes)
	if len(returns) < 2 {
		return kellyFloor
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	if variance < varianceEpsilon {
		return kellyFloor
	}

	kelly := mean / variance
	if kelly < kellyFloor {
		return kellyFloor
	}
	if kelly > kellyCeiling {
		return kellyCeiling
	}
	return kelly
}

// RecommendLeverage maps prediction confidence and market regime to a
// leverage multiple, always re-capped by the profile ceiling and the
// large-portfolio hard cap.
func (g *Gate) RecommendLeverage(confidence float64, regime domain.MarketRegime, portfolioValue float64) float64 {
	profile := g.Profile()

	var lev float64
	switch {
	case regime == domain.RegimeBear || portfolioValue < tierMidValue:
		lev = 1.0
	case confidence > 0.8 && portfolioValue > 5_000:
		lev = 3.0
	default:
		lev = 1.5
	}

	if maxLev := MaxLeverage(profile, portfolioValue); lev > maxLev {
		lev = maxLev
	}
	return lev
}

func periodReturns(closes []float64) []float64 {
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
