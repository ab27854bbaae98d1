// Package risk validates proposed trades against the active risk profile,
// the current portfolio, and the day's realized losses. Every rejection
// names the specific check that failed.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfold/crossarb/internal/domain"
)

// Tier boundaries for position caps and the leverage hard cap. The weights
// encode increasing caution as capital grows.
const (
	tierMidValue   = 1_000
	tierHighValue  = 10_000
	tierMidWeight  = 0.75
	tierHighWeight = 0.5

	leverageCapValue = 50_000
	leverageHardCap  = 1.5
)

// Named checks reported on rejection.
const (
	CheckLeverage  = "leverage"
	CheckPosition  = "position_size"
	CheckDailyLoss = "daily_loss"
	CheckProfit    = "profit_floor"
)

// Gate validates proposed trades. The active profile is swappable at
// runtime; a swap takes effect on the next check, never retroactively.
type Gate struct {
	ledger  domain.Ledger
	history domain.HistoryReader
	logger  *slog.Logger

	// roundTripFee is the estimated taker fee fraction for a full buy+sell
	// round trip, used by the optional profitability floor.
	roundTripFee  float64
	kellyLookback int

	mu      sync.RWMutex
	profile domain.RiskProfile
}

// NewGate creates a Gate with the given initial profile.
func NewGate(
	ledger domain.Ledger,
	history domain.HistoryReader,
	profile domain.RiskProfile,
	roundTripFee float64,
	kellyLookback int,
	logger *slog.Logger,
) *Gate {
	if kellyLookback < 2 {
		kellyLookback = 20
	}
	return &Gate{
		ledger:        ledger,
		history:       history,
		profile:       profile,
		roundTripFee:  roundTripFee,
		kellyLookback: kellyLookback,
		logger:        logger.With(slog.String("component", "risk_gate")),
	}
}

// Profile returns the currently active risk profile.
func (g *Gate) Profile() domain.RiskProfile {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.profile
}

// SwapProfile replaces the active profile. Checks already in flight keep the
// profile they read; the next check sees the new one.
func (g *Gate) SwapProfile(p domain.RiskProfile) {
	g.mu.Lock()
	g.profile = p
	g.mu.Unlock()
	g.logger.Info("risk profile swapped", slog.String("profile", p.Name))
}

// Snapshot builds a point-in-time portfolio view from the ledger. The
// snapshot reflects the state "as of now"; it is not locked across the
// decision that consumes it.
func (g *Gate) Snapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	total, err := g.ledger.GetPortfolioValue(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("risk: portfolio value: %w", err)
	}
	positions, err := g.ledger.GetPositions(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("risk: positions: %w", err)
	}

	exposures := make(map[string]float64, len(positions))
	for _, p := range positions {
		if p.Status == domain.PositionStatusOpen {
			exposures[p.Symbol] += p.Notional(p.EntryPrice)
		}
	}
	return domain.PortfolioSnapshot{
		TotalValue: total,
		Exposures:  exposures,
		TakenAt:    time.Now().UTC(),
	}, nil
}

// Approve runs the ordered checks against the proposed trade,
// short-circuiting on the first failure. Rejections are expected, frequent
// outcomes: they are returned as a Decision, never as an error. The error
// return is reserved for ledger/storage failures.
func (g *Gate) Approve(ctx context.Context, trade domain.ProposedTrade, snap domain.PortfolioSnapshot) (domain.Decision, error) {
	profile := g.Profile()

	// 1. Leverage ceiling, with the large-portfolio hard cap overriding any
	// higher profile setting.
	maxLev := MaxLeverage(profile, snap.TotalValue)
	if trade.Leverage > maxLev {
		return reject(CheckLeverage,
			fmt.Sprintf("leverage %.2fx exceeds cap %.2fx", trade.Leverage, maxLev)), nil
	}

	// 2. Tiered position cap on levered notional.
	posCap := TieredPositionCap(profile, snap.TotalValue)
	levered := trade.Notional() * trade.Leverage
	if levered > posCap {
		return reject(CheckPosition,
			fmt.Sprintf("levered notional %.2f exceeds tiered cap %.2f", levered, posCap)), nil
	}

	// 3. Daily loss budget from today's realized, side-signed P&L.
	dayStart := snap.TakenAt.Truncate(24 * time.Hour)
	trades, err := g.ledger.GetTradesSince(ctx, dayStart)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("risk: trades since %s: %w", dayStart.Format(time.RFC3339), err)
	}
	var pnl float64
	for _, t := range trades {
		pnl += t.SignedValue()
	}
	budget := profile.MaxDailyLossFraction * snap.TotalValue
	if pnl < -budget {
		return reject(CheckDailyLoss,
			fmt.Sprintf("daily P&L %.2f below loss budget -%.2f", pnl, budget)), nil
	}

	// 4. Optional profitability floor: the expected gain at take-profit must
	// beat the round-trip fee cost, or the trade is not worth paying for.
	if profile.MinProfitVsFees {
		expected := trade.Notional() * profile.TakeProfit / 100
		feeCost := trade.Notional() * g.roundTripFee
		if expected <= feeCost {
			return reject(CheckProfit,
				fmt.Sprintf("expected profit %.2f does not cover round-trip fees %.2f", expected, feeCost)), nil
		}
	}

	return domain.Decision{Approved: true}, nil
}

func reject(check, reason string) domain.Decision {
	return domain.Decision{Approved: false, Check: check, Reason: reason}
}

// MaxLeverage returns the effective leverage ceiling for a portfolio of the
// given value: the profile's ceiling, hard-capped to 1.5x above 50k. The
// result is monotonically non-increasing as the portfolio crosses the
// boundary.
func MaxLeverage(profile domain.RiskProfile, portfolioValue float64) float64 {
	maxLev := profile.MaxLeverage
	if portfolioValue > leverageCapValue && maxLev > leverageHardCap {
		maxLev = leverageHardCap
	}
	return maxLev
}

// TieredPositionCap returns the maximum levered position notional for a
// portfolio of the given value.
func TieredPositionCap(profile domain.RiskProfile, portfolioValue float64) float64 {
	base := profile.MaxPositionFraction * portfolioValue
	switch {
	case portfolioValue > tierHighValue:
		return base * tierHighWeight
	case portfolioValue > tierMidValue:
		return base * tierMidWeight
	default:
		return base
	}
}
