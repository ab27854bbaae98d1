package risk

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/crossarb/internal/domain"
)

type fakeLedger struct {
	portfolioValue float64
	positions      []domain.Position
	trades         []domain.Trade
}

func (f *fakeLedger) GetPortfolioValue(ctx context.Context) (float64, error) {
	return f.portfolioValue, nil
}

func (f *fakeLedger) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return f.positions, nil
}

func (f *fakeLedger) GetTradesSince(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	return f.trades, nil
}

func (f *fakeLedger) RecordTrade(ctx context.Context, t domain.Trade) error {
	f.trades = append(f.trades, t)
	return nil
}

func (f *fakeLedger) UpsertPosition(ctx context.Context, p domain.Position) error { return nil }

func (f *fakeLedger) ClosePosition(ctx context.Context, id string, exitPrice float64) error {
	return nil
}

func (f *fakeLedger) RecordArbitrageTrade(ctx context.Context, rec domain.ArbitrageTrade) error {
	return nil
}

func (f *fakeLedger) UpdateArbitrageTradeStatus(ctx context.Context, id string, status domain.ArbitrageTradeStatus, sellOrderID string, sellPrice, sellRevenue, realized float64) error {
	return nil
}

func (f *fakeLedger) GetArbitrageTrade(ctx context.Context, id string) (domain.ArbitrageTrade, error) {
	return domain.ArbitrageTrade{}, domain.ErrNotFound
}

type fakeHistory struct {
	closes []float64
}

func (f *fakeHistory) GetCloses(ctx context.Context, symbol string, lookback int) ([]float64, error) {
	return f.closes, nil
}

func moderateProfile() domain.RiskProfile {
	return domain.RiskProfile{
		Name:                 "moderate",
		MaxPositionFraction:  0.10,
		MaxDailyLossFraction: 0.02,
		StopLoss:             3.0,
		TakeProfit:           6.0,
		MaxLeverage:          2.0,
	}
}

func newTestGate(ledger *fakeLedger, profile domain.RiskProfile) *Gate {
	return NewGate(ledger, &fakeHistory{}, profile, 0.006, 20, slog.Default())
}

func snapshot(total float64) domain.PortfolioSnapshot {
	return domain.PortfolioSnapshot{TotalValue: total, TakenAt: time.Now().UTC()}
}

func TestApproveWithinAllLimits(t *testing.T) {
	gate := newTestGate(&fakeLedger{portfolioValue: 500}, moderateProfile())

	decision, err := gate.Approve(context.Background(), domain.ProposedTrade{
		Symbol: "BTC/USDT", Side: domain.TradeSideBuy,
		Amount: 0.0005, Price: 50_000, Leverage: 1.0,
	}, snapshot(500))
	require.NoError(t, err)
	assert.True(t, decision.Approved)
	assert.Empty(t, decision.Check)
}

func TestApproveRejectsExcessLeverage(t *testing.T) {
	gate := newTestGate(&fakeLedger{}, moderateProfile())

	decision, err := gate.Approve(context.Background(), domain.ProposedTrade{
		Symbol: "BTC/USDT", Side: domain.TradeSideBuy,
		Amount: 0.001, Price: 50_000, Leverage: 2.5,
	}, snapshot(500))
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Equal(t, CheckLeverage, decision.Check)
}

func TestApproveRejectsOversizedPosition(t *testing.T) {
	gate := newTestGate(&fakeLedger{}, moderateProfile())

	// Cap is 10% of 500 = 50; the trade is 100.
	decision, err := gate.Approve(context.Background(), domain.ProposedTrade{
		Symbol: "BTC/USDT", Side: domain.TradeSideBuy,
		Amount: 0.002, Price: 50_000, Leverage: 1.0,
	}, snapshot(500))
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Equal(t, CheckPosition, decision.Check)
}

func TestApproveRejectsAfterDailyLossBudget(t *testing.T) {
	// A buy at 100 x 150 and a sell at 100 x 100 leaves realized P&L at
	// -5000, far past 2% of the 10k portfolio.
	ledger := &fakeLedger{trades: []domain.Trade{
		{Side: domain.TradeSideBuy, Price: 150, Amount: 100},
		{Side: domain.TradeSideSell, Price: 100, Amount: 100},
	}}
	gate := newTestGate(ledger, moderateProfile())

	decision, err := gate.Approve(context.Background(), domain.ProposedTrade{
		Symbol: "BTC/USDT", Side: domain.TradeSideBuy,
		Amount: 0.001, Price: 50_000, Leverage: 1.0,
	}, snapshot(10_000))
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Equal(t, CheckDailyLoss, decision.Check)
}

func TestApproveProfitFloor(t *testing.T) {
	profile := moderateProfile()
	profile.MinProfitVsFees = true
	profile.TakeProfit = 0.1 // 0.1% expected gain vs 0.6% round-trip fees

	gate := newTestGate(&fakeLedger{}, profile)

	decision, err := gate.Approve(context.Background(), domain.ProposedTrade{
		Symbol: "BTC/USDT", Side: domain.TradeSideBuy,
		Amount: 0.0005, Price: 50_000, Leverage: 1.0,
	}, snapshot(500))
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Equal(t, CheckProfit, decision.Check)
}

// Checks run in a fixed order and short-circuit: a trade violating both the
// leverage and position caps reports the leverage check.
func TestApproveChecksOrdered(t *testing.T) {
	gate := newTestGate(&fakeLedger{}, moderateProfile())

	decision, err := gate.Approve(context.Background(), domain.ProposedTrade{
		Symbol: "BTC/USDT", Side: domain.TradeSideBuy,
		Amount: 1.0, Price: 50_000, Leverage: 10.0,
	}, snapshot(500))
	require.NoError(t, err)
	assert.Equal(t, CheckLeverage, decision.Check)
}

// The effective leverage cap never increases as the portfolio crosses the
// large-portfolio boundary.
func TestMaxLeverageMonotonicAtBoundary(t *testing.T) {
	profile := moderateProfile()
	profile.MaxLeverage = 3.0

	below := MaxLeverage(profile, 50_000)
	above := MaxLeverage(profile, 50_001)
	assert.Equal(t, 3.0, below)
	assert.Equal(t, 1.5, above)
	assert.LessOrEqual(t, above, below)

	// Profiles already below the hard cap are unaffected.
	profile.MaxLeverage = 1.0
	assert.Equal(t, 1.0, MaxLeverage(profile, 1_000_000))
}

func TestTieredPositionCap(t *testing.T) {
	profile := moderateProfile() // 10% fraction

	assert.InDelta(t, 50.0, TieredPositionCap(profile, 500), 1e-9)          // full weight
	assert.InDelta(t, 375.0, TieredPositionCap(profile, 5_000), 1e-9)       // 0.75 weight
	assert.InDelta(t, 2_500.0, TieredPositionCap(profile, 50_000), 1e-9)    // 0.5 weight
}

func TestSwapProfileTakesEffectOnNextCheck(t *testing.T) {
	gate := newTestGate(&fakeLedger{}, moderateProfile())

	aggressive := moderateProfile()
	aggressive.Name = "aggressive"
	aggressive.MaxLeverage = 3.0
	gate.SwapProfile(aggressive)

	assert.Equal(t, "aggressive", gate.Profile().Name)

	decision, err := gate.Approve(context.Background(), domain.ProposedTrade{
		Symbol: "BTC/USDT", Side: domain.TradeSideBuy,
		Amount: 0.0005, Price: 50_000, Leverage: 2.5,
	}, snapshot(500))
	require.NoError(t, err)
	assert.True(t, decision.Approved)
}

func TestSnapshotAggregatesOpenExposure(t *testing.T) {
	ledger := &fakeLedger{
		portfolioValue: 10_000,
		positions: []domain.Position{
			{Symbol: "BTC/USDT", Quantity: 0.1, EntryPrice: 50_000, Status: domain.PositionStatusOpen},
			{Symbol: "BTC/USDT", Quantity: 0.05, EntryPrice: 40_000, Status: domain.PositionStatusOpen},
			{Symbol: "ETH/USDT", Quantity: 1, EntryPrice: 3_000, Status: domain.PositionStatusClosed},
		},
	}
	gate := newTestGate(ledger, moderateProfile())

	snap, err := gate.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10_000.0, snap.TotalValue)
	assert.InDelta(t, 7_000.0, snap.Exposures["BTC/USDT"], 1e-9)
	assert.NotContains(t, snap.Exposures, "ETH/USDT")
}
