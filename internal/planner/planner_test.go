package planner

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/crossarb/internal/config"
	"github.com/quantfold/crossarb/internal/domain"
)

type fakeLedger struct {
	positions []domain.Position
}

func (f *fakeLedger) GetPortfolioValue(ctx context.Context) (float64, error) { return 0, nil }

func (f *fakeLedger) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return f.positions, nil
}

func (f *fakeLedger) GetTradesSince(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (f *fakeLedger) RecordTrade(ctx context.Context, t domain.Trade) error       { return nil }
func (f *fakeLedger) UpsertPosition(ctx context.Context, p domain.Position) error { return nil }
func (f *fakeLedger) ClosePosition(ctx context.Context, id string, p float64) error { return nil }

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
	closes  map[string][]float64
	candles []domain.Candle
}

func (f *fakeHistory) GetCloses(ctx context.Context, symbol string, lookback int) ([]float64, error) {
	closes := f.closes[symbol]
	if len(closes) > lookback {
		closes = closes[len(closes)-lookback:]
	}
	return closes, nil
}

func (f *fakeHistory) RecordCandle(ctx context.Context, c domain.Candle) error {
	f.candles = append(f.candles, c)
	return nil
}

func (f *fakeHistory) GetCandlesSince(ctx context.Context, since time.Time) ([]domain.Candle, error) {
	var out []domain.Candle
	for _, c := range f.candles {
		if !c.Timestamp.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func defaultPlannerConfig() config.PlannerConfig {
	return config.PlannerConfig{
		Enabled:              true,
		RebalanceIntervalMin: 60,
		MinTradeValue:        10,
		FlashCrashThreshold:  0.10,
		VolatilityFloor:      0.02,
		ReturnLookbackDays:   365,
	}
}

func openPosition(symbol string, qty, entry float64) domain.Position {
	return domain.Position{
		ID:         symbol + "-pos",
		Symbol:     symbol,
		Side:       domain.TradeSideBuy,
		Quantity:   qty,
		EntryPrice: entry,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
}

func newTestPlanner(ledger *fakeLedger, history *fakeHistory, cfg config.PlannerConfig) *Planner {
	return New(ledger, history, nil, nil, []string{"BTC/USDT", "ETH/USDT"}, cfg, slog.Default())
}

func tableWith(symbol string, bid, ask float64) domain.PriceTable {
	table := domain.PriceTable{}
	table.Set(domain.PriceQuote{
		VenueID: "binance", Symbol: symbol,
		Bid: bid, Ask: ask, ObservedAt: time.Now().UTC(),
	})
	return table
}

func TestFlashCrashEmitsExit(t *testing.T) {
	ledger := &fakeLedger{positions: []domain.Position{openPosition("BTC/USDT", 0.1, 50_000)}}
	// 20% collapse within the recent observations.
	history := &fakeHistory{closes: map[string][]float64{
		"BTC/USDT": {50_000, 50_100, 49_900, 42_000, 40_000},
	}}
	p := newTestPlanner(ledger, history, defaultPlannerConfig())

	out, err := p.FlashCrashCheck(context.Background(), ledger.positions, tableWith("BTC/USDT", 39_990, 40_010))
	require.NoError(t, err)
	require.Len(t, out, 1)

	instr := out[0]
	assert.Equal(t, "flash_crash_exit", instr.Reason)
	assert.Equal(t, domain.TradeSideSell, instr.Side)
	assert.Equal(t, 0.1, instr.Amount)
	require.NotNil(t, instr.StopPrice)
	assert.Less(t, *instr.StopPrice, instr.Price)
}

func TestFlashCrashIgnoresNormalDrawdown(t *testing.T) {
	ledger := &fakeLedger{positions: []domain.Position{openPosition("BTC/USDT", 0.1, 50_000)}}
	history := &fakeHistory{closes: map[string][]float64{
		"BTC/USDT": {50_000, 49_800, 49_500, 49_000, 48_000}, // -4%
	}}
	p := newTestPlanner(ledger, history, defaultPlannerConfig())

	out, err := p.FlashCrashCheck(context.Background(), ledger.positions, tableWith("BTC/USDT", 47_990, 48_010))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHedgeCheckBelowThresholdIsQuiet(t *testing.T) {
	ledger := &fakeLedger{positions: []domain.Position{openPosition("BTC/USDT", 0.1, 50_000)}}
	history := &fakeHistory{closes: map[string][]float64{
		"BTC/USDT": {50_000, 50_010, 50_005, 50_015, 50_010},
	}}
	p := newTestPlanner(ledger, history, defaultPlannerConfig())

	// No candles recorded: true-range volatility is zero, below any floor.
	out, err := p.HedgeCheck(context.Background(), ledger.positions, tableWith("BTC/USDT", 49_990, 50_010))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHedgeCheckEmitsOffsettingTrade(t *testing.T) {
	cfg := defaultPlannerConfig()
	cfg.VolatilityFloor = 0.001

	// Perfectly co-moving close histories make ETH the correlation pick with
	// rho = 1; the modest +-1% swings keep the dynamic threshold well below
	// the 8% true-range volatility injected via the candles.
	btc := make([]float64, 0, 40)
	eth := make([]float64, 0, 40)
	price := 50_000.0
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			price *= 1.01
		} else {
			price *= 0.99
		}
		btc = append(btc, price)
		eth = append(eth, price/16)
	}

	ledger := &fakeLedger{positions: []domain.Position{openPosition("BTC/USDT", 0.1, 50_000)}}
	history := &fakeHistory{closes: map[string][]float64{
		"BTC/USDT": btc,
		"ETH/USDT": eth,
	}}

	now := time.Now().UTC()
	for i := 0; i < 20; i++ {
		history.candles = append(history.candles, domain.Candle{
			VenueID: "binance", Symbol: "BTC/USDT",
			Open: 50_000, High: 52_000, Low: 48_000, Close: 50_000,
			Timestamp: now.Add(time.Duration(i-20) * time.Minute),
		})
	}

	p := newTestPlanner(ledger, history, cfg)
	p.now = func() time.Time { return now }

	table := tableWith("BTC/USDT", 49_990, 50_010)
	table.Set(domain.PriceQuote{
		VenueID: "binance", Symbol: "ETH/USDT",
		Bid: 3_124, Ask: 3_126, ObservedAt: now,
	})

	out, err := p.HedgeCheck(context.Background(), ledger.positions, table)
	require.NoError(t, err)
	require.Len(t, out, 1)

	instr := out[0]
	assert.Equal(t, "volatility_hedge", instr.Reason)
	assert.Equal(t, "ETH/USDT", instr.Symbol)
	// Positive correlation hedges with the opposite side of the long.
	assert.Equal(t, domain.TradeSideSell, instr.Side)
	assert.Greater(t, instr.Amount, 0.0)
}

func TestRebalanceSkipsSmallDeviations(t *testing.T) {
	cfg := defaultPlannerConfig()
	cfg.MinTradeValue = 1_000_000 // nothing can deviate this much

	ledger := &fakeLedger{positions: []domain.Position{
		openPosition("BTC/USDT", 0.1, 50_000),
		openPosition("ETH/USDT", 1, 3_000),
	}}
	history := &fakeHistory{closes: map[string][]float64{
		"BTC/USDT": {50_000, 50_500, 49_900, 50_300, 50_100},
		"ETH/USDT": {3_000, 3_050, 2_990, 3_020, 3_010},
	}}
	p := newTestPlanner(ledger, history, cfg)

	table := tableWith("BTC/USDT", 49_990, 50_010)
	table.Set(domain.PriceQuote{
		VenueID: "binance", Symbol: "ETH/USDT",
		Bid: 2_999, Ask: 3_001, ObservedAt: time.Now().UTC(),
	})

	out, err := p.Rebalance(context.Background(), ledger.positions, table)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRebalanceClosesWeightGaps(t *testing.T) {
	ledger := &fakeLedger{positions: []domain.Position{
		openPosition("BTC/USDT", 0.18, 50_000), // 9000 notional
		openPosition("ETH/USDT", 0.333, 3_000), // ~1000 notional
	}}
	history := &fakeHistory{closes: map[string][]float64{
		"BTC/USDT": {50_000, 50_500, 49_900, 50_300, 50_100, 50_400},
		"ETH/USDT": {3_000, 3_050, 2_990, 3_020, 3_010, 3_040},
	}}
	p := newTestPlanner(ledger, history, defaultPlannerConfig())

	table := tableWith("BTC/USDT", 49_990, 50_010)
	table.Set(domain.PriceQuote{
		VenueID: "binance", Symbol: "ETH/USDT",
		Bid: 2_999, Ask: 3_001, ObservedAt: time.Now().UTC(),
	})

	out, err := p.Rebalance(context.Background(), ledger.positions, table)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	// Buys and sells must offset: the plan reshuffles, it does not add or
	// remove capital beyond rounding.
	var net float64
	for _, instr := range out {
		assert.Equal(t, "rebalance", instr.Reason)
		value := instr.Amount * instr.Price
		assert.Greater(t, value, defaultPlannerConfig().MinTradeValue)
		if instr.Side == domain.TradeSideBuy {
			net += value
		} else {
			net -= value
		}
	}
	assert.InDelta(t, 0, net, 1.0)
}

func TestPlanPrioritizesExitsOverHedges(t *testing.T) {
	ledger := &fakeLedger{positions: []domain.Position{openPosition("BTC/USDT", 0.1, 50_000)}}
	history := &fakeHistory{closes: map[string][]float64{
		"BTC/USDT": {50_000, 50_100, 49_900, 42_000, 40_000},
	}}
	p := newTestPlanner(ledger, history, defaultPlannerConfig())

	out, err := p.Plan(context.Background(), tableWith("BTC/USDT", 39_990, 40_010))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "flash_crash_exit", out[0].Reason)
}

func TestPlanNoPositionsNoInstructions(t *testing.T) {
	p := newTestPlanner(&fakeLedger{}, &fakeHistory{}, defaultPlannerConfig())

	out, err := p.Plan(context.Background(), domain.PriceTable{})
	require.NoError(t, err)
	assert.Empty(t, out)
}
