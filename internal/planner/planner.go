// Package planner produces hedge and rebalance trade instructions on its own
// cadence. It never places orders itself: every instruction is routed through
// the risk gate and the executor, the same path arbitrage trades take.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/quantfold/crossarb/internal/config"
	"github.com/quantfold/crossarb/internal/domain"
)

const (
	// flashCrashLookback is how many recent closes the crash detector
	// compares against the latest price.
	flashCrashLookback = 5

	// stopBuffer is the naive fractional stop distance before the
	// volatility adjustment widens it.
	stopBuffer = 0.02

	// hedgeReturnDays is the trailing window for the dynamic volatility
	// threshold.
	hedgeReturnDays = 30
)

// LeverageAdvisor maps a prediction to a leverage multiple. Implemented by
// the risk gate.
type LeverageAdvisor interface {
	RecommendLeverage(confidence float64, regime domain.MarketRegime, portfolioValue float64) float64
}

// Planner recomputes target portfolio weights and volatility hedges.
type Planner struct {
	ledger    domain.Ledger
	history   domain.HistoryStore
	predictor domain.Predictor // may be nil
	advisor   LeverageAdvisor
	symbols   []string
	cfg       config.PlannerConfig
	logger    *slog.Logger

	now func() time.Time
}

// New creates a Planner over the configured symbol universe.
func New(
	ledger domain.Ledger,
	history domain.HistoryStore,
	predictor domain.Predictor,
	advisor LeverageAdvisor,
	symbols []string,
	cfg config.PlannerConfig,
	logger *slog.Logger,
) *Planner {
	return &Planner{
		ledger:    ledger,
		history:   history,
		predictor: predictor,
		advisor:   advisor,
		symbols:   symbols,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "planner")),
		now:       time.Now,
	}
}

// Plan runs the three checks in priority order: flash-crash exits first,
// then volatility hedges, then mean-variance rebalancing. Symbols already
// being exited are excluded from the later passes.
func (p *Planner) Plan(ctx context.Context, table domain.PriceTable) ([]domain.TradeInstruction, error) {
	positions, err := p.openPositions(ctx)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}

	var out []domain.TradeInstruction
	exiting := make(map[string]bool)

	exits, err := p.FlashCrashCheck(ctx, positions, table)
	if err != nil {
		return nil, err
	}
	for _, instr := range exits {
		exiting[instr.Symbol] = true
		out = append(out, instr)
	}

	remaining := positions[:0:0]
	for _, pos := range positions {
		if !exiting[pos.Symbol] {
			remaining = append(remaining, pos)
		}
	}

	hedges, err := p.HedgeCheck(ctx, remaining, table)
	if err != nil {
		return nil, err
	}
	out = append(out, hedges...)

	rebalances, err := p.Rebalance(ctx, remaining, table)
	if err != nil {
		return nil, err
	}
	out = append(out, rebalances...)

	p.logger.Info("plan computed",
		slog.Int("exits", len(exits)),
		slog.Int("hedges", len(hedges)),
		slog.Int("rebalances", len(rebalances)),
	)
	return out, nil
}

// FlashCrashCheck emits an immediate exit instruction for any position whose
// price has collapsed beyond the threshold within the most recent
// observations. The stop is widened by the current true-range volatility so
// the exit order survives the very turbulence that triggered it.
func (p *Planner) FlashCrashCheck(ctx context.Context, positions []domain.Position, table domain.PriceTable) ([]domain.TradeInstruction, error) {
	var out []domain.TradeInstruction
	for _, pos := range positions {
		closes, err := p.history.GetCloses(ctx, pos.Symbol, flashCrashLookback)
		if err != nil {
			return nil, fmt.Errorf("planner: closes for %s: %w", pos.Symbol, err)
		}
		if len(closes) < 2 {
			continue
		}

		peak := closes[0]
		for _, c := range closes {
			if c > peak {
				peak = c
			}
		}
		last := closes[len(closes)-1]
		if peak <= 0 {
			continue
		}
		drop := 1 - last/peak
		if drop <= p.cfg.FlashCrashThreshold {
			continue
		}

		price := p.markPrice(pos.Symbol, table, last)
		vol, err := p.trueRangeVol(ctx, pos.Symbol)
		if err != nil {
			return nil, err
		}
		stop := price * (1 - stopBuffer - vol)

		p.logger.Warn("flash crash detected",
			slog.String("symbol", pos.Symbol),
			slog.Float64("drop", drop),
			slog.Float64("stop", stop),
		)
		out = append(out, domain.TradeInstruction{
			Symbol:    pos.Symbol,
			Side:      exitSide(pos.Side),
			Amount:    pos.Quantity,
			Price:     price,
			Reason:    "flash_crash_exit",
			StopPrice: &stop,
		})
	}
	return out, nil
}

// HedgeCheck emits an offsetting trade for each open position whose
// true-range volatility exceeds the dynamic threshold. The hedge instrument
// is the most correlated (by magnitude) other symbol over the trailing year,
// sized by the correlation strength.
func (p *Planner) HedgeCheck(ctx context.Context, positions []domain.Position, table domain.PriceTable) ([]domain.TradeInstruction, error) {
	var out []domain.TradeInstruction
	for _, pos := range positions {
		vol, err := p.trueRangeVol(ctx, pos.Symbol)
		if err != nil {
			return nil, err
		}

		recent, err := p.history.GetCloses(ctx, pos.Symbol, hedgeReturnDays)
		if err != nil {
			return nil, fmt.Errorf("planner: closes for %s: %w", pos.Symbol, err)
		}
		threshold := math.Max(p.cfg.VolatilityFloor, 2*stdev(returnsFromCloses(recent)))
		if vol <= threshold {
			continue
		}

		hedgeSymbol, rho, err := p.mostCorrelated(ctx, pos.Symbol)
		if err != nil {
			return nil, err
		}
		if hedgeSymbol == "" {
			continue
		}

		markRef := pos.EntryPrice
		price := p.markPrice(hedgeSymbol, table, 0)
		if price <= 0 {
			continue
		}
		notional := pos.Notional(p.markPrice(pos.Symbol, table, markRef)) * math.Abs(rho)
		amount := notional / price

		// Positively correlated instruments hedge with the opposite side;
		// negatively correlated ones move against the position already, so
		// the same side offsets it.
		side := pos.Side
		if rho > 0 {
			side = exitSide(pos.Side)
		}

		p.logger.Info("volatility hedge",
			slog.String("symbol", pos.Symbol),
			slog.Float64("volatility", vol),
			slog.String("hedge_symbol", hedgeSymbol),
			slog.Float64("correlation", rho),
		)
		out = append(out, domain.TradeInstruction{
			Symbol: hedgeSymbol,
			Side:   side,
			Amount: amount,
			Price:  price,
			Reason: "volatility_hedge",
		})
	}
	return out, nil
}

// Rebalance computes mean-variance target weights over the held symbols and
// emits instructions for any holding whose notional deviates from target by
// more than the minimum trade value.
func (p *Planner) Rebalance(ctx context.Context, positions []domain.Position, table domain.PriceTable) ([]domain.TradeInstruction, error) {
	if len(positions) < 2 {
		return nil, nil
	}

	symbols := make([]string, 0, len(positions))
	notionals := make(map[string]float64, len(positions))
	prices := make(map[string]float64, len(positions))
	series := make([][]float64, 0, len(positions))
	mu := make([]float64, 0, len(positions))

	var total float64
	for _, pos := range positions {
		price := p.markPrice(pos.Symbol, table, pos.EntryPrice)
		if price <= 0 {
			continue
		}
		closes, err := p.history.GetCloses(ctx, pos.Symbol, p.cfg.ReturnLookbackDays)
		if err != nil {
			return nil, fmt.Errorf("planner: closes for %s: %w", pos.Symbol, err)
		}
		rets := returnsFromCloses(closes)
		if len(rets) < 2 {
			continue
		}

		symbols = append(symbols, pos.Symbol)
		notionals[pos.Symbol] += pos.Notional(price)
		prices[pos.Symbol] = price
		series = append(series, rets)
		mu = append(mu, mean(rets))
		total += pos.Notional(price)
	}
	if len(symbols) < 2 || total <= 0 {
		return nil, nil
	}

	weights := optimizeWeights(mu, covarianceMatrix(series))

	var out []domain.TradeInstruction
	for i, symbol := range symbols {
		target := weights[i] * total
		gap := target - notionals[symbol]
		if math.Abs(gap) <= p.cfg.MinTradeValue {
			continue
		}

		side := domain.TradeSideBuy
		if gap < 0 {
			side = domain.TradeSideSell
		}
		out = append(out, domain.TradeInstruction{
			Symbol: symbol,
			Side:   side,
			Amount: math.Abs(gap) / prices[symbol],
			Price:  prices[symbol],
			Reason: "rebalance",
		})
	}
	return out, nil
}

// RecommendLeverage consults the prediction oracle on the latest candle for
// the symbol and maps the result through the risk gate's leverage advisor.
// Without a predictor, or on oracle failure, the answer is a flat 1x.
func (p *Planner) RecommendLeverage(ctx context.Context, symbol string, portfolioValue float64) float64 {
	if p.predictor == nil || p.advisor == nil {
		return 1.0
	}
	candle, ok := p.latestCandle(ctx, symbol)
	if !ok {
		return 1.0
	}
	pred, err := p.predictor.Predict(candle)
	if err != nil {
		p.logger.Warn("prediction failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return 1.0
	}
	return p.advisor.RecommendLeverage(pred.Confidence, pred.Regime, portfolioValue)
}

func (p *Planner) openPositions(ctx context.Context) ([]domain.Position, error) {
	all, err := p.ledger.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("planner: positions: %w", err)
	}
	open := all[:0:0]
	for _, pos := range all {
		if pos.Status == domain.PositionStatusOpen {
			open = append(open, pos)
		}
	}
	return open, nil
}

// trueRangeVol computes the 14-period true-range volatility from the last
// day of stored candles for the symbol.
func (p *Planner) trueRangeVol(ctx context.Context, symbol string) (float64, error) {
	since := p.now().UTC().Add(-24 * time.Hour)
	candles, err := p.history.GetCandlesSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("planner: candles for %s: %w", symbol, err)
	}

	var closes, highs, lows []float64
	for _, c := range candles {
		if c.Symbol != symbol {
			continue
		}
		closes = append(closes, c.Close)
		highs = append(highs, c.High)
		lows = append(lows, c.Low)
	}
	return trueRangeVolatility(closes, highs, lows, trueRangePeriod), nil
}

// mostCorrelated finds the other configured symbol with the strongest
// absolute return correlation over the trailing lookback.
func (p *Planner) mostCorrelated(ctx context.Context, symbol string) (string, float64, error) {
	base, err := p.history.GetCloses(ctx, symbol, p.cfg.ReturnLookbackDays)
	if err != nil {
		return "", 0, fmt.Errorf("planner: closes for %s: %w", symbol, err)
	}
	baseRets := returnsFromCloses(base)
	if len(baseRets) < 2 {
		return "", 0, nil
	}

	var best string
	var bestRho float64
	for _, other := range p.symbols {
		if other == symbol {
			continue
		}
		closes, err := p.history.GetCloses(ctx, other, p.cfg.ReturnLookbackDays)
		if err != nil {
			return "", 0, fmt.Errorf("planner: closes for %s: %w", other, err)
		}
		rho := correlation(baseRets, returnsFromCloses(closes))
		if math.Abs(rho) > math.Abs(bestRho) {
			best = other
			bestRho = rho
		}
	}
	return best, bestRho, nil
}

// markPrice returns the cross-venue mid for the symbol, falling back to the
// supplied reference when no venue has a usable quote.
func (p *Planner) markPrice(symbol string, table domain.PriceTable, fallback float64) float64 {
	byVenue, ok := table[symbol]
	if !ok || len(byVenue) == 0 {
		return fallback
	}
	var sum float64
	count := 0
	for _, q := range byVenue {
		if q.Bid > 0 && q.Ask > 0 {
			sum += (q.Bid + q.Ask) / 2
			count++
		}
	}
	if count == 0 {
		return fallback
	}
	return sum / float64(count)
}

func (p *Planner) latestCandle(ctx context.Context, symbol string) (domain.Candle, bool) {
	since := p.now().UTC().Add(-24 * time.Hour)
	candles, err := p.history.GetCandlesSince(ctx, since)
	if err != nil {
		return domain.Candle{}, false
	}
	var latest domain.Candle
	found := false
	for _, c := range candles {
		if c.Symbol == symbol && (!found || c.Timestamp.After(latest.Timestamp)) {
			latest = c
			found = true
		}
	}
	return latest, found
}

func exitSide(side domain.TradeSide) domain.TradeSide {
	if side == domain.TradeSideBuy {
		return domain.TradeSideSell
	}
	return domain.TradeSideBuy
}
