// Package executor orchestrates the buy-then-sell order pair for an approved
// arbitrage opportunity. Execution is a deliberate two-phase operation: the
// buy leg must complete before the sell leg is attempted, there is no
// atomicity across the legs, and a filled buy is never undone. The
// intermediate buy_filled state is persisted so a failure between legs
// leaves an inspectable record of the naked position.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/crossarb/internal/config"
	"github.com/quantfold/crossarb/internal/domain"
	"github.com/quantfold/crossarb/internal/venue"
)

// quantityEpsilon absorbs float drift when a sell exactly consumes a
// position's quantity.
const quantityEpsilon = 1e-9

// Rescanner re-checks which opportunities are live right now. Implemented in
// the app wiring as a fresh aggregator refresh followed by a scan.
type Rescanner interface {
	Rescan(ctx context.Context) ([]domain.ArbitrageOpportunity, error)
}

// RiskGate is the slice of the risk package the executor depends on.
type RiskGate interface {
	Profile() domain.RiskProfile
	Snapshot(ctx context.Context) (domain.PortfolioSnapshot, error)
	Approve(ctx context.Context, trade domain.ProposedTrade, snap domain.PortfolioSnapshot) (domain.Decision, error)
	AdjustSize(ctx context.Context, symbol string, requested, price float64, snap domain.PortfolioSnapshot) (float64, error)
}

// Alerter delivers operator-visible alerts. Implemented by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Result is the outcome of an execution attempt. Opportunity invalidations
// and risk rejections are expected outcomes carried in Message; PartialFill
// marks the one state that leaves unintended exposure behind.
type Result struct {
	Success     bool
	Message     string
	PartialFill bool
	Trade       *domain.ArbitrageTrade
}

// Executor places arbitrage order pairs and planner instructions.
type Executor struct {
	adapters  map[string]venue.Adapter
	rescanner Rescanner
	gate      RiskGate
	ledger    domain.Ledger
	alerter   Alerter // may be nil
	cfg       config.ExecutorConfig
	minProfit float64 // percent; opportunities below this abort at re-check
	logger    *slog.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor.
func New(
	adapters map[string]venue.Adapter,
	rescanner Rescanner,
	gate RiskGate,
	ledger domain.Ledger,
	alerter Alerter,
	cfg config.ExecutorConfig,
	minProfit float64,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		adapters:  adapters,
		rescanner: rescanner,
		gate:      gate,
		ledger:    ledger,
		alerter:   alerter,
		cfg:       cfg,
		minProfit: minProfit,
		logger:    logger.With(slog.String("component", "executor")),
		sleep:     sleepCtx,
	}
}

// Execute runs the full protocol for one opportunity. amount is the
// requested base quantity; pass 0 to let the executor derive it from the
// portfolio and the opportunity's volume estimate.
func (e *Executor) Execute(ctx context.Context, opp domain.ArbitrageOpportunity, amount float64) (Result, error) {
	log := e.logger.With(
		slog.String("symbol", opp.Symbol),
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
	)

	buyAdapter, ok := e.adapters[opp.BuyVenue]
	if !ok {
		return Result{}, fmt.Errorf("executor: buy venue %s: %w", opp.BuyVenue, domain.ErrUnknownVenue)
	}
	sellAdapter, ok := e.adapters[opp.SellVenue]
	if !ok {
		return Result{}, fmt.Errorf("executor: sell venue %s: %w", opp.SellVenue, domain.ErrUnknownVenue)
	}

	// 1. Prices are time-sensitive: re-scan and re-match immediately before
	// acting. The original snapshot may be stale.
	live, err := e.revalidate(ctx, opp)
	if err != nil {
		if errors.Is(err, domain.ErrOpportunityGone) {
			log.Info("opportunity no longer available")
			return Result{Message: "opportunity no longer available"}, nil
		}
		return Result{}, err
	}

	// 2. Size the trade and pass it through the risk gate.
	snap, err := e.gate.Snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("executor: snapshot: %w", err)
	}

	if amount <= 0 {
		profile := e.gate.Profile()
		notional := math.Min(profile.MaxPositionFraction*snap.TotalValue, live.MaxVolume)
		amount = notional / live.BuyPrice
	}

	adjusted, err := e.gate.AdjustSize(ctx, live.Symbol, amount, live.BuyPrice, snap)
	if err != nil {
		return Result{}, fmt.Errorf("executor: adjust size: %w", err)
	}
	if adjusted <= 0 {
		return Result{Message: "adjusted trade size is zero"}, nil
	}

	decision, err := e.gate.Approve(ctx, domain.ProposedTrade{
		Symbol:   live.Symbol,
		Side:     domain.TradeSideBuy,
		Amount:   adjusted,
		Price:    live.BuyPrice,
		Leverage: 1.0,
	}, snap)
	if err != nil {
		return Result{}, fmt.Errorf("executor: risk check: %w", err)
	}
	if !decision.Approved {
		log.Info("risk gate rejected execution",
			slog.String("check", decision.Check),
			slog.String("reason", decision.Reason),
		)
		return Result{Message: "risk rejected (" + decision.Check + "): " + decision.Reason}, nil
	}

	// 3. Optimistic snapshot check: the portfolio is not locked between
	// approval and submission, so re-read its value and abort on drift
	// beyond tolerance. Two concurrent approvals can still both pass against
	// a slightly stale snapshot; the conservative position caps bound the
	// damage. Documented limitation.
	liveValue, err := e.ledger.GetPortfolioValue(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("executor: re-read portfolio: %w", err)
	}
	if snap.TotalValue > 0 {
		drift := math.Abs(liveValue-snap.TotalValue) / snap.TotalValue * 100
		if drift > e.cfg.SnapshotTolerancePercent {
			log.Warn("portfolio drifted since approval, aborting",
				slog.Float64("approved_value", snap.TotalValue),
				slog.Float64("live_value", liveValue),
			)
			return Result{Message: "portfolio changed since risk approval"}, nil
		}
	}

	// 4. Two-phase execution. Once the buy is submitted there is no
	// cancellation path; the executor runs to completion or failure.
	return e.runLegs(ctx, *live, adjusted, buyAdapter, sellAdapter, log)
}

// ExecuteInstruction runs a single-leg planner instruction through the same
// risk path as arbitrage trades. When the instruction does not pin a venue,
// the order is routed to the venue with the best live price for its side.
func (e *Executor) ExecuteInstruction(ctx context.Context, instr domain.TradeInstruction) (Result, error) {
	log := e.logger.With(
		slog.String("symbol", instr.Symbol),
		slog.String("side", string(instr.Side)),
		slog.String("reason", instr.Reason),
	)

	venueID, adapter, err := e.routeVenue(ctx, instr)
	if err != nil {
		return Result{}, err
	}

	snap, err := e.gate.Snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("executor: snapshot: %w", err)
	}
	amount, err := e.gate.AdjustSize(ctx, instr.Symbol, instr.Amount, instr.Price, snap)
	if err != nil {
		return Result{}, fmt.Errorf("executor: adjust size: %w", err)
	}
	if amount <= 0 {
		return Result{Message: "adjusted trade size is zero"}, nil
	}

	decision, err := e.gate.Approve(ctx, domain.ProposedTrade{
		Symbol:   instr.Symbol,
		Side:     instr.Side,
		Amount:   amount,
		Price:    instr.Price,
		Leverage: 1.0,
	}, snap)
	if err != nil {
		return Result{}, fmt.Errorf("executor: risk check: %w", err)
	}
	if !decision.Approved {
		log.Info("risk gate rejected instruction",
			slog.String("check", decision.Check),
			slog.String("reason", decision.Reason),
		)
		return Result{Message: "risk rejected (" + decision.Check + "): " + decision.Reason}, nil
	}

	var fill domain.OrderFill
	if instr.Side == domain.TradeSideBuy {
		fill, err = adapter.CreateMarketBuyOrder(ctx, instr.Symbol, amount)
	} else {
		fill, err = adapter.CreateMarketSellOrder(ctx, instr.Symbol, amount)
	}
	if err != nil {
		log.Error("instruction order failed",
			slog.String("venue", venueID),
			slog.String("error", err.Error()),
		)
		return Result{Message: "order failed: " + err.Error()}, nil
	}

	e.recordFill(ctx, instr.Symbol, venueID, instr.Side, fill)
	if instr.Side == domain.TradeSideSell {
		e.reducePositions(ctx, instr.Symbol, amount, fill.FilledPrice)
	} else {
		e.openPosition(ctx, instr.Symbol, amount, fill.FilledPrice)
	}

	log.Info("instruction executed",
		slog.String("venue", venueID),
		slog.Float64("amount", amount),
		slog.Float64("price", fill.FilledPrice),
	)
	return Result{
		Success: true,
		Message: fmt.Sprintf("%s executed on %s at %.2f", instr.Reason, venueID, fill.FilledPrice),
	}, nil
}

// routeVenue resolves which adapter handles an instruction: the pinned venue
// when set, otherwise the venue quoting the best price for the side (lowest
// ask for buys, highest bid for sells).
func (e *Executor) routeVenue(ctx context.Context, instr domain.TradeInstruction) (string, venue.Adapter, error) {
	if instr.VenueID != "" {
		adapter, ok := e.adapters[instr.VenueID]
		if !ok {
			return "", nil, fmt.Errorf("executor: venue %s: %w", instr.VenueID, domain.ErrUnknownVenue)
		}
		return instr.VenueID, adapter, nil
	}

	var bestID string
	var bestAdapter venue.Adapter
	var bestPrice float64
	for id, adapter := range e.adapters {
		q, err := adapter.FetchTicker(ctx, instr.Symbol)
		if err != nil {
			continue
		}
		var price float64
		if instr.Side == domain.TradeSideBuy {
			price = q.Ask
			if price <= 0 {
				continue
			}
			if bestAdapter == nil || price < bestPrice {
				bestID, bestAdapter, bestPrice = id, adapter, price
			}
		} else {
			price = q.Bid
			if price <= 0 {
				continue
			}
			if bestAdapter == nil || price > bestPrice {
				bestID, bestAdapter, bestPrice = id, adapter, price
			}
		}
	}
	if bestAdapter == nil {
		return "", nil, fmt.Errorf("executor: no venue quotes %s: %w", instr.Symbol, domain.ErrVenueUnavailable)
	}
	return bestID, bestAdapter, nil
}

// revalidate matches the opportunity against a fresh scan.
func (e *Executor) revalidate(ctx context.Context, opp domain.ArbitrageOpportunity) (*domain.ArbitrageOpportunity, error) {
	current, err := e.rescanner.Rescan(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: rescan: %w", err)
	}
	for i := range current {
		c := &current[i]
		if c.Symbol == opp.Symbol && c.BuyVenue == opp.BuyVenue && c.SellVenue == opp.SellVenue {
			if c.NetProfit < e.minProfit {
				return nil, domain.ErrOpportunityGone
			}
			return c, nil
		}
	}
	return nil, domain.ErrOpportunityGone
}

func (e *Executor) runLegs(
	ctx context.Context,
	opp domain.ArbitrageOpportunity,
	amount float64,
	buyAdapter, sellAdapter venue.Adapter,
	log *slog.Logger,
) (Result, error) {
	buyFill, err := buyAdapter.CreateMarketBuyOrder(ctx, opp.Symbol, amount)
	if err != nil {
		log.Error("buy leg failed", slog.String("error", err.Error()))
		return Result{Message: "buy leg failed: " + err.Error()}, nil
	}

	// Persist the intermediate state before touching the sell leg.
	trade := domain.ArbitrageTrade{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		BuyVenue:      opp.BuyVenue,
		SellVenue:     opp.SellVenue,
		BuyOrderID:    buyFill.OrderID,
		Amount:        amount,
		BuyPrice:      buyFill.FilledPrice,
		BuyCost:       buyFill.FilledCost,
		Status:        domain.ArbTradeBuyFilled,
		ExecutedAt:    time.Now().UTC(),
	}
	if err := e.ledger.RecordArbitrageTrade(ctx, trade); err != nil {
		log.Error("failed to persist buy_filled record", slog.String("error", err.Error()))
	}
	e.recordFill(ctx, opp.Symbol, opp.BuyVenue, domain.TradeSideBuy, buyFill)
	posID := e.openPosition(ctx, opp.Symbol, amount, buyFill.FilledPrice)

	if err := e.sleep(ctx, e.cfg.SettleDelay()); err != nil {
		// Shutdown between legs: the buy has filled, so this is a partial
		// fill, not a clean abort.
		return e.partialFill(context.WithoutCancel(ctx), trade, err, log), nil
	}

	sellFill, err := sellAdapter.CreateMarketSellOrder(ctx, opp.Symbol, amount)
	if err != nil {
		return e.partialFill(ctx, trade, err, log), nil
	}

	// 5. Realized profit from actual fills, not the pre-trade estimate.
	realized := sellFill.FilledCost - buyFill.FilledCost
	if err := e.ledger.UpdateArbitrageTradeStatus(ctx, trade.ID, domain.ArbTradeCompleted,
		sellFill.OrderID, sellFill.FilledPrice, sellFill.FilledCost, realized); err != nil {
		log.Error("failed to finalize arbitrage trade", slog.String("error", err.Error()))
	}
	e.recordFill(ctx, opp.Symbol, opp.SellVenue, domain.TradeSideSell, sellFill)
	e.closePositionByID(ctx, posID, sellFill.FilledPrice)

	trade.SellOrderID = sellFill.OrderID
	trade.SellPrice = sellFill.FilledPrice
	trade.SellRevenue = sellFill.FilledCost
	trade.RealizedProfit = realized
	trade.Status = domain.ArbTradeCompleted

	log.Info("arbitrage executed",
		slog.Float64("amount", amount),
		slog.Float64("buy_price", buyFill.FilledPrice),
		slog.Float64("sell_price", sellFill.FilledPrice),
		slog.Float64("realized_profit", realized),
	)
	if e.alerter != nil {
		_ = e.alerter.Notify(ctx, "trade_executed", "Arbitrage executed",
			fmt.Sprintf("%s %s->%s qty %.6f profit %.2f",
				opp.Symbol, opp.BuyVenue, opp.SellVenue, amount, realized))
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("executed with realized profit %.2f", realized),
		Trade:   &trade,
	}, nil
}

// partialFill marks the trade record, keeps the open position in the
// ledger, and escalates. The system now holds unintended exposure; this must
// never be folded into a generic "execution failed".
func (e *Executor) partialFill(ctx context.Context, trade domain.ArbitrageTrade, cause error, log *slog.Logger) Result {
	log.Error("sell leg failed after buy fill, naked position held",
		slog.String("trade_id", trade.ID),
		slog.Float64("amount", trade.Amount),
		slog.String("error", cause.Error()),
	)

	if err := e.ledger.UpdateArbitrageTradeStatus(ctx, trade.ID, domain.ArbTradePartialFill, "", 0, 0,
		-trade.BuyCost); err != nil {
		log.Error("failed to mark partial fill", slog.String("error", err.Error()))
	}
	if e.alerter != nil {
		_ = e.alerter.Notify(ctx, "partial_fill", "Partial fill incident",
			fmt.Sprintf("%s: buy leg filled %.6f @ %.2f on %s, sell leg on %s failed: %v",
				trade.Symbol, trade.Amount, trade.BuyPrice, trade.BuyVenue, trade.SellVenue, cause))
	}

	return Result{
		PartialFill: true,
		Message:     fmt.Sprintf("%v: %v", domain.ErrPartialFill, cause),
		Trade:       &trade,
	}
}

func (e *Executor) recordFill(ctx context.Context, symbol, venueID string, side domain.TradeSide, fill domain.OrderFill) {
	amount := 0.0
	if fill.FilledPrice > 0 {
		amount = fill.FilledCost / fill.FilledPrice
	}
	t := domain.Trade{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		VenueID:    venueID,
		Side:       side,
		Price:      fill.FilledPrice,
		Amount:     amount,
		ExecutedAt: fill.Timestamp,
	}
	if err := e.ledger.RecordTrade(ctx, t); err != nil {
		e.logger.Error("failed to record trade", slog.String("error", err.Error()))
	}
}

// openPosition records the new holding and returns its ID so the caller can
// close exactly this position later, not just any open one for the symbol.
func (e *Executor) openPosition(ctx context.Context, symbol string, qty, entry float64) string {
	profile := e.gate.Profile()
	stop := entry * (1 - profile.StopLoss/100)
	take := entry * (1 + profile.TakeProfit/100)
	pos := domain.Position{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       domain.TradeSideBuy,
		Quantity:   qty,
		EntryPrice: entry,
		StopLoss:   &stop,
		TakeProfit: &take,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
	if err := e.ledger.UpsertPosition(ctx, pos); err != nil {
		e.logger.Error("failed to upsert position", slog.String("error", err.Error()))
	}
	return pos.ID
}

func (e *Executor) closePositionByID(ctx context.Context, id string, exitPrice float64) {
	if err := e.ledger.ClosePosition(ctx, id, exitPrice); err != nil {
		e.logger.Error("failed to close position",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// reducePositions unwinds open exposure in the symbol by the sold quantity,
// oldest positions first. Fully consumed positions are closed; a partially
// consumed one is rewritten with the unsold remainder.
func (e *Executor) reducePositions(ctx context.Context, symbol string, qty, exitPrice float64) {
	positions, err := e.ledger.GetPositions(ctx)
	if err != nil {
		e.logger.Error("failed to load positions", slog.String("error", err.Error()))
		return
	}

	var open []domain.Position
	for _, p := range positions {
		if p.Symbol == symbol && p.Status == domain.PositionStatusOpen {
			open = append(open, p)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].OpenedAt.Before(open[j].OpenedAt)
	})

	remaining := qty
	for _, p := range open {
		if remaining <= 0 {
			return
		}
		if p.Quantity <= remaining+quantityEpsilon {
			e.closePositionByID(ctx, p.ID, exitPrice)
			remaining -= p.Quantity
			continue
		}
		p.Quantity -= remaining
		if err := e.ledger.UpsertPosition(ctx, p); err != nil {
			e.logger.Error("failed to reduce position",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
