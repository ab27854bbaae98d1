package venue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/crossarb/internal/domain"
)

// paperAdapter wraps a live adapter for sandbox venues. Market data calls
// pass through; order calls are simulated by filling at the venue's current
// top of book, so the rest of the pipeline behaves exactly as in live mode.
type paperAdapter struct {
	live   Adapter
	logger *slog.Logger
}

func newPaperAdapter(live Adapter, logger *slog.Logger) *paperAdapter {
	return &paperAdapter{
		live:   live,
		logger: logger.With(slog.String("venue", live.Name()), slog.Bool("paper", true)),
	}
}

func (p *paperAdapter) Name() string { return p.live.Name() }

func (p *paperAdapter) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	return p.live.LoadMarkets(ctx)
}

func (p *paperAdapter) FetchTicker(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	return p.live.FetchTicker(ctx, symbol)
}

func (p *paperAdapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	return p.live.FetchOrderBook(ctx, symbol, depth)
}

// CreateMarketBuyOrder simulates a fill at the current best ask.
func (p *paperAdapter) CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) (domain.OrderFill, error) {
	q, err := p.live.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("paper: fetch ticker for buy fill: %w", err)
	}
	if q.Ask <= 0 {
		return domain.OrderFill{}, fmt.Errorf("paper: no ask price for %s: %w", symbol, domain.ErrVenueUnavailable)
	}
	fill := domain.OrderFill{
		OrderID:     "paper-" + uuid.New().String(),
		FilledPrice: q.Ask,
		FilledCost:  q.Ask * amount,
		Timestamp:   time.Now().UTC(),
	}
	p.logger.Info("paper buy filled",
		slog.String("symbol", symbol),
		slog.Float64("amount", amount),
		slog.Float64("price", fill.FilledPrice),
	)
	return fill, nil
}

// CreateMarketSellOrder simulates a fill at the current best bid.
func (p *paperAdapter) CreateMarketSellOrder(ctx context.Context, symbol string, amount float64) (domain.OrderFill, error) {
	q, err := p.live.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("paper: fetch ticker for sell fill: %w", err)
	}
	if q.Bid <= 0 {
		return domain.OrderFill{}, fmt.Errorf("paper: no bid price for %s: %w", symbol, domain.ErrVenueUnavailable)
	}
	fill := domain.OrderFill{
		OrderID:     "paper-" + uuid.New().String(),
		FilledPrice: q.Bid,
		FilledCost:  q.Bid * amount,
		Timestamp:   time.Now().UTC(),
	}
	p.logger.Info("paper sell filled",
		slog.String("symbol", symbol),
		slog.Float64("amount", amount),
		slog.Float64("price", fill.FilledPrice),
	)
	return fill, nil
}
