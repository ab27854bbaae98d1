package domain

import (
	"context"
	"time"
)

// Ledger is the portfolio/ledger storage collaborator. All writes are
// assumed durable once they return.
type Ledger interface {
	GetPortfolioValue(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetTradesSince(ctx context.Context, since time.Time) ([]Trade, error)
	RecordTrade(ctx context.Context, trade Trade) error
	UpsertPosition(ctx context.Context, pos Position) error
	ClosePosition(ctx context.Context, id string, exitPrice float64) error
	RecordArbitrageTrade(ctx context.Context, rec ArbitrageTrade) error
	UpdateArbitrageTradeStatus(ctx context.Context, id string, status ArbitrageTradeStatus, sellOrderID string, sellPrice, sellRevenue, realized float64) error
	GetArbitrageTrade(ctx context.Context, id string) (ArbitrageTrade, error)
}

// HistoryReader provides historical closes for Kelly sizing, correlation
// hedging and mean-variance optimization. Closes are ordered oldest first.
type HistoryReader interface {
	GetCloses(ctx context.Context, symbol string, lookback int) ([]float64, error)
}

// HistoryStore extends HistoryReader with the aggregator's write path.
type HistoryStore interface {
	HistoryReader
	RecordCandle(ctx context.Context, c Candle) error
	GetCandlesSince(ctx context.Context, since time.Time) ([]Candle, error)
}

// QuoteCache holds the most recent quote per (venue, symbol) for fallback
// and display paths. Never consulted for execution decisions.
type QuoteCache interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	GetQuote(ctx context.Context, venueID, symbol string) (PriceQuote, error)
	GetAll(ctx context.Context, maxStale time.Duration) ([]PriceQuote, error)
}
