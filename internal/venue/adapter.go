// Package venue provides the venue registry, symbol normalization, and one
// exchange adapter per supported venue. Adapters normalize each venue's
// symbol syntax and expose a uniform fetch/order interface.
package venue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantfold/crossarb/internal/domain"
)

// Adapter is the uniform interface over one exchange connection. Symbols are
// always passed in canonical "BASE/QUOTE" form; each adapter converts to its
// venue's native syntax internally.
type Adapter interface {
	Name() string
	LoadMarkets(ctx context.Context) ([]domain.Market, error)
	FetchTicker(ctx context.Context, symbol string) (domain.PriceQuote, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error)
	CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) (domain.OrderFill, error)
	CreateMarketSellOrder(ctx context.Context, symbol string, amount float64) (domain.OrderFill, error)
}

// constructors is the static adapter registry: a closed mapping from venue
// identifier to factory, validated at configuration-load time rather than at
// call time.
var constructors = map[string]func(cfg domain.VenueConfig, logger *slog.Logger) Adapter{
	"binance":  func(cfg domain.VenueConfig, logger *slog.Logger) Adapter { return newBinance(cfg, logger) },
	"kraken":   func(cfg domain.VenueConfig, logger *slog.Logger) Adapter { return newKraken(cfg, logger) },
	"coinbase": func(cfg domain.VenueConfig, logger *slog.Logger) Adapter { return newCoinbase(cfg, logger) },
}

// Supported reports whether a venue identifier has a registered adapter.
func Supported(venueID string) bool {
	_, ok := constructors[venueID]
	return ok
}

// NewAdapter builds the adapter for a venue. Sandbox venues are wrapped in a
// paper-trading layer that simulates fills against live tickers instead of
// placing real orders.
func NewAdapter(cfg domain.VenueConfig, logger *slog.Logger) (Adapter, error) {
	ctor, ok := constructors[cfg.ID]
	if !ok {
		return nil, fmt.Errorf("venue: %s: %w", cfg.ID, domain.ErrUnknownVenue)
	}
	a := ctor(cfg, logger)
	if cfg.Sandbox {
		return newPaperAdapter(a, logger), nil
	}
	return a, nil
}
