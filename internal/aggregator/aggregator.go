// Package aggregator builds the cross-venue price table. Each refresh cycle
// fans out over all enabled venue adapters concurrently, with a bounded
// timeout per venue; venues that error or time out are excluded from that
// cycle's output without aborting the cycle.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/crossarb/internal/config"
	"github.com/quantfold/crossarb/internal/domain"
	"github.com/quantfold/crossarb/internal/venue"
)

// Alerter is the notification surface the aggregator needs for venue-outage
// escalation. Implemented by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Aggregator polls tickers from every enabled adapter and serves the
// resulting price table. Cached quotes back the display/estimation path
// only; execution decisions always use the live cycle's table.
type Aggregator struct {
	adapters map[string]venue.Adapter
	symbols  []string
	cfg      config.AggregatorConfig
	cache    domain.QuoteCache   // may be nil
	history  domain.HistoryStore // may be nil
	alerter  Alerter             // may be nil
	logger   *slog.Logger

	mu       sync.RWMutex
	table    domain.PriceTable
	failures map[string]int // consecutive failed cycles per venue
}

// New creates an Aggregator over the given adapters. cache, history and
// alerter are optional; nil disables the corresponding side effect.
func New(
	adapters map[string]venue.Adapter,
	symbols []string,
	cfg config.AggregatorConfig,
	cache domain.QuoteCache,
	history domain.HistoryStore,
	alerter Alerter,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		adapters: adapters,
		symbols:  symbols,
		cfg:      cfg,
		cache:    cache,
		history:  history,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "aggregator")),
		table:    make(domain.PriceTable),
		failures: make(map[string]int),
	}
}

// Refresh runs one scatter/gather cycle and returns the fresh price table.
// The cycle completes once every venue has either returned or timed out.
func (a *Aggregator) Refresh(ctx context.Context) (domain.PriceTable, error) {
	table := make(domain.PriceTable)
	var tableMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for id, adapter := range a.adapters {
		g.Go(func() error {
			quotes, err := a.fetchVenue(gctx, adapter)
			if err != nil {
				// One venue failing must not abort the cycle.
				a.venueFailed(ctx, id, err)
				return nil
			}
			a.venueRecovered(id)

			tableMu.Lock()
			for _, q := range quotes {
				table.Set(q)
			}
			tableMu.Unlock()

			a.recordQuotes(quotes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregator: refresh: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	a.mu.Lock()
	a.table = table
	a.mu.Unlock()

	return table, nil
}

// fetchVenue pulls all configured symbols from one venue under the per-venue
// timeout. Symbols the venue does not list are skipped, not errors.
func (a *Aggregator) fetchVenue(ctx context.Context, adapter venue.Adapter) ([]domain.PriceQuote, error) {
	vctx, cancel := context.WithTimeout(ctx, a.cfg.VenueTimeout())
	defer cancel()

	quotes := make([]domain.PriceQuote, 0, len(a.symbols))
	var lastErr error
	for _, symbol := range a.symbols {
		q, err := adapter.FetchTicker(vctx, symbol)
		if err != nil {
			if vctx.Err() != nil {
				return nil, fmt.Errorf("aggregator: %s timed out: %w", adapter.Name(), domain.ErrVenueUnavailable)
			}
			lastErr = err
			continue
		}
		if q.Bid <= 0 || q.Ask <= 0 || q.Bid > q.Ask {
			continue // malformed quote, treat as missing
		}
		quotes = append(quotes, q)
	}

	if len(quotes) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("aggregator: %s returned no quotes: %w", adapter.Name(), lastErr)
		}
		return nil, fmt.Errorf("aggregator: %s returned no quotes: %w", adapter.Name(), domain.ErrVenueUnavailable)
	}
	return quotes, nil
}

// recordQuotes writes quotes to the cache and the historical store.
// Fire-and-forget: failures are logged and never block the cycle.
func (a *Aggregator) recordQuotes(quotes []domain.PriceQuote) {
	if a.cache == nil && a.history == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, q := range quotes {
			if a.cache != nil {
				if err := a.cache.SetQuote(ctx, q); err != nil {
					a.logger.Warn("cache write failed", slog.String("error", err.Error()))
				}
			}
			if a.history != nil {
				mid := (q.Bid + q.Ask) / 2
				c := domain.Candle{
					VenueID:   q.VenueID,
					Symbol:    q.Symbol,
					Open:      mid,
					High:      q.Ask,
					Low:       q.Bid,
					Close:     mid,
					Volume:    q.Volume,
					Timestamp: q.ObservedAt,
				}
				if err := a.history.RecordCandle(ctx, c); err != nil {
					a.logger.Warn("history write failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

func (a *Aggregator) venueFailed(ctx context.Context, venueID string, err error) {
	a.mu.Lock()
	a.failures[venueID]++
	n := a.failures[venueID]
	a.mu.Unlock()

	a.logger.Warn("venue excluded from cycle",
		slog.String("venue", venueID),
		slog.Int("consecutive_failures", n),
		slog.String("error", err.Error()),
	)

	// Persistent outages escalate to an operator alert; transient single-cycle
	// failures are routine.
	if a.alerter != nil && n == a.cfg.OutageAlertCycles {
		_ = a.alerter.Notify(ctx, "venue_outage", "Venue outage",
			fmt.Sprintf("venue %s has failed %d consecutive refresh cycles", venueID, n))
	}
}

func (a *Aggregator) venueRecovered(venueID string) {
	a.mu.Lock()
	a.failures[venueID] = 0
	a.mu.Unlock()
}

// Quote returns the quote for (venue, symbol) from the most recent completed
// cycle. Returns domain.ErrNotFound when the venue did not report the symbol
// this cycle.
func (a *Aggregator) Quote(venueID, symbol string) (domain.PriceQuote, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.table.Quote(venueID, symbol)
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("aggregator: %s/%s: %w", venueID, symbol, domain.ErrNotFound)
	}
	return q, nil
}

// Table returns the most recent completed cycle's price table.
func (a *Aggregator) Table() domain.PriceTable {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.table
}

// SnapshotWithFallback merges the live table with cached quotes no older
// than the fallback staleness bound. For display and estimation paths only;
// never used for execution decisions.
func (a *Aggregator) SnapshotWithFallback(ctx context.Context) domain.PriceTable {
	merged := make(domain.PriceTable)

	if a.cache != nil {
		cached, err := a.cache.GetAll(ctx, a.cfg.FallbackMaxStale())
		if err != nil {
			a.logger.Warn("fallback cache read failed", slog.String("error", err.Error()))
		}
		for _, q := range cached {
			merged.Set(q)
		}
	}

	// Live quotes win over cached ones.
	a.mu.RLock()
	for _, byVenue := range a.table {
		for _, q := range byVenue {
			merged.Set(q)
		}
	}
	a.mu.RUnlock()

	return merged
}
