package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/crossarb/internal/config"
	"github.com/quantfold/crossarb/internal/domain"
	"github.com/quantfold/crossarb/internal/venue"
)

type fakeAdapter struct {
	name   string
	quotes map[string]domain.PriceQuote
	err    error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchTicker(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	if f.err != nil {
		return domain.PriceQuote{}, f.err
	}
	q, ok := f.quotes[symbol]
	if !ok {
		return domain.PriceQuote{}, domain.ErrUnknownSymbol
	}
	return q, nil
}

func (f *fakeAdapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	return domain.OrderBook{}, errors.New("not implemented")
}

func (f *fakeAdapter) CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) (domain.OrderFill, error) {
	return domain.OrderFill{}, errors.New("not implemented")
}

func (f *fakeAdapter) CreateMarketSellOrder(ctx context.Context, symbol string, amount float64) (domain.OrderFill, error) {
	return domain.OrderFill{}, errors.New("not implemented")
}

type fakeCache struct {
	mu     sync.Mutex
	quotes []domain.PriceQuote
}

func (f *fakeCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes = append(f.quotes, q)
	return nil
}

func (f *fakeCache) GetQuote(ctx context.Context, venueID, symbol string) (domain.PriceQuote, error) {
	return domain.PriceQuote{}, domain.ErrNotFound
}

func (f *fakeCache) GetAll(ctx context.Context, maxStale time.Duration) ([]domain.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PriceQuote(nil), f.quotes...), nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAlerter) Notify(ctx context.Context, event, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testConfig() config.AggregatorConfig {
	return config.AggregatorConfig{
		PollIntervalMS:     2000,
		VenueTimeoutMS:     1500,
		QuoteMaxAgeMS:      5000,
		FallbackMaxStaleMS: 60000,
		OutageAlertCycles:  3,
	}
}

func quoteFor(venueID, symbol string, bid, ask float64) domain.PriceQuote {
	return domain.PriceQuote{
		VenueID: venueID, Symbol: symbol,
		Bid: bid, Ask: ask, Volume: 100,
		ObservedAt: time.Now().UTC(),
	}
}

func TestRefreshBuildsTable(t *testing.T) {
	adapters := map[string]venue.Adapter{
		"binance": &fakeAdapter{name: "binance", quotes: map[string]domain.PriceQuote{
			"BTC/USDT": quoteFor("binance", "BTC/USDT", 49_990, 50_000),
		}},
		"kraken": &fakeAdapter{name: "kraken", quotes: map[string]domain.PriceQuote{
			"BTC/USDT": quoteFor("kraken", "BTC/USDT", 50_490, 50_500),
		}},
	}
	a := New(adapters, []string{"BTC/USDT"}, testConfig(), nil, nil, nil, slog.Default())

	table, err := a.Refresh(context.Background())
	require.NoError(t, err)
	require.Contains(t, table, "BTC/USDT")
	assert.Len(t, table["BTC/USDT"], 2)

	q, err := a.Quote("binance", "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 50_000.0, q.Ask)
}

func TestRefreshExcludesFailingVenueWithoutAborting(t *testing.T) {
	adapters := map[string]venue.Adapter{
		"binance": &fakeAdapter{name: "binance", quotes: map[string]domain.PriceQuote{
			"BTC/USDT": quoteFor("binance", "BTC/USDT", 49_990, 50_000),
		}},
		"kraken": &fakeAdapter{name: "kraken", err: errors.New("connection refused")},
	}
	a := New(adapters, []string{"BTC/USDT"}, testConfig(), nil, nil, nil, slog.Default())

	table, err := a.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, table["BTC/USDT"], 1)

	_, err = a.Quote("kraken", "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRefreshDropsMalformedQuotes(t *testing.T) {
	adapters := map[string]venue.Adapter{
		"binance": &fakeAdapter{name: "binance", quotes: map[string]domain.PriceQuote{
			"BTC/USDT": quoteFor("binance", "BTC/USDT", 50_000, 49_000), // crossed
			"ETH/USDT": quoteFor("binance", "ETH/USDT", 2_999, 3_000),
		}},
	}
	a := New(adapters, []string{"BTC/USDT", "ETH/USDT"}, testConfig(), nil, nil, nil, slog.Default())

	table, err := a.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, table, "BTC/USDT")
	assert.Contains(t, table, "ETH/USDT")
}

func TestOutageAlertAfterConsecutiveFailures(t *testing.T) {
	adapters := map[string]venue.Adapter{
		"kraken": &fakeAdapter{name: "kraken", err: errors.New("connection refused")},
	}
	alerter := &recordingAlerter{}
	a := New(adapters, []string{"BTC/USDT"}, testConfig(), nil, nil, alerter, slog.Default())

	for i := 0; i < 5; i++ {
		_, err := a.Refresh(context.Background())
		require.NoError(t, err)
	}

	// Fired exactly once, at the configured cycle count, not on every
	// subsequent failure.
	require.Equal(t, 1, alerter.count())
	assert.Equal(t, "venue_outage", alerter.events[0])
}

func TestOutageCounterResetsOnRecovery(t *testing.T) {
	failing := &fakeAdapter{name: "kraken", err: errors.New("connection refused")}
	alerter := &recordingAlerter{}
	a := New(map[string]venue.Adapter{"kraken": failing}, []string{"BTC/USDT"}, testConfig(), nil, nil, alerter, slog.Default())

	for i := 0; i < 2; i++ {
		_, err := a.Refresh(context.Background())
		require.NoError(t, err)
	}

	// Venue comes back for one cycle, then fails again: the counter restarts
	// and never reaches the alert threshold.
	failing.err = nil
	failing.quotes = map[string]domain.PriceQuote{
		"BTC/USDT": quoteFor("kraken", "BTC/USDT", 50_490, 50_500),
	}
	_, err := a.Refresh(context.Background())
	require.NoError(t, err)

	failing.err = errors.New("connection refused")
	for i := 0; i < 2; i++ {
		_, err := a.Refresh(context.Background())
		require.NoError(t, err)
	}

	assert.Zero(t, alerter.count())
}

func TestSnapshotWithFallbackPrefersLiveQuotes(t *testing.T) {
	cache := &fakeCache{quotes: []domain.PriceQuote{
		quoteFor("kraken", "BTC/USDT", 50_000, 50_010),  // stale copy, superseded
		quoteFor("coinbase", "ETH/USDT", 2_999, 3_000), // only in cache
	}}

	adapters := map[string]venue.Adapter{
		"kraken": &fakeAdapter{name: "kraken", quotes: map[string]domain.PriceQuote{
			"BTC/USDT": quoteFor("kraken", "BTC/USDT", 50_490, 50_500),
		}},
	}
	a := New(adapters, []string{"BTC/USDT"}, testConfig(), cache, nil, nil, slog.Default())

	_, err := a.Refresh(context.Background())
	require.NoError(t, err)

	merged := a.SnapshotWithFallback(context.Background())

	live, ok := merged.Quote("kraken", "BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, 50_500.0, live.Ask)

	cached, ok := merged.Quote("coinbase", "ETH/USDT")
	require.True(t, ok)
	assert.Equal(t, 3_000.0, cached.Ask)
}
