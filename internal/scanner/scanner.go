// Package scanner enumerates cross-venue arbitrage opportunities from a
// price table and ranks them by fee-adjusted net profit.
package scanner

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/crossarb/internal/config"
	"github.com/quantfold/crossarb/internal/domain"
	"github.com/quantfold/crossarb/internal/venue"
)

// Scanner scans a price table for profitable venue pairs. It is stateless
// between scans: running it twice on an unchanged table yields an identical,
// identically-ordered result.
type Scanner struct {
	registry *venue.Registry
	cfg      config.ScannerConfig
	maxAge   time.Duration
	logger   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Scanner. maxAge is the quote freshness window; quotes older
// than this never participate in scoring.
func New(registry *venue.Registry, cfg config.ScannerConfig, maxAge time.Duration, logger *slog.Logger) *Scanner {
	return &Scanner{
		registry: registry,
		cfg:      cfg,
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "scanner")),
		now:      time.Now,
	}
}

// Scan returns all opportunities with net profit at or above the configured
// threshold, sorted descending by net profit (ties broken by symbol, then
// buy venue, then sell venue, for deterministic output).
func (s *Scanner) Scan(table domain.PriceTable) []domain.ArbitrageOpportunity {
	now := s.now().UTC()
	var opps []domain.ArbitrageOpportunity

	for symbol, byVenue := range table {
		fresh := make([]domain.PriceQuote, 0, len(byVenue))
		for _, q := range byVenue {
			if q.Fresh(s.maxAge, now) && q.Bid > 0 && q.Ask > 0 {
				fresh = append(fresh, q)
			}
		}
		// Fewer than two fresh quotes: the symbol yields nothing this cycle.
		if len(fresh) < 2 {
			continue
		}

		for _, buy := range fresh {
			for _, sell := range fresh {
				if buy.VenueID == sell.VenueID {
					continue
				}
				opp, ok := s.evaluate(symbol, buy, sell, now)
				if ok {
					opps = append(opps, opp)
				}
			}
		}
	}

	sort.Slice(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.NetProfit != b.NetProfit {
			return a.NetProfit > b.NetProfit
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.BuyVenue != b.BuyVenue {
			return a.BuyVenue < b.BuyVenue
		}
		return a.SellVenue < b.SellVenue
	})
	return opps
}

// evaluate prices one ordered (buy, sell) venue pair: buy at the buy venue's
// ask, sell at the sell venue's bid, fees at both venues' taker rates.
func (s *Scanner) evaluate(symbol string, buy, sell domain.PriceQuote, now time.Time) (domain.ArbitrageOpportunity, bool) {
	buyFee, err := s.registry.TakerFee(buy.VenueID)
	if err != nil {
		return domain.ArbitrageOpportunity{}, false
	}
	sellFee, err := s.registry.TakerFee(sell.VenueID)
	if err != nil {
		return domain.ArbitrageOpportunity{}, false
	}

	gross := (sell.Bid/buy.Ask - 1) * 100
	fees := (buyFee + sellFee) * 100
	net := gross - fees
	if net < s.cfg.MinProfitPercent {
		return domain.ArbitrageOpportunity{}, false
	}

	// Quoted volume rarely reflects usable book depth at the top-of-book
	// price; scale down by the safety factor.
	maxVolume := min(buy.Volume, sell.Volume) * s.cfg.VolumeSafetyFactor

	return domain.ArbitrageOpportunity{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		BuyVenue:     buy.VenueID,
		SellVenue:    sell.VenueID,
		BuyPrice:     buy.Ask,
		SellPrice:    sell.Bid,
		GrossProfit:  gross,
		TotalFees:    fees,
		NetProfit:    net,
		MaxVolume:    maxVolume,
		DiscoveredAt: now,
	}, true
}
