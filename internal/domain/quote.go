package domain

import "time"

// PriceQuote is one venue's top-of-book view of a symbol at a point in time.
// Quotes are ephemeral: each aggregator cycle supersedes the previous one.
type PriceQuote struct {
	VenueID    string
	Symbol     string // canonical "BASE/QUOTE"
	Bid        float64
	Ask        float64
	BidVolume  float64
	AskVolume  float64
	Volume     float64 // 24h quote volume
	ObservedAt time.Time
}

// Fresh reports whether the quote is young enough to participate in
// opportunity scoring.
func (q PriceQuote) Fresh(maxAge time.Duration, now time.Time) bool {
	return now.Sub(q.ObservedAt) <= maxAge
}

// PriceTable is the cross-venue price view produced by one aggregator cycle,
// keyed by canonical symbol, then by venue ID.
type PriceTable map[string]map[string]PriceQuote

// Quote looks up a single entry.
func (t PriceTable) Quote(venueID, symbol string) (PriceQuote, bool) {
	byVenue, ok := t[symbol]
	if !ok {
		return PriceQuote{}, false
	}
	q, ok := byVenue[venueID]
	return q, ok
}

// Set inserts a quote, creating the symbol bucket if needed.
func (t PriceTable) Set(q PriceQuote) {
	byVenue, ok := t[q.Symbol]
	if !ok {
		byVenue = make(map[string]PriceQuote)
		t[q.Symbol] = byVenue
	}
	byVenue[q.VenueID] = q
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price  float64
	Amount float64
}

// OrderBook is a depth-limited view of one venue's book for a symbol.
type OrderBook struct {
	VenueID    string
	Symbol     string
	Bids       []BookLevel // best first
	Asks       []BookLevel // best first
	ObservedAt time.Time
}

// Candle is one OHLCV observation persisted to the historical store.
type Candle struct {
	VenueID   string
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}
