package domain

import "time"

// VenueConfig describes one trading venue as loaded from configuration.
// Instances are immutable after the registry is built; a credential change
// requires a config reload, which rebuilds the registry.
type VenueConfig struct {
	ID           string
	MakerFee     float64 // fraction, e.g. 0.001 for 0.1%
	TakerFee     float64 // fraction
	SymbolFormat string  // "slash", "dash" or "concat"
	RateLimit    int     // max requests per minute
	Sandbox      bool
	Enabled      bool
	APIKey       string
	APISecret    string
	BaseURL      string // override for testing; empty means the venue default
}

// OrderFill is the minimal result every venue order call must return.
type OrderFill struct {
	OrderID     string
	FilledPrice float64
	FilledCost  float64 // quote-currency cost (buy) or proceeds (sell)
	Timestamp   time.Time
}

// Market describes one tradeable pair on a venue in canonical form.
type Market struct {
	VenueID   string
	Base      string
	Quote     string
	RawSymbol string // the venue's native symbol string
	MinAmount float64
}
