package domain

import "time"

// ArbitrageOpportunity is a detected cross-venue price discrepancy for one
// symbol. Recomputed every scan cycle; only persisted indirectly, as part of
// an ArbitrageTrade when an execution is attempted.
type ArbitrageOpportunity struct {
	ID           string
	Symbol       string
	BuyVenue     string
	SellVenue    string
	BuyPrice     float64 // buy venue best ask
	SellPrice    float64 // sell venue best bid
	GrossProfit  float64 // percent
	TotalFees    float64 // percent, both taker legs
	NetProfit    float64 // percent
	MaxVolume    float64 // estimated tradeable volume in quote currency
	DiscoveredAt time.Time
}

// ArbitrageTradeStatus tracks the two-phase buy-then-sell lifecycle. The
// intermediate buy_filled state is persisted before the sell leg fires so a
// crash between legs leaves an inspectable record of the naked position.
type ArbitrageTradeStatus string

const (
	ArbTradeBuyFilled   ArbitrageTradeStatus = "buy_filled"
	ArbTradeCompleted   ArbitrageTradeStatus = "completed"
	ArbTradePartialFill ArbitrageTradeStatus = "partial_fill"
	ArbTradeFailed      ArbitrageTradeStatus = "failed"
)

// ArbitrageTrade is the immutable record of one executed (or attempted)
// arbitrage order pair. Realized figures come from actual fills, not from
// the pre-trade opportunity estimate.
type ArbitrageTrade struct {
	ID             string
	OpportunityID  string
	Symbol         string
	BuyVenue       string
	SellVenue      string
	BuyOrderID     string
	SellOrderID    string
	Amount         float64 // base-currency quantity
	BuyPrice       float64 // realized
	SellPrice      float64 // realized
	BuyCost        float64 // realized quote spent
	SellRevenue    float64 // realized quote received
	RealizedProfit float64 // SellRevenue - BuyCost
	Status         ArbitrageTradeStatus
	ExecutedAt     time.Time
}
