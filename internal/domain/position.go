package domain

import "time"

// TradeSide indicates whether a trade bought or sold the base asset.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position represents an open or historical holding. Positions are owned by
// the ledger: risk and planning code only reads them, and they are mutated
// exclusively through the executor's confirmed fills.
type Position struct {
	ID         string
	Symbol     string
	Side       TradeSide
	Quantity   float64
	EntryPrice float64
	StopLoss   *float64
	TakeProfit *float64
	Status     PositionStatus
	OpenedAt   time.Time
	ClosedAt   *time.Time
	ExitPrice  *float64
}

// Notional returns the position's value at the given mark price.
func (p Position) Notional(markPrice float64) float64 {
	return p.Quantity * markPrice
}

// Trade is one executed order as recorded in the ledger.
type Trade struct {
	ID         string
	Symbol     string
	VenueID    string
	Side       TradeSide
	Price      float64
	Amount     float64
	Fee        float64
	ExecutedAt time.Time
}

// SignedValue is the trade's contribution to daily P&L accounting:
// sells positive, buys negative, weighted by price x amount.
func (t Trade) SignedValue() float64 {
	v := t.Price * t.Amount
	if t.Side == TradeSideBuy {
		return -v
	}
	return v
}

// PortfolioSnapshot is a point-in-time, read-only view of the ledger used
// for risk decisions. It reflects the state "as of now" and is not held
// under any lock across the decision that consumes it.
type PortfolioSnapshot struct {
	TotalValue float64
	Exposures  map[string]float64 // canonical symbol -> notional
	TakenAt    time.Time
}
