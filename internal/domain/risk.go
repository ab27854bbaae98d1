package domain

import "time"

// RiskProfile is a named bundle of risk limits. One profile is active at a
// time; swapping profiles takes effect on the next risk check.
type RiskProfile struct {
	Name                 string
	MaxPositionFraction  float64 // fraction of portfolio per position
	MaxDailyLossFraction float64 // fraction of portfolio
	StopLoss             float64 // percent
	TakeProfit           float64 // percent
	MaxLeverage          float64
	MinProfitVsFees      bool // enable the profitability-floor check
}

// ProposedTrade is the input to a risk gate approval.
type ProposedTrade struct {
	Symbol   string
	Side     TradeSide
	Amount   float64 // base quantity
	Price    float64 // expected execution price
	Leverage float64
}

// Notional returns price x amount.
func (t ProposedTrade) Notional() float64 {
	return t.Price * t.Amount
}

// Decision is the outcome of a risk gate check. Rejections always name the
// specific check that failed; they are expected, frequent, non-fatal
// outcomes rather than errors.
type Decision struct {
	Approved bool
	Check    string // which check failed, empty when approved
	Reason   string
}

// TradeInstruction is a single-leg trade emitted by the hedge/rebalance
// planner. Instructions flow through the same risk gate and execution path
// as arbitrage trades.
type TradeInstruction struct {
	Symbol    string
	VenueID   string
	Side      TradeSide
	Amount    float64 // base quantity
	Price     float64 // reference price used for sizing
	Reason    string  // "rebalance", "volatility_hedge" or "flash_crash_exit"
	StopPrice *float64
}

// MarketRegime is a coarse classification of current conditions, consumed by
// the leverage recommendation.
type MarketRegime string

const (
	RegimeBull     MarketRegime = "bull"
	RegimeBear     MarketRegime = "bear"
	RegimeSideways MarketRegime = "sideways"
)

// PredictionAction is the directional call of the prediction oracle.
type PredictionAction string

const (
	ActionBuy  PredictionAction = "buy"
	ActionSell PredictionAction = "sell"
	ActionHold PredictionAction = "hold"
)

// Prediction is the opaque output of the external price-direction model.
type Prediction struct {
	Action     PredictionAction
	Confidence float64 // in [0,1]
	Regime     MarketRegime
	At         time.Time
}

// Predictor scores the latest candle. Model internals and retraining are
// out of scope; the engine treats this as an external oracle.
type Predictor interface {
	Predict(candle Candle) (Prediction, error)
}
