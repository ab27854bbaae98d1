package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfold/crossarb/internal/domain"
)

type handlers struct {
	opps   OpportunitySource
	gate   Gate
	exec   TradeExecutor
	trades TradeHistory
	logger *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type opportunityResponse struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	BuyVenue     string    `json:"buy_venue"`
	SellVenue    string    `json:"sell_venue"`
	BuyPrice     float64   `json:"buy_price"`
	SellPrice    float64   `json:"sell_price"`
	GrossProfit  float64   `json:"gross_profit_percent"`
	TotalFees    float64   `json:"total_fees_percent"`
	NetProfit    float64   `json:"net_profit_percent"`
	MaxVolume    float64   `json:"max_volume"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

func (h *handlers) listOpportunities(w http.ResponseWriter, r *http.Request) {
	opps, err := h.opps.Rescan(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "scan failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "scan failed")
		return
	}

	out := make([]opportunityResponse, 0, len(opps))
	for _, o := range opps {
		out = append(out, opportunityResponse{
			ID:           o.ID,
			Symbol:       o.Symbol,
			BuyVenue:     o.BuyVenue,
			SellVenue:    o.SellVenue,
			BuyPrice:     o.BuyPrice,
			SellPrice:    o.SellPrice,
			GrossProfit:  o.GrossProfit,
			TotalFees:    o.TotalFees,
			NetProfit:    o.NetProfit,
			MaxVolume:    o.MaxVolume,
			DiscoveredAt: o.DiscoveredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": out})
}

type executeRequest struct {
	Symbol    string  `json:"symbol"`
	BuyVenue  string  `json:"buy_venue"`
	SellVenue string  `json:"sell_venue"`
	Amount    float64 `json:"amount"` // base quantity, 0 to auto-size
}

type executeResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	PartialFill bool    `json:"partial_fill"`
	TradeID     string  `json:"trade_id,omitempty"`
	Realized    float64 `json:"realized_profit,omitempty"`
}

// executeArbitrage accepts the opportunity coordinates, not its prices: the
// executor re-scans before firing, so the caller cannot submit stale numbers.
func (h *handlers) executeArbitrage(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Symbol == "" || req.BuyVenue == "" || req.SellVenue == "" {
		writeError(w, http.StatusBadRequest, "symbol, buy_venue and sell_venue are required")
		return
	}

	result, err := h.exec.Execute(r.Context(), domain.ArbitrageOpportunity{
		Symbol:    req.Symbol,
		BuyVenue:  req.BuyVenue,
		SellVenue: req.SellVenue,
	}, req.Amount)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "execution error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "execution error")
		return
	}

	resp := executeResponse{
		Success:     result.Success,
		Message:     result.Message,
		PartialFill: result.PartialFill,
	}
	if result.Trade != nil {
		resp.TradeID = result.Trade.ID
		resp.Realized = result.Trade.RealizedProfit
	}
	writeJSON(w, http.StatusOK, resp)
}

type arbitrageTradeResponse struct {
	ID             string    `json:"id"`
	OpportunityID  string    `json:"opportunity_id"`
	Symbol         string    `json:"symbol"`
	BuyVenue       string    `json:"buy_venue"`
	SellVenue      string    `json:"sell_venue"`
	BuyOrderID     string    `json:"buy_order_id"`
	SellOrderID    string    `json:"sell_order_id,omitempty"`
	Amount         float64   `json:"amount"`
	BuyPrice       float64   `json:"buy_price"`
	SellPrice      float64   `json:"sell_price"`
	BuyCost        float64   `json:"buy_cost"`
	SellRevenue    float64   `json:"sell_revenue"`
	RealizedProfit float64   `json:"realized_profit"`
	Status         string    `json:"status"`
	ExecutedAt     time.Time `json:"executed_at"`
}

func (h *handlers) getArbitrageTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := h.trades.GetArbitrageTrade(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "trade lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "trade lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, arbitrageTradeResponse{
		ID:             rec.ID,
		OpportunityID:  rec.OpportunityID,
		Symbol:         rec.Symbol,
		BuyVenue:       rec.BuyVenue,
		SellVenue:      rec.SellVenue,
		BuyOrderID:     rec.BuyOrderID,
		SellOrderID:    rec.SellOrderID,
		Amount:         rec.Amount,
		BuyPrice:       rec.BuyPrice,
		SellPrice:      rec.SellPrice,
		BuyCost:        rec.BuyCost,
		SellRevenue:    rec.SellRevenue,
		RealizedProfit: rec.RealizedProfit,
		Status:         string(rec.Status),
		ExecutedAt:     rec.ExecutedAt,
	})
}

type approveRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Amount   float64 `json:"amount"`
	Price    float64 `json:"price"`
	Leverage float64 `json:"leverage"`
}

type approveResponse struct {
	Approved bool   `json:"approved"`
	Check    string `json:"check,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (h *handlers) approveRisk(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	side := domain.TradeSide(req.Side)
	if side != domain.TradeSideBuy && side != domain.TradeSideSell {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	if req.Leverage <= 0 {
		req.Leverage = 1.0
	}

	snap, err := h.gate.Snapshot(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "snapshot failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "portfolio snapshot failed")
		return
	}

	decision, err := h.gate.Approve(r.Context(), domain.ProposedTrade{
		Symbol:   req.Symbol,
		Side:     side,
		Amount:   req.Amount,
		Price:    req.Price,
		Leverage: req.Leverage,
	}, snap)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "risk check failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "risk check failed")
		return
	}

	writeJSON(w, http.StatusOK, approveResponse{
		Approved: decision.Approved,
		Check:    decision.Check,
		Reason:   decision.Reason,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
