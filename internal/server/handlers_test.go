package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/crossarb/internal/domain"
)

type stubOpportunitySource struct {
	opps []domain.ArbitrageOpportunity
	err  error
}

func (s *stubOpportunitySource) Rescan(ctx context.Context) ([]domain.ArbitrageOpportunity, error) {
	return s.opps, s.err
}

type stubTradeHistory struct {
	rec domain.ArbitrageTrade
	err error
}

func (s *stubTradeHistory) GetArbitrageTrade(ctx context.Context, id string) (domain.ArbitrageTrade, error) {
	if s.err != nil {
		return domain.ArbitrageTrade{}, s.err
	}
	return s.rec, nil
}

func serve(h *handlers, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	newMux(h).ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h := &handlers{logger: slog.Default()}

	rec := serve(h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestListOpportunities(t *testing.T) {
	h := &handlers{
		opps: &stubOpportunitySource{opps: []domain.ArbitrageOpportunity{{
			ID:        "opp-1",
			Symbol:    "BTC/USDT",
			BuyVenue:  "binance",
			SellVenue: "kraken",
			NetProfit: 0.7,
		}}},
		logger: slog.Default(),
	}

	rec := serve(h, http.MethodGet, "/opportunities")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"BTC/USDT"`)
	assert.Contains(t, rec.Body.String(), `"buy_venue":"binance"`)
}

func TestGetArbitrageTrade(t *testing.T) {
	h := &handlers{
		trades: &stubTradeHistory{rec: domain.ArbitrageTrade{
			ID:             "trade-1",
			Symbol:         "BTC/USDT",
			BuyVenue:       "binance",
			SellVenue:      "kraken",
			Amount:         0.01,
			RealizedProfit: 5,
			Status:         domain.ArbTradePartialFill,
			ExecutedAt:     time.Now().UTC(),
		}},
		logger: slog.Default(),
	}

	rec := serve(h, http.MethodGet, "/arbitrage/trades/trade-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"trade-1"`)
	assert.Contains(t, rec.Body.String(), `"status":"partial_fill"`)
}

func TestGetArbitrageTradeNotFound(t *testing.T) {
	h := &handlers{
		trades: &stubTradeHistory{err: domain.ErrNotFound},
		logger: slog.Default(),
	}

	rec := serve(h, http.MethodGet, "/arbitrage/trades/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
