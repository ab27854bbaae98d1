package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quantfold/crossarb/internal/domain"
)

const binanceDefaultURL = "https://api.binance.com"

// binanceAdapter implements Adapter against the Binance spot REST API.
type binanceAdapter struct {
	cfg    domain.VenueConfig
	rest   *restClient
	logger *slog.Logger
}

func newBinance(cfg domain.VenueConfig, logger *slog.Logger) *binanceAdapter {
	base := cfg.BaseURL
	if base == "" {
		base = binanceDefaultURL
	}
	return &binanceAdapter{
		cfg:    cfg,
		rest:   newRESTClient(base),
		logger: logger.With(slog.String("venue", cfg.ID)),
	}
}

func (b *binanceAdapter) Name() string { return b.cfg.ID }

func (b *binanceAdapter) raw(symbol string) (string, error) {
	base, quote, err := SplitCanonical(symbol)
	if err != nil {
		return "", err
	}
	return Denormalize(base, quote, b.cfg.SymbolFormat), nil
}

// LoadMarkets fetches the exchange info and returns the tradeable pairs in
// canonical form.
func (b *binanceAdapter) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	body, err := b.rest.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: load markets: %w", err)
	}

	var resp struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Status     string `json:"status"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		markets = append(markets, domain.Market{
			VenueID:   b.cfg.ID,
			Base:      s.BaseAsset,
			Quote:     s.QuoteAsset,
			RawSymbol: s.Symbol,
		})
	}
	return markets, nil
}

// FetchTicker returns the 24h ticker, which carries best bid/ask and quote
// volume in a single call.
func (b *binanceAdapter) FetchTicker(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	raw, err := b.raw(symbol)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	body, err := b.rest.do(ctx, http.MethodGet, "/api/v3/ticker/24hr?symbol="+url.QueryEscape(raw), nil, nil)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("binance: fetch ticker %s: %w", symbol, err)
	}

	var t struct {
		BidPrice    string `json:"bidPrice"`
		BidQty      string `json:"bidQty"`
		AskPrice    string `json:"askPrice"`
		AskQty      string `json:"askQty"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(body, &t); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("binance: decode ticker %s: %w", symbol, err)
	}

	bid, err := parseFloat(t.BidPrice)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("binance: parse bid: %w", err)
	}
	ask, err := parseFloat(t.AskPrice)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("binance: parse ask: %w", err)
	}
	bidQty, _ := parseFloat(t.BidQty)
	askQty, _ := parseFloat(t.AskQty)
	vol, _ := parseFloat(t.QuoteVolume)

	return domain.PriceQuote{
		VenueID:    b.cfg.ID,
		Symbol:     symbol,
		Bid:        bid,
		Ask:        ask,
		BidVolume:  bidQty,
		AskVolume:  askQty,
		Volume:     vol,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// FetchOrderBook returns up to depth levels per side.
func (b *binanceAdapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	raw, err := b.raw(symbol)
	if err != nil {
		return domain.OrderBook{}, err
	}

	path := fmt.Sprintf("/api/v3/depth?symbol=%s&limit=%d", url.QueryEscape(raw), depth)
	body, err := b.rest.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: fetch order book %s: %w", symbol, err)
	}

	var resp struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: decode order book %s: %w", symbol, err)
	}

	book := domain.OrderBook{
		VenueID:    b.cfg.ID,
		Symbol:     symbol,
		ObservedAt: time.Now().UTC(),
	}
	for _, lvl := range resp.Bids {
		p, _ := parseFloat(lvl[0])
		a, _ := parseFloat(lvl[1])
		book.Bids = append(book.Bids, domain.BookLevel{Price: p, Amount: a})
	}
	for _, lvl := range resp.Asks {
		p, _ := parseFloat(lvl[0])
		a, _ := parseFloat(lvl[1])
		book.Asks = append(book.Asks, domain.BookLevel{Price: p, Amount: a})
	}
	return book, nil
}

// CreateMarketBuyOrder places a signed market buy and derives the realized
// fill price from the cumulative quote quantity.
func (b *binanceAdapter) CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) (domain.OrderFill, error) {
	return b.marketOrder(ctx, symbol, "BUY", amount)
}

// CreateMarketSellOrder places a signed market sell.
func (b *binanceAdapter) CreateMarketSellOrder(ctx context.Context, symbol string, amount float64) (domain.OrderFill, error) {
	return b.marketOrder(ctx, symbol, "SELL", amount)
}

func (b *binanceAdapter) marketOrder(ctx context.Context, symbol, side string, amount float64) (domain.OrderFill, error) {
	raw, err := b.raw(symbol)
	if err != nil {
		return domain.OrderFill{}, err
	}

	params := url.Values{}
	params.Set("symbol", raw)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(amount, 'f', -1, 64))
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	headers := map[string]string{"X-MBX-APIKEY": b.cfg.APIKey}
	body, err := b.rest.do(ctx, http.MethodPost, "/api/v3/order?"+query, nil, headers)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("binance: market %s %s: %w", side, symbol, err)
	}

	var resp struct {
		OrderID             int64  `json:"orderId"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderFill{}, fmt.Errorf("binance: decode order response: %w", err)
	}

	qty, _ := parseFloat(resp.ExecutedQty)
	cost, _ := parseFloat(resp.CummulativeQuoteQty)
	fill := domain.OrderFill{
		OrderID:    strconv.FormatInt(resp.OrderID, 10),
		FilledCost: cost,
		Timestamp:  time.Now().UTC(),
	}
	if qty > 0 {
		fill.FilledPrice = cost / qty
	}
	return fill, nil
}
