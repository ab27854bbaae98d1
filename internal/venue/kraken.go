package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quantfold/crossarb/internal/domain"
)

const krakenDefaultURL = "https://api.kraken.com"

// krakenAdapter implements Adapter against the Kraken REST API. Kraken names
// bitcoin XBT; the alias is applied on the way in and reversed on the way
// out so callers only ever see canonical symbols.
type krakenAdapter struct {
	cfg    domain.VenueConfig
	rest   *restClient
	logger *slog.Logger
}

func newKraken(cfg domain.VenueConfig, logger *slog.Logger) *krakenAdapter {
	base := cfg.BaseURL
	if base == "" {
		base = krakenDefaultURL
	}
	return &krakenAdapter{
		cfg:    cfg,
		rest:   newRESTClient(base),
		logger: logger.With(slog.String("venue", cfg.ID)),
	}
}

func (k *krakenAdapter) Name() string { return k.cfg.ID }

func (k *krakenAdapter) raw(symbol string) (string, error) {
	base, quote, err := SplitCanonical(symbol)
	if err != nil {
		return "", err
	}
	if base == "BTC" {
		base = "XBT"
	}
	return Denormalize(base, quote, k.cfg.SymbolFormat), nil
}

// LoadMarkets fetches tradeable asset pairs.
func (k *krakenAdapter) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	body, err := k.rest.do(ctx, http.MethodGet, "/0/public/AssetPairs", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("kraken: load markets: %w", err)
	}

	var resp struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			WSName string `json:"wsname"` // e.g. "XBT/USDT"
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: decode markets: %w", err)
	}
	if len(resp.Error) > 0 {
		return nil, fmt.Errorf("kraken: load markets: %s", strings.Join(resp.Error, "; "))
	}

	markets := make([]domain.Market, 0, len(resp.Result))
	for raw, pair := range resp.Result {
		parts := strings.Split(pair.WSName, "/")
		if len(parts) != 2 {
			continue
		}
		base := parts[0]
		if base == "XBT" {
			base = "BTC"
		}
		markets = append(markets, domain.Market{
			VenueID:   k.cfg.ID,
			Base:      base,
			Quote:     parts[1],
			RawSymbol: raw,
		})
	}
	return markets, nil
}

// FetchTicker returns the public ticker for one pair.
func (k *krakenAdapter) FetchTicker(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	raw, err := k.raw(symbol)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	body, err := k.rest.do(ctx, http.MethodGet, "/0/public/Ticker?pair="+url.QueryEscape(raw), nil, nil)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("kraken: fetch ticker %s: %w", symbol, err)
	}

	var resp struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			A []string `json:"a"` // ask: price, whole lot volume, lot volume
			B []string `json:"b"` // bid
			V []string `json:"v"` // volume: today, last 24h
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("kraken: decode ticker %s: %w", symbol, err)
	}
	if len(resp.Error) > 0 {
		return domain.PriceQuote{}, fmt.Errorf("kraken: fetch ticker %s: %s", symbol, strings.Join(resp.Error, "; "))
	}

	for _, t := range resp.Result {
		if len(t.A) == 0 || len(t.B) == 0 {
			break
		}
		ask, err := parseFloat(t.A[0])
		if err != nil {
			return domain.PriceQuote{}, fmt.Errorf("kraken: parse ask: %w", err)
		}
		bid, err := parseFloat(t.B[0])
		if err != nil {
			return domain.PriceQuote{}, fmt.Errorf("kraken: parse bid: %w", err)
		}
		var vol float64
		if len(t.V) > 1 {
			baseVol, _ := parseFloat(t.V[1])
			// Kraken reports base volume; approximate quote volume at mid.
			vol = baseVol * (bid + ask) / 2
		}
		return domain.PriceQuote{
			VenueID:    k.cfg.ID,
			Symbol:     symbol,
			Bid:        bid,
			Ask:        ask,
			Volume:     vol,
			ObservedAt: time.Now().UTC(),
		}, nil
	}
	return domain.PriceQuote{}, fmt.Errorf("kraken: ticker %s: %w", symbol, domain.ErrNotFound)
}

// FetchOrderBook returns up to depth levels per side.
func (k *krakenAdapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	raw, err := k.raw(symbol)
	if err != nil {
		return domain.OrderBook{}, err
	}

	path := fmt.Sprintf("/0/public/Depth?pair=%s&count=%d", url.QueryEscape(raw), depth)
	body, err := k.rest.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("kraken: fetch order book %s: %w", symbol, err)
	}

	var resp struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			Asks [][]json.RawMessage `json:"asks"`
			Bids [][]json.RawMessage `json:"bids"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("kraken: decode order book %s: %w", symbol, err)
	}
	if len(resp.Error) > 0 {
		return domain.OrderBook{}, fmt.Errorf("kraken: fetch order book %s: %s", symbol, strings.Join(resp.Error, "; "))
	}

	book := domain.OrderBook{
		VenueID:    k.cfg.ID,
		Symbol:     symbol,
		ObservedAt: time.Now().UTC(),
	}
	for _, side := range resp.Result {
		book.Bids = krakenLevels(side.Bids)
		book.Asks = krakenLevels(side.Asks)
		break
	}
	return book, nil
}

func krakenLevels(raw [][]json.RawMessage) []domain.BookLevel {
	levels := make([]domain.BookLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		var priceStr, amountStr string
		if json.Unmarshal(lvl[0], &priceStr) != nil || json.Unmarshal(lvl[1], &amountStr) != nil {
			continue
		}
		p, _ := parseFloat(priceStr)
		a, _ := parseFloat(amountStr)
		levels = append(levels, domain.BookLevel{Price: p, Amount: a})
	}
	return levels
}

// CreateMarketBuyOrder places a market buy and resolves the realized fill
// from QueryOrders, since AddOrder only returns transaction IDs.
func (k *krakenAdapter) CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) (domain.OrderFill, error) {
	return k.marketOrder(ctx, symbol, "buy", amount)
}

// CreateMarketSellOrder places a market sell.
func (k *krakenAdapter) CreateMarketSellOrder(ctx context.Context, symbol string, amount float64) (domain.OrderFill, error) {
	return k.marketOrder(ctx, symbol, "sell", amount)
}

func (k *krakenAdapter) marketOrder(ctx context.Context, symbol, side string, amount float64) (domain.OrderFill, error) {
	raw, err := k.raw(symbol)
	if err != nil {
		return domain.OrderFill{}, err
	}

	form := url.Values{}
	form.Set("nonce", strconv.FormatInt(time.Now().UnixNano(), 10))
	form.Set("pair", raw)
	form.Set("type", side)
	form.Set("ordertype", "market")
	form.Set("volume", strconv.FormatFloat(amount, 'f', -1, 64))

	body, err := k.signedPost(ctx, "/0/private/AddOrder", form)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("kraken: market %s %s: %w", side, symbol, err)
	}

	var resp struct {
		Error  []string `json:"error"`
		Result struct {
			TxID []string `json:"txid"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderFill{}, fmt.Errorf("kraken: decode order response: %w", err)
	}
	if len(resp.Error) > 0 {
		return domain.OrderFill{}, fmt.Errorf("kraken: market %s %s: %s", side, symbol, strings.Join(resp.Error, "; "))
	}
	if len(resp.Result.TxID) == 0 {
		return domain.OrderFill{}, fmt.Errorf("kraken: market %s %s: no txid returned", side, symbol)
	}

	orderID := resp.Result.TxID[0]
	price, cost, err := k.queryFill(ctx, orderID)
	if err != nil {
		// The order was accepted; surface the fill lookup failure but keep
		// the order ID so the caller can reconcile later.
		return domain.OrderFill{OrderID: orderID, Timestamp: time.Now().UTC()},
			fmt.Errorf("kraken: query fill %s: %w", orderID, err)
	}

	return domain.OrderFill{
		OrderID:     orderID,
		FilledPrice: price,
		FilledCost:  cost,
		Timestamp:   time.Now().UTC(),
	}, nil
}

func (k *krakenAdapter) queryFill(ctx context.Context, txid string) (price, cost float64, err error) {
	form := url.Values{}
	form.Set("nonce", strconv.FormatInt(time.Now().UnixNano(), 10))
	form.Set("txid", txid)

	body, err := k.signedPost(ctx, "/0/private/QueryOrders", form)
	if err != nil {
		return 0, 0, err
	}

	var resp struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			Price string `json:"price"`
			Cost  string `json:"cost"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, err
	}
	if len(resp.Error) > 0 {
		return 0, 0, fmt.Errorf("%s", strings.Join(resp.Error, "; "))
	}

	o, ok := resp.Result[txid]
	if !ok {
		return 0, 0, domain.ErrNotFound
	}
	price, _ = parseFloat(o.Price)
	cost, _ = parseFloat(o.Cost)
	return price, cost, nil
}

// signedPost signs a private API request per Kraken's scheme:
// HMAC-SHA512(path + SHA256(nonce + postdata)) keyed with the decoded secret.
func (k *krakenAdapter) signedPost(ctx context.Context, path string, form url.Values) ([]byte, error) {
	postData := form.Encode()
	secret, err := base64.StdEncoding.DecodeString(k.cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}

	sha := sha256.Sum256([]byte(form.Get("nonce") + postData))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sha[:])

	headers := map[string]string{
		"API-Key":      k.cfg.APIKey,
		"API-Sign":     base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		"Content-Type": "application/x-www-form-urlencoded",
	}
	return k.rest.do(ctx, http.MethodPost, path, strings.NewReader(postData), headers)
}
