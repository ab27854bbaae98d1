package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/crossarb/internal/domain"
)

const binanceWSURL = "wss://stream.binance.com:9443/ws"

// TickerStream subscribes to a venue's websocket book-ticker feed and writes
// incoming quotes into the quote cache, keeping fallback data warm between
// poll cycles. Only binance exposes a public stream we consume today.
type TickerStream struct {
	venue   domain.VenueConfig
	symbols []string
	cache   domain.QuoteCache
	wsURL   string
	logger  *slog.Logger
}

// NewTickerStream creates a stream for the given venue and canonical
// symbols. Returns an error for venues with no stream support.
func NewTickerStream(venue domain.VenueConfig, symbols []string, cache domain.QuoteCache, logger *slog.Logger) (*TickerStream, error) {
	if venue.ID != "binance" {
		return nil, fmt.Errorf("venue: %s has no ticker stream: %w", venue.ID, domain.ErrUnknownVenue)
	}
	return &TickerStream{
		venue:   venue,
		symbols: symbols,
		cache:   cache,
		wsURL:   binanceWSURL,
		logger:  logger.With(slog.String("component", "ticker_stream"), slog.String("venue", venue.ID)),
	}, nil
}

// Run connects, subscribes, and pumps quotes into the cache until the
// context is cancelled. Reconnects with capped exponential backoff.
func (s *TickerStream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("stream disconnected, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 16*time.Second {
				backoff = 16 * time.Second
			}
		}
	}
}

func (s *TickerStream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("venue: dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	params := make([]string, 0, len(s.symbols))
	bySymbol := make(map[string]string, len(s.symbols))
	for _, sym := range s.symbols {
		base, quote, err := SplitCanonical(sym)
		if err != nil {
			return err
		}
		raw := strings.ToLower(Denormalize(base, quote, s.venue.SymbolFormat))
		params = append(params, raw+"@bookTicker")
		bySymbol[strings.ToUpper(raw)] = sym
	}

	sub := map[string]any{"method": "SUBSCRIBE", "params": params, "id": 1}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("venue: subscribe: %w", err)
	}
	s.logger.Info("stream subscribed", slog.Int("symbols", len(params)))

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("venue: read message: %w", err)
		}

		var tick struct {
			Symbol string `json:"s"`
			Bid    string `json:"b"`
			BidQty string `json:"B"`
			Ask    string `json:"a"`
			AskQty string `json:"A"`
		}
		if err := json.Unmarshal(message, &tick); err != nil || tick.Symbol == "" {
			continue // subscription ack or unknown frame
		}

		canonical, ok := bySymbol[tick.Symbol]
		if !ok {
			continue
		}
		bid, err1 := parseFloat(tick.Bid)
		ask, err2 := parseFloat(tick.Ask)
		if err1 != nil || err2 != nil {
			continue
		}
		bidQty, _ := parseFloat(tick.BidQty)
		askQty, _ := parseFloat(tick.AskQty)

		q := domain.PriceQuote{
			VenueID:    s.venue.ID,
			Symbol:     canonical,
			Bid:        bid,
			Ask:        ask,
			BidVolume:  bidQty,
			AskVolume:  askQty,
			ObservedAt: time.Now().UTC(),
		}
		if err := s.cache.SetQuote(ctx, q); err != nil {
			s.logger.Warn("cache quote failed", slog.String("error", err.Error()))
		}
	}
}
