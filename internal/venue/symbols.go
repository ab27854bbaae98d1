package venue

import (
	"fmt"
	"strings"

	"github.com/quantfold/crossarb/internal/domain"
)

// Symbol syntax varies per venue: "BTC/USD" (slash), "BTC-USD" (dash),
// "BTCUSDT" (concat). Normalize and Denormalize are pure functions between a
// venue's native syntax and the canonical "BASE/QUOTE" form; an opportunity
// is only valid between venues whose normalized symbols match.

// knownQuotes lists quote currencies recognised when splitting concatenated
// symbols. Longest-match first so USDT wins over USD for "BTCUSDT".
var knownQuotes = []string{"USDT", "USDC", "BUSD", "TUSD", "EUR", "USD", "GBP", "BTC", "ETH", "JPY"}

// Normalize parses a venue-native symbol into its canonical base and quote.
func Normalize(raw, format string) (base, quote string, err error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return "", "", fmt.Errorf("venue: empty symbol: %w", domain.ErrUnknownSymbol)
	}

	switch format {
	case "slash":
		base, quote, err = split(raw, "/")
	case "dash":
		base, quote, err = split(raw, "-")
	case "concat":
		base, quote, err = splitConcat(raw)
	default:
		return "", "", fmt.Errorf("venue: symbol format %q: %w", format, domain.ErrUnknownSymbol)
	}
	if err != nil {
		return "", "", err
	}
	return base, quote, nil
}

// Denormalize renders a canonical base/quote pair in the venue's native
// syntax. It is the exact inverse of Normalize for every supported format.
func Denormalize(base, quote, format string) string {
	base = strings.ToUpper(base)
	quote = strings.ToUpper(quote)
	switch format {
	case "dash":
		return base + "-" + quote
	case "concat":
		return base + quote
	default:
		return base + "/" + quote
	}
}

// Canonical returns the canonical "BASE/QUOTE" string for a venue-native
// symbol.
func Canonical(raw, format string) (string, error) {
	base, quote, err := Normalize(raw, format)
	if err != nil {
		return "", err
	}
	return base + "/" + quote, nil
}

// SplitCanonical splits a canonical "BASE/QUOTE" string.
func SplitCanonical(symbol string) (base, quote string, err error) {
	return split(strings.ToUpper(symbol), "/")
}

func split(raw, sep string) (string, string, error) {
	parts := strings.Split(raw, sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("venue: malformed symbol %q: %w", raw, domain.ErrUnknownSymbol)
	}
	return parts[0], parts[1], nil
}

func splitConcat(raw string) (string, string, error) {
	for _, q := range knownQuotes {
		if strings.HasSuffix(raw, q) && len(raw) > len(q) {
			return raw[:len(raw)-len(q)], q, nil
		}
	}
	return "", "", fmt.Errorf("venue: cannot split concatenated symbol %q: %w", raw, domain.ErrUnknownSymbol)
}
