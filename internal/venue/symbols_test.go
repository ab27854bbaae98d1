package venue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/crossarb/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		format string
		base   string
		quote  string
	}{
		{"slash", "BTC/USD", "slash", "BTC", "USD"},
		{"slash lowercase", "eth/usdt", "slash", "ETH", "USDT"},
		{"dash", "BTC-USD", "dash", "BTC", "USD"},
		{"concat usdt", "BTCUSDT", "concat", "BTC", "USDT"},
		{"concat usd", "SOLUSD", "concat", "SOL", "USD"},
		{"concat usdc", "ETHUSDC", "concat", "ETH", "USDC"},
		{"concat whitespace", " btcusdt ", "concat", "BTC", "USDT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, quote, err := Normalize(tt.raw, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.quote, quote)
		})
	}
}

func TestNormalizeErrors(t *testing.T) {
	_, _, err := Normalize("", "slash")
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)

	_, _, err = Normalize("BTCUSD", "slash")
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)

	_, _, err = Normalize("XYZABC", "concat")
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)

	_, _, err = Normalize("BTC/USD", "pipe")
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)
}

// Denormalize must be the exact inverse of Normalize for every format.
func TestNormalizeDenormalizeRoundTrip(t *testing.T) {
	for _, format := range []string{"slash", "dash", "concat"} {
		raw := Denormalize("BTC", "USDT", format)
		base, quote, err := Normalize(raw, format)
		require.NoError(t, err, format)
		assert.Equal(t, "BTC", base, format)
		assert.Equal(t, "USDT", quote, format)
	}
}

// The longest matching quote currency must win when splitting concatenated
// symbols, so "BTCUSDT" is BTC/USDT rather than BTCUSD/T or similar.
func TestConcatLongestMatch(t *testing.T) {
	base, quote, err := Normalize("BTCUSDT", "concat")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)
}

func TestCanonical(t *testing.T) {
	got, err := Canonical("BTCUSDT", "concat")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", got)

	got, err = Canonical("eth-usd", "dash")
	require.NoError(t, err)
	assert.Equal(t, "ETH/USD", got)
}

func TestSplitCanonical(t *testing.T) {
	base, quote, err := SplitCanonical("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	_, _, err = SplitCanonical("BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)
}
