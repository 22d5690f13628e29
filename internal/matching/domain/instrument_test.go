package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstrument(t *testing.T) {
	t.Run("normalizes case and whitespace", func(t *testing.T) {
		instrument, err := ParseInstrument("  xau/usdt ")
		require.NoError(t, err)
		assert.Equal(t, "XAU/USDT", instrument.Symbol)
		assert.Equal(t, "XAU", instrument.Base)
		assert.Equal(t, "USDT", instrument.Quote)
	})

	t.Run("rejects malformed symbols", func(t *testing.T) {
		for _, symbol := range []string{"", "XAU", "XAU/", "/USDT", "XAU/USDT/BTC"} {
			_, err := ParseInstrument(symbol)
			assert.ErrorIs(t, err, ErrInvalidInstrument, "symbol %q", symbol)
		}
	})

	t.Run("rejects same base and quote", func(t *testing.T) {
		_, err := ParseInstrument("USDT/usdt")
		assert.ErrorIs(t, err, ErrInvalidInstrument)
	})
}
