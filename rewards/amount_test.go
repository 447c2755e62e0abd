package rewards

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"12.50":  "12.5",
		"12,50":  "12.5",
		" 7 ":    "7",
		"0.01":   "0.01",
		"100":    "100",
		"25,505": "25.505",
	}
	for raw, want := range cases {
		amount, err := ParseAmount(raw)
		require.NoError(t, err, raw)
		expected, err := decimal.NewFromString(want)
		require.NoError(t, err)
		require.True(t, amount.Equal(expected), "%s parsed to %s", raw, amount)
	}

	for _, raw := range []string{"", "  ", "1,2,3", "abc", "12..5"} {
		_, err := ParseAmount(raw)
		require.ErrorIs(t, err, ErrInvalidAmount, raw)
	}
}

func TestToMinorUnitsTruncatesTowardZero(t *testing.T) {
	cases := map[string]int64{
		"25.50":  2550,
		"12.5":   1250,
		"10.999": 1099,
		"0.009":  0,
		"-1.019": -101,
		"5":      500,
	}
	for raw, want := range cases {
		amount, err := decimal.NewFromString(raw)
		require.NoError(t, err)
		require.Equal(t, want, ToMinorUnits(amount), raw)
	}
}

func TestFromMinorUnits(t *testing.T) {
	require.True(t, FromMinorUnits(2550).Equal(decimal.RequireFromString("25.5")))
	require.True(t, FromMinorUnits(0).IsZero())
}
