package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarianceRoundsToTwoDecimals(t *testing.T) {
	cases := []struct {
		ending   string
		expected string
		want     string
	}{
		{"100.50", "100.00", "0.50"},
		{"103", "100.00", "3.00"},
		{"89.995", "100", "-10.01"},
		{"100.004", "100", "0.00"},
	}
	for _, tc := range cases {
		got := Variance(decimal.RequireFromString(tc.ending), decimal.RequireFromString(tc.expected))
		assert.Equal(t, tc.want, Format(got), "ending=%s expected=%s", tc.ending, tc.expected)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("")
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Parse("12,5")
	require.ErrorIs(t, err, ErrInvalidAmount)

	d, err := Parse(" 42.10 ")
	require.NoError(t, err)
	assert.Equal(t, "42.10", Format(d))
}

func TestSumOfNothingIsZero(t *testing.T) {
	assert.True(t, Sum().IsZero())
	assert.Equal(t, "3.75", Format(Sum(decimal.RequireFromString("1.25"), decimal.RequireFromString("2.5"))))
}
