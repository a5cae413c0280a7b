package math

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatUnits(big.NewInt(1_500_000), 6))
	assert.Equal(t, "1", FormatUnits(big.NewInt(1_000_000), 6))
	assert.Equal(t, "0.000001", FormatUnits(big.NewInt(1), 6))
	assert.Equal(t, "-2.25", FormatUnits(big.NewInt(-2_250_000), 6))
	assert.Equal(t, "42", FormatUnits(big.NewInt(42), 0))
	assert.Equal(t, "0", FormatUnits(nil, 6))
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("1.5", 6)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), v.Int64())

	v, err = ParseUnits("100", 6)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), v.Int64())

	v, err = ParseUnits("-0.25", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(-25), v.Int64())

	_, err = ParseUnits("1.2345", 2)
	require.Error(t, err, "excess precision must not be truncated")

	_, err = ParseUnits("", 6)
	require.Error(t, err)

	_, err = ParseUnits("abc", 6)
	require.Error(t, err)
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"1.5", "0.000001", "123456.789"} {
		v, err := ParseUnits(s, 6)
		require.NoError(t, err)
		assert.Equal(t, s, FormatUnits(v, 6))
	}
}

func TestFormatBps(t *testing.T) {
	assert.Equal(t, "0.09%", FormatBps(9))
	assert.Equal(t, "0%", FormatBps(0))
	assert.Equal(t, "0.5%", FormatBps(50))
	assert.Equal(t, "1%", FormatBps(100))
}
