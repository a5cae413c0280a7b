package engine

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAmountOut(t *testing.T) {
	// (1000 * 997 * 1_000_000) / (1_000_000 * 1000 + 997_000) = 996
	out := getAmountOut(big.NewInt(1000), big.NewInt(1_000_000), big.NewInt(1_000_000))
	assert.Equal(t, int64(996), out.Int64())

	// Skewed reserves roughly double the output.
	out = getAmountOut(big.NewInt(1000), big.NewInt(1_000_000), big.NewInt(2_000_000))
	assert.Equal(t, int64(1992), out.Int64())

	assert.Zero(t, getAmountOut(big.NewInt(0), big.NewInt(1), big.NewInt(1)).Sign())
	assert.Zero(t, getAmountOut(big.NewInt(1000), big.NewInt(0), big.NewInt(1)).Sign())
}

func TestPairRouterSwapConservesTokens(t *testing.T) {
	st := NewChainState()
	trader := attacker // any funded address works here
	st.Mint(usdcToken, router1Addr, big.NewInt(1_000_000))
	st.Mint(wethToken, router1Addr, big.NewInt(1_000_000))
	st.Mint(usdcToken, trader, big.NewInt(1000))

	r := NewPairRouter(router1Addr, usdcToken, wethToken)

	quoted, err := r.Quote(st, usdcToken, wethToken, big.NewInt(1000))
	require.NoError(t, err)

	out, err := r.Swap(st, trader, usdcToken, wethToken, big.NewInt(1000))
	require.NoError(t, err)
	assert.Zero(t, quoted.Cmp(out), "swap pays exactly the prior quote")

	assert.Zero(t, st.BalanceOf(usdcToken, trader).Sign())
	assert.Zero(t, out.Cmp(st.BalanceOf(wethToken, trader)))
	assert.Equal(t, int64(1_001_000), st.BalanceOf(usdcToken, router1Addr).Int64())
	assert.Equal(t, 1_000_000-out.Int64(), st.BalanceOf(wethToken, router1Addr).Int64())
}

func TestPairRouterRejectsUnknownPair(t *testing.T) {
	st := NewChainState()
	r := NewPairRouter(router1Addr, usdcToken, wethToken)

	other := attacker
	_, err := r.Quote(st, usdcToken, other, big.NewInt(1000))
	require.Error(t, err)

	_, err = r.Swap(st, owner, other, wethToken, big.NewInt(1000))
	require.Error(t, err)
}

func TestQuoteLeavesStateUntouched(t *testing.T) {
	st := NewChainState()
	st.Mint(usdcToken, router1Addr, big.NewInt(1_000_000))
	st.Mint(wethToken, router1Addr, big.NewInt(1_000_000))

	r := NewPairRouter(router1Addr, usdcToken, wethToken)
	_, err := r.Quote(st, usdcToken, wethToken, big.NewInt(1000))
	require.NoError(t, err)

	assert.Equal(t, int64(1_000_000), st.BalanceOf(usdcToken, router1Addr).Int64())
	assert.Equal(t, int64(1_000_000), st.BalanceOf(wethToken, router1Addr).Int64())
}

func TestPackExecuteArbitrage(t *testing.T) {
	inner := []byte{0xde, 0xad, 0xbe, 0xef}
	packed, err := PackExecuteArbitrage(usdcToken, big.NewInt(42), inner)
	require.NoError(t, err)
	require.Greater(t, len(packed), 4)

	parsed, err := parsedExecutorABI()
	require.NoError(t, err)

	method, err := parsed.MethodById(packed[:4])
	require.NoError(t, err)
	assert.Equal(t, "executeArbitrage", method.Name)

	args, err := method.Inputs.Unpack(packed[4:])
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.Equal(t, usdcToken, args[0])
	assert.Zero(t, big.NewInt(42).Cmp(args[1].(*big.Int)))
	assert.Equal(t, inner, args[2].([]byte))
}

func TestPackWithdrawAndSetPool(t *testing.T) {
	packed, err := PackWithdrawProfits(usdcToken)
	require.NoError(t, err)

	parsed, err := parsedExecutorABI()
	require.NoError(t, err)
	method, err := parsed.MethodById(packed[:4])
	require.NoError(t, err)
	assert.Equal(t, "withdrawProfits", method.Name)

	packed, err = PackSetPool(usdcToken, uniPoolAddr)
	require.NoError(t, err)
	method, err = parsed.MethodById(packed[:4])
	require.NoError(t, err)
	assert.Equal(t, "setPool", method.Name)
}
