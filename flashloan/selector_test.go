package flashloan

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mevkit/flasharb/types"
)

var (
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func testEntry(name string, id types.ProviderID, feeBps uint16, maxLiquidity int64, reliability, latencyMs float64) *Entry {
	return &Entry{
		Name:            name,
		ID:              id,
		Pool:            common.HexToAddress("0x1000000000000000000000000000000000000001"),
		FeeBps:          feeBps,
		MaxLiquidity:    big.NewInt(maxLiquidity),
		MinAmount:       big.NewInt(1),
		Reliability:     reliability,
		AvgLatencyMs:    latencyMs,
		SupportedAssets: map[common.Address]bool{usdc: true, weth: true},
		Executable:      true,
	}
}

func TestSelectScenarioZeroFeeWins(t *testing.T) {
	// USDC, 1,000,000 units, ample liquidity everywhere, normal urgency:
	// the fee term dominates and a zero-fee provider must win.
	selector := NewSelector(DefaultRegistry(), prometheus.NewRegistry(), zaptest.NewLogger(t))

	selected := selector.Select(usdc, big.NewInt(1_000_000), types.UrgencyNormal)

	entry := DefaultRegistry().Lookup(selected)
	require.NotNil(t, entry)
	assert.Equal(t, uint16(0), entry.FeeBps, "selection must land on a zero-fee provider")
}

func TestSelectFallbackWhenLiquidityExhausted(t *testing.T) {
	registry, err := NewRegistry([]*Entry{
		testEntry("BALANCER_V2", types.ProviderBalancer, 0, 1_000, 0.99, 100),
		testEntry("UNISWAP_V3", types.ProviderUniswapV3, 0, 5_000, 0.95, 180),
	})
	require.NoError(t, err)
	selector := NewSelector(registry, prometheus.NewRegistry(), zaptest.NewLogger(t))

	// Amount exceeds every candidate's ceiling.
	selected := selector.Select(usdc, big.NewInt(1_000_000), types.UrgencyNormal)
	assert.Equal(t, FallbackProvider, selected)

	// The ranked list stays empty so failover still treats this as
	// exhaustion rather than a viable candidate.
	assert.Empty(t, selector.Rank(usdc, big.NewInt(1_000_000), types.UrgencyNormal))
}

func TestSelectFiltersUnsupportedToken(t *testing.T) {
	entry := testEntry("BALANCER_V2", types.ProviderBalancer, 0, 1_000_000_000, 0.99, 100)
	entry.SupportedAssets = map[common.Address]bool{weth: true}
	registry, err := NewRegistry([]*Entry{entry})
	require.NoError(t, err)
	selector := NewSelector(registry, prometheus.NewRegistry(), zaptest.NewLogger(t))

	assert.Empty(t, selector.Rank(usdc, big.NewInt(100), types.UrgencyNormal))
	assert.Equal(t, FallbackProvider, selector.Select(usdc, big.NewInt(100), types.UrgencyNormal))
}

func TestSelectSkipsHandlerlessProviders(t *testing.T) {
	cheap := testEntry("DYDX", types.ProviderDyDx, 2, 1_000_000_000, 0.99, 50)
	cheap.Executable = false
	executable := testEntry("AAVE_V3", types.ProviderAaveV3, 9, 1_000_000_000, 0.99, 120)

	registry, err := NewRegistry([]*Entry{cheap, executable})
	require.NoError(t, err)
	selector := NewSelector(registry, prometheus.NewRegistry(), zaptest.NewLogger(t))

	// DyDx outranks Aave on every term but has no engine handler.
	assert.Equal(t, types.ProviderAaveV3, selector.Select(usdc, big.NewInt(100), types.UrgencyNormal))
}

func TestRankDeterministicAndOrdered(t *testing.T) {
	registry, err := NewRegistry([]*Entry{
		testEntry("AAVE_V3", types.ProviderAaveV3, 9, 1_000_000_000, 0.99, 120),
		testEntry("BALANCER_V2", types.ProviderBalancer, 0, 1_000_000_000, 0.99, 100),
		testEntry("UNISWAP_V3", types.ProviderUniswapV3, 0, 1_000_000_000, 0.95, 180),
	})
	require.NoError(t, err)
	selector := NewSelector(registry, prometheus.NewRegistry(), zaptest.NewLogger(t))

	amount := big.NewInt(1_000_000)
	first := selector.Rank(usdc, amount, types.UrgencyNormal)
	require.Len(t, first, 3)

	for i := 1; i < len(first); i++ {
		assert.GreaterOrEqual(t, first[i-1].Score, first[i].Score)
	}

	// Pure function of the inputs: identical call, identical ranking.
	for i := 0; i < 10; i++ {
		again := selector.Rank(usdc, amount, types.UrgencyNormal)
		require.Len(t, again, len(first))
		for j := range again {
			assert.Equal(t, first[j].Entry.Name, again[j].Entry.Name)
			assert.Equal(t, first[j].Score, again[j].Score)
		}
	}
}

func TestRankTieBrokenByDeclarationOrder(t *testing.T) {
	a := testEntry("BALANCER_V2", types.ProviderBalancer, 0, 1_000_000_000, 0.99, 100)
	b := testEntry("UNISWAP_V3", types.ProviderUniswapV3, 0, 1_000_000_000, 0.99, 100)

	registry, err := NewRegistry([]*Entry{a, b})
	require.NoError(t, err)
	selector := NewSelector(registry, prometheus.NewRegistry(), zaptest.NewLogger(t))

	ranked := selector.Rank(usdc, big.NewInt(100), types.UrgencyNormal)
	require.Len(t, ranked, 2)
	assert.Equal(t, ranked[0].Score, ranked[1].Score)
	assert.Equal(t, "BALANCER_V2", ranked[0].Entry.Name, "first-listed provider wins the tie")
}

func TestHighUrgencyReordersByLatency(t *testing.T) {
	slowCheap := testEntry("BALANCER_V2", types.ProviderBalancer, 0, 1_000_000_000, 0.90, 400)
	fastPricey := testEntry("AAVE_V3", types.ProviderAaveV3, 500, 1_000_000_000, 0.90, 50)

	registry, err := NewRegistry([]*Entry{slowCheap, fastPricey})
	require.NoError(t, err)
	selector := NewSelector(registry, prometheus.NewRegistry(), zaptest.NewLogger(t))

	amount := big.NewInt(1_000)
	assert.Equal(t, types.ProviderBalancer, selector.Select(usdc, amount, types.UrgencyNormal))
	assert.Equal(t, types.ProviderAaveV3, selector.Select(usdc, amount, types.UrgencyHigh),
		"latency must dominate ranking under high urgency")
}

func TestLiquidityScoreRewardsHeadroom(t *testing.T) {
	// Identical except liquidity: 20x headroom scores above 2x headroom.
	tight := testEntry("BALANCER_V2", types.ProviderBalancer, 0, 2_000, 0.95, 100)
	roomy := testEntry("UNISWAP_V3", types.ProviderUniswapV3, 0, 20_000, 0.95, 100)

	registry, err := NewRegistry([]*Entry{tight, roomy})
	require.NoError(t, err)
	selector := NewSelector(registry, prometheus.NewRegistry(), zaptest.NewLogger(t))

	ranked := selector.Rank(usdc, big.NewInt(1_000), types.UrgencyNormal)
	require.Len(t, ranked, 2)
	assert.Equal(t, "UNISWAP_V3", ranked[0].Entry.Name)
}

func TestSelectorCountersReachRegistry(t *testing.T) {
	registry, err := NewRegistry([]*Entry{
		testEntry("BALANCER_V2", types.ProviderBalancer, 0, 1_000, 0.99, 100),
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	selector := NewSelector(registry, reg, zaptest.NewLogger(t))

	// One fallback selection must show up on the injected registry.
	selector.Select(usdc, big.NewInt(1_000_000), types.UrgencyNormal)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "flasharb_provider_fallbacks_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.True(t, found, "fallback counter missing from the registry")
}

type staticLiquidity struct {
	amounts map[types.ProviderID]*big.Int
}

func (s *staticLiquidity) AvailableLiquidity(_ context.Context, id types.ProviderID, _ common.Address) (*big.Int, error) {
	return s.amounts[id], nil
}

func TestRefreshProducesNewSnapshot(t *testing.T) {
	registry, err := NewRegistry([]*Entry{
		testEntry("BALANCER_V2", types.ProviderBalancer, 0, 1_000, 0.99, 100),
	})
	require.NoError(t, err)

	src := &staticLiquidity{amounts: map[types.ProviderID]*big.Int{
		types.ProviderBalancer: big.NewInt(5_000_000),
	}}

	refreshed, err := registry.Refresh(context.Background(), src, usdc)
	require.NoError(t, err)

	// New snapshot carries the live figure, the old one is untouched.
	assert.Equal(t, int64(5_000_000), refreshed.Lookup(types.ProviderBalancer).MaxLiquidity.Int64())
	assert.Equal(t, int64(1_000), registry.Lookup(types.ProviderBalancer).MaxLiquidity.Int64())
}

func TestEntryFee(t *testing.T) {
	entry := testEntry("AAVE_V3", types.ProviderAaveV3, 9, 1_000_000, 0.99, 120)
	assert.Equal(t, int64(900), entry.Fee(big.NewInt(1_000_000)).Int64())

	free := testEntry("BALANCER_V2", types.ProviderBalancer, 0, 1_000_000, 0.99, 100)
	assert.Zero(t, free.Fee(big.NewInt(1_000_000)).Sign())
}
