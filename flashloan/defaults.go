package flashloan

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevkit/flasharb/types"
)

// Mainnet lender entry points.
const (
	AavePoolAddress      = "0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9"
	BalancerVaultAddress = "0xBA12222222228d8Ba445958a75a0704d566BF2C8"
	DyDxSoloAddress      = "0x1E0447b19BB6EcFdAe1e4AE1694b0C3EC38705c5"
	EulerAddress         = "0x27182842E098f60e3D576794A5bFFb0777107B22"
)

func defaultAssets() map[common.Address]bool {
	return map[common.Address]bool{
		common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"): true, // WETH
		common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"): true, // DAI
		common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"): true, // USDC
		common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"): true, // USDT
	}
}

func mustTokens(decimal string) *big.Int {
	v, ok := new(big.Int).SetString(decimal, 10)
	if !ok {
		panic("bad default liquidity constant: " + decimal)
	}
	return v
}

// DefaultRegistry returns the built-in mainnet provider table. DyDx and
// Euler are listed for operator visibility but carry no engine handler
// and are never selected.
func DefaultRegistry() *Registry {
	registry, err := NewRegistry([]*Entry{
		{
			Name:            "AAVE_V3",
			ID:              types.ProviderAaveV3,
			Pool:            common.HexToAddress(AavePoolAddress),
			FeeBps:          9,
			MaxLiquidity:    mustTokens("40000000000000"), // $40M in 6-decimal units
			MinAmount:       mustTokens("100000000"),
			Reliability:     0.99,
			AvgLatencyMs:    120,
			SupportedAssets: defaultAssets(),
			Executable:      true,
		},
		{
			Name:            "BALANCER_V2",
			ID:              types.ProviderBalancer,
			Pool:            common.HexToAddress(BalancerVaultAddress),
			FeeBps:          0,
			MaxLiquidity:    mustTokens("30000000000000"), // $30M
			MinAmount:       big.NewInt(1),
			Reliability:     0.99,
			AvgLatencyMs:    100,
			SupportedAssets: defaultAssets(),
			Executable:      true,
		},
		{
			Name:            "UNISWAP_V3",
			ID:              types.ProviderUniswapV3,
			Pool:            common.Address{}, // per-token, registered via the engine's SetPool
			FeeBps:          0,
			MaxLiquidity:    mustTokens("999999999000000"),
			MinAmount:       big.NewInt(1),
			Reliability:     0.95,
			AvgLatencyMs:    180,
			SupportedAssets: defaultAssets(),
			Executable:      true,
		},
		{
			Name:            "DYDX",
			ID:              types.ProviderDyDx,
			Pool:            common.HexToAddress(DyDxSoloAddress),
			FeeBps:          2,
			MaxLiquidity:    mustTokens("50000000000000"), // $50M
			MinAmount:       mustTokens("1000000000"),
			Reliability:     0.92,
			AvgLatencyMs:    200,
			SupportedAssets: defaultAssets(),
			Executable:      false,
		},
		{
			Name:            "EULER",
			ID:              types.ProviderEuler,
			Pool:            common.HexToAddress(EulerAddress),
			FeeBps:          8,
			MaxLiquidity:    mustTokens("15000000000000"), // $15M
			MinAmount:       mustTokens("1000000000"),
			Reliability:     0.90,
			AvgLatencyMs:    250,
			SupportedAssets: defaultAssets(),
			Executable:      false,
		},
	})
	if err != nil {
		panic(err)
	}
	return registry
}
