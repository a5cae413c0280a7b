// Package types holds the shared domain types for flash loan arbitrage.
package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ProviderID identifies a flash loan provider. Dispatch on-chain and
// off-chain is keyed by this tag.
type ProviderID uint8

const (
	ProviderAaveV3 ProviderID = iota
	ProviderBalancer
	ProviderUniswapV3
	ProviderDyDx
	ProviderEuler

	providerCount
)

var providerNames = [...]string{
	ProviderAaveV3:    "AAVE_V3",
	ProviderBalancer:  "BALANCER_V2",
	ProviderUniswapV3: "UNISWAP_V3",
	ProviderDyDx:      "DYDX",
	ProviderEuler:     "EULER",
}

func (p ProviderID) String() string {
	if int(p) < len(providerNames) {
		return providerNames[p]
	}
	return fmt.Sprintf("PROVIDER_%d", uint8(p))
}

// Valid reports whether p is a known provider tag.
func (p ProviderID) Valid() bool {
	return p < providerCount
}

// ParseProviderID resolves a registry name to its tag.
func ParseProviderID(name string) (ProviderID, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for id, n := range providerNames {
		if n == upper {
			return ProviderID(id), nil
		}
	}
	return 0, fmt.Errorf("unknown provider %q", name)
}

// Urgency controls how heavily latency weighs during provider selection.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// ArbitrageRequest describes one two-leg trade to be executed inside a
// flash loan callback. It is constructed off-chain, ABI-encoded, and
// decoded again by the execution engine.
type ArbitrageRequest struct {
	Router1        common.Address
	Router2        common.Address
	TokenIn        common.Address
	TokenMid       common.Address
	AmountIn       *big.Int
	MinAmountMid   *big.Int
	MinAmountFinal *big.Int
	Provider       ProviderID
}

// Validate rejects requests that cannot possibly execute.
func (r *ArbitrageRequest) Validate() error {
	switch {
	case r.Router1 == (common.Address{}) || r.Router2 == (common.Address{}):
		return fmt.Errorf("router address not set")
	case r.TokenIn == (common.Address{}) || r.TokenMid == (common.Address{}):
		return fmt.Errorf("token address not set")
	case r.TokenIn == r.TokenMid:
		return fmt.Errorf("tokenIn and tokenMid must differ")
	case r.AmountIn == nil || r.AmountIn.Sign() <= 0:
		return fmt.Errorf("invalid amountIn")
	case r.MinAmountMid == nil || r.MinAmountMid.Sign() < 0:
		return fmt.Errorf("invalid minAmountMid")
	case r.MinAmountFinal == nil || r.MinAmountFinal.Sign() < 0:
		return fmt.Errorf("invalid minAmountFinal")
	case !r.Provider.Valid():
		return fmt.Errorf("unknown provider id %d", uint8(r.Provider))
	}
	return nil
}
