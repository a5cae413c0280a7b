package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Router executes single-hop swaps against ledger state. Quote must be
// pure; Swap mutates the passed state only.
type Router interface {
	Address() common.Address
	Quote(st *ChainState, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	Swap(st *ChainState, trader common.Address, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
}

// PairRouter is a constant-product pool over two tokens. Reserves are
// the router address's own token balances, so swaps and reverts ride on
// the same snapshot discipline as everything else.
type PairRouter struct {
	address common.Address
	token0  common.Address
	token1  common.Address
}

// NewPairRouter creates a two-token constant-product router.
func NewPairRouter(address, token0, token1 common.Address) *PairRouter {
	return &PairRouter{address: address, token0: token0, token1: token1}
}

func (r *PairRouter) Address() common.Address { return r.address }

func (r *PairRouter) supports(tokenIn, tokenOut common.Address) bool {
	return (tokenIn == r.token0 && tokenOut == r.token1) ||
		(tokenIn == r.token1 && tokenOut == r.token0)
}

// getAmountOut applies the x*y=k formula with the 0.3% pool fee.
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(1000)), amountInWithFee)

	return new(big.Int).Div(numerator, denominator)
}

// Quote returns the output the pool would pay for amountIn at current
// reserves, without touching state.
func (r *PairRouter) Quote(st *ChainState, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if !r.supports(tokenIn, tokenOut) {
		return nil, fmt.Errorf("router %s does not trade %s/%s", r.address.Hex(), tokenIn.Hex(), tokenOut.Hex())
	}

	reserveIn := st.BalanceOf(tokenIn, r.address)
	reserveOut := st.BalanceOf(tokenOut, r.address)
	out := getAmountOut(amountIn, reserveIn, reserveOut)
	if out.Sign() <= 0 {
		return nil, fmt.Errorf("router %s has no liquidity for %s", r.address.Hex(), tokenIn.Hex())
	}
	return out, nil
}

// Swap trades amountIn of tokenIn for tokenOut on behalf of trader.
func (r *PairRouter) Swap(st *ChainState, trader common.Address, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	out, err := r.Quote(st, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}

	if err := st.Transfer(tokenIn, trader, r.address, amountIn); err != nil {
		return nil, fmt.Errorf("swap input transfer failed: %w", err)
	}
	if err := st.Transfer(tokenOut, r.address, trader, out); err != nil {
		return nil, fmt.Errorf("swap output transfer failed: %w", err)
	}
	return out, nil
}
