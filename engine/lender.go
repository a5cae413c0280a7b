package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevkit/flasharb/types"
)

// lender is the tagged-variant side of provider dispatch: one
// implementation per ProviderID, each invoking the engine's callback in
// that protocol's own shape. Adding a provider means adding a variant,
// never growing a conditional.
type lender interface {
	ID() types.ProviderID
	// CallbackOrigin resolves the address the engine must see as the
	// callback caller for a loan in token, before any loan is taken.
	CallbackOrigin(e *Engine, token common.Address) (common.Address, error)
	// Borrow moves the loan to the engine, invokes its callback, and
	// verifies repayment, all against st.
	Borrow(st *ChainState, e *Engine, token common.Address, amount *big.Int, params []byte) error
}

// AaveV3Pool lends via flashLoanSimple and expects executeOperation to
// repay amount plus premium.
type AaveV3Pool struct {
	address common.Address
	feeBps  uint16
}

// NewAaveV3Pool creates the Aave V3 lender variant.
func NewAaveV3Pool(address common.Address, feeBps uint16) *AaveV3Pool {
	return &AaveV3Pool{address: address, feeBps: feeBps}
}

func (p *AaveV3Pool) ID() types.ProviderID { return types.ProviderAaveV3 }

func (p *AaveV3Pool) CallbackOrigin(_ *Engine, _ common.Address) (common.Address, error) {
	return p.address, nil
}

func (p *AaveV3Pool) Borrow(st *ChainState, e *Engine, token common.Address, amount *big.Int, params []byte) error {
	if st.BalanceOf(token, p.address).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	premium := new(big.Int).Mul(amount, big.NewInt(int64(p.feeBps)))
	premium.Div(premium, big.NewInt(10000))

	before := st.BalanceOf(token, p.address)
	if err := st.Transfer(token, p.address, e.address, amount); err != nil {
		return fmt.Errorf("aave disbursement failed: %w", err)
	}

	// Aave forwards the initiator so the receiver can verify the loan
	// was opened by itself.
	ok, err := e.ExecuteOperation(st, p.address, token, amount, premium, e.address, params)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("executeOperation rejected the loan")
	}

	owed := new(big.Int).Add(before, premium)
	if st.BalanceOf(token, p.address).Cmp(owed) < 0 {
		return ErrNotRepaid
	}
	return nil
}

// BalancerVault lends fee-free via flashLoan and expects
// receiveFlashLoan to return exactly the borrowed amount.
type BalancerVault struct {
	address common.Address
}

// NewBalancerVault creates the Balancer lender variant.
func NewBalancerVault(address common.Address) *BalancerVault {
	return &BalancerVault{address: address}
}

func (v *BalancerVault) ID() types.ProviderID { return types.ProviderBalancer }

func (v *BalancerVault) CallbackOrigin(_ *Engine, _ common.Address) (common.Address, error) {
	return v.address, nil
}

func (v *BalancerVault) Borrow(st *ChainState, e *Engine, token common.Address, amount *big.Int, params []byte) error {
	if st.BalanceOf(token, v.address).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	before := st.BalanceOf(token, v.address)
	if err := st.Transfer(token, v.address, e.address, amount); err != nil {
		return fmt.Errorf("balancer disbursement failed: %w", err)
	}

	err := e.ReceiveFlashLoan(st, v.address,
		[]common.Address{token},
		[]*big.Int{amount},
		[]*big.Int{big.NewInt(0)},
		params)
	if err != nil {
		return err
	}

	if st.BalanceOf(token, v.address).Cmp(before) < 0 {
		return ErrNotRepaid
	}
	return nil
}

// UniswapV3Lender borrows from the per-token pool registered on the
// engine via SetPool, calling uniswapV3FlashCallback.
type UniswapV3Lender struct {
	feeBps uint16
}

// NewUniswapV3Lender creates the Uniswap V3 lender variant.
func NewUniswapV3Lender(feeBps uint16) *UniswapV3Lender {
	return &UniswapV3Lender{feeBps: feeBps}
}

func (u *UniswapV3Lender) ID() types.ProviderID { return types.ProviderUniswapV3 }

// CallbackOrigin is the pool registered for token via SetPool; borrowing
// without one is a configuration error caught before any loan moves.
func (u *UniswapV3Lender) CallbackOrigin(e *Engine, token common.Address) (common.Address, error) {
	pool, ok := e.poolFor(token)
	if !ok {
		return common.Address{}, ErrPoolNotRegistered
	}
	return pool, nil
}

func (u *UniswapV3Lender) Borrow(st *ChainState, e *Engine, token common.Address, amount *big.Int, params []byte) error {
	pool, ok := e.poolFor(token)
	if !ok {
		return ErrPoolNotRegistered
	}
	if st.BalanceOf(token, pool).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	fee := new(big.Int).Mul(amount, big.NewInt(int64(u.feeBps)))
	fee.Div(fee, big.NewInt(10000))

	before := st.BalanceOf(token, pool)
	if err := st.Transfer(token, pool, e.address, amount); err != nil {
		return fmt.Errorf("uniswap disbursement failed: %w", err)
	}

	if err := e.UniswapV3FlashCallback(st, pool, fee, params); err != nil {
		return err
	}

	owed := new(big.Int).Add(before, fee)
	if st.BalanceOf(token, pool).Cmp(owed) < 0 {
		return ErrNotRepaid
	}
	return nil
}
