package engine

import "errors"

// Sentinel errors callers branch on. Authorization and configuration
// failures happen before any loan is taken; slippage and insolvency
// revert the whole unit of work.
var (
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrUnexpectedCallback  = errors.New("callback outside an active flash loan")
	ErrCallbackBadCaller   = errors.New("callback caller is not the expected pool")
	ErrCallbackBadInitiator = errors.New("flash loan initiator is not this contract")
	ErrUnsupportedProvider = errors.New("no handler for provider")
	ErrUnsupportedRouter   = errors.New("router not registered")
	ErrPoolNotRegistered   = errors.New("no pool registered for token")
	ErrTokenMismatch       = errors.New("payload token does not match loan token")
	ErrAmountMismatch      = errors.New("payload amount does not match loan amount")
	ErrSlippage            = errors.New("trade output below minimum")
	ErrInsolvent           = errors.New("final balance cannot repay loan plus premium")
	ErrNotRepaid           = errors.New("flash loan not repaid")
	ErrInsufficientLiquidity = errors.New("pool liquidity below requested amount")
	ErrNothingToWithdraw   = errors.New("nothing to withdraw")
)
