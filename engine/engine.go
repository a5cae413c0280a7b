// Package engine models the on-chain atomic execution unit: borrow,
// trade, repay, and profit settlement as a single all-or-nothing
// sequence across heterogeneous flash loan protocols.
package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mevkit/flasharb/payload"
	"github.com/mevkit/flasharb/types"
)

// ExecStatus tracks an execution through the state machine.
type ExecStatus uint8

const (
	StatusIdle ExecStatus = iota
	StatusBorrowRequested
	StatusCallbackReceived
	StatusTradeExecuting
	StatusRepaid
	StatusProfitCredited
	StatusReverted
)

var statusNames = [...]string{
	StatusIdle:             "IDLE",
	StatusBorrowRequested:  "BORROW_REQUESTED",
	StatusCallbackReceived: "CALLBACK_RECEIVED",
	StatusTradeExecuting:   "TRADE_EXECUTING",
	StatusRepaid:           "REPAID",
	StatusProfitCredited:   "PROFIT_CREDITED",
	StatusReverted:         "REVERTED",
}

func (s ExecStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS_%d", uint8(s))
}

// FlashLoanSession exists only between loan disbursement and callback
// return. It is never persisted.
type FlashLoanSession struct {
	Token          common.Address
	Amount         *big.Int
	Premium        *big.Int
	Initiator      common.Address
	ExpectedCaller common.Address
	Request        *types.ArbitrageRequest
	Status         ExecStatus
}

// ExecutionResult records the outcome of one ExecuteArbitrage call.
type ExecutionResult struct {
	Provider types.ProviderID
	Token    common.Address
	Amount   *big.Int
	Premium  *big.Int
	Profit   *big.Int
	Status   ExecStatus
	Err      error
}

// Stats summarizes execution history.
type Stats struct {
	Total       int
	Succeeded   int
	Failed      int
	SuccessRate float64
	TotalProfit *big.Int
}

// Engine is the Go model of the arbitrage executor contract.
type Engine struct {
	mu      sync.Mutex
	address common.Address
	owner   common.Address
	logger  *zap.Logger

	state   *ChainState
	routers map[common.Address]Router
	lenders map[types.ProviderID]Lender
	pools   map[common.Address]common.Address // token → uniswap v3 pool

	session *FlashLoanSession
	history []*ExecutionResult

	metrics struct {
		executions  prometheus.Counter
		reverts     prometheus.Counter
		withdrawals prometheus.Counter
	}
}

// Lender is the provider-variant interface; see lender.go.
type Lender = lender

// NewEngine creates an engine at address, owned by owner, over state.
// Counters land on reg, which the process scrape endpoint exposes.
func NewEngine(address, owner common.Address, state *ChainState, reg prometheus.Registerer, logger *zap.Logger) *Engine {
	e := &Engine{
		address: address,
		owner:   owner,
		logger:  logger,
		state:   state,
		routers: make(map[common.Address]Router),
		lenders: make(map[types.ProviderID]Lender),
		pools:   make(map[common.Address]common.Address),
	}

	e.metrics.executions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_engine_executions_total",
		Help: "Total number of arbitrage executions attempted",
	})
	e.metrics.reverts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_engine_reverts_total",
		Help: "Total number of executions that reverted",
	})
	e.metrics.withdrawals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_engine_withdrawals_total",
		Help: "Total number of profit withdrawals",
	})
	reg.MustRegister(e.metrics.executions, e.metrics.reverts, e.metrics.withdrawals)

	return e
}

// Address returns the engine's own address.
func (e *Engine) Address() common.Address { return e.address }

// Owner returns the address allowed to execute and withdraw.
func (e *Engine) Owner() common.Address { return e.owner }

// Fork returns a throwaway engine with the same routers, lenders, and
// pool registrations over a clone of the committed state. Executions on
// the fork never touch the original; its counters go to a throwaway
// registry so shadow runs stay out of the real execution totals.
func (e *Engine) Fork() *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()

	fork := NewEngine(e.address, e.owner, e.state.Clone(), prometheus.NewRegistry(), e.logger)
	for addr, r := range e.routers {
		fork.routers[addr] = r
	}
	for id, l := range e.lenders {
		fork.lenders[id] = l
	}
	for token, pool := range e.pools {
		fork.pools[token] = pool
	}
	return fork
}

// State returns the committed ledger state.
func (e *Engine) State() *ChainState { return e.state }

// RegisterRouter makes a DEX router available to trade legs.
func (e *Engine) RegisterRouter(r Router) {
	e.routers[r.Address()] = r
}

// RegisterLender installs a provider variant.
func (e *Engine) RegisterLender(l Lender) {
	e.lenders[l.ID()] = l
}

func (e *Engine) requireOwner(caller common.Address) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	return nil
}

// SetPool registers the flash-loan pool for a token. Required before
// executing against a pool-keyed provider. Owner-only.
func (e *Engine) SetPool(caller, token, pool common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pools[token] = pool
	return nil
}

func (e *Engine) poolFor(token common.Address) (common.Address, bool) {
	pool, ok := e.pools[token]
	return pool, ok
}

// ExecuteArbitrage is the owner-only entry point: decode the request,
// dispatch the borrow to the provider variant, and commit the resulting
// state iff the full borrow→trade→repay→credit sequence succeeded.
func (e *Engine) ExecuteArbitrage(caller, token common.Address, amount *big.Int, data []byte) (*ExecutionResult, error) {
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.executions.Inc()

	req, err := payload.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if req.TokenIn != token {
		return nil, ErrTokenMismatch
	}
	if req.AmountIn.Cmp(amount) != 0 {
		return nil, ErrAmountMismatch
	}

	l, ok := e.lenders[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, req.Provider)
	}

	// Configuration checks fail before any loan is taken.
	origin, err := l.CallbackOrigin(e, token)
	if err != nil {
		return nil, err
	}
	if err := e.prequote(req); err != nil {
		return nil, err
	}

	result := &ExecutionResult{
		Provider: req.Provider,
		Token:    token,
		Amount:   new(big.Int).Set(amount),
	}

	ledgerBefore := e.state.ProfitOf(e.owner, token)

	work := e.state.Clone()
	e.session = &FlashLoanSession{
		Token:          token,
		Amount:         new(big.Int).Set(amount),
		Initiator:      e.address,
		ExpectedCaller: origin,
		Request:        req,
		Status:         StatusBorrowRequested,
	}

	err = l.Borrow(work, e, token, amount, data)

	session := e.session
	e.session = nil

	if err != nil {
		// Discard the scratch state wholesale: the loan, the trades,
		// and any partial repayment all evaporate together.
		result.Status = StatusReverted
		result.Err = err
		e.metrics.reverts.Inc()
		e.history = append(e.history, result)
		e.logger.Warn("arbitrage execution reverted",
			zap.String("provider", req.Provider.String()),
			zap.String("token", token.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return result, err
	}

	e.state = work
	result.Status = StatusProfitCredited
	result.Premium = session.Premium
	result.Profit = new(big.Int).Sub(e.state.ProfitOf(e.owner, token), ledgerBefore)
	e.history = append(e.history, result)
	e.logger.Info("arbitrage executed",
		zap.String("provider", req.Provider.String()),
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()),
		zap.String("profit", result.Profit.String()))
	return result, nil
}

// prequote replays both legs against committed state without mutating
// anything, rejecting requests whose minimums cannot be met before a
// loan is ever requested.
func (e *Engine) prequote(req *types.ArbitrageRequest) error {
	router1, ok := e.routers[req.Router1]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedRouter, req.Router1.Hex())
	}
	router2, ok := e.routers[req.Router2]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedRouter, req.Router2.Hex())
	}

	mid, err := router1.Quote(e.state, req.TokenIn, req.TokenMid, req.AmountIn)
	if err != nil {
		return err
	}
	if mid.Cmp(req.MinAmountMid) < 0 {
		return fmt.Errorf("%w: first leg quotes %s below minimum %s", ErrSlippage, mid, req.MinAmountMid)
	}

	final, err := router2.Quote(e.state, req.TokenMid, req.TokenIn, mid)
	if err != nil {
		return err
	}
	if final.Cmp(req.MinAmountFinal) < 0 {
		return fmt.Errorf("%w: second leg quotes %s below minimum %s", ErrSlippage, final, req.MinAmountFinal)
	}
	return nil
}

// authenticateCallback enforces that control returned from the exact
// pool the engine borrowed from, inside an active session.
func (e *Engine) authenticateCallback(caller common.Address) (*FlashLoanSession, error) {
	if e.session == nil {
		return nil, ErrUnexpectedCallback
	}
	if caller != e.session.ExpectedCaller {
		return nil, ErrCallbackBadCaller
	}
	return e.session, nil
}

// ExecuteOperation is the Aave V3 callback. Aave carries the loan
// initiator, so the engine additionally verifies it opened the loan
// itself.
func (e *Engine) ExecuteOperation(st *ChainState, caller, asset common.Address, amount, premium *big.Int, initiator common.Address, params []byte) (bool, error) {
	session, err := e.authenticateCallback(caller)
	if err != nil {
		return false, err
	}
	if initiator != e.address {
		return false, ErrCallbackBadInitiator
	}

	if err := e.settleLoan(st, session, asset, amount, premium, caller, params); err != nil {
		return false, err
	}
	return true, nil
}

// ReceiveFlashLoan is the Balancer vault callback. The protocol carries
// no initiator, so only the caller is authenticated.
func (e *Engine) ReceiveFlashLoan(st *ChainState, caller common.Address, tokens []common.Address, amounts, feeAmounts []*big.Int, userData []byte) error {
	session, err := e.authenticateCallback(caller)
	if err != nil {
		return err
	}
	if len(tokens) != 1 || len(amounts) != 1 || len(feeAmounts) != 1 {
		return fmt.Errorf("single-token flash loan expected")
	}
	return e.settleLoan(st, session, tokens[0], amounts[0], feeAmounts[0], caller, userData)
}

// UniswapV3FlashCallback is the Uniswap V3 callback. The caller must be
// the pool registered for the loan token via SetPool.
func (e *Engine) UniswapV3FlashCallback(st *ChainState, caller common.Address, fee *big.Int, data []byte) error {
	session, err := e.authenticateCallback(caller)
	if err != nil {
		return err
	}
	return e.settleLoan(st, session, session.Token, session.Amount, fee, caller, data)
}

// settleLoan is the shared callback body: trade both legs, verify
// solvency, repay the pool, credit the remainder to the owner's ledger.
func (e *Engine) settleLoan(st *ChainState, session *FlashLoanSession, token common.Address, amount, premium *big.Int, pool common.Address, params []byte) error {
	session.Status = StatusCallbackReceived
	session.Premium = new(big.Int).Set(premium)

	req, err := payload.Decode(params)
	if err != nil {
		return fmt.Errorf("failed to decode callback params: %w", err)
	}
	if req.TokenIn != token || req.AmountIn.Cmp(amount) != 0 {
		return fmt.Errorf("callback params do not match loan")
	}

	session.Status = StatusTradeExecuting

	router1 := e.routers[req.Router1]
	router2 := e.routers[req.Router2]
	if router1 == nil || router2 == nil {
		return ErrUnsupportedRouter
	}

	mid, err := router1.Swap(st, e.address, req.TokenIn, req.TokenMid, req.AmountIn)
	if err != nil {
		return fmt.Errorf("first leg failed: %w", err)
	}
	if mid.Cmp(req.MinAmountMid) < 0 {
		return fmt.Errorf("%w: first leg produced %s, minimum %s", ErrSlippage, mid, req.MinAmountMid)
	}

	final, err := router2.Swap(st, e.address, req.TokenMid, req.TokenIn, mid)
	if err != nil {
		return fmt.Errorf("second leg failed: %w", err)
	}
	if final.Cmp(req.MinAmountFinal) < 0 {
		return fmt.Errorf("%w: second leg produced %s, minimum %s", ErrSlippage, final, req.MinAmountFinal)
	}

	owed := new(big.Int).Add(amount, premium)
	finalBalance := st.BalanceOf(token, e.address)
	if finalBalance.Cmp(owed) < 0 {
		return fmt.Errorf("%w: hold %s, owe %s", ErrInsolvent, finalBalance, owed)
	}

	if err := st.Transfer(token, e.address, pool, owed); err != nil {
		return fmt.Errorf("repayment failed: %w", err)
	}
	session.Status = StatusRepaid

	// Credit instead of transferring out: one fewer external value move
	// inside the atomic unit.
	profit := new(big.Int).Sub(finalBalance, owed)
	st.CreditProfit(e.owner, token, profit)
	session.Status = StatusProfitCredited
	return nil
}

// WithdrawProfits pays the caller's full ledger balance for token and
// zeroes the entry. Owner-only; an empty ledger is an explicit error,
// not a silent success.
func (e *Engine) WithdrawProfits(caller, token common.Address) (*big.Int, error) {
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	balance := e.state.ProfitOf(caller, token)
	if balance.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}

	if err := e.state.Transfer(token, e.address, caller, balance); err != nil {
		return nil, fmt.Errorf("withdrawal transfer failed: %w", err)
	}
	e.state.clearProfit(caller, token)
	e.metrics.withdrawals.Inc()

	e.logger.Info("profits withdrawn",
		zap.String("token", token.Hex()),
		zap.String("amount", balance.String()))
	return balance, nil
}

// ExecStats summarizes the engine's execution history.
func (e *Engine) ExecStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{Total: len(e.history), TotalProfit: new(big.Int)}
	for _, r := range e.history {
		if r.Status == StatusProfitCredited {
			stats.Succeeded++
			if r.Profit != nil {
				stats.TotalProfit.Add(stats.TotalProfit, r.Profit)
			}
		} else {
			stats.Failed++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}
	return stats
}
