package engine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainState models the slice of ledger state the execution engine
// touches: ERC20-style token balances and the engine's profit ledger.
// The atomic unit runs against a Clone and the engine commits the clone
// only when every step succeeded, so a failed run leaves no trace.
type ChainState struct {
	balances map[common.Address]map[common.Address]*big.Int // token → holder → balance
	profits  map[common.Address]map[common.Address]*big.Int // owner → token → accrued
}

// NewChainState creates an empty ledger.
func NewChainState() *ChainState {
	return &ChainState{
		balances: make(map[common.Address]map[common.Address]*big.Int),
		profits:  make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Clone deep-copies the ledger, balances and profit entries included.
func (s *ChainState) Clone() *ChainState {
	c := NewChainState()
	for token, holders := range s.balances {
		dst := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			dst[holder] = new(big.Int).Set(bal)
		}
		c.balances[token] = dst
	}
	for owner, tokens := range s.profits {
		dst := make(map[common.Address]*big.Int, len(tokens))
		for token, bal := range tokens {
			dst[token] = new(big.Int).Set(bal)
		}
		c.profits[owner] = dst
	}
	return c
}

// BalanceOf returns holder's balance of token. Never nil.
func (s *ChainState) BalanceOf(token, holder common.Address) *big.Int {
	if holders, ok := s.balances[token]; ok {
		if bal, ok := holders[holder]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// Mint credits holder with amount of token out of thin air. Test and
// genesis setup only; the engine itself never mints.
func (s *ChainState) Mint(token, holder common.Address, amount *big.Int) {
	holders, ok := s.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		s.balances[token] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(big.Int)
		holders[holder] = bal
	}
	bal.Add(bal, amount)
}

// Transfer moves amount of token from one holder to another.
func (s *ChainState) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}

	holders, ok := s.balances[token]
	if !ok {
		return fmt.Errorf("transfer of %s from %s: no balance", token.Hex(), from.Hex())
	}
	fromBal, ok := holders[from]
	if !ok || fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("transfer of %s from %s: insufficient balance", token.Hex(), from.Hex())
	}

	fromBal.Sub(fromBal, amount)
	toBal, ok := holders[to]
	if !ok {
		toBal = new(big.Int)
		holders[to] = toBal
	}
	toBal.Add(toBal, amount)
	return nil
}

// CreditProfit accrues amount of token to owner's ledger entry. The
// entry is created lazily on first credit and never deleted.
func (s *ChainState) CreditProfit(owner, token common.Address, amount *big.Int) {
	tokens, ok := s.profits[owner]
	if !ok {
		tokens = make(map[common.Address]*big.Int)
		s.profits[owner] = tokens
	}
	bal, ok := tokens[token]
	if !ok {
		bal = new(big.Int)
		tokens[token] = bal
	}
	bal.Add(bal, amount)
}

// ProfitOf returns owner's accrued profit in token. Never nil.
func (s *ChainState) ProfitOf(owner, token common.Address) *big.Int {
	if tokens, ok := s.profits[owner]; ok {
		if bal, ok := tokens[token]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// clearProfit zeroes owner's ledger entry for token and returns the
// drained amount.
func (s *ChainState) clearProfit(owner, token common.Address) *big.Int {
	tokens, ok := s.profits[owner]
	if !ok {
		return new(big.Int)
	}
	bal, ok := tokens[token]
	if !ok {
		return new(big.Int)
	}
	drained := new(big.Int).Set(bal)
	bal.SetInt64(0)
	return drained
}
