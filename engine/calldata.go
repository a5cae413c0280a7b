package engine

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Executor contract ABI (entry points only).
const executorABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bytes", "name": "data", "type": "bytes"}
		],
		"name": "executeArbitrage",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "token", "type": "address"}
		],
		"name": "withdrawProfits",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "address", "name": "pool", "type": "address"}
		],
		"name": "setPool",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var (
	executorABIOnce   sync.Once
	executorABIParsed abi.ABI
	executorABIErr    error
)

func parsedExecutorABI() (abi.ABI, error) {
	executorABIOnce.Do(func() {
		executorABIParsed, executorABIErr = abi.JSON(strings.NewReader(executorABI))
	})
	return executorABIParsed, executorABIErr
}

// PackExecuteArbitrage builds calldata for the executeArbitrage entry
// point of the deployed executor contract.
func PackExecuteArbitrage(token common.Address, amount *big.Int, data []byte) ([]byte, error) {
	parsed, err := parsedExecutorABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse executor ABI: %w", err)
	}
	packed, err := parsed.Pack("executeArbitrage", token, amount, data)
	if err != nil {
		return nil, fmt.Errorf("failed to pack executeArbitrage: %w", err)
	}
	return packed, nil
}

// PackWithdrawProfits builds calldata for withdrawProfits.
func PackWithdrawProfits(token common.Address) ([]byte, error) {
	parsed, err := parsedExecutorABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse executor ABI: %w", err)
	}
	packed, err := parsed.Pack("withdrawProfits", token)
	if err != nil {
		return nil, fmt.Errorf("failed to pack withdrawProfits: %w", err)
	}
	return packed, nil
}

// PackSetPool builds calldata for setPool.
func PackSetPool(token, pool common.Address) ([]byte, error) {
	parsed, err := parsedExecutorABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse executor ABI: %w", err)
	}
	packed, err := parsed.Pack("setPool", token, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to pack setPool: %w", err)
	}
	return packed, nil
}
