// Package payload serializes arbitrage requests into the fixed ABI
// layout consumed by the on-chain execution engine.
//
// Layout: (address router1, address router2, address tokenIn,
// address tokenMid, uint256 amountIn, uint256 minAmountMid,
// uint256 minAmountFinal, uint8 providerId). Field order and widths are
// part of the wire protocol; changing either breaks every deployed
// engine.
package payload

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mevkit/flasharb/types"
)

// EncodedLen is the byte length of an encoded request: eight static
// 32-byte words.
const EncodedLen = 8 * 32

var requestArgs abi.Arguments

func init() {
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	uint8Ty, err := abi.NewType("uint8", "", nil)
	if err != nil {
		panic(err)
	}

	requestArgs = abi.Arguments{
		{Name: "router1", Type: addressTy},
		{Name: "router2", Type: addressTy},
		{Name: "tokenIn", Type: addressTy},
		{Name: "tokenMid", Type: addressTy},
		{Name: "amountIn", Type: uint256Ty},
		{Name: "minAmountMid", Type: uint256Ty},
		{Name: "minAmountFinal", Type: uint256Ty},
		{Name: "providerId", Type: uint8Ty},
	}
}

// Encode serializes req into the fixed wire layout.
func Encode(req *types.ArbitrageRequest) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	data, err := requestArgs.Pack(
		req.Router1,
		req.Router2,
		req.TokenIn,
		req.TokenMid,
		req.AmountIn,
		req.MinAmountMid,
		req.MinAmountFinal,
		uint8(req.Provider),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack request: %w", err)
	}
	return data, nil
}

// Decode is the exact inverse of Encode.
func Decode(data []byte) (*types.ArbitrageRequest, error) {
	if len(data) != EncodedLen {
		return nil, fmt.Errorf("encoded request must be %d bytes, got %d", EncodedLen, len(data))
	}

	values, err := requestArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack request: %w", err)
	}
	if len(values) != 8 {
		return nil, fmt.Errorf("unexpected field count %d", len(values))
	}

	req := &types.ArbitrageRequest{
		Router1:        values[0].(common.Address),
		Router2:        values[1].(common.Address),
		TokenIn:        values[2].(common.Address),
		TokenMid:       values[3].(common.Address),
		AmountIn:       values[4].(*big.Int),
		MinAmountMid:   values[5].(*big.Int),
		MinAmountFinal: values[6].(*big.Int),
		Provider:       types.ProviderID(values[7].(uint8)),
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("decoded request invalid: %w", err)
	}
	return req, nil
}
