// Package tokens provides ERC20 metadata helpers and a read-through
// decimals cache.
package tokens

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller is the slice of the chain client needed for view calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const erc20ABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}], "name": "allowance", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}], "name": "approve", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"}
]`

var (
	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error
)

// ERC20ABI returns the parsed ERC20 ABI.
func ERC20ABI() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

func callView(ctx context.Context, caller ContractCaller, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	tokenABI, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	input, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	output, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, token.Hex(), err)
	}
	values, err := tokenABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// Decimals reads a token's decimals.
func Decimals(ctx context.Context, caller ContractCaller, token common.Address) (uint8, error) {
	values, err := callView(ctx, caller, token, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", values[0])
	}
	return decimals, nil
}

// BalanceOf reads an account's token balance.
func BalanceOf(ctx context.Context, caller ContractCaller, token, account common.Address) (*big.Int, error) {
	values, err := callView(ctx, caller, token, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type %T", values[0])
	}
	return balance, nil
}

// Allowance reads the owner->spender allowance.
func Allowance(ctx context.Context, caller ContractCaller, token, owner, spender common.Address) (*big.Int, error) {
	values, err := callView(ctx, caller, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return allowance, nil
}

// ApproveCalldata packs an approve(spender, amount) call.
func ApproveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	tokenABI, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return tokenABI.Pack("approve", spender, amount)
}
