package quote

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

// ContractCaller is the slice of the chain client needed by on-chain venues.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const quoterABIJSON = `[
  {
    "inputs": [
      {"components": [
        {"internalType": "address", "name": "tokenIn", "type": "address"},
        {"internalType": "address", "name": "tokenOut", "type": "address"},
        {"internalType": "uint256", "name": "amountIn", "type": "uint256"},
        {"internalType": "uint24", "name": "fee", "type": "uint24"},
        {"internalType": "uint160", "name": "sqrtPriceLimitX96", "type": "uint160"}
      ], "internalType": "struct IQuoterV2.QuoteExactInputSingleParams", "name": "params", "type": "tuple"}
    ],
    "name": "quoteExactInputSingle",
    "outputs": [
      {"internalType": "uint256", "name": "amountOut", "type": "uint256"},
      {"internalType": "uint160", "name": "sqrtPriceX96After", "type": "uint160"},
      {"internalType": "uint32", "name": "initializedTicksCrossed", "type": "uint32"},
      {"internalType": "uint256", "name": "gasEstimate", "type": "uint256"}
    ],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

var (
	quoterABI     abi.ABI
	quoterABIOnce sync.Once
	quoterABIErr  error
)

func quoterABIInstance() (abi.ABI, error) {
	quoterABIOnce.Do(func() {
		quoterABI, quoterABIErr = abi.JSON(strings.NewReader(quoterABIJSON))
	})
	return quoterABI, quoterABIErr
}

// QuoterVenue prices a pair by simulating a swap against an on-chain
// quoter contract via eth_call. A revert from the quoter means the pool
// cannot serve the trade.
type QuoterVenue struct {
	caller  ContractCaller
	quoter  common.Address
	feeTier uint32
}

// NewQuoterVenue builds the venue. feeTier is the pool fee in hundredths of
// a bip (e.g. 3000 for 0.3%).
func NewQuoterVenue(caller ContractCaller, quoter common.Address, feeTier uint32) *QuoterVenue {
	return &QuoterVenue{caller: caller, quoter: quoter, feeTier: feeTier}
}

func (v *QuoterVenue) Name() string { return "onchain-quoter" }

func (v *QuoterVenue) Quote(ctx context.Context, req Request) (*big.Int, error) {
	quoterABI, err := quoterABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse quoter abi: %w", err)
	}

	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          req.AmountIn,
		Fee:               new(big.Int).SetUint64(uint64(v.feeTier)),
		SqrtPriceLimitX96: new(big.Int),
	}

	input, err := quoterABI.Pack("quoteExactInputSingle", params)
	if err != nil {
		return nil, fmt.Errorf("pack quote call: %w", err)
	}

	output, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &v.quoter, Data: input}, nil)
	if err != nil {
		// The quoter reverts for pairs without a pool.
		return nil, fmt.Errorf("%w: %v", ErrNoLiquidity, err)
	}

	values, err := quoterABI.Unpack("quoteExactInputSingle", output)
	if err != nil {
		return nil, fmt.Errorf("unpack quote result: %w", err)
	}
	amountOut, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected quote result type %T", values[0])
	}
	if amountOut.Sign() <= 0 {
		return nil, ErrNoLiquidity
	}
	return amountOut, nil
}

const pairABIJSON = `[
  {"inputs": [{"internalType": "address", "name": "", "type": "address"}, {"internalType": "address", "name": "", "type": "address"}],
   "name": "getPair", "outputs": [{"internalType": "address", "name": "", "type": "address"}],
   "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "token0", "outputs": [{"internalType": "address", "name": "", "type": "address"}],
   "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "getReserves",
   "outputs": [
     {"internalType": "uint112", "name": "reserve0", "type": "uint112"},
     {"internalType": "uint112", "name": "reserve1", "type": "uint112"},
     {"internalType": "uint32", "name": "blockTimestampLast", "type": "uint32"}
   ],
   "stateMutability": "view", "type": "function"}
]`

var (
	pairABI     abi.ABI
	pairABIOnce sync.Once
	pairABIErr  error
)

func pairABIInstance() (abi.ABI, error) {
	pairABIOnce.Do(func() {
		pairABI, pairABIErr = abi.JSON(strings.NewReader(pairABIJSON))
	})
	return pairABI, pairABIErr
}

// CFMMVenue simulates a constant-product swap from live pair reserves. No
// transaction is ever built through this venue; it exists as a price check
// that works without any external API.
type CFMMVenue struct {
	caller  ContractCaller
	factory common.Address
	feeBps  uint64
}

// NewCFMMVenue builds the venue against a V2-style pair factory. feeBps is
// the pair's swap fee in basis points (30 for the canonical 0.3%).
func NewCFMMVenue(caller ContractCaller, factory common.Address, feeBps uint64) *CFMMVenue {
	if feeBps == 0 {
		feeBps = 30
	}
	return &CFMMVenue{caller: caller, factory: factory, feeBps: feeBps}
}

func (v *CFMMVenue) Name() string { return "cfmm" }

func (v *CFMMVenue) Quote(ctx context.Context, req Request) (*big.Int, error) {
	pairABI, err := pairABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}

	pair, err := v.pairAddress(ctx, pairABI, req.TokenIn, req.TokenOut)
	if err != nil {
		return nil, err
	}

	reserveIn, reserveOut, err := v.orderedReserves(ctx, pairABI, pair, req.TokenIn)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, ErrNoLiquidity
	}

	// out = in*(10000-fee)*rOut / (rIn*10000 + in*(10000-fee))
	inWithFee := new(big.Int).Mul(req.AmountIn, new(big.Int).SetUint64(10000-v.feeBps))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(10000))
	denominator.Add(denominator, inWithFee)
	if denominator.Sign() == 0 {
		return nil, ErrNoLiquidity
	}

	amountOut := numerator.Div(numerator, denominator)
	if amountOut.Sign() <= 0 {
		return nil, ErrNoLiquidity
	}
	return amountOut, nil
}

func (v *CFMMVenue) pairAddress(ctx context.Context, pairABI abi.ABI, tokenIn, tokenOut common.Address) (common.Address, error) {
	input, err := pairABI.Pack("getPair", tokenIn, tokenOut)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getPair: %w", err)
	}
	output, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &v.factory, Data: input}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("getPair: %w", err)
	}
	values, err := pairABI.Unpack("getPair", output)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack getPair: %w", err)
	}
	pair, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getPair result type %T", values[0])
	}
	if pair == (common.Address{}) {
		return common.Address{}, ErrNoLiquidity
	}
	return pair, nil
}

func (v *CFMMVenue) orderedReserves(ctx context.Context, pairABI abi.ABI, pair, tokenIn common.Address) (*big.Int, *big.Int, error) {
	input, err := pairABI.Pack("token0")
	if err != nil {
		return nil, nil, fmt.Errorf("pack token0: %w", err)
	}
	output, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: input}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("token0: %w", err)
	}
	values, err := pairABI.Unpack("token0", output)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack token0: %w", err)
	}
	token0, ok := values[0].(common.Address)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected token0 result type %T", values[0])
	}

	input, err = pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("pack getReserves: %w", err)
	}
	output, err = v.caller.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: input}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("getReserves: %w", err)
	}
	values, err = pairABI.Unpack("getReserves", output)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack getReserves: %w", err)
	}
	reserve0, ok0 := values[0].(*big.Int)
	reserve1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("unexpected reserves result types %T %T", values[0], values[1])
	}

	if tokenIn == token0 {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}
