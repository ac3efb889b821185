package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Quote is one venue's answer for a token pair and input amount. Quotes are
// created per lookup and never cached beyond a single decision.
type Quote struct {
	Venue     string
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Gas       uint64
}

// UnitPrice returns amountOut per unit amountIn, or 0 for a degenerate quote.
func (q Quote) UnitPrice() float64 {
	if q.AmountIn == nil || q.AmountOut == nil || q.AmountIn.Sign() <= 0 {
		return 0
	}
	in, _ := new(big.Float).SetInt(q.AmountIn).Float64()
	out, _ := new(big.Float).SetInt(q.AmountOut).Float64()
	if in == 0 {
		return 0
	}
	return out / in
}
