// Package wad converts between the protocol's 1e18 fixed-point integers and
// float64 values used for decision math. On-chain amounts stay *big.Int;
// floats are only used to compare prices and thresholds.
package wad

import "math/big"

var one = new(big.Float).SetInt64(1e18)

// ToFloat converts a 1e18 fixed-point integer to float64.
func ToFloat(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f := new(big.Float).SetInt(x)
	f.Quo(f, one)
	out, _ := f.Float64()
	return out
}

// FromFloat converts a float64 to a 1e18 fixed-point integer, truncating
// toward zero.
func FromFloat(v float64) *big.Int {
	f := big.NewFloat(v)
	f.Mul(f, one)
	out, _ := f.Int(nil)
	return out
}

// ScaleToFloat converts an integer amount with the given token decimals to
// float64.
func ScaleToFloat(x *big.Int, decimals uint8) float64 {
	if x == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f := new(big.Float).SetInt(x)
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

// ScaleFromFloat converts a float64 amount to an integer with the given
// token decimals, truncating toward zero.
func ScaleFromFloat(v float64, decimals uint8) *big.Int {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f := big.NewFloat(v)
	f.Mul(f, scale)
	out, _ := f.Int(nil)
	return out
}
