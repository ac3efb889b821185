package engine

import "github.com/mitakash/ajna-keeper-sub001/internal/subgraph"

// PoolConfig holds the per-pool decision thresholds.
type PoolConfig struct {
	MinDebt           float64
	KickPriceFactor   float64
	MinCollateral     float64
	MarketPriceFactor float64
	HPBPriceFactor    float64
	MinBucketDeposit  float64
}

// KickEligible decides whether a loan should be kicked. The loan must not
// already be in liquidation, must carry at least MinDebt, must not be
// healthy (threshold price above the pool's lend rate), and its threshold
// price must have fallen to at most KickPriceFactor times the external
// feed price so the bond is economically justified.
func KickEligible(loan subgraph.Loan, lup, feedPrice float64, cfg PoolConfig) bool {
	if loan.InLiquidation {
		return false
	}
	if loan.Debt < cfg.MinDebt {
		return false
	}
	if loan.ThresholdPrice > lup {
		return false
	}
	return loan.ThresholdPrice <= cfg.KickPriceFactor*feedPrice
}

// TakeEligible decides whether an auction can be taken against external
// liquidity: there must be collateral left and the external unit price,
// discounted by MarketPriceFactor, must cover the auction's current price.
func TakeEligible(auctionPrice, marketUnitPrice, collateral float64, cfg PoolConfig) bool {
	if collateral <= 0 {
		return false
	}
	return marketUnitPrice*cfg.MarketPriceFactor >= auctionPrice
}

// ArbTakeEligible decides whether the pool's own highest meaningful bucket
// prices above the auction: bidding internal liquidity then earns the
// spread.
func ArbTakeEligible(auctionPrice, hpb float64, cfg PoolConfig) bool {
	if hpb <= 0 {
		return false
	}
	return hpb*cfg.HPBPriceFactor > auctionPrice
}
