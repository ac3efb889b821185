package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Auction is a liquidation auction snapshot read from the pool contract.
type Auction struct {
	Borrower       common.Address
	Kicker         common.Address
	KickTime       time.Time
	ReferencePrice float64
	Collateral     float64
	Debt           float64
	BondLocked     float64
	BondClaimable  float64
}

// IsActive reports whether the auction exists on chain. The pool resets the
// kick time to zero once an auction is fully settled or taken.
func (a Auction) IsActive() bool {
	return !a.KickTime.IsZero()
}

// Age returns the time elapsed since the auction was kicked.
func (a Auction) Age(now time.Time) time.Duration {
	if !a.IsActive() {
		return 0
	}
	return now.Sub(a.KickTime)
}
