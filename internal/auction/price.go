// Package auction implements the protocol's Dutch auction price decay.
package auction

import (
	"math"
	"time"
)

// The decay schedule is piecewise geometric: the price halves every 20
// minutes for the first two hours, every two hours between hour 2 and hour
// 14, and every hour thereafter. The reference price is the auction's price
// at kick time.
const (
	fastPhaseEnd = 120.0 // minutes
	midPhaseEnd  = 840.0 // minutes

	fastHalfLife = 20.0  // minutes
	midHalfLife  = 120.0 // minutes
	slowHalfLife = 60.0  // minutes
)

// Price returns the auction's clearing price after the given elapsed time
// since kick. Negative elapsed values are treated as zero.
func Price(referencePrice float64, elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	minutes := elapsed.Minutes()

	switch {
	case minutes < fastPhaseEnd:
		return referencePrice * math.Exp2(-minutes/fastHalfLife)
	case minutes < midPhaseEnd:
		atFastEnd := referencePrice * math.Exp2(-fastPhaseEnd/fastHalfLife)
		return atFastEnd * math.Exp2(-(minutes-fastPhaseEnd)/midHalfLife)
	default:
		atFastEnd := referencePrice * math.Exp2(-fastPhaseEnd/fastHalfLife)
		atMidEnd := atFastEnd * math.Exp2(-(midPhaseEnd-fastPhaseEnd)/midHalfLife)
		return atMidEnd * math.Exp2(-(minutes-midPhaseEnd)/slowHalfLife)
	}
}
