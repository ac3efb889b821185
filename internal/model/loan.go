package model

import "github.com/ethereum/go-ethereum/common"

// Loan is a borrower position materialized for one sweep. It is never
// persisted; authoritative state lives in the pool contract.
type Loan struct {
	Borrower       common.Address
	ThresholdPrice float64
	NeutralPrice   float64
	Debt           float64
	Collateral     float64
	IsKicked       bool
}
