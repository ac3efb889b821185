package model

import "github.com/ethereum/go-ethereum/common"

// SettlementResult reports the outcome of driving one auction's settlement.
// Completed means the auction cleared on chain. Success=true with
// Completed=false means the iteration budget ran out before it cleared.
type SettlementResult struct {
	Borrower   common.Address
	Iterations int
	Completed  bool
	Success    bool
	Err        error
}
