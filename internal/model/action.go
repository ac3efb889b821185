package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ActionType enumerates the transactions the keeper can decide to send.
type ActionType string

const (
	ActionKick          ActionType = "kick"
	ActionTake          ActionType = "take"
	ActionArbTake       ActionType = "arbTake"
	ActionSettle        ActionType = "settle"
	ActionApprove       ActionType = "approve"
	ActionWithdrawBonds ActionType = "withdrawBonds"
	ActionSwap          ActionType = "swap"
)

// Action is a decided, not-yet-executed keeper operation.
type Action struct {
	Type     ActionType
	Pool     common.Address
	Borrower common.Address

	// Price context captured at decision time, for the audit trail.
	AuctionPrice float64
	MarketPrice  float64

	// ArbTake target bucket.
	BucketIndex uint64

	// Take collateral bound.
	Collateral *big.Int
}

// ActionRecord is the audit row written for every dispatched action,
// dry-run included.
type ActionRecord struct {
	Time         time.Time  `json:"ts"`
	ChainID      uint64     `json:"chain_id"`
	Pool         string     `json:"pool"`
	Borrower     string     `json:"borrower"`
	Action       ActionType `json:"action"`
	AuctionPrice float64    `json:"auction_price,omitempty"`
	MarketPrice  float64    `json:"market_price,omitempty"`
	DryRun       bool       `json:"dry_run"`
	TxHash       string     `json:"tx_hash,omitempty"`
	GasUsed      uint64     `json:"gas_used,omitempty"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
}
