// Package protocol wraps the lending pool contracts: view lookups through
// the pool info utility and calldata packers for keeper transactions.
package protocol

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const poolABIJSON = `[
  {"inputs": [], "name": "collateralAddress", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "pure", "type": "function"},
  {"inputs": [], "name": "quoteTokenAddress", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "pure", "type": "function"},
  {"inputs": [
     {"internalType": "address", "name": "borrower", "type": "address"},
     {"internalType": "uint256", "name": "npLimitIndex", "type": "uint256"}
   ], "name": "kick", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [
     {"internalType": "address", "name": "borrowerAddress", "type": "address"},
     {"internalType": "uint256", "name": "maxAmount", "type": "uint256"},
     {"internalType": "address", "name": "callee", "type": "address"},
     {"internalType": "bytes", "name": "data", "type": "bytes"}
   ], "name": "take", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [
     {"internalType": "address", "name": "borrowerAddress", "type": "address"},
     {"internalType": "bool", "name": "depositTake", "type": "bool"},
     {"internalType": "uint256", "name": "index", "type": "uint256"}
   ], "name": "bucketTake", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [
     {"internalType": "address", "name": "borrowerAddress", "type": "address"},
     {"internalType": "uint256", "name": "maxDepth", "type": "uint256"}
   ], "name": "settle", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [
     {"internalType": "address", "name": "recipient", "type": "address"},
     {"internalType": "uint256", "name": "maxAmount", "type": "uint256"}
   ], "name": "withdrawBonds", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [{"internalType": "address", "name": "kicker", "type": "address"}],
   "name": "kickerInfo",
   "outputs": [
     {"internalType": "uint256", "name": "claimable", "type": "uint256"},
     {"internalType": "uint256", "name": "locked", "type": "uint256"}
   ], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "address", "name": "borrower", "type": "address"}],
   "name": "auctionInfo",
   "outputs": [
     {"internalType": "address", "name": "kicker", "type": "address"},
     {"internalType": "uint256", "name": "bondFactor", "type": "uint256"},
     {"internalType": "uint256", "name": "bondSize", "type": "uint256"},
     {"internalType": "uint256", "name": "kickTime", "type": "uint256"},
     {"internalType": "uint256", "name": "referencePrice", "type": "uint256"},
     {"internalType": "uint256", "name": "neutralPrice", "type": "uint256"},
     {"internalType": "uint256", "name": "debtToCollateral", "type": "uint256"},
     {"internalType": "address", "name": "head", "type": "address"},
     {"internalType": "address", "name": "next", "type": "address"},
     {"internalType": "address", "name": "prev", "type": "address"}
   ], "stateMutability": "view", "type": "function"},
  {"inputs": [
     {"internalType": "uint256", "name": "index", "type": "uint256"},
     {"internalType": "address", "name": "lender", "type": "address"}
   ], "name": "lenderInfo",
   "outputs": [
     {"internalType": "uint256", "name": "lpBalance", "type": "uint256"},
     {"internalType": "uint256", "name": "depositTime", "type": "uint256"}
   ], "stateMutability": "view", "type": "function"}
]`

const infoUtilsABIJSON = `[
  {"inputs": [
     {"internalType": "address", "name": "ajnaPool", "type": "address"},
     {"internalType": "address", "name": "borrower", "type": "address"}
   ], "name": "borrowerInfo",
   "outputs": [
     {"internalType": "uint256", "name": "debt", "type": "uint256"},
     {"internalType": "uint256", "name": "collateral", "type": "uint256"},
     {"internalType": "uint256", "name": "t0Np", "type": "uint256"},
     {"internalType": "uint256", "name": "thresholdPrice", "type": "uint256"}
   ], "stateMutability": "view", "type": "function"},
  {"inputs": [
     {"internalType": "address", "name": "ajnaPool", "type": "address"},
     {"internalType": "address", "name": "borrower", "type": "address"}
   ], "name": "auctionStatus",
   "outputs": [
     {"internalType": "uint256", "name": "kickTime", "type": "uint256"},
     {"internalType": "uint256", "name": "collateral", "type": "uint256"},
     {"internalType": "uint256", "name": "debtToCover", "type": "uint256"},
     {"internalType": "bool", "name": "isCollateralized", "type": "bool"},
     {"internalType": "uint256", "name": "price", "type": "uint256"},
     {"internalType": "uint256", "name": "neutralPrice", "type": "uint256"},
     {"internalType": "uint256", "name": "referencePrice", "type": "uint256"}
   ], "stateMutability": "view", "type": "function"},
  {"inputs": [
     {"internalType": "address", "name": "ajnaPool", "type": "address"},
     {"internalType": "uint256", "name": "index", "type": "uint256"}
   ], "name": "bucketInfo",
   "outputs": [
     {"internalType": "uint256", "name": "price", "type": "uint256"},
     {"internalType": "uint256", "name": "quoteTokens", "type": "uint256"},
     {"internalType": "uint256", "name": "collateral", "type": "uint256"},
     {"internalType": "uint256", "name": "bucketLP", "type": "uint256"},
     {"internalType": "uint256", "name": "scale", "type": "uint256"},
     {"internalType": "uint256", "name": "exchangeRate", "type": "uint256"}
   ], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "address", "name": "ajnaPool", "type": "address"}],
   "name": "lup",
   "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
   "stateMutability": "view", "type": "function"}
]`

var (
	poolABI     abi.ABI
	poolABIOnce sync.Once
	poolABIErr  error

	infoUtilsABI     abi.ABI
	infoUtilsABIOnce sync.Once
	infoUtilsABIErr  error
)

// PoolABI returns the parsed pool ABI.
func PoolABI() (abi.ABI, error) {
	poolABIOnce.Do(func() {
		poolABI, poolABIErr = abi.JSON(strings.NewReader(poolABIJSON))
	})
	return poolABI, poolABIErr
}

// InfoUtilsABI returns the parsed pool info utility ABI.
func InfoUtilsABI() (abi.ABI, error) {
	infoUtilsABIOnce.Do(func() {
		infoUtilsABI, infoUtilsABIErr = abi.JSON(strings.NewReader(infoUtilsABIJSON))
	})
	return infoUtilsABI, infoUtilsABIErr
}
