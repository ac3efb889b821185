package protocol

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mitakash/ajna-keeper-sub001/internal/wad"
)

var (
	testPoolAddr  = common.HexToAddress("0x0000000000000000000000000000000000000011")
	testUtilsAddr = common.HexToAddress("0x0000000000000000000000000000000000000022")
	testQuoteTok  = common.HexToAddress("0x0000000000000000000000000000000000000033")
	testCollTok   = common.HexToAddress("0x0000000000000000000000000000000000000044")
	testBorrower  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	testKicker    = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

// fakeCaller answers view calls by ABI selector, encoding responses with the
// same ABIs the binding decodes with.
type fakeCaller struct {
	kickTime *big.Int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	poolABI, err := PoolABI()
	if err != nil {
		return nil, err
	}
	utilsABI, err := InfoUtilsABI()
	if err != nil {
		return nil, err
	}
	selector := msg.Data[:4]
	switch {
	case bytes.Equal(selector, poolABI.Methods["quoteTokenAddress"].ID):
		return poolABI.Methods["quoteTokenAddress"].Outputs.Pack(testQuoteTok)
	case bytes.Equal(selector, poolABI.Methods["collateralAddress"].ID):
		return poolABI.Methods["collateralAddress"].Outputs.Pack(testCollTok)
	case bytes.Equal(selector, utilsABI.Methods["borrowerInfo"].ID):
		return utilsABI.Methods["borrowerInfo"].Outputs.Pack(
			wad.FromFloat(120), wad.FromFloat(2.5), wad.FromFloat(55), wad.FromFloat(48),
		)
	case bytes.Equal(selector, poolABI.Methods["auctionInfo"].ID):
		zero := big.NewInt(0)
		return poolABI.Methods["auctionInfo"].Outputs.Pack(
			testKicker, zero, zero, f.kickTime, zero, zero, zero,
			common.Address{}, common.Address{}, common.Address{},
		)
	}
	return nil, fmt.Errorf("unexpected call %x", selector)
}

func TestLoanInfoFlagsLiveAuction(t *testing.T) {
	caller := &fakeCaller{kickTime: big.NewInt(0)}
	pool, err := NewPool(context.Background(), caller, testPoolAddr, testUtilsAddr)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if pool.QuoteToken() != testQuoteTok || pool.CollateralToken() != testCollTok {
		t.Fatalf("token resolution wrong: %s / %s", pool.QuoteToken(), pool.CollateralToken())
	}

	loan, err := pool.LoanInfo(context.Background(), testBorrower)
	if err != nil {
		t.Fatalf("LoanInfo: %v", err)
	}
	if loan.IsKicked {
		t.Fatal("loan flagged kicked with zero auction kick time")
	}
	if loan.Debt != 120 || loan.Collateral != 2.5 || loan.ThresholdPrice != 48 {
		t.Fatalf("unexpected loan conversion: %+v", loan)
	}

	// A live auction record must surface on the loan even though
	// borrowerInfo itself carries no kick flag.
	caller.kickTime = big.NewInt(1_700_000_000)
	loan, err = pool.LoanInfo(context.Background(), testBorrower)
	if err != nil {
		t.Fatalf("LoanInfo: %v", err)
	}
	if !loan.IsKicked {
		t.Fatal("loan not flagged kicked while an auction is live")
	}
}
