package protocol

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mitakash/ajna-keeper-sub001/internal/model"
	"github.com/mitakash/ajna-keeper-sub001/internal/wad"
)

// ContractCaller is the slice of the chain client needed for view calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Pool binds one lending pool contract together with the shared info
// utility contract. View results are converted out of the contract's 1e18
// fixed point; calldata packers keep raw integers.
type Pool struct {
	caller    ContractCaller
	addr      common.Address
	infoUtils common.Address

	quoteToken      common.Address
	collateralToken common.Address
}

// NewPool binds a pool and resolves its token addresses.
func NewPool(ctx context.Context, caller ContractCaller, pool, infoUtils common.Address) (*Pool, error) {
	p := &Pool{caller: caller, addr: pool, infoUtils: infoUtils}

	poolABI, err := PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := p.call(ctx, poolABI, pool, "quoteTokenAddress")
	if err != nil {
		return nil, err
	}
	if p.quoteToken, err = asAddress(values[0]); err != nil {
		return nil, fmt.Errorf("quote token: %w", err)
	}

	values, err = p.call(ctx, poolABI, pool, "collateralAddress")
	if err != nil {
		return nil, err
	}
	if p.collateralToken, err = asAddress(values[0]); err != nil {
		return nil, fmt.Errorf("collateral token: %w", err)
	}

	return p, nil
}

// Address returns the pool contract address.
func (p *Pool) Address() common.Address { return p.addr }

// QuoteToken returns the pool's quote token address.
func (p *Pool) QuoteToken() common.Address { return p.quoteToken }

// CollateralToken returns the pool's collateral token address.
func (p *Pool) CollateralToken() common.Address { return p.collateralToken }

func (p *Pool) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	output, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	values, err := contractABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (p *Pool) infoCall(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	utilsABI, err := InfoUtilsABI()
	if err != nil {
		return nil, fmt.Errorf("parse info utils abi: %w", err)
	}
	return p.call(ctx, utilsABI, p.infoUtils, method, args...)
}

// LoanInfo reads a borrower's live position.
func (p *Pool) LoanInfo(ctx context.Context, borrower common.Address) (model.Loan, error) {
	values, err := p.infoCall(ctx, "borrowerInfo", p.addr, borrower)
	if err != nil {
		return model.Loan{}, err
	}

	debt, err := asBigInt(values[0])
	if err != nil {
		return model.Loan{}, fmt.Errorf("debt: %w", err)
	}
	collateral, err := asBigInt(values[1])
	if err != nil {
		return model.Loan{}, fmt.Errorf("collateral: %w", err)
	}
	neutral, err := asBigInt(values[2])
	if err != nil {
		return model.Loan{}, fmt.Errorf("neutral price: %w", err)
	}
	threshold, err := asBigInt(values[3])
	if err != nil {
		return model.Loan{}, fmt.Errorf("threshold price: %w", err)
	}

	// borrowerInfo carries no kick flag; the pool's auction record does. A
	// nonzero kick time means an auction is live against this borrower.
	poolABI, err := PoolABI()
	if err != nil {
		return model.Loan{}, fmt.Errorf("parse pool abi: %w", err)
	}
	info, err := p.call(ctx, poolABI, p.addr, "auctionInfo", borrower)
	if err != nil {
		return model.Loan{}, err
	}
	kickTime, err := asBigInt(info[3])
	if err != nil {
		return model.Loan{}, fmt.Errorf("kick time: %w", err)
	}

	return model.Loan{
		Borrower:       borrower,
		Debt:           wad.ToFloat(debt),
		Collateral:     wad.ToFloat(collateral),
		NeutralPrice:   wad.ToFloat(neutral),
		ThresholdPrice: wad.ToFloat(threshold),
		IsKicked:       kickTime.Sign() > 0,
	}, nil
}

// AuctionStatus reads a borrower's live auction state, combining the info
// utility view with the pool's own auction record for the kicker identity.
func (p *Pool) AuctionStatus(ctx context.Context, borrower common.Address) (model.Auction, error) {
	values, err := p.infoCall(ctx, "auctionStatus", p.addr, borrower)
	if err != nil {
		return model.Auction{}, err
	}

	kickTime, err := asBigInt(values[0])
	if err != nil {
		return model.Auction{}, fmt.Errorf("kick time: %w", err)
	}
	collateral, err := asBigInt(values[1])
	if err != nil {
		return model.Auction{}, fmt.Errorf("collateral: %w", err)
	}
	debt, err := asBigInt(values[2])
	if err != nil {
		return model.Auction{}, fmt.Errorf("debt: %w", err)
	}
	reference, err := asBigInt(values[6])
	if err != nil {
		return model.Auction{}, fmt.Errorf("reference price: %w", err)
	}

	auction := model.Auction{
		Borrower:       borrower,
		Collateral:     wad.ToFloat(collateral),
		Debt:           wad.ToFloat(debt),
		ReferencePrice: wad.ToFloat(reference),
	}
	if kickTime.Sign() > 0 {
		auction.KickTime = time.Unix(kickTime.Int64(), 0).UTC()
	}

	poolABI, err := PoolABI()
	if err != nil {
		return model.Auction{}, fmt.Errorf("parse pool abi: %w", err)
	}
	info, err := p.call(ctx, poolABI, p.addr, "auctionInfo", borrower)
	if err != nil {
		return model.Auction{}, err
	}
	if auction.Kicker, err = asAddress(info[0]); err != nil {
		return model.Auction{}, fmt.Errorf("kicker: %w", err)
	}

	return auction, nil
}

// BucketInfo reads a bucket's price and deposit.
func (p *Pool) BucketInfo(ctx context.Context, index uint64) (model.Bucket, error) {
	values, err := p.infoCall(ctx, "bucketInfo", p.addr, new(big.Int).SetUint64(index))
	if err != nil {
		return model.Bucket{}, err
	}

	price, err := asBigInt(values[0])
	if err != nil {
		return model.Bucket{}, fmt.Errorf("price: %w", err)
	}
	deposit, err := asBigInt(values[1])
	if err != nil {
		return model.Bucket{}, fmt.Errorf("deposit: %w", err)
	}

	return model.Bucket{
		Index:   index,
		Price:   wad.ToFloat(price),
		Deposit: wad.ToFloat(deposit),
	}, nil
}

// LUP reads the pool's lowest utilized price.
func (p *Pool) LUP(ctx context.Context) (float64, error) {
	values, err := p.infoCall(ctx, "lup", p.addr)
	if err != nil {
		return 0, err
	}
	lup, err := asBigInt(values[0])
	if err != nil {
		return 0, fmt.Errorf("lup: %w", err)
	}
	return wad.ToFloat(lup), nil
}

// KickerInfo reads a kicker's claimable and locked bond amounts.
func (p *Pool) KickerInfo(ctx context.Context, kicker common.Address) (claimable, locked float64, err error) {
	poolABI, err := PoolABI()
	if err != nil {
		return 0, 0, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := p.call(ctx, poolABI, p.addr, "kickerInfo", kicker)
	if err != nil {
		return 0, 0, err
	}

	claimableWad, err := asBigInt(values[0])
	if err != nil {
		return 0, 0, fmt.Errorf("claimable: %w", err)
	}
	lockedWad, err := asBigInt(values[1])
	if err != nil {
		return 0, 0, fmt.Errorf("locked: %w", err)
	}
	return wad.ToFloat(claimableWad), wad.ToFloat(lockedWad), nil
}

// LenderLP reads the signer's LP balance in a bucket.
func (p *Pool) LenderLP(ctx context.Context, index uint64, lender common.Address) (float64, error) {
	poolABI, err := PoolABI()
	if err != nil {
		return 0, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := p.call(ctx, poolABI, p.addr, "lenderInfo", new(big.Int).SetUint64(index), lender)
	if err != nil {
		return 0, err
	}
	lp, err := asBigInt(values[0])
	if err != nil {
		return 0, fmt.Errorf("lp balance: %w", err)
	}
	return wad.ToFloat(lp), nil
}

// KickCalldata packs a kick transaction.
func (p *Pool) KickCalldata(borrower common.Address, npLimitIndex uint64) ([]byte, error) {
	return p.pack("kick", borrower, new(big.Int).SetUint64(npLimitIndex))
}

// TakeCalldata packs a take transaction for up to maxCollateral.
func (p *Pool) TakeCalldata(borrower common.Address, maxCollateral *big.Int, callee common.Address) ([]byte, error) {
	return p.pack("take", borrower, maxCollateral, callee, []byte{})
}

// BucketTakeCalldata packs an arbTake (bucketTake with depositTake=false).
func (p *Pool) BucketTakeCalldata(borrower common.Address, depositTake bool, index uint64) ([]byte, error) {
	return p.pack("bucketTake", borrower, depositTake, new(big.Int).SetUint64(index))
}

// SettleCalldata packs a bounded-depth settle transaction.
func (p *Pool) SettleCalldata(borrower common.Address, maxDepth uint64) ([]byte, error) {
	return p.pack("settle", borrower, new(big.Int).SetUint64(maxDepth))
}

// WithdrawBondsCalldata packs a bond withdrawal.
func (p *Pool) WithdrawBondsCalldata(recipient common.Address, maxAmount *big.Int) ([]byte, error) {
	return p.pack("withdrawBonds", recipient, maxAmount)
}

func (p *Pool) pack(method string, args ...interface{}) ([]byte, error) {
	poolABI, err := PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	data, err := poolABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

func asAddress(value interface{}) (common.Address, error) {
	addr, ok := value.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected type %T", value)
	}
	return addr, nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	n, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", value)
	}
	return n, nil
}
