// Package engine runs the per-pool decision loop: scan indexed loans and
// auctions, apply the pool's thresholds, and hand eligible actions to the
// dispatcher. One sweep is sequential; concurrency lives in the quote
// aggregator and across pools.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mitakash/ajna-keeper-sub001/internal/auction"
	"github.com/mitakash/ajna-keeper-sub001/internal/model"
	"github.com/mitakash/ajna-keeper-sub001/internal/protocol"
	"github.com/mitakash/ajna-keeper-sub001/internal/quote"
	"github.com/mitakash/ajna-keeper-sub001/internal/subgraph"
	"github.com/mitakash/ajna-keeper-sub001/internal/tokens"
	"github.com/mitakash/ajna-keeper-sub001/internal/wad"
)

// errNoQuote marks a sweep step skipped because no venue priced the pair.
var errNoQuote = errors.New("no venue quote available")

// maxApproval is the unlimited ERC20 allowance.
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PoolClient is the slice of the pool binding the engine needs.
type PoolClient interface {
	Address() common.Address
	QuoteToken() common.Address
	CollateralToken() common.Address
	LoanInfo(ctx context.Context, borrower common.Address) (model.Loan, error)
	AuctionStatus(ctx context.Context, borrower common.Address) (model.Auction, error)
	BucketInfo(ctx context.Context, index uint64) (model.Bucket, error)
	LUP(ctx context.Context) (float64, error)
	KickerInfo(ctx context.Context, kicker common.Address) (claimable, locked float64, err error)
	LenderLP(ctx context.Context, index uint64, lender common.Address) (float64, error)
	KickCalldata(borrower common.Address, npLimitIndex uint64) ([]byte, error)
	TakeCalldata(borrower common.Address, maxCollateral *big.Int, callee common.Address) ([]byte, error)
	BucketTakeCalldata(borrower common.Address, depositTake bool, index uint64) ([]byte, error)
	WithdrawBondsCalldata(recipient common.Address, maxAmount *big.Int) ([]byte, error)
}

// Indexer supplies candidate loans and auctions. Candidates are hints;
// every decision is confirmed against the contract before dispatch.
type Indexer interface {
	GetLoans(ctx context.Context, pool common.Address) (subgraph.LoansResult, error)
	GetLiquidations(ctx context.Context, pool common.Address, minCollateral float64) (subgraph.LiquidationsResult, error)
	GetHighestMeaningfulBucket(ctx context.Context, pool common.Address, minDeposit float64) ([]subgraph.BucketRef, error)
}

// Quoter prices collateral against external liquidity.
type Quoter interface {
	Best(ctx context.Context, req quote.Request) (model.Quote, bool)
}

// Dispatcher executes decided actions.
type Dispatcher interface {
	Dispatch(ctx context.Context, action model.Action, to common.Address, data []byte, value *big.Int) error
	SignerAddress() common.Address
	DryRun() bool
}

// TokenSource reads ERC20 state.
type TokenSource interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
}

// Settler clears bad-debt auctions, both as a sweep pass of its own and
// reactively when bonds are locked behind them.
type Settler interface {
	SweepSettlements(ctx context.Context) error
	TryReactiveSettlement(ctx context.Context) (bool, error)
}

// Engine drives one pool.
type Engine struct {
	cfg         PoolConfig
	actionDelay time.Duration
	pool        PoolClient
	indexer     Indexer
	quoter      Quoter
	swapper     quote.SwapVenue
	dispatcher  Dispatcher
	tokens      TokenSource
	settler     Settler
	logger      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine builds an Engine. swapper may be nil when no venue can build
// swap calldata; settler may be nil when settlement is disabled for the
// pool.
func NewEngine(cfg PoolConfig, actionDelay time.Duration, pool PoolClient, indexer Indexer, quoter Quoter, swapper quote.SwapVenue, dispatcher Dispatcher, tokens TokenSource, settler Settler, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:         cfg,
		actionDelay: actionDelay,
		pool:        pool,
		indexer:     indexer,
		quoter:      quoter,
		swapper:     swapper,
		dispatcher:  dispatcher,
		tokens:      tokens,
		settler:     settler,
		logger:      logger.With(zap.String("pool", pool.Address().Hex())),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sweep runs one full decision pass over the pool: kicks, then auction
// takes, then bad-debt settlement, then bond recovery. A failing candidate
// never aborts the rest of the pass; step-level failures are joined into
// the returned error.
func (e *Engine) Sweep(ctx context.Context) error {
	var errs []error
	if err := e.sweepKicks(ctx); err != nil {
		e.logger.Warn("kick pass failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("kicks: %w", err))
	}
	if err := e.sweepAuctions(ctx); err != nil {
		e.logger.Warn("auction pass failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("auctions: %w", err))
	}
	if e.settler != nil {
		if err := e.settler.SweepSettlements(ctx); err != nil {
			e.logger.Warn("settlement pass failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("settlements: %w", err))
		}
	}
	if err := e.sweepCollateral(ctx); err != nil {
		e.logger.Warn("collateral exit pass failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("collateral: %w", err))
	}
	if err := e.sweepBonds(ctx); err != nil {
		e.logger.Warn("bond pass failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("bonds: %w", err))
	}
	return errors.Join(errs...)
}

// sweepKicks scans indexed loans for under-collateralized positions and
// kicks the ones whose threshold price has fallen far enough below the
// external market price.
func (e *Engine) sweepKicks(ctx context.Context) error {
	loans, err := e.indexer.GetLoans(ctx, e.pool.Address())
	if err != nil {
		return fmt.Errorf("fetch loans: %w", err)
	}
	if len(loans.Loans) == 0 {
		return nil
	}

	feedPrice, err := e.collateralMarketPrice(ctx, 1)
	if err != nil {
		if errors.Is(err, errNoQuote) {
			e.logger.Debug("no market price for collateral, skipping kicks")
			return nil
		}
		return fmt.Errorf("collateral market price: %w", err)
	}

	lup, err := e.pool.LUP(ctx)
	if err != nil {
		e.logger.Debug("lup read failed, using indexed value", zap.Error(err))
		lup = loans.LUP
	}

	for _, candidate := range loans.Loans {
		if !KickEligible(candidate, lup, feedPrice, e.cfg) {
			continue
		}
		if err := e.kick(ctx, candidate.Borrower, lup, feedPrice); err != nil {
			e.logger.Warn("kick failed",
				zap.String("borrower", candidate.Borrower.Hex()),
				zap.Error(err),
			)
			continue
		}
		if err := e.sleep(ctx, e.actionDelay); err != nil {
			return err
		}
	}
	return nil
}

// kick confirms one indexed candidate against live contract state and
// dispatches the kick.
func (e *Engine) kick(ctx context.Context, borrower common.Address, lup, feedPrice float64) error {
	live, err := e.pool.LoanInfo(ctx, borrower)
	if err != nil {
		return fmt.Errorf("confirm loan: %w", err)
	}
	fresh := subgraph.Loan{
		Borrower:       borrower,
		ThresholdPrice: live.ThresholdPrice,
		NeutralPrice:   live.NeutralPrice,
		Debt:           live.Debt,
		InLiquidation:  live.IsKicked,
	}
	if !KickEligible(fresh, lup, feedPrice, e.cfg) {
		e.logger.Debug("loan no longer kickable", zap.String("borrower", borrower.Hex()))
		return nil
	}

	npLimitIndex, err := protocol.PriceToIndex(live.NeutralPrice)
	if err != nil {
		return fmt.Errorf("neutral price limit: %w", err)
	}
	data, err := e.pool.KickCalldata(borrower, npLimitIndex)
	if err != nil {
		return err
	}

	action := model.Action{
		Type:        model.ActionKick,
		Pool:        e.pool.Address(),
		Borrower:    borrower,
		MarketPrice: feedPrice,
	}
	return e.dispatcher.Dispatch(ctx, action, e.pool.Address(), data, nil)
}

// sweepAuctions scans active liquidations and bids on the ones whose
// decayed price is covered by external liquidity or by the pool's own
// highest meaningful bucket. When both apply the take runs first and the
// arb take re-checks against a fresh price after the action delay.
func (e *Engine) sweepAuctions(ctx context.Context) error {
	liquidations, err := e.indexer.GetLiquidations(ctx, e.pool.Address(), e.cfg.MinCollateral)
	if err != nil {
		return fmt.Errorf("fetch liquidations: %w", err)
	}
	if len(liquidations.Auctions) == 0 {
		return nil
	}

	hmb := e.highestMeaningfulBucket(ctx)

	for _, ref := range liquidations.Auctions {
		if err := e.handleAuction(ctx, ref.Borrower, hmb); err != nil {
			e.logger.Warn("auction handling failed",
				zap.String("borrower", ref.Borrower.Hex()),
				zap.Error(err),
			)
			continue
		}
		if err := e.sleep(ctx, e.actionDelay); err != nil {
			return err
		}
	}
	return nil
}

// highestMeaningfulBucket returns the highest bucket carrying at least the
// configured deposit, or nil when none qualifies.
func (e *Engine) highestMeaningfulBucket(ctx context.Context) *subgraph.BucketRef {
	buckets, err := e.indexer.GetHighestMeaningfulBucket(ctx, e.pool.Address(), e.cfg.MinBucketDeposit)
	if err != nil {
		e.logger.Debug("highest meaningful bucket lookup failed", zap.Error(err))
		return nil
	}
	if len(buckets) == 0 {
		return nil
	}
	return &buckets[0]
}

func (e *Engine) handleAuction(ctx context.Context, borrower common.Address, hmb *subgraph.BucketRef) error {
	status, err := e.pool.AuctionStatus(ctx, borrower)
	if err != nil {
		return fmt.Errorf("confirm auction: %w", err)
	}
	if !status.IsActive() || status.Collateral <= 0 {
		return nil
	}

	currentPrice := auction.Price(status.ReferencePrice, status.Age(e.now()))
	took := false

	marketPrice, err := e.collateralMarketPrice(ctx, status.Collateral)
	if err != nil && !errors.Is(err, errNoQuote) {
		return fmt.Errorf("collateral market price: %w", err)
	}
	if err == nil && TakeEligible(currentPrice, marketPrice, status.Collateral, e.cfg) {
		took, err = e.take(ctx, status, currentPrice, marketPrice)
		if err != nil {
			return err
		}
	}

	if hmb == nil {
		return nil
	}
	if took {
		// Let the take land before re-pricing for the arb take.
		if err := e.sleep(ctx, e.actionDelay); err != nil {
			return err
		}
		if status, err = e.pool.AuctionStatus(ctx, borrower); err != nil {
			return fmt.Errorf("re-read auction: %w", err)
		}
		if !status.IsActive() || status.Collateral <= 0 {
			return nil
		}
		currentPrice = auction.Price(status.ReferencePrice, status.Age(e.now()))
	}
	if !ArbTakeEligible(currentPrice, hmb.Price, e.cfg) {
		return nil
	}
	return e.arbTake(ctx, status, currentPrice, hmb)
}

// take bids external liquidity on the auction, approving the pool for the
// quote token first when the standing allowance is short. It reports
// whether a take was actually dispatched.
func (e *Engine) take(ctx context.Context, status model.Auction, currentPrice, marketPrice float64) (bool, error) {
	quoteDecimals, err := e.tokens.Decimals(ctx, e.pool.QuoteToken())
	if err != nil {
		return false, fmt.Errorf("quote token decimals: %w", err)
	}
	needed := wad.ScaleFromFloat(status.Debt, quoteDecimals)

	balance, err := e.tokens.BalanceOf(ctx, e.pool.QuoteToken(), e.dispatcher.SignerAddress())
	if err != nil {
		return false, fmt.Errorf("quote token balance: %w", err)
	}
	if balance.Cmp(needed) < 0 {
		e.logger.Warn("quote token balance below auction debt, skipping take",
			zap.String("borrower", status.Borrower.Hex()),
			zap.String("balance", balance.String()),
			zap.String("needed", needed.String()),
		)
		return false, nil
	}

	if err := e.ensureAllowance(ctx, e.pool.QuoteToken(), e.pool.Address(), needed); err != nil {
		return false, err
	}

	data, err := e.pool.TakeCalldata(status.Borrower, wad.FromFloat(status.Collateral), e.dispatcher.SignerAddress())
	if err != nil {
		return false, err
	}
	action := model.Action{
		Type:         model.ActionTake,
		Pool:         e.pool.Address(),
		Borrower:     status.Borrower,
		AuctionPrice: currentPrice,
		MarketPrice:  marketPrice,
		Collateral:   wad.FromFloat(status.Collateral),
	}
	if err := e.dispatcher.Dispatch(ctx, action, e.pool.Address(), data, nil); err != nil {
		return false, err
	}
	return true, nil
}

// arbTake bids the pool's own deposit at the highest meaningful bucket
// and reports the LP position earned there. The indexed deposit is
// confirmed against the contract first; another taker may have drained the
// bucket since the index was built.
func (e *Engine) arbTake(ctx context.Context, status model.Auction, currentPrice float64, hmb *subgraph.BucketRef) error {
	bucket, err := e.pool.BucketInfo(ctx, hmb.Index)
	if err != nil {
		return fmt.Errorf("confirm bucket: %w", err)
	}
	if bucket.Deposit < e.cfg.MinBucketDeposit {
		e.logger.Debug("bucket deposit drained below threshold",
			zap.Uint64("bucket", hmb.Index),
			zap.Float64("deposit", bucket.Deposit),
		)
		return nil
	}

	data, err := e.pool.BucketTakeCalldata(status.Borrower, false, hmb.Index)
	if err != nil {
		return err
	}
	action := model.Action{
		Type:         model.ActionArbTake,
		Pool:         e.pool.Address(),
		Borrower:     status.Borrower,
		AuctionPrice: currentPrice,
		MarketPrice:  hmb.Price,
		BucketIndex:  hmb.Index,
	}
	if err := e.dispatcher.Dispatch(ctx, action, e.pool.Address(), data, nil); err != nil {
		return err
	}

	if !e.dispatcher.DryRun() {
		lp, err := e.pool.LenderLP(ctx, hmb.Index, e.dispatcher.SignerAddress())
		if err != nil {
			e.logger.Debug("lp balance read failed", zap.Error(err))
		} else {
			e.logger.Info("arb take rewarded lp",
				zap.Uint64("bucket", hmb.Index),
				zap.Float64("lp_balance", lp),
			)
		}
	}
	return nil
}

// ensureAllowance grants the spender an unlimited token allowance when the
// standing one cannot cover the needed amount.
func (e *Engine) ensureAllowance(ctx context.Context, token, spender common.Address, needed *big.Int) error {
	allowance, err := e.tokens.Allowance(ctx, token, e.dispatcher.SignerAddress(), spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(needed) >= 0 {
		return nil
	}

	data, err := tokens.ApproveCalldata(spender, maxApproval)
	if err != nil {
		return err
	}
	action := model.Action{
		Type: model.ActionApprove,
		Pool: e.pool.Address(),
	}
	return e.dispatcher.Dispatch(ctx, action, token, data, nil)
}

// sweepCollateral swaps collateral won from takes back into the quote
// token through the swap-capable venue.
func (e *Engine) sweepCollateral(ctx context.Context) error {
	if e.swapper == nil {
		return nil
	}
	signer := e.dispatcher.SignerAddress()

	balance, err := e.tokens.BalanceOf(ctx, e.pool.CollateralToken(), signer)
	if err != nil {
		return fmt.Errorf("collateral balance: %w", err)
	}
	if balance.Sign() <= 0 {
		return nil
	}

	swap, err := e.swapper.SwapCalldata(ctx, quote.Request{
		TokenIn:  e.pool.CollateralToken(),
		TokenOut: e.pool.QuoteToken(),
		AmountIn: balance,
	}, signer)
	if err != nil {
		if errors.Is(err, quote.ErrNoLiquidity) {
			e.logger.Debug("no liquidity to exit collateral", zap.String("balance", balance.String()))
			return nil
		}
		return fmt.Errorf("build collateral swap: %w", err)
	}

	if err := e.ensureAllowance(ctx, e.pool.CollateralToken(), swap.To, balance); err != nil {
		return err
	}
	action := model.Action{
		Type: model.ActionSwap,
		Pool: e.pool.Address(),
	}
	return e.dispatcher.Dispatch(ctx, action, swap.To, swap.Data, swap.Value)
}

// sweepBonds withdraws claimable kick bonds and, when bonds are locked
// behind unsettled auctions, tries settlement to free them.
func (e *Engine) sweepBonds(ctx context.Context) error {
	signer := e.dispatcher.SignerAddress()
	claimable, locked, err := e.pool.KickerInfo(ctx, signer)
	if err != nil {
		return fmt.Errorf("kicker info: %w", err)
	}

	if locked > 0 && e.settler != nil {
		freed, err := e.settler.TryReactiveSettlement(ctx)
		if err != nil {
			return fmt.Errorf("reactive settlement: %w", err)
		}
		if freed {
			if claimable, _, err = e.pool.KickerInfo(ctx, signer); err != nil {
				return fmt.Errorf("kicker info after settlement: %w", err)
			}
		}
	}

	if claimable <= 0 {
		return nil
	}
	data, err := e.pool.WithdrawBondsCalldata(signer, wad.FromFloat(claimable))
	if err != nil {
		return err
	}
	action := model.Action{
		Type: model.ActionWithdrawBonds,
		Pool: e.pool.Address(),
	}
	return e.dispatcher.Dispatch(ctx, action, e.pool.Address(), data, nil)
}

// collateralMarketPrice prices the given collateral amount against the
// best external venue and returns quote token per collateral token.
func (e *Engine) collateralMarketPrice(ctx context.Context, collateralAmount float64) (float64, error) {
	collateralDecimals, err := e.tokens.Decimals(ctx, e.pool.CollateralToken())
	if err != nil {
		return 0, fmt.Errorf("collateral decimals: %w", err)
	}
	quoteDecimals, err := e.tokens.Decimals(ctx, e.pool.QuoteToken())
	if err != nil {
		return 0, fmt.Errorf("quote decimals: %w", err)
	}

	amountIn := wad.ScaleFromFloat(collateralAmount, collateralDecimals)
	if amountIn.Sign() <= 0 {
		return 0, fmt.Errorf("degenerate collateral amount %v", collateralAmount)
	}

	best, ok := e.quoter.Best(ctx, quote.Request{
		TokenIn:  e.pool.CollateralToken(),
		TokenOut: e.pool.QuoteToken(),
		AmountIn: amountIn,
	})
	if !ok {
		return 0, errNoQuote
	}

	in := wad.ScaleToFloat(best.AmountIn, collateralDecimals)
	out := wad.ScaleToFloat(best.AmountOut, quoteDecimals)
	if in == 0 {
		return 0, errNoQuote
	}
	return out / in, nil
}
