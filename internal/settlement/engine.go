// Package settlement drives bad-debt auctions through repeated partial
// settlement calls until they clear or a retry budget runs out.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mitakash/ajna-keeper-sub001/internal/executor"
	"github.com/mitakash/ajna-keeper-sub001/internal/model"
	"github.com/mitakash/ajna-keeper-sub001/internal/subgraph"
)

// PoolClient is the slice of the protocol binding the engine needs.
type PoolClient interface {
	Address() common.Address
	AuctionStatus(ctx context.Context, borrower common.Address) (model.Auction, error)
	KickerInfo(ctx context.Context, kicker common.Address) (claimable, locked float64, err error)
	SettleCalldata(borrower common.Address, maxDepth uint64) ([]byte, error)
}

// Indexer supplies unsettled auction candidates.
type Indexer interface {
	GetUnsettledAuctions(ctx context.Context, pool common.Address) ([]subgraph.AuctionRef, error)
}

// Dispatcher executes settle transactions.
type Dispatcher interface {
	Dispatch(ctx context.Context, action model.Action, to common.Address, data []byte, value *big.Int) error
	Simulate(ctx context.Context, to common.Address, data []byte, value *big.Int) error
	SignerAddress() common.Address
	DryRun() bool
}

// Config holds per-pool settlement thresholds.
type Config struct {
	Enabled           bool
	MinAuctionAge     time.Duration
	MaxIterations     int
	MaxBucketsPerCall uint64
	CheckBotIncentive bool
}

// Engine settles bad-debt auctions for one pool.
type Engine struct {
	cfg        Config
	pool       PoolClient
	indexer    Indexer
	dispatcher Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewEngine builds a settlement engine.
func NewEngine(cfg Config, pool PoolClient, indexer Indexer, dispatcher Dispatcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.MaxBucketsPerCall == 0 {
		cfg.MaxBucketsPerCall = 50
	}
	return &Engine{
		cfg:        cfg,
		pool:       pool,
		indexer:    indexer,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// IsAuctionOldEnough rejects young auctions before any chain calls are
// spent on them.
func (e *Engine) IsAuctionOldEnough(kickTime time.Time) bool {
	if kickTime.IsZero() {
		return false
	}
	return e.now().Sub(kickTime) >= e.cfg.MinAuctionAge
}

// NeedsSettlement reports whether the borrower's auction is bad debt ready
// to settle: an active auction with nonzero debt, zero collateral, and a
// settle simulation the node accepts. A predicted revert means "not yet
// settleable", not an error.
func (e *Engine) NeedsSettlement(ctx context.Context, borrower common.Address) (bool, error) {
	auction, err := e.pool.AuctionStatus(ctx, borrower)
	if err != nil {
		return false, fmt.Errorf("auction status %s: %w", borrower.Hex(), err)
	}
	if !auction.IsActive() || auction.Debt <= 0 || auction.Collateral > 0 {
		return false, nil
	}

	data, err := e.pool.SettleCalldata(borrower, e.cfg.MaxBucketsPerCall)
	if err != nil {
		return false, fmt.Errorf("settle calldata: %w", err)
	}
	if err := e.dispatcher.Simulate(ctx, e.pool.Address(), data, nil); err != nil {
		if errors.Is(err, executor.ErrWouldRevert) {
			e.logger.Debug("settle not yet accepted by node",
				zap.String("borrower", borrower.Hex()),
				zap.Error(err),
			)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CheckBotIncentive reports whether this bot stands to reclaim a bond from
// the auction: it does exactly when the bot's signer is the original
// kicker. A failed claimable-amount lookup does not withhold the
// incentive; the inability to introspect the amount must not block
// reclaiming it.
func (e *Engine) CheckBotIncentive(ctx context.Context, auction model.Auction) bool {
	signer := e.dispatcher.SignerAddress()
	if auction.Kicker != signer {
		return false
	}

	claimable, locked, err := e.pool.KickerInfo(ctx, signer)
	if err != nil {
		e.logger.Warn("kicker bond lookup failed, assuming incentive",
			zap.String("borrower", auction.Borrower.Hex()),
			zap.Error(err),
		)
		return true
	}
	e.logger.Debug("bot is kicker",
		zap.String("borrower", auction.Borrower.Hex()),
		zap.Float64("bond_claimable", claimable),
		zap.Float64("bond_locked", locked),
	)
	return true
}

// SettleAuctionCompletely issues bounded-depth settle calls until the
// auction clears or the iteration budget runs out. Dry-run mode reports a
// synthetic completion without sending anything.
func (e *Engine) SettleAuctionCompletely(ctx context.Context, borrower common.Address) model.SettlementResult {
	result := model.SettlementResult{Borrower: borrower}

	if e.dispatcher.DryRun() {
		e.logger.Info("dry run: would settle auction",
			zap.String("pool", e.pool.Address().Hex()),
			zap.String("borrower", borrower.Hex()),
		)
		result.Completed = true
		result.Success = true
		return result
	}

	for iteration := 0; iteration < e.cfg.MaxIterations; iteration++ {
		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		default:
		}

		data, err := e.pool.SettleCalldata(borrower, e.cfg.MaxBucketsPerCall)
		if err != nil {
			result.Err = fmt.Errorf("settle calldata: %w", err)
			return result
		}

		action := model.Action{Type: model.ActionSettle, Pool: e.pool.Address(), Borrower: borrower}
		if err := e.dispatcher.Dispatch(ctx, action, e.pool.Address(), data, nil); err != nil {
			result.Err = fmt.Errorf("settle iteration %d: %w", iteration+1, err)
			return result
		}
		result.Iterations = iteration + 1

		auction, err := e.pool.AuctionStatus(ctx, borrower)
		if err != nil {
			result.Err = fmt.Errorf("re-read auction: %w", err)
			return result
		}
		if !auction.IsActive() {
			// Kick time reset to zero: fully settled.
			result.Completed = true
			result.Success = true
			e.logger.Info("auction fully settled",
				zap.String("pool", e.pool.Address().Hex()),
				zap.String("borrower", borrower.Hex()),
				zap.Int("iterations", result.Iterations),
			)
			return result
		}
	}

	// Budget exhausted without clearing: partial settlement.
	result.Success = true
	e.logger.Warn("settlement budget exhausted",
		zap.String("pool", e.pool.Address().Hex()),
		zap.String("borrower", borrower.Hex()),
		zap.Int("iterations", result.Iterations),
	)
	return result
}

// shouldSettle applies the age, bad-debt, and incentive gates to one
// unsettled auction candidate.
func (e *Engine) shouldSettle(ctx context.Context, ref subgraph.AuctionRef) (bool, error) {
	if !e.IsAuctionOldEnough(ref.KickTime) {
		return false, nil
	}
	needed, err := e.NeedsSettlement(ctx, ref.Borrower)
	if err != nil || !needed {
		return false, err
	}
	if e.cfg.CheckBotIncentive {
		auction, err := e.pool.AuctionStatus(ctx, ref.Borrower)
		if err != nil {
			return false, fmt.Errorf("auction status %s: %w", ref.Borrower.Hex(), err)
		}
		if !e.CheckBotIncentive(ctx, auction) {
			return false, nil
		}
	}
	return true, nil
}

// SweepSettlements settles every bad-debt auction in the pool that passes
// the age and incentive gates. One auction's failure does not stop the
// rest; failures are joined into the returned error.
func (e *Engine) SweepSettlements(ctx context.Context) error {
	refs, err := e.indexer.GetUnsettledAuctions(ctx, e.pool.Address())
	if err != nil {
		return fmt.Errorf("unsettled auctions: %w", err)
	}

	var errs []error
	for _, ref := range refs {
		ok, err := e.shouldSettle(ctx, ref)
		if err != nil {
			e.logger.Warn("settlement check failed",
				zap.String("borrower", ref.Borrower.Hex()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		if result := e.SettleAuctionCompletely(ctx, ref.Borrower); result.Err != nil {
			errs = append(errs, fmt.Errorf("settle %s: %w", ref.Borrower.Hex(), result.Err))
		}
	}
	return errors.Join(errs...)
}

// TryReactiveSettlement is used when a bond appears locked: it settles the
// first settleable auction completely and reports whether the bond became
// unlocked afterward.
func (e *Engine) TryReactiveSettlement(ctx context.Context) (bool, error) {
	refs, err := e.indexer.GetUnsettledAuctions(ctx, e.pool.Address())
	if err != nil {
		return false, fmt.Errorf("unsettled auctions: %w", err)
	}

	for _, ref := range refs {
		ok, err := e.shouldSettle(ctx, ref)
		if err != nil {
			e.logger.Warn("settlement check failed",
				zap.String("borrower", ref.Borrower.Hex()),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}

		result := e.SettleAuctionCompletely(ctx, ref.Borrower)
		if result.Err != nil {
			return false, result.Err
		}
		if !result.Completed {
			return false, nil
		}

		_, locked, err := e.pool.KickerInfo(ctx, e.dispatcher.SignerAddress())
		if err != nil {
			return false, fmt.Errorf("kicker info after settlement: %w", err)
		}
		return locked == 0, nil
	}

	return false, nil
}
