// Package executor turns decided actions into signed transactions.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/mitakash/ajna-keeper-sub001/internal/model"
	"github.com/mitakash/ajna-keeper-sub001/internal/nonce"
	"github.com/mitakash/ajna-keeper-sub001/internal/storage"
)

// ErrWouldRevert marks an action whose pre-flight simulation failed. It
// means "not eligible now", never a sent-and-failed transaction.
var ErrWouldRevert = errors.New("simulation predicts revert")

// Backend is the slice of the chain client the dispatcher needs.
type Backend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Config holds dispatcher tuning.
type Config struct {
	DryRun             bool
	GasLimitPadPct     uint64
	GasPriceMultiplier float64
	WaitTimeout        time.Duration
	ChainID            uint64
}

// Dispatcher submits actions through the nonce sequencer, one transaction
// per call. A failed dispatch is surfaced, never retried here.
type Dispatcher struct {
	cfg       Config
	backend   Backend
	sequencer *nonce.Sequencer
	signer    Signer
	audit     storage.AuditSink
	logger    *zap.Logger
}

// NewDispatcher builds a Dispatcher. audit may be nil.
func NewDispatcher(cfg Config, backend Backend, sequencer *nonce.Sequencer, signer Signer, audit storage.AuditSink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GasLimitPadPct == 0 {
		cfg.GasLimitPadPct = 25
	}
	if cfg.GasPriceMultiplier <= 0 {
		cfg.GasPriceMultiplier = 1.1
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 3 * time.Minute
	}
	return &Dispatcher{
		cfg:       cfg,
		backend:   backend,
		sequencer: sequencer,
		signer:    signer,
		audit:     audit,
		logger:    logger,
	}
}

// SignerAddress returns the dispatching account.
func (d *Dispatcher) SignerAddress() common.Address {
	return d.signer.Address()
}

// DryRun reports whether the dispatcher is in dry-run mode.
func (d *Dispatcher) DryRun() bool { return d.cfg.DryRun }

// Simulate performs an eth_call of the calldata from the signer and
// returns ErrWouldRevert when the node predicts failure.
func (d *Dispatcher) Simulate(ctx context.Context, to common.Address, data []byte, value *big.Int) error {
	msg := ethereum.CallMsg{From: d.signer.Address(), To: &to, Data: data, Value: value}
	if _, err := d.backend.CallContract(ctx, msg, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrWouldRevert, err)
	}
	return nil
}

// Dispatch executes one decided action: pre-flight simulation, gas
// estimation with padding, nonce-sequenced submission, and wait for
// inclusion. In dry-run mode it logs and audits without touching the
// chain or the sequencer.
func (d *Dispatcher) Dispatch(ctx context.Context, action model.Action, to common.Address, data []byte, value *big.Int) error {
	if value == nil {
		value = new(big.Int)
	}

	fields := []zap.Field{
		zap.String("action", string(action.Type)),
		zap.String("pool", action.Pool.Hex()),
		zap.String("borrower", action.Borrower.Hex()),
		zap.Float64("auction_price", action.AuctionPrice),
		zap.Float64("market_price", action.MarketPrice),
	}

	if d.cfg.DryRun {
		d.logger.Info("dry run: action not sent", fields...)
		d.record(action, "dry-run", common.Hash{}, 0, nil)
		return nil
	}

	if err := d.Simulate(ctx, to, data, value); err != nil {
		d.logger.Info("pre-flight simulation rejected action", append(fields, zap.Error(err))...)
		d.record(action, "skipped", common.Hash{}, 0, err)
		return err
	}

	msg := ethereum.CallMsg{From: d.signer.Address(), To: &to, Data: data, Value: value}
	gasLimit, err := d.backend.EstimateGas(ctx, msg)
	if err != nil {
		d.record(action, "failed", common.Hash{}, 0, err)
		return fmt.Errorf("estimate gas: %w", err)
	}
	gasLimit += gasLimit * d.cfg.GasLimitPadPct / 100

	gasPrice, err := d.backend.SuggestGasPrice(ctx)
	if err != nil {
		d.record(action, "failed", common.Hash{}, 0, err)
		return fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice = scalePrice(gasPrice, d.cfg.GasPriceMultiplier)

	var txHash common.Hash
	var gasUsed uint64
	err = d.sequencer.Run(ctx, d.signer.Address(), func(nonceValue uint64) error {
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonceValue,
			To:       &to,
			Value:    value,
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		})

		signed, err := d.signer.SignTx(tx)
		if err != nil {
			return fmt.Errorf("sign transaction: %w", err)
		}
		txHash = signed.Hash()

		if err := d.backend.SendTransaction(ctx, signed); err != nil {
			return fmt.Errorf("send transaction: %w", err)
		}

		// A transaction dropped from the mempool would otherwise stall
		// the sweep forever with the nonce lease held.
		waitCtx, cancel := context.WithTimeout(ctx, d.cfg.WaitTimeout)
		receipt, err := d.backend.WaitMined(waitCtx, txHash)
		cancel()
		if err != nil {
			return fmt.Errorf("wait for inclusion of %s: %w", txHash.Hex(), err)
		}
		gasUsed = receipt.GasUsed
		if receipt.Status != types.ReceiptStatusSuccessful {
			return fmt.Errorf("transaction %s reverted", txHash.Hex())
		}
		return nil
	})

	if err != nil {
		d.logger.Warn("action failed", append(fields, zap.String("tx", txHash.Hex()), zap.Error(err))...)
		d.record(action, "failed", txHash, gasUsed, err)
		return err
	}

	d.logger.Info("action confirmed", append(fields,
		zap.String("tx", txHash.Hex()),
		zap.Uint64("gas_used", gasUsed),
	)...)
	d.record(action, "confirmed", txHash, gasUsed, nil)
	return nil
}

func (d *Dispatcher) record(action model.Action, status string, txHash common.Hash, gasUsed uint64, actionErr error) {
	if d.audit == nil {
		return
	}

	record := model.ActionRecord{
		Time:         time.Now().UTC(),
		ChainID:      d.cfg.ChainID,
		Pool:         action.Pool.Hex(),
		Borrower:     action.Borrower.Hex(),
		Action:       action.Type,
		AuctionPrice: action.AuctionPrice,
		MarketPrice:  action.MarketPrice,
		DryRun:       d.cfg.DryRun,
		GasUsed:      gasUsed,
		Status:       status,
	}
	if txHash != (common.Hash{}) {
		record.TxHash = txHash.Hex()
	}
	if actionErr != nil {
		record.Error = actionErr.Error()
	}

	if err := d.audit.PutActionRecord(record); err != nil {
		d.logger.Warn("audit write failed", zap.Error(err))
	}
}

func scalePrice(price *big.Int, multiplier float64) *big.Int {
	scaled := new(big.Float).SetInt(price)
	scaled.Mul(scaled, big.NewFloat(multiplier))
	out, _ := scaled.Int(nil)
	return out
}
