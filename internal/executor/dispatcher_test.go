package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mitakash/ajna-keeper-sub001/internal/model"
	"github.com/mitakash/ajna-keeper-sub001/internal/nonce"
)

type fakeBackend struct {
	mu          sync.Mutex
	nonces      uint64
	nonceCalls  int
	callErr     error
	sent        []*types.Transaction
	receiptFail bool
	neverMine   bool
	gasEstimate uint64
}

func (f *fakeBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceCalls++
	return f.nonces, nil
}

func (f *fakeBackend) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	if f.gasEstimate == 0 {
		return 100_000, nil
	}
	return f.gasEstimate, nil
}

func (f *fakeBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return nil, f.callErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.neverMine {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	status := types.ReceiptStatusSuccessful
	if f.receiptFail {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: hash, GasUsed: 90_000}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	records []model.ActionRecord
}

func (r *recordingSink) PutActionRecord(record model.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

const testKey = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

func newTestDispatcher(t *testing.T, cfg Config, backend *fakeBackend, sink *recordingSink) *Dispatcher {
	t.Helper()
	signer, err := NewKeySigner(testKey, big.NewInt(1))
	if err != nil {
		t.Fatalf("build signer: %v", err)
	}
	seq := nonce.NewSequencer(backend, nil)
	return NewDispatcher(cfg, backend, seq, signer, sink, nil)
}

func testAction() model.Action {
	return model.Action{
		Type:     model.ActionKick,
		Pool:     common.HexToAddress("0x10"),
		Borrower: common.HexToAddress("0x20"),
	}
}

func TestDispatchDryRunSendsNothing(t *testing.T) {
	backend := &fakeBackend{}
	sink := &recordingSink{}
	d := newTestDispatcher(t, Config{DryRun: true}, backend, sink)

	err := d.Dispatch(context.Background(), testAction(), common.HexToAddress("0x10"), []byte{0x01}, nil)
	if err != nil {
		t.Fatalf("dry run must not fail: %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("dry run submitted %d transactions", len(backend.sent))
	}
	if backend.nonceCalls != 0 {
		t.Fatal("dry run must not touch the nonce sequencer")
	}
	if len(sink.records) != 1 || sink.records[0].Status != "dry-run" || !sink.records[0].DryRun {
		t.Fatalf("expected a dry-run audit record, got %+v", sink.records)
	}
}

func TestDispatchPreflightRevert(t *testing.T) {
	backend := &fakeBackend{callErr: errors.New("execution reverted: AuctionNotClearable()")}
	sink := &recordingSink{}
	d := newTestDispatcher(t, Config{}, backend, sink)

	err := d.Dispatch(context.Background(), testAction(), common.HexToAddress("0x10"), []byte{0x01}, nil)
	if !errors.Is(err, ErrWouldRevert) {
		t.Fatalf("expected ErrWouldRevert, got %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatal("predicted revert must not submit a transaction")
	}
	if len(sink.records) != 1 || sink.records[0].Status != "skipped" {
		t.Fatalf("expected a skipped audit record, got %+v", sink.records)
	}
}

func TestDispatchPadsGasAndConfirms(t *testing.T) {
	backend := &fakeBackend{nonces: 4, gasEstimate: 200_000}
	sink := &recordingSink{}
	d := newTestDispatcher(t, Config{GasLimitPadPct: 25}, backend, sink)

	err := d.Dispatch(context.Background(), testAction(), common.HexToAddress("0x10"), []byte{0x01}, nil)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(backend.sent))
	}

	tx := backend.sent[0]
	if tx.Nonce() != 4 {
		t.Fatalf("nonce = %d, want 4", tx.Nonce())
	}
	if tx.Gas() != 250_000 {
		t.Fatalf("gas limit = %d, want 250000 (25%% pad)", tx.Gas())
	}
	if len(sink.records) != 1 || sink.records[0].Status != "confirmed" {
		t.Fatalf("expected a confirmed audit record, got %+v", sink.records)
	}
	if sink.records[0].GasUsed != 90_000 {
		t.Fatalf("gas used = %d, want 90000", sink.records[0].GasUsed)
	}
}

func TestDispatchTimesOutOnUnminedTransaction(t *testing.T) {
	backend := &fakeBackend{neverMine: true}
	sink := &recordingSink{}
	d := newTestDispatcher(t, Config{WaitTimeout: 20 * time.Millisecond}, backend, sink)

	err := d.Dispatch(context.Background(), testAction(), common.HexToAddress("0x10"), []byte{0x01}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error for an unmined transaction, got %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].Status != "failed" {
		t.Fatalf("expected a failed audit record, got %+v", sink.records)
	}

	// The lease rolls back; the next dispatch resyncs from the chain.
	backend.neverMine = false
	callsBefore := backend.nonceCalls
	if err := d.Dispatch(context.Background(), testAction(), common.HexToAddress("0x10"), []byte{0x01}, nil); err != nil {
		t.Fatalf("recovery dispatch failed: %v", err)
	}
	if backend.nonceCalls <= callsBefore {
		t.Fatal("expected a nonce resync after the timed-out dispatch")
	}
}

func TestDispatchRevertedReceiptIsFailure(t *testing.T) {
	backend := &fakeBackend{receiptFail: true}
	sink := &recordingSink{}
	d := newTestDispatcher(t, Config{}, backend, sink)

	err := d.Dispatch(context.Background(), testAction(), common.HexToAddress("0x10"), []byte{0x01}, nil)
	if err == nil {
		t.Fatal("expected failure for reverted receipt")
	}
	if errors.Is(err, ErrWouldRevert) {
		t.Fatal("an executed revert is not a simulation rejection")
	}
	if len(sink.records) != 1 || sink.records[0].Status != "failed" {
		t.Fatalf("expected a failed audit record, got %+v", sink.records)
	}

	// The sequencer must resync: the next dispatch asks the chain again.
	backend.receiptFail = false
	callsBefore := backend.nonceCalls
	if err := d.Dispatch(context.Background(), testAction(), common.HexToAddress("0x10"), []byte{0x01}, nil); err != nil {
		t.Fatalf("recovery dispatch failed: %v", err)
	}
	if backend.nonceCalls <= callsBefore {
		t.Fatal("expected a nonce resync after the failed dispatch")
	}
}
