// Package nonce serializes transaction nonce assignment per signer.
package nonce

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Source reports an account's transaction count from the chain.
type Source interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Sequencer hands out strictly increasing nonces per signer. Callers never
// see the counter directly; the only way to obtain a nonce is through Run,
// so no caller can bypass serialization.
type Sequencer struct {
	source Source
	logger *zap.Logger

	mu       sync.Mutex
	accounts map[common.Address]*account
}

type account struct {
	mu sync.Mutex

	// next is valid only when synced. dirty forces a resync from the chain
	// before the next claim; claimed-but-unresolved lease values are held in
	// inflight and stay reserved across a resync.
	synced   bool
	dirty    bool
	next     uint64
	inflight map[uint64]struct{}
}

// NewSequencer builds a Sequencer backed by the given nonce source.
func NewSequencer(source Source, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		source:   source,
		logger:   logger,
		accounts: make(map[common.Address]*account),
	}
}

// Run claims the next nonce for signer, invokes fn with it, and settles the
// lease afterwards: kept on success, rolled back with a forced chain resync
// on failure. Claims are serialized per signer; the work inside fn may
// overlap with other calls.
func (s *Sequencer) Run(ctx context.Context, signer common.Address, fn func(nonce uint64) error) error {
	acct := s.account(signer)

	nonce, err := acct.claim(ctx, s.source, signer)
	if err != nil {
		return err
	}

	err = fn(nonce)
	acct.settle(nonce, err == nil)
	if err != nil {
		s.logger.Warn("nonce lease rolled back",
			zap.String("signer", signer.Hex()),
			zap.Uint64("nonce", nonce),
			zap.Error(err),
		)
	}
	return err
}

func (s *Sequencer) account(signer common.Address) *account {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[signer]
	if !ok {
		acct = &account{}
		s.accounts[signer] = acct
	}
	return acct
}

func (a *account) claim(ctx context.Context, source Source, signer common.Address) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.synced || a.dirty {
		chainNonce, err := source.PendingNonceAt(ctx, signer)
		if err != nil {
			return 0, err
		}
		a.next = chainNonce
		a.synced = true
		a.dirty = false
	}

	// A resync can land the counter on or below a lease that is still in
	// flight; the values those leases hold stay reserved, so the counter
	// walks past any of them.
	nonce := a.next
	for {
		if _, held := a.inflight[nonce]; !held {
			break
		}
		nonce++
	}
	a.next = nonce + 1
	if a.inflight == nil {
		a.inflight = make(map[uint64]struct{})
	}
	a.inflight[nonce] = struct{}{}
	return nonce, nil
}

func (a *account) settle(nonce uint64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.inflight, nonce)
	if !ok {
		a.dirty = true
	}
}
