package nonce

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeSource struct {
	mu     sync.Mutex
	counts map[common.Address]uint64
	calls  int
	err    error
}

func (f *fakeSource) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[account], nil
}

func (f *fakeSource) confirm(account common.Address, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[account] += n
}

var (
	signerA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	signerB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func TestRunAssignsDenseNonces(t *testing.T) {
	source := &fakeSource{counts: map[common.Address]uint64{signerA: 7}}
	seq := NewSequencer(source, nil)

	const n = 32
	var mu sync.Mutex
	got := make([]uint64, 0, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := seq.Run(context.Background(), signerA, func(nonce uint64) error {
				mu.Lock()
				got = append(got, nonce)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != n {
		t.Fatalf("expected %d nonces, got %d", n, len(got))
	}
	for i, nonce := range got {
		if nonce != 7+uint64(i) {
			t.Fatalf("nonce set has a gap or repeat at %d: %v", i, got)
		}
	}
}

func TestRunResyncsAfterFailure(t *testing.T) {
	source := &fakeSource{counts: map[common.Address]uint64{signerA: 3}}
	seq := NewSequencer(source, nil)
	ctx := context.Background()

	// First submission succeeds and is confirmed on chain.
	if err := seq.Run(ctx, signerA, func(nonce uint64) error {
		if nonce != 3 {
			t.Fatalf("first nonce = %d, want 3", nonce)
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	source.confirm(signerA, 1)

	// Second submission fails before acceptance.
	boom := errors.New("submit failed")
	if err := seq.Run(ctx, signerA, func(nonce uint64) error {
		if nonce != 4 {
			t.Fatalf("second nonce = %d, want 4", nonce)
		}
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected submit error, got %v", err)
	}

	// The next call must use the chain's reported count, not the stale
	// local increment.
	if err := seq.Run(ctx, signerA, func(nonce uint64) error {
		if nonce != 4 {
			t.Fatalf("post-failure nonce = %d, want chain count 4", nonce)
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResyncSkipsInflightLeases(t *testing.T) {
	source := &fakeSource{counts: map[common.Address]uint64{signerA: 10}}
	seq := NewSequencer(source, nil)
	ctx := context.Background()

	hold := make(chan struct{})
	started := make(chan uint64, 1)
	done := make(chan error, 1)

	// A slow call keeps nonce 10 in flight.
	go func() {
		done <- seq.Run(ctx, signerA, func(nonce uint64) error {
			started <- nonce
			<-hold
			return nil
		})
	}()
	if n := <-started; n != 10 {
		t.Fatalf("in-flight nonce = %d, want 10", n)
	}

	// A failed call marks the account dirty.
	boom := errors.New("nope")
	if err := seq.Run(ctx, signerA, func(nonce uint64) error {
		if nonce != 11 {
			t.Fatalf("second nonce = %d, want 11", nonce)
		}
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected failure, got %v", err)
	}

	// Resync returns 10 from the chain, but 10 is still reserved by the
	// in-flight lease; the claim must skip past it.
	if err := seq.Run(ctx, signerA, func(nonce uint64) error {
		if nonce != 11 {
			t.Fatalf("resynced nonce = %d, want 11 (10 is reserved)", nonce)
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	close(hold)
	if err := <-done; err != nil {
		t.Fatalf("slow call failed: %v", err)
	}
}

func TestResyncSkipsHigherInflightLease(t *testing.T) {
	source := &fakeSource{counts: map[common.Address]uint64{signerA: 10}}
	seq := NewSequencer(source, nil)
	ctx := context.Background()

	lowResult := make(chan error, 1)
	lowStarted := make(chan uint64, 1)
	highStarted := make(chan uint64, 1)
	release := make(chan struct{})
	lowDone := make(chan error, 1)
	highDone := make(chan error, 1)

	go func() {
		lowDone <- seq.Run(ctx, signerA, func(nonce uint64) error {
			lowStarted <- nonce
			return <-lowResult
		})
	}()
	if n := <-lowStarted; n != 10 {
		t.Fatalf("first nonce = %d, want 10", n)
	}

	go func() {
		highDone <- seq.Run(ctx, signerA, func(nonce uint64) error {
			highStarted <- nonce
			<-release
			return nil
		})
	}()
	if n := <-highStarted; n != 11 {
		t.Fatalf("second nonce = %d, want 11", n)
	}

	// The lower lease fails while the higher one is still in flight. The
	// resync reads 10 from the chain; 10 is free again but 11 is not, so
	// the next two claims must be 10 and 12, never 11 a second time.
	boom := errors.New("dropped")
	lowResult <- boom
	if err := <-lowDone; !errors.Is(err, boom) {
		t.Fatalf("expected submit error, got %v", err)
	}

	if err := seq.Run(ctx, signerA, func(nonce uint64) error {
		if nonce != 10 {
			t.Fatalf("post-failure nonce = %d, want 10", nonce)
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seq.Run(ctx, signerA, func(nonce uint64) error {
		if nonce != 12 {
			t.Fatalf("next nonce = %d, want 12 (11 is reserved)", nonce)
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	close(release)
	if err := <-highDone; err != nil {
		t.Fatalf("in-flight call failed: %v", err)
	}
}

func TestSignersAreIndependent(t *testing.T) {
	source := &fakeSource{counts: map[common.Address]uint64{signerA: 1, signerB: 100}}
	seq := NewSequencer(source, nil)
	ctx := context.Background()

	blockA := make(chan struct{})
	aStarted := make(chan struct{})
	go seq.Run(ctx, signerA, func(nonce uint64) error {
		close(aStarted)
		<-blockA
		return nil
	})
	<-aStarted

	// Signer B proceeds while signer A's work is still in flight.
	if err := seq.Run(ctx, signerB, func(nonce uint64) error {
		if nonce != 100 {
			t.Fatalf("signer B nonce = %d, want 100", nonce)
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(blockA)
}

func TestClaimErrorPropagates(t *testing.T) {
	boom := errors.New("rpc down")
	source := &fakeSource{counts: map[common.Address]uint64{}, err: boom}
	seq := NewSequencer(source, nil)

	err := seq.Run(context.Background(), signerA, func(uint64) error {
		t.Fatal("fn must not run when the claim fails")
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}
