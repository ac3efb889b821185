package quote

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type stubVenue struct {
	name  string
	out   *big.Int
	err   error
	delay time.Duration
	calls int
}

func (s *stubVenue) Name() string { return s.name }

func (s *stubVenue) Quote(ctx context.Context, _ Request) (*big.Int, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.out, s.err
}

func testRequest() Request {
	return Request{
		TokenIn:  common.HexToAddress("0x01"),
		TokenOut: common.HexToAddress("0x02"),
		AmountIn: big.NewInt(1_000_000),
	}
}

func TestBestIgnoresFailedVenues(t *testing.T) {
	failed := &stubVenue{name: "a", err: errors.New("network down")}
	ok := &stubVenue{name: "b", out: big.NewInt(990_000)}
	agg := NewAggregator([]Venue{failed, ok}, time.Second, nil)

	best, found := agg.Best(context.Background(), testRequest())
	if !found {
		t.Fatal("expected a quote despite one venue failing")
	}
	if best.Venue != "b" {
		t.Fatalf("best venue = %q, want b", best.Venue)
	}
}

func TestBestPicksHighestOutput(t *testing.T) {
	low := &stubVenue{name: "low", out: big.NewInt(900_000)}
	high := &stubVenue{name: "high", out: big.NewInt(995_000)}
	mid := &stubVenue{name: "mid", out: big.NewInt(950_000)}
	agg := NewAggregator([]Venue{low, high, mid}, time.Second, nil)

	best, found := agg.Best(context.Background(), testRequest())
	if !found {
		t.Fatal("expected a quote")
	}
	if best.Venue != "high" {
		t.Fatalf("best venue = %q, want high", best.Venue)
	}
	if best.AmountOut.Cmp(big.NewInt(995_000)) != 0 {
		t.Fatalf("best amountOut = %s", best.AmountOut)
	}
}

func TestCollectAllVenuesFail(t *testing.T) {
	a := &stubVenue{name: "a", err: ErrNoLiquidity}
	b := &stubVenue{name: "b", err: ErrRateLimited}
	agg := NewAggregator([]Venue{a, b}, time.Second, nil)

	quotes := agg.Collect(context.Background(), testRequest())
	if len(quotes) != 0 {
		t.Fatalf("expected empty result set, got %d quotes", len(quotes))
	}
	if _, found := agg.Best(context.Background(), testRequest()); found {
		t.Fatal("Best must report not-found when every venue fails")
	}
}

func TestCollectTimeoutIsolation(t *testing.T) {
	slow := &stubVenue{name: "slow", out: big.NewInt(2_000_000), delay: 500 * time.Millisecond}
	fast := &stubVenue{name: "fast", out: big.NewInt(980_000)}
	agg := NewAggregator([]Venue{slow, fast}, 50*time.Millisecond, nil)

	quotes := agg.Collect(context.Background(), testRequest())
	if len(quotes) != 1 || quotes[0].Venue != "fast" {
		t.Fatalf("expected only the fast venue, got %+v", quotes)
	}
}

func TestRetryPolicyRetriesOnlyRateLimits(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrRateLimited
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}

	calls = 0
	err = policy.Do(context.Background(), func(context.Context) error {
		calls++
		return ErrNoLiquidity
	})
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("expected liquidity error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("liquidity errors must not retry, got %d attempts", calls)
	}
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return ErrRateLimited
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit error after exhaustion, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}
