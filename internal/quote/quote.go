// Package quote collects output-amount estimates from external liquidity
// venues and selects the most favorable one.
package quote

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrRateLimited marks a venue response rejected for request volume.
	// Retryable with backoff.
	ErrRateLimited = errors.New("venue rate limited")

	// ErrNoLiquidity marks a venue that cannot price the pair at all
	// (missing pool, zero reserves). Not retryable.
	ErrNoLiquidity = errors.New("no liquidity for pair")
)

// Request identifies a quote lookup: sell AmountIn of TokenIn for TokenOut.
type Request struct {
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
}

// Key returns a comparable identity for the request, used to avoid
// re-deriving a quote when the amounts are unchanged.
func (r Request) Key() string {
	amount := "0"
	if r.AmountIn != nil {
		amount = r.AmountIn.String()
	}
	return r.TokenIn.Hex() + ":" + r.TokenOut.Hex() + ":" + amount
}

// SwapTx is execution calldata produced by a two-step venue.
type SwapTx struct {
	To          common.Address
	Data        []byte
	Value       *big.Int
	ExpectedOut *big.Int
}

// Venue prices a token pair. Implementations must honor the context
// deadline; a venue failure is isolated by the aggregator.
type Venue interface {
	Name() string
	Quote(ctx context.Context, req Request) (*big.Int, error)
}

// SwapVenue additionally builds execution calldata for a priced request.
type SwapVenue interface {
	Venue
	SwapCalldata(ctx context.Context, req Request, receiver common.Address) (SwapTx, error)
}

// RetryPolicy is an explicit backoff schedule for rate-limited venues:
// delays start at BaseDelay and multiply up to MaxDelay, for at most
// MaxAttempts attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy doubles a 250ms delay up to four attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 250 * time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Second}
}

// Do runs fn, retrying only rate-limit errors on the policy's schedule.
// Other errors, including liquidity errors, return immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrRateLimited) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		} else {
			delay *= 2
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
