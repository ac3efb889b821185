package subgraph

import (
	"context"
	"time"
)

// retryPolicy re-runs failing subgraph queries with a doubling delay. Any
// error retries; the indexer is a hint source and a transient outage must
// not abort a sweep prematurely.
type retryPolicy struct {
	extraAttempts int
	baseDelay     time.Duration
}

func (p retryPolicy) do(ctx context.Context, fn func(context.Context) error) error {
	extra := p.extraAttempts
	if extra < 0 {
		extra = 0
	}
	delay := p.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if extra == 0 {
			return err
		}
		extra--

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			delay *= 2
		}
	}
}
