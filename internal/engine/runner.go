package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Runner sweeps every pool engine on a fixed interval until the context is
// canceled. Pools are swept sequentially; a pool's sweep error is logged
// and never stops the loop.
type Runner struct {
	engines  []*Engine
	interval time.Duration
	logger   *zap.Logger
}

// NewRunner builds a Runner over the given engines.
func NewRunner(engines []*Engine, interval time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{engines: engines, interval: interval, logger: logger}
}

// Run sweeps immediately, then on every interval tick. It returns the
// context error on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		for _, e := range r.engines {
			if err := e.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return ctx.Err()
				}
				r.logger.Warn("sweep finished with errors",
					zap.String("pool", e.pool.Address().Hex()),
					zap.Error(err),
				)
			}
		}
		r.logger.Debug("sweep round complete",
			zap.Int("pools", len(r.engines)),
			zap.Duration("elapsed", time.Since(start)),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
