package quote

import (
	"context"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mitakash/ajna-keeper-sub001/internal/model"
)

// Aggregator fans a quote request out to every configured venue and keeps
// the partial results. A venue that errors or times out never aborts the
// others; if every venue fails the result set is simply empty.
type Aggregator struct {
	venues  []Venue
	timeout time.Duration
	logger  *zap.Logger
}

// NewAggregator builds an Aggregator over the given venues. timeout bounds
// each venue request independently.
func NewAggregator(venues []Venue, timeout time.Duration, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Aggregator{venues: venues, timeout: timeout, logger: logger}
}

// Collect queries all venues concurrently and returns the successful quotes
// in venue order.
func (a *Aggregator) Collect(ctx context.Context, req Request) []model.Quote {
	results := make([]*model.Quote, len(a.venues))

	var wg sync.WaitGroup
	for i, venue := range a.venues {
		wg.Add(1)
		go func(i int, venue Venue) {
			defer wg.Done()

			venueCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			out, err := venue.Quote(venueCtx, req)
			if err != nil {
				a.logger.Debug("venue quote failed",
					zap.String("venue", venue.Name()),
					zap.String("token_in", req.TokenIn.Hex()),
					zap.String("token_out", req.TokenOut.Hex()),
					zap.Error(err),
				)
				return
			}
			if out == nil || out.Sign() <= 0 {
				a.logger.Debug("venue returned empty quote", zap.String("venue", venue.Name()))
				return
			}
			results[i] = &model.Quote{
				Venue:     venue.Name(),
				TokenIn:   req.TokenIn,
				TokenOut:  req.TokenOut,
				AmountIn:  new(big.Int).Set(req.AmountIn),
				AmountOut: out,
			}
		}(i, venue)
	}
	wg.Wait()

	quotes := make([]model.Quote, 0, len(a.venues))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes
}

// Best returns the quote with the highest amountOut per unit amountIn, and
// false when no venue succeeded. Callers treat the false case as
// not-yet-profitable, not as an error.
func (a *Aggregator) Best(ctx context.Context, req Request) (model.Quote, bool) {
	quotes := a.Collect(ctx, req)
	if len(quotes) == 0 {
		return model.Quote{}, false
	}

	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.UnitPrice() > best.UnitPrice() {
			best = q
		}
	}
	return best, true
}

// VenueByName returns the configured venue with the given name, or nil.
func (a *Aggregator) VenueByName(name string) Venue {
	for _, v := range a.venues {
		if v.Name() == name {
			return v
		}
	}
	return nil
}
