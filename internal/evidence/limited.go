package evidence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// RateLimited wraps a Source with a shared sliding-window budget. Requests
// over budget fail with domain.ErrRateLimited and the source is skipped for
// that market, unless the wrapper is Blocking.
type RateLimited struct {
	Source
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
	maxWait time.Duration
}

// WithRateLimit returns src limited to limit requests per window across
// every node sharing limiter.
func WithRateLimit(src Source, limiter domain.RateLimiter, limit int, window time.Duration) *RateLimited {
	return &RateLimited{Source: src, limiter: limiter, limit: limit, window: window}
}

// Blocking makes Fetch queue on the limiter for up to maxWait before giving
// up with domain.ErrRateLimited. The limiter's own budget applies while
// waiting.
func (r *RateLimited) Blocking(maxWait time.Duration) *RateLimited {
	r.maxWait = maxWait
	return r
}

func (r *RateLimited) key() string {
	return "evidence:" + r.Name()
}

// Fetch implements Source.
func (r *RateLimited) Fetch(ctx context.Context, q Query) (domain.EvidenceRecord, error) {
	if r.maxWait > 0 {
		if err := r.wait(ctx); err != nil {
			return domain.EvidenceRecord{}, err
		}
		return r.Source.Fetch(ctx, q)
	}

	ok, err := r.limiter.Allow(ctx, r.key(), r.limit, r.window)
	if err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("%s: rate limiter: %w", r.Name(), err)
	}
	if !ok {
		return domain.EvidenceRecord{}, fmt.Errorf("%s: %w", r.Name(), domain.ErrRateLimited)
	}
	return r.Source.Fetch(ctx, q)
}

func (r *RateLimited) wait(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, r.maxWait)
	defer cancel()

	err := r.limiter.Wait(wctx, r.key())
	switch {
	case err == nil:
		return nil
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: waited %s: %w", r.Name(), r.maxWait, domain.ErrRateLimited)
	default:
		return fmt.Errorf("%s: rate limiter: %w", r.Name(), err)
	}
}
