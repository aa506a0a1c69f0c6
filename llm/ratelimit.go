package llm

import (
	"context"
	"sync"
	"time"
)

// rateLimitedProvider wraps a Provider with proactive requests-per-minute
// limiting over a sliding window, so API-plan ceilings are respected
// before the provider has to answer 429.
type rateLimitedProvider struct {
	inner Provider
	mu    sync.Mutex

	rpm       int
	rpmWindow []time.Time
}

// RateLimitOption configures a rateLimitedProvider.
type RateLimitOption func(*rateLimitedProvider)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitedProvider) { r.rpm = n }
}

// WithRateLimit wraps p with proactive request-rate limiting.
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitedProvider{inner: p}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitedProvider) Name() string { return r.inner.Name() }

func (r *rateLimitedProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return ChatResponse{}, err
	}
	return r.inner.Chat(ctx, req)
}

func (r *rateLimitedProvider) waitForBudget(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)
		r.rpmWindow = pruneTime(r.rpmWindow, cutoff)

		if r.rpm <= 0 || len(r.rpmWindow) < r.rpm {
			if r.rpm > 0 {
				r.rpmWindow = append(r.rpmWindow, now)
			}
			r.mu.Unlock()
			return nil
		}

		wait := r.rpmWindow[0].Add(time.Minute).Sub(now)
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func pruneTime(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}

var _ Provider = (*rateLimitedProvider)(nil)
