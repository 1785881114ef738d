package channel

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// tenantBuckets holds the dual per-minute/per-hour token buckets needed to
// enforce both ceilings simultaneously for one tenant.
type tenantBuckets struct {
	perMinute *rate.Limiter
	perHour   *rate.Limiter
}

// RateLimiter enforces messagesPerMinute and messagesPerHour per tenant.
// Overflow blocks the caller (Wait), never rejects, per §4.1.
type RateLimiter struct {
	mu            sync.Mutex
	buckets       map[string]*tenantBuckets
	perMinute     int
	perHour       int
}

// NewRateLimiter builds a RateLimiter with the given per-tenant ceilings.
func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	return &RateLimiter{
		buckets:   make(map[string]*tenantBuckets),
		perMinute: perMinute,
		perHour:   perHour,
	}
}

func (r *RateLimiter) bucketsFor(tenant string) *tenantBuckets {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[tenant]
	if !ok {
		b = &tenantBuckets{
			perMinute: rate.NewLimiter(rate.Limit(float64(r.perMinute)/60), r.perMinute),
			perHour:   rate.NewLimiter(rate.Limit(float64(r.perHour)/3600), r.perHour),
		}
		r.buckets[tenant] = b
	}
	return b
}

// Wait blocks until both the per-minute and per-hour buckets for tenant
// admit one more send, or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context, tenant string) error {
	b := r.bucketsFor(tenant)
	if err := b.perHour.Wait(ctx); err != nil {
		return err
	}
	return b.perMinute.Wait(ctx)
}
