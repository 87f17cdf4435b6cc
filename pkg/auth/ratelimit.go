package auth

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an identity may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierLimiter keeps one token bucket per subject. The bucket refills at
// the tier's requests-per-minute and holds up to one minute of requests.
type TierLimiter struct {
	tiers      map[string]int
	defaultRPM int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewTierLimiter creates a limiter. tiers maps a service tier to requests
// per minute; identities without a listed tier get defaultRPM. A rate of
// zero or less means unlimited.
func NewTierLimiter(tiers map[string]int, defaultRPM int) *TierLimiter {
	return &TierLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		buckets:    make(map[string]*rate.Limiter),
	}
}

// Allow takes a token from the identity's bucket.
func (l *TierLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := tierOf(identity)
	rpm := l.defaultRPM
	if n, ok := l.tiers[tier]; ok {
		rpm = n
	}
	if rpm <= 0 {
		return nil
	}

	key := identity.Subject + ":" + tier
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(rpm)/60), rpm)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	if !b.Allow() {
		return ErrTooManyRequests
	}
	return nil
}

func tierOf(id *Identity) string {
	if id.ServiceTier == "" {
		return "default"
	}
	return id.ServiceTier
}
