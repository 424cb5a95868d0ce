package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter admits or rejects a request for an identity. ErrTooManyRequests
// means over budget; any other behavior is implementation-defined.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig is the request budget of one service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// InProcessLimiter counts requests per caller in fixed one-minute
// windows, in memory. It bounds request admission only; how many
// extractions run at once is the transport gate's concern.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int

	mu      sync.Mutex
	windows map[string]*window
}

// window is one caller's usage in the current minute.
type window struct {
	used    int
	resetAt time.Time
}

// NewInProcessLimiter builds a limiter with per-tier budgets; callers in
// unlisted tiers get defaultRPM.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		windows:    make(map[string]*window),
	}
}

// Allow charges one request against the identity's window. A tier with
// a non-positive budget is unlimited.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = "default"
	}
	budget := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		budget = tc.RequestsPerMinute
	}
	if budget <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	key := identity.Subject + "/" + tier
	w := l.windows[key]
	if w == nil || now.After(w.resetAt) {
		l.windows[key] = &window{used: 1, resetAt: now.Add(time.Minute)}
		return nil
	}
	w.used++
	if w.used > budget {
		return ErrTooManyRequests
	}
	return nil
}
