// Package ratelimit implements a fixed-window request limiter keyed by caller
// purpose and identity (e.g. "admin-grant:<userID>").
//
// State lives in process memory: counts are not shared between replicas and are
// lost on restart, so a horizontally scaled deployment enforces roughly
// replicas x MaxRequests per window. Use it to bound abuse on a single
// instance, not as a global quota.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Policy bounds requests per key within a fixed window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.MaxRequests > 0 && p.Window > 0
}

// Result is the outcome of one Check call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.ResetAt.After(now) {
		return r.ResetAt.Sub(now)
	}
	return 0
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Check counts one request for key. The first request in a window opens it with
// count 1; once count reaches MaxRequests further requests are rejected until
// the window resets.
func (l *Limiter) Check(key string, policy Policy) Result {
	now := l.now()
	if !policy.Enabled() {
		return Result{Allowed: true, ResetAt: now}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(policy.Window)}
		l.windows[key] = w
		return Result{Allowed: true, Remaining: policy.MaxRequests - 1, ResetAt: w.resetAt}
	}

	if w.count >= policy.MaxRequests {
		return Result{Allowed: false, Remaining: 0, ResetAt: w.resetAt}
	}

	w.count++
	return Result{Allowed: true, Remaining: policy.MaxRequests - w.count, ResetAt: w.resetAt}
}

// Sweep drops expired windows and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
