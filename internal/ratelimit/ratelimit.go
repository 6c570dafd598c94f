// Package ratelimit throttles the public collection endpoints with a
// per-client token bucket.
package ratelimit

import (
	"sync"
	"time"
)

// bucket tracks the token state for a single client.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter is an in-memory token-bucket limiter keyed by client. Each key may
// make rate requests per window, refilled continuously. A rate of zero
// disables limiting.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration
	now     func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows rate requests per window.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		now:     time.Now,
	}
}

// Enabled reports whether the limiter restricts anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rate > 0 && l.window > 0
}

// getBucket returns the bucket for key after refilling it, creating a full
// one if needed. Must be called with l.mu held.
func (l *Limiter) getBucket(key string) *bucket {
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.rate), lastRefill: now}
		l.buckets[key] = b
		return b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * float64(l.rate) / l.window.Seconds()
		if b.tokens > float64(l.rate) {
			b.tokens = float64(l.rate)
		}
		b.lastRefill = now
	}
	return b
}

// Allow consumes one token for key and reports whether the request may
// proceed.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getBucket(key)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Status returns the limit, the whole tokens left for key and the time the
// bucket will be full again.
func (l *Limiter) Status(key string) (limit int, remaining int, resetAt time.Time) {
	if !l.Enabled() {
		return 0, 0, time.Time{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getBucket(key)
	remaining = int(b.tokens)
	if remaining < 0 {
		remaining = 0
	}

	deficit := float64(l.rate) - b.tokens
	if deficit <= 0 {
		return l.rate, remaining, l.now()
	}
	perSecond := float64(l.rate) / l.window.Seconds()
	return l.rate, remaining, l.now().Add(time.Duration(deficit / perSecond * float64(time.Second)))
}

// Sweep drops buckets that have refilled completely, which bounds memory
// for client keys that stop sending. It returns the number removed.
func (l *Limiter) Sweep() int {
	if !l.Enabled() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) >= l.window {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
