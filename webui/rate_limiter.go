package webui

import (
	"sync"
	"time"
)

// RateLimiter blocks an address after too many failed password attempts
// inside a window.
type RateLimiter struct {
	mu          sync.Mutex
	attempts    map[string]attemptRecord
	maxAttempts int
	window      time.Duration
	block       time.Duration
	now         func() time.Time
}

type attemptRecord struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter allows maxAttempts failures per window, then blocks the
// address for block.
func NewRateLimiter(maxAttempts int, window, block time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:    make(map[string]attemptRecord),
		maxAttempts: maxAttempts,
		window:      window,
		block:       block,
		now:         time.Now,
	}
}

// Allow reports whether addr may try again, and if not, for how long it is
// blocked.
func (r *RateLimiter) Allow(addr string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.attempts[addr]
	now := r.now()
	if !ok || !now.Before(rec.resetAt) {
		return true, 0
	}
	if rec.count >= r.maxAttempts {
		return false, rec.resetAt.Sub(now)
	}
	return true, 0
}

// RecordFailure counts a failed attempt. Reaching the limit extends the
// record to the block duration.
func (r *RateLimiter) RecordFailure(addr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.attempts[addr]
	if !ok || !now.Before(rec.resetAt) {
		rec = attemptRecord{resetAt: now.Add(r.window)}
	}
	rec.count++
	if rec.count == r.maxAttempts {
		rec.resetAt = now.Add(r.block)
	}
	r.attempts[addr] = rec
	return rec.count
}

// Reset forgets addr after a successful attempt.
func (r *RateLimiter) Reset(addr string) {
	r.mu.Lock()
	delete(r.attempts, addr)
	r.mu.Unlock()
}

// Cleanup drops expired records and returns how many were removed.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for addr, rec := range r.attempts {
		if !now.Before(rec.resetAt) {
			delete(r.attempts, addr)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked addresses.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}
