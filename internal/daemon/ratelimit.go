package daemon

import (
	"sync"
	"time"
)

const (
	// RateLimit is the number of requests a single PID may send per window.
	RateLimit = 100
	// RateLimitWindow is the sliding window RateLimit applies to.
	RateLimitWindow = time.Minute
)

// RateLimiter keeps a sliding window of request times per client PID.
type RateLimiter struct {
	mu     sync.Mutex
	seen   map[int32][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter allows limit requests per window for each PID.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		seen:   make(map[int32][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a request from pid and reports whether it is within the limit.
// Rejected requests are not recorded.
func (r *RateLimiter) Allow(pid int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	times := trimBefore(r.seen[pid], now.Add(-r.window))
	if len(times) >= r.limit {
		r.seen[pid] = times
		return false
	}
	r.seen[pid] = append(times, now)
	return true
}

// Sweep forgets PIDs that sent nothing inside the current window.
func (r *RateLimiter) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	for pid, times := range r.seen {
		if times = trimBefore(times, cutoff); len(times) == 0 {
			delete(r.seen, pid)
		} else {
			r.seen[pid] = times
		}
	}
}

// Tracked returns the number of PIDs currently held.
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

// trimBefore drops the leading times at or before cutoff. times is sorted.
func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}
