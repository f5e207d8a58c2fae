package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter on provider calls. A limiter with
// no quota lets every call through.
type RateLimiter struct {
	maxRequests int
	period      time.Duration
	requests    []time.Time
	mu          sync.Mutex
	now         func() time.Time
}

// NewRateLimiter allows maxRequests calls per period.
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		period:      period,
		requests:    make([]time.Time, 0, max(maxRequests, 0)),
		now:         time.Now,
	}
}

// Wait blocks until the window has room for another call and records it.
// It returns the time waited, or ctx's error if ctx ends first.
func (r *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	if r == nil || r.maxRequests <= 0 {
		return 0, nil
	}

	var waited time.Duration
	for {
		r.mu.Lock()
		now := r.now()
		r.prune(now)
		if len(r.requests) < r.maxRequests {
			r.requests = append(r.requests, now)
			r.mu.Unlock()
			return waited, nil
		}
		delay := r.requests[0].Add(r.period).Sub(now)
		r.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
			waited += delay
		}
	}
}

// Available returns the number of calls allowed before the limit is hit.
func (r *RateLimiter) Available() int {
	if r == nil || r.maxRequests <= 0 {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return r.maxRequests - len(r.requests)
}

func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.period)
	i := 0
	for i < len(r.requests) && !r.requests[i].After(cutoff) {
		i++
	}
	r.requests = r.requests[i:]
}
