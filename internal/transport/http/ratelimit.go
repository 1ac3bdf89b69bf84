package http

import "time"

// rateLimiter caps inbound frames per fixed one-minute window. It is owned by
// a single read loop and is not safe for concurrent use.
type rateLimiter struct {
	limit  int
	window time.Duration
	start  time.Time
	count  int
	now    func() time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: time.Minute,
		now:    time.Now,
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := r.now()
	if r.start.IsZero() || now.Sub(r.start) >= r.window {
		r.start = now
		r.count = 0
	}
	r.count++
	return r.count <= r.limit
}
