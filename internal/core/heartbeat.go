package core

import (
	"context"
	"time"
)

// Heartbeat closes connections that stop sending liveness frames.
// Clients ping every Interval; a connection silent for longer than Timeout is dead.
type Heartbeat struct {
	Interval time.Duration
	Timeout  time.Duration
	now      func() time.Time
}

// NewHeartbeat builds a monitor with the given probe interval and liveness window.
func NewHeartbeat(interval, timeout time.Duration) *Heartbeat {
	return &Heartbeat{Interval: interval, Timeout: timeout, now: time.Now}
}

// Observe records a liveness frame from c.
func (h *Heartbeat) Observe(c *Client) {
	c.Touch(h.now())
}

// Expired reports whether c has been silent for longer than the timeout.
func (h *Heartbeat) Expired(c *Client) bool {
	return h.now().Sub(c.LastSeen()) > h.Timeout
}

// Monitor blocks until c misses its liveness window, is kicked, or ctx ends.
// It returns ErrHeartbeatTimeout when the window was missed and kicks c.
func (h *Heartbeat) Monitor(ctx context.Context, c *Client) error {
	ticker := time.NewTicker(h.checkEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			return nil
		case <-ticker.C:
			if h.Expired(c) {
				c.Kick(ReasonHeartbeatTimeout)
				return ErrHeartbeatTimeout
			}
		}
	}
}

// checkEvery bounds how late past the deadline a dead connection is noticed.
func (h *Heartbeat) checkEvery() time.Duration {
	every := h.Timeout / 4
	if every < 10*time.Millisecond {
		every = 10 * time.Millisecond
	}
	return every
}
