package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSendBuffer is the outbound queue size used when none is given.
const DefaultSendBuffer = 64

// Client is one live connection as seen by the core layer.
// Its identity is empty until the hub binds it.
type Client struct {
	ID     string
	Events chan *Event

	identity atomic.Pointer[string]
	lastSeen atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
	reason    string
}

// NewClient constructs a client with a bounded outbound queue.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	c := &Client{
		ID:     id,
		Events: make(chan *Event, buffer),
		closed: make(chan struct{}),
	}
	c.Touch(time.Now())
	return c
}

// Identity returns the bound user identity, or "" before authentication.
func (c *Client) Identity() string {
	if id := c.identity.Load(); id != nil {
		return *id
	}
	return ""
}

// Authenticated reports whether the connection is bound to an identity.
func (c *Client) Authenticated() bool {
	return c.Identity() != ""
}

func (c *Client) setIdentity(identity string) {
	if identity == "" {
		c.identity.Store(nil)
		return
	}
	c.identity.Store(&identity)
}

// Touch records a liveness observation.
func (c *Client) Touch(at time.Time) {
	c.lastSeen.Store(at.UnixNano())
}

// LastSeen returns the time of the last liveness observation.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Send enqueues an event without blocking. A full queue means the consumer
// cannot keep up: the client is marked for disconnection and false is returned.
func (c *Client) Send(ev *Event) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.Events <- ev:
		return true
	default:
		c.Kick(ReasonSlowConsumer)
		return false
	}
}

// Kick marks the client for disconnection. Only the first reason is kept.
func (c *Client) Kick(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.closed)
	})
}

// Done is closed once the client has been kicked.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// KickReason returns why the client was kicked. Valid after Done is closed.
func (c *Client) KickReason() string {
	select {
	case <-c.closed:
		return c.reason
	default:
		return ""
	}
}
