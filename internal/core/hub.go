package core

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

const presenceChangesBuffer = 1024

type bindRequest struct {
	client   *Client
	identity string
	reply    chan error
}

type unbindRequest struct {
	client *Client
	reply  chan string
}

type deliverRequest struct {
	users []string // nil means every authenticated connection
	event *Event
	reply chan int
}

type query func(h *Hub)

// Hub owns the connection registry. All registry state is confined to the
// goroutine running Run; other goroutines talk to it over channels, so
// callers never hold a lock while doing I/O.
type Hub struct {
	register chan *Client
	bind     chan bindRequest
	unbind   chan unbindRequest
	deliver  chan deliverRequest
	queries  chan query
	changes  chan PresenceChange
	done     chan struct{}
	now      func() time.Time
	log      *zerolog.Logger

	clients map[*Client]struct{}
	users   map[string]map[*Client]struct{}
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		register: make(chan *Client),
		bind:     make(chan bindRequest),
		unbind:   make(chan unbindRequest),
		deliver:  make(chan deliverRequest),
		queries:  make(chan query),
		changes:  make(chan PresenceChange, presenceChangesBuffer),
		done:     make(chan struct{}),
		now:      time.Now,
		log:      logger,
		clients:  make(map[*Client]struct{}),
		users:    make(map[string]map[*Client]struct{}),
	}
}

// Run processes registry operations until ctx is cancelled. On exit every
// remaining client is kicked.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			c.Kick(ReasonShutdown)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case req := <-h.bind:
			req.reply <- h.handleBind(req.client, req.identity)
		case req := <-h.unbind:
			req.reply <- h.handleUnbind(req.client)
		case req := <-h.deliver:
			req.reply <- h.handleDeliver(req.users, req.event)
		case q := <-h.queries:
			q(h)
		}
	}
}

// Changes streams presence transitions after they have been broadcast.
func (h *Hub) Changes() <-chan PresenceChange {
	return h.changes
}

// RegisterClient adds a live, not yet authenticated connection.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Bind associates the connection with identity and marks it authenticated.
// Rebinding to another identity first releases the previous one.
func (h *Hub) Bind(c *Client, identity string) error {
	reply := make(chan error, 1)
	select {
	case h.bind <- bindRequest{client: c, identity: identity, reply: reply}:
		return <-reply
	case <-h.done:
		return ErrHubClosed
	}
}

// Unbind removes the connection from the registry and returns the identity it
// was bound to. Calling it again is a no-op returning "".
func (h *Hub) Unbind(c *Client) string {
	reply := make(chan string, 1)
	select {
	case h.unbind <- unbindRequest{client: c, reply: reply}:
		return <-reply
	case <-h.done:
		return ""
	}
}

// Deliver enqueues ev on every connection bound to one of users and returns
// how many connections accepted it. It never blocks on a slow connection.
func (h *Hub) Deliver(users []string, ev *Event) int {
	if len(users) == 0 {
		return 0
	}
	reply := make(chan int, 1)
	select {
	case h.deliver <- deliverRequest{users: users, event: ev, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Online reports whether identity has at least one live connection.
func (h *Hub) Online(identity string) bool {
	return h.Connections(identity) > 0
}

// Connections returns how many live connections are bound to identity.
func (h *Hub) Connections(identity string) int {
	var n int
	h.run(func(h *Hub) { n = len(h.users[identity]) })
	return n
}

// OnlineUsers returns the sorted identities with at least one connection.
func (h *Hub) OnlineUsers() []string {
	var users []string
	h.run(func(h *Hub) {
		users = make([]string, 0, len(h.users))
		for u := range h.users {
			users = append(users, u)
		}
	})
	sort.Strings(users)
	return users
}

// ClientCount returns the number of live connections, authenticated or not.
func (h *Hub) ClientCount() int {
	var n int
	h.run(func(h *Hub) { n = len(h.clients) })
	return n
}

func (h *Hub) run(q query) {
	done := make(chan struct{})
	wrapped := func(h *Hub) {
		q(h)
		close(done)
	}
	select {
	case h.queries <- wrapped:
		<-done
	case <-h.done:
	}
}

func (h *Hub) handleBind(c *Client, identity string) error {
	if _, ok := h.clients[c]; !ok {
		return ErrUnknownClient
	}
	current := c.Identity()
	if current == identity {
		return nil
	}
	if current != "" {
		h.detach(c, current)
	}

	set, ok := h.users[identity]
	if !ok {
		set = make(map[*Client]struct{})
		h.users[identity] = set
	}
	set[c] = struct{}{}
	c.setIdentity(identity)

	h.log.Debug().Str("conn_id", c.ID).Str("user_id", identity).Int("connections", len(set)).Msg("connection bound")
	if len(set) == 1 {
		h.announce(identity, true)
	}
	return nil
}

func (h *Hub) handleUnbind(c *Client) string {
	if _, ok := h.clients[c]; !ok {
		return ""
	}
	delete(h.clients, c)

	identity := c.Identity()
	if identity == "" {
		return ""
	}
	h.detach(c, identity)
	return identity
}

// detach removes c from identity's set and announces offline when it empties.
func (h *Hub) detach(c *Client, identity string) {
	set := h.users[identity]
	delete(set, c)
	c.setIdentity("")

	h.log.Debug().Str("conn_id", c.ID).Str("user_id", identity).Int("connections", len(set)).Msg("connection unbound")
	if len(set) == 0 {
		delete(h.users, identity)
		h.announce(identity, false)
	}
}

func (h *Hub) announce(identity string, online bool) {
	at := h.now()
	h.handleDeliver(nil, &Event{Kind: EventPresence, User: identity, Online: online, At: at})

	select {
	case h.changes <- PresenceChange{User: identity, Online: online, At: at}:
	default:
		h.log.Warn().Str("user_id", identity).Bool("online", online).Msg("presence change queue full, dropping record")
	}
}

func (h *Hub) handleDeliver(users []string, ev *Event) int {
	delivered := 0
	send := func(c *Client) {
		if c.Send(ev) {
			delivered++
			return
		}
		h.log.Warn().Str("conn_id", c.ID).Str("user_id", c.Identity()).Str("event", ev.Kind.String()).Msg("dropping event for slow connection")
	}

	if users == nil {
		for _, set := range h.users {
			for c := range set {
				send(c)
			}
		}
		return delivered
	}

	seen := make(map[string]struct{}, len(users))
	for _, u := range users {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		for c := range h.users[u] {
			send(c)
		}
	}
	return delivered
}
