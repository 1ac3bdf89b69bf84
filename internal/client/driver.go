// Package client is the reconnecting realtime client: it keeps a websocket to
// the gateway alive, re-authenticates after every reconnect, falls back to the
// REST send path while disconnected and de-duplicates received messages.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-gateway/internal/proto"
)

// State is the driver's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by operations that need a live websocket.
	ErrNotConnected = errors.New("not connected")
	// ErrAuthRejected reports that the gateway refused the announced identity.
	ErrAuthRejected = errors.New("auth rejected")
	errServerSilent = errors.New("no frame from server within liveness window")
)

// Config configures a Driver.
//
// The driver reports StateConnected only once the gateway has answered the
// ping sent right behind the auth frame. The gateway handles frames in order
// and closes the socket when it rejects an identity, so that pong confirms the
// bind. A gateway with jwt_required therefore needs Token; UserID alone keeps
// the driver reconnecting and sends on the REST path.
type Config struct {
	// URL is the gateway's base HTTP address, e.g. http://localhost:8080.
	URL    string
	UserID string
	// Token is presented on the upgrade, in the auth frame and to REST calls.
	Token string

	PingInterval time.Duration
	// LivenessTimeout closes a connection that has been silent this long.
	LivenessTimeout time.Duration
	ReconnectDelay  time.Duration
	// MaxReconnectDelay above ReconnectDelay enables exponential backoff.
	MaxReconnectDelay time.Duration
	TypingDebounce    time.Duration
	WriteTimeout      time.Duration

	HTTPClient *http.Client
}

// DefaultConfig returns the reference timings: ping every 20s, 60s liveness,
// flat 2s reconnect and 2s typing debounce.
func DefaultConfig() Config {
	return Config{
		PingInterval:    20 * time.Second,
		LivenessTimeout: 60 * time.Second,
		ReconnectDelay:  2 * time.Second,
		TypingDebounce:  2 * time.Second,
		WriteTimeout:    10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 3 * c.PingInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.TypingDebounce <= 0 {
		c.TypingDebounce = def.TypingDebounce
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
}

// Handler receives what the driver observes. Messages are only reported the
// first time they are seen.
type Handler interface {
	OnMessage(msg proto.Message)
	OnTyping(sessionID, userID string, typing bool)
	OnPresence(userID string, online bool)
	OnStateChange(state State)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Message  func(msg proto.Message)
	Typing   func(sessionID, userID string, typing bool)
	Presence func(userID string, online bool)
	State    func(state State)
}

func (h HandlerFuncs) OnMessage(msg proto.Message) {
	if h.Message != nil {
		h.Message(msg)
	}
}

func (h HandlerFuncs) OnTyping(sessionID, userID string, typing bool) {
	if h.Typing != nil {
		h.Typing(sessionID, userID, typing)
	}
}

func (h HandlerFuncs) OnPresence(userID string, online bool) {
	if h.Presence != nil {
		h.Presence(userID, online)
	}
}

func (h HandlerFuncs) OnStateChange(state State) {
	if h.State != nil {
		h.State(state)
	}
}

// Driver owns one logical connection to the gateway across reconnects.
type Driver struct {
	cfg     Config
	wsURL   string
	api     *apiClient
	handler Handler
	log     *zerolog.Logger

	state   atomic.Int32
	history *History
	typing  *typingDebouncer

	mu      sync.Mutex
	conn    *websocket.Conn
	watched map[string]struct{}
	synced  chan string // sessions to re-fetch on the live connection
}

// New builds a driver. Call Run to connect.
func New(cfg Config, handler Handler, logger *zerolog.Logger) (*Driver, error) {
	cfg.applyDefaults()
	if strings.TrimSpace(cfg.UserID) == "" && cfg.Token == "" {
		return nil, errors.New("client: user id or token is required")
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	wsURL, err := websocketURL(base)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	d := &Driver{
		cfg:     cfg,
		wsURL:   wsURL,
		api:     &apiClient{base: base, http: cfg.HTTPClient, userID: cfg.UserID, token: cfg.Token},
		handler: handler,
		log:     logger,
		history: NewHistory(),
		watched: make(map[string]struct{}),
		synced:  make(chan string, 64),
	}
	d.typing = newTypingDebouncer(cfg.TypingDebounce, d.sendTyping)
	return d, nil
}

func websocketURL(base *url.URL) (string, error) {
	u := *base
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + proto.WSPath
	return u.String(), nil
}

// State returns the current connection state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	if State(d.state.Swap(int32(s))) != s {
		d.log.Debug().Str("state", s.String()).Msg("client state changed")
		d.handler.OnStateChange(s)
	}
}

// History returns the de-duplicated local history of a session.
func (d *Driver) History(sessionID string) []proto.Message {
	return d.history.Messages(sessionID)
}

// Watch registers a session whose history is re-fetched after every
// (re)connect. If the driver is connected the fetch starts right away.
func (d *Driver) Watch(sessionID string) {
	d.mu.Lock()
	d.watched[sessionID] = struct{}{}
	connected := d.conn != nil
	d.mu.Unlock()

	if connected {
		select {
		case d.synced <- sessionID:
		default:
		}
	}
}

// Sync fetches a session's history over REST and merges it into the local
// history, reporting newly seen messages to the handler.
func (d *Driver) Sync(ctx context.Context, sessionID string) error {
	msgs, err := d.api.history(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, m := range d.history.Merge(msgs) {
		d.handler.OnMessage(m)
	}
	return nil
}

// Send delivers a message over the websocket when connected, otherwise over
// the synchronous REST path. A message accepted over REST is recorded
// locally at once; its later live echo is de-duplicated.
func (d *Driver) Send(ctx context.Context, sessionID, text string) error {
	d.typing.stop(sessionID)

	err := d.write(ctx, proto.MessageFrame(sessionID, text))
	if err == nil {
		return nil
	}
	d.log.Debug().Err(err).Str("session_id", sessionID).Msg("websocket send unavailable, using http fallback")

	msg, err := d.api.sendMessage(ctx, sessionID, text)
	if err != nil {
		return fmt.Errorf("fallback send: %w", err)
	}
	d.record(*msg)
	return nil
}

// Typing reports a keystroke in sessionID.
func (d *Driver) Typing(sessionID string) {
	d.typing.keystroke(sessionID)
}

func (d *Driver) sendTyping(kind, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()
	// Typing is ephemeral; dropping it while disconnected is fine.
	if err := d.write(ctx, proto.TypingFrame(kind, sessionID, d.cfg.UserID)); err != nil {
		d.log.Debug().Err(err).Str("type", kind).Msg("dropping typing frame")
	}
}

func (d *Driver) write(ctx context.Context, frame proto.Inbound) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}

func (d *Driver) record(msg proto.Message) {
	if d.history.Add(msg) {
		d.handler.OnMessage(msg)
	}
}

// Run connects and keeps reconnecting until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	defer d.typing.close()
	defer d.setState(StateDisconnected)

	delay := d.cfg.ReconnectDelay
	for {
		d.setState(StateConnecting)
		connected, err := d.connectOnce(ctx)
		d.setState(StateDisconnected)

		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = d.cfg.ReconnectDelay
		}
		d.log.Warn().Err(err).Dur("retry_in", delay).Msg("connection lost")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay = d.nextDelay(delay)
	}
}

func (d *Driver) nextDelay(current time.Duration) time.Duration {
	if d.cfg.MaxReconnectDelay <= d.cfg.ReconnectDelay {
		return d.cfg.ReconnectDelay
	}
	return min(current*2, d.cfg.MaxReconnectDelay)
}

// connectOnce runs one connection until it fails. connected reports whether
// the handshake completed.
func (d *Driver) connectOnce(ctx context.Context) (connected bool, err error) {
	var opts *websocket.DialOptions
	if d.cfg.Token != "" {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+d.cfg.Token)
		opts = &websocket.DialOptions{HTTPHeader: header}
	}

	conn, _, err := websocket.Dial(ctx, d.wsURL, opts)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	if err := d.handshake(ctx, conn); err != nil {
		return false, err
	}

	d.attach(conn)
	defer d.detach(conn)
	d.setState(StateConnected)
	d.log.Info().Str("url", d.wsURL).Str("user_id", d.cfg.UserID).Msg("connected")

	var lastFrame atomic.Int64
	lastFrame.Store(time.Now().UnixNano())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.readLoop(gctx, conn, &lastFrame) })
	g.Go(func() error { return d.pingLoop(gctx, conn, &lastFrame) })
	g.Go(func() error { return d.syncLoop(gctx) })

	err = g.Wait()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return true, err
}

// handshake announces the identity and waits for the pong to the ping that
// follows it. Frames arriving before the pong are dispatched as usual.
func (d *Driver) handshake(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
	defer cancel()

	// Identity never survives a reconnect; announce it on every new socket.
	if err := wsjson.Write(ctx, conn, proto.AuthFrame(d.cfg.UserID, d.cfg.Token)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.PingFrame()); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
				return fmt.Errorf("%w: %v", ErrAuthRejected, err)
			}
			return fmt.Errorf("auth ack: %w", err)
		}
		if out.Type == proto.TypePong {
			return nil
		}
		d.dispatch(ctx, conn, out)
	}
}

func (d *Driver) attach(conn *websocket.Conn) {
	d.mu.Lock()
	d.conn = conn
	// Queue every watched session for a history re-fetch.
	for id := range d.watched {
		select {
		case d.synced <- id:
		default:
		}
	}
	d.mu.Unlock()
}

func (d *Driver) detach(conn *websocket.Conn) {
	d.mu.Lock()
	if d.conn == conn {
		d.conn = nil
	}
	d.mu.Unlock()
}

func (d *Driver) readLoop(ctx context.Context, conn *websocket.Conn, lastFrame *atomic.Int64) error {
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return err
		}
		lastFrame.Store(time.Now().UnixNano())
		d.dispatch(ctx, conn, out)
	}
}

func (d *Driver) dispatch(ctx context.Context, conn *websocket.Conn, out proto.Outbound) {
	switch out.Type {
	case proto.TypeMessage:
		if out.Message != nil {
			d.record(*out.Message)
		}
	case proto.TypeTyping:
		d.handler.OnTyping(out.SessionID, out.UserID, true)
	case proto.TypeStopTyping:
		d.handler.OnTyping(out.SessionID, out.UserID, false)
	case proto.TypePresence:
		if out.Online != nil {
			d.handler.OnPresence(out.UserID, *out.Online)
		}
	case proto.TypePing:
		_ = wsjson.Write(ctx, conn, proto.Inbound{Type: proto.TypePong, TS: time.Now().UnixMilli()})
	case proto.TypePong:
	default:
		d.log.Debug().Str("type", out.Type).Msg("ignoring unknown frame")
	}
}

func (d *Driver) pingLoop(ctx context.Context, conn *websocket.Conn, lastFrame *atomic.Int64) error {
	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Since(time.Unix(0, lastFrame.Load())) > d.cfg.LivenessTimeout {
				_ = conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
				return errServerSilent
			}
			wctx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
			err := wsjson.Write(wctx, conn, proto.PingFrame())
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (d *Driver) syncLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-d.synced:
			if err := d.Sync(ctx, id); err != nil {
				d.log.Warn().Err(err).Str("session_id", id).Msg("history re-fetch failed")
			}
		}
	}
}
