package client

import (
	"sync"
	"time"

	"github.com/vovakirdan/wirechat-gateway/internal/proto"
)

// typingDebouncer turns keystrokes into typing/stop-typing frames: the first
// keystroke announces typing and stop-typing follows delay after the last one.
// A long burst re-announces typing every delay so the server-side expiry
// never fires while the user is still typing.
type typingDebouncer struct {
	mu     sync.Mutex
	delay  time.Duration
	send   func(kind, sessionID string)
	active map[string]*typingTimer
	now    func() time.Time
}

type typingTimer struct {
	timer    *time.Timer
	gen      uint64
	lastSent time.Time
}

func newTypingDebouncer(delay time.Duration, send func(kind, sessionID string)) *typingDebouncer {
	return &typingDebouncer{
		delay:  delay,
		send:   send,
		active: make(map[string]*typingTimer),
		now:    time.Now,
	}
}

func (d *typingDebouncer) keystroke(sessionID string) {
	d.mu.Lock()
	now := d.now()
	t, ok := d.active[sessionID]
	if !ok {
		t = &typingTimer{}
		d.active[sessionID] = t
	}
	announce := !ok || now.Sub(t.lastSent) >= d.delay
	if announce {
		t.lastSent = now
	}
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d.delay, func() { d.expire(sessionID, gen) })
	d.mu.Unlock()

	if announce {
		d.send(proto.TypeTyping, sessionID)
	}
}

// stop ends the indicator right away, e.g. when the message is sent.
func (d *typingDebouncer) stop(sessionID string) {
	d.mu.Lock()
	t, ok := d.active[sessionID]
	if ok {
		t.timer.Stop()
		delete(d.active, sessionID)
	}
	d.mu.Unlock()

	if ok {
		d.send(proto.TypeStopTyping, sessionID)
	}
}

func (d *typingDebouncer) expire(sessionID string, gen uint64) {
	d.mu.Lock()
	t, ok := d.active[sessionID]
	if !ok || t.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.active, sessionID)
	d.mu.Unlock()

	d.send(proto.TypeStopTyping, sessionID)
}

func (d *typingDebouncer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.active {
		t.timer.Stop()
		delete(d.active, id)
	}
}
