package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHeartbeatClosesSilentConnection(t *testing.T) {
	hb := NewHeartbeat(10*time.Millisecond, 50*time.Millisecond)
	c := NewClient("c1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hb.Monitor(ctx, c)
	if !errors.Is(err, ErrHeartbeatTimeout) {
		t.Fatalf("expected ErrHeartbeatTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("closed too early after %v", elapsed)
	}
	if c.KickReason() != ReasonHeartbeatTimeout {
		t.Fatalf("kick reason = %q", c.KickReason())
	}
}

func TestHeartbeatObservedConnectionStaysOpen(t *testing.T) {
	hb := NewHeartbeat(10*time.Millisecond, 50*time.Millisecond)
	c := NewClient("c1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hb.Observe(c)
			}
		}
	}()

	if err := hb.Monitor(ctx, c); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected monitor to run until ctx deadline, got %v", err)
	}
	select {
	case <-c.Done():
		t.Fatalf("live connection must not be kicked")
	default:
	}
}

func TestHeartbeatStopsWhenKicked(t *testing.T) {
	hb := NewHeartbeat(time.Second, time.Minute)
	c := NewClient("c1", 1)
	c.Kick(ReasonSlowConsumer)

	if err := hb.Monitor(context.Background(), c); err != nil {
		t.Fatalf("expected nil for kicked client, got %v", err)
	}
}
