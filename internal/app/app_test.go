package app

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-gateway/internal/config"
	"github.com/vovakirdan/wirechat-gateway/internal/log"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DatabasePath = ":memory:"
	cfg.ShutdownTimeout = time.Second
	return &cfg
}

func TestRunStopsOnCancel(t *testing.T) {
	application, err := New(testConfig(), log.Nop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop after cancellation")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.JWTRequired = true

	if _, err := New(cfg, log.Nop()); err == nil {
		t.Fatal("expected error when tokens are required without a secret")
	}
}

func TestNewFailsWhenRedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	if _, err := New(cfg, log.Nop()); err == nil {
		t.Fatal("expected error for an unreachable presence mirror")
	}
}

func TestJWTConfigFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "s3cret"

	jc := JWTConfig(cfg)
	if string(jc.Secret) != "s3cret" || jc.Issuer != cfg.JWTIssuer || jc.Audience != cfg.JWTAudience || jc.TTL != cfg.JWTTTL {
		t.Fatalf("unexpected jwt config: %+v", jc)
	}
}
