package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vovakirdan/wirechat-gateway/internal/store"
)

const defaultPrefix = "wirechat:presence"

// Config holds connection settings for the presence mirror.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// PresenceMirror publishes presence transitions to redis so that other
// services can read who is online without talking to the gateway.
//
// Layout: hash {prefix}:{user} with fields online (0/1) and last_seen (unix ms),
// and set {prefix}:online with the ids of users currently online.
type PresenceMirror struct {
	rdb    goredis.UniversalClient
	prefix string
}

// New connects to redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*PresenceMirror, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(rdb), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb goredis.UniversalClient) *PresenceMirror {
	return &PresenceMirror{rdb: rdb, prefix: defaultPrefix}
}

func (m *PresenceMirror) userKey(userID string) string { return m.prefix + ":" + userID }

func (m *PresenceMirror) onlineKey() string { return m.prefix + ":online" }

// SetPresence records the transition atomically.
func (m *PresenceMirror) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	flag := "0"
	if online {
		flag = "1"
	}
	_, err := m.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, m.userKey(userID), "online", flag, "last_seen", at.UnixMilli())
		if online {
			pipe.SAdd(ctx, m.onlineKey(), userID)
		} else {
			pipe.SRem(ctx, m.onlineKey(), userID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set presence: %w", err)
	}
	return nil
}

// GetPresence reads the mirrored presence of a user.
func (m *PresenceMirror) GetPresence(ctx context.Context, userID string) (*store.Presence, error) {
	fields, err := m.rdb.HGetAll(ctx, m.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("presence %s: %w", userID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("redis get presence: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("presence %s: %w", userID, store.ErrNotFound)
	}
	return parsePresence(userID, fields)
}

// Close closes the underlying client.
func (m *PresenceMirror) Close() error {
	return m.rdb.Close()
}

func parsePresence(userID string, fields map[string]string) (*store.Presence, error) {
	p := &store.Presence{UserID: userID, Online: fields["online"] == "1"}
	if raw, ok := fields["last_seen"]; ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse last_seen %q: %w", raw, err)
		}
		p.LastSeen = time.UnixMilli(ms).UTC()
	}
	return p, nil
}

var _ store.PresenceStore = (*PresenceMirror)(nil)
