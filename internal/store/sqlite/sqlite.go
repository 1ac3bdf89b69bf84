package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-gateway/internal/store"
)

//go:embed schema.sql
var schema string

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

const defaultHistoryLimit = 200

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests that need extra fixtures on top of the schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== SessionStore implementation ====

// CreateSession creates a session, reusing an existing direct session between the same pair.
func (s *SQLiteStore) CreateSession(ctx context.Context, participantIDs []string, isGroup bool) (*store.Session, error) {
	participants := dedupe(participantIDs)
	if len(participants) == 0 {
		return nil, fmt.Errorf("create session: no participants")
	}

	var directKey *string
	if !isGroup {
		if len(participants) != 2 {
			return nil, fmt.Errorf("create session: direct session needs exactly 2 participants, got %d", len(participants))
		}
		key := directKeyFor(participants[0], participants[1])
		directKey = &key

		existing, err := s.getSessionByDirectKey(ctx, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	createdAt := s.now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, is_group, direct_key, created_at)
		VALUES (?, ?, ?, ?)
	`, id, isGroup, directKey, createdAt); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	for pos, userID := range participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_participants (session_id, user_id, position)
			VALUES (?, ?, ?)
		`, id, userID, pos); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &store.Session{
		ID:             id,
		ParticipantIDs: participants,
		IsGroup:        isGroup,
		CreatedAt:      createdAt,
	}, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	query := `
		SELECT id, is_group, last_message, last_message_at, created_at
		FROM sessions
		WHERE id = ?
	`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	participants, err := s.GetParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	session.ParticipantIDs = participants
	return session, nil
}

func (s *SQLiteStore) getSessionByDirectKey(ctx context.Context, key string) (*store.Session, error) {
	query := `
		SELECT id
		FROM sessions
		WHERE direct_key = ?
	`
	var id string
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query direct session: %w", err)
	}
	return s.GetSession(ctx, id)
}

// ListSessions lists sessions the user participates in, most recent activity first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*store.Session, error) {
	query := `
		SELECT s.id, s.is_group, s.last_message, s.last_message_at, s.created_at
		FROM sessions s
		JOIN session_participants sp ON sp.session_id = s.id
		WHERE sp.user_id = ?
		ORDER BY COALESCE(s.last_message_at, s.created_at) DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*store.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for _, session := range sessions {
		participants, err := s.GetParticipants(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		session.ParticipantIDs = participants
	}
	return sessions, nil
}

// GetParticipants returns the ordered participant ids of a session.
func (s *SQLiteStore) GetParticipants(ctx context.Context, sessionID string) ([]string, error) {
	query := `
		SELECT user_id
		FROM session_participants
		WHERE session_id = ?
		ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return participants, nil
}

// UpdateSessionSummary writes the denormalized last-message fields.
func (s *SQLiteStore) UpdateSessionSummary(ctx context.Context, sessionID, text string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET last_message = ?, last_message_at = ?
		WHERE id = ?
	`, text, at.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("update session summary: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, sessionID, senderID, text string) (*store.Message, error) {
	msg := &store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: s.now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sender_id, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.SenderID, msg.Text, msg.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

// ListMessages returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := `
		SELECT id, session_id, sender_id, text, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.SenderID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ==== PresenceStore implementation ====

// SetPresence stores the user's online flag and last-seen time.
func (s *SQLiteStore) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presence (user_id, online, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET online = excluded.online, last_seen = excluded.last_seen
	`, userID, online, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

// GetPresence returns the last stored presence for a user.
func (s *SQLiteStore) GetPresence(ctx context.Context, userID string) (*store.Presence, error) {
	query := `
		SELECT user_id, online, last_seen
		FROM presence
		WHERE user_id = ?
	`
	var p store.Presence
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&p.UserID, &p.Online, &p.LastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("presence %s: %w", userID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query presence: %w", err)
	}
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*store.Session, error) {
	var (
		session       store.Session
		lastMessageAt sql.NullTime
	)
	err := row.Scan(&session.ID, &session.IsGroup, &session.LastMessage, &lastMessageAt, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if lastMessageAt.Valid {
		at := lastMessageAt.Time
		session.LastMessageAt = &at
	}
	return &session, nil
}

// directKeyFor returns a deterministic key for a direct session: "dm:{min}:{max}".
func directKeyFor(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "dm:" + pair[0] + ":" + pair[1]
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Ensure SQLiteStore implements store.Store.
var _ store.Store = (*SQLiteStore)(nil)
