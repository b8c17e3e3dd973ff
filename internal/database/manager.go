package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"chatline/pkg/types"
)

// Manager implements interfaces.MessageStore over SQLite. Writes funnel
// through a single goroutine; SQLite allows many readers but only one
// writer, and serializing writes in-process avoids busy-retry churn.
type Manager struct {
	db       *sql.DB
	writeCh  chan writeOperation
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Config holds the SQLite connection settings.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewManager opens the database, applies pragmas, and starts the write loop.
func NewManager(cfg *Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	m := &Manager{
		db:       db,
		writeCh:  make(chan writeOperation, 100),
		shutdown: make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeCh:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("database write failed after retry: %v", err)
				}
			}
			op.result <- err
		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeCh <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// SaveDirectMessage persists a direct message, assigning an ID and timestamp
// when the caller left them unset.
func (m *Manager) SaveDirectMessage(ctx context.Context, msg *types.DirectMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO direct_messages (id, sender_id, receiver_id, text, image, video, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			msg.ID,
			msg.SenderID,
			msg.ReceiverID,
			msg.Text,
			msg.Image,
			msg.Video,
			msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert direct message: %w", err)
		}
		return nil
	})
}

// GetConversation returns the messages exchanged between two users in
// chronological order, capped at limit.
func (m *Manager) GetConversation(ctx context.Context, userA, userB string, limit int) ([]*types.DirectMessage, error) {
	query := `
		SELECT id, sender_id, receiver_id, text, image, video, created_at
		FROM direct_messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := m.db.QueryContext(ctx, query, userA, userB, userB, userA, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.DirectMessage
	for rows.Next() {
		var msg types.DirectMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Text,
			&msg.Image,
			&msg.Video,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan direct message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating direct message rows: %w", err)
	}

	reverse(messages)
	return messages, nil
}

// SaveRoomMessage persists a room message for history replay.
func (m *Manager) SaveRoomMessage(ctx context.Context, msg *types.RoomMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO room_messages (id, room_id, sender_id, text, created_at)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			msg.ID,
			msg.RoomID,
			msg.SenderID,
			msg.Text,
			msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert room message: %w", err)
		}
		return nil
	})
}

// GetRoomHistory returns a room's messages in chronological order, capped at
// limit.
func (m *Manager) GetRoomHistory(ctx context.Context, roomID string, limit int) ([]*types.RoomMessage, error) {
	query := `
		SELECT id, room_id, sender_id, text, created_at
		FROM room_messages
		WHERE room_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := m.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query room history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.RoomMessage
	for rows.Next() {
		var msg types.RoomMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.Text,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan room message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room message rows: %w", err)
	}

	reverse(messages)
	return messages, nil
}

// UpsertUser records that userID connected, creating the row on first sight
// and bumping last_seen otherwise.
func (m *Manager) UpsertUser(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO users (id, first_seen, last_seen)
			VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET last_seen = excluded.last_seen
		`
		_, err := db.ExecContext(ctx, query, userID, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	})
}

// ListUsers returns every known user except excludeID, ordered by ID.
func (m *Manager) ListUsers(ctx context.Context, excludeID string) ([]*types.User, error) {
	query := `
		SELECT id, first_seen, last_seen
		FROM users
		WHERE id != ?
		ORDER BY id
	`
	rows, err := m.db.QueryContext(ctx, query, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*types.User
	for rows.Next() {
		var user types.User
		if err := rows.Scan(&user.ID, &user.FirstSeen, &user.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

// HealthCheck validates connectivity and a basic read.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB exposes the underlying handle for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close drains the write loop and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
