// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/message/connection persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single connection: pragmas apply everywhere and writers never
	// see SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			name          TEXT NOT NULL,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_owner
			ON chat_sessions(owner_id, updated_at);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			owner_id   TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			timestamp  DATETIME NOT NULL,

			CHECK (role IN ('user', 'assistant')),
			FOREIGN KEY (session_id) REFERENCES chat_sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON chat_messages(session_id, timestamp);

		CREATE TABLE IF NOT EXISTS connections (
			id           TEXT PRIMARY KEY,
			connected_at DATETIME NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateSession inserts a new chat session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *ChatSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, owner_id, name, created_at, updated_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.OwnerID, session.Name,
		session.CreatedAt, session.UpdatedAt, session.MessageCount,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. Returns ErrNotFound if missing.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, created_at, updated_at, message_count
		FROM chat_sessions WHERE id = ?`, id)

	return scanSession(row)
}

// ListSessions returns all sessions owned by ownerID, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, ownerID string) ([]*ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, created_at, updated_at, message_count
		FROM chat_sessions
		WHERE owner_id = ?
		ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ChatSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CountSessions returns the number of sessions owned by ownerID.
func (s *SQLiteStore) CountSessions(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_sessions WHERE owner_id = ?`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return count, nil
}

// DeleteSession removes a session and its messages. A non-owner delete
// is indistinguishable from a missing session. Messages go first so
// the foreign key is never violated mid-transaction.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting delete: %w", err)
	}
	defer tx.Rollback()

	var sessionOwner string
	err = tx.QueryRowContext(ctx,
		`SELECT owner_id FROM chat_sessions WHERE id = ?`, id).Scan(&sessionOwner)
	if err == sql.ErrNoRows || (err == nil && sessionOwner != ownerID) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up session owner: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting session messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return tx.Commit()
}

// BumpSession atomically increments message_count and refreshes updated_at.
// A single UPDATE keeps concurrent increments from losing each other.
func (s *SQLiteStore) BumpSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET message_count = message_count + 1, updated_at = ?
		WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("bumping session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking bump result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage inserts a message after verifying the session exists and is
// owned by the message's owner.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	var ownerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id FROM chat_sessions WHERE id = ?`, msg.SessionID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up session owner: %w", err)
	}
	if ownerID != msg.OwnerID {
		return ErrNotOwner
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, owner_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.OwnerID, msg.Role, msg.Content, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns a session's messages ordered by timestamp, ties broken
// by insertion order. Returns ErrNotOwner when the caller does not own the session.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID, ownerID string) ([]*Message, error) {
	var sessionOwner string
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id FROM chat_sessions WHERE id = ?`, sessionID).Scan(&sessionOwner)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session owner: %w", err)
	}
	if sessionOwner != ownerID {
		return nil, ErrNotOwner
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, owner_id, role, content, timestamp
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY timestamp, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.OwnerID,
			&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// PutConnection records a live connection, replacing any stale row with the same ID.
func (s *SQLiteStore) PutConnection(ctx context.Context, conn *Connection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (id, connected_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET connected_at = excluded.connected_at`,
		conn.ID, conn.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting connection: %w", err)
	}
	return nil
}

// GetConnection retrieves a connection by ID. Returns ErrNotFound if missing.
func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*Connection, error) {
	conn := &Connection{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, connected_at FROM connections WHERE id = ?`, id).
		Scan(&conn.ID, &conn.ConnectedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting connection: %w", err)
	}
	return conn, nil
}

// CountConnections returns the number of registered connections
func (s *SQLiteStore) CountConnections(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM connections`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting connections: %w", err)
	}
	return count, nil
}

// DeleteConnection removes a connection row. Deleting a missing row is not an error.
func (s *SQLiteStore) DeleteConnection(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM connections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*ChatSession, error) {
	session := &ChatSession{}
	err := row.Scan(&session.ID, &session.OwnerID, &session.Name,
		&session.CreatedAt, &session.UpdatedAt, &session.MessageCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return session, nil
}
