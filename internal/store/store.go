// ABOUTME: Store interface and data types for closet-gateway persistence
// ABOUTME: Defines ChatSession, Message, Connection and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNotOwner is returned when a caller touches a session owned by someone else
var ErrNotOwner = errors.New("not session owner")

// ErrDuplicateSession is returned when trying to create a session that already exists
var ErrDuplicateSession = errors.New("session already exists")

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession is one multi-turn conversation owned by a single user.
// MessageCount is maintained by BumpSession and only ever goes up.
type ChatSession struct {
	ID           string
	OwnerID      string
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int64
}

// Message is a single immutable chat message within a session.
type Message struct {
	ID        string
	SessionID string
	OwnerID   string
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// Connection is a live websocket connection known to the gateway.
type Connection struct {
	ID          string
	ConnectedAt time.Time
}

// Store defines the interface for session, message and connection persistence
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *ChatSession) error
	GetSession(ctx context.Context, id string) (*ChatSession, error)
	ListSessions(ctx context.Context, ownerID string) ([]*ChatSession, error)
	CountSessions(ctx context.Context, ownerID string) (int64, error)
	DeleteSession(ctx context.Context, id, ownerID string) error

	// BumpSession atomically increments the session's message count and
	// refreshes its updated_at timestamp. Safe under concurrent turns.
	BumpSession(ctx context.Context, id string) error

	// Messages (append-only)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, sessionID, ownerID string) ([]*Message, error)

	// Connection registry
	PutConnection(ctx context.Context, conn *Connection) error
	GetConnection(ctx context.Context, id string) (*Connection, error)
	DeleteConnection(ctx context.Context, id string) error
	CountConnections(ctx context.Context) (int64, error)

	// Close releases any resources held by the store
	Close() error
}
