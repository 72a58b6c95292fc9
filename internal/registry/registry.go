// ABOUTME: Connection registry tracking live websocket connections in the store
// ABOUTME: Rows are added on connect and removed on disconnect or failed push

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/closetly/closet-gateway/internal/store"
)

// Registry tracks which connections are live. Rows are removed
// proactively when a push fails, not just on explicit disconnect, so
// the table stays bounded even when clients vanish silently.
type Registry struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a registry backed by the given store
func New(st store.Store) *Registry {
	return &Registry{
		store:  st,
		logger: slog.Default().With("component", "registry"),
	}
}

// Add records a newly connected client
func (r *Registry) Add(ctx context.Context, connID string) error {
	err := r.store.PutConnection(ctx, &store.Connection{
		ID:          connID,
		ConnectedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("registering connection: %w", err)
	}
	r.logger.Info("connection registered", "connection_id", connID)
	return nil
}

// Remove drops a connection row. Removing an already-removed
// connection is a no-op, so disconnect and stale-push cleanup can race
// safely.
func (r *Registry) Remove(ctx context.Context, connID string) error {
	if err := r.store.DeleteConnection(ctx, connID); err != nil {
		return fmt.Errorf("unregistering connection: %w", err)
	}
	r.logger.Info("connection unregistered", "connection_id", connID)
	return nil
}

// Lookup reports whether the connection is currently registered
func (r *Registry) Lookup(ctx context.Context, connID string) (bool, error) {
	_, err := r.store.GetConnection(ctx, connID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up connection: %w", err)
	}
	return true, nil
}
