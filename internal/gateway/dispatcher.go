// ABOUTME: Per-turn dispatcher: parse, authenticate, persist, invoke agent, relay events
// ABOUTME: Serializes turns per session and converts all failures to a single error event

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/closetly/closet-gateway/internal/agent"
	"github.com/closetly/closet-gateway/internal/auth"
	"github.com/closetly/closet-gateway/internal/registry"
	"github.com/closetly/closet-gateway/internal/store"
	"github.com/closetly/closet-gateway/internal/translator"
)

// Conn is one client connection the dispatcher can push events to
type Conn interface {
	ID() string
	Push(v any) error
}

// Dispatcher executes chat turns. One turn per inbound message; turns
// on the same session are serialized because the agent keys its
// conversational memory by session ID.
type Dispatcher struct {
	store    store.Store
	registry *registry.Registry
	verifier auth.TokenVerifier
	invoker  agent.Invoker
	logger   *slog.Logger
	locks    keyedMutex
}

// NewDispatcher creates a dispatcher wired to the given collaborators
func NewDispatcher(st store.Store, reg *registry.Registry, verifier auth.TokenVerifier, invoker agent.Invoker) *Dispatcher {
	return &Dispatcher{
		store:    st,
		registry: reg,
		verifier: verifier,
		invoker:  invoker,
		logger:   slog.Default().With("component", "dispatcher"),
	}
}

// HandleTurn runs one chat turn end to end. It never returns an error:
// every failure is converted to a single error event on the connection,
// and persistence outcomes are logged. Push failures mark the
// connection stale; persistence continues regardless.
func (d *Dispatcher) HandleTurn(ctx context.Context, conn Conn, req *turnRequest) {
	push := newTurnPusher(ctx, conn, d.registry, d.logger)

	// Step 1: validate payload
	if req.Message == "" {
		push.send(errorEvent{Type: "error", Error: "Message is required"})
		return
	}

	// Step 2: authenticate
	ownerID, err := d.verifier.Verify(req.Token)
	if err != nil {
		d.logger.Warn("turn rejected", "connection_id", conn.ID(), "error", err)
		push.send(errorEvent{Type: "error", Error: "Invalid or missing token"})
		return
	}

	// Step 3: resolve or create the session
	sessionID := req.ChatID
	if sessionID == "" {
		session, err := d.createSession(ctx, ownerID)
		if err != nil {
			d.logger.Error("failed to create session", "owner_id", ownerID, "error", err)
			push.send(errorEvent{Type: "error", Error: "Failed to create chat"})
			return
		}
		sessionID = session.ID
		push.send(sessionCreatedEvent{Type: "session-created", ChatID: session.ID, ChatName: session.Name})
	}

	// One turn at a time per session. Turns on other sessions proceed
	// concurrently.
	unlock := d.locks.lock(sessionID)
	defer unlock()

	// Step 4: persist the user's message and bump the counter
	userMsg := &store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		OwnerID:   ownerID,
		Role:      store.RoleUser,
		Content:   req.Message,
		Timestamp: time.Now().UTC(),
	}
	if err := d.persistMessage(ctx, userMsg); err != nil {
		push.send(errorEvent{Type: "error", Error: persistErrorText(err)})
		return
	}

	// Step 5: acknowledge the persisted user message
	push.send(userMessageEvent{Type: "userMessage", Message: toWireMessage(userMsg)})

	// Step 6: invoke the agent and relay the translated stream
	attrs := map[string]string{}
	if req.UseVirtualCloset {
		attrs["useVirtualCloset"] = "true"
	}

	in, err := d.invoker.Invoke(ctx, sessionID, req.Message, attrs)
	if err != nil {
		// Should not happen with a configured invoker; feed the
		// translator a failure so the turn still terminates normally.
		d.logger.Error("agent invoke failed", "session_id", sessionID, "error", err)
		failed := make(chan agent.Event, 1)
		failed <- agent.Event{Failure: &agent.Failure{Message: "agent unavailable"}}
		close(failed)
		in = failed
	}

	outcome := translator.Run(in, func(ev translator.Event) {
		switch ev.Kind {
		case translator.KindStatus:
			push.send(thinkingEvent{Type: "thinking", Message: ev.Text, TraceType: ev.TraceType})
		case translator.KindStreamStart:
			push.send(streamStartEvent{Type: "streamStart"})
		case translator.KindChunk:
			push.send(chunkEvent{Type: "chunk", Chunk: ev.Text})
		case translator.KindError:
			push.send(errorEvent{Type: "error", Error: ev.Text})
		case translator.KindComplete:
			// Deferred: the complete event carries the persisted
			// assistant message, which does not exist yet.
		}
	})

	if outcome.Failed {
		d.logger.Warn("agent turn failed", "session_id", sessionID, "error", outcome.ErrText)
	}

	// Step 7: persist the assistant's message and bump the counter.
	// This happens even on failure so partial output is never lost.
	assistantMsg := &store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		OwnerID:   ownerID,
		Role:      store.RoleAssistant,
		Content:   outcome.Content,
		Timestamp: time.Now().UTC(),
	}
	if err := d.persistMessage(ctx, assistantMsg); err != nil {
		d.logger.Error("failed to persist assistant message", "session_id", sessionID, "error", err)
		// A failed turn already emitted its error event during the
		// relay; the terminal event stays singular.
		if !outcome.Failed {
			push.send(errorEvent{Type: "error", Error: "Failed to save response"})
		}
		return
	}

	// Step 8: the terminal event. Errors were already emitted during
	// the relay; only a successful turn sends complete.
	if !outcome.Failed {
		push.send(completeEvent{Type: "complete", Message: toWireMessage(assistantMsg)})
	}
}

// createSession allocates a new chat named by the owner's session
// count. A count failure falls back to a timestamp name rather than
// failing the turn.
func (d *Dispatcher) createSession(ctx context.Context, ownerID string) (*store.ChatSession, error) {
	name := ""
	count, err := d.store.CountSessions(ctx, ownerID)
	if err != nil {
		d.logger.Warn("failed to count sessions for naming", "owner_id", ownerID, "error", err)
		name = "Chat " + time.Now().UTC().Format("2006-01-02 15:04")
	} else {
		name = fmt.Sprintf("Chat %d", count+1)
	}

	now := time.Now().UTC()
	session := &store.ChatSession{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	d.logger.Info("session created", "session_id", session.ID, "owner_id", ownerID, "name", name)
	return session, nil
}

// persistMessage appends the message and bumps the session counter.
// Both must succeed for the turn's accounting invariant to hold.
func (d *Dispatcher) persistMessage(ctx context.Context, msg *store.Message) error {
	if err := d.store.AppendMessage(ctx, msg); err != nil {
		return err
	}
	if err := d.store.BumpSession(ctx, msg.SessionID); err != nil {
		return fmt.Errorf("bumping session counter: %w", err)
	}
	return nil
}

func persistErrorText(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "Chat not found"
	case errors.Is(err, store.ErrNotOwner):
		return "Not authorized for this chat"
	default:
		return "Failed to save message"
	}
}

// turnPusher delivers events for one turn. The first failed push marks
// the connection stale: it is removed from the registry and every
// later push in the turn becomes a no-op. Persistence is unaffected.
type turnPusher struct {
	ctx      context.Context
	conn     Conn
	registry *registry.Registry
	logger   *slog.Logger
	disabled bool
}

func newTurnPusher(ctx context.Context, conn Conn, reg *registry.Registry, logger *slog.Logger) *turnPusher {
	return &turnPusher{ctx: ctx, conn: conn, registry: reg, logger: logger}
}

func (p *turnPusher) send(v any) {
	if p.disabled {
		return
	}
	if err := p.conn.Push(v); err != nil {
		p.logger.Warn("push failed, dropping connection from registry",
			"connection_id", p.conn.ID(), "error", err)
		if rmErr := p.registry.Remove(p.ctx, p.conn.ID()); rmErr != nil {
			p.logger.Warn("failed to remove stale connection", "connection_id", p.conn.ID(), "error", rmErr)
		}
		p.disabled = true
	}
}

// keyedMutex serializes callers per key. Entries are reference-counted
// and removed when the last holder releases, so idle sessions cost
// nothing.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*lockEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
