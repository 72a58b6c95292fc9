// ABOUTME: End-to-end websocket tests: dial, send a turn, read the event stream
// ABOUTME: Backed by a real dispatcher, SQLite store, and the fallback responder

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closetly/closet-gateway/internal/agent"
	"github.com/closetly/closet-gateway/internal/auth"
	"github.com/closetly/closet-gateway/internal/registry"
	"github.com/closetly/closet-gateway/internal/store"
)

type wsFixture struct {
	server   *httptest.Server
	store    *store.SQLiteStore
	registry *registry.Registry
	verifier *auth.JWTVerifier
}

func newWSFixture(t *testing.T, invoker agent.Invoker) *wsFixture {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	verifier := auth.NewJWTVerifier(testSecret)
	reg := registry.New(st)
	dispatcher := NewDispatcher(st, reg, verifier, invoker)

	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(dispatcher, reg))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &wsFixture{server: server, store: st, registry: reg, verifier: verifier}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *wsFixture) token(t *testing.T, ownerID string) string {
	t.Helper()
	token, err := f.verifier.Generate(ownerID, time.Hour)
	require.NoError(t, err)
	return token
}

// readUntilTerminal reads events until a complete or error arrives
func readUntilTerminal(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	var events []map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var ev map[string]any
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev["type"] == "complete" || ev["type"] == "error" {
			return events
		}
	}
}

func eventTypeSequence(events []map[string]any) []string {
	var types []string
	for _, ev := range events {
		types = append(types, ev["type"].(string))
	}
	return types
}

func TestWebsocket_FullTurn(t *testing.T) {
	f := newWSFixture(t, agent.NewFallback(0))
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":  "sendMessage",
		"message": "what should I wear today?",
		"token":   f.token(t, "user-1"),
	}))

	events := readUntilTerminal(t, conn)
	types := eventTypeSequence(events)

	// session-created first, ack next, terminal last
	assert.Equal(t, "session-created", types[0])
	assert.Equal(t, "userMessage", types[1])
	assert.Equal(t, "complete", types[len(types)-1])

	// stream-start precedes every chunk, chunks precede the terminal
	streamStart := -1
	firstChunk := -1
	for i, typ := range types {
		if typ == "streamStart" && streamStart == -1 {
			streamStart = i
		}
		if typ == "chunk" && firstChunk == -1 {
			firstChunk = i
		}
	}
	require.NotEqual(t, -1, streamStart)
	require.NotEqual(t, -1, firstChunk)
	assert.Equal(t, streamStart+1, firstChunk)

	// The turn was durably recorded
	chatID := events[0]["chatId"].(string)
	messages, err := f.store.ListMessages(context.Background(), chatID, "user-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "what should I wear today?", messages[0].Content)

	session, err := f.store.GetSession(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), session.MessageCount)
}

func TestWebsocket_SecondTurnSameChat(t *testing.T) {
	f := newWSFixture(t, agent.NewFallback(0))
	conn := f.dial(t)
	token := f.token(t, "user-1")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": "sendMessage", "message": "first", "token": token,
	}))
	events := readUntilTerminal(t, conn)
	chatID := events[0]["chatId"].(string)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": "sendMessage", "message": "second", "token": token, "chatId": chatID,
	}))
	events = readUntilTerminal(t, conn)

	types := eventTypeSequence(events)
	assert.NotContains(t, types, "session-created")
	assert.Equal(t, "complete", types[len(types)-1])

	messages, err := f.store.ListMessages(context.Background(), chatID, "user-1")
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestWebsocket_MalformedPayload(t *testing.T) {
	f := newWSFixture(t, agent.NewFallback(0))
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	events := readUntilTerminal(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0]["type"])

	// Nothing was persisted
	count, err := f.store.CountSessions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestWebsocket_UnknownAction(t *testing.T) {
	f := newWSFixture(t, agent.NewFallback(0))
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": "selfDestruct", "message": "hi", "token": f.token(t, "user-1"),
	}))

	events := readUntilTerminal(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0]["type"])
	assert.Equal(t, "Unknown action", events[0]["error"])
}

func TestWebsocket_ConnectionRegistered(t *testing.T) {
	f := newWSFixture(t, agent.NewFallback(0))
	conn := f.dial(t)

	// Drive a turn so we can learn the registry row exists while the
	// socket is open.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": "sendMessage", "message": "hi", "token": f.token(t, "user-1"),
	}))
	readUntilTerminal(t, conn)

	connected, err := f.store.CountConnections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), connected)

	conn.Close()

	require.Eventually(t, func() bool {
		count, err := f.store.CountConnections(context.Background())
		return err == nil && count == 0
	}, 2*time.Second, 20*time.Millisecond, "disconnect must remove the registry row")
}

func TestWebsocket_ErrorTurnKeepsConnectionOpen(t *testing.T) {
	f := newWSFixture(t, agent.NewFallback(0))
	conn := f.dial(t)

	// Invalid token turn fails...
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": "sendMessage", "message": "hi", "token": "bogus",
	}))
	events := readUntilTerminal(t, conn)
	assert.Equal(t, "error", events[0]["type"])

	// ...but the next valid turn on the same socket succeeds
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": "sendMessage", "message": "hi", "token": f.token(t, "user-1"),
	}))
	events = readUntilTerminal(t, conn)
	assert.Equal(t, "complete", eventTypeSequence(events)[len(events)-1])
}
