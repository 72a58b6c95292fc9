// ABOUTME: Tests for the chat history REST endpoints
// ABOUTME: Covers auth, owner scoping, message listing, and chat deletion

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closetly/closet-gateway/internal/auth"
	"github.com/closetly/closet-gateway/internal/store"
)

type apiFixture struct {
	server   *httptest.Server
	store    *store.SQLiteStore
	verifier *auth.JWTVerifier
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	verifier := auth.NewJWTVerifier(testSecret)

	mux := http.NewServeMux()
	NewAPIHandler(st, verifier).Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, store: st, verifier: verifier}
}

func (f *apiFixture) request(t *testing.T, method, path, ownerID string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, nil)
	require.NoError(t, err)
	if ownerID != "" {
		token, err := f.verifier.Generate(ownerID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) seedSession(t *testing.T, ownerID, name string, messages ...string) *store.ChatSession {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	session := &store.ChatSession{
		ID: uuid.NewString(), OwnerID: ownerID, Name: name,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.store.CreateSession(ctx, session))
	for i, content := range messages {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		require.NoError(t, f.store.AppendMessage(ctx, &store.Message{
			ID: uuid.NewString(), SessionID: session.ID, OwnerID: ownerID,
			Role: role, Content: content,
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
		}))
		require.NoError(t, f.store.BumpSession(ctx, session.ID))
	}
	return session
}

func TestListChats_ScopedToOwner(t *testing.T) {
	f := newAPIFixture(t)
	f.seedSession(t, "user-1", "Chat 1")
	f.seedSession(t, "user-1", "Chat 2")
	f.seedSession(t, "user-2", "Chat 1")

	resp := f.request(t, http.MethodGet, "/api/chats", "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Chats []chatSummary `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Chats, 2)
	for _, chat := range body.Chats {
		assert.Contains(t, []string{"Chat 1", "Chat 2"}, chat.ChatName)
	}
}

func TestListChats_Unauthenticated(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/api/chats", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListMessages(t *testing.T) {
	f := newAPIFixture(t)
	session := f.seedSession(t, "user-1", "Chat 1", "hello", "hi there")

	resp := f.request(t, http.MethodGet, fmt.Sprintf("/api/chats/%s/messages", session.ID), "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Messages []wireMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "hello", body.Messages[0].Content)
	assert.Equal(t, store.RoleUser, body.Messages[0].Role)
	assert.Equal(t, "hi there", body.Messages[1].Content)
	assert.Equal(t, store.RoleAssistant, body.Messages[1].Role)
}

func TestListMessages_ForeignChatLooksMissing(t *testing.T) {
	f := newAPIFixture(t)
	session := f.seedSession(t, "user-1", "Chat 1", "private")

	resp := f.request(t, http.MethodGet, fmt.Sprintf("/api/chats/%s/messages", session.ID), "user-2")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListMessages_UnknownChat(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/api/chats/nonexistent/messages", "user-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteChat(t *testing.T) {
	f := newAPIFixture(t)
	session := f.seedSession(t, "user-1", "Chat 1", "hello", "hi")

	resp := f.request(t, http.MethodDelete, "/api/chats/"+session.ID, "user-1")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err := f.store.GetSession(context.Background(), session.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteChat_ForeignChat(t *testing.T) {
	f := newAPIFixture(t)
	session := f.seedSession(t, "user-1", "Chat 1")

	resp := f.request(t, http.MethodDelete, "/api/chats/"+session.ID, "user-2")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Still present for the owner
	_, err := f.store.GetSession(context.Background(), session.ID)
	assert.NoError(t, err)
}
