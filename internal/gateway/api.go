// ABOUTME: REST endpoints for chat history: list chats, list messages, delete chat
// ABOUTME: Bearer-token authenticated; every response is scoped to the token's owner

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/closetly/closet-gateway/internal/auth"
	"github.com/closetly/closet-gateway/internal/store"
)

// APIHandler serves the chat history REST endpoints
type APIHandler struct {
	store    store.Store
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// NewAPIHandler creates the REST handler
func NewAPIHandler(st store.Store, verifier auth.TokenVerifier) *APIHandler {
	return &APIHandler{
		store:    st,
		verifier: verifier,
		logger:   slog.Default().With("component", "api"),
	}
}

// Register mounts the API routes on the given mux
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chats", h.handleListChats)
	mux.HandleFunc("GET /api/chats/{id}/messages", h.handleListMessages)
	mux.HandleFunc("DELETE /api/chats/{id}", h.handleDeleteChat)
}

// chatSummary is the JSON shape of one chat in list responses
type chatSummary struct {
	ChatID       string    `json:"chatId"`
	ChatName     string    `json:"chatName"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int64     `json:"messageCount"`
}

func (h *APIHandler) handleListChats(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	sessions, err := h.store.ListSessions(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("failed to list sessions", "owner_id", ownerID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	chats := make([]chatSummary, 0, len(sessions))
	for _, s := range sessions {
		chats = append(chats, chatSummary{
			ChatID:       s.ID,
			ChatName:     s.Name,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
			MessageCount: s.MessageCount,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *APIHandler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	chatID := r.PathValue("id")

	messages, err := h.store.ListMessages(r.Context(), chatID, ownerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "chat not found")
		return
	case errors.Is(err, store.ErrNotOwner):
		// Indistinguishable from missing so chat IDs don't leak
		writeJSONError(w, http.StatusNotFound, "chat not found")
		return
	case err != nil:
		h.logger.Error("failed to list messages", "chat_id", chatID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	out := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, toWireMessage(msg))
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h *APIHandler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	chatID := r.PathValue("id")

	err := h.store.DeleteSession(r.Context(), chatID, ownerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "chat not found")
		return
	case err != nil:
		h.logger.Error("failed to delete chat", "chat_id", chatID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}

	h.logger.Info("chat deleted", "chat_id", chatID, "owner_id", ownerID)
	w.WriteHeader(http.StatusNoContent)
}

// authorize extracts and verifies the bearer token. On failure it has
// already written the 401 response.
func (h *APIHandler) authorize(w http.ResponseWriter, r *http.Request) (ownerID string, ok bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
		return "", false
	}

	ownerID, err := h.verifier.Verify(token)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return "", false
	}
	return ownerID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
