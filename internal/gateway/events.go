// ABOUTME: Wire-level JSON message types exchanged with websocket clients
// ABOUTME: Inbound turn requests and the tagged outbound event vocabulary

package gateway

import (
	"time"

	"github.com/closetly/closet-gateway/internal/store"
)

// turnRequest is the inbound chat turn message from a client
type turnRequest struct {
	Action           string `json:"action"`
	Message          string `json:"message"`
	ChatID           string `json:"chatId,omitempty"`
	Token            string `json:"token"`
	UseVirtualCloset bool   `json:"useVirtualCloset,omitempty"`
}

// wireMessage is the JSON shape of a persisted chat message
type wireMessage struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func toWireMessage(msg *store.Message) wireMessage {
	return wireMessage{
		MessageID: msg.ID,
		ChatID:    msg.SessionID,
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
}

// Outbound events, tagged by "type"

type sessionCreatedEvent struct {
	Type     string `json:"type"` // "session-created"
	ChatID   string `json:"chatId"`
	ChatName string `json:"chatName"`
}

type userMessageEvent struct {
	Type    string      `json:"type"` // "userMessage"
	Message wireMessage `json:"message"`
}

type thinkingEvent struct {
	Type      string `json:"type"` // "thinking"
	Message   string `json:"message"`
	TraceType string `json:"traceType,omitempty"`
}

type streamStartEvent struct {
	Type string `json:"type"` // "streamStart"
}

type chunkEvent struct {
	Type  string `json:"type"` // "chunk"
	Chunk string `json:"chunk"`
}

type completeEvent struct {
	Type    string      `json:"type"` // "complete"
	Message wireMessage `json:"message"`
}

type errorEvent struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}
