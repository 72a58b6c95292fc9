// ABOUTME: HTTP client for the upstream conversational agent runtime
// ABOUTME: Decodes a newline-delimited JSON event stream into the Event union

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Maximum size of a single stream frame. Answer fragments are small;
// anything bigger is a broken upstream.
const maxFrameBytes = 1 << 20

// Client invokes the remote agent over HTTP and streams its events.
// The agent keeps conversational memory keyed by session ID, so the
// same session must never have two invocations in flight.
type Client struct {
	endpoint     string
	agentID      string
	agentAliasID string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient creates an agent client for the given endpoint. An empty
// endpoint or agent ID yields an unconfigured client; callers should
// check Configured and fall back to a canned responder.
func NewClient(endpoint, agentID, agentAliasID string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		endpoint:     endpoint,
		agentID:      agentID,
		agentAliasID: agentAliasID,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       slog.Default().With("component", "agent-client"),
	}
}

// Configured reports whether an endpoint and agent ID are set
func (c *Client) Configured() bool {
	return c.endpoint != "" && c.agentID != ""
}

// invokeRequest is the JSON body sent to the agent endpoint
type invokeRequest struct {
	SessionID         string            `json:"sessionId"`
	InputText         string            `json:"inputText"`
	AgentID           string            `json:"agentId"`
	AgentAliasID      string            `json:"agentAliasId,omitempty"`
	SessionAttributes map[string]string `json:"sessionAttributes,omitempty"`
}

// streamFrame is one newline-delimited JSON event from the agent
type streamFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Operation string `json:"operation,omitempty"`
	Succeeded bool   `json:"succeeded,omitempty"`
	Data      string `json:"data,omitempty"` // base64-encoded chunk bytes
	Message   string `json:"message,omitempty"`
}

// Invoke starts one agent turn and streams its events. The request
// itself runs inside the stream goroutine, so connection failures
// arrive as Failure events like every other transport error.
func (c *Client) Invoke(ctx context.Context, sessionID, prompt string, attrs map[string]string) (<-chan Event, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("agent client not configured")
	}

	events := make(chan Event)
	go c.stream(ctx, sessionID, prompt, attrs, events)
	return events, nil
}

func (c *Client) stream(ctx context.Context, sessionID, prompt string, attrs map[string]string, events chan<- Event) {
	defer close(events)

	fail := func(msg string) {
		c.logger.Warn("agent invocation failed", "session_id", sessionID, "error", msg)
		select {
		case events <- Event{Failure: &Failure{Message: msg}}:
		case <-ctx.Done():
		}
	}

	body, err := json.Marshal(invokeRequest{
		SessionID:         sessionID,
		InputText:         prompt,
		AgentID:           c.agentID,
		AgentAliasID:      c.agentAliasID,
		SessionAttributes: attrs,
	})
	if err != nil {
		fail(fmt.Sprintf("encoding request: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		fail(fmt.Sprintf("building request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		fail(fmt.Sprintf("contacting agent: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fail(fmt.Sprintf("agent returned status %d", resp.StatusCode))
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var frame streamFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			fail(fmt.Sprintf("malformed event frame: %v", err))
			return
		}

		event, terminal, err := c.convertFrame(&frame)
		if err != nil {
			fail(err.Error())
			return
		}
		if terminal {
			if event != nil {
				// Terminal error frame from the agent
				select {
				case events <- *event:
				case <-ctx.Done():
				}
			}
			return
		}

		select {
		case events <- *event:
		case <-ctx.Done():
			fail("invocation canceled")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		fail(fmt.Sprintf("reading agent stream: %v", err))
		return
	}

	// The stream ended without an explicit terminal frame. Downstream
	// consumers rely on seeing a terminating event, so synthesize one.
	fail("agent stream ended unexpectedly")
}

// convertFrame maps a wire frame to an Event. terminal is true for
// "end" (event nil) and "error" (event is the Failure). Unrecognized
// frame types become a variant-less Event so new upstream event kinds
// degrade to generic narration instead of failing the turn.
func (c *Client) convertFrame(frame *streamFrame) (event *Event, terminal bool, err error) {
	switch frame.Type {
	case "reasoning":
		return &Event{Reasoning: &Reasoning{Text: frame.Text}}, false, nil
	case "tool":
		return &Event{ToolInvocation: &ToolInvocation{
			Tool:      frame.Tool,
			Operation: frame.Operation,
		}}, false, nil
	case "tool_result":
		return &Event{ToolResult: &ToolResult{
			Tool:      frame.Tool,
			Succeeded: frame.Succeeded,
		}}, false, nil
	case "chunk":
		data, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			return nil, false, fmt.Errorf("decoding chunk data: %v", err)
		}
		return &Event{Chunk: &Chunk{Data: data}}, false, nil
	case "error":
		msg := frame.Message
		if msg == "" {
			msg = "agent reported an error"
		}
		return &Event{Failure: &Failure{Message: msg}}, true, nil
	case "end":
		return nil, true, nil
	default:
		c.logger.Debug("unknown agent event type", "type", frame.Type)
		return &Event{}, false, nil
	}
}
