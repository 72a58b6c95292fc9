// ABOUTME: Canned responder used when no upstream agent is configured
// ABOUTME: Emits the same event vocabulary as a live agent so downstream logic is identical

package agent

import (
	"context"
	"strings"
	"time"
)

// fallbackSteps are narrated before the canned answer streams
var fallbackSteps = []string{
	"Step 1: Analyzing your request...",
	"Step 2: Processing context...",
	"Step 3: Formulating response...",
}

const fallbackNotice = "The styling assistant is not fully set up yet, so this is a placeholder reply. " +
	"Your message was saved and will be part of this chat's history."

// Fallback emits a fixed response through the normal event stream.
// Structurally indistinguishable from a live agent invocation, which
// keeps the dispatcher and translator agent-agnostic.
type Fallback struct {
	// ChunkDelay paces the word-by-word stream. Zero means no delay.
	ChunkDelay time.Duration
}

// NewFallback creates a fallback responder with the given pacing
func NewFallback(chunkDelay time.Duration) *Fallback {
	return &Fallback{ChunkDelay: chunkDelay}
}

// Invoke emits the canned reasoning steps and notice text, then closes.
// The event-kind sequence is deterministic for any input.
func (f *Fallback) Invoke(ctx context.Context, sessionID, prompt string, attrs map[string]string) (<-chan Event, error) {
	events := make(chan Event)

	go func() {
		defer close(events)

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, step := range fallbackSteps {
			if !send(Event{Reasoning: &Reasoning{Text: step}}) {
				return
			}
			if !f.pause(ctx) {
				return
			}
		}

		for _, word := range strings.Split(fallbackNotice, " ") {
			if !send(Event{Chunk: &Chunk{Data: []byte(word + " ")}}) {
				return
			}
			if !f.pause(ctx) {
				return
			}
		}
	}()

	return events, nil
}

func (f *Fallback) pause(ctx context.Context) bool {
	if f.ChunkDelay <= 0 {
		return true
	}
	select {
	case <-time.After(f.ChunkDelay):
		return true
	case <-ctx.Done():
		return false
	}
}
