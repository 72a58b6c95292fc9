// ABOUTME: Tests for the fallback responder's deterministic event stream
// ABOUTME: Verifies event-kind ordering and idempotence across invocations

package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventKinds(events []Event) []string {
	var kinds []string
	for _, ev := range events {
		switch {
		case ev.Reasoning != nil:
			kinds = append(kinds, "reasoning")
		case ev.Chunk != nil:
			kinds = append(kinds, "chunk")
		case ev.Failure != nil:
			kinds = append(kinds, "failure")
		default:
			kinds = append(kinds, "unknown")
		}
	}
	return kinds
}

func TestFallbackInvoke_EventSequence(t *testing.T) {
	fallback := NewFallback(0)
	events, err := fallback.Invoke(context.Background(), "session-1", "anything", nil)
	require.NoError(t, err)

	got := collectEvents(t, events)
	kinds := eventKinds(got)

	// Reasoning steps first, then only chunks, never a failure
	require.Greater(t, len(kinds), len(fallbackSteps))
	for i := range fallbackSteps {
		assert.Equal(t, "reasoning", kinds[i])
	}
	for _, kind := range kinds[len(fallbackSteps):] {
		assert.Equal(t, "chunk", kind)
	}
}

func TestFallbackInvoke_ChunksReassembleNotice(t *testing.T) {
	fallback := NewFallback(0)
	events, err := fallback.Invoke(context.Background(), "session-1", "anything", nil)
	require.NoError(t, err)

	var sb strings.Builder
	for _, ev := range collectEvents(t, events) {
		if ev.Chunk != nil {
			sb.Write(ev.Chunk.Data)
		}
	}

	assert.Equal(t, fallbackNotice, strings.TrimSpace(sb.String()))
}

func TestFallbackInvoke_Idempotent(t *testing.T) {
	fallback := NewFallback(0)

	var runs [][]string
	for i := 0; i < 3; i++ {
		events, err := fallback.Invoke(context.Background(), "session-1", "same input", nil)
		require.NoError(t, err)
		runs = append(runs, eventKinds(collectEvents(t, events)))
	}

	assert.Equal(t, runs[0], runs[1])
	assert.Equal(t, runs[1], runs[2])
}

func TestFallbackInvoke_CancelStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fallback := NewFallback(0)
	events, err := fallback.Invoke(ctx, "session-1", "anything", nil)
	require.NoError(t, err)

	// Channel must still close; a canceled turn may be truncated but
	// never hangs.
	got := collectEvents(t, events)
	assert.LessOrEqual(t, len(got), 1)
}
