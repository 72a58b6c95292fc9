// ABOUTME: State machine translating raw agent events into the stable client event stream
// ABOUTME: Narrates reasoning as status text, frames output chunks, and guarantees a terminal event

package translator

import (
	"fmt"
	"strings"

	"github.com/closetly/closet-gateway/internal/agent"
)

// Client-facing event kinds. The vocabulary is fixed; vendor-specific
// agent event shapes never cross this boundary.
const (
	KindStatus      = "status"
	KindStreamStart = "streamStart"
	KindChunk       = "chunk"
	KindComplete    = "complete"
	KindError       = "error"
)

// Trace type tags attached to status events so clients can style the
// narration phases differently.
const (
	TraceInitial     = "initial"
	TraceRationale   = "rationale"
	TraceAction      = "action"
	TraceObservation = "observation"
	TraceError       = "error"
)

// Event is one client-facing event produced by a turn
type Event struct {
	Kind      string
	Text      string // status message, chunk text, or error message
	TraceType string // set on status events only
}

// Outcome summarizes one completed turn. Content is never empty: when
// the agent produced no output a fixed explanatory message is
// substituted so chat history has no blank assistant turns.
type Outcome struct {
	Content string
	Failed  bool
	ErrText string
}

// emptyContentNotice replaces an empty answer so an assistant message
// is never persisted with blank content.
const emptyContentNotice = "I wasn't able to generate a response this time. Please try again."

// failureSuffix is appended to whatever partial output survived a
// failed turn.
const failureSuffix = "\n\n[The response was interrupted by an error. Please try again.]"

// Turn states. The terminal condition is Run returning, not a state:
// Failure and stream end both exit the loop directly.
type state int

const (
	stateAwaitingFirstEvent state = iota
	stateNarrating
	stateStreaming
)

// Run consumes one invocation's raw event stream and emits translated
// events in order through emit. It blocks until the stream terminates
// and always ends with exactly one complete or error event. The
// returned Outcome carries the content to persist for the turn.
func Run(in <-chan agent.Event, emit func(Event)) Outcome {
	emit(Event{Kind: KindStatus, Text: "Processing your request...", TraceType: TraceInitial})

	st := stateAwaitingFirstEvent
	var content strings.Builder

	for raw := range in {
		switch {
		case raw.Chunk != nil:
			if st != stateStreaming {
				// Exactly once per invocation, immediately before the
				// first chunk.
				emit(Event{Kind: KindStreamStart})
				st = stateStreaming
			}
			content.Write(raw.Chunk.Data)
			emit(Event{Kind: KindChunk, Text: string(raw.Chunk.Data)})

		case raw.Failure != nil:
			emit(Event{Kind: KindError, Text: raw.Failure.Message})
			return failedOutcome(content.String(), raw.Failure.Message)

		default:
			// Narration. Suppressed once the answer has started
			// streaming so reasoning text never interleaves with it.
			if st == stateStreaming {
				continue
			}
			text, traceType := narrate(raw)
			emit(Event{Kind: KindStatus, Text: text, TraceType: traceType})
			st = stateNarrating
		}
	}

	// Normal end of stream
	emit(Event{Kind: KindComplete})
	out := content.String()
	if out == "" {
		out = emptyContentNotice
	}
	return Outcome{Content: out}
}

func failedOutcome(partial, errText string) Outcome {
	content := partial
	if content == "" {
		content = emptyContentNotice
	} else {
		content += failureSuffix
	}
	return Outcome{Content: content, Failed: true, ErrText: errText}
}

// narrate maps a raw narration event to human-readable status text.
// Unknown variants get a generic line rather than being dropped, so
// the client still sees progress.
func narrate(raw agent.Event) (text, traceType string) {
	switch {
	case raw.Reasoning != nil:
		if raw.Reasoning.Text == "" {
			return "Thinking...", TraceRationale
		}
		return raw.Reasoning.Text, TraceRationale
	case raw.ToolInvocation != nil:
		tool := raw.ToolInvocation.Tool
		if tool == "" {
			tool = "tool"
		}
		op := raw.ToolInvocation.Operation
		if op == "" {
			op = "function"
		}
		return fmt.Sprintf("Accessing %s: %s...", tool, op), TraceAction
	case raw.ToolResult != nil:
		if !raw.ToolResult.Succeeded {
			return "Encountered an issue, retrying...", TraceError
		}
		return "Retrieved data, formulating response...", TraceObservation
	default:
		return "Working...", TraceRationale
	}
}
