// ABOUTME: Raw agent event union and the Invoker interface
// ABOUTME: One invocation yields one ordered stream of events ending in close or Failure

package agent

import "context"

// Event is a single raw event from one agent invocation. Exactly one
// variant field is non-nil. The channel closing is the normal end of
// stream; Failure is the single failure path for every transport and
// agent error, so consumers have one terminal-error shape regardless
// of cause.
type Event struct {
	Reasoning      *Reasoning
	ToolInvocation *ToolInvocation
	ToolResult     *ToolResult
	Chunk          *Chunk
	Failure        *Failure
}

// Reasoning is the agent narrating its own thinking
type Reasoning struct {
	Text string
}

// ToolInvocation is the agent calling out to an external capability
type ToolInvocation struct {
	Tool      string
	Operation string
}

// ToolResult is the outcome of a prior tool invocation
type ToolResult struct {
	Tool      string
	Succeeded bool
}

// Chunk is a fragment of the agent's final answer text
type Chunk struct {
	Data []byte
}

// Failure is a fatal error signal; no further events follow it
type Failure struct {
	Message string
}

// Invoker drives one turn against a conversational agent. The returned
// channel carries the invocation's ordered event stream and is always
// closed after the final event. Every error after Invoke returns is
// delivered as a Failure event, never dropped, so the stream always
// terminates visibly.
type Invoker interface {
	Invoke(ctx context.Context, sessionID, prompt string, attrs map[string]string) (<-chan Event, error)
}
