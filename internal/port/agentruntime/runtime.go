// Package agentruntime defines the port for the remote agent conversation runtime.
package agentruntime

import (
	"context"
	"encoding/json"

	"github.com/alertforge/alertforge/internal/domain/investigation"
)

// Message roles in a conversation transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation transcript, ordered oldest first.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// CompletedStep is the notification delivered when the runtime finishes one
// run step. A step may carry zero or more tool calls; a failed step still
// reports whatever tool calls it resolved.
type CompletedStep struct {
	ID            string
	Failed        bool
	FailureReason string
	ToolCalls     []investigation.ToolCall
}

// StepSink receives step-lifecycle notifications during a streaming drain.
// Calls arrive in order on the runtime's delivery goroutine; implementations
// must not block indefinitely.
type StepSink interface {
	// StepStarted fires when the runtime begins resolving a step.
	StepStarted(stepID string)
	// StepCompleted fires when a step finishes, success or failure.
	StepCompleted(step CompletedStep)
}

// LocalFunction is a capability executed in-process by the runtime client.
// The runtime forwards the handler's output to the remote conversation only;
// callers that need the output must wrap the handler to capture it.
type LocalFunction struct {
	Name    string
	Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Runtime is the port interface for the remote conversation runtime.
type Runtime interface {
	// OpenConversation creates a conversation with the given local functions
	// registered and returns its opaque handle.
	OpenConversation(ctx context.Context, fns []LocalFunction) (string, error)

	// Submit appends a user message to the conversation.
	Submit(ctx context.Context, conversationID, text string) error

	// DrainStreaming drives the conversation's current run to completion,
	// delivering step notifications to sink in call order. It blocks until
	// the run finishes, the context is cancelled, or the runtime fails.
	DrainStreaming(ctx context.Context, conversationID string, sink StepSink) error

	// ListMessages returns the full ordered conversation transcript.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	// Release frees the conversation handle. Idempotent.
	Release(ctx context.Context, conversationID string) error
}
