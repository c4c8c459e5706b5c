// Package stream defines the wire-level events emitted to investigation clients.
package stream

import (
	"encoding/json"

	"github.com/alertforge/alertforge/internal/domain/investigation"
)

// Type identifies the kind of stream event.
type Type string

const (
	TypeStepStart      Type = "step_start"
	TypeStepComplete   Type = "step_complete"
	TypeActionExecuted Type = "action_executed"
	TypeMessage        Type = "message"
	TypeError          Type = "error"
	TypeRetryReset     Type = "retry_reset"
)

// Event is the tagged union delivered to the stream consumer. Payload holds
// one of the payload structs below matching Type.
type Event struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == TypeMessage || e.Type == TypeError
}

// StepStartPayload announces that a step began resolving.
type StepStartPayload struct {
	Step  int    `json:"step"`
	Agent string `json:"agent"`
}

// StepCompletePayload carries the resolved step record.
type StepCompletePayload struct {
	investigation.StepRecord
}

// ActionExecutedPayload reports a side-effecting local-function result,
// distinct from the step record so clients can render it separately.
type ActionExecutedPayload struct {
	Step       int             `json:"step"`
	ActionName string          `json:"action_name"`
	ActionData json.RawMessage `json:"action_data,omitempty"`
}

// MessagePayload is the terminal success event carrying the final diagnosis.
type MessagePayload struct {
	Text string `json:"text"`
}

// ErrorPayload is the terminal failure event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RetryResetPayload instructs the caller to discard step records accumulated
// for the abandoned attempt; the next step_start restarts at 1.
type RetryResetPayload struct{}

// StepStart builds a step_start event.
func StepStart(step int, agent string) Event {
	return Event{Type: TypeStepStart, Payload: StepStartPayload{Step: step, Agent: agent}}
}

// StepComplete builds a step_complete event.
func StepComplete(rec investigation.StepRecord) Event {
	return Event{Type: TypeStepComplete, Payload: StepCompletePayload{StepRecord: rec}}
}

// ActionExecuted builds an action_executed event.
func ActionExecuted(step int, name string, data json.RawMessage) Event {
	return Event{Type: TypeActionExecuted, Payload: ActionExecutedPayload{Step: step, ActionName: name, ActionData: data}}
}

// Message builds the terminal success event.
func Message(text string) Event {
	return Event{Type: TypeMessage, Payload: MessagePayload{Text: text}}
}

// Error builds the terminal failure event.
func Error(message string) Event {
	return Event{Type: TypeError, Payload: ErrorPayload{Message: message}}
}

// RetryReset builds the attempt-reset event.
func RetryReset() Event {
	return Event{Type: TypeRetryReset, Payload: RetryResetPayload{}}
}
