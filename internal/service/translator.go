package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alertforge/alertforge/internal/domain/investigation"
	"github.com/alertforge/alertforge/internal/domain/stream"
	"github.com/alertforge/alertforge/internal/port/agentruntime"
)

// stepTranslator turns runtime step notifications into caller-facing stream
// events. One translator serves one run attempt's delivery goroutine; the
// mutex only guards against the occasional Reset from the worker.
//
// Numbering is 1-based and assigned per emitted record, not per runtime step:
// a runtime step that resolves three tool calls yields three numbered
// records. Reset rewinds the counter for a fresh attempt.
type stepTranslator struct {
	bridge   *EventBridge
	captures *CaptureRegistry
	log      *slog.Logger

	mu      sync.Mutex
	next    int
	started map[string]time.Time
	records []investigation.StepRecord
}

func newStepTranslator(bridge *EventBridge, captures *CaptureRegistry, log *slog.Logger) *stepTranslator {
	return &stepTranslator{
		bridge:   bridge,
		captures: captures,
		log:      log,
		started:  make(map[string]time.Time),
	}
}

// StepStarted implements agentruntime.StepSink.
func (t *stepTranslator) StepStarted(stepID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started[stepID] = time.Now()
}

// StepCompleted implements agentruntime.StepSink. Each resolved tool call is
// translated into a step_start/step_complete pair; local-function calls
// additionally surface their captured output as an action_executed event.
func (t *stepTranslator) StepCompleted(step agentruntime.CompletedStep) {
	t.mu.Lock()
	defer t.mu.Unlock()

	startedAt, ok := t.started[step.ID]
	if !ok {
		startedAt = time.Now()
	}
	delete(t.started, step.ID)
	duration := investigation.FormatDuration(time.Since(startedAt))

	if step.Failed && len(step.ToolCalls) == 0 {
		t.next++
		rec := investigation.StepRecord{
			Step:     t.next,
			Agent:    investigation.SearchAgentLabel,
			Duration: duration,
			Query:    investigation.Truncate(step.FailureReason),
			Error:    true,
		}
		t.emit(stream.StepStart(rec.Step, rec.Agent))
		t.records = append(t.records, rec)
		t.emit(stream.StepComplete(rec))
		return
	}

	for i := range step.ToolCalls {
		call := &step.ToolCalls[i]
		t.next++

		agent := call.DisplayAgent()
		query, reasoning := investigation.ExtractReasoning(investigation.UnwrapArgument(call.Arguments))

		rec := investigation.StepRecord{
			Step:      t.next,
			Agent:     agent,
			Duration:  duration,
			Query:     investigation.Truncate(query),
			Response:  call.Response,
			Reasoning: investigation.Truncate(reasoning),
			Error:     step.Failed,
		}

		t.emit(stream.StepStart(rec.Step, rec.Agent))

		if call.Kind == investigation.CallKindFunction {
			if out, ok := t.captures.Output(call.Function); ok {
				rec.Visualization = out
				t.emit(stream.ActionExecuted(rec.Step, call.Function, out))
			} else {
				t.log.Warn("no captured output for local function",
					slog.String("function", call.Function),
					slog.String("step_id", step.ID))
			}
		}

		t.records = append(t.records, rec)
		t.emit(stream.StepComplete(rec))
	}
}

// Reset rewinds step numbering and discards accumulated records ahead of a
// retry attempt. Pending start times survive a reset only by accident, so
// they are dropped too.
func (t *stepTranslator) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = 0
	t.records = nil
	t.started = make(map[string]time.Time)
}

// Records returns a copy of the records emitted during the current attempt.
func (t *stepTranslator) Records() []investigation.StepRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]investigation.StepRecord, len(t.records))
	copy(out, t.records)
	return out
}

func (t *stepTranslator) emit(ev stream.Event) {
	if !t.bridge.Submit(context.Background(), ev) {
		t.log.Warn("stream event dropped", slog.String("type", string(ev.Type)))
	}
}
