package agentd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alertforge/alertforge/internal/domain/investigation"
	"github.com/alertforge/alertforge/internal/port/agentruntime"
)

// Stream event names on the agentd SSE wire.
const (
	sseStepStart    = "step_start"
	sseStepComplete = "step_complete"
	sseFunctionCall = "function_call"
	sseRunComplete  = "run_complete"
	sseRunFailed    = "run_failed"
)

type stepCompleteFrame struct {
	StepID        string         `json:"step_id"`
	Failed        bool           `json:"failed"`
	FailureReason string         `json:"failure_reason,omitempty"`
	ToolCalls     []toolCallWire `json:"tool_calls"`
}

type toolCallWire struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Agent     string `json:"agent,omitempty"`
	Function  string `json:"function,omitempty"`
	Arguments string `json:"arguments"`
	Response  string `json:"response,omitempty"`
}

type functionCallFrame struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// DrainStreaming drives the conversation's current run to completion,
// delivering step notifications to sink in arrival order. Function-call
// frames are executed in-process through the registered local functions and
// their results posted back before the run can proceed.
func (c *Client) DrainStreaming(ctx context.Context, conversationID string, sink agentruntime.StepSink) error {
	url := fmt.Sprintf("%s/v1/conversations/%s/stream", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// The drain can outlive any fixed timeout; lifetime is bounded by ctx.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("agentd stream error %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			// Consecutive data lines of one frame join with a newline.
			if data != "" {
				data += "\n"
			}
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event == "" {
				continue
			}
			done, err := c.dispatch(ctx, conversationID, event, []byte(data), sink)
			if err != nil || done {
				return err
			}
			event, data = "", ""
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream ended without a terminal run event")
}

// dispatch handles one SSE frame. It returns done=true on a terminal frame.
func (c *Client) dispatch(ctx context.Context, conversationID, event string, data []byte, sink agentruntime.StepSink) (bool, error) {
	switch event {
	case sseStepStart:
		var frame struct {
			StepID string `json:"step_id"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return false, fmt.Errorf("unmarshal step_start: %w", err)
		}
		sink.StepStarted(frame.StepID)

	case sseStepComplete:
		var frame stepCompleteFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return false, fmt.Errorf("unmarshal step_complete: %w", err)
		}
		sink.StepCompleted(toCompletedStep(frame))

	case sseFunctionCall:
		var frame functionCallFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return false, fmt.Errorf("unmarshal function_call: %w", err)
		}
		if err := c.executeFunction(ctx, conversationID, frame); err != nil {
			return false, err
		}

	case sseRunComplete:
		return true, nil

	case sseRunFailed:
		var frame struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return true, fmt.Errorf("run failed")
		}
		return true, fmt.Errorf("run failed: %s", frame.Error)

	default:
		slog.Debug("ignoring unknown stream event", "event", event)
	}
	return false, nil
}

// executeFunction runs a registered local function and posts its result back
// so the remote run can continue. An unregistered name or a handler error is
// reported to the runtime rather than failing the drain; the remote agent
// decides how to proceed without the result.
func (c *Client) executeFunction(ctx context.Context, conversationID string, frame functionCallFrame) error {
	resultPath := fmt.Sprintf("/v1/conversations/%s/calls/%s/result", conversationID, frame.CallID)

	c.mu.Lock()
	fn, ok := c.functions[conversationID][frame.Name]
	c.mu.Unlock()
	if !ok {
		slog.Warn("function call for unregistered function", "function", frame.Name)
		body, _ := json.Marshal(map[string]string{"error": "unknown function: " + frame.Name})
		_, err := c.doRequest(ctx, http.MethodPost, resultPath, body)
		return err
	}

	out, err := fn.Handler(ctx, frame.Arguments)
	if err != nil {
		body, _ := json.Marshal(map[string]string{"error": err.Error()})
		_, postErr := c.doRequest(ctx, http.MethodPost, resultPath, body)
		return postErr
	}

	body, err := json.Marshal(map[string]json.RawMessage{"output": out})
	if err != nil {
		return fmt.Errorf("marshal function result: %w", err)
	}
	if _, err := c.doRequest(ctx, http.MethodPost, resultPath, body); err != nil {
		return fmt.Errorf("post function result: %w", err)
	}
	return nil
}

func toCompletedStep(frame stepCompleteFrame) agentruntime.CompletedStep {
	calls := make([]investigation.ToolCall, 0, len(frame.ToolCalls))
	for _, w := range frame.ToolCalls {
		calls = append(calls, investigation.ToolCall{
			ID:        w.ID,
			Kind:      callKind(w),
			Agent:     w.Agent,
			Function:  w.Function,
			Arguments: w.Arguments,
			Response:  w.Response,
		})
	}
	return agentruntime.CompletedStep{
		ID:            frame.StepID,
		Failed:        frame.Failed,
		FailureReason: frame.FailureReason,
		ToolCalls:     calls,
	}
}

// callKind maps a wire variant onto the closed CallKind set. Frames with no
// explicit kind are classified by shape: a function name means a local
// function, an agent name a delegated call, neither a managed search.
func callKind(w toolCallWire) investigation.CallKind {
	switch investigation.CallKind(w.Kind) {
	case investigation.CallKindAgent, investigation.CallKindFunction, investigation.CallKindSearch:
		return investigation.CallKind(w.Kind)
	}
	switch {
	case w.Function != "":
		return investigation.CallKindFunction
	case w.Agent != "":
		return investigation.CallKindAgent
	}
	return investigation.CallKindSearch
}
