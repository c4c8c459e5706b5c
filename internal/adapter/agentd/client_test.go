package agentd_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alertforge/alertforge/internal/adapter/agentd"
	"github.com/alertforge/alertforge/internal/port/agentruntime"
)

func TestOpenConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/conversations" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}

		var body struct {
			Functions []struct {
				Name string `json:"name"`
			} `json:"functions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.Functions) != 1 || body.Functions[0].Name != "create_ticket" {
			t.Fatalf("unexpected functions: %+v", body.Functions)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"conv-42"}`))
	}))
	defer srv.Close()

	client := agentd.NewClient(srv.URL, "test-key")
	id, err := client.OpenConversation(context.Background(), []agentruntime.LocalFunction{
		{Name: "create_ticket", Handler: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}},
	})
	if err != nil {
		t.Fatalf("OpenConversation failed: %v", err)
	}
	if id != "conv-42" {
		t.Fatalf("expected conv-42, got %q", id)
	}
}

func TestSubmitSendsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/conversations/conv-1/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := agentd.NewClient(srv.URL, "test-key")
	if err := client.Submit(context.Background(), "conv-1", "disk alert"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
}

func TestListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/conversations/conv-1/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"messages":[{"role":"user","text":"alert"},{"role":"assistant","text":"diagnosis"}]}`))
	}))
	defer srv.Close()

	client := agentd.NewClient(srv.URL, "")
	msgs, err := client.ListMessages(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Role != agentruntime.RoleAssistant || msgs[1].Text != "diagnosis" {
		t.Fatalf("unexpected last message: %+v", msgs[1])
	}
}

// recordingSink collects step notifications for assertions.
type recordingSink struct {
	mu        sync.Mutex
	started   []string
	completed []agentruntime.CompletedStep
}

func (s *recordingSink) StepStarted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, id)
}

func (s *recordingSink) StepCompleted(step agentruntime.CompletedStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, step)
}

func TestDrainStreaming(t *testing.T) {
	var (
		mu         sync.Mutex
		callResult []byte
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/conversations", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"conv-9"}`))
	})
	mux.HandleFunc("/v1/conversations/conv-9/calls/call-1/result", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		callResult = body
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/v1/conversations/conv-9/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			"event: step_start\ndata: {\"step_id\":\"s1\"}\n\n",
			"event: function_call\ndata: {\"call_id\":\"call-1\",\"name\":\"create_ticket\",\"arguments\":{\"severity\":\"high\"}}\n\n",
			"event: step_complete\ndata: {\"step_id\":\"s1\",\"tool_calls\":[{\"id\":\"tc1\",\"function\":\"create_ticket\",\"arguments\":\"{\\\"severity\\\":\\\"high\\\"}\"}]}\n\n",
			"event: run_complete\ndata: {}\n\n",
		}
		for _, f := range frames {
			_, _ = fmt.Fprint(w, f)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var handlerCalled bool
	client := agentd.NewClient(srv.URL, "")
	_, err := client.OpenConversation(context.Background(), []agentruntime.LocalFunction{
		{Name: "create_ticket", Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			handlerCalled = true
			if !strings.Contains(string(args), "high") {
				t.Errorf("unexpected arguments: %s", args)
			}
			return json.RawMessage(`{"ticket":"INC-1"}`), nil
		}},
	})
	if err != nil {
		t.Fatalf("OpenConversation failed: %v", err)
	}

	sink := &recordingSink{}
	if err := client.DrainStreaming(context.Background(), "conv-9", sink); err != nil {
		t.Fatalf("DrainStreaming failed: %v", err)
	}

	if !handlerCalled {
		t.Fatal("local function handler was not called")
	}

	mu.Lock()
	gotResult := string(callResult)
	mu.Unlock()
	if !strings.Contains(gotResult, "INC-1") {
		t.Errorf("posted result = %q, want ticket output", gotResult)
	}

	if len(sink.started) != 1 || sink.started[0] != "s1" {
		t.Fatalf("started = %v, want [s1]", sink.started)
	}
	if len(sink.completed) != 1 {
		t.Fatalf("completed = %d steps, want 1", len(sink.completed))
	}
	step := sink.completed[0]
	if step.Failed {
		t.Error("step unexpectedly failed")
	}
	if len(step.ToolCalls) != 1 || step.ToolCalls[0].Function != "create_ticket" {
		t.Fatalf("unexpected tool calls: %+v", step.ToolCalls)
	}
}

func TestDrainStreamingMultilineData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/conversations/conv-4/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// One frame's payload split over several data lines.
		_, _ = fmt.Fprint(w, "event: step_start\ndata: {\"step_id\":\"s1\"}\n\n")
		_, _ = fmt.Fprint(w, "event: step_complete\n"+
			"data: {\"step_id\":\"s1\",\n"+
			"data: \"failed\":true,\n"+
			"data: \"failure_reason\":\"query timeout\"}\n\n")
		_, _ = fmt.Fprint(w, "event: run_complete\ndata: {}\n\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := agentd.NewClient(srv.URL, "")
	sink := &recordingSink{}
	if err := client.DrainStreaming(context.Background(), "conv-4", sink); err != nil {
		t.Fatalf("DrainStreaming failed: %v", err)
	}

	if len(sink.completed) != 1 {
		t.Fatalf("completed = %d steps, want 1", len(sink.completed))
	}
	step := sink.completed[0]
	if !step.Failed {
		t.Error("expected failed step")
	}
	if step.FailureReason != "query timeout" {
		t.Errorf("failure reason = %q, want %q", step.FailureReason, "query timeout")
	}
}

func TestDrainStreamingRunFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/conversations/conv-2/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "event: run_failed\ndata: {\"error\":\"remote agent crashed\"}\n\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := agentd.NewClient(srv.URL, "")
	err := client.DrainStreaming(context.Background(), "conv-2", &recordingSink{})
	if err == nil {
		t.Fatal("expected error from failed run")
	}
	if !strings.Contains(err.Error(), "remote agent crashed") {
		t.Fatalf("error = %v, want remote agent crashed", err)
	}
}

func TestDrainStreamingTruncatedStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/conversations/conv-3/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "event: step_start\ndata: {\"step_id\":\"s1\"}\n\n")
		// Connection ends without run_complete or run_failed.
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := agentd.NewClient(srv.URL, "")
	err := client.DrainStreaming(context.Background(), "conv-3", &recordingSink{})
	if err == nil {
		t.Fatal("expected error from truncated stream")
	}
}
