package investigation_test

import (
	"testing"

	"github.com/alertforge/alertforge/internal/domain/investigation"
)

func TestDisplayAgent(t *testing.T) {
	tests := []struct {
		name string
		call investigation.ToolCall
		want string
	}{
		{
			name: "agent call",
			call: investigation.ToolCall{Kind: investigation.CallKindAgent, Agent: "metrics"},
			want: "metrics",
		},
		{
			name: "function call",
			call: investigation.ToolCall{Kind: investigation.CallKindFunction, Function: "create_ticket"},
			want: "create_ticket",
		},
		{
			name: "search call",
			call: investigation.ToolCall{Kind: investigation.CallKindSearch},
			want: investigation.SearchAgentLabel,
		},
		{
			name: "unknown kind falls back to agent field",
			call: investigation.ToolCall{Kind: "other", Agent: "fallback"},
			want: "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.call.DisplayAgent(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrapArgument(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"single string key", `{"query": "error rate"}`, "error rate"},
		{"single non-string key", `{"limit": 10}`, "10"},
		{"two keys unchanged", `{"query":"a","window":"5m"}`, `{"query":"a","window":"5m"}`},
		{"empty object unchanged", `{}`, `{}`},
		{"array unchanged", `["a","b"]`, `["a","b"]`},
		{"plain text unchanged", "not json at all", "not json at all"},
		{"nested single key", `{"filter": {"service": "api"}}`, `{"service": "api"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := investigation.UnwrapArgument(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStartRequestValidate(t *testing.T) {
	req := investigation.StartRequest{Alert: "disk full on db-01"}
	if err := req.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	req = investigation.StartRequest{}
	if err := req.Validate(); err == nil {
		t.Error("empty alert should be rejected")
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []investigation.Status{
		investigation.StatusPending,
		investigation.StatusRunning,
		investigation.StatusCompleted,
		investigation.StatusFailed,
		investigation.StatusCancelled,
	} {
		if !investigation.ValidStatus(s) {
			t.Errorf("%q should be valid", s)
		}
	}
	if investigation.ValidStatus("paused") {
		t.Error("unknown status accepted")
	}
}
