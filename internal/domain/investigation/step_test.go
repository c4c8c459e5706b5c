package investigation_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alertforge/alertforge/internal/domain/investigation"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short", "hello", "hello"},
		{"empty", "", ""},
		{"exact bound", strings.Repeat("a", investigation.MaxFieldLen), strings.Repeat("a", investigation.MaxFieldLen)},
		{"one over", strings.Repeat("a", investigation.MaxFieldLen+1), strings.Repeat("a", investigation.MaxFieldLen) + investigation.Ellipsis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := investigation.Truncate(tt.input); got != tt.want {
				t.Errorf("Truncate length %d: got length %d", len(tt.input), len(got))
			}
		})
	}
}

func TestTruncateBoundsOversizedInput(t *testing.T) {
	// A pathological remote response must collapse to at most the field
	// bound plus one marker rune.
	got := investigation.Truncate(strings.Repeat("a", 10000))
	if n := utf8.RuneCountInString(got); n != investigation.MaxFieldLen+1 {
		t.Errorf("truncated to %d runes, want %d", n, investigation.MaxFieldLen+1)
	}
	if !strings.HasSuffix(got, investigation.Ellipsis) {
		t.Error("expected truncation marker")
	}
}

func TestTruncateMultibyte(t *testing.T) {
	// Truncation counts runes, never splitting a multibyte character.
	input := strings.Repeat("ü", investigation.MaxFieldLen+10)
	got := investigation.Truncate(input)
	if !strings.HasSuffix(got, investigation.Ellipsis) {
		t.Fatal("expected truncation marker")
	}
	body := strings.TrimSuffix(got, investigation.Ellipsis)
	runes := []rune(body)
	if len(runes) != investigation.MaxFieldLen {
		t.Errorf("kept %d runes, want %d", len(runes), investigation.MaxFieldLen)
	}
	for _, r := range runes {
		if r != 'ü' {
			t.Fatalf("rune corrupted: %q", r)
		}
	}
}

func TestExtractReasoning(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantQuery     string
		wantReasoning string
	}{
		{
			name:          "no block",
			input:         "plain query",
			wantQuery:     "plain query",
			wantReasoning: "",
		},
		{
			name:          "trailing block",
			input:         "query text <reasoning>because of the alert</reasoning>",
			wantQuery:     "query text",
			wantReasoning: "because of the alert",
		},
		{
			name:          "leading block",
			input:         "<reasoning>context first</reasoning> the query",
			wantQuery:     "the query",
			wantReasoning: "context first",
		},
		{
			name:          "unterminated block left intact",
			input:         "query <reasoning>dangling",
			wantQuery:     "query <reasoning>dangling",
			wantReasoning: "",
		},
		{
			name:          "closing tag only",
			input:         "query </reasoning> tail",
			wantQuery:     "query </reasoning> tail",
			wantReasoning: "",
		},
		{
			name:          "empty block",
			input:         "query <reasoning></reasoning>",
			wantQuery:     "query",
			wantReasoning: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, reasoning := investigation.ExtractReasoning(tt.input)
			if query != tt.wantQuery {
				t.Errorf("query = %q, want %q", query, tt.wantQuery)
			}
			if reasoning != tt.wantReasoning {
				t.Errorf("reasoning = %q, want %q", reasoning, tt.wantReasoning)
			}
		})
	}
}

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no block", "final diagnosis", "final diagnosis"},
		{"single block", "<reasoning>thinking</reasoning>diagnosis", "diagnosis"},
		{
			"multiple blocks",
			"<reasoning>a</reasoning>part one <reasoning>b</reasoning>part two",
			"part one part two",
		},
		{"unterminated survives", "text <reasoning>rest", "text <reasoning>rest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := investigation.StripReasoning(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{2300 * time.Millisecond, "2.3s"},
		{0, "0.0s"},
		{time.Minute, "60.0s"},
		{49 * time.Millisecond, "0.0s"},
	}

	for _, tt := range tests {
		if got := investigation.FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
