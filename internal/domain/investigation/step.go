package investigation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxFieldLen bounds the query and reasoning fields of a StepRecord. Remote
// agents echo arbitrarily large payloads back into tool-call arguments; every
// stream event must stay bounded regardless.
const MaxFieldLen = 500

// Ellipsis marks a truncated field. A single rune, so a truncated field
// never exceeds MaxFieldLen+1 characters.
const Ellipsis = "…"

// Reasoning annotation delimiters. The orchestrating agent wraps its rationale
// in these markers inside tool-call arguments and the final analysis; the
// block is surfaced as StepRecord.Reasoning and stripped from the query text.
const (
	ReasoningOpen  = "<reasoning>"
	ReasoningClose = "</reasoning>"
)

// StepRecord is the caller-visible summary of one resolved tool call.
// Step numbers are 1-based and monotonic within a single run attempt; a retry
// restarts numbering at 1.
type StepRecord struct {
	Step          int             `json:"step"`
	Agent         string          `json:"agent"`
	Duration      string          `json:"duration"`
	Query         string          `json:"query"`
	Response      string          `json:"response,omitempty"`
	Reasoning     string          `json:"reasoning,omitempty"`
	Visualization json.RawMessage `json:"visualization,omitempty"`
	Error         bool            `json:"error,omitempty"`
}

// Truncate caps s at MaxFieldLen runes, appending the ellipsis marker when
// anything was cut.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxFieldLen {
		return s
	}
	return string(r[:MaxFieldLen]) + Ellipsis
}

// ExtractReasoning splits text into the visible query and the reasoning
// annotation. If a delimited block is present, its inner text (trimmed) is
// returned as reasoning and the whole block including delimiters is removed
// from the query. Text without a complete block is returned unchanged with an
// empty reasoning.
func ExtractReasoning(text string) (query, reasoning string) {
	start := strings.Index(text, ReasoningOpen)
	if start < 0 {
		return text, ""
	}
	rest := text[start+len(ReasoningOpen):]
	end := strings.Index(rest, ReasoningClose)
	if end < 0 {
		return text, ""
	}
	reasoning = strings.TrimSpace(rest[:end])
	query = text[:start] + rest[end+len(ReasoningClose):]
	return strings.TrimSpace(query), reasoning
}

// StripReasoning removes every reasoning block from text, delimiters included.
// Used on the final diagnosis before it is emitted to the caller.
func StripReasoning(text string) string {
	for {
		start := strings.Index(text, ReasoningOpen)
		if start < 0 {
			return strings.TrimSpace(text)
		}
		rest := text[start+len(ReasoningOpen):]
		end := strings.Index(rest, ReasoningClose)
		if end < 0 {
			return strings.TrimSpace(text)
		}
		text = text[:start] + rest[end+len(ReasoningClose):]
	}
}

// FormatDuration renders a wall-clock step duration to one decimal second,
// e.g. "2.3s".
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
