package investigation

import "encoding/json"

// CallKind discriminates the tool-call variants a run step can carry.
type CallKind string

const (
	// CallKindAgent is a delegated call to a named specialist sub-agent.
	CallKindAgent CallKind = "agent"
	// CallKindFunction is a local function auto-executed by the runtime.
	CallKindFunction CallKind = "function"
	// CallKindSearch is a managed-search call with no agent of its own.
	CallKindSearch CallKind = "search"
)

// SearchAgentLabel is the display name attributed to managed-search calls.
const SearchAgentLabel = "data search"

// ToolCall is a notification that the remote conversation invoked a
// capability during a run step. Exactly one of Agent or Function is set
// depending on Kind; Arguments carries the raw JSON argument payload.
// A ToolCall belongs to exactly one run step and is resolved at most once.
type ToolCall struct {
	ID        string   `json:"id"`
	Kind      CallKind `json:"kind"`
	Agent     string   `json:"agent,omitempty"`
	Function  string   `json:"function,omitempty"`
	Arguments string   `json:"arguments"`
	// Response is the resolved output for delegated-agent and managed-search
	// calls. Local-function outputs are not forwarded back by the runtime and
	// must be recovered through a capture wrapper instead.
	Response string `json:"response,omitempty"`
}

// DisplayAgent resolves the acting-agent name shown to the caller.
func (c *ToolCall) DisplayAgent() string {
	switch c.Kind {
	case CallKindAgent:
		return c.Agent
	case CallKindFunction:
		return c.Function
	case CallKindSearch:
		return SearchAgentLabel
	}
	return c.Agent
}

// UnwrapArgument reduces a single-key JSON object to its bare value. Remote
// agents routinely wrap a scalar argument as {"query": "..."}; exposing the
// raw JSON produces unreadable UI text. Multi-key objects, arrays, and
// non-JSON payloads are returned unchanged.
func UnwrapArgument(raw string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || len(obj) != 1 {
		return raw
	}
	for _, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		return string(v)
	}
	return raw
}
