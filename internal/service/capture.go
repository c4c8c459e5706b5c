package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/alertforge/alertforge/internal/port/agentruntime"
)

// CaptureRegistry caches local-function return values for one investigation.
// The runtime auto-executes registered functions and forwards their output to
// the remote conversation only, so the output must be recorded here before
// the translator can observe it.
//
// Each investigation owns its own registry; sharing one across concurrent
// investigations would let runs clobber each other's captured output.
type CaptureRegistry struct {
	mu      sync.Mutex
	outputs map[string]json.RawMessage
}

// NewCaptureRegistry creates an empty registry.
func NewCaptureRegistry() *CaptureRegistry {
	return &CaptureRegistry{outputs: make(map[string]json.RawMessage)}
}

// Wrap returns fn with its handler instrumented to record the return value,
// keyed by function name, before handing it back to the runtime.
func (r *CaptureRegistry) Wrap(fn agentruntime.LocalFunction) agentruntime.LocalFunction {
	inner := fn.Handler
	name := fn.Name
	fn.Handler = func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		out, err := inner(ctx, args)
		if err == nil {
			r.record(name, out)
		}
		return out, err
	}
	return fn
}

// WrapAll wraps every function in fns.
func (r *CaptureRegistry) WrapAll(fns []agentruntime.LocalFunction) []agentruntime.LocalFunction {
	wrapped := make([]agentruntime.LocalFunction, len(fns))
	for i, fn := range fns {
		wrapped[i] = r.Wrap(fn)
	}
	return wrapped
}

// Output returns the most recently captured return value for the named
// function.
func (r *CaptureRegistry) Output(name string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.outputs[name]
	return out, ok
}

func (r *CaptureRegistry) record(name string, out json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = out
}
