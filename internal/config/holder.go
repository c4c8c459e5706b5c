package config

import "sync/atomic"

// Holder keeps the active configuration and supports hot reload.
// Get is lock-free so hot paths can read config on every request.
type Holder struct {
	current atomic.Pointer[Config]
	path    string
}

// NewHolder wraps an already-loaded config. path is the YAML file
// used for subsequent Reload calls.
func NewHolder(cfg *Config, path string) *Holder {
	h := &Holder{path: path}
	h.current.Store(cfg)
	return h
}

// Get returns the active configuration.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// Reload re-runs the full load hierarchy from the stored path and
// swaps in the result. On any load or validation error the previous
// configuration stays active.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}
