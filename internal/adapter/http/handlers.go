package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alertforge/alertforge/internal/domain/investigation"
	"github.com/alertforge/alertforge/internal/port/broadcast"
	"github.com/alertforge/alertforge/internal/port/cache"
	"github.com/alertforge/alertforge/internal/port/history"
	"github.com/alertforge/alertforge/internal/service"

	"github.com/alertforge/alertforge/internal/adapter/ws"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB

	defaultListLimit = 50
	maxListLimit     = 200

	interactionTTL     = 10 * time.Minute
	interactionListTTL = 30 * time.Second
)

// HealthDeps holds the probes the health endpoint reports on. Nil probes
// are reported as "disabled".
type HealthDeps struct {
	Postgres func(ctx context.Context) error
	Queue    func() bool
	Runtime  func(ctx context.Context) (bool, error)
}

// Handlers bundles the HTTP handlers with their dependencies.
type Handlers struct {
	investigations *service.InvestigationService
	history        history.Store
	cache          cache.Cache
	hub            broadcast.Broadcaster
	health         HealthDeps
	log            *slog.Logger
}

// NewHandlers constructs the handler set. cache and hub may be nil.
func NewHandlers(
	investigations *service.InvestigationService,
	historyStore history.Store,
	c cache.Cache,
	hub broadcast.Broadcaster,
	health HealthDeps,
	log *slog.Logger,
) *Handlers {
	return &Handlers{
		investigations: investigations,
		history:        historyStore,
		cache:          c,
		hub:            hub,
		health:         health,
		log:            log,
	}
}

// StartInvestigation starts an investigation for the posted alert and
// streams progress as Server-Sent Events until the terminal event. Closing
// the request aborts the investigation.
func (h *Handlers) StartInvestigation(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[investigation.StartRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, inv, err := h.investigations.Investigate(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "failed to start investigation")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// First frame identifies the investigation so clients can correlate
	// the stream with status broadcasts.
	h.writeSSE(w, "investigation", map[string]string{
		"investigation_id": inv.ID,
		"conversation_id":  inv.ConversationID,
	})
	flusher.Flush()

	for ev := range events {
		h.writeSSE(w, string(ev.Type), ev.Payload)
		flusher.Flush()

		if h.hub != nil {
			h.hub.BroadcastEvent(r.Context(), ws.EventInvestigationStep, ws.InvestigationStepEvent{
				InvestigationID: inv.ID,
				EventType:       string(ev.Type),
				Payload:         ev.Payload,
			})
		}
	}
}

func (h *Handlers) writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal sse payload", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		h.log.Debug("sse write failed, client gone", "error", err)
	}
}

// GetInvestigation returns the in-flight state of an active investigation.
func (h *Handlers) GetInvestigation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	inv, ok := h.investigations.Active(id)
	if !ok {
		writeError(w, http.StatusNotFound, "investigation not found or already finished")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// ListInteractions returns the most recent completed investigations.
func (h *Handlers) ListInteractions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	cacheKey := "interactions:recent:" + strconv.Itoa(limit)
	if data, ok := h.cacheGet(r.Context(), cacheKey); ok {
		writeRawJSON(w, http.StatusOK, data)
		return
	}

	interactions, err := h.history.ListInteractions(r.Context(), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	h.cachePut(r.Context(), cacheKey, interactions, interactionListTTL)
	writeJSON(w, http.StatusOK, interactions)
}

// GetInteraction returns one completed investigation by ID.
func (h *Handlers) GetInteraction(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	cacheKey := "interaction:" + id
	if data, ok := h.cacheGet(r.Context(), cacheKey); ok {
		writeRawJSON(w, http.StatusOK, data)
		return
	}

	interaction, err := h.history.GetInteraction(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "interaction not found")
		return
	}

	// Interactions are immutable once written, so a long TTL is safe.
	h.cachePut(r.Context(), cacheKey, interaction, interactionTTL)
	writeJSON(w, http.StatusOK, interaction)
}

type healthResponse struct {
	Status               string            `json:"status"`
	Checks               map[string]string `json:"checks"`
	ActiveInvestigations int               `json:"active_investigations"`
}

// Health reports liveness of the service and its dependencies.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:               "ok",
		Checks:               map[string]string{},
		ActiveInvestigations: h.investigations.ActiveCount(),
	}

	check := func(name string, err error) {
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
		} else {
			resp.Checks[name] = "ok"
		}
	}

	if h.health.Postgres != nil {
		check("postgres", h.health.Postgres(ctx))
	} else {
		resp.Checks["postgres"] = "disabled"
	}

	if h.health.Queue != nil {
		if h.health.Queue() {
			resp.Checks["nats"] = "ok"
		} else {
			resp.Checks["nats"] = "disconnected"
			resp.Status = "degraded"
		}
	} else {
		resp.Checks["nats"] = "disabled"
	}

	if h.health.Runtime != nil {
		healthy, err := h.health.Runtime(ctx)
		switch {
		case err != nil:
			check("agent_runtime", err)
		case !healthy:
			resp.Checks["agent_runtime"] = "unhealthy"
			resp.Status = "degraded"
		default:
			resp.Checks["agent_runtime"] = "ok"
		}
	} else {
		resp.Checks["agent_runtime"] = "disabled"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handlers) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	data, ok, err := h.cache.Get(ctx, key)
	if err != nil {
		h.log.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	return data, ok
}

func (h *Handlers) cachePut(ctx context.Context, key string, v any, ttl time.Duration) {
	if h.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, key, data, ttl); err != nil {
		h.log.Warn("cache set failed", "key", key, "error", err)
	}
}
