package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	// EventInvestigationStatus is broadcast on every investigation
	// lifecycle transition.
	EventInvestigationStatus = "investigation.status"
	// EventInvestigationStep mirrors caller-facing step events so observer
	// dashboards can follow investigations they did not start.
	EventInvestigationStep = "investigation.step"
)

// InvestigationStatusEvent is broadcast when an investigation's status changes.
type InvestigationStatusEvent struct {
	InvestigationID string `json:"investigation_id"`
	Status          string `json:"status"`
	Attempt         int    `json:"attempt"`
	Error           string `json:"error,omitempty"`
}

// InvestigationStepEvent carries one stream event for observers.
type InvestigationStepEvent struct {
	InvestigationID string `json:"investigation_id"`
	EventType       string `json:"event_type"`
	Payload         any    `json:"payload,omitempty"`
}

// BroadcastEvent marshals a typed event and broadcasts it to all clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
