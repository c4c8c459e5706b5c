// Package investigation defines the domain entities for alert investigations.
package investigation

import (
	"fmt"
	"time"

	"github.com/alertforge/alertforge/internal/domain"
)

// Status represents the current state of an investigation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Investigation represents one alert driven to a diagnosis. A single
// investigation may span multiple run attempts against the same conversation;
// only the surviving attempt's steps are recorded here.
type Investigation struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Alert          string       `json:"alert"`
	Status         Status       `json:"status"`
	Attempt        int          `json:"attempt"`
	Steps          []StepRecord `json:"steps,omitempty"`
	Diagnosis      string       `json:"diagnosis,omitempty"`
	Error          string       `json:"error,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// Interaction is the persisted record of a completed investigation, written
// to the history store only on a successful terminal outcome.
type Interaction struct {
	ID             string       `json:"id"`
	Query          string       `json:"query"`
	Steps          []StepRecord `json:"steps"`
	Diagnosis      string       `json:"diagnosis"`
	ElapsedSeconds float64      `json:"elapsed_seconds"`
	CreatedAt      time.Time    `json:"created_at"`
}

// StartRequest holds the fields needed to start a new investigation.
type StartRequest struct {
	Alert          string `json:"alert"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Validate checks that the request carries everything an investigation needs.
func (r *StartRequest) Validate() error {
	if r.Alert == "" {
		return fmt.Errorf("%w: alert text is required", domain.ErrValidation)
	}
	return nil
}

// ValidStatus reports whether s is a known investigation status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
