// Package history defines the port for the interaction history store.
package history

import (
	"context"

	"github.com/alertforge/alertforge/internal/domain/investigation"
)

// Store persists completed investigations for later retrieval. The
// orchestration core writes to it only on a successful terminal outcome.
type Store interface {
	// SaveInteraction appends a completed investigation record.
	SaveInteraction(ctx context.Context, in *investigation.Interaction) error

	// GetInteraction returns one interaction by ID.
	GetInteraction(ctx context.Context, id string) (*investigation.Interaction, error)

	// ListInteractions returns the most recent interactions, newest first.
	ListInteractions(ctx context.Context, limit int) ([]investigation.Interaction, error)
}
