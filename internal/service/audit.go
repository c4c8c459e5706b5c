package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alertforge/alertforge/internal/port/messagequeue"
)

// AuditSubject covers the whole investigation lifecycle subject space.
const AuditSubject = "investigations.>"

// AuditLogger consumes investigation lifecycle messages off the queue and
// writes one structured audit line per message. A payload that does not
// decode is reported as an error so the queue can retry or dead-letter it.
type AuditLogger struct {
	queue messagequeue.Queue
	log   *slog.Logger
}

// NewAuditLogger creates an audit consumer over the given queue.
func NewAuditLogger(queue messagequeue.Queue, log *slog.Logger) *AuditLogger {
	return &AuditLogger{queue: queue, log: log}
}

// Start subscribes to the lifecycle subjects. The returned function cancels
// the subscription.
func (a *AuditLogger) Start(ctx context.Context) (func(), error) {
	cancel, err := a.queue.Subscribe(ctx, AuditSubject, a.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribing audit consumer: %w", err)
	}
	return cancel, nil
}

// Handle processes one lifecycle message.
func (a *AuditLogger) Handle(_ context.Context, subject string, data []byte) error {
	switch subject {
	case messagequeue.SubjectInvestigationStarted:
		var p messagequeue.InvestigationStartedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decoding %s: %w", subject, err)
		}
		a.log.Info("audit: investigation started",
			slog.String("investigation_id", p.InvestigationID),
			slog.String("conversation_id", p.ConversationID))

	case messagequeue.SubjectInvestigationRetried:
		var p messagequeue.InvestigationRetriedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decoding %s: %w", subject, err)
		}
		a.log.Warn("audit: investigation retried",
			slog.String("investigation_id", p.InvestigationID),
			slog.Int("attempt", p.Attempt),
			slog.String("error", p.Error))

	case messagequeue.SubjectInvestigationCompleted:
		var p messagequeue.InvestigationCompletedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decoding %s: %w", subject, err)
		}
		a.log.Info("audit: investigation completed",
			slog.String("investigation_id", p.InvestigationID),
			slog.Int("attempt", p.Attempt),
			slog.Int("step_count", p.StepCount),
			slog.Float64("elapsed_seconds", p.ElapsedSeconds))

	case messagequeue.SubjectInvestigationFailed:
		var p messagequeue.InvestigationFailedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decoding %s: %w", subject, err)
		}
		a.log.Error("audit: investigation failed",
			slog.String("investigation_id", p.InvestigationID),
			slog.Int("attempts", p.Attempts),
			slog.String("error", p.Error))

	default:
		a.log.Debug("audit: unrecognized lifecycle subject",
			slog.String("subject", subject))
	}
	return nil
}
