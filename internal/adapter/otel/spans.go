package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "alertforge"

// StartInvestigationSpan starts a span covering one investigation end to end.
func StartInvestigationSpan(ctx context.Context, investigationID, conversationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "investigation",
		trace.WithAttributes(
			attribute.String("investigation.id", investigationID),
			attribute.String("conversation.id", conversationID),
		),
	)
}

// StartAttemptSpan starts a span for one run attempt within an investigation.
func StartAttemptSpan(ctx context.Context, investigationID string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "attempt",
		trace.WithAttributes(
			attribute.String("investigation.id", investigationID),
			attribute.Int("attempt.number", attempt),
		),
	)
}
