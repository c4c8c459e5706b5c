package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "alertforge"

// Metrics holds all AlertForge metric instruments.
type Metrics struct {
	InvestigationsStarted   metric.Int64Counter
	InvestigationsCompleted metric.Int64Counter
	InvestigationsFailed    metric.Int64Counter
	Retries                 metric.Int64Counter
	StepsEmitted            metric.Int64Counter
	InvestigationDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.InvestigationsStarted, err = meter.Int64Counter("alertforge.investigations.started",
		metric.WithDescription("Number of investigations started"))
	if err != nil {
		return nil, err
	}

	m.InvestigationsCompleted, err = meter.Int64Counter("alertforge.investigations.completed",
		metric.WithDescription("Number of investigations completed"))
	if err != nil {
		return nil, err
	}

	m.InvestigationsFailed, err = meter.Int64Counter("alertforge.investigations.failed",
		metric.WithDescription("Number of investigations failed or cancelled"))
	if err != nil {
		return nil, err
	}

	m.Retries, err = meter.Int64Counter("alertforge.investigations.retries",
		metric.WithDescription("Number of whole-conversation retry attempts"))
	if err != nil {
		return nil, err
	}

	m.StepsEmitted, err = meter.Int64Counter("alertforge.steps.emitted",
		metric.WithDescription("Number of step records streamed to callers"))
	if err != nil {
		return nil, err
	}

	m.InvestigationDuration, err = meter.Float64Histogram("alertforge.investigation.duration_seconds",
		metric.WithDescription("Investigation duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
