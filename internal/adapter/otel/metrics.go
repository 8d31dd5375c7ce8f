package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "consilium"

// Metrics holds all Consilium metric instruments.
type Metrics struct {
	ConsultationsStarted   metric.Int64Counter
	ConsultationsCompleted metric.Int64Counter
	ConsultationsFailed    metric.Int64Counter
	MissionsStarted        metric.Int64Counter
	MissionStepsCompleted  metric.Int64Counter
	AgentLatency           metric.Float64Histogram
	SpendUSD               metric.Float64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ConsultationsStarted, err = meter.Int64Counter("consilium.consultations.started",
		metric.WithDescription("Number of consultations started"))
	if err != nil {
		return nil, err
	}

	m.ConsultationsCompleted, err = meter.Int64Counter("consilium.consultations.completed",
		metric.WithDescription("Number of consultations completed"))
	if err != nil {
		return nil, err
	}

	m.ConsultationsFailed, err = meter.Int64Counter("consilium.consultations.failed",
		metric.WithDescription("Number of consultations failed"))
	if err != nil {
		return nil, err
	}

	m.MissionsStarted, err = meter.Int64Counter("consilium.missions.started",
		metric.WithDescription("Number of autonomous missions started"))
	if err != nil {
		return nil, err
	}

	m.MissionStepsCompleted, err = meter.Int64Counter("consilium.missions.steps_completed",
		metric.WithDescription("Number of mission plan steps completed"))
	if err != nil {
		return nil, err
	}

	m.AgentLatency, err = meter.Float64Histogram("consilium.agent.latency_seconds",
		metric.WithDescription("Per-agent invocation latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.SpendUSD, err = meter.Float64Counter("consilium.spend_usd",
		metric.WithDescription("Billed model spend in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
