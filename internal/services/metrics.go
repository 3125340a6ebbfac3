package services

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// engineMetrics holds the counters the engines report. Instruments are
// created against the global meter provider; without a configured provider
// they are no-ops.
type engineMetrics struct {
	batchApplied  metric.Int64Counter
	batchRejected metric.Int64Counter
	runsStarted   metric.Int64Counter
	runsCompleted metric.Int64Counter
	runsAbandoned metric.Int64Counter
}

func newEngineMetrics() *engineMetrics {
	meter := otel.Meter("forma/backend/internal/services")
	m := &engineMetrics{}
	m.batchApplied, _ = meter.Int64Counter("forma.batch.applied",
		metric.WithDescription("Objects mutated by fully applied batch updates"))
	m.batchRejected, _ = meter.Int64Counter("forma.batch.rejected",
		metric.WithDescription("Batch updates rolled back by validation failures"))
	m.runsStarted, _ = meter.Int64Counter("forma.wizard.runs_started",
		metric.WithDescription("Wizard runs started"))
	m.runsCompleted, _ = meter.Int64Counter("forma.wizard.runs_completed",
		metric.WithDescription("Wizard runs committed on their final step"))
	m.runsAbandoned, _ = meter.Int64Counter("forma.wizard.runs_abandoned",
		metric.WithDescription("Wizard runs abandoned by their owner"))
	return m
}
