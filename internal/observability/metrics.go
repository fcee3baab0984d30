package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/policy-core/permissioncore"

// NewMeterProvider builds a MeterProvider that periodically exports
// metrics to stdout and installs it as the global meter provider.
func NewMeterProvider(serviceName string) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}

// DecisionMetrics holds the instruments the decision service reports
// against, grouped so bootstrap can construct them once and pass the
// struct down rather than threading individual instruments through.
type DecisionMetrics struct {
	decisions metric.Int64Counter
	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

// NewDecisionMetrics creates the counters/histogram used on every
// EvaluateTool call (spec §4.6/§4.9's latency and cache-hit-ratio
// observability surface).
func NewDecisionMetrics() (*DecisionMetrics, error) {
	meter := otel.Meter(meterName)

	decisions, err := meter.Int64Counter("policycore.decisions.total",
		metric.WithDescription("Number of tool-invocation decisions made"))
	if err != nil {
		return nil, fmt.Errorf("create decisions counter: %w", err)
	}

	latency, err := meter.Float64Histogram("policycore.decision.latency_us",
		metric.WithDescription("Decision latency in microseconds"),
		metric.WithUnit("us"))
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}

	cacheHits, err := meter.Int64Counter("policycore.cache.hits_total",
		metric.WithDescription("Number of decisions served from the permission cache"))
	if err != nil {
		return nil, fmt.Errorf("create cache-hit counter: %w", err)
	}

	return &DecisionMetrics{decisions: decisions, latency: latency, cacheHits: cacheHits}, nil
}

// RecordDecision records one decision's outcome, latency, and cache-hit
// status against the instruments above.
func (m *DecisionMetrics) RecordDecision(ctx context.Context, decision string, latencyMicros int64, cacheHit bool) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
	m.latency.Record(ctx, float64(latencyMicros), metric.WithAttributes(attribute.String("decision", decision)))
	if cacheHit {
		m.cacheHits.Add(ctx, 1)
	}
}
