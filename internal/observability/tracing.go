// Package observability wires OpenTelemetry tracing and metrics around the
// decision hot path, the way the teacher's pkg/metrics/exporters wires a
// metrics registry into an external backend — here the backend is a
// stdout exporter, since the policy core has no bundled collector of its
// own (spec §11: "a durable alternative...for deployments that want
// queryable history", same ambient-observability framing as the rest of
// the domain stack's optional backends).
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/policy-core/permissioncore"

// NewTracerProvider builds a TracerProvider that exports spans to stdout
// and installs it as the global tracer provider. Callers shut it down via
// the returned provider's Shutdown method.
func NewTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider, nil
}

// Tracer returns the package-scoped tracer for the decision hot path.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Attribute keys shared by decision spans and the audit trail they wrap.
var (
	AttrToolID       = attribute.Key("policycore.tool.id")
	AttrCapabilityID = attribute.Key("policycore.capability.id")
	AttrDecision     = attribute.Key("policycore.decision")
	AttrLevel        = attribute.Key("policycore.level")
	AttrCacheHit     = attribute.Key("policycore.cache_hit")
)
