// Package observability wires the router and dispatcher into the trace SDK
// without an OTLP exporter: a standalone dispatcher has no collector to ship
// to, but any exporter the operator later attaches via the global tracer
// provider starts receiving spans immediately, since the calls below go
// through otel's global API rather than a locally held provider.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/ceyewan/obgate/dispatcher"

// StartSpan starts a span named name with the given attributes and returns a
// context carrying it plus a func to end it, mirroring the teacher's
// observability.StartSpan helper.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, func() { span.End() }
}

// DecisionKind returns the attribute.KeyValue identifying a resolved
// decision's kind for span annotation (e.g. "forward", "reply", "drop").
func DecisionKind(kind string) attribute.KeyValue {
	return attribute.String("decision.kind", kind)
}

// ConnectionID returns the attribute.KeyValue identifying the upstream
// connection a decision targeted, when it targeted one.
func ConnectionID(id string) attribute.KeyValue {
	return attribute.String("decision.connection_id", id)
}
