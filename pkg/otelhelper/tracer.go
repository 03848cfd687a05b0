// Package otelhelper provides distributed tracing for workflow checks and executions.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Common attribute keys.
	WorkflowIDKey  = "shiftflow.workflow.id"
	ExecutionIDKey = "shiftflow.execution.id"
	ActionTypeKey  = "shiftflow.action.type"
	StepKindKey    = "shiftflow.step.kind"
	ShiftIDKey     = "shiftflow.shift.id"
	QuoteIDKey     = "shiftflow.quote.id"
	SafeTxHashKey  = "shiftflow.safe.tx_hash"
	WorkflowsKey   = "shiftflow.tick.workflows"
)

// InstrumentationName names the tracer used by the engine packages.
const InstrumentationName = "github.com/dukex/shiftflow"

// Tracer returns the engine tracer from the global provider. Until InitTracer runs this is a
// no-op tracer.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// InitTracer installs an OTLP/HTTP tracer provider as the global provider. The exporter is
// configured through the standard OTEL_EXPORTER_OTLP_* environment variables.
func InitTracer(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}
