package obs

import (
	"context"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// NewTracerProvider builds an SDK tracer provider with no exporter
// attached by default; processors are the caller's choice (batch OTLP in
// production, none in tests). Registering it with otel.SetTracerProvider
// is left to the caller so libraries outside this process aren't forced
// onto our provider.
func NewTracerProvider(serviceName string, processors ...sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(semconv.ServiceName(serviceName))
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// StartSpan is a thin convenience wrapper used at the call sites that
// care about tracing (currently the submit pipeline), keeping
// otel usage out of the domain packages themselves.
func StartSpan(ctx context.Context, tp trace.TracerProvider, name string) (context.Context, trace.Span) {
	return tp.Tracer("sync-engine").Start(ctx, name)
}
