package telemetry

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer records stage-level events for a request. Callers never branch on
// whether tracing is enabled; a no-op implementation is substituted at init.
type Tracer interface {
	Record(ctx context.Context, stage string, attrs map[string]string)
	Shutdown(ctx context.Context) error
}

type noopTracer struct{}

func (noopTracer) Record(context.Context, string, map[string]string) {}
func (noopTracer) Shutdown(context.Context) error                    { return nil }

// NewNoopTracer returns a tracer that discards everything.
func NewNoopTracer() Tracer { return noopTracer{} }

type otelTracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a stdout-exporting tracer. On any construction failure it
// logs a warning and returns the no-op tracer so startup never blocks on
// telemetry.
func NewTracer(serviceName string) Tracer {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		log.Warn().Err(err).Msg("trace exporter unavailable, tracing disabled")
		return NewNoopTracer()
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	return &otelTracer{provider: tp, tracer: tp.Tracer(serviceName)}
}

func (t *otelTracer) Record(ctx context.Context, stage string, attrs map[string]string) {
	_, span := t.tracer.Start(ctx, stage)
	for k, v := range attrs {
		span.SetAttributes(attribute.String(k, v))
	}
	span.End()
}

func (t *otelTracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
