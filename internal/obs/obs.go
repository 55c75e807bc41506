// Package obs provides self-observability tracing for the store's own
// operations (ingest, updater commits, overlap BFS) via OpenTelemetry,
// adapted from the teacher's tracing manager: same exporter-by-name
// construction and resource/sampler setup, trimmed to the OTLP-over-HTTP
// and Jaeger exporters the pack actually wires elsewhere.
package obs

import (
	"context"
	"fmt"

	"github.com/xtrace/reportstore/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/sirupsen/logrus"
)

// Manager owns the tracer provider for the store's own spans. When
// tracing is disabled it hands out a no-op tracer so instrumented call
// sites don't need to branch on whether tracing is configured.
type Manager struct {
	cfg      config.TracingConfig
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

func New(cfg config.TracingConfig, logger *logrus.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{cfg: cfg, logger: logger, tracer: otel.Tracer("noop")}, nil
	}

	m := &Manager{cfg: cfg, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := m.createExporter()
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(m.cfg.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("failed to build trace resource: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.cfg.SampleFraction)),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	m.tracer = otel.Tracer(m.cfg.ServiceName)

	m.logger.WithFields(logrus.Fields{
		"component":    "obs",
		"service_name": m.cfg.ServiceName,
		"endpoint":     m.cfg.OTLPEndpoint,
	}).Info("self-tracing initialized")
	return nil
}

func (m *Manager) createExporter() (trace.SpanExporter, error) {
	switch m.cfg.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(m.cfg.JaegerEndpoint)))
	case "otlp", "":
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(m.cfg.OTLPEndpoint),
		))
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", m.cfg.Exporter)
	}
}

// Tracer returns the tracer spans should start from.
func (m *Manager) Tracer() oteltrace.Tracer {
	return m.tracer
}

// StartSpan is a small convenience wrapper that starts a span from the
// manager's tracer. The ingest loop, updater, and overlap BFS do not
// call it; they start spans from the tracer passed to their
// constructors.
func (m *Manager) StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return m.tracer.Start(ctx, name)
}

func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}
