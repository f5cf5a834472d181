// Package telemetry wires OpenTelemetry tracing around the three
// pipeline stages, adapted from the provider shape used elsewhere in
// this stack: a single Provider whose exporter is selected by config,
// exposing stage-specific span helpers instead of generic request spans.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"banwatch/pkg/config"
)

// Provider manages the analyzer's OpenTelemetry tracer. Exporter
// selection ("otlp", "stdout", or anything else meaning disabled)
// comes from the config's telemetry.exporter knob, kept independent of
// the zerolog format knob that governs log output shape.
type Provider struct {
	serviceName string
	tracer      trace.Tracer
	provider    *sdktrace.TracerProvider
}

// NewProvider builds a Provider from the analyzer's telemetry config.
func NewProvider(cfg config.Telemetry) (*Provider, error) {
	svcName := cfg.SvcName
	if svcName == "" {
		svcName = "analyzer"
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		log.Info().Str("endpoint", cfg.JaegerEndpoint).Msg("otlp_exporter_initialized")
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		log.Info().Msg("stdout_trace_exporter_initialized")
	default:
		return &Provider{serviceName: svcName, tracer: otel.Tracer(svcName)}, nil
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	return &Provider{serviceName: svcName, tracer: tp.Tracer(svcName), provider: tp}, nil
}

func createOTLPExporter(cfg config.Telemetry) (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.JaegerEndpoint),
		otlptracegrpc.WithInsecure(),
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Tracer returns the tracer used to start spans.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes and stops the underlying trace provider, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Enabled reports whether spans are actually being exported.
func (p *Provider) Enabled() bool { return p.provider != nil }

// Span attribute keys used by the stage helpers below.
const (
	AttrValidatorName = "analyzer.validator.name"
	AttrBanned        = "analyzer.banned"
	AttrBatchSize     = "analyzer.ingest.batch_size"
	AttrEmitURL       = "analyzer.emit.url"
	AttrEmitAttempt   = "analyzer.emit.attempt"
	AttrEmitOutcome   = "analyzer.emit.outcome"
)

// StartValidateSpan starts a span around one detector's Validate call.
func (p *Provider) StartValidateSpan(ctx context.Context, validatorName string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "validate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String(AttrValidatorName, validatorName)),
	)
}

// EndValidateSpan closes a validate span, recording whether it produced
// a ban and any structural error.
func EndValidateSpan(span trace.Span, banned bool, err error) {
	span.SetAttributes(attribute.Bool(AttrBanned, banned))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartIngestBatchSpan starts a span around decoding and flattening one
// fetched bus batch.
func (p *Provider) StartIngestBatchSpan(ctx context.Context) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "ingest.batch", trace.WithSpanKind(trace.SpanKindConsumer))
}

// EndIngestBatchSpan closes an ingest-batch span with the number of
// requests flattened onto Q1.
func EndIngestBatchSpan(span trace.Span, requestCount int, err error) {
	span.SetAttributes(attribute.Int(AttrBatchSize, requestCount))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartEmitAttemptSpan starts a span around one POST attempt to an
// executor URL.
func (p *Provider) StartEmitAttemptSpan(ctx context.Context, url string, attempt int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "emit.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrEmitURL, url),
			attribute.Int(AttrEmitAttempt, attempt),
		),
	)
}

// EndEmitAttemptSpan closes an emit-attempt span with its outcome.
func EndEmitAttemptSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String(AttrEmitOutcome, outcome))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// Noop returns a Provider with tracing disabled, suitable for tests.
func Noop() *Provider {
	return &Provider{serviceName: "analyzer-noop", tracer: otel.Tracer("analyzer-noop")}
}

// ContextWithTimeout creates a context with timeout for shutdown flush.
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
