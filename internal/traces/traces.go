// Package traces configures OpenTelemetry tracing for agentshield.
package traces

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/agentshield/agentshield"

// Exporter names accepted by Init.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Options selects the span exporter.
type Options struct {
	Exporter     string
	OTLPEndpoint string
	// Writer receives stdout-exported spans. Defaults to io.Discard when nil.
	Writer         io.Writer
	ServiceVersion string
}

// Init installs a global tracer provider for the chosen exporter and returns
// its shutdown func. With ExporterNone the global no-op provider is left in place.
func Init(ctx context.Context, opts Options, logger *slog.Logger) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	switch opts.Exporter {
	case "", ExporterNone:
		logger.Debug("tracing disabled")
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
		w := opts.Writer
		if w == nil {
			w = io.Discard
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		exporter = exp
	case ExporterOTLP:
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(opts.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", opts.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("agentshield"),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "exporter", opts.Exporter, "endpoint", opts.OTLPEndpoint)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the agentshield tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func TenantID(id string) attribute.KeyValue {
	return attribute.String("tenant.id", id)
}

func EvaluationID(id string) attribute.KeyValue {
	return attribute.String("evaluation.id", id)
}

func ApprovalID(id string) attribute.KeyValue {
	return attribute.String("approval.id", id)
}

func Decision(d string) attribute.KeyValue {
	return attribute.String("decision", d)
}

func RiskScore(score int) attribute.KeyValue {
	return attribute.Int("risk.score", score)
}
