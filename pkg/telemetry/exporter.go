package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ExportConfig configures the OTLP/HTTP trace exporter.
type ExportConfig struct {
	// Endpoint is the collector host:port. Empty disables exporting.
	Endpoint string
	// Insecure switches the exporter to plain HTTP.
	Insecure bool
}

// NewExportingTracerProvider builds a tracer provider that batches spans to
// an OTLP/HTTP collector. Returns nil when no endpoint is configured, so the
// caller falls back to the in-process default provider.
func NewExportingTracerProvider(ctx context.Context, cfg ExportConfig) (trace.TracerProvider, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, nil
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}
