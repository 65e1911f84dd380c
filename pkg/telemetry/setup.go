package telemetry

import (
	"context"
	"log"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// InitTracer wires span export for a service. Spans go to stdout so each
// fine-tune run's trace lands next to the worker's own log output without
// a collector. FINETUNE_TRACE=off disables export on busy workers;
// FINETUNE_TRACE=compact emits single-line spans instead of pretty-printed
// ones. The returned func flushes and stops the provider.
func InitTracer(ctx context.Context, serviceName string) func(context.Context) error {
	noop := func(context.Context) error { return nil }

	mode := strings.ToLower(strings.TrimSpace(os.Getenv("FINETUNE_TRACE")))
	if mode == "off" {
		return noop
	}

	var opts []stdouttrace.Option
	if mode != "compact" {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}

	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		log.Printf("telemetry exporter init failed: %v", err)
		return noop
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetTracerProvider(provider)

	return provider.Shutdown
}
