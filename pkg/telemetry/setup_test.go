package telemetry

import (
	"context"
	"testing"
)

func TestInitTracerOffMode(t *testing.T) {
	t.Setenv("FINETUNE_TRACE", "off")

	shutdown := InitTracer(context.Background(), "finetune-test")
	if shutdown == nil {
		t.Fatalf("shutdown func must never be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("disabled tracer shutdown: %v", err)
	}
}

func TestInitTracerCompactMode(t *testing.T) {
	t.Setenv("FINETUNE_TRACE", "compact")

	shutdown := InitTracer(context.Background(), "finetune-test")
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("tracer shutdown: %v", err)
	}
}
