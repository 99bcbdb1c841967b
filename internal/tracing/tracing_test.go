package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetup_WithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: true})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span from the sdk provider")
	}
	span.End()

	if err := Stop(context.Background(), shutdown); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestStop_Nil(t *testing.T) {
	if err := Stop(context.Background(), nil); err != nil {
		t.Errorf("Stop(nil) error = %v", err)
	}
}
