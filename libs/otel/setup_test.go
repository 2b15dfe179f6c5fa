package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_SAMPLING_RATIO", "2")

	cfg := ConfigFromEnv("conversation-service")
	if cfg.Enabled {
		t.Fatal("expected tracing disabled")
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("expected out-of-range ratio to be ignored, got %v", cfg.SampleRatio)
	}
}

func TestConfigFromEnvEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4317/")
	t.Setenv("DEPLOY_ENV", "staging")

	cfg := ConfigFromEnv("reminder-worker")
	if !cfg.Enabled {
		t.Fatal("expected tracing enabled when an endpoint is set")
	}
	if cfg.OTLPEndpoint != "collector:4317" {
		t.Fatalf("unexpected endpoint %q", cfg.OTLPEndpoint)
	}
	if got := resourceAttributes(cfg); len(got) != 2 {
		t.Fatalf("expected service name and environment, got %v", got)
	}
}

func TestConfigFromEnvDefaultsOff(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if ConfigFromEnv("conversation-service").Enabled {
		t.Fatal("expected tracing disabled without an endpoint")
	}
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestResumeEmpty(t *testing.T) {
	ctx := context.Background()
	if got := (TraceContext{}).Resume(ctx); got != ctx {
		t.Fatal("expected the same context when no trace data is present")
	}
}

func TestCaptureResume(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tc := TraceContext{Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}

	got := Capture(tc.Resume(context.Background()))
	if got.Traceparent != tc.Traceparent {
		t.Fatalf("expected %q, got %q", tc.Traceparent, got.Traceparent)
	}
	if Capture(context.Background()).Empty() != true {
		t.Fatal("expected no trace context without a span")
	}
}
