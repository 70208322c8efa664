package telemetry

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mjasion/phenostation/pkg/config"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("Authorization=Basic abc==, X-Scope-OrgID=station,broken,=empty")

	if len(headers) != 2 {
		t.Fatalf("Expected 2 headers, got %d: %v", len(headers), headers)
	}
	if headers["Authorization"] != "Basic abc==" {
		t.Errorf("Expected value with trailing '=' preserved, got '%s'", headers["Authorization"])
	}
	if headers["X-Scope-OrgID"] != "station" {
		t.Errorf("Expected X-Scope-OrgID=station, got '%s'", headers["X-Scope-OrgID"])
	}
}

func TestResolveHeaders_Precedence(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_HEADERS", "a=env")

	got := resolveHeaders(map[string]string{"a": "section"}, "OTEL_EXPORTER_OTLP_TRACES_HEADERS", nil)
	if got["a"] != "section" {
		t.Errorf("Expected section headers to win, got %v", got)
	}

	got = resolveHeaders(nil, "OTEL_EXPORTER_OTLP_TRACES_HEADERS", map[string]string{"a": "shared"})
	if got["a"] != "env" {
		t.Errorf("Expected signal env headers before shared, got %v", got)
	}
}

func TestInitProviders_Disabled(t *testing.T) {
	providers, err := InitProviders(context.Background(), &config.OpenTelemetryConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if providers != nil {
		t.Error("Expected nil providers when disabled")
	}
	if err := providers.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected nil-safe shutdown, got %v", err)
	}
}

func TestLogWithTrace_NoSpan(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	WarnWithTrace(context.Background(), logger, "capture failed", zap.Int("attempt", 2))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("Expected warn level, got %s", entries[0].Level)
	}
	if _, ok := entries[0].ContextMap()["trace_id"]; ok {
		t.Error("Expected no trace_id without a recording span")
	}
}
