package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "engine")).Warn(context.Background(), "step deferred",
		Int("steps", 3),
		Float64("gap_seconds", 90.5),
		Err(errors.New("ephemeris unavailable")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "step deferred" || rec["level"] != "WARN" {
		t.Fatalf("msg/level = %v/%v, want step deferred/WARN", rec["msg"], rec["level"])
	}
	if rec["component"] != "engine" || rec["steps"] != float64(3) || rec["error"] != "ephemeris unavailable" {
		t.Fatalf("unexpected fields: %v", rec)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}
}

func TestEnsureUpdateIDIsStable(t *testing.T) {
	ctx, id := EnsureUpdateID(context.Background())
	if id == "" {
		t.Fatalf("EnsureUpdateID returned empty ID")
	}
	ctx2, id2 := EnsureUpdateID(ctx)
	if id2 != id || UpdateIDFromContext(ctx2) != id {
		t.Fatalf("update ID changed: %q -> %q", id, id2)
	}

	_, other := EnsureUpdateID(context.Background())
	if other == id {
		t.Fatalf("two fresh contexts share update ID %q", id)
	}
}

func TestWithUpdateLoggerTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, log := WithUpdateLogger(context.Background(), base)
	log.Info(ctx, "coverage integrated")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if id := UpdateIDFromContext(ctx); id == "" || rec["update_id"] != id {
		t.Fatalf("update_id = %v, want %q", rec["update_id"], id)
	}

	if _, l := WithUpdateLogger(context.Background(), nil); l == nil {
		t.Fatalf("WithUpdateLogger(nil) returned nil logger")
	}
}

func TestSpanContextAddsTraceIDs(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var buf bytes.Buffer
	New(Config{Format: "json", Output: &buf}).With(String("component", "engine")).Info(ctx, "step")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["trace_id"] != traceID.String() || rec["span_id"] != spanID.String() {
		t.Fatalf("trace_id/span_id = %v/%v, want %s/%s", rec["trace_id"], rec["span_id"], traceID, spanID)
	}

	buf.Reset()
	New(Config{Format: "json", Output: &buf}).Info(context.Background(), "no span")
	if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
		t.Fatalf("trace_id written without a span: %s", buf.String())
	}
}

func TestNewFromEnvHonoursLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_SOURCE", "false")
	if NewFromEnv() == nil {
		t.Fatalf("NewFromEnv returned nil")
	}
	if parseLevel("warning") != slog.LevelWarn || parseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("parseLevel mapping changed")
	}
}
