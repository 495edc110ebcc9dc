package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return payload
}

func TestNewWritesJSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Writer: &buf}).Info("hello", "k", "v")

	payload := decodeLine(t, &buf)
	if payload["msg"] != "hello" || payload["k"] != "v" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Writer: &buf, Format: "text"}).Info("plain line")

	if !strings.Contains(buf.String(), "msg=\"plain line\"") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: "warn"})

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line leaked through warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn line was not written")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		" DeBuG ": slog.LevelDebug,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	WithComponent(logger, "queue").Info("tagged")
	if payload := decodeLine(t, &buf); payload["component"] != "queue" {
		t.Fatalf("expected component queue, got %v", payload["component"])
	}

	if WithComponent(nil, "queue") != nil {
		t.Fatal("nil logger should stay nil")
	}
}

func TestContextCarriesIDs(t *testing.T) {
	ctx := ContextWithVideoID(ContextWithRequestID(context.Background(), "req-9"), "vid-3")

	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-9" {
		t.Fatalf("request id = %q, %v", id, ok)
	}
	if id, ok := VideoIDFromContext(ctx); !ok || id != "vid-3" {
		t.Fatalf("video id = %q, %v", id, ok)
	}
	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Fatal("empty context should have no request id")
	}
	if blank := ContextWithRequestID(context.Background(), "  "); blank != context.Background() {
		t.Fatal("blank id should not be stored")
	}
}

func TestContextCarriesLogger(t *testing.T) {
	logger := New(Config{Writer: &bytes.Buffer{}})
	ctx := ContextWithLogger(context.Background(), logger)
	if LoggerFromContext(ctx) != logger {
		t.Fatal("logger was not recovered from context")
	}
	if LoggerFromContext(context.Background()) != nil {
		t.Fatal("expected nil logger from empty context")
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	ctx := ContextWithVideoID(ContextWithRequestID(context.Background(), "req-1"), "vid-1")

	var buf bytes.Buffer
	WithContext(ctx, New(Config{Writer: &buf})).Info("hello")

	payload := decodeLine(t, &buf)
	if payload["request_id"] != "req-1" || payload["video_id"] != "vid-1" {
		t.Fatalf("ids missing from line: %v", payload)
	}
}

func TestInitSetsDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Init(Config{Writer: &buf, Format: string(FormatText), Level: "debug"})
	if logger != slog.Default() {
		t.Fatal("Init did not replace the default logger")
	}

	slog.Info("hello world")
	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("default logger did not write to configured output: %q", buf.String())
	}
}
