package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_DefaultLevel(t *testing.T) {
	logger := New("", "text")
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level by default")
	}
}

func TestNew_DebugLevel(t *testing.T) {
	logger := New("debug", "text")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug level to be enabled")
	}
}

func TestNew_ErrorLevel(t *testing.T) {
	logger := New("error", "text")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level to be disabled at error level")
	}
}

func TestNew_JSONFormat(t *testing.T) {
	logger := New("info", "json")
	if logger == nil {
		t.Fatal("Expected non-nil logger for JSON format")
	}
}

func TestWithRequestID_And_RequestID(t *testing.T) {
	ctx := context.Background()

	// No request ID initially
	if id := RequestID(ctx); id != "" {
		t.Errorf("Expected empty request ID, got %q", id)
	}

	// Set request ID
	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("Expected req-123, got %q", id)
	}
}

func TestWithLogger_And_FromContext(t *testing.T) {
	ctx := context.Background()

	// Default logger when none in context
	if FromContext(ctx) == nil {
		t.Fatal("Expected fallback logger")
	}

	custom := New("error", "text")
	ctx = WithLogger(ctx, custom)
	if FromContext(ctx) != custom {
		t.Error("Expected the context logger back")
	}
}

func TestL_AnnotatesRequestID(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))

	// Without a request ID, L returns the context logger as-is
	if L(ctx) == nil {
		t.Fatal("Expected non-nil logger")
	}

	// With a request ID the logger is wrapped; it must still be usable
	ctx = WithRequestID(ctx, "req-456")
	logger := L(ctx)
	if logger == nil {
		t.Fatal("Expected non-nil annotated logger")
	}
	logger.Info("request log line")
}
