package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestWriteFlattensFieldsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Warn("cache.get_failed", map[string]any{
		"key":   "ocr:v1:abc",
		"error": errors.New("dial tcp: refused"),
		"msg":   "must not override",
	})

	line := strings.TrimSpace(buf.String())
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	if payload["level"] != "warn" {
		t.Fatalf("expected level warn, got %v", payload["level"])
	}
	if payload["msg"] != "cache.get_failed" {
		t.Fatalf("expected msg to win over field, got %v", payload["msg"])
	}
	if payload["error"] != "dial tcp: refused" {
		t.Fatalf("expected error string, got %v", payload["error"])
	}
	if payload["key"] != "ocr:v1:abc" {
		t.Fatalf("expected key field, got %v", payload["key"])
	}
}

func TestRequestIDRoundTripsThroughContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-7")
	if got := RequestIDFrom(ctx); got != "req-7" {
		t.Fatalf("expected req-7, got %q", got)
	}
	if got := RequestIDFrom(WithRequestID(context.Background(), "")); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
