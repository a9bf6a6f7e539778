package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLoggerToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn", true)

	logger.Info("dropped")
	logger.Warn("cache get failed", slog.String("key", "ts:abc"))

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("expected a single json record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "cache get failed" || record["key"] != "ts:abc" {
		t.Fatalf("unexpected record: %v", record)
	}
	if record["service"] != "mirador-analytics" {
		t.Fatalf("expected service attribute, got %v", record["service"])
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug {
		t.Fatalf("expected debug")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
}
