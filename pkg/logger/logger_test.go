package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestNewDefaultTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewDefault("payments")
	log.SetOutput(&buf)

	log.WithField("payment_id", "p1").Info("settled")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["component"] != "payments" {
		t.Fatalf("expected component field, got %v", line["component"])
	}
	if line["payment_id"] != "p1" {
		t.Fatalf("expected payment_id field, got %v", line["payment_id"])
	}
}

func TestLogRequestCarriesTraceID(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "debug", Format: "json", Output: &buf})

	ctx := WithTraceID(context.Background(), "trace-1")
	log.LogRequest(ctx, http.MethodGet, "/healthz", http.StatusOK, 5*time.Millisecond)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["trace_id"] != "trace-1" {
		t.Fatalf("expected trace id, got %v", line["trace_id"])
	}
	if line["level"] != "info" {
		t.Fatalf("expected info level for 200, got %v", line["level"])
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	log := New(LoggingConfig{Level: "loud"})
	if log.GetLevel().String() != "info" {
		t.Fatalf("expected info, got %s", log.GetLevel())
	}
}
