package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerStampsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentDeals, Output: &buf})

	logger.Info("deal created", FieldDealID, "d1")
	logger.WithComponent(ComponentCache).Debug("cache miss", FieldMonth, "2024-02")

	out := buf.String()
	if !strings.Contains(out, "component=deals") || !strings.Contains(out, "deal_id=d1") {
		t.Fatalf("missing deal fields: %s", out)
	}
	if !strings.Contains(out, "component=cache") || !strings.Contains(out, "month=2024-02") {
		t.Fatalf("missing cache fields: %s", out)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if l := FromContext(context.Background()); l == nil || l.Component() != "unknown" {
		t.Fatalf("expected fallback logger, got %+v", l)
	}

	var buf bytes.Buffer
	logger := New(Config{Component: ComponentHTTP, Output: &buf})
	var seen *Logger
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		seen.Info("inside handler")
	})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := NewContext(r.Context(), logger.With(FieldRequestID, "req_1"))
	h.ServeHTTP(httptest.NewRecorder(), r.WithContext(ctx))

	if seen == nil || seen.Component() != ComponentHTTP {
		t.Fatalf("handler did not receive the context logger")
	}
	if !strings.Contains(buf.String(), "request_id=req_1") {
		t.Fatalf("request id not attached: %s", buf.String())
	}
}

func TestStructuredLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Level: slog.LevelInfo, Output: &buf}))
	r := httptest.NewRequest(http.MethodGet, "/api/deals?month=2024-02", nil)

	sl.LogHTTPEnd(context.Background(), r, "req_2", http.StatusBadGateway, 12, "127.0.0.1")
	logger := New(Config{Level: slog.LevelInfo, Output: &buf})
	logger.WithComponent(ComponentStorage).Error("store failed", NewFields().WithError(errors.New("boom")).WithOperation(OpList).ToSlice()...)

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "status_code=502") {
		t.Fatalf("expected error level for 5xx: %s", out)
	}
	if !strings.Contains(out, "error=boom") || !strings.Contains(out, "component=storage") {
		t.Fatalf("missing error fields: %s", out)
	}
}
