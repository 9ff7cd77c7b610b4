package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func captureLine(t *testing.T, emit func(zerolog.Logger)) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	emit(zerolog.New(&buf))

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("log output is not valid JSON: %v (%q)", err, buf.String())
	}
	return fields
}

func TestWithContext_AddsCorrelationFields(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithScanID(ctx, "scan-7")

	fields := captureLine(t, func(l zerolog.Logger) {
		lg := WithContext(ctx, l)
		lg.Info().Msg("hello")
	})

	if fields[FieldRequestID] != "req-123" {
		t.Errorf("expected request_id req-123, got %v", fields[FieldRequestID])
	}
	if fields[FieldScanID] != "scan-7" {
		t.Errorf("expected scan_id scan-7, got %v", fields[FieldScanID])
	}
}

func TestWithContext_NoFieldsIsPassthrough(t *testing.T) {
	fields := captureLine(t, func(l zerolog.Logger) {
		lg := WithContext(context.Background(), l)
		lg.Info().Msg("plain")
	})

	if _, ok := fields[FieldRequestID]; ok {
		t.Error("request_id should not be present without context value")
	}
	if _, ok := fields[FieldScanID]; ok {
		t.Error("scan_id should not be present without context value")
	}
}

func TestRequestIDFromContext_NilSafe(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	if got := RequestIDFromContext(nil); got != "" {
		t.Errorf("expected empty request id for nil context, got %q", got)
	}
	if got := ScanIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty scan id, got %q", got)
	}
}

func TestWithComponent_AnnotatesComponent(t *testing.T) {
	l := WithComponent("scanner")
	if l.GetLevel() == zerolog.Disabled {
		t.Fatal("component logger must not be disabled")
	}
}
