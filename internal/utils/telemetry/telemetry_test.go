package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestOutputWritesFinishedSpans(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput(&buf)
	defer out.Close()

	tracer := out.Provider().Tracer("telemetry-test")
	_, ok := tracer.Start(context.Background(), "reconcile.verify")
	ok.SetAttributes(attribute.String("package.name", "bash"))
	ok.End()

	_, failed := tracer.Start(context.Background(), "reconcile.remediate")
	failed.RecordError(errors.New("upgrade failed"))
	failed.SetStatus(codes.Error, "upgrade failed\nmore detail")
	failed.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "[ok] reconcile.verify bash (") {
		t.Errorf("unexpected success line %q", lines[0])
	}
	if !strings.Contains(lines[1], "[x] reconcile.remediate (") || !strings.HasSuffix(lines[1], ", upgrade failed)") {
		t.Errorf("unexpected failure line %q", lines[1])
	}
}

func TestOutputWithoutWriter(t *testing.T) {
	out := NewOutput(nil)
	_, span := out.Provider().Tracer("telemetry-test").Start(context.Background(), "reconcile.run")
	span.End()
	out.Close()

	var nilOut *Output
	if nilOut.Provider() == nil {
		t.Fatal("nil Output must fall back to the global provider")
	}
	nilOut.Close()
}

func TestFormatSpan(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		elapsed time.Duration
		status  sdktrace.Status
		want    string
	}{
		{"reconcile.run", "", 1500 * time.Microsecond, sdktrace.Status{Code: codes.Ok}, "  [ok] reconcile.run (2ms)"},
		{"reconcile.verify", "vim", 0, sdktrace.Status{Code: codes.Unset}, "  [ok] reconcile.verify vim (0s)"},
		{"reconcile.remove", "", time.Second, sdktrace.Status{Code: codes.Error, Description: "erase failed"}, "  [x] reconcile.remove (1s, erase failed)"},
		{"reconcile.trust", "", 0, sdktrace.Status{Code: codes.Error}, "  [x] reconcile.trust (0s)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatSpan(tt.name, tt.subject, tt.elapsed, tt.status); got != tt.want {
				t.Errorf("FormatSpan() = %q, want %q", got, tt.want)
			}
		})
	}
}
