// Package telemetry turns reconciler spans into debug log lines and, when a
// writer is given, into a step trace on the terminal.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/open-edge-platform/os-package-reconciler/internal/utils/logger"
)

// SubjectKeys are the span attributes shown next to a span name, first match wins.
var SubjectKeys = []attribute.Key{"package.name", "pass.id"}

type Output struct {
	provider *sdktrace.TracerProvider
}

// NewOutput builds a tracer provider whose spans are logged at debug level
// and, if w is not nil, written to w as one line per finished span.
func NewOutput(w io.Writer) *Output {
	proc := &stepSpanProcessor{w: w}
	return &Output{provider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(proc))}
}

// Provider returns the tracer provider, or the global one on a nil Output.
func (o *Output) Provider() trace.TracerProvider {
	if o == nil || o.provider == nil {
		return otel.GetTracerProvider()
	}
	return o.provider
}

func (o *Output) Close() {
	if o == nil || o.provider == nil {
		return
	}
	_ = o.provider.Shutdown(context.Background())
}

type stepSpanProcessor struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *stepSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *stepSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	line := FormatSpan(span.Name(), subject(span.Attributes()), span.EndTime().Sub(span.StartTime()), span.Status())
	logger.Logger().Debugf("span %s", strings.TrimSpace(line))
	if p.w == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *stepSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *stepSpanProcessor) ForceFlush(context.Context) error { return nil }

// FormatSpan renders a finished span as "[ok] name subject (duration)".
func FormatSpan(name, subject string, elapsed time.Duration, status sdktrace.Status) string {
	prefix := "[ok]"
	if status.Code == codes.Error {
		prefix = "[x]"
	}
	title := name
	if subject != "" {
		title += " " + subject
	}
	detail := elapsed.Round(time.Millisecond).String()
	if status.Code == codes.Error && strings.TrimSpace(status.Description) != "" {
		detail += ", " + firstLine(status.Description)
	}
	return fmt.Sprintf("  %s %s (%s)", prefix, title, detail)
}

func subject(attrs []attribute.KeyValue) string {
	for _, key := range SubjectKeys {
		for _, attr := range attrs {
			if attr.Key == key {
				return attr.Value.Emit()
			}
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
