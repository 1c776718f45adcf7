// Package observability emits structured observability events. Every event is
// written through logrus and, when the context carries a recording span,
// attached to that span as well so log and trace backends see the same record.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// EventMessage is the log message and span event name of every event.
	EventMessage = "observability.event"
	// EventDomain is the event.domain of application events.
	EventDomain = "app"

	instrumentationName = "task-nest"
)

// Severity follows the OpenTelemetry log data model.
type Severity struct {
	Text   string
	Number int
}

var (
	SeverityInfo  = Severity{Text: "INFO", Number: 9}
	SeverityWarn  = Severity{Text: "WARN", Number: 13}
	SeverityError = Severity{Text: "ERROR", Number: 17}
)

// Event is a single observability record.
type Event struct {
	Name       string
	Severity   Severity
	Attributes map[string]any
	Err        error
}

// Tracer returns the tracer of the service, resolved from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// SeverityForStatus maps an HTTP status and error to a severity.
func SeverityForStatus(status int, err error) Severity {
	switch {
	case status >= http.StatusInternalServerError:
		return SeverityError
	case status >= http.StatusBadRequest:
		return SeverityWarn
	case err != nil:
		return SeverityError
	}
	return SeverityInfo
}

// Emit logs ev and records it on the span carried by ctx.
func Emit(ctx context.Context, logger *log.Logger, ev Event) {
	if ev.Severity.Text == "" {
		ev.Severity = SeverityInfo
	}
	attrs := make(map[string]any, len(ev.Attributes)+1)
	for k, v := range ev.Attributes {
		attrs[k] = v
	}
	if ev.Err != nil {
		attrs["error.message"] = ev.Err.Error()
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		kvs := []attribute.KeyValue{
			attribute.String("event.name", ev.Name),
			attribute.String("event.domain", EventDomain),
			attribute.String("severity_text", ev.Severity.Text),
			attribute.Int("severity_number", ev.Severity.Number),
		}
		span.AddEvent(EventMessage, trace.WithAttributes(append(kvs, toKeyValues(attrs)...)...))
	}

	if logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      ev.Name,
		"event.domain":    EventDomain,
		"severity_text":   ev.Severity.Text,
		"severity_number": ev.Severity.Number,
		"attributes":      attrs,
	}
	if sc := span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	logger.WithFields(fields).Log(levelFor(ev.Severity), EventMessage)
}

func levelFor(s Severity) log.Level {
	switch s {
	case SeverityError:
		return log.ErrorLevel
	case SeverityWarn:
		return log.WarnLevel
	}
	return log.InfoLevel
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return out
}
