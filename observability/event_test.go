package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestEmitLogsAndRecordsSpanEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx, span := Tracer().Start(context.Background(), "op")
	Emit(ctx, logger, Event{
		Name:       "board.record.malformed",
		Severity:   SeverityWarn,
		Attributes: map[string]any{"task.id": "t1", "count": 2},
		Err:        errors.New("bad status"),
	})
	span.End()

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected log entry")
	}
	if entry.Message != EventMessage || entry.Level != log.WarnLevel {
		t.Fatalf("unexpected entry: %s/%s", entry.Message, entry.Level)
	}
	if entry.Data["event.name"] != "board.record.malformed" {
		t.Fatalf("unexpected event name: %v", entry.Data["event.name"])
	}
	attrs, ok := entry.Data["attributes"].(map[string]any)
	if !ok || attrs["task.id"] != "t1" || attrs["error.message"] != "bad status" {
		t.Fatalf("unexpected attributes: %#v", entry.Data["attributes"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace id, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || len(spans[0].Events) != 1 {
		t.Fatalf("expected one span with one event, got %#v", spans)
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Events[0].Attributes {
		got[kv.Key] = kv.Value
	}
	if got["severity_text"].AsString() != "WARN" || got["count"].AsInt64() != 2 {
		t.Fatalf("unexpected span event attributes: %#v", got)
	}
}

func TestEmitWithoutSpanOrLogger(t *testing.T) {
	Emit(context.Background(), nil, Event{Name: "noop"})

	logger, hook := test.NewNullLogger()
	Emit(context.Background(), logger, Event{Name: "plain"})
	entry := hook.LastEntry()
	if entry == nil || entry.Data["severity_text"] != "INFO" {
		t.Fatalf("expected info entry, got %#v", entry)
	}
	if _, ok := entry.Data["trace_id"]; ok {
		t.Fatalf("did not expect trace id without a span")
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   Severity
	}{
		{name: "ok", status: http.StatusOK, want: SeverityInfo},
		{name: "warn", status: http.StatusBadRequest, want: SeverityWarn},
		{name: "error", status: http.StatusBadGateway, want: SeverityError},
		{name: "errorFromErr", status: 0, err: errors.New("boom"), want: SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SeverityForStatus(tt.status, tt.err); got != tt.want {
				t.Fatalf("SeverityForStatus(%d, %v) = %v, want %v", tt.status, tt.err, got, tt.want)
			}
		})
	}
}
