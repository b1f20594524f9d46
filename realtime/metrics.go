package realtime

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "websocket-kanban/realtime"
	syncSpanName    = "kanban.sync.handle"
	syncEventName   = "kanban.sync.event"
	syncEventDomain = "kanban.realtime"
)

// Outcomes of a client event.
const (
	outcomeApplied   = "applied"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeInvalid   = "invalid"
	outcomeForbidden = "forbidden"
	outcomeBusy      = "busy"
	outcomeFailed    = "failed"
)

// syncEventMetrics follows one client event from the read goroutine through
// the dispatcher. It produces one span and one observability log line.
type syncEventMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	event      string
	connID     string
	userID     string
	taskID     string
	recipients int
	queueWait  time.Duration
	apply      time.Duration
}

func newSyncEventMetrics(ctx context.Context, logger *log.Logger, event, connID, userID string) *syncEventMetrics {
	_, span := otel.Tracer(tracerName).Start(ctx, syncSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("kanban.sync.event", event),
			attribute.String("kanban.sync.conn", connID),
		),
	)
	return &syncEventMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		event:  event,
		connID: connID,
		userID: userID,
	}
}

func (m *syncEventMetrics) SetTask(id string) {
	if m == nil || id == "" {
		return
	}
	m.taskID = id
}

func (m *syncEventMetrics) SetRecipients(n int) {
	if m == nil || n < 0 {
		return
	}
	m.recipients = n
}

func (m *syncEventMetrics) ObserveQueue(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.queueWait = d
}

func (m *syncEventMetrics) ObserveApply(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.apply = d
}

// Finish ends the span and writes the observability line. It must be called
// exactly once.
func (m *syncEventMetrics) Finish(outcome string, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("kanban.sync.event", m.event),
		attribute.String("kanban.sync.conn", m.connID),
		attribute.String("kanban.sync.outcome", outcome),
		attribute.Float64("kanban.sync.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.userID != "" {
		attrs = append(attrs, attribute.String("enduser.id", m.userID))
	}
	if m.taskID != "" {
		attrs = append(attrs, attribute.String("kanban.task.id", m.taskID))
	}
	if m.recipients > 0 {
		attrs = append(attrs, attribute.Int("kanban.sync.recipients", m.recipients))
	}
	if m.queueWait > 0 {
		attrs = append(attrs, attribute.Float64("kanban.sync.queue_ms", durationToMillis(m.queueWait)))
	}
	if m.apply > 0 {
		attrs = append(attrs, attribute.Float64("kanban.sync.apply_ms", durationToMillis(m.apply)))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	severityText, severityNumber := severityForOutcome(outcome, err)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", syncEventName),
		attribute.String("event.domain", syncEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)

	m.span.SetAttributes(attrs...)
	m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
	if severityText == "ERROR" {
		desc := outcome
		if err != nil {
			desc = err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	spanCtx := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      syncEventName,
		"event.domain":    syncEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesToFields(attrs),
	}
	if spanCtx.HasTraceID() {
		fields["trace_id"] = spanCtx.TraceID().String()
	}
	if spanCtx.HasSpanID() {
		fields["span_id"] = spanCtx.SpanID().String()
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

// severityForOutcome maps an outcome to OpenTelemetry log severity.
func severityForOutcome(outcome string, err error) (string, int) {
	switch outcome {
	case outcomeApplied, outcomeIgnored, outcomeDuplicate:
		if err != nil {
			return "WARN", 13
		}
		return "INFO", 9
	case outcomeInvalid, outcomeForbidden, outcomeBusy:
		return "WARN", 13
	default:
		return "ERROR", 17
	}
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
