package audit

import (
	"context"
	"errors"
	"time"

	"github.com/prizmrun/prizm/pkg/contextkeys"
	"github.com/prizmrun/prizm/pkg/observability"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
}

// Searcher reads back the audit trail
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]Event, error)
}

// NewEvent builds an event stamped with the current time and the request ID
// and user ID carried by ctx
func NewEvent(ctx context.Context, workspaceID int64, eventType EventType, resourceType ResourceType, resourceID int64) *Event {
	event := &Event{
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		WorkspaceID:  workspaceID,
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
	if userID, ok := contextkeys.GetUserID(ctx); ok {
		event.ActorUserID = &userID
	}
	if requestID, ok := contextkeys.GetRequestID(ctx); ok {
		event.RequestID = requestID
	}
	return event
}

// With adds a metadata field
func (e *Event) With(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// NoopLogger drops every event
type NoopLogger struct{}

// Log implements Logger
func (NoopLogger) Log(context.Context, *Event) error { return nil }

// LogWriter writes events as structured log lines
type LogWriter struct {
	logger *observability.Logger
}

// NewLogWriter creates a log-backed audit logger
func NewLogWriter(logger *observability.Logger) *LogWriter {
	return &LogWriter{logger: logger.Component("audit")}
}

// Log implements Logger
func (w *LogWriter) Log(_ context.Context, event *Event) error {
	fields := map[string]interface{}{
		"event_type":    string(event.EventType),
		"workspace_id":  event.WorkspaceID,
		"resource_type": string(event.ResourceType),
		"resource_id":   event.ResourceID,
	}
	if event.ActorUserID != nil {
		fields["actor_user_id"] = *event.ActorUserID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields["meta."+k] = v
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}
	w.logger.WithFields(fields).Info(msg)
	return nil
}

// MultiLogger logs to every destination in order. A failing destination does
// not stop the others.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a fan-out logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log implements Logger and joins the errors of failing destinations
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
