package events

import (
	"context"
	"log/slog"
)

// Appender persists events to an audit log.
type Appender interface {
	Append(event *BaseEvent) error
}

// Notifier forwards events to an external endpoint.
type Notifier interface {
	Notify(ctx context.Context, event *BaseEvent)
}

// LoggingHandler writes every event to a structured logger.
type LoggingHandler struct {
	logger *slog.Logger
}

// NewLoggingHandler creates a LoggingHandler.
func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHandler{logger: logger}
}

// Handle logs the event. Failures log at warn level.
func (h *LoggingHandler) Handle(ctx context.Context, event DomainEvent) error {
	switch e := event.(type) {
	case *ActionFailed:
		h.logger.WarnContext(ctx, "action failed, will retry next cycle",
			"incident_id", e.IncidentID,
			"card_id", e.CardID,
			"op", e.Op,
			"error", e.Reason)
	case *CardEvent:
		h.logger.InfoContext(ctx, "card lifecycle step",
			"event_type", e.Type,
			"incident_id", e.IncidentID,
			"card_id", e.CardID)
	case *CycleCompleted:
		h.logger.DebugContext(ctx, "reconciliation cycle completed",
			"created", e.Created,
			"resumed", e.Resumed,
			"closed_out", e.ClosedOut,
			"failed", e.Failed)
	default:
		h.logger.DebugContext(ctx, "event", "event_type", event.EventType())
	}
	return nil
}

// Registration returns the HandlerRegistration for this handler.
func (h *LoggingHandler) Registration() HandlerRegistration {
	return HandlerRegistration{
		Name:       "LoggingHandler",
		Handler:    h.Handle,
		EventTypes: []string{"*"},
	}
}

// AuditHandler appends every event to an audit log.
type AuditHandler struct {
	store Appender
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(store Appender) *AuditHandler {
	return &AuditHandler{store: store}
}

// Handle appends the event.
func (h *AuditHandler) Handle(_ context.Context, event DomainEvent) error {
	return h.store.Append(Base(event))
}

// Registration returns the HandlerRegistration for this handler.
func (h *AuditHandler) Registration() HandlerRegistration {
	return HandlerRegistration{
		Name:       "AuditHandler",
		Handler:    h.Handle,
		EventTypes: []string{"*"},
	}
}

// NotifyHandler forwards events to a Notifier.
type NotifyHandler struct {
	notifier Notifier
}

// NewNotifyHandler creates a NotifyHandler.
func NewNotifyHandler(notifier Notifier) *NotifyHandler {
	return &NotifyHandler{notifier: notifier}
}

// Handle forwards the event. Delivery is asynchronous and never fails the dispatch.
func (h *NotifyHandler) Handle(ctx context.Context, event DomainEvent) error {
	h.notifier.Notify(ctx, Base(event))
	return nil
}

// Registration returns the HandlerRegistration for this handler.
func (h *NotifyHandler) Registration() HandlerRegistration {
	return HandlerRegistration{
		Name:       "NotifyHandler",
		Handler:    h.Handle,
		EventTypes: []string{"*"},
	}
}
