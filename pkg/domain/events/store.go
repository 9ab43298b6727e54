package events

// EventStore persists the audit trail.
type EventStore interface {
	Appender

	// LoadAll returns all events in chronological order.
	LoadAll() ([]*BaseEvent, error)

	// LoadByIncident returns the events recorded for one incident.
	LoadByIncident(incidentID string) ([]*BaseEvent, error)

	// VerifyIntegrity walks the hash chain and reports every broken link.
	VerifyIntegrity() ([]string, error)
}

// Projection rebuilds state from events.
type Projection interface {
	// Name returns the projection name for identification.
	Name() string

	// Apply processes a single event to update the projection state.
	Apply(event *BaseEvent) error

	// Rebuild reprocesses all events to rebuild the projection from scratch.
	Rebuild(events []*BaseEvent) error

	// Reset clears the projection state.
	Reset() error
}
