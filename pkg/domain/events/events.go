// Package events defines the domain events emitted while reconciling incidents with the board.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// Event types.
const (
	EventTypeCardCreated    = "card.created"
	EventTypeCardCommented  = "card.commented"
	EventTypeCardAssigned   = "card.assigned"
	EventTypeCardArchived   = "card.archived"
	EventTypeMappingCleared = "mapping.cleared"
	EventTypeCardDeleted    = "card.deleted"
	EventTypeActionFailed   = "action.failed"
	EventTypeCycleCompleted = "cycle.completed"
)

const (
	AggregateTypeIncident = "incident"
	AggregateTypeCycle    = "cycle"

	defaultActor = "offsync"
)

// DomainEvent is the base interface for all domain events.
type DomainEvent interface {
	EventType() string
	AggregateID() string
	AggregateType() string
	OccurredAt() time.Time
}

// BaseEvent is the serialized form of every event.
type BaseEvent struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	AggregateID_   string                 `json:"aggregate_id"`
	AggregateType_ string                 `json:"aggregate_type"`
	Timestamp      time.Time              `json:"timestamp"`
	Actor          string                 `json:"actor"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	PrevHash       string                 `json:"prev_hash,omitempty"`
	Hash           string                 `json:"hash,omitempty"`
}

func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) AggregateID() string   { return e.AggregateID_ }
func (e BaseEvent) AggregateType() string { return e.AggregateType_ }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// CalculateHash generates a deterministic SHA256 hash of the event.
func (e *BaseEvent) CalculateHash() string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte(e.ID))
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.Type))
	h.Write([]byte(e.AggregateID_))
	h.Write([]byte(e.Actor))
	h.Write([]byte(canonicalJSON(e.Metadata)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON produces a deterministic JSON representation.
func canonicalJSON(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 256)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		keyJSON, _ := json.Marshal(k)
		valJSON, _ := json.Marshal(m[k])
		ordered = append(ordered, keyJSON...)
		ordered = append(ordered, ':')
		ordered = append(ordered, valJSON...)
	}
	ordered = append(ordered, '}')
	return string(ordered)
}

// CardEvent records one lifecycle step taken for an incident's card.
type CardEvent struct {
	BaseEvent
	IncidentID int64 `json:"incident_id"`
	CardID     int   `json:"card_id"`
}

// NewCardEvent builds a CardEvent for the incident.
func NewCardEvent(eventType string, incidentID int64, cardID int, at time.Time) *CardEvent {
	return &CardEvent{
		BaseEvent: BaseEvent{
			Type:           eventType,
			AggregateID_:   strconv.FormatInt(incidentID, 10),
			AggregateType_: AggregateTypeIncident,
			Timestamp:      at,
			Actor:          defaultActor,
			Metadata: map[string]interface{}{
				"incident_id": incidentID,
				"card_id":     cardID,
			},
		},
		IncidentID: incidentID,
		CardID:     cardID,
	}
}

// ActionFailed records a recoverable failure that will be retried next cycle.
type ActionFailed struct {
	BaseEvent
	IncidentID int64  `json:"incident_id"`
	CardID     int    `json:"card_id,omitempty"`
	Op         string `json:"op"`
	Reason     string `json:"reason"`
}

// NewActionFailed builds an ActionFailed event.
func NewActionFailed(incidentID int64, cardID int, op string, err error, at time.Time) *ActionFailed {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return &ActionFailed{
		BaseEvent: BaseEvent{
			Type:           EventTypeActionFailed,
			AggregateID_:   strconv.FormatInt(incidentID, 10),
			AggregateType_: AggregateTypeIncident,
			Timestamp:      at,
			Actor:          defaultActor,
			Metadata: map[string]interface{}{
				"incident_id": incidentID,
				"card_id":     cardID,
				"op":          op,
				"reason":      reason,
			},
		},
		IncidentID: incidentID,
		CardID:     cardID,
		Op:         op,
		Reason:     reason,
	}
}

// CycleCompleted summarizes one reconciliation cycle.
type CycleCompleted struct {
	BaseEvent
	Created   int `json:"created"`
	Resumed   int `json:"resumed"`
	ClosedOut int `json:"closed_out"`
	Failed    int `json:"failed"`
}

// NewCycleCompleted builds a CycleCompleted event.
func NewCycleCompleted(created, resumed, closedOut, failed int, at time.Time) *CycleCompleted {
	return &CycleCompleted{
		BaseEvent: BaseEvent{
			Type:           EventTypeCycleCompleted,
			AggregateID_:   at.UTC().Format(time.RFC3339),
			AggregateType_: AggregateTypeCycle,
			Timestamp:      at,
			Actor:          defaultActor,
			Metadata: map[string]interface{}{
				"created":    created,
				"resumed":    resumed,
				"closed_out": closedOut,
				"failed":     failed,
			},
		},
		Created:   created,
		Resumed:   resumed,
		ClosedOut: closedOut,
		Failed:    failed,
	}
}

// Base returns the serializable part of a domain event.
func Base(event DomainEvent) *BaseEvent {
	switch e := event.(type) {
	case *BaseEvent:
		return e
	case *CardEvent:
		return &e.BaseEvent
	case *ActionFailed:
		return &e.BaseEvent
	case *CycleCompleted:
		return &e.BaseEvent
	default:
		return &BaseEvent{
			Type:           event.EventType(),
			AggregateID_:   event.AggregateID(),
			AggregateType_: event.AggregateType(),
			Timestamp:      event.OccurredAt(),
			Actor:          defaultActor,
		}
	}
}
