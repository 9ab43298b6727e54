// Package tracking holds the durable incident-to-card association and its lifecycle.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidTransition indicates the lifecycle event is not allowed from the current stage.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrMappingNotFound indicates no mapping exists for the incident.
	ErrMappingNotFound = errors.New("mapping not found")
)

// Mapping associates an incident with the card created for it.
type Mapping struct {
	IncidentID int64
	CardID     int
	Stage      Stage
	// ArchiveCardID is set once the done-stack duplicate exists.
	ArchiveCardID int
}

// IsLive returns true if the mapping still represents a live card.
func (m Mapping) IsLive() bool {
	return m.Stage.IsLive()
}

// Advance validates the event through a lifecycle machine and returns the updated mapping.
func (m Mapping) Advance(event string) (Mapping, error) {
	fsm, err := NewLifecycleMachine(m.Stage, m.IncidentID)
	if err != nil {
		return m, err
	}
	next, err := fsm.Transition(event)
	if err != nil {
		return m, err
	}
	m.Stage = next
	return m, nil
}

// Mappings is the loaded content of a store keyed by incident id.
type Mappings map[int64]Mapping

// Live returns the incidentID -> cardID view of mappings that still represent a live card.
func (ms Mappings) Live() map[int64]int {
	live := make(map[int64]int, len(ms))
	for id, m := range ms {
		if m.IsLive() {
			live[id] = m.CardID
		}
	}
	return live
}

// Sorted returns the mappings ordered by incident id.
func (ms Mappings) Sorted() []Mapping {
	out := make([]Mapping, 0, len(ms))
	for _, m := range ms {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IncidentID < out[j].IncidentID })
	return out
}

// Store persists mappings across runs.
type Store interface {
	// Load returns every persisted mapping. Missing backing storage yields an empty set.
	Load(ctx context.Context) (Mappings, error)
	// Upsert records or replaces the mapping for m.IncidentID.
	Upsert(ctx context.Context, m Mapping) error
	// Remove drops the mapping for the incident. Removing an absent id is not an error.
	Remove(ctx context.Context, incidentID int64) error
}

// TransitionError provides details about a rejected lifecycle event.
type TransitionError struct {
	IncidentID int64
	From       Stage
	Event      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("incident %d: event %q is not allowed in stage %q", e.IncidentID, e.Event, e.From)
}

// Is allows errors.Is to work with TransitionError.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StoreError reports a storage I/O failure. It is fatal for the running cycle.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("mapping store %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("mapping store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
