package events

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// IncidentHistoryProjection folds the audit trail into one summary per incident.
type IncidentHistoryProjection struct {
	mu     sync.RWMutex
	states map[int64]*IncidentHistory
}

// IncidentHistory is what the audit trail says happened to one incident.
type IncidentHistory struct {
	IncidentID    int64
	CardID        int
	ArchiveCardID int
	LastEvent     string
	Failures      int
	LastFailure   string
	CreatedAt     *time.Time
	ClosedAt      *time.Time
	UpdatedAt     time.Time
}

// Closed reports whether the original card was deleted.
func (h IncidentHistory) Closed() bool {
	return h.ClosedAt != nil
}

// NewIncidentHistoryProjection creates an empty projection.
func NewIncidentHistoryProjection() *IncidentHistoryProjection {
	return &IncidentHistoryProjection{
		states: make(map[int64]*IncidentHistory),
	}
}

func (p *IncidentHistoryProjection) Name() string { return "incident_history" }

func (p *IncidentHistoryProjection) Apply(event *BaseEvent) error {
	if event.AggregateType_ != AggregateTypeIncident {
		return nil
	}
	id, err := strconv.ParseInt(event.AggregateID_, 10, 64)
	if err != nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.getOrCreate(id)
	state.UpdatedAt = event.Timestamp
	cardID := getIntMetadata(event.Metadata, "card_id")
	ts := event.Timestamp

	switch event.Type {
	case EventTypeCardCreated:
		state.CardID = cardID
		state.CreatedAt = &ts
		state.ClosedAt = nil
	case EventTypeCardArchived:
		state.ArchiveCardID = cardID
	case EventTypeCardDeleted:
		state.ClosedAt = &ts
	case EventTypeActionFailed:
		state.Failures++
		state.LastFailure = getStringMetadata(event.Metadata, "op")
		return nil
	}
	state.LastEvent = event.Type
	return nil
}

func (p *IncidentHistoryProjection) Rebuild(events []*BaseEvent) error {
	_ = p.Reset()
	for _, event := range events {
		if err := p.Apply(event); err != nil {
			return err
		}
	}
	return nil
}

func (p *IncidentHistoryProjection) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = make(map[int64]*IncidentHistory)
	return nil
}

func (p *IncidentHistoryProjection) getOrCreate(id int64) *IncidentHistory {
	if state, ok := p.states[id]; ok {
		return state
	}
	state := &IncidentHistory{IncidentID: id}
	p.states[id] = state
	return state
}

// Get returns the history of one incident.
func (p *IncidentHistoryProjection) Get(id int64) (IncidentHistory, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	state, ok := p.states[id]
	if !ok {
		return IncidentHistory{}, false
	}
	return *state, true
}

// All returns every incident's history ordered by incident id.
func (p *IncidentHistoryProjection) All() []IncidentHistory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]IncidentHistory, 0, len(p.states))
	for _, state := range p.states {
		out = append(out, *state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IncidentID < out[j].IncidentID })
	return out
}

func getStringMetadata(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// getIntMetadata accepts both in-memory ints and float64 values decoded from JSON.
func getIntMetadata(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
