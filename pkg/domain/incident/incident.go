// Package incident models security offenses read from the incident tracker.
package incident

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidOffense indicates a tracker payload failed validation at the boundary.
var ErrInvalidOffense = errors.New("invalid offense payload")

// Status is the tracker-side lifecycle status of an offense.
type Status string

const (
	// StatusOpen is the only status that keeps a card live on the board.
	StatusOpen   Status = "OPEN"
	StatusHidden Status = "HIDDEN"
	StatusClosed Status = "CLOSED"
)

// IsOpen returns true if the offense is still in the OPEN state.
func (s Status) IsOpen() bool {
	return s == StatusOpen
}

func (s Status) String() string {
	return string(s)
}

// Incident is a typed snapshot of one tracker offense.
type Incident struct {
	ID            int64    `json:"id"`
	Status        Status   `json:"status"`
	AssignedTo    string   `json:"assigned_to,omitempty"`
	Severity      int      `json:"severity"`
	Magnitude     int      `json:"magnitude"`
	Categories    []string `json:"categories,omitempty"`
	Description   string   `json:"description,omitempty"`
	OffenseSource string   `json:"offense_source,omitempty"`
	EventCount    int      `json:"event_count"`
	// StartTime is milliseconds since the epoch, as the tracker reports it.
	StartTime int64 `json:"start_time,omitempty"`
}

// IsOpen returns true if the incident has not left the OPEN state.
func (i Incident) IsOpen() bool {
	return i.Status.IsOpen()
}

// StartedAt converts the tracker start timestamp to a time.Time.
func (i Incident) StartedAt() time.Time {
	if i.StartTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(i.StartTime).UTC()
}

// Key returns the incident id in its decimal form, used as an event aggregate id.
func (i Incident) Key() string {
	return strconv.FormatInt(i.ID, 10)
}

// Note is one analyst note attached to an offense.
type Note struct {
	ID         int64  `json:"id"`
	NoteText   string `json:"note_text"`
	Username   string `json:"username,omitempty"`
	CreateTime int64  `json:"create_time,omitempty"`
}

// JoinNotes concatenates note texts in order, one per line.
func JoinNotes(notes []Note) string {
	texts := make([]string, 0, len(notes))
	for _, n := range notes {
		texts = append(texts, n.NoteText)
	}
	return strings.Join(texts, "\n")
}

// Snapshot is one batch of incidents as returned by a single tracker query.
type Snapshot []Incident

// Find returns the incident with the given id.
func (s Snapshot) Find(id int64) (Incident, bool) {
	for _, inc := range s {
		if inc.ID == id {
			return inc, true
		}
	}
	return Incident{}, false
}

// Index builds an id lookup for the snapshot.
func (s Snapshot) Index() map[int64]Incident {
	idx := make(map[int64]Incident, len(s))
	for _, inc := range s {
		idx[inc.ID] = inc
	}
	return idx
}

// Provider reads offenses from the incident tracker.
type Provider interface {
	// ListOffenses returns the current bounded batch of offenses.
	ListOffenses(ctx context.Context) (Snapshot, error)
	// ListNotes returns the ordered notes for one offense.
	ListNotes(ctx context.Context, offenseID int64) ([]Note, error)
}
