package qradar

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/offsync/pkg/domain/incident"
	"github.com/xeipuuv/gojsonschema"
)

const offenseSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "status"],
  "properties": {
    "id": { "type": "integer", "minimum": 1 },
    "status": { "type": "string", "minLength": 1 },
    "assigned_to": { "type": ["string", "null"] },
    "severity": { "type": ["integer", "null"] },
    "magnitude": { "type": ["integer", "null"] },
    "event_count": { "type": ["integer", "null"] },
    "categories": { "type": ["array", "null"], "items": { "type": "string" } },
    "description": { "type": ["string", "null"] },
    "offense_source": { "type": ["string", "null"] },
    "start_time": { "type": ["integer", "null"] }
  }
}`

const noteSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["note_text"],
    "properties": {
      "id": { "type": "integer" },
      "note_text": { "type": "string" },
      "username": { "type": ["string", "null"] },
      "create_time": { "type": ["integer", "null"] }
    }
  }
}`

var (
	offenseSchemaLoader = gojsonschema.NewStringLoader(offenseSchemaJSON)
	noteSchemaLoader    = gojsonschema.NewStringLoader(noteSchemaJSON)
)

// decodeOffense validates one raw offense and converts it to a typed Incident.
func decodeOffense(raw json.RawMessage) (incident.Incident, error) {
	if err := validate(offenseSchemaLoader, raw); err != nil {
		return incident.Incident{}, err
	}

	var wire struct {
		ID            int64    `json:"id"`
		Status        string   `json:"status"`
		AssignedTo    *string  `json:"assigned_to"`
		Severity      *int     `json:"severity"`
		Magnitude     *int     `json:"magnitude"`
		EventCount    *int     `json:"event_count"`
		Categories    []string `json:"categories"`
		Description   *string  `json:"description"`
		OffenseSource *string  `json:"offense_source"`
		StartTime     *int64   `json:"start_time"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return incident.Incident{}, fmt.Errorf("%w: %v", incident.ErrInvalidOffense, err)
	}

	return incident.Incident{
		ID:            wire.ID,
		Status:        incident.Status(wire.Status),
		AssignedTo:    deref(wire.AssignedTo),
		Severity:      deref(wire.Severity),
		Magnitude:     deref(wire.Magnitude),
		EventCount:    deref(wire.EventCount),
		Categories:    wire.Categories,
		Description:   strings.TrimSpace(deref(wire.Description)),
		OffenseSource: deref(wire.OffenseSource),
		StartTime:     deref(wire.StartTime),
	}, nil
}

func decodeNotes(body []byte) ([]incident.Note, error) {
	if err := validate(noteSchemaLoader, body); err != nil {
		return nil, err
	}
	var notes []incident.Note
	if err := json.Unmarshal(body, &notes); err != nil {
		return nil, fmt.Errorf("%w: %v", incident.ErrInvalidOffense, err)
	}
	return notes, nil
}

func validate(schema gojsonschema.JSONLoader, doc []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", incident.ErrInvalidOffense, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", incident.ErrInvalidOffense, strings.Join(msgs, "; "))
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
