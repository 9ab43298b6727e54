package events

import (
	"slices"
	"time"
)

// WebhookEndpoint configures a single outgoing webhook.
type WebhookEndpoint struct {
	Name         string        `yaml:"name" toml:"name" json:"name"`
	URL          string        `yaml:"url" toml:"url" json:"url"`
	Secret       string        `yaml:"secret,omitempty" toml:"secret" json:"secret,omitempty"`
	EventFilters []string      `yaml:"events,omitempty" toml:"events" json:"events,omitempty"` // empty = all events
	MaxRetries   int           `yaml:"max_retries,omitempty" toml:"max_retries" json:"max_retries,omitempty"`
	RetryDelay   time.Duration `yaml:"retry_delay,omitempty" toml:"retry_delay" json:"retry_delay,omitempty"`
	Disabled     bool          `yaml:"disabled,omitempty" toml:"disabled" json:"disabled,omitempty"`
}

// Matches returns true if the endpoint accepts the event type.
func (ep WebhookEndpoint) Matches(eventType string) bool {
	if ep.Disabled {
		return false
	}
	if len(ep.EventFilters) == 0 {
		return true
	}
	for _, f := range ep.EventFilters {
		if f == eventType {
			return true
		}
	}
	return false
}

// Equal reports whether two endpoints have identical settings.
func (ep WebhookEndpoint) Equal(other WebhookEndpoint) bool {
	return ep.Name == other.Name &&
		ep.URL == other.URL &&
		ep.Secret == other.Secret &&
		slices.Equal(ep.EventFilters, other.EventFilters) &&
		ep.MaxRetries == other.MaxRetries &&
		ep.RetryDelay == other.RetryDelay &&
		ep.Disabled == other.Disabled
}

// DeadLetter records a webhook delivery that exhausted its retries.
type DeadLetter struct {
	Timestamp   time.Time `json:"timestamp"`
	WebhookName string    `json:"webhook_name"`
	URL         string    `json:"url"`
	EventType   string    `json:"event_type"`
	Payload     string    `json:"payload"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
}
