package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/offsync/pkg/domain/events"
	"github.com/google/uuid"
)

// FileEventStore is a hash-chained JSON Lines audit log of sync events.
type FileEventStore struct {
	mu       sync.RWMutex
	path     string
	lastHash string
}

var _ events.EventStore = (*FileEventStore)(nil)

// NewFileEventStore opens (or lazily creates) the audit log at path.
func NewFileEventStore(path string) (*FileEventStore, error) {
	store := &FileEventStore{path: path}

	evts, err := store.loadEvents()
	if err != nil {
		return nil, err
	}
	if len(evts) > 0 {
		store.lastHash = evts[len(evts)-1].Hash
	}
	return store, nil
}

// Path returns the audit log path.
func (s *FileEventStore) Path() string {
	return s.path
}

// Append adds a new event to the log.
func (s *FileEventStore) Append(event *events.BaseEvent) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	event.PrevHash = s.lastHash
	event.Hash = event.CalculateHash()

	// #nosec G304 -- path comes from operator configuration
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close events file: %w", cerr)
		}
	}()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	s.lastHash = event.Hash
	return nil
}

// LoadAll returns all events in chronological order.
func (s *FileEventStore) LoadAll() ([]*events.BaseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadEvents()
}

// LoadByIncident returns the events recorded for one incident.
func (s *FileEventStore) LoadByIncident(incidentID string) ([]*events.BaseEvent, error) {
	all, err := s.LoadAll()
	if err != nil {
		return nil, err
	}

	var result []*events.BaseEvent
	for _, e := range all {
		if e.AggregateType_ == events.AggregateTypeIncident && e.AggregateID_ == incidentID {
			result = append(result, e)
		}
	}
	return result, nil
}

// VerifyIntegrity checks the hash chain for tampering.
func (s *FileEventStore) VerifyIntegrity() ([]string, error) {
	evts, err := s.LoadAll()
	if err != nil {
		return nil, err
	}

	var violations []string
	lastHash := ""
	for i, e := range evts {
		if e.PrevHash != lastHash {
			violations = append(violations, fmt.Sprintf("Event %d (%s): PrevHash mismatch", i, e.ID))
		}
		if e.Hash != e.CalculateHash() {
			violations = append(violations, fmt.Sprintf("Event %d (%s): Hash mismatch - possible tampering", i, e.ID))
		}
		lastHash = e.Hash
	}
	return violations, nil
}

func (s *FileEventStore) loadEvents() ([]*events.BaseEvent, error) {
	// #nosec G304 -- path comes from operator configuration
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var result []*events.BaseEvent
	scanner := bufio.NewScanner(f)

	// Increase buffer size for large events
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event events.BaseEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		result = append(result, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return result, nil
}
