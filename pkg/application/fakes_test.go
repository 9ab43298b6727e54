package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/offsync/pkg/domain/board"
	"github.com/felixgeelhaar/offsync/pkg/domain/incident"
	"github.com/felixgeelhaar/offsync/pkg/domain/tracking"
	"github.com/felixgeelhaar/offsync/pkg/storage"
)

// recorder collects calls across fakes in the order they happen.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.calls
	r.calls = nil
	return out
}

func count(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}

type fakeBoard struct {
	rec    *recorder
	labels map[string]int
	cards  map[int]board.Card
	drafts map[int]board.CardDraft
	fail   map[string]error
	nextID int
}

func newFakeBoard(rec *recorder) *fakeBoard {
	return &fakeBoard{
		rec:    rec,
		labels: map[string]int{"Action needed": 1, "Finished": 2},
		cards:  map[int]board.Card{},
		drafts: map[int]board.CardDraft{},
		fail:   map[string]error{},
		nextID: 100,
	}
}

func (b *fakeBoard) call(format string, args ...any) error {
	name := fmt.Sprintf(format, args...)
	b.rec.add(name)
	return b.fail[name]
}

func (b *fakeBoard) LabelID(_ context.Context, title string) (int, error) {
	if err := b.call("board.label:%s", title); err != nil {
		return 0, err
	}
	id, ok := b.labels[title]
	if !ok {
		return 0, fmt.Errorf("%w: %q", board.ErrLabelNotFound, title)
	}
	return id, nil
}

func (b *fakeBoard) CreateCard(_ context.Context, stackID int, draft board.CardDraft) (*board.Card, error) {
	if err := b.call("board.create_card:%d", stackID); err != nil {
		return nil, err
	}
	b.nextID++
	card := board.Card{
		ID:          b.nextID,
		Title:       draft.Title,
		Description: draft.Description,
		StackID:     stackID,
		Type:        draft.Type,
		Order:       draft.Order,
		DueDate:     draft.DueDate,
		Owner:       draft.Owner,
	}
	for _, id := range draft.LabelIDs {
		card.Labels = append(card.Labels, board.Label{ID: id})
	}
	b.cards[card.ID] = card
	b.drafts[card.ID] = draft
	return &card, nil
}

func (b *fakeBoard) GetCard(_ context.Context, _ int, cardID int) (*board.Card, error) {
	if err := b.call("board.get_card:%d", cardID); err != nil {
		return nil, err
	}
	card, ok := b.cards[cardID]
	if !ok {
		return nil, board.ErrCardNotFound
	}
	return &card, nil
}

func (b *fakeBoard) DeleteCard(_ context.Context, _ int, cardID int) error {
	if err := b.call("board.delete_card:%d", cardID); err != nil {
		return err
	}
	if _, ok := b.cards[cardID]; !ok {
		return fmt.Errorf("%w: %w", board.ErrCardNotFound, board.ErrCardDeleted)
	}
	delete(b.cards, cardID)
	return nil
}

func (b *fakeBoard) AddComment(_ context.Context, cardID int, _ string) error {
	return b.call("board.comment:%d", cardID)
}

func (b *fakeBoard) AssignUser(_ context.Context, _ int, cardID int, userID string) error {
	return b.call("board.assign:%d:%s", cardID, userID)
}

type fakeProvider struct {
	rec      *recorder
	snapshot incident.Snapshot
	notes    map[int64][]incident.Note
	listErr  error
	notesErr error
}

func (p *fakeProvider) ListOffenses(context.Context) (incident.Snapshot, error) {
	p.rec.add("tracker.offenses")
	return p.snapshot, p.listErr
}

func (p *fakeProvider) ListNotes(_ context.Context, id int64) ([]incident.Note, error) {
	p.rec.add(fmt.Sprintf("tracker.notes:%d", id))
	if p.notesErr != nil {
		return nil, p.notesErr
	}
	return p.notes[id], nil
}

// recordingStore records mutations on top of the in-memory store.
type recordingStore struct {
	*storage.MemoryMappingStore
	rec       *recorder
	upsertErr error
}

func newRecordingStore(rec *recorder, seed ...tracking.Mapping) *recordingStore {
	return &recordingStore{MemoryMappingStore: storage.NewMemoryMappingStore(seed...), rec: rec}
}

func (s *recordingStore) Upsert(ctx context.Context, m tracking.Mapping) error {
	s.rec.add(fmt.Sprintf("store.upsert:%d:%s", m.IncidentID, m.Stage))
	if s.upsertErr != nil {
		return &tracking.StoreError{Op: "upsert", Err: s.upsertErr}
	}
	return s.MemoryMappingStore.Upsert(ctx, m)
}

func (s *recordingStore) Remove(ctx context.Context, id int64) error {
	s.rec.add(fmt.Sprintf("store.remove:%d", id))
	return s.MemoryMappingStore.Remove(ctx, id)
}

func (s *recordingStore) get(id int64) (tracking.Mapping, bool) {
	ms, _ := s.Load(context.Background())
	m, ok := ms[id]
	return m, ok
}

var errRemote = errors.New("remote unavailable")

func openIncident(id int64, assignee string) incident.Incident {
	return incident.Incident{
		ID:            id,
		Status:        incident.StatusOpen,
		AssignedTo:    assignee,
		Severity:      5,
		Magnitude:     3,
		Categories:    []string{"Malware"},
		Description:   "Suspicious traffic",
		OffenseSource: "10.0.0.1",
		EventCount:    12,
	}
}

func closedIncident(id int64) incident.Incident {
	inc := openIncident(id, "alice")
	inc.Status = incident.StatusClosed
	return inc
}
