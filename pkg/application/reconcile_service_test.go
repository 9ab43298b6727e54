package application_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/offsync/pkg/application"
	"github.com/felixgeelhaar/offsync/pkg/domain/board"
	"github.com/felixgeelhaar/offsync/pkg/domain/events"
	"github.com/felixgeelhaar/offsync/pkg/domain/incident"
	"github.com/felixgeelhaar/offsync/pkg/domain/tracking"
)

const (
	todoStack = 4
	doneStack = 5
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	rec      *recorder
	board    *fakeBoard
	provider *fakeProvider
	store    *recordingStore
	svc      *application.ReconcileService
	events   []string
}

func newHarness(t *testing.T, seed ...tracking.Mapping) *harness {
	t.Helper()
	h := &harness{rec: &recorder{}}
	h.board = newFakeBoard(h.rec)
	h.provider = &fakeProvider{rec: h.rec, notes: map[int64][]incident.Note{}}
	h.store = newRecordingStore(h.rec, seed...)

	dispatcher := events.NewEventDispatcher()
	dispatcher.RegisterWildcard("capture", func(_ context.Context, e events.DomainEvent) error {
		h.events = append(h.events, e.EventType())
		return nil
	})

	h.svc = application.NewReconcileService(h.store, h.board, h.provider,
		application.ReconcileConfig{StackID: todoStack, DoneStackID: doneStack},
		application.WithPublisher(dispatcher),
		application.WithClock(func() time.Time { return fixedNow }),
	)
	return h
}

func (h *harness) reconcile(t *testing.T, snapshot ...incident.Incident) *application.CycleReport {
	t.Helper()
	report, err := h.svc.Reconcile(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return report
}

func TestReconcile_IdempotentCreation(t *testing.T) {
	h := newHarness(t)
	snapshot := []incident.Incident{
		openIncident(1, "alice"),
		openIncident(2, "bob"),
		openIncident(3, "carol"),
	}

	report := h.reconcile(t, snapshot...)
	calls := h.rec.take()

	if got := count(calls, "board.create_card:4"); got != 3 {
		t.Errorf("create calls = %d, want 3", got)
	}
	if !reflect.DeepEqual(report.Created, []int64{1, 2, 3}) {
		t.Errorf("Created = %v", report.Created)
	}
	for id := int64(1); id <= 3; id++ {
		m, ok := h.store.get(id)
		if !ok {
			t.Fatalf("incident %d not tracked", id)
		}
		if m.Stage != tracking.StageAssigned {
			t.Errorf("incident %d stage = %s, want assigned", id, m.Stage)
		}
	}

	report = h.reconcile(t, snapshot...)
	calls = h.rec.take()
	if len(calls) != 0 {
		t.Errorf("second cycle made calls: %v", calls)
	}
	if len(report.Created) != 0 || len(report.Failures) != 0 {
		t.Errorf("second report = %+v", report)
	}
}

func TestReconcile_CreationCardContent(t *testing.T) {
	h := newHarness(t)
	h.reconcile(t, openIncident(9, "alice"))

	m, _ := h.store.get(9)
	draft := h.board.drafts[m.CardID]
	if draft.Title != "Offense ID 9" {
		t.Errorf("title = %q", draft.Title)
	}
	if !strings.HasPrefix(draft.Description, "This event has been triggered: 12\n") {
		t.Errorf("description = %q", draft.Description)
	}
	if draft.Type != board.CardTypePlain || draft.Order != board.DefaultOrder {
		t.Errorf("type/order = %s/%d", draft.Type, draft.Order)
	}
	if !draft.DueDate.Equal(fixedNow.Add(5 * time.Hour)) {
		t.Errorf("due = %v", draft.DueDate)
	}
	if draft.Owner != "alice" {
		t.Errorf("owner = %q", draft.Owner)
	}
	if !reflect.DeepEqual(draft.LabelIDs, []int{1, 2}) {
		t.Errorf("labels = %v", draft.LabelIDs)
	}

	wantEvents := []string{
		events.EventTypeCardCreated,
		events.EventTypeCardCommented,
		events.EventTypeCardAssigned,
		events.EventTypeCycleCompleted,
	}
	if !reflect.DeepEqual(h.events, wantEvents) {
		t.Errorf("events = %v", h.events)
	}
}

func TestReconcile_CreationCallOrder(t *testing.T) {
	h := newHarness(t)
	h.reconcile(t, openIncident(1, "alice"))

	want := []string{
		"board.label:Action needed",
		"board.label:Finished",
		"board.create_card:4",
		"store.upsert:1:card_created",
		"board.comment:101",
		"store.upsert:1:commented",
		"board.assign:101:alice",
		"store.upsert:1:assigned",
	}
	if got := h.rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls =\n%v\nwant\n%v", got, want)
	}
}

func TestReconcile_CloseOutExactlyOnce(t *testing.T) {
	h := newHarness(t, tracking.Mapping{IncidentID: 1, CardID: 11, Stage: tracking.StageAssigned})
	h.board.cards[11] = board.Card{
		ID:          11,
		Title:       "Offense ID 1",
		Description: "body",
		Type:        board.CardTypePlain,
		Order:       999,
		Owner:       "alice",
		Labels:      []board.Label{{ID: 1, Title: "Action needed"}},
	}
	h.provider.notes[1] = []incident.Note{{NoteText: "first"}, {NoteText: "second"}}

	report := h.reconcile(t, closedIncident(1))

	want := []string{
		"board.get_card:11",
		"board.label:Finished",
		"tracker.notes:1",
		"board.create_card:5",
		"store.upsert:1:archive_created",
		"store.upsert:1:mapping_cleared",
		"board.delete_card:11",
		"store.remove:1",
	}
	if got := h.rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls =\n%v\nwant\n%v", got, want)
	}
	if !reflect.DeepEqual(report.ClosedOut, []int64{1}) {
		t.Errorf("ClosedOut = %v", report.ClosedOut)
	}
	if _, ok := h.store.get(1); ok {
		t.Error("mapping still present after close-out")
	}
	if _, ok := h.board.cards[11]; ok {
		t.Error("original card not deleted")
	}

	archive := h.board.drafts[101]
	if archive.Description != "body\n\nNotes:\nfirst\nsecond" {
		t.Errorf("archive description = %q", archive.Description)
	}
	if !reflect.DeepEqual(archive.LabelIDs, []int{1, 2}) {
		t.Errorf("archive labels = %v", archive.LabelIDs)
	}
	if archive.Title != "Offense ID 1" || archive.Owner != "alice" {
		t.Errorf("archive = %+v", archive)
	}

	h.reconcile(t, closedIncident(1))
	if calls := h.rec.take(); len(calls) != 0 {
		t.Errorf("second cycle made calls: %v", calls)
	}
}

func TestReconcile_ArchiveFailureLeavesRetryState(t *testing.T) {
	h := newHarness(t, tracking.Mapping{IncidentID: 1, CardID: 11, Stage: tracking.StageAssigned})
	h.board.cards[11] = board.Card{ID: 11, Title: "Offense ID 1"}
	h.board.fail["board.create_card:5"] = errRemote

	report := h.reconcile(t, closedIncident(1))
	if len(report.Failures) != 1 || report.Failures[0].Op != application.OpCreateArchive {
		t.Fatalf("failures = %+v", report.Failures)
	}
	if !errors.Is(report.Failures[0], errRemote) {
		t.Errorf("failure does not wrap remote error: %v", report.Failures[0])
	}
	m, ok := h.store.get(1)
	if !ok || m.Stage != tracking.StageAssigned || m.CardID != 11 {
		t.Fatalf("mapping after failure = %+v, %v", m, ok)
	}
	if calls := h.rec.take(); count(calls, "board.delete_card:11") != 0 {
		t.Errorf("original deleted despite failed archive: %v", calls)
	}

	delete(h.board.fail, "board.create_card:5")
	report = h.reconcile(t, closedIncident(1))
	calls := h.rec.take()
	if count(calls, "board.create_card:5") != 1 || count(calls, "board.delete_card:11") != 1 || count(calls, "store.remove:1") != 1 {
		t.Errorf("retry calls = %v", calls)
	}
	if len(report.Failures) != 0 {
		t.Errorf("failures = %+v", report.Failures)
	}

	h.reconcile(t, closedIncident(1))
	if calls := h.rec.take(); len(calls) != 0 {
		t.Errorf("third cycle made calls: %v", calls)
	}
}

func TestReconcile_DeleteFailureIsRetried(t *testing.T) {
	h := newHarness(t, tracking.Mapping{IncidentID: 1, CardID: 11, Stage: tracking.StageAssigned})
	h.board.cards[11] = board.Card{ID: 11, Title: "Offense ID 1"}
	h.board.fail["board.delete_card:11"] = errRemote

	report := h.reconcile(t, closedIncident(1))
	if len(report.Failures) != 1 || report.Failures[0].Op != application.OpDeleteOriginal {
		t.Fatalf("failures = %+v", report.Failures)
	}
	m, ok := h.store.get(1)
	if !ok || m.Stage != tracking.StageMappingCleared || m.ArchiveCardID != 101 {
		t.Fatalf("mapping = %+v, %v", m, ok)
	}
	ms, _ := h.store.Load(context.Background())
	if _, live := ms.Live()[1]; live {
		t.Error("cleared mapping still reported live")
	}
	h.rec.take()

	// The incident has aged out of the snapshot; the pending delete still runs.
	delete(h.board.fail, "board.delete_card:11")
	report = h.reconcile(t)
	want := []string{"board.delete_card:11", "store.remove:1"}
	if got := h.rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if len(report.ClosedOut) != 1 || len(report.Failures) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestReconcile_ResumesArchiveCreated(t *testing.T) {
	h := newHarness(t, tracking.Mapping{IncidentID: 1, CardID: 11, Stage: tracking.StageArchiveCreated, ArchiveCardID: 50})
	h.board.cards[11] = board.Card{ID: 11}

	h.reconcile(t)
	want := []string{"store.upsert:1:mapping_cleared", "board.delete_card:11", "store.remove:1"}
	if got := h.rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestReconcile_AlreadyDeletedOriginalCompletes(t *testing.T) {
	h := newHarness(t, tracking.Mapping{IncidentID: 1, CardID: 11, Stage: tracking.StageMappingCleared, ArchiveCardID: 50})

	report := h.reconcile(t)
	if len(report.Failures) != 0 || len(report.ClosedOut) != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, ok := h.store.get(1); ok {
		t.Error("record not purged")
	}
}

func TestReconcile_NotFoundOnDeleteIsRetried(t *testing.T) {
	seed := tracking.Mapping{IncidentID: 1, CardID: 11, Stage: tracking.StageMappingCleared, ArchiveCardID: 50}
	h := newHarness(t, seed)
	h.board.cards[11] = board.Card{ID: 11}
	h.board.fail["board.delete_card:11"] = fmt.Errorf("delete card 11: %w", board.ErrCardNotFound)

	report := h.reconcile(t)
	if len(report.ClosedOut) != 0 || len(report.Failures) != 1 || report.Failures[0].Op != application.OpDeleteOriginal {
		t.Fatalf("report = %+v", report)
	}
	if m, ok := h.store.get(1); !ok || m != seed {
		t.Fatalf("mapping = %+v, %v", m, ok)
	}
}

func TestReconcile_UnknownIncidentIgnored(t *testing.T) {
	seed := tracking.Mapping{IncidentID: 7, CardID: 70, Stage: tracking.StageAssigned}
	h := newHarness(t, seed)

	report := h.reconcile(t, openIncident(8, "alice"))
	calls := h.rec.take()
	for _, c := range calls {
		if strings.Contains(c, ":70") || strings.HasPrefix(c, "store.upsert:7") || c == "store.remove:7" {
			t.Errorf("unexpected call for unknown incident: %s", c)
		}
	}
	if m, ok := h.store.get(7); !ok || m != seed {
		t.Errorf("mapping changed: %+v", m)
	}
	if !reflect.DeepEqual(report.Created, []int64{8}) {
		t.Errorf("Created = %v", report.Created)
	}

	h2 := newHarness(t, seed)
	h2.reconcile(t)
	if calls := h2.rec.take(); len(calls) != 0 {
		t.Errorf("calls = %v", calls)
	}
}

func TestReconcile_NonOpenUntrackedIgnored(t *testing.T) {
	h := newHarness(t)
	report := h.reconcile(t, closedIncident(1), closedIncident(2))
	if calls := h.rec.take(); len(calls) != 0 {
		t.Errorf("calls = %v", calls)
	}
	if len(report.Created) != 0 {
		t.Errorf("Created = %v", report.Created)
	}
}

func TestReconcile_LabelFailureBlocksCreation(t *testing.T) {
	tests := []struct {
		name    string
		missing string
	}{
		{"action label missing", "Action needed"},
		{"finished label missing", "Finished"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			delete(h.board.labels, tt.missing)

			report := h.reconcile(t, openIncident(1, "alice"), openIncident(2, "bob"))
			calls := h.rec.take()

			if count(calls, "board.create_card:4") != 0 {
				t.Errorf("card created without labels: %v", calls)
			}
			if count(calls, "board.label:"+tt.missing) != 1 {
				t.Errorf("label lookup not cached per cycle: %v", calls)
			}
			if ms, _ := h.store.Load(context.Background()); len(ms) != 0 {
				t.Errorf("mappings written: %v", ms)
			}
			if len(report.Failures) != 2 {
				t.Fatalf("failures = %+v", report.Failures)
			}
			for _, f := range report.Failures {
				if f.Op != application.OpResolveLabel || !errors.Is(f, board.ErrLabelNotFound) {
					t.Errorf("failure = %v", f)
				}
			}
		})
	}
}

func TestReconcile_CreateFailureRetriedAsNew(t *testing.T) {
	h := newHarness(t)
	h.board.fail["board.create_card:4"] = errRemote

	report := h.reconcile(t, openIncident(1, "alice"))
	if len(report.Failures) != 1 || report.Failures[0].Op != application.OpCreateCard {
		t.Fatalf("failures = %+v", report.Failures)
	}
	if _, ok := h.store.get(1); ok {
		t.Fatal("mapping written for failed create")
	}

	delete(h.board.fail, "board.create_card:4")
	report = h.reconcile(t, openIncident(1, "alice"))
	if !reflect.DeepEqual(report.Created, []int64{1}) {
		t.Errorf("Created = %v", report.Created)
	}
}

func TestReconcile_ResumesCreationFollowUps(t *testing.T) {
	h := newHarness(t)
	h.board.fail["board.comment:101"] = errRemote

	report := h.reconcile(t, openIncident(1, "alice"))
	calls := h.rec.take()
	if count(calls, "board.assign:101:alice") != 0 {
		t.Errorf("assigned before comment succeeded: %v", calls)
	}
	if len(report.Failures) != 1 || report.Failures[0].Op != application.OpComment {
		t.Fatalf("failures = %+v", report.Failures)
	}
	if m, _ := h.store.get(1); m.Stage != tracking.StageCardCreated {
		t.Fatalf("stage = %s", m.Stage)
	}

	delete(h.board.fail, "board.comment:101")
	report = h.reconcile(t, openIncident(1, "alice"))
	want := []string{
		"board.comment:101",
		"store.upsert:1:commented",
		"board.assign:101:alice",
		"store.upsert:1:assigned",
	}
	if got := h.rec.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(report.Resumed, []int64{1}) || len(report.Created) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestReconcile_EmptyAssigneeSkipsAssignment(t *testing.T) {
	h := newHarness(t)
	h.reconcile(t, openIncident(1, ""))

	calls := h.rec.take()
	for _, c := range calls {
		if strings.HasPrefix(c, "board.assign:") {
			t.Errorf("assign called for empty assignee: %s", c)
		}
	}
	if m, _ := h.store.get(1); m.Stage != tracking.StageAssigned {
		t.Errorf("stage = %s", m.Stage)
	}
}

func TestReconcile_PendingCreationClosedOut(t *testing.T) {
	h := newHarness(t, tracking.Mapping{IncidentID: 1, CardID: 11, Stage: tracking.StageCommented})
	h.board.cards[11] = board.Card{ID: 11}

	report := h.reconcile(t, closedIncident(1))
	calls := h.rec.take()
	if count(calls, "board.assign:11:alice") != 0 {
		t.Errorf("closed incident was assigned: %v", calls)
	}
	if !reflect.DeepEqual(report.ClosedOut, []int64{1}) {
		t.Errorf("ClosedOut = %v", report.ClosedOut)
	}
}

func TestReconcile_FetchFailuresAbortCloseOut(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		op    string
	}{
		{"card fetch", func(h *harness) { h.board.fail["board.get_card:11"] = errRemote }, application.OpFetchCard},
		{"card deleted", func(h *harness) { delete(h.board.cards, 11) }, application.OpFetchCard},
		{"notes fetch", func(h *harness) { h.provider.notesErr = errRemote }, application.OpFetchNotes},
		{"finished label", func(h *harness) { delete(h.board.labels, "Finished") }, application.OpResolveLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tracking.Mapping{IncidentID: 1, CardID: 11, Stage: tracking.StageAssigned})
			h.board.cards[11] = board.Card{ID: 11}
			tt.setup(h)

			report := h.reconcile(t, closedIncident(1))
			if len(report.Failures) != 1 || report.Failures[0].Op != tt.op {
				t.Fatalf("failures = %+v", report.Failures)
			}
			if count(h.rec.take(), "board.create_card:5") != 0 {
				t.Error("archive card created after a failed step")
			}
			if m, ok := h.store.get(1); !ok || m.Stage != tracking.StageAssigned {
				t.Errorf("mapping = %+v, %v", m, ok)
			}
		})
	}
}

func TestReconcile_StoreFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	h.store.upsertErr = errors.New("disk full")

	_, err := h.svc.Reconcile(context.Background(), incident.Snapshot{openIncident(1, "alice"), openIncident(2, "bob")})
	var storeErr *tracking.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if got := count(h.rec.take(), "board.create_card:4"); got != 1 {
		t.Errorf("cycle continued after store failure: %d creates", got)
	}
}

func TestReconcile_FailuresArePublished(t *testing.T) {
	h := newHarness(t)
	h.board.fail["board.create_card:4"] = errRemote

	h.reconcile(t, openIncident(1, "alice"))
	want := []string{events.EventTypeActionFailed, events.EventTypeCycleCompleted}
	if !reflect.DeepEqual(h.events, want) {
		t.Errorf("events = %v, want %v", h.events, want)
	}
}

func TestCardDescription(t *testing.T) {
	inc := incident.Incident{
		ID:            3,
		Status:        incident.StatusOpen,
		AssignedTo:    "alice",
		Severity:      7,
		Magnitude:     4,
		Categories:    []string{"Malware", "Botnet"},
		Description:   "Beaconing\n",
		OffenseSource: "10.1.1.1",
		EventCount:    42,
	}
	want := "This event has been triggered: 42\n" +
		"The user who handles this offense: alice\n" +
		"Offense Source: 10.1.1.1\n" +
		"Status: OPEN\n" +
		"Categories: Malware, Botnet\n" +
		"Description: Beaconing\n" +
		"Severity: 7\n" +
		"Magnitude: 4"
	if got := application.CardDescription(inc); got != want {
		t.Errorf("CardDescription =\n%s\nwant\n%s", got, want)
	}
	if got := application.CardTitle(3); got != "Offense ID 3" {
		t.Errorf("CardTitle = %q", got)
	}
}
