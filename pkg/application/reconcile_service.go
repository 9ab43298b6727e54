package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/offsync/pkg/domain/board"
	"github.com/felixgeelhaar/offsync/pkg/domain/events"
	"github.com/felixgeelhaar/offsync/pkg/domain/incident"
	"github.com/felixgeelhaar/offsync/pkg/domain/tracking"
)

// Remote operations reported in ActionError.Op.
const (
	OpResolveLabel   = "resolve_label"
	OpCreateCard     = "create_card"
	OpComment        = "comment"
	OpAssign         = "assign_user"
	OpFetchCard      = "fetch_card"
	OpFetchNotes     = "fetch_notes"
	OpCreateArchive  = "create_archive_card"
	OpDeleteOriginal = "delete_original_card"
)

// Default reconcile settings.
const (
	DefaultActionLabel   = "Action needed"
	DefaultFinishedLabel = "Finished"
	DefaultDueWindow     = 5 * time.Hour
)

// ReconcileConfig holds the board placement of tracked cards.
type ReconcileConfig struct {
	StackID       int
	DoneStackID   int
	ActionLabel   string
	FinishedLabel string
	DueWindow     time.Duration
	Comment       string
}

func (c ReconcileConfig) withDefaults() ReconcileConfig {
	if c.ActionLabel == "" {
		c.ActionLabel = DefaultActionLabel
	}
	if c.FinishedLabel == "" {
		c.FinishedLabel = DefaultFinishedLabel
	}
	if c.DueWindow <= 0 {
		c.DueWindow = DefaultDueWindow
	}
	if c.Comment == "" {
		c.Comment = DefaultComment
	}
	return c
}

// ActionError is a failed remote step for one incident. It is retried on a later cycle.
type ActionError struct {
	IncidentID int64
	CardID     int
	Op         string
	Err        error
}

func (e *ActionError) Error() string {
	if e.CardID > 0 {
		return fmt.Sprintf("incident %d card %d: %s: %v", e.IncidentID, e.CardID, e.Op, e.Err)
	}
	return fmt.Sprintf("incident %d: %s: %v", e.IncidentID, e.Op, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	StartedAt time.Time
	Finished  time.Time
	// Created lists incidents that received a new card.
	Created []int64
	// Resumed lists incidents whose pending creation follow-ups completed.
	Resumed []int64
	// ClosedOut lists incidents whose close-out finished and whose record was purged.
	ClosedOut []int64
	Failures  []*ActionError
	// SnapshotErr is set when the snapshot could not be fetched.
	SnapshotErr error
}

// HasFailures returns true if any step failed.
func (r *CycleReport) HasFailures() bool {
	return len(r.Failures) > 0 || r.SnapshotErr != nil
}

// ReconcileService drives cards on the board from the incident snapshot and the mapping store.
type ReconcileService struct {
	store     tracking.Store
	board     board.Client
	incidents incident.Provider
	cfg       ReconcileConfig
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// ReconcileOption customizes a ReconcileService.
type ReconcileOption func(*ReconcileService)

// WithPublisher sets where lifecycle events are published.
func WithPublisher(p events.Publisher) ReconcileOption {
	return func(s *ReconcileService) { s.publisher = p }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ReconcileOption {
	return func(s *ReconcileService) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ReconcileOption {
	return func(s *ReconcileService) { s.now = now }
}

// NewReconcileService creates the reconciliation engine.
func NewReconcileService(store tracking.Store, bc board.Client, provider incident.Provider, cfg ReconcileConfig, opts ...ReconcileOption) *ReconcileService {
	s := &ReconcileService{
		store:     store,
		board:     bc,
		incidents: provider,
		cfg:       cfg.withDefaults(),
		publisher: events.NopPublisher{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Config returns the effective configuration.
func (s *ReconcileService) Config() ReconcileConfig {
	return s.cfg
}

// cycle carries per-cycle state.
type cycle struct {
	report *CycleReport
	labels map[string]labelResult
}

type labelResult struct {
	id  int
	err error
}

// Reconcile runs one cycle against snapshot. Remote failures are collected in the report
// and retried on the next cycle; the returned error is non-nil only for store failures.
func (s *ReconcileService) Reconcile(ctx context.Context, snapshot incident.Snapshot) (*CycleReport, error) {
	c := &cycle{
		report: &CycleReport{StartedAt: s.now()},
		labels: make(map[string]labelResult, 2),
	}

	mappings, err := s.store.Load(ctx)
	if err != nil {
		return c.report, err
	}

	index := snapshot.Index()
	for _, m := range mappings.Sorted() {
		if ctx.Err() != nil {
			break
		}
		inc, found := index[m.IncidentID]
		if err := s.reconcileTracked(ctx, c, m, inc, found); err != nil {
			return c.report, err
		}
	}

	seen := make(map[int64]bool, len(snapshot))
	for _, inc := range snapshot {
		if ctx.Err() != nil {
			break
		}
		if seen[inc.ID] {
			continue
		}
		seen[inc.ID] = true
		if _, tracked := mappings[inc.ID]; tracked || !inc.IsOpen() {
			continue
		}
		if err := s.create(ctx, c, inc); err != nil {
			return c.report, err
		}
	}

	c.report.Finished = s.now()
	s.publish(ctx, events.NewCycleCompleted(
		len(c.report.Created), len(c.report.Resumed), len(c.report.ClosedOut), len(c.report.Failures), c.report.Finished))
	return c.report, nil
}

// reconcileTracked decides the next step for an existing record.
func (s *ReconcileService) reconcileTracked(ctx context.Context, c *cycle, m tracking.Mapping, inc incident.Incident, found bool) error {
	switch {
	case m.Stage == tracking.StageMappingCleared:
		return s.deleteOriginal(ctx, c, m)
	case m.Stage == tracking.StageArchiveCreated:
		// Close-out already committed; finish it whatever the snapshot says.
		return s.finishCloseOut(ctx, c, m)
	case !found:
		return nil
	case inc.IsOpen():
		if !m.Stage.IsCreationPending() {
			return nil
		}
		done, err := s.followUp(ctx, c, m, inc)
		if err != nil {
			return err
		}
		if done {
			c.report.Resumed = append(c.report.Resumed, m.IncidentID)
		}
		return nil
	default:
		return s.closeOut(ctx, c, m)
	}
}

// create makes the card for a newly seen open incident.
func (s *ReconcileService) create(ctx context.Context, c *cycle, inc incident.Incident) error {
	actionID, err := s.labelID(ctx, c, s.cfg.ActionLabel)
	if err != nil {
		s.fail(ctx, c, inc.ID, 0, OpResolveLabel, err)
		return nil
	}
	finishedID, err := s.labelID(ctx, c, s.cfg.FinishedLabel)
	if err != nil {
		s.fail(ctx, c, inc.ID, 0, OpResolveLabel, err)
		return nil
	}

	draft := board.CardDraft{
		Title:       CardTitle(inc.ID),
		Description: CardDescription(inc),
		Type:        board.CardTypePlain,
		Order:       board.DefaultOrder,
		DueDate:     s.now().Add(s.cfg.DueWindow),
		Owner:       inc.AssignedTo,
		LabelIDs:    []int{actionID, finishedID},
	}
	card, err := s.board.CreateCard(ctx, s.cfg.StackID, draft)
	if err != nil {
		s.fail(ctx, c, inc.ID, 0, OpCreateCard, err)
		return nil
	}

	m := tracking.Mapping{IncidentID: inc.ID, CardID: card.ID, Stage: tracking.StageCardCreated}
	if err := s.store.Upsert(ctx, m); err != nil {
		s.logger.Error("card created but mapping not stored",
			"incident_id", inc.ID, "card_id", card.ID, "error", err)
		return err
	}
	c.report.Created = append(c.report.Created, inc.ID)
	s.logger.Debug("card created", "incident_id", inc.ID, "card_id", card.ID)
	s.publish(ctx, events.NewCardEvent(events.EventTypeCardCreated, inc.ID, card.ID, s.now()))

	_, err = s.followUp(ctx, c, m, inc)
	return err
}

// followUp posts the comment and assigns the owner, resuming from the persisted stage.
// It reports whether the record reached the steady stage.
func (s *ReconcileService) followUp(ctx context.Context, c *cycle, m tracking.Mapping, inc incident.Incident) (bool, error) {
	if m.Stage == tracking.StageCardCreated {
		if err := s.board.AddComment(ctx, m.CardID, s.cfg.Comment); err != nil {
			s.fail(ctx, c, m.IncidentID, m.CardID, OpComment, err)
			return false, nil
		}
		next, err := s.advance(ctx, m, tracking.EventComment)
		if err != nil {
			return false, err
		}
		m = next
		s.publish(ctx, events.NewCardEvent(events.EventTypeCardCommented, m.IncidentID, m.CardID, s.now()))
	}

	if m.Stage == tracking.StageCommented {
		if inc.AssignedTo != "" {
			if err := s.board.AssignUser(ctx, s.cfg.StackID, m.CardID, inc.AssignedTo); err != nil {
				s.fail(ctx, c, m.IncidentID, m.CardID, OpAssign, err)
				return false, nil
			}
		}
		next, err := s.advance(ctx, m, tracking.EventAssign)
		if err != nil {
			return false, err
		}
		m = next
		s.publish(ctx, events.NewCardEvent(events.EventTypeCardAssigned, m.IncidentID, m.CardID, s.now()))
	}
	return m.Stage == tracking.StageAssigned, nil
}

// closeOut duplicates the card into the done stack and starts the close-out chain.
func (s *ReconcileService) closeOut(ctx context.Context, c *cycle, m tracking.Mapping) error {
	card, err := s.board.GetCard(ctx, s.cfg.StackID, m.CardID)
	if err != nil {
		if errors.Is(err, board.ErrCardNotFound) {
			s.logger.Warn("tracked card is deleted on the board", "incident_id", m.IncidentID, "card_id", m.CardID)
		}
		s.fail(ctx, c, m.IncidentID, m.CardID, OpFetchCard, err)
		return nil
	}

	finishedID, err := s.labelID(ctx, c, s.cfg.FinishedLabel)
	if err != nil {
		s.fail(ctx, c, m.IncidentID, m.CardID, OpResolveLabel, err)
		return nil
	}

	notes, err := s.incidents.ListNotes(ctx, m.IncidentID)
	if err != nil {
		s.fail(ctx, c, m.IncidentID, m.CardID, OpFetchNotes, err)
		return nil
	}

	draft := board.DraftFrom(*card).WithLabel(finishedID)
	draft.Description = AppendNotes(draft.Description, notes)

	archive, err := s.board.CreateCard(ctx, s.cfg.DoneStackID, draft)
	if err != nil {
		s.fail(ctx, c, m.IncidentID, m.CardID, OpCreateArchive, err)
		return nil
	}

	m.ArchiveCardID = archive.ID
	m, err = s.advance(ctx, m, tracking.EventArchive)
	if err != nil {
		return err
	}
	s.logger.Debug("archive card created",
		"incident_id", m.IncidentID, "card_id", m.CardID, "archive_card_id", archive.ID)
	s.publish(ctx, events.NewCardEvent(events.EventTypeCardArchived, m.IncidentID, archive.ID, s.now()))

	return s.finishCloseOut(ctx, c, m)
}

// finishCloseOut clears the mapping and deletes the original card.
func (s *ReconcileService) finishCloseOut(ctx context.Context, c *cycle, m tracking.Mapping) error {
	m, err := s.advance(ctx, m, tracking.EventClear)
	if err != nil {
		return err
	}
	s.publish(ctx, events.NewCardEvent(events.EventTypeMappingCleared, m.IncidentID, m.CardID, s.now()))
	return s.deleteOriginal(ctx, c, m)
}

// deleteOriginal removes the source card and purges the record. A card the board reports as
// deleted counts as deleted; a bare not-found is retried like any other failure.
func (s *ReconcileService) deleteOriginal(ctx context.Context, c *cycle, m tracking.Mapping) error {
	err := s.board.DeleteCard(ctx, s.cfg.StackID, m.CardID)
	if err != nil && !errors.Is(err, board.ErrCardDeleted) {
		s.fail(ctx, c, m.IncidentID, m.CardID, OpDeleteOriginal, err)
		return nil
	}

	if _, err := m.Advance(tracking.EventDelete); err != nil {
		return err
	}
	if err := s.store.Remove(ctx, m.IncidentID); err != nil {
		return err
	}
	c.report.ClosedOut = append(c.report.ClosedOut, m.IncidentID)
	s.logger.Debug("incident closed out", "incident_id", m.IncidentID, "card_id", m.CardID)
	s.publish(ctx, events.NewCardEvent(events.EventTypeCardDeleted, m.IncidentID, m.CardID, s.now()))
	return nil
}

// advance applies a lifecycle event and persists the new stage.
func (s *ReconcileService) advance(ctx context.Context, m tracking.Mapping, event string) (tracking.Mapping, error) {
	next, err := m.Advance(event)
	if err != nil {
		return m, err
	}
	if err := s.store.Upsert(ctx, next); err != nil {
		return m, err
	}
	return next, nil
}

// labelID resolves a label title at most once per cycle.
func (s *ReconcileService) labelID(ctx context.Context, c *cycle, title string) (int, error) {
	if r, ok := c.labels[title]; ok {
		return r.id, r.err
	}
	id, err := s.board.LabelID(ctx, title)
	c.labels[title] = labelResult{id: id, err: err}
	return id, err
}

func (s *ReconcileService) fail(ctx context.Context, c *cycle, incidentID int64, cardID int, op string, err error) {
	c.report.Failures = append(c.report.Failures, &ActionError{
		IncidentID: incidentID,
		CardID:     cardID,
		Op:         op,
		Err:        err,
	})
	s.publish(ctx, events.NewActionFailed(incidentID, cardID, op, err, s.now()))
}

func (s *ReconcileService) publish(ctx context.Context, event events.DomainEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "type", event.EventType(), "error", err)
	}
}
