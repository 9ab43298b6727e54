package tracking_test

import (
	"errors"
	"testing"

	"github.com/felixgeelhaar/offsync/pkg/domain/tracking"
)

func TestLifecycleMachine_CreationPath(t *testing.T) {
	fsm, err := tracking.NewLifecycleMachine(tracking.StageCardCreated, 7)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	for _, step := range []struct {
		event string
		want  tracking.Stage
	}{
		{tracking.EventComment, tracking.StageCommented},
		{tracking.EventAssign, tracking.StageAssigned},
		{tracking.EventArchive, tracking.StageArchiveCreated},
		{tracking.EventClear, tracking.StageMappingCleared},
		{tracking.EventDelete, tracking.StageOriginalDeleted},
	} {
		got, err := fsm.Transition(step.event)
		if err != nil {
			t.Fatalf("%s: %v", step.event, err)
		}
		if got != step.want {
			t.Fatalf("%s: stage = %s, want %s", step.event, got, step.want)
		}
	}

	if !fsm.Current().IsFinal() {
		t.Error("expected final stage after delete")
	}
}

func TestLifecycleMachine_InvalidTransition(t *testing.T) {
	fsm, err := tracking.NewLifecycleMachine(tracking.StageAssigned, 9)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, err = fsm.Transition(tracking.EventDelete)
	if err == nil {
		t.Fatal("expected error deleting before archive")
	}
	if !errors.Is(err, tracking.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	var te *tracking.TransitionError
	if !errors.As(err, &te) || te.IncidentID != 9 || te.From != tracking.StageAssigned {
		t.Errorf("unexpected transition error: %#v", err)
	}
	if fsm.Current() != tracking.StageAssigned {
		t.Errorf("stage changed on rejected event: %s", fsm.Current())
	}
}

func TestLifecycleMachine_ArchiveBeforeFollowUps(t *testing.T) {
	for _, start := range []tracking.Stage{tracking.StageCardCreated, tracking.StageCommented} {
		t.Run(string(start), func(t *testing.T) {
			fsm, err := tracking.NewLifecycleMachine(start, 1)
			if err != nil {
				t.Fatal(err)
			}
			if !fsm.CanTransition(tracking.EventArchive) {
				t.Fatal("expected archive to be allowed")
			}
			if got, err := fsm.Transition(tracking.EventArchive); err != nil || got != tracking.StageArchiveCreated {
				t.Fatalf("archive: stage=%s err=%v", got, err)
			}
		})
	}
}

func TestLifecycleMachine_UnknownStage(t *testing.T) {
	if _, err := tracking.NewLifecycleMachine(tracking.Stage("bogus"), 1); err == nil {
		t.Error("expected error for unknown stage")
	}
}
