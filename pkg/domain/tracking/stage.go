package tracking

import "fmt"

// Stage is the persisted lifecycle position of one tracked incident.
type Stage string

const (
	// StageCardCreated: the card exists and the mapping is recorded.
	StageCardCreated Stage = "card_created"
	// StageCommented: the work-in-progress comment is posted.
	StageCommented Stage = "commented"
	// StageAssigned: the owner is assigned. This is the steady state of an open incident.
	StageAssigned Stage = "assigned"
	// StageArchiveCreated: the duplicate card exists in the done stack.
	StageArchiveCreated Stage = "archive_created"
	// StageMappingCleared: the mapping is no longer live; the original card still has to go.
	StageMappingCleared Stage = "mapping_cleared"
	// StageOriginalDeleted is terminal and never persisted.
	StageOriginalDeleted Stage = "original_deleted"
)

// Lifecycle events.
const (
	EventComment = "comment"
	EventAssign  = "assign"
	EventArchive = "archive"
	EventClear   = "clear"
	EventDelete  = "delete"
)

// validTransitions maps currentStage -> event -> targetStage.
var validTransitions = map[Stage]map[string]Stage{
	StageCardCreated: {
		EventComment: StageCommented,
		EventArchive: StageArchiveCreated,
	},
	StageCommented: {
		EventAssign:  StageAssigned,
		EventArchive: StageArchiveCreated,
	},
	StageAssigned: {
		EventArchive: StageArchiveCreated,
	},
	StageArchiveCreated: {
		EventClear: StageMappingCleared,
	},
	StageMappingCleared: {
		EventDelete: StageOriginalDeleted,
	},
	StageOriginalDeleted: {},
}

// AllStages returns every stage in lifecycle order.
func AllStages() []Stage {
	return []Stage{
		StageCardCreated,
		StageCommented,
		StageAssigned,
		StageArchiveCreated,
		StageMappingCleared,
		StageOriginalDeleted,
	}
}

// ParseStage converts a persisted value into a Stage.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return st, nil
}

// IsValid returns true if the stage is known.
func (s Stage) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

func (s Stage) String() string {
	return string(s)
}

// IsLive returns true while the mapping still represents a live card for an incident.
func (s Stage) IsLive() bool {
	switch s {
	case StageCardCreated, StageCommented, StageAssigned, StageArchiveCreated:
		return true
	default:
		return false
	}
}

// IsCreationPending returns true if creation follow-ups (comment, assign) remain.
func (s Stage) IsCreationPending() bool {
	return s == StageCardCreated || s == StageCommented
}

// IsClosing returns true once the close-out has started.
func (s Stage) IsClosing() bool {
	switch s {
	case StageArchiveCreated, StageMappingCleared, StageOriginalDeleted:
		return true
	default:
		return false
	}
}

// IsFinal returns true if no further transitions exist.
func (s Stage) IsFinal() bool {
	return len(validTransitions[s]) == 0
}

// CanTransitionWith returns true if the event is valid from this stage.
func (s Stage) CanTransitionWith(event string) bool {
	_, ok := validTransitions[s][event]
	return ok
}

// TargetFor returns the stage reached by the event.
func (s Stage) TargetFor(event string) (Stage, bool) {
	target, ok := validTransitions[s][event]
	return target, ok
}
