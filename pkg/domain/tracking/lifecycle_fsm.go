package tracking

import (
	"fmt"
	"strconv"

	"github.com/felixgeelhaar/statekit"
)

// init checks that every stage has an FSM state definition below.
func init() {
	for _, st := range AllStages() {
		if _, ok := validTransitions[st]; !ok {
			panic(fmt.Sprintf("stage %q has no transition table entry", st))
		}
	}
}

// LifecycleContext carries the incident the machine belongs to.
type LifecycleContext struct {
	IncidentID int64
}

// LifecycleMachine validates stage transitions for one tracked incident.
type LifecycleMachine struct {
	incidentID  int64
	interpreter *statekit.Interpreter[LifecycleContext]
}

// NewLifecycleMachine starts a machine at the given persisted stage.
func NewLifecycleMachine(initial Stage, incidentID int64) (*LifecycleMachine, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("incident %d: unknown stage %q", incidentID, initial)
	}

	builder := statekit.NewMachine[LifecycleContext]("incident-" + strconv.FormatInt(incidentID, 10)).
		WithInitial(sid(initial)).
		WithContext(LifecycleContext{IncidentID: incidentID})

	builder.State(sid(StageCardCreated)).
		On(EventComment).Target(sid(StageCommented)).
		On(EventArchive).Target(sid(StageArchiveCreated)).
		Done()

	builder.State(sid(StageCommented)).
		On(EventAssign).Target(sid(StageAssigned)).
		On(EventArchive).Target(sid(StageArchiveCreated)).
		Done()

	builder.State(sid(StageAssigned)).
		On(EventArchive).Target(sid(StageArchiveCreated)).
		Done()

	builder.State(sid(StageArchiveCreated)).
		On(EventClear).Target(sid(StageMappingCleared)).
		Done()

	builder.State(sid(StageMappingCleared)).
		On(EventDelete).Target(sid(StageOriginalDeleted)).
		Done()

	builder.State(sid(StageOriginalDeleted)).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build lifecycle machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()

	return &LifecycleMachine{incidentID: incidentID, interpreter: interpreter}, nil
}

// Transition sends the event and returns the new stage.
func (m *LifecycleMachine) Transition(event string) (Stage, error) {
	before := m.Current()
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	after := m.Current()

	if before != after {
		return after, nil
	}
	return before, &TransitionError{IncidentID: m.incidentID, From: before, Event: event}
}

// Current returns the machine's stage.
func (m *LifecycleMachine) Current() Stage {
	return Stage(m.interpreter.State().Value)
}

// CanTransition checks if the event is valid from the current stage.
func (m *LifecycleMachine) CanTransition(event string) bool {
	return m.Current().CanTransitionWith(event)
}

func sid(s Stage) statekit.StateID {
	return statekit.StateID(s)
}
