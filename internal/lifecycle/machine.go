package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a trigger is not permitted in the
	// current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Machine tracks a ticket's workflow status and validates transitions.
type Machine struct {
	current     State
	transitions map[State]map[Trigger]State
}

// NewMachine creates a machine with the standard ticket transition table.
func NewMachine(initial State) (*Machine, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, initial)
	}
	return &Machine{
		current: initial,
		transitions: map[State]map[Trigger]State{
			StateOpen: {
				TriggerRequestInfo:     StateInfoRequired,
				TriggerRequestApproval: StateReview,
				TriggerDirectUpload:    StateReview,
			},
			StateReview: {
				TriggerComplete: StateClosed,
			},
		},
	}, nil
}

// State returns the current state.
func (m *Machine) State() State {
	return m.current
}

// CanFire returns true if the trigger is permitted in the current state.
func (m *Machine) CanFire(trigger Trigger) bool {
	_, ok := m.transitions[m.current][trigger]
	return ok
}

// Fire executes the trigger, moving to the target state if permitted.
func (m *Machine) Fire(trigger Trigger) error {
	next, ok := m.transitions[m.current][trigger]
	if !ok {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.current)
	}
	m.current = next
	return nil
}

// PermittedTriggers returns all triggers that can fire in the current state.
func (m *Machine) PermittedTriggers() []Trigger {
	perState := m.transitions[m.current]
	triggers := make([]Trigger, 0, len(perState))
	for t := range perState {
		triggers = append(triggers, t)
	}
	return triggers
}
