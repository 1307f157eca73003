// Package task models the unit of work admitted to the kernel and its
// state machine. A task is owned exclusively by the dispatching shard until
// it reaches a terminal state.
package task

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// State of a task. Completed and Failed are terminal; ParkPending hands the
// task to the warm tier.
type State uint8

const (
	Created State = iota
	Ready
	Executing
	Completed
	Failed
	ParkPending
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Executing:
		return "executing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case ParkPending:
		return "park_pending"
	}
	return "unknown"
}

// legal transitions. Failed is reachable from any non-terminal state because
// malformed input can surface at admission or dispatch; budget exhaustion is
// never Failed, it is ParkPending.
var transitions = map[State][]State{
	Created:     {Ready, Failed},
	Ready:       {Executing, Failed},
	Executing:   {Completed, Failed, ParkPending},
	ParkPending: {Ready}, // warm tier re-admission
}

// ErrTerminal is returned when transitioning out of a terminal state.
var ErrTerminal = errors.New("task: state is terminal")

// MaxObservations bounds the admission-time observation buffer.
const MaxObservations = 64

// Task is a unit of work with a precomputed pattern id.
type Task struct {
	ID           uuid.UUID
	PatternID    uint32
	state        State
	observations []uint64
}

// New creates a task in Created state for a registered pattern id.
func New(patternID uint32) *Task {
	return &Task{
		ID:        uuid.New(),
		PatternID: patternID,
		state:     Created,
	}
}

// State returns the current state.
func (t *Task) State() State { return t.state }

// Observations returns the observation buffer. The slice is owned by the
// task; callers must not mutate it.
func (t *Task) Observations() []uint64 { return t.observations }

// AddObservation appends an observation. The first observation implicitly
// moves the task from Created to Ready.
func (t *Task) AddObservation(v uint64) error {
	if t.state != Created && t.state != Ready {
		return fmt.Errorf("task %s: cannot observe in state %s", t.ID, t.state)
	}
	if len(t.observations) >= MaxObservations {
		return fmt.Errorf("task %s: observation buffer full", t.ID)
	}
	t.observations = append(t.observations, v)
	if t.state == Created {
		t.state = Ready
	}
	return nil
}

// Transition moves the task to next, enforcing the state machine.
func (t *Task) Transition(next State) error {
	if t.state == Completed || t.state == Failed {
		return fmt.Errorf("task %s: %w (%s)", t.ID, ErrTerminal, t.state)
	}
	for _, allowed := range transitions[t.state] {
		if next == allowed {
			t.state = next
			return nil
		}
	}
	return fmt.Errorf("task %s: illegal transition %s -> %s", t.ID, t.state, next)
}
