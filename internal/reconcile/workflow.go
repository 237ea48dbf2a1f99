package reconcile

import (
	"errors"
	"fmt"
	"time"
)

// State is a step in the diagnostic workflow for one identity.
type State string

const (
	StateIdle        State = "idle"
	StateChecking    State = "checking"
	StateSynced      State = "synced"
	StateMismatch    State = "mismatch"
	StateRemediating State = "remediating"
	StateRechecking  State = "rechecking"
)

// ErrInvalidTransition indicates a workflow step that the transition table
// does not allow.
var ErrInvalidTransition = errors.New("reconcile: invalid workflow transition")

// transitions is the complete set of legal workflow steps. Anything absent
// here is rejected.
var transitions = map[State][]State{
	StateIdle:        {StateChecking},
	StateChecking:    {StateSynced, StateMismatch},
	StateSynced:      {StateChecking},
	StateMismatch:    {StateChecking, StateRemediating},
	StateRemediating: {StateRechecking},
	StateRechecking:  {StateSynced, StateMismatch},
}

// Workflow tracks where one identity sits in the diagnostic flow. A workflow
// left in any non-idle state beyond its timeout snaps back to idle so a stuck
// run cannot block fresh checks forever.
type Workflow struct {
	state     State
	changedAt time.Time
	timeout   time.Duration
}

// NewWorkflow constructs an idle workflow with the given staleness timeout.
func NewWorkflow(timeout time.Duration) *Workflow {
	return &Workflow{state: StateIdle, timeout: timeout}
}

// State reports the current workflow state.
func (w *Workflow) State() State {
	return w.state
}

// Refresh resets a timed-out workflow to idle, forcing the next operation to
// start from a fresh check.
func (w *Workflow) Refresh(now time.Time) {
	if w.state != StateIdle && now.Sub(w.changedAt) > w.timeout {
		w.state = StateIdle
	}
}

// To advances the workflow, rejecting steps outside the transition table.
func (w *Workflow) To(next State, now time.Time) error {
	for _, allowed := range transitions[w.state] {
		if allowed == next {
			w.state = next
			w.changedAt = now
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.state, next)
}
