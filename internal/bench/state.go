package bench

import (
	"fmt"

	vberrors "github.com/conflictmonitor/viewbench/internal/errors"
)

// State is a step of one benchmark invocation.
type State string

const (
	StateIdle            State = "idle"
	StateApplying        State = "applying"
	StateWaiting         State = "waiting"
	StateConverged       State = "converged"
	StateTimedOut        State = "timed_out"
	StateBaselineRunning State = "baseline_running"
	StateAuditing        State = "auditing"
	StateReported        State = "reported"
	StateError           State = "error"
)

var transitions = map[State][]State{
	StateIdle:            {StateApplying},
	StateApplying:        {StateWaiting},
	StateWaiting:         {StateConverged, StateTimedOut},
	StateConverged:       {StateBaselineRunning, StateAuditing},
	StateTimedOut:        {StateBaselineRunning, StateAuditing},
	StateBaselineRunning: {StateAuditing},
	StateAuditing:        {StateReported},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateReported || s == StateError
}

// machine tracks the state of one invocation and the path it took.
type machine struct {
	state State
	trace []State
}

func newMachine() *machine {
	return &machine{state: StateIdle, trace: []State{StateIdle}}
}

// to moves to next. Error is reachable from every non-terminal state;
// anything else must be listed in transitions.
func (m *machine) to(next State) error {
	if !m.allowed(next) {
		return vberrors.New(vberrors.ErrCategoryInternal, vberrors.CodeIllegalTransition,
			fmt.Sprintf("illegal transition %s -> %s", m.state, next))
	}
	logger.Debugf("state %s -> %s", m.state, next)
	m.state = next
	m.trace = append(m.trace, next)
	return nil
}

func (m *machine) allowed(next State) bool {
	if m.state.Terminal() {
		return false
	}
	if next == StateError {
		return true
	}
	for _, s := range transitions[m.state] {
		if s == next {
			return true
		}
	}
	return false
}

func (m *machine) fail() {
	if !m.state.Terminal() {
		_ = m.to(StateError)
	}
}

func (m *machine) names() []string {
	out := make([]string, len(m.trace))
	for i, s := range m.trace {
		out[i] = string(s)
	}
	return out
}
