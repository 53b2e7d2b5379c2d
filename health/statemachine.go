package health

import (
	"time"
)

const (
	// proposalCap bounds the debounce ring of recent proposals.
	proposalCap = 20

	// recordedCap bounds the ring of states actually reported, consulted by
	// the recovery gate.
	recordedCap = 20

	// historyCap bounds the transition history.
	historyCap = 100

	// transitionWindow is the span the rate limit counts transitions over.
	transitionWindow = time.Minute

	// recoveryDwellFactor scales MinStateDuration for the degraded-to-healthy
	// gate, which demands longer proof of stability than any other move.
	recoveryDwellFactor = 1.5
)

// CanTransition reports whether a direct move between two states is legal.
// Only single hops are: healthy and unhealthy never connect directly, and a
// state is not a transition target of itself. Pure function, no machine
// state involved.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	diff := from.rank() - to.rank()
	return diff == 1 || diff == -1
}

// Transition records one accepted state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// StateMachine debounces proposed states into real transitions. A proposal
// only becomes a transition when it has been confirmed by a run of identical
// proposals and passes the legality, dwell, rate and recovery gates. The
// machine is not safe for concurrent use; the Monitor serializes access.
type StateMachine struct {
	current    State
	lastChange time.Time

	confirmationSamples  int
	minStateDuration     time.Duration
	maxTransitionsPerMin int

	proposals []State
	recorded  []State
	history   []Transition
}

// NewStateMachine creates a machine starting in the healthy state.
func NewStateMachine(confirmationSamples int, minStateDuration time.Duration, maxTransitionsPerMin int, now time.Time) *StateMachine {

	if confirmationSamples <= 0 {
		confirmationSamples = 5
	}
	if minStateDuration <= 0 {
		minStateDuration = 7 * time.Second
	}
	if maxTransitionsPerMin <= 0 {
		maxTransitionsPerMin = 8
	}
	return &StateMachine{
		current:              StateHealthy,
		lastChange:           now,
		confirmationSamples:  confirmationSamples,
		minStateDuration:     minStateDuration,
		maxTransitionsPerMin: maxTransitionsPerMin,
	}
}

// Current returns the machine's present state.
func (m *StateMachine) Current() State {
	return m.current
}

// LastChange returns when the state last transitioned (or the machine start
// time if it never has).
func (m *StateMachine) LastChange() time.Time {
	return m.lastChange
}

// History returns a copy of the accepted transitions, oldest first.
func (m *StateMachine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Observe feeds one proposal into the machine and returns the resulting
// state plus whether a transition happened. A rejected or unconfirmed
// proposal leaves the state untouched.
func (m *StateMachine) Observe(proposed State, now time.Time) (State, bool) {
	m.proposals = append(m.proposals, proposed)
	if len(m.proposals) > proposalCap {
		m.proposals = m.proposals[1:]
	}

	changed := false
	if proposed != m.current && m.confirmed(proposed) && m.gatesPass(proposed, now) {
		m.history = append(m.history, Transition{From: m.current, To: proposed, At: now})
		if len(m.history) > historyCap {
			m.history = m.history[1:]
		}
		m.current = proposed
		m.lastChange = now
		changed = true
	}

	m.recorded = append(m.recorded, m.current)
	if len(m.recorded) > recordedCap {
		m.recorded = m.recorded[1:]
	}
	return m.current, changed
}

// confirmed reports whether the most recent confirmationSamples proposals
// are all equal to proposed.
func (m *StateMachine) confirmed(proposed State) bool {
	if len(m.proposals) < m.confirmationSamples {
		return false
	}
	for _, p := range m.proposals[len(m.proposals)-m.confirmationSamples:] {
		if p != proposed {
			return false
		}
	}
	return true
}

// gatesPass applies the four transition gates in order: legality, dwell,
// rate limit, and the stricter recovery gate for degraded to healthy.
func (m *StateMachine) gatesPass(proposed State, now time.Time) bool {
	if !CanTransition(m.current, proposed) {
		return false
	}
	if now.Sub(m.lastChange) < m.minStateDuration {
		return false
	}
	if m.recentTransitions(now) >= m.maxTransitionsPerMin {
		return false
	}
	if m.current == StateDegraded && proposed == StateHealthy {
		return m.recoveryGate(now)
	}
	return true
}

// recentTransitions counts accepted transitions inside the trailing rate
// window.
func (m *StateMachine) recentTransitions(now time.Time) int {
	cutoff := now.Add(-transitionWindow)
	n := 0
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].At.Before(cutoff) {
			break
		}
		n++
	}
	return n
}

// recoveryGate demands that the last confirmationSamples recorded states
// were all degraded and that the machine has dwelled in degraded for longer
// than the ordinary minimum before a promotion to healthy.
func (m *StateMachine) recoveryGate(now time.Time) bool {
	if len(m.recorded) < m.confirmationSamples {
		return false
	}
	for _, s := range m.recorded[len(m.recorded)-m.confirmationSamples:] {
		if s != StateDegraded {
			return false
		}
	}
	need := time.Duration(float64(m.minStateDuration) * recoveryDwellFactor)
	return now.Sub(m.lastChange) >= need
}
