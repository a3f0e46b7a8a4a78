// Package cdma models call state for the CDMA-class technology, which has
// no native multi-slot or conference concept: the network reports a single
// call while the machine here tracks whether one leg, a three-way setup, or
// a merged conference is actually up.
package cdma

import (
	"log/slog"
	"time"
)

// State is the variant call state.
type State int

const (
	StateIdle State = iota
	StateSingleActive
	StateThrwayActive
	StateConfCall
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSingleActive:
		return "single_active"
	case StateThrwayActive:
		return "thrway_active"
	case StateConfCall:
		return "conf_call"
	default:
		return "unknown"
	}
}

// ThreeWayWindow is how long conference classification stays masked after a
// second leg starts. The network gives no real dialing or alerting signal
// for the second leg, so the window is a fixed wall-clock approximation.
const ThreeWayWindow = 3 * time.Second

// Scheduler arms a single-shot cancellable timer whose callback runs on the
// engine dispatch queue.
type Scheduler func(d time.Duration, fn func()) (cancel func())

// Snapshot captures machine state for rollback when a driver rejects an
// operation after the machine already advanced.
type Snapshot struct {
	State        State
	AddCallArmed bool
}

// Machine is the per-phone CDMA call state machine. It lives for the whole
// process and is only touched from the engine dispatch queue.
type Machine struct {
	state        State
	addCallArmed bool

	suppressing    bool
	cancelSuppress func()

	schedule Scheduler
	logger   *slog.Logger
}

// New creates an idle machine using the given timer scheduler.
func New(schedule Scheduler) *Machine {
	return &Machine{
		state:    StateIdle,
		schedule: schedule,
		logger:   slog.Default().With("component", "cdma"),
	}
}

// State returns the current variant state.
func (m *Machine) State() State {
	return m.state
}

// InSuppressionWindow reports whether the post-second-leg window is still
// masking conference classification.
func (m *Machine) InSuppressionWindow() bool {
	return m.suppressing
}

// AddCallArmed reports whether the add-call flag set by a call-waiting
// answer is armed.
func (m *Machine) AddCallArmed() bool {
	return m.addCallArmed
}

// Snapshot captures the state the engine restores on a driver rejection.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{State: m.state, AddCallArmed: m.addCallArmed}
}

// Restore rolls the machine back to a prior snapshot.
func (m *Machine) Restore(s Snapshot) {
	m.state = s.State
	m.addCallArmed = s.AddCallArmed
}

// NoteCallStarted records the first successful dial or answer:
// idle moves to single-active, anything else is left alone.
func (m *Machine) NoteCallStarted() {
	if m.state != StateIdle {
		return
	}
	m.transition(StateSingleActive)
}

// NoteSecondLegStarted records a second leg being placed or answered on
// top of a single active call. It arms the suppression window; outside
// single-active it is a no-op.
func (m *Machine) NoteSecondLegStarted() {
	if m.state != StateSingleActive {
		m.logger.Warn("second leg noted outside single_active", "state", m.state.String())
		return
	}
	m.transition(StateThrwayActive)
	m.armSuppression()
}

// NoteFlash records a merge (the network flash): three-way moves to
// conference, any other state is a no-op.
func (m *Machine) NoteFlash() {
	if m.state != StateThrwayActive {
		return
	}
	m.transition(StateConfCall)
}

// NoteCallWaitingAnswered records answering a call-waiting call while
// already in a call: the state becomes conference and the add-call flag is
// armed.
func (m *Machine) NoteCallWaitingAnswered() {
	switch m.state {
	case StateSingleActive, StateThrwayActive:
		m.transition(StateConfCall)
		m.addCallArmed = true
	default:
		m.logger.Warn("call waiting answered outside a call", "state", m.state.String())
	}
}

// Reset returns the machine to idle when the call ends, clearing flags and
// cancelling the suppression timer so it cannot fire against a later call.
func (m *Machine) Reset() {
	m.cancelSuppression()
	m.addCallArmed = false
	if m.state != StateIdle {
		m.transition(StateIdle)
	}
}

// OkToSwap reports whether a swap (flash between conference parties) is
// allowed: only in conference.
func (m *Machine) OkToSwap() bool {
	return m.state == StateConfCall
}

// OkToMerge reports whether a merge is allowed: only in three-way and not
// while the second leg still counts as dialing.
func (m *Machine) OkToMerge() bool {
	return m.state == StateThrwayActive && !m.suppressing
}

// OkToAddCall reports whether adding a call is allowed: only single-active
// with the call-waiting flag armed.
func (m *Machine) OkToAddCall() bool {
	return m.state == StateSingleActive && m.addCallArmed
}

func (m *Machine) transition(to State) {
	m.logger.Debug("cdma state", "from", m.state.String(), "to", to.String())
	m.state = to
}

func (m *Machine) armSuppression() {
	m.cancelSuppression()
	m.suppressing = true
	m.cancelSuppress = m.schedule(ThreeWayWindow, func() {
		m.suppressing = false
		m.cancelSuppress = nil
	})
}

func (m *Machine) cancelSuppression() {
	if m.cancelSuppress != nil {
		m.cancelSuppress()
		m.cancelSuppress = nil
	}
	m.suppressing = false
}
