package audio

import (
	"log/slog"

	"github.com/dialcore/dialcore/internal/telephony"
)

// Arbiter gates audio-mode requests behind the overall call activity so a
// stale asynchronous request cannot flap routing during a state race. The
// gate has three states (idle, ringing, offhook); requests that do not fit
// the gate are dropped, never queued or retried.
type Arbiter struct {
	gate   telephony.ActivityState
	mode   Mode
	device Device

	logger *slog.Logger
}

// NewArbiter creates an arbiter in the idle gate with the device left in
// normal mode.
func NewArbiter(device Device) *Arbiter {
	return &Arbiter{
		gate:   telephony.ActivityIdle,
		mode:   ModeNormal,
		device: device,
		logger: slog.Default().With("component", "audio"),
	}
}

// SetGate moves the gate to the given activity. The gate change itself
// never touches the device; a mode only changes on an accepted Request.
func (a *Arbiter) SetGate(gate telephony.ActivityState) {
	if a.gate == gate {
		return
	}
	a.logger.Debug("audio gate moved", "from", a.gate.String(), "to", gate.String())
	a.gate = gate
}

// Gate returns the current gate state.
func (a *Arbiter) Gate() telephony.ActivityState {
	return a.gate
}

// Mode returns the last mode accepted through the gate.
func (a *Arbiter) Mode() Mode {
	return a.mode
}

// Request applies a mode change if the gate allows it and reports whether
// it was applied. The filter is fixed:
//
//	ringing drops normal and in-call,
//	offhook drops normal and ringtone,
//	idle drops in-call.
func (a *Arbiter) Request(m Mode) bool {
	if !a.allows(m) {
		a.logger.Debug("audio mode request dropped", "gate", a.gate.String(), "mode", m.String())
		return false
	}
	a.mode = m
	a.device.SetMode(m)
	return true
}

func (a *Arbiter) allows(m Mode) bool {
	switch a.gate {
	case telephony.ActivityRinging:
		return m == ModeRingtone
	case telephony.ActivityOffhook:
		return m == ModeInCall
	case telephony.ActivityIdle:
		return m != ModeInCall
	default:
		return false
	}
}
