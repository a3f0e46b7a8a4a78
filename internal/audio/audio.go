// Package audio owns the call-audio bookkeeping around the engine: the
// audio mode arbiter that filters stale mode requests, the per-connection
// mute table, and the device abstraction the arbiter drives.
package audio

import (
	"log/slog"
	"sync"
)

// Mode is an audio routing mode requested from the device.
type Mode int

const (
	ModeNormal Mode = iota
	ModeRingtone
	ModeInCall
)

// String returns the mode name used in logs and metrics.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRingtone:
		return "ringtone"
	case ModeInCall:
		return "in_call"
	default:
		return "unknown"
	}
}

// Device is the host audio path. Implementations must tolerate repeated
// sets of the same value.
type Device interface {
	SetMode(m Mode)
	SetMuted(muted bool)
	SetSpeaker(on bool)
}

// LocalDevice is the in-process device implementation: it tracks the
// current mode, mute, and speaker route and logs changes. It stands in for
// the host platform's audio service and doubles as the test device.
type LocalDevice struct {
	mu      sync.Mutex
	mode    Mode
	muted   bool
	speaker bool

	logger *slog.Logger
}

// NewLocalDevice creates a device in normal mode with mute and speaker off.
func NewLocalDevice() *LocalDevice {
	return &LocalDevice{
		logger: slog.Default().With("component", "audio"),
	}
}

// SetMode records the new audio mode.
func (d *LocalDevice) SetMode(m Mode) {
	d.mu.Lock()
	changed := d.mode != m
	d.mode = m
	d.mu.Unlock()
	if changed {
		d.logger.Debug("audio mode changed", "mode", m.String())
	}
}

// Mode returns the current audio mode.
func (d *LocalDevice) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetMuted records the microphone mute state.
func (d *LocalDevice) SetMuted(muted bool) {
	d.mu.Lock()
	changed := d.muted != muted
	d.muted = muted
	d.mu.Unlock()
	if changed {
		d.logger.Debug("microphone mute changed", "muted", muted)
	}
}

// Muted returns the microphone mute state.
func (d *LocalDevice) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// SetSpeaker records the speakerphone route.
func (d *LocalDevice) SetSpeaker(on bool) {
	d.mu.Lock()
	changed := d.speaker != on
	d.speaker = on
	d.mu.Unlock()
	if changed {
		d.logger.Debug("speaker route changed", "speaker", on)
	}
}

// Speaker returns the speakerphone route.
func (d *LocalDevice) Speaker() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaker
}
