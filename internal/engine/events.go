package engine

import (
	"log/slog"

	"github.com/dialcore/dialcore/internal/telephony"
)

// EventKind discriminates engine notifications.
type EventKind int

const (
	// EventCallState fires on any change to the slot picture.
	EventCallState EventKind = iota
	// EventRinging fires once when an inbound call starts ringing.
	EventRinging
	// EventDisconnect fires per ended connection with its cause.
	EventDisconnect
	// EventMmiInitiate fires when a network-service session starts.
	EventMmiInitiate
	// EventMmiPrompt fires when the network asks for further input.
	EventMmiPrompt
	// EventMmiFinished fires once per session on its terminal state.
	EventMmiFinished
	// EventSuppServiceFailed reports an asynchronous network rejection of
	// swap, merge, separate, hold, or reject.
	EventSuppServiceFailed
	// EventPostDialPrompt asks the subscriber to confirm sending post-dial
	// digits that were held back from the dial string.
	EventPostDialPrompt
	// EventServiceState fires when a phone's network registration changes.
	EventServiceState
	// EventEcmChanged fires on entry to or exit from the emergency-callback
	// window.
	EventEcmChanged
)

// String returns the event kind name used on the wire and in logs.
func (k EventKind) String() string {
	switch k {
	case EventCallState:
		return "call_state"
	case EventRinging:
		return "ringing"
	case EventDisconnect:
		return "disconnect"
	case EventMmiInitiate:
		return "mmi_initiate"
	case EventMmiPrompt:
		return "mmi_prompt"
	case EventMmiFinished:
		return "mmi_finished"
	case EventSuppServiceFailed:
		return "supp_service_failed"
	case EventPostDialPrompt:
		return "post_dial_prompt"
	case EventServiceState:
		return "service_state"
	case EventEcmChanged:
		return "ecm_changed"
	default:
		return "unknown"
	}
}

// MmiEvent is the session payload on MMI event kinds.
type MmiEvent struct {
	Token      string `json:"token"`
	Code       string `json:"code"`
	State      string `json:"state"`
	Message    string `json:"message,omitempty"`
	Cancelable bool   `json:"cancelable"`
}

// Event is one engine notification. Only the fields relevant to Kind are
// set. Subscribers render it however they like; the engine never surfaces
// anything itself.
type Event struct {
	Kind     EventKind               `json:"-"`
	Activity telephony.ActivityState `json:"-"`

	Phone        string `json:"phone,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Number       string `json:"number,omitempty"`
	Name         string `json:"name,omitempty"`
	Presentation string `json:"presentation,omitempty"`

	Cause  string `json:"cause,omitempty"`
	Missed bool   `json:"missed,omitempty"`

	Service string `json:"service,omitempty"`

	MMI *MmiEvent `json:"mmi,omitempty"`

	Supp string `json:"supp,omitempty"`

	PostDial string `json:"post_dial,omitempty"`

	InEcm bool `json:"in_ecm,omitempty"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events.
const subscriberBuffer = 32

type subscriber struct {
	ch chan Event
}

// Subscribe registers an event listener and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe and on engine
// stop.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	e.subMu.Lock()
	if e.subClosed {
		e.subMu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	e.subs[sub] = struct{}{}
	e.subMu.Unlock()

	return sub.ch, func() {
		e.subMu.Lock()
		if _, ok := e.subs[sub]; ok {
			delete(e.subs, sub)
			close(sub.ch)
		}
		e.subMu.Unlock()
	}
}

// publish fans the event out without blocking: a full subscriber drops it.
func (e *Engine) publish(ev Event) {
	ev.Activity = e.cm.Activity()

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for sub := range e.subs {
		select {
		case sub.ch <- ev:
		default:
			slog.Default().Warn("event subscriber full, dropping event", "kind", ev.Kind.String())
		}
	}
}

// closeSubscribers ends every subscription on engine stop.
func (e *Engine) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subClosed = true
	for sub := range e.subs {
		delete(e.subs, sub)
		close(sub.ch)
	}
}
