package telephony

// EventKind discriminates driver events.
type EventKind int

const (
	// EventCallStateChanged fires on any slot state change.
	EventCallStateChanged EventKind = iota
	// EventNewRinging fires once when an inbound call first rings.
	EventNewRinging
	// EventDisconnect fires per connection with its cause.
	EventDisconnect
	// EventServiceState fires when network registration changes.
	EventServiceState
	// EventMmiResponse carries the network's answer to an MMI/USSD code.
	EventMmiResponse
	// EventSuppServiceFailed reports an asynchronous network rejection of a
	// supplementary-service operation (swap, merge, separate, hold).
	EventSuppServiceFailed
	// EventEcmChanged reports entry to or exit from the emergency-callback
	// window.
	EventEcmChanged
)

// String returns the event kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventCallStateChanged:
		return "call_state_changed"
	case EventNewRinging:
		return "new_ringing"
	case EventDisconnect:
		return "disconnect"
	case EventServiceState:
		return "service_state"
	case EventMmiResponse:
		return "mmi_response"
	case EventSuppServiceFailed:
		return "supp_service_failed"
	case EventEcmChanged:
		return "ecm_changed"
	default:
		return "unknown"
	}
}

// SuppService identifies which supplementary-service operation failed.
type SuppService int

const (
	SuppUnknown SuppService = iota
	SuppSwitch
	SuppConference
	SuppSeparate
	SuppHold
	SuppReject
)

// String returns the supplementary-service name.
func (s SuppService) String() string {
	switch s {
	case SuppSwitch:
		return "switch"
	case SuppConference:
		return "conference"
	case SuppSeparate:
		return "separate"
	case SuppHold:
		return "hold"
	case SuppReject:
		return "reject"
	default:
		return "unknown"
	}
}

// MmiStatus is the network-side outcome of an MMI/USSD exchange.
type MmiStatus int

const (
	// MmiComplete ends the session successfully with a final message.
	MmiComplete MmiStatus = iota
	// MmiPending means the network wants further input; the session stays
	// open.
	MmiPending
	// MmiFailed ends the session with a network failure message.
	MmiFailed
	// MmiCancelled confirms a cancel request took effect.
	MmiCancelled
)

// String returns the MMI status name.
func (s MmiStatus) String() string {
	switch s {
	case MmiComplete:
		return "complete"
	case MmiPending:
		return "pending"
	case MmiFailed:
		return "failed"
	case MmiCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MmiResult is the payload of an EventMmiResponse.
type MmiResult struct {
	Code    string
	Status  MmiStatus
	Message string
}

// Event is one driver notification. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind  EventKind
	Phone Phone

	Conn  *Connection     // EventNewRinging, EventDisconnect
	Cause DisconnectCause // EventDisconnect

	Service ServiceState // EventServiceState

	MMI *MmiResult // EventMmiResponse

	Supp SuppService // EventSuppServiceFailed

	InEcm bool // EventEcmChanged
}
