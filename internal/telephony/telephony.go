// Package telephony defines the technology-neutral call model shared by the
// engine and its phone drivers: phones with three call slots (ringing,
// foreground, background), calls aggregating connections, and the event
// stream drivers hand back to the engine's dispatch queue.
package telephony

import "errors"

// Tech identifies the telephony technology behind a Phone.
type Tech int

const (
	// TechGSM is the GSM-class cellular variant.
	TechGSM Tech = iota
	// TechCDMA is the CDMA-class cellular variant.
	TechCDMA
	// TechSIP is the software-address variant reached via SIP.
	TechSIP
)

// String returns the lower-case technology name used in logs and metrics.
func (t Tech) String() string {
	switch t {
	case TechGSM:
		return "gsm"
	case TechCDMA:
		return "cdma"
	case TechSIP:
		return "sip"
	default:
		return "unknown"
	}
}

// IsCellular reports whether the technology is a cellular radio variant.
func (t Tech) IsCellular() bool {
	switch t {
	case TechGSM, TechCDMA:
		return true
	case TechSIP:
		return false
	default:
		return false
	}
}

// SupportsMMI reports whether dial strings can carry MMI service codes.
// Only the GSM-class variant has network MMI/USSD.
func (t Tech) SupportsMMI() bool {
	return t == TechGSM
}

// SupportsHold reports whether the technology has a real hold state.
// CDMA has no network hold; swapping is a flash with no holding call.
func (t Tech) SupportsHold() bool {
	switch t {
	case TechGSM, TechSIP:
		return true
	case TechCDMA:
		return false
	default:
		return false
	}
}

// SupportsConference reports whether calls can be merged on this technology.
// The software-address variant carries no conference signaling here.
func (t Tech) SupportsConference() bool {
	switch t {
	case TechGSM, TechCDMA:
		return true
	case TechSIP:
		return false
	default:
		return false
	}
}

// Sentinel errors returned by Phone implementations. The engine converts
// these into status codes or boolean results; they never reach the UI as
// raw errors.
var (
	// ErrInvalidState is the stateful rejection: the operation does not fit
	// the phone's current call state.
	ErrInvalidState = errors.New("telephony: operation invalid in current state")

	// ErrNotSupported marks operations the technology cannot perform.
	ErrNotSupported = errors.New("telephony: operation not supported")

	// ErrNoRingingCall is returned when accept/reject finds nothing ringing.
	ErrNoRingingCall = errors.New("telephony: no ringing call")
)
