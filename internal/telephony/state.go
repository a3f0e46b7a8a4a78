package telephony

// CallState is the state of one Call slot.
type CallState int

const (
	CallIdle CallState = iota
	CallActive
	CallHolding
	CallDialing
	CallAlerting
	CallIncoming
	CallWaiting
	CallDisconnecting
	CallDisconnected
)

// String returns the state name used in logs and API responses.
func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallActive:
		return "active"
	case CallHolding:
		return "holding"
	case CallDialing:
		return "dialing"
	case CallAlerting:
		return "alerting"
	case CallIncoming:
		return "incoming"
	case CallWaiting:
		return "waiting"
	case CallDisconnecting:
		return "disconnecting"
	case CallDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// IsAlive reports whether the call occupies its slot: anything but idle,
// disconnecting, or disconnected.
func (s CallState) IsAlive() bool {
	switch s {
	case CallIdle, CallDisconnecting, CallDisconnected:
		return false
	default:
		return true
	}
}

// IsRinging reports whether the call is an unanswered inbound call.
func (s CallState) IsRinging() bool {
	return s == CallIncoming || s == CallWaiting
}

// IsDialing reports whether an outbound call is still being set up.
func (s CallState) IsDialing() bool {
	return s == CallDialing || s == CallAlerting
}

// ServiceState is the network registration state a Phone reports.
type ServiceState int

const (
	ServiceInService ServiceState = iota
	ServiceOutOfService
	ServiceEmergencyOnly
	ServicePowerOff
)

// String returns the service state name used in logs and API responses.
func (s ServiceState) String() string {
	switch s {
	case ServiceInService:
		return "in_service"
	case ServiceOutOfService:
		return "out_of_service"
	case ServiceEmergencyOnly:
		return "emergency_only"
	case ServicePowerOff:
		return "power_off"
	default:
		return "unknown"
	}
}

// ActivityState is the overall call activity across all phones, in
// precedence order: any ringing call wins, then any live call, then idle.
type ActivityState int

const (
	ActivityIdle ActivityState = iota
	ActivityRinging
	ActivityOffhook
)

// String returns the activity state name.
func (s ActivityState) String() string {
	switch s {
	case ActivityIdle:
		return "idle"
	case ActivityRinging:
		return "ringing"
	case ActivityOffhook:
		return "offhook"
	default:
		return "unknown"
	}
}

// Presentation is the caller-number presentation the network supplied.
type Presentation int

const (
	PresentationAllowed Presentation = iota
	PresentationRestricted
	PresentationUnknown
	PresentationPayphone
)

// String returns the presentation name used in history records and events.
func (p Presentation) String() string {
	switch p {
	case PresentationAllowed:
		return "allowed"
	case PresentationRestricted:
		return "restricted"
	case PresentationUnknown:
		return "unknown"
	case PresentationPayphone:
		return "payphone"
	default:
		return "unknown"
	}
}

// DisconnectCause records why a connection ended.
type DisconnectCause int

const (
	CauseNotDisconnected DisconnectCause = iota
	CauseLocalHangup
	CauseRemoteHangup
	CauseBusy
	CauseCongestion
	CauseNoAnswer
	CauseRejected
	CauseMissed
	CauseInvalidNumber
	CauseNetworkLost
	CausePowerOff
	CauseOutOfService
	CauseError
)

// String returns the cause name stored in call history.
func (c DisconnectCause) String() string {
	switch c {
	case CauseNotDisconnected:
		return "not_disconnected"
	case CauseLocalHangup:
		return "local_hangup"
	case CauseRemoteHangup:
		return "remote_hangup"
	case CauseBusy:
		return "busy"
	case CauseCongestion:
		return "congestion"
	case CauseNoAnswer:
		return "no_answer"
	case CauseRejected:
		return "rejected"
	case CauseMissed:
		return "missed"
	case CauseInvalidNumber:
		return "invalid_number"
	case CauseNetworkLost:
		return "network_lost"
	case CausePowerOff:
		return "power_off"
	case CauseOutOfService:
		return "out_of_service"
	case CauseError:
		return "error"
	default:
		return "unknown"
	}
}
