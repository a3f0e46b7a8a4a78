package engine

// Status is the outcome of a place-call attempt. Callers own all surfacing;
// the engine never renders these.
type Status int

const (
	StatusSuccess Status = iota
	StatusVoicemailNumberMissing
	StatusPowerOff
	StatusEmergencyOnly
	StatusOutOfService
	StatusNoPhoneNumberSupplied
	StatusDialedMMI
	StatusCallFailed
	StatusExitedEcm
)

// String returns the status name used in logs, metrics, and API responses.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusVoicemailNumberMissing:
		return "voicemail_number_missing"
	case StatusPowerOff:
		return "power_off"
	case StatusEmergencyOnly:
		return "emergency_only"
	case StatusOutOfService:
		return "out_of_service"
	case StatusNoPhoneNumberSupplied:
		return "no_phone_number_supplied"
	case StatusDialedMMI:
		return "dialed_mmi"
	case StatusCallFailed:
		return "call_failed"
	case StatusExitedEcm:
		return "exited_ecm"
	default:
		return "unknown"
	}
}

// Class groups status codes into the failure taxonomy callers branch on.
type Class int

const (
	// ClassOK covers plain success.
	ClassOK Class = iota
	// ClassServiceUnavailable covers network-registration failures.
	ClassServiceUnavailable
	// ClassInputError covers requests that could never dial as given.
	ClassInputError
	// ClassTelephonyFailure covers rejections from the telephony layer.
	ClassTelephonyFailure
	// ClassProtocolDiversion marks requests that became something other than
	// a call. Not a failure.
	ClassProtocolDiversion
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassServiceUnavailable:
		return "service_unavailable"
	case ClassInputError:
		return "input_error"
	case ClassTelephonyFailure:
		return "telephony_failure"
	case ClassProtocolDiversion:
		return "protocol_diversion"
	default:
		return "unknown"
	}
}

// Class returns the taxonomy bucket for the status.
func (s Status) Class() Class {
	switch s {
	case StatusSuccess, StatusExitedEcm:
		return ClassOK
	case StatusPowerOff, StatusEmergencyOnly, StatusOutOfService:
		return ClassServiceUnavailable
	case StatusNoPhoneNumberSupplied, StatusVoicemailNumberMissing:
		return ClassInputError
	case StatusCallFailed:
		return ClassTelephonyFailure
	case StatusDialedMMI:
		return ClassProtocolDiversion
	default:
		return ClassTelephonyFailure
	}
}

// OK reports whether the attempt should be presented as having gone through.
func (s Status) OK() bool {
	return s == StatusSuccess || s == StatusDialedMMI || s == StatusExitedEcm
}
