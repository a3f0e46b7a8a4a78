package engine

import (
	"strings"
	"time"

	"github.com/dialcore/dialcore/internal/audio"
	"github.com/dialcore/dialcore/internal/cdma"
	"github.com/dialcore/dialcore/internal/mmi"
	"github.com/dialcore/dialcore/internal/telephony"
)

// Action is the caller's intent for a place-call request.
type Action int

const (
	// ActionOrdinary is a normal dial.
	ActionOrdinary Action = iota
	// ActionEmergency is an explicit emergency dial; the target must be an
	// emergency number.
	ActionEmergency
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionOrdinary:
		return "ordinary"
	case ActionEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Request is one place-call invocation. Target accepts a bare number or
// the tel:, sip:, and voicemail: schemes; Gateway, when set, must use the
// plain-number scheme and carries the literal network dial string.
type Request struct {
	Action    Action `json:"action,omitempty"`
	Target    string `json:"target"`
	Gateway   string `json:"gateway,omitempty"`
	ContactID int64  `json:"contact_id,omitempty"`

	// retry counts radio-power-on replays of an emergency dial. Zero on
	// every user-initiated request.
	retry int
}

// maxRadioRetries bounds emergency radio-power-on replays before the
// attempt is reported as power-off after all.
const maxRadioRetries = 5

// postDialPromptDelay is how long after call setup the held-back post-dial
// digits are surfaced for confirmation.
const postDialPromptDelay = 2 * time.Second

// PlaceCall validates and executes one dial request and returns its status
// code. The error is non-nil only when the engine has stopped.
func (e *Engine) PlaceCall(req Request) (Status, error) {
	var st Status
	err := e.q.do(func() { st = e.placeCall(req) })
	return st, err
}

func (e *Engine) placeCall(req Request) (status Status) {
	defer func() {
		e.stats.notePlaceCall(status)
		e.logger.Info("place call",
			"action", req.Action.String(),
			"status", status.String(),
			"class", status.Class().String())
	}()

	target := telephony.ParseNumber(req.Target)
	if target.IsEmpty() {
		return StatusNoPhoneNumberSupplied
	}

	// Service state gates the request twice: once on the default phone up
	// front, and again when a service-address target routes the call to
	// the software-address phone. The selected phone's state governs.
	phone := e.cm.DefaultPhone()
	status = serviceStatus(phone.ServiceState())
	if routed := e.cm.PhoneFor(target); routed != phone {
		phone = routed
		status = serviceStatus(phone.ServiceState())
	}

	dialable := target.Address
	voicemailMissing := false
	if target.IsVoicemail() {
		if vm := phone.VoicemailNumber(); vm == "" {
			voicemailMissing = true
		} else {
			dialable = vm
		}
	}

	emergency := !target.IsServiceAddress() &&
		telephony.IsEmergencyNumber(dialable, e.extraEmergencyNumbers())

	// Action and target must agree; a mismatch fails before any dialing
	// and before service state is even consulted.
	if req.Action == ActionEmergency && !emergency {
		return StatusCallFailed
	}
	if req.Action == ActionOrdinary && emergency {
		return StatusCallFailed
	}

	if emergency {
		switch status {
		case StatusEmergencyOnly, StatusOutOfService:
			// The network may still take an emergency registration.
			status = StatusSuccess
		case StatusPowerOff:
			if req.retry >= maxRadioRetries {
				e.logger.Error("emergency dial giving up after radio retries", "attempts", req.retry)
				return StatusPowerOff
			}
			e.startRadioRetry(phone, req)
			return StatusSuccess
		}
	}
	if status != StatusSuccess {
		// A bad service state wins over a missing voicemail number.
		return status
	}
	if voicemailMissing {
		return StatusVoicemailNumberMissing
	}

	// An ordinary dial during the emergency-callback window first leaves
	// the window; the user redials once the radio is back to normal.
	if phone.InEcm() && !emergency {
		if err := phone.ExitEmergencyCallback(); err != nil {
			e.logger.Warn("exiting emergency callback", "error", err)
			return StatusCallFailed
		}
		return StatusExitedEcm
	}

	// MMI diversion: a service code never reaches Dial.
	if phone.Tech().SupportsMMI() && !target.IsServiceAddress() {
		if code, ok := mmi.Parse(dialable); ok {
			return e.initiateMmi(phone, code)
		}
	}

	activation := phone.Tech().IsCellular() &&
		telephony.IsActivationCode(dialable, e.activationCodes())

	// Nothing from a prior call may leak into this one.
	e.clearTransientInputs()

	dialableNet, postDial := telephony.SplitPostDial(dialable)

	opts := telephony.DialOptions{
		Emergency:  emergency,
		Activation: activation,
		PostDial:   postDial,
	}
	dialString := dialableNet

	if gw := strings.TrimSpace(req.Gateway); gw != "" && !emergency && !activation && !target.IsServiceAddress() {
		gwNum := telephony.ParseNumber(gw)
		if gwNum.Scheme != telephony.SchemeTel && gwNum.Scheme != "" {
			e.logger.Warn("gateway address must use the plain-number scheme", "scheme", gwNum.Scheme)
			return StatusCallFailed
		}
		if gwNum.IsEmpty() {
			return StatusCallFailed
		}
		// The gateway's number is what goes on the wire; the user-facing
		// number stays on the connection for events and history.
		dialString = gwNum.Address
		opts.DisplayAddress = dialableNet
		opts.GatewayRouted = true
	}

	conn, err := phone.Dial(dialString, opts)
	if err != nil {
		e.logger.Warn("dial rejected", "phone", phone.Name(), "error", err)
		return StatusCallFailed
	}

	if m := e.machineFor(phone); m != nil {
		switch m.State() {
		case cdma.StateIdle:
			m.NoteCallStarted()
		case cdma.StateSingleActive:
			// Second leg: this also arms the dialing-suppression window.
			m.NoteSecondLegStarted()
		}
	}

	e.arbiter.SetGate(e.cm.Activity())
	e.arbiter.Request(audio.ModeInCall)
	e.evaluateDockSpeaker()

	e.resolver.Resolve(conn, nil)

	if postDial != "" {
		connID := conn.ID
		phoneName := phone.Name()
		e.cancelPostDial = e.schedule(postDialPromptDelay, func() {
			e.cancelPostDial = nil
			e.publish(Event{
				Kind:         EventPostDialPrompt,
				Phone:        phoneName,
				ConnectionID: connID,
				PostDial:     postDial,
			})
		})
	}

	e.publish(Event{
		Kind:         EventCallState,
		Phone:        phone.Name(),
		ConnectionID: conn.ID,
		Number:       conn.Address,
	})
	return StatusSuccess
}

// initiateMmi opens the session and hands the code to the network. The
// request still reports the diversion status when the send fails; the
// failure itself arrives through the session's finished event.
func (e *Engine) initiateMmi(phone telephony.Phone, code *mmi.Code) Status {
	e.mmiPhone = phone
	e.mmiMgr.Initiate(code)
	if err := phone.SendMMI(code.Raw); err != nil {
		e.logger.Warn("mmi send rejected", "error", err)
		e.mmiMgr.HandleResponse(mmi.ResponseFailed, "request not sent")
	}
	return StatusDialedMMI
}

// startRadioRetry powers the radio up and parks the request; the next
// service-state change replays it with the counter bumped.
func (e *Engine) startRadioRetry(phone telephony.Phone, req Request) {
	parked := req
	e.pendingRetry = &parked
	phone.SetRadioPower(true)
	e.logger.Info("emergency dial waiting for radio", "attempt", req.retry+1)
}

// maybeReplayRetry resumes a parked emergency dial once the radio reports
// anything other than power-off.
func (e *Engine) maybeReplayRetry(ev telephony.Event) {
	if e.pendingRetry == nil || ev.Service == telephony.ServicePowerOff {
		return
	}
	req := *e.pendingRetry
	e.pendingRetry = nil
	req.retry++
	st := e.placeCall(req)
	e.logger.Info("replayed emergency dial", "attempt", req.retry, "status", st.String())
}

// clearTransientInputs wipes per-call UI inputs at dial time.
func (e *Engine) clearTransientInputs() {
	e.muteRestorePending = false
	e.dialpadOpen = false
	e.digitHistory = nil
	e.cancelPostDialPrompt()
}

func serviceStatus(s telephony.ServiceState) Status {
	switch s {
	case telephony.ServicePowerOff:
		return StatusPowerOff
	case telephony.ServiceEmergencyOnly:
		return StatusEmergencyOnly
	case telephony.ServiceOutOfService:
		return StatusOutOfService
	default:
		return StatusSuccess
	}
}

func (e *Engine) extraEmergencyNumbers() []string {
	if e.settings == nil {
		return nil
	}
	return e.settings.ExtraEmergencyNumbers()
}

func (e *Engine) activationCodes() []string {
	if e.settings == nil {
		return nil
	}
	return e.settings.ActivationCodes()
}
