package telephony

// Runner executes fn on the engine's dispatch queue. Drivers must perform
// all call-model mutation and all Sink deliveries from inside a Runner
// callback so the engine never sees a half-updated model.
type Runner func(fn func())

// Sink delivers a driver event to the engine after the driver has already
// updated its call model for that event.
type Sink func(ev Event)

// DialOptions carries per-dial flags from the engine to the driver.
type DialOptions struct {
	// DisplayAddress is the user-facing number when it differs from the
	// dialed string (gateway-routed calls). Empty means the dialed string
	// is also the display address.
	DisplayAddress string
	GatewayRouted  bool
	Emergency      bool
	Activation     bool
	// PostDial holds pause/wait digits stripped off the dialable string.
	PostDial string
}

// Phone is one telephony-technology instance with three call slots. All
// methods except Start and Stop are called from the engine dispatch queue
// and may mutate the call model synchronously; longer work (network
// signaling) continues asynchronously and is reported through the Sink.
type Phone interface {
	Tech() Tech
	Name() string

	ServiceState() ServiceState
	// InEcm reports an active emergency-callback window (CDMA-class).
	InEcm() bool
	VoicemailNumber() string

	RingingCall() *Call
	ForegroundCall() *Call
	BackgroundCall() *Call

	// Dial starts an outbound call with the given network dial string and
	// returns its connection in the dialing state. An MMI code is never
	// passed here; the engine diverts those to SendMMI.
	Dial(number string, opts DialOptions) (*Connection, error)

	// AcceptCall answers the ringing call. Returns ErrNoRingingCall or a
	// stateful rejection when the slot arrangement forbids it.
	AcceptCall() error

	// RejectCall declines the ringing call.
	RejectCall() error

	// Hangup ends the given call (any slot).
	Hangup(c *Call) error

	// SwitchHoldingAndActive swaps foreground and background. On the
	// CDMA-class variant this sends a flash and no holding state exists.
	SwitchHoldingAndActive() error

	// Conference merges foreground and background into one call.
	Conference() error

	// Separate detaches a conference member into its own call.
	Separate(conn *Connection) error

	// ClearDisconnected releases disconnected calls back to idle slots.
	ClearDisconnected()

	SetMute(muted bool)
	Muted() bool

	// SendDTMF plays one digit on the active call.
	SendDTMF(digit rune) error

	// SetRadioPower powers the radio on or off; a service-state event
	// follows once the radio settles.
	SetRadioPower(on bool)

	// ExitEmergencyCallback leaves the emergency-callback window.
	ExitEmergencyCallback() error

	// SendMMI submits a network service code (GSM-class only).
	SendMMI(code string) error

	// SendUssdReply continues an interactive USSD session with user input.
	SendUssdReply(text string) error

	// CancelMMI asks the network to abort the outstanding MMI session.
	// Best effort: the network may ignore it.
	CancelMMI() error

	// Start attaches the driver to the engine queue and begins delivering
	// events. Stop detaches and releases driver resources.
	Start(run Runner, sink Sink) error
	Stop() error
}
