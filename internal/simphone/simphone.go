// Package simphone implements the cellular Phone variants as simulated
// drivers: scriptable service state, timed dial progression, call waiting,
// and the technology quirks (GSM hold and MMI, CDMA joined legs and the
// emergency-callback window). They make the daemon runnable end to end
// without radio hardware.
package simphone

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dialcore/dialcore/internal/telephony"
)

// Scheduler arms a single-shot cancellable timer whose callback runs on
// the engine dispatch queue. Tests inject a manual one.
type Scheduler func(d time.Duration, fn func()) (cancel func())

// Config shapes one simulated phone.
type Config struct {
	Tech telephony.Tech
	Name string

	VoicemailNumber string

	// DialToAlert and AlertToActive drive outbound call progression. The
	// far end answers automatically after AlertToActive unless AutoAnswer
	// is off.
	DialToAlert   time.Duration
	AlertToActive time.Duration
	AutoAnswer    bool

	// PowerOnDelay is how long the radio takes to find service after a
	// power-on request.
	PowerOnDelay time.Duration

	// EcmWindow is the emergency-callback window entered after an
	// emergency call ends (CDMA-class only).
	EcmWindow time.Duration

	// MmiDelay is the simulated network round trip for MMI/USSD.
	MmiDelay time.Duration

	// Scheduler overrides the timer source; nil uses real timers posting
	// onto the dispatch queue.
	Scheduler Scheduler
}

func (c *Config) withDefaults() {
	if c.Name == "" {
		c.Name = c.Tech.String()
	}
	if c.DialToAlert == 0 {
		c.DialToAlert = 400 * time.Millisecond
	}
	if c.AlertToActive == 0 {
		c.AlertToActive = 2 * time.Second
	}
	if c.PowerOnDelay == 0 {
		c.PowerOnDelay = 800 * time.Millisecond
	}
	if c.EcmWindow == 0 {
		c.EcmWindow = 10 * time.Second
	}
	if c.MmiDelay == 0 {
		c.MmiDelay = 500 * time.Millisecond
	}
}

// Phone is one simulated cellular phone. All interface methods run on the
// engine dispatch queue; the dev hooks post themselves onto it.
type Phone struct {
	cfg Config

	run  telephony.Runner
	sink telephony.Sink

	service telephony.ServiceState
	inEcm   bool
	muted   bool

	ringing *telephony.Call
	fg      *telephony.Call
	bg      *telephony.Call

	// emergencyConns marks live connections dialed as emergency so the
	// ECM window can be armed when they end.
	emergencyConns map[string]bool

	cancelProgress func()
	cancelPowerOn  func()
	cancelEcm      func()
	cancelMmi      func()
	cancelSupp     func()

	mmiScript []telephony.MmiResult

	// suppFailNext scripts a network rejection for the next matching
	// supplementary-service request.
	suppFailNext telephony.SuppService

	logger *slog.Logger
}

// New creates a simulated phone in service.
func New(cfg Config) *Phone {
	cfg.withDefaults()
	p := &Phone{
		cfg:            cfg,
		service:        telephony.ServiceInService,
		emergencyConns: make(map[string]bool),
		logger:         slog.Default().With("component", "simphone", "phone", cfg.Name),
	}
	p.ringing = telephony.NewCall(p)
	p.fg = telephony.NewCall(p)
	p.bg = telephony.NewCall(p)
	return p
}

func (p *Phone) Tech() telephony.Tech                 { return p.cfg.Tech }
func (p *Phone) Name() string                         { return p.cfg.Name }
func (p *Phone) ServiceState() telephony.ServiceState { return p.service }
func (p *Phone) InEcm() bool                          { return p.inEcm }
func (p *Phone) VoicemailNumber() string              { return p.cfg.VoicemailNumber }
func (p *Phone) RingingCall() *telephony.Call         { return p.ringing }
func (p *Phone) ForegroundCall() *telephony.Call      { return p.fg }
func (p *Phone) BackgroundCall() *telephony.Call      { return p.bg }

// Start attaches the driver and announces the current service state.
func (p *Phone) Start(run telephony.Runner, sink telephony.Sink) error {
	if run == nil || sink == nil {
		return fmt.Errorf("simphone %s: nil runner or sink", p.cfg.Name)
	}
	p.run = run
	p.sink = sink
	p.run(func() {
		p.sink(telephony.Event{Kind: telephony.EventServiceState, Phone: p, Service: p.service})
	})
	return nil
}

// Stop cancels every pending timer.
func (p *Phone) Stop() error {
	for _, cancel := range []*func(){&p.cancelProgress, &p.cancelPowerOn, &p.cancelEcm, &p.cancelMmi, &p.cancelSupp} {
		if *cancel != nil {
			(*cancel)()
			*cancel = nil
		}
	}
	return nil
}

// Dial starts an outbound call. On GSM an active call is put on hold
// first; on CDMA the new leg joins the foreground call.
func (p *Phone) Dial(number string, opts telephony.DialOptions) (*telephony.Connection, error) {
	if p.service == telephony.ServicePowerOff && !opts.Emergency {
		return nil, telephony.ErrInvalidState
	}

	address := number
	if opts.DisplayAddress != "" {
		address = opts.DisplayAddress
	}
	conn := telephony.NewConnection(address)
	conn.GatewayRouted = opts.GatewayRouted
	conn.ActivationCall = opts.Activation
	conn.PostDial = opts.PostDial
	if opts.GatewayRouted {
		conn.DialString = number
	}
	if opts.Emergency {
		p.emergencyConns[conn.ID] = true
	}

	switch {
	case p.fg.IsIdle():
		p.fg.State = telephony.CallDialing
		p.fg.AddConnection(conn)
	case p.cfg.Tech == telephony.TechCDMA:
		// No second slot on this technology: the new leg shares the
		// foreground call and the network gives no dialing signal for it.
		p.fg.AddConnection(conn)
		conn.ConnectTime = time.Now()
	default:
		if !p.bg.IsIdle() {
			return nil, telephony.ErrInvalidState
		}
		p.holdForeground()
		p.fg.State = telephony.CallDialing
		p.fg.AddConnection(conn)
	}

	p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	if p.fg.State == telephony.CallDialing {
		p.armProgress(conn.ID)
	}
	return conn, nil
}

// holdForeground moves the active call to the background slot.
func (p *Phone) holdForeground() {
	p.fg.State = telephony.CallHolding
	p.fg, p.bg = p.bg, p.fg
}

// armProgress walks an outbound call through alerting and, when auto
// answer is on, to active.
func (p *Phone) armProgress(connID string) {
	p.disarmProgress()
	p.cancelProgress = p.schedule(p.cfg.DialToAlert, func() {
		p.cancelProgress = nil
		if p.fg.State != telephony.CallDialing || !p.fgHasConn(connID) {
			return
		}
		p.fg.State = telephony.CallAlerting
		p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
		if !p.cfg.AutoAnswer {
			return
		}
		p.cancelProgress = p.schedule(p.cfg.AlertToActive, func() {
			p.cancelProgress = nil
			if p.fg.State != telephony.CallAlerting || !p.fgHasConn(connID) {
				return
			}
			p.fg.State = telephony.CallActive
			for _, conn := range p.fg.Connections {
				if conn.ID == connID {
					conn.ConnectTime = time.Now()
				}
			}
			p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
		})
	})
}

func (p *Phone) fgHasConn(id string) bool {
	for _, conn := range p.fg.Connections {
		if conn.ID == id {
			return true
		}
	}
	return false
}

func (p *Phone) disarmProgress() {
	if p.cancelProgress != nil {
		p.cancelProgress()
		p.cancelProgress = nil
	}
}

// AcceptCall answers the ringing call. On GSM an active call goes on hold;
// on CDMA the answered leg joins the foreground call.
func (p *Phone) AcceptCall() error {
	if !p.ringing.State.IsRinging() {
		return telephony.ErrNoRingingCall
	}
	conn := p.ringing.LatestConnection()

	switch {
	case p.fg.IsIdle():
	case p.cfg.Tech == telephony.TechCDMA:
		// Joined leg, no hold.
	default:
		if !p.bg.IsIdle() {
			return telephony.ErrInvalidState
		}
		p.holdForeground()
	}

	conn.ConnectTime = time.Now()
	p.ringing.RemoveConnection(conn.ID)
	p.ringing.Reset()
	p.fg.State = telephony.CallActive
	p.fg.AddConnection(conn)
	p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	return nil
}

// RejectCall declines the ringing call.
func (p *Phone) RejectCall() error {
	if !p.ringing.State.IsRinging() {
		return telephony.ErrNoRingingCall
	}
	p.endCall(p.ringing, telephony.CauseRejected)
	return nil
}

// Hangup ends the given call.
func (p *Phone) Hangup(c *telephony.Call) error {
	if c.IsIdle() {
		return telephony.ErrInvalidState
	}
	if c == p.fg {
		p.disarmProgress()
	}
	p.endCall(c, telephony.CauseLocalHangup)
	return nil
}

// endCall disconnects every connection on the call and reports each one.
func (p *Phone) endCall(c *telephony.Call, cause telephony.DisconnectCause) {
	c.State = telephony.CallDisconnected
	emergency := false
	for _, conn := range c.Connections {
		conn.Cause = cause
		conn.DisconnectTime = time.Now()
		if p.emergencyConns[conn.ID] {
			emergency = true
			delete(p.emergencyConns, conn.ID)
		}
		p.emit(telephony.Event{Kind: telephony.EventDisconnect, Conn: conn, Cause: cause})
	}
	if emergency && p.cfg.Tech == telephony.TechCDMA {
		p.enterEcm()
	}
}

// takeSuppFailure consumes a scripted rejection for op: the request is
// accepted locally, the slots stay put, and the failure arrives after the
// network round trip.
func (p *Phone) takeSuppFailure(op telephony.SuppService) bool {
	if op == telephony.SuppUnknown || p.suppFailNext != op {
		return false
	}
	p.suppFailNext = telephony.SuppUnknown
	p.cancelSupp = p.schedule(p.cfg.MmiDelay, func() {
		p.cancelSupp = nil
		p.emit(telephony.Event{Kind: telephony.EventSuppServiceFailed, Supp: op})
	})
	return true
}

// SwitchHoldingAndActive swaps foreground and background. On CDMA this is
// a flash: the network swaps parties and no holding call exists.
func (p *Phone) SwitchHoldingAndActive() error {
	if p.cfg.Tech == telephony.TechCDMA {
		if p.fg.IsIdle() {
			return telephony.ErrInvalidState
		}
		if p.takeSuppFailure(telephony.SuppSwitch) {
			return nil
		}
		p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
		return nil
	}
	if p.fg.IsIdle() || p.bg.IsIdle() {
		return telephony.ErrInvalidState
	}
	if p.takeSuppFailure(telephony.SuppSwitch) {
		return nil
	}
	p.fg, p.bg = p.bg, p.fg
	p.fg.State = telephony.CallActive
	p.bg.State = telephony.CallHolding
	p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	return nil
}

// Conference merges foreground and background. On CDMA the legs already
// share the foreground call and the flash just joins the audio.
func (p *Phone) Conference() error {
	if p.cfg.Tech == telephony.TechCDMA {
		if !p.fg.IsMultiparty() {
			return telephony.ErrInvalidState
		}
		if p.takeSuppFailure(telephony.SuppConference) {
			return nil
		}
		p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
		return nil
	}
	if p.fg.IsIdle() || p.bg.IsIdle() {
		return telephony.ErrInvalidState
	}
	if p.takeSuppFailure(telephony.SuppConference) {
		return nil
	}
	for _, conn := range p.bg.Connections {
		p.fg.AddConnection(conn)
	}
	p.bg.Reset()
	p.fg.State = telephony.CallActive
	p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	return nil
}

// Separate detaches a conference member into its own held call. The CDMA
// network cannot do this.
func (p *Phone) Separate(conn *telephony.Connection) error {
	if p.cfg.Tech == telephony.TechCDMA {
		return telephony.ErrNotSupported
	}
	if !p.fg.IsMultiparty() || !p.fgHasConn(conn.ID) {
		return telephony.ErrInvalidState
	}
	if !p.bg.IsIdle() {
		return telephony.ErrInvalidState
	}
	if p.takeSuppFailure(telephony.SuppSeparate) {
		return nil
	}
	p.fg.RemoveConnection(conn.ID)
	p.bg.State = telephony.CallHolding
	p.bg.AddConnection(conn)
	p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	return nil
}

// ClearDisconnected releases ended calls back to idle slots.
func (p *Phone) ClearDisconnected() {
	for _, c := range []*telephony.Call{p.ringing, p.fg, p.bg} {
		if c.State == telephony.CallDisconnected || c.State == telephony.CallDisconnecting {
			c.Reset()
		}
	}
}

func (p *Phone) SetMute(muted bool) { p.muted = muted }
func (p *Phone) Muted() bool        { return p.muted }

// SendDTMF plays one digit on the active call.
func (p *Phone) SendDTMF(digit rune) error {
	if p.fg.State != telephony.CallActive {
		return telephony.ErrInvalidState
	}
	p.logger.Debug("dtmf", "digit", string(digit))
	return nil
}

// SetRadioPower powers the radio on or off. Power-on takes PowerOnDelay
// before service returns; power-off drops every call immediately.
func (p *Phone) SetRadioPower(on bool) {
	if !on {
		if p.cancelPowerOn != nil {
			p.cancelPowerOn()
			p.cancelPowerOn = nil
		}
		p.service = telephony.ServicePowerOff
		for _, c := range []*telephony.Call{p.ringing, p.fg, p.bg} {
			if !c.IsIdle() {
				p.endCall(c, telephony.CausePowerOff)
			}
		}
		p.emit(telephony.Event{Kind: telephony.EventServiceState, Service: p.service})
		return
	}
	if p.service != telephony.ServicePowerOff || p.cancelPowerOn != nil {
		return
	}
	p.cancelPowerOn = p.schedule(p.cfg.PowerOnDelay, func() {
		p.cancelPowerOn = nil
		p.service = telephony.ServiceInService
		p.emit(telephony.Event{Kind: telephony.EventServiceState, Service: p.service})
	})
}

// ExitEmergencyCallback leaves the emergency-callback window.
func (p *Phone) ExitEmergencyCallback() error {
	if !p.inEcm {
		return telephony.ErrInvalidState
	}
	if p.cancelEcm != nil {
		p.cancelEcm()
		p.cancelEcm = nil
	}
	p.inEcm = false
	p.emit(telephony.Event{Kind: telephony.EventEcmChanged, InEcm: false})
	return nil
}

func (p *Phone) enterEcm() {
	if p.inEcm {
		return
	}
	p.inEcm = true
	p.emit(telephony.Event{Kind: telephony.EventEcmChanged, InEcm: true})
	p.cancelEcm = p.schedule(p.cfg.EcmWindow, func() {
		p.cancelEcm = nil
		p.inEcm = false
		p.emit(telephony.Event{Kind: telephony.EventEcmChanged, InEcm: false})
	})
}

// emit delivers an event with the phone filled in. Callers already run on
// the dispatch queue.
func (p *Phone) emit(ev telephony.Event) {
	ev.Phone = p
	p.sink(ev)
}

// schedule arms a timer through the configured scheduler, or a real timer
// posting back onto the dispatch queue.
func (p *Phone) schedule(d time.Duration, fn func()) (cancel func()) {
	if p.cfg.Scheduler != nil {
		return p.cfg.Scheduler(d, fn)
	}
	var mu sync.Mutex
	stopped := false
	t := time.AfterFunc(d, func() {
		p.run(func() {
			mu.Lock()
			s := stopped
			mu.Unlock()
			if !s {
				fn()
			}
		})
	})
	return func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		t.Stop()
	}
}
