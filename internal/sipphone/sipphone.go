// Package sipphone implements the software-address Phone variant on a
// real SIP stack: it keeps a registration alive against a registrar and
// places and receives calls over INVITE dialogs. Service state follows
// the registration, so a failed registrar reads as out of service and a
// powered-off driver as power off.
package sipphone

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/dialcore/dialcore/internal/telephony"
)

// Config shapes one SIP phone line.
type Config struct {
	Name string

	// Server and Port locate the registrar/proxy.
	Server string
	Port   int

	Username string
	// AuthUsername overrides Username for digest challenges when set.
	AuthUsername string
	Password     string

	// Transport is udp, tcp, or tls.
	Transport string

	// Expiry is the requested registration lifetime in seconds. The
	// registrar may shorten it.
	Expiry int

	// ListenAddr is the local SIP socket, host:port.
	ListenAddr string

	// MediaAddr and MediaPort go into SDP offers and answers.
	MediaAddr string
	MediaPort int

	VoicemailNumber string
}

func (c *Config) withDefaults() {
	if c.Name == "" {
		c.Name = "sip"
	}
	if c.Port == 0 {
		c.Port = 5060
	}
	if c.Transport == "" {
		c.Transport = "udp"
	}
	if c.Expiry <= 0 {
		c.Expiry = 300
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:5080"
	}
	if c.MediaAddr == "" {
		c.MediaAddr = "127.0.0.1"
	}
	if c.MediaPort == 0 {
		c.MediaPort = 4000
	}
}

// Phone is one SIP line. All interface methods run on the engine
// dispatch queue; SIP transactions run on their own goroutines and post
// model updates back through the Runner.
type Phone struct {
	cfg Config

	run  telephony.Runner
	sink telephony.Sink

	ua     *sipgo.UserAgent
	client *sipgo.Client
	srv    *sipgo.Server

	service telephony.ServiceState
	muted   bool

	ringing *telephony.Call
	fg      *telephony.Call
	bg      *telephony.Call

	// dialogs tracks SIP dialog state per connection, keyed by
	// connection ID. Touched only on the dispatch queue.
	dialogs map[string]*dialog

	stopListen context.CancelFunc
	regCancel  context.CancelFunc

	logger *slog.Logger
}

// New creates a SIP phone out of service; service arrives with the
// first successful registration after Start.
func New(cfg Config) *Phone {
	cfg.withDefaults()
	p := &Phone{
		cfg:     cfg,
		service: telephony.ServiceOutOfService,
		dialogs: make(map[string]*dialog),
		logger:  slog.Default().With("component", "sipphone", "phone", cfg.Name),
	}
	p.ringing = telephony.NewCall(p)
	p.fg = telephony.NewCall(p)
	p.bg = telephony.NewCall(p)
	return p
}

func (p *Phone) Tech() telephony.Tech                 { return telephony.TechSIP }
func (p *Phone) Name() string                         { return p.cfg.Name }
func (p *Phone) ServiceState() telephony.ServiceState { return p.service }
func (p *Phone) InEcm() bool                          { return false }
func (p *Phone) VoicemailNumber() string              { return p.cfg.VoicemailNumber }
func (p *Phone) RingingCall() *telephony.Call         { return p.ringing }
func (p *Phone) ForegroundCall() *telephony.Call      { return p.fg }
func (p *Phone) BackgroundCall() *telephony.Call      { return p.bg }

// Start brings up the SIP stack, begins listening, and starts the
// registration loop.
func (p *Phone) Start(run telephony.Runner, sink telephony.Sink) error {
	if run == nil || sink == nil {
		return fmt.Errorf("sipphone %s: nil runner or sink", p.cfg.Name)
	}
	p.run = run
	p.sink = sink

	host := p.cfg.ListenAddr
	if h, _, err := net.SplitHostPort(p.cfg.ListenAddr); err == nil {
		host = h
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("dialcore"),
		sipgo.WithUserAgentHostname(host),
	)
	if err != nil {
		return fmt.Errorf("creating sip user agent: %w", err)
	}

	client, err := sipgo.NewClient(ua, sipgo.WithClientLogger(p.logger))
	if err != nil {
		ua.Close()
		return fmt.Errorf("creating sip client: %w", err)
	}

	srv, err := sipgo.NewServer(ua, sipgo.WithServerLogger(p.logger))
	if err != nil {
		client.Close()
		ua.Close()
		return fmt.Errorf("creating sip server: %w", err)
	}

	p.ua = ua
	p.client = client
	p.srv = srv

	srv.OnInvite(p.onInvite)
	srv.OnBye(p.onBye)
	srv.OnCancel(p.onCancel)
	srv.OnAck(p.onAck)
	srv.OnOptions(p.onOptions)

	ctx, cancel := context.WithCancel(context.Background())
	p.stopListen = cancel
	go func() {
		p.logger.Info("sip listener starting",
			"addr", p.cfg.ListenAddr,
			"transport", p.cfg.Transport,
		)
		if err := srv.ListenAndServe(ctx, p.cfg.Transport, p.cfg.ListenAddr); err != nil {
			p.logger.Error("sip listener stopped", "error", err)
		}
	}()

	p.run(func() {
		p.emit(telephony.Event{Kind: telephony.EventServiceState, Service: p.service})
	})
	p.startRegistration()
	return nil
}

// Stop tears down the registration loop and the SIP stack.
func (p *Phone) Stop() error {
	if p.regCancel != nil {
		p.regCancel()
		p.regCancel = nil
	}
	if p.stopListen != nil {
		p.stopListen()
		p.stopListen = nil
	}
	if p.srv != nil {
		p.srv.Close()
	}
	if p.client != nil {
		p.client.Close()
	}
	if p.ua != nil {
		p.ua.Close()
	}
	return nil
}

// Dial starts an outbound INVITE. An active call is put on hold first;
// both slots occupied rejects the dial.
func (p *Phone) Dial(number string, opts telephony.DialOptions) (*telephony.Connection, error) {
	if p.service == telephony.ServicePowerOff {
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

	if !p.fg.IsIdle() {
		if !p.bg.IsIdle() {
			return nil, telephony.ErrInvalidState
		}
		p.holdForeground()
	}
	p.fg.State = telephony.CallDialing
	p.fg.AddConnection(conn)

	ctx, cancel := context.WithCancel(context.Background())
	d := &dialog{connID: conn.ID, cancel: cancel}
	p.dialogs[conn.ID] = d
	go p.placeInvite(ctx, d, number)

	p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	return conn, nil
}

// holdForeground moves the active call to the background slot.
func (p *Phone) holdForeground() {
	p.fg.State = telephony.CallHolding
	p.fg, p.bg = p.bg, p.fg
}

// AcceptCall answers the ringing INVITE with a 200 OK carrying our SDP
// answer. An active call goes on hold first.
func (p *Phone) AcceptCall() error {
	if !p.ringing.State.IsRinging() {
		return telephony.ErrNoRingingCall
	}
	conn := p.ringing.LatestConnection()
	d := p.dialogs[conn.ID]
	if d == nil || d.req == nil || d.tx == nil {
		return telephony.ErrInvalidState
	}

	if !p.fg.IsIdle() {
		if !p.bg.IsIdle() {
			return telephony.ErrInvalidState
		}
		p.holdForeground()
	}

	answer := p.buildAnswer(d.req.Body())
	res := sip.NewResponseFromRequest(d.req, 200, "OK", answer)
	if len(answer) > 0 {
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	ensureToTag(res)
	contact := fmt.Sprintf("<sip:%s@%s>", p.cfg.Username, p.ua.Hostname())
	res.AppendHeader(sip.NewHeader("Contact", contact))

	if err := d.tx.Respond(res); err != nil {
		return fmt.Errorf("answering invite: %w", err)
	}
	d.res = res
	d.answered = true

	conn.ConnectTime = time.Now()
	p.ringing.RemoveConnection(conn.ID)
	p.ringing.Reset()
	p.fg.State = telephony.CallActive
	p.fg.AddConnection(conn)
	p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	return nil
}

// RejectCall declines the ringing INVITE with 486 Busy Here.
func (p *Phone) RejectCall() error {
	if !p.ringing.State.IsRinging() {
		return telephony.ErrNoRingingCall
	}
	conn := p.ringing.LatestConnection()
	if d := p.dialogs[conn.ID]; d != nil && d.req != nil && d.tx != nil {
		res := sip.NewResponseFromRequest(d.req, 486, "Busy Here", nil)
		if err := d.tx.Respond(res); err != nil {
			p.logger.Error("failed to reject invite", "error", err)
		}
	}
	p.endCall(p.ringing, telephony.CauseRejected)
	return nil
}

// Hangup ends the given call, sending BYE for answered dialogs and
// aborting pending outbound INVITEs.
func (p *Phone) Hangup(c *telephony.Call) error {
	if c.IsIdle() {
		return telephony.ErrInvalidState
	}
	p.endCall(c, telephony.CauseLocalHangup)
	return nil
}

// endCall disconnects every connection on the call, tears down its SIP
// dialogs, and reports each connection.
func (p *Phone) endCall(c *telephony.Call, cause telephony.DisconnectCause) {
	c.State = telephony.CallDisconnected
	for _, conn := range c.Connections {
		conn.Cause = cause
		conn.DisconnectTime = time.Now()
		p.teardownDialog(conn.ID, cause)
		p.emit(telephony.Event{Kind: telephony.EventDisconnect, Conn: conn, Cause: cause})
	}
}

// teardownDialog releases the SIP side of one connection. A local cause
// means we initiate the signaling; remote causes arrive with the
// dialog already ended by the peer.
func (p *Phone) teardownDialog(connID string, cause telephony.DisconnectCause) {
	d := p.dialogs[connID]
	if d == nil {
		return
	}
	delete(p.dialogs, connID)

	local := cause == telephony.CauseLocalHangup ||
		cause == telephony.CauseRejected ||
		cause == telephony.CausePowerOff
	if !local {
		if d.cancel != nil {
			d.cancel()
		}
		return
	}

	switch {
	case d.answered:
		bye := d.buildBye()
		if bye != nil {
			go p.sendInDialog(bye, "bye")
		}
		if d.cancel != nil {
			d.cancel()
		}
	case d.cancel != nil:
		// Pending outbound INVITE: cancelling the context aborts the
		// client transaction.
		d.cancel()
	case d.tx != nil && d.req != nil && cause != telephony.CauseRejected:
		// Unanswered inbound INVITE not already refused by RejectCall.
		res := sip.NewResponseFromRequest(d.req, 486, "Busy Here", nil)
		if err := d.tx.Respond(res); err != nil {
			p.logger.Error("failed to refuse invite", "error", err)
		}
	}
}

// SwitchHoldingAndActive swaps foreground and background. Hold is local
// to the driver; no re-INVITE is sent.
func (p *Phone) SwitchHoldingAndActive() error {
	if p.fg.IsIdle() || p.bg.IsIdle() {
		return telephony.ErrInvalidState
	}
	p.fg, p.bg = p.bg, p.fg
	p.fg.State = telephony.CallActive
	p.bg.State = telephony.CallHolding
	p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	return nil
}

// Conference is not available on a single SIP line.
func (p *Phone) Conference() error { return telephony.ErrNotSupported }

// Separate is not available on a single SIP line.
func (p *Phone) Separate(conn *telephony.Connection) error { return telephony.ErrNotSupported }

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

// SendDTMF relays one digit as a SIP INFO dtmf-relay message on the
// active call's dialog.
func (p *Phone) SendDTMF(digit rune) error {
	if p.fg.State != telephony.CallActive {
		return telephony.ErrInvalidState
	}
	for _, conn := range p.fg.Connections {
		d := p.dialogs[conn.ID]
		if d == nil || !d.answered {
			continue
		}
		info := d.buildInfo(digit)
		if info == nil {
			continue
		}
		go p.sendInDialog(info, "info")
		return nil
	}
	return telephony.ErrInvalidState
}

// SetRadioPower enables or disables the line. Off cancels the
// registration and drops every call; on restarts the registration loop
// and service returns once it succeeds.
func (p *Phone) SetRadioPower(on bool) {
	if !on {
		if p.regCancel != nil {
			p.regCancel()
			p.regCancel = nil
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
	if p.service != telephony.ServicePowerOff || p.regCancel != nil {
		return
	}
	p.startRegistration()
}

// ExitEmergencyCallback never applies to a SIP line.
func (p *Phone) ExitEmergencyCallback() error { return telephony.ErrInvalidState }

// SendMMI is not available: network service codes are a cellular
// signaling feature.
func (p *Phone) SendMMI(code string) error { return telephony.ErrNotSupported }

// SendUssdReply is not available on a SIP line.
func (p *Phone) SendUssdReply(text string) error { return telephony.ErrNotSupported }

// CancelMMI is not available on a SIP line.
func (p *Phone) CancelMMI() error { return telephony.ErrNotSupported }

// setService posts a service-state change onto the dispatch queue.
// Safe to call from registration and transaction goroutines.
func (p *Phone) setService(s telephony.ServiceState) {
	p.run(func() {
		if p.service == telephony.ServicePowerOff || p.service == s {
			return
		}
		p.service = s
		p.emit(telephony.Event{Kind: telephony.EventServiceState, Service: s})
	})
}

// emit delivers an event with the phone filled in. Callers already run
// on the dispatch queue.
func (p *Phone) emit(ev telephony.Event) {
	ev.Phone = p
	p.sink(ev)
}

// sendInDialog fires an in-dialog request (BYE, INFO) and waits for the
// response off the dispatch queue.
func (p *Phone) sendInDialog(req *sip.Request, what string) {
	ctx, cancel := context.WithTimeout(context.Background(), inDialogTimeout)
	defer cancel()

	tx, err := p.client.TransactionRequest(ctx, req)
	if err != nil {
		p.logger.Error("failed to send in-dialog request", "method", what, "error", err)
		return
	}
	res, err := getResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		p.logger.Warn("no response to in-dialog request", "method", what, "error", err)
		return
	}
	if res.StatusCode >= 300 {
		p.logger.Warn("in-dialog request rejected",
			"method", what,
			"status", res.StatusCode,
			"reason", res.Reason,
		)
	}
}

func (p *Phone) serverURI() string {
	return fmt.Sprintf("sip:%s:%d", p.cfg.Server, p.cfg.Port)
}

func (p *Phone) transport() string {
	return strings.ToUpper(p.cfg.Transport)
}
