package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/dialcore/dialcore/internal/audio"
	"github.com/dialcore/dialcore/internal/cdma"
	"github.com/dialcore/dialcore/internal/simphone"
	"github.com/dialcore/dialcore/internal/telephony"
)

// fakePhone is a scriptable in-memory driver for engine tests.
type fakePhone struct {
	tech      telephony.Tech
	name      string
	service   telephony.ServiceState
	inEcm     bool
	voicemail string

	ringing *telephony.Call
	fg      *telephony.Call
	bg      *telephony.Call

	run  telephony.Runner
	sink telephony.Sink

	muted     bool
	dialCalls int
	dialErr   error
	acceptErr error
	lastDial  string
	lastOpts  telephony.DialOptions
	lastConn  *telephony.Connection
	radioSets []bool
	mmiSent   []string
	ussdSent  []string
	ecmExits  int
}

func newFakePhone(tech telephony.Tech, name string) *fakePhone {
	p := &fakePhone{tech: tech, name: name, service: telephony.ServiceInService}
	p.ringing = telephony.NewCall(p)
	p.fg = telephony.NewCall(p)
	p.bg = telephony.NewCall(p)
	return p
}

func (p *fakePhone) Tech() telephony.Tech                 { return p.tech }
func (p *fakePhone) Name() string                         { return p.name }
func (p *fakePhone) ServiceState() telephony.ServiceState { return p.service }
func (p *fakePhone) InEcm() bool                          { return p.inEcm }
func (p *fakePhone) VoicemailNumber() string              { return p.voicemail }
func (p *fakePhone) RingingCall() *telephony.Call         { return p.ringing }
func (p *fakePhone) ForegroundCall() *telephony.Call      { return p.fg }
func (p *fakePhone) BackgroundCall() *telephony.Call      { return p.bg }

func (p *fakePhone) Dial(number string, opts telephony.DialOptions) (*telephony.Connection, error) {
	p.dialCalls++
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	p.lastDial = number
	p.lastOpts = opts

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
	p.lastConn = conn

	if p.fg.IsIdle() {
		p.fg.State = telephony.CallDialing
	}
	p.fg.AddConnection(conn)
	return conn, nil
}

func (p *fakePhone) AcceptCall() error {
	if p.acceptErr != nil {
		return p.acceptErr
	}
	if !p.ringing.State.IsRinging() {
		return telephony.ErrNoRingingCall
	}
	conn := p.ringing.LatestConnection()
	conn.ConnectTime = time.Now()
	p.ringing.RemoveConnection(conn.ID)
	p.ringing.Reset()
	p.fg.State = telephony.CallActive
	p.fg.AddConnection(conn)
	return nil
}

func (p *fakePhone) RejectCall() error {
	if !p.ringing.State.IsRinging() {
		return telephony.ErrNoRingingCall
	}
	for _, conn := range p.ringing.Connections {
		conn.Cause = telephony.CauseRejected
		conn.DisconnectTime = time.Now()
	}
	p.ringing.State = telephony.CallDisconnected
	return nil
}

func (p *fakePhone) Hangup(c *telephony.Call) error {
	if c.IsIdle() {
		return telephony.ErrInvalidState
	}
	for _, conn := range c.Connections {
		conn.Cause = telephony.CauseLocalHangup
		conn.DisconnectTime = time.Now()
	}
	c.State = telephony.CallDisconnected
	return nil
}

func (p *fakePhone) SwitchHoldingAndActive() error {
	p.fg, p.bg = p.bg, p.fg
	return nil
}

func (p *fakePhone) Conference() error {
	if p.bg.IsIdle() {
		return telephony.ErrInvalidState
	}
	for _, conn := range p.bg.Connections {
		p.fg.AddConnection(conn)
	}
	p.bg.Reset()
	p.fg.State = telephony.CallActive
	return nil
}

func (p *fakePhone) Separate(conn *telephony.Connection) error {
	p.fg.RemoveConnection(conn.ID)
	p.bg.State = telephony.CallHolding
	p.bg.AddConnection(conn)
	return nil
}

func (p *fakePhone) ClearDisconnected() {
	for _, c := range []*telephony.Call{p.ringing, p.fg, p.bg} {
		if c.State == telephony.CallDisconnected || c.State == telephony.CallDisconnecting {
			c.Reset()
		}
	}
}

func (p *fakePhone) SetMute(muted bool) { p.muted = muted }
func (p *fakePhone) Muted() bool        { return p.muted }

func (p *fakePhone) SendDTMF(digit rune) error {
	if p.fg.IsIdle() {
		return telephony.ErrInvalidState
	}
	return nil
}

func (p *fakePhone) SetRadioPower(on bool) { p.radioSets = append(p.radioSets, on) }

func (p *fakePhone) ExitEmergencyCallback() error {
	p.ecmExits++
	p.inEcm = false
	return nil
}

func (p *fakePhone) SendMMI(code string) error {
	if !p.tech.SupportsMMI() {
		return telephony.ErrNotSupported
	}
	p.mmiSent = append(p.mmiSent, code)
	return nil
}

func (p *fakePhone) SendUssdReply(text string) error {
	p.ussdSent = append(p.ussdSent, text)
	return nil
}

func (p *fakePhone) CancelMMI() error { return nil }

func (p *fakePhone) Start(run telephony.Runner, sink telephony.Sink) error {
	p.run = run
	p.sink = sink
	return nil
}

func (p *fakePhone) Stop() error { return nil }

// deliver posts a driver event onto the engine queue the way a real driver
// would.
func (p *fakePhone) deliver(ev telephony.Event) {
	ev.Phone = p
	p.run(func() { p.sink(ev) })
}

// ringIn injects an inbound call and announces it.
func (p *fakePhone) ringIn(number string) *telephony.Connection {
	conn := telephony.NewConnection(number)
	conn.Incoming = true
	p.run(func() {
		p.ringing.State = telephony.CallIncoming
		p.ringing.AddConnection(conn)
		p.sink(telephony.Event{Kind: telephony.EventNewRinging, Phone: p, Conn: conn})
	})
	return conn
}

type fakeSettings struct {
	extraEmergency []string
	activation     []string
	dockSpeaker    bool
}

func (s *fakeSettings) ExtraEmergencyNumbers() []string { return s.extraEmergency }
func (s *fakeSettings) ActivationCodes() []string       { return s.activation }
func (s *fakeSettings) DockAutoSpeaker() bool           { return s.dockSpeaker }

type fakeRecorder struct {
	mu   sync.Mutex
	recs []CallRecord
}

func (r *fakeRecorder) RecordCall(rec CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *fakeRecorder) records() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallRecord(nil), r.recs...)
}

func newTestEngine(t *testing.T, phones ...*fakePhone) (*Engine, *fakeRecorder) {
	t.Helper()
	cm := telephony.NewCallManager(phones[0])
	for _, p := range phones[1:] {
		cm.Register(p)
	}
	recorder := &fakeRecorder{}
	e := New(Options{
		Manager:  cm,
		Device:   audio.NewLocalDevice(),
		Settings: &fakeSettings{},
		History:  recorder,
	})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e, recorder
}

// flush waits for everything already queued to run.
func flush(e *Engine) {
	e.q.do(func() {})
}

// stepScheduler collects simulated-driver timers and fires them on the
// engine dispatch queue on demand.
type stepScheduler struct {
	mu  sync.Mutex
	fns []func()
}

func (s *stepScheduler) schedule(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.fns)
	s.fns = append(s.fns, fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.fns[i] = nil
	}
}

// fire runs every armed timer, including ones armed by an earlier timer in
// the same pass.
func (s *stepScheduler) fire(e *Engine) {
	e.q.do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := 0; i < len(s.fns); i++ {
			if fn := s.fns[i]; fn != nil {
				s.fns[i] = nil
				s.mu.Unlock()
				fn()
				s.mu.Lock()
			}
		}
	})
}

// newSimEngine runs the engine over real simulated drivers instead of the
// scriptable fakes, so driver events arrive the way production drivers
// deliver them.
func newSimEngine(t *testing.T, phones ...telephony.Phone) *Engine {
	t.Helper()
	cm := telephony.NewCallManager(phones[0])
	for _, p := range phones[1:] {
		cm.Register(p)
	}
	e := New(Options{
		Manager:  cm,
		Device:   audio.NewLocalDevice(),
		Settings: &fakeSettings{},
	})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func TestPlaceCallActionTargetConsistency(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		target string
	}{
		{"ordinary action with emergency target", ActionOrdinary, "911"},
		{"emergency action with ordinary target", ActionEmergency, "5551234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePhone(telephony.TechGSM, "cell")
			e, _ := newTestEngine(t, p)

			st, err := e.PlaceCall(Request{Action: tt.action, Target: tt.target})
			if err != nil {
				t.Fatalf("PlaceCall: %v", err)
			}
			if st != StatusCallFailed {
				t.Errorf("status = %v, want call_failed", st)
			}
			if p.dialCalls != 0 {
				t.Errorf("dial attempts = %d, want 0", p.dialCalls)
			}
		})
	}
}

func TestPlaceCallEmptyTarget(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, _ := newTestEngine(t, p)

	st, _ := e.PlaceCall(Request{Target: "   "})
	if st != StatusNoPhoneNumberSupplied {
		t.Errorf("status = %v, want no_phone_number_supplied", st)
	}
}

func TestPlaceCallServiceStateBeatsVoicemailMissing(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	p.service = telephony.ServiceOutOfService
	// No voicemail number configured either; the service-state error must
	// be the one reported.
	e, _ := newTestEngine(t, p)

	st, _ := e.PlaceCall(Request{Target: "voicemail:"})
	if st != StatusOutOfService {
		t.Errorf("status = %v, want out_of_service", st)
	}

	p.service = telephony.ServiceInService
	st, _ = e.PlaceCall(Request{Target: "voicemail:"})
	if st != StatusVoicemailNumberMissing {
		t.Errorf("status = %v, want voicemail_number_missing", st)
	}
}

func TestPlaceCallVoicemailDialsConfiguredNumber(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	p.voicemail = "5550199"
	e, _ := newTestEngine(t, p)

	st, _ := e.PlaceCall(Request{Target: "voicemail:"})
	if st != StatusSuccess {
		t.Fatalf("status = %v, want success", st)
	}
	if p.lastDial != "5550199" {
		t.Errorf("dialed %q, want the voicemail number", p.lastDial)
	}
}

func TestPlaceCallEmergencyOverridesDegradedService(t *testing.T) {
	for _, svc := range []telephony.ServiceState{telephony.ServiceEmergencyOnly, telephony.ServiceOutOfService} {
		t.Run(svc.String(), func(t *testing.T) {
			p := newFakePhone(telephony.TechGSM, "cell")
			p.service = svc
			e, _ := newTestEngine(t, p)

			st, _ := e.PlaceCall(Request{Action: ActionEmergency, Target: "911"})
			if st != StatusSuccess {
				t.Errorf("status = %v, want success", st)
			}
			if p.dialCalls != 1 {
				t.Errorf("dial attempts = %d, want 1", p.dialCalls)
			}
		})
	}
}

func TestPlaceCallEmergencyPowerOffStartsRadioRetry(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	p.service = telephony.ServicePowerOff
	e, _ := newTestEngine(t, p)

	st, _ := e.PlaceCall(Request{Action: ActionEmergency, Target: "911"})
	if st != StatusSuccess {
		t.Fatalf("status = %v, want success with the retry parked", st)
	}
	if p.dialCalls != 0 {
		t.Fatalf("dial attempts = %d, want 0 before the radio is up", p.dialCalls)
	}
	if len(p.radioSets) != 1 || !p.radioSets[0] {
		t.Fatalf("radio power requests = %v, want one power-on", p.radioSets)
	}

	// Radio comes up: the parked request replays with its counter bumped.
	p.service = telephony.ServiceInService
	p.deliver(telephony.Event{Kind: telephony.EventServiceState, Service: telephony.ServiceInService})
	flush(e)

	if p.dialCalls != 1 {
		t.Fatalf("dial attempts after radio up = %d, want 1", p.dialCalls)
	}
	if p.lastDial != "911" {
		t.Errorf("dialed %q, want 911", p.lastDial)
	}
	if !p.lastOpts.Emergency {
		t.Error("replayed dial lost the emergency flag")
	}
}

func TestPlaceCallOrdinaryPowerOffFails(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	p.service = telephony.ServicePowerOff
	e, _ := newTestEngine(t, p)

	st, _ := e.PlaceCall(Request{Target: "5551234"})
	if st != StatusPowerOff {
		t.Errorf("status = %v, want power_off", st)
	}
	if len(p.radioSets) != 0 {
		t.Errorf("ordinary dial touched radio power: %v", p.radioSets)
	}
}

func TestPlaceCallGatewayKeepsNumbersDistinct(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, rec := newTestEngine(t, p)

	st, _ := e.PlaceCall(Request{Target: "5551234", Gateway: "tel:1800555"})
	if st != StatusSuccess {
		t.Fatalf("status = %v, want success", st)
	}
	if p.lastDial != "1800555" {
		t.Errorf("network dial string = %q, want the gateway number", p.lastDial)
	}
	if p.lastConn.Address != "5551234" {
		t.Errorf("connection address = %q, want the user-facing number", p.lastConn.Address)
	}
	if !p.lastConn.GatewayRouted {
		t.Error("connection not flagged gateway-routed")
	}

	// History keeps the user-facing number too.
	p.lastConn.Cause = telephony.CauseLocalHangup
	p.lastConn.DisconnectTime = time.Now()
	p.deliver(telephony.Event{Kind: telephony.EventDisconnect, Conn: p.lastConn, Cause: telephony.CauseLocalHangup})
	flush(e)

	recs := rec.records()
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want 1", len(recs))
	}
	if recs[0].Number != "5551234" {
		t.Errorf("history number = %q, want the user-facing number", recs[0].Number)
	}
}

func TestPlaceCallGatewayRequiresPlainNumberScheme(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, _ := newTestEngine(t, p)

	st, _ := e.PlaceCall(Request{Target: "5551234", Gateway: "sip:gw@example.com"})
	if st != StatusCallFailed {
		t.Errorf("status = %v, want call_failed", st)
	}
	if p.dialCalls != 0 {
		t.Errorf("dial attempts = %d, want 0", p.dialCalls)
	}
}

func TestPlaceCallEmergencyNeverGatewayRouted(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, _ := newTestEngine(t, p)

	st, _ := e.PlaceCall(Request{Action: ActionEmergency, Target: "911", Gateway: "tel:1800555"})
	if st != StatusSuccess {
		t.Fatalf("status = %v, want success", st)
	}
	if p.lastDial != "911" {
		t.Errorf("dialed %q, want 911 direct", p.lastDial)
	}
	if p.lastOpts.GatewayRouted {
		t.Error("emergency dial was gateway-routed")
	}
}

func TestPlaceCallMmiDiversion(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, _ := newTestEngine(t, p)

	st, _ := e.PlaceCall(Request{Target: "*#21#"})
	if st != StatusDialedMMI {
		t.Fatalf("status = %v, want dialed_mmi", st)
	}
	if p.dialCalls != 0 {
		t.Errorf("dial attempts = %d, want 0", p.dialCalls)
	}
	if len(p.mmiSent) != 1 || p.mmiSent[0] != "*#21#" {
		t.Errorf("mmi sent = %v, want the dialed code", p.mmiSent)
	}
}

func TestPlaceCallMmiNotDivertedOnCdma(t *testing.T) {
	p := newFakePhone(telephony.TechCDMA, "cell")
	e, _ := newTestEngine(t, p)

	// The CDMA-class variant has no network MMI; the string dials as-is.
	st, _ := e.PlaceCall(Request{Target: "*228"})
	if st != StatusSuccess {
		t.Fatalf("status = %v, want success", st)
	}
	if p.dialCalls != 1 {
		t.Errorf("dial attempts = %d, want 1", p.dialCalls)
	}
}

func TestPlaceCallEcmExit(t *testing.T) {
	p := newFakePhone(telephony.TechCDMA, "cell")
	p.inEcm = true
	e, _ := newTestEngine(t, p)

	st, _ := e.PlaceCall(Request{Target: "5551234"})
	if st != StatusExitedEcm {
		t.Fatalf("status = %v, want exited_ecm", st)
	}
	if p.ecmExits != 1 {
		t.Errorf("ecm exits = %d, want 1", p.ecmExits)
	}
	if p.dialCalls != 0 {
		t.Errorf("dial attempts = %d, want 0", p.dialCalls)
	}
}

func TestPlaceCallSecondCdmaLegArmsSuppression(t *testing.T) {
	p := newFakePhone(telephony.TechCDMA, "cell")
	e, _ := newTestEngine(t, p)

	if st, _ := e.PlaceCall(Request{Target: "5551234"}); st != StatusSuccess {
		t.Fatalf("first dial status = %v", st)
	}
	flush(e)
	if got := e.cdmaMachine.State(); got != cdma.StateSingleActive {
		t.Fatalf("cdma state after first dial = %v", got)
	}

	if st, _ := e.PlaceCall(Request{Target: "5555678"}); st != StatusSuccess {
		t.Fatalf("second dial status = %v", st)
	}
	flush(e)
	if got := e.cdmaMachine.State(); got != cdma.StateThrwayActive {
		t.Fatalf("cdma state after second dial = %v", got)
	}
	if !e.cdmaMachine.InSuppressionWindow() {
		t.Error("second leg did not arm the suppression window")
	}
}

func TestAnswerCdmaIdleForcesMuteOff(t *testing.T) {
	p := newFakePhone(telephony.TechCDMA, "cell")
	e, _ := newTestEngine(t, p)

	// Leave the device muted from a previous call.
	e.q.do(func() { e.applyMute(p, true) })

	conn := p.ringIn("5551234")
	flush(e)

	if !e.Answer() {
		t.Fatal("Answer returned false")
	}
	flush(e)

	if got := e.cdmaMachine.State(); got != cdma.StateSingleActive {
		t.Errorf("cdma state after answer = %v, want single_active", got)
	}
	if e.Muted() {
		t.Error("freshly answered call did not start unmuted")
	}
	var stamped bool
	e.q.do(func() { stamped = e.mutes.Has(conn.ID) && !e.mutes.Get(conn.ID) })
	if !stamped {
		t.Error("answered connection not stamped unmuted")
	}
}

func TestAnswerCallWaitingArmsAddCall(t *testing.T) {
	p := newFakePhone(telephony.TechCDMA, "cell")
	e, _ := newTestEngine(t, p)

	if st, _ := e.PlaceCall(Request{Target: "5551234"}); st != StatusSuccess {
		t.Fatalf("dial status = %v", st)
	}
	p.ringIn("5555678")
	flush(e)

	if !e.Answer() {
		t.Fatal("Answer returned false")
	}
	if got := e.cdmaMachine.State(); got != cdma.StateConfCall {
		t.Errorf("cdma state = %v, want conf_call", got)
	}
}

func TestAnswerRejectionRollsBackCdmaState(t *testing.T) {
	p := newFakePhone(telephony.TechCDMA, "cell")
	p.acceptErr = telephony.ErrInvalidState
	e, _ := newTestEngine(t, p)

	p.ringIn("5551234")
	flush(e)

	if e.Answer() {
		t.Fatal("Answer should report failure on a driver rejection")
	}
	if got := e.cdmaMachine.State(); got != cdma.StateIdle {
		t.Errorf("cdma state after rollback = %v, want idle", got)
	}
}

func TestAnswerWithoutRingingCall(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, _ := newTestEngine(t, p)

	if e.Answer() {
		t.Error("Answer with nothing ringing returned true")
	}
}

func TestSetMuteStampsForegroundConnectionsOnly(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, _ := newTestEngine(t, p)

	fgA := telephony.NewConnection("1001")
	fgB := telephony.NewConnection("1002")
	bgC := telephony.NewConnection("1003")
	e.q.do(func() {
		p.fg.State = telephony.CallActive
		p.fg.AddConnection(fgA)
		p.fg.AddConnection(fgB)
		p.bg.State = telephony.CallHolding
		p.bg.AddConnection(bgC)
		e.mutes.Set(bgC.ID, false)
	})

	e.SetMute(true)

	var aMuted, bMuted, cMuted bool
	e.q.do(func() {
		aMuted = e.mutes.Get(fgA.ID)
		bMuted = e.mutes.Get(fgB.ID)
		cMuted = e.mutes.Get(bgC.ID)
	})
	if !aMuted || !bMuted {
		t.Errorf("foreground flags = %v/%v, want both muted", aMuted, bMuted)
	}
	if cMuted {
		t.Error("background connection flag changed")
	}
	if !p.muted {
		t.Error("phone audio path not muted")
	}
}

func TestMergeGatedByCdmaPredicate(t *testing.T) {
	p := newFakePhone(telephony.TechCDMA, "cell")
	e, _ := newTestEngine(t, p)

	if st, _ := e.PlaceCall(Request{Target: "5551234"}); st != StatusSuccess {
		t.Fatalf("dial status = %v", st)
	}
	// Single-active: merge must be refused without touching the driver.
	if e.Merge() {
		t.Error("merge allowed outside thrway_active")
	}
	if got := e.cdmaMachine.State(); got != cdma.StateSingleActive {
		t.Errorf("cdma state = %v after refused merge", got)
	}
}

func TestSwapGatedByCdmaPredicate(t *testing.T) {
	p := newFakePhone(telephony.TechCDMA, "cell")
	e, _ := newTestEngine(t, p)

	if st, _ := e.PlaceCall(Request{Target: "5551234"}); st != StatusSuccess {
		t.Fatalf("dial status = %v", st)
	}
	if e.Swap() {
		t.Error("swap allowed outside conf_call")
	}
}

func TestSwapRestoresStoredMuteFlag(t *testing.T) {
	sched := &stepScheduler{}
	p := simphone.New(simphone.Config{
		Tech:       telephony.TechGSM,
		Name:       "cell",
		AutoAnswer: true,
		Scheduler:  sched.schedule,
	})
	e := newSimEngine(t, p)

	// First call connects and is muted.
	if st, _ := e.PlaceCall(Request{Target: "5551234"}); st != StatusSuccess {
		t.Fatalf("dial status = %v", st)
	}
	sched.fire(e)
	e.SetMute(true)

	// Call waiting answered: the first call goes on hold and the fresh
	// call starts unmuted.
	p.InjectRinging("5555678", "", telephony.PresentationAllowed)
	flush(e)
	if !e.Answer() {
		t.Fatal("Answer returned false")
	}
	if e.Muted() {
		t.Fatal("answered call did not start unmuted")
	}

	// The muted call comes forward; its stored flag is live again.
	if !e.Swap() {
		t.Fatal("Swap returned false")
	}
	if !e.Muted() {
		t.Error("stored mute flag of the returning call not reapplied")
	}
	var pending bool
	e.q.do(func() { pending = e.muteRestorePending })
	if pending {
		t.Error("restore flag survived the completed swap")
	}

	// Swapping back brings the unmuted call forward again.
	if !e.Swap() {
		t.Fatal("second Swap returned false")
	}
	if e.Muted() {
		t.Error("unmuted call came forward muted")
	}
}

func TestMuteRestoreUsesLatestLegInCdmaThreeWay(t *testing.T) {
	sched := &stepScheduler{}
	p := simphone.New(simphone.Config{
		Tech:       telephony.TechCDMA,
		Name:       "cell",
		AutoAnswer: true,
		Scheduler:  sched.schedule,
	})
	e := newSimEngine(t, p)

	if st, _ := e.PlaceCall(Request{Target: "5551234"}); st != StatusSuccess {
		t.Fatalf("first dial status = %v", st)
	}
	sched.fire(e)
	if st, _ := e.PlaceCall(Request{Target: "5555678"}); st != StatusSuccess {
		t.Fatalf("second dial status = %v", st)
	}
	flush(e)
	if got := e.cdmaMachine.State(); got != cdma.StateThrwayActive {
		t.Fatalf("cdma state = %v, want thrway_active", got)
	}

	// The legs carry different flags so the chosen leg is observable. The
	// restore rides on the next call-state report, the way a driver that
	// completes a slot change asynchronously delivers it.
	e.q.do(func() {
		fg := p.ForegroundCall()
		e.mutes.Set(fg.EarliestConnection().ID, false)
		e.mutes.Set(fg.LatestConnection().ID, true)
		e.muteRestorePending = true
		e.handleEvent(telephony.Event{Kind: telephony.EventCallStateChanged, Phone: p})
	})

	if !e.Muted() {
		t.Error("three-way restore did not apply the latest leg's flag")
	}
}

func TestSwapRejectedByNetworkClearsPendingRestore(t *testing.T) {
	sched := &stepScheduler{}
	p := simphone.New(simphone.Config{
		Tech:       telephony.TechGSM,
		Name:       "cell",
		AutoAnswer: true,
		Scheduler:  sched.schedule,
	})
	e := newSimEngine(t, p)

	if st, _ := e.PlaceCall(Request{Target: "5551234"}); st != StatusSuccess {
		t.Fatalf("first dial status = %v", st)
	}
	sched.fire(e)
	if st, _ := e.PlaceCall(Request{Target: "5555678"}); st != StatusSuccess {
		t.Fatalf("second dial status = %v", st)
	}
	sched.fire(e)

	events, unsub := e.Subscribe()
	defer unsub()

	p.ScriptSuppFailure(telephony.SuppSwitch)
	flush(e)

	// Accepted locally; the rejection arrives after the network round
	// trip.
	if !e.Swap() {
		t.Fatal("Swap returned false")
	}
	var pending bool
	e.q.do(func() { pending = e.muteRestorePending })
	if !pending {
		t.Fatal("restore not armed while the swap is outstanding")
	}

	sched.fire(e)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind != EventSuppServiceFailed {
				continue
			}
			if ev.Supp != "switch" {
				t.Fatalf("failed operation = %q, want switch", ev.Supp)
			}
			e.q.do(func() { pending = e.muteRestorePending })
			if pending {
				t.Error("restore flag survived the rejected swap")
			}
			var fg string
			e.q.do(func() { fg = p.ForegroundCall().LatestConnection().Address })
			if fg != "5555678" {
				t.Errorf("foreground number = %q, want the slots unmoved", fg)
			}
			return
		case <-deadline:
			t.Fatal("no supplementary-service failure notification")
		}
	}
}

func TestPlaceCallRoutedPhoneServiceStateGoverns(t *testing.T) {
	cell := newFakePhone(telephony.TechGSM, "cell")
	cell.service = telephony.ServiceOutOfService
	sip := newFakePhone(telephony.TechSIP, "sip0")
	e, _ := newTestEngine(t, cell, sip)

	// A service-address target routes past the degraded default phone.
	st, _ := e.PlaceCall(Request{Target: "sip:bob@example.com"})
	if st != StatusSuccess {
		t.Fatalf("status = %v, want success", st)
	}
	if sip.dialCalls != 1 || cell.dialCalls != 0 {
		t.Errorf("dial attempts sip=%d cell=%d, want the routed phone only", sip.dialCalls, cell.dialCalls)
	}

	// An ordinary number stays on the default phone, whose state governs.
	st, _ = e.PlaceCall(Request{Target: "5551234"})
	if st != StatusOutOfService {
		t.Errorf("status = %v, want out_of_service", st)
	}
}

func TestDisconnectRecordsHistoryAndPrunes(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, rec := newTestEngine(t, p)

	conn := p.ringIn("5551234")
	flush(e)

	// Never answered: ends missed.
	p.run(func() {
		conn.Cause = telephony.CauseMissed
		conn.DisconnectTime = time.Now()
		p.ringing.State = telephony.CallDisconnected
		p.sink(telephony.Event{Kind: telephony.EventDisconnect, Phone: p, Conn: conn, Cause: telephony.CauseMissed})
	})
	flush(e)

	recs := rec.records()
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want 1", len(recs))
	}
	if recs[0].Direction != "incoming" || !recs[0].Missed {
		t.Errorf("record = %+v, want incoming missed", recs[0])
	}
	var pending int
	e.q.do(func() { pending = e.resolver.PendingCount() })
	if pending != 0 {
		t.Errorf("resolver still tracking %d lookups after release", pending)
	}
}

func TestAudioFollowsActivity(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, _ := newTestEngine(t, p)

	p.ringIn("5551234")
	flush(e)
	var mode audio.Mode
	e.q.do(func() { mode = e.arbiter.Mode() })
	if mode != audio.ModeRingtone {
		t.Fatalf("audio mode while ringing = %v, want ringtone", mode)
	}

	if !e.Answer() {
		t.Fatal("Answer returned false")
	}
	e.q.do(func() { mode = e.arbiter.Mode() })
	if mode != audio.ModeInCall {
		t.Fatalf("audio mode in call = %v, want in_call", mode)
	}

	// Hang up; the slot picture empties and mode returns to normal.
	if !e.Hangup() {
		t.Fatal("Hangup returned false")
	}
	p.deliver(telephony.Event{Kind: telephony.EventCallStateChanged})
	flush(e)
	e.q.do(func() { mode = e.arbiter.Mode() })
	if mode != audio.ModeNormal {
		t.Fatalf("audio mode after hangup = %v, want normal", mode)
	}
}

func TestPostDialPromptFires(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, _ := newTestEngine(t, p)

	events, unsub := e.Subscribe()
	defer unsub()

	if st, _ := e.PlaceCall(Request{Target: "5551234,99;11"}); st != StatusSuccess {
		t.Fatalf("dial status = %v", st)
	}
	if p.lastDial != "5551234" {
		t.Fatalf("dialed %q, want post-dial stripped", p.lastDial)
	}
	if p.lastOpts.PostDial != ",99;11" {
		t.Fatalf("post-dial = %q", p.lastOpts.PostDial)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventPostDialPrompt {
				if ev.PostDial != ",99;11" {
					t.Errorf("prompt post-dial = %q", ev.PostDial)
				}
				return
			}
		case <-deadline:
			t.Fatal("no post-dial prompt event")
		}
	}
}

func TestStateSnapshot(t *testing.T) {
	p := newFakePhone(telephony.TechCDMA, "cell")
	e, _ := newTestEngine(t, p)

	if st, _ := e.PlaceCall(Request{Target: "5551234"}); st != StatusSuccess {
		t.Fatalf("dial status = %v", st)
	}
	view, err := e.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if view.CdmaState != "single_active" {
		t.Errorf("snapshot cdma state = %q", view.CdmaState)
	}
	if len(view.Calls) != 1 || view.Calls[0].Slot != "foreground" {
		t.Fatalf("snapshot calls = %+v", view.Calls)
	}
	if view.Calls[0].Connections[0].Number != "5551234" {
		t.Errorf("snapshot number = %q", view.Calls[0].Connections[0].Number)
	}
}

func TestStatsCountPlaceCallOutcomes(t *testing.T) {
	p := newFakePhone(telephony.TechGSM, "cell")
	e, _ := newTestEngine(t, p)

	e.PlaceCall(Request{Target: "5551234"})
	e.PlaceCall(Request{Target: ""})

	stats := e.Stats()
	if stats.PlaceCallOutcomes["success"] != 1 {
		t.Errorf("success count = %d", stats.PlaceCallOutcomes["success"])
	}
	if stats.PlaceCallOutcomes["no_phone_number_supplied"] != 1 {
		t.Errorf("input-error count = %d", stats.PlaceCallOutcomes["no_phone_number_supplied"])
	}
}
