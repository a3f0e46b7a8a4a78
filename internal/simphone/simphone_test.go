package simphone

import (
	"testing"
	"time"

	"github.com/dialcore/dialcore/internal/telephony"
)

// manualScheduler collects armed timers and fires them on demand.
type manualScheduler struct {
	fns []func()
}

func (s *manualScheduler) schedule(d time.Duration, fn func()) func() {
	i := len(s.fns)
	s.fns = append(s.fns, fn)
	return func() { s.fns[i] = nil }
}

func (s *manualScheduler) fireAll() {
	for i, fn := range s.fns {
		if fn != nil {
			s.fns[i] = nil
			fn()
		}
	}
}

// harness runs the phone with a synchronous queue and records its events.
type harness struct {
	phone  *Phone
	sched  *manualScheduler
	events []telephony.Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{sched: &manualScheduler{}}
	cfg.Scheduler = h.sched.schedule
	cfg.AutoAnswer = true
	h.phone = New(cfg)
	err := h.phone.Start(
		func(fn func()) { fn() },
		func(ev telephony.Event) { h.events = append(h.events, ev) },
	)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func (h *harness) eventKinds() []telephony.EventKind {
	kinds := make([]telephony.EventKind, len(h.events))
	for i, ev := range h.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (h *harness) lastEventOf(kind telephony.EventKind) (telephony.Event, bool) {
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].Kind == kind {
			return h.events[i], true
		}
	}
	return telephony.Event{}, false
}

func TestDialProgression(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechGSM})
	p := h.phone

	conn, err := p.Dial("5551234", telephony.DialOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if p.fg.State != telephony.CallDialing {
		t.Fatalf("state after dial = %v", p.fg.State)
	}

	h.sched.fireAll()
	if p.fg.State != telephony.CallAlerting {
		t.Fatalf("state after first timer = %v", p.fg.State)
	}

	h.sched.fireAll()
	if p.fg.State != telephony.CallActive {
		t.Fatalf("state after second timer = %v", p.fg.State)
	}
	if conn.ConnectTime.IsZero() {
		t.Error("answered connection has no connect time")
	}
}

func TestGsmSecondDialHoldsActiveCall(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechGSM})
	p := h.phone

	first, _ := p.Dial("1001", telephony.DialOptions{})
	h.sched.fireAll()
	h.sched.fireAll()

	second, err := p.Dial("1002", telephony.DialOptions{})
	if err != nil {
		t.Fatalf("second Dial: %v", err)
	}
	if p.bg.State != telephony.CallHolding {
		t.Errorf("background state = %v, want holding", p.bg.State)
	}
	if p.bg.LatestConnection().ID != first.ID {
		t.Error("first call is not the one on hold")
	}
	if p.fg.LatestConnection().ID != second.ID {
		t.Error("second call is not in foreground")
	}
}

func TestCdmaSecondDialJoinsForeground(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechCDMA})
	p := h.phone

	p.Dial("1001", telephony.DialOptions{})
	h.sched.fireAll()
	h.sched.fireAll()

	if _, err := p.Dial("1002", telephony.DialOptions{}); err != nil {
		t.Fatalf("second Dial: %v", err)
	}
	if !p.fg.IsMultiparty() {
		t.Error("second leg did not join the foreground call")
	}
	if !p.bg.IsIdle() {
		t.Error("background slot occupied on CDMA")
	}
}

func TestAcceptCallWaiting(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechGSM})
	p := h.phone

	p.Dial("1001", telephony.DialOptions{})
	h.sched.fireAll()
	h.sched.fireAll()

	p.InjectRinging("1002", "", telephony.PresentationAllowed)
	if p.ringing.State != telephony.CallWaiting {
		t.Fatalf("ringing state = %v, want waiting", p.ringing.State)
	}

	if err := p.AcceptCall(); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	if p.bg.State != telephony.CallHolding {
		t.Errorf("background state = %v, want holding", p.bg.State)
	}
	if p.fg.State != telephony.CallActive {
		t.Errorf("foreground state = %v, want active", p.fg.State)
	}
}

func TestRadioPowerCycle(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechGSM})
	p := h.phone

	p.Dial("1001", telephony.DialOptions{})
	h.sched.fireAll()
	h.sched.fireAll()

	p.SetRadioPower(false)
	if p.ServiceState() != telephony.ServicePowerOff {
		t.Fatalf("service = %v after power off", p.ServiceState())
	}
	ev, ok := h.lastEventOf(telephony.EventDisconnect)
	if !ok || ev.Cause != telephony.CausePowerOff {
		t.Fatalf("disconnect on power off = %+v", ev)
	}

	p.SetRadioPower(true)
	if p.ServiceState() != telephony.ServicePowerOff {
		t.Fatal("service came back before the power-on delay")
	}
	h.sched.fireAll()
	if p.ServiceState() != telephony.ServiceInService {
		t.Fatalf("service = %v after power-on delay", p.ServiceState())
	}
}

func TestEmergencyCallEntersEcm(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechCDMA})
	p := h.phone

	p.Dial("911", telephony.DialOptions{Emergency: true})
	h.sched.fireAll()
	h.sched.fireAll()

	if err := p.Hangup(p.fg); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if !p.InEcm() {
		t.Fatal("no emergency-callback window after the emergency call")
	}

	if err := p.ExitEmergencyCallback(); err != nil {
		t.Fatalf("ExitEmergencyCallback: %v", err)
	}
	if p.InEcm() {
		t.Error("still in the window after explicit exit")
	}
	if _, ok := h.lastEventOf(telephony.EventEcmChanged); !ok {
		t.Error("no ecm event delivered")
	}
}

func TestEcmWindowExpires(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechCDMA})
	p := h.phone

	p.Dial("911", telephony.DialOptions{Emergency: true})
	h.sched.fireAll()
	h.sched.fireAll()
	p.Hangup(p.fg)

	h.sched.fireAll()
	if p.InEcm() {
		t.Error("window survived its timer")
	}
}

func TestGsmOrdinaryCallNoEcm(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechGSM})
	p := h.phone

	p.Dial("911", telephony.DialOptions{Emergency: true})
	h.sched.fireAll()
	h.sched.fireAll()
	p.Hangup(p.fg)

	if p.InEcm() {
		t.Error("GSM phone entered an emergency-callback window")
	}
}

func TestMmiScriptedReply(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechGSM})
	p := h.phone

	p.ScriptMmiReply(telephony.MmiResult{Status: telephony.MmiPending, Message: "enter pin"})

	if err := p.SendMMI("*#21#"); err != nil {
		t.Fatalf("SendMMI: %v", err)
	}
	h.sched.fireAll()

	ev, ok := h.lastEventOf(telephony.EventMmiResponse)
	if !ok {
		t.Fatal("no mmi response event")
	}
	if ev.MMI.Status != telephony.MmiPending || ev.MMI.Message != "enter pin" {
		t.Errorf("scripted reply = %+v", ev.MMI)
	}

	// Continuation uses the default completion when the script is empty.
	if err := p.SendUssdReply("1234"); err != nil {
		t.Fatalf("SendUssdReply: %v", err)
	}
	h.sched.fireAll()
	ev, _ = h.lastEventOf(telephony.EventMmiResponse)
	if ev.MMI.Status != telephony.MmiComplete {
		t.Errorf("default reply status = %v", ev.MMI.Status)
	}
}

func TestMmiCancelReplacesPendingReply(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechGSM})
	p := h.phone

	p.SendMMI("*#21#")
	if err := p.CancelMMI(); err != nil {
		t.Fatalf("CancelMMI: %v", err)
	}
	h.sched.fireAll()

	ev, ok := h.lastEventOf(telephony.EventMmiResponse)
	if !ok {
		t.Fatal("no mmi response event")
	}
	if ev.MMI.Status != telephony.MmiCancelled {
		t.Errorf("status after cancel = %v", ev.MMI.Status)
	}
}

func TestMmiNotSupportedOnCdma(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechCDMA})
	if err := h.phone.SendMMI("*#21#"); err != telephony.ErrNotSupported {
		t.Errorf("SendMMI on CDMA = %v, want ErrNotSupported", err)
	}
}

func TestSeparate(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechGSM})
	p := h.phone

	p.Dial("1001", telephony.DialOptions{})
	h.sched.fireAll()
	h.sched.fireAll()
	p.Dial("1002", telephony.DialOptions{})
	h.sched.fireAll()
	h.sched.fireAll()
	if err := p.Conference(); err != nil {
		t.Fatalf("Conference: %v", err)
	}

	member := p.fg.EarliestConnection()
	if err := p.Separate(member); err != nil {
		t.Fatalf("Separate: %v", err)
	}
	if p.bg.IsIdle() || p.bg.LatestConnection().ID != member.ID {
		t.Error("separated member is not on its own held call")
	}
}

func TestSeparateNotSupportedOnCdma(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechCDMA})
	p := h.phone

	p.Dial("1001", telephony.DialOptions{})
	p.Dial("1002", telephony.DialOptions{})

	if err := p.Separate(p.fg.EarliestConnection()); err != telephony.ErrNotSupported {
		t.Errorf("Separate on CDMA = %v, want ErrNotSupported", err)
	}
}

func TestScriptedSuppFailure(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechGSM})
	p := h.phone

	p.Dial("1001", telephony.DialOptions{})
	h.sched.fireAll()
	h.sched.fireAll()
	p.Dial("1002", telephony.DialOptions{})
	h.sched.fireAll()
	h.sched.fireAll()

	p.ScriptSuppFailure(telephony.SuppSwitch)

	// The flash is accepted locally but the slots stay put.
	if err := p.SwitchHoldingAndActive(); err != nil {
		t.Fatalf("SwitchHoldingAndActive: %v", err)
	}
	if p.fg.LatestConnection().Address != "1002" {
		t.Error("slots moved despite the scripted rejection")
	}
	if _, ok := h.lastEventOf(telephony.EventSuppServiceFailed); ok {
		t.Fatal("failure arrived before the network round trip")
	}

	h.sched.fireAll()
	ev, ok := h.lastEventOf(telephony.EventSuppServiceFailed)
	if !ok {
		t.Fatal("no supplementary-service failure event")
	}
	if ev.Supp != telephony.SuppSwitch {
		t.Errorf("failed operation = %v, want switch", ev.Supp)
	}

	// The script is consumed; the next flash goes through.
	if err := p.SwitchHoldingAndActive(); err != nil {
		t.Fatalf("second SwitchHoldingAndActive: %v", err)
	}
	if p.fg.LatestConnection().Address != "1001" {
		t.Error("held call did not come forward after the consumed script")
	}
}

func TestEndRemoteMissed(t *testing.T) {
	h := newHarness(t, Config{Tech: telephony.TechGSM})
	p := h.phone

	p.InjectRinging("1001", "Alice", telephony.PresentationAllowed)
	ringing, ok := h.lastEventOf(telephony.EventNewRinging)
	if !ok {
		t.Fatal("no ringing event")
	}

	p.EndRemote(ringing.Conn.ID)
	ev, ok := h.lastEventOf(telephony.EventDisconnect)
	if !ok {
		t.Fatal("no disconnect event")
	}
	if ev.Cause != telephony.CauseMissed {
		t.Errorf("cause = %v, want missed", ev.Cause)
	}
}
