// Package engine is the call-control core: it validates and executes user
// call actions, applies asynchronous telephony notifications, and keeps the
// mute table, audio arbiter, CDMA variant machine, MMI session, and caller
// identity slots consistent. Everything it owns is mutated from one
// dispatch queue.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dialcore/dialcore/internal/audio"
	"github.com/dialcore/dialcore/internal/callerinfo"
	"github.com/dialcore/dialcore/internal/cdma"
	"github.com/dialcore/dialcore/internal/mmi"
	"github.com/dialcore/dialcore/internal/telephony"
)

// Settings supplies the user-editable knobs the engine consults at call
// time. Implementations are read on the dispatch queue and must not block.
type Settings interface {
	// ExtraEmergencyNumbers returns configured emergency numbers beyond the
	// built-in list.
	ExtraEmergencyNumbers() []string
	// ActivationCodes returns carrier provisioning codes.
	ActivationCodes() []string
	// DockAutoSpeaker reports whether docking should auto-enable the
	// speaker on call setup.
	DockAutoSpeaker() bool
}

// CallRecord is one finished connection for the history store.
type CallRecord struct {
	CallID       string
	Phone        string
	Direction    string // "incoming" or "outgoing"
	Number       string // user-facing, never a gateway dial string
	Name         string
	Presentation string
	Start        time.Time
	Answer       time.Time // zero if never answered
	End          time.Time
	Duration     time.Duration
	Cause        string
	Missed       bool
}

// Recorder persists call records. Called on the dispatch queue; slow
// implementations must hand off internally.
type Recorder interface {
	RecordCall(rec CallRecord)
}

// Options wires an Engine. Manager and Device are required; Lookup,
// Settings, and History may be nil for a bare engine.
type Options struct {
	Manager  *telephony.CallManager
	Device   audio.Device
	Lookup   callerinfo.Lookup
	Settings Settings
	History  Recorder

	// QueueDepth overrides the dispatch queue depth, default 64.
	QueueDepth int
}

// Engine orchestrates call control over all registered phones. One
// long-lived instance owns all process-lifetime call state; there are no
// package-level singletons.
type Engine struct {
	q  *queue
	cm *telephony.CallManager

	device   audio.Device
	arbiter  *audio.Arbiter
	mutes    *audio.MuteTable
	resolver *callerinfo.Resolver

	mmiMgr   *mmi.Manager
	mmiPhone telephony.Phone // phone carrying the outstanding session

	cdmaPhone   telephony.Phone
	cdmaMachine *cdma.Machine

	settings Settings
	history  Recorder
	logger   *slog.Logger

	// Transient per-call UI inputs, cleared when a new call is placed so
	// nothing leaks from a prior call.
	muteRestorePending bool
	dialpadOpen        bool
	digitHistory       []rune

	muted     bool
	speakerOn bool
	docked    bool

	pendingRetry   *Request
	cancelPostDial func()

	stats engineStats

	subMu     sync.Mutex
	subs      map[*subscriber]struct{}
	subClosed bool

	started bool
}

// New creates an engine over the given phones. Start must be called before
// any operation.
func New(opts Options) *Engine {
	e := &Engine{
		q:        newQueue(queueDepth(opts.QueueDepth)),
		cm:       opts.Manager,
		device:   opts.Device,
		arbiter:  audio.NewArbiter(opts.Device),
		mutes:    audio.NewMuteTable(),
		settings: opts.Settings,
		history:  opts.History,
		logger:   slog.Default().With("component", "engine"),
		subs:     make(map[*subscriber]struct{}),
	}

	e.resolver = callerinfo.NewResolver(lookupOrEmpty(opts.Lookup), e.q.post)
	e.mmiMgr = mmi.NewManager(e.schedule, mmi.Hooks{
		OnInitiate: func(s *mmi.Session) {
			e.publish(Event{Kind: EventMmiInitiate, MMI: mmiEvent(s)})
		},
		OnPrompt: func(s *mmi.Session, prompt string) {
			e.publish(Event{Kind: EventMmiPrompt, MMI: mmiEvent(s)})
		},
		OnFinished: func(s *mmi.Session) {
			e.stats.noteMmi(s.State.String())
			e.publish(Event{Kind: EventMmiFinished, MMI: mmiEvent(s)})
		},
	})

	for _, p := range e.cm.Phones() {
		if p.Tech() == telephony.TechCDMA {
			e.cdmaPhone = p
			e.cdmaMachine = cdma.New(e.schedule)
			break
		}
	}
	return e
}

func queueDepth(d int) int {
	if d <= 0 {
		return 64
	}
	return d
}

// emptyChain satisfies callerinfo.Lookup when no stores are wired.
type emptyChain struct{}

func (emptyChain) Lookup(_ context.Context, _ string) (*callerinfo.Info, error) {
	return nil, nil
}

func lookupOrEmpty(l callerinfo.Lookup) callerinfo.Lookup {
	if l == nil {
		return emptyChain{}
	}
	return l
}

// Start launches the dispatch queue and attaches every phone driver.
func (e *Engine) Start() error {
	if e.started {
		return nil
	}
	e.started = true
	go e.q.run()

	for _, p := range e.cm.Phones() {
		if err := p.Start(e.q.post, e.handleEvent); err != nil {
			return fmt.Errorf("starting phone %s: %w", p.Name(), err)
		}
	}
	e.logger.Info("engine started", "phones", len(e.cm.Phones()))
	return nil
}

// Stop detaches the drivers and drains the queue. Operations submitted
// afterwards return ErrStopped or false.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	for _, p := range e.cm.Phones() {
		if err := p.Stop(); err != nil {
			e.logger.Warn("stopping phone", "phone", p.Name(), "error", err)
		}
	}
	e.q.shutdown()
	e.closeSubscribers()
	e.logger.Info("engine stopped")
}

// Answer accepts the ringing call. It reports false when nothing rings or
// the telephony layer rejects the accept.
func (e *Engine) Answer() bool {
	ok := false
	e.q.do(func() { ok = e.answer() })
	return ok
}

// Hangup ends the foreground call, or rejects the ringing call when no
// foreground call exists, or ends the background call.
func (e *Engine) Hangup() bool {
	ok := false
	e.q.do(func() { ok = e.hangup() })
	return ok
}

// Swap exchanges foreground and background calls.
func (e *Engine) Swap() bool {
	ok := false
	e.q.do(func() { ok = e.swap() })
	return ok
}

// Merge joins foreground and background into a conference.
func (e *Engine) Merge() bool {
	ok := false
	e.q.do(func() { ok = e.merge() })
	return ok
}

// Separate detaches the given conference connection into its own call.
func (e *Engine) Separate(connID string) bool {
	ok := false
	e.q.do(func() { ok = e.separate(connID) })
	return ok
}

// SetMute drives the foreground phone's audio path and stamps every
// connection on the foreground call with the flag.
func (e *Engine) SetMute(muted bool) {
	e.q.do(func() { e.setMute(muted) })
}

// Muted returns the current microphone mute state.
func (e *Engine) Muted() bool {
	muted := false
	e.q.do(func() { muted = e.muted })
	return muted
}

// SetSpeaker routes audio to or away from the speaker.
func (e *Engine) SetSpeaker(on bool) {
	e.q.do(func() {
		e.speakerOn = on
		e.device.SetSpeaker(on)
	})
}

// SetDocked records dock state; docking mid-call applies the auto-speaker
// preference immediately.
func (e *Engine) SetDocked(docked bool) {
	e.q.do(func() {
		e.docked = docked
		if e.cm.HasForegroundCall() {
			e.evaluateDockSpeaker()
		}
	})
}

// SetDialpadOpen records the in-call dialpad flag. It is transient per-call
// input and is cleared when a new call is placed.
func (e *Engine) SetDialpadOpen(open bool) {
	e.q.do(func() { e.dialpadOpen = open })
}

// SendDTMF plays the digits on the active call one at a time.
func (e *Engine) SendDTMF(digits string) bool {
	ok := false
	e.q.do(func() { ok = e.sendDTMF(digits) })
	return ok
}

// CancelMmi asks the network to abort the outstanding session. Best
// effort: true means the request went out, not that it took effect.
func (e *Engine) CancelMmi() bool {
	ok := false
	e.q.do(func() { ok = e.cancelMmi() })
	return ok
}

// ReplyUssd sends user input back into the pending interactive session.
func (e *Engine) ReplyUssd(text string) bool {
	ok := false
	e.q.do(func() { ok = e.replyUssd(text) })
	return ok
}

// ExitEcm leaves the emergency-callback window on the phone reporting it.
func (e *Engine) ExitEcm() bool {
	ok := false
	e.q.do(func() { ok = e.exitEcm() })
	return ok
}

func (e *Engine) answer() bool {
	ringing := e.cm.RingingCall()
	if ringing == nil || !ringing.State.IsRinging() {
		return false
	}
	phone := ringing.Phone()
	answered := ringing.LatestConnection()

	if m := e.machineFor(phone); m != nil {
		// The machine advances first so predicates are right the moment the
		// driver reports the new state; a rejection rolls it back.
		snap := m.Snapshot()
		if m.State() == cdma.StateIdle {
			m.NoteCallStarted()
		} else {
			m.NoteCallWaitingAnswered()
		}
		if err := phone.AcceptCall(); err != nil {
			m.Restore(snap)
			e.logger.Warn("answer rejected", "phone", phone.Name(), "error", err)
			return false
		}
	} else {
		if e.cm.HasForegroundCall() && e.cm.HasBackgroundCall() {
			// No third slot: the active call has to go before answering.
			fg := e.cm.ForegroundCall()
			if err := fg.Phone().Hangup(fg); err != nil {
				e.logger.Warn("ending active call before answer", "error", err)
				return false
			}
		}
		if err := phone.AcceptCall(); err != nil {
			e.logger.Warn("answer rejected", "phone", phone.Name(), "error", err)
			return false
		}
	}

	// Every freshly answered call starts unmuted, whatever the prior call
	// had.
	e.applyMute(phone, false)
	if answered != nil {
		e.mutes.Set(answered.ID, false)
	}

	e.arbiter.SetGate(e.cm.Activity())
	e.arbiter.Request(audio.ModeInCall)
	e.evaluateDockSpeaker()
	e.publish(Event{Kind: EventCallState, Phone: phone.Name()})
	return true
}

func (e *Engine) hangup() bool {
	if fg := e.cm.ForegroundCall(); fg != nil {
		if err := fg.Phone().Hangup(fg); err != nil {
			e.logger.Warn("hangup rejected", "error", err)
			return false
		}
		return true
	}
	if ringing := e.cm.RingingCall(); ringing != nil {
		if err := ringing.Phone().RejectCall(); err != nil {
			e.logger.Warn("reject rejected", "error", err)
			return false
		}
		return true
	}
	if bg := e.cm.BackgroundCall(); bg != nil {
		if err := bg.Phone().Hangup(bg); err != nil {
			e.logger.Warn("hangup rejected", "error", err)
			return false
		}
		return true
	}
	return false
}

func (e *Engine) swap() bool {
	phone := e.cm.ForegroundPhone()
	if m := e.machineFor(phone); m != nil && !m.OkToSwap() {
		return false
	}
	// Armed before the driver call: the mute flag of the call coming
	// forward is restored on the call-state event reporting the new slot
	// picture, and a driver may deliver that event synchronously from
	// inside SwitchHoldingAndActive.
	e.muteRestorePending = true
	if err := phone.SwitchHoldingAndActive(); err != nil {
		e.muteRestorePending = false
		e.logger.Warn("swap rejected", "phone", phone.Name(), "error", err)
		return false
	}
	return true
}

func (e *Engine) merge() bool {
	phone := e.cm.ForegroundPhone()
	m := e.machineFor(phone)
	if m != nil && !m.OkToMerge() {
		return false
	}
	if err := phone.Conference(); err != nil {
		e.logger.Warn("merge rejected", "phone", phone.Name(), "error", err)
		return false
	}
	if m != nil {
		m.NoteFlash()
	}
	return true
}

func (e *Engine) separate(connID string) bool {
	fg := e.cm.ForegroundCall()
	if fg == nil {
		return false
	}
	for _, conn := range fg.Connections {
		if conn.ID == connID {
			if err := fg.Phone().Separate(conn); err != nil {
				e.logger.Warn("separate rejected", "connection_id", connID, "error", err)
				return false
			}
			return true
		}
	}
	return false
}

func (e *Engine) setMute(muted bool) {
	phone := e.cm.ForegroundPhone()
	e.applyMute(phone, muted)
	if fg := e.cm.ForegroundCall(); fg != nil {
		// Shared mute across conference legs: every connection on the
		// foreground call gets the flag.
		for _, conn := range fg.Connections {
			e.mutes.Set(conn.ID, muted)
		}
	}
}

// restoreMuteState reapplies the stored mute flag of the call now in
// foreground. On CDMA in the three-way state the latest connection's flag
// is authoritative; everywhere else the earliest connection's.
func (e *Engine) restoreMuteState() {
	fg := e.cm.ForegroundCall()
	if fg == nil {
		return
	}
	var conn *telephony.Connection
	if m := e.machineFor(fg.Phone()); m != nil && m.State() == cdma.StateThrwayActive {
		conn = fg.LatestConnection()
	} else {
		conn = fg.EarliestConnection()
	}
	if conn == nil {
		return
	}
	e.applyMute(fg.Phone(), e.mutes.Get(conn.ID))
}

func (e *Engine) applyMute(phone telephony.Phone, muted bool) {
	phone.SetMute(muted)
	e.device.SetMuted(muted)
	e.muted = muted
}

func (e *Engine) sendDTMF(digits string) bool {
	fg := e.cm.ForegroundCall()
	if fg == nil {
		return false
	}
	for _, d := range digits {
		if err := fg.Phone().SendDTMF(d); err != nil {
			e.logger.Warn("dtmf rejected", "error", err)
			return false
		}
		e.digitHistory = append(e.digitHistory, d)
	}
	return true
}

func (e *Engine) cancelMmi() bool {
	s, ok := e.mmiMgr.CancelRequested()
	if !ok || e.mmiPhone == nil {
		return false
	}
	if err := e.mmiPhone.CancelMMI(); err != nil {
		// Best effort per contract: the network may ignore the cancel, and
		// a driver refusal counts the same.
		e.logger.Info("mmi cancel not sent", "token", s.Token, "error", err)
		return false
	}
	return true
}

func (e *Engine) replyUssd(text string) bool {
	if e.mmiMgr.Outstanding() == nil || e.mmiPhone == nil {
		return false
	}
	if err := e.mmiPhone.SendUssdReply(text); err != nil {
		e.logger.Warn("ussd reply rejected", "error", err)
		return false
	}
	e.mmiMgr.NoteReplySent()
	return true
}

func (e *Engine) exitEcm() bool {
	for _, p := range e.cm.Phones() {
		if p.InEcm() {
			if err := p.ExitEmergencyCallback(); err != nil {
				e.logger.Warn("exit ecm rejected", "phone", p.Name(), "error", err)
				return false
			}
			return true
		}
	}
	return false
}

// machineFor returns the CDMA machine when the phone is the CDMA-class
// one, nil otherwise.
func (e *Engine) machineFor(p telephony.Phone) *cdma.Machine {
	if e.cdmaMachine != nil && p == e.cdmaPhone {
		return e.cdmaMachine
	}
	return nil
}

// handleEvent applies one driver notification. Drivers deliver from inside
// a dispatch-queue callback, so this already runs serialized.
func (e *Engine) handleEvent(ev telephony.Event) {
	switch ev.Kind {
	case telephony.EventCallStateChanged:
		e.syncSlots()

	case telephony.EventNewRinging:
		e.arbiter.SetGate(e.cm.Activity())
		e.arbiter.Request(audio.ModeRingtone)
		conn := ev.Conn
		e.publish(Event{
			Kind:         EventRinging,
			Phone:        ev.Phone.Name(),
			ConnectionID: conn.ID,
			Number:       conn.Address,
			Name:         conn.CNAPName,
			Presentation: conn.Presentation.String(),
		})
		connID := conn.ID
		e.resolver.Resolve(conn, func(info callerinfo.Info) {
			e.publish(Event{
				Kind:         EventCallState,
				Phone:        ev.Phone.Name(),
				ConnectionID: connID,
				Number:       info.Number,
				Name:         info.Name,
				Presentation: info.Presentation.String(),
			})
		})

	case telephony.EventDisconnect:
		e.cancelPostDialPrompt()
		conn := ev.Conn
		name := conn.CNAPName
		if info, ok := e.resolver.Peek(conn.ID); ok && info.Name != "" {
			name = info.Name
		}
		missed := ev.Cause == telephony.CauseMissed ||
			(conn.Incoming && conn.ConnectTime.IsZero())
		e.recordHistory(ev.Phone, conn, ev.Cause, name, missed)
		e.publish(Event{
			Kind:         EventDisconnect,
			Phone:        ev.Phone.Name(),
			ConnectionID: conn.ID,
			Number:       conn.Address,
			Name:         name,
			Cause:        ev.Cause.String(),
			Missed:       missed,
		})
		e.resolver.Release(conn.ID)
		ev.Phone.ClearDisconnected()
		e.syncSlots()

	case telephony.EventServiceState:
		e.publish(Event{
			Kind:    EventServiceState,
			Phone:   ev.Phone.Name(),
			Service: ev.Service.String(),
		})
		e.maybeReplayRetry(ev)

	case telephony.EventMmiResponse:
		if ev.MMI == nil {
			return
		}
		e.mmiMgr.HandleResponse(responseStatus(ev.MMI.Status), ev.MMI.Message)

	case telephony.EventSuppServiceFailed:
		if ev.Supp == telephony.SuppSwitch {
			// The swap never took effect on the network; the armed restore
			// must not fire against a later unrelated state change.
			e.muteRestorePending = false
		}
		e.publish(Event{
			Kind:  EventSuppServiceFailed,
			Phone: ev.Phone.Name(),
			Supp:  ev.Supp.String(),
		})

	case telephony.EventEcmChanged:
		e.publish(Event{
			Kind:  EventEcmChanged,
			Phone: ev.Phone.Name(),
			InEcm: ev.InEcm,
		})
	}
}

// syncSlots reconciles engine-owned state with the slot picture after any
// driver-side change: mute-table membership, the audio gate, the CDMA
// machine's idle reset, and a pending mute restore.
func (e *Engine) syncSlots() {
	e.mutes.Prune(e.cm.SlotConnectionIDs())

	activity := e.cm.Activity()
	e.arbiter.SetGate(activity)
	switch activity {
	case telephony.ActivityIdle:
		e.arbiter.Request(audio.ModeNormal)
		if e.speakerOn {
			e.speakerOn = false
			e.device.SetSpeaker(false)
		}
		if e.cdmaMachine != nil && e.cdmaPhoneIdle() {
			e.cdmaMachine.Reset()
		}
	case telephony.ActivityRinging:
		e.arbiter.Request(audio.ModeRingtone)
	case telephony.ActivityOffhook:
		e.arbiter.Request(audio.ModeInCall)
		if e.muteRestorePending {
			e.muteRestorePending = false
			e.restoreMuteState()
		}
		if e.cdmaMachine != nil && e.cdmaPhoneIdle() {
			e.cdmaMachine.Reset()
		}
	}

	e.publish(Event{Kind: EventCallState})
}

func (e *Engine) cdmaPhoneIdle() bool {
	p := e.cdmaPhone
	for _, c := range []*telephony.Call{p.RingingCall(), p.ForegroundCall(), p.BackgroundCall()} {
		if c != nil && !c.IsIdle() {
			return false
		}
	}
	return true
}

func (e *Engine) recordHistory(p telephony.Phone, conn *telephony.Connection, cause telephony.DisconnectCause, name string, missed bool) {
	if e.history == nil {
		return
	}
	direction := "outgoing"
	if conn.Incoming {
		direction = "incoming"
	}
	e.history.RecordCall(CallRecord{
		CallID:       conn.ID,
		Phone:        p.Name(),
		Direction:    direction,
		Number:       conn.Address,
		Name:         name,
		Presentation: conn.Presentation.String(),
		Start:        conn.CreateTime,
		Answer:       conn.ConnectTime,
		End:          conn.DisconnectTime,
		Duration:     conn.Duration(),
		Cause:        cause.String(),
		Missed:       missed,
	})
}

func (e *Engine) evaluateDockSpeaker() {
	if e.settings == nil {
		return
	}
	if e.docked && e.settings.DockAutoSpeaker() && !e.speakerOn {
		e.speakerOn = true
		e.device.SetSpeaker(true)
	}
}

func (e *Engine) cancelPostDialPrompt() {
	if e.cancelPostDial != nil {
		e.cancelPostDial()
		e.cancelPostDial = nil
	}
}

func mmiEvent(s *mmi.Session) *MmiEvent {
	return &MmiEvent{
		Token:      s.Token,
		Code:       s.Code.Raw,
		State:      s.State.String(),
		Message:    s.Message,
		Cancelable: s.Cancelable,
	}
}

func responseStatus(s telephony.MmiStatus) mmi.ResponseStatus {
	switch s {
	case telephony.MmiPending:
		return mmi.ResponsePending
	case telephony.MmiFailed:
		return mmi.ResponseFailed
	case telephony.MmiCancelled:
		return mmi.ResponseCancelled
	default:
		return mmi.ResponseComplete
	}
}
