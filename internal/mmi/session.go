package mmi

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of an MMI/USSD session.
type SessionState int

const (
	StatePending SessionState = iota
	StateCancelled
	StateComplete
	StateFailed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCancelled:
		return "cancelled"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NetworkTimeout is the fallback armed on every network round trip of a
// session; a session with no answer by then fails locally.
const NetworkTimeout = 15 * time.Second

// timeoutMessage is the final message of a session that timed out.
const timeoutMessage = "no response from network"

// Session is one outstanding network-service request. At most one exists.
type Session struct {
	Token      string
	Code       *Code
	State      SessionState
	Cancelable bool
	Message    string // final or prompt message
	StartedAt  time.Time
}

// Terminal reports whether the session has ended.
func (s *Session) Terminal() bool {
	return s.State != StatePending
}

// Scheduler arms a single-shot cancellable timer whose callback runs on
// the engine dispatch queue.
type Scheduler func(d time.Duration, fn func()) (cancel func())

// Hooks are the manager's outbound notifications. All fire on the engine
// dispatch queue. Nil hooks are skipped.
type Hooks struct {
	// OnInitiate fires when a session starts, for progress indication.
	OnInitiate func(s *Session)
	// OnPrompt fires when the network wants further input for the session.
	OnPrompt func(s *Session, prompt string)
	// OnFinished fires exactly once per session when it reaches a terminal
	// state, including supersede and timeout.
	OnFinished func(s *Session)
}

// Manager tracks the one outstanding session and its timeout. It is only
// touched from the engine dispatch queue.
type Manager struct {
	current     *Session
	cancelTimer func()

	schedule Scheduler
	hooks    Hooks
	logger   *slog.Logger
}

// NewManager creates a manager using the given timer scheduler and hooks.
func NewManager(schedule Scheduler, hooks Hooks) *Manager {
	return &Manager{
		schedule: schedule,
		hooks:    hooks,
		logger:   slog.Default().With("component", "mmi"),
	}
}

// Outstanding returns the current pending session, nil if none.
func (m *Manager) Outstanding() *Session {
	if m.current != nil && m.current.Terminal() {
		return nil
	}
	return m.current
}

// Initiate opens a session for the given code, superseding any outstanding
// one, and arms the network timeout.
func (m *Manager) Initiate(code *Code) *Session {
	if cur := m.Outstanding(); cur != nil {
		m.logger.Info("superseding outstanding mmi session", "token", cur.Token)
		m.finish(cur, StateCancelled, "superseded")
	}

	s := &Session{
		Token:      uuid.NewString(),
		Code:       code,
		State:      StatePending,
		Cancelable: code.Cancelable(),
		StartedAt:  time.Now(),
	}
	m.current = s
	m.armTimeout(s)

	if m.hooks.OnInitiate != nil {
		m.hooks.OnInitiate(s)
	}
	return s
}

// HandleResponse applies a network answer to the outstanding session.
// Responses with no session to match are stale and dropped.
func (m *Manager) HandleResponse(status ResponseStatus, message string) {
	s := m.Outstanding()
	if s == nil {
		m.logger.Debug("dropping mmi response with no outstanding session")
		return
	}

	switch status {
	case ResponseComplete:
		m.finish(s, StateComplete, message)
	case ResponseFailed:
		m.finish(s, StateFailed, message)
	case ResponseCancelled:
		m.finish(s, StateCancelled, message)
	case ResponsePending:
		// The network wants input; the clock stops while the user types.
		m.disarmTimeout()
		s.Message = message
		if m.hooks.OnPrompt != nil {
			m.hooks.OnPrompt(s, message)
		}
	}
}

// ResponseStatus classifies a network MMI answer for HandleResponse.
type ResponseStatus int

const (
	ResponseComplete ResponseStatus = iota
	ResponsePending
	ResponseFailed
	ResponseCancelled
)

// NoteReplySent re-arms the network timeout after user input went back to
// the network on a pending session.
func (m *Manager) NoteReplySent() {
	if s := m.Outstanding(); s != nil {
		m.armTimeout(s)
	}
}

// CancelRequested reports whether the outstanding session accepts a cancel
// and returns it. The session stays pending: cancellation is best-effort
// and only a network response (or the timeout) finishes it.
func (m *Manager) CancelRequested() (*Session, bool) {
	s := m.Outstanding()
	if s == nil || !s.Cancelable {
		return nil, false
	}
	return s, true
}

func (m *Manager) finish(s *Session, state SessionState, message string) {
	m.disarmTimeout()
	s.State = state
	s.Message = message
	if m.current == s {
		m.current = nil
	}
	if m.hooks.OnFinished != nil {
		m.hooks.OnFinished(s)
	}
}

func (m *Manager) armTimeout(s *Session) {
	m.disarmTimeout()
	token := s.Token
	m.cancelTimer = m.schedule(NetworkTimeout, func() {
		// The handle was cancelled on every path that ends the session, so
		// firing here means this exact session is still waiting.
		if cur := m.Outstanding(); cur != nil && cur.Token == token {
			m.logger.Warn("mmi session timed out", "token", token)
			m.finish(cur, StateFailed, timeoutMessage)
		}
	})
}

func (m *Manager) disarmTimeout() {
	if m.cancelTimer != nil {
		m.cancelTimer()
		m.cancelTimer = nil
	}
}
