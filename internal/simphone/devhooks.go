package simphone

import (
	"time"

	"github.com/dialcore/dialcore/internal/telephony"
)

// Dev hooks drive the simulation from outside the dispatch queue (the
// flag-gated dev API and tests). Each posts itself onto the queue, so the
// effect is asynchronous.

// InjectRinging starts an inbound call. A call arriving on top of an
// active one rings as call waiting; a second ringing call is dropped.
func (p *Phone) InjectRinging(number, name string, presentation telephony.Presentation) {
	p.run(func() {
		if p.ringing.State.IsRinging() {
			p.logger.Info("dropping injected call, already ringing", "number", number)
			return
		}
		conn := telephony.NewConnection(number)
		conn.Incoming = true
		conn.CNAPName = name
		conn.Presentation = presentation

		state := telephony.CallIncoming
		if !p.fg.IsIdle() || !p.bg.IsIdle() {
			state = telephony.CallWaiting
		}
		p.ringing.State = state
		p.ringing.AddConnection(conn)
		p.emit(telephony.Event{Kind: telephony.EventNewRinging, Conn: conn})
	})
}

// SetServiceState scripts the network registration state.
func (p *Phone) SetServiceState(s telephony.ServiceState) {
	p.run(func() {
		if p.service == s {
			return
		}
		p.service = s
		p.emit(telephony.Event{Kind: telephony.EventServiceState, Service: s})
	})
}

// EndRemote ends the connection from the far side. An unanswered inbound
// connection counts as missed.
func (p *Phone) EndRemote(connID string) {
	p.run(func() {
		for _, c := range []*telephony.Call{p.ringing, p.fg, p.bg} {
			for _, conn := range c.Connections {
				if conn.ID != connID {
					continue
				}
				cause := telephony.CauseRemoteHangup
				if conn.Incoming && conn.ConnectTime.IsZero() {
					cause = telephony.CauseMissed
				}
				p.endRemoteConn(c, conn, cause)
				return
			}
		}
		p.logger.Debug("no such connection to end", "connection_id", connID)
	})
}

// endRemoteConn drops one connection; the call ends when it was the last.
func (p *Phone) endRemoteConn(c *telephony.Call, conn *telephony.Connection, cause telephony.DisconnectCause) {
	conn.Cause = cause
	conn.DisconnectTime = time.Now()
	c.RemoveConnection(conn.ID)
	if len(c.Connections) == 0 {
		c.State = telephony.CallDisconnected
	}
	p.emit(telephony.Event{Kind: telephony.EventDisconnect, Conn: conn, Cause: cause})
	if len(c.Connections) > 0 {
		p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	}
}

// ScriptMmiReply queues the network's next MMI/USSD answer.
func (p *Phone) ScriptMmiReply(result telephony.MmiResult) {
	p.run(func() {
		p.mmiScript = append(p.mmiScript, result)
	})
}

// ScriptSuppFailure arms a network rejection for the next matching
// supplementary-service request: the request is accepted locally and the
// failure is reported asynchronously.
func (p *Phone) ScriptSuppFailure(op telephony.SuppService) {
	p.run(func() {
		p.suppFailNext = op
	})
}
