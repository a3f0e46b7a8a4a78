package sipphone

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/icholy/digest"

	"github.com/dialcore/dialcore/internal/telephony"
)

const inDialogTimeout = 5 * time.Second

// dialog holds the SIP side of one connection. Fields are written on
// the dispatch queue; the goroutine that owns a pending outbound INVITE
// reads only its own copies.
type dialog struct {
	connID string
	callID string

	// req is the INVITE that created the dialog: ours for outbound,
	// the peer's for inbound. res is the 2xx that answered it.
	req *sip.Request
	res *sip.Response

	// tx is the inbound INVITE server transaction, open until a final
	// response is sent.
	tx sip.ServerTransaction

	inbound  bool
	answered bool

	// cseq numbers our in-dialog requests on inbound dialogs, where we
	// never sent the INVITE.
	cseq uint32

	// cancel aborts a pending outbound INVITE.
	cancel context.CancelFunc
}

// placeInvite sends an outbound INVITE and walks its responses,
// posting call-model updates back onto the dispatch queue. It handles
// one digest challenge; a second challenge fails the call.
func (p *Phone) placeInvite(ctx context.Context, d *dialog, number string) {
	// A bare number dials through our proxy; a full user@host address
	// is dialed as given.
	recipientStr := fmt.Sprintf("sip:%s@%s:%d", number, p.cfg.Server, p.cfg.Port)
	if strings.Contains(number, "@") {
		recipientStr = "sip:" + number
	}
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		p.logger.Error("invalid invite uri", "uri", recipientStr, "error", err)
		p.failOutbound(d.connID, telephony.CauseInvalidNumber)
		return
	}

	req := sip.NewRequest(sip.INVITE, recipient)
	req.SetTransport(p.transport())

	callID := uuid.NewString()
	req.AppendHeader(sip.NewHeader("Call-ID", callID))
	aor := fmt.Sprintf("<sip:%s@%s>", p.cfg.Username, p.cfg.Server)
	req.AppendHeader(sip.NewHeader("From", aor))
	contact := fmt.Sprintf("<sip:%s@%s>", p.cfg.Username, p.ua.Hostname())
	req.AppendHeader(sip.NewHeader("Contact", contact))

	offer := p.buildOffer()
	if len(offer) > 0 {
		req.SetBody(offer)
		req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}

	p.run(func() { d.callID = callID })

	tx, err := p.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		p.logger.Error("failed to send invite", "number", number, "error", err)
		p.failOutbound(d.connID, telephony.CauseError)
		return
	}

	authed := false
	for {
		var res *sip.Response
		select {
		case <-ctx.Done():
			tx.Terminate()
			return
		case <-tx.Done():
			tx.Terminate()
			if err := tx.Err(); err != nil {
				p.logger.Warn("invite transaction ended", "error", err)
			}
			p.failOutbound(d.connID, telephony.CauseError)
			return
		case res = <-tx.Responses():
		}

		p.logger.Debug("invite response",
			"status", res.StatusCode,
			"reason", res.Reason,
		)

		switch {
		case res.StatusCode == 100:
			// 100 Trying, absorb.
			continue

		case res.StatusCode == 180 || res.StatusCode == 183:
			p.markAlerting(d.connID)

		case res.StatusCode == 401 || res.StatusCode == 407:
			tx.Terminate()
			if authed {
				p.failOutbound(d.connID, telephony.CauseRejected)
				return
			}
			authed = true
			authReq, authTx, err := p.answerChallenge(ctx, req, res, recipientStr)
			if err != nil {
				p.logger.Error("invite auth failed", "error", err)
				p.failOutbound(d.connID, telephony.CauseRejected)
				return
			}
			req, tx = authReq, authTx

		case res.StatusCode >= 200 && res.StatusCode < 300:
			ack := buildAckFor2xx(req, res)
			if err := p.client.WriteRequest(ack); err != nil {
				p.logger.Error("failed to ack 200 ok", "error", err)
			}
			tx.Terminate()
			p.markAnswered(d.connID, req, res)
			return

		case res.StatusCode >= 300:
			tx.Terminate()
			p.failOutbound(d.connID, mapInviteFailure(res.StatusCode))
			return
		}
	}
}

// answerChallenge computes the digest credential for a 401/407 and
// re-sends the request with authorization.
func (p *Phone) answerChallenge(ctx context.Context, req *sip.Request, res *sip.Response, uri string) (*sip.Request, sip.ClientTransaction, error) {
	authHeader := "WWW-Authenticate"
	authzHeader := "Authorization"
	if res.StatusCode == 407 {
		authHeader = "Proxy-Authenticate"
		authzHeader = "Proxy-Authorization"
	}

	wwwAuth := res.GetHeader(authHeader)
	if wwwAuth == nil {
		return nil, nil, fmt.Errorf("received %d but no %s header", res.StatusCode, authHeader)
	}

	chal, err := digest.ParseChallenge(wwwAuth.Value())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing auth challenge: %w", err)
	}

	authUser := p.cfg.Username
	if p.cfg.AuthUsername != "" {
		authUser = p.cfg.AuthUsername
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      uri,
		Username: authUser,
		Password: p.cfg.Password,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("computing digest: %w", err)
	}

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))

	tx, err := p.client.TransactionRequest(ctx, authReq,
		sipgo.ClientRequestIncreaseCSEQ,
		sipgo.ClientRequestAddVia,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("sending authenticated request: %w", err)
	}
	return authReq, tx, nil
}

// markAlerting moves an outbound connection to alerting once.
func (p *Phone) markAlerting(connID string) {
	p.run(func() {
		if p.fg.State != telephony.CallDialing || !p.fgHasConn(connID) {
			return
		}
		p.fg.State = telephony.CallAlerting
		p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	})
}

// markAnswered records the established dialog and activates the call.
func (p *Phone) markAnswered(connID string, req *sip.Request, res *sip.Response) {
	p.run(func() {
		d := p.dialogs[connID]
		if d == nil || !p.fgHasConn(connID) {
			return
		}
		d.req = req
		d.res = res
		d.answered = true

		p.fg.State = telephony.CallActive
		for _, conn := range p.fg.Connections {
			if conn.ID == connID {
				conn.ConnectTime = time.Now()
			}
		}
		p.emit(telephony.Event{Kind: telephony.EventCallStateChanged})
	})
}

// failOutbound ends a pending outbound connection with the given cause.
func (p *Phone) failOutbound(connID string, cause telephony.DisconnectCause) {
	p.run(func() {
		delete(p.dialogs, connID)
		for _, c := range []*telephony.Call{p.fg, p.bg} {
			for _, conn := range c.Connections {
				if conn.ID != connID {
					continue
				}
				conn.Cause = cause
				conn.DisconnectTime = time.Now()
				c.RemoveConnection(conn.ID)
				if len(c.Connections) == 0 {
					c.State = telephony.CallDisconnected
				}
				p.emit(telephony.Event{Kind: telephony.EventDisconnect, Conn: conn, Cause: cause})
				return
			}
		}
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

// onInvite handles an inbound call. A second ringing call is refused;
// a call on top of an active one rings as call waiting.
func (p *Phone) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	p.run(func() {
		if p.service == telephony.ServicePowerOff || p.ringing.State.IsRinging() {
			res := sip.NewResponseFromRequest(req, 486, "Busy Here", nil)
			if err := tx.Respond(res); err != nil {
				p.logger.Error("failed to refuse invite", "error", err)
			}
			return
		}

		from := req.From()
		number := ""
		name := ""
		presentation := telephony.PresentationAllowed
		if from != nil {
			number = from.Address.User
			name = from.DisplayName
		}
		if name == "Anonymous" || number == "anonymous" {
			presentation = telephony.PresentationRestricted
			number = ""
		}

		conn := telephony.NewConnection(number)
		conn.Incoming = true
		conn.CNAPName = name
		conn.Presentation = presentation

		callID := ""
		if cid := req.CallID(); cid != nil {
			callID = cid.Value()
		}
		p.dialogs[conn.ID] = &dialog{
			connID:  conn.ID,
			callID:  callID,
			req:     req,
			tx:      tx,
			inbound: true,
		}

		ringing := sip.NewResponseFromRequest(req, 180, "Ringing", nil)
		ensureToTag(ringing)
		if err := tx.Respond(ringing); err != nil {
			p.logger.Error("failed to send ringing", "error", err)
		}

		state := telephony.CallIncoming
		if !p.fg.IsIdle() || !p.bg.IsIdle() {
			state = telephony.CallWaiting
		}
		p.ringing.State = state
		p.ringing.AddConnection(conn)
		p.emit(telephony.Event{Kind: telephony.EventNewRinging, Conn: conn})
	})
}

// onBye ends the connection from the far side. An unanswered inbound
// connection counts as missed.
func (p *Phone) onBye(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		p.logger.Error("failed to respond to bye", "error", err)
	}

	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	p.run(func() {
		p.endRemoteByCallID(callID)
	})
}

// onCancel aborts a ringing inbound INVITE: the open transaction gets
// 487 and the connection ends as missed.
func (p *Phone) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		p.logger.Error("failed to respond to cancel", "error", err)
	}

	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	p.run(func() {
		d := p.dialogByCallID(callID)
		if d == nil || !d.inbound || d.answered {
			return
		}
		if d.tx != nil && d.req != nil {
			terminated := sip.NewResponseFromRequest(d.req, 487, "Request Terminated", nil)
			if err := d.tx.Respond(terminated); err != nil {
				p.logger.Error("failed to terminate invite", "error", err)
			}
		}
		p.endRemoteByCallID(callID)
	})
}

func (p *Phone) onAck(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	p.logger.Debug("ack received", "call_id", callID)
}

// onOptions answers keepalive pings.
func (p *Phone) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS, INFO"))
	if err := tx.Respond(res); err != nil {
		p.logger.Error("failed to respond to options", "error", err)
	}
}

// endRemoteByCallID drops the connection belonging to a SIP dialog.
// Runs on the dispatch queue.
func (p *Phone) endRemoteByCallID(callID string) {
	d := p.dialogByCallID(callID)
	if d == nil {
		p.logger.Debug("no dialog for call id", "call_id", callID)
		return
	}
	delete(p.dialogs, d.connID)

	for _, c := range []*telephony.Call{p.ringing, p.fg, p.bg} {
		for _, conn := range c.Connections {
			if conn.ID != d.connID {
				continue
			}
			cause := telephony.CauseRemoteHangup
			if conn.Incoming && conn.ConnectTime.IsZero() {
				cause = telephony.CauseMissed
			}
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
			return
		}
	}
}

func (p *Phone) dialogByCallID(callID string) *dialog {
	if callID == "" {
		return nil
	}
	for _, d := range p.dialogs {
		if d.callID == callID {
			return d
		}
	}
	return nil
}

// buildBye creates the in-dialog BYE for an established dialog, in
// either direction.
func (d *dialog) buildBye() *sip.Request {
	if d.req == nil || d.res == nil {
		return nil
	}
	bye := d.newInDialogRequest(sip.BYE)
	return bye
}

// buildInfo creates a SIP INFO carrying one DTMF digit in dtmf-relay
// form.
func (d *dialog) buildInfo(digit rune) *sip.Request {
	if d.req == nil || d.res == nil {
		return nil
	}
	info := d.newInDialogRequest(sip.INFO)
	if info == nil {
		return nil
	}
	body := fmt.Sprintf("Signal=%c\r\nDuration=160\r\n", digit)
	info.SetBody([]byte(body))
	ct := sip.ContentTypeHeader("application/dtmf-relay")
	info.AppendHeader(&ct)
	return info
}

// newInDialogRequest builds a request inside the established dialog.
// The Request-URI is the peer's Contact; From/To carry the dialog tags
// oriented for our direction.
func (d *dialog) newInDialogRequest(method sip.RequestMethod) *sip.Request {
	var recipient *sip.Uri
	var fromAddr, toAddr sip.Uri
	var fromParams, toParams sip.HeaderParams

	if d.inbound {
		// We answered their INVITE: our identity is the response To,
		// theirs is the request From.
		if contact := d.req.Contact(); contact != nil {
			recipient = &contact.Address
		} else {
			recipient = &d.req.Recipient
		}
		to := d.res.To()
		from := d.req.From()
		if to == nil || from == nil {
			return nil
		}
		fromAddr, fromParams = to.Address, to.Params
		toAddr, toParams = from.Address, from.Params
	} else {
		if contact := d.res.Contact(); contact != nil {
			recipient = &contact.Address
		} else {
			recipient = &d.req.Recipient
		}
		from := d.req.From()
		to := d.res.To()
		if to == nil || from == nil {
			return nil
		}
		fromAddr, fromParams = from.Address, from.Params
		toAddr, toParams = to.Address, to.Params
	}

	req := sip.NewRequest(method, *recipient.Clone())
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.FromHeader{Address: *fromAddr.Clone(), Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: *toAddr.Clone(), Params: toParams})
	if cid := d.req.CallID(); cid != nil {
		req.AppendHeader(sip.HeaderClone(cid))
	}
	req.AppendHeader(&sip.CSeqHeader{SeqNo: d.nextCSeq(), MethodName: method})
	req.SetTransport(d.req.Transport())
	return req
}

// nextCSeq returns the next in-dialog sequence number, continuing from
// our INVITE on outbound dialogs.
func (d *dialog) nextCSeq() uint32 {
	if d.cseq == 0 && !d.inbound {
		if cseq := d.req.CSeq(); cseq != nil {
			d.cseq = cseq.SeqNo
		}
	}
	d.cseq++
	return d.cseq
}

// buildAckFor2xx creates the ACK for a 2xx INVITE response. The ACK for
// a 2xx is generated by the UAC core, not the transaction layer. The
// Request-URI comes from the response Contact when present.
func buildAckFor2xx(inviteReq *sip.Request, inviteRes *sip.Response) *sip.Request {
	recipient := &inviteReq.Recipient
	if contact := inviteRes.Contact(); contact != nil {
		recipient = &contact.Address
	}

	ack := sip.NewRequest(sip.ACK, *recipient.Clone())
	ack.SipVersion = inviteReq.SipVersion

	if len(inviteReq.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", inviteReq, ack)
	}
	if h := inviteReq.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteRes.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := inviteReq.CSeq(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if cseq := ack.CSeq(); cseq != nil {
		cseq.MethodName = sip.ACK
	}

	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	if h := inviteReq.Contact(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}

	ack.SetTransport(inviteReq.Transport())
	ack.SetSource(inviteReq.Source())
	return ack
}

// ensureToTag adds a local tag to the To header of a UAS response when
// the request carried none.
func ensureToTag(res *sip.Response) {
	to := res.To()
	if to == nil {
		return
	}
	if _, ok := to.Params.Get("tag"); ok {
		return
	}
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	to.Params.Add("tag", uuid.NewString()[:8])
}

// mapInviteFailure maps a final SIP failure status to the disconnect
// cause reported on the connection.
func mapInviteFailure(statusCode int) telephony.DisconnectCause {
	switch {
	case statusCode == 486 || statusCode == 600:
		return telephony.CauseBusy
	case statusCode == 404 || statusCode == 484 || statusCode == 604:
		return telephony.CauseInvalidNumber
	case statusCode == 480 || statusCode == 408:
		return telephony.CauseNoAnswer
	case statusCode == 487:
		return telephony.CauseLocalHangup
	case statusCode == 403 || statusCode == 603:
		return telephony.CauseRejected
	case statusCode == 503:
		return telephony.CauseCongestion
	default:
		return telephony.CauseError
	}
}
