package simphone

import (
	"github.com/dialcore/dialcore/internal/telephony"
)

// defaultMmiReply answers codes with no scripted response.
var defaultMmiReply = telephony.MmiResult{
	Status:  telephony.MmiComplete,
	Message: "service code processed",
}

// SendMMI hands a network-service code to the simulated network. The reply
// arrives after MmiDelay: the next scripted result if one is queued,
// otherwise a generic completion.
func (p *Phone) SendMMI(code string) error {
	if !p.cfg.Tech.SupportsMMI() {
		return telephony.ErrNotSupported
	}
	if p.service != telephony.ServiceInService {
		return telephony.ErrInvalidState
	}
	p.armMmiReply(code)
	return nil
}

// SendUssdReply continues the interactive session with user input.
func (p *Phone) SendUssdReply(text string) error {
	if !p.cfg.Tech.SupportsMMI() {
		return telephony.ErrNotSupported
	}
	p.armMmiReply(text)
	return nil
}

// CancelMMI asks the network to abort the exchange. The simulated network
// always honors it: the pending reply is replaced by a cancellation.
func (p *Phone) CancelMMI() error {
	if !p.cfg.Tech.SupportsMMI() {
		return telephony.ErrNotSupported
	}
	p.disarmMmi()
	p.cancelMmi = p.schedule(p.cfg.MmiDelay, func() {
		p.cancelMmi = nil
		p.emit(telephony.Event{Kind: telephony.EventMmiResponse, MMI: &telephony.MmiResult{
			Status:  telephony.MmiCancelled,
			Message: "request cancelled",
		}})
	})
	return nil
}

func (p *Phone) armMmiReply(code string) {
	p.disarmMmi()
	p.cancelMmi = p.schedule(p.cfg.MmiDelay, func() {
		p.cancelMmi = nil
		reply := defaultMmiReply
		if len(p.mmiScript) > 0 {
			reply = p.mmiScript[0]
			p.mmiScript = p.mmiScript[1:]
		}
		reply.Code = code
		p.emit(telephony.Event{Kind: telephony.EventMmiResponse, MMI: &reply})
	})
}

func (p *Phone) disarmMmi() {
	if p.cancelMmi != nil {
		p.cancelMmi()
		p.cancelMmi = nil
	}
}
