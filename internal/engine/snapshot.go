package engine

import (
	"github.com/dialcore/dialcore/internal/telephony"
)

// ConnectionView is one party of a call in a state snapshot.
type ConnectionView struct {
	ID              string `json:"id"`
	Number          string `json:"number"`
	Name            string `json:"name,omitempty"`
	Presentation    string `json:"presentation"`
	Incoming        bool   `json:"incoming"`
	GatewayRouted   bool   `json:"gateway_routed,omitempty"`
	Muted           bool   `json:"muted"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// CallView is one occupied slot in a state snapshot.
type CallView struct {
	Slot        string           `json:"slot"`
	Phone       string           `json:"phone"`
	State       string           `json:"state"`
	Multiparty  bool             `json:"multiparty"`
	Connections []ConnectionView `json:"connections"`
}

// PhoneView is one registered phone in a state snapshot.
type PhoneView struct {
	Name    string `json:"name"`
	Tech    string `json:"tech"`
	Service string `json:"service"`
	InEcm   bool   `json:"in_ecm,omitempty"`
}

// StateView is the full engine state snapshot served over the API.
type StateView struct {
	Activity  string      `json:"activity"`
	AudioMode string      `json:"audio_mode"`
	Muted     bool        `json:"muted"`
	Speaker   bool        `json:"speaker"`
	CdmaState string      `json:"cdma_state,omitempty"`
	MMI       *MmiEvent   `json:"mmi,omitempty"`
	Phones    []PhoneView `json:"phones"`
	Calls     []CallView  `json:"calls"`
}

// State assembles a consistent snapshot on the dispatch queue. The error
// is non-nil only when the engine has stopped.
func (e *Engine) State() (StateView, error) {
	var view StateView
	err := e.q.do(func() { view = e.stateView() })
	return view, err
}

func (e *Engine) stateView() StateView {
	view := StateView{
		Activity:  e.cm.Activity().String(),
		AudioMode: e.arbiter.Mode().String(),
		Muted:     e.muted,
		Speaker:   e.speakerOn,
	}
	if e.cdmaMachine != nil {
		view.CdmaState = e.cdmaMachine.State().String()
	}
	if s := e.mmiMgr.Outstanding(); s != nil {
		view.MMI = mmiEvent(s)
	}

	for _, p := range e.cm.Phones() {
		view.Phones = append(view.Phones, PhoneView{
			Name:    p.Name(),
			Tech:    p.Tech().String(),
			Service: p.ServiceState().String(),
			InEcm:   p.InEcm(),
		})
		slots := []struct {
			name string
			call *telephony.Call
		}{
			{"ringing", p.RingingCall()},
			{"foreground", p.ForegroundCall()},
			{"background", p.BackgroundCall()},
		}
		for _, s := range slots {
			if s.call == nil || s.call.IsIdle() {
				continue
			}
			view.Calls = append(view.Calls, e.callView(s.name, s.call))
		}
	}
	return view
}

func (e *Engine) callView(slot string, c *telephony.Call) CallView {
	cv := CallView{
		Slot:       slot,
		Phone:      c.Phone().Name(),
		State:      c.State.String(),
		Multiparty: c.IsMultiparty(),
	}
	for _, conn := range c.Connections {
		view := ConnectionView{
			ID:              conn.ID,
			Number:          conn.Address,
			Name:            conn.CNAPName,
			Presentation:    conn.Presentation.String(),
			Incoming:        conn.Incoming,
			GatewayRouted:   conn.GatewayRouted,
			Muted:           e.mutes.Has(conn.ID) && e.mutes.Get(conn.ID),
			DurationSeconds: int64(conn.Duration().Seconds()),
		}
		if info, ok := e.resolver.Peek(conn.ID); ok && info.Name != "" {
			view.Name = info.Name
		}
		cv.Connections = append(cv.Connections, view)
	}
	return cv
}
