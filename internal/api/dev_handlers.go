package api

import (
	"net/http"

	"github.com/dialcore/dialcore/internal/telephony"
)

// Simulation-control endpoints, mounted only with --dev-api. They poke the
// fake drivers to produce the network-side behavior real hardware would.

// devPhone resolves the phone named in a dev request. An empty name picks
// the sole driver when only one is registered.
func (s *Server) devPhone(name string) (DevPhone, bool) {
	if name == "" && len(s.devPhones) == 1 {
		for _, p := range s.devPhones {
			return p, true
		}
	}
	p, ok := s.devPhones[name]
	return p, ok
}

var presentationNames = map[string]telephony.Presentation{
	"":           telephony.PresentationAllowed,
	"allowed":    telephony.PresentationAllowed,
	"restricted": telephony.PresentationRestricted,
	"unknown":    telephony.PresentationUnknown,
	"payphone":   telephony.PresentationPayphone,
}

// handleDevRing injects an inbound ringing call on the named phone.
func (s *Server) handleDevRing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone        string `json:"phone"`
		Number       string `json:"number"`
		Name         string `json:"name"`
		Presentation string `json:"presentation"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateDialTarget("number", req.Number); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	presentation, ok := presentationNames[req.Presentation]
	if !ok {
		writeError(w, http.StatusBadRequest, "presentation must be \"allowed\", \"restricted\", \"unknown\", or \"payphone\"")
		return
	}
	phone, ok := s.devPhone(req.Phone)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown phone")
		return
	}

	phone.InjectRinging(req.Number, req.Name, presentation)
	writeJSON(w, http.StatusOK, map[string]bool{"injected": true})
}

var serviceStateNames = map[string]telephony.ServiceState{
	"in_service":     telephony.ServiceInService,
	"out_of_service": telephony.ServiceOutOfService,
	"emergency_only": telephony.ServiceEmergencyOnly,
	"power_off":      telephony.ServicePowerOff,
}

// handleDevServiceState sets the named phone's network registration.
func (s *Server) handleDevServiceState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		State string `json:"state"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	state, ok := serviceStateNames[req.State]
	if !ok {
		writeError(w, http.StatusBadRequest, "state must be \"in_service\", \"out_of_service\", \"emergency_only\", or \"power_off\"")
		return
	}
	phone, ok := s.devPhone(req.Phone)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown phone")
		return
	}

	phone.SetServiceState(state)
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

// handleDevEndRemote hangs up a connection from the far side.
func (s *Server) handleDevEndRemote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone        string `json:"phone"`
		ConnectionID string `json:"connection_id"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("connection_id", req.ConnectionID, maxNameLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	phone, ok := s.devPhone(req.Phone)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown phone")
		return
	}

	phone.EndRemote(req.ConnectionID)
	writeJSON(w, http.StatusOK, map[string]bool{"ended": true})
}

var mmiStatusNames = map[string]telephony.MmiStatus{
	"complete":  telephony.MmiComplete,
	"pending":   telephony.MmiPending,
	"failed":    telephony.MmiFailed,
	"cancelled": telephony.MmiCancelled,
}

// handleDevMmiReply scripts the network's response to the next MMI or USSD
// request on the named phone.
func (s *Server) handleDevMmiReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone   string `json:"phone"`
		Code    string `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	status, ok := mmiStatusNames[req.Status]
	if !ok {
		writeError(w, http.StatusBadRequest, "status must be \"complete\", \"pending\", \"failed\", or \"cancelled\"")
		return
	}
	phone, ok := s.devPhone(req.Phone)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown phone")
		return
	}

	phone.ScriptMmiReply(telephony.MmiResult{
		Code:    req.Code,
		Status:  status,
		Message: req.Message,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"scripted": true})
}

var suppServiceNames = map[string]telephony.SuppService{
	"switch":     telephony.SuppSwitch,
	"conference": telephony.SuppConference,
	"separate":   telephony.SuppSeparate,
}

// handleDevSuppFail scripts a network rejection for the next matching
// supplementary-service request on the named phone.
func (s *Server) handleDevSuppFail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone     string `json:"phone"`
		Operation string `json:"operation"`
	}
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	op, ok := suppServiceNames[req.Operation]
	if !ok {
		writeError(w, http.StatusBadRequest, "operation must be \"switch\", \"conference\", or \"separate\"")
		return
	}
	phone, ok := s.devPhone(req.Phone)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown phone")
		return
	}

	phone.ScriptSuppFailure(op)
	writeJSON(w, http.StatusOK, map[string]bool{"scripted": true})
}
