package api

import (
	"log/slog"
	"net/http"

	"github.com/dialcore/dialcore/internal/engine"
)

// placeCallRequest is the body of POST /calls.
type placeCallRequest struct {
	Action    string `json:"action"`
	Target    string `json:"target"`
	Gateway   string `json:"gateway"`
	ContactID int64  `json:"contact_id"`
}

// placeCallResponse reports the outcome of a dial attempt.
type placeCallResponse struct {
	Status string `json:"status"`
	Class  string `json:"class"`
	OK     bool   `json:"ok"`
}

// handlePlaceCall validates and executes one dial request.
func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var req placeCallRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	var action engine.Action
	switch req.Action {
	case "", "ordinary":
		action = engine.ActionOrdinary
	case "emergency":
		action = engine.ActionEmergency
	default:
		writeError(w, http.StatusBadRequest, "action must be \"ordinary\" or \"emergency\"")
		return
	}

	if errMsg := validateDialTarget("target", req.Target); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateStringLen("gateway", req.Gateway, maxDialStringLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	status, err := s.calls.PlaceCall(engine.Request{
		Action:    action,
		Target:    req.Target,
		Gateway:   req.Gateway,
		ContactID: req.ContactID,
	})
	if err != nil {
		slog.Error("place call: engine stopped", "error", err)
		writeError(w, http.StatusServiceUnavailable, "engine stopped")
		return
	}

	writeJSON(w, http.StatusOK, placeCallResponse{
		Status: status.String(),
		Class:  status.Class().String(),
		OK:     status.OK(),
	})
}

// handleCallState returns a consistent snapshot of all call slots.
func (s *Server) handleCallState(w http.ResponseWriter, r *http.Request) {
	view, err := s.calls.State()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "engine stopped")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// actionResponse reports whether a call action was accepted.
type actionResponse struct {
	Accepted bool `json:"accepted"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, actionResponse{Accepted: s.calls.Answer()})
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, actionResponse{Accepted: s.calls.Hangup()})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, actionResponse{Accepted: s.calls.Swap()})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, actionResponse{Accepted: s.calls.Merge()})
}

// separateRequest names the connection to split out of a conference.
type separateRequest struct {
	ConnectionID string `json:"connection_id"`
}

func (s *Server) handleSeparate(w http.ResponseWriter, r *http.Request) {
	var req separateRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.ConnectionID == "" {
		writeError(w, http.StatusBadRequest, "connection_id is required")
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Accepted: s.calls.Separate(req.ConnectionID)})
}

// muteRequest is the body of POST /calls/mute.
type muteRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	s.calls.SetMute(req.Muted)
	writeJSON(w, http.StatusOK, map[string]bool{"muted": s.calls.Muted()})
}

// speakerRequest is the body of POST /calls/speaker.
type speakerRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleSpeaker(w http.ResponseWriter, r *http.Request) {
	var req speakerRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	s.calls.SetSpeaker(req.On)
	writeJSON(w, http.StatusOK, map[string]bool{"speaker": req.On})
}

// dockedRequest is the body of POST /calls/docked.
type dockedRequest struct {
	Docked bool `json:"docked"`
}

func (s *Server) handleDocked(w http.ResponseWriter, r *http.Request) {
	var req dockedRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	s.calls.SetDocked(req.Docked)
	writeJSON(w, http.StatusOK, map[string]bool{"docked": req.Docked})
}

// dialpadRequest is the body of POST /calls/dialpad.
type dialpadRequest struct {
	Open bool `json:"open"`
}

func (s *Server) handleDialpad(w http.ResponseWriter, r *http.Request) {
	var req dialpadRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	s.calls.SetDialpadOpen(req.Open)
	writeJSON(w, http.StatusOK, map[string]bool{"open": req.Open})
}

// dtmfRequest is the body of POST /calls/dtmf.
type dtmfRequest struct {
	Digits string `json:"digits"`
}

func (s *Server) handleDTMF(w http.ResponseWriter, r *http.Request) {
	var req dtmfRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateDTMFDigits("digits", req.Digits); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Accepted: s.calls.SendDTMF(req.Digits)})
}

func (s *Server) handleMmiCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, actionResponse{Accepted: s.calls.CancelMmi()})
}

// mmiReplyRequest is the body of POST /mmi/reply.
type mmiReplyRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMmiReply(w http.ResponseWriter, r *http.Request) {
	var req mmiReplyRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequiredStringLen("text", req.Text, maxUssdReplyLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Accepted: s.calls.ReplyUssd(req.Text)})
}

func (s *Server) handleEcmExit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, actionResponse{Accepted: s.calls.ExitEcm()})
}
