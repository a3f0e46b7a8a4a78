package dialgw

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// AccountStore abstracts account lookups. Implemented by the PostgreSQL
// store.
type AccountStore interface {
	// ValidateKey checks an account key and returns the account if it
	// exists and is active. Returns nil, nil otherwise.
	ValidateKey(ctx context.Context, key string) (*Account, error)
}

// CnamDirectory resolves a phone number to a caller name. A miss returns
// ("", nil).
type CnamDirectory interface {
	LookupName(ctx context.Context, number string) (string, error)
}

// PushSender delivers wake notifications via FCM or APNs.
type PushSender interface {
	// Send delivers a wake push to the specified token. platform is
	// "fcm" or "apns".
	Send(ctx context.Context, platform, token string, payload WakePayload) error
}

// PushLogger records wake delivery attempts for audit and debugging.
type PushLogger interface {
	Log(entry PushLogEntry) error
}

// Server holds the gateway HTTP handler dependencies.
type Server struct {
	router      *chi.Mux
	accounts    AccountStore
	cnam        CnamDirectory
	sender      PushSender
	pushLog     PushLogger
	rateLimiter *RateLimiter
}

// Options wires a gateway Server. Nil fields disable the endpoints that
// need them with a 503.
type Options struct {
	Accounts    AccountStore
	Cnam        CnamDirectory
	Sender      PushSender
	PushLog     PushLogger
	RateLimiter *RateLimiter
}

// NewServer creates a gateway HTTP server with all routes mounted.
func NewServer(opts Options) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		accounts:    opts.Accounts,
		cnam:        opts.Cnam,
		sender:      opts.Sender,
		pushLog:     opts.PushLog,
		rateLimiter: opts.RateLimiter,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying chi.Mux so the caller can add middleware.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// routes mounts all gateway API routes under /v1.
func (s *Server) routes() {
	r := s.router

	r.Route("/v1", func(r chi.Router) {
		if s.rateLimiter != nil {
			r.Use(s.rateLimiter.Middleware)
		}
		r.Post("/wake", s.handleWake)
		r.Get("/cnam", s.handleCnam)
	})
}

// authenticate resolves the X-Account-Key header to an active account.
// It writes the error response itself and returns nil when the request
// must not proceed.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) *Account {
	if s.accounts == nil {
		writeError(w, http.StatusServiceUnavailable, "account service not configured")
		return nil
	}

	key := r.Header.Get("X-Account-Key")
	if key == "" {
		writeError(w, http.StatusUnauthorized, "X-Account-Key header is required")
		return nil
	}

	account, err := s.accounts.ValidateKey(r.Context(), key)
	if err != nil {
		slog.Error("account validation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if account == nil {
		writeError(w, http.StatusForbidden, "invalid or inactive account key")
		return nil
	}
	return account
}

// handleWake handles POST /v1/wake: validate the account, deliver the
// wake push, log the attempt.
func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	if s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "push service not configured")
		return
	}

	account := s.authenticate(w, r)
	if account == nil {
		return
	}

	var req WakeRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if req.PushToken == "" {
		writeError(w, http.StatusBadRequest, "push_token is required")
		return
	}
	if req.PushPlatform != "fcm" && req.PushPlatform != "apns" {
		writeError(w, http.StatusBadRequest, "push_platform must be fcm or apns")
		return
	}
	if req.Event != "ringing" && req.Event != "missed" {
		writeError(w, http.StatusBadRequest, "event must be ringing or missed")
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	payload := WakePayload{
		Event:      req.Event,
		CallID:     req.CallID,
		CallerID:   req.CallerID,
		CallerName: req.CallerName,
	}

	sendErr := s.sender.Send(r.Context(), req.PushPlatform, req.PushToken, payload)

	if s.pushLog != nil {
		logEntry := PushLogEntry{
			AccountKey: account.Key,
			Platform:   req.PushPlatform,
			Event:      req.Event,
			CallID:     req.CallID,
			Success:    sendErr == nil,
			Timestamp:  time.Now(),
		}
		if sendErr != nil {
			logEntry.Error = sendErr.Error()
		}
		if logErr := s.pushLog.Log(logEntry); logErr != nil {
			slog.Error("wake: failed to write push log", "error", logErr)
		}
	}

	if sendErr != nil {
		slog.Error("wake: delivery failed", "error", sendErr, "platform", req.PushPlatform, "call_id", req.CallID)
		writeError(w, http.StatusBadGateway, "push delivery failed")
		return
	}

	slog.Info("wake push sent",
		"platform", req.PushPlatform,
		"event", req.Event,
		"call_id", req.CallID,
		"account_key_prefix", truncateKey(account.Key),
	)

	writeJSON(w, http.StatusOK, WakeResponse{
		Delivered: true,
		CallID:    req.CallID,
	})
}

// handleCnam handles GET /v1/cnam?number= with the account's directory.
func (s *Server) handleCnam(w http.ResponseWriter, r *http.Request) {
	if s.cnam == nil {
		writeError(w, http.StatusServiceUnavailable, "cnam service not configured")
		return
	}

	if account := s.authenticate(w, r); account == nil {
		return
	}

	number := r.URL.Query().Get("number")
	if number == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	name, err := s.cnam.LookupName(r.Context(), number)
	if err != nil {
		slog.Error("cnam lookup failed", "error", err, "number", number)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, CnamResponse{
		Number: number,
		Name:   name,
		Found:  name != "",
	})
}

// truncateKey returns the first 8 characters of an account key for safe
// logging.
func truncateKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}

// envelope is the standard response wrapper for the gateway API.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code and data payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}

// maxRequestBodySize is the upper limit for JSON request bodies (1 MB).
const maxRequestBodySize = 1 << 20

// readJSON decodes a JSON request body into dst with size limiting.
// Returns a user-friendly error string on failure, or "" on success.
func readJSON(r *http.Request, dst any) string {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return "invalid request body"
	}

	if dec.More() {
		return "request body must contain a single json object"
	}

	return ""
}
