// Package api exposes the call-control engine and its stores over HTTP:
// a JSON API for paired devices, a server-sent event stream, and the
// flag-gated simulation controls.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dialcore/dialcore/internal/api/middleware"
	"github.com/dialcore/dialcore/internal/config"
	"github.com/dialcore/dialcore/internal/database"
	"github.com/dialcore/dialcore/internal/engine"
	"github.com/dialcore/dialcore/internal/telephony"
)

// CallController is the engine surface the API drives. Satisfied by
// *engine.Engine; handler tests substitute a fake.
type CallController interface {
	PlaceCall(req engine.Request) (engine.Status, error)
	Answer() bool
	Hangup() bool
	Swap() bool
	Merge() bool
	Separate(connID string) bool
	SetMute(muted bool)
	Muted() bool
	SetSpeaker(on bool)
	SetDocked(docked bool)
	SetDialpadOpen(open bool)
	SendDTMF(digits string) bool
	CancelMmi() bool
	ReplyUssd(text string) bool
	ExitEcm() bool
	State() (engine.StateView, error)
	Subscribe() (<-chan engine.Event, func())
}

// DevPhone is the simulation-control surface of a fake driver, exposed
// only when the dev API is enabled.
type DevPhone interface {
	InjectRinging(number, name string, presentation telephony.Presentation)
	SetServiceState(s telephony.ServiceState)
	EndRemote(connID string)
	ScriptMmiReply(result telephony.MmiResult)
	ScriptSuppFailure(op telephony.SuppService)
}

// Options wires a Server.
type Options struct {
	Config    *config.Config
	Calls     CallController
	Contacts  database.ContactRepository
	History   database.HistoryRepository
	Settings  database.SettingsRepository
	Devices   database.DeviceRepository
	JWTSecret []byte

	// DevPhones maps driver name to its simulation hooks. Routes are
	// mounted only when Config.DevAPI is set.
	DevPhones map[string]DevPhone

	// Metrics, when non-nil, is mounted at /metrics.
	Metrics http.Handler
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config

	calls     CallController
	contacts  database.ContactRepository
	history   database.HistoryRepository
	settings  database.SettingsRepository
	devices   database.DeviceRepository
	jwtSecret []byte
	devPhones map[string]DevPhone
	metrics   http.Handler

	pairLimiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(opts Options) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         opts.Config,
		calls:       opts.Calls,
		contacts:    opts.Contacts,
		history:     opts.History,
		settings:    opts.Settings,
		devices:     opts.Devices,
		jwtSecret:   opts.JWTSecret,
		devPhones:   opts.DevPhones,
		metrics:     opts.Metrics,
		pairLimiter: middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	s.pairLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(false))
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)

		r.With(middleware.RateLimit(s.pairLimiter)).Post("/pair", s.handlePair)

		// Everything else requires a paired-device token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireDeviceAuth(s.jwtSecret))

			r.Route("/calls", func(r chi.Router) {
				r.Post("/", s.handlePlaceCall)
				r.Get("/state", s.handleCallState)
				r.Post("/answer", s.handleAnswer)
				r.Post("/hangup", s.handleHangup)
				r.Post("/swap", s.handleSwap)
				r.Post("/merge", s.handleMerge)
				r.Post("/separate", s.handleSeparate)
				r.Post("/mute", s.handleMute)
				r.Post("/speaker", s.handleSpeaker)
				r.Post("/docked", s.handleDocked)
				r.Post("/dialpad", s.handleDialpad)
				r.Post("/dtmf", s.handleDTMF)
			})

			r.Route("/mmi", func(r chi.Router) {
				r.Post("/cancel", s.handleMmiCancel)
				r.Post("/reply", s.handleMmiReply)
			})

			r.Post("/ecm/exit", s.handleEcmExit)

			r.Get("/events", s.handleEvents)

			r.Route("/history", func(r chi.Router) {
				r.Get("/", s.handleListHistory)
				r.Get("/export", s.handleExportHistory)
				r.Delete("/", s.handlePurgeHistory)
				r.Get("/{id}", s.handleGetHistory)
				r.Delete("/{id}", s.handleDeleteHistory)
			})

			r.Route("/contacts", func(r chi.Router) {
				r.Get("/", s.handleListContacts)
				r.Post("/", s.handleCreateContact)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetContact)
					r.Put("/", s.handleUpdateContact)
					r.Delete("/", s.handleDeleteContact)
				})
			})

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Delete("/{id}", s.handleDeleteDevice)
				r.Put("/{id}/push-token", s.handleUpdatePushToken)
			})

			if s.cfg.DevAPI && len(s.devPhones) > 0 {
				r.Route("/dev", func(r chi.Router) {
					r.Post("/ring", s.handleDevRing)
					r.Post("/service-state", s.handleDevServiceState)
					r.Post("/end-remote", s.handleDevEndRemote)
					r.Post("/mmi-reply", s.handleDevMmiReply)
					r.Post("/supp-fail", s.handleDevSuppFail)
				})
			}
		})
	})
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
