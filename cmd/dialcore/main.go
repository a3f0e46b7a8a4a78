package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/dialcore/dialcore/internal/api"
	"github.com/dialcore/dialcore/internal/audio"
	"github.com/dialcore/dialcore/internal/callerinfo"
	"github.com/dialcore/dialcore/internal/config"
	"github.com/dialcore/dialcore/internal/database"
	"github.com/dialcore/dialcore/internal/database/models"
	"github.com/dialcore/dialcore/internal/engine"
	"github.com/dialcore/dialcore/internal/metrics"
	"github.com/dialcore/dialcore/internal/push"
	"github.com/dialcore/dialcore/internal/simphone"
	"github.com/dialcore/dialcore/internal/sipphone"
	"github.com/dialcore/dialcore/internal/telephony"
)

// retentionInterval is how often the history pruning loop runs.
const retentionInterval = 12 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting dialcore",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"dev_api", cfg.DevAPI,
		"sip", cfg.SIPEnabled(),
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	contacts := database.NewContactRepository(db)
	history := database.NewHistoryRepository(db)
	devices := database.NewDeviceRepository(db)
	settings, err := database.NewSettingsRepository(context.Background(), db)
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	// Phone drivers. The simulated GSM radio is the default route; the
	// simulated CDMA radio and the SIP softphone register alongside it.
	gsm := simphone.New(simphone.Config{
		Tech:            telephony.TechGSM,
		Name:            "gsm0",
		VoicemailNumber: cfg.VoicemailNumber,
	})
	cdma := simphone.New(simphone.Config{
		Tech:            telephony.TechCDMA,
		Name:            "cdma0",
		VoicemailNumber: cfg.VoicemailNumber,
	})

	manager := telephony.NewCallManager(gsm)
	manager.Register(cdma)

	if cfg.SIPEnabled() {
		sip := sipphone.New(sipphone.Config{
			Name:            "sip0",
			Server:          cfg.SIPServer,
			Port:            cfg.SIPPort,
			Username:        cfg.SIPUsername,
			AuthUsername:    cfg.SIPAuthUsername,
			Password:        cfg.SIPPassword,
			Transport:       cfg.SIPTransport,
			Expiry:          cfg.SIPExpiry,
			ListenAddr:      cfg.SIPListenAddr,
			VoicemailNumber: cfg.VoicemailNumber,
		})
		manager.Register(sip)
	}

	// Gateway client for wake pushes and caller-name lookups. An empty
	// gateway URL leaves it unconfigured and every directory lookup misses.
	gateway := push.NewClient(cfg.GatewayURL, cfg.AccountKey)

	recorder := newHistoryRecorder(history)
	go recorder.run(appCtx)

	eng := engine.New(engine.Options{
		Manager:  manager,
		Device:   audio.NewLocalDevice(),
		Settings: &settingsAdapter{settings: settings},
		History:  recorder,
		Lookup: callerinfo.Chain{
			callerinfo.NewContactsLookup(contacts),
			callerinfo.NewDirectoryLookup(gateway),
		},
	})
	if err := eng.Start(); err != nil {
		slog.Error("failed to start call engine", "error", err)
		os.Exit(1)
	}

	// Wake paired companion apps on ringing and missed calls.
	notifierEvents, unsubscribe := eng.Subscribe()
	notifier := push.NewNotifier(gateway, devices)
	go notifier.Run(appCtx, notifierEvents)

	go pruneHistoryLoop(appCtx, history, settings)

	metricsHandler, err := metrics.Handler(metrics.NewCollector(eng, history, devices, time.Now()))
	if err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	// Simulation hooks are only mounted when the dev API is enabled.
	var devPhones map[string]api.DevPhone
	if cfg.DevAPI {
		devPhones = map[string]api.DevPhone{
			gsm.Name():  gsm,
			cdma.Name(): cdma,
		}
	}

	handler := api.NewServer(api.Options{
		Config:    cfg,
		Calls:     eng,
		Contacts:  contacts,
		History:   history,
		Settings:  settings,
		Devices:   devices,
		JWTSecret: jwtSecret,
		DevPhones: devPhones,
		Metrics:   metricsHandler,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout. The engine stops first so drivers
	// detach and event subscribers drain before the HTTP server closes.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	unsubscribe()
	eng.Stop()
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("dialcore stopped")
}

// settingsAdapter exposes the settings store to the engine. The
// repository answers from an in-memory cache, so reads on the dispatch
// queue stay cheap.
type settingsAdapter struct {
	settings database.SettingsRepository
}

func (a *settingsAdapter) ExtraEmergencyNumbers() []string {
	return a.csvList(database.SettingExtraEmergencyNumbers)
}

func (a *settingsAdapter) ActivationCodes() []string {
	return a.csvList(database.SettingActivationCodes)
}

func (a *settingsAdapter) DockAutoSpeaker() bool {
	v, err := a.settings.Get(context.Background(), database.SettingDockSpeaker)
	if err != nil {
		return false
	}
	return v == "true"
}

func (a *settingsAdapter) csvList(key string) []string {
	v, err := a.settings.Get(context.Background(), key)
	if err != nil || v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// historyRecorder persists finished calls. RecordCall runs on the engine
// dispatch queue, so it hands the record to a worker goroutine instead of
// touching the database inline.
type historyRecorder struct {
	history database.HistoryRepository
	records chan engine.CallRecord
}

func newHistoryRecorder(history database.HistoryRepository) *historyRecorder {
	return &historyRecorder{
		history: history,
		records: make(chan engine.CallRecord, 32),
	}
}

func (r *historyRecorder) RecordCall(rec engine.CallRecord) {
	select {
	case r.records <- rec:
	default:
		slog.Warn("call history queue full, dropping record", "call_id", rec.CallID)
	}
}

func (r *historyRecorder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-r.records:
			entry := &models.CallHistoryEntry{
				CallID:       rec.CallID,
				Phone:        rec.Phone,
				Direction:    rec.Direction,
				Number:       rec.Number,
				Name:         rec.Name,
				Presentation: rec.Presentation,
				StartTime:    rec.Start,
				EndTime:      rec.End,
				Duration:     int(rec.Duration.Seconds()),
				Cause:        rec.Cause,
				Missed:       rec.Missed,
			}
			if !rec.Answer.IsZero() {
				answer := rec.Answer
				entry.AnswerTime = &answer
			}
			if err := r.history.Create(ctx, entry); err != nil {
				slog.Error("failed to record call", "call_id", rec.CallID, "error", err)
			}
		}
	}
}

// pruneHistoryLoop deletes call log entries older than the configured
// retention window. A retention of zero keeps everything.
func pruneHistoryLoop(ctx context.Context, history database.HistoryRepository, settings database.SettingsRepository) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, err := settings.Get(ctx, database.SettingHistoryRetentionDays)
			if err != nil || v == "" {
				continue
			}
			days, err := strconv.Atoi(v)
			if err != nil || days <= 0 {
				continue
			}
			removed, err := history.DeleteOlderThan(ctx, days)
			if err != nil {
				slog.Error("failed to prune call history", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("pruned call history", "removed", removed, "retention_days", days)
			}
		}
	}
}
