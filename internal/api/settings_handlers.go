package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dialcore/dialcore/internal/database"
)

// settingsResponse is the shape returned by GET /settings.
type settingsResponse struct {
	Calling callingSettingsResponse `json:"calling"`
	Audio   audioSettingsResponse   `json:"audio"`
	History historySettingsResponse `json:"history"`
}

type callingSettingsResponse struct {
	ExtraEmergencyNumbers string `json:"extra_emergency_numbers"` // comma-separated
	ActivationCodes       string `json:"activation_codes"`        // comma-separated
}

type audioSettingsResponse struct {
	DockSpeaker bool `json:"dock_speaker"`
}

type historySettingsResponse struct {
	RetentionDays int `json:"retention_days"`
}

// settingsRequest is the shape accepted by PUT /settings. Only provided
// sections are updated.
type settingsRequest struct {
	Calling *callingSettingsRequest `json:"calling"`
	Audio   *audioSettingsRequest   `json:"audio"`
	History *historySettingsRequest `json:"history"`
}

type callingSettingsRequest struct {
	ExtraEmergencyNumbers string `json:"extra_emergency_numbers"`
	ActivationCodes       string `json:"activation_codes"`
}

type audioSettingsRequest struct {
	DockSpeaker bool `json:"dock_speaker"`
}

type historySettingsRequest struct {
	RetentionDays int `json:"retention_days"`
}

// handleGetSettings returns all user-editable settings grouped by section.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	get := func(key string) string {
		val, _ := s.settings.Get(ctx, key)
		return val
	}

	retention := 0
	if raw := get(database.SettingHistoryRetentionDays); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			retention = v
		}
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		Calling: callingSettingsResponse{
			ExtraEmergencyNumbers: get(database.SettingExtraEmergencyNumbers),
			ActivationCodes:       get(database.SettingActivationCodes),
		},
		Audio: audioSettingsResponse{
			DockSpeaker: get(database.SettingDockSpeaker) == "true",
		},
		History: historySettingsResponse{
			RetentionDays: retention,
		},
	})
}

// handleUpdateSettings saves settings. Only provided sections are updated.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	ctx := r.Context()

	if req.Calling != nil {
		numbers := splitCSVList(req.Calling.ExtraEmergencyNumbers)
		for _, n := range numbers {
			if !isDialString(n) {
				writeError(w, http.StatusBadRequest, "extra_emergency_numbers contains an undialable entry: "+n)
				return
			}
		}
		codes := splitCSVList(req.Calling.ActivationCodes)
		for _, c := range codes {
			if !isDialString(c) {
				writeError(w, http.StatusBadRequest, "activation_codes contains an undialable entry: "+c)
				return
			}
		}

		if err := s.settings.Set(ctx, database.SettingExtraEmergencyNumbers, strings.Join(numbers, ",")); err != nil {
			slog.Error("failed to save calling settings", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
		if err := s.settings.Set(ctx, database.SettingActivationCodes, strings.Join(codes, ",")); err != nil {
			slog.Error("failed to save calling settings", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	if req.Audio != nil {
		if err := s.settings.Set(ctx, database.SettingDockSpeaker, strconv.FormatBool(req.Audio.DockSpeaker)); err != nil {
			slog.Error("failed to save audio settings", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	if req.History != nil {
		if req.History.RetentionDays < 0 {
			writeError(w, http.StatusBadRequest, "retention_days must be a non-negative integer")
			return
		}
		if err := s.settings.Set(ctx, database.SettingHistoryRetentionDays, strconv.Itoa(req.History.RetentionDays)); err != nil {
			slog.Error("failed to save history settings", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	slog.Info("settings updated")

	// Return the updated settings.
	s.handleGetSettings(w, r)
}

// splitCSVList splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitCSVList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
