package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcore/dialcore/internal/api/middleware"
	"github.com/dialcore/dialcore/internal/database"
	"github.com/dialcore/dialcore/internal/database/models"
)

// pairRequest is the body of POST /pair. A known device name must present
// its original secret; an unknown name enrolls a new device.
type pairRequest struct {
	Name      string `json:"name"`
	Platform  string `json:"platform"`
	Secret    string `json:"secret"`
	PushToken string `json:"push_token"`
}

// pairResponse carries the device token issued on a successful pairing.
type pairResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	DeviceID  int64  `json:"device_id"`
	Name      string `json:"name"`
	Created   bool   `json:"created"`
}

// handlePair authenticates or enrolls a companion device and issues its
// bearer token.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	for _, check := range []string{
		validateRequiredStringLen("name", req.Name, maxNameLen),
		validateNoControlChars("name", req.Name),
		validatePlatform("platform", req.Platform),
		validateRequiredStringLen("secret", req.Secret, maxSecretLen),
		validateStringLen("push_token", req.PushToken, maxPushTokenLen),
	} {
		if check != "" {
			writeError(w, http.StatusBadRequest, check)
			return
		}
	}

	ctx := r.Context()

	dev, err := s.devices.GetByName(ctx, req.Name)
	if err != nil {
		slog.Error("pair: failed to query device", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created := false
	if dev == nil {
		hash, err := database.HashSecret(req.Secret)
		if err != nil {
			slog.Error("pair: failed to hash secret", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		dev = &models.PairedDevice{
			Name:       req.Name,
			Platform:   req.Platform,
			PushToken:  req.PushToken,
			SecretHash: hash,
		}
		if err := s.devices.Create(ctx, dev); err != nil {
			slog.Error("pair: failed to create device", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		created = true
		slog.Info("device paired", "device", dev.Name, "platform", dev.Platform)
	} else {
		ok, err := database.VerifySecret(req.Secret, dev.SecretHash)
		if err != nil || !ok {
			slog.Warn("pair: secret mismatch", "device", req.Name)
			writeError(w, http.StatusUnauthorized, "invalid pairing secret")
			return
		}
		if req.PushToken != "" && req.PushToken != dev.PushToken {
			if err := s.devices.UpdatePushToken(ctx, dev.ID, req.PushToken); err != nil {
				slog.Error("pair: failed to update push token", "error", err)
			}
		}
	}

	if err := s.devices.TouchLastSeen(ctx, dev.ID); err != nil {
		slog.Error("pair: failed to touch last seen", "error", err)
	}

	token, expiresAt, err := middleware.GenerateDeviceToken(s.jwtSecret, dev.ID, dev.Name)
	if err != nil {
		slog.Error("pair: failed to sign token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, pairResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		DeviceID:  dev.ID,
		Name:      dev.Name,
		Created:   created,
	})
}

// deviceResponse is the JSON shape for a paired device. The secret hash
// never leaves the store.
type deviceResponse struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Platform   string  `json:"platform"`
	HasToken   bool    `json:"has_push_token"`
	LastSeenAt *string `json:"last_seen_at"`
	CreatedAt  string  `json:"created_at"`
}

func toDeviceResponse(d *models.PairedDevice) deviceResponse {
	resp := deviceResponse{
		ID:        d.ID,
		Name:      d.Name,
		Platform:  d.Platform,
		HasToken:  d.PushToken != "",
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
	}
	if d.LastSeenAt != nil {
		s := d.LastSeenAt.Format(time.RFC3339)
		resp.LastSeenAt = &s
	}
	return resp
}

// handleListDevices returns all paired devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		slog.Error("list devices: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]deviceResponse, len(devices))
	for i := range devices {
		items[i] = toDeviceResponse(&devices[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleDeleteDevice unpairs a device. Its tokens stop working at expiry;
// unpairing removes the push route immediately.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	dev, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("delete device: failed to query", "error", err, "device_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if dev == nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	if err := s.devices.Delete(r.Context(), id); err != nil {
		slog.Error("delete device: failed to delete", "error", err, "device_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("device unpaired", "device", dev.Name)
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// pushTokenRequest is the body of PUT /devices/{id}/push-token.
type pushTokenRequest struct {
	PushToken string `json:"push_token"`
}

// handleUpdatePushToken replaces a device's push token. An empty token
// disables wake pushes for the device.
func (s *Server) handleUpdatePushToken(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var req pushTokenRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateStringLen("push_token", req.PushToken, maxPushTokenLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	dev, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("update push token: failed to query", "error", err, "device_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if dev == nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	if err := s.devices.UpdatePushToken(r.Context(), id, req.PushToken); err != nil {
		slog.Error("update push token: failed to update", "error", err, "device_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}
