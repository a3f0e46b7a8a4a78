package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// deviceContextKey is the context key type for authenticated device data.
type deviceContextKey string

const (
	deviceIDKey   deviceContextKey = "device_id"
	deviceNameKey deviceContextKey = "device_name"
)

// deviceTokenTTL is the lifetime of a paired-device JWT (30 days). Paired
// devices re-pair with their secret when the token lapses.
const deviceTokenTTL = 30 * 24 * time.Hour

// DeviceClaims holds the JWT claims for a paired device.
type DeviceClaims struct {
	DeviceID int64  `json:"dev_id"`
	Device   string `json:"dev"`
	jwt.RegisteredClaims
}

// GenerateDeviceToken creates a signed JWT for a paired device.
func GenerateDeviceToken(secret []byte, deviceID int64, deviceName string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(deviceTokenTTL)

	claims := DeviceClaims{
		DeviceID: deviceID,
		Device:   deviceName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "dialcore",
			Subject:   deviceName,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// RequireDeviceAuth returns middleware that validates JWT bearer tokens for
// paired devices. On success it stores the device ID and name in the
// request context.
func RequireDeviceAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeAuthError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			tokenString := parts[1]

			claims := &DeviceClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("device auth: invalid jwt", "error", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if claims.DeviceID == 0 {
				writeAuthError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			ctx := context.WithValue(r.Context(), deviceIDKey, claims.DeviceID)
			ctx = context.WithValue(ctx, deviceNameKey, claims.Device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DeviceIDFromContext retrieves the authenticated device ID from the
// request context. Returns 0 if not set.
func DeviceIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(deviceIDKey).(int64)
	return id
}

// DeviceNameFromContext retrieves the authenticated device name from the
// request context. Returns "" if not set.
func DeviceNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(deviceNameKey).(string)
	return name
}

// authEnvelope matches the api package's envelope format for error responses.
type authEnvelope struct {
	Error string `json:"error,omitempty"`
}

// writeAuthError writes a JSON error matching the API envelope format.
func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(authEnvelope{Error: msg}) //nolint:errcheck
}
