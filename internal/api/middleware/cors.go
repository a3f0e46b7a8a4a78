package middleware

import (
	"net/http"
	"strings"
)

// corsAllowMethods covers every route the daemon serves.
const corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"

// corsAllowHeaders includes Last-Event-ID so browser companions can
// resume the event stream after a reconnect.
const corsAllowHeaders = "Accept, Authorization, Content-Type, Last-Event-ID"

// CORS returns middleware granting browser companion apps access from the
// configured origins. "*" allows any origin. With no origins configured the
// middleware sends no allow headers at all, so cross-origin browsers are
// locked out while native apps are unaffected.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			origins[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && (allowAll || origins[origin])

			if allowed {
				h := w.Header()
				if allowAll {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Vary", "Origin")
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", "300")
			}

			// Preflights end here whether or not the origin passed; a
			// disallowed origin just gets no allow headers back.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ParseCORSOrigins splits the comma-separated -cors-origins flag value.
// Empty input returns nil.
func ParseCORSOrigins(raw string) []string {
	var origins []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
