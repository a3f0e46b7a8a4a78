package middleware

import "net/http"

// securityHeaders are sent on every response. The daemon serves JSON and
// SSE only, so the CSP pins everything to the same origin and the
// Permissions-Policy turns off hardware the API never exposes to a
// browser.
var securityHeaders = map[string]string{
	"X-Frame-Options":        "DENY",
	"X-Content-Type-Options": "nosniff",
	// Legacy XSS filter off; CSP supersedes it and the old filter can
	// introduce vulnerabilities of its own.
	"X-XSS-Protection": "0",
	"Referrer-Policy":  "strict-origin-when-cross-origin",
	"Content-Security-Policy": "default-src 'self'; " +
		"img-src 'self' data:; " +
		"connect-src 'self'; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'",
	"Permissions-Policy": "camera=(), microphone=(), geolocation=(), payment=()",
}

// SecurityHeaders returns middleware that sets the standard security
// headers. HSTS is only sent over TLS so browsers never cache an HSTS
// policy for a host that cannot honor it.
func SecurityHeaders(tlsEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for name, value := range securityHeaders {
				h.Set(name, value)
			}
			if tlsEnabled {
				// Two years, subdomains included.
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
