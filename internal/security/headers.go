package security

import (
	"net/http"
	"strconv"
)

// Headers hardens responses served to the staff console. Billing and
// attendance data must never end up in shared caches, so every response
// is marked no-store.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
}

const defaultHSTSMaxAge = 31536000

// Middleware stamps the hardening headers on every response.
func (h Headers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Enable {
			next.ServeHTTP(w, r)
			return
		}
		out := w.Header()
		out.Set("X-Content-Type-Options", "nosniff")
		out.Set("X-Frame-Options", "DENY")
		out.Set("Referrer-Policy", "no-referrer")
		out.Set("Permissions-Policy", "geolocation=(), microphone=()")
		out.Set("Cache-Control", "no-store")
		if h.EnableHSTS && r.TLS != nil {
			out.Set("Strict-Transport-Security", h.hstsValue())
		}
		next.ServeHTTP(w, r)
	})
}

func (h Headers) hstsValue() string {
	maxAge := h.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	value := "max-age=" + strconv.Itoa(maxAge)
	if h.HSTSIncludeSubdomains {
		value += "; includeSubDomains"
	}
	return value
}
