// Package security sets response headers on the browser-facing routes.
package security

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Headers configures security headers for the checkout widget responses.
type Headers struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// ScriptOrigins are appended to script-src and frame-src.
	ScriptOrigins []string
}

// OriginOf reduces a script URL to the scheme://host form used in CSP.
func OriginOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Policy renders the Content-Security-Policy value.
func (h Headers) Policy() string {
	sources := []string{"'self'", "'unsafe-inline'"}
	for _, origin := range h.ScriptOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			sources = append(sources, origin)
		}
	}
	src := strings.Join(sources, " ")
	return "default-src 'self'; script-src " + src + "; frame-src " + src + "; object-src 'none'"
}

// Middleware attaches security headers to each response.
func (h Headers) Middleware(next http.Handler) http.Handler {
	policy := h.Policy()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		headers.Set("Content-Security-Policy", policy)
		if h.EnableHSTS && r.TLS != nil {
			maxAge := h.HSTSMaxAge
			if maxAge <= 0 {
				maxAge = 31536000
			}
			value := "max-age=" + strconv.Itoa(maxAge)
			if h.HSTSIncludeSubdomains {
				value += "; includeSubDomains"
			}
			headers.Set("Strict-Transport-Security", value)
		}
		next.ServeHTTP(w, r)
	})
}
