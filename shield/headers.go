package shield

import "net/http"

// HeaderConfig defines the headers applied to every response.
type HeaderConfig struct {
	XContentTypeOptions string
	CacheControl        string
	ReferrerPolicy      string
	CSP                 string
}

// DefaultHeaders returns the header set for JSON responses that carry live
// run state.
func DefaultHeaders() HeaderConfig {
	return HeaderConfig{
		XContentTypeOptions: "nosniff",
		CacheControl:        "no-store",
		ReferrerPolicy:      "no-referrer",
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
	}
}

// SecurityHeaders returns middleware that sets the configured headers.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if cfg.XContentTypeOptions != "" {
				h.Set("X-Content-Type-Options", cfg.XContentTypeOptions)
			}
			if cfg.CacheControl != "" {
				h.Set("Cache-Control", cfg.CacheControl)
			}
			if cfg.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			}
			if cfg.CSP != "" {
				h.Set("Content-Security-Policy", cfg.CSP)
			}
			next.ServeHTTP(w, r)
		})
	}
}
