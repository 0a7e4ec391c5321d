package server

import "net/http"

const (
	defaultFrameAncestors    = "'none'"
	defaultPermissionsPolicy = "camera=(), microphone=(), geolocation=()"
)

// SecurityConfig tunes the hardening headers stamped on every response.
// This service serves JSON and the metrics text page, nothing that loads
// scripts or styles, so the default policy denies everything; FrameAncestors
// is the knob to loosen when a trusted dashboard embeds an endpoint. Empty
// fields take the locked-down defaults.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.FrameAncestors == "" {
		cfg.FrameAncestors = defaultFrameAncestors
	}
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = "DENY"
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = "no-referrer"
	}
	if cfg.PermissionsPolicy == "" {
		cfg.PermissionsPolicy = defaultPermissionsPolicy
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = "nosniff"
	}
	if cfg.ContentSecurityPolicy == "" {
		cfg.ContentSecurityPolicy = apiContentSecurityPolicy(cfg.FrameAncestors)
	}
	return cfg
}

// apiContentSecurityPolicy builds the CSP for a JSON API: no sources at
// all, with only the frame-ancestors directive configurable.
func apiContentSecurityPolicy(frameAncestors string) string {
	if frameAncestors == "" {
		frameAncestors = defaultFrameAncestors
	}
	return "default-src 'none'; " +
		"frame-ancestors " + frameAncestors + "; " +
		"base-uri 'none'; " +
		"form-action 'none'"
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Content-Security-Policy", effective.ContentSecurityPolicy)
		header.Set("X-Frame-Options", effective.FrameOptions)
		header.Set("X-Content-Type-Options", effective.ContentTypeOptions)
		header.Set("Referrer-Policy", effective.ReferrerPolicy)
		header.Set("Permissions-Policy", effective.PermissionsPolicy)
		next.ServeHTTP(w, r)
	})
}
