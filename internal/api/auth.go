package api

import (
	"net/http"
	"strings"
)

// ExtractToken pulls a bearer API key from the Authorization header, with
// X-Api-Key as a fallback for clients that cannot set Authorization.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}

// RequireAPIKey guards the management endpoints. With no keys configured the
// check is disabled, which keeps local development friction-free; the
// webhook endpoint is never behind this because it authenticates with
// signatures instead.
func (h *Handler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Keys == nil || !h.Keys.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token := ExtractToken(r)
		if token == "" {
			WriteRequestError(w, UnauthorizedError("api key required"))
			return
		}
		if err := h.Keys.Verify(token); err != nil {
			h.logger().Warn("api key rejected", "remoteAddr", r.RemoteAddr)
			WriteRequestError(w, UnauthorizedError("invalid api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
