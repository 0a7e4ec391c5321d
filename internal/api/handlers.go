package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fanstream-video/internal/auth"
	"fanstream-video/internal/observability/metrics"
	"fanstream-video/internal/provider"
	"fanstream-video/internal/storage"
	"fanstream-video/internal/webhook"
)

// Handler bundles the collaborators behind the HTTP surface.
type Handler struct {
	Store        storage.Repository
	Uploader     provider.Uploader
	Verifier     *webhook.Verifier
	Processor    *webhook.Processor
	Keys         *auth.APIKeyManager
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	PlaybackHost string
	UploadOrigin string
}

// NewHandler constructs a Handler with the required store; remaining fields
// are assigned by the caller.
func NewHandler(store storage.Repository) *Handler {
	return &Handler{Store: store, Uploader: provider.NoopUploader{}}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Health reports process liveness plus storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	services := map[string]string{}
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			status = "degraded"
			services["storage"] = "error"
		} else {
			services["storage"] = "ok"
		}
	}
	if _, ok := h.Uploader.(provider.NoopUploader); ok {
		services["provider"] = "disabled"
	} else {
		services["provider"] = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"services": services,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	WriteRequestError(w, RequestError{
		Status:  http.StatusMethodNotAllowed,
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}
