package api

import (
	"io"
	"net/http"

	"fanstream-video/internal/webhook"
)

// SignatureHeader is the header carrying the provider's HMAC entries.
const SignatureHeader = "Mux-Signature"

const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Success bool   `json:"success"`
	Event   string `json:"event,omitempty"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// VideoWebhook handles the provider's webhook endpoint. The raw body is read
// before any JSON parsing so the exact bytes can be verified against the
// signature header; re-serialized bytes would not match the digest.
func (h *Handler) VideoWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		// CORS preflight for provider dashboards; deliveries themselves are
		// server-to-server.
		writeWebhookCORS(w)
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodHead:
		// Connectivity probe.
		writeWebhookCORS(w)
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		methodNotAllowed(w, http.MethodPost, http.MethodOptions, http.MethodHead)
		return
	}
	writeWebhookCORS(w)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Success: false, Error: "unable to read request body"})
		return
	}
	r.Body.Close()
	if len(body) > maxWebhookBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, webhookResponse{Success: false, Error: "payload too large"})
		return
	}

	if err := h.Verifier.Verify(r.Header.Get(SignatureHeader), body); err != nil {
		h.observeSignature("rejected")
		h.logger().Warn("webhook signature rejected",
			"remoteAddr", r.RemoteAddr, "reason", err.Error())
		writeJSON(w, http.StatusUnauthorized, webhookResponse{Success: false, Error: "invalid signature"})
		return
	}
	h.observeSignature("accepted")

	event, err := webhook.ParseEvent(body)
	if err != nil {
		h.logger().Warn("webhook payload malformed", "error", err.Error())
		writeJSON(w, http.StatusBadRequest, webhookResponse{Success: false, Error: "malformed payload"})
		return
	}

	result, err := h.Processor.Process(r.Context(), event)
	if err != nil {
		// Signal the provider to redeliver; verification already passed so
		// the retry is safe to re-verify.
		writeJSON(w, http.StatusInternalServerError, webhookResponse{Success: false, Error: "unable to apply event"})
		return
	}

	resp := webhookResponse{Success: true, Event: event.RawType}
	if result.Matched {
		resp.ID = result.Asset.AssetID
		if resp.ID == "" {
			resp.ID = result.Asset.ID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) observeSignature(result string) {
	if h.Metrics != nil {
		h.Metrics.ObserveSignature(result)
	}
}

func writeWebhookCORS(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "POST, OPTIONS, HEAD")
	header.Set("Access-Control-Allow-Headers", "Content-Type, "+SignatureHeader)
}
