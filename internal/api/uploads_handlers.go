package api

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"fanstream-video/internal/provider"
	"fanstream-video/internal/storage"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
)

type createUploadRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
}

type createUploadResponse struct {
	Video     videoResponse `json:"video"`
	UploadURL string        `json:"uploadUrl"`
}

// Uploads handles POST /api/uploads: reserve a direct-upload target with the
// provider, then persist the pending record that webhook deliveries will
// later advance.
func (h *Handler) Uploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req createUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteRequestError(w, ValidationError(err.Error()))
		return
	}

	title := normalizeText(req.Title)
	if title == "" {
		WriteRequestError(w, ValidationError("title is required"))
		return
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		WriteRequestError(w, ValidationError(fmt.Sprintf("title exceeds %d characters", maxTitleLength)))
		return
	}
	description := normalizeText(req.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		WriteRequestError(w, ValidationError(fmt.Sprintf("description exceeds %d characters", maxDescriptionLength)))
		return
	}
	filename := strings.TrimSpace(req.Filename)

	result, err := h.Uploader.CreateUpload(r.Context(), provider.CreateUploadParams{
		CORSOrigin:  h.UploadOrigin,
		Passthrough: title,
	})
	if err != nil {
		if err == provider.ErrNotConfigured {
			WriteRequestError(w, ServiceUnavailableError("video uploads are not configured"))
			return
		}
		h.logger().Error("provider create upload failed", "error", err.Error())
		WriteRequestError(w, ServiceUnavailableError("video provider unavailable"))
		return
	}

	video, err := h.Store.CreateVideoAsset(r.Context(), storage.CreateVideoAssetParams{
		UploadID:    result.UploadID,
		AssetID:     result.AssetID,
		Title:       title,
		Description: description,
		Filename:    filename,
	})
	if err != nil {
		h.logger().Error("persist pending upload failed",
			"uploadId", result.UploadID, "error", err.Error())
		WriteRequestError(w, InternalError("unable to record upload"))
		return
	}
	if h.Metrics != nil {
		h.Metrics.UploadCreated()
	}
	h.logger().Info("upload reserved", "videoId", video.ID, "uploadId", video.UploadID)

	writeJSON(w, http.StatusCreated, createUploadResponse{
		Video:     h.newVideoResponse(video),
		UploadURL: result.UploadURL,
	})
}

// normalizeText trims and NFC-normalizes user-supplied text so lookups and
// display behave the same regardless of how the client composed characters.
func normalizeText(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}
