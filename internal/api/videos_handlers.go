package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"fanstream-video/internal/models"
)

type videoResponse struct {
	ID            string              `json:"id"`
	UploadID      string              `json:"uploadId"`
	AssetID       string              `json:"assetId,omitempty"`
	PlaybackID    string              `json:"playbackId,omitempty"`
	PlaybackURL   string              `json:"playbackUrl,omitempty"`
	Status        string              `json:"status"`
	Title         string              `json:"title"`
	Description   string              `json:"description,omitempty"`
	Filename      string              `json:"filename,omitempty"`
	Duration      float64             `json:"duration,omitempty"`
	AspectRatio   string              `json:"aspectRatio,omitempty"`
	MaxResolution string              `json:"maxResolution,omitempty"`
	Errors        []models.AssetError `json:"errors,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
	ReadyAt       *time.Time          `json:"readyAt,omitempty"`
	FailedAt      *time.Time          `json:"failedAt,omitempty"`
}

func (h *Handler) newVideoResponse(video models.VideoAsset) videoResponse {
	resp := videoResponse{
		ID:            video.ID,
		UploadID:      video.UploadID,
		AssetID:       video.AssetID,
		PlaybackID:    video.PlaybackID,
		Status:        string(video.Status),
		Title:         video.Title,
		Description:   video.Description,
		Filename:      video.Filename,
		Duration:      video.Duration,
		AspectRatio:   video.AspectRatio,
		MaxResolution: video.MaxResolution,
		Errors:        video.Errors,
		CreatedAt:     video.CreatedAt,
		UpdatedAt:     video.UpdatedAt,
		ReadyAt:       video.ReadyAt,
		FailedAt:      video.FailedAt,
	}
	if video.Status == models.AssetStatusReady && video.PlaybackID != "" {
		resp.PlaybackURL = h.playbackURL(video.PlaybackID)
	}
	return resp
}

func (h *Handler) playbackURL(playbackID string) string {
	host := strings.TrimSpace(h.PlaybackHost)
	if host == "" {
		host = "stream.mux.com"
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	return fmt.Sprintf("https://%s/%s.m3u8", strings.TrimRight(host, "/"), playbackID)
}

// Videos handles GET /api/videos, the listing endpoint.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	videos, err := h.Store.ListVideoAssets(r.Context())
	if err != nil {
		h.logger().Error("list videos failed", "error", err.Error())
		WriteRequestError(w, InternalError("unable to list videos"))
		return
	}

	statusFilter := strings.TrimSpace(r.URL.Query().Get("status"))
	responses := make([]videoResponse, 0, len(videos))
	for _, video := range videos {
		if statusFilter != "" && string(video.Status) != statusFilter {
			continue
		}
		responses = append(responses, h.newVideoResponse(video))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"videos": responses})
}

// VideoByID handles GET /api/videos/{id}. The id may be the local record id,
// the provider asset id, or the upload id; clients typically only hold one.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/videos/"), "/")
	if id == "" || strings.Contains(id, "/") {
		WriteRequestError(w, ValidationError("video id is required"))
		return
	}

	video, ok := h.Store.GetVideoAsset(r.Context(), id)
	if !ok {
		video, ok = h.Store.FindByAssetID(r.Context(), id)
	}
	if !ok {
		video, ok = h.Store.FindByUploadID(r.Context(), id)
	}
	if !ok {
		WriteRequestError(w, NotFoundError(fmt.Sprintf("video %s not found", id)))
		return
	}
	writeJSON(w, http.StatusOK, h.newVideoResponse(video))
}
