package models

import (
	"strings"
	"time"
)

// AssetStatus tracks where a video sits in the provider processing pipeline.
// Progression is strictly forward (uploading -> processing -> ready) with
// error reachable from any state; once an asset is in error no further
// transitions are applied.
type AssetStatus string

const (
	AssetStatusUploading  AssetStatus = "uploading"
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusReady      AssetStatus = "ready"
	AssetStatusError      AssetStatus = "error"
)

// ParseAssetStatus normalises a stored or user-supplied status string.
func ParseAssetStatus(value string) (AssetStatus, bool) {
	switch AssetStatus(strings.ToLower(strings.TrimSpace(value))) {
	case AssetStatusUploading:
		return AssetStatusUploading, true
	case AssetStatusProcessing:
		return AssetStatusProcessing, true
	case AssetStatusReady:
		return AssetStatusReady, true
	case AssetStatusError:
		return AssetStatusError, true
	default:
		return "", false
	}
}

// Terminal reports whether no further lifecycle transitions may be applied.
func (s AssetStatus) Terminal() bool {
	return s == AssetStatusError
}

// AssetError captures the provider error payload attached to a failed asset.
type AssetError struct {
	Type     string   `json:"type"`
	Messages []string `json:"messages,omitempty"`
}

// VideoAsset is the persisted record driving the upload/processing lifecycle.
// Exactly one record exists per upload id; the provider asset id is attached
// by the first lifecycle event that carries it.
type VideoAsset struct {
	ID            string       `json:"id"`
	UploadID      string       `json:"uploadId"`
	AssetID       string       `json:"assetId,omitempty"`
	PlaybackID    string       `json:"playbackId,omitempty"`
	Status        AssetStatus  `json:"status"`
	Title         string       `json:"title,omitempty"`
	Description   string       `json:"description,omitempty"`
	Filename      string       `json:"filename,omitempty"`
	Duration      float64      `json:"duration,omitempty"`
	AspectRatio   string       `json:"aspectRatio,omitempty"`
	MaxResolution string       `json:"maxResolution,omitempty"`
	Errors        []AssetError `json:"errors,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	ReadyAt       *time.Time   `json:"readyAt,omitempty"`
	FailedAt      *time.Time   `json:"failedAt,omitempty"`
}
