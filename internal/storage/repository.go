package storage

import (
	"context"
	"errors"
	"time"

	"fanstream-video/internal/models"
)

var (
	// ErrNotFound is returned when no video asset matches the requested key.
	ErrNotFound = errors.New("video asset not found")
	// ErrConflict is returned when a create would violate the one-record-per-upload invariant.
	ErrConflict = errors.New("video asset already exists for upload")
)

// AssetRef correlates a provider event to a persisted record. AssetID takes
// precedence; UploadID covers the first created event in flows where the
// provider has not yet attached an asset id.
type AssetRef struct {
	AssetID  string
	UploadID string
}

// Repository exposes the datastore operations required by the upload
// orchestrator, the webhook processor, and the read API. Lifecycle
// transitions are conditional updates: implementations must enforce the
// terminal-error lock and idempotent replays at the persistence layer.
type Repository interface {
	Ping(ctx context.Context) error

	CreateVideoAsset(ctx context.Context, params CreateVideoAssetParams) (models.VideoAsset, error)
	GetVideoAsset(ctx context.Context, id string) (models.VideoAsset, bool)
	FindByAssetID(ctx context.Context, assetID string) (models.VideoAsset, bool)
	FindByUploadID(ctx context.Context, uploadID string) (models.VideoAsset, bool)
	ListVideoAssets(ctx context.Context) ([]models.VideoAsset, error)

	ApplyAssetCreated(ctx context.Context, ref AssetRef, update AssetCreatedUpdate) (ApplyResult, error)
	ApplyAssetReady(ctx context.Context, ref AssetRef, update AssetReadyUpdate) (ApplyResult, error)
	ApplyAssetErrored(ctx context.Context, ref AssetRef, update AssetErroredUpdate) (ApplyResult, error)
	ApplyAssetUpdated(ctx context.Context, ref AssetRef, update AssetMetadataUpdate) (ApplyResult, error)

	ReapStaleUploads(ctx context.Context, olderThan time.Time) ([]models.VideoAsset, error)

	Close(ctx context.Context) error
}

var _ Repository = (*Storage)(nil)
