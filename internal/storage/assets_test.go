package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"fanstream-video/internal/models"
)

func seedAsset(t *testing.T, store *Storage, uploadID string) models.VideoAsset {
	t.Helper()
	video, err := store.CreateVideoAsset(context.Background(), CreateVideoAssetParams{UploadID: uploadID})
	if err != nil {
		t.Fatalf("seed %s: %v", uploadID, err)
	}
	return video
}

func TestApplyAssetCreatedAttachesAssetID(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()
	seedAsset(t, store, "upload-1")

	result, err := store.ApplyAssetCreated(ctx, AssetRef{UploadID: "upload-1"}, AssetCreatedUpdate{AssetID: "asset-1"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected Changed")
	}
	if result.Previous != models.AssetStatusUploading || result.Asset.Status != models.AssetStatusProcessing {
		t.Fatalf("transition = %q -> %q", result.Previous, result.Asset.Status)
	}
	if result.Asset.AssetID != "asset-1" {
		t.Fatalf("asset id = %q", result.Asset.AssetID)
	}
	if _, ok := store.FindByAssetID(ctx, "asset-1"); !ok {
		t.Fatal("asset index not updated")
	}
}

func TestApplyAssetCreatedReplayKeepsStatus(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()
	seedAsset(t, store, "upload-1")
	ref := AssetRef{UploadID: "upload-1"}

	if _, err := store.ApplyAssetCreated(ctx, ref, AssetCreatedUpdate{AssetID: "asset-1"}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	result, err := store.ApplyAssetCreated(ctx, ref, AssetCreatedUpdate{AssetID: "asset-1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Changed {
		t.Fatal("replay must not report a state change")
	}
	if result.Asset.Status != models.AssetStatusProcessing {
		t.Fatalf("status = %q", result.Asset.Status)
	}
}

func TestApplyAssetReadyStampsPlaybackMetadata(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store, _ := newTestStorage(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()
	seedAsset(t, store, "upload-1")

	result, err := store.ApplyAssetReady(ctx, AssetRef{UploadID: "upload-1"}, AssetReadyUpdate{
		AssetID:       "asset-1",
		PlaybackID:    "play-1",
		Duration:      120.5,
		AspectRatio:   "16:9",
		MaxResolution: "HD",
	})
	if err != nil {
		t.Fatalf("apply ready: %v", err)
	}
	if !result.Changed || result.Asset.Status != models.AssetStatusReady {
		t.Fatalf("result = %+v", result)
	}
	if result.Asset.PlaybackID != "play-1" || result.Asset.Duration != 120.5 {
		t.Fatalf("metadata = %+v", result.Asset)
	}
	if result.Asset.ReadyAt == nil || !result.Asset.ReadyAt.Equal(current) {
		t.Fatalf("readyAt = %v", result.Asset.ReadyAt)
	}
}

func TestApplyAssetReadyIsIdempotent(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()
	seedAsset(t, store, "upload-1")
	ref := AssetRef{UploadID: "upload-1"}
	update := AssetReadyUpdate{AssetID: "asset-1", PlaybackID: "play-1", Duration: 60}

	first, err := store.ApplyAssetReady(ctx, ref, update)
	if err != nil {
		t.Fatalf("first ready: %v", err)
	}
	update.Duration = 999 // replay payloads may drift; the record must not
	second, err := store.ApplyAssetReady(ctx, ref, update)
	if err != nil {
		t.Fatalf("second ready: %v", err)
	}
	if second.Changed {
		t.Fatal("replayed ready reported a change")
	}
	if second.Asset.Duration != first.Asset.Duration {
		t.Fatalf("duration drifted to %v", second.Asset.Duration)
	}
	if !second.Asset.UpdatedAt.Equal(first.Asset.UpdatedAt) {
		t.Fatal("replayed ready touched the record")
	}
}

func TestApplyAssetErroredIsTerminal(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()
	seedAsset(t, store, "upload-1")
	ref := AssetRef{UploadID: "upload-1"}

	result, err := store.ApplyAssetErrored(ctx, ref, AssetErroredUpdate{
		Errors: []models.AssetError{{Type: "invalid_input", Messages: []string{"unsupported codec"}}},
	})
	if err != nil {
		t.Fatalf("apply errored: %v", err)
	}
	if !result.Changed || result.Asset.Status != models.AssetStatusError {
		t.Fatalf("result = %+v", result)
	}
	if result.Asset.FailedAt == nil {
		t.Fatal("failedAt not stamped")
	}

	// No event resurrects an errored record.
	ready, err := store.ApplyAssetReady(ctx, ref, AssetReadyUpdate{PlaybackID: "play-1"})
	if err != nil {
		t.Fatalf("ready after error: %v", err)
	}
	if ready.Changed || ready.Asset.Status != models.AssetStatusError {
		t.Fatalf("errored record mutated: %+v", ready)
	}
	created, err := store.ApplyAssetCreated(ctx, ref, AssetCreatedUpdate{AssetID: "asset-2"})
	if err != nil {
		t.Fatalf("created after error: %v", err)
	}
	if created.Changed || created.Asset.AssetID == "asset-2" {
		t.Fatalf("errored record mutated: %+v", created)
	}
}

func TestApplyAssetErroredDowngradesReady(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()
	seedAsset(t, store, "upload-1")
	ref := AssetRef{UploadID: "upload-1"}

	if _, err := store.ApplyAssetReady(ctx, ref, AssetReadyUpdate{AssetID: "asset-1", PlaybackID: "play-1"}); err != nil {
		t.Fatalf("ready: %v", err)
	}
	result, err := store.ApplyAssetErrored(ctx, ref, AssetErroredUpdate{
		Errors: []models.AssetError{{Type: "playback_failure"}},
	})
	if err != nil {
		t.Fatalf("errored: %v", err)
	}
	if !result.Changed || result.Previous != models.AssetStatusReady {
		t.Fatalf("result = %+v", result)
	}
	if result.Asset.Status != models.AssetStatusError {
		t.Fatalf("status = %q", result.Asset.Status)
	}
}

func TestApplyAssetUpdatedMergesMetadataOnly(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()
	seedAsset(t, store, "upload-1")
	ref := AssetRef{UploadID: "upload-1"}

	if _, err := store.ApplyAssetCreated(ctx, ref, AssetCreatedUpdate{AssetID: "asset-1"}); err != nil {
		t.Fatalf("created: %v", err)
	}
	result, err := store.ApplyAssetUpdated(ctx, ref, AssetMetadataUpdate{AspectRatio: "4:3", Duration: 42})
	if err != nil {
		t.Fatalf("updated: %v", err)
	}
	if result.Changed {
		t.Fatal("metadata merge must not report a lifecycle change")
	}
	if result.Asset.AspectRatio != "4:3" || result.Asset.Duration != 42 {
		t.Fatalf("metadata = %+v", result.Asset)
	}
	if result.Asset.Status != models.AssetStatusProcessing {
		t.Fatalf("status = %q", result.Asset.Status)
	}
}

func TestApplyUnknownReferenceReturnsNotFound(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()

	_, err := store.ApplyAssetReady(ctx, AssetRef{AssetID: "asset-ghost"}, AssetReadyUpdate{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	_, err = store.ApplyAssetUpdated(ctx, AssetRef{}, AssetMetadataUpdate{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty ref err = %v, want ErrNotFound", err)
	}
}

func TestApplyPrefersAssetIDOverUploadID(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()

	first, err := store.CreateVideoAsset(ctx, CreateVideoAssetParams{UploadID: "upload-1", AssetID: "asset-1"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := store.CreateVideoAsset(ctx, CreateVideoAssetParams{UploadID: "upload-2", AssetID: "asset-2"}); err != nil {
		t.Fatalf("create second: %v", err)
	}

	// A ref naming asset-1 but carrying the other record's upload id must
	// resolve by asset id.
	result, err := store.ApplyAssetCreated(ctx, AssetRef{AssetID: "asset-1", UploadID: "upload-2"}, AssetCreatedUpdate{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Asset.ID != first.ID {
		t.Fatalf("resolved %q, want %q", result.Asset.ID, first.ID)
	}
}
