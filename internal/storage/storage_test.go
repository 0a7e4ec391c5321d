package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"fanstream-video/internal/models"
)

func newTestStorage(t *testing.T, opts ...Option) (*Storage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "videos.json")
	store, err := NewStorage(path, opts...)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	return store, path
}

func TestCreateVideoAssetStartsUploading(t *testing.T) {
	store, _ := newTestStorage(t)

	video, err := store.CreateVideoAsset(context.Background(), CreateVideoAssetParams{
		UploadID: "upload-1",
		Title:    "studio tour",
		Filename: "tour.mp4",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if video.ID == "" {
		t.Fatal("expected generated id")
	}
	if video.Status != models.AssetStatusUploading {
		t.Fatalf("status = %q, want uploading", video.Status)
	}
	if video.CreatedAt.IsZero() || !video.CreatedAt.Equal(video.UpdatedAt) {
		t.Fatalf("timestamps = %v / %v", video.CreatedAt, video.UpdatedAt)
	}
}

func TestCreateVideoAssetRejectsDuplicateUpload(t *testing.T) {
	store, _ := newTestStorage(t)

	if _, err := store.CreateVideoAsset(context.Background(), CreateVideoAssetParams{UploadID: "upload-1"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := store.CreateVideoAsset(context.Background(), CreateVideoAssetParams{UploadID: "upload-1"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestLookupsByUploadAndAssetID(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()

	created, err := store.CreateVideoAsset(ctx, CreateVideoAssetParams{UploadID: "upload-1", AssetID: "asset-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got, ok := store.GetVideoAsset(ctx, created.ID); !ok || got.ID != created.ID {
		t.Fatalf("GetVideoAsset = (%v, %v)", got.ID, ok)
	}
	if got, ok := store.FindByUploadID(ctx, "upload-1"); !ok || got.ID != created.ID {
		t.Fatalf("FindByUploadID = (%v, %v)", got.ID, ok)
	}
	if got, ok := store.FindByAssetID(ctx, "asset-1"); !ok || got.ID != created.ID {
		t.Fatalf("FindByAssetID = (%v, %v)", got.ID, ok)
	}
	if _, ok := store.FindByAssetID(ctx, "asset-missing"); ok {
		t.Fatal("unexpected hit for unknown asset id")
	}
	if _, ok := store.FindByUploadID(ctx, ""); ok {
		t.Fatal("blank upload id must not match")
	}
}

func TestListVideoAssetsNewestFirst(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestStorage(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.CreateVideoAsset(ctx, CreateVideoAssetParams{UploadID: fmt.Sprintf("upload-%d", i)}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		current = current.Add(time.Minute)
	}

	videos, err := store.ListVideoAssets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(videos) != 3 {
		t.Fatalf("len = %d", len(videos))
	}
	for i := 1; i < len(videos); i++ {
		if videos[i].CreatedAt.After(videos[i-1].CreatedAt) {
			t.Fatalf("list not newest-first at index %d", i)
		}
	}
}

func TestStorageSurvivesReload(t *testing.T) {
	store, path := newTestStorage(t)
	ctx := context.Background()

	created, err := store.CreateVideoAsset(ctx, CreateVideoAssetParams{UploadID: "upload-1", Title: "keeper"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.ApplyAssetCreated(ctx, AssetRef{UploadID: "upload-1"}, AssetCreatedUpdate{AssetID: "asset-1"}); err != nil {
		t.Fatalf("apply created: %v", err)
	}

	reopened, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	video, ok := reopened.FindByAssetID(ctx, "asset-1")
	if !ok {
		t.Fatal("asset index not rebuilt on load")
	}
	if video.ID != created.ID || video.Title != "keeper" || video.Status != models.AssetStatusProcessing {
		t.Fatalf("reloaded record = %+v", video)
	}
}

func TestCreateVideoAssetRollsBackOnPersistFailure(t *testing.T) {
	store, _ := newTestStorage(t)
	ctx := context.Background()

	store.persistOverride = func(dataset) error { return fmt.Errorf("disk full") }
	if _, err := store.CreateVideoAsset(ctx, CreateVideoAssetParams{UploadID: "upload-1"}); err == nil {
		t.Fatal("expected persist failure")
	}
	store.persistOverride = nil

	// The failed create must not leave a phantom record claiming the upload id.
	if _, ok := store.FindByUploadID(ctx, "upload-1"); ok {
		t.Fatal("failed create left a record behind")
	}
	if _, err := store.CreateVideoAsset(ctx, CreateVideoAssetParams{UploadID: "upload-1"}); err != nil {
		t.Fatalf("create after rollback: %v", err)
	}
}

func TestReapStaleUploads(t *testing.T) {
	current := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store, _ := newTestStorage(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	stale, err := store.CreateVideoAsset(ctx, CreateVideoAssetParams{UploadID: "upload-stale"})
	if err != nil {
		t.Fatalf("create stale: %v", err)
	}

	current = current.Add(48 * time.Hour)
	fresh, err := store.CreateVideoAsset(ctx, CreateVideoAssetParams{UploadID: "upload-fresh"})
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	if _, err := store.ApplyAssetCreated(ctx, AssetRef{UploadID: "upload-fresh"}, AssetCreatedUpdate{AssetID: "asset-fresh"}); err != nil {
		t.Fatalf("advance fresh: %v", err)
	}

	cutoff := current.Add(-24 * time.Hour)
	reaped, err := store.ReapStaleUploads(ctx, cutoff)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != stale.ID {
		t.Fatalf("reaped = %+v", reaped)
	}
	if reaped[0].Status != models.AssetStatusError {
		t.Fatalf("reaped status = %q", reaped[0].Status)
	}
	if len(reaped[0].Errors) != 1 || reaped[0].Errors[0].Type != "upload_expired" {
		t.Fatalf("reaped errors = %+v", reaped[0].Errors)
	}

	survivor, ok := store.GetVideoAsset(ctx, fresh.ID)
	if !ok || survivor.Status != models.AssetStatusProcessing {
		t.Fatalf("fresh record = (%+v, %v)", survivor, ok)
	}

	// Second pass finds nothing left to reap.
	again, err := store.ReapStaleUploads(ctx, cutoff)
	if err != nil {
		t.Fatalf("second reap: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second reap = %+v", again)
	}
}
