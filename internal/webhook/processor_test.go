package webhook

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"fanstream-video/internal/models"
	"fanstream-video/internal/storage"
)

func newTestStore(t *testing.T) storage.Repository {
	t.Helper()
	store, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "videos.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func newTestProcessor(t *testing.T, store storage.Repository, deduper Deduper) *Processor {
	t.Helper()
	processor, err := NewProcessor(ProcessorConfig{Store: store, Deduper: deduper})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return processor
}

func seedUpload(t *testing.T, store storage.Repository, uploadID string) models.VideoAsset {
	t.Helper()
	video, err := store.CreateVideoAsset(context.Background(), storage.CreateVideoAssetParams{
		UploadID: uploadID,
		Title:    "launch teaser",
	})
	if err != nil {
		t.Fatalf("seed upload: %v", err)
	}
	return video
}

func TestProcessAppliesCreatedEvent(t *testing.T) {
	store := newTestStore(t)
	processor := newTestProcessor(t, store, nil)
	seedUpload(t, store, "upload-1")

	result, err := processor.Process(context.Background(), Event{
		Kind:       EventAssetCreated,
		RawType:    string(EventAssetCreated),
		DeliveryID: "evt-1",
		Asset:      AssetPayload{AssetID: "asset-1", UploadID: "upload-1"},
	})
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("outcome = %q, want applied", result.Outcome)
	}
	if result.Asset.Status != models.AssetStatusProcessing {
		t.Fatalf("status = %q, want processing", result.Asset.Status)
	}
	if result.Asset.AssetID != "asset-1" {
		t.Fatalf("asset id = %q", result.Asset.AssetID)
	}
}

func TestProcessSuppressesDuplicateDeliveries(t *testing.T) {
	store := newTestStore(t)
	processor := newTestProcessor(t, store, NewMemoryDeduper(0))
	seedUpload(t, store, "upload-1")

	event := Event{
		Kind:       EventAssetCreated,
		RawType:    string(EventAssetCreated),
		DeliveryID: "evt-1",
		Asset:      AssetPayload{AssetID: "asset-1", UploadID: "upload-1"},
	}
	if _, err := processor.Process(context.Background(), event); err != nil {
		t.Fatalf("first process: %v", err)
	}
	result, err := processor.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if result.Outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %q, want duplicate", result.Outcome)
	}
}

func TestProcessIgnoresUnknownEvents(t *testing.T) {
	store := newTestStore(t)
	processor := newTestProcessor(t, store, nil)
	video := seedUpload(t, store, "upload-1")

	result, err := processor.Process(context.Background(), Event{
		Kind:    EventUnknown,
		RawType: "video.upload.cancelled",
		Asset:   AssetPayload{UploadID: "upload-1"},
	})
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("outcome = %q, want ignored", result.Outcome)
	}

	current, ok := store.GetVideoAsset(context.Background(), video.ID)
	if !ok {
		t.Fatal("seeded video disappeared")
	}
	if current.Status != models.AssetStatusUploading {
		t.Fatalf("status = %q, record should be untouched", current.Status)
	}
}

func TestProcessReportsUnmatchedDeliveries(t *testing.T) {
	store := newTestStore(t)
	processor := newTestProcessor(t, store, nil)

	result, err := processor.Process(context.Background(), Event{
		Kind:    EventAssetReady,
		RawType: string(EventAssetReady),
		Asset:   AssetPayload{AssetID: "asset-ghost"},
	})
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if result.Outcome != OutcomeUnmatched {
		t.Fatalf("outcome = %q, want unmatched", result.Outcome)
	}
}

func TestProcessReplayedReadyIsIgnored(t *testing.T) {
	store := newTestStore(t)
	processor := newTestProcessor(t, store, nil)
	seedUpload(t, store, "upload-1")

	ready := Event{
		Kind:    EventAssetReady,
		RawType: string(EventAssetReady),
		Asset:   AssetPayload{AssetID: "asset-1", UploadID: "upload-1", PlaybackID: "play-1", Duration: 10},
	}
	first, err := processor.Process(context.Background(), ready)
	if err != nil {
		t.Fatalf("first ready: %v", err)
	}
	if first.Outcome != OutcomeApplied {
		t.Fatalf("first outcome = %q", first.Outcome)
	}
	second, err := processor.Process(context.Background(), ready)
	if err != nil {
		t.Fatalf("second ready: %v", err)
	}
	if second.Outcome != OutcomeIgnored {
		t.Fatalf("second outcome = %q, want ignored", second.Outcome)
	}
	if second.Asset.Status != models.AssetStatusReady {
		t.Fatalf("status = %q", second.Asset.Status)
	}
}

func TestProcessUpdatedMergesPlaybackMetadata(t *testing.T) {
	store := newTestStore(t)
	processor := newTestProcessor(t, store, nil)
	video := seedUpload(t, store, "upload-1")

	if _, err := processor.Process(context.Background(), Event{
		Kind:    EventAssetCreated,
		RawType: string(EventAssetCreated),
		Asset:   AssetPayload{AssetID: "asset-1", UploadID: "upload-1"},
	}); err != nil {
		t.Fatalf("created: %v", err)
	}

	result, err := processor.Process(context.Background(), Event{
		Kind:    EventAssetUpdated,
		RawType: string(EventAssetUpdated),
		Asset:   AssetPayload{AssetID: "asset-1", PlaybackID: "play-9", Duration: 42.5, AspectRatio: "16:9"},
	})
	if err != nil {
		t.Fatalf("updated: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("outcome = %q, metadata merge is not a transition", result.Outcome)
	}
	current, ok := store.GetVideoAsset(context.Background(), video.ID)
	if !ok {
		t.Fatal("seeded video disappeared")
	}
	if current.PlaybackID != "play-9" {
		t.Fatalf("playback id = %q, want play-9", current.PlaybackID)
	}
	if current.Duration != 42.5 || current.AspectRatio != "16:9" {
		t.Fatalf("metadata not merged: %+v", current)
	}
	if current.Status != models.AssetStatusProcessing {
		t.Fatalf("status = %q, merge must not advance it", current.Status)
	}
}

type failingRepo struct {
	storage.Repository
}

func (f failingRepo) ApplyAssetReady(context.Context, storage.AssetRef, storage.AssetReadyUpdate) (storage.ApplyResult, error) {
	return storage.ApplyResult{}, fmt.Errorf("disk full")
}

func TestProcessPropagatesPersistenceFailures(t *testing.T) {
	store := newTestStore(t)
	seedUpload(t, store, "upload-1")
	processor := newTestProcessor(t, failingRepo{Repository: store}, nil)

	_, err := processor.Process(context.Background(), Event{
		Kind:    EventAssetReady,
		RawType: string(EventAssetReady),
		Asset:   AssetPayload{UploadID: "upload-1"},
	})
	if err == nil {
		t.Fatal("expected persistence failure to propagate")
	}
	if errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unexpected not-found classification: %v", err)
	}
}

type flakyRepo struct {
	storage.Repository
	failures int
}

func (f *flakyRepo) ApplyAssetReady(ctx context.Context, ref storage.AssetRef, update storage.AssetReadyUpdate) (storage.ApplyResult, error) {
	if f.failures > 0 {
		f.failures--
		return storage.ApplyResult{}, fmt.Errorf("disk full")
	}
	return f.Repository.ApplyAssetReady(ctx, ref, update)
}

func TestProcessAppliesRedeliveryAfterFailedApply(t *testing.T) {
	store := newTestStore(t)
	seedUpload(t, store, "upload-1")
	processor := newTestProcessor(t, &flakyRepo{Repository: store, failures: 1}, NewMemoryDeduper(0))

	ready := Event{
		Kind:       EventAssetReady,
		RawType:    string(EventAssetReady),
		DeliveryID: "evt-retry",
		Asset:      AssetPayload{AssetID: "asset-1", UploadID: "upload-1", PlaybackID: "play-1"},
	}
	if _, err := processor.Process(context.Background(), ready); err == nil {
		t.Fatal("expected first delivery to fail")
	}

	// The provider redelivers the same id after the 500; a failed apply
	// must not have marked it as processed.
	result, err := processor.Process(context.Background(), ready)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("redelivery outcome = %q, want applied", result.Outcome)
	}
	if result.Asset.Status != models.AssetStatusReady {
		t.Fatalf("status = %q, want ready", result.Asset.Status)
	}

	// A further replay of the now-settled delivery is suppressed.
	replay, err := processor.Process(context.Background(), ready)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Outcome != OutcomeDuplicate {
		t.Fatalf("replay outcome = %q, want duplicate", replay.Outcome)
	}
}
