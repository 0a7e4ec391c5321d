package storage

import (
	"context"

	"fanstream-video/internal/models"
)

// lookupLocked resolves an event reference to a stored record, preferring the
// provider asset id and falling back to the upload id for events delivered
// before asset assignment.
func (s *Storage) lookupLocked(ref AssetRef) (string, models.VideoAsset, bool) {
	if ref.AssetID != "" {
		if id, ok := s.byAsset[ref.AssetID]; ok {
			video, found := s.data.Videos[id]
			return id, video, found
		}
	}
	if ref.UploadID != "" {
		if id, ok := s.byUpload[ref.UploadID]; ok {
			video, found := s.data.Videos[id]
			return id, video, found
		}
	}
	return "", models.VideoAsset{}, false
}

// commitLocked persists a mutated record, restoring the original on failure
// so the in-memory view never diverges from disk.
func (s *Storage) commitLocked(id string, original, mutated models.VideoAsset) error {
	s.data.Videos[id] = mutated
	if mutated.AssetID != "" {
		s.byAsset[mutated.AssetID] = id
	}
	if err := s.persistLocked(); err != nil {
		s.data.Videos[id] = original
		if mutated.AssetID != "" && original.AssetID != mutated.AssetID {
			delete(s.byAsset, mutated.AssetID)
		}
		return err
	}
	return nil
}

// ApplyAssetCreated attaches the provider asset id and moves an uploading
// record to processing. Replays and late deliveries are no-ops with respect
// to status: a record already processing or ready keeps its status, and a
// terminal record is never modified.
func (s *Storage) ApplyAssetCreated(ctx context.Context, ref AssetRef, update AssetCreatedUpdate) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, video, ok := s.lookupLocked(ref)
	if !ok {
		return ApplyResult{}, ErrNotFound
	}
	previous := video.Status
	if previous.Terminal() {
		return ApplyResult{Asset: video, Previous: previous}, nil
	}

	original := video
	mutated := false
	if update.AssetID != "" && update.AssetID != video.AssetID {
		video.AssetID = update.AssetID
		mutated = true
	}
	if update.PlaybackID != "" && update.PlaybackID != video.PlaybackID {
		video.PlaybackID = update.PlaybackID
		mutated = true
	}
	if update.Duration > 0 && update.Duration != video.Duration {
		video.Duration = update.Duration
		mutated = true
	}
	if update.AspectRatio != "" && update.AspectRatio != video.AspectRatio {
		video.AspectRatio = update.AspectRatio
		mutated = true
	}
	changed := previous == models.AssetStatusUploading
	if changed {
		video.Status = models.AssetStatusProcessing
		mutated = true
	}
	if !mutated {
		return ApplyResult{Asset: video, Previous: previous}, nil
	}
	video.UpdatedAt = s.cfg.clock()

	if err := s.commitLocked(id, original, video); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Asset: video, Previous: previous, Changed: changed}, nil
}

// ApplyAssetReady stamps playback metadata and marks the record ready.
// A duplicate ready event leaves the record byte-for-byte unchanged, and an
// errored record is never resurrected.
func (s *Storage) ApplyAssetReady(ctx context.Context, ref AssetRef, update AssetReadyUpdate) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, video, ok := s.lookupLocked(ref)
	if !ok {
		return ApplyResult{}, ErrNotFound
	}
	previous := video.Status
	if previous.Terminal() || previous == models.AssetStatusReady {
		return ApplyResult{Asset: video, Previous: previous}, nil
	}

	original := video
	if update.AssetID != "" {
		video.AssetID = update.AssetID
	}
	if update.PlaybackID != "" {
		video.PlaybackID = update.PlaybackID
	}
	if update.Duration > 0 {
		video.Duration = update.Duration
	}
	if update.AspectRatio != "" {
		video.AspectRatio = update.AspectRatio
	}
	if update.MaxResolution != "" {
		video.MaxResolution = update.MaxResolution
	}
	now := s.cfg.clock()
	video.Status = models.AssetStatusReady
	video.ReadyAt = &now
	video.UpdatedAt = now

	if err := s.commitLocked(id, original, video); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Asset: video, Previous: previous, Changed: true}, nil
}

// ApplyAssetErrored records the provider failure payload and moves the record
// to its terminal state. Errors may downgrade a ready asset (late transcode
// failures surface this way) but a record already errored is left untouched.
func (s *Storage) ApplyAssetErrored(ctx context.Context, ref AssetRef, update AssetErroredUpdate) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, video, ok := s.lookupLocked(ref)
	if !ok {
		return ApplyResult{}, ErrNotFound
	}
	previous := video.Status
	if previous.Terminal() {
		return ApplyResult{Asset: video, Previous: previous}, nil
	}

	original := video
	now := s.cfg.clock()
	video.Status = models.AssetStatusError
	video.Errors = append([]models.AssetError(nil), update.Errors...)
	video.FailedAt = &now
	video.UpdatedAt = now

	if err := s.commitLocked(id, original, video); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Asset: video, Previous: previous, Changed: true}, nil
}

// ApplyAssetUpdated merges descriptive metadata without altering status.
// Terminal records are left untouched so the error tombstone stays intact.
func (s *Storage) ApplyAssetUpdated(ctx context.Context, ref AssetRef, update AssetMetadataUpdate) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, video, ok := s.lookupLocked(ref)
	if !ok {
		return ApplyResult{}, ErrNotFound
	}
	previous := video.Status
	if previous.Terminal() {
		return ApplyResult{Asset: video, Previous: previous}, nil
	}

	original := video
	mutated := false
	if update.PlaybackID != "" && update.PlaybackID != video.PlaybackID {
		video.PlaybackID = update.PlaybackID
		mutated = true
	}
	if update.Duration > 0 && update.Duration != video.Duration {
		video.Duration = update.Duration
		mutated = true
	}
	if update.AspectRatio != "" && update.AspectRatio != video.AspectRatio {
		video.AspectRatio = update.AspectRatio
		mutated = true
	}
	if update.MaxResolution != "" && update.MaxResolution != video.MaxResolution {
		video.MaxResolution = update.MaxResolution
		mutated = true
	}
	if !mutated {
		return ApplyResult{Asset: video, Previous: previous}, nil
	}
	video.UpdatedAt = s.cfg.clock()

	if err := s.commitLocked(id, original, video); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Asset: video, Previous: previous}, nil
}
