package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"fanstream-video/internal/models"
)

type dataset struct {
	Videos map[string]models.VideoAsset `json:"videos"`
}

func newDataset() dataset {
	return dataset{Videos: make(map[string]models.VideoAsset)}
}

// Storage is the JSON-file-backed Repository used for development and tests.
// All mutations happen under the write lock and are flushed to disk before
// they are considered applied, so a transition that fails to persist is
// reported as an error and the provider will redeliver the event.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	cfg      config
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error

	// secondary indexes rebuilt on load and maintained on every mutation
	byUpload map[string]string
	byAsset  map[string]string
}

// NewStorage opens (or creates) the JSON datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		cfg:      newConfig(opts...),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewJSONRepository opens the JSON-backed datastore and returns it as a
// Repository.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	return NewStorage(path, opts...)
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		s.rebuildIndexesLocked()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			s.rebuildIndexesLocked()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.VideoAsset)
	}
	s.rebuildIndexesLocked()
	return nil
}

func (s *Storage) rebuildIndexesLocked() {
	s.byUpload = make(map[string]string, len(s.data.Videos))
	s.byAsset = make(map[string]string, len(s.data.Videos))
	for id, video := range s.data.Videos {
		if video.UploadID != "" {
			s.byUpload[video.UploadID] = id
		}
		if video.AssetID != "" {
			s.byAsset[video.AssetID] = id
		}
	}
}

func (s *Storage) persistLocked() error {
	if s.persistOverride != nil {
		if err := s.persistOverride(s.data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// Ping reports whether the backing file remains writable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir := filepath.Dir(s.filePath)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}

// Close flushes any pending state. The JSON store persists on every mutation,
// so Close only honours context cancellation for interface parity.
func (s *Storage) Close(ctx context.Context) error {
	return ctx.Err()
}

// CreateVideoAsset persists a new pending record keyed to an upload target.
// Exactly one record may exist per upload id.
func (s *Storage) CreateVideoAsset(ctx context.Context, params CreateVideoAssetParams) (models.VideoAsset, error) {
	if err := ctx.Err(); err != nil {
		return models.VideoAsset{}, err
	}
	if params.UploadID == "" {
		return models.VideoAsset{}, fmt.Errorf("upload id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUpload[params.UploadID]; exists {
		return models.VideoAsset{}, ErrConflict
	}

	id, err := generateID()
	if err != nil {
		return models.VideoAsset{}, err
	}

	now := s.cfg.clock()
	video := models.VideoAsset{
		ID:          id,
		UploadID:    params.UploadID,
		AssetID:     params.AssetID,
		Status:      models.AssetStatusUploading,
		Title:       params.Title,
		Description: params.Description,
		Filename:    params.Filename,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.data.Videos[id] = video
	s.byUpload[video.UploadID] = id
	if video.AssetID != "" {
		s.byAsset[video.AssetID] = id
	}
	if err := s.persistLocked(); err != nil {
		delete(s.data.Videos, id)
		delete(s.byUpload, video.UploadID)
		if video.AssetID != "" {
			delete(s.byAsset, video.AssetID)
		}
		return models.VideoAsset{}, err
	}
	return video, nil
}

// GetVideoAsset returns the record with the given local id.
func (s *Storage) GetVideoAsset(ctx context.Context, id string) (models.VideoAsset, bool) {
	if ctx.Err() != nil {
		return models.VideoAsset{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	return video, ok
}

// FindByAssetID returns the record carrying the given provider asset id.
func (s *Storage) FindByAssetID(ctx context.Context, assetID string) (models.VideoAsset, bool) {
	if ctx.Err() != nil || assetID == "" {
		return models.VideoAsset{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAsset[assetID]
	if !ok {
		return models.VideoAsset{}, false
	}
	video, ok := s.data.Videos[id]
	return video, ok
}

// FindByUploadID returns the record keyed to the given upload target.
func (s *Storage) FindByUploadID(ctx context.Context, uploadID string) (models.VideoAsset, bool) {
	if ctx.Err() != nil || uploadID == "" {
		return models.VideoAsset{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUpload[uploadID]
	if !ok {
		return models.VideoAsset{}, false
	}
	video, ok := s.data.Videos[id]
	return video, ok
}

// ListVideoAssets returns all records ordered by creation time, newest first.
func (s *Storage) ListVideoAssets(ctx context.Context) ([]models.VideoAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	videos := make([]models.VideoAsset, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		videos = append(videos, video)
	}
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID < videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	return videos, nil
}

// ReapStaleUploads marks records still uploading after olderThan as errored
// and returns the affected assets. Terminal records are never touched.
func (s *Storage) ReapStaleUploads(ctx context.Context, olderThan time.Time) ([]models.VideoAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []models.VideoAsset
	originals := make(map[string]models.VideoAsset)
	now := s.cfg.clock()
	for id, video := range s.data.Videos {
		if video.Status != models.AssetStatusUploading {
			continue
		}
		if !video.CreatedAt.Before(olderThan) {
			continue
		}
		originals[id] = video
		failed := now
		video.Status = models.AssetStatusError
		video.Errors = []models.AssetError{{
			Type:     "upload_expired",
			Messages: []string{"no provider event received before the upload target expired"},
		}}
		video.FailedAt = &failed
		video.UpdatedAt = now
		s.data.Videos[id] = video
		reaped = append(reaped, video)
	}
	if len(reaped) == 0 {
		return nil, nil
	}
	if err := s.persistLocked(); err != nil {
		for id, video := range originals {
			s.data.Videos[id] = video
		}
		return nil, err
	}
	sort.Slice(reaped, func(i, j int) bool { return reaped[i].ID < reaped[j].ID })
	return reaped, nil
}
