package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fanstream-video/internal/models"
)

const videoAssetColumns = `id, upload_id, COALESCE(asset_id, ''), playback_id, status,
	title, description, filename, duration, aspect_ratio, max_resolution,
	errors, created_at, updated_at, ready_at, failed_at`

type postgresRepository struct {
	pool  *pgxpool.Pool
	cfg   PostgresConfig
	clock func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migration before returning.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	base := newConfig(opts...)
	return &postgresRepository{pool: pool, cfg: cfg, clock: base.clock}, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not initialised")
	}
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func scanVideoAsset(row pgx.Row) (models.VideoAsset, error) {
	var (
		video     models.VideoAsset
		errorsRaw []byte
	)
	err := row.Scan(
		&video.ID, &video.UploadID, &video.AssetID, &video.PlaybackID, &video.Status,
		&video.Title, &video.Description, &video.Filename, &video.Duration,
		&video.AspectRatio, &video.MaxResolution,
		&errorsRaw, &video.CreatedAt, &video.UpdatedAt, &video.ReadyAt, &video.FailedAt,
	)
	if err != nil {
		return models.VideoAsset{}, err
	}
	if len(errorsRaw) > 0 {
		if err := json.Unmarshal(errorsRaw, &video.Errors); err != nil {
			return models.VideoAsset{}, fmt.Errorf("decode asset errors: %w", err)
		}
	}
	return video, nil
}

func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func (r *postgresRepository) CreateVideoAsset(ctx context.Context, params CreateVideoAssetParams) (models.VideoAsset, error) {
	if params.UploadID == "" {
		return models.VideoAsset{}, fmt.Errorf("upload id is required")
	}
	id, err := generateID()
	if err != nil {
		return models.VideoAsset{}, err
	}
	now := r.clock()

	const query = `
		INSERT INTO video_assets (id, upload_id, asset_id, status, title, description, filename, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING ` + videoAssetColumns

	row := r.pool.QueryRow(ctx, query,
		id, params.UploadID, nullableText(params.AssetID), models.AssetStatusUploading,
		params.Title, params.Description, params.Filename, now,
	)
	video, err := scanVideoAsset(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.VideoAsset{}, ErrConflict
		}
		return models.VideoAsset{}, fmt.Errorf("create video asset: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) getBy(ctx context.Context, column, value string) (models.VideoAsset, bool) {
	if value == "" {
		return models.VideoAsset{}, false
	}
	query := `SELECT ` + videoAssetColumns + ` FROM video_assets WHERE ` + column + ` = $1`
	video, err := scanVideoAsset(r.pool.QueryRow(ctx, query, value))
	if err != nil {
		return models.VideoAsset{}, false
	}
	return video, true
}

func (r *postgresRepository) GetVideoAsset(ctx context.Context, id string) (models.VideoAsset, bool) {
	return r.getBy(ctx, "id", id)
}

func (r *postgresRepository) FindByAssetID(ctx context.Context, assetID string) (models.VideoAsset, bool) {
	return r.getBy(ctx, "asset_id", assetID)
}

func (r *postgresRepository) FindByUploadID(ctx context.Context, uploadID string) (models.VideoAsset, bool) {
	return r.getBy(ctx, "upload_id", uploadID)
}

func (r *postgresRepository) ListVideoAssets(ctx context.Context) ([]models.VideoAsset, error) {
	query := `SELECT ` + videoAssetColumns + ` FROM video_assets ORDER BY created_at DESC, id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list video assets: %w", err)
	}
	defer rows.Close()

	var videos []models.VideoAsset
	for rows.Next() {
		video, err := scanVideoAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video asset: %w", err)
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list video assets: %w", err)
	}
	return videos, nil
}

// applyTransition runs mutate inside a transaction holding a row lock on the
// matched record, then writes the result with a status guard so a concurrent
// transition to error cannot be overwritten.
func (r *postgresRepository) applyTransition(
	ctx context.Context,
	ref AssetRef,
	mutate func(video models.VideoAsset, now time.Time) (models.VideoAsset, bool, bool),
) (ApplyResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	video, err := lockVideoAsset(ctx, tx, ref)
	if err != nil {
		return ApplyResult{}, err
	}
	previous := video.Status

	now := r.clock()
	mutated, write, changed := mutate(video, now)
	if !write {
		return ApplyResult{Asset: video, Previous: previous}, nil
	}

	errorsJSON, err := encodeAssetErrors(mutated.Errors)
	if err != nil {
		return ApplyResult{}, err
	}

	const update = `
		UPDATE video_assets SET
			asset_id = $2, playback_id = $3, status = $4, duration = $5,
			aspect_ratio = $6, max_resolution = $7, errors = $8,
			updated_at = $9, ready_at = $10, failed_at = $11
		WHERE id = $1 AND status = $12`

	tag, err := tx.Exec(ctx, update,
		mutated.ID, nullableText(mutated.AssetID), mutated.PlaybackID, mutated.Status,
		mutated.Duration, mutated.AspectRatio, mutated.MaxResolution, errorsJSON,
		mutated.UpdatedAt, mutated.ReadyAt, mutated.FailedAt, previous,
	)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Row lock should prevent this; treat as a conflict so the
		// provider redelivers and the replay observes the new status.
		return ApplyResult{}, fmt.Errorf("apply transition: %w", ErrConflict)
	}
	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, fmt.Errorf("commit transition: %w", err)
	}
	return ApplyResult{Asset: mutated, Previous: previous, Changed: changed}, nil
}

func lockVideoAsset(ctx context.Context, tx pgx.Tx, ref AssetRef) (models.VideoAsset, error) {
	lookup := func(column, value string) (models.VideoAsset, error) {
		query := `SELECT ` + videoAssetColumns + ` FROM video_assets WHERE ` + column + ` = $1 FOR UPDATE`
		return scanVideoAsset(tx.QueryRow(ctx, query, value))
	}
	if ref.AssetID != "" {
		video, err := lookup("asset_id", ref.AssetID)
		if err == nil {
			return video, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.VideoAsset{}, fmt.Errorf("lookup by asset id: %w", err)
		}
	}
	if ref.UploadID != "" {
		video, err := lookup("upload_id", ref.UploadID)
		if err == nil {
			return video, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.VideoAsset{}, fmt.Errorf("lookup by upload id: %w", err)
		}
	}
	return models.VideoAsset{}, ErrNotFound
}

func encodeAssetErrors(assetErrors []models.AssetError) (any, error) {
	if len(assetErrors) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(assetErrors)
	if err != nil {
		return nil, fmt.Errorf("encode asset errors: %w", err)
	}
	return encoded, nil
}

func (r *postgresRepository) ApplyAssetCreated(ctx context.Context, ref AssetRef, update AssetCreatedUpdate) (ApplyResult, error) {
	return r.applyTransition(ctx, ref, func(video models.VideoAsset, now time.Time) (models.VideoAsset, bool, bool) {
		if video.Status.Terminal() {
			return video, false, false
		}
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
		changed := video.Status == models.AssetStatusUploading
		if changed {
			video.Status = models.AssetStatusProcessing
			mutated = true
		}
		if mutated {
			video.UpdatedAt = now
		}
		return video, mutated, changed
	})
}

func (r *postgresRepository) ApplyAssetReady(ctx context.Context, ref AssetRef, update AssetReadyUpdate) (ApplyResult, error) {
	return r.applyTransition(ctx, ref, func(video models.VideoAsset, now time.Time) (models.VideoAsset, bool, bool) {
		if video.Status.Terminal() || video.Status == models.AssetStatusReady {
			return video, false, false
		}
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
		video.Status = models.AssetStatusReady
		video.ReadyAt = &now
		video.UpdatedAt = now
		return video, true, true
	})
}

func (r *postgresRepository) ApplyAssetErrored(ctx context.Context, ref AssetRef, update AssetErroredUpdate) (ApplyResult, error) {
	return r.applyTransition(ctx, ref, func(video models.VideoAsset, now time.Time) (models.VideoAsset, bool, bool) {
		if video.Status.Terminal() {
			return video, false, false
		}
		video.Status = models.AssetStatusError
		video.Errors = append([]models.AssetError(nil), update.Errors...)
		video.FailedAt = &now
		video.UpdatedAt = now
		return video, true, true
	})
}

func (r *postgresRepository) ApplyAssetUpdated(ctx context.Context, ref AssetRef, update AssetMetadataUpdate) (ApplyResult, error) {
	return r.applyTransition(ctx, ref, func(video models.VideoAsset, now time.Time) (models.VideoAsset, bool, bool) {
		if video.Status.Terminal() {
			return video, false, false
		}
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
		if mutated {
			video.UpdatedAt = now
		}
		return video, mutated, false
	})
}

func (r *postgresRepository) ReapStaleUploads(ctx context.Context, olderThan time.Time) ([]models.VideoAsset, error) {
	now := r.clock()
	expiredErrors, err := encodeAssetErrors([]models.AssetError{{
		Type:     "upload_expired",
		Messages: []string{"no provider event received before the upload target expired"},
	}})
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE video_assets SET
			status = $1, errors = $2, failed_at = $3, updated_at = $3
		WHERE status = $4 AND created_at < $5
		RETURNING ` + videoAssetColumns

	rows, err := r.pool.Query(ctx, query,
		models.AssetStatusError, expiredErrors, now, models.AssetStatusUploading, olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("reap stale uploads: %w", err)
	}
	defer rows.Close()

	var reaped []models.VideoAsset
	for rows.Next() {
		video, err := scanVideoAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reaped asset: %w", err)
		}
		reaped = append(reaped, video)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reap stale uploads: %w", err)
	}
	return reaped, nil
}
