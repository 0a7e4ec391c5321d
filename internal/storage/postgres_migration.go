package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const videoAssetsSchema = `
CREATE TABLE IF NOT EXISTS video_assets (
    id             TEXT PRIMARY KEY,
    upload_id      TEXT NOT NULL UNIQUE,
    asset_id       TEXT UNIQUE,
    playback_id    TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    title          TEXT NOT NULL DEFAULT '',
    description    TEXT NOT NULL DEFAULT '',
    filename       TEXT NOT NULL DEFAULT '',
    duration       DOUBLE PRECISION NOT NULL DEFAULT 0,
    aspect_ratio   TEXT NOT NULL DEFAULT '',
    max_resolution TEXT NOT NULL DEFAULT '',
    errors         JSONB,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL,
    ready_at       TIMESTAMPTZ,
    failed_at      TIMESTAMPTZ,
    CONSTRAINT video_assets_status_check
        CHECK (status IN ('uploading', 'processing', 'ready', 'error'))
);

CREATE INDEX IF NOT EXISTS video_assets_status_created_idx
    ON video_assets (status, created_at);
`

// MigratePostgres applies the schema required by the Postgres repository. It
// is idempotent and safe to run on every boot.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("postgres pool required")
	}
	if _, err := pool.Exec(ctx, videoAssetsSchema); err != nil {
		return fmt.Errorf("apply video_assets schema: %w", err)
	}
	return nil
}
