package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/go-spotify-history/internal/metrics"
)

// CursorRepository handles sync cursor operations.
type CursorRepository struct {
	pool *pgxpool.Pool
}

// Get retrieves a cursor by ID. Returns ErrNotFound if it was never written.
func (r *CursorRepository) Get(ctx context.Context, id string) (*SyncCursor, error) {
	start := time.Now()
	query := `
		SELECT id, last_played_at, last_sync_at, total_tracks_synced, created_at, updated_at
		FROM spotify_sync_cursor
		WHERE id = $1
	`
	var c SyncCursor
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.LastPlayedAt,
		&c.LastSyncAt,
		&c.TotalTracksSynced,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// A missing row is not a query failure.
		metrics.RecordStoreQuery("get_cursor", time.Since(start), nil)
		return nil, ErrNotFound
	}
	metrics.RecordStoreQuery("get_cursor", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("querying sync cursor: %w", translate(err))
	}
	return &c, nil
}

// Advance moves the cursor forward in a single statement: the watermark only
// ever increases (GREATEST ignores NULL), the counter is incremented by delta
// and last_sync_at is set to syncedAt. Concurrent callers cannot move the
// watermark backwards or lose an increment.
func (r *CursorRepository) Advance(ctx context.Context, id string, playedAt, syncedAt time.Time, delta int) (err error) {
	defer observe("advance_cursor", time.Now(), &err)

	query := `
		INSERT INTO spotify_sync_cursor (id, last_played_at, last_sync_at, total_tracks_synced, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_played_at = GREATEST(spotify_sync_cursor.last_played_at, EXCLUDED.last_played_at),
			last_sync_at = EXCLUDED.last_sync_at,
			total_tracks_synced = spotify_sync_cursor.total_tracks_synced + EXCLUDED.total_tracks_synced,
			updated_at = NOW()
	`
	_, err = r.pool.Exec(ctx, query, id, playedAt, syncedAt, int64(delta))
	if err != nil {
		return fmt.Errorf("advancing sync cursor: %w", translate(err))
	}
	return nil
}

// Reset deletes the cursor so the next sync bootstraps from the current page.
func (r *CursorRepository) Reset(ctx context.Context, id string) (err error) {
	defer observe("reset_cursor", time.Now(), &err)

	_, err = r.pool.Exec(ctx, `DELETE FROM spotify_sync_cursor WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resetting sync cursor: %w", translate(err))
	}
	return nil
}
