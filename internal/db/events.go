package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/go-spotify-history/internal/metrics"
)

// EventRepository handles listening history operations.
type EventRepository struct {
	pool *pgxpool.Pool
}

const eventColumns = `id, track_id, track_uri, track_name, track_artists, track_artist_ids,
	album_name, album_id, album_image_url, duration_ms, context_type, context_uri,
	played_at, synced_at, created_at`

// InsertIgnoreDuplicates writes events, skipping any whose (track_id, played_at)
// already exists. It returns the number of rows actually inserted.
func (r *EventRepository) InsertIgnoreDuplicates(ctx context.Context, events []ListeningEvent) (n int64, err error) {
	if len(events) == 0 {
		return 0, nil
	}
	defer observe("insert_events", time.Now(), &err)

	query := `
		INSERT INTO spotify_listening_history (
			track_id, track_uri, track_name, track_artists, track_artist_ids,
			album_name, album_id, album_image_url, duration_ms, context_type, context_uri,
			played_at, synced_at
		)
		SELECT * FROM unnest(
			$1::text[], $2::text[], $3::text[], $4::text[], $5::text[],
			$6::text[], $7::text[], $8::text[], $9::int[], $10::text[], $11::text[],
			$12::timestamptz[], $13::timestamptz[]
		)
		ON CONFLICT (track_id, played_at) DO NOTHING
	`

	size := len(events)
	trackIDs := make([]string, size)
	trackURIs := make([]string, size)
	trackNames := make([]string, size)
	artists := make([]string, size)
	artistIDs := make([]string, size)
	albumNames := make([]string, size)
	albumIDs := make([]string, size)
	albumImages := make([]*string, size)
	durations := make([]int, size)
	contextTypes := make([]*string, size)
	contextURIs := make([]*string, size)
	playedAts := make([]time.Time, size)
	syncedAts := make([]time.Time, size)

	for i, e := range events {
		trackIDs[i] = e.TrackID
		trackURIs[i] = e.TrackURI
		trackNames[i] = e.TrackName
		artists[i] = e.TrackArtists
		artistIDs[i] = e.TrackArtistIDs
		albumNames[i] = e.AlbumName
		albumIDs[i] = e.AlbumID
		albumImages[i] = e.AlbumImageURL
		durations[i] = e.DurationMs
		contextTypes[i] = e.ContextType
		contextURIs[i] = e.ContextURI
		playedAts[i] = e.PlayedAt
		syncedAts[i] = e.SyncedAt
	}

	tag, err := r.pool.Exec(ctx, query,
		trackIDs, trackURIs, trackNames, artists, artistIDs,
		albumNames, albumIDs, albumImages, durations, contextTypes, contextURIs,
		playedAts, syncedAts,
	)
	if err != nil {
		return 0, fmt.Errorf("batch inserting listening events: %w", translate(err))
	}
	return tag.RowsAffected(), nil
}

// Count returns the exact number of stored events.
func (r *EventRepository) Count(ctx context.Context) (n int64, err error) {
	defer observe("count_events", time.Now(), &err)

	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM spotify_listening_history`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting listening events: %w", translate(err))
	}
	return n, nil
}

// List returns events ordered by played_at descending.
func (r *EventRepository) List(ctx context.Context, opts ListOptions) (events []ListeningEvent, err error) {
	defer observe("list_events", time.Now(), &err)

	var (
		where []string
		args  []any
	)
	if opts.Start != nil {
		args = append(args, *opts.Start)
		where = append(where, fmt.Sprintf("played_at >= $%d", len(args)))
	}
	if opts.End != nil {
		args = append(args, *opts.End)
		where = append(where, fmt.Sprintf("played_at <= $%d", len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM spotify_listening_history`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	// id breaks ties between identical timestamps so paging is stable.
	query += ` ORDER BY played_at DESC, id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying listening events: %w", translate(err))
	}
	return collectEvents(rows)
}

// SearchArtist returns events whose artist string contains artist
// (case-insensitive) with played_at in [start, end], ordered ascending.
func (r *EventRepository) SearchArtist(ctx context.Context, artist string, start, end time.Time) (events []ListeningEvent, err error) {
	defer observe("search_artist", time.Now(), &err)

	query := `SELECT ` + eventColumns + `
		FROM spotify_listening_history
		WHERE track_artists ILIKE $1
		  AND played_at >= $2
		  AND played_at <= $3
		ORDER BY played_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, "%"+EscapeLike(artist)+"%", start, end)
	if err != nil {
		return nil, fmt.Errorf("searching listening events by artist: %w", translate(err))
	}
	return collectEvents(rows)
}

// EscapeLike escapes LIKE metacharacters so s matches literally.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func collectEvents(rows pgx.Rows) ([]ListeningEvent, error) {
	defer rows.Close()

	var events []ListeningEvent
	for rows.Next() {
		var e ListeningEvent
		if err := rows.Scan(
			&e.ID,
			&e.TrackID,
			&e.TrackURI,
			&e.TrackName,
			&e.TrackArtists,
			&e.TrackArtistIDs,
			&e.AlbumName,
			&e.AlbumID,
			&e.AlbumImageURL,
			&e.DurationMs,
			&e.ContextType,
			&e.ContextURI,
			&e.PlayedAt,
			&e.SyncedAt,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning listening event: %w", err)
		}
		e.PlayedAt = e.PlayedAt.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating listening events: %w", translate(err))
	}
	return events, nil
}

func observe(operation string, start time.Time, err *error) {
	metrics.RecordStoreQuery(operation, time.Since(start), *err)
}
