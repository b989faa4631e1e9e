// Package history ingests the listening history from a recently-played source
// into the event store and maintains the sync cursor.
//
// A sync is one fail-fast, idempotent step: fetch the latest page, keep the
// plays newer than the cursor watermark, insert them ignoring duplicates on
// (track_id, played_at), then advance the cursor. Any failure leaves the cursor
// untouched, so the caller can simply retry. There is no retry loop here.
//
// The source only exposes its most recent plays (50 for Spotify). Plays older
// than the returned page that were never synced are lost and cannot be detected.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justestif/go-spotify-history/internal/db"
	"github.com/justestif/go-spotify-history/internal/logging"
	"github.com/justestif/go-spotify-history/internal/metrics"
)

// Common errors.
var (
	ErrNoSource = errors.New("music source not configured")
	ErrNoStore  = errors.New("event store not configured")
)

// DefaultPageLimit is the largest page the recently-played endpoint serves.
const DefaultPageLimit = 50

// Source returns the most recent plays, most-recent-first.
type Source interface {
	FetchRecentPlays(ctx context.Context, limit int) ([]Play, error)
}

// EventWriter is the write side of the event store.
type EventWriter interface {
	InsertIgnoreDuplicates(ctx context.Context, events []db.ListeningEvent) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// CursorStore persists the sync cursor.
type CursorStore interface {
	Get(ctx context.Context, id string) (*db.SyncCursor, error)
	Advance(ctx context.Context, id string, playedAt, syncedAt time.Time, delta int) error
}

// SyncResult describes the outcome of one sync.
type SyncResult struct {
	Success         bool       `json:"success"`
	NewTracks       int        `json:"newTracks"`
	TotalTracksInDB int64      `json:"totalTracksInDb"`
	OldestTrack     *time.Time `json:"oldestTrack,omitempty"`
	NewestTrack     *time.Time `json:"newestTrack,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Service syncs recently played tracks into the event store.
type Service struct {
	source   Source
	events   EventWriter
	cursors  CursorStore
	limit    int
	cursorID string
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPageLimit sets how many plays to request per sync (1..DefaultPageLimit).
func WithPageLimit(n int) Option {
	return func(s *Service) {
		if n > 0 && n <= DefaultPageLimit {
			s.limit = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a sync service. A nil source or store is allowed; Sync then
// reports the misconfiguration as a failed result.
func New(source Source, events EventWriter, cursors CursorStore, opts ...Option) *Service {
	s := &Service{
		source:   source,
		events:   events,
		cursors:  cursors,
		limit:    DefaultPageLimit,
		cursorID: db.DefaultCursorID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// failure carries the metric reason alongside the error.
type failure struct {
	reason string
	err    error
}

func (f *failure) Error() string { return f.err.Error() }
func (f *failure) Unwrap() error { return f.err }

func sourceFailure(format string, err error) error {
	return &failure{reason: "source", err: fmt.Errorf(format, err)}
}

func storeFailure(format string, err error) error {
	reason := "store"
	if db.IsNotProvisioned(err) {
		reason = "not_provisioned"
	}
	return &failure{reason: reason, err: fmt.Errorf(format, err)}
}

// Sync runs one ingestion step. On failure the returned result has
// Success=false and Error set, and the error is returned as well.
func (s *Service) Sync(ctx context.Context) (*SyncResult, error) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	log := logging.Ctx(ctx)
	start := time.Now()

	result, err := s.sync(ctx)
	if err != nil {
		reason := "store"
		var f *failure
		if errors.As(err, &f) {
			reason = f.reason
		}
		metrics.RecordSync(time.Since(start), 0, err, reason)

		if db.IsNotProvisioned(err) {
			log.Debug().Err(err).Msg("listening history table not provisioned")
		} else {
			log.Error().Err(err).Str("reason", reason).Msg("history sync failed")
		}
		return &SyncResult{Success: false, Error: err.Error()}, err
	}

	metrics.RecordSync(time.Since(start), result.NewTracks, nil, "")
	log.Info().
		Int("new_tracks", result.NewTracks).
		Int64("total_tracks", result.TotalTracksInDB).
		Dur("duration", time.Since(start)).
		Msg("history sync complete")
	return result, nil
}

func (s *Service) sync(ctx context.Context) (*SyncResult, error) {
	if s.source == nil {
		return nil, &failure{reason: "source", err: ErrNoSource}
	}
	if s.events == nil || s.cursors == nil {
		return nil, &failure{reason: "store", err: ErrNoStore}
	}

	var watermark *time.Time
	cursor, err := s.cursors.Get(ctx, s.cursorID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		// Never synced; bootstrap from whatever the source returns.
	case err != nil:
		return nil, storeFailure("loading sync cursor: %w", err)
	default:
		watermark = cursor.LastPlayedAt
	}

	plays, err := s.source.FetchRecentPlays(ctx, s.limit)
	if err != nil {
		return nil, sourceFailure("fetching recent plays: %w", err)
	}

	fresh := newerThan(plays, watermark)
	if len(fresh) == 0 {
		return &SyncResult{Success: true, TotalTracksInDB: s.count(ctx)}, nil
	}

	syncedAt := s.now()
	events := make([]db.ListeningEvent, len(fresh))
	for i, p := range fresh {
		events[i] = toListeningEvent(p, syncedAt)
	}

	inserted, err := s.events.InsertIgnoreDuplicates(ctx, events)
	if err != nil {
		return nil, storeFailure("writing listening events: %w", err)
	}
	if inserted < int64(len(events)) {
		logging.Ctx(ctx).Debug().
			Int("filtered", len(events)).
			Int64("inserted", inserted).
			Msg("duplicate plays ignored by store")
	}

	oldest, newest := bounds(fresh)
	// The counter moves by the filtered batch size, not by rows inserted.
	if err := s.cursors.Advance(ctx, s.cursorID, newest, syncedAt, len(fresh)); err != nil {
		return nil, storeFailure("advancing sync cursor: %w", err)
	}
	metrics.SyncWatermark.Set(float64(newest.Unix()))

	return &SyncResult{
		Success:         true,
		NewTracks:       len(fresh),
		TotalTracksInDB: s.count(ctx),
		OldestTrack:     &oldest,
		NewestTrack:     &newest,
	}, nil
}

// Cursor returns the current sync cursor, or an empty one if none was ever written.
func (s *Service) Cursor(ctx context.Context) (*db.SyncCursor, error) {
	if s.cursors == nil {
		return nil, ErrNoStore
	}
	cursor, err := s.cursors.Get(ctx, s.cursorID)
	if errors.Is(err, db.ErrNotFound) {
		return &db.SyncCursor{ID: s.cursorID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading sync cursor: %w", err)
	}
	return cursor, nil
}

// count is best effort: the sync's effect is already durable when it runs.
func (s *Service) count(ctx context.Context) int64 {
	n, err := s.events.Count(ctx)
	if err != nil {
		if !db.IsNotProvisioned(err) {
			logging.Ctx(ctx).Warn().Err(err).Msg("counting listening events")
		}
		return 0
	}
	return n
}

// newerThan keeps plays strictly after watermark, preserving order.
// A nil watermark keeps everything.
func newerThan(plays []Play, watermark *time.Time) []Play {
	if watermark == nil {
		return plays
	}
	var fresh []Play
	for _, p := range plays {
		if p.PlayedAt.After(*watermark) {
			fresh = append(fresh, p)
		}
	}
	return fresh
}

// bounds returns the oldest and newest played_at of a non-empty batch.
func bounds(plays []Play) (oldest, newest time.Time) {
	oldest, newest = plays[0].PlayedAt, plays[0].PlayedAt
	for _, p := range plays[1:] {
		if p.PlayedAt.Before(oldest) {
			oldest = p.PlayedAt
		}
		if p.PlayedAt.After(newest) {
			newest = p.PlayedAt
		}
	}
	return oldest, newest
}
