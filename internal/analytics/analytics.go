// Package analytics computes read-only views over the listening history:
// windowed stats, artist correlation around a date, and history listings.
//
// Every view degrades gracefully. A store error is logged and turned into an
// empty result instead of being returned, and a store that has not been
// migrated yet is not treated as an error at all.
package analytics

import (
	"context"
	"time"

	"github.com/justestif/go-spotify-history/internal/db"
	"github.com/justestif/go-spotify-history/internal/logging"
)

// Reader is the query side of the event store.
type Reader interface {
	List(ctx context.Context, opts db.ListOptions) ([]db.ListeningEvent, error)
	SearchArtist(ctx context.Context, artist string, start, end time.Time) ([]db.ListeningEvent, error)
}

// Service computes analytical views. A nil Reader behaves like an unreachable store.
type Service struct {
	reader Reader
	now    func() time.Time
	loc    *time.Location
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLocation sets the zone used for day labels and midnight boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// New creates an analytics service.
func New(reader Reader, opts ...Option) *Service {
	s := &Service{
		reader: reader,
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// query runs fn against the reader and swallows its error.
func (s *Service) query(ctx context.Context, view string, fn func(Reader) ([]db.ListeningEvent, error)) ([]db.ListeningEvent, bool) {
	if s.reader == nil {
		logging.Ctx(ctx).Debug().Str("view", view).Msg("event store not configured")
		return nil, false
	}
	events, err := fn(s.reader)
	if err != nil {
		if db.IsNotProvisioned(err) {
			logging.Ctx(ctx).Debug().Str("view", view).Msg("listening history table not provisioned")
		} else {
			logging.Ctx(ctx).Error().Err(err).Str("view", view).Msg("analytics query failed")
		}
		return nil, false
	}
	return events, true
}
