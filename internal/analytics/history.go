package analytics

import (
	"context"
	"time"

	"github.com/justestif/go-spotify-history/internal/db"
)

const (
	// DefaultHistoryLimit pages History when no limit is given.
	DefaultHistoryLimit = 50

	// DefaultHistoryDays is the span of HistoryByDay when none is given.
	DefaultHistoryDays = 7

	byDayLimit = 500
	dayLabel   = "Mon, Jan 2"
)

// DayGroup holds the plays of one local calendar day, newest first.
type DayGroup struct {
	Day   string
	Plays []db.ListeningEvent
}

// History lists plays newest first. It returns an empty list when the store
// cannot be queried.
func (s *Service) History(ctx context.Context, opts db.ListOptions) []db.ListeningEvent {
	if opts.Limit <= 0 {
		opts.Limit = DefaultHistoryLimit
	}
	events, ok := s.query(ctx, "history", func(r Reader) ([]db.ListeningEvent, error) {
		return r.List(ctx, opts)
	})
	if !ok || events == nil {
		return []db.ListeningEvent{}
	}
	return events
}

// HistoryByDay groups up to 500 plays since local midnight days ago by a
// "Mon, Jan 2" label. Groups keep the order the days are first encountered,
// so the most recent day comes first.
func (s *Service) HistoryByDay(ctx context.Context, days int) []DayGroup {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	now := s.now().In(s.loc).AddDate(0, 0, -days)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	events := s.History(ctx, db.ListOptions{Start: &start, Limit: byDayLimit})

	groups := []DayGroup{}
	index := make(map[string]int)
	for _, e := range events {
		label := e.PlayedAt.In(s.loc).Format(dayLabel)
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, DayGroup{Day: label})
		}
		groups[i].Plays = append(groups[i].Plays, e)
	}
	return groups
}
