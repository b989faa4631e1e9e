package analytics

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/justestif/go-spotify-history/internal/db"
	"github.com/justestif/go-spotify-history/internal/logging"
)

const (
	// CorrelationWindowDays is the span on each side of the event date.
	CorrelationWindowDays = 30

	maxTopTracks = 5
)

// DailyPlays is the play count of one calendar day (YYYY-MM-DD, UTC).
type DailyPlays struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// TopTrack is a track ranked by plays inside the correlation window.
type TopTrack struct {
	TrackName     string  `json:"trackName"`
	AlbumName     string  `json:"albumName"`
	AlbumImageURL *string `json:"albumImageUrl"`
	PlayCount     int     `json:"playCount"`
}

// CorrelationWindow compares listening of one artist before and after a date.
type CorrelationWindow struct {
	ArtistName  string       `json:"artistName"`
	TotalPlays  int          `json:"totalPlays"`
	PlaysBefore int          `json:"playsBefore"`
	PlaysAfter  int          `json:"playsAfter"`
	DailyPlays  []DailyPlays `json:"dailyPlays"`
	TopTracks   []TopTrack   `json:"topTracks"`
}

func emptyWindow(artistName string) CorrelationWindow {
	return CorrelationWindow{
		ArtistName: artistName,
		DailyPlays: []DailyPlays{},
		TopTracks:  []TopTrack{},
	}
}

// Correlate looks at plays whose artist string contains artistName
// (case-insensitive) within CorrelationWindowDays of eventDate. It never
// fails; any error yields an empty window.
//
// artistID is accepted for exact-ID matching but is not consulted: the
// artist-name substring is the only filter.
func (s *Service) Correlate(ctx context.Context, artistName, artistID, eventDate string) CorrelationWindow {
	at, err := ParseEventDateIn(eventDate, s.loc)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("date", eventDate).Msg("unparsable correlation date")
		return emptyWindow(artistName)
	}

	start := at.AddDate(0, 0, -CorrelationWindowDays)
	end := at.AddDate(0, 0, CorrelationWindowDays)
	events, ok := s.query(ctx, "correlation", func(r Reader) ([]db.ListeningEvent, error) {
		return r.SearchArtist(ctx, artistName, start, end)
	})
	if !ok {
		return emptyWindow(artistName)
	}
	return correlate(artistName, at, events)
}

// correlate expects events ordered by played_at ascending. A play exactly at
// the event instant counts toward neither side but is still bucketed.
func correlate(artistName string, at time.Time, events []db.ListeningEvent) CorrelationWindow {
	w := emptyWindow(artistName)
	w.TotalPlays = len(events)

	daily := make(map[string]int)
	byName := make(map[string]int) // index into w.TopTracks
	for _, e := range events {
		switch {
		case e.PlayedAt.Before(at):
			w.PlaysBefore++
		case e.PlayedAt.After(at):
			w.PlaysAfter++
		}

		daily[e.PlayedAt.UTC().Format(time.DateOnly)]++

		if i, ok := byName[e.TrackName]; ok {
			w.TopTracks[i].PlayCount++
			continue
		}
		byName[e.TrackName] = len(w.TopTracks)
		w.TopTracks = append(w.TopTracks, TopTrack{
			TrackName:     e.TrackName,
			AlbumName:     e.AlbumName,
			AlbumImageURL: e.AlbumImageURL,
			PlayCount:     1,
		})
	}

	for date, count := range daily {
		w.DailyPlays = append(w.DailyPlays, DailyPlays{Date: date, Count: count})
	}
	slices.SortFunc(w.DailyPlays, func(a, b DailyPlays) int {
		return strings.Compare(a.Date, b.Date)
	})

	// Stable, so equal counts keep first-seen order.
	slices.SortStableFunc(w.TopTracks, func(a, b TopTrack) int {
		return b.PlayCount - a.PlayCount
	})
	if len(w.TopTracks) > maxTopTracks {
		w.TopTracks = w.TopTracks[:maxTopTracks]
	}
	return w
}

// ParseEventDate accepts an RFC 3339 timestamp, a zone-less date-time or a
// bare YYYY-MM-DD date, reading both zone-less forms as UTC.
func ParseEventDate(s string) (time.Time, error) {
	return ParseEventDateIn(s, time.UTC)
}

// ParseEventDateIn is ParseEventDate with zone-less date-times read in loc.
// A bare date is always UTC midnight.
func ParseEventDateIn(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid event date %q", s)
}
