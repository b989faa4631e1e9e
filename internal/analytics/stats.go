package analytics

import (
	"context"
	"time"

	"github.com/justestif/go-spotify-history/internal/db"
)

// DefaultStatsDays is the window used when none is given.
const DefaultStatsDays = 30

// StatsSnapshot summarizes the plays in [now - days, now].
type StatsSnapshot struct {
	Days                 int       `json:"days"`
	Since                time.Time `json:"since"`
	TotalPlays           int       `json:"totalPlays"`
	UniqueTracks         int       `json:"uniqueTracks"`
	UniqueArtists        int       `json:"uniqueArtists"`
	TotalListeningTimeMs int64     `json:"totalListeningTimeMs"`
	TopTrack             string    `json:"topTrack,omitempty"`
	TopTrackCount        int       `json:"topTrackCount"`
	TopArtist            string    `json:"topArtist,omitempty"`
	TopArtistCount       int       `json:"topArtistCount"`
}

// ComputeStats aggregates the last days of history. It returns nil when the
// store cannot be queried. Artists are grouped by their joined artist string,
// so "A, B" and "A" are different artists.
func (s *Service) ComputeStats(ctx context.Context, days int) *StatsSnapshot {
	if days <= 0 {
		days = DefaultStatsDays
	}
	since := s.now().AddDate(0, 0, -days)

	events, ok := s.query(ctx, "stats", func(r Reader) ([]db.ListeningEvent, error) {
		return r.List(ctx, db.ListOptions{Start: &since})
	})
	if !ok {
		return nil
	}
	return summarize(events, days, since)
}

// summarize expects events newest first; ties for top track and top artist go
// to the key seen first in that order, i.e. the most recently played.
func summarize(events []db.ListeningEvent, days int, since time.Time) *StatsSnapshot {
	snap := &StatsSnapshot{
		Days:       days,
		Since:      since,
		TotalPlays: len(events),
	}

	tracks := make(map[string]struct{})
	artists := make(map[string]struct{})
	names := make([]string, len(events))
	artistKeys := make([]string, len(events))
	for i, e := range events {
		tracks[e.TrackID] = struct{}{}
		artists[e.TrackArtists] = struct{}{}
		snap.TotalListeningTimeMs += int64(e.DurationMs)
		names[i] = e.TrackName
		artistKeys[i] = e.TrackArtists
	}
	snap.UniqueTracks = len(tracks)
	snap.UniqueArtists = len(artists)
	snap.TopTrack, snap.TopTrackCount = mostFrequent(names)
	snap.TopArtist, snap.TopArtistCount = mostFrequent(artistKeys)
	return snap
}

// mostFrequent returns the key with the highest count. The maximum is
// replaced only on a strictly greater count while walking keys in
// first-seen order.
func mostFrequent(keys []string) (string, int) {
	counts := make(map[string]int, len(keys))
	var order []string
	for _, k := range keys {
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		counts[k]++
	}

	var top string
	var best int
	for _, k := range order {
		if counts[k] > best {
			top, best = k, counts[k]
		}
	}
	return top, best
}
