package spotify

import (
	"context"
	"errors"
	"fmt"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/zmb3/spotify/v2"

	"github.com/justestif/go-spotify-history/internal/history"
	"github.com/justestif/go-spotify-history/internal/metrics"
)

// MaxRecentPlays is the largest page the recently-played endpoint returns.
// There is no way to page further back.
const MaxRecentPlays = 50

// FetchRecentPlays returns the user's most recent plays, most-recent-first.
// limit is clamped to 1..MaxRecentPlays.
func (c *Client) FetchRecentPlays(ctx context.Context, limit int) ([]history.Play, error) {
	if limit <= 0 || limit > MaxRecentPlays {
		limit = MaxRecentPlays
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	items, err := c.breaker.Execute(func() ([]spotify.RecentlyPlayedItem, error) {
		return c.api.PlayerRecentlyPlayedOpt(ctx, &spotify.RecentlyPlayedOptions{Limit: spotify.Numeric(limit)})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.SourceRequests.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}
		metrics.SourceRequests.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("fetching recently played: %w", err)
	}
	metrics.SourceRequests.WithLabelValues("success").Inc()

	plays := make([]history.Play, len(items))
	for i, item := range items {
		plays[i] = convertRecentlyPlayed(item)
	}
	return plays, nil
}

// convertRecentlyPlayed converts a Spotify recently-played item to a history.Play.
func convertRecentlyPlayed(item spotify.RecentlyPlayedItem) history.Play {
	track := item.Track

	artists := make([]history.Artist, len(track.Artists))
	for i, a := range track.Artists {
		artists[i] = history.Artist{ID: a.ID.String(), Name: a.Name}
	}

	images := make([]string, 0, len(track.Album.Images))
	for _, img := range track.Album.Images {
		images = append(images, img.URL)
	}

	return history.Play{
		TrackID:     track.ID.String(),
		TrackURI:    string(track.URI),
		TrackName:   track.Name,
		Artists:     artists,
		AlbumName:   track.Album.Name,
		AlbumID:     track.Album.ID.String(),
		AlbumImages: images,
		DurationMs:  int(track.Duration),
		ContextType: item.PlaybackContext.Type,
		ContextURI:  string(item.PlaybackContext.URI),
		PlayedAt:    item.PlayedAt.UTC(),
	}
}
