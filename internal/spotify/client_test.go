package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/zmb3/spotify/v2"
)

const recentlyPlayedBody = `{
  "items": [
    {
      "track": {
        "id": "t2",
        "name": "Second Song",
        "uri": "spotify:track:t2",
        "duration_ms": 201000,
        "artists": [{"id": "a1", "name": "Artist A"}, {"id": "a2", "name": "Artist B"}],
        "album": {"id": "al1", "name": "Album", "images": [{"url": "https://i.scdn.co/640"}, {"url": "https://i.scdn.co/64"}]}
      },
      "played_at": "2025-03-01T12:02:00.000Z",
      "context": {"type": "playlist", "uri": "spotify:playlist:p1"}
    },
    {
      "track": {
        "id": "t1",
        "name": "First Song",
        "uri": "spotify:track:t1",
        "duration_ms": 180000,
        "artists": [{"id": "a3", "name": "Solo"}],
        "album": {"id": "al2", "name": "Single", "images": []}
      },
      "played_at": "2025-03-01T12:00:00.000Z",
      "context": null
    }
  ],
  "limit": 2
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := spotify.New(srv.Client(), spotify.WithBaseURL(srv.URL+"/"))
	return New(api, opts...)
}

func TestFetchRecentPlays(t *testing.T) {
	var gotPath, gotLimit string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(recentlyPlayedBody))
	})

	plays, err := client.FetchRecentPlays(context.Background(), 2)
	if err != nil {
		t.Fatalf("FetchRecentPlays() error = %v", err)
	}
	if gotPath != "/me/player/recently-played" {
		t.Errorf("path = %q, want /me/player/recently-played", gotPath)
	}
	if gotLimit != "2" {
		t.Errorf("limit = %q, want 2", gotLimit)
	}
	if len(plays) != 2 {
		t.Fatalf("len(plays) = %d, want 2", len(plays))
	}

	first := plays[0]
	if first.TrackID != "t2" || first.TrackName != "Second Song" || first.TrackURI != "spotify:track:t2" {
		t.Errorf("plays[0] track = %+v", first)
	}
	if len(first.Artists) != 2 || first.Artists[1].ID != "a2" || first.Artists[1].Name != "Artist B" {
		t.Errorf("plays[0].Artists = %+v", first.Artists)
	}
	if first.DurationMs != 201000 {
		t.Errorf("DurationMs = %d, want 201000", first.DurationMs)
	}
	if len(first.AlbumImages) != 2 || first.AlbumImages[0] != "https://i.scdn.co/640" {
		t.Errorf("AlbumImages = %v", first.AlbumImages)
	}
	if first.ContextType != "playlist" || first.ContextURI != "spotify:playlist:p1" {
		t.Errorf("context = %q %q", first.ContextType, first.ContextURI)
	}
	want := time.Date(2025, 3, 1, 12, 2, 0, 0, time.UTC)
	if !first.PlayedAt.Equal(want) {
		t.Errorf("PlayedAt = %v, want %v", first.PlayedAt, want)
	}

	second := plays[1]
	if len(second.AlbumImages) != 0 || second.ContextType != "" {
		t.Errorf("plays[1] = %+v, want no images and no context", second)
	}
}

func TestFetchRecentPlays_ClampsLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  string
	}{
		{"zero", 0, "50"},
		{"too large", 200, "50"},
		{"in range", 10, "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				got = r.URL.Query().Get("limit")
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"items": []}`))
			})

			if _, err := client.FetchRecentPlays(context.Background(), tt.limit); err != nil {
				t.Fatalf("FetchRecentPlays() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("limit = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchRecentPlays_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"status": 500, "message": "boom"}}`))
	}, WithRateLimit(0, 0), WithBreaker(2, time.Hour))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.FetchRecentPlays(ctx, 50)
		if err == nil {
			t.Fatalf("call %d: error = nil, want server error", i)
		}
		if errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: breaker open too early", i)
		}
	}

	_, err := client.FetchRecentPlays(ctx, 50)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("third call error = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
	if client.BreakerState() != gobreaker.StateOpen {
		t.Errorf("BreakerState() = %v, want open", client.BreakerState())
	}
}

func TestFetchRecentPlays_RateLimited(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": []}`))
	}, WithRateLimit(0.001, 1))

	if _, err := client.FetchRecentPlays(context.Background(), 50); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.FetchRecentPlays(ctx, 50); err == nil {
		t.Fatal("second call error = nil, want rate limiter error")
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestConvertRecentlyPlayed(t *testing.T) {
	playedAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name            string
		item            spotify.RecentlyPlayedItem
		expectedArtists int
		expectedImages  int
	}{
		{
			name: "single artist with art",
			item: spotify.RecentlyPlayedItem{
				Track: spotify.SimpleTrack{
					ID:      "track123",
					Name:    "Test Song",
					Artists: []spotify.SimpleArtist{{ID: "a1", Name: "Artist One"}},
					Album: spotify.SimpleAlbum{
						ID:     "album1",
						Name:   "Album",
						Images: []spotify.Image{{URL: "https://i.scdn.co/1"}},
					},
				},
				PlayedAt: playedAt,
			},
			expectedArtists: 1,
			expectedImages:  1,
		},
		{
			name: "no artists",
			item: spotify.RecentlyPlayedItem{
				Track:    spotify.SimpleTrack{ID: "track789", Name: "Instrumental"},
				PlayedAt: playedAt,
			},
			expectedArtists: 0,
			expectedImages:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertRecentlyPlayed(tt.item)
			if got.TrackID != tt.item.Track.ID.String() {
				t.Errorf("TrackID = %q, want %q", got.TrackID, tt.item.Track.ID)
			}
			if len(got.Artists) != tt.expectedArtists {
				t.Errorf("len(Artists) = %d, want %d", len(got.Artists), tt.expectedArtists)
			}
			if len(got.AlbumImages) != tt.expectedImages {
				t.Errorf("len(AlbumImages) = %d, want %d", len(got.AlbumImages), tt.expectedImages)
			}
			if got.PlayedAt.Location() != time.UTC || !got.PlayedAt.Equal(playedAt) {
				t.Errorf("PlayedAt = %v, want %v in UTC", got.PlayedAt, playedAt)
			}
		})
	}
}
