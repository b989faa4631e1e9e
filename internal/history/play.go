package history

import (
	"strings"
	"time"

	"github.com/justestif/go-spotify-history/internal/db"
)

// Artist is one credited artist of a play.
type Artist struct {
	ID   string
	Name string
}

// Play is one item of the source's recently-played page.
type Play struct {
	TrackID     string
	TrackURI    string
	TrackName   string
	Artists     []Artist // ordered as credited
	AlbumName   string
	AlbumID     string
	AlbumImages []string // image URLs, largest first
	DurationMs  int
	ContextType string // empty when the play had no playback context
	ContextURI  string
	PlayedAt    time.Time
}

// toListeningEvent flattens a play into a storable event.
func toListeningEvent(p Play, syncedAt time.Time) db.ListeningEvent {
	names := make([]string, len(p.Artists))
	ids := make([]string, len(p.Artists))
	for i, a := range p.Artists {
		names[i] = a.Name
		ids[i] = a.ID
	}

	var image *string
	if len(p.AlbumImages) > 0 {
		u := p.AlbumImages[0]
		image = &u
	}

	return db.ListeningEvent{
		TrackID:        p.TrackID,
		TrackURI:       p.TrackURI,
		TrackName:      p.TrackName,
		TrackArtists:   strings.Join(names, ", "),
		TrackArtistIDs: strings.Join(ids, ", "),
		AlbumName:      p.AlbumName,
		AlbumID:        p.AlbumID,
		AlbumImageURL:  image,
		DurationMs:     p.DurationMs,
		ContextType:    optional(p.ContextType),
		ContextURI:     optional(p.ContextURI),
		PlayedAt:       p.PlayedAt,
		SyncedAt:       syncedAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
