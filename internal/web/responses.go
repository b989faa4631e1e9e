package web

import (
	"time"

	"github.com/justestif/go-spotify-history/internal/db"
)

type errorResponse struct {
	Error string `json:"error"`
}

type eventResponse struct {
	ID             int64     `json:"id"`
	TrackID        string    `json:"trackId"`
	TrackURI       string    `json:"trackUri"`
	TrackName      string    `json:"trackName"`
	TrackArtists   string    `json:"trackArtists"`
	TrackArtistIDs string    `json:"trackArtistIds"`
	AlbumName      string    `json:"albumName"`
	AlbumID        string    `json:"albumId"`
	AlbumImageURL  *string   `json:"albumImageUrl"`
	DurationMs     int       `json:"durationMs"`
	ContextType    *string   `json:"contextType"`
	ContextURI     *string   `json:"contextUri"`
	PlayedAt       time.Time `json:"playedAt"`
	SyncedAt       time.Time `json:"syncedAt"`
}

type dayGroupResponse struct {
	Day   string          `json:"day"`
	Plays []eventResponse `json:"plays"`
}

type cursorResponse struct {
	ID                string     `json:"id"`
	LastPlayedAt      *time.Time `json:"lastPlayedAt"`
	LastSyncAt        *time.Time `json:"lastSyncAt"`
	TotalTracksSynced int64      `json:"totalTracksSynced"`
}

func toEventResponses(events []db.ListeningEvent) []eventResponse {
	out := make([]eventResponse, len(events))
	for i, e := range events {
		out[i] = eventResponse{
			ID:             e.ID,
			TrackID:        e.TrackID,
			TrackURI:       e.TrackURI,
			TrackName:      e.TrackName,
			TrackArtists:   e.TrackArtists,
			TrackArtistIDs: e.TrackArtistIDs,
			AlbumName:      e.AlbumName,
			AlbumID:        e.AlbumID,
			AlbumImageURL:  e.AlbumImageURL,
			DurationMs:     e.DurationMs,
			ContextType:    e.ContextType,
			ContextURI:     e.ContextURI,
			PlayedAt:       e.PlayedAt,
			SyncedAt:       e.SyncedAt,
		}
	}
	return out
}

func toCursorResponse(c *db.SyncCursor) cursorResponse {
	resp := cursorResponse{
		ID:                c.ID,
		LastPlayedAt:      c.LastPlayedAt,
		TotalTracksSynced: c.TotalTracksSynced,
	}
	if !c.LastSyncAt.IsZero() {
		t := c.LastSyncAt
		resp.LastSyncAt = &t
	}
	return resp
}
