package db

import "time"

// DefaultCursorID identifies the singleton sync cursor row.
const DefaultCursorID = "default"

// ListeningEvent is one play of one track. (TrackID, PlayedAt) is unique.
type ListeningEvent struct {
	ID             int64
	TrackID        string
	TrackURI       string
	TrackName      string
	TrackArtists   string // Comma-joined artist names, the grouping key for "artist"
	TrackArtistIDs string // Comma-joined artist IDs, same order as TrackArtists
	AlbumName      string
	AlbumID        string
	AlbumImageURL  *string // nullable
	DurationMs     int
	ContextType    *string // nullable
	ContextURI     *string // nullable
	PlayedAt       time.Time
	SyncedAt       time.Time
	CreatedAt      time.Time
}

// SyncCursor is the high-water mark of ingested plays.
type SyncCursor struct {
	ID                string
	LastPlayedAt      *time.Time // nil until the first successful sync
	LastSyncAt        time.Time
	TotalTracksSynced int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ListOptions filters and pages a history listing.
type ListOptions struct {
	Limit  int // 0 means no limit
	Offset int
	Start  *time.Time // inclusive
	End    *time.Time // inclusive
}
