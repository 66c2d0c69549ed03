package connect

import (
	"github.com/osa030/tilawa/internal/app/notification"
	"github.com/osa030/tilawa/internal/app/session"
)

// GetStatusRequest is empty.
type GetStatusRequest struct{}

// StatusResponse describes the current session.
type StatusResponse struct {
	State        string                `json:"state"`
	Strategy     string                `json:"strategy"`
	Selection    session.Selection     `json:"selection"`
	ChapterName  string                `json:"chapter_name"`
	NarratorName string                `json:"narrator_name"`
	NowPlaying   notification.Metadata `json:"now_playing"`
	Index        int                   `json:"index"`
	Tracks       int                   `json:"tracks"`
	TrackID      string                `json:"track_id"`
	PositionMs   int64                 `json:"position_ms"`
	PlayInFlight bool                  `json:"play_in_flight"`
	LastError    string                `json:"last_error,omitempty"`
}

// GetPlaylistRequest is empty.
type GetPlaylistRequest struct{}

// TrackResponse is one playlist entry.
type TrackResponse struct {
	Index   int    `json:"index"`
	ID      string `json:"id"`
	Chapter int    `json:"chapter,omitempty"`
	Verse   int    `json:"verse,omitempty"`
	URL     string `json:"url"`
	Chime   bool   `json:"chime,omitempty"`
	Active  bool   `json:"active,omitempty"`
	Cached  bool   `json:"cached,omitempty"` // Audio already in the local cache
}

// PlaylistResponse lists the playlist tracks.
type PlaylistResponse struct {
	Repeat bool            `json:"repeat"`
	Tracks []TrackResponse `json:"tracks"`
}

// WatchEventsRequest is empty.
type WatchEventsRequest struct{}

// TransportRequest names a transport action such as "play" or "next".
type TransportRequest struct {
	Action string `json:"action"`
}

// JumpRequest selects a verse of the current chapter.
type JumpRequest struct {
	Verse int `json:"verse"`
}

// ActionResponse is returned by every control procedure.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
