package playback

import (
	"github.com/osa030/tilawa/internal/domain/playlist"
	"github.com/osa030/tilawa/internal/domain/track"
)

// EventType represents a playback event type.
type EventType int

const (
	EventTrackChanged     EventType = iota // Active track index changed
	EventStateChanged                      // Playback state changed
	EventPlaybackFailed                    // Output rejected a play request
	EventPlaylistFinished                  // Last track ended without repeat
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackChanged:
		return "track_changed"
	case EventStateChanged:
		return "state_changed"
	case EventPlaybackFailed:
		return "playback_failed"
	case EventPlaylistFinished:
		return "playlist_finished"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type     EventType
	Index    int                // Active index when the event was emitted
	Track    track.Descriptor   // Active track (zero when idle)
	State    State              // Playback state after the transition
	Err      error              // Set for EventPlaybackFailed
	Playlist *playlist.Playlist // Playlist the index refers to
}
