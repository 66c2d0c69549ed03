package playback

import (
	"context"
	"time"

	"github.com/osa030/tilawa/internal/domain/playlist"
)

// Output is one audio sink slot. Implementations must be safe for concurrent use.
type Output interface {
	// Load assigns a source and rewinds to its start. It must not block on the network;
	// implementations may begin buffering in the background.
	Load(url string)
	// Source returns the assigned source, or "" when unloaded.
	Source() string
	// Play starts or resumes the source. A finished source restarts from the beginning.
	// ctx bounds only the start; cancellation after Play returns has no effect.
	Play(ctx context.Context) error
	// Pause halts output and keeps the position.
	Pause()
	// Reset pauses and rewinds to the start.
	Reset()
	// Unload releases the source.
	Unload()
	Position() time.Duration
	// Paused reports whether the output is not producing sound.
	Paused() bool
	// OnEnded registers fn, called on natural completion of the source.
	// fn must not be called for sources that were reset or unloaded.
	OnEnded(fn func())
}

// Keepalive keeps the audio session alive between tracks.
type Keepalive interface {
	Initialize(ctx context.Context)
	StartTone()
	StopTone()
}

// Prefetcher is told whenever the active track changes.
type Prefetcher interface {
	Refresh(pl *playlist.Playlist, active int)
}
