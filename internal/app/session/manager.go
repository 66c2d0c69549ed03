// Package session provides the session manager.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/app/notification"
	"github.com/osa030/tilawa/internal/app/playback"
	"github.com/osa030/tilawa/internal/domain/chapter"
	"github.com/osa030/tilawa/internal/domain/narrator"
	"github.com/osa030/tilawa/internal/domain/playlist"
	"github.com/osa030/tilawa/internal/domain/track"
)

var (
	ErrUnknownChapter  = errors.New("unknown chapter")
	ErrUnknownNarrator = errors.New("unknown narrator")
)

// Metadata is the now-playing text for the active track.
type Metadata = notification.Metadata

// Selection is the user's choice of what to play.
// Zero Start or End select the first or last verse of the chapter.
type Selection struct {
	Chapter  int    `yaml:"chapter" json:"chapter"`
	Start    int    `yaml:"start" json:"start"`
	End      int    `yaml:"end" json:"end"`
	Narrator string `yaml:"narrator" json:"narrator"`
	Repeat   bool   `yaml:"repeat" json:"repeat"`
}

// Catalog looks chapters up by number.
type Catalog interface {
	Get(number int) (chapter.Chapter, error)
}

// Narrators looks narrators up by ID.
type Narrators interface {
	Get(id string) (narrator.Narrator, error)
}

// Player is the playback surface the session drives.
type Player interface {
	LoadPlaylist(pl *playlist.Playlist) error
	Events() <-chan playback.Event
	Snapshot() playback.Snapshot
	Close()
}

// Notifier broadcasts session notifications.
type Notifier interface {
	Broadcast(n notification.Notification)
}

// NowPlaying is the environment's now-playing display.
type NowPlaying interface {
	Publish(md Metadata)
	// Transient shows a short-lived message such as a failed play.
	Transient(message string)
}

// Deps holds the session collaborators. Notifier and NowPlaying are optional.
type Deps struct {
	Catalog    Catalog
	Narrators  Narrators
	Builder    *playlist.Builder
	Player     Player
	Notifier   Notifier
	NowPlaying NowPlaying

	// FailureMessage prefixes playback failure notices. Defaults to "playback failed".
	FailureMessage string
}

// Status is the session state exposed to control surfaces.
type Status struct {
	Selection  Selection         `json:"selection"`
	Chapter    chapter.Chapter   `json:"chapter"`
	Narrator   narrator.Narrator `json:"narrator"`
	NowPlaying Metadata          `json:"now_playing"`
	Playback   playback.Snapshot `json:"-"`
}

// Manager ties a selection to the playback controller and fans its events out.
type Manager struct {
	mu sync.RWMutex

	deps Deps

	selection  Selection
	chapter    chapter.Chapter
	narrator   narrator.Narrator
	playlist   *playlist.Playlist
	nowPlaying Metadata

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewManager creates a new session manager.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Catalog == nil || deps.Narrators == nil || deps.Builder == nil || deps.Player == nil {
		return nil, errors.New("session: catalog, narrators, builder and player are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// Build resolves sel and builds its playlist without loading it.
// Zero Start or End are filled in from the chapter.
func Build(catalog Catalog, narrators Narrators, b *playlist.Builder, sel Selection) (*playlist.Playlist, Selection, error) {
	ch, err := catalog.Get(sel.Chapter)
	if err != nil {
		return nil, sel, errors.Mark(errors.Wrapf(err, "chapter %d", sel.Chapter), ErrUnknownChapter)
	}
	n, err := narrators.Get(sel.Narrator)
	if err != nil {
		return nil, sel, errors.Mark(errors.Wrapf(err, "narrator %q", sel.Narrator), ErrUnknownNarrator)
	}
	if sel.Start == 0 {
		sel.Start = 1
	}
	if sel.End == 0 {
		sel.End = ch.VerseCount
	}

	pl, err := b.Build(ch, playlist.Range{Start: sel.Start, End: sel.End}, n, sel.Repeat)
	if err != nil {
		return nil, sel, errors.Wrap(err, "failed to build playlist")
	}
	return pl, sel, nil
}

// Select resolves sel, builds its playlist and loads it into the player.
// Nothing is committed when resolution or building fails.
func (m *Manager) Select(sel Selection) error {
	pl, sel, err := Build(m.deps.Catalog, m.deps.Narrators, m.deps.Builder, sel)
	if err != nil {
		return err
	}
	ch, n := pl.Chapter, pl.Narrator

	// Commit before loading so the first TrackChanged is described with the new chapter.
	m.mu.Lock()
	prevSel, prevCh, prevN, prevPl := m.selection, m.chapter, m.narrator, m.playlist
	m.selection, m.chapter, m.narrator, m.playlist = sel, ch, n, pl
	m.mu.Unlock()

	if err := m.deps.Player.LoadPlaylist(pl); err != nil {
		m.mu.Lock()
		m.selection, m.chapter, m.narrator, m.playlist = prevSel, prevCh, prevN, prevPl
		m.mu.Unlock()
		return errors.Wrap(err, "failed to load playlist")
	}

	zlog.Info().Msgf("session: selected: chapter=%d range=%d-%d narrator=%s repeat=%t",
		ch.Number, sel.Start, sel.End, n.ID, sel.Repeat)
	m.broadcast(notification.Notification{
		Type:    notification.TypePlaylistLoaded,
		State:   m.deps.Player.Snapshot().State.String(),
		Message: fmt.Sprintf("%s %d-%d (%s)", ch.Name, sel.Start, sel.End, n.Name),
	})
	return nil
}

// Selection returns the current selection.
func (m *Manager) Selection() Selection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selection
}

// Playlist returns the current playlist, or nil before the first Select.
func (m *Manager) Playlist() *playlist.Playlist {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.playlist
}

// Status returns the selection, now-playing text and playback snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := Status{
		Selection:  m.selection,
		Chapter:    m.chapter,
		Narrator:   m.narrator,
		NowPlaying: m.nowPlaying,
	}
	m.mu.RUnlock()
	st.Playback = m.deps.Player.Snapshot()
	return st
}

// Start runs the event loop. It returns immediately.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go func() {
		defer close(m.done)
		m.eventLoop()
	}()
}

// Done is closed when the event loop exits.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close stops the event loop and closes the player.
func (m *Manager) Close() {
	m.cancel()
	m.deps.Player.Close()
}

// eventLoop handles playback events until the context ends or the player closes.
func (m *Manager) eventLoop() {
	for !m.runEvents() {
		zlog.Info().Msg("session: restarting event loop")
	}
}

// runEvents reports true when the loop ended normally and false after a panic.
func (m *Manager) runEvents() (finished bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("session: event loop panicked: %v", r)
			finished = false
		}
	}()

	events := m.deps.Player.Events()
	for {
		select {
		case <-m.ctx.Done():
			return true
		case e, ok := <-events:
			if !ok {
				return true
			}
			m.handleEvent(e)
		}
	}
}

func (m *Manager) handleEvent(e playback.Event) {
	zlog.Debug().Msgf("session: playback event: type=%s index=%d state=%s", e.Type, e.Index, e.State)

	switch e.Type {
	case playback.EventTrackChanged:
		m.onTrackChanged(e)

	case playback.EventStateChanged:
		m.broadcast(notification.Notification{
			Type:       notification.TypeStateChanged,
			State:      e.State.String(),
			NowPlaying: m.currentMetadata(),
			Index:      e.Index,
		})

	case playback.EventPlaybackFailed:
		msg := m.deps.FailureMessage
		if msg == "" {
			msg = "playback failed"
		}
		if e.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
		if m.deps.NowPlaying != nil {
			m.deps.NowPlaying.Transient(msg)
		}
		m.broadcast(notification.Notification{
			Type:       notification.TypePlaybackFailed,
			State:      e.State.String(),
			NowPlaying: m.currentMetadata(),
			Index:      e.Index,
			Message:    msg,
		})

	case playback.EventPlaylistFinished:
		m.broadcast(notification.Notification{
			Type:       notification.TypePlaylistFinished,
			State:      e.State.String(),
			NowPlaying: m.currentMetadata(),
			Index:      e.Index,
		})
	}
}

// onTrackChanged ignores events still buffered from a replaced playlist.
func (m *Manager) onTrackChanged(e playback.Event) {
	m.mu.Lock()
	if e.Playlist != nil && e.Playlist != m.playlist {
		m.mu.Unlock()
		zlog.Debug().Msgf("session: stale track event dropped: track=%s", e.Track.ID)
		return
	}
	md := Describe(m.chapter, m.narrator, e.Track)
	m.nowPlaying = md
	m.mu.Unlock()

	if m.deps.NowPlaying != nil {
		m.deps.NowPlaying.Publish(md)
	}
	m.broadcast(notification.Notification{
		Type:       notification.TypeTrackChanged,
		State:      e.State.String(),
		NowPlaying: md,
		Index:      e.Index,
	})
}

func (m *Manager) currentMetadata() Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nowPlaying
}

func (m *Manager) broadcast(n notification.Notification) {
	if m.deps.Notifier != nil {
		m.deps.Notifier.Broadcast(n)
	}
}

// Describe returns the now-playing text for d.
// Verses read "<chapter name> <chapter>:<verse>"; the repeat chime reads "<chapter name> (repeat)".
func Describe(ch chapter.Chapter, n narrator.Narrator, d track.Descriptor) Metadata {
	md := Metadata{Subtitle: n.Name}
	if d.IsChime() {
		md.Title = fmt.Sprintf("%s (repeat)", ch.Name)
		return md
	}
	md.Title = fmt.Sprintf("%s %d:%d", ch.Name, d.Chapter, d.Verse)
	return md
}
