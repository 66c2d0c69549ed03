package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/domain/playlist"
	"github.com/osa030/tilawa/internal/domain/track"
)

// Errors
var (
	ErrEmptyPlaylist  = errors.New("nothing to play")
	ErrPlaybackFailed = errors.New("playback failed")
	ErrSuperseded     = errors.New("play request superseded")
	ErrTrackNotFound  = errors.New("track not in playlist")
	ErrNoNextTrack    = errors.New("no next track")
	ErrNotPlaying     = errors.New("not playing")
	ErrClosed         = errors.New("controller closed")
)

// Config holds controller configuration.
type Config struct {
	Strategy    Strategy
	Keepalive   Keepalive  // Optional
	Prefetcher  Prefetcher // Optional
	EventBuffer int        // Event channel capacity
}

// Snapshot is a consistent view of the session taken after the last transition.
type Snapshot struct {
	State         State
	Strategy      Strategy
	Index         int
	Track         track.Descriptor
	Tracks        int
	ActiveSlot    int
	PendingSource string // Source held by the idle slot (double-buffered only)
	PlayInFlight  bool
	Position      time.Duration
	LastError     error
}

// playRequest is one asynchronous Output.Play call.
type playRequest struct {
	gen    uint64
	slot   int
	url    string
	swap   bool // Started by a double-buffered swap
	cancel context.CancelFunc
	reply  chan error // nil for internally issued plays
}

type command func()

// Controller drives playback from a single event loop goroutine.
// Public methods post commands to the loop; output signals and async
// play results are delivered the same way, so transitions never race.
type Controller struct {
	strategy  Strategy
	slots     []Output
	keepalive Keepalive
	prefetch  Prefetcher

	inbox   chan command
	eventCh chan Event

	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	pl       *playlist.Playlist
	index    int
	active   int
	state    State
	gen      uint64
	inflight *playRequest
	lastErr  error

	snapMu sync.RWMutex
	snap   Snapshot
}

// NewController creates a controller over the given outputs and starts its loop.
// The double-buffered strategy needs two outputs, the single strategy one.
func NewController(cfg Config, outputs ...Output) (*Controller, error) {
	need := cfg.Strategy.Outputs()
	if len(outputs) < need {
		return nil, errors.Newf("%s strategy needs %d outputs, got %d", cfg.Strategy, need, len(outputs))
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 32
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		strategy:  cfg.Strategy,
		slots:     outputs[:need],
		keepalive: cfg.Keepalive,
		prefetch:  cfg.Prefetcher,
		inbox:     make(chan command, 64),
		eventCh:   make(chan Event, buffer),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
		state:     StateIdle,
	}

	for slot, out := range c.slots {
		out.OnEnded(func() {
			src := out.Source()
			c.post(func() { c.onEnded(slot, src) })
		})
	}

	c.publish()
	go c.run()
	return c, nil
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Snapshot returns the session state after the most recent transition.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	snap := c.snap
	c.snapMu.RUnlock()

	if snap.State != StateIdle {
		snap.Position = c.slots[snap.ActiveSlot].Position()
	}
	return snap
}

// LoadPlaylist replaces the playlist and selects index 0.
// An empty playlist leaves the controller idle and returns ErrEmptyPlaylist.
func (c *Controller) LoadPlaylist(pl *playlist.Playlist) error {
	return c.call(func() error {
		c.abandonInflight(ErrSuperseded)
		c.stopAll()
		c.stopTone()
		c.lastErr = nil
		c.index = 0
		c.active = 0

		if pl.Empty() {
			c.pl = nil
			c.setState(StateIdle)
			return ErrEmptyPlaylist
		}

		c.pl = pl
		c.slots[c.active].Load(pl.Tracks[0].URL)
		c.setState(StateLoaded)
		c.emit(EventTrackChanged, nil)
		c.refreshPrefetch()

		zlog.Debug().Msgf("playback: playlist loaded: tracks=%d repeat=%t", pl.Len(), pl.Repeat)
		return nil
	})
}

// Play resumes the active track. Returns once the output has started or failed.
func (c *Controller) Play(ctx context.Context) error {
	return c.submitPlay(func(reply chan error) {
		if c.pl.Empty() {
			reply <- ErrEmptyPlaylist
			return
		}
		if c.state == StatePlaying && c.inflight == nil && !c.slots[c.active].Paused() {
			reply <- nil
			return
		}
		c.startPlay(ctx, reply, false)
	})
}

// PlayIndex stops the outputs, selects index i and plays it.
func (c *Controller) PlayIndex(ctx context.Context, i int) error {
	return c.submitPlay(func(reply chan error) {
		if c.pl.Empty() {
			reply <- ErrEmptyPlaylist
			return
		}
		if i < 0 || i >= c.pl.Len() {
			reply <- errors.Wrapf(ErrTrackNotFound, "index %d", i)
			return
		}
		c.jump(ctx, reply, i)
	})
}

// JumpTo stops the outputs, selects the track with the given ID and plays it.
// A pending preload is discarded, never swapped in.
func (c *Controller) JumpTo(ctx context.Context, id track.ID) error {
	return c.submitPlay(func(reply chan error) {
		if c.pl.Empty() {
			reply <- ErrEmptyPlaylist
			return
		}
		i := c.pl.IndexOf(id)
		if i < 0 {
			reply <- errors.Wrapf(ErrTrackNotFound, "%s", id)
			return
		}
		c.jump(ctx, reply, i)
	})
}

// Restart stops the outputs and plays from index 0.
func (c *Controller) Restart(ctx context.Context) error {
	return c.PlayIndex(ctx, 0)
}

// Next moves to the following track, reusing a matching preload.
func (c *Controller) Next(ctx context.Context) error {
	return c.submitPlay(func(reply chan error) {
		if c.pl.Empty() {
			reply <- ErrEmptyPlaylist
			return
		}
		next, ok := c.pl.NextIndex(c.index)
		if !ok {
			reply <- ErrNoNextTrack
			return
		}
		c.abandonInflight(ErrSuperseded)
		swapped := c.moveTo(next)
		c.startPlay(ctx, reply, swapped)
	})
}

// Previous moves to the preceding track, or restarts the first one.
func (c *Controller) Previous(ctx context.Context) error {
	return c.submitPlay(func(reply chan error) {
		if c.pl.Empty() {
			reply <- ErrEmptyPlaylist
			return
		}
		c.jump(ctx, reply, c.pl.PreviousIndex(c.index))
	})
}

// Pause pauses the active output without rewinding it.
func (c *Controller) Pause() error {
	return c.call(func() error {
		if c.pl.Empty() {
			return ErrEmptyPlaylist
		}
		if c.state != StatePlaying {
			return ErrNotPlaying
		}

		swapping := c.inflight != nil && c.inflight.swap
		c.abandonInflight(ErrSuperseded)
		c.slots[c.active].Pause()
		c.setState(StatePaused)
		if !swapping {
			c.stopTone()
		}
		return nil
	})
}

// Stop rewinds and unloads every output and returns to Loaded.
func (c *Controller) Stop() error {
	return c.call(func() error {
		if c.pl.Empty() {
			return ErrEmptyPlaylist
		}
		c.abandonInflight(ErrSuperseded)
		c.stopAll()
		c.stopTone()
		c.setState(StateLoaded)
		return nil
	})
}

// Foreground re-issues play when the session is playing but the environment
// paused the active output. It reports whether play was re-issued.
func (c *Controller) Foreground() (bool, error) {
	var resumed bool
	err := c.call(func() error {
		if c.pl.Empty() {
			return ErrEmptyPlaylist
		}
		if c.state != StatePlaying || c.inflight != nil || !c.slots[c.active].Paused() {
			return nil
		}
		zlog.Info().Msg("playback: output paused externally, resuming")
		c.startPlay(c.ctx, nil, false)
		resumed = true
		return nil
	})
	return resumed, err
}

// Close stops the loop, silences all outputs and closes the event channel.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.stopped
		close(c.eventCh)
	})
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.ctx.Done():
			c.abandonInflight(ErrClosed)
			c.stopAll()
			c.stopTone()
			c.publish()
			return
		case cmd := <-c.inbox:
			cmd()
			c.publish()
		}
	}
}

// post queues cmd on the loop. It reports false once the controller is closed.
func (c *Controller) post(cmd command) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.inbox <- cmd:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (c *Controller) call(fn func() error) error {
	done := make(chan error, 1)
	if !c.post(func() { done <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-c.stopped:
		return ErrClosed
	}
}

// submitPlay runs fn on the loop and waits until the play it issues resolves.
// fn either writes an immediate result to reply or hands reply to startPlay.
func (c *Controller) submitPlay(fn func(reply chan error)) error {
	reply := make(chan error, 1)
	if !c.post(func() { fn(reply) }) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.stopped:
		return ErrClosed
	}
}

// jump stops everything and plays index i from the active slot.
func (c *Controller) jump(ctx context.Context, reply chan error, i int) {
	c.abandonInflight(ErrSuperseded)
	c.stopAll()
	changed := c.index != i
	c.index = i
	if changed {
		c.emit(EventTrackChanged, nil)
	}
	c.startPlay(ctx, reply, false)
}

// moveTo makes next the active index. With double buffering, an idle slot
// already holding next's source becomes active without being reloaded.
func (c *Controller) moveTo(next int) bool {
	url := c.pl.Tracks[next].URL
	prev := c.slots[c.active]
	prev.Reset()

	swapped := false
	if c.strategy == StrategyDoubleBuffered {
		idle := 1 - c.active
		if c.slots[idle].Source() == url {
			c.active = idle
			swapped = true
		}
	}

	c.index = next
	c.emit(EventTrackChanged, nil)
	zlog.Debug().Msgf("playback: active track: index=%d slot=%d swapped=%t", c.index, c.active, swapped)
	return swapped
}

// startPlay issues an asynchronous play of the active track on the active slot.
// Any in-flight request is abandoned; the newest request wins.
func (c *Controller) startPlay(parent context.Context, reply chan error, swap bool) {
	c.abandonInflight(ErrSuperseded)

	d := c.pl.Tracks[c.index]
	out := c.slots[c.active]
	if out.Source() != d.URL {
		out.Load(d.URL)
	}

	playCtx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(c.ctx, cancel)

	c.gen++
	req := &playRequest{
		gen:  c.gen,
		slot: c.active,
		url:  d.URL,
		swap: swap,
		cancel: func() {
			stop()
			cancel()
		},
		reply: reply,
	}
	c.inflight = req
	c.setState(StatePlaying)

	go func() {
		if c.keepalive != nil {
			c.keepalive.Initialize(playCtx)
		}
		err := out.Play(playCtx)
		if !c.post(func() { c.onPlayResult(req, out, err) }) {
			req.cancel()
		}
	}()
}

func (c *Controller) onPlayResult(req *playRequest, out Output, err error) {
	defer req.cancel()

	if c.inflight != req {
		// Abandoned. A newer request on the active slot owns that output now;
		// anything else must be silenced.
		owned := c.state == StatePlaying && req.slot == c.active
		if err == nil && !owned {
			out.Pause()
		}
		if req.swap && c.state != StatePlaying {
			c.stopTone()
		}
		zlog.Debug().Msgf("playback: ignored stale play result: gen=%d current=%d err=%v", req.gen, c.gen, err)
		return
	}
	c.inflight = nil

	if err != nil {
		c.lastErr = errors.Mark(errors.Wrapf(err, "play %s", req.url), ErrPlaybackFailed)
		out.Pause()
		c.setState(StatePaused)
		c.stopTone()
		c.emit(EventPlaybackFailed, c.lastErr)
		zlog.Warn().Err(err).Msgf("playback: play failed: url=%s", req.url)
		c.respond(req, c.lastErr)
		return
	}

	c.lastErr = nil
	if c.keepalive != nil {
		c.keepalive.StartTone()
	}
	c.preloadNext()
	c.refreshPrefetch()
	c.respond(req, nil)
}

// onEnded handles natural completion of a slot's source.
func (c *Controller) onEnded(slot int, src string) {
	if c.pl.Empty() || c.state != StatePlaying || c.inflight != nil || slot != c.active {
		return
	}
	if src != c.pl.Tracks[c.index].URL {
		return
	}
	c.advance()
}

// advance moves past the active track after it ended.
func (c *Controller) advance() {
	next, ok := c.pl.NextIndex(c.index)
	if !ok {
		c.setState(StatePaused)
		c.stopTone()
		c.emit(EventPlaylistFinished, nil)
		zlog.Debug().Msg("playback: playlist finished")
		return
	}
	swapped := c.moveTo(next)
	c.startPlay(c.ctx, nil, swapped)
}

// preloadNext loads the track after the active one into the idle slot.
func (c *Controller) preloadNext() {
	if c.strategy != StrategyDoubleBuffered {
		return
	}
	next, ok := c.pl.NextIndex(c.index)
	if !ok || next == c.index {
		return
	}
	url := c.pl.Tracks[next].URL
	idle := c.slots[1-c.active]
	if idle.Source() != url {
		idle.Load(url)
	}
}

func (c *Controller) refreshPrefetch() {
	if c.prefetch != nil {
		c.prefetch.Refresh(c.pl, c.index)
	}
}

func (c *Controller) abandonInflight(reason error) {
	req := c.inflight
	if req == nil {
		return
	}
	c.inflight = nil
	req.cancel()
	c.respond(req, reason)
}

func (c *Controller) respond(req *playRequest, err error) {
	if req.reply == nil {
		return
	}
	req.reply <- err
	req.reply = nil
}

func (c *Controller) stopAll() {
	for _, out := range c.slots {
		out.Reset()
		out.Unload()
	}
}

func (c *Controller) stopTone() {
	if c.keepalive != nil {
		c.keepalive.StopTone()
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.emit(EventStateChanged, nil)
}

func (c *Controller) currentTrack() track.Descriptor {
	if d, ok := c.pl.At(c.index); ok {
		return d
	}
	return track.Descriptor{}
}

// emit sends an event without blocking. Events are dropped when the buffer is full.
func (c *Controller) emit(t EventType, err error) {
	e := Event{
		Type:     t,
		Index:    c.index,
		Track:    c.currentTrack(),
		State:    c.state,
		Err:      err,
		Playlist: c.pl,
	}
	select {
	case c.eventCh <- e:
	default:
		zlog.Debug().Msgf("playback: event dropped: type=%s", t)
	}
}

func (c *Controller) publish() {
	snap := Snapshot{
		State:        c.state,
		Strategy:     c.strategy,
		Index:        c.index,
		Track:        c.currentTrack(),
		Tracks:       c.pl.Len(),
		ActiveSlot:   c.active,
		PlayInFlight: c.inflight != nil,
		LastError:    c.lastErr,
	}
	if c.strategy == StrategyDoubleBuffered {
		snap.PendingSource = c.slots[1-c.active].Source()
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
}
