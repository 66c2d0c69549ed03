// Package nullout provides a headless output that plays each track as a timer.
package nullout

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/app/keepalive"
)

// ErrRejected is returned by Play when the output is configured to refuse playback.
var ErrRejected = errors.New("play rejected")

// Config holds null output configuration.
type Config struct {
	TrackDuration time.Duration `mapstructure:"track_duration"`
	StartDelay    time.Duration `mapstructure:"start_delay"`
	Reject        bool          `mapstructure:"reject"`
}

// DefaultTrackDuration is how long a track "plays" when unset.
const DefaultTrackDuration = 3 * time.Second

// Output simulates an audio element. Time only advances while playing.
type Output struct {
	cfg  Config
	name string

	mu       sync.Mutex
	source   string
	elapsed  time.Duration // Position at the last pause
	started  time.Time     // Zero when paused
	timer    *time.Timer
	gen      uint64
	onEnded  func()
	finished bool
}

// New creates a null output.
func New(cfg Config, name string) *Output {
	if cfg.TrackDuration <= 0 {
		cfg.TrackDuration = DefaultTrackDuration
	}
	return &Output{cfg: cfg, name: name}
}

// Load implements playback.Output.
func (o *Output) Load(url string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	o.source = url
	o.elapsed = 0
	o.finished = false
}

// Source implements playback.Output.
func (o *Output) Source() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.source
}

// Play implements playback.Output.
func (o *Output) Play(ctx context.Context) error {
	if o.cfg.StartDelay > 0 {
		select {
		case <-time.After(o.cfg.StartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.source == "" {
		return errors.New("no source loaded")
	}
	if o.cfg.Reject {
		return errors.Wrapf(ErrRejected, "output %s", o.name)
	}
	if !o.started.IsZero() {
		return nil
	}
	if o.finished {
		o.elapsed = 0
		o.finished = false
	}

	o.gen++
	gen := o.gen
	o.started = time.Now()
	o.timer = time.AfterFunc(o.cfg.TrackDuration-o.elapsed, func() { o.end(gen) })
	zlog.Debug().Msgf("nullout: playing: output=%s url=%s at=%s", o.name, o.source, o.elapsed)
	return nil
}

func (o *Output) end(gen uint64) {
	o.mu.Lock()
	if o.gen != gen || o.started.IsZero() {
		o.mu.Unlock()
		return
	}
	o.started = time.Time{}
	o.timer = nil
	o.elapsed = o.cfg.TrackDuration
	o.finished = true
	fn := o.onEnded
	o.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Pause implements playback.Output.
func (o *Output) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started.IsZero() {
		return
	}
	o.elapsed += time.Since(o.started)
	o.stopLocked()
}

// Reset implements playback.Output.
func (o *Output) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	o.elapsed = 0
	o.finished = false
}

// Unload implements playback.Output.
func (o *Output) Unload() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	o.source = ""
	o.elapsed = 0
	o.finished = false
}

// Position implements playback.Output.
func (o *Output) Position() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	pos := o.elapsed
	if !o.started.IsZero() {
		pos += time.Since(o.started)
	}
	return min(pos, o.cfg.TrackDuration)
}

// Paused implements playback.Output.
func (o *Output) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started.IsZero()
}

// OnEnded implements playback.Output.
func (o *Output) OnEnded(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEnded = fn
}

func (o *Output) stopLocked() {
	o.gen++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.started = time.Time{}
}

// Context is a silent keepalive.AudioContext that only tracks its state.
type Context struct {
	mu    sync.Mutex
	state keepalive.ContextState
	rate  beep.SampleRate
	tones int
}

// NewContext returns a context that starts suspended, like a fresh browser audio context.
func NewContext(rate beep.SampleRate) *Context {
	return &Context{state: keepalive.ContextSuspended, rate: rate}
}

// Opener returns a keepalive opener for a new silent context.
func Opener(rate beep.SampleRate) keepalive.Opener {
	return func(context.Context) (keepalive.AudioContext, error) {
		return NewContext(rate), nil
	}
}

// State implements keepalive.AudioContext.
func (c *Context) State() keepalive.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume implements keepalive.AudioContext.
func (c *Context) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == keepalive.ContextClosed {
		return errors.New("context closed")
	}
	c.state = keepalive.ContextRunning
	return nil
}

// SampleRate implements keepalive.AudioContext.
func (c *Context) SampleRate() beep.SampleRate {
	return c.rate
}

// Play implements keepalive.AudioContext. The streamer is never pulled.
func (c *Context) Play(beep.Streamer) (stop func()) {
	c.mu.Lock()
	c.tones++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.tones--
			c.mu.Unlock()
		})
	}
}

// Tones reports how many streams are currently playing.
func (c *Context) Tones() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tones
}

// Close implements keepalive.AudioContext.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = keepalive.ContextClosed
	c.tones = 0
	return nil
}
