package speaker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/app/keepalive"
)

// Opener opens a seekable source for a track URL.
type Opener interface {
	Open(ctx context.Context, url string) (ReadSeekCloser, error)
}

// loadResult is the outcome of decoding one source in the background.
type loadResult struct {
	streamer beep.StreamSeekCloser
	format   beep.Format
	err      error
}

// Output is one output slot on the device.
// Load decodes in the background; Play waits for it.
type Output struct {
	dev    *Device
	opener Opener
	name   string

	mu       sync.Mutex
	source   string
	gen      uint64 // Bumped whenever the attached stream is invalidated
	ready    chan struct{}
	loaded   loadResult
	cancel   context.CancelFunc
	ctrl     *beep.Ctrl
	attached bool // ctrl is in the mixer
	onEnded  func()
}

// NewOutput creates an output on dev.
func NewOutput(dev *Device, opener Opener, name string) *Output {
	return &Output{dev: dev, opener: opener, name: name}
}

// Load implements playback.Output.
func (o *Output) Load(url string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.releaseLocked()
	o.source = url

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	o.cancel = cancel
	o.ready = ready

	go o.decode(ctx, url, ready)
}

func (o *Output) decode(ctx context.Context, url string, ready chan struct{}) {
	var res loadResult
	src, err := o.opener.Open(ctx, url)
	if err != nil {
		res.err = err
	} else if res.streamer, res.format, err = mp3.Decode(src); err != nil {
		src.Close()
		res.err = errors.Wrapf(err, "failed to decode %s", url)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ready != ready {
		// Replaced or unloaded while decoding.
		if res.streamer != nil {
			res.streamer.Close()
		}
		return
	}
	o.loaded = res
	close(ready)
	if res.err != nil {
		zlog.Warn().Err(res.err).Msgf("speaker: load failed: output=%s", o.name)
	} else {
		zlog.Debug().Msgf("speaker: loaded: output=%s url=%s rate=%d", o.name, url, res.format.SampleRate)
	}
}

// Source implements playback.Output.
func (o *Output) Source() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.source
}

// Play implements playback.Output. It waits for the load to finish or ctx to end.
func (o *Output) Play(ctx context.Context) error {
	o.mu.Lock()
	ready := o.ready
	o.mu.Unlock()
	if ready == nil {
		return errors.New("no source loaded")
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ready != ready {
		return errors.New("source replaced while loading")
	}
	if o.loaded.err != nil {
		return o.loaded.err
	}
	if o.dev.State() == keepalive.ContextClosed {
		return ErrDeviceClosed
	}

	if o.attached {
		speaker.Lock()
		o.ctrl.Paused = false
		speaker.Unlock()
		return nil
	}

	streamer := o.loaded.streamer
	speaker.Lock()
	if streamer.Position() >= streamer.Len() {
		if err := streamer.Seek(0); err != nil {
			speaker.Unlock()
			return errors.Wrap(err, "failed to rewind")
		}
	}
	speaker.Unlock()

	gen := o.gen
	o.ctrl = &beep.Ctrl{Streamer: o.dev.resample(o.loaded.format.SampleRate, streamer)}
	o.attached = true
	o.dev.add(beep.Seq(o.ctrl, beep.Callback(func() {
		// Runs on the audio goroutine with the speaker locked.
		go o.finished(gen)
	})))
	return nil
}

func (o *Output) finished(gen uint64) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.attached = false
	o.gen++
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
	if o.attached {
		speaker.Lock()
		o.ctrl.Paused = true
		speaker.Unlock()
	}
}

// Reset implements playback.Output.
func (o *Output) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.detachLocked()
	if o.loaded.streamer != nil {
		speaker.Lock()
		err := o.loaded.streamer.Seek(0)
		speaker.Unlock()
		if err != nil {
			zlog.Debug().Err(err).Msgf("speaker: rewind failed: output=%s", o.name)
		}
	}
}

// Unload implements playback.Output.
func (o *Output) Unload() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releaseLocked()
	o.source = ""
}

// Position implements playback.Output.
func (o *Output) Position() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loaded.streamer == nil {
		return 0
	}
	speaker.Lock()
	defer speaker.Unlock()
	return o.loaded.format.SampleRate.D(o.loaded.streamer.Position())
}

// Paused implements playback.Output.
func (o *Output) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.attached {
		return true
	}
	speaker.Lock()
	defer speaker.Unlock()
	return o.ctrl.Paused
}

// OnEnded implements playback.Output.
func (o *Output) OnEnded(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEnded = fn
}

// detachLocked removes the playing stream from the mixer without firing onEnded.
func (o *Output) detachLocked() {
	o.gen++
	if !o.attached {
		return
	}
	speaker.Lock()
	o.ctrl.Streamer = nil
	speaker.Unlock()
	o.attached = false
}

// releaseLocked detaches and closes the loaded source.
func (o *Output) releaseLocked() {
	o.detachLocked()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	if o.loaded.streamer != nil {
		if err := o.loaded.streamer.Close(); err != nil {
			zlog.Debug().Err(err).Msgf("speaker: close failed: output=%s", o.name)
		}
	}
	o.loaded = loadResult{}
	o.ready = nil
}
