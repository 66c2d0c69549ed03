// Package speaker plays tracks on the local sound card through beep.
package speaker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/app/keepalive"
)

const (
	DefaultSampleRate = beep.SampleRate(44100)
	DefaultBuffer     = 100 * time.Millisecond
)

// ErrDeviceClosed is returned when the device has been closed.
var ErrDeviceClosed = errors.New("audio device closed")

// DeviceConfig holds device configuration.
type DeviceConfig struct {
	SampleRate int           `mapstructure:"sample_rate"`
	Buffer     time.Duration `mapstructure:"buffer"`
	Quality    int           `mapstructure:"resample_quality"`
}

// Device is the process-wide speaker. Every output and the keepalive tone
// are streams on its mixer.
type Device struct {
	sr      beep.SampleRate
	quality int
	mixer   *beep.Mixer

	mu    sync.Mutex
	state keepalive.ContextState
}

// OpenDevice initializes the speaker. It must be called at most once per process.
func OpenDevice(cfg DeviceConfig) (*Device, error) {
	sr := DefaultSampleRate
	if cfg.SampleRate > 0 {
		sr = beep.SampleRate(cfg.SampleRate)
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	quality := cfg.Quality
	if quality <= 0 {
		quality = 3
	}

	if err := speaker.Init(sr, sr.N(buffer)); err != nil {
		return nil, errors.Wrap(err, "failed to initialize speaker")
	}
	d := &Device{
		sr:      sr,
		quality: quality,
		mixer:   &beep.Mixer{},
		state:   keepalive.ContextRunning,
	}
	speaker.Play(d.mixer)
	zlog.Info().Msgf("speaker: device opened: rate=%d buffer=%s", sr, buffer)
	return d, nil
}

// Opener returns a keepalive opener that hands out this device.
func (d *Device) Opener() keepalive.Opener {
	return func(context.Context) (keepalive.AudioContext, error) {
		if d.State() == keepalive.ContextClosed {
			return nil, ErrDeviceClosed
		}
		return d, nil
	}
}

// State implements keepalive.AudioContext.
func (d *Device) State() keepalive.ContextState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SampleRate implements keepalive.AudioContext.
func (d *Device) SampleRate() beep.SampleRate {
	return d.sr
}

// Suspend stops the hardware stream without dropping queued streams.
func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != keepalive.ContextRunning {
		return nil
	}
	if err := speaker.Suspend(); err != nil {
		return errors.Wrap(err, "failed to suspend speaker")
	}
	d.state = keepalive.ContextSuspended
	return nil
}

// Resume implements keepalive.AudioContext.
func (d *Device) Resume(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case keepalive.ContextClosed:
		return ErrDeviceClosed
	case keepalive.ContextRunning:
		return nil
	}
	if err := speaker.Resume(); err != nil {
		return errors.Wrap(err, "failed to resume speaker")
	}
	d.state = keepalive.ContextRunning
	return nil
}

// Play implements keepalive.AudioContext.
func (d *Device) Play(s beep.Streamer) (stop func()) {
	ctrl := &beep.Ctrl{Streamer: s}
	d.add(ctrl)
	return func() {
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
	}
}

// Close implements keepalive.AudioContext.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == keepalive.ContextClosed {
		return nil
	}
	d.state = keepalive.ContextClosed
	speaker.Clear()
	speaker.Close()
	return nil
}

func (d *Device) add(s beep.Streamer) {
	speaker.Lock()
	d.mixer.Add(s)
	speaker.Unlock()
}

func (d *Device) resample(from beep.SampleRate, s beep.Streamer) beep.Streamer {
	if from == d.sr {
		return s
	}
	return beep.Resample(d.quality, from, d.sr, s)
}
