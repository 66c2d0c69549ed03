// Package keepalive holds the audio session open across track boundaries
// by playing a near-silent tone while playback is active.
package keepalive

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/generators"
	zlog "github.com/rs/zerolog/log"
)

// ContextState is the lifecycle state of an audio context.
type ContextState int

const (
	ContextRunning ContextState = iota
	ContextSuspended
	ContextClosed
)

// String returns the string representation of the state.
func (s ContextState) String() string {
	switch s {
	case ContextRunning:
		return "running"
	case ContextSuspended:
		return "suspended"
	case ContextClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AudioContext is the host audio session the tone plays on.
type AudioContext interface {
	State() ContextState
	Resume(ctx context.Context) error
	SampleRate() beep.SampleRate
	// Play starts s and returns a function that stops it.
	Play(s beep.Streamer) (stop func())
	Close() error
}

// Opener creates the audio context on first use.
type Opener func(ctx context.Context) (AudioContext, error)

// Config holds keepalive configuration.
type Config struct {
	Enabled     bool
	FrequencyHz float64
	Gain        float64 // Peak amplitude of the tone
}

// DefaultConfig returns a 1 Hz tone at gain 0.001.
func DefaultConfig() Config {
	return Config{Enabled: true, FrequencyHz: 1, Gain: 0.001}
}

// Service owns at most one audio context and one tone.
// All methods are safe for concurrent use.
type Service struct {
	cfg  Config
	open Opener

	mu       sync.Mutex
	ac       AudioContext
	stopTone func()
	closed   bool
}

// New creates the service. The context is not opened until Initialize.
func New(cfg Config, open Opener) *Service {
	return &Service{cfg: cfg, open: open}
}

// Initialize opens the audio context once and resumes it if suspended.
// Failures are logged and swallowed; playback proceeds without keepalive.
func (s *Service) Initialize(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.cfg.Enabled || s.open == nil {
		return
	}

	if s.ac == nil {
		ac, err := s.open(ctx)
		if err != nil {
			zlog.Warn().Err(err).Msg("keepalive: failed to open audio context")
			return
		}
		s.ac = ac
		zlog.Debug().Msgf("keepalive: audio context opened: rate=%d", ac.SampleRate())
	}

	if s.ac.State() == ContextSuspended {
		if err := s.ac.Resume(ctx); err != nil {
			zlog.Warn().Err(err).Msg("keepalive: failed to resume audio context")
		}
	}
}

// StartTone begins the tone. No-op if it is running or there is no context.
func (s *Service) StartTone() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopTone != nil || s.ac == nil || s.ac.State() == ContextClosed {
		return
	}

	tone, err := NewTone(s.ac.SampleRate(), s.cfg.FrequencyHz, s.cfg.Gain)
	if err != nil {
		zlog.Warn().Err(err).Msg("keepalive: failed to build tone")
		return
	}
	s.stopTone = s.ac.Play(tone)
	zlog.Debug().Msg("keepalive: tone started")
}

// StopTone ends the tone. No-op if none is running.
func (s *Service) StopTone() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopToneLocked()
}

func (s *Service) stopToneLocked() {
	if s.stopTone == nil {
		return
	}
	s.stopTone()
	s.stopTone = nil
	zlog.Debug().Msg("keepalive: tone stopped")
}

// ToneRunning reports whether the tone is playing.
func (s *Service) ToneRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopTone != nil
}

// Initialized reports whether a context has been opened.
func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ac != nil
}

// Shutdown stops the tone and closes the context. Later calls are no-ops.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.stopToneLocked()

	if s.ac == nil {
		return nil
	}
	err := s.ac.Close()
	s.ac = nil
	return err
}

// NewTone returns an endless sine at freq Hz scaled to peak amplitude gain.
func NewTone(sr beep.SampleRate, freq, gain float64) (beep.Streamer, error) {
	sine, err := generators.SineTone(sr, freq)
	if err != nil {
		return nil, errors.Wrapf(err, "sine tone at %.2f Hz", freq)
	}
	// effects.Gain multiplies by 1+Gain.
	return &effects.Gain{Streamer: sine, Gain: gain - 1}, nil
}
