// Package playback provides the recitation playback state machine.
package playback

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // No playlist loaded
	StateLoaded               // Playlist ready, nothing playing
	StatePlaying              // Active track is playing or starting
	StatePaused               // Active track is paused, position kept
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Strategy selects how outputs are used across track boundaries.
type Strategy int

const (
	// StrategyDoubleBuffered alternates two outputs; the idle one preloads the next track.
	StrategyDoubleBuffered Strategy = iota
	// StrategySingle reuses one output for every track.
	StrategySingle
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyDoubleBuffered:
		return "double"
	case StrategySingle:
		return "single"
	default:
		return "unknown"
	}
}

// Outputs returns how many output slots the strategy needs.
func (s Strategy) Outputs() int {
	if s == StrategySingle {
		return 1
	}
	return 2
}

// ParseStrategy parses a configured strategy name. Empty selects the default.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "double", "double_buffered", "double-buffered":
		return StrategyDoubleBuffered, nil
	case "single":
		return StrategySingle, nil
	default:
		return 0, errors.Newf("unknown playback strategy %q", s)
	}
}
