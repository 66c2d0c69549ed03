// Package transport maps user transport controls onto the playback controller.
package transport

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/domain/track"
)

// ErrUnknownAction is returned for an unrecognized action name.
var ErrUnknownAction = errors.New("unknown transport action")

// Action is a user transport control.
type Action int

const (
	ActionPlay Action = iota
	ActionPause
	ActionStop
	ActionNext
	ActionPrevious
	ActionRestart
	ActionForeground
)

var actionNames = map[Action]string{
	ActionPlay:       "play",
	ActionPause:      "pause",
	ActionStop:       "stop",
	ActionNext:       "next",
	ActionPrevious:   "previous",
	ActionRestart:    "restart",
	ActionForeground: "foreground",
}

// String returns the string representation of the action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// Actions returns every action in declaration order.
func Actions() []Action {
	return []Action{ActionPlay, ActionPause, ActionStop, ActionNext, ActionPrevious, ActionRestart, ActionForeground}
}

// ParseAction parses an action name. "prev" and "resume" are accepted as aliases.
func ParseAction(s string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "prev":
		return ActionPrevious, nil
	case "resume":
		return ActionPlay, nil
	}
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownAction, "%q", s)
}

// Controller is the playback surface driven by transport controls.
type Controller interface {
	Play(ctx context.Context) error
	Pause() error
	Stop() error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Restart(ctx context.Context) error
	Foreground() (bool, error)
	JumpTo(ctx context.Context, id track.ID) error
}

// ChapterSource reports the chapter of the current selection.
type ChapterSource interface {
	Chapter() int
}

// ChapterFunc adapts a function to ChapterSource.
type ChapterFunc func() int

// Chapter implements ChapterSource.
func (f ChapterFunc) Chapter() int { return f() }

// Dispatcher executes transport actions.
type Dispatcher struct {
	ctrl    Controller
	chapter ChapterSource
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(ctrl Controller, chapter ChapterSource) *Dispatcher {
	return &Dispatcher{ctrl: ctrl, chapter: chapter}
}

// Dispatch runs a.
func (d *Dispatcher) Dispatch(ctx context.Context, a Action) error {
	zlog.Debug().Msgf("transport: dispatch: action=%s", a)

	switch a {
	case ActionPlay:
		return d.ctrl.Play(ctx)
	case ActionPause:
		return d.ctrl.Pause()
	case ActionStop:
		return d.ctrl.Stop()
	case ActionNext:
		return d.ctrl.Next(ctx)
	case ActionPrevious:
		return d.ctrl.Previous(ctx)
	case ActionRestart:
		return d.ctrl.Restart(ctx)
	case ActionForeground:
		_, err := d.ctrl.Foreground()
		return err
	default:
		return errors.Wrapf(ErrUnknownAction, "%d", int(a))
	}
}

// DispatchName parses and runs a named action.
func (d *Dispatcher) DispatchName(ctx context.Context, name string) error {
	a, err := ParseAction(name)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, a)
}

// Jump plays the given verse of the selected chapter.
func (d *Dispatcher) Jump(ctx context.Context, verse int) error {
	id, err := track.Encode(d.chapter.Chapter(), verse)
	if err != nil {
		return err
	}
	zlog.Debug().Msgf("transport: jump: id=%s", id)
	return d.ctrl.JumpTo(ctx, id)
}
