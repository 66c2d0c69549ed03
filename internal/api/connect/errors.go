package connect

import (
	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/app/playback"
	"github.com/osa030/tilawa/internal/app/transport"
	"github.com/osa030/tilawa/internal/domain/track"
)

// toConnectError maps domain errors to Connect codes.
func toConnectError(op string, err error) *connect.Error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, transport.ErrUnknownAction),
		errors.Is(err, track.ErrOutOfRange),
		errors.Is(err, track.ErrInvalidFormat):
		code = connect.CodeInvalidArgument
	case errors.Is(err, playback.ErrTrackNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, playback.ErrEmptyPlaylist),
		errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, playback.ErrNoNextTrack):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, playback.ErrSuperseded):
		code = connect.CodeAborted
	case errors.Is(err, playback.ErrPlaybackFailed),
		errors.Is(err, playback.ErrClosed):
		code = connect.CodeUnavailable
	}
	if code == connect.CodeInternal || code == connect.CodeUnavailable {
		zlog.Warn().Err(err).Msgf("api: %s failed", op)
	}
	return connect.NewError(code, errors.Wrap(err, op))
}
