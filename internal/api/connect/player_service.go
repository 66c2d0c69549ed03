package connect

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/tilawa/internal/app/notification"
	"github.com/osa030/tilawa/internal/app/session"
	"github.com/osa030/tilawa/internal/domain/playlist"
)

// Session is the read side of the session manager.
type Session interface {
	Status() session.Status
	Playlist() *playlist.Playlist
}

// Subscriber registers notification streams.
type Subscriber interface {
	Subscribe(stream notification.Stream) string
	Unsubscribe(id string)
	SequenceNo() uint64
}

// CacheChecker reports whether a track's audio is already stored locally.
type CacheChecker interface {
	Has(ctx context.Context, url string) bool
}

// PlayerService implements the PlayerService RPC.
type PlayerService struct {
	session    Session
	subscriber Subscriber   // Optional
	cache      CacheChecker // Optional
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(deps Deps) *PlayerService {
	return &PlayerService{
		session:    deps.Session,
		subscriber: deps.Subscriber,
		cache:      deps.Cache,
	}
}

// Ensure PlayerService implements the interface.
var _ PlayerServiceHandler = (*PlayerService)(nil)

// GetStatus returns the selection and playback snapshot.
func (s *PlayerService) GetStatus(
	ctx context.Context,
	req *connect.Request[GetStatusRequest],
) (*connect.Response[StatusResponse], error) {
	st := s.session.Status()
	snap := st.Playback

	resp := &StatusResponse{
		State:        snap.State.String(),
		Strategy:     snap.Strategy.String(),
		Selection:    st.Selection,
		ChapterName:  st.Chapter.Name,
		NarratorName: st.Narrator.Name,
		NowPlaying:   st.NowPlaying,
		Index:        snap.Index,
		Tracks:       snap.Tracks,
		TrackID:      snap.Track.ID.String(),
		PositionMs:   snap.Position.Milliseconds(),
		PlayInFlight: snap.PlayInFlight,
	}
	if snap.LastError != nil {
		resp.LastError = snap.LastError.Error()
	}
	return connect.NewResponse(resp), nil
}

// GetPlaylist lists the loaded playlist, marking the active and cached tracks.
func (s *PlayerService) GetPlaylist(
	ctx context.Context,
	req *connect.Request[GetPlaylistRequest],
) (*connect.Response[PlaylistResponse], error) {
	pl := s.session.Playlist()
	active := s.session.Status().Playback.Index

	resp := &PlaylistResponse{Tracks: make([]TrackResponse, 0, pl.Len())}
	if pl != nil {
		resp.Repeat = pl.Repeat
		for i, d := range pl.Tracks {
			resp.Tracks = append(resp.Tracks, TrackResponse{
				Index:   i,
				ID:      d.ID.String(),
				Chapter: d.Chapter,
				Verse:   d.Verse,
				URL:     d.URL,
				Chime:   d.IsChime(),
				Active:  i == active,
				Cached:  s.cache != nil && s.cache.Has(ctx, d.URL),
			})
		}
	}
	return connect.NewResponse(resp), nil
}

// WatchEvents sends the current state, then every notification until the client leaves.
func (s *PlayerService) WatchEvents(
	ctx context.Context,
	req *connect.Request[WatchEventsRequest],
	stream *connect.ServerStream[notification.Notification],
) error {
	if s.subscriber == nil {
		return connect.NewError(connect.CodeUnimplemented, errors.New("notifications are disabled"))
	}

	// Subscribe before reading the state so nothing between the two is lost.
	// Broadcasts land in a buffer; only this goroutine writes to the stream.
	notes := make(notification.ChanStream, 16)
	subscriptionID := s.subscriber.Subscribe(notes)
	defer s.subscriber.Unsubscribe(subscriptionID)

	st := s.session.Status()
	initial := notification.Notification{
		SequenceNo: s.subscriber.SequenceNo(),
		Type:       notification.TypeInitialState,
		State:      st.Playback.State.String(),
		NowPlaying: st.NowPlaying,
		Index:      st.Playback.Index,
		Time:       time.Now(),
	}
	if err := stream.Send(&initial); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-notes:
			if err := stream.Send(&n); err != nil {
				return err
			}
		}
	}
}
