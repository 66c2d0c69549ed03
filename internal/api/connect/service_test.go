package connect

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tilawa/internal/app/notification"
	"github.com/osa030/tilawa/internal/app/playback"
	"github.com/osa030/tilawa/internal/app/session"
	"github.com/osa030/tilawa/internal/app/transport"
	"github.com/osa030/tilawa/internal/domain/chapter"
	"github.com/osa030/tilawa/internal/domain/narrator"
	"github.com/osa030/tilawa/internal/domain/playlist"
	"github.com/osa030/tilawa/internal/domain/track"
)

type stubSession struct {
	status session.Status
	pl     *playlist.Playlist
}

func (s *stubSession) Status() session.Status      { return s.status }
func (s *stubSession) Playlist() *playlist.Playlist { return s.pl }

type stubDispatcher struct {
	actions []string
	verses  []int
	err     error
}

func (d *stubDispatcher) DispatchName(_ context.Context, name string) error {
	if _, err := transport.ParseAction(name); err != nil {
		return err
	}
	d.actions = append(d.actions, name)
	return d.err
}

func (d *stubDispatcher) Jump(_ context.Context, verse int) error {
	if _, err := track.Encode(1, verse); err != nil {
		return err
	}
	d.verses = append(d.verses, verse)
	return d.err
}

type stubCache map[string]bool

func (c stubCache) Has(_ context.Context, url string) bool { return c[url] }

type testEnv struct {
	player  *PlayerServiceClient
	control *ControlServiceClient
	session *stubSession
	disp    *stubDispatcher
	notes   *notification.Manager
}

func newTestPlaylist(t *testing.T) *playlist.Playlist {
	t.Helper()
	b := playlist.NewBuilder(playlist.BuilderConfig{
		AudioHost: "https://audio.test/data",
		Extension: "mp3",
		ChimeURL:  "https://audio.test/chime.mp3",
	})
	pl, err := b.Build(
		chapter.Chapter{Number: 1, VerseCount: 7, Name: "Al-Fatihah"},
		playlist.Range{Start: 2, End: 3},
		narrator.Narrator{ID: "mishary", Name: "Mishary", URLPath: "Alafasy_128kbps"},
		true,
	)
	require.NoError(t, err)
	return pl
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	pl := newTestPlaylist(t)
	env := &testEnv{
		session: &stubSession{
			pl: pl,
			status: session.Status{
				Selection:  session.Selection{Chapter: 1, Start: 2, End: 3, Narrator: "mishary", Repeat: true},
				Chapter:    chapter.Chapter{Number: 1, VerseCount: 7, Name: "Al-Fatihah"},
				Narrator:   narrator.Narrator{ID: "mishary", Name: "Mishary"},
				NowPlaying: notification.Metadata{Title: "Al-Fatihah 1:3", Subtitle: "Mishary"},
				Playback: playback.Snapshot{
					State:     playback.StatePaused,
					Index:     1,
					Tracks:    pl.Len(),
					Track:     pl.Tracks[1],
					Position:  1500 * time.Millisecond,
					LastError: errors.New("blocked"),
				},
			},
		},
		disp:  &stubDispatcher{},
		notes: notification.NewManager(),
	}

	srv := httptest.NewServer(NewHandler(Deps{
		Session:    env.session,
		Dispatcher: env.disp,
		Subscriber: env.notes,
		Cache:      stubCache{pl.Tracks[0].URL: true},
		Token:      token,
	}))
	t.Cleanup(srv.Close)

	env.player = NewPlayerServiceClient(srv.Client(), srv.URL)
	env.control = NewControlServiceClient(srv.Client(), srv.URL)
	return env
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := env.player.GetStatus(context.Background(), connect.NewRequest(&GetStatusRequest{}))
	require.NoError(t, err)

	st := resp.Msg
	assert.Equal(t, "paused", st.State)
	assert.Equal(t, "double", st.Strategy)
	assert.Equal(t, 1, st.Index)
	assert.Equal(t, 3, st.Tracks)
	assert.Equal(t, "001003", st.TrackID)
	assert.Equal(t, int64(1500), st.PositionMs)
	assert.Equal(t, "blocked", st.LastError)
	assert.Equal(t, "Al-Fatihah", st.ChapterName)
	assert.Equal(t, "Al-Fatihah 1:3", st.NowPlaying.Title)
	assert.True(t, st.Selection.Repeat)
}

func TestGetPlaylist(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := env.player.GetPlaylist(context.Background(), connect.NewRequest(&GetPlaylistRequest{}))
	require.NoError(t, err)

	pl := resp.Msg
	require.Len(t, pl.Tracks, 3)
	assert.True(t, pl.Repeat)
	assert.Equal(t, "001002", pl.Tracks[0].ID)
	assert.True(t, pl.Tracks[0].Cached)
	assert.False(t, pl.Tracks[1].Cached)
	assert.True(t, pl.Tracks[1].Active)
	assert.True(t, pl.Tracks[2].Chime)
	assert.Equal(t, "https://audio.test/chime.mp3", pl.Tracks[2].URL)
}

func TestGetPlaylist_Empty(t *testing.T) {
	env := newTestEnv(t, "")
	env.session.pl = nil

	resp, err := env.player.GetPlaylist(context.Background(), connect.NewRequest(&GetPlaylistRequest{}))
	require.NoError(t, err)
	assert.Empty(t, resp.Msg.Tracks)
}

func TestControl(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		verse    int
		err      error
		wantCode connect.Code
	}{
		{name: "play", action: "play"},
		{name: "unknown action", action: "rewind", wantCode: connect.CodeInvalidArgument},
		{name: "empty playlist", action: "next", err: playback.ErrEmptyPlaylist, wantCode: connect.CodeFailedPrecondition},
		{name: "superseded", action: "play", err: playback.ErrSuperseded, wantCode: connect.CodeAborted},
		{name: "play failed", action: "play", err: errors.Mark(errors.New("x"), playback.ErrPlaybackFailed), wantCode: connect.CodeUnavailable},
		{name: "closed", action: "stop", err: playback.ErrClosed, wantCode: connect.CodeUnavailable},
		{name: "jump", verse: 5},
		{name: "jump not in playlist", verse: 7, err: playback.ErrTrackNotFound, wantCode: connect.CodeNotFound},
		{name: "jump out of range", verse: 1000, wantCode: connect.CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			env.disp.err = tt.err

			var resp *connect.Response[ActionResponse]
			var err error
			if tt.action != "" {
				resp, err = env.control.Transport(context.Background(), connect.NewRequest(&TransportRequest{Action: tt.action}))
			} else {
				resp, err = env.control.Jump(context.Background(), connect.NewRequest(&JumpRequest{Verse: tt.verse}))
			}

			if tt.wantCode != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, connect.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, resp.Msg.Success)
		})
	}
}

func TestAdminAuthInterceptor(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		wantCode connect.Code
	}{
		{name: "missing", token: "", wantCode: connect.CodeUnauthenticated},
		{name: "wrong", token: "nope", wantCode: connect.CodeUnauthenticated},
		{name: "valid", token: "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "secret")

			req := connect.NewRequest(&TransportRequest{Action: "pause"})
			if tt.token != "" {
				req.Header().Set(AdminTokenHeader, tt.token)
			}
			_, err := env.control.Transport(context.Background(), req)
			if tt.wantCode != 0 {
				assert.Equal(t, tt.wantCode, connect.CodeOf(err))
				assert.Empty(t, env.disp.actions)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"pause"}, env.disp.actions)
		})
	}

	// Reads stay open.
	env := newTestEnv(t, "secret")
	_, err := env.player.GetStatus(context.Background(), connect.NewRequest(&GetStatusRequest{}))
	assert.NoError(t, err)
}

func TestWatchEvents(t *testing.T) {
	env := newTestEnv(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := env.player.WatchEvents(ctx, connect.NewRequest(&WatchEventsRequest{}))
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive(), "initial state: %v", stream.Err())
	initial := stream.Msg()
	assert.Equal(t, notification.TypeInitialState, initial.Type)
	assert.Equal(t, "paused", initial.State)
	assert.Equal(t, "Al-Fatihah 1:3", initial.NowPlaying.Title)
	assert.Equal(t, uint64(0), initial.SequenceNo)

	require.Equal(t, 1, env.notes.SubscriberCount())
	env.notes.Broadcast(notification.Notification{
		Type:       notification.TypeTrackChanged,
		NowPlaying: notification.Metadata{Title: "Al-Fatihah 1:2"},
	})

	require.True(t, stream.Receive(), "notification: %v", stream.Err())
	n := stream.Msg()
	assert.Equal(t, notification.TypeTrackChanged, n.Type)
	assert.Equal(t, "Al-Fatihah 1:2", n.NowPlaying.Title)
	assert.Equal(t, uint64(1), n.SequenceNo)

	cancel()
	require.Eventually(t, func() bool { return env.notes.SubscriberCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
