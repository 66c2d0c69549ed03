package playback

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tilawa/internal/domain/playlist"
	"github.com/osa030/tilawa/internal/domain/track"
)

func TestNewController_NeedsOutputs(t *testing.T) {
	_, err := NewController(Config{Strategy: StrategyDoubleBuffered}, newFakeOutput())
	assert.Error(t, err)

	c, err := NewController(Config{Strategy: StrategySingle}, newFakeOutput())
	require.NoError(t, err)
	c.Close()
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{in: "", want: StrategyDoubleBuffered},
		{in: "double", want: StrategyDoubleBuffered},
		{in: "Double_Buffered", want: StrategyDoubleBuffered},
		{in: "single", want: StrategySingle},
		{in: "triple", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadPlaylist(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	pl := buildPlaylist(t, 2, 5, false)

	require.NoError(t, h.c.LoadPlaylist(pl))

	s := h.c.Snapshot()
	assert.Equal(t, StateLoaded, s.State)
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, 2, s.Track.Verse)
	assert.Equal(t, 4, s.Tracks)
	assert.Equal(t, pl.Tracks[0].URL, h.outs[0].Source())
	assert.Equal(t, []int{0}, h.prefetch.calls())
}

func TestLoadPlaylist_ResetsPriorSession(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))
	require.NoError(t, h.c.PlayIndex(context.Background(), 3))
	require.True(t, h.ka.toneRunning())

	pl := buildPlaylist(t, 5, 6, true)
	require.NoError(t, h.c.LoadPlaylist(pl))

	s := h.c.Snapshot()
	assert.Equal(t, StateLoaded, s.State)
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, 0, s.ActiveSlot)
	assert.Equal(t, "", s.PendingSource)
	assert.Equal(t, pl.Tracks[0].URL, h.outs[0].Source())
	assert.False(t, h.ka.toneRunning())
}

func TestEmptyPlaylist(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	ctx := context.Background()

	err := h.c.LoadPlaylist(&playlist.Playlist{})
	assert.True(t, errors.Is(err, ErrEmptyPlaylist))
	assert.Equal(t, StateIdle, h.c.Snapshot().State)

	assert.True(t, errors.Is(h.c.LoadPlaylist(nil), ErrEmptyPlaylist))
	assert.True(t, errors.Is(h.c.Play(ctx), ErrEmptyPlaylist))
	assert.True(t, errors.Is(h.c.Pause(), ErrEmptyPlaylist))
	assert.True(t, errors.Is(h.c.Stop(), ErrEmptyPlaylist))
	assert.True(t, errors.Is(h.c.Next(ctx), ErrEmptyPlaylist))
	assert.True(t, errors.Is(h.c.Previous(ctx), ErrEmptyPlaylist))
	assert.True(t, errors.Is(h.c.Restart(ctx), ErrEmptyPlaylist))
	assert.True(t, errors.Is(h.c.JumpTo(ctx, "001001"), ErrEmptyPlaylist))
	_, err = h.c.Foreground()
	assert.True(t, errors.Is(err, ErrEmptyPlaylist))

	assert.Equal(t, 0, h.outs[0].playCount())
	assert.Equal(t, StateIdle, h.c.Snapshot().State)
}

func TestPlay(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			h := newHarness(t, strategy)
			pl := buildPlaylist(t, 1, 7, false)
			require.NoError(t, h.c.LoadPlaylist(pl))

			require.NoError(t, h.c.Play(context.Background()))

			s := h.c.Snapshot()
			assert.Equal(t, StatePlaying, s.State)
			assert.False(t, s.PlayInFlight)
			assert.False(t, h.outs[0].Paused())
			assert.Equal(t, 1, h.ka.initCount())
			assert.True(t, h.ka.toneRunning())
			assert.Equal(t, []int{0, 0}, h.prefetch.calls())

			if strategy == StrategyDoubleBuffered {
				assert.Equal(t, pl.Tracks[1].URL, s.PendingSource)
				assert.Equal(t, pl.Tracks[1].URL, h.outs[1].Source())
			} else {
				assert.Equal(t, "", h.outs[1].Source())
				assert.Equal(t, 0, h.outs[1].loadCount())
			}

			// Already playing: no second play is issued.
			require.NoError(t, h.c.Play(context.Background()))
			assert.Equal(t, 1, h.outs[0].playCount())
		})
	}
}

func TestPlay_FailureLeavesPaused(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			h := newHarness(t, strategy)
			require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))
			require.NoError(t, h.c.PlayIndex(context.Background(), 2))
			require.NoError(t, h.c.Pause())

			h.outs[0].failNextPlay(errors.New("autoplay blocked"))
			err := h.c.Play(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPlaybackFailed))

			e := waitEvent(t, h.c, EventPlaybackFailed)
			assert.True(t, errors.Is(e.Err, ErrPlaybackFailed))

			s := h.c.Snapshot()
			assert.Equal(t, StatePaused, s.State)
			assert.Equal(t, 2, s.Index)
			assert.True(t, errors.Is(s.LastError, ErrPlaybackFailed))
			assert.False(t, h.ka.toneRunning())

			// A later successful play clears the failure.
			require.NoError(t, h.c.Play(context.Background()))
			assert.NoError(t, h.c.Snapshot().LastError)
		})
	}
}

func TestAdvance_DoubleBufferSwapDoesNotReload(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	pl := buildPlaylist(t, 1, 7, false)
	require.NoError(t, h.c.LoadPlaylist(pl))
	require.NoError(t, h.c.Play(context.Background()))

	a, b := h.outs[0], h.outs[1]
	preloaded := b.Source()
	require.Equal(t, pl.Tracks[1].URL, preloaded)
	loadsBefore := b.loadCount()

	s := h.finishActive(t)

	assert.Equal(t, 1, s.Index)
	assert.Equal(t, 1, s.ActiveSlot)
	assert.Equal(t, StatePlaying, s.State)
	assert.Equal(t, preloaded, b.Source(), "source must be identical across the swap")
	assert.Equal(t, loadsBefore, b.loadCount(), "swap must not reload the pending slot")
	assert.Equal(t, 1, b.playCount())
	assert.False(t, b.Paused())

	// The old slot now preloads the track after next.
	assert.Equal(t, pl.Tracks[2].URL, a.Source())
	assert.Equal(t, pl.Tracks[2].URL, s.PendingSource)
	assert.True(t, h.ka.toneRunning())
}

func TestAdvance_SingleReusesOutput(t *testing.T) {
	h := newHarness(t, StrategySingle)
	pl := buildPlaylist(t, 1, 7, false)
	require.NoError(t, h.c.LoadPlaylist(pl))
	require.NoError(t, h.c.Play(context.Background()))

	s := h.finishActive(t)

	assert.Equal(t, 1, s.Index)
	assert.Equal(t, 0, s.ActiveSlot)
	assert.Equal(t, pl.Tracks[1].URL, h.outs[0].Source())
	assert.Equal(t, 2, h.outs[0].playCount())
	assert.Equal(t, 0, h.outs[1].playCount())
}

func TestScenario_RangeWithRepeatWrapsToRangeStart(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			h := newHarness(t, strategy)
			pl := buildPlaylist(t, 2, 5, true)
			require.Equal(t, 5, pl.Len())
			require.NoError(t, h.c.LoadPlaylist(pl))
			require.NoError(t, h.c.Play(context.Background()))

			wantVerses := []int{3, 4, 5}
			for _, v := range wantVerses {
				s := h.finishActive(t)
				assert.Equal(t, v, s.Track.Verse)
			}

			s := h.finishActive(t)
			assert.True(t, s.Track.IsChime())
			assert.Equal(t, 4, s.Index)

			s = h.finishActive(t)
			assert.Equal(t, 0, s.Index)
			assert.Equal(t, 2, s.Track.Verse, "wrap lands on the first verse of the range")
			assert.Equal(t, StatePlaying, s.State)
		})
	}
}

func TestAdvance_LastTrackWithoutRepeat(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			h := newHarness(t, strategy)
			pl := buildPlaylist(t, 1, 3, false)
			require.NoError(t, h.c.LoadPlaylist(pl))
			require.NoError(t, h.c.PlayIndex(context.Background(), 2))
			playsBefore := h.active().playCount()

			s := h.finishActive(t)

			assert.Equal(t, StatePaused, s.State)
			assert.Equal(t, 2, s.Index, "index stays on the last track")
			assert.False(t, h.ka.toneRunning())
			assert.Equal(t, playsBefore, h.active().playCount())
			waitEvent(t, h.c, EventPlaylistFinished)

			assert.True(t, errors.Is(h.c.Next(context.Background()), ErrNoNextTrack))
		})
	}
}

func TestAdvance_LastTrackWithRepeat(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			h := newHarness(t, strategy)
			pl := buildPlaylist(t, 1, 1, true)
			require.NoError(t, h.c.LoadPlaylist(pl))
			require.NoError(t, h.c.PlayIndex(context.Background(), 1))

			s := h.finishActive(t)
			assert.Equal(t, 0, s.Index)
			assert.Equal(t, StatePlaying, s.State)
		})
	}
}

func TestAdvance_IgnoresStaleSignals(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))
	require.NoError(t, h.c.Play(context.Background()))

	// The idle slot finishing is not the active track ending.
	h.outs[1].finish()
	require.NoError(t, h.c.Pause())
	s := h.c.Snapshot()
	assert.Equal(t, 0, s.Index)

	// Completion while paused does not advance.
	h.outs[0].finish()
	_, err := h.c.Foreground()
	require.NoError(t, err)
	assert.Equal(t, 0, h.c.Snapshot().Index)
}

func TestJumpTo_DuringPreloadDiscardsPendingSlot(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	ctx := context.Background()
	pl := buildPlaylist(t, 1, 7, false)
	require.NoError(t, h.c.LoadPlaylist(pl))
	require.NoError(t, h.c.Play(ctx))
	require.Equal(t, pl.Tracks[1].URL, h.outs[1].Source())

	target := track.MustEncode(1, 5)
	require.NoError(t, h.c.JumpTo(ctx, target))

	s := h.settle(t)
	assert.Equal(t, 0, s.ActiveSlot, "preloaded slot must not be swapped in")
	assert.Equal(t, 4, s.Index)
	assert.Equal(t, target, s.Track.ID)
	assert.Equal(t, pl.Tracks[4].URL, h.outs[0].Source())
	assert.Equal(t, pl.Tracks[5].URL, h.outs[1].Source())

	// A late completion from the old pending slot is ignored.
	h.outs[1].finish()
	require.NoError(t, h.c.Pause())
	assert.Equal(t, 4, h.c.Snapshot().Index)
}

func TestJumpTo_WhilePlayInFlight(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	ctx := context.Background()
	pl := buildPlaylist(t, 1, 7, false)
	require.NoError(t, h.c.LoadPlaylist(pl))

	release := h.outs[0].hold()
	first := make(chan error, 1)
	go func() { first <- h.c.Play(ctx) }()
	require.Eventually(t, func() bool { return h.outs[0].playCount() == 1 }, waitFor, tick)

	second := make(chan error, 1)
	go func() { second <- h.c.JumpTo(ctx, track.MustEncode(1, 6)) }()

	assert.True(t, errors.Is(<-first, ErrSuperseded))
	release()
	require.NoError(t, <-second)

	s := h.settle(t)
	assert.Equal(t, StatePlaying, s.State)
	assert.Equal(t, 5, s.Index)
	assert.False(t, h.outs[0].Paused())
	assert.Equal(t, pl.Tracks[6].URL, h.outs[1].Source())
}

func TestPlay_LastRequestWins(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			h := newHarness(t, strategy)
			ctx := context.Background()
			require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))

			release := h.outs[0].hold()
			results := make(chan error, 3)
			go func() { results <- h.c.Play(ctx) }()
			require.Eventually(t, func() bool { return h.outs[0].playCount() == 1 }, waitFor, tick)
			go func() { results <- h.c.PlayIndex(ctx, 1) }()
			require.Eventually(t, func() bool { return h.outs[0].playCount() == 2 }, waitFor, tick)
			go func() { results <- h.c.PlayIndex(ctx, 2) }()
			require.Eventually(t, func() bool { return h.outs[0].playCount() == 3 }, waitFor, tick)

			assert.True(t, errors.Is(<-results, ErrSuperseded))
			assert.True(t, errors.Is(<-results, ErrSuperseded))
			release()
			require.NoError(t, <-results)

			s := h.settle(t)
			assert.Equal(t, StatePlaying, s.State)
			assert.Equal(t, 2, s.Index)
			assert.False(t, h.outs[0].Paused(), "stale results must not silence the winning play")
		})
	}
}

func TestPause_BeforeInFlightPlayResolves(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			h := newHarness(t, strategy)
			require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))

			release := h.outs[0].hold()
			played := make(chan error, 1)
			go func() { played <- h.c.Play(context.Background()) }()
			require.Eventually(t, func() bool { return h.outs[0].playCount() == 1 }, waitFor, tick)

			require.NoError(t, h.c.Pause())
			assert.True(t, errors.Is(<-played, ErrSuperseded))

			// The abandoned play now succeeds on the output.
			release()
			require.Eventually(t, func() bool { return h.outs[0].returnCount() == 1 }, waitFor, tick)

			require.Eventually(t, func() bool {
				return h.outs[0].Paused()
			}, waitFor, tick)
			s := h.settle(t)
			assert.Equal(t, StatePaused, s.State)
			assert.Equal(t, 0, s.Index)
			assert.False(t, h.ka.toneRunning())
		})
	}
}

func TestPause_AfterPlayResolves(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			h := newHarness(t, strategy)
			require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))
			require.NoError(t, h.c.Play(context.Background()))

			require.NoError(t, h.c.Pause())

			s := h.c.Snapshot()
			assert.Equal(t, StatePaused, s.State)
			assert.True(t, h.outs[0].Paused())
			assert.False(t, h.ka.toneRunning())
			assert.True(t, errors.Is(h.c.Pause(), ErrNotPlaying))

			// Resume continues the same output without reloading.
			loads := h.outs[0].loadCount()
			require.NoError(t, h.c.Play(context.Background()))
			assert.Equal(t, loads, h.outs[0].loadCount())
			assert.Equal(t, StatePlaying, h.c.Snapshot().State)
		})
	}
}

func TestPause_DuringSwapKeepsToneUntilResolved(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))
	require.NoError(t, h.c.Play(context.Background()))
	require.True(t, h.ka.toneRunning())

	release := h.outs[1].hold()
	h.outs[0].finish()
	require.Eventually(t, func() bool {
		s := h.c.Snapshot()
		return s.Index == 1 && s.PlayInFlight
	}, waitFor, tick)

	require.NoError(t, h.c.Pause())
	assert.True(t, h.ka.toneRunning(), "pause mid-swap leaves the tone running")

	release()
	require.Eventually(t, func() bool {
		return !h.ka.toneRunning() && h.outs[1].Paused()
	}, waitFor, tick)
	assert.Equal(t, StatePaused, h.c.Snapshot().State)
}

func TestStop(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			h := newHarness(t, strategy)
			pl := buildPlaylist(t, 1, 7, false)
			require.NoError(t, h.c.LoadPlaylist(pl))
			require.NoError(t, h.c.PlayIndex(context.Background(), 3))

			require.NoError(t, h.c.Stop())

			s := h.c.Snapshot()
			assert.Equal(t, StateLoaded, s.State)
			assert.Equal(t, 3, s.Index)
			for _, out := range h.outs {
				assert.Equal(t, "", out.Source())
				assert.True(t, out.Paused())
			}
			assert.False(t, h.ka.toneRunning())

			require.NoError(t, h.c.Play(context.Background()))
			assert.Equal(t, pl.Tracks[3].URL, h.outs[s.ActiveSlot].Source())
		})
	}
}

func TestStop_DuringInFlightPlay(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))

	release := h.outs[0].hold()
	played := make(chan error, 1)
	go func() { played <- h.c.Play(context.Background()) }()
	require.Eventually(t, func() bool { return h.outs[0].playCount() == 1 }, waitFor, tick)

	require.NoError(t, h.c.Stop())
	assert.True(t, errors.Is(<-played, ErrSuperseded))
	release()
	require.Eventually(t, func() bool { return h.outs[0].returnCount() == 1 }, waitFor, tick)

	require.Eventually(t, func() bool { return h.outs[0].Paused() }, waitFor, tick)
	assert.Equal(t, StateLoaded, h.settle(t).State)
}

func TestNext(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	pl := buildPlaylist(t, 1, 7, false)
	require.NoError(t, h.c.LoadPlaylist(pl))
	require.NoError(t, h.c.Play(context.Background()))
	loads := h.outs[1].loadCount()

	require.NoError(t, h.c.Next(context.Background()))

	s := h.settle(t)
	assert.Equal(t, 1, s.Index)
	assert.Equal(t, 1, s.ActiveSlot)
	assert.Equal(t, loads, h.outs[1].loadCount(), "matching preload is reused")
	assert.True(t, h.outs[0].Paused(), "previous slot is silenced")
}

func TestPreviousAndRestart(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			h := newHarness(t, strategy)
			ctx := context.Background()
			require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))
			require.NoError(t, h.c.PlayIndex(ctx, 4))

			require.NoError(t, h.c.Previous(ctx))
			assert.Equal(t, 3, h.c.Snapshot().Index)

			require.NoError(t, h.c.Restart(ctx))
			s := h.c.Snapshot()
			assert.Equal(t, 0, s.Index)
			assert.Equal(t, StatePlaying, s.State)

			require.NoError(t, h.c.Previous(ctx))
			assert.Equal(t, 0, h.c.Snapshot().Index)
		})
	}
}

func TestPlayIndex_OutOfRange(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 3, false)))

	assert.True(t, errors.Is(h.c.PlayIndex(context.Background(), 3), ErrTrackNotFound))
	assert.True(t, errors.Is(h.c.JumpTo(context.Background(), "002001"), ErrTrackNotFound))
	assert.Equal(t, StateLoaded, h.c.Snapshot().State)
}

func TestForeground(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))

	resumed, err := h.c.Foreground()
	require.NoError(t, err)
	assert.False(t, resumed, "nothing to resume while loaded")

	require.NoError(t, h.c.Play(context.Background()))
	resumed, err = h.c.Foreground()
	require.NoError(t, err)
	assert.False(t, resumed, "output is still playing")

	// The environment pauses the output behind our back.
	h.outs[0].Pause()
	resumed, err = h.c.Foreground()
	require.NoError(t, err)
	assert.True(t, resumed)

	require.Eventually(t, func() bool { return !h.outs[0].Paused() }, waitFor, tick)
	assert.Equal(t, StatePlaying, h.settle(t).State)
}

func TestEvents(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	pl := buildPlaylist(t, 1, 7, false)
	require.NoError(t, h.c.LoadPlaylist(pl))

	e := waitEvent(t, h.c, EventStateChanged)
	assert.Equal(t, StateLoaded, e.State)
	e = waitEvent(t, h.c, EventTrackChanged)
	assert.Equal(t, 0, e.Index)
	assert.Equal(t, 1, e.Track.Verse)
	assert.Same(t, pl, e.Playlist)

	require.NoError(t, h.c.Play(context.Background()))
	e = waitEvent(t, h.c, EventStateChanged)
	assert.Equal(t, StatePlaying, e.State)

	h.finishActive(t)
	e = waitEvent(t, h.c, EventTrackChanged)
	assert.Equal(t, 1, e.Index)
	assert.Equal(t, 2, e.Track.Verse)
}

func TestClose(t *testing.T) {
	h := newHarness(t, StrategyDoubleBuffered)
	require.NoError(t, h.c.LoadPlaylist(buildPlaylist(t, 1, 7, false)))
	require.NoError(t, h.c.Play(context.Background()))

	h.c.Close()
	h.c.Close()

	assert.True(t, errors.Is(h.c.Play(context.Background()), ErrClosed))
	assert.True(t, errors.Is(h.c.Pause(), ErrClosed))
	assert.False(t, h.ka.toneRunning())
	for _, out := range h.outs {
		assert.True(t, out.Paused())
	}

	for range h.c.Events() {
	}
}
