package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osa030/tilawa/internal/domain/chapter"
	"github.com/osa030/tilawa/internal/domain/narrator"
	"github.com/osa030/tilawa/internal/domain/playlist"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeOutput records calls and lets tests hold Play open and fire completion.
type fakeOutput struct {
	mu       sync.Mutex
	source   string
	loads    []string
	plays    int
	returns  int
	paused   bool
	position time.Duration
	onEnded  func()
	gate     chan struct{}
	playErr  error
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{paused: true}
}

func (f *fakeOutput) Load(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
	f.source = url
	f.paused = true
	f.position = 0
}

func (f *fakeOutput) Source() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.source
}

func (f *fakeOutput) Play(ctx context.Context) error {
	f.mu.Lock()
	f.plays++
	gate := f.gate
	err := f.playErr
	f.playErr = nil
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.returns++
	if err != nil {
		return err
	}
	f.paused = false
	return nil
}

func (f *fakeOutput) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *fakeOutput) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	f.position = 0
}

func (f *fakeOutput) Unload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = ""
	f.paused = true
}

func (f *fakeOutput) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *fakeOutput) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeOutput) OnEnded(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnded = fn
}

// finish simulates natural completion of the current source.
func (f *fakeOutput) finish() {
	f.mu.Lock()
	f.paused = true
	fn := f.onEnded
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// hold makes subsequent Play calls block until the returned func is called.
func (f *fakeOutput) hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.gate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *fakeOutput) failNextPlay(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playErr = err
}

func (f *fakeOutput) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakeOutput) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

// returnCount reports how many Play calls have completed.
func (f *fakeOutput) returnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.returns
}

type fakeKeepalive struct {
	mu      sync.Mutex
	inits   int
	running bool
	starts  int
}

func (k *fakeKeepalive) Initialize(context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.inits++
}

func (k *fakeKeepalive) StartTone() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		k.starts++
	}
	k.running = true
}

func (k *fakeKeepalive) StopTone() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.running = false
}

func (k *fakeKeepalive) toneRunning() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

func (k *fakeKeepalive) initCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.inits
}

type fakePrefetcher struct {
	mu      sync.Mutex
	actives []int
}

func (p *fakePrefetcher) Refresh(_ *playlist.Playlist, active int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actives = append(p.actives, active)
}

func (p *fakePrefetcher) calls() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.actives))
	copy(out, p.actives)
	return out
}

type harness struct {
	c        *Controller
	outs     []*fakeOutput
	ka       *fakeKeepalive
	prefetch *fakePrefetcher
}

func newHarness(t *testing.T, strategy Strategy) *harness {
	t.Helper()
	h := &harness{
		outs:     []*fakeOutput{newFakeOutput(), newFakeOutput()},
		ka:       &fakeKeepalive{},
		prefetch: &fakePrefetcher{},
	}
	c, err := NewController(Config{
		Strategy:    strategy,
		Keepalive:   h.ka,
		Prefetcher:  h.prefetch,
		EventBuffer: 256,
	}, h.outs[0], h.outs[1])
	require.NoError(t, err)
	t.Cleanup(c.Close)
	h.c = c
	return h
}

// active returns the fake behind the active slot.
func (h *harness) active() *fakeOutput {
	return h.outs[h.c.Snapshot().ActiveSlot]
}

// settle waits until no play is in flight.
func (h *harness) settle(t *testing.T) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return !h.c.Snapshot().PlayInFlight
	}, waitFor, tick)
	return h.c.Snapshot()
}

// finishActive completes the active track and waits for the index to move
// or for playback to come to rest.
func (h *harness) finishActive(t *testing.T) Snapshot {
	t.Helper()
	before := h.settle(t)
	require.Equal(t, StatePlaying, before.State)
	h.outs[before.ActiveSlot].finish()
	require.Eventually(t, func() bool {
		s := h.c.Snapshot()
		return s.Index != before.Index || s.State != StatePlaying
	}, waitFor, tick)
	return h.settle(t)
}

func waitEvent(t *testing.T, c *Controller, want EventType) Event {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case e, ok := <-c.Events():
			require.True(t, ok, "event channel closed")
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

var (
	testChapter  = chapter.Chapter{Number: 1, VerseCount: 7, Name: "Al-Fatihah"}
	testNarrator = narrator.Narrator{ID: "mishary", Name: "Mishary", URLPath: "Alafasy_128kbps"}
	testBuilder  = playlist.NewBuilder(playlist.BuilderConfig{
		AudioHost: "https://audio.test/data",
		Extension: "mp3",
		ChimeURL:  "https://audio.test/chime.mp3",
	})
)

func buildPlaylist(t *testing.T, start, end int, repeat bool) *playlist.Playlist {
	t.Helper()
	pl, err := testBuilder.Build(testChapter, playlist.Range{Start: start, End: end}, testNarrator, repeat)
	require.NoError(t, err)
	return pl
}

var strategies = []Strategy{StrategyDoubleBuffered, StrategySingle}
