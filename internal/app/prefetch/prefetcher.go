// Package prefetch warms the audio cache with upcoming tracks in the background.
package prefetch

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/osa030/tilawa/internal/domain/playlist"
)

// ErrPrefetchFailed marks background fetch failures. They are logged, never returned to playback.
var ErrPrefetchFailed = errors.New("prefetch failed")

// DefaultCount is the number of upcoming tracks warmed per refresh.
const DefaultCount = 3

// Store is the durable keyed cache prefetched resources land in.
type Store interface {
	Has(ctx context.Context, url string) bool
	Lookup(ctx context.Context, url string) (string, bool)
	Put(ctx context.Context, url string, r io.Reader) (string, error)
}

// Fetcher retrieves a resource from the network.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Config holds prefetcher configuration.
type Config struct {
	Count       int // Upcoming tracks per refresh
	Concurrency int // Parallel fetches for Warm
}

// WarmResult summarizes a Warm run.
type WarmResult struct {
	Fetched int
	Skipped int
	Failed  int
}

// Prefetcher issues fire-and-forget fetches into a Store.
// Requests for the same URL collapse into one in-flight download, whether
// they come from Prefetch, Warm or Ensure. Downloads run on the prefetcher's
// own context, so a caller giving up does not abort them.
type Prefetcher struct {
	store       Store
	fetcher     Fetcher
	count       int
	concurrency int

	group singleflight.Group
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a prefetcher.
func New(store Store, fetcher Fetcher, cfg Config) *Prefetcher {
	count := cfg.Count
	if count <= 0 {
		count = DefaultCount
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		store:       store,
		fetcher:     fetcher,
		count:       count,
		concurrency: concurrency,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Count returns how many upcoming tracks a refresh covers.
func (p *Prefetcher) Count() int {
	return p.count
}

// Refresh starts background fetches for the tracks following active. It never blocks.
func (p *Prefetcher) Refresh(pl *playlist.Playlist, active int) {
	for _, d := range pl.Upcoming(active, p.count) {
		if d.IsChime() {
			continue
		}
		p.Prefetch(d.URL)
	}
}

// Prefetch starts a background fetch of url unless it is already cached.
func (p *Prefetcher) Prefetch(url string) {
	if !isNetworkURL(url) {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if _, err := p.fetch(p.ctx, url); err != nil {
			if p.ctx.Err() != nil {
				return
			}
			zlog.Warn().Err(err).Msgf("prefetch: background fetch failed: url=%s", url)
		}
	}()
}

// Warm fetches every URL synchronously with bounded parallelism.
// A single failure does not stop the others.
func (p *Prefetcher) Warm(ctx context.Context, urls []string) (WarmResult, error) {
	var fetched, skipped, failed atomic.Int32

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, url := range urls {
		if !isNetworkURL(url) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			did, err := p.fetch(ctx, url)
			switch {
			case err != nil:
				failed.Add(1)
				zlog.Warn().Err(err).Msgf("prefetch: warm failed: url=%s", url)
			case did:
				fetched.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := WarmResult{
		Fetched: int(fetched.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
	if result.Failed > 0 {
		return result, errors.Mark(errors.Newf("%d of %d fetches failed", result.Failed, len(urls)), ErrPrefetchFailed)
	}
	return result, nil
}

// Ensure returns the cached path of url, downloading it first on a miss.
// It joins a download already in flight for url instead of starting another.
func (p *Prefetcher) Ensure(ctx context.Context, url string) (string, error) {
	if !isNetworkURL(url) {
		return "", errors.Newf("not a network url: %s", url)
	}
	if path, ok := p.store.Lookup(ctx, url); ok {
		return path, nil
	}
	if _, err := p.fetch(ctx, url); err != nil {
		return "", err
	}
	path, ok := p.store.Lookup(ctx, url)
	if !ok {
		return "", errors.Mark(errors.Newf("%s missing from cache after download", url), ErrPrefetchFailed)
	}
	return path, nil
}

// Wait blocks until in-flight background fetches finish.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

// Close cancels background fetches and waits for them.
func (p *Prefetcher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// fetch stores url in the cache. It reports false when the entry was already present.
// ctx bounds only the wait; the shared download stops when the prefetcher closes.
func (p *Prefetcher) fetch(ctx context.Context, url string) (bool, error) {
	ch := p.group.DoChan(url, func() (any, error) {
		return p.download(url)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *Prefetcher) download(url string) (bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, errors.Mark(errors.Newf("prefetcher closed: %s", url), ErrPrefetchFailed)
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	ctx := p.ctx
	if p.store.Has(ctx, url) {
		return false, nil
	}

	body, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return false, errors.Mark(errors.Wrapf(err, "fetch %s", url), ErrPrefetchFailed)
	}
	defer body.Close()

	if _, err := p.store.Put(ctx, url, body); err != nil {
		return false, errors.Mark(errors.Wrapf(err, "store %s", url), ErrPrefetchFailed)
	}
	zlog.Debug().Msgf("prefetch: cached: url=%s", url)
	return true, nil
}

func isNetworkURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
