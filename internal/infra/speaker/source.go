package speaker

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Cache is the local audio store consulted before the network.
type Cache interface {
	Lookup(ctx context.Context, url string) (string, bool)
	Put(ctx context.Context, url string, src io.Reader) (string, error)
}

// Fetcher downloads a remote resource.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Ensurer downloads a resource into the cache and returns its local path,
// sharing any download already in flight for the same url.
type Ensurer interface {
	Ensure(ctx context.Context, url string) (string, error)
}

// ReadSeekCloser is a seekable audio source.
type ReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

// Resolver opens track sources. Local paths open directly; remote URLs are
// served from the cache, downloading into it on a miss.
type Resolver struct {
	cache   Cache   // Optional
	ensurer Ensurer // Optional
	fetcher Fetcher
}

// NewResolver creates a resolver. cache and ensurer may be nil. With an
// ensurer, cache misses join the prefetcher's downloads.
func NewResolver(cache Cache, ensurer Ensurer, fetcher Fetcher) *Resolver {
	return &Resolver{cache: cache, ensurer: ensurer, fetcher: fetcher}
}

// Open returns a seekable reader for url.
func (r *Resolver) Open(ctx context.Context, url string) (ReadSeekCloser, error) {
	if !isRemote(url) {
		f, err := os.Open(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", url)
		}
		return f, nil
	}

	if r.cache != nil {
		if path, ok := r.cache.Lookup(ctx, url); ok {
			if f, err := os.Open(path); err == nil {
				return f, nil
			}
		}
	}

	if r.ensurer != nil {
		path, err := r.ensurer.Ensure(ctx, url)
		if err == nil {
			if f, err := os.Open(path); err == nil {
				return f, nil
			}
		} else if ctx.Err() != nil {
			return nil, err
		} else {
			zlog.Warn().Err(err).Msgf("speaker: shared download failed, fetching directly: url=%s", url)
		}
	}

	if r.fetcher == nil {
		return nil, errors.Newf("no fetcher for %s", url)
	}
	body, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if r.cache != nil {
		f, err := r.store(ctx, url, body)
		if err == nil {
			return f, nil
		}
		// The body is consumed; fetch again into memory.
		zlog.Warn().Err(err).Msgf("speaker: cache write failed, buffering in memory: url=%s", url)
		body.Close()
		if body, err = r.fetcher.Fetch(ctx, url); err != nil {
			return nil, err
		}
		defer body.Close()
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", url)
	}
	return memSource{bytes.NewReader(data)}, nil
}

func (r *Resolver) store(ctx context.Context, url string, body io.Reader) (*os.File, error) {
	path, err := r.cache.Put(ctx, url, body)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

type memSource struct {
	*bytes.Reader
}

func (memSource) Close() error { return nil }

func isRemote(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
