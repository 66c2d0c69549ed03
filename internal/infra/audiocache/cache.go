// Package audiocache provides a durable, URL-keyed audio file cache with LRU eviction.
package audiocache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Config holds cache configuration.
type Config struct {
	Dir        string // Directory holding audio files and the index
	LimitBytes int64  // Total size limit; 0 disables eviction
}

// Stats summarizes cache usage.
type Stats struct {
	Entries    int
	TotalBytes int64
	LimitBytes int64
}

// Entry describes one cached resource.
type Entry struct {
	URL        string
	Path       string
	Bytes      int64
	AccessedAt time.Time
}

// Cache stores fetched audio on disk. Safe for concurrent use.
type Cache struct {
	cfg  Config
	db   *sql.DB
	repo *repo

	evictMu sync.Mutex
}

// Open prepares the cache directory and its index.
func Open(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, "tmp"), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache dir")
	}

	db, err := openIndex(cfg.Dir)
	if err != nil {
		return nil, err
	}

	return &Cache{cfg: cfg, db: db, repo: &repo{db: db}}, nil
}

// Close closes the index.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key returns the hash naming the cached file for url.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) pathFor(hash string) string {
	return filepath.Join(c.cfg.Dir, hash)
}

// Has reports whether url is cached, without touching its access time.
func (c *Cache) Has(ctx context.Context, url string) bool {
	hash := Key(url)
	ok, err := c.repo.exists(ctx, hash)
	if err != nil {
		zlog.Warn().Err(err).Msgf("audiocache: index lookup failed: url=%s", url)
		return false
	}
	if !ok {
		return false
	}
	if _, err := os.Stat(c.pathFor(hash)); err != nil {
		_ = c.repo.remove(ctx, hash)
		return false
	}
	return true
}

// Lookup returns the local path for url and marks it recently used.
func (c *Cache) Lookup(ctx context.Context, url string) (string, bool) {
	if !c.Has(ctx, url) {
		return "", false
	}
	hash := Key(url)
	if err := c.repo.touch(ctx, hash); err != nil {
		zlog.Warn().Err(err).Msgf("audiocache: touch failed: url=%s", url)
	}
	return c.pathFor(hash), true
}

// Put stores the content of src under url and returns the local path.
// An existing entry is overwritten. Eviction runs after the write.
func (c *Cache) Put(ctx context.Context, url string, src io.Reader) (string, error) {
	hash := Key(url)
	final := c.pathFor(hash)

	f, err := os.CreateTemp(filepath.Join(c.cfg.Dir, "tmp"), hash+"-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp file")
	}
	tmp := f.Name()

	size, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrapf(err, "failed to write %s", url)
	}
	if size == 0 {
		_ = os.Remove(tmp)
		return "", errors.Newf("empty body for %s", url)
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "failed to commit cache file")
	}
	if err := c.repo.upsert(ctx, hash, url, size); err != nil {
		return "", errors.Wrap(err, "failed to index cache file")
	}

	zlog.Debug().Msgf("audiocache: stored: url=%s bytes=%d", url, size)

	if err := c.evictIfNeeded(ctx, hash); err != nil {
		zlog.Warn().Err(err).Msg("audiocache: eviction failed")
	}
	return final, nil
}

// Remove drops url from the cache.
func (c *Cache) Remove(ctx context.Context, url string) error {
	hash := Key(url)
	if err := os.Remove(c.pathFor(hash)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove cache file")
	}
	return c.repo.remove(ctx, hash)
}

// Stats returns current usage.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	total, err := c.repo.totalBytes(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "failed to sum cache size")
	}
	n, err := c.repo.count(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "failed to count cache entries")
	}
	return Stats{Entries: n, TotalBytes: total, LimitBytes: c.cfg.LimitBytes}, nil
}

// Entries lists cached resources, most recently used first.
func (c *Cache) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := c.repo.list(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache entries")
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{URL: r.URL, Path: c.pathFor(r.Hash), Bytes: r.Bytes, AccessedAt: r.AccessedAt})
	}
	return out, nil
}

// evictIfNeeded removes least recently used entries until the total fits.
// keep is never evicted, so a single oversized file survives its own write.
func (c *Cache) evictIfNeeded(ctx context.Context, keep string) error {
	if c.cfg.LimitBytes <= 0 {
		return nil
	}

	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	total, err := c.repo.totalBytes(ctx)
	if err != nil {
		return err
	}
	for total > c.cfg.LimitBytes {
		oldest, ok, err := c.repo.oldest(ctx, keep)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		_ = os.Remove(c.pathFor(oldest))
		if err := c.repo.remove(ctx, oldest); err != nil {
			return err
		}
		zlog.Debug().Msgf("audiocache: evicted: hash=%s", oldest)

		total, err = c.repo.totalBytes(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}
