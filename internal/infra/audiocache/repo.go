package audiocache

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

type entry struct {
	Hash       string
	URL        string
	Bytes      int64
	AccessedAt time.Time
}

type repo struct {
	db *sql.DB
}

func (r *repo) touch(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE file_cache SET accessed_at=? WHERE hash=?`,
		time.Now().UnixNano(), hash)
	return err
}

func (r *repo) upsert(ctx context.Context, hash, url string, size int64) error {
	now := time.Now().UnixNano()
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO file_cache(hash,url,bytes,accessed_at,created_at)
		 VALUES (?,?,?,?,COALESCE((SELECT created_at FROM file_cache WHERE hash=?),?))`,
		hash, url, size, now, hash, now)
	return err
}

func (r *repo) exists(ctx context.Context, hash string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT 1 FROM file_cache WHERE hash=?`, hash)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) remove(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM file_cache WHERE hash=?`, hash)
	return err
}

func (r *repo) totalBytes(ctx context.Context) (int64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(bytes),0) FROM file_cache`)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r *repo) count(ctx context.Context) (int, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_cache`)
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// oldest returns the least recently used entry other than keep.
// ok is false when there is none.
func (r *repo) oldest(ctx context.Context, keep string) (string, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT hash FROM file_cache WHERE hash<>? ORDER BY accessed_at ASC, created_at ASC LIMIT 1`, keep)
	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return hash, true, nil
}

func (r *repo) list(ctx context.Context) ([]entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT hash, url, bytes, accessed_at FROM file_cache ORDER BY accessed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entry
	for rows.Next() {
		var e entry
		var accessed int64
		if err := rows.Scan(&e.Hash, &e.URL, &e.Bytes, &accessed); err != nil {
			return nil, err
		}
		e.AccessedAt = time.Unix(0, accessed)
		out = append(out, e)
	}
	return out, rows.Err()
}
