package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// L3 is the disk layer: a single sqlite file with LRU eviction by last
// access time once the size budget is exceeded. Like L2, all errors read as
// misses.
type L3 struct {
	db       *sql.DB
	maxBytes int64
	ttl      time.Duration
	now      func() time.Time
}

// NewL3 opens (creating if needed) the sqlite cache under dir.
func NewL3(dir string, maxGB float64, ttl time.Duration) (*L3, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// single writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS entries (
    key         TEXT PRIMARY KEY,
    value       BLOB NOT NULL,
    expires_at  INTEGER NOT NULL,
    accessed_at INTEGER NOT NULL,
    size        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_accessed ON entries(accessed_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &L3{
		db:       db,
		maxBytes: int64(maxGB * 1024 * 1024 * 1024),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Get fetches a live entry and bumps its access time.
func (c *L3) Get(ctx context.Context, key string) ([]byte, bool) {
	now := c.now().Unix()
	var value []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE key = ? AND expires_at > ?`, key, now).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Warn().Err(err).Msg("disk cache get failed")
		}
		return nil, false
	}
	if _, err := c.db.ExecContext(ctx,
		`UPDATE entries SET accessed_at = ? WHERE key = ?`, now, key); err != nil {
		log.Warn().Err(err).Msg("disk cache touch failed")
	}
	return value, true
}

// Set upserts an entry and evicts least-recently-accessed rows past the size
// budget.
func (c *L3) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	_, err := c.db.ExecContext(ctx, `
INSERT INTO entries(key, value, expires_at, accessed_at, size)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    value = excluded.value, expires_at = excluded.expires_at,
    accessed_at = excluded.accessed_at, size = excluded.size`,
		key, value, now.Add(ttl).Unix(), now.Unix(), len(value))
	if err != nil {
		log.Warn().Err(err).Msg("disk cache set failed")
		return
	}
	c.evict(ctx)
}

// SetWithExpiry stores an entry keeping an absolute expiry, used when
// persisting hot L1 entries at shutdown.
func (c *L3) SetWithExpiry(ctx context.Context, key string, value []byte, expires time.Time) {
	ttl := time.Until(expires)
	if ttl <= 0 {
		return
	}
	c.Set(ctx, key, value, ttl)
}

func (c *L3) evict(ctx context.Context) {
	if c.maxBytes <= 0 {
		return
	}
	var total int64
	if err := c.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM entries`).Scan(&total); err != nil {
		return
	}
	for total > c.maxBytes {
		res, err := c.db.ExecContext(ctx, `
DELETE FROM entries WHERE key IN (
    SELECT key FROM entries ORDER BY accessed_at ASC LIMIT 50)`)
		if err != nil {
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return
		}
		if err := c.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(size), 0) FROM entries`).Scan(&total); err != nil {
			return
		}
	}
}

// Delete removes one key.
func (c *L3) Delete(ctx context.Context, key string) {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		log.Warn().Err(err).Msg("disk cache del failed")
	}
}

// DeletePrefix removes all keys with the given prefix.
func (c *L3) DeletePrefix(ctx context.Context, prefix string) int {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM entries WHERE key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		log.Warn().Err(err).Msg("disk cache prefix del failed")
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

// Flush clears the layer.
func (c *L3) Flush(ctx context.Context) {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		log.Warn().Err(err).Msg("disk cache flush failed")
	}
}

// Stats reports entry count and total payload bytes.
func (c *L3) Stats(ctx context.Context) LayerStats {
	var s LayerStats
	_ = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM entries WHERE expires_at > ?`,
		c.now().Unix()).Scan(&s.Entries, &s.Bytes)
	return s
}

// Close closes the database.
func (c *L3) Close() error { return c.db.Close() }

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
