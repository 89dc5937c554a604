package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/meshbridge/pkg/cache"
	"github.com/pario-ai/meshbridge/pkg/models"
)

// Cache is a content-addressed asset index backed by SQLite.
type Cache struct {
	db     *sql.DB
	hits   atomic.Int64
	misses atomic.Int64
}

var _ cache.Cache = (*Cache)(nil)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY,
	asset_ref TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// New opens (or creates) the cache database at dbPath.
func New(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db}, nil
}

// Get retrieves the asset reference for key.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	var ref string
	err := c.db.QueryRowContext(ctx,
		`SELECT asset_ref FROM cache_entries WHERE cache_key = ?`, key,
	).Scan(&ref)

	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}

	c.hits.Add(1)
	return ref, true, nil
}

// Put stores ref under key. An existing row is never replaced.
func (c *Cache) Put(ctx context.Context, key, ref string) error {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO cache_entries (cache_key, asset_ref, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO NOTHING`,
		key, ref, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var existing string
	if err := c.db.QueryRowContext(ctx,
		`SELECT asset_ref FROM cache_entries WHERE cache_key = ?`, key,
	).Scan(&existing); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	if existing != ref {
		return fmt.Errorf("put %s: %w", key, cache.ErrConflict)
	}
	return nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Backend: "sqlite",
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
