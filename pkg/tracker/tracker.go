// Package tracker keeps a SQLite ledger of resolved generations.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/meshbridge/pkg/models"
)

// Tracker records and queries generations.
type Tracker interface {
	// Record stores a generation record.
	Record(ctx context.Context, rec models.GenerationRecord) error
	// Summary aggregates records by source since a given time.
	Summary(ctx context.Context, since time.Time) ([]models.GenerationSummary, error)
	// Recent returns the latest records, newest first.
	Recent(ctx context.Context, limit int) ([]models.GenerationRecord, error)
	// BySession returns a design session's records in insertion order.
	BySession(ctx context.Context, sessionID string) ([]models.GenerationRecord, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

var _ Tracker = (*SQLiteTracker)(nil)

const createTable = `
CREATE TABLE IF NOT EXISTS generation_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cache_key TEXT NOT NULL,
	prompt TEXT NOT NULL,
	seed INTEGER NOT NULL,
	guidance_scale REAL NOT NULL,
	steps INTEGER NOT NULL,
	source TEXT NOT NULL,
	url TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_generation_time ON generation_records(created_at);
CREATE INDEX IF NOT EXISTS idx_generation_session ON generation_records(session_id);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

const selectColumns = `SELECT id, cache_key, prompt, seed, guidance_scale, steps, source, url, session_id, duration_ms, created_at
	 FROM generation_records`

// Record stores a generation record. A zero CreatedAt is set to now.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.GenerationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO generation_records (cache_key, prompt, seed, guidance_scale, steps, source, url, session_id, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CacheKey, rec.Prompt, rec.Seed, rec.GuidanceScale, rec.Steps,
		string(rec.Source), rec.URL, rec.SessionID, rec.DurationMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record generation: %w", err)
	}
	return nil
}

// Summary returns counts, total duration and distinct keys per source.
func (t *SQLiteTracker) Summary(ctx context.Context, since time.Time) ([]models.GenerationSummary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT source, COUNT(*), COALESCE(SUM(duration_ms), 0), COUNT(DISTINCT cache_key)
		 FROM generation_records WHERE created_at >= ?
		 GROUP BY source ORDER BY source`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.GenerationSummary
	for rows.Next() {
		var s models.GenerationSummary
		var source string
		if err := rows.Scan(&source, &s.Count, &s.TotalDuration, &s.DistinctKeys); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Source = models.Source(source)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Recent returns at most limit records, newest first.
func (t *SQLiteTracker) Recent(ctx context.Context, limit int) ([]models.GenerationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return t.query(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// BySession returns the records of one design session, oldest first.
func (t *SQLiteTracker) BySession(ctx context.Context, sessionID string) ([]models.GenerationRecord, error) {
	return t.query(ctx, selectColumns+` WHERE session_id = ? ORDER BY id ASC`, sessionID)
}

func (t *SQLiteTracker) query(ctx context.Context, query string, args ...any) ([]models.GenerationRecord, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var records []models.GenerationRecord
	for rows.Next() {
		var r models.GenerationRecord
		var source string
		if err := rows.Scan(&r.ID, &r.CacheKey, &r.Prompt, &r.Seed, &r.GuidanceScale, &r.Steps,
			&source, &r.URL, &r.SessionID, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		r.Source = models.Source(source)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
