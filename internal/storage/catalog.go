// Package storage provides the SQLite source catalog used for incremental ingestion.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SourceRecord tracks one ingested source file: its size and mtime at ingestion
// time (for unchanged-file skipping) and how many chunks it contributed.
type SourceRecord struct {
	Source    string
	Mtime     int64
	Size      int64
	Chunks    int
	IndexedAt time.Time
}

// Catalog persists source bookkeeping in SQLite.
type Catalog struct {
	db *sql.DB
}

// NewCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewCatalog(dbPath string) (*Catalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		source TEXT PRIMARY KEY,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL,
		chunks INTEGER NOT NULL,
		indexed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sources_indexed_at ON sources(indexed_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Upsert inserts or replaces the record for rec.Source.
func (c *Catalog) Upsert(ctx context.Context, rec *SourceRecord) error {
	if rec.IndexedAt.IsZero() {
		rec.IndexedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sources (source, mtime, size, chunks, indexed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET
		   mtime=excluded.mtime, size=excluded.size, chunks=excluded.chunks, indexed_at=excluded.indexed_at`,
		rec.Source, rec.Mtime, rec.Size, rec.Chunks, rec.IndexedAt,
	)
	return err
}

// Get returns the record for source, or an error if not present.
func (c *Catalog) Get(ctx context.Context, source string) (*SourceRecord, error) {
	var rec SourceRecord
	err := c.db.QueryRowContext(ctx,
		`SELECT source, mtime, size, chunks, indexed_at FROM sources WHERE source = ?`, source,
	).Scan(&rec.Source, &rec.Mtime, &rec.Size, &rec.Chunks, &rec.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source not found: %s", source)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns all records ordered by source.
func (c *Catalog) List(ctx context.Context) ([]*SourceRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT source, mtime, size, chunks, indexed_at FROM sources ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SourceRecord
	for rows.Next() {
		var rec SourceRecord
		if err := rows.Scan(&rec.Source, &rec.Mtime, &rec.Size, &rec.Chunks, &rec.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Delete removes the record for source. Missing rows are not an error.
func (c *Catalog) Delete(ctx context.Context, source string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sources WHERE source = ?`, source)
	return err
}

// Clear removes all records. Used when a corrupted index pair forces a rebuild.
func (c *Catalog) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sources`)
	return err
}

// Counts returns the number of sources and the total chunk count.
func (c *Catalog) Counts(ctx context.Context) (sources int64, chunks int64, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(chunks), 0) FROM sources`).Scan(&sources, &chunks)
	return sources, chunks, err
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
