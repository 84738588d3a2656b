// Package sqlite records finished job phases in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

const defaultTable = "scrape_jobs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// HistoryStore writes one row per finished job phase.
type HistoryStore struct {
	db    *sql.DB
	table string
}

// Open opens (or creates) the database at path and prepares the history table.
// Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path, table string) (*HistoryStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &HistoryStore{db: db, table: table}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *HistoryStore) ensureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id        TEXT    NOT NULL,
	url           TEXT    NOT NULL,
	kind          TEXT    NOT NULL,
	status        TEXT    NOT NULL,
	pages_scraped INTEGER NOT NULL,
	failed_count  INTEGER NOT NULL,
	total_urls    INTEGER NOT NULL,
	output_dir    TEXT    NOT NULL,
	message       TEXT    NOT NULL,
	started_at    TEXT    NOT NULL,
	finished_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_job_id ON %[1]s(job_id);`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordJob inserts a history row.
func (s *HistoryStore) RecordJob(ctx context.Context, record crawler.HistoryRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store is not configured")
	}
	if record.JobID == "" {
		return fmt.Errorf("record job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id, url, kind, status, pages_scraped, failed_count, total_urls,
	output_dir, message, started_at, finished_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?)`, s.table)
	_, err := s.db.ExecContext(ctx, query,
		record.JobID,
		record.URL,
		string(record.Kind),
		string(record.Status),
		record.PagesScraped,
		record.FailedCount,
		record.TotalURLs,
		record.OutputDir,
		record.Message,
		record.StartedAt.UTC().Format(time.RFC3339Nano),
		record.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Recent returns up to limit history rows, newest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]crawler.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT job_id, url, kind, status, pages_scraped, failed_count, total_urls,
	output_dir, message, started_at, finished_at
FROM %s ORDER BY id DESC LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.HistoryRecord
	for rows.Next() {
		var (
			rec               crawler.HistoryRecord
			kind, status      string
			started, finished string
		)
		if err := rows.Scan(
			&rec.JobID, &rec.URL, &kind, &status, &rec.PagesScraped, &rec.FailedCount,
			&rec.TotalURLs, &rec.OutputDir, &rec.Message, &started, &finished,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.Kind = crawler.TaskKind(kind)
		rec.Status = crawler.JobStatus(status)
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}
