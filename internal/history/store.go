// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history persists decoded scans in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// ErrNotFound is returned when a scan id does not exist.
var ErrNotFound = errors.New("scan not found")

// Entry is one recorded scan.
type Entry struct {
	ID        int64
	SessionID string
	Text      string
	Format    string
	Seq       uint64
	ScannedAt time.Time
	Elapsed   time.Duration
}

// Store provides SQLite persistence for scan history.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dbPath and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer; scans arrive one at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		text TEXT NOT NULL,
		format TEXT NOT NULL,
		seq INTEGER NOT NULL DEFAULT 0,
		scanned_at TEXT NOT NULL,
		elapsed_us INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_scans_session ON scans(session_id);
	CREATE INDEX IF NOT EXISTS idx_scans_scanned_at ON scans(scanned_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores e and returns its id. ScannedAt defaults to now.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.ScannedAt.IsZero() {
		e.ScannedAt = time.Now()
	}
	query := `
	INSERT INTO scans (session_id, text, format, seq, scanned_at, elapsed_us)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		e.SessionID, e.Text, e.Format, int64(e.Seq),
		e.ScannedAt.UTC().Format(time.RFC3339Nano), e.Elapsed.Microseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert scan: %w", err)
	}
	return res.LastInsertId()
}

// Get returns the scan with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	query := `
	SELECT id, session_id, text, format, seq, scanned_at, elapsed_us
	FROM scans
	WHERE id = ?
	`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Recent returns up to limit scans, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT id, session_id, text, format, seq, scanned_at, elapsed_us
	FROM scans
	ORDER BY id DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Count returns the number of recorded scans.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var (
		e         Entry
		seq       int64
		scannedAt string
		elapsedUS int64
	)
	if err := r.Scan(&e.ID, &e.SessionID, &e.Text, &e.Format, &seq, &scannedAt, &elapsedUS); err != nil {
		return nil, err
	}
	e.Seq = uint64(seq)
	e.Elapsed = time.Duration(elapsedUS) * time.Microsecond
	if t, err := time.Parse(time.RFC3339Nano, scannedAt); err == nil {
		e.ScannedAt = t
	}
	return &e, nil
}
