package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sejmbot/detektor/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS evaluations (
    fingerprint  TEXT PRIMARY KEY,
    is_funny     INTEGER NOT NULL,
    confidence   REAL NOT NULL,
    reason       TEXT NOT NULL,
    category     TEXT NOT NULL DEFAULT '',
    provider     TEXT NOT NULL,
    evaluated_at TEXT NOT NULL,
    created_at   TEXT NOT NULL
);
`

// SQLiteStore persists entries as rows, saved incrementally in transactions
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens (and if needed creates) the database at path
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", model.ErrCacheIO, err)
	}
	// One connection keeps writes serialized within the process
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", model.ErrCacheIO, err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file
func (s *SQLiteStore) Path() string {
	return s.path
}

// Load reads every row
func (s *SQLiteStore) Load(ctx context.Context) (map[string]model.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, is_funny, confidence, reason, category, provider, evaluated_at, created_at
		FROM evaluations`)
	if err != nil {
		return nil, fmt.Errorf("%w: query evaluations: %v", model.ErrCacheIO, err)
	}
	defer func() { _ = rows.Close() }()

	entries := make(map[string]model.CacheEntry)
	for rows.Next() {
		var (
			e                    model.CacheEntry
			funny                int
			category             string
			evaluatedAt, created string
		)
		if err := rows.Scan(&e.Fingerprint, &funny, &e.Result.Confidence, &e.Result.Reason,
			&category, &e.Result.Provider, &evaluatedAt, &created); err != nil {
			return nil, fmt.Errorf("%w: scan evaluation: %v", model.ErrCacheIO, err)
		}
		e.Result.IsFunny = funny != 0
		e.Result.Category = model.HumorCategory(category)
		if e.Result.EvaluatedAt, err = time.Parse(time.RFC3339Nano, evaluatedAt); err != nil {
			return nil, fmt.Errorf("%w: bad evaluated_at for %s: %v", model.ErrCacheIO, e.Fingerprint, err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("%w: bad created_at for %s: %v", model.ErrCacheIO, e.Fingerprint, err)
		}
		entries[e.Fingerprint] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read evaluations: %v", model.ErrCacheIO, err)
	}
	return entries, nil
}

// Save upserts entries in a single transaction
func (s *SQLiteStore) Save(ctx context.Context, entries []model.CacheEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", model.ErrCacheIO, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO evaluations (fingerprint, is_funny, confidence, reason, category, provider, evaluated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			is_funny = excluded.is_funny,
			confidence = excluded.confidence,
			reason = excluded.reason,
			category = excluded.category,
			provider = excluded.provider,
			evaluated_at = excluded.evaluated_at,
			created_at = excluded.created_at`)
	if err != nil {
		return fmt.Errorf("%w: prepare upsert: %v", model.ErrCacheIO, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		funny := 0
		if e.Result.IsFunny {
			funny = 1
		}
		if _, err = stmt.ExecContext(ctx, e.Fingerprint, funny, e.Result.Confidence, e.Result.Reason,
			string(e.Result.Category), e.Result.Provider,
			e.Result.EvaluatedAt.UTC().Format(time.RFC3339Nano), e.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("%w: upsert %s: %v", model.ErrCacheIO, e.Fingerprint, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", model.ErrCacheIO, err)
	}
	return nil
}

// Clear deletes every row
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM evaluations`); err != nil {
		return fmt.Errorf("%w: clear evaluations: %v", model.ErrCacheIO, err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
