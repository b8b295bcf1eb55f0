// Package store persists sitemap documents keyed by day.
//
// The store owns the documents table and the running aggregate entry count.
// The aggregate is adjusted by delta inside the same transaction as every
// document write, never recomputed by scan outside of an explicit recount.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
)

// Document is one stored sitemap partition.
type Document struct {
	Day        partition.Day
	Content    []byte
	EntryCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is a SQLite-backed document store.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

const aggregateKey = "aggregate_entry_count"

// NewStore opens (or creates) the document database at dbPath.
// Use ":memory:" for tests.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sitemap database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sitemap_documents (
		day         TEXT PRIMARY KEY,
		content     BLOB NOT NULL,
		entry_count INTEGER NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS store_meta (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO store_meta (key, value) VALUES ('` + aggregateKey + `', 0);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the document for doc.Day and adjusts the aggregate count by
// the delta against any previous document, in one transaction. CreatedAt is
// preserved across overwrites.
func (s *Store) Save(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := entryCountTx(ctx, tx, doc.Day)
	if err != nil {
		return err
	}

	nowUnix := s.now().Unix()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sitemap_documents (day, content, entry_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(day) DO UPDATE SET
			content = excluded.content,
			entry_count = excluded.entry_count,
			updated_at = excluded.updated_at`,
		doc.Day.String(), doc.Content, doc.EntryCount, nowUnix, nowUnix,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if err := adjustAggregateTx(ctx, tx, doc.EntryCount-old); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Find returns the document for day, or nil if none exists.
func (s *Store) Find(ctx context.Context, day partition.Day) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT content, entry_count, created_at, updated_at FROM sitemap_documents WHERE day = ?",
		day.String(),
	)
	doc := Document{Day: day}
	var created, updated int64
	err := row.Scan(&doc.Content, &doc.EntryCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	doc.CreatedAt = time.Unix(created, 0).UTC()
	doc.UpdatedAt = time.Unix(updated, 0).UTC()
	return &doc, nil
}

// Exists reports whether a document is stored for day.
func (s *Store) Exists(ctx context.Context, day partition.Day) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM sitemap_documents WHERE day = ?", day.String(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query document existence: %w", err)
	}
	return true, nil
}

// Delete removes the document for day and decrements the aggregate count.
// Deleting an absent document is not an error; removed reports whether a
// document was actually dropped.
func (s *Store) Delete(ctx context.Context, day partition.Day) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := entryCountTx(ctx, tx, day)
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM sitemap_documents WHERE day = ?", day.String())
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("count deleted rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := adjustAggregateTx(ctx, tx, -old); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return true, nil
}

// DeleteMatching bulk-deletes documents matching the year/month/day queries
// and returns how many were removed. An empty query list is rejected.
func (s *Store) DeleteMatching(ctx context.Context, queries []partition.Query) (int, error) {
	if len(queries) == 0 {
		return 0, smerr.New(smerr.CodeNoQueries, "no date queries given")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleted := 0
	removedEntries := 0
	for _, q := range queries {
		from, to := q.Bounds()

		var count, entries sql.NullInt64
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*), COALESCE(SUM(entry_count), 0) FROM sitemap_documents WHERE day >= ? AND day < ?",
			from, to,
		).Scan(&count, &entries)
		if err != nil {
			return 0, fmt.Errorf("count matching documents: %w", err)
		}
		if count.Int64 == 0 {
			continue
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM sitemap_documents WHERE day >= ? AND day < ?", from, to,
		); err != nil {
			return 0, fmt.Errorf("delete matching documents: %w", err)
		}
		deleted += int(count.Int64)
		removedEntries += int(entries.Int64)
	}

	if removedEntries != 0 {
		if err := adjustAggregateTx(ctx, tx, -removedEntries); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk delete: %w", err)
	}
	return deleted, nil
}

// DeleteAll removes every document and zeroes the aggregate count.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete all: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM sitemap_documents")
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE store_meta SET value = 0 WHERE key = ?", aggregateKey,
	); err != nil {
		return 0, fmt.Errorf("reset aggregate count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete all: %w", err)
	}
	return int(n), nil
}

// Days returns every day with a stored document, ascending.
func (s *Store) Days(ctx context.Context) ([]partition.Day, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT day FROM sitemap_documents ORDER BY day")
	if err != nil {
		return nil, fmt.Errorf("query document days: %w", err)
	}
	defer rows.Close()

	var days []partition.Day
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan document day: %w", err)
		}
		day, err := partition.ParseDay(raw)
		if err != nil {
			return nil, fmt.Errorf("stored day %q: %w", raw, err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document days: %w", err)
	}
	return days, nil
}

// Summary is a stored document row without its content.
type Summary struct {
	Day        partition.Day
	EntryCount int
	UpdatedAt  time.Time
}

// Summaries lists all stored documents without their content, ascending by
// day. Index serving uses this to avoid loading every document body.
func (s *Store) Summaries(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT day, entry_count, updated_at FROM sitemap_documents ORDER BY day")
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var raw string
		var sum Summary
		var updated int64
		if err := rows.Scan(&raw, &sum.EntryCount, &updated); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		day, err := partition.ParseDay(raw)
		if err != nil {
			return nil, fmt.Errorf("stored day %q: %w", raw, err)
		}
		sum.Day = day
		sum.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return out, nil
}

// EntryCounts returns the stored entry count per day in one query.
func (s *Store) EntryCounts(ctx context.Context) (map[partition.Day]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT day, entry_count FROM sitemap_documents ORDER BY day")
	if err != nil {
		return nil, fmt.Errorf("query entry counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[partition.Day]int)
	for rows.Next() {
		var raw string
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("scan entry count: %w", err)
		}
		day, err := partition.ParseDay(raw)
		if err != nil {
			return nil, fmt.Errorf("stored day %q: %w", raw, err)
		}
		counts[day] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry counts: %w", err)
	}
	return counts, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sitemap_documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// AggregateCount returns the running total of entry_count over all documents.
func (s *Store) AggregateCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM store_meta WHERE key = ?", aggregateKey,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("query aggregate count: %w", err)
	}
	return n, nil
}

// SetEntryCount corrects a stored document's entry count and adjusts the
// aggregate by the delta. Used by recount; absent days are ignored.
func (s *Store) SetEntryCount(ctx context.Context, day partition.Day, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recount update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := entryCountTx(ctx, tx, day)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE sitemap_documents SET entry_count = ?, updated_at = ? WHERE day = ?",
		count, s.now().Unix(), day.String(),
	)
	if err != nil {
		return fmt.Errorf("update entry count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("count updated rows: %w", err)
	}
	if n == 0 {
		return nil
	}

	if err := adjustAggregateTx(ctx, tx, count-old); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recount update: %w", err)
	}
	return nil
}

// SetAggregateCount overwrites the aggregate total. Used by recount to wipe
// accumulated drift after re-deriving the real sum.
func (s *Store) SetAggregateCount(ctx context.Context, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE store_meta SET value = ? WHERE key = ?", total, aggregateKey,
	)
	if err != nil {
		return fmt.Errorf("set aggregate count: %w", err)
	}
	return nil
}

// entryCountTx returns the stored entry count for day, or 0 if absent.
func entryCountTx(ctx context.Context, tx *sql.Tx, day partition.Day) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT entry_count FROM sitemap_documents WHERE day = ?", day.String(),
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query previous entry count: %w", err)
	}
	return n, nil
}

func adjustAggregateTx(ctx context.Context, tx *sql.Tx, delta int) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE store_meta SET value = value + ? WHERE key = ?", delta, aggregateKey,
	); err != nil {
		return fmt.Errorf("adjust aggregate count: %w", err)
	}
	return nil
}
