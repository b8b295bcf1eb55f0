package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
)

// SQLiteSource reads a CMS content database.
//
// The database is owned by the CMS; this source only queries it. Expected
// table:
//
//	content_items(
//		id           INTEGER PRIMARY KEY,
//		slug         TEXT NOT NULL,
//		kind         TEXT NOT NULL,
//		title        TEXT NOT NULL,
//		body         TEXT NOT NULL DEFAULT '',
//		status       TEXT NOT NULL,
//		published_at INTEGER NOT NULL,  -- unix seconds
//		updated_at   INTEGER NOT NULL   -- unix seconds
//	)
//
// Only rows with status = 'published' are live. Bodies are rendered HTML.
type SQLiteSource struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteSource opens the content database at dbPath.
// Use ":memory:" for an in-memory database in tests.
func NewSQLiteSource(dbPath string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open content database: %w", err)
	}

	source := &SQLiteSource{db: db}
	if err := source.probe(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("probe content database: %w", err)
	}
	return source, nil
}

// probe verifies the expected table exists so misconfiguration surfaces at
// startup instead of on the first tick.
func (s *SQLiteSource) probe() error {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM content_items LIMIT 1").Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for test seeding.
func (s *SQLiteSource) DB() *sql.DB {
	return s.db
}

func dayBounds(day partition.Day) (int64, int64) {
	return day.Time().Unix(), day.End().Unix()
}

func (s *SQLiteSource) HasContent(ctx context.Context, day partition.Day) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := dayBounds(day)
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM content_items WHERE status = 'published' AND published_at >= ? AND published_at < ?)",
		from, to,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query content existence: %w", err)
	}
	return exists == 1, nil
}

func (s *SQLiteSource) LiveCount(ctx context.Context, day partition.Day) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := dayBounds(day)
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM content_items WHERE status = 'published' AND published_at >= ? AND published_at < ?",
		from, to,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count content items: %w", err)
	}
	return count, nil
}

func (s *SQLiteSource) ItemsFor(ctx context.Context, day partition.Day) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := dayBounds(day)
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, kind, title, body, published_at, updated_at
		 FROM content_items
		 WHERE status = 'published' AND published_at >= ? AND published_at < ?
		 ORDER BY published_at, id`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query content items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var published, updated int64
		if err := rows.Scan(&item.Slug, &item.Kind, &item.Title, &item.Body, &published, &updated); err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		item.BodyFormat = FormatHTML
		item.PublishedAt = time.Unix(published, 0).UTC()
		item.ModifiedAt = time.Unix(updated, 0).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content items: %w", err)
	}
	return items, nil
}

func (s *SQLiteSource) ModifiedSince(ctx context.Context, since time.Time) ([]Modification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT published_at, updated_at FROM content_items WHERE status = 'published' AND updated_at >= ? ORDER BY published_at, id",
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query modified items: %w", err)
	}
	defer rows.Close()

	var mods []Modification
	for rows.Next() {
		var published, updated int64
		if err := rows.Scan(&published, &updated); err != nil {
			return nil, fmt.Errorf("scan modified item: %w", err)
		}
		mods = append(mods, Modification{
			Day:        partition.DayOf(time.Unix(published, 0).UTC()),
			ModifiedAt: time.Unix(updated, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modified items: %w", err)
	}
	return mods, nil
}

func (s *SQLiteSource) DaysWithContent(ctx context.Context) ([]partition.Day, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Unix seconds divided by 86400 bucket into UTC days.
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT published_at / 86400 FROM content_items WHERE status = 'published' ORDER BY 1",
	)
	if err != nil {
		return nil, fmt.Errorf("query content days: %w", err)
	}
	defer rows.Close()

	var days []partition.Day
	for rows.Next() {
		var epochDay int64
		if err := rows.Scan(&epochDay); err != nil {
			return nil, fmt.Errorf("scan content day: %w", err)
		}
		days = append(days, partition.DayOf(time.Unix(epochDay*86400, 0).UTC()))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content days: %w", err)
	}
	return days, nil
}
