// Package state persists the single generation run, its pending work queue,
// and the last-completed watermark.
//
// Exactly one logical run exists. Begin performs a compare-and-set on the
// run row, so a second start while a run is active fails with
// already_running instead of corrupting counters. Correctness otherwise
// relies on a single logical writer, not on locking.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
)

// RunState is the lifecycle state of the generation run.
type RunState string

const (
	RunIdle    RunState = "idle"
	RunRunning RunState = "running"
	RunHalting RunState = "halting"
)

// RunKind distinguishes what seeded the work set.
type RunKind string

const (
	RunKindIncremental RunKind = "incremental"
	RunKindFull        RunKind = "full"
)

// Run is the persisted generation run record.
type Run struct {
	ID        string
	Kind      RunKind
	State     RunState
	Total     int
	Completed int
	StartedAt time.Time
}

// Remaining returns how many partitions are still owed.
func (r Run) Remaining() int {
	if n := r.Total - r.Completed; n > 0 {
		return n
	}
	return 0
}

// Active reports whether a run is running or halting.
func (r Run) Active() bool {
	return r.State != RunIdle
}

const watermarkKey = "last_completed_watermark"

// Store is the SQLite-backed run/work/watermark persistence.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewStore opens (or creates) the state database at dbPath. The state
// tables can share a database file with the document store.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
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
	CREATE TABLE IF NOT EXISTS generation_run (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		state      TEXT NOT NULL DEFAULT 'idle',
		run_id     TEXT NOT NULL DEFAULT '',
		kind       TEXT NOT NULL DEFAULT '',
		total      INTEGER NOT NULL DEFAULT 0,
		completed  INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO generation_run (id) VALUES (1);
	CREATE TABLE IF NOT EXISTS work_queue (
		position INTEGER PRIMARY KEY AUTOINCREMENT,
		day      TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS state_meta (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Current returns the persisted run record.
func (s *Store) Current(ctx context.Context) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(ctx)
}

func (s *Store) currentLocked(ctx context.Context) (Run, error) {
	var run Run
	var startedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT state, run_id, kind, total, completed, started_at FROM generation_run WHERE id = 1",
	).Scan((*string)(&run.State), &run.ID, (*string)(&run.Kind), &run.Total, &run.Completed, &startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("query run state: %w", err)
	}
	if startedAt > 0 {
		run.StartedAt = time.Unix(startedAt, 0).UTC()
	}
	return run, nil
}

// IsIdle reports whether no run is active.
func (s *Store) IsIdle(ctx context.Context) (bool, error) {
	run, err := s.Current(ctx)
	if err != nil {
		return false, err
	}
	return run.State == RunIdle, nil
}

// Begin transitions idle -> running and stamps a fresh run. It fails with
// already_running if a run is active.
func (s *Store) Begin(ctx context.Context, kind RunKind, total int) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	startedAt := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE generation_run
		 SET state = ?, run_id = ?, kind = ?, total = ?, completed = 0, started_at = ?
		 WHERE id = 1 AND state = ?`,
		string(RunRunning), id, string(kind), total, startedAt.Unix(), string(RunIdle),
	)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}
	if n == 0 {
		return Run{}, smerr.New(smerr.CodeAlreadyRunning, "a generation run is already active")
	}

	return Run{
		ID:        id,
		Kind:      kind,
		State:     RunRunning,
		Total:     total,
		StartedAt: time.Unix(startedAt.Unix(), 0).UTC(),
	}, nil
}

// Advance adds n to the completed counter of the active run.
func (s *Store) Advance(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE generation_run SET completed = completed + ? WHERE id = 1 AND state <> ?",
		n, string(RunIdle),
	)
	if err != nil {
		return fmt.Errorf("advance run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance run: %w", err)
	}
	if rows == 0 {
		return errors.New("no active run to advance")
	}
	return nil
}

// Halt requests cancellation of the active run. It reports whether a
// running run was actually moved to halting.
func (s *Store) Halt(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE generation_run SET state = ? WHERE id = 1 AND state = ?",
		string(RunHalting), string(RunRunning),
	)
	if err != nil {
		return false, fmt.Errorf("halt run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("halt run: %w", err)
	}
	return n > 0, nil
}

// Reset returns the run record to idle, whatever its current state.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE generation_run
		 SET state = ?, run_id = '', kind = '', total = 0, completed = 0, started_at = 0
		 WHERE id = 1`,
		string(RunIdle),
	)
	if err != nil {
		return fmt.Errorf("reset run: %w", err)
	}
	return nil
}

// Watermark returns the last-completed watermark. ok is false when no pass
// has ever completed.
func (s *Store) Watermark(ctx context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unix int64
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM state_meta WHERE key = ?", watermarkKey,
	).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query watermark: %w", err)
	}
	return time.Unix(unix, 0).UTC(), true, nil
}

// SetWatermark records the completion time of a successful pass.
func (s *Store) SetWatermark(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		watermarkKey, t.Unix(),
	)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// PushWork appends days to the work queue in the given order.
func (s *Store) PushWork(ctx context.Context, days []partition.Day) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin push work: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, day := range days {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO work_queue (day) VALUES (?)", day.String(),
		); err != nil {
			return fmt.Errorf("push work item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit push work: %w", err)
	}
	return nil
}

// PopWork removes and returns up to n days from the front of the queue.
func (s *Store) PopWork(ctx context.Context, n int) ([]partition.Day, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pop work: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		"SELECT position, day FROM work_queue ORDER BY position LIMIT ?", n,
	)
	if err != nil {
		return nil, fmt.Errorf("query work queue: %w", err)
	}

	var positions []int64
	var days []partition.Day
	for rows.Next() {
		var pos int64
		var raw string
		if err := rows.Scan(&pos, &raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		day, err := partition.ParseDay(raw)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("queued day %q: %w", raw, err)
		}
		positions = append(positions, pos)
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate work queue: %w", err)
	}
	rows.Close()

	for _, pos := range positions {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM work_queue WHERE position = ?", pos,
		); err != nil {
			return nil, fmt.Errorf("pop work item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pop work: %w", err)
	}
	return days, nil
}

// WorkRemaining returns the number of queued days.
func (s *Store) WorkRemaining(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM work_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("count work queue: %w", err)
	}
	return n, nil
}

// ClearWork drops every queued day.
func (s *Store) ClearWork(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM work_queue"); err != nil {
		return fmt.Errorf("clear work queue: %w", err)
	}
	return nil
}
