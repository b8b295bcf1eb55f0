package integration

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/content"
	"git.home.luguber.info/inful/sitemapd/internal/engine"
	"git.home.luguber.info/inful/sitemapd/internal/events"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/provider"
	"git.home.luguber.info/inful/sitemapd/internal/sitemap"
	"git.home.luguber.info/inful/sitemapd/internal/state"
	"git.home.luguber.info/inful/sitemapd/internal/store"
)

// seedRow is one content_items row for a golden fixture. A zero Updated
// falls back to Published so fixtures stay quiet under modified-since
// detection.
type seedRow struct {
	Slug      string
	Kind      string
	Title     string
	Body      string
	Status    string
	Published time.Time
	Updated   time.Time
}

const contentSchema = `
CREATE TABLE content_items (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	slug         TEXT NOT NULL,
	kind         TEXT NOT NULL,
	title        TEXT NOT NULL,
	body         TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	published_at INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);`

// date builds a UTC timestamp for fixture rows.
func date(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

// seedContentDB creates a content database under dir and inserts rows in
// order, so row IDs follow fixture order.
func seedContentDB(t *testing.T, dir string, rows []seedRow) string {
	t.Helper()

	path := filepath.Join(dir, "content.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err, "failed to create content database")
	defer func() { _ = db.Close() }()

	_, err = db.Exec(contentSchema)
	require.NoError(t, err, "failed to create content schema")

	for _, row := range rows {
		updated := row.Updated
		if updated.IsZero() {
			updated = row.Published
		}
		_, err = db.Exec(
			"INSERT INTO content_items (slug, kind, title, body, status, published_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			row.Slug, row.Kind, row.Title, row.Body, row.Status, row.Published.Unix(), updated.Unix(),
		)
		require.NoError(t, err, "failed to seed content row %s", row.Slug)
	}
	return path
}

// execContent applies a mutation to an already seeded content database,
// simulating the CMS editing content between runs.
func execContent(t *testing.T, dbPath, query string, args ...any) {
	t.Helper()

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err, "failed to open content database")
	defer func() { _ = db.Close() }()

	_, err = db.Exec(query, args...)
	require.NoError(t, err, "failed to mutate content database")
}

// loadGoldenConfig loads a test configuration and returns it.
func loadGoldenConfig(t *testing.T, configPath string) *config.Config {
	t.Helper()

	cfg, err := config.Load(configPath)
	require.NoError(t, err, "failed to load test config")

	return cfg
}

// site bundles everything a golden test drives: the engine, the document
// store for direct inspection, and the content database path for mutations.
type site struct {
	cfg       *config.Config
	eng       *engine.Engine
	docs      *store.Store
	contentDB string
}

// setupSite seeds a content database, loads the named configuration and
// wires an engine over temporary storage.
func setupSite(t *testing.T, configPath string, rows []seedRow) *site {
	t.Helper()

	dir := t.TempDir()
	contentDB := seedContentDB(t, dir, rows)

	cfg := loadGoldenConfig(t, configPath)

	// Point configuration at the temporary databases
	cfg.Content.SQLite.Path = contentDB
	cfg.Storage.Path = filepath.Join(dir, "sitemapd.db")
	cfg.Storage.StatePath = filepath.Join(dir, "sitemapd-state.db")

	source, err := content.NewSQLiteSource(cfg.Content.SQLite.Path)
	require.NoError(t, err, "failed to open content source")
	t.Cleanup(func() { _ = source.Close() })

	registry, err := provider.FromConfig(source, cfg)
	require.NoError(t, err, "failed to build providers")

	docs, err := store.NewStore(cfg.Storage.Path)
	require.NoError(t, err, "failed to open document store")
	t.Cleanup(func() { _ = docs.Close() })

	runs, err := state.NewStore(cfg.Storage.StatePath)
	require.NoError(t, err, "failed to open state store")
	t.Cleanup(func() { _ = runs.Close() })

	eng := engine.New(source, registry, docs, runs, cfg.Generation.BatchSize)
	return &site{cfg: cfg, eng: eng, docs: docs, contentDB: contentDB}
}

// runFullGeneration schedules a full run and drives it with ticks until it
// completes, failing on any partition error.
func runFullGeneration(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx := context.Background()

	res, err := eng.StartFull(ctx)
	require.NoError(t, err, "failed to schedule full run")
	require.Equal(t, engine.MethodBackground, res.Method, "full runs are tick-driven")

	for i := 0; i < 50; i++ {
		tick, err := eng.Tick(ctx)
		require.NoError(t, err, "tick failed")
		require.Empty(t, tick.Errors, "partition failures during run")
		if tick.Done {
			require.Equal(t, events.OutcomeCompleted, tick.Outcome, "run should complete")
			return
		}
	}
	t.Fatal("run did not finish within the tick budget")
}

// runIncremental performs one synchronous incremental pass and returns its
// batch summary. Passes that find nothing to do fail the test; use the
// engine directly when a no-op is the expected outcome.
func runIncremental(t *testing.T, eng *engine.Engine) engine.BatchResult {
	t.Helper()

	res, err := eng.StartIncremental(context.Background(), false)
	require.NoError(t, err, "incremental run failed")
	require.Equal(t, engine.MethodDirect, res.Method, "expected a direct incremental pass")
	require.NotNil(t, res.Batch, "direct runs carry a batch summary")
	require.Empty(t, res.Batch.Errors, "partition failures during incremental pass")
	return *res.Batch
}

// verifySitemapDocument compares the stored document for day against a
// golden file and checks the stored entry count against the document body.
func verifySitemapDocument(t *testing.T, docs *store.Store, day, goldenPath string, updateGolden bool) {
	t.Helper()

	doc, err := docs.Find(context.Background(), partition.MustParseDay(day))
	require.NoError(t, err, "failed to load stored document")
	require.NotNil(t, doc, "no sitemap document stored for %s", day)

	compareGolden(t, doc.Content, goldenPath, updateGolden)

	count, err := sitemap.CountEntries(doc.Content)
	require.NoError(t, err, "stored document must parse as a sitemap")
	require.Equal(t, count, doc.EntryCount, "stored entry count drifted from document for %s", day)
}

// verifyNoSitemapDocument asserts that no document is stored for day.
func verifyNoSitemapDocument(t *testing.T, docs *store.Store, day string) {
	t.Helper()

	exists, err := docs.Exists(context.Background(), partition.MustParseDay(day))
	require.NoError(t, err, "failed to check document existence")
	require.False(t, exists, "unexpected sitemap document stored for %s", day)
}

// compareGolden verifies actual against the golden file, or rewrites the
// golden file when updating.
func compareGolden(t *testing.T, actual []byte, goldenPath string, updateGolden bool) {
	t.Helper()

	if updateGolden {
		require.NoError(t, os.MkdirAll(filepath.Dir(goldenPath), 0o750), "failed to create golden directory")
		require.NoError(t, os.WriteFile(goldenPath, actual, 0o600), "failed to write golden file")
		t.Logf("Updated golden file: %s", goldenPath)
		return
	}

	// #nosec G304 -- test utility reading golden file from testdata
	expected, err := os.ReadFile(goldenPath)
	require.NoError(t, err, "failed to read golden file: %s", goldenPath)
	require.Equal(t, string(expected), string(actual), "golden mismatch: %s", goldenPath)
}

// fetchXML performs a GET against the server handler and returns the body,
// asserting the sitemap content type.
func fetchXML(t *testing.T, handler http.Handler, path string) []byte {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "GET %s", path)
	require.Equal(t, "application/xml; charset=utf-8", rec.Header().Get("Content-Type"))
	return rec.Body.Bytes()
}

var lastModPattern = regexp.MustCompile(`<lastmod>[^<]+</lastmod>`)

// normalizeIndexLastMod replaces lastmod values in an index document. Index
// lastmod carries the document write time, which changes between runs.
func normalizeIndexLastMod(body []byte) []byte {
	return lastModPattern.ReplaceAll(body, []byte("<lastmod>NORMALIZED</lastmod>"))
}
