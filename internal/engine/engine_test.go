package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/content"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/provider"
	"git.home.luguber.info/inful/sitemapd/internal/sitemap"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
	"git.home.luguber.info/inful/sitemapd/internal/state"
	"git.home.luguber.info/inful/sitemapd/internal/store"
)

type fixture struct {
	engine   *Engine
	source   *content.MemorySource
	registry *provider.Registry
	docs     *store.Store
	runs     *state.Store
}

func newFixture(t *testing.T, batchSize int) *fixture {
	t.Helper()
	docs, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	runs, err := state.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	source := content.NewMemorySource()
	p, err := provider.NewItemProvider(source, "https://example.com", config.KindConfig{
		Kind:       "post",
		PathPrefix: "/posts",
		Priority:   0.8,
		ChangeFreq: "weekly",
	})
	require.NoError(t, err)
	registry := provider.NewRegistry(p)

	return &fixture{
		engine:   New(source, registry, docs, runs, batchSize),
		source:   source,
		registry: registry,
		docs:     docs,
		runs:     runs,
	}
}

func (f *fixture) addPost(slug string, published time.Time) {
	f.source.Put(content.Item{
		Slug:        slug,
		Kind:        "post",
		Title:       slug,
		PublishedAt: published,
		ModifiedAt:  published,
	})
}

// assertAggregate checks that the persisted aggregate equals the sum of all
// stored entry counts.
func (f *fixture) assertAggregate(t *testing.T) {
	t.Helper()
	counts, err := f.docs.EntryCounts(t.Context())
	require.NoError(t, err)
	sum := 0
	for _, n := range counts {
		sum += n
	}
	aggregate, err := f.docs.AggregateCount(t.Context())
	require.NoError(t, err)
	assert.Equal(t, sum, aggregate, "aggregate must equal sum of entry counts")
}

func day(s string) partition.Day {
	return partition.MustParseDay(s)
}

func at(s string, hour int) time.Time {
	d := partition.MustParseDay(s)
	return d.Time().Add(time.Duration(hour) * time.Hour)
}

func TestGenerateThenSkipWhenUnchanged(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()
	f.addPost("first", at("2024-01-15", 9))

	detected, err := f.engine.Detect(ctx)
	require.NoError(t, err)
	require.Len(t, detected.Missing, 1)
	assert.Equal(t, "2024-01-15", detected.Missing[0].String())
	assert.Empty(t, detected.Stale)

	res, err := f.engine.Generate(ctx, day("2024-01-15"), false)
	require.NoError(t, err)
	assert.True(t, res.Written())
	assert.Equal(t, 1, res.EntryCount)

	doc, err := f.docs.Find(ctx, day("2024-01-15"))
	require.NoError(t, err)
	require.NotNil(t, doc)

	// Second identical call is the idempotent skip.
	res, err = f.engine.Generate(ctx, day("2024-01-15"), false)
	require.NoError(t, err)
	assert.Equal(t, smerr.CodeSitemapExists, res.Code)
	assert.False(t, res.Written())

	after, err := f.docs.Find(ctx, day("2024-01-15"))
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, doc.Content, after.Content)
	f.assertAggregate(t)
}

func TestForcedGenerateRemovesEmptiedPartition(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()
	f.addPost("only", at("2024-01-15", 9))

	_, err := f.engine.Generate(ctx, day("2024-01-15"), false)
	require.NoError(t, err)

	// Hard delete: no modification signal, but the live count drops.
	f.source.Remove("only")
	require.NoError(t, f.runs.SetWatermark(ctx, time.Now().UTC()))

	detected, err := f.engine.Detect(ctx)
	require.NoError(t, err)
	assert.Empty(t, detected.Missing)
	require.Len(t, detected.Stale, 1)
	assert.Equal(t, "2024-01-15", detected.Stale[0].String())

	res, err := f.engine.Generate(ctx, day("2024-01-15"), true)
	require.NoError(t, err)
	assert.Equal(t, smerr.CodeNoContent, res.Code)

	doc, err := f.docs.Find(ctx, day("2024-01-15"))
	require.NoError(t, err)
	assert.Nil(t, doc, "empty partition must be represented by absence")

	aggregate, err := f.docs.AggregateCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, aggregate)
}

func TestFullRunAcrossTicks(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()
	f.addPost("a", at("2024-02-01", 9))
	f.addPost("b", at("2024-02-05", 9))
	f.addPost("c", at("2024-02-09", 9))

	res, err := f.engine.StartFull(ctx)
	require.NoError(t, err)
	assert.Equal(t, MethodBackground, res.Method)
	assert.Equal(t, 3, res.Scheduled)
	require.NotEmpty(t, res.RunID)

	for i, wantDone := range []bool{false, false, true} {
		tick, err := f.engine.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, i+1, tick.Completed, "tick %d", i+1)
		assert.Equal(t, 3, tick.Total)
		assert.Equal(t, wantDone, tick.Done, "tick %d", i+1)
	}

	_, ok, err := f.runs.Watermark(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "completed run must set the watermark")

	idle, err := f.runs.IsIdle(ctx)
	require.NoError(t, err)
	assert.True(t, idle)

	count, err := f.docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	f.assertAggregate(t)

	// A duplicate tick after completion is a no-op.
	tick, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, tick.Done)
}

func TestIncrementalDirect(t *testing.T) {
	f := newFixture(t, 10)
	ctx := t.Context()
	f.addPost("a", at("2024-03-01", 9))
	f.addPost("b", at("2024-03-02", 9))

	res, err := f.engine.StartIncremental(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, MethodDirect, res.Method)
	assert.Equal(t, 2, res.Scheduled)
	require.NotNil(t, res.Batch)
	assert.Equal(t, 2, res.Batch.Written)
	assert.False(t, res.Batch.Stopped)
	assert.Empty(t, res.Batch.Errors)

	idle, err := f.runs.IsIdle(ctx)
	require.NoError(t, err)
	assert.True(t, idle, "direct run must land back in idle")

	_, ok, err := f.runs.Watermark(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Everything fresh: a second incremental start finds nothing.
	res, err = f.engine.StartIncremental(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, MethodNone, res.Method)
	assert.Zero(t, res.Scheduled)
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()
	f.addPost("a", at("2024-03-01", 9))
	f.addPost("b", at("2024-03-02", 9))

	_, err := f.engine.StartFull(ctx)
	require.NoError(t, err)

	ok, err := f.engine.CanStart(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.engine.StartFull(ctx)
	require.Error(t, err)
	assert.True(t, smerr.HasCode(err, smerr.CodeAlreadyRunning))

	_, err = f.engine.StartIncremental(ctx, false)
	require.Error(t, err)
	assert.True(t, smerr.HasCode(err, smerr.CodeAlreadyRunning))
}

// haltAfter wraps a provider and requests cancellation once a chosen day has
// been generated, which makes mid-run cancellation deterministic in tests.
type haltAfter struct {
	provider.Provider
	runs  *state.Store
	after partition.Day
}

func (h haltAfter) Entries(ctx context.Context, day partition.Day) ([]sitemap.Entry, error) {
	entries, err := h.Provider.Entries(ctx, day)
	if day.Compare(h.after) == 0 {
		if _, haltErr := h.runs.Halt(ctx); haltErr != nil {
			return nil, haltErr
		}
	}
	return entries, err
}

func TestCancelStopsBackgroundRun(t *testing.T) {
	f := newFixture(t, 10)
	ctx := t.Context()
	f.addPost("a", at("2024-04-01", 9))
	f.addPost("b", at("2024-04-02", 9))
	f.addPost("c", at("2024-04-03", 9))

	before := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.runs.SetWatermark(ctx, before))

	// Replace the registry contents with a cancelling wrapper.
	wrapped := haltAfter{Provider: f.registry.Providers()[0], runs: f.runs, after: day("2024-04-01")}
	f.engine.registry = provider.NewRegistry(wrapped)
	f.engine.generator = sitemap.NewGenerator(f.engine.registry)

	_, err := f.engine.StartFull(ctx)
	require.NoError(t, err)

	tick, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, tick.Done, "halt must end the tick early")
	assert.Equal(t, 1, tick.Completed)
	assert.Equal(t, 3, tick.Total)

	// Exactly the partition generated before the halt survives.
	count, err := f.docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	idle, err := f.runs.IsIdle(ctx)
	require.NoError(t, err)
	assert.True(t, idle)

	remaining, err := f.runs.WorkRemaining(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining, "cancellation must clear the queue")

	watermark, ok, err := f.runs.Watermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, watermark.Equal(before), "cancelled run must not advance the watermark")
	f.assertAggregate(t)
}

func TestCancelStopsDirectRun(t *testing.T) {
	f := newFixture(t, 10)
	ctx := t.Context()
	f.addPost("a", at("2024-05-01", 9))
	f.addPost("b", at("2024-05-02", 9))
	f.addPost("c", at("2024-05-03", 9))

	wrapped := haltAfter{Provider: f.registry.Providers()[0], runs: f.runs, after: day("2024-05-01")}
	f.engine.registry = provider.NewRegistry(wrapped)
	f.engine.generator = sitemap.NewGenerator(f.engine.registry)

	res, err := f.engine.StartIncremental(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, MethodDirect, res.Method)
	require.NotNil(t, res.Batch)
	assert.True(t, res.Batch.Stopped)
	assert.Equal(t, 1, res.Batch.Attempted)
	assert.Equal(t, 1, res.Batch.Written)

	idle, err := f.runs.IsIdle(ctx)
	require.NoError(t, err)
	assert.True(t, idle)

	_, ok, err := f.runs.Watermark(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "stopped run must not set the watermark")
}

func TestCancelWhenIdle(t *testing.T) {
	f := newFixture(t, 1)
	halted, err := f.engine.Cancel(t.Context())
	require.NoError(t, err)
	assert.False(t, halted)
}

// failFor fails entry collection for one day and delegates otherwise.
type failFor struct {
	provider.Provider
	day partition.Day
}

func (p failFor) Entries(ctx context.Context, day partition.Day) ([]sitemap.Entry, error) {
	if day.Compare(p.day) == 0 {
		return nil, assert.AnError
	}
	return p.Provider.Entries(ctx, day)
}

func TestPartitionErrorsDoNotAbortRun(t *testing.T) {
	f := newFixture(t, 10)
	ctx := t.Context()
	f.addPost("a", at("2024-06-01", 9))
	f.addPost("b", at("2024-06-02", 9))

	wrapped := failFor{Provider: f.registry.Providers()[0], day: day("2024-06-01")}
	f.engine.registry = provider.NewRegistry(wrapped)
	f.engine.generator = sitemap.NewGenerator(f.engine.registry)

	_, err := f.engine.StartFull(ctx)
	require.NoError(t, err)

	tick, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, tick.Done)
	assert.Equal(t, 2, tick.Completed, "failed partition still counts as attempted")
	require.Len(t, tick.Errors, 1)
	assert.Equal(t, "2024-06-01", tick.Errors[0].Day.String())

	count, err := f.docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, ok, err := f.runs.Watermark(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "a run with partition failures still completes")
}

func TestRunResumesAfterRestart(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()

	docs, err := store.NewStore(dir + "/docs.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	runs, err := state.NewStore(dir + "/state.db")
	require.NoError(t, err)

	source := content.NewMemorySource()
	p, err := provider.NewItemProvider(source, "https://example.com", config.KindConfig{Kind: "post", PathPrefix: "/posts"})
	require.NoError(t, err)

	published := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	for _, slug := range []string{"a", "b", "c"} {
		source.Put(content.Item{Slug: slug, Kind: "post", Title: slug, PublishedAt: published, ModifiedAt: published})
		published = published.AddDate(0, 0, 1)
	}

	first := New(source, provider.NewRegistry(p), docs, runs, 1)
	_, err = first.StartFull(ctx)
	require.NoError(t, err)
	tick, err := first.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, tick.Done)
	require.NoError(t, runs.Close())

	// Same database, new process.
	runs2, err := state.NewStore(dir + "/state.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs2.Close() })
	second := New(source, provider.NewRegistry(p), docs, runs2, 1)

	done := false
	for i := 0; i < 5 && !done; i++ {
		tick, err := second.Tick(ctx)
		require.NoError(t, err)
		done = tick.Done
	}
	assert.True(t, done)

	count, err := docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestFullRunDropsOrphanedDocument(t *testing.T) {
	f := newFixture(t, 10)
	ctx := t.Context()

	// A document for a day whose content is long gone.
	require.NoError(t, f.docs.Save(ctx, store.Document{
		Day:        day("2024-08-01"),
		Content:    []byte("<urlset><url></url></urlset>"),
		EntryCount: 1,
	}))
	f.addPost("live", at("2024-08-05", 9))

	res, err := f.engine.StartFull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scheduled, "work set is the union of stored and live days")

	tick, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, tick.Done)

	orphan, err := f.docs.Find(ctx, day("2024-08-01"))
	require.NoError(t, err)
	assert.Nil(t, orphan)

	livedoc, err := f.docs.Find(ctx, day("2024-08-05"))
	require.NoError(t, err)
	assert.NotNil(t, livedoc)
	f.assertAggregate(t)
}

func TestProgressReporting(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()
	f.addPost("a", at("2024-09-01", 9))
	f.addPost("b", at("2024-09-02", 9))

	progress, err := f.engine.Progress(ctx)
	require.NoError(t, err)
	assert.False(t, progress.InProgress)
	assert.Zero(t, progress.Percent)

	_, err = f.engine.StartFull(ctx)
	require.NoError(t, err)
	_, err = f.engine.Tick(ctx)
	require.NoError(t, err)

	progress, err = f.engine.Progress(ctx)
	require.NoError(t, err)
	assert.True(t, progress.InProgress)
	assert.Equal(t, "running", progress.State)
	assert.Equal(t, "full", progress.Kind)
	assert.Equal(t, 1, progress.Completed)
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 1, progress.Remaining)
	assert.InDelta(t, 50.0, progress.Percent, 0.01)

	_, err = f.engine.Tick(ctx)
	require.NoError(t, err)

	status, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Run.InProgress)
	assert.Equal(t, 2, status.Documents)
	assert.Equal(t, 2, status.AggregateEntries)
	require.NotNil(t, status.LastCompleted)
}

func TestRecountFastRepairsDrift(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()
	f.addPost("a", at("2024-10-01", 9))
	_, err := f.engine.Generate(ctx, day("2024-10-01"), false)
	require.NoError(t, err)

	// Manufacture drift in both the per-day count and the aggregate.
	require.NoError(t, f.docs.SetEntryCount(ctx, day("2024-10-01"), 7))
	require.NoError(t, f.docs.SetAggregateCount(ctx, 99))

	res, err := f.engine.Recount(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, "2024-10-01", res.Mismatches[0].String())
	assert.Equal(t, 1, res.Aggregate)
	f.assertAggregate(t)
}

func TestRecountFullTreatsCorruptDocumentAsEmpty(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()
	f.addPost("a", at("2024-10-01", 9))
	_, err := f.engine.Generate(ctx, day("2024-10-01"), false)
	require.NoError(t, err)

	require.NoError(t, f.docs.Save(ctx, store.Document{
		Day:        day("2024-10-02"),
		Content:    []byte("this is not a sitemap"),
		EntryCount: 5,
	}))

	res, err := f.engine.Recount(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, "2024-10-02", res.Mismatches[0].String())
	assert.Equal(t, 1, res.Aggregate, "corrupt document counts zero entries")

	counts, err := f.docs.EntryCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[day("2024-10-02")])
}

func TestDeleteOperations(t *testing.T) {
	f := newFixture(t, 10)
	ctx := t.Context()
	f.addPost("a", at("2024-11-01", 9))
	f.addPost("b", at("2024-11-02", 9))
	f.addPost("c", at("2024-12-01", 9))

	_, err := f.engine.StartIncremental(ctx, false)
	require.NoError(t, err)

	removed, err := f.engine.Delete(ctx, day("2024-11-01"))
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = f.engine.Delete(ctx, day("2024-11-01"))
	require.NoError(t, err)
	assert.False(t, removed)
	f.assertAggregate(t)

	q, err := partition.ParseQuery("2024-11")
	require.NoError(t, err)
	n, err := f.engine.DeleteMatching(ctx, []partition.Query{q})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.assertAggregate(t)

	_, err = f.engine.DeleteMatching(ctx, nil)
	require.Error(t, err)
	assert.True(t, smerr.HasCode(err, smerr.CodeNoQueries))

	n, err = f.engine.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := f.docs.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	f.assertAggregate(t)
}
