// Package engine orchestrates sitemap generation: staleness detection,
// single-partition generation, and resumable background runs driven by a
// periodic tick.
//
// All mutation of the run record and the aggregate entry count flows through
// one engine instance at a time. Background runs survive process restarts:
// the run record and its work queue are persisted, so the next tick after a
// restart resumes where the previous process stopped.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/content"
	"git.home.luguber.info/inful/sitemapd/internal/detect"
	"git.home.luguber.info/inful/sitemapd/internal/events"
	"git.home.luguber.info/inful/sitemapd/internal/metrics"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/provider"
	"git.home.luguber.info/inful/sitemapd/internal/sitemap"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
	"git.home.luguber.info/inful/sitemapd/internal/state"
	"git.home.luguber.info/inful/sitemapd/internal/store"
)

const defaultBatchSize = 25

// Engine coordinates the content source, providers, document store and run
// state. It is safe for use from multiple goroutines; the single-active-run
// rule is enforced by the state store's begin gate, and document writes are
// transactional.
type Engine struct {
	source    content.Source
	registry  *provider.Registry
	generator *sitemap.Generator
	docs      *store.Store
	runs      *state.Store
	detector  *detect.Detector
	batchSize atomic.Int32
	logger    *slog.Logger
	recorder  metrics.Recorder
	publisher events.Publisher
	now       func() time.Time
}

// New creates an engine over the given collaborators. batchSize bounds how
// many partitions one tick may generate; values below one fall back to the
// default.
func New(source content.Source, registry *provider.Registry, docs *store.Store, runs *state.Store, batchSize int) *Engine {
	e := &Engine{
		source:    source,
		registry:  registry,
		generator: sitemap.NewGenerator(registry),
		docs:      docs,
		runs:      runs,
		detector:  detect.New(source, docs, runs),
		logger:    slog.Default(),
		recorder:  metrics.NoopRecorder{},
		publisher: events.NoopPublisher{},
		now:       time.Now,
	}
	e.SetBatchSize(batchSize)
	return e
}

// SetBatchSize changes how many partitions one tick may generate. Safe to
// call while ticks run; the next tick picks the new size up.
func (e *Engine) SetBatchSize(n int) {
	if n < 1 {
		n = defaultBatchSize
	}
	e.batchSize.Store(int32(n))
}

// WithLogger sets a custom logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	e.detector.WithLogger(logger)
	return e
}

// WithRecorder sets the metrics recorder.
func (e *Engine) WithRecorder(r metrics.Recorder) *Engine {
	e.recorder = r
	return e
}

// WithPublisher sets the lifecycle event publisher.
func (e *Engine) WithPublisher(p events.Publisher) *Engine {
	e.publisher = p
	return e
}

// Detect refreshes the content source when it supports refreshing and runs
// one staleness detection pass.
func (e *Engine) Detect(ctx context.Context) (detect.Result, error) {
	if err := e.refreshSource(ctx); err != nil {
		return detect.Result{}, err
	}
	return e.detector.Detect(ctx)
}

func (e *Engine) refreshSource(ctx context.Context) error {
	r, ok := e.source.(content.Refresher)
	if !ok {
		return nil
	}
	return r.Refresh(ctx)
}

// CanStart reports whether a new run may begin.
func (e *Engine) CanStart(ctx context.Context) (bool, error) {
	return e.runs.IsIdle(ctx)
}

// Progress reports the state of the current run.
func (e *Engine) Progress(ctx context.Context) (Progress, error) {
	run, err := e.runs.Current(ctx)
	if err != nil {
		return Progress{}, err
	}
	return progressOf(run), nil
}

func progressOf(run state.Run) Progress {
	p := Progress{
		InProgress: run.Active(),
		State:      string(run.State),
		Total:      run.Total,
		Completed:  run.Completed,
		Remaining:  run.Remaining(),
	}
	if run.Active() {
		p.Kind = string(run.Kind)
		p.StartedAt = run.StartedAt
	}
	if run.Total > 0 {
		p.Percent = float64(run.Completed) / float64(run.Total) * 100
	}
	return p
}

// Status returns a snapshot of the whole subsystem for status front-ends.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	progress, err := e.Progress(ctx)
	if err != nil {
		return Status{}, err
	}
	documents, err := e.docs.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	aggregate, err := e.docs.AggregateCount(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Run:              progress,
		Documents:        documents,
		AggregateEntries: aggregate,
	}
	if watermark, ok, err := e.runs.Watermark(ctx); err != nil {
		return Status{}, err
	} else if ok {
		st.LastCompleted = &watermark
	}
	return st, nil
}

// Progress describes the current run for front-ends.
type Progress struct {
	InProgress bool      `json:"in_progress"`
	State      string    `json:"state"`
	Kind       string    `json:"kind,omitempty"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Remaining  int       `json:"remaining"`
	Percent    float64   `json:"percent_complete"`
	StartedAt  time.Time `json:"started_at,omitzero"`
}

// Status is the full subsystem snapshot.
type Status struct {
	Run              Progress   `json:"run"`
	Documents        int        `json:"documents"`
	AggregateEntries int        `json:"aggregate_entries"`
	LastCompleted    *time.Time `json:"last_completed,omitempty"`
}

// Method tells a caller how their start request was executed.
type Method string

const (
	// MethodDirect means the work set was generated synchronously before
	// the call returned.
	MethodDirect Method = "direct"

	// MethodBackground means a run was scheduled and will be driven to
	// completion by subsequent ticks.
	MethodBackground Method = "background"

	// MethodNone means the work set was empty and nothing was scheduled.
	MethodNone Method = "none"
)

// StartResult is the outcome of a start request.
type StartResult struct {
	Method    Method `json:"method"`
	Scheduled int    `json:"scheduled"`
	RunID     string `json:"run_id,omitempty"`

	// Batch holds the synchronous results when Method is direct.
	Batch *BatchResult `json:"batch,omitempty"`
}

// GenerateResult reports the outcome of generating one partition. A zero
// Code means a document was written; CodeSitemapExists and CodeNoContent
// are the two non-failure skip outcomes.
type GenerateResult struct {
	Day        partition.Day `json:"day"`
	Code       smerr.Code    `json:"code,omitempty"`
	EntryCount int           `json:"entry_count"`
}

// Written reports whether a document was actually (re)written.
func (r GenerateResult) Written() bool {
	return r.Code == ""
}

// PartitionError records a non-fatal failure for one partition of a batch.
type PartitionError struct {
	Day   partition.Day `json:"day"`
	Error string        `json:"error"`
}

// BatchResult summarizes a sequential generation pass over a work set.
type BatchResult struct {
	Attempted int              `json:"attempted"`
	Written   int              `json:"written"`
	Skipped   int              `json:"skipped"`
	Removed   int              `json:"removed"`
	Stopped   bool             `json:"stopped,omitempty"`
	Errors    []PartitionError `json:"errors,omitempty"`
}

// TickResult is returned to the periodic trigger. Outcome is set when a run
// ended during this tick, to completed or cancelled; an idle or mid-run tick
// leaves it empty.
type TickResult struct {
	Done      bool             `json:"done"`
	Completed int              `json:"completed"`
	Total     int              `json:"total"`
	Outcome   string           `json:"outcome,omitempty"`
	Errors    []PartitionError `json:"errors,omitempty"`
}

// RecountResult reports a recount pass.
type RecountResult struct {
	Updated    int             `json:"updated"`
	Mismatches []partition.Day `json:"mismatches,omitempty"`
	Aggregate  int             `json:"aggregate"`
}
