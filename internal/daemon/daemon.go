// Package daemon wires the sitemapd components into one long-running
// process: content source, generation engine, HTTP server, the periodic
// tick scheduler and the config watcher.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/sitemapd/internal/api"
	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/content"
	"git.home.luguber.info/inful/sitemapd/internal/engine"
	"git.home.luguber.info/inful/sitemapd/internal/events"
	"git.home.luguber.info/inful/sitemapd/internal/logfields"
	"git.home.luguber.info/inful/sitemapd/internal/metrics"
	"git.home.luguber.info/inful/sitemapd/internal/provider"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
	"git.home.luguber.info/inful/sitemapd/internal/state"
	"git.home.luguber.info/inful/sitemapd/internal/store"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Daemon owns every long-lived component of a sitemapd process.
type Daemon struct {
	config     *config.Config
	configPath string
	status     atomic.Value // Status
	startTime  time.Time
	stopChan   chan struct{}
	mu         sync.RWMutex

	source    content.Source
	docs      *store.Store
	runs      *state.Store
	engine    *engine.Engine
	recorder  metrics.Recorder
	publisher events.Publisher
	server    *api.Server
	scheduler *Scheduler
	watcher   *ConfigWatcher
	pinger    *Pinger
}

// New assembles a daemon from configuration. A non-empty configPath enables
// hot reload of the safe settings.
func New(ctx context.Context, cfg *config.Config, configPath string) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		stopChan:   make(chan struct{}),
	}
	d.status.Store(StatusStopped)

	source, err := openSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.source = source

	registry, err := provider.FromConfig(source, cfg)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	d.docs, err = store.NewStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	d.runs, err = state.NewStore(cfg.Storage.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	d.engine = engine.New(source, registry, d.docs, d.runs, cfg.Generation.BatchSize)

	var metricsHandler http.Handler
	d.recorder = metrics.NoopRecorder{}
	if cfg.Server.Metrics {
		reg := prom.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(reg)
		metricsHandler = metrics.HTTPHandler(reg)
		d.engine.WithRecorder(d.recorder)
	}

	d.publisher = events.NoopPublisher{}
	if cfg.Events.Enabled {
		pub, err := events.NewNATSPublisher(cfg.Events)
		if err != nil {
			// Lifecycle events are optional; a dead broker must not keep
			// sitemaps from being generated.
			slog.Warn("event publishing unavailable, continuing without it", logfields.Error(err))
		} else {
			d.publisher = pub
			d.engine.WithPublisher(pub)
		}
	}

	d.pinger = NewPinger(cfg, d.recorder)

	d.server, err = api.NewServer(cfg, d.engine, d.docs, metricsHandler)
	if err != nil {
		return nil, fmt.Errorf("create HTTP server: %w", err)
	}

	d.scheduler, err = NewScheduler()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		d.watcher, err = NewConfigWatcher(configPath, d)
		if err != nil {
			return nil, fmt.Errorf("create config watcher: %w", err)
		}
	}

	return d, nil
}

// openSource builds the configured content source.
func openSource(ctx context.Context, cfg *config.Config) (content.Source, error) {
	switch cfg.Content.Source {
	case config.SourceSQLite:
		source, err := content.NewSQLiteSource(cfg.Content.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite content source: %w", err)
		}
		return source, nil
	case config.SourceGit:
		source, err := content.NewGitSource(ctx, cfg.Content.Git.Path, cfg.Content.Git.ContentDir)
		if err != nil {
			return nil, fmt.Errorf("open git content source: %w", err)
		}
		return source, nil
	default:
		return nil, fmt.Errorf("unknown content source %q", cfg.Content.Source)
	}
}

// Start brings all components up and blocks until the context is cancelled
// or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.GetStatus() != StatusStopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not in stopped state: %s", d.GetStatus())
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()

	slog.Info("starting sitemapd",
		slog.String("addr", d.config.Server.Addr),
		slog.String("source", d.config.Content.Source),
		slog.String("tick_interval", d.config.Generation.TickInterval))

	go func() {
		if err := d.server.Start(); err != nil {
			slog.Error("HTTP server failed", logfields.Error(err))
		}
	}()

	if err := d.scheduler.Start(d.config.Generation.Interval(), func() { d.runTick(ctx) }); err != nil {
		d.status.Store(StatusStopped)
		d.mu.Unlock()
		return err
	}

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			slog.Error("failed to start config watcher", logfields.Error(err))
		}
	}

	d.status.Store(StatusRunning)
	d.mu.Unlock()

	d.seedRun(ctx)
	d.mainLoop(ctx)

	return nil
}

// mainLoop blocks until the daemon is asked to stop.
func (d *Daemon) mainLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		slog.Info("main loop stopped by context cancellation")
	case <-d.stopChan:
		slog.Info("main loop stopped by stop signal")
	}
}

// seedRun schedules the first incremental pass so the daemon starts catching
// up immediately instead of waiting a full tick interval.
func (d *Daemon) seedRun(ctx context.Context) {
	idle, err := d.engine.CanStart(ctx)
	if err != nil {
		slog.Warn("run state unavailable at startup", logfields.Error(err))
		return
	}
	if !idle {
		slog.Info("resuming interrupted generation run")
		return
	}
	res, err := d.engine.StartIncremental(ctx, true)
	if err != nil {
		if !smerr.HasCode(err, smerr.CodeAlreadyRunning) {
			slog.Warn("initial incremental run failed to schedule", logfields.Error(err))
		}
		return
	}
	if res.Method == engine.MethodBackground {
		slog.Info("initial incremental run scheduled", slog.Int("partitions", res.Scheduled))
	}
}

// runTick is the scheduler task: it starts a fresh incremental run when the
// engine is idle and drives the active run one batch forward. A completed
// run triggers the search engine ping.
func (d *Daemon) runTick(ctx context.Context) {
	if d.GetStatus() != StatusRunning {
		return
	}

	idle, err := d.engine.CanStart(ctx)
	if err != nil {
		slog.Error("tick: run state unavailable", logfields.Error(err))
		return
	}
	if idle {
		res, err := d.engine.StartIncremental(ctx, true)
		switch {
		case smerr.HasCode(err, smerr.CodeAlreadyRunning):
			// An API caller started a run between the idle check and here;
			// fall through and tick that run instead.
		case err != nil:
			slog.Error("tick: incremental start failed", logfields.Error(err))
			return
		case res.Method == engine.MethodNone:
			return
		}
	}

	res, err := d.engine.Tick(ctx)
	if err != nil {
		slog.Error("tick failed", logfields.Error(err))
		return
	}
	for _, pe := range res.Errors {
		slog.Warn("partition failed during tick", logfields.Day(pe.Day.String()), "error", pe.Error)
	}
	if res.Outcome == events.OutcomeCompleted {
		d.pingAfterRun(ctx)
	}
}

// pingAfterRun announces the refreshed index, best effort.
func (d *Daemon) pingAfterRun(ctx context.Context) {
	err := d.pinger.PingAll(ctx)
	if err == nil {
		return
	}
	if smerr.HasCode(err, smerr.CodeSiteNotPublic) {
		slog.Debug("skipping search engine ping", "reason", err)
		return
	}
	slog.Warn("search engine ping failed", logfields.Error(err))
}

// Stop gracefully shuts the daemon down.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.GetStatus()
	if current == StatusStopped || current == StatusStopping {
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("stopping sitemapd")

	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			slog.Error("failed to stop config watcher", logfields.Error(err))
		}
	}
	if err := d.scheduler.Stop(); err != nil {
		slog.Error("failed to stop scheduler", logfields.Error(err))
	}
	if err := d.server.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown failed", logfields.Error(err))
	}
	if err := d.publisher.Close(); err != nil {
		slog.Error("failed to close event publisher", logfields.Error(err))
	}
	d.closeStores()

	d.status.Store(StatusStopped)
	slog.Info("sitemapd stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return nil
}

func (d *Daemon) closeStores() {
	if closer, ok := d.source.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Error("failed to close content source", logfields.Error(err))
		}
	}
	if err := d.runs.Close(); err != nil {
		slog.Error("failed to close state store", logfields.Error(err))
	}
	if err := d.docs.Close(); err != nil {
		slog.Error("failed to close document store", logfields.Error(err))
	}
}

// GetStatus returns the daemon lifecycle state.
func (d *Daemon) GetStatus() Status {
	if s, ok := d.status.Load().(Status); ok {
		return s
	}
	return StatusStopped
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Engine exposes the generation engine, mainly for tests.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// ReloadConfig applies the safe subset of a new configuration: batch size,
// tick interval and ping settings. Everything else requires a restart and is
// reported, not applied.
func (d *Daemon) ReloadConfig(ctx context.Context, next *config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.config
	if restartRequired(current, next) {
		slog.Warn("config changes to site, content, storage, server or events require a restart")
	}

	if next.Generation.BatchSize != current.Generation.BatchSize {
		d.engine.SetBatchSize(next.Generation.BatchSize)
		slog.Info("batch size updated", slog.Int("batch_size", next.Generation.BatchSize))
	}
	if next.Generation.Interval() != current.Generation.Interval() {
		if err := d.scheduler.Reschedule(next.Generation.Interval()); err != nil {
			return err
		}
		slog.Info("tick interval updated", slog.Duration("interval", next.Generation.Interval()))
	}
	d.pinger.Reconfigure(next)

	d.config = next
	return nil
}

// restartRequired reports whether the new configuration touches settings
// that cannot be applied to a running daemon. Site publicity is not among
// them; the pinger picks it up hot.
func restartRequired(current, next *config.Config) bool {
	return next.Site.BaseURL != current.Site.BaseURL ||
		next.Content.Source != current.Content.Source ||
		next.Content.SQLite != current.Content.SQLite ||
		next.Content.Git != current.Content.Git ||
		!slices.Equal(next.Content.Kinds, current.Content.Kinds) ||
		next.Storage != current.Storage ||
		next.Server != current.Server ||
		next.Events != current.Events
}
