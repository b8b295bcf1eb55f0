package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/content"
	"git.home.luguber.info/inful/sitemapd/internal/engine"
	"git.home.luguber.info/inful/sitemapd/internal/events"
	"git.home.luguber.info/inful/sitemapd/internal/provider"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
	"git.home.luguber.info/inful/sitemapd/internal/state"
	"git.home.luguber.info/inful/sitemapd/internal/store"
	"github.com/alecthomas/kong"
)

// Global context passed to subcommands if we need to share global state later.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags - used by commands that need access to root config.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"sitemapd.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Generate GenerateCmd `cmd:"" help:"Generate sitemaps for stale partitions, a single day, or the whole site"`
	Detect   DetectCmd   `cmd:"" help:"Report missing and stale partitions without generating anything"`
	Status   StatusCmd   `cmd:"" help:"Show run progress and document counts"`
	Cancel   CancelCmd   `cmd:"" help:"Request cancellation of the active generation run"`
	Delete   DeleteCmd   `cmd:"" help:"Delete stored sitemaps by day, month, or year"`
	Recount  RecountCmd  `cmd:"" help:"Recount sitemap entries and repair the aggregate"`
	Init     InitCmd     `cmd:"" help:"Initialize a new configuration file"`
	Daemon   DaemonCmd   `cmd:"" help:"Run the sitemap daemon with HTTP API and periodic generation"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// ExitCode maps classified errors onto process exit codes: 2 for rejected
// input, 3 when a run is already active, 4 for cancelled work and 1 for
// everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	code, ok := smerr.CodeOf(err)
	if !ok {
		return 1
	}
	switch code {
	case smerr.CodeInvalidDate, smerr.CodeNoQueries:
		return 2
	case smerr.CodeAlreadyRunning:
		return 3
	case smerr.CodeStopped:
		return 4
	default:
		return 1
	}
}

// openEngine builds a one-shot engine over the configured content source and
// stores. The returned closer releases every handle and is safe to defer.
func openEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	var source content.Source
	var err error
	switch cfg.Content.Source {
	case config.SourceSQLite:
		source, err = content.NewSQLiteSource(cfg.Content.SQLite.Path)
	case config.SourceGit:
		source, err = content.NewGitSource(ctx, cfg.Content.Git.Path, cfg.Content.Git.ContentDir)
	default:
		err = fmt.Errorf("unknown content source %q", cfg.Content.Source)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open content source: %w", err)
	}

	registry, err := provider.FromConfig(source, cfg)
	if err != nil {
		closeSource(source)
		return nil, nil, fmt.Errorf("build providers: %w", err)
	}

	docs, err := store.NewStore(cfg.Storage.Path)
	if err != nil {
		closeSource(source)
		return nil, nil, fmt.Errorf("open document store: %w", err)
	}
	runs, err := state.NewStore(cfg.Storage.StatePath)
	if err != nil {
		_ = docs.Close()
		closeSource(source)
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}

	eng := engine.New(source, registry, docs, runs, cfg.Generation.BatchSize)
	closer := func() {
		if err := runs.Close(); err != nil {
			slog.Warn("failed to close state store", "error", err)
		}
		if err := docs.Close(); err != nil {
			slog.Warn("failed to close document store", "error", err)
		}
		closeSource(source)
	}
	return eng, closer, nil
}

func closeSource(source content.Source) {
	if c, ok := source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close content source", "error", err)
		}
	}
}

// drainRun drives the active run to its end with repeated ticks, printing
// progress as batches land. Cancellation surfaces as a stopped error so the
// process exit code reflects the interrupted run.
func drainRun(ctx context.Context, eng *engine.Engine) error {
	for {
		res, err := eng.Tick(ctx)
		if err != nil {
			return err
		}
		for _, pe := range res.Errors {
			slog.Warn("partition generation failed", "day", pe.Day, "error", pe.Error)
		}
		if !res.Done {
			fmt.Printf("progress: %d/%d partitions\n", res.Completed, res.Total)
			continue
		}
		if res.Outcome == events.OutcomeCancelled {
			fmt.Printf("Generation stopped at %d/%d partitions\n", res.Completed, res.Total)
			return smerr.New(smerr.CodeStopped, "generation run cancelled")
		}
		fmt.Printf("Generation complete: %d partitions\n", res.Completed)
		return nil
	}
}
