package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/engine"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
)

// GenerateCmd implements the 'generate' command.
type GenerateCmd struct {
	Day   string `arg:"" optional:"" help:"Generate a single partition (YYYY-MM-DD)"`
	Force bool   `help:"Regenerate even when a sitemap already exists"`
	Full  bool   `help:"Rebuild every partition that ever had content"`
}

func (g *GenerateCmd) Run(_ *Global, root *CLI) error {
	if g.Full && g.Day != "" {
		return fmt.Errorf("--full cannot be combined with a day argument")
	}

	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// SIGINT lands as context cancellation; the engine stops between two
	// partitions and leaves the persisted queue resumable.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	if g.Day != "" {
		return generateDay(ctx, eng, g.Day, g.Force)
	}

	idle, err := eng.CanStart(ctx)
	if err != nil {
		return err
	}
	if !idle {
		fmt.Println("Resuming interrupted generation run")
		return drainRun(ctx, eng)
	}

	if g.Full {
		res, err := eng.StartFull(ctx)
		if err != nil {
			return err
		}
		if res.Method == engine.MethodNone {
			fmt.Println("Nothing to generate")
			return nil
		}
		fmt.Printf("Full rebuild scheduled: %d partitions\n", res.Scheduled)
		return drainRun(ctx, eng)
	}

	res, err := eng.StartIncremental(ctx, false)
	if err != nil {
		return err
	}
	if res.Method == engine.MethodNone {
		fmt.Println("All partitions up to date")
		return nil
	}
	return reportBatch(res.Batch)
}

func generateDay(ctx context.Context, eng *engine.Engine, dayArg string, force bool) error {
	day, err := partition.ParseDay(dayArg)
	if err != nil {
		return err
	}
	res, err := eng.Generate(ctx, day, force)
	if err != nil {
		return err
	}
	switch res.Code {
	case smerr.CodeSitemapExists:
		fmt.Printf("Sitemap for %s already exists (use --force to regenerate)\n", day)
	case smerr.CodeNoContent:
		fmt.Printf("No published content for %s; any stored sitemap was removed\n", day)
	default:
		fmt.Printf("Sitemap for %s written with %d entries\n", day, res.EntryCount)
	}
	return nil
}

func reportBatch(batch *engine.BatchResult) error {
	fmt.Printf("Generated %d partitions: %d written, %d skipped, %d removed\n",
		batch.Attempted, batch.Written, batch.Skipped, batch.Removed)
	for _, pe := range batch.Errors {
		fmt.Printf("  failed %s: %s\n", pe.Day, pe.Error)
	}
	if batch.Stopped {
		return smerr.New(smerr.CodeStopped, "generation run cancelled")
	}
	if len(batch.Errors) > 0 {
		return fmt.Errorf("%d of %d partitions failed", len(batch.Errors), batch.Attempted)
	}
	return nil
}
