package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/sitemapd/internal/config"
)

// DetectCmd implements the 'detect' command.
type DetectCmd struct{}

func (d *DetectCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	result, err := eng.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect stale partitions: %w", err)
	}

	if result.Empty() {
		fmt.Println("All partitions up to date")
		return nil
	}
	for _, day := range result.Missing {
		fmt.Printf("missing  %s\n", day)
	}
	for _, day := range result.Stale {
		fmt.Printf("stale    %s\n", day)
	}
	fmt.Println(result.Summary())
	return nil
}
