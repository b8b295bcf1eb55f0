package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/sitemapd/internal/config"
)

// RecountCmd implements the 'recount' command.
type RecountCmd struct {
	Full bool `help:"Re-parse stored XML instead of trusting provider counts"`
}

func (r *RecountCmd) Run(_ *Global, root *CLI) error {
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

	result, err := eng.Recount(ctx, r.Full)
	if err != nil {
		return fmt.Errorf("recount entries: %w", err)
	}

	for _, day := range result.Mismatches {
		fmt.Printf("corrected %s\n", day)
	}
	fmt.Printf("Recount finished: %d documents corrected, %d entries total\n",
		result.Updated, result.Aggregate)
	return nil
}
