package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
)

// DeleteCmd implements the 'delete' command. Queries select whole years,
// months, or single days; --all wipes every stored sitemap.
type DeleteCmd struct {
	Queries []string `arg:"" optional:"" help:"Partitions to delete (YYYY, YYYY-MM, or YYYY-MM-DD)"`
	All     bool     `help:"Delete every stored sitemap"`
}

func (d *DeleteCmd) Run(_ *Global, root *CLI) error {
	if d.All && len(d.Queries) > 0 {
		return fmt.Errorf("--all cannot be combined with partition queries")
	}
	if !d.All && len(d.Queries) == 0 {
		return smerr.New(smerr.CodeNoQueries, "nothing to delete, give partition queries or --all")
	}

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

	if d.All {
		removed, err := eng.DeleteAll(ctx)
		if err != nil {
			return fmt.Errorf("delete all sitemaps: %w", err)
		}
		fmt.Printf("Deleted %d sitemaps\n", removed)
		return nil
	}

	queries := make([]partition.Query, 0, len(d.Queries))
	for _, raw := range d.Queries {
		q, err := partition.ParseQuery(raw)
		if err != nil {
			return err
		}
		queries = append(queries, q)
	}
	removed, err := eng.DeleteMatching(ctx, queries)
	if err != nil {
		return fmt.Errorf("delete sitemaps: %w", err)
	}
	fmt.Printf("Deleted %d sitemaps\n", removed)
	return nil
}
