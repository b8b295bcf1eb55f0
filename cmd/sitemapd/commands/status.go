package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/config"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct{}

func (s *StatusCmd) Run(_ *Global, root *CLI) error {
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

	st, err := eng.Status(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	if st.Run.InProgress {
		fmt.Printf("run:             %s %s, %d/%d partitions (%.0f%%), started %s\n",
			st.Run.Kind, st.Run.State, st.Run.Completed, st.Run.Total,
			st.Run.Percent, st.Run.StartedAt.Format(time.RFC3339))
	} else {
		fmt.Println("run:             idle")
	}
	fmt.Printf("documents:       %d\n", st.Documents)
	fmt.Printf("sitemap entries: %d\n", st.AggregateEntries)
	if st.LastCompleted != nil {
		fmt.Printf("last completed:  %s\n", st.LastCompleted.Format(time.RFC3339))
	} else {
		fmt.Println("last completed:  never")
	}
	return nil
}
