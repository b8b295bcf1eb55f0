package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/sitemapd/internal/config"
)

// CancelCmd implements the 'cancel' command.
type CancelCmd struct{}

func (c *CancelCmd) Run(_ *Global, root *CLI) error {
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

	halted, err := eng.Cancel(ctx)
	if err != nil {
		return fmt.Errorf("request cancellation: %w", err)
	}
	if !halted {
		fmt.Println("No active generation run")
		return nil
	}
	fmt.Println("Cancellation requested; the run stops at its next checkpoint")
	return nil
}
