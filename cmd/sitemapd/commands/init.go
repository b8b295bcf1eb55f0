package commands

import (
	"fmt"
	"path/filepath"

	"git.home.luguber.info/inful/sitemapd/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force  bool   `help:"Overwrite existing configuration file"`
	Output string `short:"o" name:"output" help:"Output directory for generated config file"`
}

func (i *InitCmd) Run(_ *Global, root *CLI) error {
	// If the user specified an output directory, place the config there as "sitemapd.yaml".
	if i.Output != "" {
		cfgPath := filepath.Join(i.Output, "sitemapd.yaml")
		return RunInit(cfgPath, i.Force)
	}
	return RunInit(root.Config, i.Force)
}

func RunInit(configPath string, force bool) error {
	fmt.Printf("Writing configuration to %s\n", configPath)
	if err := config.Init(configPath, force); err != nil {
		return err
	}
	fmt.Println("Configuration initialized; edit site.base_url and content before first use")
	return nil
}
