package main

import (
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/sitemapd/cmd/sitemapd/commands"
	"git.home.luguber.info/inful/sitemapd/internal/version"
	"github.com/alecthomas/kong"
)

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("sitemapd"),
		kong.Description("Generate and serve date-partitioned XML sitemaps for a content site"),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)
	if err := ctx.Run(&commands.Global{Logger: slog.Default()}); err != nil {
		fmt.Fprintf(os.Stderr, "sitemapd: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}
