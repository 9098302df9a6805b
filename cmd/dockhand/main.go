package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"dockhand/internal/dockhand/app"
	"dockhand/internal/dockhand/config"
	"dockhand/internal/version"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file (optional)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("dockhand " + version.Info())
		return
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	slog.Info("dockhand starting", "version", version.Version, "commit", version.GitCommit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dockhand: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dockhand: %v\n", err)
		os.Exit(1)
	}
}
