package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tagsmith/tagsmith/internal/api"
	"github.com/tagsmith/tagsmith/internal/config"
	"github.com/tagsmith/tagsmith/internal/fetch"
	"github.com/tagsmith/tagsmith/internal/logger"
	"github.com/tagsmith/tagsmith/internal/tagging"
	"github.com/tagsmith/tagsmith/internal/version"
	"github.com/tagsmith/tagsmith/internal/workspace"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file (optional, env vars apply otherwise)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logs := logger.New(logger.ParseLevel(cfg.LogLevel), os.Stderr)
	log := logs.Get("Core")
	log.Emit(logger.INFO, "tagsmith %s starting on %s", version.Version, cfg.HostAddr())

	ws, err := workspace.New(cfg.WorkspaceDir, logs.Get("Workspace"))
	if err != nil {
		log.Emit(logger.ERROR, "failed to prepare workspace: %v", err)
		os.Exit(1)
	}

	tagger := tagging.New(logs.Get("Tagging"))
	fetcher := fetch.New(cfg.Fetch, ws, logs.Get("Fetch"))
	gateway := api.NewRestGateway(cfg, logs, ws, tagger, fetcher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gateway.Run(ctx); err != nil {
		log.Emit(logger.ERROR, "gateway stopped: %v", err)
		os.Exit(1)
	}
	log.Emit(logger.INFO, "shutdown complete")
}
