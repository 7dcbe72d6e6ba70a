package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/agent"
	"github.com/arenabridge/agent/internal/infrastructure/config"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
)

func main() {
	orchestrator := flag.String("orchestrator", "", "orchestrator WebSocket URL (overrides ORCHESTRATOR_URL)")
	arena := flag.String("arena", "", "arena base URL (overrides ARENA_URL)")
	port := flag.String("port", "", "ops HTTP port (overrides PORT)")
	store := flag.String("store", "", "pending request store path (overrides STORE_PATH)")
	seeds := flag.String("seeds", "", "seed file path (overrides SEED_PATH)")
	dev := flag.Bool("dev", false, "development mode: colored logs, debug level")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *orchestrator != "" {
		cfg.Orchestrator.URL = *orchestrator
	}
	if *arena != "" {
		cfg.Arena.BaseURL = *arena
	}
	if *port != "" {
		cfg.HTTP.Port = *port
	}
	if *store != "" {
		cfg.Store.Path = *store
	}
	if *seeds != "" {
		cfg.Seed.Path = *seeds
	}
	if *dev {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup: %v\n", err)
		os.Exit(1)
	}

	app, err := agent.New(cfg, log)
	if err != nil {
		log.Fatal("agent init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := app.Run(ctx)

	if err := app.Close(); err != nil {
		log.Warn("shutdown cleanup failed", zap.Error(err))
	}
	if runErr != nil {
		log.Fatal("agent exited with failure", zap.Error(runErr))
	}
	log.Info("agent stopped")
}
