// Command boostd serves a SocialBoost document store over HTTP so that
// desktop instances can mirror their workspaces to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/celerix-dev/socialboost-store/internal/app"
	"github.com/celerix-dev/socialboost-store/internal/config"
	"github.com/celerix-dev/socialboost-store/internal/logger"
	"github.com/celerix-dev/socialboost-store/internal/metrics"
	"github.com/celerix-dev/socialboost-store/internal/server"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to boost.toml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "boostd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config(cfg.Log))
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenServerStore(ctx, cfg.Server)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Server.Backend, err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	log.Info("starting boostd",
		zap.String("addr", cfg.Server.Addr),
		zap.String("backend", cfg.Server.Backend),
		zap.Bool("tls", cfg.Server.TLS),
		zap.Bool("auth", cfg.Server.Token != ""),
	)

	srv := server.New(store, cfg.Server, metrics.New(true), log)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info("boostd stopped")
	return nil
}
