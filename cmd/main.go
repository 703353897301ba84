package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"flagcache/internal/configuration"
	"flagcache/internal/logging"
	"flagcache/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	cfg, err := configuration.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "Error", err)
		os.Exit(1)
	}

	logging.Init(cfg.App.LogLevel)
	slog.Info("Starting cache node...", "cache", cfg.Cache.Name, "profile", cfg.App.Profile)

	services, err := newServices(cfg)
	if err != nil {
		slog.Error("Failed to bootstrap services", "Error", err)
		os.Exit(1)
	}

	metricsServer := metrics.NewServer(cfg.Metrics.Addr, services.store.IsComplete)
	metricsServer.Start()

	if err := services.Start(); err != nil {
		slog.Error("Failed to start services", "Error", err)
		services.Stop()
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("Shutting down...")

	services.Stop()
	metricsServer.Stop()
}
