package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"parkshare/internal/app"
	"parkshare/internal/config"
	"parkshare/internal/pkg/logger"
	"parkshare/internal/pkg/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{}).Fatal("config load failed", "error", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "parkshare-api"})
	log.Info("starting", "config", cfg)
	app.SetGinMode(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, "parkshare-api", cfg.AppEnv, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("tracer init failed", "error", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal("bootstrap failed", "error", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		return
	}
	log.Info("shutdown complete")
}
