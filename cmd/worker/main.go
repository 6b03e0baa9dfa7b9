package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailreach/internal/app"
	"mailreach/internal/config"
	"mailreach/internal/logging"
	"mailreach/internal/worker"
)

func main() {
	cfg := config.FromEnv()
	log := logging.New(cfg.LogLevel, cfg.LogJSON)
	defer func() { _ = log.Sync() }()

	if cfg.RedisURL == "" {
		log.Fatal("❌ REDIS_URL is required, the worker has no queue to drain without it")
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(startCtx, cfg, log)
	cancel()
	if err != nil {
		log.Fatal("❌ Startup failed", zap.Error(err))
	}
	defer a.Close()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	r := &worker.Runner{
		Tasks:    a.Queue,
		Pipeline: a.Verifier,
		Jobs:     a.Store,
		Log:      log,
		Budget:   cfg.Budget(),
	}
	if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("❌ Worker stopped", zap.Error(err))
		return
	}
	log.Info("⏳ Shutdown signal received, worker stopped")
}
