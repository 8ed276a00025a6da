package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ragline/ragline/engine/rag"
	"github.com/ragline/ragline/pkg/config"
	"github.com/ragline/ragline/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		logger.NewLogger(logger.DefaultConfig()).Error("ragline exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewLogger(&logger.Config{
		Level: logger.LogLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
	ctx := logger.ContextWithLogger(context.Background(), log)

	svc, err := rag.NewService(ctx, cfg, rag.Deps{})
	if err != nil {
		return err
	}
	svc.StartWorkers(ctx)
	defer svc.Stop(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info("Shutting down", "signal", sig.String())
	return nil
}
