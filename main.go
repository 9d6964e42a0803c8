package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pagechat/internal/app"
	"pagechat/internal/config"
	"pagechat/internal/logger"
)

func main() {
	log := logger.New(os.Stdout, slog.LevelInfo)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// run starts the configured roles and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	application, err := app.New(cfg, deps.DB, deps.VectorStore, deps.NSQProducer, log, nil)
	if err != nil {
		return err
	}

	if cfg.EnableIngestWorker {
		consumer, err := application.StartIngestWorker()
		if err != nil {
			return err
		}
		defer func() {
			consumer.Stop()
			<-consumer.StopChan
		}()
	}

	if !cfg.EnableAPI {
		slog.Info("api disabled, running ingest worker only")
		<-ctx.Done()
		return nil
	}
	return application.Run(ctx)
}
