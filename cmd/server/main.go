package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"bgdownloader/internal/api"
	"bgdownloader/internal/cache"
	"bgdownloader/internal/config"
	"bgdownloader/internal/database"
	"bgdownloader/internal/downloader"
	"bgdownloader/internal/logger"
	"bgdownloader/internal/task"
	"bgdownloader/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		log.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	mainLog := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Init(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	defer db.Close()

	stagingDir, err := cache.StagingDir(cfg.Storage.StagingDir)
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	aria2 := downloader.NewClient(cfg.Aria2)
	aria2.SetLogger(log.Logger)
	probeCtx, cancel := context.WithTimeout(ctx, cfg.Aria2.Timeout)
	version, err := aria2.Version(probeCtx)
	cancel()
	if err != nil {
		mainLog.Warn().Err(err).Str("url", cfg.Aria2.RPCUrl).Msg("aria2 is not reachable yet")
	} else {
		mainLog.Info().Str("version", version).Msg("Connected to aria2")
	}

	hub := websocket.NewHub()
	store := task.NewStore(db, cfg.Tasks.ProgressInterval, log.Logger)

	manager, err := task.NewManager(ctx, aria2, store, hub, log.Logger, task.Options{
		PollInterval:   cfg.Tasks.PollInterval,
		StagingDir:     stagingDir,
		DocumentsDir:   cfg.Storage.DocumentsDir,
		DefaultHeaders: cfg.Tasks.Headers,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	existing := manager.EnumerateExisting(ctx)
	mainLog.Info().Int("downloads", len(existing)).Msg("Reconciled engine state")

	server := api.NewServer(manager, hub, log.Logger)
	notifier := downloader.NewNotifier(cfg.Aria2.WSUrl, log.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(hub.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(notifier.Run(gctx, manager.HandleNotification))
	})
	g.Go(func() error {
		return server.Start(cfg.Server.Address())
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	mainLog.Info().Msg("Shutting down")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
