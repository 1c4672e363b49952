package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gristlabs/docstore/internal/logger"
	"github.com/gristlabs/docstore/pkg/config"
	"github.com/gristlabs/docstore/pkg/docstore"
	"github.com/gristlabs/docstore/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/docstore/config.yaml)")
	root := flag.String("root", "", "Local directory holding every document's artifacts (overrides config)")
	workerID := flag.String("worker-id", "", "Worker identity registered in the worker directory (overrides config)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *root != "" {
		cfg.DocsRoot = *root
	}
	if *workerID != "" {
		cfg.WorkerID = *workerID
	}

	logHandler := logger.New(os.Stdout, logger.ParseLevel(cfg.Logging.Level))
	rootLogger := slog.New(logHandler)
	slog.SetDefault(rootLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rootLogger.Info("starting docstore", "docs_root", cfg.DocsRoot, "worker_id", cfg.WorkerID, "disable_s3", cfg.DisableS3)

	rawStore, err := config.CreateRawStore(ctx, cfg.ObjectStore)
	if err != nil {
		log.Fatalf("failed to create object store: %v", err)
	}

	dir, err := config.CreateDirectory(ctx, cfg.Directory)
	if err != nil {
		log.Fatalf("failed to create worker directory: %v", err)
	}

	metrics.InitRegistry()

	mgr, err := docstore.NewStorageManager(docstore.Config{
		Root:                cfg.DocsRoot,
		WorkerID:            cfg.WorkerID,
		DisableS3:           cfg.DisableS3,
		PushDelay:           time.Duration(cfg.Uploads.SecondsBeforePush) * time.Second,
		FirstRetryDelay:     time.Duration(cfg.Uploads.SecondsBeforeFirstRetry) * time.Second,
		MaxConcurrentPushes: cfg.Uploads.MaxConcurrentPushes,
		Directory:           dir,
		RawStore:            rawStore,
		PrunerEnabled:       cfg.Pruner.Enabled,
		PrunerDryRun:        cfg.Pruner.DryRun,
		PushMetrics:         metrics.NewPushMetrics(),
		ObjectStoreMetrics:  metrics.NewObjectStoreMetrics(),
		SchedulerMetrics:    metrics.NewSchedulerMetrics(),
		Logger:              rootLogger,
	})
	if err != nil {
		log.Fatalf("failed to start storage manager: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	rootLogger.Info("docstore is running, press Ctrl+C to stop")
	<-sigChan
	rootLogger.Info("shutdown signal received, draining pending uploads")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer shutdownCancel()

	if err := mgr.CloseStorage(shutdownCtx); err != nil {
		rootLogger.Error("storage manager did not shut down cleanly", "error", err)
		fmt.Fprintln(os.Stderr, "shutdown error:", err)
		os.Exit(1)
	}
	rootLogger.Info("docstore stopped gracefully")
}
