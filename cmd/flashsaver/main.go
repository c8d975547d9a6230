// Command flashsaver runs the per-node checkpoint saver daemon. It
// creates the node's shared staging objects, waits for a training
// engine to bootstrap it, and drains staged checkpoints to durable
// storage on request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nash635/dlrover/pkg/flashckpt/config"
	"github.com/nash635/dlrover/pkg/flashckpt/observability"
	"github.com/nash635/dlrover/pkg/flashckpt/saver"
	"github.com/nash635/dlrover/pkg/flashckpt/storage"
)

func main() {
	configPath := flag.String("config", "", "path to saver config file (yaml or json)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(*configPath, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("saver exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("saver stopped")
}

func run(configPath string, logger *slog.Logger) error {
	cfg := config.New(nil)
	if configPath != "" {
		var err error
		cfg, err = config.FromFile(configPath)
		if err != nil {
			return err
		}
	}

	store, err := buildStore(cfg.Sub("storage"))
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := saver.New(saver.Config{
		Namespace:       cfg.String("namespace", "flash"),
		LocalShardCount: cfg.Int("local_shard_count", 1),
		SegmentCapacity: cfg.Int("segment_capacity", 0),
		QueueCapacity:   cfg.Int("queue_capacity", 0),
		PollInterval:    cfg.Duration("poll_interval", 0),
	}, store,
		saver.WithLogger(logger),
		saver.WithMetrics(observability.NewMetricsRecorder()),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	desc, err := s.WaitBootstrap(ctx)
	if err != nil {
		return err
	}
	logger.Info("serving checkpoint drains",
		slog.String("saver_type", desc.SaverType),
		slog.String("checkpoint_dir", desc.CheckpointDir),
	)
	return s.Run(ctx)
}

// buildStore constructs the durable store named by the storage section.
func buildStore(cfg config.Config) (storage.Store, error) {
	driver := cfg.String("driver", "fs")
	switch driver {
	case "fs":
		return storage.NewFSStore(cfg.String("path", "./checkpoints"))
	case "sqlite":
		return storage.NewSQLiteStore(cfg.String("path", "./checkpoints.db"))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
