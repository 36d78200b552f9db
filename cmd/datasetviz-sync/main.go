package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/datasetviz/datasetviz/internal/config"
	"github.com/datasetviz/datasetviz/internal/mirror"
	"github.com/datasetviz/datasetviz/internal/observability"
	s3store "github.com/datasetviz/datasetviz/internal/storage/s3"
)

func main() {
	direction := flag.String("direction", "pull", "sync direction: pull|push|list")
	datasetName := flag.String("dataset", "", "dataset to sync; empty pulls every dataset")
	concurrency := flag.Int("concurrency", mirror.DefaultConcurrency, "parallel object transfers")
	flag.Parse()

	cfg, err := config.LoadFromEnv("datasetviz-sync")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket && *direction == "push",
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}
	m, err := mirror.New(store, cfg.Datasets.Root, mirror.Options{Concurrency: *concurrency, Logger: logger})
	if err != nil {
		logger.Error("failed to initialize mirror", slog.Any("error", err))
		os.Exit(1)
	}

	var output any
	switch *direction {
	case "list":
		output, err = m.Datasets(ctx)
	case "pull":
		if *datasetName == "" {
			output, err = m.PullAll(ctx)
		} else {
			output, err = m.Pull(ctx, *datasetName)
		}
	case "push":
		if *datasetName == "" {
			fmt.Fprintln(os.Stderr, "-dataset is required for push")
			os.Exit(2)
		}
		output, err = m.Push(ctx, *datasetName)
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("sync failed", slog.String("direction", *direction), slog.Any("error", err))
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output)
}
