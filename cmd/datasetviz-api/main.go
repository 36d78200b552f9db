package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datasetviz/datasetviz/internal/api"
	"github.com/datasetviz/datasetviz/internal/config"
	"github.com/datasetviz/datasetviz/internal/dataset"
	"github.com/datasetviz/datasetviz/internal/dataset/saved"
	"github.com/datasetviz/datasetviz/internal/engine/duckdb"
	"github.com/datasetviz/datasetviz/internal/explorer"
	"github.com/datasetviz/datasetviz/internal/history"
	historypostgres "github.com/datasetviz/datasetviz/internal/history/postgres"
	"github.com/datasetviz/datasetviz/internal/migrations"
	"github.com/datasetviz/datasetviz/internal/observability"
	"github.com/datasetviz/datasetviz/internal/pool"
	"github.com/datasetviz/datasetviz/internal/query"
	"github.com/datasetviz/datasetviz/internal/relation"
)

func main() {
	cfg, err := config.LoadFromEnv("datasetviz-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	connPool, err := pool.New(context.Background(), cfg.Engine.PoolSize, duckdb.Opener(duckdb.Options{Threads: cfg.Engine.Threads}), pool.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to open engine pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = connPool.Close() }()

	recorder, historyDB, err := openHistory(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to open query history", slog.Any("error", err))
		os.Exit(1)
	}
	if historyDB != nil {
		defer func() { _ = historyDB.Close() }()
	}

	service, err := explorer.NewService(explorer.Dependencies{
		Resolver: dataset.NewResolver(cfg.Datasets.Root),
		Cache:    saved.NewCache(cfg.Datasets.CacheSize, saved.LoadOptions{InMemoryMaxBytes: cfg.Datasets.InMemoryMaxBytes}),
		Pool:     connPool,
		Builder:  &relation.Builder{Logger: logger},
		Executor: query.NewExecutor(cfg.Query.DefaultLimit, cfg.Query.MaxLimit),
		History:  recorder,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize explorer", slog.Any("error", err))
		os.Exit(1)
	}

	readiness := []api.ReadinessCheck{api.CheckDatasetsRoot(cfg)}
	if historyDB != nil {
		readiness = append(readiness, api.CheckPing("history db", historyDB))
	}
	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:           logger,
		Explorer:         service,
		History:          recorder,
		Readiness:        api.CombineReadinessChecks(readiness...),
		DependencyTimout: time.Second,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("datasets_root", cfg.Datasets.Root),
			slog.Int("pool_size", cfg.Engine.PoolSize),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// openHistory returns the Postgres recorder when a DSN is configured and an
// in-memory ring otherwise.
func openHistory(ctx context.Context, cfg config.Config, logger *slog.Logger) (history.Recorder, *sql.DB, error) {
	if cfg.History.DSN == "" {
		logger.Info("query history kept in memory", slog.Int("entries", cfg.History.MemoryEntries))
		return history.NewMemory(cfg.History.MemoryEntries), nil, nil
	}

	db, err := historypostgres.Open(ctx, historypostgres.DBConfig{
		DSN:             cfg.History.DSN,
		MaxOpenConns:    cfg.History.MaxOpenConns,
		MaxIdleConns:    cfg.History.MaxIdleConns,
		ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		ApplicationName: cfg.Service.Name,
		RequireSchema:   !cfg.History.AutoMigrate,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.History.AutoMigrate {
		applied, err := migrations.NewRunner().Up(ctx, db, 0)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("history migrations applied", slog.Int("count", applied))
	}
	return historypostgres.NewRepository(db), db, nil
}
