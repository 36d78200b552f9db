package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datasetviz/datasetviz/internal/config"
	"github.com/datasetviz/datasetviz/internal/explorer"
	"github.com/datasetviz/datasetviz/internal/history"
	"github.com/datasetviz/datasetviz/internal/observability"
	"github.com/datasetviz/datasetviz/internal/query"
)

type ReadinessCheck func(ctx context.Context) error

// Explorer is satisfied by *explorer.Service.
type Explorer interface {
	ListDatasets(ctx context.Context, root string) ([]string, error)
	ListSplits(ctx context.Context, root, name string) ([]string, error)
	Schema(ctx context.Context, root, name, split string) (query.Schema, error)
	Count(ctx context.Context, root, name, split string) (int64, error)
	Query(ctx context.Context, root, name string, req explorer.QueryRequest) (query.Result, error)
}

type HistoryLister interface {
	List(ctx context.Context, filter history.ListFilter) ([]history.Entry, error)
}

type Dependencies struct {
	Logger           *slog.Logger
	Readiness        ReadinessCheck
	DependencyTimout time.Duration
	Explorer         Explorer
	History          HistoryLister
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /datasets", func(w http.ResponseWriter, r *http.Request) {
		handleListDatasets(deps, w, r)
	})
	mux.HandleFunc("GET /datasets/{name}/splits", func(w http.ResponseWriter, r *http.Request) {
		handleListSplits(deps, w, r)
	})
	mux.HandleFunc("GET /datasets/{name}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	mux.HandleFunc("GET /datasets/{name}/count", func(w http.ResponseWriter, r *http.Request) {
		handleCount(deps, w, r)
	})
	mux.HandleFunc("POST /datasets/{name}/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	})
	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		CORSMiddleware(cfg.HTTP.CORSAllowOrigin),
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckDatasetsRoot(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		info, err := os.Stat(cfg.Datasets.Root)
		if err != nil {
			return fmt.Errorf("datasets root: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("datasets root %q is not a directory", cfg.Datasets.Root)
		}
		return nil
	}
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// CheckPing reports the history database as unready when it stops answering.
func CheckPing(name string, db pinger) ReadinessCheck {
	if db == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

var errExplorerMissing = errors.New("dataset explorer is not configured")
