// Package explorer serves dataset listing, schema and query requests by
// resolving a dataset, binding it on a pooled engine connection and running
// the request against it.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/datasetviz/datasetviz/internal/dataset"
	"github.com/datasetviz/datasetviz/internal/dataset/saved"
	"github.com/datasetviz/datasetviz/internal/engine"
	"github.com/datasetviz/datasetviz/internal/history"
	"github.com/datasetviz/datasetviz/internal/observability"
	"github.com/datasetviz/datasetviz/internal/query"
	"github.com/datasetviz/datasetviz/internal/relation"
)

// State names the request step reached; it is logged when a request fails.
type State string

const (
	StateResolvingPath       State = "resolving_path"
	StateDetectingFormat     State = "detecting_format"
	StateAcquiringConnection State = "acquiring_connection"
	StateBuildingRelation    State = "building_relation"
	StateExecuting           State = "executing"
	StateInspectingSchema    State = "inspecting_schema"
	StateReleasingConnection State = "releasing_connection"
	StateDone                State = "done"
)

// ConnectionPool is satisfied by *pool.Pool.
type ConnectionPool interface {
	Acquire(ctx context.Context) (engine.Conn, error)
	Release(ctx context.Context, conn engine.Conn)
}

type Dependencies struct {
	Resolver *dataset.Resolver
	Cache    *saved.Cache
	Pool     ConnectionPool
	Builder  *relation.Builder
	Executor *query.Executor
	History  history.Recorder
	Logger   *slog.Logger
}

type Service struct {
	deps   Dependencies
	logger *slog.Logger
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if deps.Pool == nil {
		return nil, errors.New("connection pool is required")
	}
	if deps.Cache == nil {
		deps.Cache = saved.NewCache(saved.DefaultCacheSize, saved.LoadOptions{})
	}
	if deps.Builder == nil {
		deps.Builder = &relation.Builder{Logger: deps.Logger}
	}
	if deps.Executor == nil {
		deps.Executor = query.NewExecutor(query.DefaultLimit, query.MaxLimit)
	}
	return &Service{deps: deps, logger: observability.Component(deps.Logger, "explorer")}, nil
}

type QueryRequest struct {
	SQL    string
	Split  string
	Limit  *int
	Offset *int
}

func (s *Service) ListDatasets(_ context.Context, root string) ([]string, error) {
	resolved, err := s.deps.Resolver.ResolveRoot(root)
	if err != nil {
		return nil, err
	}
	return dataset.List(resolved)
}

func (s *Service) ListSplits(ctx context.Context, root, name string) ([]string, error) {
	req := &request{name: name}
	tgt, err := s.resolve(ctx, req, root, name)
	if err != nil {
		return nil, s.fail(ctx, req, err)
	}
	if tgt.saved != nil {
		return tgt.saved.SplitNames(), nil
	}
	return []string{dataset.DefaultSplit}, nil
}

func (s *Service) Schema(ctx context.Context, root, name, split string) (query.Schema, error) {
	req := &request{name: name, split: split}
	tgt, err := s.resolve(ctx, req, root, name)
	if err != nil {
		return query.Schema{}, s.fail(ctx, req, err)
	}
	if err := s.selectSplit(req, &tgt, split); err != nil {
		return query.Schema{}, s.fail(ctx, req, err)
	}

	var schema query.Schema
	if tgt.split != nil {
		rows, err := tgt.split.RowCount(ctx)
		if err != nil {
			return query.Schema{}, s.fail(ctx, req, err)
		}
		schema.ApproxRows = &rows
		if len(tgt.split.Features) > 0 {
			for _, feature := range tgt.split.Features {
				schema.Columns = append(schema.Columns, query.Column{Name: feature.Name, DType: feature.DType})
			}
			req.state = StateDone
			return schema, nil
		}
	}

	err = s.withRelation(ctx, req, tgt, func(conn engine.Conn) error {
		req.state = StateInspectingSchema
		columns, err := query.Inspect(ctx, conn)
		if err != nil {
			return err
		}
		schema.Columns = columns
		return nil
	})
	if err != nil {
		return query.Schema{}, s.fail(ctx, req, err)
	}
	return schema, nil
}

// Count is exact. Saved datasets answer from metadata; file formats scan.
func (s *Service) Count(ctx context.Context, root, name, split string) (int64, error) {
	req := &request{name: name, split: split}
	tgt, err := s.resolve(ctx, req, root, name)
	if err != nil {
		return 0, s.fail(ctx, req, err)
	}
	if err := s.selectSplit(req, &tgt, split); err != nil {
		return 0, s.fail(ctx, req, err)
	}
	if tgt.split != nil {
		rows, err := tgt.split.RowCount(ctx)
		if err != nil {
			return 0, s.fail(ctx, req, err)
		}
		return rows, nil
	}

	var rows int64
	err = s.withRelation(ctx, req, tgt, func(conn engine.Conn) error {
		req.state = StateExecuting
		n, err := query.Count(ctx, conn)
		rows = n
		return err
	})
	if err != nil {
		return 0, s.fail(ctx, req, err)
	}
	return rows, nil
}

func (s *Service) Query(ctx context.Context, root, name string, in QueryRequest) (query.Result, error) {
	req := &request{name: name, split: in.Split}
	result, err := s.runQuery(ctx, req, root, name, in)
	if err != nil {
		observability.IncrementQueryFailure()
		err = s.fail(ctx, req, err)
	} else {
		observability.ObserveQuery(result.Elapsed, result.Truncated)
	}
	s.record(ctx, req, in, result, err)
	return result, err
}

func (s *Service) runQuery(ctx context.Context, req *request, root, name string, in QueryRequest) (query.Result, error) {
	execReq := query.Request{SQL: in.SQL, Limit: in.Limit, Offset: in.Offset}
	if _, _, err := s.deps.Executor.Prepare(execReq); err != nil {
		return query.Result{}, err
	}
	tgt, err := s.resolve(ctx, req, root, name)
	if err != nil {
		return query.Result{}, err
	}
	if err := s.selectSplit(req, &tgt, in.Split); err != nil {
		return query.Result{}, err
	}

	var result query.Result
	err = s.withRelation(ctx, req, tgt, func(conn engine.Conn) error {
		req.state = StateExecuting
		r, err := s.deps.Executor.Execute(ctx, conn, execReq)
		result = r
		return err
	})
	return result, err
}

type request struct {
	name     string
	split    string
	state    State
	strategy relation.Strategy
}

type target struct {
	handle dataset.Handle
	kind   dataset.Kind
	saved  *saved.Dataset
	split  *saved.Split
	flat   string
}

func (s *Service) resolve(ctx context.Context, req *request, root, name string) (target, error) {
	req.state = StateResolvingPath
	handle, err := s.deps.Resolver.Resolve(root, name)
	if err != nil {
		return target{}, err
	}

	req.state = StateDetectingFormat
	kind, err := dataset.DetectFormat(handle.Path)
	if err != nil {
		return target{}, err
	}
	tgt := target{handle: handle, kind: kind}
	if kind == dataset.KindSavedDataset {
		ds, err := s.deps.Cache.Get(ctx, handle.Path)
		if err != nil {
			return target{}, err
		}
		tgt.saved = ds
	}
	return tgt, nil
}

func (s *Service) selectSplit(req *request, tgt *target, split string) error {
	if tgt.saved == nil {
		if split = strings.TrimSpace(split); split != "" && split != dataset.DefaultSplit {
			return fmt.Errorf("%w: %q (available: %s)", dataset.ErrSplitNotFound, split, dataset.DefaultSplit)
		}
		tgt.flat = dataset.DefaultSplit
		req.split = dataset.DefaultSplit
		return nil
	}
	chosen, err := tgt.saved.Split(split)
	if err != nil {
		return err
	}
	tgt.split = chosen
	req.split = chosen.Name
	return nil
}

func (s *Service) relationInput(tgt target) (relation.Input, error) {
	if tgt.split == nil {
		shards, err := dataset.LocateFlatShards(tgt.handle.Path, tgt.kind, tgt.flat)
		if err != nil {
			return relation.Input{}, err
		}
		return relation.Input{Shards: shards}, nil
	}

	shards, err := dataset.LocateSavedShards(tgt.split.Files())
	if err != nil {
		if errors.Is(err, dataset.ErrNoShardsFound) && tgt.split.Table() != nil {
			return relation.Input{Shards: dataset.ShardSet{Split: tgt.split.Name}, Table: tgt.split.Table()}, nil
		}
		return relation.Input{}, err
	}
	return relation.Input{Shards: shards, Table: tgt.split.Table()}, nil
}

// withRelation binds t on a pooled connection for the duration of fn. The
// relation is closed and the connection released on every path.
func (s *Service) withRelation(ctx context.Context, req *request, tgt target, fn func(engine.Conn) error) (err error) {
	input, err := s.relationInput(tgt)
	if err != nil {
		return err
	}

	req.state = StateAcquiringConnection
	conn, err := s.deps.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		failed := req.state
		req.state = StateReleasingConnection
		s.deps.Pool.Release(context.WithoutCancel(ctx), conn)
		if err == nil {
			req.state = StateDone
		} else {
			req.state = failed
		}
	}()

	req.state = StateBuildingRelation
	rel, err := s.deps.Builder.Build(ctx, conn, input)
	if err != nil {
		return err
	}
	defer rel.Close()
	req.strategy = rel.Strategy

	return fn(conn)
}

func (s *Service) fail(ctx context.Context, req *request, err error) error {
	attrs := []any{
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("dataset", req.name),
		slog.String("split", req.split),
		slog.String("state", string(req.state)),
		slog.String("error_code", dataset.Code(err)),
		slog.String("error", err.Error()),
	}
	if req.strategy != "" {
		attrs = append(attrs, slog.String("strategy", string(req.strategy)))
	}
	s.logger.WarnContext(ctx, "dataset request failed", attrs...)
	return err
}

func (s *Service) record(ctx context.Context, req *request, in QueryRequest, result query.Result, err error) {
	if s.deps.History == nil {
		return
	}
	entry := history.Entry{
		Dataset:   req.name,
		Split:     req.split,
		SQL:       in.SQL,
		RowCount:  result.RowCount,
		Truncated: result.Truncated,
		ElapsedMs: result.ElapsedMs(),
		TraceID:   observability.TraceIDFromContext(ctx),
	}
	if err != nil {
		entry.ErrorCode = dataset.Code(err)
	}
	if recordErr := s.deps.History.Record(context.WithoutCancel(ctx), entry); recordErr != nil {
		s.logger.WarnContext(ctx, "record query history failed", slog.String("error", recordErr.Error()))
	}
}
