// Package relation binds a dataset's shards to the name "t" on an engine
// connection, trying an ordered list of strategies.
package relation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/datasetviz/datasetviz/internal/arrowipc"
	"github.com/datasetviz/datasetviz/internal/dataset"
	"github.com/datasetviz/datasetviz/internal/engine"
	"github.com/datasetviz/datasetviz/internal/observability"
)

const Name = "t"

// DataTable holds the rows of Arrow-backed relations; t is a view over it.
const DataTable = "t_data"

const scanView = "t_arrow_scan"

type Strategy string

const (
	StrategyParquetScan   Strategy = "parquet-scan"
	StrategyArrowDataset  Strategy = "arrow-dataset"
	StrategyArrowMerge    Strategy = "arrow-merge"
	StrategyInMemoryTable Strategy = "in-memory-table"
)

// Input is what the builder may bind. Table is a saved split's resident
// table and is only used when no shard files were found.
type Input struct {
	Shards dataset.ShardSet
	Table  arrow.Table
}

// Relation is bound to one connection for one request.
type Relation struct {
	Name     string
	Strategy Strategy
	Shards   []string

	release func()
}

// Close drops the connection-local copy of Arrow-backed relations. Parquet
// views are left to the pool's reset statements.
func (r *Relation) Close() {
	if r == nil || r.release == nil {
		return
	}
	r.release()
	r.release = nil
}

type Builder struct {
	Logger    *slog.Logger
	Allocator memory.Allocator
}

type plan struct {
	input     Input
	parquet   []string
	arrow     []string
	encodings []arrowipc.Encoding
}

type strategy struct {
	name     Strategy
	applies  func(p *plan) bool
	fallback bool
	build    func(ctx context.Context, b *Builder, conn engine.Conn, p *plan) (func(), error)
}

// strategies is evaluated in order; the first success wins. A failing
// strategy without fallback ends the build.
var strategies = []strategy{
	{
		name:    StrategyParquetScan,
		applies: func(p *plan) bool { return len(p.parquet) > 0 },
		build:   buildParquetScan,
	},
	{
		name: StrategyArrowDataset,
		applies: func(p *plan) bool {
			_, ok := arrowipc.Uniform(p.encodings)
			return len(p.arrow) > 0 && ok
		},
		fallback: true,
		build:    buildArrowDataset,
	},
	{
		name:     StrategyArrowMerge,
		applies:  func(p *plan) bool { return len(p.arrow) > 0 && len(p.encodings) == len(p.arrow) },
		fallback: true,
		build:    buildArrowMerge,
	},
	{
		name:    StrategyInMemoryTable,
		applies: func(p *plan) bool { return len(p.input.Shards.Files) == 0 && p.input.Table != nil },
		build:   buildInMemoryTable,
	},
}

func (b *Builder) Build(ctx context.Context, conn engine.Conn, in Input) (*Relation, error) {
	p := &plan{
		input:   in,
		parquet: in.Shards.ParquetFiles(),
		arrow:   in.Shards.ArrowFiles(),
	}
	logger := observability.Component(b.Logger, "relation")
	if len(p.parquet) > 0 && len(p.arrow) > 0 {
		logger.WarnContext(ctx, "mixed shard formats, arrow shards are not bound",
			slog.String("split", in.Shards.Split),
			slog.Int("parquet_shards", len(p.parquet)),
			slog.Int("ignored_arrow_shards", len(p.arrow)),
		)
	}
	if len(p.parquet) == 0 && len(p.arrow) > 0 {
		encodings, err := arrowipc.DetectAll(ctx, p.arrow)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", dataset.ErrRelationBuild, err)
		}
		p.encodings = encodings
	}

	var causes []error
	for _, s := range strategies {
		if !s.applies(p) {
			continue
		}
		release, err := s.build(ctx, b, conn, p)
		observability.ObserveRelationBuild(string(s.name), err)
		if err == nil {
			return &Relation{Name: Name, Strategy: s.name, Shards: in.Shards.Files, release: release}, nil
		}
		causes = append(causes, fmt.Errorf("%s: %w", s.name, err))
		if !s.fallback {
			break
		}
		logger.WarnContext(ctx, "relation strategy failed, falling back",
			slog.String("strategy", string(s.name)),
			slog.String("error", err.Error()),
		)
	}
	if len(causes) == 0 {
		return nil, fmt.Errorf("%w: nothing to bind for split %q", dataset.ErrNoShardsFound, in.Shards.Split)
	}
	return nil, fmt.Errorf("%w: %w", dataset.ErrRelationBuild, errors.Join(causes...))
}

func (b *Builder) allocator() memory.Allocator {
	if b.Allocator == nil {
		return memory.DefaultAllocator
	}
	return b.Allocator
}

func buildParquetScan(ctx context.Context, _ *Builder, conn engine.Conn, p *plan) (func(), error) {
	stmt := fmt.Sprintf("CREATE OR REPLACE TEMP VIEW %s AS SELECT * FROM read_parquet(%s, union_by_name = true)",
		engine.QuoteIdent(Name), engine.QuoteStringArray(p.parquet))
	if err := conn.Exec(ctx, stmt); err != nil {
		return nil, err
	}
	return nil, nil
}

func buildArrowDataset(ctx context.Context, b *Builder, conn engine.Conn, p *plan) (func(), error) {
	reader, err := arrowipc.NewMultiReader(p.arrow, p.encodings, b.allocator())
	if err != nil {
		return nil, err
	}
	defer reader.Release()
	return materialize(ctx, conn, reader)
}

func buildArrowMerge(ctx context.Context, b *Builder, conn engine.Conn, p *plan) (func(), error) {
	tbl, err := arrowipc.ReadMerged(p.arrow, p.encodings, b.allocator())
	if err != nil {
		return nil, err
	}
	defer tbl.Release()
	return materializeTable(ctx, conn, tbl)
}

func buildInMemoryTable(ctx context.Context, _ *Builder, conn engine.Conn, p *plan) (func(), error) {
	return materializeTable(ctx, conn, p.input.Table)
}

func materializeTable(ctx context.Context, conn engine.Conn, tbl arrow.Table) (func(), error) {
	reader := arrowipc.TableReader(tbl)
	defer reader.Release()
	return materialize(ctx, conn, reader)
}

// materialize streams reader once through a scratch view into DataTable and
// binds t as a view over it. An Arrow stream view can only be scanned once;
// the copy lets user SQL read t any number of times.
func materialize(ctx context.Context, conn engine.Conn, reader array.RecordReader) (func(), error) {
	release, err := conn.RegisterView(scanView, reader)
	if err != nil {
		return nil, err
	}
	copyErr := execAll(ctx, conn,
		fmt.Sprintf("CREATE OR REPLACE TEMP TABLE %s AS SELECT * FROM %s", engine.QuoteIdent(DataTable), engine.QuoteIdent(scanView)),
		fmt.Sprintf("CREATE OR REPLACE TEMP VIEW %s AS SELECT * FROM %s", engine.QuoteIdent(Name), engine.QuoteIdent(DataTable)),
	)
	dropErr := conn.Exec(ctx, "DROP VIEW IF EXISTS "+engine.QuoteIdent(scanView))
	release()
	if copyErr != nil {
		return nil, copyErr
	}
	if dropErr != nil {
		return nil, dropErr
	}
	return func() {
		_ = conn.Exec(context.Background(), "DROP VIEW IF EXISTS "+engine.QuoteIdent(Name))
		_ = conn.Exec(context.Background(), "DROP TABLE IF EXISTS "+engine.QuoteIdent(DataTable))
	}, nil
}

func execAll(ctx context.Context, conn engine.Conn, stmts ...string) error {
	for _, stmt := range stmts {
		if err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
