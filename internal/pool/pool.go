// Package pool keeps a fixed set of reusable engine connections.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/datasetviz/datasetviz/internal/engine"
	"github.com/datasetviz/datasetviz/internal/observability"
)

// DefaultResetStatements drop whatever a request bound as the relation.
var DefaultResetStatements = []string{
	"DROP VIEW IF EXISTS t",
	"DROP TABLE IF EXISTS t",
	"DROP TABLE IF EXISTS t_data",
}

type Options struct {
	ResetStatements []string
	Logger          *slog.Logger
}

// Stats counts connections over the pool's lifetime. Discarded counts reset
// failures only; Surplus counts healthy connections closed because the pool
// was full or closed.
type Stats struct {
	Idle      int
	Opened    int64
	Overflow  int64
	Discarded int64
	Surplus   int64
}

type Pool struct {
	open   engine.Opener
	reset  []string
	logger *slog.Logger

	mu     sync.Mutex
	idle   chan engine.Conn
	closed bool

	opened    atomic.Int64
	overflow  atomic.Int64
	discarded atomic.Int64
	surplus   atomic.Int64
}

// New opens size connections up front.
func New(ctx context.Context, size int, open engine.Opener, opts Options) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1")
	}
	if open == nil {
		return nil, fmt.Errorf("connection opener is required")
	}
	reset := opts.ResetStatements
	if reset == nil {
		reset = DefaultResetStatements
	}
	p := &Pool{
		open:   open,
		reset:  reset,
		logger: observability.Component(opts.Logger, "pool"),
		idle:   make(chan engine.Conn, size),
	}
	for i := 0; i < size; i++ {
		conn, err := open(ctx)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("open pooled connection %d: %w", i, err)
		}
		p.opened.Add(1)
		p.idle <- conn
	}
	observability.SetPoolIdle(len(p.idle))
	return p, nil
}

// Acquire never waits: an empty pool yields a fresh ephemeral connection.
func (p *Pool) Acquire(ctx context.Context) (engine.Conn, error) {
	select {
	case conn := <-p.idle:
		observability.SetPoolIdle(len(p.idle))
		return conn, nil
	default:
	}

	conn, err := p.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open overflow connection: %w", err)
	}
	p.opened.Add(1)
	p.overflow.Add(1)
	observability.IncrementPoolOverflow()
	return conn, nil
}

// Release resets conn and returns it to the pool, or closes it when the reset
// fails, the pool is full or the pool is closed.
func (p *Pool) Release(ctx context.Context, conn engine.Conn) {
	if conn == nil {
		return
	}
	for _, stmt := range p.reset {
		if err := conn.Exec(ctx, stmt); err != nil {
			p.logger.WarnContext(ctx, "discarding connection after failed reset",
				slog.String("statement", stmt),
				slog.String("error", err.Error()),
			)
			p.discard(conn)
			return
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeSurplus(conn)
		return
	}
	select {
	case p.idle <- conn:
		p.mu.Unlock()
		observability.SetPoolIdle(len(p.idle))
	default:
		p.mu.Unlock()
		p.closeSurplus(conn)
	}
}

// Close closes idle connections. Connections released afterwards are closed
// rather than pooled.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for {
		select {
		case conn := <-p.idle:
			if err := conn.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			observability.SetPoolIdle(0)
			return errors.Join(errs...)
		}
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Idle:      len(p.idle),
		Opened:    p.opened.Load(),
		Overflow:  p.overflow.Load(),
		Discarded: p.discarded.Load(),
		Surplus:   p.surplus.Load(),
	}
}

func (p *Pool) discard(conn engine.Conn) {
	p.discarded.Add(1)
	observability.IncrementPoolDiscard()
	_ = conn.Close()
}

func (p *Pool) closeSurplus(conn engine.Conn) {
	p.surplus.Add(1)
	observability.IncrementPoolSurplusClose()
	_ = conn.Close()
}
