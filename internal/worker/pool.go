// Package worker implements §5A's fixed-size connection worker pool: a
// bounded set of goroutines that each service one accepted connection
// end-to-end, running exactly one statement at a time per the "operators
// do not suspend mid-statement" rule from §5. It is grounded on
// gazette-core's task.Group, adapted from a queue-and-wait
// task runner into a persistent worker pool with graceful drain.
package worker

import (
	"context"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/edgesql/coredb/internal/engine"
	"github.com/edgesql/coredb/pkg/logging"
)

var log = logging.For("worker")

// Handler processes one accepted connection to completion.
type Handler func(ctx context.Context, conn net.Conn, e *engine.Engine)

// Pool runs Size goroutines pulling connections off a work queue,
// mirroring gazette-core's errgroup.Group shape but as a long-lived
// pool rather than a run-once task batch.
type Pool struct {
	Engine  *engine.Engine
	Size    int
	Handler Handler

	work chan net.Conn
	eg   *errgroup.Group
	ctx  context.Context
}

// New constructs a Pool of size goroutines, defaulting to 1 if size is
// non-positive (the CLI resolves runtime.NumCPU() before calling this).
func New(ctx context.Context, e *engine.Engine, size int, h Handler) *Pool {
	if size <= 0 {
		size = 1
	}
	eg, ctx := errgroup.WithContext(ctx)
	return &Pool{
		Engine:  e,
		Size:    size,
		Handler: h,
		work:    make(chan net.Conn, size*4),
		eg:      eg,
		ctx:     ctx,
	}
}

// Start launches the pool's goroutines. It does not block.
func (p *Pool) Start() {
	for i := 0; i < p.Size; i++ {
		p.eg.Go(p.loop)
	}
	log.WithField("workers", p.Size).Info("worker pool started")
}

func (p *Pool) loop() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case conn, ok := <-p.work:
			if !ok {
				return nil
			}
			p.Handler(p.ctx, conn, p.Engine)
		}
	}
}

// Submit enqueues conn for processing by the next free worker. It
// returns false without blocking forever if the pool's context has
// already been cancelled (e.g. shutdown in progress).
func (p *Pool) Submit(conn net.Conn) bool {
	if p.ctx.Err() != nil {
		conn.Close()
		return false
	}
	select {
	case p.work <- conn:
		return true
	case <-p.ctx.Done():
		conn.Close()
		return false
	}
}

// Drain closes the work queue and waits for every in-flight handler to
// finish, returning the first error any worker goroutine returned.
func (p *Pool) Drain() error {
	close(p.work)
	return p.eg.Wait()
}
