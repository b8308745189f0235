// Package scheduler implements a fixed-size cooperative task scheduler:
// a bounded pool of worker goroutines that control-plane request handling
// is dispatched onto, so a burst of connections never spawns unbounded
// goroutines.
package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkerThreads matches the CLI's --worker-threads default.
const DefaultWorkerThreads = 4

// Pool dispatches jobs onto at most N concurrently running goroutines.
// Submit blocks the caller while all N slots are busy; Wait blocks until
// every dispatched job has returned.
type Pool struct {
	group *errgroup.Group
	ctx   context.Context
}

// New creates a Pool bounded to workers concurrently running jobs. workers
// <= 0 selects DefaultWorkerThreads.
func New(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkerThreads
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	return &Pool{group: g, ctx: gctx}
}

// Submit schedules fn to run on the next free worker slot. It blocks only
// if all worker slots are currently busy (errgroup.Group.Go's own
// blocking-on-SetLimit behaviour); callers must not hold a cache-index or
// pool lock across it.
func (p *Pool) Submit(fn func(ctx context.Context) error) {
	p.group.Go(func() error {
		return fn(p.ctx)
	})
}

// Wait blocks until every submitted job has returned, then returns the
// first non-nil error, if any (mirrors errgroup.Group.Wait).
func (p *Pool) Wait() error {
	return p.group.Wait()
}

// Context returns the pool's derived context, canceled the first time any
// submitted job returns a non-nil error, or when the pool's parent context
// is canceled.
func (p *Pool) Context() context.Context {
	return p.ctx
}
