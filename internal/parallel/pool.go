// Package parallel provides a bounded worker pool used by the evolution
// engine to run independent world-generation work concurrently. It is
// adapted from a dynamically-scaling goal-evaluation pool; the
// evolution engine's workload (a known, fixed number of disjoint worlds
// per generation) never needs runtime-driven scale up/down or
// deadlock detection, so this version keeps only the bounded dispatch
// and drops the autoscaling and statistics machinery.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// WorldPool bounds the number of work items in flight at once.
type WorldPool struct {
	workers int
}

// NewWorldPool creates a pool with the given worker count. A
// non-positive count defaults to the host's available parallelism.
func NewWorldPool(workers int) *WorldPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &WorldPool{workers: workers}
}

// Workers returns the pool's concurrency bound.
func (p *WorldPool) Workers() int { return p.workers }

// Run invokes fn(i) for every i in [0, n), at most Workers() calls at a
// time, and returns the first error any call returned. All n calls are
// attempted regardless of earlier errors: the evolution engine's worlds
// are mutually independent, and a failure in one must not prevent the
// others from completing their tick.
func (p *WorldPool) Run(n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return fn(i) })
	}
	return g.Wait()
}
