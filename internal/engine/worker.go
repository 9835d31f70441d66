package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rendis/varflow/internal/nodes"
	"github.com/rendis/varflow/pkg/schema"
)

// PoolMetrics is a snapshot of node pool counters for one run.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when a node is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("node pool is shut down")

// NodeTask executes one node and reports its result.
type NodeTask func(ctx context.Context) *nodes.NodeRunResult

// WorkerPool bounds how many nodes of a level execute at once and
// collects which of them did not succeed.
type WorkerPool struct {
	sem  chan struct{}
	wg   sync.WaitGroup
	done chan struct{}

	mu       sync.Mutex
	closed   bool
	running  map[string]struct{}
	failures []string

	active, succeeded, failed, panics atomic.Int64
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:     make(chan struct{}, size),
		done:    make(chan struct{}),
		running: make(map[string]struct{}),
	}
}

// Size returns the pool's concurrency limit.
func (p *WorkerPool) Size() int { return cap(p.sem) }

// Submit runs task for nodeID on a pooled goroutine. It blocks while the
// pool is at capacity and gives up when ctx is cancelled or the pool shuts
// down.
func (p *WorkerPool) Submit(ctx context.Context, nodeID string, task NodeTask) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.running[nodeID] = struct{}{}
	p.mu.Unlock()

	go p.run(ctx, nodeID, task)
	return nil
}

func (p *WorkerPool) run(ctx context.Context, nodeID string, task NodeTask) {
	ok := false
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
		}
		if ok {
			p.succeeded.Add(1)
		} else {
			p.failed.Add(1)
		}
		p.mu.Lock()
		delete(p.running, nodeID)
		if !ok {
			p.failures = append(p.failures, nodeID)
		}
		p.mu.Unlock()
		p.active.Add(-1)
		<-p.sem
		p.wg.Done()
	}()

	result := task(ctx)
	ok = result != nil && result.Status == schema.NodeStatusSucceeded
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Running returns the ids of nodes currently executing, sorted.
func (p *WorkerPool) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Wait blocks until every submitted node finishes, then returns the ids
// of nodes that failed or panicked since the previous Wait, sorted.
func (p *WorkerPool) Wait() []string {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	failures := p.failures
	p.failures = nil
	slices.Sort(failures)
	return failures
}

// Shutdown stops accepting nodes and waits for those running.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the current pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
