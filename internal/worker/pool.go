package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/mailworks/mailworks/internal/debug"
	"github.com/mailworks/mailworks/internal/queue"
	"github.com/mailworks/mailworks/internal/taskerr"
	"github.com/mailworks/mailworks/internal/types"
)

const (
	// DefaultConcurrency bounds simultaneously executing handlers.
	DefaultConcurrency = 4
	// DefaultPollInterval is how long the producer sleeps when the ready
	// set is empty.
	DefaultPollInterval = time.Second
)

var errWorkerStopped = errors.New("worker stopped")

// Pool leases tasks from the scheduler and executes them. A single producer
// goroutine polls the scheduler; executions run concurrently, bounded by a
// weighted semaphore.
type Pool struct {
	scheduler    *queue.Scheduler
	registry     *Registry
	concurrency  int64
	pollInterval time.Duration
	leaseTimeout time.Duration

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets how many tasks may execute at once.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = int64(n)
		}
	}
}

// WithPollInterval sets the idle polling interval.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithLeaseTimeout sets the stale-lease threshold the pool's reaper uses.
func WithLeaseTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.leaseTimeout = d
		}
	}
}

// NewPool creates a pool over the scheduler and handler registry.
func NewPool(s *queue.Scheduler, r *Registry, opts ...PoolOption) *Pool {
	p := &Pool{
		scheduler:    s,
		registry:     r,
		concurrency:  DefaultConcurrency,
		pollInterval: DefaultPollInterval,
		leaseTimeout: queue.DefaultLeaseTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = semaphore.NewWeighted(p.concurrency)
	return p
}

// Run leases and executes tasks until ctx is cancelled, then waits for
// in-flight handlers to settle. The stale-lease reaper runs alongside the
// producer. Always returns nil after a clean drain.
func (p *Pool) Run(ctx context.Context) error {
	debug.Logf("worker: pool starting, concurrency=%d kinds=%v\n", p.concurrency, p.registry.Kinds())

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.scheduler.RunReaper(ctx, time.Minute, p.leaseTimeout)
	}()

	p.produce(ctx)
	p.wg.Wait()
	debug.Logf("worker: pool drained\n")
	return nil
}

// produce is the lease loop. Lease errors back off exponentially; a
// successful round trip resets the backoff.
func (p *Pool) produce(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := p.scheduler.Lease(ctx)
		if err != nil {
			wait := bo.NextBackOff()
			debug.Logf("worker: lease failed, retrying in %s: %v\n", wait, err)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		bo.Reset()

		if task == nil {
			if !sleep(ctx, p.pollInterval) {
				return
			}
			continue
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			// Shutting down with an unstarted lease in hand: return it.
			p.release(task, errWorkerStopped)
			return
		}
		p.wg.Add(1)
		go func(t *types.Task) {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.execute(ctx, t)
		}(task)
	}
}

// execute resolves the handler, runs it under the task timeout, and records
// the outcome.
func (p *Pool) execute(ctx context.Context, task *types.Task) {
	handler, ok := p.registry.Resolve(task.Kind)
	if !ok {
		p.record(task, taskerr.Newf(taskerr.Validation, "no handler registered for kind %q", task.Kind))
		return
	}

	hctx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	start := time.Now()
	err := handler.Handle(hctx, task)
	elapsed := time.Since(start).Round(time.Millisecond)

	switch {
	case err == nil:
		debug.Logf("worker: %s kind=%s ok in %s\n", task.ID, task.Kind, elapsed)
	case ctx.Err() != nil:
		// Pool shutdown, not a handler fault. Retryable so another worker
		// picks it up.
		err = errWorkerStopped
	case errors.Is(err, context.DeadlineExceeded):
		err = taskerr.Newf(taskerr.Timeout, "handler exceeded %s", task.Timeout())
	}
	p.record(task, err)
}

// record writes the outcome back through the scheduler. Recording must
// survive ctx cancellation, so it runs on a short detached context.
func (p *Pool) record(task *types.Task, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err == nil {
		if cerr := p.scheduler.Complete(ctx, task); cerr != nil {
			debug.Logf("worker: recording completion of %s failed: %v\n", task.ID, cerr)
		}
		return
	}
	if ferr := p.scheduler.Fail(ctx, task, err, taskerr.Fatal(err)); ferr != nil {
		debug.Logf("worker: recording failure of %s failed: %v\n", task.ID, ferr)
	}
}

// release puts a leased-but-never-started task back as a retryable failure.
func (p *Pool) release(task *types.Task, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.scheduler.Fail(ctx, task, cause, false); err != nil {
		debug.Logf("worker: releasing %s failed: %v\n", task.ID, err)
	}
}

// sleep waits for d or ctx cancellation; reports false when cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RunOnce leases and executes at most n tasks synchronously. Used by the CLI
// drain command and by tests that need deterministic execution.
func (p *Pool) RunOnce(ctx context.Context, n int) (int, error) {
	executed := 0
	for executed < n {
		task, err := p.scheduler.Lease(ctx)
		if err != nil {
			return executed, fmt.Errorf("worker: lease: %w", err)
		}
		if task == nil {
			break
		}
		p.execute(ctx, task)
		executed++
	}
	return executed, nil
}
