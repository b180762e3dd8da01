package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmarchuk/shuttersync/internal/logging"
)

// Handler executes a job's work. The returned error is logged only: failed
// tasks re-register themselves through the scheduler, so the runner never
// retries on its own.
type Handler func(ctx context.Context, job Job) error

// NetworkChecker reports whether the network constraint is currently
// satisfiable.
type NetworkChecker func(ctx context.Context) bool

// networkProbeInterval is how often a waiting job re-checks connectivity.
const networkProbeInterval = 5 * time.Second

// InProcRunner executes registered jobs on goroutines inside the daemon
// process. It honors the backoff delay, the requires-network constraint and
// per-id dedup; concurrency across distinct jobs is capped by a semaphore.
type InProcRunner struct {
	mu      sync.Mutex
	handler Handler
	online  NetworkChecker
	log     logging.Logger
	baseCtx context.Context
	jobs    map[string]*pendingJob
	sem     chan struct{}
	wg      sync.WaitGroup
	probe   time.Duration
	closed  bool
}

type pendingJob struct {
	job   Job
	timer *time.Timer
}

func NewInProcRunner(online NetworkChecker, log logging.Logger, maxConcurrent int) *InProcRunner {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &InProcRunner{
		online:  online,
		log:     log,
		baseCtx: context.Background(),
		jobs:    make(map[string]*pendingJob),
		sem:     make(chan struct{}, maxConcurrent),
		probe:   networkProbeInterval,
	}
}

// SetHandler wires the job body. It must be called before the first
// registration; a seam rather than a constructor argument because the
// scheduler and the runner reference each other.
func (r *InProcRunner) SetHandler(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// SetBaseContext sets the context jobs execute under. Cancelling it stops
// waiting jobs and interrupts in-flight network calls on shutdown.
func (r *InProcRunner) SetBaseContext(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()
}

func (r *InProcRunner) RegisterOneOffJob(job Job) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("runner closed")
	}
	if r.handler == nil {
		r.mu.Unlock()
		return errors.New("runner has no handler")
	}
	if _, exists := r.jobs[job.ID]; exists {
		// Dedup by id: the earlier registration wins.
		r.mu.Unlock()
		return nil
	}

	p := &pendingJob{job: job}
	delay := job.Backoff.Delay(job.Attempt)
	p.timer = time.AfterFunc(delay, func() { r.execute(job.ID) })
	r.jobs[job.ID] = p
	r.mu.Unlock()
	return nil
}

func (r *InProcRunner) CancelJob(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.jobs[id]
	if !ok {
		// Already executing or finished; an in-flight job is never
		// interrupted.
		return
	}
	if p.timer.Stop() {
		delete(r.jobs, id)
	}
}

func (r *InProcRunner) CancelJobsByTag(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.jobs {
		if p.job.Tag != tag {
			continue
		}
		if p.timer.Stop() {
			delete(r.jobs, id)
		}
	}
}

func (r *InProcRunner) execute(id string) {
	r.mu.Lock()
	p, ok := r.jobs[id]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	// Release the id before running so the handler can re-register it,
	// e.g. a failed attempt scheduling its own retry.
	delete(r.jobs, id)
	handler := r.handler
	ctx := r.baseCtx
	// Join the wait group under the same lock that guards closed, so
	// Shutdown either sees this job or rejects it, never neither.
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	if p.job.RequiresNetwork && !r.waitOnline(ctx) {
		r.log.Warn(ctx, "job abandoned waiting for network", "job_id", id)
		return
	}

	if err := handler(ctx, p.job); err != nil {
		r.log.Warn(ctx, "job finished with error", "job_id", id, "error", err.Error())
	}
}

func (r *InProcRunner) waitOnline(ctx context.Context) bool {
	if r.online == nil || r.online(ctx) {
		return true
	}
	ticker := time.NewTicker(r.probe)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if r.online(ctx) {
				return true
			}
		}
	}
}

// Shutdown stops accepting registrations, drops pending timers and waits
// for running jobs until the context is done. It returns false on timeout.
func (r *InProcRunner) Shutdown(ctx context.Context) bool {
	r.mu.Lock()
	r.closed = true
	for id, p := range r.jobs {
		if p.timer.Stop() {
			delete(r.jobs, id)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
