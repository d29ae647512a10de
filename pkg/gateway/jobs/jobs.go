// Package jobs provides the bounded background work queue and the shared
// concurrency gate. Analysis and persistence work runs here so the live
// relay hot path never blocks on the store or the analysis service.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one unit of deferred work. Jobs have no identity beyond their place
// in the queue; a dropped job is logged and forgotten.
type Job struct {
	Name      string
	SessionID string
	Run       func(ctx context.Context) error
}

// Gate bounds concurrent access to a shared downstream resource. It is a
// plain channel semaphore; permits are the only cross-session shared state.
type Gate struct {
	sem chan struct{}
}

func NewGate(permits int) *Gate {
	if permits <= 0 {
		permits = 1
	}
	return &Gate{sem: make(chan struct{}, permits)}
}

func (g *Gate) Acquire(ctx context.Context) error {
	if g == nil {
		return nil
	}
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) TryAcquire() bool {
	if g == nil {
		return true
	}
	select {
	case g.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *Gate) Release() {
	if g == nil {
		return
	}
	select {
	case <-g.sem:
	default:
	}
}

type Config struct {
	Capacity   int
	Workers    int
	JobTimeout time.Duration
}

// Queue is a fixed-capacity job queue drained by a fixed worker pool.
// Submit never blocks; a full queue drops the job.
type Queue struct {
	logger *slog.Logger
	gate   *Gate
	cfg    Config

	jobs chan Job
	wg   sync.WaitGroup

	// mu orders Submit's send against Close's close(jobs): Close takes the
	// write lock, so no sender can be in flight when the channel closes.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewQueue(cfg Config, gate *Gate, logger *slog.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger: logger,
		gate:   gate,
		cfg:    cfg,
		jobs:   make(chan Job, cfg.Capacity),
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues a job without blocking. It returns false when the queue is
// at capacity or already closed; the caller treats that as a dropped job.
func (q *Queue) Submit(job Job) bool {
	if q == nil || job.Run == nil {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("job dropped, queue closed", "job", job.Name, "session_id", job.SessionID)
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		q.logger.Warn("job dropped, queue full", "job", job.Name, "session_id", job.SessionID)
		return false
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.execute(job)
	}
}

// Jobs run on a background context so a session closing does not cancel its
// in-flight persistence or analysis work.
func (q *Queue) execute(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.JobTimeout)
	defer cancel()

	if err := q.gate.Acquire(ctx); err != nil {
		q.logger.Warn("job abandoned waiting for permit", "job", job.Name, "session_id", job.SessionID, "error", err)
		return
	}
	defer q.gate.Release()

	defer func() {
		if v := recover(); v != nil {
			q.logger.Error("job panic", "job", job.Name, "session_id", job.SessionID, "panic", v)
		}
	}()

	if err := job.Run(ctx); err != nil {
		q.logger.Warn("job failed", "job", job.Name, "session_id", job.SessionID, "error", err)
	}
}

// Close stops intake and waits for queued jobs to finish, up to ctx.
func (q *Queue) Close(ctx context.Context) bool {
	if q == nil {
		return true
	}
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.wg.Wait()
	}()

	if ctx == nil {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
