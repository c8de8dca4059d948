package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"photostage/internal/logging"
	"photostage/internal/metrics"
)

// Kind identifies a job type. Each kind has its own backoff schedule and
// wall-clock retry deadline.
type Kind string

const (
	KindExtractPreview Kind = "extract_preview"
	KindEnhance        Kind = "enhance"
	KindCommit         Kind = "commit"
)

// Job is one unit of background work. StagedID addresses the record; kinds
// that need more carry it in Payload.
type Job struct {
	Kind     Kind
	StagedID string
	Payload  interface{}

	attempt  int
	deadline time.Time
}

// Attempt returns the zero-based attempt number of the current execution.
func (j *Job) Attempt() int {
	return j.attempt
}

// Handler processes one job attempt. Returning nil completes the job;
// returning a RequeueError schedules a retry that does not count against
// the backoff schedule; any other error consumes one scheduled retry.
type Handler func(ctx context.Context, job *Job) error

// FailureHandler runs once when a job is abandoned, after its last retry
// or past its deadline. It receives the final error.
type FailureHandler func(ctx context.Context, job *Job, cause error)

// RequeueError asks for a delayed retry without counting as a failure.
// Used when work completed but its effects are not yet observable, such
// as a written preview file not yet visible to a stat call.
type RequeueError struct {
	Delay time.Duration
}

func (e *RequeueError) Error() string {
	return fmt.Sprintf("requeue after %s", e.Delay)
}

// ErrSkip marks a job as obsolete. The job completes without running its
// failure handler, typically because the staged image was deleted while
// the job was queued.
var ErrSkip = errors.New("job no longer applies")

// PermanentError wraps a failure that retrying cannot fix, such as a
// source file that no longer exists. The job goes straight to its
// failure handler.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

type kindConfig struct {
	handler   Handler
	onFailure FailureHandler
	backoff   []time.Duration
	deadline  time.Duration
}

// Queue is an in-process job queue backed by a fixed worker pool. Jobs
// are processed in rough FIFO order; retries re-enter the queue after
// their backoff delay.
type Queue struct {
	jobs  chan *Job
	kinds map[Kind]*kindConfig

	// ctx gates intake and retry timers; runCtx is handed to handlers
	// and outlives ctx so Stop can drain in-flight work uninterrupted.
	ctx       context.Context
	cancel    context.CancelFunc
	runCtx    context.Context
	runCancel context.CancelFunc

	wg      sync.WaitGroup
	timerWG sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewQueue creates a queue with the given buffer capacity.
func NewQueue(capacity int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:      make(chan *Job, capacity),
		kinds:     make(map[Kind]*kindConfig),
		ctx:       ctx,
		cancel:    cancel,
		runCtx:    runCtx,
		runCancel: runCancel,
	}
}

// Register binds a kind to its handler, retry schedule, and wall-clock
// deadline. Must be called before Start.
func (q *Queue) Register(kind Kind, handler Handler, onFailure FailureHandler, backoff []time.Duration, deadline time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		panic("jobs: Register after Start")
	}
	q.kinds[kind] = &kindConfig{
		handler:   handler,
		onFailure: onFailure,
		backoff:   backoff,
		deadline:  deadline,
	}
}

// Start launches the worker pool.
func (q *Queue) Start(workers int) {
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()

	logging.Info("job queue starting with %d workers", workers)
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Stop shuts the pool down: intake and retry timers stop first, then
// the workers drain everything queued and in flight before their
// context is released. Jobs waiting on a retry timer are dropped; they
// are reconstructible from the database on the next boot.
func (q *Queue) Stop() {
	q.cancel()
	q.timerWG.Wait()
	close(q.jobs)
	q.wg.Wait()
	q.runCancel()
	logging.Info("job queue stopped")
}

// Enqueue submits a job. Returns an error when the kind is unregistered
// or the queue is full.
func (q *Queue) Enqueue(job *Job) error {
	cfg, ok := q.kinds[job.Kind]
	if !ok {
		return fmt.Errorf("jobs: unregistered kind %q", job.Kind)
	}
	if q.ctx.Err() != nil {
		return fmt.Errorf("jobs: queue stopped, rejecting %s for %s", job.Kind, job.StagedID)
	}
	if cfg.deadline > 0 {
		job.deadline = time.Now().Add(cfg.deadline)
	}

	select {
	case q.jobs <- job:
		metrics.JobsEnqueued.WithLabelValues(string(job.Kind)).Inc()
		metrics.JobQueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return fmt.Errorf("jobs: queue full, dropping %s for %s", job.Kind, job.StagedID)
	}
}

// Depth returns the number of queued jobs not yet picked up.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		metrics.JobQueueDepth.Set(float64(len(q.jobs)))
		q.run(job)
	}
	logging.Debug("job worker %d exiting", id)
}

func (q *Queue) run(job *Job) {
	cfg := q.kinds[job.Kind]
	start := time.Now()

	err := cfg.handler(q.runCtx, job)
	metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.JobsCompleted.WithLabelValues(string(job.Kind), "ok").Inc()
		return

	case errors.Is(err, ErrSkip):
		logging.Debug("%s job for %s skipped: %v", job.Kind, job.StagedID, err)
		metrics.JobsCompleted.WithLabelValues(string(job.Kind), "skipped").Inc()
		return
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		logging.Error("%s job for %s failed permanently: %v", job.Kind, job.StagedID, err)
		metrics.JobsCompleted.WithLabelValues(string(job.Kind), "failed").Inc()
		if cfg.onFailure != nil {
			cfg.onFailure(q.runCtx, job, err)
		}
		return
	}

	var rq *RequeueError
	if errors.As(err, &rq) {
		if job.deadline.IsZero() || time.Now().Add(rq.Delay).Before(job.deadline) {
			logging.Debug("%s job for %s requeued for %s", job.Kind, job.StagedID, rq.Delay)
			q.requeueAfter(job, rq.Delay)
			return
		}
		err = fmt.Errorf("retry deadline exceeded: %w", err)
	} else if job.attempt < len(cfg.backoff) {
		delay := cfg.backoff[job.attempt]
		if job.deadline.IsZero() || time.Now().Add(delay).Before(job.deadline) {
			logging.Warn("%s job for %s failed (attempt %d), retrying in %s: %v",
				job.Kind, job.StagedID, job.attempt+1, delay, err)
			metrics.JobRetries.WithLabelValues(string(job.Kind)).Inc()
			job.attempt++
			q.requeueAfter(job, delay)
			return
		}
		err = fmt.Errorf("retry deadline exceeded: %w", err)
	}

	logging.Error("%s job for %s failed permanently after %d attempts: %v",
		job.Kind, job.StagedID, job.attempt+1, err)
	metrics.JobsCompleted.WithLabelValues(string(job.Kind), "failed").Inc()
	if cfg.onFailure != nil {
		cfg.onFailure(q.runCtx, job, err)
	}
}

// requeueAfter re-submits the job once the delay elapses. Shutdown drops
// pending timers; the work is re-derivable from persisted status fields.
func (q *Queue) requeueAfter(job *Job, delay time.Duration) {
	q.timerWG.Add(1)
	go func() {
		defer q.timerWG.Done()
		select {
		case <-q.ctx.Done():
		case <-time.After(delay):
			select {
			case q.jobs <- job:
				metrics.JobQueueDepth.Set(float64(len(q.jobs)))
			case <-q.ctx.Done():
			}
		}
	}()
}
