package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/events"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/submission"
)

var (
	// ErrBusy is returned when another job holds the browser.
	ErrBusy = errors.New("another submission is in progress")
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrRunnerClosed is returned after Shutdown.
	ErrRunnerClosed = errors.New("runner is shut down")
)

// JobKind names what a job does.
type JobKind string

const (
	JobSend  JobKind = "send"
	JobBatch JobKind = "batch"
)

// JobStatus is the lifecycle of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a snapshot of a job. Result holds a SendResult or BatchResult once
// the job has run; batch results are kept on failure too.
type Job struct {
	ID         string     `json:"id"`
	Kind       JobKind    `json:"kind"`
	Status     JobStatus  `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Result     any        `json:"result,omitempty"`

	err error
}

// Err returns the job's failure, if any, for errors.Is/As matching.
func (j Job) Err() error { return j.err }

type jobEntry struct {
	job    Job
	done   chan struct{}
	cancel context.CancelFunc
}

// keepJobs bounds the finished-job history.
const keepJobs = 100

// Runner runs at most one automation job at a time, off the caller's
// goroutine, and keeps a registry of recent jobs.
type Runner struct {
	engine *Engine
	bus    *events.Bus
	logger *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	active string
	jobs   map[string]*jobEntry
	order  []string
	closed bool
}

// NewRunner returns a Runner for engine. bus may be nil.
func NewRunner(engine *Engine, bus *events.Bus, logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		engine:     engine,
		bus:        bus,
		logger:     logger.Named("runner"),
		baseCtx:    ctx,
		baseCancel: cancel,
		jobs:       make(map[string]*jobEntry),
	}
}

// StartSend queues a single send.
func (r *Runner) StartSend(p submission.Payload) (Job, error) {
	return r.start(JobSend, func(ctx context.Context, id string) (any, error) {
		res, err := r.engine.send(ctx, id, p)
		return res, err
	})
}

// StartBatch queues a batch. The count is checked before the job is created.
func (r *Runner) StartBatch(template submission.Payload, count int) (Job, error) {
	n, err := r.engine.BatchSize(count)
	if err != nil {
		return Job{}, err
	}
	return r.start(JobBatch, func(ctx context.Context, id string) (any, error) {
		return r.engine.sendBatch(ctx, id, template, n)
	})
}

func (r *Runner) start(kind JobKind, fn func(ctx context.Context, id string) (any, error)) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Job{}, ErrRunnerClosed
	}
	if r.active != "" {
		return Job{}, fmt.Errorf("%w (job %s)", ErrBusy, r.active)
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	entry := &jobEntry{
		job: Job{
			ID:        uuid.NewString(),
			Kind:      kind,
			Status:    JobQueued,
			CreatedAt: time.Now().UTC(),
		},
		done:   make(chan struct{}),
		cancel: cancel,
	}
	id := entry.job.ID
	r.active = id
	r.jobs[id] = entry
	r.order = append(r.order, id)
	r.prune()

	r.wg.Add(1)
	observability.JobsInFlight.Inc()
	go r.run(ctx, entry, fn)

	snapshot := entry.job
	r.publish(snapshot)
	return snapshot, nil
}

// prune drops the oldest finished jobs beyond keepJobs. Caller holds mu.
func (r *Runner) prune() {
	for len(r.order) > keepJobs {
		oldest := r.order[0]
		if oldest == r.active {
			return
		}
		delete(r.jobs, oldest)
		r.order = r.order[1:]
	}
}

func (r *Runner) run(ctx context.Context, entry *jobEntry, fn func(ctx context.Context, id string) (any, error)) {
	defer r.wg.Done()
	defer observability.JobsInFlight.Dec()
	defer entry.cancel()

	r.update(entry, func(j *Job) { j.Status = JobRunning })
	logger := r.logger.With(zap.String("job_id", entry.job.ID), zap.String("kind", string(entry.job.Kind)))
	logger.Info("Job started.")

	result, err := fn(ctx, entry.job.ID)

	r.mu.Lock()
	now := time.Now().UTC()
	entry.job.FinishedAt = &now
	entry.job.Result = result
	if err != nil {
		entry.job.Status = JobFailed
		entry.job.Error = err.Error()
		entry.job.err = err
	} else {
		entry.job.Status = JobSucceeded
	}
	r.active = ""
	snapshot := entry.job
	close(entry.done)
	r.mu.Unlock()

	if err != nil {
		logger.Warn("Job failed.", zap.Error(err))
	} else {
		logger.Info("Job succeeded.")
	}
	r.publish(snapshot)
}

func (r *Runner) update(entry *jobEntry, fn func(*Job)) {
	r.mu.Lock()
	fn(&entry.job)
	snapshot := entry.job
	r.mu.Unlock()
	r.publish(snapshot)
}

func (r *Runner) publish(j Job) {
	if r.bus != nil {
		r.bus.Publish(events.TopicJob, j)
	}
}

// Get returns a snapshot of job id.
func (r *Runner) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return entry.job, nil
}

// Active returns the running job's ID, or "".
func (r *Runner) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Wait blocks until job id finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	entry, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}

	select {
	case <-entry.done:
		return r.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Cancel asks job id to stop. A send stops if it has not opened the tab yet;
// a batch stops at the next item boundary. An item already on the form is
// finished and recorded first.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	entry.cancel()
	return nil
}

// Shutdown stops accepting jobs, cancels the running one and waits for it,
// bounded by ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.baseCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runner shutdown: %w", ctx.Err())
	}
}
