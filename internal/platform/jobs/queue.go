package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/patientsummary/internal/platform/telemetry"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 100
	DefaultTimeout   = 300 * time.Second
	DefaultResultTTL = time.Hour
)

// QueueOption configures a Queue.
type QueueOption func(*Queue)

func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.size = n
		}
	}
}

// WithTimeout bounds a single job run.
func WithTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithResultTTL sets how long finished jobs are kept.
func WithResultTTL(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.ttl = d
		}
	}
}

// WithJanitorInterval sets how often expired jobs are removed.
func WithJanitorInterval(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.janitorEvery = d
		}
	}
}

func WithLogger(l zerolog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

func WithMetrics(m telemetry.Recorder) QueueOption {
	return func(q *Queue) {
		if m != nil {
			q.metrics = m
		}
	}
}

// Queue hands enqueued jobs to a fixed pool of workers. Each job is tried
// once; a failed job is never requeued.
type Queue struct {
	store        Store
	workers      int
	size         int
	timeout      time.Duration
	ttl          time.Duration
	janitorEvery time.Duration
	logger       zerolog.Logger
	metrics      telemetry.Recorder
	now          func() time.Time

	pending chan string

	// mu serialises state transitions so Cancel and a starting worker
	// cannot both claim a pending job.
	mu      sync.Mutex
	tasks   map[string]TaskFunc
	running map[string]context.CancelFunc
}

func NewQueue(store Store, opts ...QueueOption) *Queue {
	q := &Queue{
		store:   store,
		workers: DefaultWorkers,
		size:    DefaultQueueSize,
		timeout: DefaultTimeout,
		ttl:     DefaultResultTTL,
		logger:  zerolog.Nop(),
		metrics: telemetry.Nop{},
		now:     time.Now,
		tasks:   make(map[string]TaskFunc),
		running: make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(q)
	}
	if q.janitorEvery == 0 {
		q.janitorEvery = q.ttl / 4
		if q.janitorEvery > time.Minute {
			q.janitorEvery = time.Minute
		}
	}
	q.pending = make(chan string, q.size)
	return q
}

// Register makes fn available under name. Registering a name twice replaces
// the previous function.
func (q *Queue) Register(name string, fn TaskFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[name] = fn
}

// Enqueue records a pending job and schedules it. It never blocks: when the
// buffer is full the job is discarded and ErrQueueFull returned.
func (q *Queue) Enqueue(ctx context.Context, task string, args any) (string, error) {
	q.mu.Lock()
	_, ok := q.tasks[task]
	q.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}

	now := q.now().UTC()
	job := &Job{
		ID:        NewID(now),
		Task:      task,
		Args:      raw,
		State:     StatePending,
		CreatedAt: now,
	}
	if err := q.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	select {
	case q.pending <- job.ID:
	default:
		if err := q.store.Delete(ctx, job.ID); err != nil {
			q.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to discard rejected job")
		}
		return "", ErrQueueFull
	}

	q.metrics.Inc(telemetry.Jobs, telemetry.L("task", task), telemetry.L("status", "queued"))
	q.logger.Debug().Str("job_id", job.ID).Str("task", task).Msg("job enqueued")
	return job.ID, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	return q.store.Get(ctx, id)
}

// Cancel revokes a job. A pending job will never run; a started job has
// its context cancelled and keeps the revoked state whatever it returns.
func (q *Queue) Cancel(ctx context.Context, id string) (*Job, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State.Finished() {
		return job, ErrJobFinished
	}

	now := q.now().UTC()
	job.State = StateRevoked
	job.FinishedAt = &now
	if err := q.store.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if cancel, ok := q.running[id]; ok {
		cancel()
	}

	q.metrics.Inc(telemetry.Jobs, telemetry.L("task", job.Task), telemetry.L("status", job.State.Status()))
	q.logger.Info().Str("job_id", id).Msg("job cancelled")
	return job, nil
}

// Run starts the workers and the janitor and blocks until ctx is done. Jobs
// still buffered at shutdown stay pending in the store.
func (q *Queue) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(gctx)
			return nil
		})
	}
	g.Go(func() error {
		q.janitor(gctx)
		return nil
	})

	q.logger.Info().Int("workers", q.workers).Int("queue_size", q.size).Msg("job queue started")
	err := g.Wait()
	q.logger.Info().Msg("job queue stopped")
	return err
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.pending:
			q.execute(ctx, id)
		}
	}
}

func (q *Queue) execute(ctx context.Context, id string) {
	// store writes must land even when the worker is shutting down
	storeCtx := context.WithoutCancel(ctx)

	job, fn, runCtx, cancel, ok := q.start(ctx, storeCtx, id)
	if !ok {
		return
	}
	defer cancel()

	log := q.logger.With().Str("job_id", id).Str("task", job.Task).Logger()
	log.Info().Msg("job started")

	result, runErr := q.invoke(runCtx, log, fn, job.Args)

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, id)

	current, err := q.store.Get(storeCtx, id)
	if err != nil {
		log.Error().Err(err).Msg("job vanished before completion")
		return
	}
	if current.State == StateRevoked {
		log.Info().Msg("job finished after cancellation")
		return
	}

	now := q.now().UTC()
	current.FinishedAt = &now
	if runErr == nil {
		current.Result, runErr = json.Marshal(result)
	}
	if runErr != nil {
		current.State = StateFailure
		current.Result = nil
		current.Error = runErr.Error()
		log.Warn().Err(runErr).Msg("job failed")
	} else {
		current.State = StateSuccess
		log.Info().Dur("duration", now.Sub(*current.StartedAt)).Msg("job completed")
	}
	if err := q.store.Update(storeCtx, current); err != nil {
		log.Error().Err(err).Msg("failed to record job outcome")
	}
	q.metrics.Inc(telemetry.Jobs, telemetry.L("task", current.Task), telemetry.L("status", current.State.Status()))
}

// start claims a pending job. ok is false when the job was revoked or
// removed while it waited in the buffer.
func (q *Queue) start(ctx, storeCtx context.Context, id string) (*Job, TaskFunc, context.Context, context.CancelFunc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.Get(storeCtx, id)
	if err != nil {
		q.logger.Warn().Err(err).Str("job_id", id).Msg("skipping job")
		return nil, nil, nil, nil, false
	}
	if job.State != StatePending {
		return nil, nil, nil, nil, false
	}
	fn, ok := q.tasks[job.Task]
	if !ok {
		q.fail(storeCtx, job, fmt.Errorf("%w: %s", ErrUnknownTask, job.Task))
		return nil, nil, nil, nil, false
	}

	now := q.now().UTC()
	job.State = StateStarted
	job.StartedAt = &now
	if err := q.store.Update(storeCtx, job); err != nil {
		q.logger.Error().Err(err).Str("job_id", id).Msg("failed to mark job started")
		return nil, nil, nil, nil, false
	}

	runCtx, cancel := context.WithTimeout(ctx, q.timeout)
	q.running[id] = cancel
	return job, fn, runCtx, cancel, true
}

func (q *Queue) fail(ctx context.Context, job *Job, err error) {
	now := q.now().UTC()
	job.State = StateFailure
	job.Error = err.Error()
	job.FinishedAt = &now
	if uerr := q.store.Update(ctx, job); uerr != nil {
		q.logger.Error().Err(uerr).Str("job_id", job.ID).Msg("failed to record job failure")
	}
	q.metrics.Inc(telemetry.Jobs, telemetry.L("task", job.Task), telemetry.L("status", job.State.Status()))
}

func (q *Queue) invoke(ctx context.Context, log zerolog.Logger, fn TaskFunc, args json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stack", string(debug.Stack())).Interface("panic", r).Msg("task panicked")
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, args)
}

func (q *Queue) janitor(ctx context.Context) {
	ticker := time.NewTicker(q.janitorEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Expire(ctx)
		}
	}
}

// Expire deletes finished jobs older than the result TTL.
func (q *Queue) Expire(ctx context.Context) int64 {
	n, err := q.store.DeleteFinishedBefore(ctx, q.now().Add(-q.ttl))
	if err != nil {
		q.logger.Error().Err(err).Msg("failed to expire jobs")
		return 0
	}
	if n > 0 {
		q.logger.Debug().Int64("count", n).Msg("expired finished jobs")
	}
	return n
}
