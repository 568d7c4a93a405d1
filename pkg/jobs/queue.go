package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotRunning is returned by Enqueue before Start or after Shutdown.
	ErrNotRunning = errors.New("queue not running")
	// ErrFull is returned by Enqueue when the buffer is saturated.
	ErrFull = errors.New("queue full")
)

// Job is one unit of work carried through the queue.
type Job[T any] struct {
	Key      string
	Payload  T
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job. A non-nil error schedules a retry.
type Handler[T any] func(context.Context, Job[T]) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers       int
	BufferSize    int
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Logger        *zap.Logger
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = c.Workers * 4
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = 30 * c.RetryDelay
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Queue fans jobs out to a fixed pool of goroutines. Enqueue never blocks;
// failed jobs come back after an exponential delay until MaxRetries is spent.
type Queue[T any] struct {
	name   string
	handle Handler[T]
	cfg    QueueConfig
	onDrop func(Job[T], error)

	jobs  chan Job[T]
	drain chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewQueue builds an idle queue; call Start to run it.
func NewQueue[T any](name string, handle Handler[T], cfg QueueConfig) *Queue[T] {
	cfg = cfg.withDefaults()
	return &Queue[T]{
		name:   name,
		handle: handle,
		cfg:    cfg,
		jobs:   make(chan Job[T], cfg.BufferSize),
		drain:  make(chan struct{}),
	}
}

// OnDrop registers fn for jobs that exhaust their retries. Call before Start.
func (q *Queue[T]) OnDrop(fn func(Job[T], error)) {
	q.onDrop = fn
}

// Start launches the workers. Handlers receive a context derived from ctx.
// A queue runs at most once.
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running || q.ctx != nil {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	q.cfg.Logger.Info("queue started", zap.String("queue", q.name), zap.Int("workers", q.cfg.Workers))
}

// Shutdown stops intake and lets workers finish the buffered jobs. When ctx
// expires first the in-flight handlers are cancelled and ctx.Err is returned.
// Pending retries are abandoned and reported to OnDrop.
func (q *Queue[T]) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	close(q.drain)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		q.cancel()
		<-done
	}
	q.cancel()
	q.cfg.Logger.Info("queue stopped", zap.String("queue", q.name), zap.Int("abandoned", len(q.jobs)))
	return err
}

// Pending reports the number of buffered jobs not yet picked up.
func (q *Queue[T]) Pending() int {
	return len(q.jobs)
}

// Enqueue buffers a job for the workers.
func (q *Queue[T]) Enqueue(job Job[T]) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.running {
		return fmt.Errorf("%s: %w", q.name, ErrNotRunning)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("%s: %w", q.name, ErrFull)
	}
}

func (q *Queue[T]) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.run(job)
		case <-q.drain:
			for {
				select {
				case job := <-q.jobs:
					q.run(job)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue[T]) run(job Job[T]) {
	if q.ctx.Err() != nil {
		return
	}
	if err := q.handle(q.ctx, job); err != nil {
		q.retry(job, err)
	}
}

// backoff doubles RetryDelay per attempt up to MaxRetryDelay.
func (q *Queue[T]) backoff(attempt int) time.Duration {
	delay := q.cfg.RetryDelay
	for i := 1; i < attempt && delay < q.cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > q.cfg.MaxRetryDelay {
		delay = q.cfg.MaxRetryDelay
	}
	return delay
}

func (q *Queue[T]) retry(job Job[T], cause error) {
	job.Attempt++
	log := q.cfg.Logger.With(zap.String("queue", q.name), zap.String("key", job.Key), zap.Int("attempt", job.Attempt))
	if job.Attempt > q.cfg.MaxRetries {
		log.Error("job exceeded retries", zap.Error(cause))
		if q.onDrop != nil {
			q.onDrop(job, cause)
		}
		return
	}

	delay := q.backoff(job.Attempt)
	log.Warn("job failed, retrying", zap.Duration("delay", delay), zap.Error(cause))
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-q.drain:
			q.abandon(job, log)
		case <-q.ctx.Done():
			q.abandon(job, log)
		case <-timer.C:
			if err := q.Enqueue(job); err != nil {
				log.Error("failed to requeue job", zap.Error(err))
				if q.onDrop != nil {
					q.onDrop(job, err)
				}
			}
		}
	}()
}

func (q *Queue[T]) abandon(job Job[T], log *zap.Logger) {
	log.Warn("retry abandoned on shutdown")
	if q.onDrop != nil {
		q.onDrop(job, ErrNotRunning)
	}
}
