// Package async runs receipt ingestion off the Telegram receive loop so
// slow OCR and LLM calls never stall polling.
package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one receipt ingestion unit: the photos of a single receipt
// (one, or several for a long receipt) plus where to report back.
type Job struct {
	UserID      int64
	ChatID      int64
	Images      [][]byte
	SubmittedAt time.Time
	Attempts    int
}

// Handler processes one job. A returned error triggers a retry until
// MaxAttempts is exhausted.
type Handler func(ctx context.Context, job Job) error

type Queue struct {
	handler Handler
	logger  *slog.Logger

	workers     int
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
	dead   []Job
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d >= 0 {
			q.retryDelay = d
		}
	}
}

func NewQueue(handler Handler, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		handler:     handler,
		logger:      logger,
		workers:     4,
		timeout:     3 * time.Minute,
		maxAttempts: 3,
		retryDelay:  2 * time.Second,
		ch:          make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("async.worker.started", "worker_id", workerID)

				for job := range q.ch {
					q.process(workerID, job)
				}

				q.logger.Info("async.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) process(workerID int, job Job) {
	job.Attempts++
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	err := q.handler(ctx, job)
	cancel()

	if err == nil {
		q.logger.Info("async.job.ok",
			"worker_id", workerID,
			"user_id", job.UserID,
			"attempt", job.Attempts,
			"queued_ms", time.Since(job.SubmittedAt).Milliseconds(),
		)
		return
	}

	if job.Attempts >= q.maxAttempts {
		q.logger.Error("async.job.dead",
			"worker_id", workerID,
			"user_id", job.UserID,
			"attempts", job.Attempts,
			"error", err,
		)
		q.mu.Lock()
		q.dead = append(q.dead, job)
		q.mu.Unlock()
		return
	}

	q.logger.Warn("async.job.retry",
		"worker_id", workerID,
		"user_id", job.UserID,
		"attempt", job.Attempts,
		"error", err,
	)
	time.Sleep(q.retryDelay)
	if !q.requeue(job) {
		q.mu.Lock()
		q.dead = append(q.dead, job)
		q.mu.Unlock()
	}
}

// Enqueue submits a job, blocking while the queue is full or until ctx
// is done. Submissions after Shutdown are dropped with a warning. Sends
// are non-blocking under q.mu: workers take the same lock in their retry
// and dead-letter paths, so the full-queue wait happens outside it.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	warned := false
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			q.logger.Warn("async.enqueue.closed", "user_id", job.UserID)
			return nil
		}
		select {
		case q.ch <- job:
			q.mu.Unlock()
			return nil
		default:
		}
		q.mu.Unlock()

		if !warned {
			warned = true
			q.logger.Warn("async.enqueue.backpressure", "user_id", job.UserID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *Queue) requeue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- job:
		return true
	default:
		return false
	}
}

// DeadLetters returns jobs that exhausted their attempts.
func (q *Queue) DeadLetters() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.dead))
	copy(out, q.dead)
	return out
}

// Shutdown stops intake and waits for in-flight jobs, bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("async.shutdown.interrupted")
	case <-done:
		q.logger.Info("async.shutdown.complete")
	}
}
