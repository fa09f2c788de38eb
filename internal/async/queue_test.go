package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueProcessesJobs(t *testing.T) {
	var processed atomic.Int64
	done := make(chan struct{}, 8)

	q := NewQueue(func(_ context.Context, _ Job) error {
		processed.Add(1)
		done <- struct{}{}
		return nil
	}, nil, WithWorkers(2), WithQueueSize(8))

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(context.Background(), Job{UserID: int64(i)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	if processed.Load() != 5 {
		t.Errorf("processed = %d, want 5", processed.Load())
	}
	if len(q.DeadLetters()) != 0 {
		t.Errorf("dead letters = %d, want 0", len(q.DeadLetters()))
	}
}

func TestQueueRetriesThenDeadLetters(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	dead := make(chan struct{})

	q := NewQueue(func(_ context.Context, job Job) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 3 {
			close(dead)
		}
		return errors.New("provider down")
	}, nil, WithWorkers(1), WithMaxAttempts(3), WithRetryDelay(0))

	if err := q.Enqueue(context.Background(), Job{UserID: 7}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-dead:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final attempt")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	letters := q.DeadLetters()
	if len(letters) != 1 || letters[0].UserID != 7 || letters[0].Attempts != 3 {
		t.Errorf("dead letters = %+v, want one job for user 7 after 3 attempts", letters)
	}
}

func TestQueueEnqueueNotBlockedByRetryingWorker(t *testing.T) {
	// A tiny queue with a single worker stuck in its retry path: every
	// submission still has to land, the worker takes q.mu between
	// attempts and Enqueue must not hold it against the worker.
	q := NewQueue(func(_ context.Context, _ Job) error {
		return errors.New("provider down")
	}, nil, WithWorkers(1), WithQueueSize(1), WithMaxAttempts(2), WithRetryDelay(time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			if err := q.Enqueue(context.Background(), Job{UserID: int64(i)}); err != nil {
				t.Errorf("enqueue %d: %v", i, err)
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue blocked behind a retrying worker")
	}

	deadline := time.After(5 * time.Second)
	for len(q.DeadLetters()) < 4 {
		select {
		case <-deadline:
			t.Fatalf("dead letters = %d, want 4", len(q.DeadLetters()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Shutdown(ctx)
}

func TestQueueEnqueueHonorsContext(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue(func(_ context.Context, _ Job) error {
		<-block
		return nil
	}, nil, WithWorkers(1), WithQueueSize(1))
	defer func() {
		close(block)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	}()

	// Fill the worker and the buffer, then a third submission must give
	// up when its context expires instead of waiting forever.
	_ = q.Enqueue(context.Background(), Job{UserID: 1})
	_ = q.Enqueue(context.Background(), Job{UserID: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, Job{UserID: 3}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("enqueue with expired context returned %v, want deadline exceeded", err)
	}
}

func TestQueueEnqueueAfterShutdownIsDropped(t *testing.T) {
	q := NewQueue(func(_ context.Context, _ Job) error { return nil }, nil, WithWorkers(1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	if err := q.Enqueue(context.Background(), Job{UserID: 1}); err != nil {
		t.Errorf("enqueue after shutdown returned error %v, want silent drop", err)
	}
}
