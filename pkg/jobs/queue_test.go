package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 3)
	q := NewQueue("test", func(ctx context.Context, job Job[string]) error {
		done <- job.Payload
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Shutdown(context.Background()) //nolint:errcheck

	for _, payload := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Job[string]{Key: payload, Payload: payload}))
	}
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case p := <-done:
			seen[p] = true
		case <-time.After(time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.Len(t, seen, 3)
}

func TestQueueRetriesThenDrops(t *testing.T) {
	var attempts int32
	dropped := make(chan Job[int], 1)
	q := NewQueue("retry", func(ctx context.Context, job Job[int]) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("broker down")
	}, QueueConfig{MaxRetries: 2, RetryDelay: 5 * time.Millisecond})
	q.OnDrop(func(job Job[int], err error) { dropped <- job })
	q.Start(context.Background())
	defer q.Shutdown(context.Background()) //nolint:errcheck

	require.NoError(t, q.Enqueue(Job[int]{Key: "evt-1", Payload: 7}))
	select {
	case job := <-dropped:
		assert.Equal(t, "evt-1", job.Key)
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not dropped")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueueBackoffDoublesUpToCap(t *testing.T) {
	q := NewQueue("backoff", func(context.Context, Job[int]) error { return nil },
		QueueConfig{RetryDelay: 100 * time.Millisecond, MaxRetryDelay: 350 * time.Millisecond})

	assert.Equal(t, 100*time.Millisecond, q.backoff(1))
	assert.Equal(t, 200*time.Millisecond, q.backoff(2))
	assert.Equal(t, 350*time.Millisecond, q.backoff(3))
	assert.Equal(t, 350*time.Millisecond, q.backoff(10))
}

func TestQueueRejectsOutsideRun(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job[int]) error { return nil }, QueueConfig{})
	assert.ErrorIs(t, q.Enqueue(Job[int]{Key: "x"}), ErrNotRunning)

	q.Start(context.Background())
	require.NoError(t, q.Shutdown(context.Background()))
	assert.ErrorIs(t, q.Enqueue(Job[int]{Key: "y"}), ErrNotRunning)
}

func TestQueueRejectsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("full", func(ctx context.Context, job Job[int]) error {
		started <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer q.Shutdown(context.Background()) //nolint:errcheck
	defer close(release)

	require.NoError(t, q.Enqueue(Job[int]{Key: "busy"}))
	<-started
	require.NoError(t, q.Enqueue(Job[int]{Key: "buffered"}))
	assert.ErrorIs(t, q.Enqueue(Job[int]{Key: "overflow"}), ErrFull)
}

func TestQueueShutdownDrainsBuffer(t *testing.T) {
	release := make(chan struct{})
	var handled int32
	q := NewQueue("drain", func(ctx context.Context, job Job[int]) error {
		<-release
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4})
	q.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(Job[int]{Payload: i}))
	}
	close(release)

	require.NoError(t, q.Shutdown(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&handled))
	assert.Zero(t, q.Pending())
}

func TestQueueShutdownHonoursDeadline(t *testing.T) {
	q := NewQueue("stuck", func(ctx context.Context, job Job[int]) error {
		<-ctx.Done()
		return ctx.Err()
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job[int]{Key: "forever"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)
}

func TestQueueShutdownReportsAbandonedRetries(t *testing.T) {
	failed := make(chan struct{}, 1)
	dropped := make(chan error, 1)
	q := NewQueue("abandon", func(ctx context.Context, job Job[int]) error {
		failed <- struct{}{}
		return errors.New("broker down")
	}, QueueConfig{MaxRetries: 5, RetryDelay: time.Hour})
	q.OnDrop(func(job Job[int], err error) { dropped <- err })
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job[int]{Key: "evt-1"}))
	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("job not attempted")
	}
	require.NoError(t, q.Shutdown(context.Background()))

	select {
	case err := <-dropped:
		assert.ErrorIs(t, err, ErrNotRunning)
	case <-time.After(time.Second):
		t.Fatal("abandoned retry was not reported")
	}
}
