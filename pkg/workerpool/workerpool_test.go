package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestRunConcurrently_AdmissionCapBoundsWallClock(t *testing.T) {
	const step = 50 * time.Millisecond

	var running, peak atomic.Int32
	start := time.Now()
	results := RunConcurrently(context.Background(), 2, ints(10),
		func(_ context.Context, i int) (int, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(step)
			running.Add(-1)
			return i, nil
		}, nil, nil)
	elapsed := time.Since(start)

	require.Len(t, results, 10)
	assert.Equal(t, int32(2), peak.Load())
	assert.GreaterOrEqual(t, elapsed, 5*step)
	assert.Less(t, elapsed, 9*step)
}

func TestRunConcurrently_FailureIsolated(t *testing.T) {
	boom := errors.New("boom")

	var mu sync.Mutex
	var succeeded []int
	var failed []int
	results := RunConcurrently(context.Background(), 3, ints(10),
		func(_ context.Context, i int) (string, error) {
			if i == 4 {
				return "", boom
			}
			return "ok", nil
		},
		func(i int, _ string) {
			mu.Lock()
			succeeded = append(succeeded, i)
			mu.Unlock()
		},
		func(i int, err error) {
			mu.Lock()
			failed = append(failed, i)
			mu.Unlock()
			assert.ErrorIs(t, err, boom)
		})

	assert.Len(t, succeeded, 9)
	assert.Equal(t, []int{4}, failed)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i != 4, r.OK())
	}
}

func TestRunConcurrently_PanicBecomesFailure(t *testing.T) {
	results := RunConcurrently(context.Background(), 1, ints(3),
		func(_ context.Context, i int) (int, error) {
			if i == 1 {
				panic("bad item")
			}
			return i * 10, nil
		}, nil, nil)

	assert.Equal(t, 0, results[0].Value)
	assert.ErrorIs(t, results[1].Err, ErrTaskPanicked)
	// permit was released, so the last item still ran
	assert.Equal(t, 20, results[2].Value)
}

func TestRunConcurrently_CanceledWaitersFail(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
		close(release)
	}()

	results := RunConcurrently(ctx, 1, ints(4),
		func(ctx context.Context, i int) (int, error) {
			<-release
			return i, nil
		}, nil, nil)

	var ok, canceled int
	for _, r := range results {
		if r.OK() {
			ok++
		} else if errors.Is(r.Err, context.Canceled) {
			canceled++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, canceled)
}

func TestRunConcurrently_DefaultParallelism(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultParallelism(), 1)
	results := RunConcurrently(context.Background(), 0, ints(5),
		func(_ context.Context, i int) (int, error) { return i, nil }, nil, nil)
	assert.Len(t, results, 5)
}

func TestPool_SubmitReturnsTaskError(t *testing.T) {
	p := New(nil, nil)
	defer p.Shutdown(context.Background())

	boom := errors.New("boom")
	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return boom }), boom)
	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { panic("x") }), ErrTaskPanicked)
}

func TestPool_SubmitKeyedCoalesces(t *testing.T) {
	p := New(&Config{MaxWorkers: 1, QueueSize: 8}, nil)
	defer p.Shutdown(context.Background())

	// occupy the only worker so keyed tasks stay queued
	gate := make(chan struct{})
	require.NoError(t, p.SubmitAsync(context.Background(), func(context.Context) error {
		<-gate
		return nil
	}))

	var runs atomic.Int32
	task := func(context.Context) error {
		runs.Add(1)
		return nil
	}
	queued, err := p.SubmitKeyed(context.Background(), "share-1", task)
	require.NoError(t, err)
	assert.True(t, queued)
	for i := 0; i < 5; i++ {
		queued, err = p.SubmitKeyed(context.Background(), "share-1", task)
		require.NoError(t, err)
		assert.False(t, queued)
	}
	queued, err = p.SubmitKeyed(context.Background(), "share-2", task)
	require.NoError(t, err)
	assert.True(t, queued)

	close(gate)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(2), runs.Load())
}

func TestPool_ClosedRejects(t *testing.T) {
	p := New(nil, nil)
	require.NoError(t, p.Shutdown(context.Background()))

	assert.ErrorIs(t, p.SubmitAsync(context.Background(), func(context.Context) error { return nil }), ErrWorkerPoolClosed)
	_, err := p.SubmitKeyed(context.Background(), "k", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrWorkerPoolClosed)
}
