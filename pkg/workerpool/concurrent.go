package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/semaphore"
)

// Result 单个任务的执行结果
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// OK 任务是否成功
func (r Result[R]) OK() bool {
	return r.Err == nil
}

var (
	parallelismOnce sync.Once
	parallelism     int
)

// DefaultParallelism 默认并发上限：物理 CPU 核数的一半，至少为 1
// Falls back to the logical CPU count when physical cores cannot be read.
func DefaultParallelism() int {
	parallelismOnce.Do(func() {
		cores, err := cpu.Counts(false)
		if err != nil || cores <= 0 {
			cores = runtime.NumCPU()
		}
		parallelism = max(1, cores/2)
	})
	return parallelism
}

// RunConcurrently starts one task per item and lets at most maxParallel of them
// run block at once. maxParallel <= 0 means DefaultParallelism.
//
// Each task reports through onSuccess or onFailure (either may be nil); the
// callbacks run on the task's goroutine. A failing or panicking task never
// stops the others. The returned slice holds one Result per item in input order.
// Canceling ctx fails the tasks still waiting for a permit.
func RunConcurrently[T, R any](
	ctx context.Context,
	maxParallel int,
	items []T,
	block func(ctx context.Context, item T) (R, error),
	onSuccess func(item T, value R),
	onFailure func(item T, err error),
) []Result[R] {
	if maxParallel <= 0 {
		maxParallel = DefaultParallelism()
	}
	sem := semaphore.NewWeighted(int64(maxParallel))
	results := make([]Result[R], len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := runTask(ctx, sem, i, item, block)
			results[i] = r
			if r.Err != nil {
				if onFailure != nil {
					onFailure(item, r.Err)
				}
				return
			}
			if onSuccess != nil {
				onSuccess(item, r.Value)
			}
		}()
	}
	wg.Wait()

	return results
}

func runTask[T, R any](ctx context.Context, sem *semaphore.Weighted, i int, item T, block func(context.Context, T) (R, error)) (res Result[R]) {
	res.Index = i
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		res.Err = err
		return res
	}
	defer sem.Release(1)
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("%w: %v", ErrTaskPanicked, p)
		}
	}()

	res.Value, res.Err = block(ctx, item)
	return res
}
