package worker

import (
	"context"
)

// IndexedResult is the outcome of one call of a batch
type IndexedResult[R any] struct {
	Index int
	Value R
	Err   error
}

// GetError returns the error of the call
func (r *IndexedResult[R]) GetError() error {
	return r.Err
}

type indexedJob[R any] struct {
	index int
	fn    func(ctx context.Context, i int) (R, error)
}

// Execute executes the indexed call
func (j *indexedJob[R]) Execute(ctx context.Context) Result {
	v, err := j.fn(ctx, j.index)
	return &IndexedResult[R]{Index: j.index, Value: v, Err: err}
}

// Run calls fn for every index in [0, n) with at most workers calls in
// flight. Calls start in index order and results are returned by index, so
// concurrency never reorders output. Indices that were never started
// because ctx ended carry ctx's error.
func Run[R any](ctx context.Context, workers, n int, fn func(ctx context.Context, i int) (R, error)) []IndexedResult[R] {
	results := make([]IndexedResult[R], n)
	for i := range results {
		results[i].Index = i
	}
	if n == 0 {
		return results
	}

	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				continue
			}
			results[i].Value, results[i].Err = fn(ctx, i)
		}
		return results
	}

	pool := NewPool(ctx, min(workers, n))
	pool.Start()

	submitted := 0
	for i := 0; i < n; i++ {
		if !pool.Submit(&indexedJob[R]{index: i, fn: fn}) {
			break
		}
		submitted++
	}

	for _, r := range pool.Wait() {
		ir := r.(*IndexedResult[R])
		results[ir.Index] = *ir
	}
	for i := submitted; i < n; i++ {
		results[i].Err = context.Cause(ctx)
	}
	return results
}
