// Package workerpool runs an import batch with bounded concurrency: each
// item is processed independently, a panic or error in one item never
// aborts the rest, and cancellation drains in-flight work before returning.
//
// Grounded on golang.org/x/sync/errgroup.SetLimit, the same package the
// dgraph worker/restore map stage and the trillian-tessera AWS storage
// driver use for bounded fan-out (see other_examples).
package workerpool

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Result pairs one input item with the outcome of processing it.
type Result[T, R any] struct {
	Item  T
	Value R
	Err   error
}

// Run processes items with bounded concurrency, calling fn for each. The
// concurrency limit is min(requested, runtime.NumCPU()); requested <= 0
// means "use the CPU count". Every item yields exactly one Result, in
// input order; a panic inside fn is recovered and reported as an error for
// that item rather than crashing the batch.
func Run[T, R any](ctx context.Context, items []T, requested int, fn func(ctx context.Context, item T) (R, error)) []Result[T, R] {
	limit := runtime.NumCPU()
	if requested > 0 && requested < limit {
		limit = requested
	}
	if limit < 1 {
		limit = 1
	}

	results := make([]Result[T, R], len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, item := range items {
		i, item := i, item
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result[T, R]{Item: item, Err: fmt.Errorf("panic: %v", r)}
				}
			}()

			select {
			case <-gctx.Done():
				results[i] = Result[T, R]{Item: item, Err: gctx.Err()}
				return nil
			default:
			}

			v, err := fn(gctx, item)
			results[i] = Result[T, R]{Item: item, Value: v, Err: err}
			return nil
		})
	}

	// Errors from fn are carried per-item in results, not surfaced through
	// errgroup, so Wait never short-circuits the batch; it only blocks
	// until every item has run.
	_ = g.Wait()
	return results
}
