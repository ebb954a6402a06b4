package concurrency

import (
	"context"
	"runtime"

	"github.com/sourcegraph/conc/pool"
	"github.com/sourcegraph/conc/stream"
)

// NewPool returns a new pool where each task respects context cancellation.
// Wait() will only return the first error seen.
func NewPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	return pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(Workers(maxGoroutines))
}

// NewStream returns a stream that runs up to maxGoroutines tasks at once and calls
// their callbacks one at a time, in submission order.
func NewStream(maxGoroutines int) *stream.Stream {
	return stream.New().WithMaxGoroutines(Workers(maxGoroutines))
}

// Workers normalizes a requested worker count: values below one mean "one per CPU".
func Workers(n int) int {
	if n < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
