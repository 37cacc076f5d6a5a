package fetch

import (
	"context"
	"sync"
)

// Pool bounds the concurrency of per-URL work inside a search action. The
// loop awaits the whole batch at the action boundary.
type Pool struct {
	workers int
}

func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers}
}

// Map runs fn over every input with at most p.workers in flight. Results
// keep input order. A cancelled context stops dispatching new work; already
// started items finish.
func Map[T, R any](ctx context.Context, p *Pool, inputs []T, fn func(ctx context.Context, in T) R) []R {
	results := make([]R, len(inputs))
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i := range inputs {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = fn(ctx, inputs[i])
		}(i)
	}
	wg.Wait()
	return results
}
