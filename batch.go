package kdtree

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one query in a batch. Failures are
// isolated per query: a bad query point produces an Err in its slot
// without affecting the other slots.
type BatchResult struct {
	Neighbors []Neighbor
	Err       error
}

// QueryBatch runs an independent KNN query for each row of queries
// (flat row-major, rows x Dims) and returns results positionally.
// Rows are sharded across Config.Workers goroutines; the tree is
// read-only during traversal so workers need no synchronization.
func (t *Tree) QueryBatch(queries []float64, rows, k int, p SearchParams) ([]BatchResult, error) {
	if err := t.checkBatch(queries, rows); err != nil {
		return nil, err
	}

	results := make([]BatchResult, rows)
	run := func(q int) {
		nb, err := t.QueryWithParams(queries[q*t.dims:(q+1)*t.dims], k, p)
		results[q] = BatchResult{Neighbors: nb, Err: err}
	}

	workers := t.workers
	if workers <= 1 || rows <= 1 {
		for q := 0; q < rows; q++ {
			run(q)
		}
		return results, nil
	}

	// Contiguous shards, one per worker; shards don't overlap so writes
	// into results need no locking.
	var wg sync.WaitGroup
	rowsPerWorker := (rows + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := min(start+rowsPerWorker, rows)
		if start >= rows {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for q := start; q < end; q++ {
				run(q)
			}
		}(start, end)
	}
	wg.Wait()
	return results, nil
}

// QueryBatchContext is QueryBatch with cooperative cancellation between
// queries. The core traversal itself never blocks or suspends; ctx is
// checked before each query starts. On cancellation the partial results
// are discarded and ctx's error is returned.
func (t *Tree) QueryBatchContext(ctx context.Context, queries []float64, rows, k int, p SearchParams) ([]BatchResult, error) {
	if err := t.checkBatch(queries, rows); err != nil {
		return nil, err
	}

	results := make([]BatchResult, rows)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for q := 0; q < rows; q++ {
		q := q
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			nb, err := t.QueryWithParams(queries[q*t.dims:(q+1)*t.dims], k, p)
			results[q] = BatchResult{Neighbors: nb, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (t *Tree) checkBatch(queries []float64, rows int) error {
	if rows < 0 {
		return fmt.Errorf("%w: rows must be >= 0, got %d", ErrInvalidInput, rows)
	}
	if len(queries) != rows*t.dims {
		return fmt.Errorf("%w: queries length %d does not match rows*dims = %d (rows=%d, dims=%d)",
			ErrInvalidInput, len(queries), rows*t.dims, rows, t.dims)
	}
	return nil
}
