package pipeline

import (
	"context"
	"sync"

	"github.com/medforge/casgen/internal/domain"
)

// batch is a contiguous run of casualties handed to one worker. Start is an
// offset into the job's casualty sequence, so batches never overlap and
// enrichment workers can mutate their segment without locking.
type batch struct {
	index int
	start int
	count int
}

// splitBatches cuts n units into batches of at most size.
func splitBatches(n, size int) []batch {
	if n <= 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	batches := make([]batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		count := size
		if start+count > n {
			count = n - start
		}
		batches = append(batches, batch{index: len(batches), start: start, count: count})
	}
	return batches
}

// compactSegments removes the segments of failed batches in place,
// preserving order. It returns the kept slice and the number of removed
// elements.
func compactSegments[T any](xs []T, batches []batch, failed map[int]bool) ([]T, int) {
	if len(failed) == 0 {
		return xs, 0
	}
	kept := xs[:0]
	removed := 0
	for _, b := range batches {
		if failed[b.index] {
			removed += b.count
			continue
		}
		kept = append(kept, xs[b.start:b.start+b.count]...)
	}
	return kept, removed
}

// batchResult is what one worker hands back to the collector. Casualties is
// only set by the flow phase; enrichment phases mutate their segment in
// place.
type batchResult struct {
	batch      batch
	casualties []domain.Casualty
	err        error
}

// runPool fans batches out to workers and funnels every result through
// collect, which runs on a single goroutine. collect returning an error
// cancels outstanding work; runPool returns that error, otherwise the
// context's error if it was cancelled mid-run.
func runPool(
	ctx context.Context,
	workers int,
	batches []batch,
	run func(ctx context.Context, b batch) batchResult,
	collect func(batchResult) error,
) error {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan batch, workers*2)
	results := make(chan batchResult, workers*2)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-jobs:
					if !ok {
						return
					}
					select {
					case results <- run(ctx, b):
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	var (
		cerr error
		cwg  sync.WaitGroup
	)
	cwg.Add(1)
	go func() {
		defer cwg.Done()
		for r := range results {
			if cerr != nil {
				continue
			}
			if err := collect(r); err != nil {
				cerr = err
				cancel()
			}
		}
	}()

feed:
	for _, b := range batches {
		select {
		case jobs <- b:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)
	cwg.Wait()

	if cerr != nil {
		return cerr
	}
	return ctx.Err()
}
