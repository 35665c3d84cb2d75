package sync

import (
	"sync"
	"sync/atomic"
)

// RunBounded calls worker for every item with at most limit calls in flight. Workers pull
// the next index from a shared counter, so calls start in index order. It returns once
// every call has returned; failures are the worker's to record.
func RunBounded[T any](items []T, limit int, worker func(item T, index int)) {
	n := len(items)
	if n == 0 {
		return
	}
	if limit < 1 {
		limit = 1
	}
	if limit > n {
		limit = n
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < limit; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= n {
					return
				}
				worker(items[i], i)
			}
		}()
	}
	wg.Wait()
}
