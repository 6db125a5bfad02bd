package store

import (
	"context"
	"sync"
)

// idAllocator hands out monotonically increasing ticket ids, one counter
// per repository. The counter is seeded lazily by scanning existing ids
// the first time a repository is seen, then advances by plain increments
// under the repository's lock. Resetting drops the counter so the next
// assignment re-scans.
type idAllocator struct {
	mu       sync.Mutex
	counters map[string]*repoCounter
}

type repoCounter struct {
	mu     sync.Mutex
	seeded bool
	last   int64
}

func newIDAllocator() *idAllocator {
	return &idAllocator{counters: make(map[string]*repoCounter)}
}

func (a *idAllocator) counter(repository string) *repoCounter {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.counters[repository]
	if !ok {
		c = &repoCounter{}
		a.counters[repository] = c
	}
	return c
}

// next returns the next id for the repository. seed is invoked at most
// once per counter lifetime, under the counter lock, so two callers can
// never both scan-and-seed.
func (a *idAllocator) next(ctx context.Context, repository string, seed func(context.Context) (int64, error)) (int64, error) {
	c := a.counter(repository)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seeded {
		last, err := seed(ctx)
		if err != nil {
			return 0, err
		}
		c.last = last
		c.seeded = true
	}
	c.last++
	return c.last, nil
}

// reset drops one repository's counter.
func (a *idAllocator) reset(repository string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counters, repository)
}

// resetAll drops every counter.
func (a *idAllocator) resetAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters = make(map[string]*repoCounter)
}
