package lock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// maxReaders is the weight of an exclusive lock
const maxReaders = 1 << 20

type localEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// Local is a read/write lock per resource inside the process.
// Waiters are served in order, so a waiting writer is not starved by new readers.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocal() *Local {
	return &Local{
		entries: make(map[string]*localEntry),
	}
}

func (l *Local) Acquire(ctx context.Context, resource string, mode Mode) (Release, error) {
	weight := int64(1)
	if mode == Exclusive {
		weight = maxReaders
	}
	entry := l.get(resource)
	if err := entry.sem.Acquire(ctx, weight); err != nil {
		l.put(resource, entry)
		return nil, waitError(ctx, resource)
	}
	once := sync.Once{}
	return func() {
		once.Do(func() {
			entry.sem.Release(weight)
			l.put(resource, entry)
		})
	}, nil
}

func (l *Local) get(resource string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[resource]
	if !ok {
		entry = &localEntry{sem: semaphore.NewWeighted(maxReaders)}
		l.entries[resource] = entry
	}
	entry.refs++
	return entry
}

func (l *Local) put(resource string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, resource)
	}
}

// size is the number of resources currently locked or waited on
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
