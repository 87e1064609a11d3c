package storage

import (
	"context"
	"sort"
	"sync"
)

// Observer is called with the key of every successful write or delete.
type Observer func(key string)

// Observed wraps a KVStore and notifies subscribers after each successful
// Set or Delete. Observers run synchronously on the writing goroutine and
// must not write back to the store.
type Observed struct {
	KVStore

	observers map[int]Observer
	nextID    int
	mu        sync.RWMutex
}

// NewObserved wraps store
func NewObserved(store KVStore) *Observed {
	return &Observed{
		KVStore:   store,
		observers: make(map[int]Observer),
	}
}

// Subscribe registers fn and returns a function that removes it again.
func (o *Observed) Subscribe(fn Observer) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.observers[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.observers, id)
			o.mu.Unlock()
		})
	}
}

func (o *Observed) Set(ctx context.Context, key string, value []byte) error {
	if err := o.KVStore.Set(ctx, key, value); err != nil {
		return err
	}
	o.notify(key)
	return nil
}

func (o *Observed) Delete(ctx context.Context, key string) error {
	if err := o.KVStore.Delete(ctx, key); err != nil {
		return err
	}
	o.notify(key)
	return nil
}

// notify calls observers in subscription order outside the lock
func (o *Observed) notify(key string) {
	o.mu.RLock()
	ids := make([]int, 0, len(o.observers))
	for id := range o.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Observer, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.observers[id])
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}
