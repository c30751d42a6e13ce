package notifier

import (
	"slices"
	"sync"
)

// KeyedMutex serializes work per key in the order Lock is called. Keys are
// independent of each other and idle keys hold no memory.
type KeyedMutex struct {
	mu   sync.Mutex
	tail map[string]chan struct{}
}

// Lock blocks until every earlier holder of key has unlocked, then returns
// the unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	done := make(chan struct{})
	k.mu.Lock()
	if k.tail == nil {
		k.tail = map[string]chan struct{}{}
	}
	prev := k.tail[key]
	k.tail[key] = done
	k.mu.Unlock()

	if prev != nil {
		<-prev
	}
	return func() {
		k.mu.Lock()
		if k.tail[key] == done {
			delete(k.tail, key)
		}
		k.mu.Unlock()
		close(done)
	}
}

// LockAll locks keys in sorted order and returns one unlock func.
func (k *KeyedMutex) LockAll(keys []string) func() {
	keys = slices.Compact(slices.Sorted(slices.Values(keys)))
	unlocks := make([]func(), 0, len(keys))
	for _, key := range keys {
		unlocks = append(unlocks, k.Lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// held reports the number of keys with a holder or waiter.
func (k *KeyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.tail)
}
