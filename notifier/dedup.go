package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// DefaultDedupWindow is how long a started event suppresses announcements
// for repeats of the same stream.
const DefaultDedupWindow = 15 * time.Minute

// DedupWindow remembers recently started remote ids.
type DedupWindow interface {
	// Mark inserts id and reports whether it was already present. Inserting
	// an id that is present keeps its original deadline.
	Mark(ctx context.Context, id string) (seen bool, err error)
}

// MemoryDedup is an in-process DedupWindow whose entries expire on clock timers.
type MemoryDedup struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*dedupEntry
}

type dedupEntry struct {
	timer clockwork.Timer
}

// NewMemoryDedup returns an empty window.
func NewMemoryDedup(clock clockwork.Clock, ttl time.Duration) *MemoryDedup {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultDedupWindow
	}
	return &MemoryDedup{clock: clock, ttl: ttl, entries: map[string]*dedupEntry{}}
}

func (d *MemoryDedup) Mark(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[id]; ok {
		return true, nil
	}
	e := &dedupEntry{}
	e.timer = d.clock.AfterFunc(d.ttl, func() { d.expire(id, e) })
	d.entries[id] = e
	return false, nil
}

func (d *MemoryDedup) expire(id string, e *dedupEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entries[id] == e {
		delete(d.entries, id)
	}
}

// Len returns the number of ids inside the window.
func (d *MemoryDedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Stop cancels all pending expiry timers.
func (d *MemoryDedup) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, e := range d.entries {
		e.timer.Stop()
		delete(d.entries, id)
	}
}

// RedisDedup keeps the window in Redis so several replicas share it.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDedup returns a window storing keys under prefix.
func NewRedisDedup(client *redis.Client, ttl time.Duration, prefix string) *RedisDedup {
	if ttl <= 0 {
		ttl = DefaultDedupWindow
	}
	if prefix == "" {
		prefix = "herald:dedup:"
	}
	return &RedisDedup{client: client, ttl: ttl, prefix: prefix}
}

// Mark uses SET NX with a TTL; an existing key keeps its expiry.
func (d *RedisDedup) Mark(ctx context.Context, id string) (bool, error) {
	set, err := d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}
