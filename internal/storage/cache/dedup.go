package cache

import (
	"context"
	"sync"
	"time"
)

// Deduper reports whether a delivery id is seen for the first time within ttl.
type Deduper interface {
	FirstSeen(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// NXClient is the set-if-absent primitive behind RedisDeduper.
type NXClient interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisDeduper shares the seen set across agent replicas.
type RedisDeduper struct {
	client NXClient
	prefix string
}

func NewRedisDeduper(client NXClient, prefix string) *RedisDeduper {
	if prefix == "" {
		prefix = "push:seen:"
	}
	return &RedisDeduper{client: client, prefix: prefix}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+id, ttl)
}

// MemoryDeduper is the single-process fallback when Redis is disabled.
type MemoryDeduper struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	calls int
	now   func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), now: time.Now}
}

const sweepEvery = 256

func (d *MemoryDeduper) FirstSeen(_ context.Context, id string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()

	d.calls++
	if d.calls%sweepEvery == 0 {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
	}

	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[id] = now.Add(ttl)
	return true, nil
}

// Len is the number of ids currently tracked, expired or not.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
