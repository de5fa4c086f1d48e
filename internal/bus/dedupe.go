package bus

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultDedupeSize = 4096

// Dedupe remembers envelope ids for a TTL so redelivered envelopes are processed once.
// Memory is bounded by an LRU; the least recently seen ids are forgotten first.
type Dedupe struct {
	mu    sync.Mutex
	ttl   time.Duration
	cache *lru.Cache[string, time.Time]
}

func NewDedupe(size int, ttl time.Duration) *Dedupe {
	if size <= 0 {
		size = defaultDedupeSize
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	// lru.New only fails on a non-positive size.
	cache, _ := lru.New[string, time.Time](size)
	return &Dedupe{ttl: ttl, cache: cache}
}

// Seen reports whether id was already observed within the TTL and records it otherwise.
func (d *Dedupe) Seen(id string, now time.Time) bool {
	if d == nil || id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.cache.Get(id); ok {
		if now.Sub(ts) < d.ttl {
			return true
		}
		d.cache.Remove(id)
	}
	d.cache.Add(id, now)
	return false
}

func (d *Dedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.Len()
}
