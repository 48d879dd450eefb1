package execution

import (
	"sync"
	"time"
)

// idempotencyTTL is how long a key blocks duplicate submissions.
const idempotencyTTL = time.Hour

// idempotencyRegistry remembers which keys have already started an
// execution. Purge, prior-existence check and insert happen under one
// mutex so no two concurrent executions can both observe an absent
// record for the same key. This is the only correctness-critical
// shared write path across strategy tasks.
type idempotencyRegistry struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newIdempotencyRegistry() *idempotencyRegistry {
	return &idempotencyRegistry{
		seen: make(map[string]time.Time),
		ttl:  idempotencyTTL,
		now:  time.Now,
	}
}

// register purges expired records, then atomically check-and-inserts
// key. Returns false when the key was already present within the TTL.
func (r *idempotencyRegistry) register(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for k, t := range r.seen {
		if now.Sub(t) > r.ttl {
			delete(r.seen, k)
		}
	}

	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = now
	return true
}

func (r *idempotencyRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
