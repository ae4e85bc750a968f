// Package cancel implements the cancellation registry: a concurrency-safe set
// of request identifiers that have been asked to stop.
//
// A mark is advisory. Cancelling never interrupts an in-flight inference call;
// it only decides which branch of persistence the orchestrator takes at its
// next checkpoint. Marks are therefore cheap, transient, and unordered with
// respect to concurrent readers: an IsMarked that happens-after a Mark returns
// true, one that races it may return either value.
//
// Marks that are never consumed (a stop for a request that never arrives, or
// that already finished) would otherwise accumulate for the process lifetime,
// so every mark carries a TTL. Expired marks behave as absent and are swept
// opportunistically during writes, keeping memory bounded without a
// background goroutine.
package cancel

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long an unconsumed mark stays visible.
const DefaultTTL = 5 * time.Minute

// sweepEvery is the number of Mark calls between opportunistic sweeps.
const sweepEvery = 1000

// Registry is a TTL-bounded set of request IDs marked for cancellation.
// The zero value is not usable; construct with NewRegistry. All methods are
// safe for concurrent use and none of them blocks on anything but the
// internal mutex, so a Cancel caller is never stuck behind an in-flight
// submit.
type Registry struct {
	mu     sync.Mutex
	marks  map[string]time.Time // requestID -> expiry
	ttl    time.Duration
	writes uint64

	// now is a clock seam for tests.
	now func() time.Time
}

// NewRegistry returns a Registry whose marks expire after ttl.
// A ttl <= 0 falls back to DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		marks: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Mark records that requestID should be cancelled. Idempotent: marking an
// already-marked ID refreshes its expiry. Marking also performs the
// opportunistic sweep of expired entries every sweepEvery writes.
func (r *Registry) Mark(requestID string) {
	if requestID == "" {
		return
	}
	now := r.now()

	r.mu.Lock()
	r.writes++
	if r.writes >= sweepEvery {
		for id, exp := range r.marks {
			if !now.Before(exp) {
				delete(r.marks, id)
			}
		}
		r.writes = 0
	}
	r.marks[requestID] = now.Add(r.ttl)
	r.mu.Unlock()
}

// IsMarked reports whether requestID currently carries a live mark.
// Non-blocking membership test; expired marks read as absent.
func (r *Registry) IsMarked(requestID string) bool {
	now := r.now()

	r.mu.Lock()
	exp, ok := r.marks[requestID]
	r.mu.Unlock()

	return ok && now.Before(exp)
}

// Clear removes requestID from the set. Idempotent; clearing an absent ID
// is a no-op.
func (r *Registry) Clear(requestID string) {
	r.mu.Lock()
	delete(r.marks, requestID)
	r.mu.Unlock()
}

// Consume atomically tests and clears requestID, returning whether a live
// mark was present. The orchestrator uses this at both of its checkpoints so
// that observing a mark and removing it happen in one critical section.
func (r *Registry) Consume(requestID string) bool {
	now := r.now()

	r.mu.Lock()
	exp, ok := r.marks[requestID]
	if ok {
		delete(r.marks, requestID)
	}
	r.mu.Unlock()

	return ok && now.Before(exp)
}

// Len returns the number of entries currently held, including not-yet-swept
// expired ones. Intended for tests and introspection.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.marks)
}
