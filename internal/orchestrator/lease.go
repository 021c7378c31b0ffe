package orchestrator

import (
	"sync"

	droerrors "github.com/systmms/drops/internal/errors"
)

// LeaseRegistry serializes runs per pair. A pair with a held lease rejects
// new failover requests; requests are never queued behind a run.
type LeaseRegistry struct {
	mu     sync.Mutex
	leases map[string]string // pair -> active request ID
}

// NewLeaseRegistry creates an empty registry.
func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{
		leases: make(map[string]string),
	}
}

// Acquire takes the lease for a pair. Returns ConcurrentRunError when
// another request already holds it.
func (r *LeaseRegistry) Acquire(pair, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active, held := r.leases[pair]; held {
		return droerrors.ConcurrentRunError{Pair: pair, ActiveRequestID: active}
	}
	r.leases[pair] = requestID
	return nil
}

// Release frees the lease. Only the holding request may release it; stale
// releases are ignored.
func (r *LeaseRegistry) Release(pair, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active, held := r.leases[pair]; held && active == requestID {
		delete(r.leases, pair)
	}
}

// ForceRelease frees the lease regardless of holder. Used by the manual
// rollback path after a Failed run has been remediated.
func (r *LeaseRegistry) ForceRelease(pair string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases, pair)
}

// Holder returns the active request ID for a pair, if any.
func (r *LeaseRegistry) Holder(pair string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, held := r.leases[pair]
	return active, held
}
