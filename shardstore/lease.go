package shardstore

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lease is an exclusive, time-bounded claim on a headword's commit path.
// Every mutation (fresh ingestion and corrections alike) must hold the lease
// before reading-then-writing the head, which is what makes commit decisions
// for one headword linearizable.
type Lease struct {
	Headword string
	token    string
	expires  time.Time
}

// Expired reports whether the lease hold time has elapsed.
func (l *Lease) Expired() bool {
	return time.Now().After(l.expires)
}

// leaseTable tracks in-flight leases. A crashed holder never releases; its
// lease simply expires and the next Acquire reclaims the headword.
type leaseTable struct {
	mu     sync.Mutex
	ttl    time.Duration
	leases map[string]*Lease
}

func newLeaseTable(ttl time.Duration) *leaseTable {
	return &leaseTable{
		ttl:    ttl,
		leases: make(map[string]*Lease),
	}
}

func (t *leaseTable) acquire(hw string) (*Lease, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.leases[hw]; ok && !cur.Expired() {
		return nil, ErrLeaseHeld
	}
	l := &Lease{
		Headword: hw,
		token:    uuid.NewString(),
		expires:  time.Now().Add(t.ttl),
	}
	t.leases[hw] = l
	return l, nil
}

// validate checks that l is still the live lease for its headword.
func (t *leaseTable) validate(l *Lease) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.leases[l.Headword]
	if !ok || cur.token != l.token || cur.Expired() {
		return ErrLeaseInvalid
	}
	return nil
}

func (t *leaseTable) release(l *Lease) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.leases[l.Headword]; ok && cur.token == l.token {
		delete(t.leases, l.Headword)
	}
}
