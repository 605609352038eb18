// Package idem deduplicates mutation requests by idempotency key using a
// fast TTL-bounded store with a durable fallback.
package idem

import (
	"context"
	"log"
	"time"
)

// Outcome is the three-way result of a freshness check. The repair path
// (durable hit, fast miss) is distinguished so cache loss stays observable.
type Outcome int

const (
	Fresh Outcome = iota
	DuplicateFast
	DuplicateRepaired
)

func (o Outcome) Duplicate() bool { return o != Fresh }

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case DuplicateFast:
		return "duplicate_fast"
	case DuplicateRepaired:
		return "duplicate_repaired"
	default:
		return "unknown"
	}
}

// FastStore is the ephemeral tier. SetNX must be a single atomic
// check-and-set per key.
type FastStore interface {
	Get(key string) (owner string, ok bool)
	Set(key, owner string, ttl time.Duration)
	SetNX(key, owner string, ttl time.Duration) bool
	Delete(key string)
}

// DurableStore is the persistent tier; records live until an external sweep
// removes them.
type DurableStore interface {
	InsertIdempotencyKey(ctx context.Context, key, serverID string, createdAt time.Time) error
	LookupIdempotencyKey(ctx context.Context, key string) (serverID string, ok bool, err error)
	DeleteIdempotencyKey(ctx context.Context, key string) error
}

type Guard struct {
	fast    FastStore
	durable DurableStore
	ttl     time.Duration
	log     *log.Logger
	now     func() time.Time
}

func NewGuard(fast FastStore, durable DurableStore, ttl time.Duration, logger *log.Logger) *Guard {
	return &Guard{
		fast:    fast,
		durable: durable,
		ttl:     ttl,
		log:     logger,
		now:     time.Now,
	}
}

// EnsureFresh records the key if it has never been seen and reports the
// outcome. A durable-write failure after the fast store accepted the key
// still counts as fresh: the fast store is the authority on the hot path.
func (g *Guard) EnsureFresh(ctx context.Context, key, serverID string) (Outcome, error) {
	if _, ok := g.fast.Get(key); ok {
		return DuplicateFast, nil
	}

	owner, ok, err := g.durable.LookupIdempotencyKey(ctx, key)
	if err != nil {
		return Fresh, err
	}
	if ok {
		// Fast-store entry was evicted or lost; restore it, still a duplicate.
		g.fast.Set(key, owner, g.ttl)
		return DuplicateRepaired, nil
	}

	if !g.fast.SetNX(key, serverID, g.ttl) {
		// A concurrent request with the same key won the check-and-set.
		return DuplicateFast, nil
	}

	if err := g.durable.InsertIdempotencyKey(ctx, key, serverID, g.now().UTC()); err != nil {
		g.log.Printf("idempotency: durable write failed for key %s: %v", key, err)
	}
	return Fresh, nil
}

// Lookup reports the owning server for a key without the freshness side
// effect, repairing the fast store on a durable-only hit.
func (g *Guard) Lookup(ctx context.Context, key string) (string, bool, error) {
	if owner, ok := g.fast.Get(key); ok {
		return owner, true, nil
	}
	owner, ok, err := g.durable.LookupIdempotencyKey(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	g.fast.Set(key, owner, g.ttl)
	return owner, true, nil
}

// Remove deletes the key from both tiers, releasing it for reuse after a
// rejected mutation.
func (g *Guard) Remove(ctx context.Context, key string) error {
	g.fast.Delete(key)
	return g.durable.DeleteIdempotencyKey(ctx, key)
}
