package idem

import (
	"hash/fnv"
	"sync"
	"time"
)

const memShards = 16

// MemoryStore is the in-process fast tier: a sharded TTL map with per-shard
// locking so check-and-set is atomic per key while keys stay independent.
type MemoryStore struct {
	shards [memShards]memShard
	now    func() time.Time
}

type memShard struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	owner     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]memEntry)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%memShards]
}

func (s *MemoryStore) Get(key string) (string, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok {
		return "", false
	}
	if s.now().After(e.expiresAt) {
		delete(sh.entries, key)
		return "", false
	}
	return e.owner, true
}

func (s *MemoryStore) Set(key, owner string, ttl time.Duration) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries[key] = memEntry{owner: owner, expiresAt: s.now().Add(ttl)}
}

func (s *MemoryStore) SetNX(key, owner string, ttl time.Duration) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok && !s.now().After(e.expiresAt) {
		return false
	}
	sh.entries[key] = memEntry{owner: owner, expiresAt: s.now().Add(ttl)}
	return true
}

func (s *MemoryStore) Delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
}

// Sweep drops expired entries and reports how many were removed. Expiry is
// otherwise lazy, so long-idle keys only vanish when something sweeps.
func (s *MemoryStore) Sweep() int {
	removed := 0
	now := s.now()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.entries {
			if now.After(e.expiresAt) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len reports live (unexpired) entries.
func (s *MemoryStore) Len() int {
	n := 0
	now := s.now()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, e := range sh.entries {
			if !now.After(e.expiresAt) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}
