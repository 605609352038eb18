package hive

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// keyedLocks serializes mutations per character. Hash collisions only cost
// extra serialization, never correctness.
type keyedLocks struct {
	shards [lockShards]sync.Mutex
}

func (k *keyedLocks) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &k.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu
}
