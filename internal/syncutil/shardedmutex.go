// Package syncutil provides keyed locking primitives used to serialize
// per-transfer state transitions without unbounded lock maps.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// shardCount is the fixed size of each lock pool. Keys hashing to the
// same shard contend with each other; with random transfer IDs this is
// rare and harmless.
const shardCount = 256

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// ShardedMutex is a fixed pool of mutexes keyed by string. Memory stays
// bounded no matter how many distinct keys are locked over time.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}
