package syncutil

import (
	"context"
)

// ContextShardedMutex is a fixed pool of channel-based mutexes keyed by
// string. Unlike ShardedMutex, a caller waiting for a lock gives up as
// soon as its context is cancelled, so a stuck transfer cannot pile up
// blocked request handlers behind it.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
}

// NewContextShardedMutex creates the pool with every shard unlocked.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// LockContext acquires the mutex for key, or fails with the context's
// error if ctx is cancelled first. On success the returned unlock
// function must be called exactly once.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardIndex(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
