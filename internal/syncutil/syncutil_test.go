package syncutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedMutexSerializesSameKey(t *testing.T) {
	var m ShardedMutex
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("tr_aaaaaaaaaaaaaaaaaaaaaaaa")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestShardedMutexDistinctKeysDoNotBlock(t *testing.T) {
	var m ShardedMutex

	// Find two keys on different shards.
	base := "tr_000000000000000000000000"
	var other string
	for i := 0; i < 1000; i++ {
		candidate := fmt.Sprintf("tr_%024d", i)
		if shardIndex(candidate) != shardIndex(base) {
			other = candidate
			break
		}
	}
	require.NotEmpty(t, other)

	unlock := m.Lock(base)
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := m.Lock(other)
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different shard blocked")
	}
}

func TestContextShardedMutexLockAndUnlock(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "tr_bbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)
	unlock()

	// Reacquirable after unlock.
	unlock, err = m.LockContext(context.Background(), "tr_bbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)
	unlock()
}

func TestContextShardedMutexRespectsCancellation(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "tr_cccccccccccccccccccccccc")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.LockContext(ctx, "tr_cccccccccccccccccccccccc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestContextShardedMutexHandoff(t *testing.T) {
	m := NewContextShardedMutex()
	key := "tr_dddddddddddddddddddddddd"

	unlock, err := m.LockContext(context.Background(), key)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := m.LockContext(context.Background(), key)
		if err == nil {
			u()
			close(acquired)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock after release")
	}
}
