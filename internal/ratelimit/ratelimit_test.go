package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Requests: 0, WindowSeconds: 60})
	assert.Error(t, err)

	_, err = New(Config{Requests: 10, WindowSeconds: 0})
	assert.Error(t, err)

	l, err := New(Config{Requests: 10, WindowSeconds: 60})
	require.NoError(t, err)
	l.Stop()
}

func TestSingleSlotWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l, err := New(Config{Requests: 1, WindowSeconds: 60})
	require.NoError(t, err)
	defer l.Stop()
	l.WithClock(func() time.Time { return now })

	allowed, retry := l.CheckAndConsume("key")
	assert.True(t, allowed)
	assert.Equal(t, 0, retry)

	// Second call within the window is rejected with retry-after >= 1
	now = now.Add(10 * time.Second)
	allowed, retry = l.CheckAndConsume("key")
	assert.False(t, allowed)
	assert.Equal(t, 50, retry)

	// A different key is unaffected
	allowed, _ = l.CheckAndConsume("other")
	assert.True(t, allowed)

	// After the window slides past the first event, admitted again
	now = now.Add(51 * time.Second)
	allowed, retry = l.CheckAndConsume("key")
	assert.True(t, allowed)
	assert.Equal(t, 0, retry)
}

func TestRetryAfterFlooredAtOne(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l, err := New(Config{Requests: 1, WindowSeconds: 60})
	require.NoError(t, err)
	defer l.Stop()
	l.WithClock(func() time.Time { return now })

	l.CheckAndConsume("key")

	// 59.9s later the event is still inside the window
	now = now.Add(59*time.Second + 900*time.Millisecond)
	allowed, retry := l.CheckAndConsume("key")
	assert.False(t, allowed)
	assert.Equal(t, 1, retry)
}

func TestWindowTrimsOldEvents(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l, err := New(Config{Requests: 3, WindowSeconds: 30})
	require.NoError(t, err)
	defer l.Stop()
	l.WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		allowed, _ := l.CheckAndConsume("key")
		require.True(t, allowed)
		now = now.Add(5 * time.Second)
	}

	allowed, _ := l.CheckAndConsume("key")
	assert.False(t, allowed)

	// First event was at t0; it leaves the window at t0+30s.
	now = now.Add(16 * time.Second)
	allowed, _ = l.CheckAndConsume("key")
	assert.True(t, allowed)
}

func TestConcurrentConsumeNoOveradmission(t *testing.T) {
	l, err := New(Config{Requests: 50, WindowSeconds: 60})
	require.NoError(t, err)
	defer l.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.CheckAndConsume("shared"); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, admitted)
}
