package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) *redis.Client {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestMentionWindow_FirstReserveAllowed(t *testing.T) {
	w := NewMentionWindow(setupMiniredis(t))
	ctx := context.Background()

	allowed, wait, err := w.Reserve(ctx, time.Now(), 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, wait)
}

func TestMentionWindow_SecondReserveDeniedWithWait(t *testing.T) {
	w := NewMentionWindow(setupMiniredis(t))
	ctx := context.Background()
	now := time.Now()

	allowed, _, err := w.Reserve(ctx, now, 15*time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	// Six minutes later the slot is still held; nine minutes remain.
	later := now.Add(6 * time.Minute)
	allowed, wait, err := w.Reserve(ctx, later, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.InDelta(t, float64(9*time.Minute), float64(wait), float64(time.Second))
}

func TestMentionWindow_ConcurrentReservesSingleWinner(t *testing.T) {
	// Two invocations racing for the same slot: exactly one claims it.
	w := NewMentionWindow(setupMiniredis(t))
	now := time.Now()

	var mu sync.Mutex
	var granted int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := w.Reserve(context.Background(), now, 15*time.Minute)
			assert.NoError(t, err)
			if allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, granted)
}

func TestMentionWindow_ExpiredSlotReleased(t *testing.T) {
	w := NewMentionWindow(setupMiniredis(t))
	ctx := context.Background()
	now := time.Now()

	allowed, _, err := w.Reserve(ctx, now, 15*time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	// Past the interval the stale entry is cleaned and a new slot opens.
	later := now.Add(16 * time.Minute)
	allowed, wait, err := w.Reserve(ctx, later, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, wait)
}
