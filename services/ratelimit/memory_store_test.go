package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IncrementAndExpire(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(0, clock.Now)
	ctx := context.Background()

	n, err := store.IncrementAndExpire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	clock.Advance(5 * time.Second)
	n, err = store.IncrementAndExpire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// The window is anchored at the first increment, not extended by later ones.
	clock.Advance(5 * time.Second)
	n, err = store.IncrementAndExpire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_Errors(t *testing.T) {
	store := newMemoryStore(0, time.Now)

	_, err := store.IncrementAndExpire(context.Background(), "", time.Second)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.IncrementAndExpire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Ping(ctx), context.Canceled)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(0, clock.Now)
	ctx := context.Background()

	_, _ = store.IncrementAndExpire(ctx, "short", time.Second)
	_, _ = store.IncrementAndExpire(ctx, "long", time.Hour)
	require.Equal(t, 2, store.Len())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, store.Cleanup())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_CleanupLoop(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()

	_, err := store.IncrementAndExpire(context.Background(), "k", time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)

	// Close is idempotent.
	assert.NoError(t, store.Close())
}
