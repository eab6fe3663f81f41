package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/waf-gateway/services"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingStore struct {
	err error
}

func (f *failingStore) IncrementAndExpire(context.Context, string, time.Duration) (int64, error) {
	return 0, f.err
}

func (f *failingStore) Ping(context.Context) error { return f.err }

type blockingStore struct{}

func (blockingStore) IncrementAndExpire(ctx context.Context, _ string, _ time.Duration) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (blockingStore) Ping(ctx context.Context) error { return nil }

type recordingStore struct {
	keys []string
}

func (r *recordingStore) IncrementAndExpire(_ context.Context, key string, _ time.Duration) (int64, error) {
	r.keys = append(r.keys, key)
	return int64(len(r.keys)), nil
}

func (r *recordingStore) Ping(context.Context) error { return nil }

func TestRateLimitService_Allow(t *testing.T) {
	store := newMemoryStore(0, newFakeClock().Now)
	service := NewRateLimitService(store, Config{Limit: 3, Window: time.Minute}, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := service.Allow(ctx, "203.0.113.1")
		require.True(t, res.Allowed, "call %d should be allowed", i)
		assert.Equal(t, int64(i), res.Count)
		assert.Equal(t, 3-i, res.Remaining)
		assert.False(t, res.Degraded)
	}

	res := service.Allow(ctx, "203.0.113.1")
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(4), res.Count)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 3, res.Limit)
	assert.Nil(t, res.Err)

	other := service.Allow(ctx, "203.0.113.2")
	assert.True(t, other.Allowed, "clients are counted independently")
}

func TestRateLimitService_DefaultLimitAndWindow(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(0, clock.Now)
	service := NewRateLimitService(store, Config{}, zap.NewNop())
	ctx := context.Background()

	cfg := service.Config()
	assert.Equal(t, 100, cfg.Limit)
	assert.Equal(t, 600*time.Second, cfg.Window)
	assert.False(t, cfg.FailOpen)

	for i := 0; i < 100; i++ {
		require.True(t, service.Allow(ctx, "client").Allowed)
	}
	assert.False(t, service.Allow(ctx, "client").Allowed, "101st request inside the window is rejected")

	clock.Advance(599 * time.Second)
	assert.False(t, service.Allow(ctx, "client").Allowed, "still inside the window")

	clock.Advance(time.Second)
	res := service.Allow(ctx, "client")
	assert.True(t, res.Allowed, "a fresh window starts once the old one expires")
	assert.Equal(t, int64(1), res.Count)
}

func TestRateLimitService_ConcurrentCallsNeverExceedLimit(t *testing.T) {
	service := NewRateLimitService(NewMemoryStore(0), Config{Limit: 100, Window: time.Hour}, zap.NewNop())

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 250; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if service.Allow(context.Background(), "burst").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed.Load())
}

func TestRateLimitService_StoreFailure(t *testing.T) {
	storeErr := errors.New("connection refused")

	t.Run("fail closed by default", func(t *testing.T) {
		service := NewRateLimitService(&failingStore{err: storeErr}, Config{Limit: 10}, zap.NewNop())

		res := service.Allow(context.Background(), "client")
		assert.False(t, res.Allowed)
		assert.True(t, res.Degraded)
		require.Error(t, res.Err)
		assert.True(t, services.IsDependencyError(res.Err))
		assert.ErrorIs(t, res.Err, storeErr)
		assert.Contains(t, res.Err.Error(), services.ErrCounterStoreUnavailable.Message)
	})

	t.Run("fail open when configured", func(t *testing.T) {
		service := NewRateLimitService(&failingStore{err: storeErr}, Config{Limit: 10, FailOpen: true}, zap.NewNop())

		res := service.Allow(context.Background(), "client")
		assert.True(t, res.Allowed)
		assert.True(t, res.Degraded)
	})
}

func TestRateLimitService_StoreTimeout(t *testing.T) {
	service := NewRateLimitService(blockingStore{}, Config{Limit: 10, StoreTimeout: 20 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	res := service.Allow(context.Background(), "client")

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.Allowed)
	assert.True(t, res.Degraded)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestRateLimitService_BuildScopeKey(t *testing.T) {
	store := &recordingStore{}
	service := NewRateLimitService(store, DefaultConfig(), zap.NewNop())

	service.Allow(context.Background(), "198.51.100.7")

	assert.Equal(t, []string{"rate_limit:198.51.100.7"}, store.keys)
}

func TestRateLimitService_HealthCheck(t *testing.T) {
	healthy := NewRateLimitService(NewMemoryStore(0), DefaultConfig(), zap.NewNop())
	assert.NoError(t, healthy.HealthCheck(context.Background()))

	broken := NewRateLimitService(&failingStore{err: errors.New("down")}, DefaultConfig(), zap.NewNop())
	err := broken.HealthCheck(context.Background())
	require.Error(t, err)
	assert.True(t, services.IsDependencyError(err))
	assert.Contains(t, err.Error(), services.ErrCounterStoreUnavailable.Message)
}
