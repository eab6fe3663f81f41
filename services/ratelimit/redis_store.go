package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript increments a counter and arms its expiry on the first hit of
// a window. A key left without a TTL is re-armed so it cannot live forever.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisStore is a CounterStore shared by every replica pointing at the same Redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient opens a client from a redis:// URL and verifies it responds.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// IncrementAndExpire implements CounterStore
func (r *RedisStore) IncrementAndExpire(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := incrementScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment redis counter: %w", err)
	}
	return count, nil
}

// Ping implements CounterStore
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (r *RedisStore) Close() error {
	return r.client.Close()
}
