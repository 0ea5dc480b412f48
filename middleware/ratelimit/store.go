package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store counts requests per key within a fixed window. Implementations
// must make the increment-and-expire atomic.
type Store interface {
	// Increment bumps the counter for key, starting a new window with the
	// given period if none is running. Returns the post-increment count and
	// the time remaining in the current window.
	Increment(ctx context.Context, key string, period time.Duration) (count int, remaining time.Duration, err error)
}

// incrementScript makes the counter bump and the window start one atomic
// step, so two tabs refreshing simultaneously never each see count 1.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// RedisStore is the shared-window store: every instance of the service
// observes the same counters.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) Increment(ctx context.Context, key string, period time.Duration) (int, time.Duration, error) {
	res, err := incrementScript.Run(ctx, s.redis, []string{key}, period.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, errUnexpectedReply
	}

	return int(res[0]), time.Duration(res[1]) * time.Millisecond, nil
}
