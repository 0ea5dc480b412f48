package ratelimit

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func ProvideRateLimitStore(client *redis.Client) Store {
	return NewRedisStore(client)
}

var Options = fx.Options(
	fx.Provide(ProvideRateLimitStore),
)
