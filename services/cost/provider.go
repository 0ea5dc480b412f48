package cost

import (
	"github.com/redis/go-redis/v9"
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/services/logging"
	"go.uber.org/fx"
)

func NewCostService(client *redis.Client, cfg *config.Config, logger *logging.Service) *Service {
	return NewService(client, cfg, logger)
}

var Options = fx.Options(
	fx.Provide(NewCostService),
)
