package session

import (
	"github.com/redis/go-redis/v9"
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/token"
	"go.uber.org/fx"
)

func NewSessionService(client *redis.Client, cfg *config.Config, logger *logging.Service) *Service {
	return NewService(client, cfg, logger)
}

func ProvideAsTokenInterface(svc *Service) token.SessionStore {
	return svc
}

var Options = fx.Options(
	fx.Provide(NewSessionService),
	fx.Provide(ProvideAsTokenInterface),
)
