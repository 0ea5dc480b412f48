package oauth

import (
	"github.com/redis/go-redis/v9"
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/session"
	"github.com/tutorstack/authcore/services/token"
	"go.uber.org/fx"
)

func NewOAuthCoordinator(client *redis.Client, cfg *config.Config, logger *logging.Service, tokens *token.Service, sessions *session.Service, users UserResolver) *Coordinator {
	return NewCoordinator(client, cfg, logger, tokens, sessions, users)
}

type OptionalProviders struct {
	fx.In
	Providers []Provider `group:"oauth_providers"`
}

func WireProviders(coordinator *Coordinator, opt OptionalProviders) {
	for _, p := range opt.Providers {
		coordinator.RegisterProvider(p)
	}
}

var Options = fx.Options(
	fx.Provide(NewOAuthCoordinator),
	fx.Invoke(WireProviders),
)
