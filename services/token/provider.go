package token

import (
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/services/logging"
	"go.uber.org/fx"
)

func NewTokenService(cfg *config.Config, logger *logging.Service) *Service {
	return NewService(cfg, logger)
}

type OptionalSessionStore struct {
	fx.In
	SessionStore SessionStore `optional:"true"`
}

func WireSessionStore(svc *Service, opt OptionalSessionStore) {
	if svc != nil && opt.SessionStore != nil {
		svc.SetSessionStore(opt.SessionStore)
	}
}

var Options = fx.Options(
	fx.Provide(NewTokenService),
	fx.Invoke(WireSessionStore),
)
