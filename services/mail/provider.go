package mail

import (
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/services/logging"
	"go.uber.org/fx"
)

func ProvideMailService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	if !cfg.Mail.Enabled {
		logger.Debug("mail service disabled in configuration")
		return nil, nil
	}

	return NewService(&cfg.Mail, cfg.App.Name, logger)
}

var Options = fx.Options(
	fx.Provide(ProvideMailService),
)
