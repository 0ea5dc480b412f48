package users

import (
	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/oauth"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func NewUserService(db *gorm.DB, logger *logging.Service) *Service {
	return NewService(db, logger)
}

func ProvideAsOAuthResolver(svc *Service) oauth.UserResolver {
	return svc
}

var Options = fx.Options(
	fx.Provide(NewUserService),
	fx.Provide(ProvideAsOAuthResolver),
)
