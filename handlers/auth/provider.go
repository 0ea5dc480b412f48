package auth

import (
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/middleware/ratelimit"
	"github.com/tutorstack/authcore/server"
	"github.com/tutorstack/authcore/services/cost"
	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/mail"
	"github.com/tutorstack/authcore/services/oauth"
	"github.com/tutorstack/authcore/services/session"
	"github.com/tutorstack/authcore/services/token"
	"github.com/tutorstack/authcore/services/users"
	"go.uber.org/fx"
)

type OptionalMail struct {
	fx.In
	Mail *mail.Service `optional:"true"`
}

func NewAuthHandler(cfg *config.Config, logger *logging.Service, tokens *token.Service, sessions *session.Service, usersSvc *users.Service, coordinator *oauth.Coordinator, costSvc *cost.Service, optMail OptionalMail) *Handler {
	return NewHandler(cfg, logger, tokens, sessions, usersSvc, coordinator, costSvc, optMail.Mail)
}

func SetupRoutes(srv *server.Server, h *Handler, cfg *config.Config, logger *logging.Service, tokens *token.Service, sessions *session.Service, usersSvc *users.Service, store ratelimit.Store) {
	RegisterRoutes(srv.Echo(), h, cfg, logger, tokens, sessions, usersSvc, store)
}

var Options = fx.Options(
	fx.Provide(NewAuthHandler),
	fx.Invoke(SetupRoutes),
)
