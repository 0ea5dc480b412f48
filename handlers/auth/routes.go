package auth

import (
	"github.com/labstack/echo/v4"
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/middleware/ratelimit"
	"github.com/tutorstack/authcore/middleware/tokenauth"
	"github.com/tutorstack/authcore/middleware/verified"
	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/session"
	"github.com/tutorstack/authcore/services/token"
	"github.com/tutorstack/authcore/services/users"
)

// RegisterRoutes wires the auth surface onto the server. Admission order
// on protected routes: token verification → session liveness → email
// verification gate → rate limiting → handler.
func RegisterRoutes(e *echo.Echo, h *Handler, cfg *config.Config, logger *logging.Service, tokens *token.Service, sessions *session.Service, usersSvc *users.Service, store ratelimit.Store) {
	requireAuth := tokenauth.RequireAuth(tokens, sessions, logger)
	requireVerified := verified.RequireVerifiedEmail(usersSvc, logger)
	authLimit := ratelimit.Middleware(&ratelimit.Config{
		Store:      store,
		RateLimit:  &cfg.RateLimit,
		RouteClass: "auth",
		Logger:     logger,
	})

	g := e.Group("/auth")
	g.POST("/login", h.Login, authLimit)
	g.POST("/refresh", h.Refresh, authLimit)
	g.POST("/logout", h.Logout, requireAuth)
	g.POST("/password-reset", h.PasswordReset, authLimit)
	g.GET("/oauth/:provider", h.OAuthBegin, authLimit)
	g.GET("/oauth/:provider/callback", h.OAuthCallback, authLimit)
	g.POST("/oauth/exchange", h.OAuthExchange, authLimit)
	g.GET("/sessions", h.ListSessions, requireAuth)
	g.GET("/usage", h.Usage, requireAuth, requireVerified)
}
