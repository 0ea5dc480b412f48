package tokenauth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/token"
	"go.uber.org/zap"
)

const (
	UserIDKey = "_auth_user_id"
	RoleKey   = "_auth_role"
	ClaimsKey = "_auth_claims"

	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"
)

// SessionChecker answers whether a JTI is still live. Storage errors must
// propagate; this middleware fails closed on them.
type SessionChecker interface {
	IsLive(ctx context.Context, userID uint, jti string) (bool, error)
}

// RequireAuth admits requests carrying a valid, live access token. The
// token comes from the access cookie or, failing that, a Bearer header.
// Verification is pure; liveness is one bounded Redis round-trip.
func RequireAuth(tokens *token.Service, sessions SessionChecker, logger *logging.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString := extractToken(c)
			if tokenString == "" {
				return unauthorized("token_missing", "Authentication required")
			}

			claims, err := tokens.VerifyAccess(tokenString)
			if err != nil {
				return mapVerifyError(err)
			}

			live, err := sessions.IsLive(c.Request().Context(), claims.UserID, claims.JTI)
			if err != nil {
				// Fail closed: an unreachable session store never admits.
				logger.Error("session liveness check failed", zap.Error(err))
				return unauthorized("session_unavailable", "Authentication unavailable")
			}
			if !live {
				return unauthorized("token_revoked", "Token has been revoked")
			}

			c.Set(UserIDKey, claims.UserID)
			c.Set(RoleKey, claims.Role)
			c.Set(ClaimsKey, claims)

			return next(c)
		}
	}
}

func extractToken(c echo.Context) string {
	if cookie, err := c.Cookie(AccessCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

func mapVerifyError(err error) error {
	switch err {
	case token.ErrExpiredToken:
		return unauthorized("token_expired", "Token has expired")
	case token.ErrMalformedToken:
		return unauthorized("token_malformed", "Malformed token")
	case token.ErrInvalidSignature:
		return unauthorized("token_invalid", "Invalid token signature")
	default:
		return unauthorized("token_invalid", "Invalid token")
	}
}

func unauthorized(code, message string) error {
	return echo.NewHTTPError(http.StatusUnauthorized, echo.Map{
		"code":    code,
		"message": message,
	})
}

func GetUserID(c echo.Context) uint {
	if userID, ok := c.Get(UserIDKey).(uint); ok {
		return userID
	}
	return 0
}

func GetRole(c echo.Context) string {
	if role, ok := c.Get(RoleKey).(string); ok {
		return role
	}
	return ""
}

func GetClaims(c echo.Context) *token.Claims {
	if claims, ok := c.Get(ClaimsKey).(*token.Claims); ok {
		return claims
	}
	return nil
}
