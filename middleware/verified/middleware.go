package verified

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tutorstack/authcore/middleware/tokenauth"
	"github.com/tutorstack/authcore/services/logging"
	"go.uber.org/zap"
)

// VerificationSource reads the user record's email-verification flag.
type VerificationSource interface {
	IsEmailVerified(ctx context.Context, userID uint) (bool, error)
}

// RequireVerifiedEmail gates protected operations on a verified email
// address. Runs after tokenauth, so the user id is already trusted. The
// gate fails closed: a failed record lookup denies rather than admits.
func RequireVerifiedEmail(users VerificationSource, logger *logging.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := tokenauth.GetUserID(c)
			if userID == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, echo.Map{
					"code":    "token_missing",
					"message": "Authentication required",
				})
			}

			isVerified, err := users.IsEmailVerified(c.Request().Context(), userID)
			if err != nil {
				logger.Error("email verification lookup failed",
					zap.Uint("user_id", userID),
					zap.Error(err))
				return echo.NewHTTPError(http.StatusServiceUnavailable, echo.Map{
					"code":    "verification_unavailable",
					"message": "Verification check unavailable",
				})
			}

			if !isVerified {
				return echo.NewHTTPError(http.StatusForbidden, echo.Map{
					"code":    "email_unverified",
					"message": "Email address not verified",
				})
			}

			return next(c)
		}
	}
}
