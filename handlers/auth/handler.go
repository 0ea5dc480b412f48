package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/middleware/tokenauth"
	"github.com/tutorstack/authcore/services/cost"
	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/mail"
	"github.com/tutorstack/authcore/services/oauth"
	"github.com/tutorstack/authcore/services/session"
	"github.com/tutorstack/authcore/services/token"
	"github.com/tutorstack/authcore/services/users"
	"go.uber.org/zap"
)

type Handler struct {
	config   *config.Config
	logger   *logging.Service
	tokens   *token.Service
	sessions *session.Service
	users    *users.Service
	oauth    *oauth.Coordinator
	cost     *cost.Service
	mail     *mail.Service
}

func NewHandler(cfg *config.Config, logger *logging.Service, tokens *token.Service, sessions *session.Service, usersSvc *users.Service, coordinator *oauth.Coordinator, costSvc *cost.Service, mailSvc *mail.Service) *Handler {
	return &Handler{
		config:   cfg,
		logger:   logger,
		tokens:   tokens,
		sessions: sessions,
		users:    usersSvc,
		oauth:    coordinator,
		cost:     costSvc,
		mail:     mailSvc,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login is the password flow: credential check, pair issuance, session
// registration, cookies.
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid_request", "Invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest("invalid_request", "Email and password are required")
	}

	ctx := c.Request().Context()

	user, err := h.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			return unauthorized("invalid_credentials", "Invalid email or password")
		}
		h.logger.Error("login failed", zap.Error(err))
		return internalError()
	}

	pair, err := h.tokens.Issue(user.ID, user.Role)
	if err != nil {
		h.logger.Error("failed to issue token pair", zap.Error(err))
		return internalError()
	}

	meta := session.Metadata{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
	if err := h.sessions.RegisterLogin(ctx, user.ID, pair, meta); err != nil {
		h.logger.Error("failed to register session", zap.Error(err))
		return internalError()
	}

	h.setCookies(c, pair)

	return c.JSON(http.StatusOK, echo.Map{
		"user_id": user.ID,
		"role":    user.Role,
	})
}

// Refresh rotates the refresh cookie into a new pair. Reuse of an
// already-rotated token revokes its whole family before rejecting.
func (h *Handler) Refresh(c echo.Context) error {
	cookie, err := c.Cookie(tokenauth.RefreshCookieName)
	if err != nil || cookie.Value == "" {
		return unauthorized("token_missing", "Refresh token required")
	}

	pair, err := h.tokens.Rotate(c.Request().Context(), cookie.Value)
	if err != nil {
		clearAuthCookies(c)
		return mapRotateError(err)
	}

	h.setCookies(c, pair)

	return c.NoContent(http.StatusNoContent)
}

// Logout revokes the current device's tokens and clears cookies.
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	userID := tokenauth.GetUserID(c)

	if claims := tokenauth.GetClaims(c); claims != nil {
		if err := h.sessions.Revoke(ctx, userID, claims.JTI); err != nil {
			h.logger.Error("failed to revoke access token on logout", zap.Error(err))
			return internalError()
		}
	}

	// The refresh token belongs to the same device; revoke it too when
	// the cookie is present and still ours.
	if cookie, err := c.Cookie(tokenauth.RefreshCookieName); err == nil && cookie.Value != "" {
		if claims, err := h.tokens.Verify(cookie.Value); err == nil && claims.UserID == userID {
			if err := h.sessions.Revoke(ctx, userID, claims.JTI); err != nil {
				h.logger.Error("failed to revoke refresh token on logout", zap.Error(err))
			}
		}
	}

	clearAuthCookies(c)

	return c.NoContent(http.StatusNoContent)
}

type passwordResetRequest struct {
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

// PasswordReset consumes a reset token, updates the password, and mass
// invalidates every session the account has. A stolen session must not
// survive the reset, so the revocation is mandatory and immediate.
func (h *Handler) PasswordReset(c echo.Context) error {
	var req passwordResetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid_request", "Invalid request body")
	}
	if req.ResetToken == "" || req.NewPassword == "" {
		return badRequest("invalid_request", "Reset token and new password are required")
	}

	ctx := c.Request().Context()

	userID, err := h.users.VerifyResetToken(ctx, req.ResetToken)
	if err != nil {
		if errors.Is(err, users.ErrResetTokenInvalid) || errors.Is(err, users.ErrResetTokenUsed) {
			return unauthorized("reset_token_invalid", "Invalid or expired reset token")
		}
		h.logger.Error("reset token verification failed", zap.Error(err))
		return internalError()
	}

	if err := h.users.UpdatePassword(ctx, userID, req.NewPassword); err != nil {
		h.logger.Error("failed to update password", zap.Error(err))
		return internalError()
	}

	if _, err := h.sessions.RevokeAll(ctx, userID); err != nil {
		h.logger.Error("failed to revoke sessions after password reset",
			zap.Uint("user_id", userID),
			zap.Error(err))
		return internalError()
	}

	h.notifyPasswordChanged(userID)

	return c.NoContent(http.StatusNoContent)
}

// notifyPasswordChanged sends the security notice best-effort; the reset
// already succeeded.
func (h *Handler) notifyPasswordChanged(userID uint) {
	if h.mail == nil {
		return
	}

	user, err := h.users.GetByID(context.Background(), userID)
	if err != nil {
		h.logger.Warn("could not load user for security notice", zap.Error(err))
		return
	}

	go func() {
		if err := h.mail.SendPasswordChangedNotice(user.Email, h.config.App.Name); err != nil {
			h.logger.Warn("security notice delivery failed", zap.Error(err))
		}
	}()
}

// OAuthBegin redirects the browser to the provider with a CSRF state.
func (h *Handler) OAuthBegin(c echo.Context) error {
	redirect, err := h.oauth.Begin(c.Request().Context(), c.Param("provider"))
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			return echo.NewHTTPError(http.StatusNotFound, echo.Map{
				"code":    "unknown_provider",
				"message": "Unknown OAuth provider",
			})
		}
		h.logger.Error("failed to begin oauth flow", zap.Error(err))
		return internalError()
	}

	return c.Redirect(http.StatusFound, redirect)
}

// OAuthCallback handles the provider's return leg and redirects the
// browser to the frontend carrying only the exchange code. Every failure
// redirects with the same generic error marker.
func (h *Handler) OAuthCallback(c echo.Context) error {
	redirect, err := h.oauth.HandleCallback(
		c.Request().Context(),
		c.Param("provider"),
		c.QueryParam("state"),
		c.QueryParam("code"),
	)
	if err != nil {
		h.logger.Warn("oauth callback failed", zap.Error(err))
		return c.Redirect(http.StatusFound, h.config.OAuth.FrontendCallbackURL+"?error=authentication_failed")
	}

	return c.Redirect(http.StatusFound, redirect)
}

type exchangeRequest struct {
	Code string `json:"code"`
}

// OAuthExchange redeems the single-use code via a same-origin POST and
// sets the session cookies. Expired, consumed, and unknown codes are
// indistinguishable to the caller.
func (h *Handler) OAuthExchange(c echo.Context) error {
	var req exchangeRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return unauthorized("authentication_failed", "Authentication failed")
	}

	meta := session.Metadata{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}

	pair, err := h.oauth.Exchange(c.Request().Context(), req.Code, meta)
	if err != nil {
		if errors.Is(err, oauth.ErrExchangeCodeInvalid) {
			return unauthorized("authentication_failed", "Authentication failed")
		}
		h.logger.Error("oauth exchange failed", zap.Error(err))
		return internalError()
	}

	h.setCookies(c, pair)

	return c.NoContent(http.StatusNoContent)
}

// ListSessions reports the caller's live sessions with device metadata.
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.sessions.Sessions(c.Request().Context(), tokenauth.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		return internalError()
	}

	return c.JSON(http.StatusOK, echo.Map{"sessions": sessions})
}

// Usage reports the caller's cost-ledger total for the current day.
func (h *Handler) Usage(c echo.Context) error {
	userID := tokenauth.GetUserID(c)
	spent, err := h.cost.SpentToday(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error("failed to read cost ledger", zap.Error(err))
		return internalError()
	}

	role := tokenauth.GetRole(c)
	return c.JSON(http.StatusOK, echo.Map{
		"spent_today": spent,
		"daily_cap":   h.config.Cost.CapForRole(role),
	})
}

func (h *Handler) setCookies(c echo.Context, pair *token.Pair) {
	setAuthCookies(c, pair,
		int(h.config.JWT.AccessExpiry.Seconds()),
		int(h.config.JWT.RefreshExpiry.Seconds()))
}

func mapRotateError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpiredToken):
		return unauthorized("token_expired", "Refresh token has expired")
	case errors.Is(err, token.ErrTokenRevoked):
		return unauthorized("token_revoked", "Refresh token has been revoked")
	case errors.Is(err, token.ErrMalformedToken):
		return unauthorized("token_malformed", "Malformed refresh token")
	default:
		return unauthorized("token_invalid", "Invalid refresh token")
	}
}

func badRequest(code, message string) error {
	return echo.NewHTTPError(http.StatusBadRequest, echo.Map{"code": code, "message": message})
}

func unauthorized(code, message string) error {
	return echo.NewHTTPError(http.StatusUnauthorized, echo.Map{"code": code, "message": message})
}

func internalError() error {
	return echo.NewHTTPError(http.StatusInternalServerError, echo.Map{
		"code":    "internal_error",
		"message": "An unexpected error occurred",
	})
}
